// Command tokencheck reports the shape of an auth token the way the gateway
// classifies it, and optionally asks the validation endpoint about it.
// The token value itself is never printed.
//
//	tokencheck [-api https://api.phishlab.io] [token]
//
// Without a token argument the token is read from stdin.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/phishlab/simgen-gateway/internal/tokenauth"
)

type report struct {
	Shape          string     `json:"shape"`
	Length         int        `json:"length"`
	Valid          bool       `json:"valid"`
	Reason         string     `json:"reason,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	Expired        bool       `json:"expired,omitempty"`
	UpstreamStatus int        `json:"upstream_status,omitempty"`
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("tokencheck", flag.ContinueOnError)
	fs.SetOutput(stderr)
	apiURL := fs.String("api", "", "validate the token against this API base URL")
	validatePath := fs.String("path", tokenauth.DefaultValidatePath, "validation endpoint path")
	timeout := fs.Duration("timeout", 5*time.Second, "remote validation timeout")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	token, err := readToken(fs.Args(), stdin)
	if err != nil {
		fmt.Fprintf(stderr, "tokencheck: %v\n", err)
		return 2
	}

	c := tokenauth.Classify(token)
	rep := report{
		Shape:  c.Shape.String(),
		Length: c.Length,
		Valid:  c.Valid(),
		Reason: c.Reason,
	}
	if exp, ok := tokenauth.ExpiresAt(tokenauth.Normalize(token)); ok {
		rep.ExpiresAt = &exp
		rep.Expired = !exp.After(time.Now())
	}

	if rep.Valid && *apiURL != "" {
		v := tokenauth.NewHTTPValidator(tokenauth.NewHTTPClient(false),
			tokenauth.WithValidatePath(*validatePath),
			tokenauth.WithTimeout(*timeout))
		status, err := v.Validate(context.Background(), *apiURL, tokenauth.Normalize(token))
		if err != nil {
			fmt.Fprintf(stderr, "tokencheck: validation service unavailable: %v\n", err)
			return 1
		}
		rep.UpstreamStatus = status
		rep.Valid = tokenauth.IsSuccess(status)
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rep); err != nil {
		fmt.Fprintf(stderr, "tokencheck: %v\n", err)
		return 1
	}
	if !rep.Valid {
		return 1
	}
	return 0
}

func readToken(args []string, stdin io.Reader) (string, error) {
	if len(args) > 1 {
		return "", errors.New("expected at most one token argument")
	}
	if len(args) == 1 {
		return args[0], nil
	}
	line, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read token: %w", err)
	}
	if tokenauth.Normalize(line) == "" {
		return "", errors.New("no token supplied")
	}
	return line, nil
}
