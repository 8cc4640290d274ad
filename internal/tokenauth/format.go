// Package tokenauth holds the token-level pieces of admission: local shape
// checks and the client for the remote validation endpoint.
package tokenauth

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// MinSimpleTokenLength is the minimum length of a simple (opaque) token.
const MinSimpleTokenLength = 32

var (
	simpleTokenPattern     = regexp.MustCompile(`^[a-zA-Z0-9_-]{32,}$`)
	simpleAlphabetPattern  = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	structuredTokenPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+={0,2}\.[A-Za-z0-9_-]+={0,2}\.[A-Za-z0-9_-]+={0,2}$`)
)

// Shape is the recognized form of a token.
type Shape int

const (
	ShapeInvalid Shape = iota
	ShapeSimple
	ShapeStructured
)

func (s Shape) String() string {
	switch s {
	case ShapeSimple:
		return "simple"
	case ShapeStructured:
		return "structured"
	default:
		return "invalid"
	}
}

// Classification describes a token without carrying its value, so it is
// safe to log.
type Classification struct {
	Shape  Shape
	Length int
	// Reason explains an invalid shape. Empty when the token is valid.
	Reason string
}

// Valid reports whether the token passed the format check.
func (c Classification) Valid() bool {
	return c.Shape != ShapeInvalid
}

// Normalize trims surrounding whitespace from a raw header value.
func Normalize(raw string) string {
	return strings.TrimSpace(raw)
}

// Classify checks the shape of a token. Structured (JWT-shaped) tokens are
// exempt from the minimum length.
func Classify(raw string) Classification {
	token := Normalize(raw)
	c := Classification{Length: len(token)}

	switch {
	case structuredTokenPattern.MatchString(token):
		c.Shape = ShapeStructured
	case simpleTokenPattern.MatchString(token):
		c.Shape = ShapeSimple
	case simpleAlphabetPattern.MatchString(token) && len(token) < MinSimpleTokenLength:
		c.Reason = fmt.Sprintf("too short (%d < %d)", len(token), MinSimpleTokenLength)
	default:
		c.Reason = "invalid characters or format"
	}
	return c
}

// ExpiresAt returns the exp claim of a structured token. The signature is not
// verified; the result is only a hint for how long an accepted token may be
// cached. ok is false when the token has no readable exp claim.
func ExpiresAt(token string) (exp time.Time, ok bool) {
	if !structuredTokenPattern.MatchString(token) {
		return time.Time{}, false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	nd, err := claims.GetExpirationTime()
	if err != nil || nd == nil {
		return time.Time{}, false
	}
	return nd.Time, true
}

// PositiveTTL caps ttl at the remaining lifetime of a structured token.
// The result may be zero or negative for an already expired token.
func PositiveTTL(token string, ttl time.Duration, now time.Time) time.Duration {
	exp, ok := ExpiresAt(token)
	if !ok {
		return ttl
	}
	if remaining := exp.Sub(now); remaining < ttl {
		return remaining
	}
	return ttl
}
