// Package testutil holds helpers shared by package tests.
package testutil

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/dnaeon/go-vcr.v2/cassette"
	"gopkg.in/dnaeon/go-vcr.v2/recorder"
)

// RecordEnv switches cassettes to recording against a live auth service
// when set to "record".
const RecordEnv = "VCR_MODE"

// AuthServiceClient returns a client that replays the auth service cassette
// testdata/fixtures/<name>.yaml. A request only matches when it carries a
// bearer credential, and credentials are stripped before a cassette is saved.
func AuthServiceClient(t *testing.T, name string) *http.Client {
	t.Helper()

	mode := recorder.ModeReplaying
	if os.Getenv(RecordEnv) == "record" {
		mode = recorder.ModeRecording
	}

	rec, err := recorder.NewAsMode(filepath.Join("testdata", "fixtures", name), mode, nil)
	if err != nil {
		t.Fatalf("open cassette %s: %v", name, err)
	}

	rec.SetMatcher(func(r *http.Request, i cassette.Request) bool {
		return r.Method == i.Method &&
			r.URL.String() == i.URL &&
			strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ")
	})
	rec.AddFilter(func(i *cassette.Interaction) error {
		delete(i.Request.Headers, "Authorization")
		return nil
	})

	t.Cleanup(func() {
		if err := rec.Stop(); err != nil {
			t.Errorf("stop cassette %s: %v", name, err)
		}
	})

	return &http.Client{Transport: rec}
}
