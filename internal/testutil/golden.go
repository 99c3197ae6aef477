// Package testutil holds test helpers shared by termbuild packages.
package testutil

import (
	"errors"
	"flag"
	"os"
	"path/filepath"
	"regexp"
	"testing"
)

// update rewrites golden files instead of comparing: go test ./... -update
var update = flag.Bool("update", false, "update golden files")

var (
	elapsedPattern = regexp.MustCompile(`\[Finished in \d+\.\d`)
	uuidPattern    = regexp.MustCompile(`[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)
)

// GoldenPath returns the path of a golden file under testdata.
func GoldenPath(name string) string {
	return filepath.Join("testdata", name)
}

// AssertGolden compares got with testdata/<name>, or rewrites it with -update.
func AssertGolden(t *testing.T, got, name string) {
	t.Helper()

	path := GoldenPath(name)

	if *update {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("create testdata: %v", err)
		}

		if err := os.WriteFile(path, []byte(got), 0o644); err != nil { //nolint:gosec // G306: golden files are not sensitive
			t.Fatalf("update golden %s: %v", path, err)
		}

		t.Logf("updated golden file: %s", path)

		return
	}

	want, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			t.Fatalf("golden file %s does not exist; run with -update to create it", path)
		}

		t.Fatalf("read golden %s: %v", path, err)
	}

	if got != string(want) {
		t.Errorf("output mismatch for %s\n\ngot:\n%s\n\nwant:\n%s\n\nrun with -update to refresh golden files", path, got, want)
	}
}

// Normalize replaces run-dependent values in build output: elapsed seconds
// in finished markers become "N.N" and session ids become "<id>".
func Normalize(s string) string {
	s = elapsedPattern.ReplaceAllString(s, "[Finished in N.N")
	return uuidPattern.ReplaceAllString(s, "<id>")
}
