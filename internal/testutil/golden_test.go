package testutil

import (
	"os"
	"testing"
)

func TestAssertGoldenMatches(t *testing.T) {
	t.Chdir(t.TempDir())

	if err := os.MkdirAll("testdata", 0o755); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(GoldenPath("out.golden"), []byte("hi\n[Finished in N.N]\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	AssertGolden(t, Normalize("hi\n[Finished in 0.3]\n"), "out.golden")
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "[Finished in 12.4]", want: "[Finished in N.N]"},
		{in: "[Finished in 0.0 with 3 errors]", want: "[Finished in N.N with 3 errors]"},
		{in: "session 0f8fad5b-d9cb-469f-a165-70867728950e closed", want: "session <id> closed"},
		{in: "main.go:3: error", want: "main.go:3: error"},
	}

	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
