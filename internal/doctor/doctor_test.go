package doctor

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/musher-dev/termbuild/internal/output"
	"github.com/musher-dev/termbuild/internal/terminal"
	"github.com/musher-dev/termbuild/internal/testutil"
)

func fakeLookPath(found ...string) func(string) (string, error) {
	return func(name string) (string, error) {
		for _, f := range found {
			if f == name {
				return "/usr/bin/" + name, nil
			}
		}

		return "", errors.New("not found")
	}
}

func byName(results []Result) map[string]Result {
	m := make(map[string]Result, len(results))
	for _, r := range results {
		m[r.Name] = r
	}

	return m
}

func TestRunAllPass(t *testing.T) {
	dir := t.TempDir()

	r := New(Env{Terminal: "xterm", TeePath: "tee", ScratchDir: dir, LookPath: fakeLookPath("xterm", "tee")})
	got := byName(r.Run(context.Background()))

	for _, name := range []string{"Terminal", "Relay", "Scratch Directory", "Stale Relay Files"} {
		if got[name].Status != StatusPass {
			t.Errorf("%s = %+v, want pass", name, got[name])
		}
	}

	if got["Terminal"].Message != "xterm at /usr/bin/xterm" {
		t.Errorf("Terminal message = %q", got["Terminal"].Message)
	}
}

func TestRunHeadlessTerminal(t *testing.T) {
	r := New(Env{Terminal: "pty", TeePath: "tee", ScratchDir: t.TempDir(), LookPath: fakeLookPath("tee")})

	got := byName(r.Run(context.Background()))
	if got["Terminal"].Status != StatusPass || got["Terminal"].Message != "headless (pty backend)" {
		t.Fatalf("Terminal = %+v", got["Terminal"])
	}
}

func TestRunMissingTools(t *testing.T) {
	tests := []struct {
		name         string
		allowMissing bool
		wantRelay    Status
	}{
		{name: "required", wantRelay: StatusFail},
		{name: "allowed", allowMissing: true, wantRelay: StatusWarn},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New(Env{
				Terminal:        "kitty",
				TeePath:         "tee",
				AllowMissingTee: tt.allowMissing,
				ScratchDir:      t.TempDir(),
				LookPath:        fakeLookPath(),
			})

			got := byName(r.Run(context.Background()))
			if got["Terminal"].Status != StatusFail {
				t.Errorf("Terminal = %+v, want fail", got["Terminal"])
			}

			if got["Relay"].Status != tt.wantRelay {
				t.Errorf("Relay = %+v, want %v", got["Relay"], tt.wantRelay)
			}
		})
	}
}

func TestRunScratchDir(t *testing.T) {
	r := New(Env{Terminal: "pty", TeePath: "tee", LookPath: fakeLookPath("tee")})
	if got := byName(r.Run(context.Background()))["Scratch Directory"]; got.Status != StatusFail {
		t.Fatalf("unset scratch dir = %+v", got)
	}

	nested := filepath.Join(t.TempDir(), "a", "b")

	r = New(Env{Terminal: "pty", TeePath: "tee", ScratchDir: nested, LookPath: fakeLookPath("tee")})
	if got := byName(r.Run(context.Background()))["Scratch Directory"]; got.Status != StatusPass {
		t.Fatalf("nested scratch dir = %+v", got)
	}

	if info, err := os.Stat(nested); err != nil || !info.IsDir() {
		t.Fatalf("scratch dir not created: %v", err)
	}
}

func TestRunStaleFiles(t *testing.T) {
	dir := t.TempDir()

	for _, name := range []string{"a1.log", "a1.done"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("output\n"), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	r := New(Env{Terminal: "pty", TeePath: "tee", ScratchDir: dir, LookPath: fakeLookPath("tee")})

	got := byName(r.Run(context.Background()))["Stale Relay Files"]
	if got.Status != StatusWarn || got.Message != "2 file(s), 14 B" {
		t.Fatalf("Stale Relay Files = %+v", got)
	}
}

func TestFormatBytes(t *testing.T) {
	tests := map[int64]string{
		0:           "0 B",
		1023:        "1023 B",
		1024:        "1.0 KiB",
		1536:        "1.5 KiB",
		5 << 20:     "5.0 MiB",
		3 << 30 / 2: "1.5 GiB",
	}

	for in, want := range tests {
		if got := formatBytes(in); got != want {
			t.Errorf("formatBytes(%d) = %q, want %q", in, got, want)
		}
	}
}

func render(results []Result) string {
	var buf bytes.Buffer

	term := &terminal.Info{IsTTY: false, NoColor: true, Width: 80, Height: 24}
	Render(output.NewWriter(&buf, &buf, term), results)

	return buf.String()
}

func TestRender_AllPass_Golden(t *testing.T) {
	results := []Result{
		{Name: "Terminal", Status: StatusPass, Message: "xterm at /usr/bin/xterm"},
		{Name: "Relay", Status: StatusPass, Message: "tee at /usr/bin/tee"},
		{Name: "Scratch Directory", Status: StatusPass, Message: "/home/dev/.cache/termbuild/relay"},
		{Name: "Stale Relay Files", Status: StatusPass, Message: "None"},
		{Name: "CLI Version", Status: StatusPass, Message: "v0.3.0"},
	}

	testutil.AssertGolden(t, render(results), "doctor_all_pass.golden")
}

func TestRender_Mixed_Golden(t *testing.T) {
	results := []Result{
		{Name: "Terminal", Status: StatusFail, Message: "kitty not found in PATH", Detail: "Install it, set terminal.program, or use --terminal pty"},
		{Name: "Relay", Status: StatusPass, Message: "tee at /usr/bin/tee"},
		{Name: "Scratch Directory", Status: StatusPass, Message: "/home/dev/.cache/termbuild/relay"},
		{Name: "Stale Relay Files", Status: StatusWarn, Message: "4 file(s), 2.5 KiB", Detail: "Run 'termbuild cache clear' to remove them"},
		{Name: "CLI Version", Status: StatusWarn, Message: "Development build"},
	}

	testutil.AssertGolden(t, render(results), "doctor_mixed.golden")
}
