package main

import (
	"io"
	"strings"
	"testing"
)

func TestDoctorCommandHeadless(t *testing.T) {
	isolateConfig(t)

	scratch := t.TempDir()
	t.Setenv("TERMBUILD_TERMINAL_PROGRAM", "direct")
	t.Setenv("TERMBUILD_SCRATCH_DIR", scratch)
	t.Setenv("TERMBUILD_RELAY_TEE_PATH", "termbuild-missing-tee")
	t.Setenv("TERMBUILD_RELAY_ALLOW_MISSING", "true")

	out, buf := testWriter()
	cmd := newDoctorCmd()
	cmd.SetArgs([]string{})
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetContext(out.WithContext(t.Context()))

	if err := cmd.Execute(); err != nil {
		t.Fatalf("doctor should succeed: %v", err)
	}

	got := buf.String()

	for _, want := range []string{
		"Running checks... \n",
		"✓ Terminal",
		"headless (direct backend)",
		"⚠ Relay",
		"termbuild-missing-tee not found; builds run without captured output",
		"✓ Scratch Directory",
		scratch,
		"✓ Stale Relay Files",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("doctor output missing %q:\n%s", want, got)
		}
	}
}
