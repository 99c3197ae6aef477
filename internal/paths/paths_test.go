package paths

import (
	"path/filepath"
	"testing"
)

func TestConfigRoot_UsesXDGConfigHome(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmp)

	got, err := ConfigRoot()
	if err != nil {
		t.Fatalf("ConfigRoot() error = %v", err)
	}

	want := filepath.Join(tmp, "termbuild")
	if got != want {
		t.Fatalf("ConfigRoot() = %q, want %q", got, want)
	}
}

func TestCacheRoot_IgnoresRelativeXDG(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CACHE_HOME", "relative/cache")

	got, err := CacheRoot()
	if err != nil {
		t.Fatalf("CacheRoot() error = %v", err)
	}

	if got == filepath.Join("relative/cache", "termbuild") {
		t.Fatalf("CacheRoot() = %q, relative XDG_CACHE_HOME must be ignored", got)
	}
}

func TestDerivedPaths(t *testing.T) {
	cfg := t.TempDir()
	cache := t.TempDir()
	state := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", cfg)
	t.Setenv("XDG_CACHE_HOME", cache)
	t.Setenv("XDG_STATE_HOME", state)

	tests := []struct {
		name string
		fn   func() (string, error)
		want string
	}{
		{name: "config file", fn: ConfigFile, want: filepath.Join(cfg, "termbuild", "config.yaml")},
		{name: "scratch dir", fn: ScratchDir, want: filepath.Join(cache, "termbuild", "relay")},
		{name: "log file", fn: DefaultLogFile, want: filepath.Join(state, "termbuild", "logs", "termbuild.log")},
		{name: "history dir", fn: HistoryDir, want: filepath.Join(state, "termbuild", "history")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.fn()
			if err != nil {
				t.Fatalf("%s error = %v", tt.name, err)
			}

			if got != tt.want {
				t.Fatalf("%s = %q, want %q", tt.name, got, tt.want)
			}
		})
	}
}
