package observability

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestBuildEnvAttributes(t *testing.T) {
	tests := []struct {
		name string
		env  BuildEnv
		want map[attribute.Key]attribute.Value
	}{
		{name: "unset", env: BuildEnv{}, want: map[attribute.Key]attribute.Value{}},
		{
			name: "window with required relay",
			env:  BuildEnv{TerminalProgram: "xterm", RelayPath: "tee"},
			want: map[attribute.Key]attribute.Value{
				"termbuild.terminal.program":  attribute.StringValue("xterm"),
				"termbuild.terminal.headless": attribute.BoolValue(false),
				"termbuild.relay.path":        attribute.StringValue("tee"),
				"termbuild.relay.mode":        attribute.StringValue(RelayRequired),
			},
		},
		{
			name: "headless with optional relay",
			env:  BuildEnv{TerminalProgram: "pty", Headless: true, RelayPath: "/usr/bin/tee", AllowMissingRelay: true},
			want: map[attribute.Key]attribute.Value{
				"termbuild.terminal.program":  attribute.StringValue("pty"),
				"termbuild.terminal.headless": attribute.BoolValue(true),
				"termbuild.relay.path":        attribute.StringValue("/usr/bin/tee"),
				"termbuild.relay.mode":        attribute.StringValue(RelayOptional),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := make(map[attribute.Key]attribute.Value)
			for _, kv := range tt.env.Attributes() {
				got[kv.Key] = kv.Value
			}

			if len(got) != len(tt.want) {
				t.Fatalf("Attributes() = %v, want %v", got, tt.want)
			}

			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("%s = %v, want %v", k, got[k].Emit(), v.Emit())
				}
			}
		})
	}
}

func TestBuildResourceCarriesBuildEnv(t *testing.T) {
	env := BuildEnv{TerminalProgram: "kitty", RelayPath: "tee", AllowMissingRelay: true}

	res, err := buildResource(env.Attributes())
	if err != nil {
		t.Fatalf("buildResource() error = %v", err)
	}

	mode, ok := res.Set().Value("termbuild.relay.mode")
	if !ok || mode.AsString() != RelayOptional {
		t.Fatalf("termbuild.relay.mode = %v, %v", mode.Emit(), ok)
	}
}

func TestNewLogger_RecordsBuildEnv(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "out.log")

	logger, cleanup, err := NewLogger(&Config{
		Format:     "json",
		StderrMode: "off",
		LogFile:    logPath,
		Build:      BuildEnv{TerminalProgram: "direct", Headless: true, RelayPath: "tee"},
	})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}

	logger.Info("build started")
	_ = cleanup()

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}

	var record struct {
		Build struct {
			Terminal string `json:"terminal"`
			Headless bool   `json:"headless"`
			Relay    string `json:"relay"`
		} `json:"build"`
	}

	if err := json.Unmarshal([]byte(strings.TrimSpace(string(data))), &record); err != nil {
		t.Fatalf("log record is not JSON: %v (%q)", err, data)
	}

	if record.Build.Terminal != "direct" || !record.Build.Headless || record.Build.Relay != RelayRequired {
		t.Fatalf("build group = %+v", record.Build)
	}
}
