package ansi

import "testing"

func TestStrip(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain", in: "main.go:12: undefined: x", want: "main.go:12: undefined: x"},
		{name: "sgr color", in: "\x1b[1;31merror\x1b[0m: boom", want: "error: boom"},
		{name: "cursor movement", in: "a\x1b[2Kb\x1b[10Gc", want: "abc"},
		{name: "osc title bel", in: "\x1b]0;make\aok", want: "ok"},
		{name: "osc hyperlink st", in: "\x1b]8;;file:///x.go\x1b\\x.go\x1b]8;;\x1b\\:3", want: "x.go:3"},
		{name: "two byte escape", in: "\x1b=keypad\x1b>", want: "keypad"},
		{name: "trailing escape", in: "done\x1b", want: "done"},
		{name: "unicode kept", in: "\x1b[32m✓ café\x1b[0m", want: "✓ café"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Strip(tt.in); got != tt.want {
				t.Errorf("Strip(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
