// Package ansi removes terminal escape sequences from build output so error
// patterns match the visible text.
package ansi

import "strings"

const esc = '\x1b'

// Strip removes CSI sequences (ESC [ ... final byte), OSC sequences
// (ESC ] ... BEL or ESC \), and two-byte escapes from s.
func Strip(s string) string {
	if strings.IndexByte(s, esc) < 0 {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))

	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != esc {
			b.WriteByte(c)
			continue
		}

		if i+1 >= len(s) {
			break
		}

		switch s[i+1] {
		case '[':
			i += 2
			for i < len(s) && (s[i] < 0x40 || s[i] > 0x7e) {
				i++
			}
		case ']':
			i += 2
			for i < len(s) {
				if s[i] == '\a' {
					break
				}

				if s[i] == esc && i+1 < len(s) && s[i+1] == '\\' {
					i++
					break
				}

				i++
			}
		default:
			i++
		}
	}

	return b.String()
}
