package results

import (
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/dlclark/regexp2"

	"github.com/musher-dev/termbuild/internal/ansi"
)

// matchTimeout bounds backtracking on a single output line.
const matchTimeout = 100 * time.Millisecond

// Location is an error position reported by the build.
type Location struct {
	File    string `json:"file"`
	Line    int    `json:"line"`
	Column  int    `json:"column,omitempty"`
	Message string `json:"message,omitempty"`
}

func (l Location) String() string {
	s := l.File
	if l.Line > 0 {
		s += ":" + strconv.Itoa(l.Line)
	}

	if l.Column > 0 {
		s += ":" + strconv.Itoa(l.Column)
	}

	if l.Message != "" {
		s += ": " + l.Message
	}

	return s
}

// CompilePattern compiles an error pattern. Patterns use .NET/Perl syntax
// (lookarounds and backreferences are allowed). An empty pattern yields nil.
func CompilePattern(expr string) (*regexp2.Regexp, error) {
	if expr == "" {
		return nil, nil
	}

	re, err := regexp2.Compile(expr, regexp2.None)
	if err != nil {
		return nil, fmt.Errorf("compile pattern %q: %w", expr, err)
	}

	re.MatchTimeout = matchTimeout

	return re, nil
}

// matcher extracts locations from complete lines.
//
// file pattern groups: 1 file, 2 line, 3 column, 4 message.
// line pattern groups: 1 line, 2 column, 3 message; the file is the last one
// a file pattern matched.
type matcher struct {
	fileRe   *regexp2.Regexp
	lineRe   *regexp2.Regexp
	baseDir  string
	lastFile string
}

func (m *matcher) enabled() bool {
	return m.fileRe != nil || m.lineRe != nil
}

func (m *matcher) match(line string) (Location, bool) {
	line = ansi.Strip(line)

	if groups, ok := find(m.fileRe, line); ok && groups[1] != "" {
		m.lastFile = m.resolve(groups[1])

		// With a line pattern, a file match without a line number only
		// sets the file for the lines that follow.
		if m.lineRe != nil && atoi(groups[2]) == 0 {
			return Location{}, false
		}

		loc := Location{
			File:    m.lastFile,
			Line:    atoi(groups[2]),
			Column:  atoi(groups[3]),
			Message: groups[4],
		}

		return loc, true
	}

	if m.lastFile == "" {
		return Location{}, false
	}

	if groups, ok := find(m.lineRe, line); ok && atoi(groups[1]) > 0 {
		return Location{
			File:    m.lastFile,
			Line:    atoi(groups[1]),
			Column:  atoi(groups[2]),
			Message: groups[3],
		}, true
	}

	return Location{}, false
}

func (m *matcher) resolve(file string) string {
	if m.baseDir == "" || filepath.IsAbs(file) {
		return file
	}

	return filepath.Join(m.baseDir, file)
}

// find returns groups 0..4 of the first match; missing groups are "".
func find(re *regexp2.Regexp, line string) ([5]string, bool) {
	var out [5]string

	if re == nil {
		return out, false
	}

	m, err := re.FindStringMatch(line)
	if err != nil || m == nil {
		return out, false
	}

	groups := m.Groups()
	for i := 0; i < len(out) && i < len(groups); i++ {
		out[i] = groups[i].String()
	}

	return out, true
}

func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}

	return n
}
