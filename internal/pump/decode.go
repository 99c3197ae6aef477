package pump

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/saintfish/chardet"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// EncodingAuto sniffs the charset from the first undecodable output.
const EncodingAuto = "auto"

var replacementUTF8 = []byte(string(utf8.RuneError))

// EncodingWarning reports bytes that could not be decoded and were replaced
// with U+FFFD. The chunk is still delivered.
type EncodingWarning struct {
	Encoding string
	// Offset is the byte offset of the first raw byte of the chunk.
	Offset int64
	// Replaced is the number of replacement characters introduced.
	Replaced int
}

func (w *EncodingWarning) Error() string {
	return fmt.Sprintf("%d undecodable byte sequence(s) at offset %d replaced (%s)", w.Replaced, w.Offset, w.Encoding)
}

// lookupEncoding resolves a WHATWG label such as "utf-8" or "windows-1252".
func lookupEncoding(name string) (encoding.Encoding, string, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || name == "utf8" {
		name = "utf-8"
	}

	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, "", fmt.Errorf("unknown encoding %q: %w", name, err)
	}

	canonical, err := htmlindex.Name(enc)
	if err != nil {
		canonical = name
	}

	return enc, canonical, nil
}

// ValidateEncoding reports whether name is usable as Options.Encoding.
func ValidateEncoding(name string) error {
	if strings.EqualFold(strings.TrimSpace(name), EncodingAuto) {
		return nil
	}

	_, _, err := lookupEncoding(name)

	return err
}

// decoder converts a byte stream to UTF-8 text across chunk boundaries.
// Incomplete trailing sequences are held until the next call.
type decoder struct {
	name    string
	t       transform.Transformer
	sniff   bool
	pending []byte
	offset  int64
}

func newDecoder(name string) (*decoder, error) {
	if strings.EqualFold(strings.TrimSpace(name), EncodingAuto) {
		return &decoder{name: "utf-8", t: unicode.UTF8.NewDecoder(), sniff: true}, nil
	}

	enc, canonical, err := lookupEncoding(name)
	if err != nil {
		return nil, err
	}

	return &decoder{name: canonical, t: enc.NewDecoder()}, nil
}

// decode returns the text for src. With atEOF, pending bytes are flushed and
// any incomplete sequence becomes U+FFFD.
func (d *decoder) decode(src []byte, atEOF bool) (string, *EncodingWarning) {
	if d.sniff && len(src) > 0 {
		d.detect(src)
	}

	in := make([]byte, 0, len(d.pending)+len(src))
	in = append(in, d.pending...)
	in = append(in, src...)
	d.pending = nil

	start := d.offset
	d.offset += int64(len(src))

	if len(in) == 0 {
		return "", nil
	}

	out, consumed := d.transform(in, atEOF)
	d.pending = bytes.Clone(in[consumed:])

	var warn *EncodingWarning

	introduced := bytes.Count(out, replacementUTF8)
	if d.name == "utf-8" {
		introduced -= bytes.Count(in[:consumed], replacementUTF8)
	}

	if introduced > 0 {
		warn = &EncodingWarning{Encoding: d.name, Offset: start, Replaced: introduced}
	}

	return string(out), warn
}

func (d *decoder) transform(in []byte, atEOF bool) ([]byte, int) {
	var out []byte

	dst := make([]byte, len(in)*3+utf8.UTFMax)
	consumed := 0

	for consumed < len(in) {
		nDst, nSrc, err := d.t.Transform(dst, in[consumed:], atEOF)
		out = append(out, dst[:nDst]...)
		consumed += nSrc

		switch {
		case err == nil:
			if nSrc == 0 {
				return out, consumed
			}
		case errors.Is(err, transform.ErrShortDst):
			if nDst == 0 && nSrc == 0 {
				dst = make([]byte, len(dst)*2)
			}
		case errors.Is(err, transform.ErrShortSrc):
			return out, consumed
		default:
			// Decoders built by x/text replace rather than fail; skip one
			// byte if one ever does.
			out = append(out, replacementUTF8...)
			consumed++
			d.t.Reset()
		}
	}

	return out, consumed
}

// detect switches from UTF-8 to a sniffed charset the first time output is
// not valid UTF-8. The decision is made once.
func (d *decoder) detect(sample []byte) {
	d.sniff = false

	if utf8.Valid(trimPartialRune(sample)) {
		return
	}

	result, err := chardet.NewTextDetector().DetectBest(sample)
	if err != nil || result == nil {
		return
	}

	enc, canonical, err := lookupEncoding(result.Charset)
	if err != nil || canonical == "utf-8" {
		return
	}

	d.name = canonical
	d.t = enc.NewDecoder()
}

// trimPartialRune drops an incomplete UTF-8 sequence at the end of b.
func trimPartialRune(b []byte) []byte {
	for i := 1; i < utf8.UTFMax && i <= len(b); i++ {
		c := b[len(b)-i]
		if c < utf8.RuneSelf {
			return b
		}

		if utf8.RuneStart(c) {
			if !utf8.FullRune(b[len(b)-i:]) {
				return b[:len(b)-i]
			}

			return b
		}
	}

	return b
}
