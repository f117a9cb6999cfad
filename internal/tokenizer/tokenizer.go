// Package tokenizer extracts lower-cased whitespace-delimited tokens from a
// chunk's bytes.
package tokenizer

import (
	"bytes"
	"iter"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
)

var replacement = []byte(string(utf8.RuneError))

// Tokenizer is not safe for concurrent use; each worker owns one.
type Tokenizer struct {
	caser   cases.Caser
	decoded []byte
	folded  []byte
}

// New creates a tokenizer
func New() *Tokenizer {
	return &Tokenizer{caser: cases.Lower(language.Und)}
}

// Tokens yields the lower-cased tokens of buf. Ill-formed UTF-8 is replaced
// with U+FFFD first. ASCII tokens are lower-cased in place, so buf is
// modified. A yielded slice is only valid until the next one is yielded.
func (t *Tokenizer) Tokens(buf []byte) iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		data := buf
		if !utf8.Valid(data) {
			data = t.decode(data)
		}

		for len(data) > 0 {
			line := data
			if i := bytes.IndexByte(data, '\n'); i >= 0 {
				line, data = data[:i], data[i+1:]
			} else {
				data = nil
			}

			for len(line) > 0 {
				var tok []byte
				tok, line = nextField(line)
				if len(tok) == 0 {
					continue
				}
				if !yield(t.lower(tok)) {
					return
				}
			}
		}
	}
}

// decode replaces every ill-formed sequence of buf
func (t *Tokenizer) decode(buf []byte) []byte {
	out, _, err := transform.Append(runes.ReplaceIllFormed(), t.decoded[:0], buf)
	if err != nil {
		out = bytes.ToValidUTF8(buf, replacement)
	}
	t.decoded = out
	return out
}

// nextField skips leading whitespace and returns the first field of line and
// what follows it
func nextField(line []byte) (field, rest []byte) {
	start := skipSpace(line, 0)
	end := start
	for end < len(line) {
		c := line[end]
		if c < utf8.RuneSelf {
			if asciiSpace[c] {
				break
			}
			end++
			continue
		}
		r, size := utf8.DecodeRune(line[end:])
		if unicode.IsSpace(r) {
			break
		}
		end += size
	}
	return line[start:end], line[end:]
}

func skipSpace(line []byte, i int) int {
	for i < len(line) {
		c := line[i]
		if c < utf8.RuneSelf {
			if !asciiSpace[c] {
				return i
			}
			i++
			continue
		}
		r, size := utf8.DecodeRune(line[i:])
		if !unicode.IsSpace(r) {
			return i
		}
		i += size
	}
	return i
}

var asciiSpace = [utf8.RuneSelf]bool{'\t': true, '\n': true, '\v': true, '\f': true, '\r': true, ' ': true}

// lower folds ASCII in place and falls back to the Unicode caser when tok has
// a multi-byte rune
func (t *Tokenizer) lower(tok []byte) []byte {
	for i, c := range tok {
		if c >= utf8.RuneSelf {
			folded, _, err := transform.Append(t.caser, t.folded[:0], tok)
			if err != nil {
				return tok
			}
			t.folded = folded
			return folded
		}
		if 'A' <= c && c <= 'Z' {
			tok[i] = c + 'a' - 'A'
		}
	}
	return tok
}
