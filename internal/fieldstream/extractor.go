// Package fieldstream pulls the value of a single JSON string field out of a
// token stream while the surrounding document is still incomplete.
package fieldstream

import (
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

type state int

const (
	stateSearching state = iota
	stateInField
	stateComplete
)

// Extractor scans streamed chunks for `"<field>": "` and forwards the decoded
// field content to emit as it arrives. Content is emitted exactly once: the
// concatenation of every emitted piece is the unescaped field value.
type Extractor struct {
	field   string
	pattern string
	emit    func(text string) error

	state state
	scan  string
	doc   strings.Builder
	value strings.Builder

	// decoder state carried across chunks
	carry      string
	escaped    bool
	hex        []byte
	inUnicode  bool
	pendingHi  rune
	hasPending bool
}

// New returns an Extractor for field. emit receives each newly revealed piece
// of the field value; it is never called with an empty string.
func New(field string, emit func(text string) error) *Extractor {
	return &Extractor{
		field:   field,
		pattern: `"` + field + `"`,
		emit:    emit,
	}
}

// Field returns the name of the streamed field.
func (e *Extractor) Field() string { return e.field }

// IsComplete reports whether the closing quote of the field has been seen.
func (e *Extractor) IsComplete() bool { return e.state == stateComplete }

// Document returns every byte seen so far, for parsing once the stream ends.
func (e *Extractor) Document() string { return e.doc.String() }

// Value returns the unescaped field content emitted so far.
func (e *Extractor) Value() string { return e.value.String() }

// ProcessChunk consumes the next fragment of the stream. Chunks must be passed
// in arrival order. The returned error is the one returned by emit, if any.
func (e *Extractor) ProcessChunk(chunk string) error {
	if chunk == "" {
		return nil
	}
	e.doc.WriteString(chunk)
	if e.state == stateComplete {
		return nil
	}
	e.scan += chunk

	if e.state == stateSearching && !e.locateField() {
		return nil
	}
	return e.consumeField()
}

// locateField looks for the pattern, the colon and the opening quote. The
// scan buffer is left untouched until all three are present so a pattern split
// across chunks is picked up later.
func (e *Extractor) locateField() bool {
	offset := 0
	for {
		idx := strings.Index(e.scan[offset:], e.pattern)
		if idx < 0 {
			return false
		}
		afterName := offset + idx + len(e.pattern)

		colon := skipSpace(e.scan, afterName)
		if colon >= len(e.scan) {
			return false
		}
		if e.scan[colon] != ':' {
			// The name appeared as a value, not a key.
			offset = afterName
			continue
		}

		quote := skipSpace(e.scan, colon+1)
		if quote >= len(e.scan) {
			return false
		}
		if e.scan[quote] != '"' {
			// Not a string value; keep looking for a later occurrence.
			offset = quote
			continue
		}

		e.scan = e.scan[quote+1:]
		e.state = stateInField
		e.value.Reset()
		return true
	}
}

// consumeField decodes the scan buffer up to the closing quote, or all of it
// when the quote has not arrived yet, and emits what was decoded.
func (e *Extractor) consumeField() error {
	var out strings.Builder
	out.WriteString(e.carry)
	e.carry = ""
	closed := false
	for i := 0; i < len(e.scan); i++ {
		c := e.scan[i]
		switch {
		case e.inUnicode:
			e.hex = append(e.hex, c)
			if len(e.hex) == 4 {
				e.inUnicode = false
				e.writeUnicode(&out, string(e.hex))
				e.hex = e.hex[:0]
			}
		case e.escaped:
			e.escaped = false
			if c == 'u' {
				e.inUnicode = true
				continue
			}
			e.flushPending(&out)
			out.WriteByte(unescape(c))
		case c == '\\':
			e.escaped = true
		case c == '"':
			closed = true
		default:
			e.flushPending(&out)
			out.WriteByte(c)
		}
		if closed {
			break
		}
	}

	e.scan = ""
	piece := out.String()
	if closed {
		e.flushPending(&out)
		piece = out.String()
		e.state = stateComplete
	} else {
		// Hold back a multi-byte character split across chunks.
		piece, e.carry = splitIncomplete(piece)
	}

	if piece == "" {
		return nil
	}
	e.value.WriteString(piece)
	return e.emit(piece)
}

// writeUnicode decodes a \uXXXX escape, pairing UTF-16 surrogates that may
// arrive in separate escapes.
func (e *Extractor) writeUnicode(out *strings.Builder, hex string) {
	r, ok := parseHex(hex)
	if !ok {
		e.flushPending(out)
		out.WriteRune(utf8.RuneError)
		return
	}
	if e.hasPending {
		hi := e.pendingHi
		e.hasPending = false
		if dec := utf16.DecodeRune(hi, r); dec != utf8.RuneError {
			out.WriteRune(dec)
			return
		}
		out.WriteRune(utf8.RuneError)
	}
	if utf16.IsSurrogate(r) {
		e.pendingHi = r
		e.hasPending = true
		return
	}
	out.WriteRune(r)
}

func (e *Extractor) flushPending(out *strings.Builder) {
	if e.hasPending {
		out.WriteRune(utf8.RuneError)
		e.hasPending = false
	}
}

func splitIncomplete(s string) (string, string) {
	for i := len(s) - 1; i >= 0 && i >= len(s)-utf8.UTFMax; i-- {
		if utf8.RuneStart(s[i]) {
			if utf8.FullRuneInString(s[i:]) {
				return s, ""
			}
			return s[:i], s[i:]
		}
	}
	return s, ""
}

func unescape(c byte) byte {
	switch c {
	case 'n':
		return '\n'
	case 't':
		return '\t'
	case 'r':
		return '\r'
	case 'b':
		return '\b'
	case 'f':
		return '\f'
	default:
		// \" \\ \/ and anything unknown map to the character itself.
		return c
	}
}

func parseHex(s string) (rune, bool) {
	var r rune
	for i := 0; i < len(s); i++ {
		c := s[i]
		var v byte
		switch {
		case c >= '0' && c <= '9':
			v = c - '0'
		case c >= 'a' && c <= 'f':
			v = c - 'a' + 10
		case c >= 'A' && c <= 'F':
			v = c - 'A' + 10
		default:
			return 0, false
		}
		r = r<<4 | rune(v)
	}
	return r, true
}

func skipSpace(s string, i int) int {
	for i < len(s) {
		switch s[i] {
		case ' ', '\t', '\n', '\r':
			i++
		default:
			return i
		}
	}
	return i
}
