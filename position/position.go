// Package position converts between LSP cursor positions and byte offsets and
// slices the text around a cursor into the fragments used for completion.
//
// Positions follow the LSP default encoding: lines are zero-based and the
// character is a count of UTF-16 code units on that line.
package position

import (
	"strings"
	"unicode/utf16"
	"unicode/utf8"

	protocol "github.com/tliron/glsp/protocol_3_16"
)

// DocParams holds the text fragments around a cursor for one request.
// It is derived from a document snapshot and never persisted.
type DocParams struct {
	URI      string
	Position protocol.Position
	Language string
	// Prefix is all text before the cursor.
	Prefix string
	// Suffix is all text after the cursor.
	Suffix string
	// LineBefore is the text on the cursor line up to the cursor.
	LineBefore string
}

// Index is a text with a precomputed table of line start offsets.
type Index struct {
	text       string
	lineStarts []int
}

// NewIndex builds an Index over text in a single pass.
func NewIndex(text string) *Index {
	starts := []int{0}
	for i := 0; i < len(text); i++ {
		if text[i] == '\n' {
			starts = append(starts, i+1)
		}
	}
	return &Index{text: text, lineStarts: starts}
}

// Text returns the indexed text.
func (idx *Index) Text() string { return idx.text }

// LineCount returns the number of lines. An empty text has one empty line.
func (idx *Index) LineCount() int { return len(idx.lineStarts) }

// lineBounds returns the byte range of a line's content, excluding its
// terminator ("\n" or "\r\n").
func (idx *Index) lineBounds(line int) (start, end int) {
	start = idx.lineStarts[line]
	if line+1 < len(idx.lineStarts) {
		end = idx.lineStarts[line+1] - 1
		if end > start && idx.text[end-1] == '\r' {
			end--
		}
	} else {
		end = len(idx.text)
	}
	return start, end
}

// Offset converts pos to a byte offset. A line past the end clamps to the end
// of the text; a character past the end of its line clamps to the line end.
func (idx *Index) Offset(pos protocol.Position) int {
	line := int(pos.Line)
	if line >= len(idx.lineStarts) {
		return len(idx.text)
	}
	start, end := idx.lineBounds(line)

	units := int(pos.Character)
	off := start
	for off < end && units > 0 {
		r, size := utf8.DecodeRuneInString(idx.text[off:end])
		n := utf16.RuneLen(r)
		if n < 0 {
			n = 1
		}
		if n > units {
			// Inside a surrogate pair; stay before the rune.
			break
		}
		units -= n
		off += size
	}
	return off
}

// Position converts a byte offset back to a position. Offsets outside the
// text clamp to its bounds.
func (idx *Index) Position(offset int) protocol.Position {
	if offset < 0 {
		offset = 0
	}
	if offset > len(idx.text) {
		offset = len(idx.text)
	}
	line := 0
	lo, hi := 0, len(idx.lineStarts)-1
	for lo <= hi {
		mid := (lo + hi) / 2
		if idx.lineStarts[mid] <= offset {
			line = mid
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	start, end := idx.lineBounds(line)
	if offset > end {
		offset = end
	}
	return protocol.Position{
		Line:      protocol.UInteger(line),
		Character: protocol.UInteger(UTF16Len(idx.text[start:offset])),
	}
}

// LineBefore returns the text on pos's line up to pos.
func (idx *Index) LineBefore(pos protocol.Position) string {
	line := int(pos.Line)
	if line >= len(idx.lineStarts) {
		line = len(idx.lineStarts) - 1
		start, end := idx.lineBounds(line)
		return idx.text[start:end]
	}
	off := idx.Offset(pos)
	return idx.text[idx.lineStarts[line]:off]
}

// Resolve slices text around pos. It never fails: out-of-range positions
// clamp and an empty document yields empty fragments.
func Resolve(uri, language, text string, pos protocol.Position) DocParams {
	idx := NewIndex(text)
	off := idx.Offset(pos)
	return DocParams{
		URI:        uri,
		Position:   pos,
		Language:   language,
		Prefix:     text[:off],
		Suffix:     text[off:],
		LineBefore: idx.LineBefore(pos),
	}
}

// ApplyChange replaces the text in rng with newText.
func ApplyChange(text string, rng protocol.Range, newText string) string {
	idx := NewIndex(text)
	start := idx.Offset(rng.Start)
	end := idx.Offset(rng.End)
	if end < start {
		start, end = end, start
	}
	var sb strings.Builder
	sb.Grow(len(text) - (end - start) + len(newText))
	sb.WriteString(text[:start])
	sb.WriteString(newText)
	sb.WriteString(text[end:])
	return sb.String()
}

// UTF16Len returns the length of s in UTF-16 code units.
func UTF16Len(s string) int {
	n := 0
	for _, r := range s {
		if l := utf16.RuneLen(r); l > 0 {
			n += l
		} else {
			n++
		}
	}
	return n
}
