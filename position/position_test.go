package position

import (
	"testing"

	"github.com/stretchr/testify/assert"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

func pos(line, char uint32) protocol.Position {
	return protocol.Position{Line: line, Character: char}
}

func TestResolveMiddleOfText(t *testing.T) {
	text := "fn main() {\n  let x = 1\n}\n"
	p := Resolve("file:///a.kcl", "kcl", text, pos(1, 6))

	assert.Equal(t, "fn main() {\n  let ", p.Prefix)
	assert.Equal(t, "x = 1\n}\n", p.Suffix)
	assert.Equal(t, "  let ", p.LineBefore)
	assert.Equal(t, "kcl", p.Language)
	assert.Equal(t, "file:///a.kcl", p.URI)
	assert.Equal(t, pos(1, 6), p.Position)
}

func TestResolveEmptyDocument(t *testing.T) {
	p := Resolve("file:///a.kcl", "kcl", "", pos(3, 10))
	assert.Empty(t, p.Prefix)
	assert.Empty(t, p.Suffix)
	assert.Empty(t, p.LineBefore)
}

func TestResolveClampsPastEnd(t *testing.T) {
	text := "abc\ndef"

	p := Resolve("u", "go", text, pos(9, 0))
	assert.Equal(t, text, p.Prefix)
	assert.Empty(t, p.Suffix)
	assert.Equal(t, "def", p.LineBefore)

	p = Resolve("u", "go", text, pos(0, 40))
	assert.Equal(t, "abc", p.Prefix)
	assert.Equal(t, "\ndef", p.Suffix)
	assert.Equal(t, "abc", p.LineBefore)
}

func TestOffsetUTF16(t *testing.T) {
	// "é" is one UTF-16 unit, "😀" is two.
	text := "é😀x"
	idx := NewIndex(text)

	assert.Equal(t, 0, idx.Offset(pos(0, 0)))
	assert.Equal(t, len("é"), idx.Offset(pos(0, 1)))
	// Inside the surrogate pair stays before the emoji.
	assert.Equal(t, len("é"), idx.Offset(pos(0, 2)))
	assert.Equal(t, len("é😀"), idx.Offset(pos(0, 3)))
	assert.Equal(t, len(text), idx.Offset(pos(0, 4)))
}

func TestOffsetCRLF(t *testing.T) {
	idx := NewIndex("ab\r\ncd")
	assert.Equal(t, 2, idx.Offset(pos(0, 10)))
	assert.Equal(t, 4, idx.Offset(pos(1, 0)))
	assert.Equal(t, 2, idx.LineCount())
}

func TestPositionRoundTrip(t *testing.T) {
	text := "one\ntwo😀\nthree"
	idx := NewIndex(text)
	for _, p := range []protocol.Position{pos(0, 0), pos(0, 3), pos(1, 3), pos(1, 5), pos(2, 2)} {
		assert.Equal(t, p, idx.Position(idx.Offset(p)))
	}
	assert.Equal(t, pos(2, 5), idx.Position(1000))
	assert.Equal(t, pos(0, 0), idx.Position(-4))
}

func TestApplyChange(t *testing.T) {
	text := "hello\nworld\n"

	got := ApplyChange(text, protocol.Range{Start: pos(1, 0), End: pos(1, 5)}, "there")
	assert.Equal(t, "hello\nthere\n", got)

	got = ApplyChange(text, protocol.Range{Start: pos(0, 5), End: pos(1, 0)}, " ")
	assert.Equal(t, "hello world\n", got)

	got = ApplyChange("", protocol.Range{Start: pos(0, 0), End: pos(0, 0)}, "x")
	assert.Equal(t, "x", got)
}

func TestUTF16Len(t *testing.T) {
	assert.Equal(t, 0, UTF16Len(""))
	assert.Equal(t, 3, UTF16Len("abc"))
	assert.Equal(t, 2, UTF16Len("😀"))
}
