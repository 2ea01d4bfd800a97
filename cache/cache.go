// Package cache stores the most recent completion response per document line.
//
// The key is (uri, line) only: any request on a line reuses the response
// computed for that line, whatever the column. The cache never evicts on its
// own. The document store invalidates entries when edits touch a line and
// clears a document's entries when it closes.
package cache

import (
	"cmp"

	"github.com/Paranoid-AF/ghostlet"
	"github.com/Paranoid-AF/ghostlet/safemap"
)

// Key identifies one line of one document.
type Key struct {
	URI  string
	Line uint32
}

func compareKeys(a, b Key) int {
	if c := cmp.Compare(a.URI, b.URI); c != 0 {
		return c
	}
	return cmp.Compare(a.Line, b.Line)
}

// Cache maps document lines to completion responses.
type Cache struct {
	entries *safemap.Map[Key, ghostlet.CompletionResponse]
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{
		entries: safemap.New(
			safemap.WithClone[Key](ghostlet.CompletionResponse.Clone),
		),
	}
}

// Close releases the underlying store.
func (c *Cache) Close() {
	c.entries.Close()
}

// Get returns the cached response for (uri, line).
func (c *Cache) Get(uri string, line uint32) (ghostlet.CompletionResponse, bool) {
	return c.entries.Get(Key{URI: uri, Line: line})
}

// Set stores resp for (uri, line), replacing any previous entry.
func (c *Cache) Set(uri string, line uint32, resp ghostlet.CompletionResponse) {
	c.entries.Insert(Key{URI: uri, Line: line}, resp.Clone())
}

// Invalidate drops the entry for (uri, line).
func (c *Cache) Invalidate(uri string, line uint32) bool {
	_, ok := c.entries.Remove(Key{URI: uri, Line: line})
	return ok
}

// InvalidateFrom drops every entry of uri at or below line and returns how
// many were removed. Edits that add or remove lines shift everything after
// them, so those entries no longer describe their line.
func (c *Cache) InvalidateFrom(uri string, line uint32) int {
	return len(c.entries.RemoveFunc(func(k Key, _ ghostlet.CompletionResponse) bool {
		return k.URI == uri && k.Line >= line
	}))
}

// ClearDocument drops every entry of uri.
func (c *Cache) ClearDocument(uri string) int {
	return c.InvalidateFrom(uri, 0)
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.entries.Clear()
}

// Len reports the number of cached lines.
func (c *Cache) Len() int {
	return c.entries.Len()
}

// Keys returns the cached keys ordered by uri then line.
func (c *Cache) Keys() []Key {
	snap := c.entries.Snapshot(compareKeys)
	keys := make([]Key, len(snap))
	for i, e := range snap {
		keys[i] = e.Key
	}
	return keys
}
