// Package docs tracks the text of documents the editor has open and keeps the
// completion cache consistent with it.
package docs

import (
	"strings"
	"sync"

	protocol "github.com/tliron/glsp/protocol_3_16"
	"go.uber.org/zap"

	"github.com/Paranoid-AF/ghostlet/cache"
	"github.com/Paranoid-AF/ghostlet/errors"
	"github.com/Paranoid-AF/ghostlet/position"
	"github.com/Paranoid-AF/ghostlet/safemap"
	"github.com/Paranoid-AF/ghostlet/telemetry"
)

// ErrNotOpen is returned for incremental edits to a document that was never opened.
var ErrNotOpen = errors.New("document is not open")

// Document is the server's copy of an open document.
type Document struct {
	URI        string
	LanguageID string
	Version    int32
	Text       string
}

// Change is one content change. A nil Range replaces the whole text.
type Change struct {
	Range *protocol.Range
	Text  string
}

// Store holds open documents. Every edit invalidates the cached completions
// of the lines it touches; closing a document drops its cache entries and
// pending correlation records.
type Store struct {
	// mu serialises mutations, snapshots and commits.
	mu   sync.Mutex
	docs *safemap.Map[string, Document]
	// revisions counts mutations per uri, including ones that are no longer
	// open, so a commit can tell whether its snapshot is still current.
	revisions  map[string]uint64
	cache      *cache.Cache
	correlator *telemetry.Correlator
	logger     *zap.SugaredLogger
}

// NewStore creates an empty store bound to the given cache and correlator.
func NewStore(c *cache.Cache, correlator *telemetry.Correlator, logger *zap.SugaredLogger) *Store {
	return &Store{
		docs:       safemap.New[string, Document](),
		revisions:  make(map[string]uint64),
		cache:      c,
		correlator: correlator,
		logger:     logger,
	}
}

// Release frees the underlying map.
func (s *Store) Release() {
	s.docs.Close()
}

// Open records a newly opened document. Completions cached for the uri
// before it was opened may describe other text, so they are dropped.
func (s *Store) Open(uri, languageID string, version int32, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.docs.Insert(uri, Document{URI: uri, LanguageID: languageID, Version: version, Text: text})
	s.revisions[uri]++
	if n := s.cache.ClearDocument(uri); n > 0 {
		s.logger.Debugw("dropped stale completions on open", "uri", uri, "entries", n)
	}
}

// Change applies changes in order and invalidates the affected cache lines.
func (s *Store) Change(uri string, version int32, changes []Change) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.change(uri, version, changes)
}

func (s *Store) change(uri string, version int32, changes []Change) error {
	doc, ok := s.docs.Get(uri)
	if !ok {
		// Without the base text only a whole-document change can be applied.
		s.cache.ClearDocument(uri)
		s.revisions[uri]++
		if len(changes) == 0 || changes[len(changes)-1].Range != nil {
			return errors.Wrapf(ErrNotOpen, "change to %s", uri)
		}
		doc = Document{URI: uri}
		changes = changes[len(changes)-1:]
	}

	for _, ch := range changes {
		if ch.Range == nil {
			s.invalidateDiff(uri, doc.Text, ch.Text)
			doc.Text = ch.Text
			continue
		}
		s.invalidateRange(uri, *ch.Range, ch.Text)
		doc.Text = position.ApplyChange(doc.Text, *ch.Range, ch.Text)
	}
	doc.Version = version
	s.docs.Insert(uri, doc)
	s.revisions[uri]++
	return nil
}

// Save replaces the document text when the editor includes it on save.
func (s *Store) Save(uri string, text *string) {
	if text == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, _ := s.docs.Get(uri)
	if err := s.change(uri, doc.Version, []Change{{Text: *text}}); err != nil {
		s.logger.Warnw("failed to apply saved text", "uri", uri, "error", err)
	}
}

// Close forgets the document and everything derived from it.
func (s *Store) Close(uri string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.docs.Remove(uri)
	s.revisions[uri]++
	entries := s.cache.ClearDocument(uri)
	records := s.correlator.ClearDocument(uri)
	s.logger.Debugw("document closed", "uri", uri, "cache_entries", entries, "records", records)
}

// Snapshot returns the document as it is now together with its revision.
// The revision is meaningful for uris that are not open too: it changes
// whenever the uri is opened, edited or closed.
func (s *Store) Snapshot(uri string) (Document, uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs.Get(uri)
	return doc, s.revisions[uri], ok
}

// Commit calls fn if uri is still at revision, holding the store so that no
// edit or close can interleave. It reports whether fn ran.
func (s *Store) Commit(uri string, revision uint64, fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.revisions[uri] != revision {
		return false
	}
	fn()
	return true
}

// invalidateRange drops cache entries made stale by replacing rng with text.
// A single-line edit that adds no lines only affects its own line; anything
// else shifts the lines below it.
func (s *Store) invalidateRange(uri string, rng protocol.Range, text string) {
	start, end := rng.Start.Line, rng.End.Line
	if end < start {
		start, end = end, start
	}
	if start == end && !strings.Contains(text, "\n") {
		s.cache.Invalidate(uri, start)
		return
	}
	s.cache.InvalidateFrom(uri, start)
}

// invalidateDiff compares two versions of a document line by line.
func (s *Store) invalidateDiff(uri, before, after string) {
	oldLines := strings.Split(before, "\n")
	newLines := strings.Split(after, "\n")

	if len(oldLines) != len(newLines) {
		first := 0
		for first < len(oldLines) && first < len(newLines) && oldLines[first] == newLines[first] {
			first++
		}
		s.cache.InvalidateFrom(uri, uint32(first))
		return
	}
	for i := range oldLines {
		if oldLines[i] != newLines[i] {
			s.cache.Invalidate(uri, uint32(i))
		}
	}
}
