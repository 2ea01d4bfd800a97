// Package ghostlet defines the editor-facing request/response types for the
// ghost-text completion server. Messages travel as JSON-RPC over LSP.
package ghostlet

import (
	"sync"

	"github.com/google/uuid"
	protocol "github.com/tliron/glsp/protocol_3_16"

	"github.com/Paranoid-AF/ghostlet/errors"
)

// Custom LSP methods served alongside the standard protocol.
const (
	MethodGetCompletions = "getCompletions"
	MethodNotifyAccepted = "notifyAccepted"
	MethodNotifyRejected = "notifyRejected"
	MethodSetEditorInfo  = "setEditorInfo"
)

var (
	// ErrGeneration marks failures of the external completion provider.
	ErrGeneration = errors.New("completion generation failed")
	// ErrNotConfigured is returned when no generation API key is set.
	ErrNotConfigured = errors.New("generation API not configured")
	// ErrEditorInfoBusy is returned when editor info is being written concurrently.
	ErrEditorInfoBusy = errors.New("editor info is locked")
)

// CompletionParams is the payload of a getCompletions request.
type CompletionParams struct {
	Doc DocumentParams `json:"doc"`
}

// DocumentParams describes the document and cursor a completion is requested for.
type DocumentParams struct {
	// Source is the editor's copy of the document text. It is only used when
	// the document has not been opened with textDocument/didOpen.
	Source       string            `json:"source"`
	TabSize      uint32            `json:"tabSize"`
	IndentSize   uint32            `json:"indentSize"`
	InsertSpaces bool              `json:"insertSpaces"`
	Path         string            `json:"path"`
	URI          string            `json:"uri"`
	RelativePath string            `json:"relativePath"`
	LanguageID   string            `json:"languageId"`
	Position     protocol.Position `json:"position"`
}

// Suggestion is a single ghost-text candidate.
type Suggestion struct {
	// UUID identifies this suggestion for accept/reject feedback. It is minted
	// once and reused verbatim whenever the response is served from cache.
	UUID uuid.UUID `json:"uuid"`
	// Range runs from the start of the cursor line to the cursor; Text
	// replaces it, leaving anything after the cursor in place.
	Range protocol.Range `json:"range"`
	// Text is the full replacement for Range: the line up to the cursor
	// followed by the suggestion.
	Text string `json:"text"`
	// DisplayText is the suggestion as produced by the model.
	DisplayText string            `json:"displayText"`
	Position    protocol.Position `json:"position"`
}

// CompletionResponse is returned from getCompletions.
type CompletionResponse struct {
	Completions        []Suggestion `json:"completions"`
	CancellationReason string       `json:"cancellationReason,omitempty"`
}

// NewSuggestion builds a suggestion with a fresh identity.
func NewSuggestion(raw, lineBefore string, pos protocol.Position) Suggestion {
	return Suggestion{
		UUID: uuid.New(),
		Range: protocol.Range{
			Start: protocol.Position{Line: pos.Line, Character: 0},
			End:   pos,
		},
		Text:        lineBefore + raw,
		DisplayText: raw,
		Position:    pos,
	}
}

// NewCompletionResponse builds a response from raw model output, one
// suggestion per string, in order.
func NewCompletionResponse(raw []string, lineBefore string, pos protocol.Position) CompletionResponse {
	resp := CompletionResponse{Completions: make([]Suggestion, 0, len(raw))}
	for _, r := range raw {
		resp.Completions = append(resp.Completions, NewSuggestion(r, lineBefore, pos))
	}
	return resp
}

// Clone returns a copy that shares no memory with r.
func (r CompletionResponse) Clone() CompletionResponse {
	out := r
	if r.Completions != nil {
		out.Completions = append([]Suggestion(nil), r.Completions...)
	}
	return out
}

// AcceptParams is the payload of notifyAccepted.
type AcceptParams struct {
	UUID uuid.UUID `json:"uuid"`
}

// RejectParams is the payload of notifyRejected.
type RejectParams struct {
	UUIDs []uuid.UUID `json:"uuids"`
}

// Success is the result of setEditorInfo.
type Success struct {
	Success bool `json:"success"`
}

// EditorInfo describes the editor and plugin talking to the server.
type EditorInfo struct {
	EditorInfo          EditorDetail        `json:"editorInfo"`
	EditorPluginInfo    EditorDetail        `json:"editorPluginInfo"`
	EditorConfiguration EditorConfiguration `json:"editorConfiguration"`
}

// EditorDetail is a name/version pair.
type EditorDetail struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// EditorConfiguration carries editor-side completion preferences.
type EditorConfiguration struct {
	DisabledLanguages     []string `json:"disabledLanguages"`
	EnableAutoCompletions bool     `json:"enableAutoCompletions"`
}

// EditorInfoStore holds the process-wide EditorInfo.
type EditorInfoStore struct {
	mu   sync.RWMutex
	info EditorInfo
}

// Get returns a copy of the current editor info.
func (s *EditorInfoStore) Get() EditorInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info := s.info
	info.EditorConfiguration.DisabledLanguages = append([]string(nil), s.info.EditorConfiguration.DisabledLanguages...)
	return info
}

// Set replaces the editor info. It does not wait for the lock: if another
// reader or writer holds it, ErrEditorInfoBusy is returned and the caller may
// retry.
func (s *EditorInfoStore) Set(info EditorInfo) error {
	if !s.mu.TryLock() {
		return ErrEditorInfoBusy
	}
	defer s.mu.Unlock()
	s.info = info
	return nil
}
