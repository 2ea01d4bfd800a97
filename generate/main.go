// Package generate turns cursor positions into cached, identified ghost-text
// suggestions by calling a language model.
package generate

import (
	"context"
	"os"

	"go.uber.org/zap"

	"github.com/Paranoid-AF/ghostlet"
	"github.com/Paranoid-AF/ghostlet/cache"
	"github.com/Paranoid-AF/ghostlet/docs"
	"github.com/Paranoid-AF/ghostlet/errors"
	"github.com/Paranoid-AF/ghostlet/position"
	"github.com/Paranoid-AF/ghostlet/telemetry"
)

// Documents provides the synchronized text of open documents. *docs.Store
// implements it.
type Documents interface {
	// Snapshot returns the document, its revision and whether it is open.
	Snapshot(uri string) (docs.Document, uint64, bool)
	// Commit runs fn only if uri is still at revision.
	Commit(uri string, revision uint64, fn func()) bool
}

// Engine serves completion requests from the cache, falling back to the
// completer on a miss.
type Engine struct {
	completer  Completer
	docs       Documents
	cache      *cache.Cache
	correlator *telemetry.Correlator
	logger     *zap.SugaredLogger
}

// NewEngine creates a completion engine. A nil completer makes every cache
// miss fail with ghostlet.ErrNotConfigured.
func NewEngine(completer Completer, documents Documents, c *cache.Cache, correlator *telemetry.Correlator, logger *zap.SugaredLogger) *Engine {
	return &Engine{
		completer:  completer,
		docs:       documents,
		cache:      c,
		correlator: correlator,
		logger:     logger,
	}
}

// NewCompleter builds the configured completer, or returns nil when no
// generation API key is available.
func NewCompleter(cfg *ghostlet.Config, logger *zap.SugaredLogger) Completer {
	if ghostlet.ResolveGenerationAPIKey(cfg) == "" {
		logger.Warnw("generation API key not configured")
		return nil
	}

	customPrompt := loadCustomPrompt(logger)
	if customPrompt == "" {
		logger.Debugw("no custom prompt, using built-in default")
	}
	return NewGenerator(cfg, customPrompt, logger)
}

// loadCustomPrompt loads a custom prompt template.
// Returns empty string if no custom prompt exists.
func loadCustomPrompt(logger *zap.SugaredLogger) string {
	promptPath := ghostlet.PromptPath()
	data, err := os.ReadFile(promptPath)
	if err != nil {
		return ""
	}
	logger.Infow("loaded custom prompt", "path", promptPath)
	return string(data)
}

// Complete returns suggestions for the cursor in params.
//
// A cached response for the cursor line is returned unchanged, so repeated
// requests see the same suggestion identities. On a miss the completer is
// called without holding any lock. The call is detached from ctx so that an
// abandoned request still populates the cache. A result is only cached and
// registered if the document was not edited, opened or closed while it was
// being generated; the caller gets it either way.
func (e *Engine) Complete(ctx context.Context, params ghostlet.CompletionParams) (ghostlet.CompletionResponse, error) {
	doc, revision := e.resolve(params)

	if resp, ok := e.cache.Get(doc.URI, doc.Position.Line); ok {
		e.logger.Debugw("cache hit", "uri", doc.URI, "line", doc.Position.Line)
		return resp, nil
	}

	if e.completer == nil {
		return ghostlet.CompletionResponse{}, errors.WithHint(ghostlet.ErrNotConfigured,
			"set GHOSTLET_GENERATION_API_KEY or generation.api_key in config.toml")
	}

	raw, err := e.completer.Complete(context.WithoutCancel(ctx), Request{
		Language: doc.Language,
		Prefix:   doc.Prefix,
		Suffix:   doc.Suffix,
		N:        1,
	})
	if err != nil {
		e.logger.Errorw("generation error", "uri", doc.URI, "error", err)
		return ghostlet.CompletionResponse{}, errors.Mark(errors.Wrap(err, "failed to get completions"), ghostlet.ErrGeneration)
	}

	resp := ghostlet.NewCompletionResponse(raw, doc.LineBefore, doc.Position)
	committed := e.commit(doc.URI, revision, func() {
		e.correlator.Register(resp.Completions, params)
		e.cache.Set(doc.URI, doc.Position.Line, resp)
	})

	e.logger.Debugw("generated completions",
		"uri", doc.URI,
		"line", doc.Position.Line,
		"count", len(resp.Completions),
		"cached", committed,
		"abandoned", ctx.Err() != nil,
	)
	return resp, nil
}

func (e *Engine) commit(uri string, revision uint64, fn func()) bool {
	if e.docs == nil {
		fn()
		return true
	}
	return e.docs.Commit(uri, revision, fn)
}

// resolve slices the document around the cursor. Open documents supply their
// synchronized text and, when the request omits it, their language; otherwise
// the editor-supplied source is used.
func (e *Engine) resolve(params ghostlet.CompletionParams) (position.DocParams, uint64) {
	text, language := params.Doc.Source, params.Doc.LanguageID
	var revision uint64
	if e.docs != nil {
		d, rev, ok := e.docs.Snapshot(params.Doc.URI)
		revision = rev
		if ok {
			text = d.Text
			if language == "" {
				language = d.LanguageID
			}
		}
	}
	return position.Resolve(params.Doc.URI, language, text, params.Doc.Position), revision
}
