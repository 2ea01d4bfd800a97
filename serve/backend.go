// Package serve exposes the completion engine to editors as a language server.
package serve

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	"go.uber.org/zap"

	"github.com/Paranoid-AF/ghostlet"
	"github.com/Paranoid-AF/ghostlet/cache"
	"github.com/Paranoid-AF/ghostlet/docs"
	"github.com/Paranoid-AF/ghostlet/errors"
	"github.com/Paranoid-AF/ghostlet/generate"
	"github.com/Paranoid-AF/ghostlet/telemetry"
)

// Name is reported to the editor in the initialize result.
const Name = "ghostlet"

// Options configures a Backend.
type Options struct {
	// Completer produces suggestions on a cache miss. Nil leaves completion
	// unconfigured.
	Completer generate.Completer
	// Sink receives accept/reject events. Nil discards them.
	Sink telemetry.Sink
	// RecordTTL bounds how long unanswered suggestions are remembered.
	// Zero keeps them until accepted, rejected or their document closes.
	RecordTTL time.Duration
	Version   string
	Logger    *zap.SugaredLogger
}

// Backend owns all per-server state and answers LSP messages. Standard
// protocol methods go through a protocol.Handler; the custom completion
// methods are routed ahead of it.
type Backend struct {
	handler    protocol.Handler
	engine     *generate.Engine
	cache      *cache.Cache
	correlator *telemetry.Correlator
	docs       *docs.Store
	folders    *docs.Folders
	editor     ghostlet.EditorInfoStore
	version    string
	logger     *zap.SugaredLogger

	ctx    context.Context
	cancel context.CancelFunc
}

// NewBackend wires a backend from opts.
func NewBackend(opts Options) *Backend {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	c := cache.New()
	correlator := telemetry.NewCorrelator(opts.Sink, opts.RecordTTL, logger)
	store := docs.NewStore(c, correlator, logger)
	ctx, cancel := context.WithCancel(context.Background())

	b := &Backend{
		engine:     generate.NewEngine(opts.Completer, store, c, correlator, logger),
		cache:      c,
		correlator: correlator,
		docs:       store,
		folders:    docs.NewFolders(),
		version:    opts.Version,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
	}
	b.handler = protocol.Handler{
		Initialize:                         b.initialize,
		Initialized:                        b.initialized,
		Shutdown:                           b.shutdown,
		Exit:                               b.exit,
		SetTrace:                           b.setTrace,
		TextDocumentDidOpen:                b.didOpen,
		TextDocumentDidChange:              b.didChange,
		TextDocumentDidSave:                b.didSave,
		TextDocumentDidClose:               b.didClose,
		WorkspaceDidChangeWorkspaceFolders: b.didChangeWorkspaceFolders,
		WorkspaceDidChangeConfiguration:    b.didChangeConfiguration,
	}
	return b
}

// Close releases every store. In-flight completions still finish.
func (b *Backend) Close() {
	b.cancel()
	if n := b.correlator.Len(); n > 0 {
		b.logger.Debugw("discarding unanswered suggestions", "records", n)
	}
	b.docs.Release()
	b.folders.Close()
	b.correlator.Close()
	b.cache.Close()
}

// EditorInfo returns the last editor info sent by the client.
func (b *Backend) EditorInfo() ghostlet.EditorInfo {
	return b.editor.Get()
}

// WorkspaceFolders returns the folders the editor has announced.
func (b *Backend) WorkspaceFolders() []protocol.WorkspaceFolder {
	return b.folders.List()
}

// Handle implements glsp.Handler.
func (b *Backend) Handle(ctx *glsp.Context) (r any, validMethod bool, validParams bool, err error) {
	defer func() {
		if p := recover(); p != nil {
			b.logger.Errorw("panic in handler", "method", ctx.Method, "panic", p)
			r, validMethod, validParams = nil, true, true
			err = errors.Newf("internal error handling %s", ctx.Method)
		}
	}()

	switch ctx.Method {
	case ghostlet.MethodGetCompletions, ghostlet.MethodNotifyAccepted,
		ghostlet.MethodNotifyRejected, ghostlet.MethodSetEditorInfo:
		if !b.handler.IsInitialized() {
			return nil, true, true, errors.New("server not initialized")
		}
	default:
		return b.handler.Handle(ctx)
	}

	validMethod = true
	switch ctx.Method {
	case ghostlet.MethodGetCompletions:
		var params ghostlet.CompletionParams
		if err = json.Unmarshal(ctx.Params, &params); err == nil {
			validParams = true
			r, err = b.getCompletions(params)
		}

	case ghostlet.MethodNotifyAccepted:
		var params ghostlet.AcceptParams
		if err = json.Unmarshal(ctx.Params, &params); err == nil {
			validParams = true
			b.notifyAccepted(ctx, params)
		}

	case ghostlet.MethodNotifyRejected:
		var params ghostlet.RejectParams
		if err = json.Unmarshal(ctx.Params, &params); err == nil {
			validParams = true
			b.notifyRejected(ctx, params)
		}

	case ghostlet.MethodSetEditorInfo:
		var params ghostlet.EditorInfo
		if err = json.Unmarshal(ctx.Params, &params); err == nil {
			validParams = true
			r, err = b.setEditorInfo(ctx, params)
		}
	}
	return r, validMethod, validParams, err
}

func (b *Backend) getCompletions(params ghostlet.CompletionParams) (any, error) {
	b.logger.Debugw("getCompletions",
		"uri", params.Doc.URI,
		"line", params.Doc.Position.Line,
		"character", params.Doc.Position.Character,
	)
	if b.folders.Len() > 0 && !b.folders.Contains(params.Doc.URI) {
		b.logger.Debugw("completion requested outside workspace folders", "uri", params.Doc.URI)
	}

	resp, err := b.engine.Complete(b.ctx, params)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (b *Backend) notifyAccepted(ctx *glsp.Context, params ghostlet.AcceptParams) {
	b.logMessage(ctx, fmt.Sprintf("Accepted completion: %s", params.UUID))

	rec, ok := b.correlator.Accept(params.UUID)
	if !ok {
		b.logger.Debugw("accepted unknown completion", "uuid", params.UUID)
		return
	}
	b.logger.Infow("completion accepted",
		"uuid", params.UUID,
		"uri", rec.Params.Doc.URI,
		"line", rec.Suggestion.Position.Line,
	)
}

func (b *Backend) notifyRejected(ctx *glsp.Context, params ghostlet.RejectParams) {
	b.logMessage(ctx, fmt.Sprintf("Rejected completions: %v", params.UUIDs))

	recs := b.correlator.Reject(params.UUIDs)
	b.logger.Infow("completions rejected", "requested", len(params.UUIDs), "matched", len(recs))
}

func (b *Backend) setEditorInfo(ctx *glsp.Context, info ghostlet.EditorInfo) (any, error) {
	b.logMessage(ctx, "setEditorInfo")

	if err := b.editor.Set(info); err != nil {
		return nil, err
	}
	b.logger.Infow("editor info updated",
		"editor", info.EditorInfo.Name,
		"editor_version", info.EditorInfo.Version,
		"plugin", info.EditorPluginInfo.Name,
	)
	return ghostlet.Success{Success: true}, nil
}

// logMessage mirrors an informational message to the editor's log.
func (b *Backend) logMessage(ctx *glsp.Context, message string) {
	if ctx.Notify == nil {
		return
	}
	ctx.Notify(protocol.ServerWindowLogMessage, &protocol.LogMessageParams{
		Type:    protocol.MessageTypeInfo,
		Message: message,
	})
}
