package serve

import (
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"

	"github.com/Paranoid-AF/ghostlet/docs"
)

func (b *Backend) initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	client := ""
	if params.ClientInfo != nil {
		client = params.ClientInfo.Name
	}
	b.logger.Infow("client initializing", "client", client)

	b.folders.Update(params.WorkspaceFolders, nil)

	syncKind := protocol.TextDocumentSyncKindFull
	capabilities := protocol.ServerCapabilities{
		TextDocumentSync: &protocol.TextDocumentSyncOptions{
			OpenClose: boolPtr(true),
			Change:    &syncKind,
		},
		Workspace: &protocol.ServerCapabilitiesWorkspace{
			WorkspaceFolders: &protocol.WorkspaceFoldersServerCapabilities{
				Supported:           boolPtr(true),
				ChangeNotifications: &protocol.BoolOrString{Value: true},
			},
		},
	}

	info := &protocol.InitializeResultServerInfo{Name: Name}
	if b.version != "" {
		info.Version = &b.version
	}
	return protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo:   info,
	}, nil
}

func (b *Backend) initialized(ctx *glsp.Context, params *protocol.InitializedParams) error {
	b.logger.Infow("client initialized")
	b.logMessage(ctx, "initialized!")
	return nil
}

func (b *Backend) shutdown(ctx *glsp.Context) error {
	b.logger.Infow("client shutting down")
	return nil
}

func (b *Backend) exit(ctx *glsp.Context) error {
	b.logger.Infow("client exited")
	return nil
}

func (b *Backend) setTrace(ctx *glsp.Context, params *protocol.SetTraceParams) error {
	protocol.SetTraceValue(params.Value)
	return nil
}

func (b *Backend) didOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	doc := params.TextDocument
	b.docs.Open(doc.URI, doc.LanguageID, doc.Version, doc.Text)
	b.logger.Debugw("document opened", "uri", doc.URI, "language", doc.LanguageID, "length", len(doc.Text))
	return nil
}

func (b *Backend) didChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	uri := params.TextDocument.URI
	changes := make([]docs.Change, 0, len(params.ContentChanges))
	for _, change := range params.ContentChanges {
		switch c := change.(type) {
		case protocol.TextDocumentContentChangeEvent:
			changes = append(changes, docs.Change{Range: c.Range, Text: c.Text})
		case protocol.TextDocumentContentChangeEventWhole:
			changes = append(changes, docs.Change{Text: c.Text})
		}
	}

	if err := b.docs.Change(uri, params.TextDocument.Version, changes); err != nil {
		b.logger.Warnw("failed to apply change", "uri", uri, "error", err)
		return nil
	}
	b.logger.Debugw("document changed", "uri", uri, "changes", len(changes))
	return nil
}

func (b *Backend) didSave(ctx *glsp.Context, params *protocol.DidSaveTextDocumentParams) error {
	b.docs.Save(params.TextDocument.URI, params.Text)
	return nil
}

func (b *Backend) didClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	b.docs.Close(params.TextDocument.URI)
	return nil
}

func (b *Backend) didChangeWorkspaceFolders(ctx *glsp.Context, params *protocol.DidChangeWorkspaceFoldersParams) error {
	b.folders.Update(params.Event.Added, params.Event.Removed)
	b.logger.Debugw("workspace folders changed",
		"added", len(params.Event.Added),
		"removed", len(params.Event.Removed),
		"total", len(b.folders.List()),
	)
	return nil
}

func (b *Backend) didChangeConfiguration(ctx *glsp.Context, params *protocol.DidChangeConfigurationParams) error {
	// Settings can change what the model would produce for a line.
	n := b.cache.Len()
	b.cache.Clear()
	b.logger.Debugw("configuration changed", "settings", params.Settings, "dropped_completions", n)
	return nil
}

func boolPtr(v bool) *bool {
	return &v
}
