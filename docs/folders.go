package docs

import (
	"strings"

	protocol "github.com/tliron/glsp/protocol_3_16"

	"github.com/Paranoid-AF/ghostlet/safemap"
)

// Folders tracks the workspace folders announced by the editor.
type Folders struct {
	m *safemap.Map[string, protocol.WorkspaceFolder]
}

// NewFolders creates an empty folder set.
func NewFolders() *Folders {
	return &Folders{m: safemap.New[string, protocol.WorkspaceFolder]()}
}

// Close releases the underlying map.
func (f *Folders) Close() {
	f.m.Close()
}

// Update applies an added/removed delta.
func (f *Folders) Update(added, removed []protocol.WorkspaceFolder) {
	for _, folder := range removed {
		f.m.Remove(folder.URI)
	}
	for _, folder := range added {
		f.m.Insert(folder.URI, folder)
	}
}

// List returns the folders ordered by uri.
func (f *Folders) List() []protocol.WorkspaceFolder {
	snap := f.m.Snapshot(strings.Compare)
	out := make([]protocol.WorkspaceFolder, len(snap))
	for i, e := range snap {
		out[i] = e.Value
	}
	return out
}

// Len reports the number of folders.
func (f *Folders) Len() int {
	return f.m.Len()
}

// Contains reports whether uri lies inside one of the folders.
func (f *Folders) Contains(uri string) bool {
	for _, e := range f.m.Snapshot(nil) {
		root := strings.TrimSuffix(e.Key, "/")
		if uri == root || strings.HasPrefix(uri, root+"/") {
			return true
		}
	}
	return false
}
