// Package api defines public API contracts for kernel-bridge.
package api

import "net/url"

// NotebookCell is a single executable unit of a notebook document.
type NotebookCell interface {
	// Handle is the process-local cell identifier.
	Handle() int32
	// Index is the cell position within its notebook; negative once the
	// cell has been removed from the document.
	Index() int
	// NotebookURI identifies the owning notebook document.
	NotebookURI() string
}

// NotebookDocument is the cell-lookup surface of a notebook owned by the
// document model.
type NotebookDocument interface {
	URI() string
	CellByHandle(handle int32) (NotebookCell, bool)
}

// NotebookEditor is a rendering surface bound to a notebook document.
type NotebookEditor interface {
	NotebookURI() string
}

// NotebookResolver resolves documents and editors by identity. It is owned
// by the notebook-controller component; the registry treats it as opaque.
type NotebookResolver interface {
	NotebookDocument(uri string) (NotebookDocument, bool)
	EditorByID(id string) (NotebookEditor, bool)
	IDForEditor(editor NotebookEditor) (string, bool)
}

// CellExecution is a live execution task created for one cell.
type CellExecution interface {
	Cell() NotebookCell
}

// ExecutionTasks creates and cancels per-cell execution tasks. It is the
// external execution-task collaborator.
type ExecutionTasks interface {
	CreateCellExecution(cell NotebookCell) (CellExecution, error)
	CancelCellExecution(cell NotebookCell)
}

// WebviewRewriter rewrites a local resource URI into one resolvable inside
// a sandboxed rendering surface, scoped by the controller handle.
type WebviewRewriter interface {
	Rewrite(handle int32, u *url.URL) *url.URL
}
