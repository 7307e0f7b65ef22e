// Package api defines public API contracts for kernel-bridge.
package api

import "context"

// ExtensionIdentity identifies the extension that owns a kernel controller.
type ExtensionIdentity struct {
	// ID is the canonical extension identifier, e.g. "publisher.name".
	ID string
	// DisplayName is the human readable extension name, used as the
	// fallback controller label.
	DisplayName string
	// Location is the base URI of the extension installation.
	Location string
}

// PreloadScript describes a renderer resource loaded before kernel output
// is rendered.
type PreloadScript struct {
	URI      string   `json:"uri"`
	Provides []string `json:"provides,omitempty"`
}

// KernelData is the serializable projection of a controller pushed to the
// remote side. It is the single source of truth the controller getters
// read from.
type KernelData struct {
	// ID is extension-qualified: "<extensionID>/<controllerID>".
	ID                     string          `json:"id"`
	NotebookType           string          `json:"notebookType"`
	ExtensionID            string          `json:"extensionId"`
	ExtensionLocation      string          `json:"extensionLocation"`
	Label                  string          `json:"label"`
	Detail                 string          `json:"detail,omitempty"`
	Description            string          `json:"description,omitempty"`
	SupportedLanguages     []string        `json:"supportedLanguages,omitempty"`
	SupportsExecutionOrder bool            `json:"supportsExecutionOrder,omitempty"`
	SupportsInterrupt      bool            `json:"supportsInterrupt,omitempty"`
	Preloads               []PreloadScript `json:"preloads,omitempty"`
}

// KernelProxy is the outbound half of the bridge: calls issued by the
// registry that must reach the remote (host) side.
type KernelProxy interface {
	// AddKernel registers a controller remotely. An error that wraps a
	// remote rejection disables the local controller; other errors are
	// treated as transient and retried by the caller.
	AddKernel(ctx context.Context, handle int32, data *KernelData) error
	// UpdateKernel pushes a coalesced metadata snapshot.
	UpdateKernel(handle int32, data *KernelData)
	// RemoveKernel deregisters a controller on dispose.
	RemoveKernel(handle int32)
	// PostMessage forwards a message to a specific rendering surface, or
	// broadcasts when editorID is empty. The bool reports delivery.
	PostMessage(handle int32, editorID string, message any) (bool, error)
	// UpdateNotebookPriority forwards an affinity hint. A nil priority
	// clears the hint.
	UpdateNotebookPriority(handle int32, notebookURI string, priority *int)
}

// SelectionEvent notifies that a notebook became associated with, or
// dissociated from, a controller.
type SelectionEvent struct {
	Selected    bool
	NotebookURI string
}

// MessageEvent carries an inbound message from a rendering surface.
type MessageEvent struct {
	Editor  NotebookEditor
	Message any
}
