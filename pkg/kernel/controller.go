/*
 * Copyright 2025 SREDiag Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package kernel

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/srediag/kernel-bridge/api"
)

// ExecuteHandler runs the cells the host asked this controller to execute.
type ExecuteHandler func(ctx context.Context, cells []api.NotebookCell, doc api.NotebookDocument, ctrl *Controller) error

// InterruptHandler asks the kernel to interrupt whatever is running in doc.
type InterruptHandler func(ctx context.Context, doc api.NotebookDocument) error

// Controller is the per-kernel capability object handed to extension code.
// Its getters read from the owned metadata snapshot; each setter schedules
// a coalesced push of that snapshot to the remote side.
type Controller struct {
	reg    *Registry
	record *kernelRecord
	handle int32
	id     string

	mu               sync.Mutex
	data             *api.KernelData
	token            uint64
	registered       bool
	disposed         bool
	associated       map[string]struct{}
	executeHandler   ExecuteHandler
	interruptHandler InterruptHandler
}

func newController(r *Registry, handle int32, rec *kernelRecord, id string, data *api.KernelData, handler ExecuteHandler) *Controller {
	return &Controller{
		reg:            r,
		record:         rec,
		handle:         handle,
		id:             id,
		data:           data,
		associated:     make(map[string]struct{}),
		executeHandler: handler,
	}
}

// Handle is the opaque process-local identifier of this controller.
func (c *Controller) Handle() int32 { return c.handle }

// ID is the controller id as registered by the extension (not
// extension-qualified).
func (c *Controller) ID() string { return c.id }

// NotebookType is the view type this controller serves.
func (c *Controller) NotebookType() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data.NotebookType
}

// Preloads returns a copy of the preload scripts fixed at creation time.
func (c *Controller) Preloads() []api.PreloadScript {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]api.PreloadScript(nil), c.data.Preloads...)
}

func (c *Controller) Label() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data.Label
}

func (c *Controller) SetLabel(label string) {
	c.mutate(func(d *api.KernelData) { d.Label = label })
}

func (c *Controller) Detail() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data.Detail
}

func (c *Controller) SetDetail(detail string) {
	c.mutate(func(d *api.KernelData) { d.Detail = detail })
}

func (c *Controller) Description() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data.Description
}

func (c *Controller) SetDescription(description string) {
	c.mutate(func(d *api.KernelData) { d.Description = description })
}

func (c *Controller) SupportedLanguages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.data.SupportedLanguages...)
}

func (c *Controller) SetSupportedLanguages(languages []string) {
	languages = append([]string(nil), languages...)
	c.mutate(func(d *api.KernelData) { d.SupportedLanguages = languages })
}

func (c *Controller) SupportsExecutionOrder() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data.SupportsExecutionOrder
}

func (c *Controller) SetSupportsExecutionOrder(v bool) {
	c.mutate(func(d *api.KernelData) { d.SupportsExecutionOrder = v })
}

// ExecuteHandler returns the currently held execute handler.
func (c *Controller) ExecuteHandler() ExecuteHandler {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.executeHandler
}

// SetExecuteHandler swaps the execute handler. Plain reference, never
// coalesced: the remote side does not care which function runs.
func (c *Controller) SetExecuteHandler(handler ExecuteHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.executeHandler = handler
}

// InterruptHandler returns the currently held interrupt handler.
func (c *Controller) InterruptHandler() InterruptHandler {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interruptHandler
}

// SetInterruptHandler swaps the interrupt handler and pushes the interrupt
// capability flag, which the remote side does care about.
func (c *Controller) SetInterruptHandler(handler InterruptHandler) {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.interruptHandler = handler
	c.mu.Unlock()
	c.mutate(func(d *api.KernelData) { d.SupportsInterrupt = handler != nil })
}

// OnDidChangeSelectedNotebooks subscribes to association changes and
// returns a dispose func.
func (c *Controller) OnDidChangeSelectedNotebooks(fn func(api.SelectionEvent)) func() {
	return c.record.selection.On(fn)
}

// OnDidReceiveMessage subscribes to inbound renderer messages and returns
// a dispose func.
func (c *Controller) OnDidReceiveMessage(fn func(api.MessageEvent)) func() {
	return c.record.messages.On(fn)
}

// PostMessage forwards a message to the rendering surface of editor, or
// broadcasts when editor is nil. The bool reports delivery.
func (c *Controller) PostMessage(message any, editor api.NotebookEditor) (bool, error) {
	if c.isDisposed() {
		return false, nil
	}
	editorID := ""
	if editor != nil {
		id, ok := c.reg.resolver.IDForEditor(editor)
		if !ok {
			return false, fmt.Errorf("%w: editor is not known to the host", ErrUnknownEditor)
		}
		editorID = id
	}
	return c.reg.proxy.PostMessage(c.handle, editorID, message)
}

// AsWebviewURI rewrites a local resource URI into one resolvable inside a
// sandboxed rendering surface, scoped by this controller's handle.
func (c *Controller) AsWebviewURI(u *url.URL) *url.URL {
	return c.reg.rewriter.Rewrite(c.handle, u)
}

// UpdateNotebookAffinity forwards a priority hint for a notebook. No local
// state changes.
func (c *Controller) UpdateNotebookAffinity(notebookURI string, priority *int) {
	if c.isDisposed() {
		return
	}
	c.reg.proxy.UpdateNotebookPriority(c.handle, notebookURI, priority)
}

// CreateCellExecution creates an execution task for cell via the external
// execution-task collaborator. Each precondition fails independently with
// its own error.
func (c *Controller) CreateCellExecution(cell api.NotebookCell) (api.CellExecution, error) {
	if cell == nil {
		return nil, fmt.Errorf("%w: nil cell", ErrInvalidCell)
	}
	if cell.Index() < 0 {
		return nil, fmt.Errorf("%w: cell %d of %s", ErrCellRemoved, cell.Handle(), cell.NotebookURI())
	}
	c.mu.Lock()
	disposed := c.disposed
	_, assoc := c.associated[cell.NotebookURI()]
	c.mu.Unlock()
	if disposed {
		return nil, fmt.Errorf("%w: handle %d", ErrControllerDisposed, c.handle)
	}
	if !assoc {
		return nil, fmt.Errorf("%w: %s", ErrNotAssociated, cell.NotebookURI())
	}
	doc, ok := c.reg.resolver.NotebookDocument(cell.NotebookURI())
	if !ok {
		return nil, fmt.Errorf("%w: notebook %s not found", ErrInvalidCell, cell.NotebookURI())
	}
	if _, ok := doc.CellByHandle(cell.Handle()); !ok {
		return nil, fmt.Errorf("%w: cell %d not in %s", ErrInvalidCell, cell.Handle(), cell.NotebookURI())
	}
	return c.reg.tasks.CreateCellExecution(cell)
}

// Dispose removes the controller from dispatch, closes its emitters and
// notifies the remote side. Idempotent.
func (c *Controller) Dispose() {
	c.dispose(true)
}

// dispose with notify=false disables the controller without a remote
// deregistration notice; used when the remote never accepted it.
func (c *Controller) dispose(notify bool) {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.disposed = true
	// advancing the token turns any pending coalesced flush into a no-op
	c.token++
	c.mu.Unlock()

	remove := func() {
		c.reg.kernels.Remove(c.handle)
		c.record.selection.Close()
		c.record.messages.Close()
	}
	// deregister synchronously so no further dispatch can reach the handle
	if err := c.reg.loop.Do(remove); err != nil {
		remove()
	}
	kernelsLive.Dec()
	if notify {
		c.reg.proxy.RemoveKernel(c.handle)
	}
	c.reg.log.Debugf("controller handle %d disposed", c.handle)
}

func (c *Controller) isDisposed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disposed
}

// setAssociation updates the associated-notebook set. Runs on the loop.
func (c *Controller) setAssociation(notebookURI string, associated bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if associated {
		c.associated[notebookURI] = struct{}{}
	} else {
		delete(c.associated, notebookURI)
	}
}

// mutate applies a metadata change and schedules a coalesced push: the
// flush continuation runs on a later turn and no-ops when its token is
// stale, so a burst of setters within one turn yields exactly one update.
func (c *Controller) mutate(fn func(d *api.KernelData)) {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	fn(c.data)
	c.token++
	tok := c.token
	c.mu.Unlock()
	updatesScheduled.Inc()
	_ = c.reg.loop.Post(func() { c.flush(tok) })
}

func (c *Controller) flush(tok uint64) {
	c.mu.Lock()
	if c.disposed || !c.registered || tok != c.token {
		c.mu.Unlock()
		return
	}
	data := c.cloneLocked()
	c.mu.Unlock()
	c.reg.proxy.UpdateKernel(c.handle, data)
	updatesPushed.Inc()
}

// markRegistered is called once AddKernel succeeded. Mutations made while
// registration was in flight are pushed now.
func (c *Controller) markRegistered() {
	c.mu.Lock()
	c.registered = true
	tok := c.token
	dirty := tok != 0 && !c.disposed
	c.mu.Unlock()
	if dirty {
		_ = c.reg.loop.Post(func() { c.flush(tok) })
	}
}

// snapshot returns a copy of the DTO safe to hand across the proxy.
func (c *Controller) snapshot() *api.KernelData {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cloneLocked()
}

func (c *Controller) cloneLocked() *api.KernelData {
	clone := *c.data
	clone.SupportedLanguages = append([]string(nil), c.data.SupportedLanguages...)
	clone.Preloads = append([]api.PreloadScript(nil), c.data.Preloads...)
	return &clone
}
