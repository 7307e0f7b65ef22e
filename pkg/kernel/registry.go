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

// Package kernel manages the lifecycle and remote proxying of notebook
// kernel controllers: a handle-keyed registry, a coalesced metadata-update
// protocol, and inbound dispatch for execution, cancellation, renderer
// messaging and notebook association.
package kernel

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/panjf2000/ants/v2"

	"github.com/srediag/kernel-bridge/api"
	"github.com/srediag/kernel-bridge/internal/logging"
	"github.com/srediag/kernel-bridge/internal/webview"
	"github.com/srediag/kernel-bridge/pkg/sched"
)

// kernelRecord is the registry's per-controller state, keyed by handle.
type kernelRecord struct {
	extensionID string
	controller  *Controller
	selection   *Emitter[api.SelectionEvent]
	messages    *Emitter[api.MessageEvent]
}

// Registry owns the handle allocator, the handle-to-record map, the turn
// loop that serializes state transitions, and the inbound dispatch entry
// points invoked by the host side.
type Registry struct {
	conf     *Config
	proxy    api.KernelProxy
	resolver api.NotebookResolver
	tasks    api.ExecutionTasks
	rewriter api.WebviewRewriter

	loop *sched.Loop
	pool *ants.Pool
	log  *logging.Logger

	handleSeq atomic.Int32
	kernels   cmap.ConcurrentMap[int32, *kernelRecord]
	closed    atomic.Bool
}

// New creates a Registry. A nil conf means DefaultConfig; a nil rewriter
// installs the default webview resource rewriter.
func New(conf *Config, proxy api.KernelProxy, resolver api.NotebookResolver, tasks api.ExecutionTasks, rewriter api.WebviewRewriter) (*Registry, error) {
	if conf == nil {
		conf = DefaultConfig()
	}
	if err := VerifyConfig(conf); err != nil {
		return nil, err
	}
	if proxy == nil {
		return nil, fmt.Errorf("kernel: proxy must not be nil")
	}
	if resolver == nil {
		return nil, fmt.Errorf("kernel: resolver must not be nil")
	}
	if tasks == nil {
		return nil, fmt.Errorf("kernel: execution tasks must not be nil")
	}
	if rewriter == nil {
		rewriter = webview.NewRewriter(conf.WebviewAuthority)
	}

	pool, err := ants.NewPool(conf.DispatchPoolSize)
	if err != nil {
		return nil, fmt.Errorf("kernel: create dispatch pool: %w", err)
	}

	r := &Registry{
		conf:     conf,
		proxy:    proxy,
		resolver: resolver,
		tasks:    tasks,
		rewriter: rewriter,
		loop:     sched.NewLoopWithHint(conf.TaskQueueHint),
		pool:     pool,
		log:      logging.New("kernel registry", conf.LogOutput),
		kernels: cmap.NewWithCustomShardingFunction[int32, *kernelRecord](func(key int32) uint32 {
			return uint32(key)
		}),
	}
	return r, nil
}

// CreateController registers a new controller and returns its capability
// object. The remote registration happens asynchronously; if the remote
// side rejects it, the controller is silently disabled and every later
// operation on it becomes a no-op.
func (r *Registry) CreateController(ext api.ExtensionIdentity, id, notebookType, label string, handler ExecuteHandler, preloads []api.PreloadScript) (*Controller, error) {
	if r.closed.Load() {
		return nil, ErrRegistryClosed
	}

	if label == "" {
		label = ext.DisplayName
	}
	if label == "" {
		label = ext.ID
	}

	data := &api.KernelData{
		ID:                qualifiedID(ext.ID, id),
		NotebookType:      notebookType,
		ExtensionID:       ext.ID,
		ExtensionLocation: ext.Location,
		Label:             label,
		Preloads:          append([]api.PreloadScript(nil), preloads...),
	}

	var (
		c      *Controller
		dupErr error
	)
	err := r.loop.Do(func() {
		for t := range r.kernels.IterBuffered() {
			if t.Val.extensionID == ext.ID && t.Val.controller.ID() == id {
				dupErr = fmt.Errorf("%w: %s already registered by %s", ErrDuplicateController, id, ext.ID)
				return
			}
		}
		handle := r.handleSeq.Add(1) - 1
		rec := &kernelRecord{
			extensionID: ext.ID,
			selection:   NewEmitter[api.SelectionEvent](),
			messages:    NewEmitter[api.MessageEvent](),
		}
		c = newController(r, handle, rec, id, data, handler)
		rec.controller = c
		r.kernels.Set(handle, rec)
	})
	if err != nil {
		return nil, ErrRegistryClosed
	}
	if dupErr != nil {
		return nil, dupErr
	}

	kernelsLive.Inc()
	if err := r.pool.Submit(func() { r.registerRemote(c) }); err != nil {
		// pool released under us; register inline so the controller is not
		// stuck half-created
		r.registerRemote(c)
	}
	r.log.Debugf("controller %s created, handle %d", data.ID, c.handle)
	return c, nil
}

// registerRemote announces the controller to the remote side, retrying
// transient failures. A rejection (or retry exhaustion) disposes the record
// post-hoc without notifying the remote, since it never accepted the kernel.
func (r *Registry) registerRemote(c *Controller) {
	bo := backoff.WithMaxRetries(newRegisterBackOff(r.conf.RegisterRetryInterval), r.conf.RegisterMaxRetries)
	err := backoff.Retry(func() error {
		err := r.proxy.AddKernel(context.Background(), c.handle, c.snapshot())
		if err != nil && errors.Is(err, ErrRemoteRegistration) {
			return backoff.Permanent(err)
		}
		return err
	}, bo)
	if err != nil {
		registrationFailures.Inc()
		r.log.Warnf("controller handle %d rejected by remote side, disabling: %v", c.handle, err)
		c.dispose(false)
		return
	}
	c.markRegistered()
}

func newRegisterBackOff(initial time.Duration) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initial
	return bo
}

// AcceptNotebookAssociation records that a notebook became associated with
// (or dissociated from) a controller and fires the selection event. A
// missing record is an expected race with disposal, not an error.
func (r *Registry) AcceptNotebookAssociation(handle int32, notebookURI string, associated bool) {
	dispatches.WithLabelValues("association").Inc()
	_ = r.loop.Do(func() {
		rec, ok := r.kernels.Get(handle)
		if !ok {
			return
		}
		rec.controller.setAssociation(notebookURI, associated)
		rec.selection.Fire(api.SelectionEvent{Selected: associated, NotebookURI: notebookURI})
	})
}

// ExecuteCells resolves the notebook and the subset of requested cells that
// still exist, then invokes the controller's execute handler on the
// dispatch pool. Handler errors and panics are caught and logged; they
// never reach the dispatch path.
func (r *Registry) ExecuteCells(ctx context.Context, handle int32, notebookURI string, cellHandles []int32) {
	dispatches.WithLabelValues("execute").Inc()
	rec, ok := r.kernels.Get(handle)
	if !ok {
		return
	}
	doc, ok := r.resolver.NotebookDocument(notebookURI)
	if !ok {
		r.log.Debugf("execute dispatch for unknown notebook %s, handle %d", notebookURI, handle)
		return
	}
	cells := resolveCells(doc, cellHandles)
	c := rec.controller
	r.submit(func() {
		handler := c.ExecuteHandler()
		if handler == nil {
			r.log.Warnf("controller handle %d has no execute handler", handle)
			return
		}
		if err := handler(ctx, cells, doc, c); err != nil {
			handlerFailures.Inc()
			r.log.Errorf("execute handler of handle %d failed: %v", handle, err)
		}
	})
}

// CancelCells invokes the interrupt handler once when registered, and
// independently requests cancellation of every cell handle that still
// resolves to a live cell. Both dispatches fire unconditionally when
// applicable.
func (r *Registry) CancelCells(ctx context.Context, handle int32, notebookURI string, cellHandles []int32) {
	dispatches.WithLabelValues("cancel").Inc()
	rec, ok := r.kernels.Get(handle)
	if !ok {
		return
	}
	doc, ok := r.resolver.NotebookDocument(notebookURI)
	if !ok {
		r.log.Debugf("cancel dispatch for unknown notebook %s, handle %d", notebookURI, handle)
		return
	}
	c := rec.controller
	r.submit(func() {
		if interrupt := c.InterruptHandler(); interrupt != nil {
			if err := interrupt(ctx, doc); err != nil {
				handlerFailures.Inc()
				r.log.Errorf("interrupt handler of handle %d failed: %v", handle, err)
			}
		}
		for _, cell := range resolveCells(doc, cellHandles) {
			r.tasks.CancelCellExecution(cell)
		}
	})
}

// AcceptRendererMessage fires the controller's message event with the
// resolved editor. A missing record is silently ignored; an unresolvable
// editor returns ErrUnknownEditor.
func (r *Registry) AcceptRendererMessage(handle int32, editorID string, message any) error {
	dispatches.WithLabelValues("message").Inc()
	var dispatchErr error
	err := r.loop.Do(func() {
		rec, ok := r.kernels.Get(handle)
		if !ok {
			return
		}
		editor, ok := r.resolver.EditorByID(editorID)
		if !ok {
			dispatchErr = fmt.Errorf("%w: %s", ErrUnknownEditor, editorID)
			return
		}
		rec.messages.Fire(api.MessageEvent{Editor: editor, Message: message})
	})
	if err != nil {
		return err
	}
	return dispatchErr
}

// Count returns the number of live controllers.
func (r *Registry) Count() int {
	return r.kernels.Count()
}

// Ping verifies the turn loop is responsive within timeout.
func (r *Registry) Ping(timeout time.Duration) error {
	done := make(chan struct{})
	if err := r.loop.Post(func() { close(done) }); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("kernel: dispatch loop unresponsive after %v", timeout)
	}
}

// Close disposes every live controller, then stops the loop and releases
// the dispatch pool. Idempotent.
func (r *Registry) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	for _, rec := range r.kernels.Items() {
		rec.controller.Dispose()
	}
	r.loop.Close()
	r.pool.Release()
	return nil
}

// submit runs fn on the dispatch pool, falling back to a plain goroutine
// when the pool is saturated or released. Panics are confined to fn.
func (r *Registry) submit(fn func()) {
	wrapped := func() {
		defer func() {
			if p := recover(); p != nil {
				handlerFailures.Inc()
				r.log.Errorf("extension handler panicked: %v", p)
			}
		}()
		fn()
	}
	if err := r.pool.Submit(wrapped); err != nil {
		go wrapped()
	}
}

func resolveCells(doc api.NotebookDocument, cellHandles []int32) []api.NotebookCell {
	cells := make([]api.NotebookCell, 0, len(cellHandles))
	for _, h := range cellHandles {
		// cells deleted since the host issued the call are skipped, not errored
		if cell, ok := doc.CellByHandle(h); ok {
			cells = append(cells, cell)
		}
	}
	return cells
}

// qualifiedID builds the extension-qualified controller id pushed in the DTO.
func qualifiedID(extensionID, id string) string {
	return extensionID + "/" + id
}
