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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/srediag/kernel-bridge/api"
)

const testNotebookURI = "nb://suite/one.ipynb"

type fakePost struct {
	handle   int32
	editorID string
	message  any
}

type fakePriority struct {
	handle   int32
	uri      string
	priority *int
}

type fakeProxy struct {
	mu             sync.Mutex
	addErr         error
	transientFails int
	addCalls       int
	added          []*api.KernelData
	updates        []*api.KernelData
	removed        []int32
	posts          []fakePost
	priorities     []fakePriority
}

func (p *fakeProxy) AddKernel(_ context.Context, _ int32, data *api.KernelData) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.addCalls++
	if p.transientFails > 0 {
		p.transientFails--
		return context.DeadlineExceeded
	}
	if p.addErr != nil {
		return p.addErr
	}
	p.added = append(p.added, data)
	return nil
}

func (p *fakeProxy) UpdateKernel(_ int32, data *api.KernelData) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates = append(p.updates, data)
}

func (p *fakeProxy) RemoveKernel(handle int32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removed = append(p.removed, handle)
}

func (p *fakeProxy) PostMessage(handle int32, editorID string, message any) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.posts = append(p.posts, fakePost{handle: handle, editorID: editorID, message: message})
	return true, nil
}

func (p *fakeProxy) UpdateNotebookPriority(handle int32, uri string, priority *int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.priorities = append(p.priorities, fakePriority{handle: handle, uri: uri, priority: priority})
}

func (p *fakeProxy) addCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.addCalls
}

func (p *fakeProxy) addedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.added)
}

func (p *fakeProxy) updateCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.updates)
}

func (p *fakeProxy) lastUpdate() *api.KernelData {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.updates) == 0 {
		return nil
	}
	return p.updates[len(p.updates)-1]
}

func (p *fakeProxy) removedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.removed)
}

func (p *fakeProxy) postCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.posts)
}

type fakeCell struct {
	handle int32
	index  int
	uri    string
}

func (c *fakeCell) Handle() int32       { return c.handle }
func (c *fakeCell) Index() int          { return c.index }
func (c *fakeCell) NotebookURI() string { return c.uri }

type fakeDoc struct {
	uri   string
	cells map[int32]*fakeCell
}

func (d *fakeDoc) URI() string { return d.uri }

func (d *fakeDoc) CellByHandle(handle int32) (api.NotebookCell, bool) {
	c, ok := d.cells[handle]
	return c, ok
}

type fakeEditor struct {
	uri string
}

func (e *fakeEditor) NotebookURI() string { return e.uri }

type fakeResolver struct {
	mu      sync.Mutex
	docs    map[string]*fakeDoc
	editors map[string]*fakeEditor
}

func (r *fakeResolver) NotebookDocument(uri string) (api.NotebookDocument, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.docs[uri]
	return d, ok
}

func (r *fakeResolver) EditorByID(id string) (api.NotebookEditor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.editors[id]
	return e, ok
}

func (r *fakeResolver) IDForEditor(editor api.NotebookEditor) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, e := range r.editors {
		if api.NotebookEditor(e) == editor {
			return id, true
		}
	}
	return "", false
}

type fakeExecution struct {
	cell api.NotebookCell
}

func (e *fakeExecution) Cell() api.NotebookCell { return e.cell }

type fakeTasks struct {
	mu        sync.Mutex
	createErr error
	created   []api.NotebookCell
	cancelled []api.NotebookCell
}

func (t *fakeTasks) CreateCellExecution(cell api.NotebookCell) (api.CellExecution, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.createErr != nil {
		return nil, t.createErr
	}
	t.created = append(t.created, cell)
	return &fakeExecution{cell: cell}, nil
}

func (t *fakeTasks) CancelCellExecution(cell api.NotebookCell) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelled = append(t.cancelled, cell)
}

func (t *fakeTasks) cancelledCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.cancelled)
}

func testExt() api.ExtensionIdentity {
	return api.ExtensionIdentity{
		ID:          "srediag.notebooks",
		DisplayName: "SREDiag Notebooks",
		Location:    "file:///extensions/srediag.notebooks",
	}
}

func testDoc() *fakeDoc {
	return &fakeDoc{
		uri: testNotebookURI,
		cells: map[int32]*fakeCell{
			1: {handle: 1, index: 0, uri: testNotebookURI},
			3: {handle: 3, index: 1, uri: testNotebookURI},
		},
	}
}

func newTestRegistry(t *testing.T) (*Registry, *fakeProxy, *fakeResolver, *fakeTasks) {
	t.Helper()
	conf := DefaultConfig()
	conf.RegisterRetryInterval = time.Millisecond

	proxy := &fakeProxy{}
	resolver := &fakeResolver{
		docs:    map[string]*fakeDoc{testNotebookURI: testDoc()},
		editors: map[string]*fakeEditor{"editor-1": {uri: testNotebookURI}},
	}
	tasks := &fakeTasks{}

	reg, err := New(conf, proxy, resolver, tasks, nil)
	require.Nil(t, err)
	t.Cleanup(func() { _ = reg.Close() })
	return reg, proxy, resolver, tasks
}

// drain waits until every turn queued so far has run.
func (r *Registry) drain() {
	_ = r.loop.Do(func() {})
}

func mustCreate(t *testing.T, reg *Registry, proxy *fakeProxy, id string) *Controller {
	t.Helper()
	c, err := reg.CreateController(testExt(), id, "srediag-notebook", "Test Kernel", nil, nil)
	require.Nil(t, err)
	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.registered
	}, time.Second, time.Millisecond)
	return c
}
