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

// Package sched provides the cooperative turn loop that serializes registry
// state transitions and backs the coalesced-update protocol.
package sched

import (
	"bytes"
	"errors"
	"runtime"
	"strconv"
	"sync/atomic"

	queuepkg "github.com/Workiva/go-datastructures/queue"
)

// ErrLoopClosed is returned when a task is handed to a closed loop.
var ErrLoopClosed = errors.New("sched: loop closed")

const defaultQueueHint = 64

type task struct {
	fn      func()
	done    chan struct{}
	dropped bool
}

// Loop runs tasks one at a time on a single goroutine, in FIFO order.
// A task submitted while another runs executes on a later turn, after the
// current call stack unwinds.
type Loop struct {
	q    *queuepkg.Queue
	goid atomic.Uint64
}

// NewLoop starts the loop goroutine and returns the loop.
func NewLoop() *Loop {
	return NewLoopWithHint(defaultQueueHint)
}

// NewLoopWithHint starts a loop whose task queue is pre-sized to hint.
func NewLoopWithHint(hint int64) *Loop {
	if hint <= 0 {
		hint = defaultQueueHint
	}
	l := &Loop{q: queuepkg.New(hint)}
	go l.run()
	return l
}

func (l *Loop) run() {
	l.goid.Store(currentGoID())
	for {
		items, err := l.q.Get(1)
		if err != nil || len(items) == 0 {
			// disposed
			return
		}
		t, ok := items[0].(*task)
		if !ok {
			continue
		}
		t.fn()
		if t.done != nil {
			close(t.done)
		}
	}
}

// Post enqueues fn for a later turn. It never runs fn inline, even when
// called from the loop goroutine: the continuation fires after the current
// turn completes.
func (l *Loop) Post(fn func()) error {
	if err := l.q.Put(&task{fn: fn}); err != nil {
		return ErrLoopClosed
	}
	return nil
}

// Do runs fn on the loop and waits for it to finish. Calls made from the
// loop goroutine itself run inline, so tasks may re-enter the loop without
// deadlocking.
func (l *Loop) Do(fn func()) error {
	if l.goid.Load() == currentGoID() {
		fn()
		return nil
	}
	t := &task{fn: fn, done: make(chan struct{})}
	if err := l.q.Put(t); err != nil {
		return ErrLoopClosed
	}
	<-t.done
	if t.dropped {
		return ErrLoopClosed
	}
	return nil
}

// Close stops the loop. Tasks still queued are dropped; waiters blocked in
// Do are released with ErrLoopClosed. Close is idempotent.
func (l *Loop) Close() {
	if l.q.Disposed() {
		return
	}
	for _, item := range l.q.Dispose() {
		if t, ok := item.(*task); ok && t.done != nil {
			t.dropped = true
			close(t.done)
		}
	}
}

// Closed reports whether the loop has been closed.
func (l *Loop) Closed() bool {
	return l.q.Disposed()
}

// currentGoID parses the goroutine id from the stack header. The loop only
// uses it for re-entrancy detection, never for identity of user tasks.
func currentGoID() uint64 {
	var buf [32]byte
	n := runtime.Stack(buf[:], false)
	// "goroutine 12 [running]:"
	fields := bytes.Fields(buf[:n])
	if len(fields) < 2 {
		return 0
	}
	id, err := strconv.ParseUint(string(fields[1]), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
