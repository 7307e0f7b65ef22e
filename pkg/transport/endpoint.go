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

// Package transport carries the kernel bridge protocol over a byte stream.
// The Endpoint is the extension-process side: it implements api.KernelProxy
// for outbound calls and drives a KernelService with the inbound dispatch
// frames arriving from the host side.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"
	mnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tnoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/srediag/kernel-bridge/api"
	"github.com/srediag/kernel-bridge/internal/logging"
	"github.com/srediag/kernel-bridge/pkg/kernel"
)

// KernelService receives the inbound dispatch entry points. Implemented by
// *kernel.Registry.
type KernelService interface {
	AcceptNotebookAssociation(handle int32, notebookURI string, associated bool)
	ExecuteCells(ctx context.Context, handle int32, notebookURI string, cellHandles []int32)
	CancelCells(ctx context.Context, handle int32, notebookURI string, cellHandles []int32)
	AcceptRendererMessage(handle int32, editorID string, message any) error
}

// Config tunes an Endpoint.
type Config struct {
	// AckTimeout bounds the wait for an AddKernel acknowledgement.
	AckTimeout time.Duration
	// Meter and Tracer instrument the frame paths; nil means noop.
	Meter  metric.Meter
	Tracer trace.Tracer
	// LogOutput receives endpoint log lines. Defaults to stdout.
	LogOutput io.Writer
}

// DefaultConfig returns the default endpoint configuration.
func DefaultConfig() *Config {
	return &Config{
		AckTimeout: 10 * time.Second,
	}
}

// VerifyConfig reports whether conf is usable.
func VerifyConfig(conf *Config) error {
	if conf == nil {
		return fmt.Errorf("config is nil")
	}
	if conf.AckTimeout <= 0 {
		return fmt.Errorf("AckTimeout must be positive, got %v", conf.AckTimeout)
	}
	return nil
}

// Endpoint is one side of the bridge over an injected byte stream.
type Endpoint struct {
	conn io.ReadWriteCloser
	conf *Config
	log  *logging.Logger

	svcMu   sync.RWMutex
	service KernelService

	wmu sync.Mutex // serializes frame writes

	ackMu sync.Mutex
	acks  map[int32]chan ackBody

	tracer    trace.Tracer
	framesOut metric.Int64Counter
	framesIn  metric.Int64Counter

	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

var _ api.KernelProxy = (*Endpoint)(nil)

// NewEndpoint starts the read loop on conn. The service receives inbound
// dispatch; it may be nil for a send-only endpoint (acks still handled) and
// can be attached later with Bind.
func NewEndpoint(conn io.ReadWriteCloser, service KernelService, conf *Config) (*Endpoint, error) {
	if conn == nil {
		return nil, fmt.Errorf("transport: conn must not be nil")
	}
	if conf == nil {
		conf = DefaultConfig()
	}
	if err := VerifyConfig(conf); err != nil {
		return nil, err
	}
	meter := conf.Meter
	if meter == nil {
		meter = mnoop.NewMeterProvider().Meter("kernel-bridge")
	}
	tracer := conf.Tracer
	if tracer == nil {
		tracer = tnoop.NewTracerProvider().Tracer("kernel-bridge")
	}

	e := &Endpoint{
		conn:    conn,
		service: service,
		conf:    conf,
		log:     logging.New("kernel transport", conf.LogOutput),
		acks:    make(map[int32]chan ackBody),
		tracer:  tracer,
		done:    make(chan struct{}),
	}
	e.framesOut, _ = meter.Int64Counter("kernel_bridge.frames_sent")
	e.framesIn, _ = meter.Int64Counter("kernel_bridge.frames_received")

	go e.readLoop()
	return e, nil
}

// Bind attaches (or swaps) the inbound dispatch target. Used when the
// service itself needs the endpoint as its proxy and cannot exist before it.
func (e *Endpoint) Bind(service KernelService) {
	e.svcMu.Lock()
	e.service = service
	e.svcMu.Unlock()
}

func (e *Endpoint) getService() KernelService {
	e.svcMu.RLock()
	defer e.svcMu.RUnlock()
	return e.service
}

// AddKernel registers a controller with the host side and waits for the
// acknowledgement. A negative ack wraps kernel.ErrRemoteRegistration so the
// registry can tell the rejection from a transport failure.
func (e *Endpoint) AddKernel(ctx context.Context, handle int32, data *api.KernelData) error {
	ctx, span := e.tracer.Start(ctx, "kernel_bridge.AddKernel")
	defer span.End()

	ch := make(chan ackBody, 1)
	e.ackMu.Lock()
	e.acks[handle] = ch
	e.ackMu.Unlock()
	defer func() {
		e.ackMu.Lock()
		delete(e.acks, handle)
		e.ackMu.Unlock()
	}()

	if err := e.send(frameAddKernel, kernelBody{Handle: handle, Data: data}); err != nil {
		return err
	}

	select {
	case ack := <-ch:
		if !ack.OK {
			return fmt.Errorf("%w: %s", kernel.ErrRemoteRegistration, ack.Error)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return fmt.Errorf("transport: endpoint closed while awaiting ack for handle %d", handle)
	case <-time.After(e.conf.AckTimeout):
		return fmt.Errorf("transport: no ack for handle %d within %v", handle, e.conf.AckTimeout)
	}
}

// UpdateKernel pushes a coalesced metadata snapshot. Fire and forget.
func (e *Endpoint) UpdateKernel(handle int32, data *api.KernelData) {
	if err := e.send(frameUpdateKernel, kernelBody{Handle: handle, Data: data}); err != nil {
		e.log.Warnf("update kernel %d: %v", handle, err)
	}
}

// RemoveKernel deregisters a controller. Fire and forget.
func (e *Endpoint) RemoveKernel(handle int32) {
	if err := e.send(frameRemoveKernel, handleBody{Handle: handle}); err != nil {
		e.log.Warnf("remove kernel %d: %v", handle, err)
	}
}

// PostMessage forwards a message to a rendering surface. An unmarshalable
// payload fails the call rather than being dropped silently.
func (e *Endpoint) PostMessage(handle int32, editorID string, message any) (bool, error) {
	payload, err := json.Marshal(message)
	if err != nil {
		return false, fmt.Errorf("transport: encode message: %w", err)
	}
	if err := e.send(framePostMessage, messageBody{Handle: handle, EditorID: editorID, Message: payload}); err != nil {
		return false, err
	}
	return true, nil
}

// UpdateNotebookPriority forwards an affinity hint. Fire and forget.
func (e *Endpoint) UpdateNotebookPriority(handle int32, notebookURI string, priority *int) {
	if err := e.send(frameNotebookPriority, priorityBody{Handle: handle, NotebookURI: notebookURI, Priority: priority}); err != nil {
		e.log.Warnf("update priority of kernel %d: %v", handle, err)
	}
}

func (e *Endpoint) send(kind frameKind, body any) error {
	if e.closed.Load() {
		return fmt.Errorf("transport: endpoint closed")
	}
	e.wmu.Lock()
	defer e.wmu.Unlock()
	if err := writeFrame(e.conn, kind, body); err != nil {
		return err
	}
	e.framesOut.Add(context.Background(), 1)
	return nil
}

func (e *Endpoint) readLoop() {
	for {
		kind, body, err := readFrame(e.conn)
		if err != nil {
			if !e.closed.Load() {
				if err != io.EOF {
					e.log.Warnf("read loop stopped: %v", err)
				}
				_ = e.Close()
			}
			return
		}
		e.framesIn.Add(context.Background(), 1)
		if !e.dispatch(kind, body) {
			// a frame we cannot decode means the stream is desynced;
			// there is no way to find the next frame boundary
			e.log.Errorf("protocol desync on frame kind %d, dropping connection", kind)
			_ = e.Close()
			return
		}
	}
}

func (e *Endpoint) dispatch(kind frameKind, body []byte) bool {
	service := e.getService()
	switch kind {
	case frameAck:
		var ack ackBody
		if json.Unmarshal(body, &ack) != nil {
			return false
		}
		e.ackMu.Lock()
		ch, ok := e.acks[ack.Handle]
		e.ackMu.Unlock()
		if ok {
			select {
			case ch <- ack:
			default:
			}
		}
	case frameAssociation:
		var b associationBody
		if json.Unmarshal(body, &b) != nil {
			return false
		}
		if service != nil {
			service.AcceptNotebookAssociation(b.Handle, b.NotebookURI, b.Associated)
		}
	case frameExecuteCells:
		var b cellsBody
		if json.Unmarshal(body, &b) != nil {
			return false
		}
		if service != nil {
			service.ExecuteCells(context.Background(), b.Handle, b.NotebookURI, b.CellHandles)
		}
	case frameCancelCells:
		var b cellsBody
		if json.Unmarshal(body, &b) != nil {
			return false
		}
		if service != nil {
			service.CancelCells(context.Background(), b.Handle, b.NotebookURI, b.CellHandles)
		}
	case frameRendererMessage:
		var b messageBody
		if json.Unmarshal(body, &b) != nil {
			return false
		}
		var payload any
		if len(b.Message) > 0 {
			if json.Unmarshal(b.Message, &payload) != nil {
				return false
			}
		}
		if service != nil {
			if err := service.AcceptRendererMessage(b.Handle, b.EditorID, payload); err != nil {
				e.log.Warnf("renderer message for handle %d: %v", b.Handle, err)
			}
		}
	default:
		return false
	}
	return true
}

// Close stops the read loop and closes the underlying stream. Idempotent.
func (e *Endpoint) Close() error {
	var err error
	e.closeOnce.Do(func() {
		e.closed.Store(true)
		close(e.done)
		err = e.conn.Close()
	})
	return err
}
