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

package transport

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/valyala/bytebufferpool"
)

// Wire format: 4-byte big-endian body length, 1-byte frame kind, JSON body.
const (
	frameHeaderLen = 5
	maxFrameBody   = 16 << 20
)

type frameKind uint8

const (
	frameAddKernel frameKind = iota + 1
	frameAck
	frameUpdateKernel
	frameRemoveKernel
	framePostMessage
	frameNotebookPriority
	frameAssociation
	frameExecuteCells
	frameCancelCells
	frameRendererMessage
)

type kernelBody struct {
	Handle int32       `json:"handle"`
	Data   interface{} `json:"data,omitempty"`
}

type ackBody struct {
	Handle int32  `json:"handle"`
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
}

type handleBody struct {
	Handle int32 `json:"handle"`
}

type messageBody struct {
	Handle   int32           `json:"handle"`
	EditorID string          `json:"editorId,omitempty"`
	Message  json.RawMessage `json:"message"`
}

type priorityBody struct {
	Handle      int32  `json:"handle"`
	NotebookURI string `json:"notebookUri"`
	Priority    *int   `json:"priority"`
}

type associationBody struct {
	Handle      int32  `json:"handle"`
	NotebookURI string `json:"notebookUri"`
	Associated  bool   `json:"associated"`
}

type cellsBody struct {
	Handle      int32   `json:"handle"`
	NotebookURI string  `json:"notebookUri"`
	CellHandles []int32 `json:"cellHandles"`
}

func writeFrame(w io.Writer, kind frameKind, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("transport: encode frame kind %d: %w", kind, err)
	}
	if len(payload) > maxFrameBody {
		return fmt.Errorf("transport: frame body of %d bytes exceeds limit", len(payload))
	}

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	buf.B = append(buf.B, 0, 0, 0, 0, byte(kind))
	binary.BigEndian.PutUint32(buf.B[:4], uint32(len(payload)))
	buf.B = append(buf.B, payload...)

	if _, err := w.Write(buf.B); err != nil {
		return fmt.Errorf("transport: write frame kind %d: %w", kind, err)
	}
	return nil
}

func readFrame(r io.Reader) (frameKind, []byte, error) {
	var hdr [frameHeaderLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, nil, err
	}
	size := binary.BigEndian.Uint32(hdr[:4])
	if size > maxFrameBody {
		return 0, nil, fmt.Errorf("transport: frame body of %d bytes exceeds limit", size)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return 0, nil, err
	}
	return frameKind(hdr[4]), body, nil
}
