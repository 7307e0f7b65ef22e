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

import "errors"

var (
	// ErrDuplicateController is returned when a live controller with the
	// same (extension, id) pair already exists.
	ErrDuplicateController = errors.New("kernel: duplicate controller id")

	// ErrUnknownEditor is returned when an editor identity cannot be
	// resolved. A message for a truly unknown editor indicates a protocol
	// desync, so this is the one dispatch path that raises.
	ErrUnknownEditor = errors.New("kernel: unknown notebook editor")

	// ErrCellRemoved is returned when an execution task is requested for a
	// cell that no longer belongs to its notebook.
	ErrCellRemoved = errors.New("kernel: cell removed from notebook")

	// ErrControllerDisposed is returned when an operation requires a live
	// controller.
	ErrControllerDisposed = errors.New("kernel: controller disposed")

	// ErrNotAssociated is returned when an execution task is requested for
	// a notebook the controller is not associated with.
	ErrNotAssociated = errors.New("kernel: notebook not associated with controller")

	// ErrInvalidCell is returned when a cell cannot be resolved in the
	// document model.
	ErrInvalidCell = errors.New("kernel: invalid cell")

	// ErrRemoteRegistration marks a remote-side rejection of AddKernel.
	// Proxies wrap it so the registry can tell rejections from transient
	// transport failures.
	ErrRemoteRegistration = errors.New("kernel: remote registration rejected")

	// ErrRegistryClosed is returned by operations on a closed registry.
	ErrRegistryClosed = errors.New("kernel: registry closed")
)
