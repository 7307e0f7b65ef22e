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
	"fmt"
	"io"
	"time"
)

// Config tunes a Registry.
type Config struct {
	// DispatchPoolSize caps the goroutine pool that runs extension-supplied
	// execute and interrupt handlers.
	DispatchPoolSize int

	// TaskQueueHint pre-sizes the turn loop's task queue.
	TaskQueueHint int64

	// RegisterMaxRetries bounds retries of a transiently failing remote
	// registration. A remote rejection is never retried.
	RegisterMaxRetries uint64

	// RegisterRetryInterval is the initial backoff interval between
	// registration retries.
	RegisterRetryInterval time.Duration

	// WebviewAuthority is the base authority used by the default webview
	// resource rewriter. Ignored when a rewriter is injected.
	WebviewAuthority string

	// LogOutput receives registry log lines. Defaults to stdout.
	LogOutput io.Writer
}

// DefaultConfig returns the default registry configuration.
func DefaultConfig() *Config {
	return &Config{
		DispatchPoolSize:      8,
		TaskQueueHint:         64,
		RegisterMaxRetries:    3,
		RegisterRetryInterval: 250 * time.Millisecond,
		WebviewAuthority:      "webview.localhost",
	}
}

// VerifyConfig reports whether conf is usable.
func VerifyConfig(conf *Config) error {
	if conf == nil {
		return fmt.Errorf("config is nil")
	}
	if conf.DispatchPoolSize <= 0 {
		return fmt.Errorf("DispatchPoolSize must be positive, got %d", conf.DispatchPoolSize)
	}
	if conf.TaskQueueHint <= 0 {
		return fmt.Errorf("TaskQueueHint must be positive, got %d", conf.TaskQueueHint)
	}
	if conf.RegisterRetryInterval <= 0 {
		return fmt.Errorf("RegisterRetryInterval must be positive, got %v", conf.RegisterRetryInterval)
	}
	if conf.WebviewAuthority == "" {
		return fmt.Errorf("WebviewAuthority must not be empty")
	}
	return nil
}
