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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVerifyConfig(t *testing.T) {
	require.NotNil(t, VerifyConfig(nil))
	require.Nil(t, VerifyConfig(DefaultConfig()))

	conf := DefaultConfig()
	conf.DispatchPoolSize = 0
	require.NotNil(t, VerifyConfig(conf))

	conf = DefaultConfig()
	conf.TaskQueueHint = -1
	require.NotNil(t, VerifyConfig(conf))

	conf = DefaultConfig()
	conf.RegisterRetryInterval = 0
	require.NotNil(t, VerifyConfig(conf))

	conf = DefaultConfig()
	conf.WebviewAuthority = ""
	require.NotNil(t, VerifyConfig(conf))

	// zero retries is valid, it means a single attempt
	conf = DefaultConfig()
	conf.RegisterMaxRetries = 0
	require.Nil(t, VerifyConfig(conf))
}
