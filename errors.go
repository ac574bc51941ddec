// Copyright 2025 The Poolvisor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package poolvisor

import (
	"errors"
)

var (
	ErrEmptySpec    = errors.New("Queue spec has no queues")
	ErrBadCount     = errors.New("Worker count is not a non-negative integer")
	ErrBadScope     = errors.New("Configuration entry is neither count nor section")
	ErrNoLauncher   = errors.New("No launcher configured")
	ErrNoSpec       = errors.New("No such worker type")
	ErrNotRunning   = errors.New("Worker is not running")
	ErrPoolStopping = errors.New("Pool is shutting down")
	ErrNoQueueEnv   = errors.New("Worker queue environment not set")
	ErrNilResolver  = errors.New("Custom loader resolver is nil")
)
