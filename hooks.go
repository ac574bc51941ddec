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
	"sync"
)

// Hook is a callback invoked once for each spawned worker, in
// registration order, before the worker begins consuming queues.  It
// receives a descriptor of the new worker.
type Hook func(*WorkerInfo)

// HookRegistry is an ordered, append-only sequence of hooks.  A
// registry is safe for concurrent registration, though in practice
// hooks are registered at program start.
type HookRegistry struct {
	mx    sync.Mutex
	hooks []Hook
}

// Add appends a hook to the registry.
func (r *HookRegistry) Add(h Hook) {
	r.mx.Lock()
	r.hooks = append(r.hooks, h)
	r.mx.Unlock()
}

// Set replaces the entire contents of the registry with exactly one
// hook.  This is distinct from Add, which extends the sequence.
func (r *HookRegistry) Set(h Hook) {
	r.mx.Lock()
	r.hooks = []Hook{h}
	r.mx.Unlock()
}

// Len reports how many hooks are registered.
func (r *HookRegistry) Len() int {
	r.mx.Lock()
	defer r.mx.Unlock()
	return len(r.hooks)
}

// Run invokes every registered hook in registration order.
func (r *HookRegistry) Run(wi *WorkerInfo) {
	r.mx.Lock()
	hooks := append([]Hook{}, r.hooks...)
	r.mx.Unlock()
	for _, h := range hooks {
		h(wi)
	}
}

var defaultHooks = &HookRegistry{}

// AfterSpawn appends a hook to the process-wide default registry,
// which NewDefaultPool injects into pools and RunWorker consults in
// the worker image.
func AfterSpawn(h Hook) {
	defaultHooks.Add(h)
}

// SetAfterSpawn replaces the default registry's contents with exactly
// one hook.
func SetAfterSpawn(h Hook) {
	defaultHooks.Set(h)
}

// ResetHooks empties the process-wide default registry.
func ResetHooks() {
	defaultHooks.mx.Lock()
	defaultHooks.hooks = nil
	defaultHooks.mx.Unlock()
}

// DefaultHooks returns the process-wide default registry.
func DefaultHooks() *HookRegistry {
	return defaultHooks
}
