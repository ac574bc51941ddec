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

// Package poolvisor provides a single-node supervisor for fleets of
// queue-consuming worker processes.
//
// A Pool reads a declarative, environment-scoped configuration mapping
// queue specs (ordered, comma-joined lists of queue names) to desired
// worker counts, spawns one operating system process per worker, and
// reconciles the running fleet against the configuration whenever it
// changes -- at startup, or on SIGHUP, without a restart.
//
// The pool itself is cooperative: OS signals are relayed onto a queue
// of symbolic names, and the dispatch loop drains that queue in strict
// arrival order, performing all state mutation itself.  Worker
// processes run with true parallelism as independent children; the
// only state they share with the pool is what they inherited at spawn
// time.
//
// Queue consumption itself is delegated to a Runner collaborator,
// which the worker-side entry point (RunWorker) hands control to after
// running the registered after-spawn hooks.
package poolvisor
