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
	"os"
	"os/signal"
	"syscall"
)

// Signal is the symbolic name of a control event on the pool's
// dispatch queue.  OS signals are translated to these names by the
// relay; the REST layer injects them directly.
type Signal string

const (
	SigHup  Signal = "HUP"
	SigTerm Signal = "TERM"
	SigInt  Signal = "INT"
	SigQuit Signal = "QUIT"
	SigUsr1 Signal = "USR1"
	SigUsr2 Signal = "USR2"

	// sigReconcile asks the dispatch loop to run a reconciliation
	// pass.  It never originates from the OS.
	sigReconcile Signal = "RECONCILE"
)

var signalNames = map[os.Signal]Signal{
	syscall.SIGHUP:  SigHup,
	syscall.SIGTERM: SigTerm,
	syscall.SIGINT:  SigInt,
	syscall.SIGQUIT: SigQuit,
	syscall.SIGUSR1: SigUsr1,
	syscall.SIGUSR2: SigUsr2,
}

// notifySignals registers the pool's signal set on ch.  The Go
// runtime's handler does nothing in signal-delivery context beyond
// posting to the buffered channel, which is the only work permitted
// there; all semantics live in the dispatch loop.
func notifySignals(ch chan<- os.Signal) {
	signal.Notify(ch,
		syscall.SIGHUP,
		syscall.SIGTERM,
		syscall.SIGINT,
		syscall.SIGQUIT,
		syscall.SIGUSR1,
		syscall.SIGUSR2,
	)
}

// signalName translates an OS signal to its symbolic name.  Unknown
// signals report false and are never enqueued.
func signalName(s os.Signal) (Signal, bool) {
	name, ok := signalNames[s]
	return name, ok
}
