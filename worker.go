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
	"context"
	"log"
	"sort"
	"syscall"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"github.com/shirou/gopsutil/v3/process"
)

// Worker lifecycle states.  A worker counts against its type's
// desired count while Starting or Running; once Terminated it is
// removed from the type's live set.
const (
	StateStarting   = "starting"
	StateRunning    = "running"
	StateStopping   = "stopping"
	StateTerminated = "terminated"
)

const (
	eventStarted = "started"
	eventStop    = "stop"
	eventExited  = "exited"
)

// healthyUptime is how long a worker must survive before its type's
// respawn backoff resets.
const healthyUptime = 5 * time.Second

// WorkerInfo is a point-in-time descriptor of one worker.  It is what
// hooks receive, and what the REST layer serves.
type WorkerInfo struct {
	ID        string    `json:"id"`
	Pid       int       `json:"pid"`
	Spec      QueueSpec `json:"queues"`
	State     string    `json:"state"`
	Paused    bool      `json:"paused"`
	StartedAt time.Time `json:"startedAt"`
	CPU       float64   `json:"cpuPercent,omitempty"`
	RSS       uint64    `json:"rssBytes,omitempty"`
}

// WorkerHandle tracks one spawned worker process on the pool side.
// All mutation happens under the pool's lock.
type WorkerHandle struct {
	id        string
	spec      QueueSpec
	proc      Proc
	machine   *fsm.FSM
	paused    bool
	startedAt time.Time
	logger    *log.Logger
}

func newWorkerHandle(spec QueueSpec, proc Proc, logger *log.Logger) *WorkerHandle {
	h := &WorkerHandle{
		id:        uuid.NewString(),
		spec:      spec,
		proc:      proc,
		startedAt: time.Now(),
		logger:    logger,
	}
	h.machine = fsm.NewFSM(StateStarting,
		fsm.Events{
			{Name: eventStarted, Src: []string{StateStarting}, Dst: StateRunning},
			{Name: eventStop, Src: []string{StateStarting, StateRunning}, Dst: StateStopping},
			{Name: eventExited, Src: []string{StateStarting, StateRunning, StateStopping}, Dst: StateTerminated},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				h.logger.Printf("Worker %d [%s]: %s -> %s",
					h.Pid(), h.spec, e.Src, e.Dst)
			},
		},
	)
	return h
}

func (h *WorkerHandle) event(name string) {
	// Transitions out of a terminal state are rejected by the
	// machine; that is the desired behavior for late events.
	_ = h.machine.Event(context.Background(), name)
}

func (h *WorkerHandle) ID() string           { return h.id }
func (h *WorkerHandle) Pid() int             { return h.proc.Pid() }
func (h *WorkerHandle) Spec() QueueSpec      { return h.spec }
func (h *WorkerHandle) State() string        { return h.machine.Current() }
func (h *WorkerHandle) StartedAt() time.Time { return h.startedAt }

// Alive reports whether the worker counts against its type's desired
// count, i.e. it is Starting or Running.
func (h *WorkerHandle) Alive() bool {
	s := h.machine.Current()
	return s == StateStarting || s == StateRunning
}

// markRunning records that the child was confirmed alive.  There is
// no readiness handshake; a successful spawn is confirmation enough.
func (h *WorkerHandle) markRunning() {
	h.event(eventStarted)
}

// stop signals the worker to exit and marks it Stopping.  Graceful
// stops forward SIGQUIT, asking the worker to drain its current job;
// immediate stops forward SIGTERM.  Completion is observed later by
// the reaper, never waited for here.
func (h *WorkerHandle) stop(graceful bool) {
	switch h.machine.Current() {
	case StateTerminated:
		return
	case StateStopping:
		if graceful {
			return
		}
		// Escalate a drain already in progress.
		if err := h.proc.Signal(syscall.SIGTERM); err != nil {
			h.logger.Printf("Worker %d [%s]: failed to escalate stop: %v",
				h.Pid(), h.spec, err)
		}
		return
	}
	sig := syscall.SIGTERM
	if graceful {
		sig = syscall.SIGQUIT
	}
	if err := h.proc.Signal(sig); err != nil {
		h.logger.Printf("Worker %d [%s]: failed to signal stop: %v",
			h.Pid(), h.spec, err)
	}
	h.event(eventStop)
}

// terminate records that the process exited.
func (h *WorkerHandle) terminate() {
	h.event(eventExited)
}

func (h *WorkerHandle) pause() {
	if !h.Alive() || h.paused {
		return
	}
	if err := h.proc.Signal(syscall.SIGUSR1); err == nil {
		h.paused = true
	}
}

func (h *WorkerHandle) resume() {
	if !h.Alive() || !h.paused {
		return
	}
	if err := h.proc.Signal(syscall.SIGUSR2); err == nil {
		h.paused = false
	}
}

// Info snapshots the worker, including best-effort process stats.
func (h *WorkerHandle) Info() WorkerInfo {
	wi := WorkerInfo{
		ID:        h.id,
		Pid:       h.Pid(),
		Spec:      h.spec,
		State:     h.State(),
		Paused:    h.paused,
		StartedAt: h.startedAt,
	}
	if proc, err := process.NewProcess(int32(wi.Pid)); err == nil {
		if cpu, err := proc.CPUPercent(); err == nil {
			wi.CPU = cpu
		}
		if mem, err := proc.MemoryInfo(); err == nil {
			wi.RSS = mem.RSS
		}
	}
	return wi
}

// WorkerType pairs one queue spec's desired count with its live
// worker handles.  Between a reconcile pass and the completion of the
// spawns and stops it issued, the live count may not match desired;
// reconciliation converges when re-run.
type WorkerType struct {
	spec    QueueSpec
	desired int
	handles map[string]*WorkerHandle

	// Respawn throttling for crash-looping workers.
	retry     *backoff.ExponentialBackOff
	nextSpawn time.Time
}

func newWorkerType(spec QueueSpec, desired int) *WorkerType {
	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = 250 * time.Millisecond
	retry.MaxInterval = 30 * time.Second
	retry.MaxElapsedTime = 0 // never give up; desired count rules
	return &WorkerType{
		spec:    spec,
		desired: desired,
		handles: make(map[string]*WorkerHandle),
		retry:   retry,
	}
}

func (t *WorkerType) Spec() QueueSpec { return t.spec }
func (t *WorkerType) Desired() int    { return t.desired }

// live returns the handles counting against the desired count.
func (t *WorkerType) live() []*WorkerHandle {
	rv := make([]*WorkerHandle, 0, len(t.handles))
	for _, h := range t.handles {
		if h.Alive() {
			rv = append(rv, h)
		}
	}
	return rv
}

func (t *WorkerType) liveCount() int {
	return len(t.live())
}

// victims returns up to n live handles to stop, most recently started
// first, so that freshly spawned excess dies young and long-running
// workers are left to finish their jobs.
func (t *WorkerType) victims(n int) []*WorkerHandle {
	live := t.live()
	sort.Slice(live, func(i, j int) bool {
		return live[i].startedAt.After(live[j].startedAt)
	})
	if n > len(live) {
		n = len(live)
	}
	return live[:n]
}

// noteExit updates the respawn throttle after a child exit.  Rapid
// exits arm an exponential delay before the next spawn attempt for
// this type; surviving past healthyUptime clears it.
func (t *WorkerType) noteExit(h *WorkerHandle) {
	if time.Since(h.startedAt) < healthyUptime {
		t.nextSpawn = time.Now().Add(t.retry.NextBackOff())
	} else {
		t.retry.Reset()
		t.nextSpawn = time.Time{}
	}
}
