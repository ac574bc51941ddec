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
	"os"
	"os/signal"
	"sort"
	"sync"
	"time"
)

// Pool supervises the worker fleet for one configuration.  It owns
// the current Config, the worker-type table, the dispatch queue of
// symbolic signals, and the hook registry.
//
// All fleet mutation is performed by the dispatch loop inside Run;
// signal handlers, reapers, and the REST layer only ever append to
// the dispatch queue or take locked snapshots.  Reconciliation is
// idempotent given the current live-handle counts, so a pass that
// runs before a prior scale-down has completed still converges.
type Pool struct {
	name     string
	source   ConfigSource
	hooks    *HookRegistry
	launcher Launcher

	config Config
	env    string
	types  map[QueueSpec]*WorkerType

	sigq   chan Signal
	exitch chan exitEvent

	stopping bool

	serial     int64
	createTime time.Time
	updateTime time.Time
	cvs        map[*sync.Cond]bool

	mlog   *MultiLogger
	ring   *Log
	stderr *log.Logger

	mx sync.Mutex
}

// exitEvent is posted by a worker's reaper goroutine when the child
// process exits.  The dispatch loop consumes these the way a CHLD
// handler would.
type exitEvent struct {
	id   string
	spec QueueSpec
	err  error
}

// PoolInfo is a top-level snapshot, taken consistently.
type PoolInfo struct {
	Name        string    `json:"name"`
	Environment string    `json:"environment"`
	Serial      int64     `json:"serial,string"`
	CreateTime  time.Time `json:"createTime"`
	UpdateTime  time.Time `json:"updateTime"`
	WorkerTypes int       `json:"workerTypes"`
	Workers     int       `json:"workers"`
	Stopping    bool      `json:"stopping"`
}

// WorkerTypeInfo is a snapshot of one worker type.
type WorkerTypeInfo struct {
	Spec    QueueSpec    `json:"queues"`
	Desired int          `json:"desired"`
	Live    int          `json:"live"`
	Workers []WorkerInfo `json:"workers"`
}

// NewPool creates a pool, performing the initial configuration load.
// A source failure here aborts construction.  src may be nil, in
// which case the process-wide default source is used.  The returned
// pool does not manage any processes until Run is called.
func NewPool(name string, src ConfigSource) (*Pool, error) {
	if name == "" {
		name = "poolvisor"
	}
	if src == nil {
		src = DefaultSource()
	}
	env, _ := ResolveEnvironment()
	cfg, err := src.Resolve(env)
	if err != nil {
		return nil, err
	}

	p := &Pool{
		name:   name,
		source: src,
		hooks:  DefaultHooks(),
		config: cfg,
		env:    env,
		types:  make(map[QueueSpec]*WorkerType),
		sigq:   make(chan Signal, 64),
		exitch: make(chan exitEvent, 64),
		cvs:    make(map[*sync.Cond]bool),
		// The origin serial is the current timestamp in nsec so
		// that clients caching serials across a pool restart are
		// forced to invalidate.
		serial: time.Now().UnixNano(),
		mlog:   NewMultiLogger(),
		ring:   NewLog(),
	}
	p.createTime = time.Now()
	p.updateTime = p.createTime
	p.mlog.AddLogger(log.New(p.ring, "", 0))
	p.stderr = log.New(os.Stderr, "", log.LstdFlags)
	p.mlog.AddLogger(p.stderr)
	return p, nil
}

// NewDefaultPool builds a ready-to-run pool from the process-wide
// default configuration source and hook registry.
func NewDefaultPool() (*Pool, error) {
	return NewPool("", nil)
}

// SetLauncher installs the launcher used to spawn workers.  It must
// be set before Run.
func (p *Pool) SetLauncher(l Launcher) {
	p.mx.Lock()
	p.launcher = l
	p.mx.Unlock()
}

// SetHooks replaces the injected hook registry.  By default a pool
// uses the process-wide registry.
func (p *Pool) SetHooks(r *HookRegistry) {
	p.mx.Lock()
	p.hooks = r
	p.mx.Unlock()
}

// SetLogger replaces the stderr logger.  The ring buffer served over
// REST always receives a copy regardless.
func (p *Pool) SetLogger(l *log.Logger) {
	p.mx.Lock()
	if p.stderr != nil {
		p.mlog.DelLogger(p.stderr)
	}
	p.stderr = l
	p.mlog.AddLogger(l)
	p.mx.Unlock()
}

func (p *Pool) Name() string { return p.name }

// Environment returns the environment name resolved at the most
// recent successful load, or the empty string.
func (p *Pool) Environment() string {
	p.mx.Lock()
	defer p.mx.Unlock()
	return p.env
}

// Config returns a copy of the current configuration.
func (p *Pool) Config() Config {
	p.mx.Lock()
	defer p.mx.Unlock()
	return p.config.Clone()
}

// Serial returns the global serial number, incremented on every state
// change.
func (p *Pool) Serial() int64 {
	p.mx.Lock()
	defer p.mx.Unlock()
	return p.serial
}

// Info returns a consistent top-level snapshot.
func (p *Pool) Info() PoolInfo {
	p.mx.Lock()
	defer p.mx.Unlock()
	workers := 0
	for _, t := range p.types {
		workers += len(t.handles)
	}
	return PoolInfo{
		Name:        p.name,
		Environment: p.env,
		Serial:      p.serial,
		CreateTime:  p.createTime,
		UpdateTime:  p.updateTime,
		WorkerTypes: len(p.types),
		Workers:     workers,
		Stopping:    p.stopping,
	}
}

// WorkerTypes snapshots every worker type, ordered by spec.
func (p *Pool) WorkerTypes() []WorkerTypeInfo {
	p.mx.Lock()
	defer p.mx.Unlock()
	rv := make([]WorkerTypeInfo, 0, len(p.types))
	for _, t := range p.types {
		rv = append(rv, p.typeInfoLocked(t))
	}
	sort.Slice(rv, func(i, j int) bool { return rv[i].Spec < rv[j].Spec })
	return rv
}

// WorkerType snapshots a single worker type.
func (p *Pool) WorkerType(spec QueueSpec) (WorkerTypeInfo, error) {
	p.mx.Lock()
	defer p.mx.Unlock()
	t := p.types[spec]
	if t == nil {
		return WorkerTypeInfo{}, ErrNoSpec
	}
	return p.typeInfoLocked(t), nil
}

func (p *Pool) typeInfoLocked(t *WorkerType) WorkerTypeInfo {
	wi := WorkerTypeInfo{
		Spec:    t.spec,
		Desired: t.desired,
		Live:    t.liveCount(),
		Workers: make([]WorkerInfo, 0, len(t.handles)),
	}
	for _, h := range t.handles {
		wi.Workers = append(wi.Workers, h.Info())
	}
	sort.Slice(wi.Workers, func(i, j int) bool {
		return wi.Workers[i].StartedAt.Before(wi.Workers[j].StartedAt)
	})
	return wi
}

// GetLog returns retained pool log records newer than lastid.
func (p *Pool) GetLog(lastid int64) ([]LogRecord, int64) {
	return p.ring.GetRecords(lastid)
}

// WatchLog blocks until the pool log changes or expire passes.
func (p *Pool) WatchLog(old int64, expire time.Duration) int64 {
	return p.ring.Watch(old, expire)
}

// WatchSerial monitors for a change in the global serial number,
// returning the new value, or the old one if expire passes first.  A
// zero expiration polls.
func (p *Pool) WatchSerial(old int64, expire time.Duration) int64 {
	expired := false
	cv := sync.NewCond(&p.mx)
	var timer *time.Timer
	if expire > 0 {
		timer = time.AfterFunc(expire, func() {
			p.mx.Lock()
			expired = true
			cv.Broadcast()
			p.mx.Unlock()
		})
	} else {
		expired = true
	}

	p.mx.Lock()
	p.cvs[cv] = true
	rv := p.serial
	for rv == old && !expired {
		cv.Wait()
		rv = p.serial
	}
	delete(p.cvs, cv)
	p.mx.Unlock()
	if timer != nil {
		timer.Stop()
	}
	return rv
}

// bumpSerial increments the serial and notifies watchers.  Call with
// the lock held.
func (p *Pool) bumpSerial() int64 {
	p.updateTime = time.Now()
	p.serial++
	for cv := range p.cvs {
		cv.Broadcast()
	}
	return p.serial
}

func (p *Pool) logf(format string, v ...interface{}) {
	p.mlog.Logger().Printf(format, v...)
}

// Kick appends a symbolic signal to the dispatch queue.  This is how
// the REST layer and tests inject control events; OS signals arrive
// through the same queue via the relay.  A full queue drops the
// entry, matching the delivery guarantee of the signals it models.
func (p *Pool) Kick(sig Signal) {
	select {
	case p.sigq <- sig:
	default:
	}
}

// Scale overrides the desired count for one spec in the current
// configuration.  The override lasts until the next reload, which
// replaces the configuration wholesale.
func (p *Pool) Scale(spec QueueSpec, count int) error {
	if count < 0 {
		return ErrBadCount
	}
	p.mx.Lock()
	if p.stopping {
		p.mx.Unlock()
		return ErrPoolStopping
	}
	if p.config == nil {
		p.config = Config{}
	}
	p.config[spec] = count
	p.bumpSerial()
	p.mx.Unlock()
	p.logf("Scaled [%s] to %d", spec, count)
	p.Kick(sigReconcile)
	return nil
}

// Run executes the dispatch loop until the fleet is shut down.  It
// performs the first reconciliation, then blocks waiting for signals,
// child exits, or the periodic tick, handling exactly one event at a
// time.  It returns once a shutdown has been requested and every
// worker has been reaped.
func (p *Pool) Run(ctx context.Context) error {
	p.mx.Lock()
	if p.launcher == nil {
		p.mx.Unlock()
		return ErrNoLauncher
	}
	p.mx.Unlock()

	osch := make(chan os.Signal, 8)
	notifySignals(osch)
	defer func() {
		signal.Stop(osch)
		close(osch)
	}()
	go p.relay(osch)

	p.logf("*** Pool %s starting: environment=%q, %d worker type(s) ***",
		p.name, p.Environment(), len(p.Config()))
	p.reconcile()

	// A "prime" number of milliseconds, so the periodic reconcile
	// doesn't beat against other timers in the host application.
	tick := time.NewTicker(time.Millisecond * 587)
	defer tick.Stop()

	done := ctx.Done()
	for {
		if p.drained() {
			p.logf("*** Pool %s shut down ***", p.name)
			return nil
		}
		select {
		case <-done:
			done = nil
			p.shutdown(true)
		case s := <-p.sigq:
			p.handleSigQueue(s)
		case ev := <-p.exitch:
			p.reap(ev)
		case <-tick.C:
			p.reconcile()
		}
	}
}

// relay sits between OS signal delivery and the dispatch queue.  The
// runtime's handler has already done the only work permitted in
// signal context (posting to osch); translating to a symbolic name
// and appending it happens here, on an ordinary goroutine.
func (p *Pool) relay(osch <-chan os.Signal) {
	for s := range osch {
		if name, ok := signalName(s); ok {
			p.Kick(name)
		}
	}
}

// handleSigQueue drains the dispatch queue in strict FIFO arrival
// order, finishing each entry before consuming the next.  Entries
// appended while a dispatch is in progress are handled in the same
// pass; nothing is dropped or reordered.
func (p *Pool) handleSigQueue(first Signal) {
	p.dispatch(first)
	for {
		select {
		case s := <-p.sigq:
			p.dispatch(s)
		default:
			return
		}
	}
}

func (p *Pool) dispatch(sig Signal) {
	switch sig {
	case SigHup:
		p.reload()
		p.reconcile()
	case SigTerm, SigInt:
		p.shutdown(false)
	case SigQuit:
		p.shutdown(true)
	case SigUsr1:
		p.setPaused(true)
	case SigUsr2:
		p.setPaused(false)
	case sigReconcile:
		p.reconcile()
	default:
		// Unrecognized entries are ignored.
	}
}

// reload re-resolves the environment and fetches a fresh Config,
// replacing the current one wholesale.  A source that keeps a cache
// is reset first.  On failure the previous configuration and the
// running fleet are left untouched; a later reload may still succeed.
func (p *Pool) reload() {
	if r, ok := p.source.(Resetter); ok {
		r.Reset()
	}
	env, _ := ResolveEnvironment()
	cfg, err := p.source.Resolve(env)
	if err != nil {
		p.logf("Reload failed, keeping previous configuration: %v", err)
		return
	}
	p.mx.Lock()
	p.config = cfg
	p.env = env
	p.bumpSerial()
	p.mx.Unlock()
	p.logf("Loaded configuration: environment=%q, %d worker type(s)",
		env, len(cfg))
}

// reconcile adjusts the fleet toward the current configuration.  It
// spawns up to the desired count per spec, asks surplus workers to
// drain (newest first), and begins draining worker types that are no
// longer configured.  Scale-down never blocks; completion is observed
// through reaping, and re-running the pass is always safe.
func (p *Pool) reconcile() {
	var spawned []WorkerInfo

	p.mx.Lock()
	if p.stopping {
		p.mx.Unlock()
		return
	}
	now := time.Now()
	for spec, want := range p.config {
		t := p.types[spec]
		if t == nil {
			t = newWorkerType(spec, want)
			p.types[spec] = t
			p.bumpSerial()
		}
		t.desired = want
		delta := want - t.liveCount()
		switch {
		case delta > 0:
			if now.Before(t.nextSpawn) {
				// Throttled after rapid exits; the periodic
				// tick retries once the delay passes.
				continue
			}
			for i := 0; i < delta; i++ {
				wi, err := p.spawnLocked(t)
				if err != nil {
					p.logf("Failed to spawn worker [%s]: %v", spec, err)
					t.nextSpawn = now.Add(t.retry.NextBackOff())
					break
				}
				spawned = append(spawned, wi)
			}
		case delta < 0:
			for _, h := range t.victims(-delta) {
				h.stop(true)
			}
			p.bumpSerial()
		}
	}
	for spec, t := range p.types {
		if _, ok := p.config[spec]; ok {
			continue
		}
		t.desired = 0
		for _, h := range t.live() {
			h.stop(true)
		}
		if len(t.handles) == 0 {
			delete(p.types, spec)
			p.bumpSerial()
		}
	}
	hooks := p.hooks
	p.mx.Unlock()

	// Hooks run outside the lock so they may inspect the pool.
	for i := range spawned {
		hooks.Run(&spawned[i])
	}
}

// spawnLocked starts one worker for t and records its handle.  The
// handle is Starting until the launch returns, then Running; no
// explicit readiness handshake exists.  Call with the lock held.
func (p *Pool) spawnLocked(t *WorkerType) (WorkerInfo, error) {
	proc, err := p.launcher.Launch(t.spec)
	if err != nil {
		return WorkerInfo{}, err
	}
	h := newWorkerHandle(t.spec, proc, p.mlog.Logger())
	t.handles[h.id] = h
	h.markRunning()
	p.bumpSerial()
	go p.await(h)
	return WorkerInfo{
		ID:        h.id,
		Pid:       h.Pid(),
		Spec:      h.spec,
		State:     h.State(),
		StartedAt: h.startedAt,
	}, nil
}

// await reaps one child.  It is the only caller of Proc.Wait; the
// exit is delivered to the dispatch loop as an event.
func (p *Pool) await(h *WorkerHandle) {
	err := h.proc.Wait()
	p.exitch <- exitEvent{id: h.id, spec: h.spec, err: err}
}

// reap transitions an exited worker to Terminated, removes it from
// its type's live set, and purges the type if it is no longer
// configured and fully drained.  A crash is reaped like any other
// exit; whether a replacement is spawned is decided solely by the
// next reconciliation.
func (p *Pool) reap(ev exitEvent) {
	p.mx.Lock()
	t := p.types[ev.spec]
	if t == nil {
		p.mx.Unlock()
		return
	}
	h := t.handles[ev.id]
	if h == nil {
		p.mx.Unlock()
		return
	}
	pid := h.Pid()
	h.terminate()
	delete(t.handles, ev.id)
	t.noteExit(h)
	purged := false
	if _, ok := p.config[ev.spec]; !ok && len(t.handles) == 0 {
		delete(p.types, ev.spec)
		purged = true
	}
	p.bumpSerial()
	stopping := p.stopping
	p.mx.Unlock()

	if ev.err != nil {
		p.logf("Reaped worker %d [%s]: %v", pid, ev.spec, ev.err)
	} else {
		p.logf("Reaped worker %d [%s]", pid, ev.spec)
	}
	if purged {
		p.logf("Purged worker type [%s]", ev.spec)
	}
	if !stopping {
		p.Kick(sigReconcile)
	}
}

// shutdown asks every worker to stop and marks the pool stopping.
// Graceful shutdowns forward SIGQUIT (drain current job); immediate
// ones forward SIGTERM, escalating workers already draining.  Run
// returns once the last worker is reaped.
func (p *Pool) shutdown(graceful bool) {
	p.mx.Lock()
	if !p.stopping {
		p.stopping = true
		p.bumpSerial()
		if graceful {
			p.logf("*** Pool %s stopping: draining workers ***", p.name)
		} else {
			p.logf("*** Pool %s stopping: terminating workers ***", p.name)
		}
	}
	for _, t := range p.types {
		t.desired = 0
		for _, h := range t.handles {
			h.stop(graceful)
		}
	}
	p.mx.Unlock()
}

// setPaused forwards pause/resume to every live worker.
func (p *Pool) setPaused(paused bool) {
	p.mx.Lock()
	for _, t := range p.types {
		for _, h := range t.handles {
			if paused {
				h.pause()
			} else {
				h.resume()
			}
		}
	}
	p.bumpSerial()
	p.mx.Unlock()
	if paused {
		p.logf("Paused all workers")
	} else {
		p.logf("Resumed all workers")
	}
}

func (p *Pool) drained() bool {
	p.mx.Lock()
	defer p.mx.Unlock()
	if !p.stopping {
		return false
	}
	for _, t := range p.types {
		if len(t.handles) > 0 {
			return false
		}
	}
	return true
}
