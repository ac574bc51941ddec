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
	"log"
	"os"
	"syscall"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func newTestHandle(t *testing.T) (*WorkerHandle, *fakeProc) {
	fp := &fakeProc{pid: 4321, exited: make(chan struct{})}
	h := newWorkerHandle("foo,bar", fp, log.New(&testLog{t: t}, "", 0))
	return h, fp
}

func TestWorkerLifecycle(t *testing.T) {
	Convey("A worker walks starting -> running -> stopping -> terminated", t, func() {
		h, fp := newTestHandle(t)
		So(h.State(), ShouldEqual, StateStarting)
		So(h.Alive(), ShouldBeTrue)

		h.markRunning()
		So(h.State(), ShouldEqual, StateRunning)
		So(h.Alive(), ShouldBeTrue)

		Convey("A graceful stop forwards SIGQUIT", func() {
			h.stop(true)
			So(h.State(), ShouldEqual, StateStopping)
			So(h.Alive(), ShouldBeFalse)
			So(fp.signals(), ShouldResemble, []os.Signal{syscall.SIGQUIT})

			Convey("A repeated graceful stop is a no-op", func() {
				h.stop(true)
				So(len(fp.signals()), ShouldEqual, 1)
			})

			Convey("An immediate stop escalates the drain", func() {
				// The fake already exited on SIGQUIT, so the
				// escalation signal is refused; the state
				// machine still records the attempt correctly.
				h.stop(false)
				So(h.State(), ShouldEqual, StateStopping)
			})

			Convey("Termination is terminal", func() {
				h.terminate()
				So(h.State(), ShouldEqual, StateTerminated)
				h.stop(false)
				h.markRunning()
				So(h.State(), ShouldEqual, StateTerminated)
			})
		})

		Convey("An immediate stop forwards SIGTERM", func() {
			h.stop(false)
			So(h.State(), ShouldEqual, StateStopping)
			So(fp.signals(), ShouldResemble, []os.Signal{syscall.SIGTERM})
		})
	})
}

func TestWorkerPauseResume(t *testing.T) {
	Convey("Pause and resume forward USR1/USR2 while alive", t, func() {
		h, fp := newTestHandle(t)
		h.markRunning()

		h.pause()
		So(h.paused, ShouldBeTrue)
		So(fp.signals(), ShouldResemble, []os.Signal{syscall.SIGUSR1})

		Convey("A repeated pause sends nothing", func() {
			h.pause()
			So(len(fp.signals()), ShouldEqual, 1)
		})

		Convey("Resume clears the flag", func() {
			h.resume()
			So(h.paused, ShouldBeFalse)
			So(fp.signals(), ShouldResemble,
				[]os.Signal{syscall.SIGUSR1, syscall.SIGUSR2})
		})

		Convey("A dead worker is never signaled", func() {
			h.terminate()
			h.resume()
			So(len(fp.signals()), ShouldEqual, 1)
		})
	})
}

func TestWorkerTypeVictims(t *testing.T) {
	Convey("Victims are chosen newest first", t, func() {
		wt := newWorkerType("foo", 3)
		base := time.Now()
		var handles []*WorkerHandle
		for i := 0; i < 3; i++ {
			h, _ := newTestHandle(t)
			h.startedAt = base.Add(time.Duration(i) * time.Minute)
			h.markRunning()
			wt.handles[h.id] = h
			handles = append(handles, h)
		}

		victims := wt.victims(2)
		So(len(victims), ShouldEqual, 2)
		So(victims[0].id, ShouldEqual, handles[2].id)
		So(victims[1].id, ShouldEqual, handles[1].id)

		Convey("Asking for more victims than live is capped", func() {
			So(len(wt.victims(10)), ShouldEqual, 3)
		})
	})
}

func TestWorkerTypeRespawnThrottle(t *testing.T) {
	Convey("The respawn throttle tracks exit timing", t, func() {
		wt := newWorkerType("foo", 1)

		Convey("A short-lived exit arms a delay", func() {
			// Deterministic intervals for the assertions below.
			wt.retry.RandomizationFactor = 0
			h, _ := newTestHandle(t)
			wt.noteExit(h)
			So(wt.nextSpawn.After(time.Now()), ShouldBeTrue)

			Convey("And consecutive crashes back off further", func() {
				first := time.Until(wt.nextSpawn)
				h2, _ := newTestHandle(t)
				wt.noteExit(h2)
				So(time.Until(wt.nextSpawn), ShouldBeGreaterThan, first)
			})
		})

		Convey("A long-lived exit clears the throttle", func() {
			h, _ := newTestHandle(t)
			h.startedAt = time.Now().Add(-time.Minute)
			wt.noteExit(h)
			So(wt.nextSpawn.IsZero(), ShouldBeTrue)
		})
	})
}
