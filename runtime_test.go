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
	"os"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

type fakeRunner struct {
	queues []string
	err    error
}

func (r *fakeRunner) Run(ctx context.Context, queues []string) error {
	r.queues = queues
	return r.err
}

func (r *fakeRunner) Drain()  {}
func (r *fakeRunner) Pause()  {}
func (r *fakeRunner) Resume() {}

func TestRunWorker(t *testing.T) {
	Convey("RunWorker hands the queue spec to the runner", t, func() {
		Reset(ResetHooks)
		ResetHooks()

		Convey("Without the queue variable it refuses to run", func() {
			t.Setenv(EnvQueues, "")
			So(RunWorker(&fakeRunner{}), ShouldEqual, ErrNoQueueEnv)
		})

		Convey("A malformed spec is rejected", func() {
			t.Setenv(EnvQueues, "foo,,bar")
			So(RunWorker(&fakeRunner{}), ShouldEqual, ErrEmptySpec)
		})

		Convey("Queues arrive in priority order", func() {
			t.Setenv(EnvQueues, "high, low")
			r := &fakeRunner{}
			So(RunWorker(r), ShouldBeNil)
			So(r.queues, ShouldResemble, []string{"high", "low"})
		})

		Convey("Hooks registered in this image run before the runner", func() {
			t.Setenv(EnvQueues, "foo")
			var seq []string
			var got WorkerInfo
			AfterSpawn(func(wi *WorkerInfo) {
				seq = append(seq, "hook")
				got = *wi
			})
			r := &fakeRunner{}
			So(RunWorker(r), ShouldBeNil)
			So(seq, ShouldResemble, []string{"hook"})
			So(got.Spec, ShouldEqual, QueueSpec("foo"))
			So(got.Pid, ShouldEqual, os.Getpid())
			So(got.State, ShouldEqual, StateStarting)
		})

		Convey("The runner's error is passed through", func() {
			t.Setenv(EnvQueues, "foo")
			r := &fakeRunner{err: ErrNotRunning}
			So(RunWorker(r), ShouldEqual, ErrNotRunning)
		})
	})
}
