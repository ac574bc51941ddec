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
	"os/signal"
	"syscall"
)

// Runner is the job-processing collaborator executed inside each
// worker process.  Run consumes from the named queues, in priority
// order, until its context is canceled or Drain is called.  Pause and
// Resume suspend and restart consumption without exiting.
type Runner interface {
	// Run blocks, consuming jobs from the queues, highest priority
	// first.  It returns when the context is canceled (after
	// aborting any current job) or after Drain (after finishing
	// the current job).
	Run(ctx context.Context, queues []string) error

	// Drain asks the runner to finish its current job, stop
	// consuming, and let Run return.
	Drain()

	// Pause suspends consumption; running jobs finish.
	Pause()

	// Resume restarts consumption after a Pause.
	Resume()
}

// RunWorker is the worker-side entry point, called in the freshly
// spawned process image.  It resets the inherited signal
// dispositions, reads the queue spec from the environment, runs every
// hook registered in this image in registration order, installs the
// worker signal mapping (QUIT drains, TERM/INT cancel, USR1 pauses,
// USR2 resumes), and hands control to the runner.
func RunWorker(r Runner) error {
	// A fresh worker must not inherit the supervisor's pending
	// signal handling state.
	signal.Reset()

	qenv := os.Getenv(EnvQueues)
	if qenv == "" {
		return ErrNoQueueEnv
	}
	spec, err := ParseQueueSpec(qenv)
	if err != nil {
		return err
	}

	wi := &WorkerInfo{
		Pid:   os.Getpid(),
		Spec:  spec,
		State: StateStarting,
	}
	defaultHooks.Run(wi)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := make(chan os.Signal, 8)
	signal.Notify(ch,
		syscall.SIGQUIT,
		syscall.SIGTERM,
		syscall.SIGINT,
		syscall.SIGUSR1,
		syscall.SIGUSR2,
	)
	defer func() {
		signal.Stop(ch)
		close(ch)
	}()

	go func() {
		for s := range ch {
			switch s {
			case syscall.SIGQUIT:
				r.Drain()
			case syscall.SIGTERM, syscall.SIGINT:
				cancel()
				return
			case syscall.SIGUSR1:
				r.Pause()
			case syscall.SIGUSR2:
				r.Resume()
			}
		}
	}()

	return r.Run(ctx, spec.Names())
}
