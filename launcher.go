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
	"bufio"
	"io"
	"log"
	"os"
	"os/exec"
	"strings"
)

// Environment variables set in every spawned worker process.
const (
	EnvQueues = "POOLVISOR_QUEUES"
	EnvWorker = "POOLVISOR_WORKER"
)

// Proc is the minimal process handle the pool needs.  It is satisfied
// by real child processes and, in tests, by fakes.
type Proc interface {
	// Pid returns the operating system process identifier.
	Pid() int

	// Signal delivers an OS signal to the process.
	Signal(sig os.Signal) error

	// Wait blocks until the process exits.  It may be called at
	// most once, by the pool's reaper.
	Wait() error
}

// Launcher starts one worker process for a queue spec.  Launch must
// return once the process image has started; no readiness handshake
// is required.
type Launcher interface {
	Launch(spec QueueSpec) (Proc, error)
}

// ExecLauncher launches workers by executing a command with the queue
// spec in the child's environment.  A fresh command is built per
// launch; the children do not inherit the pool's pending signal
// handling state, and the worker entry point resets dispositions
// besides.
type ExecLauncher struct {
	command []string
	dir     string
	env     []string
	logger  *log.Logger
}

// NewExecLauncher returns a launcher for the given command line.
func NewExecLauncher(command []string) *ExecLauncher {
	return &ExecLauncher{
		command: command,
		logger:  log.New(os.Stderr, "", log.LstdFlags),
	}
}

// SetDir sets the working directory for spawned workers.
func (l *ExecLauncher) SetDir(dir string) {
	l.dir = dir
}

// SetEnv appends extra environment entries, in the usual KEY=VALUE
// form, to every spawned worker.
func (l *ExecLauncher) SetEnv(env []string) {
	l.env = env
}

// SetLogger directs the captured stdout/stderr of spawned workers.
func (l *ExecLauncher) SetLogger(logger *log.Logger) {
	l.logger = logger
}

func (l *ExecLauncher) Launch(spec QueueSpec) (Proc, error) {
	if len(l.command) == 0 {
		return nil, ErrNoLauncher
	}
	cmd := exec.Command(l.command[0], l.command[1:]...)
	cmd.Dir = l.dir
	cmd.Env = append(os.Environ(), l.env...)
	cmd.Env = append(cmd.Env,
		EnvQueues+"="+spec.String(),
		EnvWorker+"=1",
	)

	if stdout, e := cmd.StdoutPipe(); e != nil {
		l.logger.Printf("Failed to capture stdout: %v", e)
	} else {
		go l.drain(stdout, "stdout> ")
	}
	if stderr, e := cmd.StderrPipe(); e != nil {
		l.logger.Printf("Failed to capture stderr: %v", e)
	} else {
		go l.drain(stderr, "stderr> ")
	}

	if e := cmd.Start(); e != nil {
		return nil, e
	}
	return &execProc{cmd: cmd}, nil
}

// drain gathers child output in chunks of lines.
func (l *ExecLauncher) drain(r io.ReadCloser, prefix string) {
	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadString('\n')
		if len(line) != 0 {
			l.logger.Print(prefix, strings.Trim(line, "\n"))
		}
		if err != nil {
			return
		}
	}
}

type execProc struct {
	cmd *exec.Cmd
}

func (p *execProc) Pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *execProc) Signal(sig os.Signal) error {
	if p.cmd.Process == nil {
		return ErrNotRunning
	}
	return p.cmd.Process.Signal(sig)
}

func (p *execProc) Wait() error {
	return p.cmd.Wait()
}
