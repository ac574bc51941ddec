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
	"strings"
	"sync"
)

// MultiLogger fans a single log.Logger interface out to several
// destinations.  It implements io.Writer; lines written through its
// Logger are delivered to every registered logger, each of which may
// keep its own prefix and flags.  The pool uses one to feed stderr,
// the ring-buffer Log, and anything the embedding application adds.
type MultiLogger struct {
	log     *log.Logger
	loggers []*log.Logger
	mx      sync.Mutex
}

// Write implements io.Writer for use by Logger.  Input arrives a line
// (or several newline-delimited lines) at a time, per the log.Logger
// contract.
func (l *MultiLogger) Write(b []byte) (int, error) {
	lines := strings.Split(strings.Trim(string(b), "\n"), "\n")
	l.mx.Lock()
	for _, line := range lines {
		for _, logger := range l.loggers {
			logger.Println(line)
		}
	}
	l.mx.Unlock()
	return len(b), nil
}

// AddLogger registers a destination.  A logger is registered at most
// once; re-adding is a no-op.
func (l *MultiLogger) AddLogger(logger *log.Logger) {
	l.mx.Lock()
	defer l.mx.Unlock()
	for _, x := range l.loggers {
		if x == logger {
			return
		}
	}
	l.loggers = append(l.loggers, logger)
}

// DelLogger removes a destination.
func (l *MultiLogger) DelLogger(logger *log.Logger) {
	l.mx.Lock()
	defer l.mx.Unlock()
	for i, x := range l.loggers {
		if x == logger {
			l.loggers = append(l.loggers[:i], l.loggers[i+1:]...)
			break
		}
	}
}

// Logger returns the fan-out logger callers should write to.
func (l *MultiLogger) Logger() *log.Logger {
	return l.log
}

// NewMultiLogger returns an empty MultiLogger.
func NewMultiLogger() *MultiLogger {
	m := &MultiLogger{}
	m.log = log.New(m, "", 0)
	return m
}
