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
	"strings"
	"sync"
	"time"
)

const (
	// MaxLogRecords bounds the in-memory history kept per pool.
	MaxLogRecords = 1000
)

// LogRecord is one retained line of pool history.  Ids increase
// monotonically and survive wrap-around, so they work as etags for
// the REST layer.
type LogRecord struct {
	Id   int64     `json:"id,string"`
	Time time.Time `json:"time"`
	Text string    `json:"text"`
}

// Log is a watchable ring buffer of log records.  It implements
// io.Writer so a log.Logger can write into it directly.
type Log struct {
	records []LogRecord
	next    int
	id      int64
	cvs     map[*sync.Cond]bool
	mx      sync.Mutex
}

// Write implements the Writer consumed by log.Logger.  Input is text,
// one or more newline-delimited lines at a time.
func (l *Log) Write(b []byte) (int, error) {
	str := strings.Trim(string(b), "\n")
	l.mx.Lock()
	for _, line := range strings.Split(str, "\n") {
		idx := l.next % len(l.records)
		l.id++
		l.records[idx] = LogRecord{Id: l.id, Time: time.Now(), Text: line}
		// next counts total writes; it exceeds the buffer size
		// once we have wrapped.
		l.next++
	}
	for cv := range l.cvs {
		cv.Broadcast()
	}
	l.mx.Unlock()
	return len(b), nil
}

// GetRecords returns the retained records in order, along with the
// newest id.  If last matches the newest id the log is unchanged
// since then and nil is returned immediately.
func (l *Log) GetRecords(last int64) ([]LogRecord, int64) {
	l.mx.Lock()
	defer l.mx.Unlock()
	if l.id == last {
		return nil, last
	}
	cnt := l.next
	if cnt > len(l.records) {
		cnt = len(l.records)
	}
	recs := make([]LogRecord, 0, cnt)
	for i := l.next - cnt; i < l.next; i++ {
		recs = append(recs, l.records[i%len(l.records)])
	}
	return recs, l.id
}

// Watch blocks until the newest id differs from last, or the
// expiration passes.  A zero expiration polls.  The returned id is
// suitable for the next call.
func (l *Log) Watch(last int64, expire time.Duration) int64 {
	expired := false
	var timer *time.Timer
	cv := sync.NewCond(&l.mx)
	if expire > 0 {
		timer = time.AfterFunc(expire, func() {
			l.mx.Lock()
			expired = true
			cv.Broadcast()
			l.mx.Unlock()
		})
	} else {
		expired = true
	}

	l.mx.Lock()
	l.cvs[cv] = true
	for l.id == last && !expired {
		cv.Wait()
	}
	delete(l.cvs, cv)
	rv := l.id
	l.mx.Unlock()
	if timer != nil {
		timer.Stop()
	}
	return rv
}

// NewLog returns an empty Log.  The starting id is the current time
// in nanoseconds, so a restarted pool never hands out an id a stale
// client could mistake for its cached one.
func NewLog() *Log {
	return &Log{
		records: make([]LogRecord, MaxLogRecords),
		id:      time.Now().UnixNano(),
		cvs:     make(map[*sync.Cond]bool),
	}
}
