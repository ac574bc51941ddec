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

// Package rest exposes a Pool over HTTP, and provides the matching
// client.  Snapshots carry the pool serial as an Etag; a client may
// long-poll for changes by presenting its cached Etag along with a
// wait time.
package rest

const (
	mimeJson = "application/json; charset=UTF-8"

	// PollEtagHeader and PollTimeHeader request a long poll: the
	// server holds the request until the resource's Etag differs
	// from the presented one, or the wait (in seconds) passes.
	PollEtagHeader = "X-Poolvisor-Etag"
	PollTimeHeader = "X-Poolvisor-Wait"

	// maxPollSecs caps how long a single long poll may be held.
	maxPollSecs = 300
)

var ok struct{}

type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return e.Message
}
