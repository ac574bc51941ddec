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
)

// QueueSpec is an ordered list of queue names that a single worker
// drains, highest priority first, in its literal comma-joined form.
// The literal text is the spec's identity: "foo,bar" and "bar,foo"
// name two distinct worker types.
type QueueSpec string

// ParseQueueSpec parses a comma separated list of queue names.  The
// whitespace around each name is trimmed, but the order of the names
// is preserved.  An empty list, or a list containing an empty name,
// is rejected.
func ParseQueueSpec(s string) (QueueSpec, error) {
	parts := strings.Split(s, ",")
	names := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			return "", ErrEmptySpec
		}
		names = append(names, p)
	}
	return QueueSpec(strings.Join(names, ",")), nil
}

// Names returns the individual queue names, highest priority first.
func (q QueueSpec) Names() []string {
	if q == "" {
		return nil
	}
	return strings.Split(string(q), ",")
}

func (q QueueSpec) String() string {
	return string(q)
}
