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
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestParseQueueSpec(t *testing.T) {
	Convey("Queue specs parse from comma separated lists", t, func() {
		Convey("A single name", func() {
			spec, err := ParseQueueSpec("foo")
			So(err, ShouldBeNil)
			So(spec, ShouldEqual, QueueSpec("foo"))
			So(spec.Names(), ShouldResemble, []string{"foo"})
		})

		Convey("Whitespace around names is trimmed, order is kept", func() {
			spec, err := ParseQueueSpec(" foo , bar ,baz")
			So(err, ShouldBeNil)
			So(spec, ShouldEqual, QueueSpec("foo,bar,baz"))
			So(spec.Names(), ShouldResemble, []string{"foo", "bar", "baz"})
		})

		Convey("Order is identity", func() {
			a, err := ParseQueueSpec("foo,bar")
			So(err, ShouldBeNil)
			b, err := ParseQueueSpec("bar,foo")
			So(err, ShouldBeNil)
			So(a, ShouldNotEqual, b)
		})

		Convey("Empty input is rejected", func() {
			_, err := ParseQueueSpec("")
			So(err, ShouldEqual, ErrEmptySpec)
		})

		Convey("An empty name inside the list is rejected", func() {
			_, err := ParseQueueSpec("foo,,bar")
			So(err, ShouldEqual, ErrEmptySpec)
			_, err = ParseQueueSpec("foo, ,bar")
			So(err, ShouldEqual, ErrEmptySpec)
		})
	})
}
