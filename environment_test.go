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
	"os"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

// unsetenv removes a variable for the duration of the test, restoring
// any prior value afterwards.
func unsetenv(t *testing.T, key string) {
	if v, ok := os.LookupEnv(key); ok {
		t.Cleanup(func() { os.Setenv(key, v) })
		os.Unsetenv(key)
	}
}

func TestResolveEnvironmentPrecedence(t *testing.T) {
	unsetenv(t, EnvRack)
	unsetenv(t, EnvRails)
	unsetenv(t, EnvResque)

	Convey("Environment resolution tries sources in a fixed order", t, func() {
		Reset(func() {
			ClearEnvironment()
			SetEnvironmentFunc(nil)
		})

		Convey("With no sources, nothing resolves", func() {
			_, ok := ResolveEnvironment()
			So(ok, ShouldBeFalse)
		})

		Convey("With every source populated", func() {
			t.Setenv(EnvRack, "rack")
			t.Setenv(EnvRails, "rails")
			t.Setenv(EnvResque, "resque")
			SetEnvironmentFunc(func() string { return "ambient" })
			SetEnvironment("explicit")

			Convey("The explicit override wins", func() {
				v, ok := ResolveEnvironment()
				So(ok, ShouldBeTrue)
				So(v, ShouldEqual, "explicit")
			})

			Convey("Then the ambient accessor", func() {
				ClearEnvironment()
				v, ok := ResolveEnvironment()
				So(ok, ShouldBeTrue)
				So(v, ShouldEqual, "ambient")
			})

			Convey("An empty ambient result does not contribute", func() {
				ClearEnvironment()
				SetEnvironmentFunc(func() string { return "" })
				v, ok := ResolveEnvironment()
				So(ok, ShouldBeTrue)
				So(v, ShouldEqual, "rack")
			})

			Convey("Then RACK_ENV, RAILS_ENV, RESQUE_ENV in order", func() {
				ClearEnvironment()
				SetEnvironmentFunc(nil)

				v, _ := ResolveEnvironment()
				So(v, ShouldEqual, "rack")

				unsetenv(t, EnvRack)
				v, _ = ResolveEnvironment()
				So(v, ShouldEqual, "rails")

				unsetenv(t, EnvRails)
				v, _ = ResolveEnvironment()
				So(v, ShouldEqual, "resque")
			})
		})

		Convey("Nothing is cached between resolutions", func() {
			SetEnvironment("one")
			v, _ := ResolveEnvironment()
			So(v, ShouldEqual, "one")

			SetEnvironment("two")
			v, _ = ResolveEnvironment()
			So(v, ShouldEqual, "two")
		})
	})
}
