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
	"sync"
)

// Environment variables consulted when resolving the active
// environment name.  These match the conventions of the Rack/Resque
// deployments this supervisor is typically pointed at.
const (
	EnvRack   = "RACK_ENV"
	EnvRails  = "RAILS_ENV"
	EnvResque = "RESQUE_ENV"
)

var (
	envMx       sync.Mutex
	envOverride string
	envSet      bool
	envFunc     func() string
)

// SetEnvironment installs a process-wide environment name that takes
// precedence over every other source, including the ambient accessor
// and all environment variables.
func SetEnvironment(name string) {
	envMx.Lock()
	envOverride = name
	envSet = true
	envMx.Unlock()
}

// ClearEnvironment removes the override installed by SetEnvironment.
func ClearEnvironment() {
	envMx.Lock()
	envOverride = ""
	envSet = false
	envMx.Unlock()
}

// SetEnvironmentFunc installs an ambient environment accessor, probed
// after the explicit override but before any environment variables.
// Passing nil uninstalls it.  The accessor contributes a name only if
// it returns a non-empty string.
func SetEnvironmentFunc(fn func() string) {
	envMx.Lock()
	envFunc = fn
	envMx.Unlock()
}

// ResolveEnvironment determines the active environment name, trying a
// fixed, ordered list of sources and stopping at the first defined
// value.  It is re-evaluated on every configuration load; nothing is
// cached here.
func ResolveEnvironment() (string, bool) {
	envMx.Lock()
	override, set, fn := envOverride, envSet, envFunc
	envMx.Unlock()

	strategies := []func() (string, bool){
		func() (string, bool) { return override, set },
		func() (string, bool) {
			if fn == nil {
				return "", false
			}
			v := fn()
			return v, v != ""
		},
		func() (string, bool) { return os.LookupEnv(EnvRack) },
		func() (string, bool) { return os.LookupEnv(EnvRails) },
		func() (string, bool) { return os.LookupEnv(EnvResque) },
	}
	for _, try := range strategies {
		if v, ok := try(); ok {
			return v, true
		}
	}
	return "", false
}
