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
	"bytes"
	"fmt"
	"os"
	"sync"
	"text/template"

	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is where the file loader looks when no explicit
// path is supplied.  EnvConfigPath names an environment variable that
// overrides it.
const (
	DefaultConfigPath = "poolvisor.yml"
	EnvConfigPath     = "POOLVISOR_CONFIG"
)

// Config maps each queue spec to the number of worker processes that
// should be consuming it.  A Config is replaced wholesale on every
// successful load; it is never merged in place with its predecessor.
type Config map[QueueSpec]int

// Clone returns a copy of the configuration.
func (c Config) Clone() Config {
	rv := make(Config, len(c))
	for k, v := range c {
		rv[k] = v
	}
	return rv
}

// ConfigSource produces a Config for a given environment name.  The
// empty string means no environment could be resolved, in which case
// only default-scope entries are returned.
type ConfigSource interface {
	Resolve(env string) (Config, error)
}

// Resetter is implemented by config sources that keep a cache.  The
// pool invokes Reset once immediately before every reload triggered
// by SIGHUP, and never before the initial load.
type Resetter interface {
	Reset()
}

// Loader is the file-or-map configuration source.  It reads one of:
// an in-memory mapping, a named file, or (for the default loader) the
// default path, overridable via POOLVISOR_CONFIG.  File contents are
// template-expanded before parsing; the "env" function exposes
// environment variables to the template.
//
// The top level of the input must be a mapping.  Any value that is
// itself a mapping names an environment-scoped section; all other
// entries form the default scope.  Resolving merges the section named
// by the active environment over the default scope.  Sections for
// other environments are discarded entirely.
type Loader struct {
	src        interface{}
	useDefault bool
}

// NewLoader returns a Loader for an explicit source: nil (an empty
// configuration), a map[string]interface{}, or a string file path.
func NewLoader(src interface{}) *Loader {
	return &Loader{src: src}
}

// NewDefaultLoader returns a Loader bound to the default config path.
// A missing file at the default path is not an error; the result is
// simply an empty configuration.
func NewDefaultLoader() *Loader {
	return &Loader{useDefault: true}
}

func (l *Loader) Resolve(env string) (Config, error) {
	raw, err := l.load()
	if err != nil {
		return nil, err
	}
	return resolveScopes(raw, env)
}

// load produces the unresolved top-level mapping.
func (l *Loader) load() (map[string]interface{}, error) {
	if l.useDefault {
		path := os.Getenv(EnvConfigPath)
		if path == "" {
			path = DefaultConfigPath
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return nil, nil
		}
		return loadFile(path)
	}
	switch src := l.src.(type) {
	case nil:
		return nil, nil
	case map[string]interface{}:
		return src, nil
	case string:
		return loadFile(src)
	}
	return nil, fmt.Errorf("unsupported config source %T", l.src)
}

func loadFile(path string) (map[string]interface{}, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	b, err = expandTemplate(path, b)
	if err != nil {
		return nil, err
	}
	raw := map[string]interface{}{}
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return raw, nil
}

// expandTemplate runs the file contents through text/template before
// structural parsing.  This is an opaque preprocessing step; the only
// function exposed is env, for reading environment variables.
func expandTemplate(name string, b []byte) ([]byte, error) {
	t, err := template.New(name).Funcs(template.FuncMap{
		"env": os.Getenv,
	}).Parse(string(b))
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, nil); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// resolveScopes splits the raw mapping into the default scope and the
// environment-scoped sections, then merges the matching section (if
// any) over the default scope.  Sections for other environments never
// contribute entries.
func resolveScopes(raw map[string]interface{}, env string) (Config, error) {
	def := Config{}
	var section map[string]interface{}
	for k, v := range raw {
		if sub, ok := asMapping(v); ok {
			if env != "" && k == env {
				section = sub
			}
			continue
		}
		if err := addCount(def, k, v); err != nil {
			return nil, err
		}
	}
	for k, v := range section {
		if _, ok := asMapping(v); ok {
			return nil, fmt.Errorf("%w: nested section %q", ErrBadScope, k)
		}
		if err := addCount(def, k, v); err != nil {
			return nil, err
		}
	}
	return def, nil
}

func asMapping(v interface{}) (map[string]interface{}, bool) {
	switch sub := v.(type) {
	case map[string]interface{}:
		return sub, true
	case map[string]int:
		// Convenience for in-memory sections.
		rv := make(map[string]interface{}, len(sub))
		for k, n := range sub {
			rv[k] = n
		}
		return rv, true
	}
	return nil, false
}

func addCount(c Config, key string, v interface{}) error {
	spec, err := ParseQueueSpec(key)
	if err != nil {
		return fmt.Errorf("queue spec %q: %w", key, err)
	}
	n, ok := asCount(v)
	if !ok || n < 0 {
		return fmt.Errorf("%w: %q", ErrBadCount, key)
	}
	c[spec] = n
	return nil
}

func asCount(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case uint64:
		return int(n), true
	}
	return 0, false
}

// ResolverFunc is the custom resolver signature wrapped by a
// CustomLoader.
type ResolverFunc func(env string) (Config, error)

// CustomLoader adapts an externally supplied resolver into a
// ConfigSource.  The optional reset function, when present, is called
// on Reset so the resolver can invalidate any cache it keeps.
type CustomLoader struct {
	fn    ResolverFunc
	reset func()
}

// NewCustomLoader wraps fn.  reset may be nil, in which case Reset is
// a no-op.
func NewCustomLoader(fn ResolverFunc, reset func()) (*CustomLoader, error) {
	if fn == nil {
		return nil, ErrNilResolver
	}
	return &CustomLoader{fn: fn, reset: reset}, nil
}

func (l *CustomLoader) Resolve(env string) (Config, error) {
	return l.fn(env)
}

func (l *CustomLoader) Reset() {
	if l.reset != nil {
		l.reset()
	}
}

var (
	sourceMx      sync.Mutex
	defaultSource ConfigSource
)

// SetDefaultSource installs a process-wide default configuration
// source, consumed by NewDefaultPool.
func SetDefaultSource(src ConfigSource) {
	sourceMx.Lock()
	defaultSource = src
	sourceMx.Unlock()
}

// ResetDefaultSource clears any installed override, restoring the
// factory default (a Loader bound to the default path).
func ResetDefaultSource() {
	sourceMx.Lock()
	defaultSource = nil
	sourceMx.Unlock()
}

// DefaultSource returns the installed default source, or the factory
// default when none has been installed.
func DefaultSource() ConfigSource {
	sourceMx.Lock()
	defer sourceMx.Unlock()
	if defaultSource != nil {
		return defaultSource
	}
	return NewDefaultLoader()
}
