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

// poolvisord supervises a fleet of queue workers described by a
// configuration file, spawning one instance of the worker command per
// desired worker.  SIGHUP reloads the configuration and reconciles
// the fleet; SIGQUIT drains it; SIGTERM/SIGINT terminate it.  A REST
// API for observation and control is served on the listen address.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"strings"

	"github.com/poolvisor/poolvisor"
	"github.com/poolvisor/poolvisor/rest"
)

var addr string = "127.0.0.1:8322"
var cfg string = ""
var name string = "poolvisor"
var env string = ""
var worker string = ""

func main() {
	flag.StringVar(&addr, "a", addr, "listen address")
	flag.StringVar(&cfg, "c", cfg, "configuration file (default poolvisor.yml)")
	flag.StringVar(&name, "n", name, "pool name")
	flag.StringVar(&env, "e", env, "environment name")
	flag.StringVar(&worker, "w", worker, "worker command")
	flag.Parse()

	if env != "" {
		poolvisor.SetEnvironment(env)
	}
	var src poolvisor.ConfigSource
	if cfg != "" {
		src = poolvisor.NewLoader(cfg)
	}

	p, e := poolvisor.NewPool(name, src)
	if e != nil {
		log.Fatalf("Failed to load configuration: %v", e)
	}
	if worker == "" {
		log.Fatalf("No worker command given (-w)")
	}
	p.SetLauncher(poolvisor.NewExecLauncher(strings.Fields(worker)))

	go func() {
		log.Fatal(http.ListenAndServe(addr, rest.NewHandler(p)))
	}()

	if e := p.Run(context.Background()); e != nil {
		log.Fatalf("Pool exited: %v", e)
	}
}
