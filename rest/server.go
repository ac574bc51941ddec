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

package rest

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/poolvisor/poolvisor"
)

// Handler wraps a Pool, adding http.Handler functionality.
type Handler struct {
	p *poolvisor.Pool
	r *mux.Router
}

func (h *Handler) internalError(w http.ResponseWriter, e error) {
	http.Error(w, e.Error(), http.StatusInternalServerError)
}

func (h *Handler) writeJson(w http.ResponseWriter, v interface{}) {
	if b, e := json.Marshal(v); e != nil {
		h.internalError(w, e)
	} else {
		w.Header().Set("Content-Type", mimeJson)
		w.Write(b)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, e *Error) {
	if b, err := json.Marshal(e); err != nil {
		h.internalError(w, err)
	} else {
		w.Header().Set("Content-Type", mimeJson)
		w.WriteHeader(e.Code)
		w.Write(b)
	}
}

// pollSerial implements conditional gets against the pool serial.  If
// the request presents the current serial and asks for a long poll,
// the request is held until the serial moves or the wait passes.  It
// reports the serial to tag the response with, and whether the
// resource is unmodified.
func (h *Handler) pollSerial(r *http.Request) (int64, bool) {
	serial := h.p.Serial()
	etag := r.Header.Get("If-None-Match")
	if etag == "" {
		return serial, false
	}
	old, e := strconv.ParseInt(etag, 10, 64)
	if e != nil || old != serial {
		return serial, false
	}
	secs := 0
	if v := r.Header.Get(PollTimeHeader); v != "" && r.Header.Get(PollEtagHeader) == etag {
		secs, _ = strconv.Atoi(v)
	}
	if secs > maxPollSecs {
		secs = maxPollSecs
	}
	if secs > 0 {
		serial = h.p.WatchSerial(old, time.Duration(secs)*time.Second)
	}
	return serial, serial == old
}

func (h *Handler) getPool(w http.ResponseWriter, r *http.Request) {
	serial, unchanged := h.pollSerial(r)
	if unchanged {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Etag", strconv.FormatInt(serial, 10))
	h.writeJson(w, h.p.Info())
}

func (h *Handler) listWorkerTypes(w http.ResponseWriter, r *http.Request) {
	serial, unchanged := h.pollSerial(r)
	if unchanged {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Etag", strconv.FormatInt(serial, 10))
	h.writeJson(w, h.p.WorkerTypes())
}

func (h *Handler) getWorkerType(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	spec := poolvisor.QueueSpec(vars["spec"])
	if info, e := h.p.WorkerType(spec); e != nil {
		h.writeError(w, &Error{http.StatusNotFound, "Worker type not found"})
	} else {
		h.writeJson(w, info)
	}
}

func (h *Handler) scaleWorkerType(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	spec, e := poolvisor.ParseQueueSpec(vars["spec"])
	if e != nil {
		h.writeError(w, &Error{http.StatusBadRequest, e.Error()})
		return
	}
	count, e := strconv.Atoi(r.URL.Query().Get("count"))
	if e != nil {
		h.writeError(w, &Error{http.StatusBadRequest, "Bad count"})
		return
	}
	if e := h.p.Scale(spec, count); e != nil {
		h.writeError(w, &Error{http.StatusBadRequest, e.Error()})
		return
	}
	h.writeJson(w, ok)
}

// kick injects a symbolic signal onto the pool's dispatch queue; the
// semantics are identical to receiving the OS signal.
func (h *Handler) kick(sig poolvisor.Signal) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.p.Kick(sig)
		h.writeJson(w, ok)
	}
}

func (h *Handler) getLog(w http.ResponseWriter, r *http.Request) {
	var last int64
	if etag := r.Header.Get("If-None-Match"); etag != "" {
		last, _ = strconv.ParseInt(etag, 10, 64)
		secs := 0
		if v := r.Header.Get(PollTimeHeader); v != "" && r.Header.Get(PollEtagHeader) == etag {
			secs, _ = strconv.Atoi(v)
		}
		if secs > maxPollSecs {
			secs = maxPollSecs
		}
		if secs > 0 {
			h.p.WatchLog(last, time.Duration(secs)*time.Second)
		}
	}
	recs, id := h.p.GetLog(last)
	if recs == nil && last != 0 {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Etag", strconv.FormatInt(id, 10))
	h.writeJson(w, recs)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	h.r.ServeHTTP(w, req)
}

// NewHandler returns an http.Handler exposing the pool.
func NewHandler(p *poolvisor.Pool) *Handler {
	r := mux.NewRouter()
	h := &Handler{p: p, r: r}
	r.HandleFunc("/pool", h.getPool).Methods("GET")
	r.HandleFunc("/pool/log", h.getLog).Methods("GET")
	r.HandleFunc("/pool/reload", h.kick(poolvisor.SigHup)).Methods("POST")
	r.HandleFunc("/pool/pause", h.kick(poolvisor.SigUsr1)).Methods("POST")
	r.HandleFunc("/pool/resume", h.kick(poolvisor.SigUsr2)).Methods("POST")
	r.HandleFunc("/pool/shutdown", h.kick(poolvisor.SigQuit)).Methods("POST")
	r.HandleFunc("/workers", h.listWorkerTypes).Methods("GET")
	r.HandleFunc("/workers/{spec}", h.getWorkerType).Methods("GET")
	r.HandleFunc("/workers/{spec}/scale", h.scaleWorkerType).Methods("POST")
	return h
}
