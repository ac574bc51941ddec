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
	"io/ioutil"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/context"

	"github.com/poolvisor/poolvisor"
)

// LogInfo is a cached view of the pool log.
type LogInfo struct {
	etag    string
	Records []poolvisor.LogRecord
}

// Client talks to a pool's REST handler.  It caches snapshots keyed
// by Etag, so repeated gets of unchanged state cost a conditional
// request.
type Client struct {
	user      string // HTTP Basic-Auth
	pass      string
	base      string // URI to root of tree on server
	auth      bool
	client    *http.Client
	transport *http.Transport

	// Cached data
	pool     *poolvisor.PoolInfo
	poolEtag string
	log      *LogInfo
	lock     sync.Mutex
}

func (c *Client) SetAuth(user string, pass string) {
	c.user = user
	c.pass = pass
	c.auth = true
}

func (c *Client) specUrl(spec poolvisor.QueueSpec) string {
	return c.base + "/workers/" + url.PathEscape(string(spec))
}

// PoolInfo fetches the top-level pool snapshot.
func (c *Client) PoolInfo() (*poolvisor.PoolInfo, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return c.pollPool(ctx, 0)
}

// WatchPool blocks until the pool state changes from the snapshot
// most recently returned, or the context expires.
func (c *Client) WatchPool(ctx context.Context) (*poolvisor.PoolInfo, error) {
	return c.pollPool(ctx, maxPollSecs)
}

func (c *Client) pollPool(ctx context.Context, secs int) (*poolvisor.PoolInfo, error) {
	c.lock.Lock()
	otag := c.poolEtag
	cached := c.pool
	c.lock.Unlock()

	v := &poolvisor.PoolInfo{}
	etag, e := c.poll(ctx, c.base+"/pool", otag, secs, v)
	if e != nil {
		return nil, e
	}
	if etag == "" {
		return cached, nil
	}
	c.lock.Lock()
	c.pool = v
	c.poolEtag = etag
	c.lock.Unlock()
	return v, nil
}

// WorkerTypes lists every worker type with its workers.
func (c *Client) WorkerTypes() ([]poolvisor.WorkerTypeInfo, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	v := []poolvisor.WorkerTypeInfo{}
	if _, e := c.poll(ctx, c.base+"/workers", "", 0, &v); e != nil {
		return nil, e
	}
	return v, nil
}

// WorkerType fetches a single worker type by its queue spec.
func (c *Client) WorkerType(spec poolvisor.QueueSpec) (*poolvisor.WorkerTypeInfo, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	v := &poolvisor.WorkerTypeInfo{}
	if _, e := c.poll(ctx, c.specUrl(spec), "", 0, v); e != nil {
		return nil, e
	}
	return v, nil
}

// Scale sets the desired worker count for a queue spec.
func (c *Client) Scale(spec poolvisor.QueueSpec, count int) error {
	return c.post(c.specUrl(spec) + "/scale?count=" + strconv.Itoa(count))
}

// Reload asks the pool to re-read its configuration, exactly as a
// SIGHUP would.
func (c *Client) Reload() error {
	return c.post(c.base + "/pool/reload")
}

// Pause suspends every worker in the pool.
func (c *Client) Pause() error {
	return c.post(c.base + "/pool/pause")
}

// Resume restarts paused workers.
func (c *Client) Resume() error {
	return c.post(c.base + "/pool/resume")
}

// Shutdown asks the pool to drain and exit.
func (c *Client) Shutdown() error {
	return c.post(c.base + "/pool/shutdown")
}

// GetLog returns the pool log, utilizing caching checks.  It does not
// wait for changes.
func (c *Client) GetLog() (*LogInfo, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return c.pollLog(ctx, 0)
}

// WatchLog blocks until the log grows past the most recently returned
// records, or the context expires.
func (c *Client) WatchLog(ctx context.Context) (*LogInfo, error) {
	return c.pollLog(ctx, maxPollSecs)
}

func (c *Client) pollLog(ctx context.Context, secs int) (*LogInfo, error) {
	c.lock.Lock()
	cached := c.log
	otag := ""
	if cached != nil {
		otag = cached.etag
	}
	c.lock.Unlock()

	v := &LogInfo{}
	etag, e := c.poll(ctx, c.base+"/pool/log", otag, secs, &v.Records)
	if e != nil {
		return nil, e
	}
	if etag == "" {
		return cached, nil
	}
	v.etag = etag
	c.lock.Lock()
	c.log = v
	c.lock.Unlock()
	return v, nil
}

type chanResp struct {
	r *http.Response
	e error
}

// poll issues an HTTP GET against the URL, optionally checking a
// cached Etag, and optionally long-polling until the value changes.
// The return values are the new Etag and any error.  If the value did
// not change, the returned Etag is "" with a nil error.
func (c *Client) poll(ctx context.Context, url string, etag string, wait int, v interface{}) (string, error) {
	req, e := http.NewRequest("GET", url, nil)
	if e != nil {
		return "", e
	}
	if c.auth {
		req.SetBasicAuth(c.user, c.pass)
	}
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
		if wait > 0 {
			req.Header.Set(PollEtagHeader, etag)
			req.Header.Set(PollTimeHeader, strconv.Itoa(wait))
		}
	}

	ch := make(chan chanResp)
	go func() {
		res, e := c.client.Do(req)
		ch <- chanResp{r: res, e: e}
	}()

	var res *http.Response
	select {
	case <-ctx.Done():
		c.transport.CancelRequest(req)
		<-ch // wait for the Do to finish (or be canceled)
		return "", ctx.Err()
	case cr := <-ch:
		res = cr.r
		e = cr.e
	}
	if e != nil {
		return "", e
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotModified {
		return "", nil
	}
	if res.StatusCode != http.StatusOK {
		return "", &Error{Code: res.StatusCode, Message: res.Status}
	}
	body, e := ioutil.ReadAll(res.Body)
	if e != nil {
		return "", e
	}
	if e := json.Unmarshal(body, v); e != nil {
		return "", e
	}
	return res.Header.Get("Etag"), nil
}

func (c *Client) post(url string) error {
	req, e := http.NewRequest("POST", url, strings.NewReader(""))
	if e != nil {
		return e
	}
	req.Header.Set("Content-Type", "text/plain") // we don't really care
	if c.auth {
		req.SetBasicAuth(c.user, c.pass)
	}
	res, e := c.client.Do(req)
	if e != nil {
		return e
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return &Error{Code: res.StatusCode, Message: res.Status}
	}
	return nil
}

// NewClient returns a Client handle.  The transport may be nil to use
// a default transport, but it may also be adjusted to support
// additional options such as TLS.  baseURI is the base URL to use.
func NewClient(t *http.Transport, baseURI string) *Client {
	if t == nil {
		t = &http.Transport{}
	}
	return &Client{
		transport: t,
		base:      baseURI,
		client:    &http.Client{Transport: t},
	}
}
