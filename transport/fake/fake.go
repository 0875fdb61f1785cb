/*
SPDX-License-Identifier: Apache-2.0

Copyright 2025 kubeflux authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package fake provides a scripted transport.RoundTripper used by every
// test suite in kubeflux: watchstream, reflector, and controller all drive
// it with canned list responses and watch frame sequences rather than a
// real cluster, exactly the role spec §8's "fake transport providing the
// listed wire frames" plays in the end-to-end scenarios.
package fake

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/relaykit/kubeflux/transport"
)

// Response scripts one canned reply. Set exactly one of Body (list/get/etc.)
// or Frames (watch) depending on which queue it is enqueued into. StreamErr,
// when set, is surfaced once Frames is exhausted, simulating a mid-watch I/O
// failure; Err, when set, makes Send fail outright (connection refused,
// etc.) without ever producing a response.
type Response struct {
	StatusCode int
	Body       []byte
	Frames     [][]byte
	StreamErr  error
	Err        error
}

// Transport is a scripted transport.RoundTripper: a FIFO queue of canned
// responses per URL path, separated into list and watch queues so one
// Transport can back several concurrently-watched kinds (each kind's
// requests land on a distinct path) without their scripts interleaving.
type Transport struct {
	mu       sync.Mutex
	lists    map[string][]Response
	watches  map[string][]Response
	requests []*http.Request
}

// New returns an empty scripted transport.
func New() *Transport {
	return &Transport{
		lists:   make(map[string][]Response),
		watches: make(map[string][]Response),
	}
}

// EnqueueList schedules r as the next response to a non-watch GET at path.
func (t *Transport) EnqueueList(path string, r Response) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lists[path] = append(t.lists[path], r)
}

// EnqueueWatch schedules r as the next response to a watch=true GET at path.
func (t *Transport) EnqueueWatch(path string, r Response) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.watches[path] = append(t.watches[path], r)
}

// Requests returns every request observed so far, in order.
func (t *Transport) Requests() []*http.Request {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*http.Request, len(t.requests))
	copy(out, t.requests)
	return out
}

// Send implements transport.RoundTripper.
func (t *Transport) Send(req *http.Request) (*transport.Response, error) {
	t.mu.Lock()
	t.requests = append(t.requests, req)
	isWatch := req.URL.Query().Get("watch") == "true"
	byPath := t.lists
	if isWatch {
		byPath = t.watches
	}

	// An exact path match wins; callers that don't care about per-kind
	// isolation enqueue under the "" wildcard path instead.
	path := req.URL.Path
	if len(byPath[path]) == 0 {
		path = ""
	}
	if len(byPath[path]) == 0 {
		t.mu.Unlock()
		return nil, fmt.Errorf("fake transport: no scripted response for %s %s", req.Method, req.URL.String())
	}
	r := byPath[path][0]
	byPath[path] = byPath[path][1:]
	t.mu.Unlock()

	if r.Err != nil {
		return nil, r.Err
	}

	var body io.ReadCloser
	if isWatch {
		body = newFrameReader(r.Frames, r.StreamErr)
	} else {
		body = io.NopCloser(bytes.NewReader(r.Body))
	}

	status := r.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	return &transport.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       body,
	}, nil
}

// frameReader streams newline-joined frames, then either returns io.EOF or a
// caller-supplied streamErr to simulate the I/O failures spec §4.2 covers.
type frameReader struct {
	buf       *bytes.Buffer
	streamErr error
}

func newFrameReader(frames [][]byte, streamErr error) *frameReader {
	var buf bytes.Buffer
	for _, f := range frames {
		buf.Write(f)
		buf.WriteByte('\n')
	}
	return &frameReader{buf: &buf, streamErr: streamErr}
}

func (r *frameReader) Read(p []byte) (int, error) {
	if r.buf.Len() == 0 {
		if r.streamErr != nil {
			return 0, r.streamErr
		}
		return 0, io.EOF
	}
	return r.buf.Read(p)
}

func (r *frameReader) Close() error { return nil }

// ErrConnReset is a convenience sentinel for scripting mid-watch I/O
// failures that should classify as transient.
var ErrConnReset = errors.New("fake transport: connection reset by peer")
