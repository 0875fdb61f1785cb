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

// Package transport names the external HTTP collaborator kubeflux consumes
// (spec §6). Kubeconfig parsing, credential loading, TLS setup, and
// transport construction are all out of core scope; callers provide a
// RoundTripper, normally built from a real cluster config via
// transport/restadapter, or a scripted transport/fake for tests.
package transport

import (
	"io"
	"net/http"
)

// Response is what a RoundTripper hands back. Body is always non-nil; for
// watch requests it streams chunk-by-chunk and must be closed by the
// caller once the watch cycle ends.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// RoundTripper is the authenticated HTTP collaborator: it applies TLS and
// auth, follows redirects, and returns a response or a transport error.
// Network errors and 5xx are the caller's responsibility to classify as
// transient; RoundTripper itself does no retrying.
type RoundTripper interface {
	Send(req *http.Request) (*Response, error)
}

// Func adapts a plain function to RoundTripper, in the style of
// http.HandlerFunc, handy for tests and small adapters.
type Func func(req *http.Request) (*Response, error)

// Send implements RoundTripper.
func (f Func) Send(req *http.Request) (*Response, error) { return f(req) }
