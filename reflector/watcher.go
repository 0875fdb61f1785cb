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

// Package reflector implements C3 (the resilient watcher) and C5 (the
// trivial reflector combinator). The watcher drives watchstream.Stream in a
// loop, owns the current resourceVersion, relists on expiry, applies
// backoff, and presents one logical, infinite event stream with explicit
// Init/InitApply/InitDone boundaries; the reflector couples that stream to
// a store.Writer.
package reflector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/relaykit/kubeflux/api"
	"github.com/relaykit/kubeflux/decode"
	"github.com/relaykit/kubeflux/internal/backoff"
	"github.com/relaykit/kubeflux/internal/metrics"
	"github.com/relaykit/kubeflux/transport"
	"github.com/relaykit/kubeflux/watchstream"
)

// fatalError marks an error that must terminate the watcher outright,
// bypassing the usual Transient/RecoverableProtocol classification —
// malformed requests and undecodable list bodies are unconditionally fatal
// per spec §7, regardless of what api.Classify would otherwise say.
type fatalError struct{ err error }

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

// Config parameterizes a Watcher.
type Config struct {
	BaseURL       string
	Descriptor    api.ResourceDescriptor
	Transport     transport.RoundTripper
	Codec         decode.Codec
	LabelSelector string
	FieldSelector string
	// PageLimit bounds list page size; zero means "let the server decide".
	PageLimit int64
	// WatchTimeoutSeconds is the per-watch-request timeout (spec §5),
	// default 290s, hard upper bound 295s enforced by api.BuildRequest.
	WatchTimeoutSeconds int64
	Backoff             backoff.Schedule
	Log                 logr.Logger

	// Metrics, if set, records a backoff observation every time a transient
	// relist or watch failure makes the watcher sleep before retrying. A nil
	// Metrics records nothing.
	Metrics *metrics.Recorder
}

// Watcher is C3: it drives C2 (watchstream) across relists and transient
// failures, and publishes one logical event stream onto a channel supplied
// by the caller.
type Watcher struct {
	cfg Config
}

// NewWatcher builds a Watcher from cfg, filling in documented defaults.
func NewWatcher(cfg Config) *Watcher {
	if cfg.WatchTimeoutSeconds == 0 {
		cfg.WatchTimeoutSeconds = 290
	}
	if cfg.Backoff == (backoff.Schedule{}) {
		cfg.Backoff = backoff.Default()
	}
	if cfg.Log.IsZero() {
		cfg.Log = logr.Discard()
	}
	return &Watcher{cfg: cfg}
}

// Run drives the watcher until ctx is cancelled (nil error) or a Fatal
// error is encountered (spec §7), writing every emitted api.WatchEvent to
// out. Run never closes out — callers close their
// own downstream fan-out once Run returns, since out is caller-supplied and
// may be shared.
func (w *Watcher) Run(ctx context.Context, out chan<- api.WatchEvent) error {
	bo := backoff.New(w.cfg.Backoff)
	var resourceVersion string

	for {
		if ctx.Err() != nil {
			return nil
		}

		w.cfg.Log.V(1).Info("relisting", "kind", w.cfg.Descriptor.Kind)
		if err := emit(ctx, out, api.InitEvent()); err != nil {
			return nil
		}
		rv, err := w.relist(ctx, out)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if fe, ok := asFatal(err); ok {
				w.cfg.Log.Error(fe, "relist failed fatally", "kind", w.cfg.Descriptor.Kind)
				return fe
			}
			if api.Classify(err) == api.Fatal {
				w.cfg.Log.Error(err, "relist failed fatally", "kind", w.cfg.Descriptor.Kind)
				return err
			}
			// Transient relist failure: back off and retry the relist.
			w.cfg.Metrics.RecordBackoff(ctx, w.cfg.Descriptor.Kind)
			if !sleepCtx(ctx, bo.Next()) {
				return nil
			}
			continue
		}
		resourceVersion = rv
		if err := emit(ctx, out, api.InitDoneEvent()); err != nil {
			return nil
		}

		outcome, err := w.watchUntilExpiredOrFatal(ctx, out, &resourceVersion, bo)
		if err != nil {
			return err
		}
		switch outcome {
		case outcomeCancelled:
			return nil
		case outcomeExpired:
			continue // relist
		}
	}
}

type watchOutcome int

const (
	outcomeExpired watchOutcome = iota
	outcomeCancelled
)

// watchUntilExpiredOrFatal runs C2 repeatedly (re-watching on clean
// completion, backing off on transient failure) until the server expires
// history, a fatal error occurs, or ctx is cancelled.
func (w *Watcher) watchUntilExpiredOrFatal(
	ctx context.Context,
	out chan<- api.WatchEvent,
	resourceVersion *string,
	bo *backoff.Backoff,
) (watchOutcome, error) {
	var lastFailure time.Time

	for {
		if ctx.Err() != nil {
			return outcomeCancelled, nil
		}

		req, err := w.buildWatchRequest(*resourceVersion)
		if err != nil {
			return 0, &fatalError{err}
		}
		stream, err := watchstream.Open(w.cfg.Transport, req, w.cfg.Codec)
		if err != nil {
			if api.Classify(err) == api.Fatal {
				return 0, err
			}
			lastFailure = time.Now()
			w.cfg.Metrics.RecordBackoff(ctx, w.cfg.Descriptor.Kind)
			if !sleepCtx(ctx, bo.Next()) {
				return outcomeCancelled, nil
			}
			continue
		}

		for {
			ev, ok, _ := stream.Next()
			if !ok {
				break
			}
			if rv := resourceVersionOf(ev); rv != "" {
				*resourceVersion = rv
			}
			if err := emit(ctx, out, ev); err != nil {
				stream.Close()
				return outcomeCancelled, nil
			}
		}

		term := stream.Terminal()
		switch term.Kind {
		case watchstream.TerminalCompleted:
			if term.LatestResourceVersion != "" {
				*resourceVersion = term.LatestResourceVersion
			}
			if !lastFailure.IsZero() && time.Since(lastFailure) >= bo.StableAfter() {
				bo.Reset()
				lastFailure = time.Time{}
			}
			continue

		case watchstream.TerminalExpired:
			w.cfg.Log.V(1).Info("watch history expired, relisting", "kind", w.cfg.Descriptor.Kind)
			return outcomeExpired, nil

		case watchstream.TerminalFailed:
			if api.Classify(term.Err) == api.Fatal {
				w.cfg.Log.Error(term.Err, "watch failed fatally", "kind", w.cfg.Descriptor.Kind)
				return 0, term.Err
			}
			lastFailure = time.Now()
			w.cfg.Metrics.RecordBackoff(ctx, w.cfg.Descriptor.Kind)
			if !sleepCtx(ctx, bo.Next()) {
				return outcomeCancelled, nil
			}
			continue
		}
	}
}

// buildWatchRequest constructs the HTTP request for one watch attempt
// resuming from resourceVersion. The configured server-side timeout is passed
// through unchanged; api.BuildRequest rejects values of 295s or more.
func (w *Watcher) buildWatchRequest(resourceVersion string) (*http.Request, error) {
	timeout := w.cfg.WatchTimeoutSeconds
	return api.BuildRequest(w.cfg.BaseURL, w.cfg.Descriptor, api.OpWatch, api.Params{
		LabelSelector:   w.cfg.LabelSelector,
		FieldSelector:   w.cfg.FieldSelector,
		ResourceVersion: resourceVersion,
		TimeoutSeconds:  &timeout,
	})
}

func resourceVersionOf(ev api.WatchEvent) string {
	switch ev.Kind {
	case api.EventApply, api.EventDelete, api.EventInitApply:
		if ev.Object != nil {
			return ev.Object.Metadata().ResourceVersion
		}
	case api.EventBookmark:
		return ev.ResourceVersion
	}
	return ""
}

func emit(ctx context.Context, out chan<- api.WatchEvent, ev api.WatchEvent) error {
	select {
	case out <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func asFatal(err error) (*fatalError, bool) {
	fe, ok := err.(*fatalError)
	return fe, ok
}

// statusError wraps an HTTP status code from a non-watch response (list,
// get) into the same classifiable shape stream.go uses for watch frames, so
// api.Classify routes 401/403 to Fatal and 5xx to Transient consistently.
func statusError(code int) error {
	return &apierrors.StatusError{ErrStatus: metav1.Status{Status: metav1.StatusFailure, Code: int32(code)}}
}

// listEnvelope is the List response shape spec §6 names.
type listEnvelope struct {
	Metadata struct {
		ResourceVersion string `json:"resourceVersion"`
		Continue        string `json:"continue"`
	} `json:"metadata"`
	Items []json.RawMessage `json:"items"`
}

// relist performs a paged list, emitting InitApply for each item, and
// returns the resourceVersion to resume watching from.
func (w *Watcher) relist(ctx context.Context, out chan<- api.WatchEvent) (string, error) {
	var cont string
	var rv string
	for {
		params := api.Params{
			LabelSelector: w.cfg.LabelSelector,
			FieldSelector: w.cfg.FieldSelector,
			Limit:         w.cfg.PageLimit,
			Continue:      cont,
		}
		req, err := api.BuildRequest(w.cfg.BaseURL, w.cfg.Descriptor, api.OpList, params)
		if err != nil {
			return "", &fatalError{err}
		}
		resp, err := w.cfg.Transport.Send(req)
		if err != nil {
			return "", err
		}
		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode >= 300 {
			return "", statusError(resp.StatusCode)
		}
		if readErr != nil {
			return "", readErr
		}

		var env listEnvelope
		if err := json.Unmarshal(body, &env); err != nil {
			return "", &fatalError{fmt.Errorf("decoding list body: %w", err)}
		}
		for _, item := range env.Items {
			obj, err := w.cfg.Codec.Decode(item)
			if err != nil {
				return "", &fatalError{fmt.Errorf("decoding list item: %w", err)}
			}
			if err := emit(ctx, out, api.InitApplyEvent(obj)); err != nil {
				return "", err
			}
		}
		rv = env.Metadata.ResourceVersion
		if env.Metadata.Continue == "" {
			return rv, nil
		}
		cont = env.Metadata.Continue
	}
}
