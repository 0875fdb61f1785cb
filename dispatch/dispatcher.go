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

// Package dispatch implements C6: fan-out of touched object references to
// independent subscribers, with per-subscriber backpressure. Grounded
// directly on original_source/kube-runtime/src/reflector/dispatcher.rs's
// Dispatcher/ReflectHandle pair — a central broadcaster handing out
// independent handles (one per Subscribe call), each resolving a published ObjectRef against a shared
// store.Reader at delivery time rather than carrying the object itself.
package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/relaykit/kubeflux/api"
	"github.com/relaykit/kubeflux/store"
)

// defaultPublishDeadline is the per-publish diagnostic deadline spec §4.6
// names: a slow subscriber still gets every event, but after this long a
// diagnostic is logged once.
const defaultPublishDeadline = 10 * time.Second

// Config parameterizes a Dispatcher.
type Config struct {
	// BufferSize is each subscriber's receive buffer capacity (spec's B).
	BufferSize int
	// PublishDeadline is the per-publish diagnostic deadline; zero means
	// defaultPublishDeadline.
	PublishDeadline time.Duration
	Log             logr.Logger
}

type subscriber struct {
	id   int64
	ch   chan api.ObjectRef
	done chan struct{}
}

// Dispatcher fans out published ObjectRefs to every active subscriber.
// Publishing into zero subscribers is a no-op; messages are never retained
// for subscribers that subscribe later.
type Dispatcher struct {
	mu       sync.Mutex
	subs     map[int64]*subscriber
	nextID   int64
	bufSize  int
	deadline time.Duration
	log      logr.Logger
}

// New builds a Dispatcher from cfg.
func New(cfg Config) *Dispatcher {
	if cfg.PublishDeadline == 0 {
		cfg.PublishDeadline = defaultPublishDeadline
	}
	if cfg.Log.IsZero() {
		cfg.Log = logr.Discard()
	}
	return &Dispatcher{
		subs:     make(map[int64]*subscriber),
		bufSize:  cfg.BufferSize,
		deadline: cfg.PublishDeadline,
		log:      cfg.Log,
	}
}

// Publish fans ref out to every currently active subscriber. Per-subscriber
// sends block (applying backpressure transitively up through the reflector
// and watcher) until the subscriber's buffer has room, logging once for
// each subscriber whose send exceeds the publish deadline; no event is
// ever dropped for an active subscriber. A subscriber that Close()s while a
// send to it is pending unblocks that send immediately, since a dropped
// subscriber must never stall the dispatcher.
func (d *Dispatcher) Publish(ctx context.Context, ref api.ObjectRef) {
	d.mu.Lock()
	subs := make([]*subscriber, 0, len(d.subs))
	for _, s := range d.subs {
		subs = append(subs, s)
	}
	d.mu.Unlock()

	for _, s := range subs {
		d.sendOne(ctx, s, ref)
	}
}

func (d *Dispatcher) sendOne(ctx context.Context, s *subscriber, ref api.ObjectRef) {
	timer := time.NewTimer(d.deadline)
	defer timer.Stop()
	logged := false

	for {
		select {
		case s.ch <- ref:
			return
		case <-s.done:
			return
		case <-ctx.Done():
			return
		case <-timer.C:
			if !logged {
				d.log.Info("dispatch publish exceeded deadline, continuing to block",
					"ref", ref.String(), "deadline", d.deadline)
				logged = true
			}
		}
	}
}

// Subscribe creates a new Handle fanning out future publishes, resolved
// against reader at delivery time. A fresh subscriber never sees events
// published before it subscribed.
func (d *Dispatcher) Subscribe(reader store.Reader) *Handle {
	d.mu.Lock()
	id := d.nextID
	d.nextID++
	sub := &subscriber{
		id:   id,
		ch:   make(chan api.ObjectRef, d.bufSize),
		done: make(chan struct{}),
	}
	d.subs[id] = sub
	d.mu.Unlock()

	return &Handle{
		ch:     sub.ch,
		reader: reader,
		unsubscribe: func() {
			d.mu.Lock()
			if existing, ok := d.subs[id]; ok {
				delete(d.subs, id)
				close(existing.done)
			}
			d.mu.Unlock()
		},
	}
}

// Handle is a subscriber's independent view onto the dispatcher's broadcast
// stream, resolving each published ObjectRef against a store.Reader at
// delivery time. Handles are not safe for concurrent Next calls from
// multiple goroutines, matching a single-consumer pull loop.
type Handle struct {
	ch          <-chan api.ObjectRef
	reader      store.Reader
	unsubscribe func()
	closeOnce   sync.Once
}

// Next blocks until the next touched object is resolvable, this
// subscription's channel is closed (no code path closes it; Close only
// unsubscribes), or ctx is cancelled. If the referenced object was
// removed from the store before Next resolves it, that notification is
// silently skipped (a drop, not an error), and Next moves on to the
// following one.
func (h *Handle) Next(ctx context.Context) (api.Object, bool, error) {
	for {
		select {
		case ref, ok := <-h.ch:
			if !ok {
				return nil, false, nil
			}
			if obj, found := h.reader.Get(ref); found {
				return obj, true, nil
			}
			continue
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
	}
}

// Reader returns the store.Reader this handle resolves notifications
// against, for callers that also want direct snapshot access.
func (h *Handle) Reader() store.Reader { return h.reader }

// Close unsubscribes the handle. Safe to call more than once. Closing never
// stalls the dispatcher: any publish currently blocked sending to this
// handle unblocks immediately.
func (h *Handle) Close() {
	h.closeOnce.Do(h.unsubscribe)
}
