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

// Package store implements C4: a keyed snapshot of api.Object values with an
// atomic relist pathway and a one-way readiness latch. A Store is never a
// singleton — each reflector calls New and owns the returned Writer
// exclusively; Reader handles are freely clonable, read-only views sharing
// one backing map (spec §3 Ownership, §9 "no process-wide stores").
package store

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/relaykit/kubeflux/api"
)

// ErrWriterClosed is returned by WaitUntilReady when the writer was closed
// without the store ever having completed a relist.
var ErrWriterClosed = errors.New("store: writer closed before store became ready")

type state struct {
	mu   sync.RWMutex
	live map[api.ObjectRef]api.Object
	hash map[api.ObjectRef]uint64

	// side buffers a relist in progress. Only the Writer touches it, so it
	// needs no lock of its own; readers never observe it, which is what
	// keeps a relist from tearing the view any live reader sees.
	side     map[api.ObjectRef]api.Object
	sideHash map[api.ObjectRef]uint64

	ready     chan struct{}
	readyOnce sync.Once
	closed    chan struct{}
	closeOnce sync.Once
}

// Writer is the store's single-owner mutation handle.
type Writer struct{ s *state }

// Reader is a cheap, read-only, freely clonable handle onto a store's
// shared backing map.
type Reader struct{ s *state }

// New creates an empty, not-ready store and returns its exclusive Writer
// and one initial Reader.
func New() (*Writer, Reader) {
	st := &state{
		live:   make(map[api.ObjectRef]api.Object),
		hash:   make(map[api.ObjectRef]uint64),
		ready:  make(chan struct{}),
		closed: make(chan struct{}),
	}
	return &Writer{s: st}, Reader{s: st}
}

// Reader returns a new handle sharing this writer's backing store,
// equivalent to calling Clone on any Reader already obtained from it.
func (w *Writer) Reader() Reader { return Reader{s: w.s} }

// Apply is the single-event mutation entry point (spec §4.4).
func (w *Writer) Apply(ev api.WatchEvent) {
	s := w.s
	switch ev.Kind {
	case api.EventApply:
		ref := api.RefOf(ev.Object)
		s.mu.Lock()
		s.live[ref] = ev.Object
		s.hash[ref] = contentHash(ev.Object)
		s.mu.Unlock()

	case api.EventDelete:
		ref := api.RefOf(ev.Object)
		s.mu.Lock()
		delete(s.live, ref)
		delete(s.hash, ref)
		s.mu.Unlock()

	case api.EventInit:
		s.side = make(map[api.ObjectRef]api.Object)
		s.sideHash = make(map[api.ObjectRef]uint64)

	case api.EventInitApply:
		ref := api.RefOf(ev.Object)
		if s.side == nil {
			// A producer that skips Init is a protocol violation upstream;
			// tolerate it defensively by starting an implicit buffer rather
			// than panicking.
			s.side = make(map[api.ObjectRef]api.Object)
			s.sideHash = make(map[api.ObjectRef]uint64)
		}
		s.side[ref] = ev.Object
		s.sideHash[ref] = contentHash(ev.Object)

	case api.EventInitDone:
		s.mu.Lock()
		s.live = s.side
		s.hash = s.sideHash
		s.mu.Unlock()
		s.side, s.sideHash = nil, nil
		s.readyOnce.Do(func() { close(s.ready) })

	case api.EventBookmark:
		// No-op: bookmarks never mutate the store.
	}
}

// Close marks the writer as gone. Safe to call more than once, and safe to
// call from a defer even if the store never became ready.
func (w *Writer) Close() {
	w.s.closeOnce.Do(func() { close(w.s.closed) })
}

// Clone returns an independent handle sharing the same backing store.
func (r Reader) Clone() Reader { return Reader{s: r.s} }

// Get looks up key, falling back to a namespace-blanked lookup so that
// cluster-scoped objects are found even when queried with a (meaningless)
// namespace on the key, per spec §3 invariant 5.
func (r Reader) Get(key api.ObjectRef) (api.Object, bool) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if obj, ok := r.s.live[key]; ok {
		return obj, true
	}
	if key.Namespace != "" {
		blank := key
		blank.Namespace = ""
		if obj, ok := r.s.live[blank]; ok {
			return obj, true
		}
	}
	return nil, false
}

// List returns a snapshot of every stored object.
func (r Reader) List() []api.Object {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]api.Object, 0, len(r.s.live))
	for _, obj := range r.s.live {
		out = append(out, obj)
	}
	return out
}

// Find returns the first object satisfying predicate; ties are broken
// arbitrarily by map iteration order.
func (r Reader) Find(predicate func(api.Object) bool) (api.Object, bool) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, obj := range r.s.live {
		if predicate(obj) {
			return obj, true
		}
	}
	return nil, false
}

// Len returns the number of stored objects.
func (r Reader) Len() int {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return len(r.s.live)
}

// IsEmpty reports whether the store currently holds no objects.
func (r Reader) IsEmpty() bool { return r.Len() == 0 }

// ContentHash returns the xxhash of the last-applied payload for key, for
// callers that want to suppress downstream work on no-op resyncs. This is a
// diagnostic extra (see SPEC_FULL.md §10) and never affects store
// invariants.
func (r Reader) ContentHash(key api.ObjectRef) (uint64, bool) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	h, ok := r.s.hash[key]
	return h, ok
}

// WaitUntilReady blocks until the store's first InitDone has been applied,
// returning immediately thereafter. It fails only if the writer was closed
// without ever initialising.
func (r Reader) WaitUntilReady(ctx context.Context) error {
	select {
	case <-r.s.ready:
		return nil
	default:
	}
	select {
	case <-r.s.ready:
		return nil
	case <-r.s.closed:
		select {
		case <-r.s.ready:
			return nil
		default:
			return ErrWriterClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// contentHash hashes obj's encoded payload; objects that cannot be encoded
// (custom Object implementations with no JSON-friendly backing) hash to 0,
// which ContentHash callers must treat as "no signal", never as a match.
func contentHash(obj api.Object) uint64 {
	u, ok := obj.(api.Unstructured)
	if !ok {
		return 0
	}
	b, err := json.Marshal(u.Object)
	if err != nil {
		return 0
	}
	return xxhash.Sum64(b)
}
