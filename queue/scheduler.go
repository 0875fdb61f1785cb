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

// Package queue implements C8: a delayed, deduplicating work scheduler. At
// most one entry exists per ObjectRef; resubmitting a key coalesces to the
// earlier of the two requested due times. container/heap orders entries by
// due time; the dedup/coalesce policy on top is ordinary application code.
package queue

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/relaykit/kubeflux/api"
)

type entry struct {
	ref   api.ObjectRef
	dueAt time.Time
	index int
}

// entryHeap is a min-heap ordered by dueAt, implementing heap.Interface.
type entryHeap []*entry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].dueAt.Before(h[j].dueAt) }
func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Scheduler is a delayed, deduplicating priority queue keyed by ObjectRef.
// Submit coalesces bursts for the same key to the earliest requested due
// time; Pop blocks until the earliest-due entry is ready, waking early when
// a new Submit might have moved the earliest due time sooner. Safe for
// concurrent use by any number of submitters and a single Pop-ing consumer.
type Scheduler struct {
	mu     sync.Mutex
	pq     entryHeap
	byRef  map[api.ObjectRef]*entry
	wake   chan struct{}
	closed chan struct{}
	once   sync.Once
}

// New returns an empty Scheduler.
func New() *Scheduler {
	return &Scheduler{
		byRef:  make(map[api.ObjectRef]*entry),
		wake:   make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
}

// Submit schedules ref to become due at dueAt. If ref already has a pending
// entry, the two due times are coalesced to whichever is earlier; the entry
// never moves later as a result of a Submit.
func (s *Scheduler) Submit(ref api.ObjectRef, dueAt time.Time) {
	select {
	case <-s.closed:
		return
	default:
	}
	s.mu.Lock()
	if e, ok := s.byRef[ref]; ok {
		if dueAt.Before(e.dueAt) {
			e.dueAt = dueAt
			heap.Fix(&s.pq, e.index)
		}
	} else {
		e := &entry{ref: ref, dueAt: dueAt}
		heap.Push(&s.pq, e)
		s.byRef[ref] = e
	}
	s.mu.Unlock()
	s.signal()
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Pop blocks until the earliest-due entry's due time has arrived, ctx is
// cancelled, or the scheduler is closed. It returns false in the latter two
// cases. A Submit that moves the earliest due time sooner interrupts any
// wait already in progress.
func (s *Scheduler) Pop(ctx context.Context) (api.ObjectRef, bool) {
	for {
		s.mu.Lock()
		if len(s.pq) == 0 {
			s.mu.Unlock()
			select {
			case <-s.wake:
				continue
			case <-s.closed:
				return api.ObjectRef{}, false
			case <-ctx.Done():
				return api.ObjectRef{}, false
			}
		}

		next := s.pq[0]
		wait := time.Until(next.dueAt)
		if wait <= 0 {
			heap.Pop(&s.pq)
			delete(s.byRef, next.ref)
			s.mu.Unlock()
			return next.ref, true
		}
		s.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-s.wake:
			timer.Stop()
		case <-s.closed:
			timer.Stop()
			return api.ObjectRef{}, false
		case <-ctx.Done():
			timer.Stop()
			return api.ObjectRef{}, false
		}
	}
}

// Len returns the number of pending entries, for diagnostics and tests.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pq)
}

// Close cancels every pending and future Pop call. Submit after Close is a
// silent no-op; Close is idempotent.
func (s *Scheduler) Close() {
	s.once.Do(func() { close(s.closed) })
}
