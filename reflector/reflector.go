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

package reflector

import (
	"context"

	"github.com/relaykit/kubeflux/api"
	"github.com/relaykit/kubeflux/store"
)

// PublishFunc notifies a dispatcher (C6) that ref was touched by the event
// just applied to the store. It is called after the store mutation commits
// and before the event is re-emitted downstream, which is what gives the
// store-to-dispatcher ordering guarantee in spec §5.
type PublishFunc func(ctx context.Context, ref api.ObjectRef)

// Reflector is C5: a trivial combinator. It applies every event it sees to
// a store.Writer, optionally notifies a dispatcher, and re-emits the event
// unchanged. It does not interpose on errors or terminal conditions of its
// own; callers detect upstream termination by cancelling ctx, which is what
// unblocks Run.
type Reflector struct {
	writer  *store.Writer
	publish PublishFunc
}

// New builds a Reflector writing into writer. publish may be nil, in which
// case events are applied to the store and re-emitted with no fan-out.
func New(writer *store.Writer, publish PublishFunc) *Reflector {
	return &Reflector{writer: writer, publish: publish}
}

// Run applies and re-emits events from in to out until ctx is cancelled or
// in is closed. Apply happens synchronously before publish, and publish
// happens synchronously before the event is forwarded, preserving the
// per-watcher and store-to-dispatcher ordering guarantees of spec §5.
func (r *Reflector) Run(ctx context.Context, in <-chan api.WatchEvent, out chan<- api.WatchEvent) error {
	for {
		select {
		case ev, ok := <-in:
			if !ok {
				return nil
			}
			r.writer.Apply(ev)
			if r.publish != nil {
				if ref, ok := ev.Ref(); ok {
					r.publish(ctx, ref)
				}
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return ctx.Err()
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
