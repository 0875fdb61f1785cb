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

// Package trigger implements C7: pure functions mapping a watched event to
// the set of primary-resource ObjectRefs it should cause to be scheduled.
package trigger

import (
	"k8s.io/apimachinery/pkg/runtime/schema"

	"github.com/relaykit/kubeflux/api"
)

// Mapper converts one WatchEvent to zero or more ObjectRefs to submit to the
// scheduler. Mappers are pure: same event in, same refs out, every time.
type Mapper func(ev api.WatchEvent) []api.ObjectRef

// Self maps an event directly to its own ObjectRef. Init, InitDone and
// Bookmark events carry no object and map to nothing.
func Self() Mapper {
	return func(ev api.WatchEvent) []api.ObjectRef {
		ref, ok := ev.Ref()
		if !ok {
			return nil
		}
		return []api.ObjectRef{ref}
	}
}

// Owners maps an event to one ObjectRef per ownerReference whose Kind
// matches ownerKind. Owners are namespace-local to the event's own object,
// per spec §4.7 — this mapper does not attempt to resolve cluster-scoped
// owners any differently, since an ObjectRef's namespace is advisory for
// cluster-scoped lookups (store.Reader.Get already falls back to a
// namespace-blanked key).
func Owners(ownerKind string) Mapper {
	return func(ev api.WatchEvent) []api.ObjectRef {
		if ev.Object == nil {
			return nil
		}
		meta := ev.Object.Metadata()
		var refs []api.ObjectRef
		for _, owner := range meta.OwnerReferences {
			if owner.Kind != ownerKind {
				continue
			}
			group := ""
			if gv, err := schema.ParseGroupVersion(owner.APIVersion); err == nil {
				group = gv.Group
			}
			refs = append(refs, api.ObjectRef{
				Group:     group,
				Kind:      owner.Kind,
				Namespace: meta.Namespace,
				Name:      owner.Name,
			})
		}
		return refs
	}
}

// With wraps a user-supplied pure function as a Mapper, for callers whose
// trigger relationship isn't expressible as Self or Owners.
func With(f func(ev api.WatchEvent) []api.ObjectRef) Mapper { return Mapper(f) }
