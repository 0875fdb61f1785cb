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

package api

// WatchEventKind tags the six cases a WatchEvent can carry.
type WatchEventKind int

const (
	// EventApply signals a created or updated object; Object is the new
	// full object. This is the authoritative "upsert" signal.
	EventApply WatchEventKind = iota
	// EventDelete signals an object was removed; Object is the last
	// observed state.
	EventDelete
	// EventInit marks the start of a relist snapshot. Followed by zero or
	// more EventInitApply and a terminating EventInitDone.
	EventInit
	// EventInitApply carries one page entry during a relist snapshot.
	EventInitApply
	// EventInitDone commits the buffered relist snapshot atomically.
	EventInitDone
	// EventBookmark carries a server progress marker; no object, but it
	// advances the resume position.
	EventBookmark
)

// String renders the kind for logs and test failure messages.
func (k WatchEventKind) String() string {
	switch k {
	case EventApply:
		return "Apply"
	case EventDelete:
		return "Delete"
	case EventInit:
		return "Init"
	case EventInitApply:
		return "InitApply"
	case EventInitDone:
		return "InitDone"
	case EventBookmark:
		return "Bookmark"
	default:
		return "Unknown"
	}
}

// WatchEvent is the tagged union described in spec §3. Exactly one of
// Object/ResourceVersion is meaningful depending on Kind:
//   - Apply, Delete, InitApply: Object is set.
//   - Bookmark: ResourceVersion is set, Object is nil.
//   - Init, InitDone: neither is set.
type WatchEvent struct {
	Kind            WatchEventKind
	Object          Object
	ResourceVersion string
}

// ApplyEvent builds an Apply event.
func ApplyEvent(obj Object) WatchEvent { return WatchEvent{Kind: EventApply, Object: obj} }

// DeleteEvent builds a Delete event.
func DeleteEvent(obj Object) WatchEvent { return WatchEvent{Kind: EventDelete, Object: obj} }

// InitEvent builds an Init event.
func InitEvent() WatchEvent { return WatchEvent{Kind: EventInit} }

// InitApplyEvent builds an InitApply event.
func InitApplyEvent(obj Object) WatchEvent { return WatchEvent{Kind: EventInitApply, Object: obj} }

// InitDoneEvent builds an InitDone event.
func InitDoneEvent() WatchEvent { return WatchEvent{Kind: EventInitDone} }

// BookmarkEvent builds a Bookmark event.
func BookmarkEvent(rv string) WatchEvent {
	return WatchEvent{Kind: EventBookmark, ResourceVersion: rv}
}

// Ref returns the ObjectRef touched by this event, and false for Init,
// InitDone and Bookmark events, which touch no single key.
func (e WatchEvent) Ref() (ObjectRef, bool) {
	switch e.Kind {
	case EventApply, EventDelete, EventInitApply:
		if e.Object == nil {
			return ObjectRef{}, false
		}
		return RefOf(e.Object), true
	default:
		return ObjectRef{}, false
	}
}
