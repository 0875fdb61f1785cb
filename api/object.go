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

// Package api defines the data model shared by every layer of kubeflux: the
// opaque Object carrier, its canonical ObjectRef key, the ResourceDescriptor
// that locates a kind on the wire, and the WatchEvent variants the watch
// engine and reflector exchange.
package api

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

// Object is the capability interface the core manipulates. It never reaches
// into the spec/status payload; only metadata and type identity matter to
// the watch engine, store, and scheduler.
type Object interface {
	// GroupVersionKind returns the object's type identity.
	GroupVersionKind() schema.GroupVersionKind
	// Metadata returns the object's metadata. Callers must not mutate the
	// returned value in place; treat it as a read-only view.
	Metadata() *metav1.ObjectMeta
	// DeepCopyObject returns an independent copy, for safe hand-off across
	// store boundaries.
	DeepCopyObject() Object
}

// Unstructured wraps apimachinery's unstructured.Unstructured, the dynamic
// carrier used whenever a kind has no generated Go type.
type Unstructured struct {
	*unstructured.Unstructured
}

// NewUnstructured wraps u, taking ownership of it.
func NewUnstructured(u *unstructured.Unstructured) Unstructured {
	return Unstructured{Unstructured: u}
}

// GroupVersionKind implements Object.
func (u Unstructured) GroupVersionKind() schema.GroupVersionKind {
	return u.Unstructured.GroupVersionKind()
}

// Metadata implements Object by translating the unstructured metadata map
// into a typed metav1.ObjectMeta view.
func (u Unstructured) Metadata() *metav1.ObjectMeta {
	meta := &metav1.ObjectMeta{
		Namespace:       u.GetNamespace(),
		Name:            u.GetName(),
		UID:             u.GetUID(),
		ResourceVersion: u.GetResourceVersion(),
		Labels:          u.GetLabels(),
		Annotations:     u.GetAnnotations(),
		Finalizers:      u.GetFinalizers(),
		OwnerReferences: u.GetOwnerReferences(),
	}
	meta.SetDeletionTimestamp(u.GetDeletionTimestamp())
	return meta
}

// DeepCopyObject implements Object.
func (u Unstructured) DeepCopyObject() Object {
	return Unstructured{Unstructured: u.Unstructured.DeepCopy()}
}

// ObjectRef is the canonical, kind-qualified identity used as cache and
// work-queue key. It is a plain comparable struct: equality and hashing as a
// Go map key automatically ignore ResourceVersion and the payload, since
// neither field exists here. Extra carries a type tag for heterogeneous
// stores holding more than one kind (see the Open Question on heterogeneous
// store keying); it must be treated as authoritative and never used to fall
// back to cross-kind lookups.
type ObjectRef struct {
	Group     string
	Kind      string
	Namespace string
	Name      string
	Extra     string
}

// RefOf builds the canonical ObjectRef for obj.
func RefOf(obj Object) ObjectRef {
	gvk := obj.GroupVersionKind()
	meta := obj.Metadata()
	return ObjectRef{
		Group:     gvk.Group,
		Kind:      gvk.Kind,
		Namespace: meta.Namespace,
		Name:      meta.Name,
	}
}

// String renders a human-readable identity, handy for logging.
func (r ObjectRef) String() string {
	if r.Namespace == "" {
		return r.Group + "/" + r.Kind + "/" + r.Name
	}
	return r.Group + "/" + r.Kind + "/" + r.Namespace + "/" + r.Name
}

// Scope describes whether a kind is namespaced or cluster-scoped.
type Scope int

const (
	// Namespaced kinds require a namespace for every operation but list.
	Namespaced Scope = iota
	// Cluster kinds never carry a namespace.
	Cluster
)

// ResourceDescriptor is the immutable binding between a kind and its REST
// shape, normally supplied by an external discovery collaborator or a
// compile-time binding. kubeflux never derives one itself.
type ResourceDescriptor struct {
	// Group is the API group ("" for the core group).
	Group string
	// Version is the API version, e.g. "v1".
	Version string
	// Plural is the REST resource name, e.g. "pods".
	Plural string
	// Kind is the Go-facing kind name, e.g. "Pod".
	Kind string
	// Scope says whether the kind is namespaced or cluster-scoped.
	Scope Scope
	// BookmarksSupported advertises whether the server honours
	// allowWatchBookmarks for this kind; when false the request builder
	// omits the query parameter entirely.
	BookmarksSupported bool
}

// GroupVersionKind returns the descriptor's type identity.
func (d ResourceDescriptor) GroupVersionKind() schema.GroupVersionKind {
	return schema.GroupVersionKind{Group: d.Group, Version: d.Version, Kind: d.Kind}
}

// GroupVersionResource returns the descriptor's REST identity.
func (d ResourceDescriptor) GroupVersionResource() schema.GroupVersionResource {
	return schema.GroupVersionResource{Group: d.Group, Version: d.Version, Resource: d.Plural}
}
