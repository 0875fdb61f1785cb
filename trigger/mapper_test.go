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

package trigger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/relaykit/kubeflux/api"
)

func childObj(ns, name string, owners ...metav1.OwnerReference) api.Unstructured {
	u := &unstructured.Unstructured{Object: map[string]interface{}{
		"apiVersion": "v1",
		"kind":       "Pod",
		"metadata": map[string]interface{}{
			"namespace": ns,
			"name":      name,
		},
	}}
	wrapped := api.NewUnstructured(u)
	if len(owners) > 0 {
		u.SetOwnerReferences(owners)
	}
	return wrapped
}

func TestSelf_MapsApplyToOwnObjectRef(t *testing.T) {
	obj := childObj("ns1", "pod-a")
	refs := Self()(api.ApplyEvent(obj))
	require.Len(t, refs, 1)
	assert.Equal(t, api.RefOf(obj), refs[0])
}

func TestSelf_InitEventsMapToNothing(t *testing.T) {
	assert.Nil(t, Self()(api.InitEvent()))
	assert.Nil(t, Self()(api.InitDoneEvent()))
	assert.Nil(t, Self()(api.BookmarkEvent("5")))
}

func TestOwners_MapsMatchingOwnerReferences(t *testing.T) {
	owner := metav1.OwnerReference{APIVersion: "apps/v1", Kind: "Deployment", Name: "parent"}
	other := metav1.OwnerReference{APIVersion: "v1", Kind: "ReplicaSet", Name: "rs"}
	obj := childObj("ns1", "pod-a", owner, other)

	refs := Owners("Deployment")(api.ApplyEvent(obj))
	require.Len(t, refs, 1)
	assert.Equal(t, api.ObjectRef{Group: "apps", Kind: "Deployment", Namespace: "ns1", Name: "parent"}, refs[0])
}

func TestOwners_NoMatchingOwnerYieldsNothing(t *testing.T) {
	owner := metav1.OwnerReference{APIVersion: "v1", Kind: "ReplicaSet", Name: "rs"}
	obj := childObj("ns1", "pod-a", owner)
	assert.Empty(t, Owners("Deployment")(api.ApplyEvent(obj)))
}

func TestOwners_NonObjectEventYieldsNothing(t *testing.T) {
	assert.Nil(t, Owners("Deployment")(api.InitEvent()))
}

func TestWith_WrapsUserFunction(t *testing.T) {
	calls := 0
	m := With(func(ev api.WatchEvent) []api.ObjectRef {
		calls++
		return []api.ObjectRef{{Kind: "Custom", Name: "x"}}
	})
	refs := m(api.InitEvent())
	assert.Equal(t, 1, calls)
	require.Len(t, refs, 1)
	assert.Equal(t, "Custom", refs[0].Kind)
}
