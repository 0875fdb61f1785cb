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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/relaykit/kubeflux/api"
	"github.com/relaykit/kubeflux/store"
)

func cmObj(ns, name, rv string) api.Unstructured {
	return api.NewUnstructured(&unstructured.Unstructured{Object: map[string]interface{}{
		"apiVersion": "v1",
		"kind":       "ConfigMap",
		"metadata": map[string]interface{}{
			"namespace":       ns,
			"name":            name,
			"resourceVersion": rv,
		},
	}})
}

func TestReflector_AppliesBeforePublishAndForwardsUnchanged(t *testing.T) {
	w, reader := store.New()

	var mu sync.Mutex
	var published []api.ObjectRef
	publish := func(ctx context.Context, ref api.ObjectRef) {
		mu.Lock()
		defer mu.Unlock()
		// The store mutation must be visible by the time publish fires
		// (spec §5 store-to-dispatcher ordering).
		_, ok := reader.Get(ref)
		assert.True(t, ok)
		published = append(published, ref)
	}

	r := New(w, publish)

	in := make(chan api.WatchEvent, 1)
	out := make(chan api.WatchEvent, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- r.Run(ctx, in, out) }()

	obj := cmObj("ns1", "a", "1")
	in <- api.ApplyEvent(obj)

	select {
	case ev := <-out:
		assert.Equal(t, api.EventApply, ev.Kind)
		assert.Equal(t, "a", ev.Object.Metadata().Name)
	case <-time.After(time.Second):
		t.Fatal("event not forwarded")
	}

	mu.Lock()
	require.Len(t, published, 1)
	assert.Equal(t, api.RefOf(obj), published[0])
	mu.Unlock()

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("reflector did not stop")
	}
}

func TestReflector_BookmarkHasNoRefSkipsPublish(t *testing.T) {
	w, _ := store.New()

	var calls int
	publish := func(ctx context.Context, ref api.ObjectRef) { calls++ }

	r := New(w, publish)
	in := make(chan api.WatchEvent, 1)
	out := make(chan api.WatchEvent, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = r.Run(ctx, in, out) }()

	in <- api.BookmarkEvent("5")
	select {
	case ev := <-out:
		assert.Equal(t, api.EventBookmark, ev.Kind)
	case <-time.After(time.Second):
		t.Fatal("event not forwarded")
	}
	assert.Equal(t, 0, calls)
}

func TestReflector_StopsWhenInputClosed(t *testing.T) {
	w, _ := store.New()
	r := New(w, nil)
	in := make(chan api.WatchEvent)
	out := make(chan api.WatchEvent, 1)

	errCh := make(chan error, 1)
	go func() { errCh <- r.Run(context.Background(), in, out) }()

	close(in)
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("reflector did not stop when input closed")
	}
}
