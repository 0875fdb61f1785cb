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

package controller

import (
	"context"
	"sync"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:staticcheck // ginkgo/gomega standard practice
	. "github.com/onsi/gomega"    //nolint:staticcheck // ginkgo/gomega standard practice

	"github.com/relaykit/kubeflux/api"
	"github.com/relaykit/kubeflux/decode"
	"github.com/relaykit/kubeflux/internal/backoff"
	"github.com/relaykit/kubeflux/internal/metrics"
	"github.com/relaykit/kubeflux/runner"
	"github.com/relaykit/kubeflux/trigger"
	"github.com/relaykit/kubeflux/transport/fake"
)

func TestController(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Controller Suite")
}

func fastBackoff() backoff.Schedule {
	return backoff.Schedule{
		Initial:     time.Millisecond,
		Multiplier:  1,
		Jitter:      0,
		Cap:         2 * time.Millisecond,
		StableAfter: time.Millisecond,
	}
}

func widgetDescriptor() api.ResourceDescriptor {
	return api.ResourceDescriptor{Version: "v1", Plural: "widgets", Kind: "Widget", Scope: api.Namespaced}
}

func partDescriptor() api.ResourceDescriptor {
	return api.ResourceDescriptor{Version: "v1", Plural: "parts", Kind: "Part", Scope: api.Namespaced}
}

// recordingReconciler collects every ObjectRef it was invoked for, by name,
// so assertions below can wait for a specific key to have been reconciled
// without coupling to goroutine scheduling order.
type recordingReconciler struct {
	mu    sync.Mutex
	names []string
}

func (r *recordingReconciler) reconcile(_ context.Context, obj api.Object) (runner.Action, error) {
	r.mu.Lock()
	r.names = append(r.names, obj.Metadata().Name)
	r.mu.Unlock()
	return runner.Done(), nil
}

func (r *recordingReconciler) seen(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range r.names {
		if n == name {
			return true
		}
	}
	return false
}

var _ = Describe("Controller", func() {
	// Scenario S1: list-then-watch on the primary kind alone reconciles the
	// relisted object once readiness latches, with no extra watched kind.
	It("reconciles the relisted object once the store becomes ready", func() {
		ft := fake.New()
		ft.EnqueueList("", fake.Response{Body: []byte(
			`{"metadata":{"resourceVersion":"7"},"items":[` +
				`{"apiVersion":"v1","kind":"Widget","metadata":{"namespace":"ns","name":"a","resourceVersion":"7"}}]}`)})
		for i := 0; i < 5; i++ {
			ft.EnqueueWatch("", fake.Response{})
		}

		rec := &recordingReconciler{}
		c := New(Config{
			BaseURL:   "https://api",
			Transport: ft,
			Codec:     decode.JSON{},
			Primary:   widgetDescriptor(),
			Reconcile: rec.reconcile,
			Backoff:   fastBackoff(),
			Metrics:   mustRecorder(),
		})

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- c.Run(ctx) }()

		Eventually(func() error { return c.Reader().WaitUntilReady(ctx) }, time.Second).Should(Succeed())
		Eventually(func() bool { return rec.seen("a") }, 2*time.Second).Should(BeTrue())

		cancel()
		Eventually(done, 2*time.Second).Should(Receive())
	})

	// Scenario S5: an owner-mapped watch on a related kind schedules the
	// owning primary key, even though the primary kind's own store never
	// observed a matching Apply directly.
	It("reconciles the owner when an owned kind is mapped through trigger.Owners", func() {
		ft := fake.New()
		ft.EnqueueList("/api/v1/widgets", fake.Response{Body: []byte(
			`{"metadata":{"resourceVersion":"1"},"items":[` +
				`{"apiVersion":"v1","kind":"Widget","metadata":{"namespace":"ns","name":"owner","resourceVersion":"1"}}]}`)})
		for i := 0; i < 5; i++ {
			ft.EnqueueWatch("/api/v1/widgets", fake.Response{})
		}
		ft.EnqueueList("/api/v1/parts", fake.Response{Body: []byte(
			`{"metadata":{"resourceVersion":"1"},"items":[` +
				`{"apiVersion":"v1","kind":"Part","metadata":{"namespace":"ns","name":"child",` +
				`"ownerReferences":[{"apiVersion":"v1","kind":"Widget","name":"owner"}]}}]}`)})
		for i := 0; i < 5; i++ {
			ft.EnqueueWatch("/api/v1/parts", fake.Response{})
		}

		rec := &recordingReconciler{}
		c := New(Config{
			BaseURL:   "https://api",
			Transport: ft,
			Codec:     decode.JSON{},
			Primary:   widgetDescriptor(),
			Extra: []Watch{{
				Descriptor: partDescriptor(),
				Mapper:     trigger.Owners("Widget"),
			}},
			Reconcile: rec.reconcile,
			Backoff:   fastBackoff(),
		})

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- c.Run(ctx) }()

		Eventually(func() error { return c.Reader().WaitUntilReady(ctx) }, time.Second).Should(Succeed())
		Eventually(func() bool { return rec.seen("owner") }, 2*time.Second).Should(BeTrue())

		cancel()
		Eventually(done, 2*time.Second).Should(Receive())
	})
})

func mustRecorder() *metrics.Recorder {
	r, _, err := metrics.New()
	if err != nil {
		// Duplicate registration from a prior spec's MeterProvider is the
		// only realistic failure here (metrics.Recorder is process-wide via
		// the controller-runtime registry); fall back to unmetered.
		return nil
	}
	return r
}
