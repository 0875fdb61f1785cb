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

package metrics

import (
	"context"
	"errors"
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/model"
	"github.com/stretchr/testify/require"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime/schema"
	ctrlmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"

	"github.com/relaykit/kubeflux/api"
	"github.com/relaykit/kubeflux/runner"
)

type stubObject struct{ meta metav1.ObjectMeta }

func (s stubObject) GroupVersionKind() schema.GroupVersionKind {
	return schema.GroupVersionKind{Kind: "Widget"}
}
func (s stubObject) Metadata() *metav1.ObjectMeta { return &s.meta }
func (s stubObject) DeepCopyObject() api.Object    { return s }

// family looks up a gathered MetricFamily by name, mirroring the role the
// teacher's test/e2e/helpers.go queryPrometheus plays against a live server:
// here the registry is scraped in-process instead.
func family(t *testing.T, name string) *dto.MetricFamily {
	t.Helper()
	families, err := ctrlmetrics.Registry.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}
	return nil
}

func TestRecorderRecordsEventsAndReconciles(t *testing.T) {
	require.True(t, model.IsValidMetricName(model.LabelValue("kubeflux_watch_events_total")))

	r, shutdown, err := New()
	require.NoError(t, err)
	defer func() { require.NoError(t, shutdown(context.Background())) }()

	ctx := context.Background()
	obj := stubObject{meta: metav1.ObjectMeta{Name: "a"}}

	r.RecordEvent(ctx, "Widget", api.ApplyEvent(obj))
	r.RecordBackoff(ctx, "Widget")

	hook := r.OnReconciled("Widget")
	hook(api.ObjectRef{Kind: "Widget", Name: "a"}, runner.Done(), nil)
	hook(api.ObjectRef{Kind: "Widget", Name: "b"}, runner.Done(), errors.New("boom"))

	require.NoError(t, r.ObserveQueueDepth("Widget", func() int { return 3 }))

	wrapped := r.WrapReconciler("Widget", func(context.Context, api.Object) (runner.Action, error) {
		return runner.Done(), nil
	})
	_, err = wrapped(ctx, obj)
	require.NoError(t, err)

	require.NotNil(t, family(t, "kubeflux_watch_events_total"))
	require.NotNil(t, family(t, "kubeflux_reconciles_total"))
	require.NotNil(t, family(t, "kubeflux_reconcile_errors_total"))
	require.NotNil(t, family(t, "kubeflux_reconcile_duration_seconds"))
	require.NotNil(t, family(t, "kubeflux_watch_backoff_total"))
}

func TestNilRecorderIsInert(t *testing.T) {
	var r *Recorder
	ctx := context.Background()
	obj := stubObject{meta: metav1.ObjectMeta{Name: "a"}}

	require.NotPanics(t, func() {
		r.RecordEvent(ctx, "Widget", api.ApplyEvent(obj))
		r.RecordBackoff(ctx, "Widget")
		r.OnReconciled("Widget")(api.ObjectRef{Kind: "Widget"}, runner.Done(), nil)
		require.NoError(t, r.ObserveQueueDepth("Widget", func() int { return 0 }))
	})

	wrapped := r.WrapReconciler("Widget", func(context.Context, api.Object) (runner.Action, error) {
		return runner.Done(), nil
	})
	_, err := wrapped(ctx, obj)
	require.NoError(t, err)
}
