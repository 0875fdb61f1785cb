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

// Package metrics bridges kubeflux's instrumentation points (watch events,
// watch backoffs, reconciles, scheduler depth) onto OpenTelemetry instruments exported through the
// controller-runtime Prometheus registry, the same OTLP-to-Prometheus bridge
// shape as the teacher's internal/metrics/exporter.go.
package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	ctrlmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"

	"github.com/relaykit/kubeflux/api"
	"github.com/relaykit/kubeflux/runner"
)

// Recorder records watch-engine and controller-runtime instrumentation onto
// a shared OTel Meter. A nil *Recorder is valid and records nothing, so
// every hook below may be called unconditionally by callers that did not
// wire metrics in.
type Recorder struct {
	meter metric.Meter

	eventsTotal          metric.Int64Counter
	reconcilesTotal      metric.Int64Counter
	reconcileErrorsTotal metric.Int64Counter
	reconcileDuration    metric.Float64Histogram
	backoffTotal         metric.Int64Counter
}

// New wires an OTel MeterProvider to a Prometheus exporter registered
// against sigs.k8s.io/controller-runtime/pkg/metrics.Registry, exactly the
// registerer the teacher's InitOTLPExporter feeds, so a kubeflux-based
// controller and an embedding controller-runtime manager share one
// /metrics endpoint. The returned func shuts the provider down; callers
// should defer it.
func New() (*Recorder, func(context.Context) error, error) {
	exporter, err := otelprom.New(otelprom.WithRegisterer(ctrlmetrics.Registry))
	if err != nil {
		return nil, nil, fmt.Errorf("creating prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)
	meter := provider.Meter("kubeflux")

	r := &Recorder{meter: meter}

	if r.eventsTotal, err = meter.Int64Counter(
		"kubeflux_watch_events_total",
		metric.WithDescription("watch events forwarded by the reflector, by kind and event type"),
	); err != nil {
		return nil, nil, err
	}
	if r.reconcilesTotal, err = meter.Int64Counter(
		"kubeflux_reconciles_total",
		metric.WithDescription("reconciler invocations completed, by primary kind"),
	); err != nil {
		return nil, nil, err
	}
	if r.reconcileErrorsTotal, err = meter.Int64Counter(
		"kubeflux_reconcile_errors_total",
		metric.WithDescription("reconciler invocations that returned an error, by primary kind"),
	); err != nil {
		return nil, nil, err
	}
	if r.reconcileDuration, err = meter.Float64Histogram(
		"kubeflux_reconcile_duration_seconds",
		metric.WithDescription("wall time spent inside a single reconcile call"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, nil, err
	}
	if r.backoffTotal, err = meter.Int64Counter(
		"kubeflux_watch_backoff_total",
		metric.WithDescription("transient watch failures that triggered a backoff sleep, by kind"),
	); err != nil {
		return nil, nil, err
	}

	return r, provider.Shutdown, nil
}

// ObserveQueueDepth registers an asynchronous gauge that polls depth on every
// OTel collection pass; depth is expected to be queue.Scheduler.Len.
func (r *Recorder) ObserveQueueDepth(kind string, depth func() int) error {
	if r == nil {
		return nil
	}
	gauge, err := r.meter.Int64ObservableGauge(
		"kubeflux_scheduler_depth",
		metric.WithDescription("pending entries in the reconcile scheduler, by watched kind"),
	)
	if err != nil {
		return err
	}
	_, err = r.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(gauge, int64(depth()), metric.WithAttributes(attrKind(kind)))
		return nil
	}, gauge)
	return err
}

// RecordEvent counts one forwarded watch event. kind is the watched
// resource's Kind, not the WatchEventKind; the event's own Kind becomes the
// "type" attribute.
func (r *Recorder) RecordEvent(ctx context.Context, kind string, ev api.WatchEvent) {
	if r == nil {
		return
	}
	r.eventsTotal.Add(ctx, 1, metric.WithAttributes(attrKind(kind), attribute.String("type", ev.Kind.String())))
}

// RecordBackoff counts one transient failure that triggered a backoff sleep.
func (r *Recorder) RecordBackoff(ctx context.Context, kind string) {
	if r == nil {
		return
	}
	r.backoffTotal.Add(ctx, 1, metric.WithAttributes(attrKind(kind)))
}

// WrapReconciler times next and returns a Reconciler that records the
// elapsed duration regardless of outcome; success/error counts are recorded
// separately by OnReconciled, which also sees the post-ErrorPolicy Action.
func (r *Recorder) WrapReconciler(kind string, next runner.Reconciler) runner.Reconciler {
	if r == nil {
		return next
	}
	return func(ctx context.Context, obj api.Object) (runner.Action, error) {
		start := time.Now()
		action, err := next(ctx, obj)
		r.reconcileDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attrKind(kind)))
		return action, err
	}
}

// OnReconciled returns a runner.Config.OnReconciled hook that counts
// completed reconciles, split into total and error counts, for kind.
func (r *Recorder) OnReconciled(kind string) func(ref api.ObjectRef, action runner.Action, err error) {
	return func(ref api.ObjectRef, action runner.Action, err error) {
		if r == nil {
			return
		}
		ctx := context.Background()
		r.reconcilesTotal.Add(ctx, 1, metric.WithAttributes(attrKind(kind)))
		if err != nil {
			r.reconcileErrorsTotal.Add(ctx, 1, metric.WithAttributes(attrKind(kind)))
		}
	}
}

func attrKind(kind string) attribute.KeyValue { return attribute.String("kind", kind) }
