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

// Package controller implements C10: the façade composing the resilient
// watcher (C3), reflector (C5), object mapper (C7), scheduler (C8) and
// runner (C9) behind a single Run call, for the primary watched kind plus
// any number of related kinds.
package controller

import (
	"context"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"

	"github.com/relaykit/kubeflux/api"
	"github.com/relaykit/kubeflux/decode"
	"github.com/relaykit/kubeflux/internal/backoff"
	"github.com/relaykit/kubeflux/internal/metrics"
	"github.com/relaykit/kubeflux/queue"
	"github.com/relaykit/kubeflux/reflector"
	"github.com/relaykit/kubeflux/runner"
	"github.com/relaykit/kubeflux/store"
	"github.com/relaykit/kubeflux/transport"
	"github.com/relaykit/kubeflux/trigger"
)

// Watch describes one additional kind to watch alongside the primary kind.
// Mapper maps each of its events onto zero or more primary-kind ObjectRefs
// to submit for reconciliation.
type Watch struct {
	Descriptor    api.ResourceDescriptor
	LabelSelector string
	FieldSelector string
	Mapper        trigger.Mapper
}

// Config parameterizes a Controller.
type Config struct {
	BaseURL   string
	Transport transport.RoundTripper
	Codec     decode.Codec

	// Primary is the watched kind reconciled directly; its own events are
	// mapped via trigger.Self.
	Primary       api.ResourceDescriptor
	LabelSelector string
	FieldSelector string

	// Extra lists related kinds whose events are mapped onto primary-kind
	// ObjectRefs through their own Mapper (typically trigger.Owners).
	Extra []Watch

	Reconcile   runner.Reconciler
	ErrorPolicy runner.ErrorPolicy

	PageLimit           int64
	WatchTimeoutSeconds int64
	Backoff             backoff.Schedule
	Log                 logr.Logger

	// Metrics, if set, records watch-event and backoff instrumentation under
	// each watched kind's own name, and reconcile instrumentation and
	// scheduler depth under the primary kind's name (see internal/metrics). A nil Metrics
	// records nothing; every hook tolerates a nil receiver.
	Metrics *metrics.Recorder
}

type watchedKind struct {
	watcher *reflector.Watcher
	reflect *reflector.Reflector
	mapper  trigger.Mapper
	kind    string
}

// Controller composes one C3+C5 pipeline per watched kind, feeding a single
// shared scheduler drained by one runner.
type Controller struct {
	cfg    Config
	store  *store.Writer
	reader store.Reader
	sched  *queue.Scheduler
	run    *runner.Runner
	kinds  []watchedKind
	log    logr.Logger
}

// New builds a Controller from cfg. Run must be called to start it.
func New(cfg Config) *Controller {
	if cfg.Log.IsZero() {
		cfg.Log = logr.Discard()
	}

	writer, reader := store.New()
	sched := queue.New()

	kinds := make([]watchedKind, 0, 1+len(cfg.Extra))
	kinds = append(kinds, newWatchedKind(cfg, cfg.Primary, cfg.LabelSelector, cfg.FieldSelector, trigger.Self(), writer))
	for _, w := range cfg.Extra {
		// Each related kind gets its own store: a shared Writer would let one
		// kind's relist (InitDone swap) replace another kind's objects.
		extraWriter, _ := store.New()
		kinds = append(kinds, newWatchedKind(cfg, w.Descriptor, w.LabelSelector, w.FieldSelector, w.Mapper, extraWriter))
	}

	primaryKind := cfg.Primary.Kind
	r := runner.New(runner.Config{
		Scheduler:    sched,
		Reader:       reader,
		Reconcile:    cfg.Metrics.WrapReconciler(primaryKind, cfg.Reconcile),
		ErrorPolicy:  cfg.ErrorPolicy,
		Log:          cfg.Log,
		OnReconciled: cfg.Metrics.OnReconciled(primaryKind),
	})
	if err := cfg.Metrics.ObserveQueueDepth(primaryKind, sched.Len); err != nil {
		cfg.Log.Error(err, "failed to register scheduler depth gauge")
	}

	return &Controller{
		cfg:    cfg,
		store:  writer,
		reader: reader,
		sched:  sched,
		run:    r,
		kinds:  kinds,
		log:    cfg.Log,
	}
}

func newWatchedKind(cfg Config, desc api.ResourceDescriptor, labelSelector, fieldSelector string, mapper trigger.Mapper, writer *store.Writer) watchedKind {
	w := reflector.NewWatcher(reflector.Config{
		BaseURL:             cfg.BaseURL,
		Descriptor:          desc,
		Transport:           cfg.Transport,
		Codec:               cfg.Codec,
		LabelSelector:       labelSelector,
		FieldSelector:       fieldSelector,
		PageLimit:           cfg.PageLimit,
		WatchTimeoutSeconds: cfg.WatchTimeoutSeconds,
		Backoff:             cfg.Backoff,
		Log:                 cfg.Log,
		Metrics:             cfg.Metrics,
	})
	return watchedKind{
		watcher: w,
		reflect: reflector.New(writer, nil),
		mapper:  mapper,
		kind:    desc.Kind,
	}
}

// Reader exposes the primary kind's store for callers that want direct snapshot
// access alongside reconciliation (e.g. an HTTP health/debug endpoint).
func (c *Controller) Reader() store.Reader { return c.reader }

// Run drives every watched kind's C3+C5 pipeline and the shared C9 runner
// until ctx is cancelled or an upstream watcher terminates fatally. It
// returns once every goroutine it started has exited.
func (c *Controller) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, k := range c.kinds {
		k := k
		rawCh := make(chan api.WatchEvent)
		forwardCh := make(chan api.WatchEvent)

		g.Go(func() error {
			defer close(rawCh)
			return k.watcher.Run(ctx, rawCh)
		})
		g.Go(func() error {
			defer close(forwardCh)
			return k.reflect.Run(ctx, rawCh, forwardCh)
		})
		g.Go(func() error {
			for ev := range forwardCh {
				c.cfg.Metrics.RecordEvent(ctx, k.kind, ev)
				for _, ref := range k.mapper(ev) {
					c.sched.Submit(ref, time.Now())
				}
			}
			return nil
		})
	}

	g.Go(func() error {
		return c.run.Run(ctx)
	})

	err := g.Wait()
	c.run.Stop()
	return err
}
