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

// Package runner implements C9: draining the scheduler, enforcing mutual
// exclusion per key, and spawning user reconcilers.
package runner

import (
	"context"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/relaykit/kubeflux/api"
	"github.com/relaykit/kubeflux/queue"
	"github.com/relaykit/kubeflux/store"
)

// Action is a reconciler's outcome: either Done or RequeueAfter a delay.
// Both outcomes cause a new scheduler submission when a delay is requested;
// Done alone submits nothing further.
type Action struct {
	requeue bool
	after   time.Duration
}

// Done indicates the reconciler needs no further scheduling of its own.
func Done() Action { return Action{} }

// RequeueAfter schedules another reconcile of the same key after d.
func RequeueAfter(d time.Duration) Action { return Action{requeue: true, after: d} }

// Reconciler reconciles one object. The runner fetches obj from the store at
// dispatch time; context is cancelled cooperatively on runner shutdown.
type Reconciler func(ctx context.Context, obj api.Object) (Action, error)

// ErrorPolicy turns a reconcile error into an Action. Both resulting Action
// values cause a new scheduler submission, same as a successful RequeueAfter.
type ErrorPolicy func(err error, ref api.ObjectRef) Action

// Config parameterizes a Runner.
type Config struct {
	Scheduler   *queue.Scheduler
	Reader      store.Reader
	Reconcile   Reconciler
	ErrorPolicy ErrorPolicy
	Log         logr.Logger

	// OnReconciled, if set, is called synchronously after every completed
	// reconcile (including ones that errored, after ErrorPolicy has already
	// turned the error into action) with the key's ObjectRef and outcome.
	// Intended for tests and metrics; never on the critical path for
	// resubmission decisions.
	OnReconciled func(ref api.ObjectRef, action Action, err error)
}

// Runner drains a Scheduler, enforcing that at most one reconcile is in
// flight per ObjectRef at a time. A key yielded while its own reconcile is
// still in flight is deferred: a pending flag is recorded and the key is
// resubmitted with dueAt = now once the in-flight reconcile completes.
type Runner struct {
	scheduler    *queue.Scheduler
	reader       store.Reader
	reconcile    Reconciler
	errorPolicy  ErrorPolicy
	log          logr.Logger
	onReconciled func(ref api.ObjectRef, action Action, err error)

	mu       sync.Mutex
	inFlight map[api.ObjectRef]context.CancelFunc
	pending  map[api.ObjectRef]bool
	wg       sync.WaitGroup
}

// New builds a Runner from cfg. ErrorPolicy defaults to always RequeueAfter
// 1s if unset.
func New(cfg Config) *Runner {
	if cfg.ErrorPolicy == nil {
		cfg.ErrorPolicy = func(error, api.ObjectRef) Action { return RequeueAfter(time.Second) }
	}
	if cfg.Log.IsZero() {
		cfg.Log = logr.Discard()
	}
	return &Runner{
		scheduler:    cfg.Scheduler,
		reader:       cfg.Reader,
		reconcile:    cfg.Reconcile,
		errorPolicy:  cfg.ErrorPolicy,
		log:          cfg.Log,
		onReconciled: cfg.OnReconciled,
		inFlight:     make(map[api.ObjectRef]context.CancelFunc),
		pending:      make(map[api.ObjectRef]bool),
	}
}

// Run drains the scheduler until ctx is cancelled or the scheduler is
// closed, dispatching one goroutine per non-conflicting key. Run blocks
// until every in-flight reconcile has returned before returning, so callers
// can rely on a clean shutdown once Run returns.
func (r *Runner) Run(ctx context.Context) error {
	for {
		ref, ok := r.scheduler.Pop(ctx)
		if !ok {
			break
		}
		r.dispatch(ctx, ref)
	}
	r.wg.Wait()
	return ctx.Err()
}

func (r *Runner) dispatch(ctx context.Context, ref api.ObjectRef) {
	r.mu.Lock()
	if _, busy := r.inFlight[ref]; busy {
		r.pending[ref] = true
		r.mu.Unlock()
		r.log.V(1).Info("reconcile already in flight, deferring", "ref", ref.String())
		return
	}

	obj, found := r.reader.Get(ref)
	if !found {
		r.mu.Unlock()
		r.log.V(1).Info("object no longer in store, dropping key", "ref", ref.String())
		return
	}

	taskCtx, cancel := context.WithCancel(ctx)
	r.inFlight[ref] = cancel
	r.mu.Unlock()

	r.wg.Add(1)
	go r.runOne(taskCtx, cancel, ref, obj)
}

func (r *Runner) runOne(ctx context.Context, cancel context.CancelFunc, ref api.ObjectRef, obj api.Object) {
	defer r.wg.Done()

	action, err := r.reconcile(ctx, obj)
	if err != nil {
		r.log.Error(err, "reconcile failed", "ref", ref.String())
		action = r.errorPolicy(err, ref)
	}
	if r.onReconciled != nil {
		r.onReconciled(ref, action, err)
	}

	r.mu.Lock()
	delete(r.inFlight, ref)
	cancel()
	wasPending := r.pending[ref]
	delete(r.pending, ref)
	r.mu.Unlock()

	if action.requeue {
		r.scheduler.Submit(ref, time.Now().Add(action.after))
	}
	if wasPending {
		r.scheduler.Submit(ref, time.Now())
	}
}

// Stop closes the scheduler, so Run's Pop loop terminates and no new
// reconciles start, then cancels every in-flight reconcile's context.
// Cancellation is cooperative: a running reconciler observes it at its next
// suspension point, same as the rest of the core.
func (r *Runner) Stop() {
	r.scheduler.Close()

	r.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(r.inFlight))
	for _, cancel := range r.inFlight {
		cancels = append(cancels, cancel)
	}
	r.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}
