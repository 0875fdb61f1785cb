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

// Package backoff is the jittered exponential schedule the resilient
// watcher (package reflector) uses on transient failures. It generalizes
// the bit-shifted retry delay the teacher's CRD-discovery retry loop uses
// (internal/watch/manager.go's calculateRetryDelay) to the full schedule
// spec §4.3 names: an overflow-capped exponential with symmetric jitter,
// reset after a period of stable operation.
package backoff

import (
	"math/rand"
	"time"
)

// Schedule parameterizes the backoff curve.
type Schedule struct {
	Initial     time.Duration
	Multiplier  float64
	Jitter      float64 // fraction, e.g. 0.2 for ±20%
	Cap         time.Duration
	StableAfter time.Duration
}

// Default is the schedule spec §4.3 prescribes: initial 800ms, multiplier
// 2.0, jitter ±20%, cap 30s, reset after 2 minutes of stable watching.
func Default() Schedule {
	return Schedule{
		Initial:     800 * time.Millisecond,
		Multiplier:  2.0,
		Jitter:      0.2,
		Cap:         30 * time.Second,
		StableAfter: 2 * time.Minute,
	}
}

// Backoff tracks one failure-streak's worth of attempts against a Schedule.
// Not safe for concurrent use; callers own one Backoff per watcher.
type Backoff struct {
	schedule Schedule
	attempt  int
	randFunc func() float64
}

// New creates a Backoff at attempt zero.
func New(schedule Schedule) *Backoff {
	return &Backoff{schedule: schedule, randFunc: rand.Float64}
}

// Next returns the delay for the current attempt and advances to the next.
// Jitter must never be omitted: it is what keeps many watchers recovering
// from a shared outage from retrying in lockstep (spec §9).
func (b *Backoff) Next() time.Duration {
	d := float64(b.schedule.Initial)
	for i := 0; i < b.attempt; i++ {
		d *= b.schedule.Multiplier
	}
	if cap := float64(b.schedule.Cap); d > cap {
		d = cap
	}
	b.attempt++

	jitterRange := d * b.schedule.Jitter
	jittered := d + (b.randFunc()*2-1)*jitterRange
	if jittered < 0 {
		jittered = 0
	}
	return time.Duration(jittered)
}

// Reset clears the failure streak, as the watcher does after StableAfter of
// uninterrupted watching.
func (b *Backoff) Reset() { b.attempt = 0 }

// StableAfter exposes the configured stability window.
func (b *Backoff) StableAfter() time.Duration { return b.schedule.StableAfter }
