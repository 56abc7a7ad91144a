// Copyright 2026 The Authors (see AUTHORS file)
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package ingest drives stored raw events through dispatch with bounded
// retries. Retryable failures back off exponentially with jitter; exhausted
// or terminally-failed events age into the dead-letter log.
package ingest

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/abcxyz/pkg/logging"

	"github.com/abcxyz/github-mirror/pkg/faults"
	"github.com/abcxyz/github-mirror/pkg/model"
	"github.com/abcxyz/github-mirror/pkg/store"
)

// timeNow is exposed to allow overriding in tests.
var timeNow = time.Now

// jitterFrac is exposed to allow overriding in tests. It returns a value in
// [-0.2, 0.2) applied multiplicatively to the computed backoff.
var jitterFrac = func() float64 {
	return (rand.Float64() - 0.5) * 0.4 //nolint:gosec // jitter needs no cryptographic randomness
}

// sweepBatchSize bounds how many rows one sweep pass touches.
const sweepBatchSize = 100

// Dispatcher routes a verified raw event to its domain handler. The
// production implementation is dispatch.Dispatcher.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev *model.RawEvent) error
}

// Processor owns the raw-event retry lifecycle.
type Processor struct {
	store      store.Store
	dispatcher Dispatcher
	cfg        *Config
}

// NewProcessor creates a processor over the given store and dispatcher.
func NewProcessor(st store.Store, dispatcher Dispatcher, cfg *Config) (*Processor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &Processor{store: st, dispatcher: dispatcher, cfg: cfg}, nil
}

// ProcessEvent dispatches one stored delivery. Events already processed or
// terminally failed are left alone, so redundant schedules and concurrent
// sweeps converge.
func (p *Processor) ProcessEvent(ctx context.Context, deliveryID string) error {
	logger := logging.FromContext(ctx)

	ev, err := p.store.GetRawEvent(ctx, deliveryID)
	if err != nil {
		return fmt.Errorf("failed to load raw event %q: %w", deliveryID, err)
	}
	if ev.ProcessState != model.ProcessPending && ev.ProcessState != model.ProcessRetry {
		logger.DebugContext(ctx, "skipping event not awaiting dispatch",
			"delivery_id", deliveryID,
			"state", ev.ProcessState)
		return nil
	}

	dispatchErr := p.dispatcher.Dispatch(ctx, ev)
	if dispatchErr == nil {
		if _, err := p.store.TransitionRawEvent(ctx, deliveryID,
			[]model.ProcessState{model.ProcessPending, model.ProcessRetry},
			store.RawEventPatch{State: model.ProcessProcessed}); err != nil {
			return fmt.Errorf("failed to mark event processed: %w", err)
		}
		return nil
	}

	attempts := ev.ProcessAttempts + 1
	msg := dispatchErr.Error()

	if !faults.Retryable(dispatchErr) || attempts >= p.cfg.EventMaxAttempts {
		logger.ErrorContext(ctx, "event dispatch failed terminally",
			"delivery_id", deliveryID,
			"event", ev.EventName,
			"attempts", attempts,
			"error", dispatchErr)
		if _, err := p.store.TransitionRawEvent(ctx, deliveryID,
			[]model.ProcessState{model.ProcessPending, model.ProcessRetry},
			store.RawEventPatch{
				State:           model.ProcessFailed,
				ProcessError:    &msg,
				ProcessAttempts: &attempts,
			}); err != nil {
			return fmt.Errorf("failed to mark event failed: %w", err)
		}
		return nil
	}

	nextRetryAt := timeNow().UnixMilli() + p.backoffMillis(attempts)
	logger.WarnContext(ctx, "event dispatch failed, will retry",
		"delivery_id", deliveryID,
		"event", ev.EventName,
		"attempts", attempts,
		"next_retry_at", nextRetryAt,
		"error", dispatchErr)
	if _, err := p.store.TransitionRawEvent(ctx, deliveryID,
		[]model.ProcessState{model.ProcessPending, model.ProcessRetry},
		store.RawEventPatch{
			State:           model.ProcessRetry,
			ProcessError:    &msg,
			ProcessAttempts: &attempts,
			NextRetryAt:     &nextRetryAt,
		}); err != nil {
		return fmt.Errorf("failed to schedule event retry: %w", err)
	}
	return nil
}

// backoffMillis computes the delay before the given attempt: base doubled
// per prior attempt, capped at max, with jitter to spread thundering herds.
func (p *Processor) backoffMillis(attempts int) int64 {
	d := p.cfg.RetryBackoffBase
	for i := 1; i < attempts && d < p.cfg.RetryBackoffMax; i++ {
		d *= 2
	}
	if d > p.cfg.RetryBackoffMax {
		d = p.cfg.RetryBackoffMax
	}
	millis := float64(d.Milliseconds())
	millis += millis * jitterFrac()
	return int64(millis)
}

// Replay forces one delivery back through dispatch regardless of its current
// state. The attempt counter is reset so the event gets a fresh retry budget.
func (p *Processor) Replay(ctx context.Context, deliveryID string) error {
	ev, err := p.store.GetRawEvent(ctx, deliveryID)
	if err != nil {
		return fmt.Errorf("failed to load raw event %q: %w", deliveryID, err)
	}
	if !ev.SignatureValid {
		return fmt.Errorf("delivery %q was rejected at intake and cannot be replayed", deliveryID)
	}

	zero := 0
	empty := ""
	if _, err := p.store.TransitionRawEvent(ctx, deliveryID,
		[]model.ProcessState{model.ProcessPending, model.ProcessRetry, model.ProcessFailed, model.ProcessProcessed},
		store.RawEventPatch{
			State:           model.ProcessPending,
			ProcessError:    &empty,
			ProcessAttempts: &zero,
		}); err != nil {
		return fmt.Errorf("failed to reset event for replay: %w", err)
	}

	return p.ProcessEvent(ctx, deliveryID)
}

// RetryAllFailed re-enqueues every terminally-failed event that passed
// signature verification. It reports how many events it touched.
func (p *Processor) RetryAllFailed(ctx context.Context) (int, error) {
	now := timeNow().UnixMilli()
	total := 0

	// Forged-signature audit rows stay failed and keep their place at the
	// front of the state index. Remembering them lets each pass widen its
	// fetch to reach the rows behind an arbitrarily long audit backlog.
	skipped := make(map[string]struct{})
	for {
		events, err := p.store.ListRawEventsByState(ctx, model.ProcessFailed, sweepBatchSize+len(skipped))
		if err != nil {
			return total, fmt.Errorf("failed to list failed events: %w", err)
		}

		progressed := false
		for _, ev := range events {
			if _, ok := skipped[ev.DeliveryID]; ok {
				continue
			}
			progressed = true
			if !ev.SignatureValid {
				skipped[ev.DeliveryID] = struct{}{}
				continue
			}
			zero := 0
			ok, err := p.store.TransitionRawEvent(ctx, ev.DeliveryID,
				[]model.ProcessState{model.ProcessFailed},
				store.RawEventPatch{
					State:           model.ProcessRetry,
					ProcessAttempts: &zero,
					NextRetryAt:     &now,
				})
			if err != nil {
				return total, fmt.Errorf("failed to re-enqueue %q: %w", ev.DeliveryID, err)
			}
			if ok {
				total++
			} else {
				// A concurrent sweep moved it first.
				skipped[ev.DeliveryID] = struct{}{}
			}
		}

		if !progressed {
			return total, nil
		}
	}
}
