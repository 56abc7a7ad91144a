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

package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/abcxyz/pkg/logging"

	"github.com/abcxyz/github-mirror/pkg/model"
	"github.com/abcxyz/github-mirror/pkg/store"
)

// Start launches the retry and dead-letter sweeps. Both stop when ctx is
// canceled.
func (p *Processor) Start(ctx context.Context) {
	go p.sweepLoop(ctx, "retry", p.cfg.RetrySweepInterval, p.SweepRetries)
	go p.sweepLoop(ctx, "dead-letter", p.cfg.DeadLetterSweepInterval, p.SweepDeadLetters)
}

func (p *Processor) sweepLoop(ctx context.Context, name string, interval time.Duration, sweep func(context.Context) (int, error)) {
	logger := logging.FromContext(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := sweep(ctx)
			if err != nil {
				logger.ErrorContext(ctx, "sweep failed",
					"sweep", name,
					"error", err)
				continue
			}
			if n > 0 {
				logger.InfoContext(ctx, "sweep completed",
					"sweep", name,
					"touched", n)
			}
		}
	}
}

// SweepRetries dispatches every retry event whose backoff has elapsed. It
// reports how many events it dispatched.
func (p *Processor) SweepRetries(ctx context.Context) (int, error) {
	now := timeNow().UnixMilli()
	total := 0

	events, err := p.store.ListRawEventsDue(ctx, model.ProcessRetry, now, sweepBatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list due retries: %w", err)
	}

	for _, ev := range events {
		if err := p.ProcessEvent(ctx, ev.DeliveryID); err != nil {
			return total, fmt.Errorf("failed to process %q: %w", ev.DeliveryID, err)
		}
		total++
	}
	return total, nil
}

// SweepDeadLetters promotes failed events older than the configured age into
// the dead-letter log and removes the raw rows. It reports how many events
// it promoted.
func (p *Processor) SweepDeadLetters(ctx context.Context) (int, error) {
	logger := logging.FromContext(ctx)
	cutoff := timeNow().Add(-p.cfg.DeadLetterAge).UnixMilli()
	total := 0

	for {
		events, err := p.store.ListRawEventsByState(ctx, model.ProcessFailed, sweepBatchSize)
		if err != nil {
			return total, fmt.Errorf("failed to list failed events: %w", err)
		}

		promoted := 0
		for _, ev := range events {
			if ev.ReceivedAt > cutoff {
				continue
			}

			reason := "max-attempts-exceeded"
			if !ev.SignatureValid {
				reason = "invalid-signature"
			} else if ev.ProcessError != "" {
				reason = fmt.Sprintf("max-attempts-exceeded: %s", ev.ProcessError)
			}

			dl := &model.DeadLetter{
				DeliveryID:  ev.DeliveryID,
				Reason:      reason,
				PayloadJSON: ev.PayloadJSON,
				CreatedAt:   timeNow().UnixMilli(),
				Source:      model.DeadLetterWebhook,
			}
			if err := p.store.InsertDeadLetter(ctx, dl); err != nil {
				return total, fmt.Errorf("failed to dead-letter %q: %w", ev.DeliveryID, err)
			}
			if err := p.store.DeleteRawEvent(ctx, ev.DeliveryID); err != nil {
				return total, fmt.Errorf("failed to delete raw event %q: %w", ev.DeliveryID, err)
			}

			logger.WarnContext(ctx, "event dead-lettered",
				"delivery_id", ev.DeliveryID,
				"event", ev.EventName,
				"reason", reason)
			promoted++
			total++
		}

		// Anything left on the page is younger than the cutoff.
		if promoted == 0 {
			return total, nil
		}
	}
}
