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

package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/abcxyz/pkg/logging"

	"github.com/abcxyz/github-mirror/pkg/store"
)

// Scheduler runs tasks on goroutine timers. Failures are logged; the retry
// controller's sweeps provide redelivery, so the scheduler itself does not
// retry.
type Scheduler struct {
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

var _ store.Scheduler = (*Scheduler)(nil)

// NewScheduler creates a scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{}
}

// RunAfter schedules task after delayMillis. The task runs on a background
// context so it survives the scheduling request's cancellation.
func (s *Scheduler) RunAfter(ctx context.Context, delayMillis int64, name string, task store.Task) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	logger := logging.FromContext(ctx)
	runCtx := logging.WithLogger(context.Background(), logger)

	time.AfterFunc(time.Duration(delayMillis)*time.Millisecond, func() {
		defer s.wg.Done()
		if err := task(runCtx); err != nil {
			logger.ErrorContext(runCtx, "scheduled task failed",
				"task", name,
				"error", err)
		}
	})
}

// Close waits for in-flight tasks and rejects new ones.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.wg.Wait()
}
