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

// Package localengine runs workflows inline on the calling goroutine with
// the step journal persisted in the document store. It is the single-node
// engine; a clustered deployment swaps in an engine that schedules bodies
// elsewhere while keeping the same journal semantics.
package localengine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/abcxyz/pkg/logging"
	"github.com/sethvargo/go-retry"

	"github.com/abcxyz/github-mirror/pkg/faults"
	"github.com/abcxyz/github-mirror/pkg/store"
	"github.com/abcxyz/github-mirror/pkg/workflow"
)

var (
	// stepRetryBase and stepMaxRetries can be overridden for testing.
	stepRetryBase  = 500 * time.Millisecond
	stepMaxRetries = uint64(3)
)

// Engine is the inline workflow engine.
type Engine struct {
	journal    store.WorkflowJournal
	retryBase  time.Duration
	maxRetries uint64
}

var _ workflow.Engine = (*Engine)(nil)

// Option customizes an engine.
type Option func(*Engine)

// WithStepRetry overrides the per-step retry backoff.
func WithStepRetry(base time.Duration, maxRetries uint64) Option {
	return func(e *Engine) {
		e.retryBase = base
		e.maxRetries = maxRetries
	}
}

// New creates an engine journaling into the given store.
func New(journal store.WorkflowJournal, opts ...Option) *Engine {
	e := &Engine{
		journal:    journal,
		retryBase:  stepRetryBase,
		maxRetries: stepMaxRetries,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start runs the workflow body to completion on the calling goroutine and
// reports the terminal completion through done. The returned error covers
// only engine-level problems; step failures are reported via done.
func (e *Engine) Start(ctx context.Context, id string, fn workflow.Fn, done workflow.DoneFn) error {
	logger := logging.FromContext(ctx)

	run := &run{id: id, engine: e}
	err := fn(ctx, run)

	c := workflow.Completion{Kind: workflow.CompletionSuccess}
	if err != nil {
		c.Err = err.Error()
		switch {
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			c.Kind = workflow.CompletionCanceled
		case !faults.Retryable(err):
			c.Kind = workflow.CompletionFailed
		default:
			c.Kind = workflow.CompletionError
		}
		logger.ErrorContext(ctx, "workflow did not complete",
			"workflow_id", id,
			"completion", c.Kind,
			"error", err)
	}

	if done != nil {
		done(ctx, c)
	}
	return nil
}

type run struct {
	id     string
	engine *Engine
}

func (r *run) ID() string { return r.id }

// Step runs fn with per-step retries unless the journal already holds a
// result for name.
func (r *run) Step(ctx context.Context, name string, fn func(ctx context.Context) (string, error)) (string, error) {
	if result, ok, err := r.engine.journal.GetWorkflowStepResult(ctx, r.id, name); err != nil {
		return "", fmt.Errorf("failed to read step journal: %w", err)
	} else if ok {
		return result, nil
	}

	var result string
	backoff := retry.WithMaxRetries(r.engine.maxRetries, retry.NewFibonacci(r.engine.retryBase))
	if err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var err error
		result, err = fn(ctx)
		if err != nil && faults.Retryable(err) {
			return retry.RetryableError(err)
		}
		return err
	}); err != nil {
		return "", fmt.Errorf("step %q failed: %w", name, err)
	}

	if err := r.engine.journal.PutWorkflowStepResult(ctx, r.id, name, result); err != nil {
		return "", fmt.Errorf("failed to journal step %q: %w", name, err)
	}
	return result, nil
}
