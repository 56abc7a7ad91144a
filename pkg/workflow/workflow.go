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

// Package workflow defines the durable-workflow contract used for
// long-running sync work. A workflow is a function over a Run handle; each
// named step's result is journaled, so a re-started workflow skips steps
// that already completed instead of redoing their writes.
package workflow

import "context"

// CompletionKind classifies how a workflow finished.
type CompletionKind string

const (
	// CompletionSuccess means every step completed.
	CompletionSuccess CompletionKind = "success"

	// CompletionFailed means a step failed in a way retrying cannot fix.
	CompletionFailed CompletionKind = "failed"

	// CompletionError means a step exhausted its retries on a transient
	// error; the workflow may be started again later.
	CompletionError CompletionKind = "error"

	// CompletionCanceled means the context was canceled mid-run.
	CompletionCanceled CompletionKind = "canceled"
)

// Completion is the terminal report of one workflow run.
type Completion struct {
	Kind CompletionKind

	// Err carries the failing step's error message for failed, error, and
	// canceled completions.
	Err string
}

// Run is the handle a workflow function drives its steps through.
type Run interface {
	// ID returns the stable workflow id. Re-started workflows share it.
	ID() string

	// Step executes fn once per workflow id and step name. If a previous
	// run already journaled a result for name, fn is skipped and the
	// journaled result returned. Results must be small and serializable;
	// bulk data belongs in the store with the journal holding keys.
	Step(ctx context.Context, name string, fn func(ctx context.Context) (string, error)) (string, error)
}

// Fn is a workflow body. It must be deterministic over the journal: same
// id, same step sequence.
type Fn func(ctx context.Context, run Run) error

// DoneFn receives the workflow's terminal completion exactly once per run
// attempt.
type DoneFn func(ctx context.Context, c Completion)

// Engine starts workflows. Implementations decide where the body executes;
// the contract only promises journaled step dedup and a completion report.
type Engine interface {
	Start(ctx context.Context, id string, fn Fn, done DoneFn) error
}
