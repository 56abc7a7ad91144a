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

// Package faults defines the error taxonomy shared by the ingestion and
// projection pipeline. Each fault carries a kind that callers branch on with
// errors.As; the kind decides whether an error is retried, dead-lettered, or
// surfaced to the caller.
package faults

import (
	"errors"
	"fmt"
	"time"
)

// Kind enumerates the failure classes the pipeline distinguishes.
type Kind int

const (
	// KindUnknown is the zero value and never set explicitly.
	KindUnknown Kind = iota

	// KindSignatureInvalid is an HMAC mismatch on webhook intake.
	KindSignatureInvalid

	// KindMalformedPayload is a JSON parse or schema decode failure. It is
	// deterministic, so the event is failed without retry.
	KindMalformedPayload

	// KindUnknownEvent is an event or action the dispatcher does not route.
	// The raw event is marked processed with no effect.
	KindUnknownEvent

	// KindUpstreamUnavailable is a GitHub 5xx or a network failure.
	KindUpstreamUnavailable

	// KindUpstreamRateLimited is a GitHub 403/429; RetryAfter carries the
	// server hint when present.
	KindUpstreamRateLimited

	// KindConflict is a stale (out-of-order) update that was skipped.
	KindConflict

	// KindDuplicateOperation is a reused correlation id on an optimistic
	// write.
	KindDuplicateOperation

	// KindWorkflowStepFailed is an exhausted workflow step.
	KindWorkflowStepFailed

	// KindBootstrapItemFailed is a single backfill item that could not be
	// written; the workflow proceeds and the item is dead-lettered.
	KindBootstrapItemFailed
)

// String returns a stable name for the kind.
func (k Kind) String() string {
	switch k {
	case KindSignatureInvalid:
		return "signature_invalid"
	case KindMalformedPayload:
		return "malformed_payload"
	case KindUnknownEvent:
		return "unknown_event"
	case KindUpstreamUnavailable:
		return "upstream_unavailable"
	case KindUpstreamRateLimited:
		return "upstream_rate_limited"
	case KindConflict:
		return "conflict"
	case KindDuplicateOperation:
		return "duplicate_operation"
	case KindWorkflowStepFailed:
		return "workflow_step_failed"
	case KindBootstrapItemFailed:
		return "bootstrap_item_failed"
	case KindUnknown:
	}
	return "unknown"
}

// Fault is a tagged pipeline error.
type Fault struct {
	Kind Kind

	// RetryAfter is the upstream backoff hint for rate-limited faults.
	RetryAfter time.Duration

	// StatusCode is the upstream HTTP status, when one exists.
	StatusCode int

	err error
}

// New creates a fault of the given kind wrapping err.
func New(kind Kind, err error) *Fault {
	return &Fault{Kind: kind, err: err}
}

// Newf creates a fault of the given kind from a format string.
func Newf(kind Kind, format string, args ...any) *Fault {
	return &Fault{Kind: kind, err: fmt.Errorf(format, args...)}
}

func (f *Fault) Error() string {
	if f.err == nil {
		return f.Kind.String()
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.err)
}

func (f *Fault) Unwrap() error { return f.err }

// KindOf extracts the fault kind from err, or KindUnknown when err is not a
// fault.
func KindOf(err error) Kind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return KindUnknown
}

// Retryable reports whether the fault class is transient. Unknown errors are
// treated as retryable so that infrastructure hiccups get the retry budget
// rather than an immediate dead letter.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindMalformedPayload, KindSignatureInvalid, KindUnknownEvent,
		KindConflict, KindDuplicateOperation:
		return false
	case KindUnknown, KindUpstreamUnavailable, KindUpstreamRateLimited,
		KindWorkflowStepFailed, KindBootstrapItemFailed:
	}
	return true
}
