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

// Package optimistic coordinates client-initiated GitHub writes. Each
// operation records its effect on the local row before the network call,
// keyed by a client-supplied correlation id; the confirming webhook later
// flips the row from pending or accepted to confirmed. A rejected call marks
// the row failed without rolling it back, so the client sees exactly what
// GitHub rejected.
package optimistic

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/abcxyz/pkg/logging"
	"github.com/google/go-github/v56/github"

	"github.com/abcxyz/github-mirror/pkg/githubclient"
	"github.com/abcxyz/github-mirror/pkg/model"
	"github.com/abcxyz/github-mirror/pkg/projection"
	"github.com/abcxyz/github-mirror/pkg/store"
)

// timeNow is exposed to allow overriding in tests.
var timeNow = time.Now

// provisionalSeq feeds provisional negative identifiers for stub rows that
// exist only until GitHub assigns the real number or id.
var provisionalSeq atomic.Int64

// Operation type tags stored on optimistically written rows.
const (
	OpCreateIssue             = "create_issue"
	OpCreateComment           = "create_comment"
	OpUpdateIssueState        = "update_issue_state"
	OpMergePullRequest        = "merge_pull_request"
	OpUpdatePullRequestBranch = "update_pull_request_branch"
	OpSubmitPrReview          = "submit_pr_review"
	OpUpdateLabels            = "update_labels"
	OpUpdateAssignees         = "update_assignees"
)

// DuplicateOperationError reports a reused correlation id. The original
// operation's row is untouched and no GitHub call was made.
type DuplicateOperationError struct {
	CorrelationID string
}

func (e *DuplicateOperationError) Error() string {
	return fmt.Sprintf("correlation id %q was already used", e.CorrelationID)
}

// Writer is the slice of the GitHub surface the coordinator mutates
// through, satisfied by [githubclient.GitHub]. Write calls are not retried;
// an ambiguous outcome is resolved by the correlation id, never by
// re-issuing the call.
type Writer interface {
	CreateIssue(ctx context.Context, owner, repo, title, body string) (*github.Issue, *github.Response, error)
	CreateIssueComment(ctx context.Context, owner, repo string, number int, body string) (*github.IssueComment, *github.Response, error)
	EditIssueState(ctx context.Context, owner, repo string, number int, state string) (*github.Issue, *github.Response, error)
	MergePullRequest(ctx context.Context, owner, repo string, number int, method string) (*github.PullRequestMergeResult, *github.Response, error)
	UpdatePullRequestBranch(ctx context.Context, owner, repo string, number int, expectedHeadSHA string) (*github.Response, error)
	CreateReview(ctx context.Context, owner, repo string, number int, event, body string) (*github.PullRequestReview, *github.Response, error)
	AddLabels(ctx context.Context, owner, repo string, number int, labels []string) (*github.Response, error)
	RemoveLabel(ctx context.Context, owner, repo string, number int, label string) (*github.Response, error)
	AddAssignees(ctx context.Context, owner, repo string, number int, assignees []string) (*github.Response, error)
	RemoveAssignees(ctx context.Context, owner, repo string, number int, assignees []string) (*github.Response, error)
}

var _ Writer = (*githubclient.GitHub)(nil)

// ClientSource resolves an authenticated writer for a repository.
type ClientSource interface {
	WriterFor(ctx context.Context, repo *model.Repository) (Writer, error)
}

// Coordinator performs the optimistic write operations.
type Coordinator struct {
	store     store.Store
	clients   ClientSource
	projector *projection.Builder
}

// New creates a coordinator.
func New(st store.Store, clients ClientSource, projector *projection.Builder) *Coordinator {
	return &Coordinator{store: st, clients: clients, projector: projector}
}

// resolve loads the repository and its writer.
func (c *Coordinator) resolve(ctx context.Context, repositoryID string) (*model.Repository, Writer, error) {
	repo, err := c.store.GetRepository(ctx, repositoryID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load repository: %w", err)
	}
	w, err := c.clients.WriterFor(ctx, repo)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to resolve credentials: %w", err)
	}
	return repo, w, nil
}

// checkIssueCorrelation fails when the correlation id was already used on
// any issue of the repository.
func (c *Coordinator) checkIssueCorrelation(ctx context.Context, repositoryID, correlationID string) error {
	if _, err := c.store.GetIssueByCorrelation(ctx, repositoryID, correlationID); err == nil {
		return &DuplicateOperationError{CorrelationID: correlationID}
	} else if !isNotFound(err) {
		return fmt.Errorf("failed to check correlation: %w", err)
	}
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}

// pendingFields builds the optimistic fields written before the network
// call.
func pendingFields(correlationID, opType, payloadJSON string, now int64) model.Optimistic {
	return model.Optimistic{
		OptimisticCorrelationID: correlationID,
		OptimisticOperationType: opType,
		OptimisticState:         model.OptimisticPending,
		OptimisticUpdatedAt:     now,
		OptimisticPayloadJSON:   payloadJSON,
	}
}

// markAccepted flips pending optimistic fields to accepted in place.
func markAccepted(o *model.Optimistic, now int64) {
	o.OptimisticState = model.OptimisticAccepted
	o.OptimisticErrorMessage = ""
	o.OptimisticErrorStatus = 0
	o.OptimisticUpdatedAt = now
}

// markFailed records the rejection on the optimistic fields in place.
func markFailed(o *model.Optimistic, cause error, resp *github.Response, now int64) {
	o.OptimisticState = model.OptimisticFailed
	o.OptimisticErrorMessage = cause.Error()
	o.OptimisticErrorStatus = statusOf(resp)
	o.OptimisticUpdatedAt = now
}

func statusOf(resp *github.Response) int {
	if resp == nil || resp.Response == nil {
		return 0
	}
	return resp.StatusCode
}

// rejection wraps a GitHub reject into the error surfaced to the caller.
func rejection(op string, cause error, resp *github.Response) error {
	if status := statusOf(resp); status != 0 {
		return fmt.Errorf("%s rejected by github (status %d): %w", op, status, cause)
	}
	return fmt.Errorf("%s failed: %w", op, cause)
}

// rebuild refreshes the repository projection after a local write. A
// projection failure never fails the operation that caused it.
func (c *Coordinator) rebuild(ctx context.Context, repositoryID string) {
	if err := c.projector.Rebuild(ctx, repositoryID); err != nil {
		logging.FromContext(ctx).WarnContext(ctx, "failed to rebuild projection",
			"repository_id", repositoryID,
			"error", err)
	}
}

func nextProvisional() int {
	return -int(provisionalSeq.Add(1))
}
