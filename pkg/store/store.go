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

// Package store defines the document-store contract the pipeline depends on:
// atomic per-entity mutations, the secondary-index queries each component
// needs, conditional state transitions for the serialization points, a
// scheduler with at-least-once semantics, and O(log n) aggregate counters.
//
// The shipped implementation is memstore; a production deployment swaps in a
// backend that satisfies the same interfaces.
package store

import (
	"context"
	"errors"

	"github.com/abcxyz/github-mirror/pkg/model"
)

// ErrNotFound is returned by lookups that matched no document.
var ErrNotFound = errors.New("document not found")

// Task is a unit of scheduled work.
type Task func(ctx context.Context) error

// Scheduler runs tasks after a delay with at-least-once semantics. A task
// failure is logged by the scheduler; redelivery is the caller's concern
// (the retry controller re-enqueues via its sweeps).
type Scheduler interface {
	RunAfter(ctx context.Context, delayMillis int64, name string, task Task)
}

// RawEventPatch is a partial update applied during a raw-event transition.
type RawEventPatch struct {
	State           model.ProcessState
	ProcessError    *string
	ProcessAttempts *int
	NextRetryAt     *int64
}

// RawEvents owns the durable webhook audit log.
type RawEvents interface {
	// InsertRawEvent inserts the event unless its delivery id already
	// exists. It reports whether a row was created.
	InsertRawEvent(ctx context.Context, ev *model.RawEvent) (bool, error)

	GetRawEvent(ctx context.Context, deliveryID string) (*model.RawEvent, error)

	// TransitionRawEvent applies patch iff the current state is one of
	// from. It reports whether the transition happened, making concurrent
	// attempts on the same row converge.
	TransitionRawEvent(ctx context.Context, deliveryID string, from []model.ProcessState, patch RawEventPatch) (bool, error)

	// ListRawEventsDue returns up to limit events in the given state whose
	// NextRetryAt is at or before now.
	ListRawEventsDue(ctx context.Context, state model.ProcessState, now int64, limit int) ([]*model.RawEvent, error)

	// ListRawEventsByState returns up to limit events in the given state,
	// oldest first.
	ListRawEventsByState(ctx context.Context, state model.ProcessState, limit int) ([]*model.RawEvent, error)

	DeleteRawEvent(ctx context.Context, deliveryID string) error

	// CountRawEvents answers the webhooks-by-state aggregate.
	CountRawEvents(ctx context.Context, state model.ProcessState) (int, error)
}

// DeadLetters records terminal failures.
type DeadLetters interface {
	InsertDeadLetter(ctx context.Context, dl *model.DeadLetter) error
	ListDeadLetters(ctx context.Context, limit int) ([]*model.DeadLetter, error)
}

// SyncJobPatch is a partial update applied during a sync-job transition.
type SyncJobPatch struct {
	State          model.SyncJobState
	LastError      *string
	CurrentStep    *string
	CompletedSteps []string
	ItemsFetched   *int
	AttemptCount   *int
	NextRunAt      *int64
}

// SyncJobs owns bootstrap/reconcile work units.
type SyncJobs interface {
	// CreateSyncJob inserts the job unless another job with the same lock
	// key is already pending or running. It returns the winning row and
	// whether this call created it.
	CreateSyncJob(ctx context.Context, job *model.SyncJob) (*model.SyncJob, bool, error)

	GetSyncJob(ctx context.Context, id string) (*model.SyncJob, error)
	GetSyncJobByLockKey(ctx context.Context, lockKey string) (*model.SyncJob, error)

	// ClaimSyncJob transitions the job from pending to running iff fewer
	// than maxRunning jobs are currently running for its installation. The
	// count check and the transition are atomic.
	ClaimSyncJob(ctx context.Context, id string, maxRunning int, now int64) (bool, error)

	// TransitionSyncJob applies patch iff the current state is one of from.
	TransitionSyncJob(ctx context.Context, id string, from []model.SyncJobState, patch SyncJobPatch) (bool, error)

	// ListPendingSyncJobs returns up to limit pending jobs for the
	// installation ordered by priority sort key then creation time.
	ListPendingSyncJobs(ctx context.Context, installationID int64, limit int) ([]*model.SyncJob, error)

	CountRunningSyncJobs(ctx context.Context, installationID int64) (int, error)
}

// Accounts owns installations, repositories, users and their tokens.
type Accounts interface {
	UpsertInstallation(ctx context.Context, inst *model.Installation) (*model.Installation, error)
	GetInstallation(ctx context.Context, installationID int64) (*model.Installation, error)

	// UpsertRepository upserts by the GitHub repo id and maintains the
	// unique full-name index.
	UpsertRepository(ctx context.Context, repo *model.Repository) (*model.Repository, error)
	GetRepository(ctx context.Context, id string) (*model.Repository, error)
	GetRepositoryByGitHubID(ctx context.Context, githubRepoID int64) (*model.Repository, error)
	GetRepositoryByFullName(ctx context.Context, fullName string) (*model.Repository, error)
	MutateRepository(ctx context.Context, id string, fn func(*model.Repository) (*model.Repository, error)) (*model.Repository, error)

	UpsertUser(ctx context.Context, u *model.User) (*model.User, error)
	GetUserByGitHubID(ctx context.Context, githubUserID int64) (*model.User, error)
	GetUserByLogin(ctx context.Context, login string) (*model.User, error)

	PutUserToken(ctx context.Context, tok *model.UserToken) error
	GetUserToken(ctx context.Context, userID string) (*model.UserToken, error)
}

// Domain owns the normalized GitHub rows. Mutate* methods run fn under the
// store's write lock on the addressed document: fn receives the existing row
// (nil when absent) and returns the row to write, or nil to skip the write.
// This is where callers implement out-of-order guards and optimistic-state
// merges atomically.
type Domain interface {
	MutatePullRequest(ctx context.Context, repositoryID string, number int, fn func(*model.PullRequest) (*model.PullRequest, error)) (*model.PullRequest, error)
	GetPullRequest(ctx context.Context, repositoryID string, number int) (*model.PullRequest, error)
	ListPullRequests(ctx context.Context, repositoryID string, state model.EntityState, cursor string, numItems int) (*Page[*model.PullRequest], error)
	ListOpenPullRequests(ctx context.Context, repositoryID string) ([]*model.PullRequest, error)
	CountPullRequests(ctx context.Context, repositoryID string, state model.EntityState) (int, error)

	MutateIssue(ctx context.Context, repositoryID string, number int, fn func(*model.Issue) (*model.Issue, error)) (*model.Issue, error)
	GetIssue(ctx context.Context, repositoryID string, number int) (*model.Issue, error)
	GetIssueByCorrelation(ctx context.Context, repositoryID, correlationID string) (*model.Issue, error)

	// DeleteIssue removes a row outright. Domain rows are only deleted when
	// an optimistic stub is re-keyed to its server-assigned number.
	DeleteIssue(ctx context.Context, repositoryID string, number int) (bool, error)
	ListIssues(ctx context.Context, repositoryID string, state model.EntityState, cursor string, numItems int) (*Page[*model.Issue], error)
	CountIssues(ctx context.Context, repositoryID string, state model.EntityState) (int, error)

	MutateIssueComment(ctx context.Context, repositoryID string, issueNumber int, githubCommentID int64, fn func(*model.IssueComment) (*model.IssueComment, error)) (*model.IssueComment, error)
	DeleteIssueComment(ctx context.Context, repositoryID string, issueNumber int, githubCommentID int64) (bool, error)
	ListIssueComments(ctx context.Context, repositoryID string, issueNumber int) ([]*model.IssueComment, error)
	CountIssueComments(ctx context.Context, repositoryID string, issueNumber int) (int, error)
	GetIssueCommentByCorrelation(ctx context.Context, repositoryID, correlationID string) (*model.IssueComment, error)

	MutateReview(ctx context.Context, repositoryID string, prNumber int, githubReviewID int64, fn func(*model.PullRequestReview) (*model.PullRequestReview, error)) (*model.PullRequestReview, error)
	DeleteReview(ctx context.Context, repositoryID string, prNumber int, githubReviewID int64) (bool, error)
	ListReviews(ctx context.Context, repositoryID string, prNumber int) ([]*model.PullRequestReview, error)
	CountReviews(ctx context.Context, repositoryID string, prNumber int) (int, error)
	GetReviewByCorrelation(ctx context.Context, repositoryID, correlationID string) (*model.PullRequestReview, error)

	MutateReviewComment(ctx context.Context, repositoryID string, prNumber int, githubReviewCommentID int64, fn func(*model.PullRequestReviewComment) (*model.PullRequestReviewComment, error)) (*model.PullRequestReviewComment, error)
	DeleteReviewComment(ctx context.Context, repositoryID string, prNumber int, githubReviewCommentID int64) (bool, error)
	ListReviewComments(ctx context.Context, repositoryID string, prNumber int) ([]*model.PullRequestReviewComment, error)

	// PutPullRequestFiles replaces the file set for the PR when headSHA
	// differs from the stored one; identical heads are a no-op. It reports
	// whether the set was replaced.
	PutPullRequestFiles(ctx context.Context, repositoryID string, prNumber int, headSHA string, files []*model.PullRequestFile) (bool, error)
	ListPullRequestFiles(ctx context.Context, repositoryID string, prNumber int) ([]*model.PullRequestFile, error)

	UpsertBranch(ctx context.Context, b *model.Branch) (*model.Branch, error)
	DeleteBranch(ctx context.Context, repositoryID, name string) (bool, error)
	GetBranch(ctx context.Context, repositoryID, name string) (*model.Branch, error)
	ListBranches(ctx context.Context, repositoryID string) ([]*model.Branch, error)

	UpsertCommit(ctx context.Context, c *model.Commit) (*model.Commit, error)
	ListCommits(ctx context.Context, repositoryID string, limit int) ([]*model.Commit, error)

	MutateCheckRun(ctx context.Context, repositoryID string, githubCheckRunID int64, fn func(*model.CheckRun) (*model.CheckRun, error)) (*model.CheckRun, error)
	ListCheckRunsForSHA(ctx context.Context, repositoryID, headSHA string) ([]*model.CheckRun, error)
	CountFailingChecks(ctx context.Context, repositoryID string) (int, error)

	MutateWorkflowRun(ctx context.Context, repositoryID string, githubRunID int64, fn func(*model.WorkflowRun) (*model.WorkflowRun, error)) (*model.WorkflowRun, error)
	MutateWorkflowJob(ctx context.Context, repositoryID string, githubJobID int64, fn func(*model.WorkflowJob) (*model.WorkflowJob, error)) (*model.WorkflowJob, error)
	ListWorkflowJobs(ctx context.Context, repositoryID string, githubRunID int64) ([]*model.WorkflowJob, error)
	CountWorkflowJobs(ctx context.Context, repositoryID string, githubRunID int64) (int, error)
}

// Projections owns the derived read models.
type Projections interface {
	GetRepoOverview(ctx context.Context, repositoryID string) (*model.RepoOverview, error)
	PutRepoOverview(ctx context.Context, ov *model.RepoOverview) error

	// AppendActivity appends one feed row; activity is append-only.
	AppendActivity(ctx context.Context, e *model.ActivityEntry) error
	ListActivity(ctx context.Context, repositoryID string, cursor string, numItems int) (*Page[*model.ActivityEntry], error)
}

// WorkflowJournal persists step results for durable workflows. Results are
// expected to stay small (ids and counts); large step output belongs in the
// store proper with the journal holding keys.
type WorkflowJournal interface {
	PutWorkflowStepResult(ctx context.Context, workflowID, step, result string) error
	GetWorkflowStepResult(ctx context.Context, workflowID, step string) (string, bool, error)
}

// Store is the full contract.
type Store interface {
	RawEvents
	DeadLetters
	SyncJobs
	Accounts
	Domain
	Projections
	WorkflowJournal
}
