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

// Package model defines the persisted entities of the mirror: control rows
// for ingestion (raw events, sync jobs, dead letters), the normalized GitHub
// domain rows, and the derived projection rows. All timestamps are epoch
// milliseconds.
package model

// AccountType is the GitHub account type that owns an installation.
type AccountType string

const (
	AccountTypeUser         AccountType = "User"
	AccountTypeOrganization AccountType = "Organization"
)

// Installation is one row per connected GitHub account.
type Installation struct {
	ID             string
	InstallationID int64
	AccountID      int64
	AccountLogin   string
	AccountType    AccountType
	CreatedAt      int64
	UpdatedAt      int64
}

// Visibility is the repository visibility reported by GitHub.
type Visibility string

const (
	VisibilityPublic   Visibility = "public"
	VisibilityPrivate  Visibility = "private"
	VisibilityInternal Visibility = "internal"
)

// Repository is the mirrored repo. FullName is unique across the store.
type Repository struct {
	ID                string
	GitHubRepoID      int64
	InstallationID    int64
	OwnerLogin        string
	Name              string
	FullName          string
	DefaultBranch     string
	Private           bool
	Visibility        Visibility
	ConnectedByUserID string
	StargazersCount   int
	CachedAt          int64
	GitHubUpdatedAt   int64
}

// SyncJobType is the kind of sync work a job represents.
type SyncJobType string

const (
	SyncJobBackfill  SyncJobType = "backfill"
	SyncJobReconcile SyncJobType = "reconcile"
	SyncJobReplay    SyncJobType = "replay"
)

// SyncJobState is the lifecycle state of a sync job.
type SyncJobState string

const (
	SyncJobPending SyncJobState = "pending"
	SyncJobRunning SyncJobState = "running"
	SyncJobRetry   SyncJobState = "retry"
	SyncJobDone    SyncJobState = "done"
	SyncJobFailed  SyncJobState = "failed"
)

// SyncJob is a unit of bootstrap or reconcile work. LockKey deduplicates
// intent: at most one job per lock key may be pending or running.
type SyncJob struct {
	ID              string
	JobType         SyncJobType
	ScopeType       string
	TriggerReason   string
	LockKey         string
	InstallationID  int64
	RepositoryID    string
	State           SyncJobState
	AttemptCount    int
	NextRunAt       int64
	LastError       string
	CurrentStep     string
	CompletedSteps  []string
	ItemsFetched    int
	PrioritySortKey int64
	CreatedAt       int64
	UpdatedAt       int64
}

// ProcessState is the raw-event processing lifecycle.
type ProcessState string

const (
	ProcessPending   ProcessState = "pending"
	ProcessProcessed ProcessState = "processed"
	ProcessFailed    ProcessState = "failed"
	ProcessRetry     ProcessState = "retry"
)

// RawEvent is the byte-exact audit record of an inbound webhook delivery,
// keyed by the GitHub delivery id, retained for audit and replay.
type RawEvent struct {
	ID              string
	DeliveryID      string
	EventName       string
	Action          string
	InstallationID  int64
	RepositoryID    string
	SignatureValid  bool
	PayloadJSON     string
	ReceivedAt      int64
	ProcessState    ProcessState
	ProcessError    string
	ProcessAttempts int
	NextRetryAt     int64
}

// DeadLetterSource identifies which pipeline stage produced a dead letter.
type DeadLetterSource string

const (
	DeadLetterWebhook   DeadLetterSource = "webhook"
	DeadLetterBootstrap DeadLetterSource = "bootstrap"
	DeadLetterReplay    DeadLetterSource = "replay"
)

// DeadLetter is the terminal failure record for an event or backfill item
// that exhausted its retry budget.
type DeadLetter struct {
	ID          string
	DeliveryID  string
	Reason      string
	PayloadJSON string
	CreatedAt   int64
	Source      DeadLetterSource
}

// UserType is the GitHub user type.
type UserType string

const (
	UserTypeUser         UserType = "User"
	UserTypeBot          UserType = "Bot"
	UserTypeOrganization UserType = "Organization"
)

// User is a GitHub user referenced by domain rows. The numeric GitHubUserID
// is the foreign key; logins are display-only.
type User struct {
	ID           string
	GitHubUserID int64
	Login        string
	AvatarURL    string
	Type         UserType
}

// Branch is a ref head on a repository.
type Branch struct {
	ID           string
	RepositoryID string
	Name         string
	HeadSHA      string
	Protected    bool
}

// Commit is a single commit on a repository.
type Commit struct {
	ID              string
	RepositoryID    string
	SHA             string
	MessageHeadline string
	AuthorUserID    int64
	AuthorLogin     string
	AuthoredAt      int64
	CommittedAt     int64
}

// EntityState is the open/closed state shared by pull requests and issues.
type EntityState string

const (
	StateOpen   EntityState = "open"
	StateClosed EntityState = "closed"
)

// OptimisticState tracks a client-side optimistic write through its
// reconciliation with the confirming webhook.
type OptimisticState string

const (
	OptimisticPending   OptimisticState = "pending"
	OptimisticAccepted  OptimisticState = "accepted"
	OptimisticFailed    OptimisticState = "failed"
	OptimisticConfirmed OptimisticState = "confirmed"
)

// Optimistic carries the optimistic-write fields present on entities the
// client may mutate ahead of GitHub's confirmation.
type Optimistic struct {
	OptimisticCorrelationID string
	OptimisticOperationType string
	OptimisticState         OptimisticState
	OptimisticErrorMessage  string
	OptimisticErrorStatus   int
	OptimisticUpdatedAt     int64
	OptimisticPayloadJSON   string
}

// PullRequest is one PR per (repository, number).
type PullRequest struct {
	ID              string
	RepositoryID    string
	Number          int
	GitHubPRID      int64
	Title           string
	Body            string
	State           EntityState
	Draft           bool
	Merged          bool
	HeadSHA         string
	HeadRefName     string
	BaseRefName     string
	MergeableState  string
	AuthorUserID    int64
	AuthorLogin     string
	LabelNames      []string
	MergedAt        int64
	ClosedAt        int64
	CreatedAt       int64
	GitHubUpdatedAt int64

	Optimistic
}

// PullRequestReview is a review on a pull request.
type PullRequestReview struct {
	ID                string
	RepositoryID      string
	PullRequestNumber int
	GitHubReviewID    int64
	State             string
	Body              string
	AuthorUserID      int64
	AuthorLogin       string
	SubmittedAt       int64
	CommitSHA         string

	Optimistic
}

// PullRequestReviewComment is an inline review comment.
type PullRequestReviewComment struct {
	ID                             string
	RepositoryID                   string
	PullRequestNumber              int
	GitHubReviewCommentID          int64
	GitHubReviewID                 int64
	InReplyToGitHubReviewCommentID int64
	Path                           string
	Line                           int
	Side                           string
	Body                           string
	AuthorUserID                   int64
	CreatedAt                      int64
	UpdatedAt                      int64
}

// PullRequestFile is one changed file of a PR at a given head SHA. Identity
// is (repository, number, filename); staleness is decided by HeadSHA, not
// timestamps.
type PullRequestFile struct {
	ID                string
	RepositoryID      string
	PullRequestNumber int
	Filename          string
	HeadSHA           string
	Status            string
	Additions         int
	Deletions         int
	Patch             string
}

// Issue is one issue per (repository, number). IsPullRequest marks issues
// that shadow a PR (GitHub models PRs as issues for comments and labels).
type Issue struct {
	ID              string
	RepositoryID    string
	Number          int
	GitHubIssueID   int64
	Title           string
	Body            string
	State           EntityState
	LabelNames      []string
	AssigneeUserIDs []int64
	AuthorUserID    int64
	AuthorLogin     string
	IsPullRequest   bool
	CreatedAt       int64
	ClosedAt        int64
	GitHubUpdatedAt int64

	Optimistic
}

// IssueComment is a top-level comment on an issue or PR conversation.
type IssueComment struct {
	ID              string
	RepositoryID    string
	IssueNumber     int
	GitHubCommentID int64
	Body            string
	AuthorUserID    int64
	AuthorLogin     string
	CreatedAt       int64
	UpdatedAt       int64

	Optimistic
}

// CheckRun is one check run keyed by its GitHub id.
type CheckRun struct {
	ID               string
	RepositoryID     string
	GitHubCheckRunID int64
	Name             string
	HeadSHA          string
	Status           string
	Conclusion       string
	StartedAt        int64
	CompletedAt      int64
	GitHubUpdatedAt  int64
}

// WorkflowRun is one Actions workflow run keyed by its GitHub run id.
type WorkflowRun struct {
	ID              string
	RepositoryID    string
	GitHubRunID     int64
	Name            string
	HeadSHA         string
	HeadBranch      string
	RunNumber       int
	Event           string
	Status          string
	Conclusion      string
	GitHubUpdatedAt int64
}

// WorkflowJob is one job of a workflow run keyed by its GitHub job id.
type WorkflowJob struct {
	ID           string
	RepositoryID string
	GitHubRunID  int64
	GitHubJobID  int64
	Name         string
	Status       string
	Conclusion   string
	StartedAt    int64
	CompletedAt  int64
}

// RepoOverview is the per-repository projection of hot counters.
type RepoOverview struct {
	ID                string
	RepositoryID      string
	OpenPRCount       int
	OpenIssueCount    int
	FailingCheckCount int
	LastPushAt        int64
	UpdatedAt         int64
}

// ActivityEntry is one append-only activity feed row.
type ActivityEntry struct {
	ID           string
	RepositoryID string
	ActivityType string
	Title        string
	ActorLogin   string
	EntityNumber int
	CreatedAt    int64
}

// UserToken is a stored OAuth token for a connected user, used for token
// resolution during bootstrap. Tokens never enter workflow journals.
type UserToken struct {
	ID     string
	UserID string
	Token  string
}
