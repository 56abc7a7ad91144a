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

// Package dispatch routes verified raw events to their domain handlers.
// Every handler is an idempotent upsert guarded against out-of-order
// delivery, so redelivered or reordered webhooks converge on the same rows.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/abcxyz/pkg/logging"
	"github.com/google/go-github/v56/github"

	"github.com/abcxyz/github-mirror/pkg/faults"
	"github.com/abcxyz/github-mirror/pkg/model"
	"github.com/abcxyz/github-mirror/pkg/projection"
	"github.com/abcxyz/github-mirror/pkg/store"
)

// timeNow is exposed to allow overriding in tests.
var timeNow = time.Now

// Dispatcher applies webhook payloads to the mirrored domain rows.
type Dispatcher struct {
	store     store.Store
	projector *projection.Builder
}

// New creates a dispatcher over the given store.
func New(st store.Store, projector *projection.Builder) *Dispatcher {
	return &Dispatcher{store: st, projector: projector}
}

// Dispatch parses the stored payload and applies it. Unknown event types
// are logged and treated as processed; malformed payloads fail terminally.
func (d *Dispatcher) Dispatch(ctx context.Context, ev *model.RawEvent) error {
	logger := logging.FromContext(ctx)

	payload, err := github.ParseWebHook(ev.EventName, []byte(ev.PayloadJSON))
	if err != nil {
		return faults.New(faults.KindMalformedPayload, fmt.Errorf("failed to parse %s payload: %w", ev.EventName, err))
	}

	switch event := payload.(type) {
	case *github.IssuesEvent:
		return d.handleIssues(ctx, event)
	case *github.IssueCommentEvent:
		return d.handleIssueComment(ctx, event)
	case *github.PullRequestEvent:
		return d.handlePullRequest(ctx, event)
	case *github.PullRequestReviewEvent:
		return d.handlePullRequestReview(ctx, event)
	case *github.PullRequestReviewCommentEvent:
		return d.handleReviewComment(ctx, event)
	case *github.PushEvent:
		return d.handlePush(ctx, event)
	case *github.CreateEvent:
		return d.handleCreate(ctx, event)
	case *github.DeleteEvent:
		return d.handleDelete(ctx, event)
	case *github.CheckRunEvent:
		return d.handleCheckRun(ctx, event)
	case *github.WorkflowRunEvent:
		return d.handleWorkflowRun(ctx, event)
	case *github.WorkflowJobEvent:
		return d.handleWorkflowJob(ctx, event)
	case *github.InstallationEvent:
		return d.handleInstallation(ctx, event)
	default:
		logger.InfoContext(ctx, "ignoring unhandled event type",
			"event", ev.EventName,
			"delivery_id", ev.DeliveryID)
		return nil
	}
}

// repoRef is the subset of repository fields every webhook payload carries,
// normalized across the payload-specific repository types.
type repoRef struct {
	githubID       int64
	fullName       string
	name           string
	ownerLogin     string
	defaultBranch  string
	private        bool
	installationID int64
}

func refFromRepo(repo *github.Repository, inst *github.Installation) repoRef {
	r := repoRef{
		githubID:      repo.GetID(),
		fullName:      repo.GetFullName(),
		name:          repo.GetName(),
		ownerLogin:    repo.GetOwner().GetLogin(),
		defaultBranch: repo.GetDefaultBranch(),
		private:       repo.GetPrivate(),
	}
	if inst != nil {
		r.installationID = inst.GetID()
	}
	return r
}

func refFromPushRepo(repo *github.PushEventRepository, inst *github.Installation) repoRef {
	r := repoRef{
		githubID:      repo.GetID(),
		fullName:      repo.GetFullName(),
		name:          repo.GetName(),
		ownerLogin:    repo.GetOwner().GetLogin(),
		defaultBranch: repo.GetDefaultBranch(),
		private:       repo.GetPrivate(),
	}
	if inst != nil {
		r.installationID = inst.GetID()
	}
	return r
}

// resolveRepo returns the mirrored repository row for a webhook's repo
// reference. An unknown repository is auto-discovered: a stub row is written
// and a reconcile sync job enqueued to fill it in.
func (d *Dispatcher) resolveRepo(ctx context.Context, ref repoRef) (*model.Repository, error) {
	logger := logging.FromContext(ctx)

	if ref.githubID == 0 {
		return nil, faults.New(faults.KindMalformedPayload, fmt.Errorf("payload has no repository id"))
	}

	repo, err := d.store.GetRepositoryByGitHubID(ctx, ref.githubID)
	if err == nil {
		return repo, nil
	}

	stub := &model.Repository{
		GitHubRepoID:   ref.githubID,
		InstallationID: ref.installationID,
		OwnerLogin:     ref.ownerLogin,
		Name:           ref.name,
		FullName:       ref.fullName,
		DefaultBranch:  ref.defaultBranch,
		Private:        ref.private,
		CachedAt:       timeNow().UnixMilli(),
	}
	repo, err = d.store.UpsertRepository(ctx, stub)
	if err != nil {
		return nil, fmt.Errorf("failed to create repository stub: %w", err)
	}

	job := &model.SyncJob{
		JobType:        model.SyncJobReconcile,
		ScopeType:      "repository",
		TriggerReason:  "auto-discovery",
		LockKey:        fmt.Sprintf("repo-reconcile:%d:%s", ref.installationID, repo.ID),
		InstallationID: ref.installationID,
		RepositoryID:   repo.ID,
		State:          model.SyncJobPending,
		CreatedAt:      timeNow().UnixMilli(),
	}
	if _, created, err := d.store.CreateSyncJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to enqueue auto-discovery sync: %w", err)
	} else if created {
		logger.InfoContext(ctx, "auto-discovered repository",
			"repo", ref.fullName,
			"github_repo_id", ref.githubID)
	}

	return repo, nil
}

// upsertUser mirrors the event actor or author so domain rows can link to
// it by the stable numeric id.
func (d *Dispatcher) upsertUser(ctx context.Context, u *github.User) {
	if u == nil || u.GetID() == 0 {
		return
	}
	_, err := d.store.UpsertUser(ctx, &model.User{
		GitHubUserID: u.GetID(),
		Login:        u.GetLogin(),
		AvatarURL:    u.GetAvatarURL(),
		Type:         model.UserType(u.GetType()),
	})
	if err != nil {
		logging.FromContext(ctx).WarnContext(ctx, "failed to upsert user",
			"login", u.GetLogin(),
			"error", err)
	}
}

// project refreshes the repository's derived read models. Projection
// failures never fail dispatch; the next successful event rebuilds them.
func (d *Dispatcher) project(ctx context.Context, repositoryID string, entries ...*model.ActivityEntry) {
	logger := logging.FromContext(ctx)

	if err := d.projector.Rebuild(ctx, repositoryID); err != nil {
		logger.ErrorContext(ctx, "failed to rebuild overview",
			"repository_id", repositoryID,
			"error", err)
	}
	for _, e := range entries {
		if err := d.projector.Append(ctx, e); err != nil {
			logger.ErrorContext(ctx, "failed to append activity",
				"repository_id", repositoryID,
				"error", err)
		}
	}
}

// confirmOptimistic marks a pending or accepted optimistic write confirmed.
// Later states are never walked back.
func confirmOptimistic(o *model.Optimistic, now int64) {
	if o.OptimisticState == model.OptimisticPending || o.OptimisticState == model.OptimisticAccepted {
		o.OptimisticState = model.OptimisticConfirmed
		o.OptimisticUpdatedAt = now
	}
}

func millis(ts *github.Timestamp) int64 {
	if ts == nil || ts.Time.IsZero() {
		return 0
	}
	return ts.Time.UnixMilli()
}

func labelNames(labels []*github.Label) []string {
	if len(labels) == 0 {
		return nil
	}
	names := make([]string, 0, len(labels))
	for _, l := range labels {
		names = append(names, l.GetName())
	}
	return names
}

func assigneeIDs(users []*github.User) []int64 {
	if len(users) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.GetID())
	}
	return ids
}

func entityState(s string) model.EntityState {
	if s == "closed" {
		return model.StateClosed
	}
	return model.StateOpen
}
