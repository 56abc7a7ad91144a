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

// Package bootstrap owns repository onboarding and the durable backfill of
// existing GitHub state. Work runs as sync jobs behind a per-installation
// concurrency gate; each job drives a journaled workflow so interrupted
// backfills resume instead of restarting.
package bootstrap

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/abcxyz/pkg/logging"

	"github.com/abcxyz/github-mirror/pkg/model"
	"github.com/abcxyz/github-mirror/pkg/projection"
	"github.com/abcxyz/github-mirror/pkg/store"
	"github.com/abcxyz/github-mirror/pkg/workflow"
)

// timeNow is exposed to allow overriding in tests.
var timeNow = time.Now

// jobMaxAttempts bounds transient re-runs of one sync job.
const jobMaxAttempts = 3

// Manager enqueues, gates, and runs sync jobs.
type Manager struct {
	store     store.Store
	scheduler store.Scheduler
	engine    workflow.Engine
	clients   ClientSource
	projector *projection.Builder
	cfg       *Config
}

// NewManager creates a manager.
func NewManager(st store.Store, scheduler store.Scheduler, engine workflow.Engine, clients ClientSource, projector *projection.Builder, cfg *Config) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &Manager{
		store:     st,
		scheduler: scheduler,
		engine:    engine,
		clients:   clients,
		projector: projector,
		cfg:       cfg,
	}, nil
}

// ConnectRepo onboards a repository on behalf of a user: verifies access,
// registers the webhook, writes the repository row, and enqueues its
// bootstrap sync.
func (m *Manager) ConnectRepo(ctx context.Context, fullName, userID string) (*model.Repository, error) {
	logger := logging.FromContext(ctx)

	owner, name, ok := strings.Cut(fullName, "/")
	if !ok || owner == "" || name == "" {
		return nil, fmt.Errorf("repository name %q is not owner/name", fullName)
	}

	client, err := m.clients.ClientFor(ctx, &model.Repository{FullName: fullName, ConnectedByUserID: userID})
	if err != nil {
		return nil, fmt.Errorf("failed to resolve credentials: %w", err)
	}

	ghRepo, err := client.GetRepo(ctx, owner, name)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch repository %s: %w", fullName, err)
	}

	if _, err := client.CreateHook(ctx, owner, name, m.cfg.WebhookURL, m.cfg.GitHubWebhookSecret); err != nil {
		return nil, fmt.Errorf("failed to register webhook on %s: %w", fullName, err)
	}

	repo, err := m.store.UpsertRepository(ctx, &model.Repository{
		GitHubRepoID:      ghRepo.GetID(),
		OwnerLogin:        owner,
		Name:              name,
		FullName:          ghRepo.GetFullName(),
		DefaultBranch:     ghRepo.GetDefaultBranch(),
		Private:           ghRepo.GetPrivate(),
		Visibility:        model.Visibility(ghRepo.GetVisibility()),
		ConnectedByUserID: userID,
		StargazersCount:   ghRepo.GetStargazersCount(),
		CachedAt:          timeNow().UnixMilli(),
		GitHubUpdatedAt:   millisValue(ghRepo.GetUpdatedAt()),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to write repository: %w", err)
	}

	if _, err := m.EnqueueBackfill(ctx, repo, "connect"); err != nil {
		return nil, err
	}

	logger.InfoContext(ctx, "repository connected",
		"repo", repo.FullName,
		"github_repo_id", repo.GitHubRepoID)
	return repo, nil
}

// EnqueueBackfill enqueues a full bootstrap sync for the repository. The
// lock key makes concurrent enqueues converge on one job.
func (m *Manager) EnqueueBackfill(ctx context.Context, repo *model.Repository, reason string) (*model.SyncJob, error) {
	job := &model.SyncJob{
		JobType:        model.SyncJobBackfill,
		ScopeType:      "repository",
		TriggerReason:  reason,
		LockKey:        fmt.Sprintf("repo-bootstrap:%d:%s", repo.InstallationID, repo.ID),
		InstallationID: repo.InstallationID,
		RepositoryID:   repo.ID,
		State:          model.SyncJobPending,
		CreatedAt:      timeNow().UnixMilli(),
	}
	winner, _, err := m.store.CreateSyncJob(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue bootstrap: %w", err)
	}
	m.StartPending(ctx, repo.InstallationID)
	return winner, nil
}

// ReconcileRepository enqueues a reconcile sync for a connected repository.
func (m *Manager) ReconcileRepository(ctx context.Context, fullName string) (*model.SyncJob, error) {
	repo, err := m.store.GetRepositoryByFullName(ctx, fullName)
	if err != nil {
		return nil, fmt.Errorf("failed to find repository %q: %w", fullName, err)
	}

	job := &model.SyncJob{
		JobType:        model.SyncJobReconcile,
		ScopeType:      "repository",
		TriggerReason:  "admin",
		LockKey:        fmt.Sprintf("repo-reconcile:%d:%s", repo.InstallationID, repo.ID),
		InstallationID: repo.InstallationID,
		RepositoryID:   repo.ID,
		State:          model.SyncJobPending,
		CreatedAt:      timeNow().UnixMilli(),
	}
	winner, _, err := m.store.CreateSyncJob(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue reconcile: %w", err)
	}
	m.StartPending(ctx, repo.InstallationID)
	return winner, nil
}

// StartPending schedules a drain of the installation's pending jobs through
// the concurrency gate.
func (m *Manager) StartPending(ctx context.Context, installationID int64) {
	m.scheduler.RunAfter(ctx, 0, fmt.Sprintf("drain:%d", installationID), func(ctx context.Context) error {
		return m.drain(ctx, installationID)
	})
}

// drain claims pending jobs up to the per-installation cap and schedules
// each claimed job's workflow.
func (m *Manager) drain(ctx context.Context, installationID int64) error {
	jobs, err := m.store.ListPendingSyncJobs(ctx, installationID, m.cfg.MaxRunningPerInstallation)
	if err != nil {
		return fmt.Errorf("failed to list pending jobs: %w", err)
	}

	for _, job := range jobs {
		claimed, err := m.store.ClaimSyncJob(ctx, job.ID, m.cfg.MaxRunningPerInstallation, timeNow().UnixMilli())
		if err != nil {
			return fmt.Errorf("failed to claim job %s: %w", job.ID, err)
		}
		if !claimed {
			running, err := m.store.CountRunningSyncJobs(ctx, installationID)
			if err != nil {
				return fmt.Errorf("failed to count running jobs: %w", err)
			}
			if running >= m.cfg.MaxRunningPerInstallation {
				// Gate is full; a finishing job re-drains.
				return nil
			}
			// Another drain claimed this one.
			continue
		}

		jobID := job.ID
		m.scheduler.RunAfter(ctx, 0, "sync:"+jobID, func(ctx context.Context) error {
			return m.runJob(ctx, jobID)
		})
	}
	return nil
}

// runJob executes one claimed job's workflow and settles its terminal
// state from the workflow completion.
func (m *Manager) runJob(ctx context.Context, jobID string) error {
	logger := logging.FromContext(ctx)

	job, err := m.store.GetSyncJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to load job %s: %w", jobID, err)
	}
	if job.State != model.SyncJobRunning {
		return nil
	}

	repo, err := m.store.GetRepository(ctx, job.RepositoryID)
	if err != nil {
		m.settle(ctx, job, workflow.Completion{Kind: workflow.CompletionFailed, Err: err.Error()})
		return nil
	}

	client, err := m.clients.ClientFor(ctx, repo)
	if err != nil {
		m.settle(ctx, job, workflow.Completion{Kind: workflow.CompletionError, Err: err.Error()})
		return nil
	}

	workflowID := "repo-sync:" + job.ID
	body := m.syncBody(job, repo, client)
	if err := m.engine.Start(ctx, workflowID, body, func(ctx context.Context, c workflow.Completion) {
		m.settle(ctx, job, c)
	}); err != nil {
		logger.ErrorContext(ctx, "failed to start sync workflow",
			"job_id", job.ID,
			"error", err)
	}
	return nil
}

// settle records a job's terminal state and frees its gate slot.
func (m *Manager) settle(ctx context.Context, job *model.SyncJob, c workflow.Completion) {
	logger := logging.FromContext(ctx)

	attempts := job.AttemptCount + 1
	var patch store.SyncJobPatch
	switch c.Kind {
	case workflow.CompletionSuccess:
		patch = store.SyncJobPatch{State: model.SyncJobDone, AttemptCount: &attempts}
	case workflow.CompletionFailed:
		patch = store.SyncJobPatch{State: model.SyncJobFailed, LastError: &c.Err, AttemptCount: &attempts}
	case workflow.CompletionCanceled:
		// Leave the journal intact; the next drain resumes the workflow.
		patch = store.SyncJobPatch{State: model.SyncJobPending, LastError: &c.Err}
	default:
		if attempts >= jobMaxAttempts {
			patch = store.SyncJobPatch{State: model.SyncJobFailed, LastError: &c.Err, AttemptCount: &attempts}
		} else {
			patch = store.SyncJobPatch{State: model.SyncJobPending, LastError: &c.Err, AttemptCount: &attempts}
		}
	}

	if _, err := m.store.TransitionSyncJob(ctx, job.ID, []model.SyncJobState{model.SyncJobRunning}, patch); err != nil {
		logger.ErrorContext(ctx, "failed to settle job",
			"job_id", job.ID,
			"error", err)
	}
	logger.InfoContext(ctx, "sync job settled",
		"job_id", job.ID,
		"completion", c.Kind,
		"state", patch.State)

	m.StartPending(ctx, job.InstallationID)
}
