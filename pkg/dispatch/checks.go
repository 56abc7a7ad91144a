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

package dispatch

import (
	"context"
	"fmt"

	"github.com/google/go-github/v56/github"

	"github.com/abcxyz/github-mirror/pkg/model"
	"github.com/abcxyz/github-mirror/pkg/projection"
)

func (d *Dispatcher) handleCheckRun(ctx context.Context, event *github.CheckRunEvent) error {
	repo, err := d.resolveRepo(ctx, refFromRepo(event.GetRepo(), event.GetInstallation()))
	if err != nil {
		return err
	}

	ghRun := event.GetCheckRun()
	updatedAt := millis(ghRun.CompletedAt)
	if updatedAt == 0 {
		updatedAt = millis(ghRun.StartedAt)
	}

	var wrote bool
	run, err := d.store.MutateCheckRun(ctx, repo.ID, ghRun.GetID(), func(existing *model.CheckRun) (*model.CheckRun, error) {
		incoming := &model.CheckRun{
			RepositoryID:     repo.ID,
			GitHubCheckRunID: ghRun.GetID(),
			Name:             ghRun.GetName(),
			HeadSHA:          ghRun.GetHeadSHA(),
			Status:           ghRun.GetStatus(),
			Conclusion:       ghRun.GetConclusion(),
			StartedAt:        millis(ghRun.StartedAt),
			CompletedAt:      millis(ghRun.CompletedAt),
			GitHubUpdatedAt:  updatedAt,
		}
		if existing != nil && incoming.GitHubUpdatedAt < existing.GitHubUpdatedAt {
			return nil, nil
		}
		wrote = true
		return incoming, nil
	})
	if err != nil {
		return fmt.Errorf("failed to upsert check run %d: %w", ghRun.GetID(), err)
	}

	var entry *model.ActivityEntry
	if wrote && event.GetAction() == "completed" {
		entry = projection.CheckRunActivity(run)
	}
	d.project(ctx, repo.ID, entry)
	return nil
}

func (d *Dispatcher) handleWorkflowRun(ctx context.Context, event *github.WorkflowRunEvent) error {
	repo, err := d.resolveRepo(ctx, refFromRepo(event.GetRepo(), event.GetInstallation()))
	if err != nil {
		return err
	}

	ghRun := event.GetWorkflowRun()
	if _, err := d.store.MutateWorkflowRun(ctx, repo.ID, ghRun.GetID(), func(existing *model.WorkflowRun) (*model.WorkflowRun, error) {
		incoming := &model.WorkflowRun{
			RepositoryID:    repo.ID,
			GitHubRunID:     ghRun.GetID(),
			Name:            ghRun.GetName(),
			HeadSHA:         ghRun.GetHeadSHA(),
			HeadBranch:      ghRun.GetHeadBranch(),
			RunNumber:       ghRun.GetRunNumber(),
			Event:           ghRun.GetEvent(),
			Status:          ghRun.GetStatus(),
			Conclusion:      ghRun.GetConclusion(),
			GitHubUpdatedAt: millis(ghRun.UpdatedAt),
		}
		if existing != nil && incoming.GitHubUpdatedAt < existing.GitHubUpdatedAt {
			return nil, nil
		}
		return incoming, nil
	}); err != nil {
		return fmt.Errorf("failed to upsert workflow run %d: %w", ghRun.GetID(), err)
	}
	d.project(ctx, repo.ID)
	return nil
}

func (d *Dispatcher) handleWorkflowJob(ctx context.Context, event *github.WorkflowJobEvent) error {
	repo, err := d.resolveRepo(ctx, refFromRepo(event.GetRepo(), event.GetInstallation()))
	if err != nil {
		return err
	}

	ghJob := event.GetWorkflowJob()
	if _, err := d.store.MutateWorkflowJob(ctx, repo.ID, ghJob.GetID(), func(existing *model.WorkflowJob) (*model.WorkflowJob, error) {
		incoming := &model.WorkflowJob{
			RepositoryID: repo.ID,
			GitHubRunID:  ghJob.GetRunID(),
			GitHubJobID:  ghJob.GetID(),
			Name:         ghJob.GetName(),
			Status:       ghJob.GetStatus(),
			Conclusion:   ghJob.GetConclusion(),
			StartedAt:    millis(ghJob.StartedAt),
			CompletedAt:  millis(ghJob.CompletedAt),
		}
		if existing != nil && incoming.CompletedAt == 0 && existing.CompletedAt != 0 {
			// A completion never regresses to in-progress.
			return nil, nil
		}
		return incoming, nil
	}); err != nil {
		return fmt.Errorf("failed to upsert workflow job %d: %w", ghJob.GetID(), err)
	}
	d.project(ctx, repo.ID)
	return nil
}
