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

func issueFromGitHub(repositoryID string, gh *github.Issue) *model.Issue {
	return &model.Issue{
		RepositoryID:    repositoryID,
		Number:          gh.GetNumber(),
		GitHubIssueID:   gh.GetID(),
		Title:           gh.GetTitle(),
		Body:            gh.GetBody(),
		State:           entityState(gh.GetState()),
		LabelNames:      labelNames(gh.Labels),
		AssigneeUserIDs: assigneeIDs(gh.Assignees),
		AuthorUserID:    gh.GetUser().GetID(),
		AuthorLogin:     gh.GetUser().GetLogin(),
		IsPullRequest:   gh.IsPullRequest(),
		CreatedAt:       millis(gh.CreatedAt),
		ClosedAt:        millis(gh.ClosedAt),
		GitHubUpdatedAt: millis(gh.UpdatedAt),
	}
}

func (d *Dispatcher) handleIssues(ctx context.Context, event *github.IssuesEvent) error {
	repo, err := d.resolveRepo(ctx, refFromRepo(event.GetRepo(), event.GetInstallation()))
	if err != nil {
		return err
	}

	ghIssue := event.GetIssue()
	action := event.GetAction()
	d.upsertUser(ctx, ghIssue.GetUser())

	if action == "deleted" {
		if _, err := d.store.DeleteIssue(ctx, repo.ID, ghIssue.GetNumber()); err != nil {
			return fmt.Errorf("failed to delete issue #%d: %w", ghIssue.GetNumber(), err)
		}
		d.project(ctx, repo.ID)
		return nil
	}

	now := timeNow().UnixMilli()
	var wrote bool
	issue, err := d.store.MutateIssue(ctx, repo.ID, ghIssue.GetNumber(), func(existing *model.Issue) (*model.Issue, error) {
		incoming := issueFromGitHub(repo.ID, ghIssue)
		if existing != nil {
			if incoming.GitHubUpdatedAt < existing.GitHubUpdatedAt {
				return nil, nil
			}
			incoming.Optimistic = existing.Optimistic
		}
		confirmOptimistic(&incoming.Optimistic, now)
		wrote = true
		return incoming, nil
	})
	if err != nil {
		return fmt.Errorf("failed to upsert issue #%d: %w", ghIssue.GetNumber(), err)
	}

	var entry *model.ActivityEntry
	if wrote {
		entry = projection.IssueActivity(action, issue)
	}
	d.project(ctx, repo.ID, entry)
	return nil
}

func (d *Dispatcher) handleIssueComment(ctx context.Context, event *github.IssueCommentEvent) error {
	repo, err := d.resolveRepo(ctx, refFromRepo(event.GetRepo(), event.GetInstallation()))
	if err != nil {
		return err
	}

	ghComment := event.GetComment()
	issueNumber := event.GetIssue().GetNumber()
	onPullRequest := event.GetIssue().IsPullRequest()
	d.upsertUser(ctx, ghComment.GetUser())

	if event.GetAction() == "deleted" {
		if _, err := d.store.DeleteIssueComment(ctx, repo.ID, issueNumber, ghComment.GetID()); err != nil {
			return fmt.Errorf("failed to delete comment %d: %w", ghComment.GetID(), err)
		}
		d.project(ctx, repo.ID)
		return nil
	}

	now := timeNow().UnixMilli()
	var wrote bool
	comment, err := d.store.MutateIssueComment(ctx, repo.ID, issueNumber, ghComment.GetID(), func(existing *model.IssueComment) (*model.IssueComment, error) {
		incoming := &model.IssueComment{
			RepositoryID:    repo.ID,
			IssueNumber:     issueNumber,
			GitHubCommentID: ghComment.GetID(),
			Body:            ghComment.GetBody(),
			AuthorUserID:    ghComment.GetUser().GetID(),
			AuthorLogin:     ghComment.GetUser().GetLogin(),
			CreatedAt:       millis(ghComment.CreatedAt),
			UpdatedAt:       millis(ghComment.UpdatedAt),
		}
		if existing != nil {
			if incoming.UpdatedAt < existing.UpdatedAt {
				return nil, nil
			}
			incoming.Optimistic = existing.Optimistic
		}
		confirmOptimistic(&incoming.Optimistic, now)
		wrote = true
		return incoming, nil
	})
	if err != nil {
		return fmt.Errorf("failed to upsert comment %d: %w", ghComment.GetID(), err)
	}

	var entry *model.ActivityEntry
	if wrote && event.GetAction() == "created" {
		entry = projection.CommentActivity(comment, onPullRequest)
	}
	d.project(ctx, repo.ID, entry)
	return nil
}

func (d *Dispatcher) handleInstallation(ctx context.Context, event *github.InstallationEvent) error {
	inst := event.GetInstallation()
	if inst.GetID() == 0 {
		return nil
	}
	if event.GetAction() == "deleted" {
		// Mirrored rows outlive the installation so history stays queryable.
		return nil
	}

	_, err := d.store.UpsertInstallation(ctx, &model.Installation{
		InstallationID: inst.GetID(),
		AccountID:      inst.GetAccount().GetID(),
		AccountLogin:   inst.GetAccount().GetLogin(),
		AccountType:    model.AccountType(inst.GetAccount().GetType()),
		CreatedAt:      millis(inst.CreatedAt),
		UpdatedAt:      timeNow().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("failed to upsert installation %d: %w", inst.GetID(), err)
	}
	return nil
}
