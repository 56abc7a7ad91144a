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

func pullRequestFromGitHub(repositoryID string, gh *github.PullRequest) *model.PullRequest {
	return &model.PullRequest{
		RepositoryID:    repositoryID,
		Number:          gh.GetNumber(),
		GitHubPRID:      gh.GetID(),
		Title:           gh.GetTitle(),
		Body:            gh.GetBody(),
		State:           entityState(gh.GetState()),
		Draft:           gh.GetDraft(),
		Merged:          gh.GetMerged(),
		HeadSHA:         gh.GetHead().GetSHA(),
		HeadRefName:     gh.GetHead().GetRef(),
		BaseRefName:     gh.GetBase().GetRef(),
		MergeableState:  gh.GetMergeableState(),
		AuthorUserID:    gh.GetUser().GetID(),
		AuthorLogin:     gh.GetUser().GetLogin(),
		LabelNames:      labelNames(gh.Labels),
		MergedAt:        millis(gh.MergedAt),
		ClosedAt:        millis(gh.ClosedAt),
		CreatedAt:       millis(gh.CreatedAt),
		GitHubUpdatedAt: millis(gh.UpdatedAt),
	}
}

func (d *Dispatcher) handlePullRequest(ctx context.Context, event *github.PullRequestEvent) error {
	repo, err := d.resolveRepo(ctx, refFromRepo(event.GetRepo(), event.GetInstallation()))
	if err != nil {
		return err
	}

	ghPR := event.GetPullRequest()
	action := event.GetAction()
	d.upsertUser(ctx, ghPR.GetUser())

	now := timeNow().UnixMilli()
	var wrote bool
	pr, err := d.store.MutatePullRequest(ctx, repo.ID, ghPR.GetNumber(), func(existing *model.PullRequest) (*model.PullRequest, error) {
		incoming := pullRequestFromGitHub(repo.ID, ghPR)
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
		return fmt.Errorf("failed to upsert pull request #%d: %w", ghPR.GetNumber(), err)
	}

	// GitHub shadows every PR with an issue row for the conversation
	// surface, so keep that mirror in sync too.
	if _, err := d.store.MutateIssue(ctx, repo.ID, ghPR.GetNumber(), func(existing *model.Issue) (*model.Issue, error) {
		incoming := &model.Issue{
			RepositoryID:    repo.ID,
			Number:          ghPR.GetNumber(),
			Title:           ghPR.GetTitle(),
			Body:            ghPR.GetBody(),
			State:           entityState(ghPR.GetState()),
			LabelNames:      labelNames(ghPR.Labels),
			AuthorUserID:    ghPR.GetUser().GetID(),
			AuthorLogin:     ghPR.GetUser().GetLogin(),
			IsPullRequest:   true,
			CreatedAt:       millis(ghPR.CreatedAt),
			ClosedAt:        millis(ghPR.ClosedAt),
			GitHubUpdatedAt: millis(ghPR.UpdatedAt),
		}
		if existing != nil {
			if incoming.GitHubUpdatedAt < existing.GitHubUpdatedAt {
				return nil, nil
			}
			incoming.Optimistic = existing.Optimistic
			incoming.GitHubIssueID = existing.GitHubIssueID
			incoming.AssigneeUserIDs = existing.AssigneeUserIDs
		}
		return incoming, nil
	}); err != nil {
		return fmt.Errorf("failed to upsert shadow issue #%d: %w", ghPR.GetNumber(), err)
	}

	var entry *model.ActivityEntry
	if wrote {
		entry = projection.PullRequestActivity(action, pr)
	}
	d.project(ctx, repo.ID, entry)
	return nil
}

func (d *Dispatcher) handlePullRequestReview(ctx context.Context, event *github.PullRequestReviewEvent) error {
	repo, err := d.resolveRepo(ctx, refFromRepo(event.GetRepo(), event.GetInstallation()))
	if err != nil {
		return err
	}

	ghReview := event.GetReview()
	prNumber := event.GetPullRequest().GetNumber()
	d.upsertUser(ctx, ghReview.GetUser())

	now := timeNow().UnixMilli()
	review, err := d.store.MutateReview(ctx, repo.ID, prNumber, ghReview.GetID(), func(existing *model.PullRequestReview) (*model.PullRequestReview, error) {
		incoming := &model.PullRequestReview{
			RepositoryID:      repo.ID,
			PullRequestNumber: prNumber,
			GitHubReviewID:    ghReview.GetID(),
			State:             ghReview.GetState(),
			Body:              ghReview.GetBody(),
			AuthorUserID:      ghReview.GetUser().GetID(),
			AuthorLogin:       ghReview.GetUser().GetLogin(),
			SubmittedAt:       millis(ghReview.SubmittedAt),
			CommitSHA:         ghReview.GetCommitID(),
		}
		if existing != nil {
			incoming.Optimistic = existing.Optimistic
		}
		confirmOptimistic(&incoming.Optimistic, now)
		return incoming, nil
	})
	if err != nil {
		return fmt.Errorf("failed to upsert review %d: %w", ghReview.GetID(), err)
	}

	var entry *model.ActivityEntry
	if event.GetAction() == "submitted" {
		entry = projection.ReviewActivity(review)
	}
	d.project(ctx, repo.ID, entry)
	return nil
}

func (d *Dispatcher) handleReviewComment(ctx context.Context, event *github.PullRequestReviewCommentEvent) error {
	repo, err := d.resolveRepo(ctx, refFromRepo(event.GetRepo(), event.GetInstallation()))
	if err != nil {
		return err
	}

	ghComment := event.GetComment()
	prNumber := event.GetPullRequest().GetNumber()
	d.upsertUser(ctx, ghComment.GetUser())

	if event.GetAction() == "deleted" {
		if _, err := d.store.DeleteReviewComment(ctx, repo.ID, prNumber, ghComment.GetID()); err != nil {
			return fmt.Errorf("failed to delete review comment %d: %w", ghComment.GetID(), err)
		}
		d.project(ctx, repo.ID)
		return nil
	}

	var wrote bool
	comment, err := d.store.MutateReviewComment(ctx, repo.ID, prNumber, ghComment.GetID(), func(existing *model.PullRequestReviewComment) (*model.PullRequestReviewComment, error) {
		incoming := &model.PullRequestReviewComment{
			RepositoryID:                   repo.ID,
			PullRequestNumber:              prNumber,
			GitHubReviewCommentID:          ghComment.GetID(),
			GitHubReviewID:                 ghComment.GetPullRequestReviewID(),
			InReplyToGitHubReviewCommentID: ghComment.GetInReplyTo(),
			Path:                           ghComment.GetPath(),
			Line:                           ghComment.GetLine(),
			Side:                           ghComment.GetSide(),
			Body:                           ghComment.GetBody(),
			AuthorUserID:                   ghComment.GetUser().GetID(),
			CreatedAt:                      millis(ghComment.CreatedAt),
			UpdatedAt:                      millis(ghComment.UpdatedAt),
		}
		if existing != nil && incoming.UpdatedAt < existing.UpdatedAt {
			return nil, nil
		}
		wrote = true
		return incoming, nil
	})
	if err != nil {
		return fmt.Errorf("failed to upsert review comment %d: %w", ghComment.GetID(), err)
	}

	var entry *model.ActivityEntry
	if wrote && event.GetAction() == "created" {
		entry = projection.ReviewCommentActivity(comment, ghComment.GetUser().GetLogin())
	}
	d.project(ctx, repo.ID, entry)
	return nil
}
