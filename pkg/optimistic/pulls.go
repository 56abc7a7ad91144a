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

package optimistic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/abcxyz/pkg/logging"
	"github.com/google/go-github/v56/github"

	"github.com/abcxyz/github-mirror/pkg/model"
)

// checkPullRequestCorrelation fails when the target row already carries the
// correlation id.
func checkPullRequestCorrelation(pr *model.PullRequest, correlationID string) error {
	if pr != nil && pr.OptimisticCorrelationID == correlationID && correlationID != "" {
		return &DuplicateOperationError{CorrelationID: correlationID}
	}
	return nil
}

// MergePullRequest closes the PR as merged locally, then merges it on
// GitHub.
func (c *Coordinator) MergePullRequest(ctx context.Context, repositoryID, correlationID string, number int, method string) (*model.PullRequest, error) {
	repo, w, err := c.resolve(ctx, repositoryID)
	if err != nil {
		return nil, err
	}

	existing, err := c.store.GetPullRequest(ctx, repositoryID, number)
	if err != nil {
		return nil, fmt.Errorf("failed to load pull request %d: %w", number, err)
	}
	if err := checkPullRequestCorrelation(existing, correlationID); err != nil {
		return nil, err
	}

	now := timeNow().UnixMilli()
	payload, err := json.Marshal(map[string]any{"number": number, "method": method})
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}

	if _, err := c.store.MutatePullRequest(ctx, repositoryID, number, func(existing *model.PullRequest) (*model.PullRequest, error) {
		if existing == nil {
			return nil, fmt.Errorf("pull request %d does not exist", number)
		}
		next := *existing
		next.State = model.StateClosed
		next.Merged = true
		next.MergedAt = now
		next.ClosedAt = now
		next.Optimistic = pendingFields(correlationID, OpMergePullRequest, string(payload), now)
		return &next, nil
	}); err != nil {
		return nil, fmt.Errorf("failed to patch pull request: %w", err)
	}
	c.rebuild(ctx, repositoryID)

	result, resp, err := w.MergePullRequest(ctx, repo.OwnerLogin, repo.Name, number, method)
	if err == nil && result != nil && !result.GetMerged() {
		err = fmt.Errorf("github did not merge: %s", result.GetMessage())
	}
	return c.settlePullRequest(ctx, repositoryID, number, OpMergePullRequest, err, resp)
}

// UpdatePullRequestBranch asks GitHub to update the PR branch with its base,
// guarded by the head SHA the client saw. The local row records the expected
// head; the push and synchronize webhooks deliver the real one.
func (c *Coordinator) UpdatePullRequestBranch(ctx context.Context, repositoryID, correlationID string, number int, expectedHeadSHA string) (*model.PullRequest, error) {
	repo, w, err := c.resolve(ctx, repositoryID)
	if err != nil {
		return nil, err
	}

	existing, err := c.store.GetPullRequest(ctx, repositoryID, number)
	if err != nil {
		return nil, fmt.Errorf("failed to load pull request %d: %w", number, err)
	}
	if err := checkPullRequestCorrelation(existing, correlationID); err != nil {
		return nil, err
	}

	now := timeNow().UnixMilli()
	payload, err := json.Marshal(map[string]any{"number": number, "expectedHeadSha": expectedHeadSHA})
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}

	if _, err := c.store.MutatePullRequest(ctx, repositoryID, number, func(existing *model.PullRequest) (*model.PullRequest, error) {
		if existing == nil {
			return nil, fmt.Errorf("pull request %d does not exist", number)
		}
		next := *existing
		next.HeadSHA = expectedHeadSHA
		next.Optimistic = pendingFields(correlationID, OpUpdatePullRequestBranch, string(payload), now)
		return &next, nil
	}); err != nil {
		return nil, fmt.Errorf("failed to patch pull request: %w", err)
	}

	resp, err := w.UpdatePullRequestBranch(ctx, repo.OwnerLogin, repo.Name, number, expectedHeadSHA)
	return c.settlePullRequest(ctx, repositoryID, number, OpUpdatePullRequestBranch, err, resp)
}

// SubmitPrReview inserts a stub review under a provisional negative id,
// submits it, and re-keys the stub to the server-assigned review id.
func (c *Coordinator) SubmitPrReview(ctx context.Context, repositoryID, correlationID string, number int, event, body string) (*model.PullRequestReview, error) {
	repo, w, err := c.resolve(ctx, repositoryID)
	if err != nil {
		return nil, err
	}
	if _, err := c.store.GetReviewByCorrelation(ctx, repositoryID, correlationID); err == nil {
		return nil, &DuplicateOperationError{CorrelationID: correlationID}
	} else if !isNotFound(err) {
		return nil, fmt.Errorf("failed to check correlation: %w", err)
	}

	now := timeNow().UnixMilli()
	payload, err := json.Marshal(map[string]any{"number": number, "event": event, "body": body})
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}

	provisional := int64(nextProvisional())
	if _, err := c.store.MutateReview(ctx, repositoryID, number, provisional, func(existing *model.PullRequestReview) (*model.PullRequestReview, error) {
		return &model.PullRequestReview{
			State:       reviewStateForEvent(event),
			Body:        body,
			SubmittedAt: now,
			Optimistic:  pendingFields(correlationID, OpSubmitPrReview, string(payload), now),
		}, nil
	}); err != nil {
		return nil, fmt.Errorf("failed to write review stub: %w", err)
	}

	created, resp, err := w.CreateReview(ctx, repo.OwnerLogin, repo.Name, number, event, body)
	if err != nil {
		if _, merr := c.store.MutateReview(ctx, repositoryID, number, provisional, func(existing *model.PullRequestReview) (*model.PullRequestReview, error) {
			if existing == nil {
				return nil, nil
			}
			next := *existing
			markFailed(&next.Optimistic, err, resp, timeNow().UnixMilli())
			return &next, nil
		}); merr != nil {
			logging.FromContext(ctx).ErrorContext(ctx, "failed to record rejection",
				"repository_id", repositoryID,
				"correlation_id", correlationID,
				"error", merr)
		}
		return nil, rejection(OpSubmitPrReview, err, resp)
	}

	if _, err := c.store.DeleteReview(ctx, repositoryID, number, provisional); err != nil {
		return nil, fmt.Errorf("failed to drop review stub: %w", err)
	}
	row, err := c.store.MutateReview(ctx, repositoryID, number, created.GetID(), func(existing *model.PullRequestReview) (*model.PullRequestReview, error) {
		acceptedAt := timeNow().UnixMilli()
		next := &model.PullRequestReview{
			State:       reviewStateForEvent(event),
			Body:        body,
			SubmittedAt: now,
			CommitSHA:   created.GetCommitID(),
			Optimistic:  pendingFields(correlationID, OpSubmitPrReview, string(payload), now),
		}
		if existing != nil {
			cp := *existing
			cp.Optimistic = next.Optimistic
			next = &cp
		}
		markAccepted(&next.Optimistic, acceptedAt)
		return next, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to re-key review stub: %w", err)
	}
	return row, nil
}

// settlePullRequest records the GitHub outcome on the PR's optimistic
// fields and returns either the row (accept) or the rejection error.
func (c *Coordinator) settlePullRequest(ctx context.Context, repositoryID string, number int, op string, callErr error, resp *github.Response) (*model.PullRequest, error) {
	row, err := c.store.MutatePullRequest(ctx, repositoryID, number, func(existing *model.PullRequest) (*model.PullRequest, error) {
		if existing == nil {
			return nil, nil
		}
		next := *existing
		if callErr != nil {
			markFailed(&next.Optimistic, callErr, resp, timeNow().UnixMilli())
		} else {
			markAccepted(&next.Optimistic, timeNow().UnixMilli())
		}
		return &next, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record outcome: %w", err)
	}
	if callErr != nil {
		return nil, rejection(op, callErr, resp)
	}
	c.rebuild(ctx, repositoryID)
	return row, nil
}

// reviewStateForEvent maps a review submission event to the state GitHub
// reports on the stored review.
func reviewStateForEvent(event string) string {
	switch strings.ToUpper(event) {
	case "APPROVE":
		return "approved"
	case "REQUEST_CHANGES":
		return "changes_requested"
	default:
		return "commented"
	}
}
