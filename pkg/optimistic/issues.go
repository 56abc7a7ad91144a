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
	"slices"

	"github.com/abcxyz/pkg/logging"
	"github.com/google/go-github/v56/github"

	"github.com/abcxyz/github-mirror/pkg/model"
)

// CreateIssue inserts a stub issue under a provisional negative number,
// creates the issue on GitHub, and on acceptance re-keys the stub to the
// server-assigned number.
func (c *Coordinator) CreateIssue(ctx context.Context, repositoryID, correlationID, title, body string) (*model.Issue, error) {
	repo, w, err := c.resolve(ctx, repositoryID)
	if err != nil {
		return nil, err
	}
	if err := c.checkIssueCorrelation(ctx, repositoryID, correlationID); err != nil {
		return nil, err
	}

	now := timeNow().UnixMilli()
	payload, err := json.Marshal(map[string]string{"title": title, "body": body})
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}

	provisional := nextProvisional()
	if _, err := c.store.MutateIssue(ctx, repositoryID, provisional, func(existing *model.Issue) (*model.Issue, error) {
		return &model.Issue{
			Title:      title,
			Body:       body,
			State:      model.StateOpen,
			CreatedAt:  now,
			Optimistic: pendingFields(correlationID, OpCreateIssue, string(payload), now),
		}, nil
	}); err != nil {
		return nil, fmt.Errorf("failed to write issue stub: %w", err)
	}
	c.rebuild(ctx, repositoryID)

	created, resp, err := w.CreateIssue(ctx, repo.OwnerLogin, repo.Name, title, body)
	if err != nil {
		if _, merr := c.store.MutateIssue(ctx, repositoryID, provisional, func(existing *model.Issue) (*model.Issue, error) {
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
		return nil, rejection(OpCreateIssue, err, resp)
	}

	// Re-key the stub to the server number. The delivery for this create may
	// have already landed, in which case the webhook's row wins and only the
	// correlation is attached.
	if _, err := c.store.DeleteIssue(ctx, repositoryID, provisional); err != nil {
		return nil, fmt.Errorf("failed to drop issue stub: %w", err)
	}
	row, err := c.store.MutateIssue(ctx, repositoryID, created.GetNumber(), func(existing *model.Issue) (*model.Issue, error) {
		acceptedAt := timeNow().UnixMilli()
		if existing != nil {
			next := *existing
			next.Optimistic = pendingFields(correlationID, OpCreateIssue, string(payload), now)
			markAccepted(&next.Optimistic, acceptedAt)
			return &next, nil
		}
		next := &model.Issue{
			GitHubIssueID: created.GetID(),
			Title:         title,
			Body:          body,
			State:         model.StateOpen,
			CreatedAt:     now,
			Optimistic:    pendingFields(correlationID, OpCreateIssue, string(payload), now),
		}
		markAccepted(&next.Optimistic, acceptedAt)
		return next, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to re-key issue stub: %w", err)
	}
	c.rebuild(ctx, repositoryID)
	return row, nil
}

// CreateComment inserts a stub comment, posts it, and re-keys the stub to
// the server-assigned comment id.
func (c *Coordinator) CreateComment(ctx context.Context, repositoryID, correlationID string, number int, body string) (*model.IssueComment, error) {
	repo, w, err := c.resolve(ctx, repositoryID)
	if err != nil {
		return nil, err
	}
	if _, err := c.store.GetIssueCommentByCorrelation(ctx, repositoryID, correlationID); err == nil {
		return nil, &DuplicateOperationError{CorrelationID: correlationID}
	} else if !isNotFound(err) {
		return nil, fmt.Errorf("failed to check correlation: %w", err)
	}

	now := timeNow().UnixMilli()
	payload, err := json.Marshal(map[string]any{"number": number, "body": body})
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}

	provisional := int64(nextProvisional())
	if _, err := c.store.MutateIssueComment(ctx, repositoryID, number, provisional, func(existing *model.IssueComment) (*model.IssueComment, error) {
		return &model.IssueComment{
			Body:       body,
			CreatedAt:  now,
			UpdatedAt:  now,
			Optimistic: pendingFields(correlationID, OpCreateComment, string(payload), now),
		}, nil
	}); err != nil {
		return nil, fmt.Errorf("failed to write comment stub: %w", err)
	}

	created, resp, err := w.CreateIssueComment(ctx, repo.OwnerLogin, repo.Name, number, body)
	if err != nil {
		if _, merr := c.store.MutateIssueComment(ctx, repositoryID, number, provisional, func(existing *model.IssueComment) (*model.IssueComment, error) {
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
		return nil, rejection(OpCreateComment, err, resp)
	}

	if _, err := c.store.DeleteIssueComment(ctx, repositoryID, number, provisional); err != nil {
		return nil, fmt.Errorf("failed to drop comment stub: %w", err)
	}
	row, err := c.store.MutateIssueComment(ctx, repositoryID, number, created.GetID(), func(existing *model.IssueComment) (*model.IssueComment, error) {
		acceptedAt := timeNow().UnixMilli()
		next := &model.IssueComment{
			Body:       body,
			CreatedAt:  now,
			UpdatedAt:  now,
			Optimistic: pendingFields(correlationID, OpCreateComment, string(payload), now),
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
		return nil, fmt.Errorf("failed to re-key comment stub: %w", err)
	}
	return row, nil
}

// UpdateIssueState patches the issue open/closed state locally, then edits
// it on GitHub.
func (c *Coordinator) UpdateIssueState(ctx context.Context, repositoryID, correlationID string, number int, state model.EntityState) (*model.Issue, error) {
	repo, w, err := c.resolve(ctx, repositoryID)
	if err != nil {
		return nil, err
	}
	if err := c.checkIssueCorrelation(ctx, repositoryID, correlationID); err != nil {
		return nil, err
	}

	now := timeNow().UnixMilli()
	payload, err := json.Marshal(map[string]any{"number": number, "state": state})
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}

	if _, err := c.store.MutateIssue(ctx, repositoryID, number, func(existing *model.Issue) (*model.Issue, error) {
		if existing == nil {
			return nil, fmt.Errorf("issue %d does not exist", number)
		}
		next := *existing
		next.State = state
		if state == model.StateClosed {
			next.ClosedAt = now
		} else {
			next.ClosedAt = 0
		}
		next.Optimistic = pendingFields(correlationID, OpUpdateIssueState, string(payload), now)
		return &next, nil
	}); err != nil {
		return nil, fmt.Errorf("failed to patch issue: %w", err)
	}
	c.rebuild(ctx, repositoryID)

	_, resp, err := w.EditIssueState(ctx, repo.OwnerLogin, repo.Name, number, string(state))
	return c.settleIssue(ctx, repositoryID, number, OpUpdateIssueState, err, resp)
}

// UpdateLabels recomputes the issue label set locally, then applies the
// additions and removals on GitHub.
func (c *Coordinator) UpdateLabels(ctx context.Context, repositoryID, correlationID string, number int, add, remove []string) (*model.Issue, error) {
	repo, w, err := c.resolve(ctx, repositoryID)
	if err != nil {
		return nil, err
	}
	if err := c.checkIssueCorrelation(ctx, repositoryID, correlationID); err != nil {
		return nil, err
	}

	now := timeNow().UnixMilli()
	payload, err := json.Marshal(map[string]any{"number": number, "add": add, "remove": remove})
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}

	if _, err := c.store.MutateIssue(ctx, repositoryID, number, func(existing *model.Issue) (*model.Issue, error) {
		if existing == nil {
			return nil, fmt.Errorf("issue %d does not exist", number)
		}
		next := *existing
		next.LabelNames = mergeNames(existing.LabelNames, add, remove)
		next.Optimistic = pendingFields(correlationID, OpUpdateLabels, string(payload), now)
		return &next, nil
	}); err != nil {
		return nil, fmt.Errorf("failed to patch issue labels: %w", err)
	}

	if len(add) > 0 {
		if resp, err := w.AddLabels(ctx, repo.OwnerLogin, repo.Name, number, add); err != nil {
			return c.settleIssue(ctx, repositoryID, number, OpUpdateLabels, err, resp)
		}
	}
	for _, label := range remove {
		if resp, err := w.RemoveLabel(ctx, repo.OwnerLogin, repo.Name, number, label); err != nil {
			return c.settleIssue(ctx, repositoryID, number, OpUpdateLabels, err, resp)
		}
	}
	return c.settleIssue(ctx, repositoryID, number, OpUpdateLabels, nil, nil)
}

// UpdateAssignees recomputes the issue assignee set locally, mapping logins
// to mirrored user ids, then applies the change on GitHub. Logins the mirror
// has never seen are applied remotely and reconciled by the webhook.
func (c *Coordinator) UpdateAssignees(ctx context.Context, repositoryID, correlationID string, number int, add, remove []string) (*model.Issue, error) {
	logger := logging.FromContext(ctx)

	repo, w, err := c.resolve(ctx, repositoryID)
	if err != nil {
		return nil, err
	}
	if err := c.checkIssueCorrelation(ctx, repositoryID, correlationID); err != nil {
		return nil, err
	}

	now := timeNow().UnixMilli()
	payload, err := json.Marshal(map[string]any{"number": number, "add": add, "remove": remove})
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}

	addIDs := make([]int64, 0, len(add))
	for _, login := range add {
		u, err := c.store.GetUserByLogin(ctx, login)
		if err != nil {
			logger.DebugContext(ctx, "assignee login not mirrored yet", "login", login)
			continue
		}
		addIDs = append(addIDs, u.GitHubUserID)
	}
	removeIDs := make([]int64, 0, len(remove))
	for _, login := range remove {
		u, err := c.store.GetUserByLogin(ctx, login)
		if err != nil {
			continue
		}
		removeIDs = append(removeIDs, u.GitHubUserID)
	}

	if _, err := c.store.MutateIssue(ctx, repositoryID, number, func(existing *model.Issue) (*model.Issue, error) {
		if existing == nil {
			return nil, fmt.Errorf("issue %d does not exist", number)
		}
		next := *existing
		next.AssigneeUserIDs = mergeIDs(existing.AssigneeUserIDs, addIDs, removeIDs)
		next.Optimistic = pendingFields(correlationID, OpUpdateAssignees, string(payload), now)
		return &next, nil
	}); err != nil {
		return nil, fmt.Errorf("failed to patch issue assignees: %w", err)
	}

	if len(add) > 0 {
		if resp, err := w.AddAssignees(ctx, repo.OwnerLogin, repo.Name, number, add); err != nil {
			return c.settleIssue(ctx, repositoryID, number, OpUpdateAssignees, err, resp)
		}
	}
	if len(remove) > 0 {
		if resp, err := w.RemoveAssignees(ctx, repo.OwnerLogin, repo.Name, number, remove); err != nil {
			return c.settleIssue(ctx, repositoryID, number, OpUpdateAssignees, err, resp)
		}
	}
	return c.settleIssue(ctx, repositoryID, number, OpUpdateAssignees, nil, nil)
}

// settleIssue records the GitHub outcome on the issue's optimistic fields
// and returns either the row (accept) or the rejection error.
func (c *Coordinator) settleIssue(ctx context.Context, repositoryID string, number int, op string, callErr error, resp *github.Response) (*model.Issue, error) {
	row, err := c.store.MutateIssue(ctx, repositoryID, number, func(existing *model.Issue) (*model.Issue, error) {
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

// mergeNames applies adds and removes to a name set, preserving order of
// the survivors.
func mergeNames(current, add, remove []string) []string {
	out := make([]string, 0, len(current)+len(add))
	for _, n := range current {
		if !slices.Contains(remove, n) {
			out = append(out, n)
		}
	}
	for _, n := range add {
		if !slices.Contains(out, n) {
			out = append(out, n)
		}
	}
	return out
}

func mergeIDs(current, add, remove []int64) []int64 {
	out := make([]int64, 0, len(current)+len(add))
	for _, id := range current {
		if !slices.Contains(remove, id) {
			out = append(out, id)
		}
	}
	for _, id := range add {
		if !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}
