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
	"strings"

	"github.com/abcxyz/pkg/logging"
	"github.com/google/go-github/v56/github"

	"github.com/abcxyz/github-mirror/pkg/model"
	"github.com/abcxyz/github-mirror/pkg/projection"
)

const branchRefPrefix = "refs/heads/"

func messageHeadline(message string) string {
	if i := strings.IndexByte(message, '\n'); i >= 0 {
		return message[:i]
	}
	return message
}

func (d *Dispatcher) handlePush(ctx context.Context, event *github.PushEvent) error {
	logger := logging.FromContext(ctx)

	repo, err := d.resolveRepo(ctx, refFromPushRepo(event.GetRepo(), event.GetInstallation()))
	if err != nil {
		return err
	}

	ref := event.GetRef()
	if !strings.HasPrefix(ref, branchRefPrefix) {
		// Tag pushes carry no branch state to mirror.
		logger.DebugContext(ctx, "ignoring non-branch push", "ref", ref)
		return nil
	}
	branch := strings.TrimPrefix(ref, branchRefPrefix)

	if event.GetDeleted() {
		if _, err := d.store.DeleteBranch(ctx, repo.ID, branch); err != nil {
			return fmt.Errorf("failed to delete branch %q: %w", branch, err)
		}
		d.project(ctx, repo.ID)
		return nil
	}

	if _, err := d.store.UpsertBranch(ctx, &model.Branch{
		RepositoryID: repo.ID,
		Name:         branch,
		HeadSHA:      event.GetAfter(),
	}); err != nil {
		return fmt.Errorf("failed to upsert branch %q: %w", branch, err)
	}

	var pushedAt int64
	for _, c := range event.Commits {
		at := millisTime(c.GetTimestamp())
		if at > pushedAt {
			pushedAt = at
		}
		if _, err := d.store.UpsertCommit(ctx, &model.Commit{
			RepositoryID:    repo.ID,
			SHA:             c.GetID(),
			MessageHeadline: messageHeadline(c.GetMessage()),
			AuthorLogin:     c.GetAuthor().GetLogin(),
			AuthoredAt:      at,
			CommittedAt:     at,
		}); err != nil {
			return fmt.Errorf("failed to upsert commit %s: %w", c.GetID(), err)
		}
	}
	if pushedAt == 0 {
		pushedAt = timeNow().UnixMilli()
	}

	if err := d.projector.RecordPush(ctx, repo.ID, pushedAt); err != nil {
		logger.ErrorContext(ctx, "failed to record push",
			"repository_id", repo.ID,
			"error", err)
	}
	entry := projection.PushActivity(repo.ID, branch, event.GetSender().GetLogin(), len(event.Commits))
	if err := d.projector.Append(ctx, entry); err != nil {
		logger.ErrorContext(ctx, "failed to append activity",
			"repository_id", repo.ID,
			"error", err)
	}
	return nil
}

func (d *Dispatcher) handleCreate(ctx context.Context, event *github.CreateEvent) error {
	if event.GetRefType() != "branch" {
		return nil
	}

	repo, err := d.resolveRepo(ctx, refFromRepo(event.GetRepo(), event.GetInstallation()))
	if err != nil {
		return err
	}

	// The create payload carries no head SHA; the next push fills it in.
	if _, err := d.store.UpsertBranch(ctx, &model.Branch{
		RepositoryID: repo.ID,
		Name:         event.GetRef(),
	}); err != nil {
		return fmt.Errorf("failed to upsert branch %q: %w", event.GetRef(), err)
	}
	d.project(ctx, repo.ID)
	return nil
}

func (d *Dispatcher) handleDelete(ctx context.Context, event *github.DeleteEvent) error {
	if event.GetRefType() != "branch" {
		return nil
	}

	repo, err := d.resolveRepo(ctx, refFromRepo(event.GetRepo(), event.GetInstallation()))
	if err != nil {
		return err
	}

	if _, err := d.store.DeleteBranch(ctx, repo.ID, event.GetRef()); err != nil {
		return fmt.Errorf("failed to delete branch %q: %w", event.GetRef(), err)
	}
	d.project(ctx, repo.ID)
	return nil
}

func millisTime(ts github.Timestamp) int64 {
	if ts.Time.IsZero() {
		return 0
	}
	return ts.Time.UnixMilli()
}
