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

// Package projection maintains the derived read models: the per-repository
// overview of hot counters and the append-only activity feed. Projections
// are rebuilt from aggregate counts after domain writes, so they can always
// be thrown away and recomputed.
package projection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/abcxyz/github-mirror/pkg/model"
	"github.com/abcxyz/github-mirror/pkg/store"
)

// timeNow is exposed to allow overriding in tests.
var timeNow = time.Now

// Builder rebuilds overviews and appends activity.
type Builder struct {
	store store.Store
}

// NewBuilder creates a builder over the given store.
func NewBuilder(st store.Store) *Builder {
	return &Builder{store: st}
}

// Rebuild recomputes the overview counters for one repository from the
// store's aggregates. LastPushAt is carried over from the existing overview;
// RecordPush owns advancing it.
func (b *Builder) Rebuild(ctx context.Context, repositoryID string) error {
	openPRs, err := b.store.CountPullRequests(ctx, repositoryID, model.StateOpen)
	if err != nil {
		return fmt.Errorf("failed to count open pull requests: %w", err)
	}
	openIssues, err := b.store.CountIssues(ctx, repositoryID, model.StateOpen)
	if err != nil {
		return fmt.Errorf("failed to count open issues: %w", err)
	}
	failing, err := b.store.CountFailingChecks(ctx, repositoryID)
	if err != nil {
		return fmt.Errorf("failed to count failing checks: %w", err)
	}

	var lastPushAt int64
	if existing, err := b.store.GetRepoOverview(ctx, repositoryID); err == nil {
		lastPushAt = existing.LastPushAt
	} else if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("failed to load overview: %w", err)
	}

	ov := &model.RepoOverview{
		RepositoryID:      repositoryID,
		OpenPRCount:       openPRs,
		OpenIssueCount:    openIssues,
		FailingCheckCount: failing,
		LastPushAt:        lastPushAt,
		UpdatedAt:         timeNow().UnixMilli(),
	}
	if err := b.store.PutRepoOverview(ctx, ov); err != nil {
		return fmt.Errorf("failed to write overview: %w", err)
	}
	return nil
}

// RecordPush advances LastPushAt and rebuilds the overview.
func (b *Builder) RecordPush(ctx context.Context, repositoryID string, pushedAt int64) error {
	if err := b.Rebuild(ctx, repositoryID); err != nil {
		return err
	}
	ov, err := b.store.GetRepoOverview(ctx, repositoryID)
	if err != nil {
		return fmt.Errorf("failed to load overview: %w", err)
	}
	if pushedAt > ov.LastPushAt {
		ov.LastPushAt = pushedAt
		if err := b.store.PutRepoOverview(ctx, ov); err != nil {
			return fmt.Errorf("failed to write overview: %w", err)
		}
	}
	return nil
}

// Append records one feed entry. A nil entry is a no-op so callers can pass
// the result of an activity constructor straight through.
func (b *Builder) Append(ctx context.Context, e *model.ActivityEntry) error {
	if e == nil {
		return nil
	}
	if e.CreatedAt == 0 {
		e.CreatedAt = timeNow().UnixMilli()
	}
	if err := b.store.AppendActivity(ctx, e); err != nil {
		return fmt.Errorf("failed to append activity: %w", err)
	}
	return nil
}
