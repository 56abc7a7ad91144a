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

package memstore

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/abcxyz/github-mirror/pkg/model"
	"github.com/abcxyz/github-mirror/pkg/store"
)

func (s *Store) GetRepoOverview(ctx context.Context, repositoryID string) (*model.RepoOverview, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ov, ok := s.overviews[repositoryID]
	if !ok {
		return nil, fmt.Errorf("overview %q: %w", repositoryID, store.ErrNotFound)
	}
	cp := *ov
	return &cp, nil
}

func (s *Store) PutRepoOverview(ctx context.Context, ov *model.RepoOverview) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *ov
	if existing, ok := s.overviews[ov.RepositoryID]; ok {
		cp.ID = existing.ID
	} else {
		cp.ID = newID(cp.ID)
	}
	s.overviews[cp.RepositoryID] = &cp
	return nil
}

// activityKey orders feed rows newest first within a repository. The
// per-store sequence keeps same-millisecond rows stable.
func activityKey(repositoryID string, createdAt, seq int64) string {
	return fmt.Sprintf("%s\x00%020d\x00%012d", repositoryID, math.MaxInt64-createdAt, seq)
}

func (s *Store) AppendActivity(ctx context.Context, e *model.ActivityEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.activitySeq++
	cp := *e
	cp.ID = newID(cp.ID)
	k := activityKey(cp.RepositoryID, cp.CreatedAt, s.activitySeq)
	s.activityDoc[k] = &cp
	s.activity.ReplaceOrInsert(indexEntry{key: k, ref: k})
	return nil
}

func (s *Store) ListActivity(ctx context.Context, repositoryID string, cursor string, numItems int) (*store.Page[*model.ActivityEntry], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	startKey, err := store.DecodeCursor(cursor)
	if err != nil {
		return nil, err
	}
	if startKey == "" {
		startKey = repositoryID + "\x00"
	}

	page := &store.Page[*model.ActivityEntry]{IsDone: true, ContinueCursor: cursor}
	prefix := repositoryID + "\x00"
	s.activity.AscendGreaterOrEqual(indexEntry{key: startKey}, func(e indexEntry) bool {
		if !strings.HasPrefix(e.key, prefix) {
			return false
		}
		if e.key == startKey && cursor != "" {
			return true
		}
		if len(page.Page) >= numItems {
			page.IsDone = false
			return false
		}
		cp := *s.activityDoc[e.ref]
		page.Page = append(page.Page, &cp)
		page.ContinueCursor = store.EncodeCursor(e.key)
		return true
	})
	return page, nil
}
