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

// Package memstore is the in-memory implementation of the store contract. A
// single mutex makes each method atomic, which is the transaction model the
// pipeline's conditional updates rely on. Ordered access paths (retry sweeps,
// pagination, the activity feed) are btree indexes; hot counts live in an
// aggregate, never in table scans.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/btree"
	"github.com/google/uuid"

	"github.com/abcxyz/github-mirror/pkg/model"
	"github.com/abcxyz/github-mirror/pkg/store"
)

// indexEntry is one row of an ordered secondary index.
type indexEntry struct {
	key string
	ref string
}

func lessIndexEntry(a, b indexEntry) bool { return a.key < b.key }

// Store is the in-memory document store.
type Store struct {
	mu sync.Mutex

	rawEvents      map[string]*model.RawEvent // delivery id -> event
	rawByStateTime *btree.BTreeG[indexEntry]  // state|time|delivery id

	deadLetters []*model.DeadLetter

	syncJobs      map[string]*model.SyncJob
	syncJobByLock map[string]string // lock key -> live job id

	installations map[int64]*model.Installation
	repos         map[string]*model.Repository
	repoByGHID    map[int64]string
	repoByName    map[string]string

	users       map[int64]*model.User
	userByLogin map[string]int64
	userTokens  map[string]*model.UserToken

	branches map[string]*model.Branch       // repo|name
	commits  map[string]*model.Commit       // repo|sha
	prs      map[string]*model.PullRequest  // repo|number
	prIndex  *btree.BTreeG[indexEntry]      // repo|number, for pagination
	issues   map[string]*model.Issue        // repo|number
	issIndex *btree.BTreeG[indexEntry]      // repo|number
	issByCor map[string]string              // repo|correlation -> issue key
	comments map[string]*model.IssueComment // repo|issue|comment id
	comByCor map[string]string              // repo|correlation -> comment key
	reviews  map[string]*model.PullRequestReview
	revByCor map[string]string
	revComs  map[string]*model.PullRequestReviewComment
	prFiles  map[string][]*model.PullRequestFile // repo|number -> file set
	prHeads  map[string]string                   // repo|number -> synced head sha
	checks   map[string]*model.CheckRun          // repo|check run id
	wfRuns   map[string]*model.WorkflowRun       // repo|run id
	wfJobs   map[string]*model.WorkflowJob       // repo|job id

	overviews   map[string]*model.RepoOverview
	activity    *btree.BTreeG[indexEntry] // repo|inverted time|seq
	activityDoc map[string]*model.ActivityEntry
	activitySeq int64

	journal map[string]map[string]string

	agg *store.Aggregate
}

var _ store.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		rawEvents:      make(map[string]*model.RawEvent),
		rawByStateTime: btree.NewG(16, lessIndexEntry),
		syncJobs:       make(map[string]*model.SyncJob),
		syncJobByLock:  make(map[string]string),
		installations:  make(map[int64]*model.Installation),
		repos:          make(map[string]*model.Repository),
		repoByGHID:     make(map[int64]string),
		repoByName:     make(map[string]string),
		users:          make(map[int64]*model.User),
		userByLogin:    make(map[string]int64),
		userTokens:     make(map[string]*model.UserToken),
		branches:       make(map[string]*model.Branch),
		commits:        make(map[string]*model.Commit),
		prs:            make(map[string]*model.PullRequest),
		prIndex:        btree.NewG(16, lessIndexEntry),
		issues:         make(map[string]*model.Issue),
		issIndex:       btree.NewG(16, lessIndexEntry),
		issByCor:       make(map[string]string),
		comments:       make(map[string]*model.IssueComment),
		comByCor:       make(map[string]string),
		reviews:        make(map[string]*model.PullRequestReview),
		revByCor:       make(map[string]string),
		revComs:        make(map[string]*model.PullRequestReviewComment),
		prFiles:        make(map[string][]*model.PullRequestFile),
		prHeads:        make(map[string]string),
		checks:         make(map[string]*model.CheckRun),
		wfRuns:         make(map[string]*model.WorkflowRun),
		wfJobs:         make(map[string]*model.WorkflowJob),
		overviews:      make(map[string]*model.RepoOverview),
		activity:       btree.NewG(16, lessIndexEntry),
		activityDoc:    make(map[string]*model.ActivityEntry),
		journal:        make(map[string]map[string]string),
		agg:            store.NewAggregate(),
	}
}

// numKey renders a number so that lexicographic order matches numeric order,
// including the negative provisional numbers optimistic stubs use.
func numKey(n int) string {
	return fmt.Sprintf("%012d", int64(n)+1_000_000_000)
}

func key2(a, b string) string    { return a + "\x00" + b }
func key3(a, b, c string) string { return a + "\x00" + b + "\x00" + c }

func newID(id string) string {
	if id != "" {
		return id
	}
	return uuid.NewString()
}

// aggregate key builders
func aggPR(repoID string, state model.EntityState) string {
	return "pr/" + repoID + "/" + string(state)
}

func aggIssue(repoID string, state model.EntityState) string {
	return "issue/" + repoID + "/" + string(state)
}

func aggCheckFail(repoID string) string { return "checkfail/" + repoID }

func aggRaw(state model.ProcessState) string { return "rawevent/" + string(state) }

func aggComment(repoID string, issueNumber int) string {
	return "comment/" + repoID + "/" + numKey(issueNumber)
}

func aggReview(repoID string, prNumber int) string {
	return "review/" + repoID + "/" + numKey(prNumber)
}

func aggWfJob(repoID string, runID int64) string {
	return fmt.Sprintf("wfjob/%s/%d", repoID, runID)
}

// --- Raw events ---

func rawStateKey(state model.ProcessState, at int64, deliveryID string) string {
	return fmt.Sprintf("%s\x00%020d\x00%s", state, at, deliveryID)
}

// rawSortTime is the timestamp the state index orders by: retries by their
// due time, everything else by receipt time.
func rawSortTime(ev *model.RawEvent) int64 {
	if ev.ProcessState == model.ProcessRetry {
		return ev.NextRetryAt
	}
	return ev.ReceivedAt
}

func (s *Store) rawIndexPut(ev *model.RawEvent) {
	s.rawByStateTime.ReplaceOrInsert(indexEntry{
		key: rawStateKey(ev.ProcessState, rawSortTime(ev), ev.DeliveryID),
		ref: ev.DeliveryID,
	})
}

func (s *Store) rawIndexDelete(ev *model.RawEvent) {
	s.rawByStateTime.Delete(indexEntry{
		key: rawStateKey(ev.ProcessState, rawSortTime(ev), ev.DeliveryID),
	})
}

func (s *Store) InsertRawEvent(ctx context.Context, ev *model.RawEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rawEvents[ev.DeliveryID]; ok {
		return false, nil
	}

	cp := *ev
	cp.ID = newID(cp.ID)
	s.rawEvents[cp.DeliveryID] = &cp
	s.rawIndexPut(&cp)
	s.agg.Incr(aggRaw(cp.ProcessState))
	return true, nil
}

func (s *Store) GetRawEvent(ctx context.Context, deliveryID string) (*model.RawEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.rawEvents[deliveryID]
	if !ok {
		return nil, fmt.Errorf("raw event %q: %w", deliveryID, store.ErrNotFound)
	}
	cp := *ev
	return &cp, nil
}

func (s *Store) TransitionRawEvent(ctx context.Context, deliveryID string, from []model.ProcessState, patch store.RawEventPatch) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.rawEvents[deliveryID]
	if !ok {
		return false, fmt.Errorf("raw event %q: %w", deliveryID, store.ErrNotFound)
	}

	allowed := false
	for _, st := range from {
		if ev.ProcessState == st {
			allowed = true
			break
		}
	}
	if !allowed {
		return false, nil
	}

	s.rawIndexDelete(ev)
	s.agg.Decr(aggRaw(ev.ProcessState))

	ev.ProcessState = patch.State
	if patch.ProcessError != nil {
		ev.ProcessError = *patch.ProcessError
	}
	if patch.ProcessAttempts != nil {
		ev.ProcessAttempts = *patch.ProcessAttempts
	}
	if patch.NextRetryAt != nil {
		ev.NextRetryAt = *patch.NextRetryAt
	}

	s.rawIndexPut(ev)
	s.agg.Incr(aggRaw(ev.ProcessState))
	return true, nil
}

func (s *Store) ListRawEventsDue(ctx context.Context, state model.ProcessState, now int64, limit int) ([]*model.RawEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.RawEvent
	start := indexEntry{key: string(state) + "\x00"}
	end := rawStateKey(state, now, "\xff")
	s.rawByStateTime.AscendGreaterOrEqual(start, func(e indexEntry) bool {
		if e.key > end || len(out) >= limit {
			return false
		}
		if ev, ok := s.rawEvents[e.ref]; ok {
			cp := *ev
			out = append(out, &cp)
		}
		return true
	})
	return out, nil
}

func (s *Store) ListRawEventsByState(ctx context.Context, state model.ProcessState, limit int) ([]*model.RawEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.RawEvent
	start := indexEntry{key: string(state) + "\x00"}
	s.rawByStateTime.AscendGreaterOrEqual(start, func(e indexEntry) bool {
		if len(out) >= limit {
			return false
		}
		ev, ok := s.rawEvents[e.ref]
		if !ok || ev.ProcessState != state {
			return false
		}
		cp := *ev
		out = append(out, &cp)
		return true
	})
	return out, nil
}

func (s *Store) DeleteRawEvent(ctx context.Context, deliveryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.rawEvents[deliveryID]
	if !ok {
		return nil
	}
	s.rawIndexDelete(ev)
	s.agg.Decr(aggRaw(ev.ProcessState))
	delete(s.rawEvents, deliveryID)
	return nil
}

func (s *Store) CountRawEvents(ctx context.Context, state model.ProcessState) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agg.Get(aggRaw(state)), nil
}

// --- Dead letters ---

func (s *Store) InsertDeadLetter(ctx context.Context, dl *model.DeadLetter) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *dl
	cp.ID = newID(cp.ID)
	s.deadLetters = append(s.deadLetters, &cp)
	return nil
}

func (s *Store) ListDeadLetters(ctx context.Context, limit int) ([]*model.DeadLetter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.deadLetters)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]*model.DeadLetter, 0, n)
	for _, dl := range s.deadLetters[:n] {
		cp := *dl
		out = append(out, &cp)
	}
	return out, nil
}

// --- Sync jobs ---

func (s *Store) CreateSyncJob(ctx context.Context, job *model.SyncJob) (*model.SyncJob, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existingID, ok := s.syncJobByLock[job.LockKey]; ok {
		existing := s.syncJobs[existingID]
		if existing != nil && (existing.State == model.SyncJobPending || existing.State == model.SyncJobRunning || existing.State == model.SyncJobRetry) {
			cp := *existing
			return &cp, false, nil
		}
	}

	cp := *job
	cp.ID = newID(cp.ID)
	cp.CompletedSteps = append([]string(nil), job.CompletedSteps...)
	s.syncJobs[cp.ID] = &cp
	s.syncJobByLock[cp.LockKey] = cp.ID
	out := cp
	return &out, true, nil
}

func cloneSyncJob(j *model.SyncJob) *model.SyncJob {
	cp := *j
	cp.CompletedSteps = append([]string(nil), j.CompletedSteps...)
	return &cp
}

func (s *Store) GetSyncJob(ctx context.Context, id string) (*model.SyncJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.syncJobs[id]
	if !ok {
		return nil, fmt.Errorf("sync job %q: %w", id, store.ErrNotFound)
	}
	return cloneSyncJob(j), nil
}

func (s *Store) GetSyncJobByLockKey(ctx context.Context, lockKey string) (*model.SyncJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.syncJobByLock[lockKey]
	if !ok {
		return nil, fmt.Errorf("sync job lock %q: %w", lockKey, store.ErrNotFound)
	}
	j, ok := s.syncJobs[id]
	if !ok {
		return nil, fmt.Errorf("sync job lock %q: %w", lockKey, store.ErrNotFound)
	}
	return cloneSyncJob(j), nil
}

func (s *Store) ClaimSyncJob(ctx context.Context, id string, maxRunning int, now int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.syncJobs[id]
	if !ok {
		return false, fmt.Errorf("sync job %q: %w", id, store.ErrNotFound)
	}
	if j.State != model.SyncJobPending {
		return false, nil
	}

	running := 0
	for _, other := range s.syncJobs {
		if other.InstallationID == j.InstallationID && other.State == model.SyncJobRunning {
			running++
		}
	}
	if running >= maxRunning {
		return false, nil
	}

	j.State = model.SyncJobRunning
	j.LastError = ""
	j.UpdatedAt = now
	return true, nil
}

func (s *Store) TransitionSyncJob(ctx context.Context, id string, from []model.SyncJobState, patch store.SyncJobPatch) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.syncJobs[id]
	if !ok {
		return false, fmt.Errorf("sync job %q: %w", id, store.ErrNotFound)
	}

	allowed := false
	for _, st := range from {
		if j.State == st {
			allowed = true
			break
		}
	}
	if !allowed {
		return false, nil
	}

	j.State = patch.State
	if patch.LastError != nil {
		j.LastError = *patch.LastError
	}
	if patch.CurrentStep != nil {
		j.CurrentStep = *patch.CurrentStep
	}
	if patch.CompletedSteps != nil {
		j.CompletedSteps = append([]string(nil), patch.CompletedSteps...)
	}
	if patch.ItemsFetched != nil {
		j.ItemsFetched = *patch.ItemsFetched
	}
	if patch.AttemptCount != nil {
		j.AttemptCount = *patch.AttemptCount
	}
	if patch.NextRunAt != nil {
		j.NextRunAt = *patch.NextRunAt
	}
	return true, nil
}

func (s *Store) ListPendingSyncJobs(ctx context.Context, installationID int64, limit int) ([]*model.SyncJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.SyncJob
	for _, j := range s.syncJobs {
		if j.InstallationID == installationID && j.State == model.SyncJobPending {
			out = append(out, cloneSyncJob(j))
		}
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].PrioritySortKey != out[k].PrioritySortKey {
			return out[i].PrioritySortKey < out[k].PrioritySortKey
		}
		return out[i].CreatedAt < out[k].CreatedAt
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) CountRunningSyncJobs(ctx context.Context, installationID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	running := 0
	for _, j := range s.syncJobs {
		if j.InstallationID == installationID && j.State == model.SyncJobRunning {
			running++
		}
	}
	return running, nil
}

// --- Accounts ---

func (s *Store) UpsertInstallation(ctx context.Context, inst *model.Installation) (*model.Installation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *inst
	if existing, ok := s.installations[inst.InstallationID]; ok {
		cp.ID = existing.ID
		cp.CreatedAt = existing.CreatedAt
	} else {
		cp.ID = newID(cp.ID)
	}
	s.installations[cp.InstallationID] = &cp
	out := cp
	return &out, nil
}

func (s *Store) GetInstallation(ctx context.Context, installationID int64) (*model.Installation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, ok := s.installations[installationID]
	if !ok {
		return nil, fmt.Errorf("installation %d: %w", installationID, store.ErrNotFound)
	}
	cp := *inst
	return &cp, nil
}

func (s *Store) UpsertRepository(ctx context.Context, repo *model.Repository) (*model.Repository, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *repo
	if id, ok := s.repoByGHID[repo.GitHubRepoID]; ok {
		existing := s.repos[id]
		cp.ID = existing.ID
		if cp.ConnectedByUserID == "" {
			cp.ConnectedByUserID = existing.ConnectedByUserID
		}
		delete(s.repoByName, existing.FullName)
	} else {
		cp.ID = newID(cp.ID)
	}
	s.repos[cp.ID] = &cp
	s.repoByGHID[cp.GitHubRepoID] = cp.ID
	s.repoByName[cp.FullName] = cp.ID
	out := cp
	return &out, nil
}

func (s *Store) GetRepository(ctx context.Context, id string) (*model.Repository, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.repos[id]
	if !ok {
		return nil, fmt.Errorf("repository %q: %w", id, store.ErrNotFound)
	}
	cp := *r
	return &cp, nil
}

func (s *Store) GetRepositoryByGitHubID(ctx context.Context, githubRepoID int64) (*model.Repository, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.repoByGHID[githubRepoID]
	if !ok {
		return nil, fmt.Errorf("repository gh:%d: %w", githubRepoID, store.ErrNotFound)
	}
	cp := *s.repos[id]
	return &cp, nil
}

func (s *Store) GetRepositoryByFullName(ctx context.Context, fullName string) (*model.Repository, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.repoByName[fullName]
	if !ok {
		return nil, fmt.Errorf("repository %q: %w", fullName, store.ErrNotFound)
	}
	cp := *s.repos[id]
	return &cp, nil
}

func (s *Store) MutateRepository(ctx context.Context, id string, fn func(*model.Repository) (*model.Repository, error)) (*model.Repository, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.repos[id]
	if !ok {
		return nil, fmt.Errorf("repository %q: %w", id, store.ErrNotFound)
	}
	cur := *r
	next, err := fn(&cur)
	if err != nil {
		return nil, err
	}
	if next == nil {
		cp := *r
		return &cp, nil
	}
	next.ID = r.ID
	delete(s.repoByName, r.FullName)
	cp := *next
	s.repos[id] = &cp
	s.repoByGHID[cp.GitHubRepoID] = id
	s.repoByName[cp.FullName] = id
	out := cp
	return &out, nil
}

func (s *Store) UpsertUser(ctx context.Context, u *model.User) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *u
	if existing, ok := s.users[u.GitHubUserID]; ok {
		cp.ID = existing.ID
		delete(s.userByLogin, existing.Login)
	} else {
		cp.ID = newID(cp.ID)
	}
	s.users[cp.GitHubUserID] = &cp
	s.userByLogin[cp.Login] = cp.GitHubUserID
	out := cp
	return &out, nil
}

func (s *Store) GetUserByGitHubID(ctx context.Context, githubUserID int64) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[githubUserID]
	if !ok {
		return nil, fmt.Errorf("user gh:%d: %w", githubUserID, store.ErrNotFound)
	}
	cp := *u
	return &cp, nil
}

func (s *Store) GetUserByLogin(ctx context.Context, login string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.userByLogin[login]
	if !ok {
		return nil, fmt.Errorf("user %q: %w", login, store.ErrNotFound)
	}
	cp := *s.users[id]
	return &cp, nil
}

func (s *Store) PutUserToken(ctx context.Context, tok *model.UserToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *tok
	cp.ID = newID(cp.ID)
	s.userTokens[cp.UserID] = &cp
	return nil
}

func (s *Store) GetUserToken(ctx context.Context, userID string) (*model.UserToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tok, ok := s.userTokens[userID]
	if !ok {
		return nil, fmt.Errorf("user token %q: %w", userID, store.ErrNotFound)
	}
	cp := *tok
	return &cp, nil
}

// --- Workflow journal ---

func (s *Store) PutWorkflowStepResult(ctx context.Context, workflowID, step, result string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.journal[workflowID]
	if !ok {
		j = make(map[string]string)
		s.journal[workflowID] = j
	}
	j[step] = result
	return nil
}

func (s *Store) GetWorkflowStepResult(ctx context.Context, workflowID, step string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.journal[workflowID]
	if !ok {
		return "", false, nil
	}
	res, ok := j[step]
	return res, ok, nil
}
