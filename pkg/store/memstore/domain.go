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
	"sort"
	"strings"

	"github.com/abcxyz/github-mirror/pkg/model"
	"github.com/abcxyz/github-mirror/pkg/store"
)

func clonePR(pr *model.PullRequest) *model.PullRequest {
	cp := *pr
	cp.LabelNames = append([]string(nil), pr.LabelNames...)
	return &cp
}

func cloneIssue(is *model.Issue) *model.Issue {
	cp := *is
	cp.LabelNames = append([]string(nil), is.LabelNames...)
	cp.AssigneeUserIDs = append([]int64(nil), is.AssigneeUserIDs...)
	return &cp
}

// --- Pull requests ---

func (s *Store) MutatePullRequest(ctx context.Context, repositoryID string, number int, fn func(*model.PullRequest) (*model.PullRequest, error)) (*model.PullRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key2(repositoryID, numKey(number))
	var existing *model.PullRequest
	if cur, ok := s.prs[k]; ok {
		existing = clonePR(cur)
	}

	next, err := fn(existing)
	if err != nil {
		return nil, err
	}
	if next == nil {
		return existing, nil
	}

	next.RepositoryID = repositoryID
	next.Number = number
	if existing != nil {
		next.ID = existing.ID
		s.agg.Decr(aggPR(repositoryID, existing.State))
	} else {
		next.ID = newID(next.ID)
		s.prIndex.ReplaceOrInsert(indexEntry{key: k, ref: k})
	}
	s.agg.Incr(aggPR(repositoryID, next.State))
	s.prs[k] = clonePR(next)
	return clonePR(next), nil
}

func (s *Store) GetPullRequest(ctx context.Context, repositoryID string, number int) (*model.PullRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pr, ok := s.prs[key2(repositoryID, numKey(number))]
	if !ok {
		return nil, fmt.Errorf("pull request %s#%d: %w", repositoryID, number, store.ErrNotFound)
	}
	return clonePR(pr), nil
}

func (s *Store) ListPullRequests(ctx context.Context, repositoryID string, state model.EntityState, cursor string, numItems int) (*store.Page[*model.PullRequest], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	startKey, err := store.DecodeCursor(cursor)
	if err != nil {
		return nil, err
	}
	if startKey == "" {
		startKey = repositoryID + "\x00"
	}

	page := &store.Page[*model.PullRequest]{IsDone: true, ContinueCursor: cursor}
	prefix := repositoryID + "\x00"
	s.prIndex.AscendGreaterOrEqual(indexEntry{key: startKey}, func(e indexEntry) bool {
		if !strings.HasPrefix(e.key, prefix) {
			return false
		}
		if e.key == startKey && cursor != "" {
			// cursor points at the last row of the previous page
			return true
		}
		pr := s.prs[e.ref]
		if state != "" && pr.State != state {
			return true
		}
		if len(page.Page) >= numItems {
			page.IsDone = false
			return false
		}
		page.Page = append(page.Page, clonePR(pr))
		page.ContinueCursor = store.EncodeCursor(e.key)
		return true
	})
	return page, nil
}

func (s *Store) ListOpenPullRequests(ctx context.Context, repositoryID string) ([]*model.PullRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.PullRequest
	prefix := repositoryID + "\x00"
	s.prIndex.AscendGreaterOrEqual(indexEntry{key: prefix}, func(e indexEntry) bool {
		if !strings.HasPrefix(e.key, prefix) {
			return false
		}
		if pr := s.prs[e.ref]; pr.State == model.StateOpen {
			out = append(out, clonePR(pr))
		}
		return true
	})
	return out, nil
}

func (s *Store) CountPullRequests(ctx context.Context, repositoryID string, state model.EntityState) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agg.Get(aggPR(repositoryID, state)), nil
}

// --- Issues ---

func (s *Store) MutateIssue(ctx context.Context, repositoryID string, number int, fn func(*model.Issue) (*model.Issue, error)) (*model.Issue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key2(repositoryID, numKey(number))
	var existing *model.Issue
	if cur, ok := s.issues[k]; ok {
		existing = cloneIssue(cur)
	}

	next, err := fn(existing)
	if err != nil {
		return nil, err
	}
	if next == nil {
		return existing, nil
	}

	next.RepositoryID = repositoryID
	next.Number = number
	if existing != nil {
		next.ID = existing.ID
		s.agg.Decr(aggIssue(repositoryID, existing.State))
		if existing.OptimisticCorrelationID != "" {
			delete(s.issByCor, key2(repositoryID, existing.OptimisticCorrelationID))
		}
	} else {
		next.ID = newID(next.ID)
		s.issIndex.ReplaceOrInsert(indexEntry{key: k, ref: k})
	}
	s.agg.Incr(aggIssue(repositoryID, next.State))
	if next.OptimisticCorrelationID != "" {
		s.issByCor[key2(repositoryID, next.OptimisticCorrelationID)] = k
	}
	s.issues[k] = cloneIssue(next)
	return cloneIssue(next), nil
}

func (s *Store) GetIssue(ctx context.Context, repositoryID string, number int) (*model.Issue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	is, ok := s.issues[key2(repositoryID, numKey(number))]
	if !ok {
		return nil, fmt.Errorf("issue %s#%d: %w", repositoryID, number, store.ErrNotFound)
	}
	return cloneIssue(is), nil
}

func (s *Store) GetIssueByCorrelation(ctx context.Context, repositoryID, correlationID string) (*model.Issue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.issByCor[key2(repositoryID, correlationID)]
	if !ok {
		return nil, fmt.Errorf("issue correlation %q: %w", correlationID, store.ErrNotFound)
	}
	return cloneIssue(s.issues[k]), nil
}

func (s *Store) DeleteIssue(ctx context.Context, repositoryID string, number int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key2(repositoryID, numKey(number))
	is, ok := s.issues[k]
	if !ok {
		return false, nil
	}
	s.agg.Decr(aggIssue(repositoryID, is.State))
	if is.OptimisticCorrelationID != "" {
		delete(s.issByCor, key2(repositoryID, is.OptimisticCorrelationID))
	}
	s.issIndex.Delete(indexEntry{key: k})
	delete(s.issues, k)
	return true, nil
}

func (s *Store) ListIssues(ctx context.Context, repositoryID string, state model.EntityState, cursor string, numItems int) (*store.Page[*model.Issue], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	startKey, err := store.DecodeCursor(cursor)
	if err != nil {
		return nil, err
	}
	if startKey == "" {
		startKey = repositoryID + "\x00"
	}

	page := &store.Page[*model.Issue]{IsDone: true, ContinueCursor: cursor}
	prefix := repositoryID + "\x00"
	s.issIndex.AscendGreaterOrEqual(indexEntry{key: startKey}, func(e indexEntry) bool {
		if !strings.HasPrefix(e.key, prefix) {
			return false
		}
		if e.key == startKey && cursor != "" {
			return true
		}
		is := s.issues[e.ref]
		if state != "" && is.State != state {
			return true
		}
		if len(page.Page) >= numItems {
			page.IsDone = false
			return false
		}
		page.Page = append(page.Page, cloneIssue(is))
		page.ContinueCursor = store.EncodeCursor(e.key)
		return true
	})
	return page, nil
}

func (s *Store) CountIssues(ctx context.Context, repositoryID string, state model.EntityState) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agg.Get(aggIssue(repositoryID, state)), nil
}

// --- Issue comments ---

func (s *Store) MutateIssueComment(ctx context.Context, repositoryID string, issueNumber int, githubCommentID int64, fn func(*model.IssueComment) (*model.IssueComment, error)) (*model.IssueComment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key3(repositoryID, numKey(issueNumber), fmt.Sprintf("%d", githubCommentID))
	var existing *model.IssueComment
	if cur, ok := s.comments[k]; ok {
		cp := *cur
		existing = &cp
	}

	next, err := fn(existing)
	if err != nil {
		return nil, err
	}
	if next == nil {
		return existing, nil
	}

	next.RepositoryID = repositoryID
	next.IssueNumber = issueNumber
	next.GitHubCommentID = githubCommentID
	if existing != nil {
		next.ID = existing.ID
		if existing.OptimisticCorrelationID != "" {
			delete(s.comByCor, key2(repositoryID, existing.OptimisticCorrelationID))
		}
	} else {
		next.ID = newID(next.ID)
		s.agg.Incr(aggComment(repositoryID, issueNumber))
	}
	if next.OptimisticCorrelationID != "" {
		s.comByCor[key2(repositoryID, next.OptimisticCorrelationID)] = k
	}
	cp := *next
	s.comments[k] = &cp
	out := cp
	return &out, nil
}

func (s *Store) DeleteIssueComment(ctx context.Context, repositoryID string, issueNumber int, githubCommentID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key3(repositoryID, numKey(issueNumber), fmt.Sprintf("%d", githubCommentID))
	c, ok := s.comments[k]
	if !ok {
		return false, nil
	}
	if c.OptimisticCorrelationID != "" {
		delete(s.comByCor, key2(repositoryID, c.OptimisticCorrelationID))
	}
	delete(s.comments, k)
	s.agg.Decr(aggComment(repositoryID, issueNumber))
	return true, nil
}

func (s *Store) ListIssueComments(ctx context.Context, repositoryID string, issueNumber int) ([]*model.IssueComment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefix := key2(repositoryID, numKey(issueNumber)) + "\x00"
	var out []*model.IssueComment
	for k, c := range s.comments {
		if strings.HasPrefix(k, prefix) {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	return out, nil
}

func (s *Store) CountIssueComments(ctx context.Context, repositoryID string, issueNumber int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agg.Get(aggComment(repositoryID, issueNumber)), nil
}

func (s *Store) GetIssueCommentByCorrelation(ctx context.Context, repositoryID, correlationID string) (*model.IssueComment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.comByCor[key2(repositoryID, correlationID)]
	if !ok {
		return nil, fmt.Errorf("comment correlation %q: %w", correlationID, store.ErrNotFound)
	}
	cp := *s.comments[k]
	return &cp, nil
}

// --- Reviews ---

func (s *Store) MutateReview(ctx context.Context, repositoryID string, prNumber int, githubReviewID int64, fn func(*model.PullRequestReview) (*model.PullRequestReview, error)) (*model.PullRequestReview, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key3(repositoryID, numKey(prNumber), fmt.Sprintf("%d", githubReviewID))
	var existing *model.PullRequestReview
	if cur, ok := s.reviews[k]; ok {
		cp := *cur
		existing = &cp
	}

	next, err := fn(existing)
	if err != nil {
		return nil, err
	}
	if next == nil {
		return existing, nil
	}

	next.RepositoryID = repositoryID
	next.PullRequestNumber = prNumber
	next.GitHubReviewID = githubReviewID
	if existing != nil {
		next.ID = existing.ID
		if existing.OptimisticCorrelationID != "" {
			delete(s.revByCor, key2(repositoryID, existing.OptimisticCorrelationID))
		}
	} else {
		next.ID = newID(next.ID)
		s.agg.Incr(aggReview(repositoryID, prNumber))
	}
	if next.OptimisticCorrelationID != "" {
		s.revByCor[key2(repositoryID, next.OptimisticCorrelationID)] = k
	}
	cp := *next
	s.reviews[k] = &cp
	out := cp
	return &out, nil
}

func (s *Store) DeleteReview(ctx context.Context, repositoryID string, prNumber int, githubReviewID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key3(repositoryID, numKey(prNumber), fmt.Sprintf("%d", githubReviewID))
	r, ok := s.reviews[k]
	if !ok {
		return false, nil
	}
	if r.OptimisticCorrelationID != "" {
		delete(s.revByCor, key2(repositoryID, r.OptimisticCorrelationID))
	}
	delete(s.reviews, k)
	s.agg.Decr(aggReview(repositoryID, prNumber))
	return true, nil
}

func (s *Store) ListReviews(ctx context.Context, repositoryID string, prNumber int) ([]*model.PullRequestReview, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefix := key2(repositoryID, numKey(prNumber)) + "\x00"
	var out []*model.PullRequestReview
	for k, r := range s.reviews {
		if strings.HasPrefix(k, prefix) {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt < out[j].SubmittedAt })
	return out, nil
}

func (s *Store) CountReviews(ctx context.Context, repositoryID string, prNumber int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agg.Get(aggReview(repositoryID, prNumber)), nil
}

func (s *Store) GetReviewByCorrelation(ctx context.Context, repositoryID, correlationID string) (*model.PullRequestReview, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.revByCor[key2(repositoryID, correlationID)]
	if !ok {
		return nil, fmt.Errorf("review correlation %q: %w", correlationID, store.ErrNotFound)
	}
	cp := *s.reviews[k]
	return &cp, nil
}

// --- Review comments ---

func (s *Store) MutateReviewComment(ctx context.Context, repositoryID string, prNumber int, githubReviewCommentID int64, fn func(*model.PullRequestReviewComment) (*model.PullRequestReviewComment, error)) (*model.PullRequestReviewComment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key3(repositoryID, numKey(prNumber), fmt.Sprintf("%d", githubReviewCommentID))
	var existing *model.PullRequestReviewComment
	if cur, ok := s.revComs[k]; ok {
		cp := *cur
		existing = &cp
	}

	next, err := fn(existing)
	if err != nil {
		return nil, err
	}
	if next == nil {
		return existing, nil
	}

	next.RepositoryID = repositoryID
	next.PullRequestNumber = prNumber
	next.GitHubReviewCommentID = githubReviewCommentID
	if existing != nil {
		next.ID = existing.ID
	} else {
		next.ID = newID(next.ID)
	}
	cp := *next
	s.revComs[k] = &cp
	out := cp
	return &out, nil
}

func (s *Store) DeleteReviewComment(ctx context.Context, repositoryID string, prNumber int, githubReviewCommentID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key3(repositoryID, numKey(prNumber), fmt.Sprintf("%d", githubReviewCommentID))
	if _, ok := s.revComs[k]; !ok {
		return false, nil
	}
	delete(s.revComs, k)
	return true, nil
}

func (s *Store) ListReviewComments(ctx context.Context, repositoryID string, prNumber int) ([]*model.PullRequestReviewComment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefix := key2(repositoryID, numKey(prNumber)) + "\x00"
	var out []*model.PullRequestReviewComment
	for k, c := range s.revComs {
		if strings.HasPrefix(k, prefix) {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	return out, nil
}

// --- PR files ---

func (s *Store) PutPullRequestFiles(ctx context.Context, repositoryID string, prNumber int, headSHA string, files []*model.PullRequestFile) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key2(repositoryID, numKey(prNumber))
	if s.prHeads[k] == headSHA && headSHA != "" {
		return false, nil
	}

	cp := make([]*model.PullRequestFile, 0, len(files))
	for _, f := range files {
		fc := *f
		fc.ID = newID(fc.ID)
		fc.RepositoryID = repositoryID
		fc.PullRequestNumber = prNumber
		fc.HeadSHA = headSHA
		cp = append(cp, &fc)
	}
	s.prFiles[k] = cp
	s.prHeads[k] = headSHA
	return true, nil
}

func (s *Store) ListPullRequestFiles(ctx context.Context, repositoryID string, prNumber int) ([]*model.PullRequestFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	files := s.prFiles[key2(repositoryID, numKey(prNumber))]
	out := make([]*model.PullRequestFile, 0, len(files))
	for _, f := range files {
		cp := *f
		out = append(out, &cp)
	}
	return out, nil
}

// --- Branches ---

func (s *Store) UpsertBranch(ctx context.Context, b *model.Branch) (*model.Branch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key2(b.RepositoryID, b.Name)
	cp := *b
	if existing, ok := s.branches[k]; ok {
		cp.ID = existing.ID
	} else {
		cp.ID = newID(cp.ID)
	}
	s.branches[k] = &cp
	out := cp
	return &out, nil
}

func (s *Store) DeleteBranch(ctx context.Context, repositoryID, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key2(repositoryID, name)
	if _, ok := s.branches[k]; !ok {
		return false, nil
	}
	delete(s.branches, k)
	return true, nil
}

func (s *Store) GetBranch(ctx context.Context, repositoryID, name string) (*model.Branch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.branches[key2(repositoryID, name)]
	if !ok {
		return nil, fmt.Errorf("branch %s/%s: %w", repositoryID, name, store.ErrNotFound)
	}
	cp := *b
	return &cp, nil
}

func (s *Store) ListBranches(ctx context.Context, repositoryID string) ([]*model.Branch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefix := repositoryID + "\x00"
	var out []*model.Branch
	for k, b := range s.branches {
		if strings.HasPrefix(k, prefix) {
			cp := *b
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// --- Commits ---

func (s *Store) UpsertCommit(ctx context.Context, c *model.Commit) (*model.Commit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key2(c.RepositoryID, c.SHA)
	cp := *c
	if existing, ok := s.commits[k]; ok {
		cp.ID = existing.ID
	} else {
		cp.ID = newID(cp.ID)
	}
	s.commits[k] = &cp
	out := cp
	return &out, nil
}

func (s *Store) ListCommits(ctx context.Context, repositoryID string, limit int) ([]*model.Commit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefix := repositoryID + "\x00"
	var out []*model.Commit
	for k, c := range s.commits {
		if strings.HasPrefix(k, prefix) {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CommittedAt > out[j].CommittedAt })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- Check runs ---

func (s *Store) MutateCheckRun(ctx context.Context, repositoryID string, githubCheckRunID int64, fn func(*model.CheckRun) (*model.CheckRun, error)) (*model.CheckRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key2(repositoryID, fmt.Sprintf("%d", githubCheckRunID))
	var existing *model.CheckRun
	if cur, ok := s.checks[k]; ok {
		cp := *cur
		existing = &cp
	}

	next, err := fn(existing)
	if err != nil {
		return nil, err
	}
	if next == nil {
		return existing, nil
	}

	next.RepositoryID = repositoryID
	next.GitHubCheckRunID = githubCheckRunID
	if existing != nil {
		next.ID = existing.ID
		if existing.Conclusion == "failure" {
			s.agg.Decr(aggCheckFail(repositoryID))
		}
	} else {
		next.ID = newID(next.ID)
	}
	if next.Conclusion == "failure" {
		s.agg.Incr(aggCheckFail(repositoryID))
	}
	cp := *next
	s.checks[k] = &cp
	out := cp
	return &out, nil
}

func (s *Store) ListCheckRunsForSHA(ctx context.Context, repositoryID, headSHA string) ([]*model.CheckRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefix := repositoryID + "\x00"
	var out []*model.CheckRun
	for k, c := range s.checks {
		if strings.HasPrefix(k, prefix) && c.HeadSHA == headSHA {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GitHubCheckRunID < out[j].GitHubCheckRunID })
	return out, nil
}

func (s *Store) CountFailingChecks(ctx context.Context, repositoryID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agg.Get(aggCheckFail(repositoryID)), nil
}

// --- Workflow runs and jobs ---

func (s *Store) MutateWorkflowRun(ctx context.Context, repositoryID string, githubRunID int64, fn func(*model.WorkflowRun) (*model.WorkflowRun, error)) (*model.WorkflowRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key2(repositoryID, fmt.Sprintf("%d", githubRunID))
	var existing *model.WorkflowRun
	if cur, ok := s.wfRuns[k]; ok {
		cp := *cur
		existing = &cp
	}

	next, err := fn(existing)
	if err != nil {
		return nil, err
	}
	if next == nil {
		return existing, nil
	}

	next.RepositoryID = repositoryID
	next.GitHubRunID = githubRunID
	if existing != nil {
		next.ID = existing.ID
	} else {
		next.ID = newID(next.ID)
	}
	cp := *next
	s.wfRuns[k] = &cp
	out := cp
	return &out, nil
}

func (s *Store) MutateWorkflowJob(ctx context.Context, repositoryID string, githubJobID int64, fn func(*model.WorkflowJob) (*model.WorkflowJob, error)) (*model.WorkflowJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key2(repositoryID, fmt.Sprintf("%d", githubJobID))
	var existing *model.WorkflowJob
	if cur, ok := s.wfJobs[k]; ok {
		cp := *cur
		existing = &cp
	}

	next, err := fn(existing)
	if err != nil {
		return nil, err
	}
	if next == nil {
		return existing, nil
	}

	next.RepositoryID = repositoryID
	next.GitHubJobID = githubJobID
	if existing != nil {
		next.ID = existing.ID
		s.agg.Decr(aggWfJob(repositoryID, existing.GitHubRunID))
	} else {
		next.ID = newID(next.ID)
	}
	s.agg.Incr(aggWfJob(repositoryID, next.GitHubRunID))
	cp := *next
	s.wfJobs[k] = &cp
	out := cp
	return &out, nil
}

func (s *Store) ListWorkflowJobs(ctx context.Context, repositoryID string, githubRunID int64) ([]*model.WorkflowJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefix := repositoryID + "\x00"
	var out []*model.WorkflowJob
	for k, j := range s.wfJobs {
		if strings.HasPrefix(k, prefix) && j.GitHubRunID == githubRunID {
			cp := *j
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GitHubJobID < out[j].GitHubJobID })
	return out, nil
}

func (s *Store) CountWorkflowJobs(ctx context.Context, repositoryID string, githubRunID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agg.Get(aggWfJob(repositoryID, githubRunID)), nil
}
