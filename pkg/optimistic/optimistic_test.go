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
	"errors"
	"net/http"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-github/v56/github"

	"github.com/abcxyz/github-mirror/pkg/model"
	"github.com/abcxyz/github-mirror/pkg/projection"
	"github.com/abcxyz/github-mirror/pkg/store/memstore"
)

type fakeWriter struct {
	issueNumber  int
	commentID    int64
	reviewID     int64
	mergedResult bool
	mergeMessage string

	rejectWith error
	rejectCode int

	calls map[string]int
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{
		issueNumber:  99,
		commentID:    7001,
		reviewID:     8001,
		mergedResult: true,
		calls:        map[string]int{},
	}
}

func (w *fakeWriter) resp() *github.Response {
	if w.rejectCode == 0 {
		return &github.Response{Response: &http.Response{StatusCode: http.StatusOK}}
	}
	return &github.Response{Response: &http.Response{StatusCode: w.rejectCode}}
}

func (w *fakeWriter) CreateIssue(ctx context.Context, owner, repo, title, body string) (*github.Issue, *github.Response, error) {
	w.calls["CreateIssue"]++
	if w.rejectWith != nil {
		return nil, w.resp(), w.rejectWith
	}
	return &github.Issue{ID: github.Int64(int64(w.issueNumber) + 1000), Number: github.Int(w.issueNumber)}, w.resp(), nil
}

func (w *fakeWriter) CreateIssueComment(ctx context.Context, owner, repo string, number int, body string) (*github.IssueComment, *github.Response, error) {
	w.calls["CreateIssueComment"]++
	if w.rejectWith != nil {
		return nil, w.resp(), w.rejectWith
	}
	return &github.IssueComment{ID: github.Int64(w.commentID)}, w.resp(), nil
}

func (w *fakeWriter) EditIssueState(ctx context.Context, owner, repo string, number int, state string) (*github.Issue, *github.Response, error) {
	w.calls["EditIssueState"]++
	if w.rejectWith != nil {
		return nil, w.resp(), w.rejectWith
	}
	return &github.Issue{Number: github.Int(number), State: github.String(state)}, w.resp(), nil
}

func (w *fakeWriter) MergePullRequest(ctx context.Context, owner, repo string, number int, method string) (*github.PullRequestMergeResult, *github.Response, error) {
	w.calls["MergePullRequest"]++
	if w.rejectWith != nil {
		return nil, w.resp(), w.rejectWith
	}
	return &github.PullRequestMergeResult{
		Merged:  github.Bool(w.mergedResult),
		Message: github.String(w.mergeMessage),
	}, w.resp(), nil
}

func (w *fakeWriter) UpdatePullRequestBranch(ctx context.Context, owner, repo string, number int, expectedHeadSHA string) (*github.Response, error) {
	w.calls["UpdatePullRequestBranch"]++
	if w.rejectWith != nil {
		return w.resp(), w.rejectWith
	}
	return w.resp(), nil
}

func (w *fakeWriter) CreateReview(ctx context.Context, owner, repo string, number int, event, body string) (*github.PullRequestReview, *github.Response, error) {
	w.calls["CreateReview"]++
	if w.rejectWith != nil {
		return nil, w.resp(), w.rejectWith
	}
	return &github.PullRequestReview{ID: github.Int64(w.reviewID), CommitID: github.String("head-1")}, w.resp(), nil
}

func (w *fakeWriter) AddLabels(ctx context.Context, owner, repo string, number int, labels []string) (*github.Response, error) {
	w.calls["AddLabels"]++
	if w.rejectWith != nil {
		return w.resp(), w.rejectWith
	}
	return w.resp(), nil
}

func (w *fakeWriter) RemoveLabel(ctx context.Context, owner, repo string, number int, label string) (*github.Response, error) {
	w.calls["RemoveLabel"]++
	if w.rejectWith != nil {
		return w.resp(), w.rejectWith
	}
	return w.resp(), nil
}

func (w *fakeWriter) AddAssignees(ctx context.Context, owner, repo string, number int, assignees []string) (*github.Response, error) {
	w.calls["AddAssignees"]++
	if w.rejectWith != nil {
		return w.resp(), w.rejectWith
	}
	return w.resp(), nil
}

func (w *fakeWriter) RemoveAssignees(ctx context.Context, owner, repo string, number int, assignees []string) (*github.Response, error) {
	w.calls["RemoveAssignees"]++
	if w.rejectWith != nil {
		return w.resp(), w.rejectWith
	}
	return w.resp(), nil
}

type fakeSource struct {
	w Writer
}

func (s fakeSource) WriterFor(ctx context.Context, repo *model.Repository) (Writer, error) {
	return s.w, nil
}

func setup(t *testing.T, w Writer) (*Coordinator, *memstore.Store, *model.Repository) {
	t.Helper()
	ctx := context.Background()

	st := memstore.New()
	repo, err := st.UpsertRepository(ctx, &model.Repository{
		GitHubRepoID: 777,
		OwnerLogin:   "octo",
		Name:         "hello",
		FullName:     "octo/hello",
	})
	if err != nil {
		t.Fatal(err)
	}
	return New(st, fakeSource{w}, projection.NewBuilder(st)), st, repo
}

func seedPullRequest(t *testing.T, st *memstore.Store, repoID string, number int) {
	t.Helper()
	if _, err := st.MutatePullRequest(context.Background(), repoID, number, func(existing *model.PullRequest) (*model.PullRequest, error) {
		return &model.PullRequest{
			Title:           "Add feature",
			State:           model.StateOpen,
			HeadSHA:         "head-1",
			GitHubUpdatedAt: 100,
		}, nil
	}); err != nil {
		t.Fatal(err)
	}
}

func seedIssue(t *testing.T, st *memstore.Store, repoID string, number int) {
	t.Helper()
	if _, err := st.MutateIssue(context.Background(), repoID, number, func(existing *model.Issue) (*model.Issue, error) {
		return &model.Issue{
			Title:           "Something broke",
			State:           model.StateOpen,
			LabelNames:      []string{"bug"},
			GitHubUpdatedAt: 100,
		}, nil
	}); err != nil {
		t.Fatal(err)
	}
}

func TestCreateIssue(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	w := newFakeWriter()
	c, st, repo := setup(t, w)

	row, err := c.CreateIssue(ctx, repo.ID, "c1", "New issue", "details")
	if err != nil {
		t.Fatal(err)
	}
	if row.Number != 99 {
		t.Errorf("number = %d, want server-assigned 99", row.Number)
	}
	if row.GitHubIssueID != 1099 {
		t.Errorf("githubIssueId = %d, want 1099", row.GitHubIssueID)
	}
	if row.OptimisticState != model.OptimisticAccepted {
		t.Errorf("optimistic state = %q, want accepted", row.OptimisticState)
	}
	if row.OptimisticCorrelationID != "c1" {
		t.Errorf("correlation = %q, want c1", row.OptimisticCorrelationID)
	}

	// The provisional stub was re-keyed, not duplicated.
	open, err := st.CountIssues(ctx, repo.ID, model.StateOpen)
	if err != nil {
		t.Fatal(err)
	}
	if open != 1 {
		t.Errorf("open issues = %d, want 1", open)
	}

	// The row is findable by correlation for webhook reconciliation.
	byCor, err := st.GetIssueByCorrelation(ctx, repo.ID, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if byCor.Number != 99 {
		t.Errorf("correlated row number = %d, want 99", byCor.Number)
	}
}

func TestCreateIssue_DuplicateCorrelation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	w := newFakeWriter()
	c, st, repo := setup(t, w)

	if _, err := c.CreateIssue(ctx, repo.ID, "c1", "First", ""); err != nil {
		t.Fatal(err)
	}

	_, err := c.CreateIssue(ctx, repo.ID, "c1", "Second", "")
	var dup *DuplicateOperationError
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateOperationError, got %v", err)
	}
	if w.calls["CreateIssue"] != 1 {
		t.Errorf("github called %d times, want 1 (duplicate must not re-issue)", w.calls["CreateIssue"])
	}

	row, err := st.GetIssueByCorrelation(ctx, repo.ID, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if row.Title != "First" {
		t.Errorf("correlated row title = %q, want the original operation's row", row.Title)
	}
}

func TestCreateIssue_RejectMarksFailed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	w := newFakeWriter()
	w.rejectWith = errors.New("validation failed")
	w.rejectCode = http.StatusUnprocessableEntity
	c, st, repo := setup(t, w)

	if _, err := c.CreateIssue(ctx, repo.ID, "c1", "New issue", ""); err == nil {
		t.Fatal("expected rejection error")
	}

	// The stub is not rolled back; it carries the failure for the client.
	row, err := st.GetIssueByCorrelation(ctx, repo.ID, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if row.OptimisticState != model.OptimisticFailed {
		t.Errorf("optimistic state = %q, want failed", row.OptimisticState)
	}
	if row.OptimisticErrorStatus != http.StatusUnprocessableEntity {
		t.Errorf("error status = %d, want 422", row.OptimisticErrorStatus)
	}
	if row.OptimisticErrorMessage == "" {
		t.Error("expected error message on the row")
	}
}

func TestCreateComment_RekeysStub(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	w := newFakeWriter()
	c, st, repo := setup(t, w)
	seedIssue(t, st, repo.ID, 7)

	row, err := c.CreateComment(ctx, repo.ID, "c1", 7, "LGTM")
	if err != nil {
		t.Fatal(err)
	}
	if row.GitHubCommentID != 7001 {
		t.Errorf("comment id = %d, want server-assigned 7001", row.GitHubCommentID)
	}
	if row.OptimisticState != model.OptimisticAccepted {
		t.Errorf("optimistic state = %q, want accepted", row.OptimisticState)
	}

	comments, err := st.ListIssueComments(ctx, repo.ID, 7)
	if err != nil {
		t.Fatal(err)
	}
	if len(comments) != 1 {
		t.Fatalf("comments = %d, want 1 (stub re-keyed)", len(comments))
	}
}

func TestUpdateIssueState(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	w := newFakeWriter()
	c, st, repo := setup(t, w)
	seedIssue(t, st, repo.ID, 7)

	row, err := c.UpdateIssueState(ctx, repo.ID, "c1", 7, model.StateClosed)
	if err != nil {
		t.Fatal(err)
	}
	if row.State != model.StateClosed || row.ClosedAt == 0 {
		t.Errorf("row = state %q closedAt %d, want closed with timestamp", row.State, row.ClosedAt)
	}
	if row.OptimisticState != model.OptimisticAccepted {
		t.Errorf("optimistic state = %q, want accepted", row.OptimisticState)
	}

	open, err := st.CountIssues(ctx, repo.ID, model.StateOpen)
	if err != nil {
		t.Fatal(err)
	}
	if open != 0 {
		t.Errorf("open issues = %d, want 0 after optimistic close", open)
	}
}

func TestMergePullRequest(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	w := newFakeWriter()
	c, st, repo := setup(t, w)
	seedPullRequest(t, st, repo.ID, 101)

	row, err := c.MergePullRequest(ctx, repo.ID, "c1", 101, "squash")
	if err != nil {
		t.Fatal(err)
	}
	if row.State != model.StateClosed || !row.Merged || row.MergedAt == 0 {
		t.Errorf("row = %+v, want closed and merged", row)
	}
	if row.OptimisticState != model.OptimisticAccepted {
		t.Errorf("optimistic state = %q, want accepted", row.OptimisticState)
	}
}

func TestMergePullRequest_NotMergeable(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	w := newFakeWriter()
	w.mergedResult = false
	w.mergeMessage = "Pull Request is not mergeable"
	c, st, repo := setup(t, w)
	seedPullRequest(t, st, repo.ID, 101)

	if _, err := c.MergePullRequest(ctx, repo.ID, "c1", 101, ""); err == nil {
		t.Fatal("expected error for unmerged result")
	}

	row, err := st.GetPullRequest(ctx, repo.ID, 101)
	if err != nil {
		t.Fatal(err)
	}
	if row.OptimisticState != model.OptimisticFailed {
		t.Errorf("optimistic state = %q, want failed", row.OptimisticState)
	}
	// Not rolled back: the client sees the rejected local state.
	if row.State != model.StateClosed {
		t.Errorf("state = %q, optimistic patch must not be rolled back", row.State)
	}
}

func TestMergePullRequest_DuplicateCorrelation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	w := newFakeWriter()
	c, st, repo := setup(t, w)
	seedPullRequest(t, st, repo.ID, 101)

	if _, err := c.MergePullRequest(ctx, repo.ID, "c1", 101, ""); err != nil {
		t.Fatal(err)
	}

	_, err := c.MergePullRequest(ctx, repo.ID, "c1", 101, "")
	var dup *DuplicateOperationError
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateOperationError, got %v", err)
	}
	if w.calls["MergePullRequest"] != 1 {
		t.Errorf("github called %d times, want 1", w.calls["MergePullRequest"])
	}
}

func TestUpdatePullRequestBranch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	w := newFakeWriter()
	c, st, repo := setup(t, w)
	seedPullRequest(t, st, repo.ID, 101)

	row, err := c.UpdatePullRequestBranch(ctx, repo.ID, "c1", 101, "head-2")
	if err != nil {
		t.Fatal(err)
	}
	if row.HeadSHA != "head-2" {
		t.Errorf("headSha = %q, want expected head recorded", row.HeadSHA)
	}
	if row.OptimisticState != model.OptimisticAccepted {
		t.Errorf("optimistic state = %q, want accepted", row.OptimisticState)
	}
}

func TestSubmitPrReview_RekeysStub(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	w := newFakeWriter()
	c, st, repo := setup(t, w)
	seedPullRequest(t, st, repo.ID, 101)

	row, err := c.SubmitPrReview(ctx, repo.ID, "c1", 101, "APPROVE", "ship it")
	if err != nil {
		t.Fatal(err)
	}
	if row.GitHubReviewID != 8001 {
		t.Errorf("review id = %d, want server-assigned 8001", row.GitHubReviewID)
	}
	if row.State != "approved" {
		t.Errorf("state = %q, want approved", row.State)
	}
	if row.OptimisticState != model.OptimisticAccepted {
		t.Errorf("optimistic state = %q, want accepted", row.OptimisticState)
	}

	reviews, err := st.ListReviews(ctx, repo.ID, 101)
	if err != nil {
		t.Fatal(err)
	}
	if len(reviews) != 1 {
		t.Fatalf("reviews = %d, want 1 (stub re-keyed)", len(reviews))
	}
}

func TestUpdateLabels(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	w := newFakeWriter()
	c, st, repo := setup(t, w)
	seedIssue(t, st, repo.ID, 7)

	row, err := c.UpdateLabels(ctx, repo.ID, "c1", 7, []string{"p1"}, []string{"bug"})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"p1"}, row.LabelNames); diff != "" {
		t.Errorf("labels (-want,+got):\n%s", diff)
	}
	if w.calls["AddLabels"] != 1 || w.calls["RemoveLabel"] != 1 {
		t.Errorf("calls = %v", w.calls)
	}
}

func TestUpdateAssignees(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	w := newFakeWriter()
	c, st, repo := setup(t, w)
	seedIssue(t, st, repo.ID, 7)

	if _, err := st.UpsertUser(ctx, &model.User{GitHubUserID: 42, Login: "octocat"}); err != nil {
		t.Fatal(err)
	}

	row, err := c.UpdateAssignees(ctx, repo.ID, "c1", 7, []string{"octocat", "ghost"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	// Only mirrored logins map to ids; the rest reconcile via webhook.
	if diff := cmp.Diff([]int64{42}, row.AssigneeUserIDs); diff != "" {
		t.Errorf("assignees (-want,+got):\n%s", diff)
	}
	if w.calls["AddAssignees"] != 1 {
		t.Errorf("calls = %v", w.calls)
	}
}

func TestMergeNames(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		current []string
		add     []string
		remove  []string
		exp     []string
	}{
		{
			name:    "add_and_remove",
			current: []string{"bug", "p2"},
			add:     []string{"p1"},
			remove:  []string{"p2"},
			exp:     []string{"bug", "p1"},
		},
		{
			name:    "add_existing_is_idempotent",
			current: []string{"bug"},
			add:     []string{"bug"},
			exp:     []string{"bug"},
		},
		{
			name:   "empty_current",
			add:    []string{"bug"},
			exp:    []string{"bug"},
			remove: nil,
		},
	}

	for _, tc := range cases {
		tc := tc

		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := mergeNames(tc.current, tc.add, tc.remove)
			if diff := cmp.Diff(tc.exp, got); diff != "" {
				t.Errorf("mergeNames (-want,+got):\n%s", diff)
			}
		})
	}
}
