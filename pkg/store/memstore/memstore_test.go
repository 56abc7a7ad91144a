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
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/abcxyz/github-mirror/pkg/model"
	"github.com/abcxyz/github-mirror/pkg/store"
)

func ptr[T any](v T) *T { return &v }

func TestInsertRawEvent_Dedup(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()

	ev := &model.RawEvent{
		DeliveryID:   "d-1",
		EventName:    "issues",
		ReceivedAt:   100,
		ProcessState: model.ProcessPending,
	}

	created, err := s.InsertRawEvent(ctx, ev)
	if err != nil {
		t.Fatal(err)
	}
	if !created {
		t.Errorf("expected first insert to create")
	}

	created, err = s.InsertRawEvent(ctx, ev)
	if err != nil {
		t.Fatal(err)
	}
	if created {
		t.Errorf("expected duplicate delivery id to be rejected")
	}

	got, err := s.GetRawEvent(ctx, "d-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.EventName != "issues" || got.ID == "" {
		t.Errorf("unexpected stored event: %+v", got)
	}
}

func TestTransitionRawEvent_ConditionalStates(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()

	if _, err := s.InsertRawEvent(ctx, &model.RawEvent{
		DeliveryID:   "d-1",
		ReceivedAt:   100,
		ProcessState: model.ProcessPending,
	}); err != nil {
		t.Fatal(err)
	}

	// A transition whose from-set does not match the current state is a
	// no-op that reports false.
	ok, err := s.TransitionRawEvent(ctx, "d-1",
		[]model.ProcessState{model.ProcessRetry},
		store.RawEventPatch{State: model.ProcessProcessed})
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Errorf("expected transition from wrong state to be refused")
	}

	ok, err = s.TransitionRawEvent(ctx, "d-1",
		[]model.ProcessState{model.ProcessPending, model.ProcessRetry},
		store.RawEventPatch{
			State:           model.ProcessRetry,
			ProcessError:    ptr("boom"),
			ProcessAttempts: ptr(1),
			NextRetryAt:     ptr(int64(500)),
		})
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatalf("expected transition to apply")
	}

	got, err := s.GetRawEvent(ctx, "d-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.ProcessState != model.ProcessRetry || got.ProcessError != "boom" || got.ProcessAttempts != 1 || got.NextRetryAt != 500 {
		t.Errorf("unexpected event after transition: %+v", got)
	}

	if _, err := s.TransitionRawEvent(ctx, "missing", []model.ProcessState{model.ProcessPending}, store.RawEventPatch{State: model.ProcessProcessed}); err == nil {
		t.Errorf("expected not-found error for unknown delivery")
	}
}

func TestListRawEventsDue_OrderAndBound(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()

	for i, due := range []int64{300, 100, 900} {
		if _, err := s.InsertRawEvent(ctx, &model.RawEvent{
			DeliveryID:   fmt.Sprintf("d-%d", i),
			ReceivedAt:   10,
			ProcessState: model.ProcessRetry,
			NextRetryAt:  due,
		}); err != nil {
			t.Fatal(err)
		}
	}

	due, err := s.ListRawEventsDue(ctx, model.ProcessRetry, 500, 10)
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, ev := range due {
		ids = append(ids, ev.DeliveryID)
	}
	if diff := cmp.Diff([]string{"d-1", "d-0"}, ids); diff != "" {
		t.Errorf("due events (-want, +got):\n%s", diff)
	}
}

func TestCountRawEvents_TracksTransitions(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()

	for i := 0; i < 3; i++ {
		if _, err := s.InsertRawEvent(ctx, &model.RawEvent{
			DeliveryID:   fmt.Sprintf("d-%d", i),
			ReceivedAt:   int64(i),
			ProcessState: model.ProcessPending,
		}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := s.TransitionRawEvent(ctx, "d-0",
		[]model.ProcessState{model.ProcessPending},
		store.RawEventPatch{State: model.ProcessProcessed}); err != nil {
		t.Fatal(err)
	}

	pending, err := s.CountRawEvents(ctx, model.ProcessPending)
	if err != nil {
		t.Fatal(err)
	}
	processed, err := s.CountRawEvents(ctx, model.ProcessProcessed)
	if err != nil {
		t.Fatal(err)
	}
	if pending != 2 || processed != 1 {
		t.Errorf("counts pending=%d processed=%d, want 2 and 1", pending, processed)
	}
}

func TestCreateSyncJob_LockKey(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()

	first, created, err := s.CreateSyncJob(ctx, &model.SyncJob{
		JobType:        model.SyncJobBackfill,
		LockKey:        "repo-bootstrap:1:r1",
		InstallationID: 1,
		State:          model.SyncJobPending,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !created || first.ID == "" {
		t.Fatalf("expected first create to win, got created=%t job=%+v", created, first)
	}

	// While the first job is live, the same lock key returns the winner.
	second, created, err := s.CreateSyncJob(ctx, &model.SyncJob{
		JobType:        model.SyncJobBackfill,
		LockKey:        "repo-bootstrap:1:r1",
		InstallationID: 1,
		State:          model.SyncJobPending,
	})
	if err != nil {
		t.Fatal(err)
	}
	if created || second.ID != first.ID {
		t.Errorf("expected dedup to return the live job, got created=%t id=%s", created, second.ID)
	}

	if _, err := s.TransitionSyncJob(ctx, first.ID,
		[]model.SyncJobState{model.SyncJobPending},
		store.SyncJobPatch{State: model.SyncJobDone}); err != nil {
		t.Fatal(err)
	}

	// A settled job releases the lock key.
	third, created, err := s.CreateSyncJob(ctx, &model.SyncJob{
		JobType:        model.SyncJobBackfill,
		LockKey:        "repo-bootstrap:1:r1",
		InstallationID: 1,
		State:          model.SyncJobPending,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !created || third.ID == first.ID {
		t.Errorf("expected a fresh job after the previous one settled, got created=%t id=%s", created, third.ID)
	}
}

func TestClaimSyncJob_InstallationCap(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()

	var ids []string
	for i := 0; i < 3; i++ {
		j, _, err := s.CreateSyncJob(ctx, &model.SyncJob{
			LockKey:        fmt.Sprintf("k-%d", i),
			InstallationID: 7,
			State:          model.SyncJobPending,
		})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, j.ID)
	}

	for i := 0; i < 2; i++ {
		claimed, err := s.ClaimSyncJob(ctx, ids[i], 2, 100)
		if err != nil {
			t.Fatal(err)
		}
		if !claimed {
			t.Fatalf("expected claim %d to succeed under the cap", i)
		}
	}

	claimed, err := s.ClaimSyncJob(ctx, ids[2], 2, 100)
	if err != nil {
		t.Fatal(err)
	}
	if claimed {
		t.Errorf("expected claim over the cap to be refused")
	}

	// Claiming an already-running job is refused without error.
	claimed, err = s.ClaimSyncJob(ctx, ids[0], 10, 100)
	if err != nil {
		t.Fatal(err)
	}
	if claimed {
		t.Errorf("expected claim of a running job to be refused")
	}

	running, err := s.CountRunningSyncJobs(ctx, 7)
	if err != nil {
		t.Fatal(err)
	}
	if running != 2 {
		t.Errorf("running count = %d, want 2", running)
	}
}

func TestListPendingSyncJobs_Order(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()

	jobs := []*model.SyncJob{
		{LockKey: "a", InstallationID: 1, State: model.SyncJobPending, PrioritySortKey: 2, CreatedAt: 10},
		{LockKey: "b", InstallationID: 1, State: model.SyncJobPending, PrioritySortKey: 1, CreatedAt: 30},
		{LockKey: "c", InstallationID: 1, State: model.SyncJobPending, PrioritySortKey: 1, CreatedAt: 20},
		{LockKey: "d", InstallationID: 2, State: model.SyncJobPending, PrioritySortKey: 0, CreatedAt: 5},
	}
	for _, j := range jobs {
		if _, _, err := s.CreateSyncJob(ctx, j); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.ListPendingSyncJobs(ctx, 1, 10)
	if err != nil {
		t.Fatal(err)
	}
	var keys []string
	for _, j := range got {
		keys = append(keys, j.LockKey)
	}
	if diff := cmp.Diff([]string{"c", "b", "a"}, keys); diff != "" {
		t.Errorf("pending order (-want, +got):\n%s", diff)
	}
}

func TestUpsertRepository_FullNameIndex(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()

	repo, err := s.UpsertRepository(ctx, &model.Repository{
		GitHubRepoID:      777,
		FullName:          "octo/hello",
		ConnectedByUserID: "u-1",
	})
	if err != nil {
		t.Fatal(err)
	}

	// A rename keeps the row identity and moves the full-name index.
	renamed, err := s.UpsertRepository(ctx, &model.Repository{
		GitHubRepoID: 777,
		FullName:     "octo/renamed",
	})
	if err != nil {
		t.Fatal(err)
	}
	if renamed.ID != repo.ID {
		t.Errorf("rename changed the row id: %s -> %s", repo.ID, renamed.ID)
	}
	if renamed.ConnectedByUserID != "u-1" {
		t.Errorf("rename dropped the connecting user: %+v", renamed)
	}

	if _, err := s.GetRepositoryByFullName(ctx, "octo/hello"); err == nil {
		t.Errorf("expected old full name to be unindexed")
	}
	got, err := s.GetRepositoryByFullName(ctx, "octo/renamed")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != repo.ID {
		t.Errorf("full-name lookup returned %s, want %s", got.ID, repo.ID)
	}
}

func TestMutateRepository_NilSkipsWrite(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()

	repo, err := s.UpsertRepository(ctx, &model.Repository{
		GitHubRepoID:    777,
		FullName:        "octo/hello",
		StargazersCount: 5,
	})
	if err != nil {
		t.Fatal(err)
	}

	got, err := s.MutateRepository(ctx, repo.ID, func(existing *model.Repository) (*model.Repository, error) {
		return nil, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if got.StargazersCount != 5 {
		t.Errorf("nil mutation changed the row: %+v", got)
	}
}

func TestIssueCorrelationIndex(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()

	// A provisional stub carries the correlation id.
	if _, err := s.MutateIssue(ctx, "r1", -1, func(existing *model.Issue) (*model.Issue, error) {
		return &model.Issue{
			Title: "stub",
			State: model.StateOpen,
			Optimistic: model.Optimistic{
				OptimisticCorrelationID: "c-1",
			},
		}, nil
	}); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetIssueByCorrelation(ctx, "r1", "c-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Number != -1 {
		t.Errorf("correlation resolved to #%d, want -1", got.Number)
	}

	// Re-keying deletes the stub and writes the server number; the index
	// follows the surviving row.
	if _, err := s.DeleteIssue(ctx, "r1", -1); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetIssueByCorrelation(ctx, "r1", "c-1"); err == nil {
		t.Fatalf("expected delete to clear the correlation index")
	}
	if _, err := s.MutateIssue(ctx, "r1", 42, func(existing *model.Issue) (*model.Issue, error) {
		return &model.Issue{
			Title: "stub",
			State: model.StateOpen,
			Optimistic: model.Optimistic{
				OptimisticCorrelationID: "c-1",
			},
		}, nil
	}); err != nil {
		t.Fatal(err)
	}

	got, err = s.GetIssueByCorrelation(ctx, "r1", "c-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Number != 42 {
		t.Errorf("correlation resolved to #%d, want 42", got.Number)
	}
}

func TestListIssues_CursorPagination(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()

	for n := 1; n <= 7; n++ {
		n := n
		if _, err := s.MutateIssue(ctx, "r1", n, func(existing *model.Issue) (*model.Issue, error) {
			return &model.Issue{Title: fmt.Sprintf("issue %d", n), State: model.StateOpen}, nil
		}); err != nil {
			t.Fatal(err)
		}
	}
	// Another repository's rows must never leak into the page.
	if _, err := s.MutateIssue(ctx, "r2", 1, func(existing *model.Issue) (*model.Issue, error) {
		return &model.Issue{Title: "other", State: model.StateOpen}, nil
	}); err != nil {
		t.Fatal(err)
	}

	var numbers []int
	cursor := ""
	for {
		page, err := s.ListIssues(ctx, "r1", model.StateOpen, cursor, 3)
		if err != nil {
			t.Fatal(err)
		}
		for _, is := range page.Page {
			numbers = append(numbers, is.Number)
		}
		if page.IsDone {
			break
		}
		cursor = page.ContinueCursor
	}

	if diff := cmp.Diff([]int{1, 2, 3, 4, 5, 6, 7}, numbers); diff != "" {
		t.Errorf("paginated issues (-want, +got):\n%s", diff)
	}
}

func TestListIssues_StateFilter(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()

	for n := 1; n <= 4; n++ {
		state := model.StateOpen
		if n%2 == 0 {
			state = model.StateClosed
		}
		if _, err := s.MutateIssue(ctx, "r1", n, func(existing *model.Issue) (*model.Issue, error) {
			return &model.Issue{State: state}, nil
		}); err != nil {
			t.Fatal(err)
		}
	}

	page, err := s.ListIssues(ctx, "r1", model.StateClosed, "", 10)
	if err != nil {
		t.Fatal(err)
	}
	var numbers []int
	for _, is := range page.Page {
		numbers = append(numbers, is.Number)
	}
	if diff := cmp.Diff([]int{2, 4}, numbers); diff != "" {
		t.Errorf("closed issues (-want, +got):\n%s", diff)
	}
	if !page.IsDone {
		t.Errorf("expected a single page")
	}
}

func TestCountIssues_FollowsStateChanges(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()

	if _, err := s.MutateIssue(ctx, "r1", 1, func(existing *model.Issue) (*model.Issue, error) {
		return &model.Issue{State: model.StateOpen}, nil
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.MutateIssue(ctx, "r1", 1, func(existing *model.Issue) (*model.Issue, error) {
		next := *existing
		next.State = model.StateClosed
		return &next, nil
	}); err != nil {
		t.Fatal(err)
	}

	open, err := s.CountIssues(ctx, "r1", model.StateOpen)
	if err != nil {
		t.Fatal(err)
	}
	closed, err := s.CountIssues(ctx, "r1", model.StateClosed)
	if err != nil {
		t.Fatal(err)
	}
	if open != 0 || closed != 1 {
		t.Errorf("counts open=%d closed=%d, want 0 and 1", open, closed)
	}
}

func TestListActivity_NewestFirstPagination(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()

	for i := 1; i <= 5; i++ {
		if err := s.AppendActivity(ctx, &model.ActivityEntry{
			RepositoryID: "r1",
			ActivityType: "issue_opened",
			EntityNumber: i,
			CreatedAt:    int64(i * 100),
		}); err != nil {
			t.Fatal(err)
		}
	}

	var numbers []int
	cursor := ""
	for {
		page, err := s.ListActivity(ctx, "r1", cursor, 2)
		if err != nil {
			t.Fatal(err)
		}
		for _, e := range page.Page {
			numbers = append(numbers, e.EntityNumber)
		}
		if page.IsDone {
			break
		}
		cursor = page.ContinueCursor
	}

	if diff := cmp.Diff([]int{5, 4, 3, 2, 1}, numbers); diff != "" {
		t.Errorf("activity order (-want, +got):\n%s", diff)
	}
}

func TestPutPullRequestFiles_HeadSHAGate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()

	files := []*model.PullRequestFile{{Filename: "main.go", Status: "modified"}}
	replaced, err := s.PutPullRequestFiles(ctx, "r1", 101, "head-1", files)
	if err != nil {
		t.Fatal(err)
	}
	if !replaced {
		t.Errorf("expected first write to replace")
	}

	// Same head is a no-op.
	replaced, err = s.PutPullRequestFiles(ctx, "r1", 101, "head-1", nil)
	if err != nil {
		t.Fatal(err)
	}
	if replaced {
		t.Errorf("expected identical head to be a no-op")
	}
	got, err := s.ListPullRequestFiles(ctx, "r1", 101)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Filename != "main.go" {
		t.Errorf("file set changed on no-op write: %+v", got)
	}

	// A new head replaces the set wholesale.
	replaced, err = s.PutPullRequestFiles(ctx, "r1", 101, "head-2", []*model.PullRequestFile{
		{Filename: "other.go", Status: "added"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !replaced {
		t.Errorf("expected new head to replace")
	}
	got, err = s.ListPullRequestFiles(ctx, "r1", 101)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Filename != "other.go" || got[0].HeadSHA != "head-2" {
		t.Errorf("unexpected file set after replace: %+v", got)
	}
}

func TestCountFailingChecks(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()

	write := func(id int64, conclusion string) {
		t.Helper()
		if _, err := s.MutateCheckRun(ctx, "r1", id, func(existing *model.CheckRun) (*model.CheckRun, error) {
			return &model.CheckRun{Name: "ci", Status: "completed", Conclusion: conclusion}, nil
		}); err != nil {
			t.Fatal(err)
		}
	}

	write(1, "failure")
	write(2, "success")
	write(3, "failure")

	n, err := s.CountFailingChecks(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("failing checks = %d, want 2", n)
	}

	// A rerun that turns green releases its bucket.
	write(1, "success")
	n, err = s.CountFailingChecks(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("failing checks after rerun = %d, want 1", n)
	}
}

func TestWorkflowJournal(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()

	if _, ok, err := s.GetWorkflowStepResult(ctx, "wf-1", "step-a"); err != nil || ok {
		t.Fatalf("expected missing step, got ok=%t err=%v", ok, err)
	}

	if err := s.PutWorkflowStepResult(ctx, "wf-1", "step-a", "42"); err != nil {
		t.Fatal(err)
	}
	res, ok, err := s.GetWorkflowStepResult(ctx, "wf-1", "step-a")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || res != "42" {
		t.Errorf("journal returned ok=%t res=%q, want 42", ok, res)
	}

	// Journals are scoped per workflow id.
	if _, ok, err := s.GetWorkflowStepResult(ctx, "wf-2", "step-a"); err != nil || ok {
		t.Errorf("expected step to be invisible to another workflow, got ok=%t err=%v", ok, err)
	}
}

func TestCountIssueComments(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()

	put := func(commentID int64) {
		_, err := s.MutateIssueComment(ctx, "r1", 7, commentID, func(existing *model.IssueComment) (*model.IssueComment, error) {
			return &model.IssueComment{Body: "hi"}, nil
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	put(1)
	put(2)
	// An edit to an existing comment never double-counts.
	put(1)

	n, err := s.CountIssueComments(ctx, "r1", 7)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("comments on issue 7 = %d, want 2", n)
	}
	other, err := s.CountIssueComments(ctx, "r1", 8)
	if err != nil {
		t.Fatal(err)
	}
	if other != 0 {
		t.Errorf("comments on issue 8 = %d, want 0", other)
	}

	if _, err := s.DeleteIssueComment(ctx, "r1", 7, 2); err != nil {
		t.Fatal(err)
	}
	n, err = s.CountIssueComments(ctx, "r1", 7)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("comments after delete = %d, want 1", n)
	}
}

func TestCountReviews(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()

	for _, reviewID := range []int64{11, 12, 13} {
		_, err := s.MutateReview(ctx, "r1", 3, reviewID, func(existing *model.PullRequestReview) (*model.PullRequestReview, error) {
			return &model.PullRequestReview{State: "approved"}, nil
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	n, err := s.CountReviews(ctx, "r1", 3)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("reviews on pr 3 = %d, want 3", n)
	}

	if _, err := s.DeleteReview(ctx, "r1", 3, 12); err != nil {
		t.Fatal(err)
	}
	n, err = s.CountReviews(ctx, "r1", 3)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("reviews after delete = %d, want 2", n)
	}
}

func TestCountWorkflowJobs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()

	put := func(jobID, runID int64) {
		_, err := s.MutateWorkflowJob(ctx, "r1", jobID, func(existing *model.WorkflowJob) (*model.WorkflowJob, error) {
			return &model.WorkflowJob{GitHubRunID: runID, Status: "completed"}, nil
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	put(101, 9001)
	put(102, 9001)
	put(103, 9002)
	// Rewriting a job keeps it counted once under its run.
	put(101, 9001)

	n, err := s.CountWorkflowJobs(ctx, "r1", 9001)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("jobs for run 9001 = %d, want 2", n)
	}
	n, err = s.CountWorkflowJobs(ctx, "r1", 9002)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("jobs for run 9002 = %d, want 1", n)
	}
}
