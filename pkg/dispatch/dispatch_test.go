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
	"testing"

	"github.com/abcxyz/github-mirror/pkg/faults"
	"github.com/abcxyz/github-mirror/pkg/model"
	"github.com/abcxyz/github-mirror/pkg/projection"
	"github.com/abcxyz/github-mirror/pkg/store/memstore"
)

const (
	ghRepoID  = 1234
	ghInstID  = 99
	repoJSON  = `"repository":{"id":1234,"name":"repo","full_name":"org/repo","private":false,"default_branch":"main","owner":{"id":1,"login":"org"}}`
	instJSON  = `"installation":{"id":99}`
	userJSON  = `"user":{"id":7,"login":"octo","type":"User"}`
	eventUser = "octo"
)

func newDispatcher(st *memstore.Store) *Dispatcher {
	return New(st, projection.NewBuilder(st))
}

func issuesPayload(action string, number int, state string, updatedAt string) string {
	return fmt.Sprintf(`{
		"action":%q,
		"issue":{"id":500,"number":%d,"title":"found a bug","body":"details","state":%q,%s,
			"created_at":"2026-01-02T10:00:00Z","updated_at":%q,
			"labels":[{"name":"bug"}]},
		%s,%s
	}`, action, number, state, userJSON, updatedAt, repoJSON, instJSON)
}

func rawEvent(eventName, action, payload string) *model.RawEvent {
	return &model.RawEvent{
		DeliveryID:     "delivery-1",
		EventName:      eventName,
		Action:         action,
		InstallationID: ghInstID,
		SignatureValid: true,
		PayloadJSON:    payload,
		ProcessState:   model.ProcessPending,
	}
}

func TestDispatch_IssueUpsert(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := memstore.New()
	d := newDispatcher(st)

	ev := rawEvent("issues", "opened", issuesPayload("opened", 42, "open", "2026-01-02T10:00:00Z"))
	if err := d.Dispatch(ctx, ev); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	repo, err := st.GetRepositoryByGitHubID(ctx, ghRepoID)
	if err != nil {
		t.Fatalf("expected auto-discovered repository: %v", err)
	}

	issue, err := st.GetIssue(ctx, repo.ID, 42)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := issue.Title, "found a bug"; got != want {
		t.Errorf("Title = %q, want %q", got, want)
	}
	if got, want := issue.State, model.StateOpen; got != want {
		t.Errorf("State = %q, want %q", got, want)
	}
	if got, want := issue.AuthorLogin, eventUser; got != want {
		t.Errorf("AuthorLogin = %q, want %q", got, want)
	}
	if got, want := issue.LabelNames, []string{"bug"}; len(got) != 1 || got[0] != want[0] {
		t.Errorf("LabelNames = %v, want %v", got, want)
	}

	// The author was mirrored.
	if _, err := st.GetUserByGitHubID(ctx, 7); err != nil {
		t.Errorf("expected mirrored author: %v", err)
	}

	// The overview and feed were refreshed.
	ov, err := st.GetRepoOverview(ctx, repo.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := ov.OpenIssueCount, 1; got != want {
		t.Errorf("OpenIssueCount = %d, want %d", got, want)
	}
	feed, err := st.ListActivity(ctx, repo.ID, "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(feed.Page) != 1 || feed.Page[0].ActivityType != "issue.opened" {
		t.Errorf("expected one issue.opened feed row, got %+v", feed.Page)
	}
}

func TestDispatch_OutOfOrderEventSkipped(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := memstore.New()
	d := newDispatcher(st)

	// A close arrives first (newer), then the stale edit straggles in.
	closed := rawEvent("issues", "closed", issuesPayload("closed", 42, "closed", "2026-01-02T12:00:00Z"))
	if err := d.Dispatch(ctx, closed); err != nil {
		t.Fatal(err)
	}
	stale := rawEvent("issues", "edited", issuesPayload("edited", 42, "open", "2026-01-02T11:00:00Z"))
	if err := d.Dispatch(ctx, stale); err != nil {
		t.Fatal(err)
	}

	repo, err := st.GetRepositoryByGitHubID(ctx, ghRepoID)
	if err != nil {
		t.Fatal(err)
	}
	issue, err := st.GetIssue(ctx, repo.ID, 42)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := issue.State, model.StateClosed; got != want {
		t.Errorf("expected stale event skipped, state = %q, want %q", got, want)
	}
}

func TestDispatch_DuplicateDeliveryConverges(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := memstore.New()
	d := newDispatcher(st)

	ev := rawEvent("issues", "opened", issuesPayload("opened", 42, "open", "2026-01-02T10:00:00Z"))
	for i := 0; i < 2; i++ {
		if err := d.Dispatch(ctx, ev); err != nil {
			t.Fatal(err)
		}
	}

	repo, err := st.GetRepositoryByGitHubID(ctx, ghRepoID)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := mustCountIssues(ctx, t, st, repo.ID), 1; got != want {
		t.Errorf("expected %d issue after redelivery, got %d", want, got)
	}
	ov, err := st.GetRepoOverview(ctx, repo.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := ov.OpenIssueCount, 1; got != want {
		t.Errorf("OpenIssueCount = %d, want %d", got, want)
	}
}

func mustCountIssues(ctx context.Context, t *testing.T, st *memstore.Store, repoID string) int {
	t.Helper()
	n, err := st.CountIssues(ctx, repoID, model.StateOpen)
	if err != nil {
		t.Fatal(err)
	}
	return n
}

func TestDispatch_AutoDiscoveryEnqueuesReconcile(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := memstore.New()
	d := newDispatcher(st)

	ev := rawEvent("issues", "opened", issuesPayload("opened", 42, "open", "2026-01-02T10:00:00Z"))
	if err := d.Dispatch(ctx, ev); err != nil {
		t.Fatal(err)
	}

	repo, err := st.GetRepositoryByGitHubID(ctx, ghRepoID)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := repo.FullName, "org/repo"; got != want {
		t.Errorf("stub FullName = %q, want %q", got, want)
	}

	lockKey := fmt.Sprintf("repo-reconcile:%d:%s", ghInstID, repo.ID)
	job, err := st.GetSyncJobByLockKey(ctx, lockKey)
	if err != nil {
		t.Fatalf("expected pending reconcile job: %v", err)
	}
	if got, want := job.State, model.SyncJobPending; got != want {
		t.Errorf("job state = %q, want %q", got, want)
	}
	if got, want := job.TriggerReason, "auto-discovery"; got != want {
		t.Errorf("trigger reason = %q, want %q", got, want)
	}

	// A second event for the same repo does not enqueue a second job.
	if err := d.Dispatch(ctx, ev); err != nil {
		t.Fatal(err)
	}
	jobs, err := st.ListPendingSyncJobs(ctx, ghInstID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := len(jobs), 1; got != want {
		t.Errorf("expected %d pending job, got %d", want, got)
	}
}

func TestDispatch_ConfirmsOptimisticWrite(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := memstore.New()
	d := newDispatcher(st)

	// Seed the repository and an accepted optimistic issue at its
	// server-assigned number.
	repo, err := st.UpsertRepository(ctx, &model.Repository{
		GitHubRepoID:   ghRepoID,
		InstallationID: ghInstID,
		FullName:       "org/repo",
		Name:           "repo",
		OwnerLogin:     "org",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := st.MutateIssue(ctx, repo.ID, 42, func(existing *model.Issue) (*model.Issue, error) {
		is := &model.Issue{
			RepositoryID: repo.ID,
			Number:       42,
			Title:        "found a bug",
			State:        model.StateOpen,
		}
		is.OptimisticCorrelationID = "cor-1"
		is.OptimisticOperationType = "createIssue"
		is.OptimisticState = model.OptimisticAccepted
		return is, nil
	}); err != nil {
		t.Fatal(err)
	}

	ev := rawEvent("issues", "opened", issuesPayload("opened", 42, "open", "2026-01-02T10:00:00Z"))
	if err := d.Dispatch(ctx, ev); err != nil {
		t.Fatal(err)
	}

	issue, err := st.GetIssue(ctx, repo.ID, 42)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := issue.OptimisticState, model.OptimisticConfirmed; got != want {
		t.Errorf("OptimisticState = %q, want %q", got, want)
	}
	if got, want := issue.OptimisticCorrelationID, "cor-1"; got != want {
		t.Errorf("correlation id lost on confirm: %q", got)
	}

	// A failed write is never reopened by a later webhook.
	if _, err := st.MutateIssue(ctx, repo.ID, 42, func(existing *model.Issue) (*model.Issue, error) {
		existing.OptimisticState = model.OptimisticFailed
		return existing, nil
	}); err != nil {
		t.Fatal(err)
	}
	later := rawEvent("issues", "edited", issuesPayload("edited", 42, "open", "2026-01-02T13:00:00Z"))
	if err := d.Dispatch(ctx, later); err != nil {
		t.Fatal(err)
	}
	issue, err = st.GetIssue(ctx, repo.ID, 42)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := issue.OptimisticState, model.OptimisticFailed; got != want {
		t.Errorf("OptimisticState = %q, want %q", got, want)
	}
}

func TestDispatch_MalformedPayload(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	d := newDispatcher(memstore.New())

	ev := rawEvent("issues", "", `{"action":`)
	err := d.Dispatch(ctx, ev)
	if err == nil {
		t.Fatal("expected error for malformed payload")
	}
	if got, want := faults.KindOf(err), faults.KindMalformedPayload; got != want {
		t.Errorf("fault kind = %v, want %v", got, want)
	}
	if faults.Retryable(err) {
		t.Errorf("malformed payload must not be retryable")
	}
}

func TestDispatch_UnknownEventProcessed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	d := newDispatcher(memstore.New())

	ev := rawEvent("watch", "started", fmt.Sprintf(`{"action":"started",%s}`, repoJSON))
	if err := d.Dispatch(ctx, ev); err != nil {
		t.Errorf("expected unknown event to be dropped cleanly: %v", err)
	}
}

func TestDispatch_PushUpdatesBranchAndFeed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := memstore.New()
	d := newDispatcher(st)

	payload := fmt.Sprintf(`{
		"ref":"refs/heads/main",
		"after":"abc123",
		"commits":[
			{"id":"abc122","message":"first\n\ndetails","timestamp":"2026-01-02T10:00:00Z","author":{"name":"Octo","username":"octo"}},
			{"id":"abc123","message":"second","timestamp":"2026-01-02T10:05:00Z","author":{"name":"Octo","username":"octo"}}
		],
		"sender":{"id":7,"login":"octo"},
		%s,%s
	}`, repoJSON, instJSON)

	if err := d.Dispatch(ctx, rawEvent("push", "", payload)); err != nil {
		t.Fatal(err)
	}

	repo, err := st.GetRepositoryByGitHubID(ctx, ghRepoID)
	if err != nil {
		t.Fatal(err)
	}
	branch, err := st.GetBranch(ctx, repo.ID, "main")
	if err != nil {
		t.Fatal(err)
	}
	if got, want := branch.HeadSHA, "abc123"; got != want {
		t.Errorf("HeadSHA = %q, want %q", got, want)
	}

	commits, err := st.ListCommits(ctx, repo.ID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := len(commits), 2; got != want {
		t.Fatalf("expected %d commits, got %d", want, got)
	}
	if got, want := commits[0].MessageHeadline, "second"; got != want {
		t.Errorf("newest commit headline = %q, want %q", got, want)
	}

	ov, err := st.GetRepoOverview(ctx, repo.ID)
	if err != nil {
		t.Fatal(err)
	}
	if ov.LastPushAt == 0 {
		t.Errorf("expected LastPushAt set")
	}

	feed, err := st.ListActivity(ctx, repo.ID, "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(feed.Page) != 1 {
		t.Fatalf("expected one feed row, got %d", len(feed.Page))
	}
	if got, want := feed.Page[0].Title, "Pushed 2 commits to main"; got != want {
		t.Errorf("feed title = %q, want %q", got, want)
	}
}

func TestDispatch_EveryHandlerRefreshesOverview(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		eventName string
		payload   string
	}{
		{
			name:      "workflow_run",
			eventName: "workflow_run",
			payload: fmt.Sprintf(`{
				"action":"completed",
				"workflow_run":{"id":9001,"name":"CI","head_sha":"abc123","head_branch":"main",
					"run_number":12,"event":"push","status":"completed","conclusion":"success",
					"updated_at":"2026-01-02T10:00:00Z"},
				%s,%s
			}`, repoJSON, instJSON),
		},
		{
			name:      "workflow_job",
			eventName: "workflow_job",
			payload: fmt.Sprintf(`{
				"action":"completed",
				"workflow_job":{"id":9101,"run_id":9001,"name":"build","status":"completed",
					"conclusion":"success","completed_at":"2026-01-02T10:10:00Z"},
				%s,%s
			}`, repoJSON, instJSON),
		},
		{
			name:      "branch_created",
			eventName: "create",
			payload:   fmt.Sprintf(`{"ref":"feature","ref_type":"branch",%s,%s}`, repoJSON, instJSON),
		},
		{
			name:      "branch_deleted",
			eventName: "delete",
			payload:   fmt.Sprintf(`{"ref":"feature","ref_type":"branch",%s,%s}`, repoJSON, instJSON),
		},
	}

	for _, tc := range cases {
		tc := tc

		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			st := memstore.New()
			d := newDispatcher(st)

			if err := d.Dispatch(ctx, rawEvent(tc.eventName, "", tc.payload)); err != nil {
				t.Fatalf("Dispatch: %v", err)
			}

			repo, err := st.GetRepositoryByGitHubID(ctx, ghRepoID)
			if err != nil {
				t.Fatal(err)
			}
			if _, err := st.GetRepoOverview(ctx, repo.ID); err != nil {
				t.Errorf("expected overview rebuilt after %s: %v", tc.eventName, err)
			}
		})
	}
}

func TestDispatch_CheckRunAggregates(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := memstore.New()
	d := newDispatcher(st)

	checkPayload := func(status, conclusion string) string {
		return fmt.Sprintf(`{
			"action":"completed",
			"check_run":{"id":900,"name":"ci","head_sha":"abc123","status":%q,"conclusion":%q,
				"started_at":"2026-01-02T10:00:00Z","completed_at":"2026-01-02T10:10:00Z"},
			%s,%s
		}`, status, conclusion, repoJSON, instJSON)
	}

	if err := d.Dispatch(ctx, rawEvent("check_run", "completed", checkPayload("completed", "failure"))); err != nil {
		t.Fatal(err)
	}

	repo, err := st.GetRepositoryByGitHubID(ctx, ghRepoID)
	if err != nil {
		t.Fatal(err)
	}
	ov, err := st.GetRepoOverview(ctx, repo.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := ov.FailingCheckCount, 1; got != want {
		t.Errorf("FailingCheckCount = %d, want %d", got, want)
	}
}
