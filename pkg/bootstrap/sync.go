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

package bootstrap

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/abcxyz/pkg/logging"
	"github.com/abcxyz/pkg/workerpool"
	"github.com/google/go-github/v56/github"

	"github.com/abcxyz/github-mirror/pkg/model"
	"github.com/abcxyz/github-mirror/pkg/store"
	"github.com/abcxyz/github-mirror/pkg/workflow"
)

// checkRunChunkSize is how many head SHAs one journaled check-run step
// covers. Chunking keeps step results small and bounds re-fetch on resume.
const checkRunChunkSize = 100

// recentCommitChecks is how many recent default-branch commits get their
// check runs mirrored in addition to open PR heads.
const recentCommitChecks = 50

// syncBody builds the workflow body for one sync job. Every GitHub fetch
// runs inside a journaled step so a resumed workflow skips completed pages
// instead of re-listing the repository from scratch.
func (m *Manager) syncBody(job *model.SyncJob, repo *model.Repository, client RepoAPI) workflow.Fn {
	s := &repoSync{
		manager: m,
		job:     job,
		repo:    repo,
		client:  client,
	}
	return s.run
}

// repoSync carries one job's state through its workflow steps.
type repoSync struct {
	manager *Manager
	job     *model.SyncJob
	repo    *model.Repository
	client  RepoAPI

	items     int
	completed []string
}

func (s *repoSync) run(ctx context.Context, run workflow.Run) error {
	if err := s.fetchMetadata(ctx, run); err != nil {
		return err
	}
	if err := s.syncBranches(ctx, run); err != nil {
		return err
	}
	if err := s.syncPulls(ctx, run); err != nil {
		return err
	}
	if err := s.syncIssues(ctx, run); err != nil {
		return err
	}
	if err := s.syncCommits(ctx, run); err != nil {
		return err
	}
	if err := s.syncChecks(ctx, run); err != nil {
		return err
	}
	if err := s.syncWorkflowRuns(ctx, run); err != nil {
		return err
	}
	if err := s.syncPullRequestFiles(ctx, run); err != nil {
		return err
	}

	// The rebuild is idempotent, so it runs on every attempt rather than
	// being journaled.
	if err := s.manager.projector.Rebuild(ctx, s.repo.ID); err != nil {
		return fmt.Errorf("failed to rebuild projection: %w", err)
	}
	return nil
}

// progress records the finished step on the job row. Progress is advisory;
// a failed write never fails the sync.
func (s *repoSync) progress(ctx context.Context, step string, fetched int) {
	s.items += fetched
	s.completed = append(s.completed, step)
	items := s.items
	if _, err := s.manager.store.TransitionSyncJob(ctx, s.job.ID, []model.SyncJobState{model.SyncJobRunning}, store.SyncJobPatch{
		State:          model.SyncJobRunning,
		CurrentStep:    &step,
		CompletedSteps: s.completed,
		ItemsFetched:   &items,
	}); err != nil {
		logging.FromContext(ctx).WarnContext(ctx, "failed to record sync progress",
			"job_id", s.job.ID,
			"step", step,
			"error", err)
	}
}

// deadLetterItem records one failed backfill item and lets the sync
// continue. Item failures never fail the step.
func (s *repoSync) deadLetterItem(ctx context.Context, kind, item string, cause error) {
	dl := &model.DeadLetter{
		DeliveryID: fmt.Sprintf("bootstrap-%s:%s:%s", kind, s.repo.ID, item),
		Reason:     cause.Error(),
		CreatedAt:  timeNow().UnixMilli(),
		Source:     model.DeadLetterBootstrap,
	}
	if err := s.manager.store.InsertDeadLetter(ctx, dl); err != nil {
		logging.FromContext(ctx).ErrorContext(ctx, "failed to record bootstrap dead letter",
			"job_id", s.job.ID,
			"kind", kind,
			"item", item,
			"error", err)
	}
}

func (s *repoSync) fetchMetadata(ctx context.Context, run workflow.Run) error {
	const step = "fetch-metadata"
	_, err := run.Step(ctx, step, func(ctx context.Context) (string, error) {
		ghRepo, err := s.client.GetRepo(ctx, s.repo.OwnerLogin, s.repo.Name)
		if err != nil {
			return "", fmt.Errorf("failed to fetch repository metadata: %w", err)
		}
		updated, err := s.manager.store.MutateRepository(ctx, s.repo.ID, func(existing *model.Repository) (*model.Repository, error) {
			if existing == nil {
				return nil, store.ErrNotFound
			}
			next := *existing
			next.FullName = ghRepo.GetFullName()
			next.DefaultBranch = ghRepo.GetDefaultBranch()
			next.Private = ghRepo.GetPrivate()
			next.Visibility = model.Visibility(ghRepo.GetVisibility())
			next.StargazersCount = ghRepo.GetStargazersCount()
			next.CachedAt = timeNow().UnixMilli()
			if ts := millisValue(ghRepo.GetUpdatedAt()); ts > next.GitHubUpdatedAt {
				next.GitHubUpdatedAt = ts
			}
			return &next, nil
		})
		if err != nil {
			return "", fmt.Errorf("failed to update repository: %w", err)
		}
		s.repo = updated
		return updated.DefaultBranch, nil
	})
	if err != nil {
		return err
	}
	s.progress(ctx, step, 1)
	return nil
}

func (s *repoSync) syncBranches(ctx context.Context, run workflow.Run) error {
	const step = "sync-branches"
	result, err := run.Step(ctx, step, func(ctx context.Context) (string, error) {
		branches, err := s.client.ListBranches(ctx, s.repo.OwnerLogin, s.repo.Name)
		if err != nil {
			return "", fmt.Errorf("failed to list branches: %w", err)
		}
		for _, b := range branches {
			if _, err := s.manager.store.UpsertBranch(ctx, &model.Branch{
				RepositoryID: s.repo.ID,
				Name:         b.GetName(),
				HeadSHA:      b.GetCommit().GetSHA(),
				Protected:    b.GetProtected(),
			}); err != nil {
				s.deadLetterItem(ctx, "branch", b.GetName(), err)
			}
		}
		return strconv.Itoa(len(branches)), nil
	})
	if err != nil {
		return err
	}
	s.progress(ctx, step, atoi(result))
	return nil
}

func (s *repoSync) syncPulls(ctx context.Context, run workflow.Run) error {
	page := 1
	for i := 0; i < s.manager.cfg.PRPageLimit && page > 0; i++ {
		step := fmt.Sprintf("sync-pulls:page=%d", page)
		result, err := run.Step(ctx, step, func(ctx context.Context) (string, error) {
			prs, nextPage, err := s.client.ListPullRequestsPage(ctx, s.repo.OwnerLogin, s.repo.Name, page)
			if err != nil {
				return "", fmt.Errorf("failed to list pull requests page %d: %w", page, err)
			}
			for _, pr := range prs {
				if err := s.writePullRequest(ctx, pr); err != nil {
					s.deadLetterItem(ctx, "pull", strconv.Itoa(pr.GetNumber()), err)
				}
			}
			return fmt.Sprintf("%d,%d", len(prs), nextPage), nil
		})
		if err != nil {
			return err
		}
		count, nextPage := parsePageResult(result)
		s.progress(ctx, step, count)
		page = nextPage
	}
	return nil
}

func (s *repoSync) writePullRequest(ctx context.Context, pr *github.PullRequest) error {
	incoming := &model.PullRequest{
		RepositoryID:    s.repo.ID,
		Number:          pr.GetNumber(),
		GitHubPRID:      pr.GetID(),
		Title:           pr.GetTitle(),
		Body:            pr.GetBody(),
		State:           model.EntityState(pr.GetState()),
		Draft:           pr.GetDraft(),
		Merged:          pr.GetMerged(),
		HeadSHA:         pr.GetHead().GetSHA(),
		HeadRefName:     pr.GetHead().GetRef(),
		BaseRefName:     pr.GetBase().GetRef(),
		MergeableState:  pr.GetMergeableState(),
		AuthorUserID:    pr.GetUser().GetID(),
		AuthorLogin:     pr.GetUser().GetLogin(),
		LabelNames:      labelNames(pr.Labels),
		MergedAt:        millis(pr.MergedAt),
		ClosedAt:        millis(pr.ClosedAt),
		CreatedAt:       millis(pr.CreatedAt),
		GitHubUpdatedAt: millis(pr.UpdatedAt),
	}
	_, err := s.manager.store.MutatePullRequest(ctx, s.repo.ID, incoming.Number, func(existing *model.PullRequest) (*model.PullRequest, error) {
		if existing != nil {
			// A webhook already wrote something fresher; keep it.
			if incoming.GitHubUpdatedAt < existing.GitHubUpdatedAt {
				return nil, nil
			}
			incoming.Optimistic = existing.Optimistic
		}
		return incoming, nil
	})
	if err != nil {
		return fmt.Errorf("failed to write pull request %d: %w", incoming.Number, err)
	}
	return nil
}

func (s *repoSync) syncIssues(ctx context.Context, run workflow.Run) error {
	page := 1
	for i := 0; i < s.manager.cfg.IssuePageLimit && page > 0; i++ {
		step := fmt.Sprintf("sync-issues:page=%d", page)
		result, err := run.Step(ctx, step, func(ctx context.Context) (string, error) {
			issues, nextPage, err := s.client.ListIssuesPage(ctx, s.repo.OwnerLogin, s.repo.Name, page)
			if err != nil {
				return "", fmt.Errorf("failed to list issues page %d: %w", page, err)
			}
			for _, issue := range issues {
				if err := s.writeIssue(ctx, issue); err != nil {
					s.deadLetterItem(ctx, "issue", strconv.Itoa(issue.GetNumber()), err)
				}
			}
			return fmt.Sprintf("%d,%d", len(issues), nextPage), nil
		})
		if err != nil {
			return err
		}
		count, nextPage := parsePageResult(result)
		s.progress(ctx, step, count)
		page = nextPage
	}
	return nil
}

func (s *repoSync) writeIssue(ctx context.Context, issue *github.Issue) error {
	incoming := &model.Issue{
		RepositoryID:    s.repo.ID,
		Number:          issue.GetNumber(),
		GitHubIssueID:   issue.GetID(),
		Title:           issue.GetTitle(),
		Body:            issue.GetBody(),
		State:           model.EntityState(issue.GetState()),
		LabelNames:      labelNames(issue.Labels),
		AssigneeUserIDs: assigneeIDs(issue.Assignees),
		AuthorUserID:    issue.GetUser().GetID(),
		AuthorLogin:     issue.GetUser().GetLogin(),
		IsPullRequest:   issue.IsPullRequest(),
		CreatedAt:       millis(issue.CreatedAt),
		ClosedAt:        millis(issue.ClosedAt),
		GitHubUpdatedAt: millis(issue.UpdatedAt),
	}
	_, err := s.manager.store.MutateIssue(ctx, s.repo.ID, incoming.Number, func(existing *model.Issue) (*model.Issue, error) {
		if existing != nil {
			if incoming.GitHubUpdatedAt < existing.GitHubUpdatedAt {
				return nil, nil
			}
			incoming.Optimistic = existing.Optimistic
		}
		return incoming, nil
	})
	if err != nil {
		return fmt.Errorf("failed to write issue %d: %w", incoming.Number, err)
	}
	return nil
}

func (s *repoSync) syncCommits(ctx context.Context, run workflow.Run) error {
	const step = "sync-commits"
	result, err := run.Step(ctx, step, func(ctx context.Context) (string, error) {
		commits, err := s.client.ListCommits(ctx, s.repo.OwnerLogin, s.repo.Name, s.repo.DefaultBranch, s.manager.cfg.CommitLimit)
		if err != nil {
			return "", fmt.Errorf("failed to list commits: %w", err)
		}
		for _, c := range commits {
			if _, err := s.manager.store.UpsertCommit(ctx, &model.Commit{
				RepositoryID:    s.repo.ID,
				SHA:             c.GetSHA(),
				MessageHeadline: messageHeadline(c.GetCommit().GetMessage()),
				AuthorUserID:    c.GetAuthor().GetID(),
				AuthorLogin:     c.GetAuthor().GetLogin(),
				AuthoredAt:      millisValue(c.GetCommit().GetAuthor().GetDate()),
				CommittedAt:     millisValue(c.GetCommit().GetCommitter().GetDate()),
			}); err != nil {
				s.deadLetterItem(ctx, "commit", c.GetSHA(), err)
			}
		}
		return strconv.Itoa(len(commits)), nil
	})
	if err != nil {
		return err
	}
	s.progress(ctx, step, atoi(result))
	return nil
}

// syncChecks mirrors check runs for open PR heads and recent default-branch
// commits. SHAs fan out across a worker pool, in journaled chunks so a
// resumed job skips chunks already fetched.
func (s *repoSync) syncChecks(ctx context.Context, run workflow.Run) error {
	shas, err := s.checkSHAs(ctx)
	if err != nil {
		return err
	}

	for chunkIdx := 0; chunkIdx*checkRunChunkSize < len(shas); chunkIdx++ {
		start := chunkIdx * checkRunChunkSize
		end := start + checkRunChunkSize
		if end > len(shas) {
			end = len(shas)
		}
		chunk := shas[start:end]

		step := fmt.Sprintf("sync-checks:chunk=%d", chunkIdx)
		result, err := run.Step(ctx, step, func(ctx context.Context) (string, error) {
			return s.fetchCheckChunk(ctx, chunk)
		})
		if err != nil {
			return err
		}
		s.progress(ctx, step, atoi(result))
	}
	return nil
}

// checkSHAs collects the distinct head SHAs whose check runs are mirrored,
// sorted so chunk boundaries are stable across workflow attempts.
func (s *repoSync) checkSHAs(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})

	prs, err := s.manager.store.ListOpenPullRequests(ctx, s.repo.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list open pull requests: %w", err)
	}
	for _, pr := range prs {
		if pr.HeadSHA != "" {
			seen[pr.HeadSHA] = struct{}{}
		}
	}

	commits, err := s.manager.store.ListCommits(ctx, s.repo.ID, recentCommitChecks)
	if err != nil {
		return nil, fmt.Errorf("failed to list commits: %w", err)
	}
	for _, c := range commits {
		seen[c.SHA] = struct{}{}
	}

	shas := make([]string, 0, len(seen))
	for sha := range seen {
		shas = append(shas, sha)
	}
	sort.Strings(shas)
	return shas, nil
}

// shaChecks is one SHA's fetched check runs.
type shaChecks struct {
	sha    string
	checks []*github.CheckRun
}

func (s *repoSync) fetchCheckChunk(ctx context.Context, shas []string) (string, error) {
	pool := workerpool.New[*shaChecks](&workerpool.Config{
		Concurrency: int64(s.manager.cfg.CheckRunConcurrency),
		StopOnError: false,
	})

	for _, sha := range shas {
		sha := sha
		if err := pool.Do(ctx, func() (*shaChecks, error) {
			checks, err := s.client.ListCheckRunsForRef(ctx, s.repo.OwnerLogin, s.repo.Name, sha)
			if err != nil {
				s.deadLetterItem(ctx, "check", sha, err)
				return nil, nil
			}
			return &shaChecks{sha: sha, checks: checks}, nil
		}); err != nil {
			return "", fmt.Errorf("failed to submit check fetch to worker pool: %w", err)
		}
	}

	results, err := pool.Done(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to fetch check runs: %w", err)
	}

	fetched := 0
	for _, v := range results {
		// Failed SHAs were dead-lettered and come back nil.
		if v.Value == nil {
			continue
		}
		for _, cr := range v.Value.checks {
			if err := s.writeCheckRun(ctx, v.Value.sha, cr); err != nil {
				s.deadLetterItem(ctx, "check", fmt.Sprintf("%s:%d", v.Value.sha, cr.GetID()), err)
				continue
			}
			fetched++
		}
	}
	return strconv.Itoa(fetched), nil
}

func (s *repoSync) writeCheckRun(ctx context.Context, sha string, cr *github.CheckRun) error {
	incoming := &model.CheckRun{
		RepositoryID:     s.repo.ID,
		GitHubCheckRunID: cr.GetID(),
		Name:             cr.GetName(),
		HeadSHA:          sha,
		Status:           cr.GetStatus(),
		Conclusion:       cr.GetConclusion(),
		StartedAt:        millis(cr.StartedAt),
		CompletedAt:      millis(cr.CompletedAt),
	}
	incoming.GitHubUpdatedAt = incoming.CompletedAt
	if incoming.GitHubUpdatedAt == 0 {
		incoming.GitHubUpdatedAt = incoming.StartedAt
	}

	_, err := s.manager.store.MutateCheckRun(ctx, s.repo.ID, incoming.GitHubCheckRunID, func(existing *model.CheckRun) (*model.CheckRun, error) {
		if existing != nil && incoming.GitHubUpdatedAt < existing.GitHubUpdatedAt {
			return nil, nil
		}
		return incoming, nil
	})
	if err != nil {
		return fmt.Errorf("failed to write check run %d: %w", incoming.GitHubCheckRunID, err)
	}
	return nil
}

func (s *repoSync) syncWorkflowRuns(ctx context.Context, run workflow.Run) error {
	const step = "sync-workflow-runs"
	result, err := run.Step(ctx, step, func(ctx context.Context) (string, error) {
		runs, err := s.client.ListWorkflowRuns(ctx, s.repo.OwnerLogin, s.repo.Name, s.manager.cfg.WorkflowRunLimit)
		if err != nil {
			return "", fmt.Errorf("failed to list workflow runs: %w", err)
		}

		fetched := 0
		for _, wr := range runs {
			if err := s.writeWorkflowRun(ctx, wr); err != nil {
				s.deadLetterItem(ctx, "workflow-run", strconv.FormatInt(wr.GetID(), 10), err)
				continue
			}
			fetched++

			jobs, err := s.client.ListWorkflowJobs(ctx, s.repo.OwnerLogin, s.repo.Name, wr.GetID())
			if err != nil {
				s.deadLetterItem(ctx, "workflow-jobs", strconv.FormatInt(wr.GetID(), 10), err)
				continue
			}
			for _, wj := range jobs {
				if err := s.writeWorkflowJob(ctx, wr.GetID(), wj); err != nil {
					s.deadLetterItem(ctx, "workflow-job", strconv.FormatInt(wj.GetID(), 10), err)
					continue
				}
				fetched++
			}
		}
		return strconv.Itoa(fetched), nil
	})
	if err != nil {
		return err
	}
	s.progress(ctx, step, atoi(result))
	return nil
}

func (s *repoSync) writeWorkflowRun(ctx context.Context, wr *github.WorkflowRun) error {
	incoming := &model.WorkflowRun{
		RepositoryID:    s.repo.ID,
		GitHubRunID:     wr.GetID(),
		Name:            wr.GetName(),
		HeadSHA:         wr.GetHeadSHA(),
		HeadBranch:      wr.GetHeadBranch(),
		RunNumber:       wr.GetRunNumber(),
		Event:           wr.GetEvent(),
		Status:          wr.GetStatus(),
		Conclusion:      wr.GetConclusion(),
		GitHubUpdatedAt: millisValue(wr.GetUpdatedAt()),
	}
	_, err := s.manager.store.MutateWorkflowRun(ctx, s.repo.ID, incoming.GitHubRunID, func(existing *model.WorkflowRun) (*model.WorkflowRun, error) {
		if existing != nil && incoming.GitHubUpdatedAt < existing.GitHubUpdatedAt {
			return nil, nil
		}
		return incoming, nil
	})
	if err != nil {
		return fmt.Errorf("failed to write workflow run %d: %w", incoming.GitHubRunID, err)
	}
	return nil
}

func (s *repoSync) writeWorkflowJob(ctx context.Context, runID int64, wj *github.WorkflowJob) error {
	incoming := &model.WorkflowJob{
		RepositoryID: s.repo.ID,
		GitHubRunID:  runID,
		GitHubJobID:  wj.GetID(),
		Name:         wj.GetName(),
		Status:       wj.GetStatus(),
		Conclusion:   wj.GetConclusion(),
		StartedAt:    millis(wj.StartedAt),
		CompletedAt:  millis(wj.CompletedAt),
	}
	_, err := s.manager.store.MutateWorkflowJob(ctx, s.repo.ID, incoming.GitHubJobID, func(existing *model.WorkflowJob) (*model.WorkflowJob, error) {
		// Completion never regresses to in-progress.
		if existing != nil && incoming.CompletedAt == 0 && existing.CompletedAt != 0 {
			return nil, nil
		}
		return incoming, nil
	})
	if err != nil {
		return fmt.Errorf("failed to write workflow job %d: %w", incoming.GitHubJobID, err)
	}
	return nil
}

// syncPullRequestFiles queues one file-diff fetch per open PR instead of
// fetching inline: the journaled step only records what was scheduled, so a
// resumed workflow never redoes N upstream fetches. The head-SHA gate on
// PutPullRequestFiles keeps requeued fetches idempotent.
func (s *repoSync) syncPullRequestFiles(ctx context.Context, run workflow.Run) error {
	const step = "sync-pr-files"
	result, err := run.Step(ctx, step, func(ctx context.Context) (string, error) {
		prs, err := s.manager.store.ListOpenPullRequests(ctx, s.repo.ID)
		if err != nil {
			return "", fmt.Errorf("failed to list open pull requests: %w", err)
		}

		for _, pr := range prs {
			number, headSHA := pr.Number, pr.HeadSHA
			name := fmt.Sprintf("pr-files:%s:%d", s.repo.ID, number)
			s.manager.scheduler.RunAfter(ctx, 0, name, func(ctx context.Context) error {
				s.fetchPullRequestFiles(ctx, number, headSHA)
				return nil
			})
		}
		return strconv.Itoa(len(prs)), nil
	})
	if err != nil {
		return err
	}
	s.progress(ctx, step, atoi(result))
	return nil
}

// fetchPullRequestFiles mirrors one PR's file diff. Failures dead-letter;
// the queued task does not retry on its own.
func (s *repoSync) fetchPullRequestFiles(ctx context.Context, number int, headSHA string) {
	files, err := s.client.ListPullRequestFiles(ctx, s.repo.OwnerLogin, s.repo.Name, number)
	if err != nil {
		s.deadLetterItem(ctx, "pr-files", strconv.Itoa(number), err)
		return
	}

	rows := make([]*model.PullRequestFile, 0, len(files))
	for _, f := range files {
		rows = append(rows, &model.PullRequestFile{
			RepositoryID:      s.repo.ID,
			PullRequestNumber: number,
			Filename:          f.GetFilename(),
			HeadSHA:           headSHA,
			Status:            f.GetStatus(),
			Additions:         f.GetAdditions(),
			Deletions:         f.GetDeletions(),
			Patch:             f.GetPatch(),
		})
	}
	if _, err := s.manager.store.PutPullRequestFiles(ctx, s.repo.ID, number, headSHA, rows); err != nil {
		s.deadLetterItem(ctx, "pr-files", strconv.Itoa(number), err)
	}
}

// parsePageResult decodes a "count,nextPage" step result. Malformed results
// terminate the pagination loop rather than looping forever.
func parsePageResult(result string) (count, nextPage int) {
	if _, err := fmt.Sscanf(result, "%d,%d", &count, &nextPage); err != nil {
		return 0, 0
	}
	return count, nextPage
}

// messageHeadline is the first line of a commit message.
func messageHeadline(message string) string {
	if i := strings.IndexByte(message, '\n'); i >= 0 {
		return message[:i]
	}
	return message
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func millis(ts *github.Timestamp) int64 {
	if ts == nil || ts.Time.IsZero() {
		return 0
	}
	return ts.Time.UnixMilli()
}

func millisValue(ts github.Timestamp) int64 {
	if ts.Time.IsZero() {
		return 0
	}
	return ts.Time.UnixMilli()
}

func labelNames(labels []*github.Label) []string {
	if len(labels) == 0 {
		return nil
	}
	names := make([]string, 0, len(labels))
	for _, l := range labels {
		names = append(names, l.GetName())
	}
	return names
}

func assigneeIDs(users []*github.User) []int64 {
	if len(users) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.GetID())
	}
	return ids
}
