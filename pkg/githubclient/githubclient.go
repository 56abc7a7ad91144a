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

// Package githubclient wraps the GitHub REST API surface the mirror depends
// on: the paginated list endpoints the bootstrap consumes, the write
// endpoints the optimistic coordinator calls, and webhook registration for
// the connect flow. Read calls carry a shared retry policy that honors
// rate-limit hints.
package githubclient

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/abcxyz/pkg/githubauth"
	"github.com/google/go-github/v56/github"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/sethvargo/go-retry"
	"golang.org/x/oauth2"

	"github.com/abcxyz/github-mirror/pkg/faults"
)

// can be overridden for testing
var (
	retryMinWaitDuration        = 1 * time.Second
	retryMaxAttempts     uint64 = 4
)

// GitHub is the REST client.
type GitHub struct {
	client *github.Client
}

// NewFromToken creates a client authenticated with a single token (a user
// OAuth token or an installation token). baseURL overrides the API base for
// GitHub Enterprise; empty means api.github.com.
func NewFromToken(ctx context.Context, token, baseURL string) (*GitHub, error) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	return NewFromTokenSource(ctx, ts, baseURL)
}

// NewFromTokenSource creates a client from an arbitrary token source.
func NewFromTokenSource(ctx context.Context, ts oauth2.TokenSource, baseURL string) (*GitHub, error) {
	client := github.NewClient(oauth2.NewClient(ctx, ts))
	if baseURL != "" && baseURL != "https://api.github.com" {
		var err error
		client, err = client.WithEnterpriseURLs(baseURL, baseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to create enterprise client: %w", err)
		}
	}
	return &GitHub{client: client}, nil
}

// NewApp constructs the GitHub App used for installation-token fallback
// during bootstrap token resolution.
func NewApp(appID, rsaPrivateKeyPEM string) (*githubauth.App, error) {
	if _, err := readPrivateKey(rsaPrivateKeyPEM); err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}

	signer, err := githubauth.NewPrivateKeySigner(rsaPrivateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to create private key signer: %w", err)
	}

	app, err := githubauth.NewApp(appID, signer)
	if err != nil {
		return nil, fmt.Errorf("failed to create github app: %w", err)
	}
	return app, nil
}

// readPrivateKey reads an RSA private key using PEM encoding.
func readPrivateKey(rsaPrivateKeyPEM string) (*rsa.PrivateKey, error) {
	parsedKey, _, err := jwk.DecodePEM([]byte(rsaPrivateKeyPEM))
	if err != nil {
		return nil, fmt.Errorf("failed to decode PEM formated key: %w", err)
	}
	privateKey, ok := parsedKey.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("failed to convert to *rsa.PrivateKey (got %T)", parsedKey)
	}
	return privateKey, nil
}

// withRetry runs call under the shared backoff policy. GitHub 5xx and
// rate-limit responses are retried; everything else surfaces immediately.
func withRetry(ctx context.Context, call func(ctx context.Context) (*github.Response, error)) error {
	backoff := retry.NewFibonacci(retryMinWaitDuration)
	backoff = retry.WithMaxRetries(retryMaxAttempts, backoff)

	if err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		resp, err := call(ctx)
		if err == nil {
			return nil
		}
		f := Classify(err, resp)
		if !faults.Retryable(f) {
			return f
		}
		if hint := retryAfterHint(f); hint > 0 {
			t := time.NewTimer(hint)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}
		return retry.RetryableError(f)
	}); err != nil {
		return err
	}
	return nil
}

// Classify maps a go-github error to the pipeline fault taxonomy.
func Classify(err error, resp *github.Response) error {
	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		f := faults.New(faults.KindUpstreamRateLimited, err)
		f.StatusCode = http.StatusForbidden
		f.RetryAfter = time.Until(rateErr.Rate.Reset.Time)
		return f
	}

	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		f := faults.New(faults.KindUpstreamRateLimited, err)
		if abuseErr.RetryAfter != nil {
			f.RetryAfter = *abuseErr.RetryAfter
		}
		return f
	}

	if resp != nil {
		switch {
		case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests:
			f := faults.New(faults.KindUpstreamRateLimited, err)
			f.StatusCode = resp.StatusCode
			return f
		case resp.StatusCode >= 500:
			f := faults.New(faults.KindUpstreamUnavailable, err)
			f.StatusCode = resp.StatusCode
			return f
		}
	}

	return faults.New(faults.KindUpstreamUnavailable, err)
}

// retryAfterHint extracts the server-provided backoff, capped so a hostile
// header cannot park a worker.
func retryAfterHint(err error) time.Duration {
	const maxHint = 2 * time.Minute

	var f *faults.Fault
	if errors.As(err, &f) && f.RetryAfter > 0 {
		if f.RetryAfter > maxHint {
			return maxHint
		}
		return f.RetryAfter
	}
	return 0
}

// GetRepo fetches repository metadata.
func (gh *GitHub) GetRepo(ctx context.Context, owner, repo string) (*github.Repository, error) {
	var out *github.Repository
	if err := withRetry(ctx, func(ctx context.Context) (*github.Response, error) {
		r, resp, err := gh.client.Repositories.Get(ctx, owner, repo)
		out = r
		return resp, err
	}); err != nil {
		return nil, fmt.Errorf("failed to get repository %s/%s: %w", owner, repo, err)
	}
	return out, nil
}

// ListBranches pages through every branch of the repository.
func (gh *GitHub) ListBranches(ctx context.Context, owner, repo string) ([]*github.Branch, error) {
	var out []*github.Branch
	opts := &github.BranchListOptions{ListOptions: github.ListOptions{PerPage: 100}}
	for {
		var page []*github.Branch
		var next int
		if err := withRetry(ctx, func(ctx context.Context) (*github.Response, error) {
			bs, resp, err := gh.client.Repositories.ListBranches(ctx, owner, repo, opts)
			page = bs
			if resp != nil {
				next = resp.NextPage
			}
			return resp, err
		}); err != nil {
			return nil, fmt.Errorf("failed to list branches: %w", err)
		}
		out = append(out, page...)
		if next == 0 {
			break
		}
		opts.Page = next
	}
	return out, nil
}

// ListPullRequestsPage fetches one page of PRs (state=all, most recently
// updated first). It returns the next page number, zero when exhausted.
func (gh *GitHub) ListPullRequestsPage(ctx context.Context, owner, repo string, page int) ([]*github.PullRequest, int, error) {
	opts := &github.PullRequestListOptions{
		State:       "all",
		Sort:        "updated",
		Direction:   "desc",
		ListOptions: github.ListOptions{Page: page, PerPage: 100},
	}
	var out []*github.PullRequest
	var next int
	if err := withRetry(ctx, func(ctx context.Context) (*github.Response, error) {
		prs, resp, err := gh.client.PullRequests.List(ctx, owner, repo, opts)
		out = prs
		if resp != nil {
			next = resp.NextPage
		}
		return resp, err
	}); err != nil {
		return nil, 0, fmt.Errorf("failed to list pull requests: %w", err)
	}
	return out, next, nil
}

// ListIssuesPage fetches one page of issues (state=all). GitHub includes
// PR-shadow issues; callers keep them for comment and label mirroring.
func (gh *GitHub) ListIssuesPage(ctx context.Context, owner, repo string, page int) ([]*github.Issue, int, error) {
	opts := &github.IssueListByRepoOptions{
		State:       "all",
		Sort:        "updated",
		Direction:   "desc",
		ListOptions: github.ListOptions{Page: page, PerPage: 100},
	}
	var out []*github.Issue
	var next int
	if err := withRetry(ctx, func(ctx context.Context) (*github.Response, error) {
		issues, resp, err := gh.client.Issues.ListByRepo(ctx, owner, repo, opts)
		out = issues
		if resp != nil {
			next = resp.NextPage
		}
		return resp, err
	}); err != nil {
		return nil, 0, fmt.Errorf("failed to list issues: %w", err)
	}
	return out, next, nil
}

// ListCommits fetches up to limit commits starting at the given ref.
func (gh *GitHub) ListCommits(ctx context.Context, owner, repo, ref string, limit int) ([]*github.RepositoryCommit, error) {
	var out []*github.RepositoryCommit
	opts := &github.CommitsListOptions{SHA: ref, ListOptions: github.ListOptions{PerPage: 100}}
	for len(out) < limit {
		var page []*github.RepositoryCommit
		var next int
		if err := withRetry(ctx, func(ctx context.Context) (*github.Response, error) {
			cs, resp, err := gh.client.Repositories.ListCommits(ctx, owner, repo, opts)
			page = cs
			if resp != nil {
				next = resp.NextPage
			}
			return resp, err
		}); err != nil {
			return nil, fmt.Errorf("failed to list commits: %w", err)
		}
		out = append(out, page...)
		if next == 0 {
			break
		}
		opts.Page = next
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListPullRequestFiles pages through the changed files of a PR.
func (gh *GitHub) ListPullRequestFiles(ctx context.Context, owner, repo string, number int) ([]*github.CommitFile, error) {
	var out []*github.CommitFile
	opts := &github.ListOptions{PerPage: 100}
	for {
		var page []*github.CommitFile
		var next int
		if err := withRetry(ctx, func(ctx context.Context) (*github.Response, error) {
			fs, resp, err := gh.client.PullRequests.ListFiles(ctx, owner, repo, number, opts)
			page = fs
			if resp != nil {
				next = resp.NextPage
			}
			return resp, err
		}); err != nil {
			return nil, fmt.Errorf("failed to list pull request files: %w", err)
		}
		out = append(out, page...)
		if next == 0 {
			break
		}
		opts.Page = next
	}
	return out, nil
}

// ListCheckRunsForRef fetches all check runs for one head SHA.
func (gh *GitHub) ListCheckRunsForRef(ctx context.Context, owner, repo, ref string) ([]*github.CheckRun, error) {
	var out []*github.CheckRun
	opts := &github.ListCheckRunsOptions{ListOptions: github.ListOptions{PerPage: 100}}
	for {
		var page *github.ListCheckRunsResults
		var next int
		if err := withRetry(ctx, func(ctx context.Context) (*github.Response, error) {
			res, resp, err := gh.client.Checks.ListCheckRunsForRef(ctx, owner, repo, ref, opts)
			page = res
			if resp != nil {
				next = resp.NextPage
			}
			return resp, err
		}); err != nil {
			return nil, fmt.Errorf("failed to list check runs: %w", err)
		}
		if page != nil {
			out = append(out, page.CheckRuns...)
		}
		if next == 0 {
			break
		}
		opts.Page = next
	}
	return out, nil
}

// ListWorkflowRuns fetches the most recent workflow runs for the repository.
func (gh *GitHub) ListWorkflowRuns(ctx context.Context, owner, repo string, limit int) ([]*github.WorkflowRun, error) {
	var out []*github.WorkflowRun
	opts := &github.ListWorkflowRunsOptions{ListOptions: github.ListOptions{PerPage: 100}}
	for len(out) < limit {
		var page *github.WorkflowRuns
		var next int
		if err := withRetry(ctx, func(ctx context.Context) (*github.Response, error) {
			res, resp, err := gh.client.Actions.ListRepositoryWorkflowRuns(ctx, owner, repo, opts)
			page = res
			if resp != nil {
				next = resp.NextPage
			}
			return resp, err
		}); err != nil {
			return nil, fmt.Errorf("failed to list workflow runs: %w", err)
		}
		if page != nil {
			out = append(out, page.WorkflowRuns...)
		}
		if next == 0 {
			break
		}
		opts.Page = next
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListWorkflowJobs fetches the jobs of one workflow run.
func (gh *GitHub) ListWorkflowJobs(ctx context.Context, owner, repo string, runID int64) ([]*github.WorkflowJob, error) {
	var out []*github.WorkflowJob
	opts := &github.ListWorkflowJobsOptions{ListOptions: github.ListOptions{PerPage: 100}}
	for {
		var page *github.Jobs
		var next int
		if err := withRetry(ctx, func(ctx context.Context) (*github.Response, error) {
			res, resp, err := gh.client.Actions.ListWorkflowJobs(ctx, owner, repo, runID, opts)
			page = res
			if resp != nil {
				next = resp.NextPage
			}
			return resp, err
		}); err != nil {
			return nil, fmt.Errorf("failed to list workflow jobs: %w", err)
		}
		if page != nil {
			out = append(out, page.Jobs...)
		}
		if next == 0 {
			break
		}
		opts.Page = next
	}
	return out, nil
}

// CreateHook registers the webhook on the repository at connect time.
func (gh *GitHub) CreateHook(ctx context.Context, owner, repo, url, secret string) (*github.Hook, error) {
	hook := &github.Hook{
		Events: []string{"*"},
		Config: map[string]any{
			"url":          url,
			"content_type": "json",
			"secret":       secret,
		},
		Active: github.Bool(true),
	}
	var out *github.Hook
	if err := withRetry(ctx, func(ctx context.Context) (*github.Response, error) {
		h, resp, err := gh.client.Repositories.CreateHook(ctx, owner, repo, hook)
		out = h
		return resp, err
	}); err != nil {
		return nil, fmt.Errorf("failed to create hook: %w", err)
	}
	return out, nil
}

// Write endpoints are deliberately not retried: the optimistic coordinator
// owns the outcome and its correlation ids protect against double execution.

// CreateIssue opens a new issue.
func (gh *GitHub) CreateIssue(ctx context.Context, owner, repo, title, body string) (*github.Issue, *github.Response, error) {
	req := &github.IssueRequest{Title: github.String(title)}
	if body != "" {
		req.Body = github.String(body)
	}
	return gh.client.Issues.Create(ctx, owner, repo, req)
}

// CreateIssueComment comments on an issue or PR conversation.
func (gh *GitHub) CreateIssueComment(ctx context.Context, owner, repo string, number int, body string) (*github.IssueComment, *github.Response, error) {
	return gh.client.Issues.CreateComment(ctx, owner, repo, number, &github.IssueComment{Body: github.String(body)})
}

// EditIssueState opens or closes an issue.
func (gh *GitHub) EditIssueState(ctx context.Context, owner, repo string, number int, state string) (*github.Issue, *github.Response, error) {
	return gh.client.Issues.Edit(ctx, owner, repo, number, &github.IssueRequest{State: github.String(state)})
}

// MergePullRequest merges a PR with the given method.
func (gh *GitHub) MergePullRequest(ctx context.Context, owner, repo string, number int, method string) (*github.PullRequestMergeResult, *github.Response, error) {
	opts := &github.PullRequestOptions{}
	if method != "" {
		opts.MergeMethod = method
	}
	return gh.client.PullRequests.Merge(ctx, owner, repo, number, "", opts)
}

// UpdatePullRequestBranch updates the PR branch onto its base.
func (gh *GitHub) UpdatePullRequestBranch(ctx context.Context, owner, repo string, number int, expectedHeadSHA string) (*github.Response, error) {
	opts := &github.PullRequestBranchUpdateOptions{}
	if expectedHeadSHA != "" {
		opts.ExpectedHeadSHA = github.String(expectedHeadSHA)
	}
	_, resp, err := gh.client.PullRequests.UpdateBranch(ctx, owner, repo, number, opts)
	return resp, err
}

// CreateReview submits a PR review.
func (gh *GitHub) CreateReview(ctx context.Context, owner, repo string, number int, event, body string) (*github.PullRequestReview, *github.Response, error) {
	return gh.client.PullRequests.CreateReview(ctx, owner, repo, number, &github.PullRequestReviewRequest{
		Event: github.String(event),
		Body:  github.String(body),
	})
}

// AddLabels adds labels to an issue or PR.
func (gh *GitHub) AddLabels(ctx context.Context, owner, repo string, number int, labels []string) (*github.Response, error) {
	_, resp, err := gh.client.Issues.AddLabelsToIssue(ctx, owner, repo, number, labels)
	return resp, err
}

// RemoveLabel removes one label from an issue or PR.
func (gh *GitHub) RemoveLabel(ctx context.Context, owner, repo string, number int, label string) (*github.Response, error) {
	resp, err := gh.client.Issues.RemoveLabelForIssue(ctx, owner, repo, number, label)
	return resp, err
}

// AddAssignees assigns users to an issue or PR.
func (gh *GitHub) AddAssignees(ctx context.Context, owner, repo string, number int, assignees []string) (*github.Response, error) {
	_, resp, err := gh.client.Issues.AddAssignees(ctx, owner, repo, number, assignees)
	return resp, err
}

// RemoveAssignees unassigns users from an issue or PR.
func (gh *GitHub) RemoveAssignees(ctx context.Context, owner, repo string, number int, assignees []string) (*github.Response, error) {
	_, resp, err := gh.client.Issues.RemoveAssignees(ctx, owner, repo, number, assignees)
	return resp, err
}
