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
	"errors"
	"fmt"
	"strconv"

	"github.com/abcxyz/pkg/githubauth"
	"github.com/google/go-github/v56/github"

	"github.com/abcxyz/github-mirror/pkg/githubclient"
	"github.com/abcxyz/github-mirror/pkg/model"
	"github.com/abcxyz/github-mirror/pkg/store"
)

// RepoAPI is the slice of the GitHub surface bootstrap reads through,
// satisfied by [githubclient.GitHub].
type RepoAPI interface {
	GetRepo(ctx context.Context, owner, repo string) (*github.Repository, error)
	CreateHook(ctx context.Context, owner, repo, url, secret string) (*github.Hook, error)
	ListBranches(ctx context.Context, owner, repo string) ([]*github.Branch, error)
	ListPullRequestsPage(ctx context.Context, owner, repo string, page int) ([]*github.PullRequest, int, error)
	ListIssuesPage(ctx context.Context, owner, repo string, page int) ([]*github.Issue, int, error)
	ListCommits(ctx context.Context, owner, repo, ref string, limit int) ([]*github.RepositoryCommit, error)
	ListPullRequestFiles(ctx context.Context, owner, repo string, number int) ([]*github.CommitFile, error)
	ListCheckRunsForRef(ctx context.Context, owner, repo, ref string) ([]*github.CheckRun, error)
	ListWorkflowRuns(ctx context.Context, owner, repo string, limit int) ([]*github.WorkflowRun, error)
	ListWorkflowJobs(ctx context.Context, owner, repo string, runID int64) ([]*github.WorkflowJob, error)
}

var _ RepoAPI = (*githubclient.GitHub)(nil)

// ClientSource resolves an authenticated client for a repository.
type ClientSource interface {
	ClientFor(ctx context.Context, repo *model.Repository) (RepoAPI, error)
}

// TokenClientSource resolves credentials for a repository: the connecting
// user's stored OAuth token when present, otherwise an installation token
// minted through the GitHub App. Tokens stay inside the returned client and
// are never journaled or logged.
type TokenClientSource struct {
	store   store.Store
	app     *githubauth.App
	baseURL string
}

// NewTokenClientSource creates a source. app may be nil, in which case only
// stored user tokens can authenticate.
func NewTokenClientSource(st store.Store, app *githubauth.App, baseURL string) *TokenClientSource {
	return &TokenClientSource{store: st, app: app, baseURL: baseURL}
}

// ClientFor implements [ClientSource].
func (s *TokenClientSource) ClientFor(ctx context.Context, repo *model.Repository) (RepoAPI, error) {
	if repo.ConnectedByUserID != "" {
		tok, err := s.store.GetUserToken(ctx, repo.ConnectedByUserID)
		if err == nil {
			gh, err := githubclient.NewFromToken(ctx, tok.Token, s.baseURL)
			if err != nil {
				return nil, fmt.Errorf("failed to build user client: %w", err)
			}
			return gh, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("failed to load user token: %w", err)
		}
	}

	if s.app == nil || repo.InstallationID == 0 {
		return nil, fmt.Errorf("no credentials available for %s", repo.FullName)
	}

	installation, err := s.app.InstallationForID(ctx, strconv.FormatInt(repo.InstallationID, 10))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve installation %d: %w", repo.InstallationID, err)
	}
	ts := installation.AllReposOAuth2TokenSource(ctx, map[string]string{
		"contents":      "read",
		"issues":        "read",
		"pull_requests": "read",
		"checks":        "read",
		"actions":       "read",
		"metadata":      "read",
	})

	gh, err := githubclient.NewFromTokenSource(ctx, ts, s.baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to build installation client: %w", err)
	}
	return gh, nil
}
