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
	"errors"
	"fmt"

	"github.com/abcxyz/pkg/cli"
)

// Config controls repository bootstrap and reconcile syncs.
type Config struct {
	// WebhookURL is the externally reachable webhook endpoint registered
	// on connected repositories.
	WebhookURL string

	// GitHubWebhookSecret signs deliveries to the registered hook. It has
	// no flag of its own; the caller copies the server's webhook secret in.
	GitHubWebhookSecret string

	// MaxRunningPerInstallation caps concurrently running sync jobs per
	// installation so one tenant cannot monopolize API quota.
	MaxRunningPerInstallation int

	// PRPageLimit and IssuePageLimit bound how many 100-item pages a
	// bootstrap fetches per entity kind.
	PRPageLimit    int
	IssuePageLimit int

	// CommitLimit bounds how many default-branch commits are mirrored.
	CommitLimit int

	// WorkflowRunLimit bounds how many recent Actions runs are mirrored.
	WorkflowRunLimit int

	// CheckRunConcurrency is the worker-pool width for per-SHA check-run
	// fetches.
	CheckRunConcurrency int
}

// Validate validates the bootstrap config after load.
func (cfg *Config) Validate() error {
	var merr error

	if cfg.WebhookURL == "" {
		merr = errors.Join(merr, fmt.Errorf("WEBHOOK_URL is required"))
	}
	if cfg.GitHubWebhookSecret == "" {
		merr = errors.Join(merr, fmt.Errorf("GITHUB_WEBHOOK_SECRET is required"))
	}
	if cfg.MaxRunningPerInstallation <= 0 {
		merr = errors.Join(merr, fmt.Errorf("MAX_RUNNING_PER_INSTALLATION is required and must be greater than 0"))
	}

	return merr
}

// ToFlags binds the config to a [cli.FlagSet] and returns it.
func (cfg *Config) ToFlags(set *cli.FlagSet) *cli.FlagSet {
	f := set.NewSection("BOOTSTRAP OPTIONS")

	f.StringVar(&cli.StringVar{
		Name:   "webhook-url",
		Target: &cfg.WebhookURL,
		EnvVar: "WEBHOOK_URL",
		Usage:  `The externally reachable webhook endpoint registered on connected repositories.`,
	})

	f.IntVar(&cli.IntVar{
		Name:    "max-running-per-installation",
		Target:  &cfg.MaxRunningPerInstallation,
		EnvVar:  "MAX_RUNNING_PER_INSTALLATION",
		Default: 25,
		Usage:   `The cap on concurrently running sync jobs per installation.`,
	})

	f.IntVar(&cli.IntVar{
		Name:    "pr-page-limit",
		Target:  &cfg.PRPageLimit,
		EnvVar:  "PR_PAGE_LIMIT",
		Default: 10,
		Usage:   `The number of 100-item pull request pages fetched per bootstrap.`,
	})

	f.IntVar(&cli.IntVar{
		Name:    "issue-page-limit",
		Target:  &cfg.IssuePageLimit,
		EnvVar:  "ISSUE_PAGE_LIMIT",
		Default: 10,
		Usage:   `The number of 100-item issue pages fetched per bootstrap.`,
	})

	f.IntVar(&cli.IntVar{
		Name:    "commit-limit",
		Target:  &cfg.CommitLimit,
		EnvVar:  "COMMIT_LIMIT",
		Default: 200,
		Usage:   `The number of default-branch commits mirrored per bootstrap.`,
	})

	f.IntVar(&cli.IntVar{
		Name:    "workflow-run-limit",
		Target:  &cfg.WorkflowRunLimit,
		EnvVar:  "WORKFLOW_RUN_LIMIT",
		Default: 100,
		Usage:   `The number of recent Actions runs mirrored per bootstrap.`,
	})

	f.IntVar(&cli.IntVar{
		Name:    "check-run-concurrency",
		Target:  &cfg.CheckRunConcurrency,
		EnvVar:  "CHECK_RUN_CONCURRENCY",
		Default: 5,
		Usage:   `The worker-pool width for per-SHA check-run fetches.`,
	})

	return set
}
