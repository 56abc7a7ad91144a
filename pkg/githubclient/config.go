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

package githubclient

import (
	"errors"
	"fmt"
	"strings"

	"github.com/abcxyz/pkg/cli"
)

// Config is the shared GitHub API configuration.
type Config struct {
	// GitHubAPIBaseURL is the REST base URL. Override it for GitHub
	// Enterprise; the default is the public API.
	GitHubAPIBaseURL string

	// GitHubAppID is the GitHub App ID used for installation-token
	// fallback. Optional: without it, token resolution only uses stored
	// user OAuth tokens.
	GitHubAppID string

	// GitHubPrivateKey is the GitHub App RSA private key in PEM form.
	GitHubPrivateKey string
}

// Validate does sanity checking on the configuration.
func (c *Config) Validate() error {
	var merr error

	if c.GitHubAPIBaseURL != "" && !strings.HasPrefix(c.GitHubAPIBaseURL, "https://") {
		merr = errors.Join(merr, fmt.Errorf(`GITHUB_API_BASE_URL does not start with "https://"`))
	}

	if c.GitHubAppID != "" && c.GitHubPrivateKey == "" {
		merr = errors.Join(merr, fmt.Errorf("GITHUB_PRIVATE_KEY is required when GITHUB_APP_ID is set"))
	}

	return merr
}

// ToFlags registers the GitHub flags.
func (c *Config) ToFlags(set *cli.FlagSet) {
	f := set.NewSection("GITHUB OPTIONS")

	f.StringVar(&cli.StringVar{
		Name:    "github-api-base-url",
		Target:  &c.GitHubAPIBaseURL,
		EnvVar:  "GITHUB_API_BASE_URL",
		Default: "https://api.github.com",
		Usage:   `The GitHub REST API base URL.`,
	})

	f.StringVar(&cli.StringVar{
		Name:   "github-app-id",
		Target: &c.GitHubAppID,
		EnvVar: "GITHUB_APP_ID",
		Usage:  `The provisioned GitHub App ID.`,
	})

	f.StringVar(&cli.StringVar{
		Name:   "github-private-key",
		Target: &c.GitHubPrivateKey,
		EnvVar: "GITHUB_PRIVATE_KEY",
		Usage:  `The GitHub App private key in PEM format.`,
	})
}
