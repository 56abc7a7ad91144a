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

package cli

import (
	"context"
	"fmt"
	"net/http"

	"github.com/abcxyz/pkg/cli"
	"github.com/abcxyz/pkg/githubauth"
	"github.com/abcxyz/pkg/logging"
	"github.com/abcxyz/pkg/renderer"
	"github.com/abcxyz/pkg/serving"

	"github.com/abcxyz/github-mirror/pkg/bootstrap"
	"github.com/abcxyz/github-mirror/pkg/dispatch"
	"github.com/abcxyz/github-mirror/pkg/githubclient"
	"github.com/abcxyz/github-mirror/pkg/ingest"
	"github.com/abcxyz/github-mirror/pkg/projection"
	"github.com/abcxyz/github-mirror/pkg/store/memstore"
	"github.com/abcxyz/github-mirror/pkg/version"
	"github.com/abcxyz/github-mirror/pkg/webhook"
	"github.com/abcxyz/github-mirror/pkg/workflow/localengine"
)

var _ cli.Command = (*WebhookServerCommand)(nil)

// WebhookServerCommand starts the webhook server with its sweeps and sync
// machinery wired in.
type WebhookServerCommand struct {
	cli.BaseCommand

	srvCfg    *webhook.Config
	ingestCfg *ingest.Config
	bootCfg   *bootstrap.Config
	ghCfg     *githubclient.Config

	// testFlagSetOpts is only used for testing.
	testFlagSetOpts []cli.Option
}

func (c *WebhookServerCommand) Desc() string {
	return `Start a webhook server for github-mirror`
}

func (c *WebhookServerCommand) Help() string {
	return `
Usage: {{ COMMAND }} [options]

  Start a webhook server for github-mirror. The server verifies and records
  GitHub deliveries, dispatches them into the mirror, runs the retry and
  dead-letter sweeps, and exposes the admin endpoints.
`
}

func (c *WebhookServerCommand) Flags() *cli.FlagSet {
	c.srvCfg = &webhook.Config{}
	c.ingestCfg = &ingest.Config{}
	c.bootCfg = &bootstrap.Config{}
	c.ghCfg = &githubclient.Config{}

	set := cli.NewFlagSet(c.testFlagSetOpts...)
	set = c.srvCfg.ToFlags(set)
	set = c.ingestCfg.ToFlags(set)
	set = c.bootCfg.ToFlags(set)
	c.ghCfg.ToFlags(set)
	return set
}

func (c *WebhookServerCommand) Run(ctx context.Context, args []string) error {
	server, mux, err := c.RunUnstarted(ctx, args)
	if err != nil {
		return err
	}

	return server.StartHTTPHandler(ctx, mux) //nolint:wrapcheck // Want passthrough
}

func (c *WebhookServerCommand) RunUnstarted(ctx context.Context, args []string) (*serving.Server, http.Handler, error) {
	f := c.Flags()
	if err := f.Parse(args); err != nil {
		return nil, nil, fmt.Errorf("failed to parse flags: %w", err)
	}
	args = f.Args()
	if len(args) > 0 {
		return nil, nil, fmt.Errorf("unexpected arguments: %q", args)
	}

	logger := logging.FromContext(ctx)
	logger.DebugContext(ctx, "server starting",
		"name", version.Name,
		"commit", version.Commit,
		"version", version.Version)

	h, err := renderer.New(ctx, nil,
		renderer.WithOnError(func(err error) {
			logger.ErrorContext(ctx, "failed to render", "error", err)
		}))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create renderer: %w", err)
	}

	if err := c.ghCfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// The hook registered on connected repositories signs with the same
	// secret the server verifies.
	c.bootCfg.GitHubWebhookSecret = c.srvCfg.GitHubWebhookSecret

	st := memstore.New()
	scheduler := memstore.NewScheduler()
	projector := projection.NewBuilder(st)
	dispatcher := dispatch.New(st, projector)

	processor, err := ingest.NewProcessor(st, dispatcher, c.ingestCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create event processor: %w", err)
	}

	var app *githubauth.App
	if c.ghCfg.GitHubAppID != "" {
		app, err = githubclient.NewApp(c.ghCfg.GitHubAppID, c.ghCfg.GitHubPrivateKey)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create github app: %w", err)
		}
	}
	clients := bootstrap.NewTokenClientSource(st, app, c.ghCfg.GitHubAPIBaseURL)

	engine := localengine.New(st)
	manager, err := bootstrap.NewManager(st, scheduler, engine, clients, projector, c.bootCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create sync manager: %w", err)
	}

	server, err := webhook.NewServer(ctx, c.srvCfg, h, st, scheduler, processor, manager)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create server: %w", err)
	}
	mux := server.Routes(ctx)

	processor.Start(ctx)

	srv, err := serving.New(c.srvCfg.Port)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create serving infrastructure: %w", err)
	}
	return srv, mux, nil
}
