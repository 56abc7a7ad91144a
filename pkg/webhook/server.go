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

// Package webhook is the ingress for GitHub webhook deliveries. It verifies
// the HMAC signature, records the delivery in the raw-event log, and hands
// the delivery id to the event processor. It also exposes the small admin
// surface for inspecting and replaying failures.
package webhook

import (
	"context"
	"fmt"
	"net/http"

	"github.com/abcxyz/pkg/healthcheck"
	"github.com/abcxyz/pkg/logging"
	"github.com/abcxyz/pkg/renderer"

	"github.com/abcxyz/github-mirror/pkg/model"
	"github.com/abcxyz/github-mirror/pkg/store"
	"github.com/abcxyz/github-mirror/pkg/version"
)

// Processor consumes stored deliveries. The production implementation is
// ingest.Processor.
type Processor interface {
	// ProcessEvent dispatches the stored raw event with the given delivery id.
	ProcessEvent(ctx context.Context, deliveryID string) error

	// Replay forces one failed or dead-lettered delivery back through
	// dispatch.
	Replay(ctx context.Context, deliveryID string) error

	// RetryAllFailed re-enqueues every failed raw event and reports how many
	// it touched.
	RetryAllFailed(ctx context.Context) (int, error)
}

// Reconciler enqueues repository reconciliation. The production
// implementation is bootstrap.Manager.
type Reconciler interface {
	ReconcileRepository(ctx context.Context, fullName string) (*model.SyncJob, error)
}

// Server provides the webhook server implementation.
type Server struct {
	h             *renderer.Renderer
	store         store.Store
	scheduler     store.Scheduler
	processor     Processor
	reconciler    Reconciler
	webhookSecret string
	projectID     string
}

// NewServer creates a new HTTP server implementation that will handle
// receiving webhook payloads.
func NewServer(ctx context.Context, cfg *Config, h *renderer.Renderer, st store.Store, scheduler store.Scheduler, processor Processor, reconciler Reconciler) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &Server{
		h:             h,
		store:         st,
		scheduler:     scheduler,
		processor:     processor,
		reconciler:    reconciler,
		webhookSecret: cfg.GitHubWebhookSecret,
		projectID:     cfg.ProjectID,
	}, nil
}

// Routes creates a ServeMux of all of the routes that
// this Router supports.
func (s *Server) Routes(ctx context.Context) http.Handler {
	logger := logging.FromContext(ctx)
	mux := http.NewServeMux()
	mux.Handle("/healthz", healthcheck.HandleHTTPHealthCheck())
	mux.Handle("/webhook", s.handleWebhook())
	// Hooks registered before the shorter path existed still point here.
	mux.Handle("/api/github/webhook", s.handleWebhook())
	mux.Handle("/version", s.handleVersion())

	mux.Handle("/admin/failed-events", s.handleListFailedEvents())
	mux.Handle("/admin/dead-letters", s.handleListDeadLetters())
	mux.Handle("/admin/replay", s.handleReplayEvent())
	mux.Handle("/admin/retry-failed", s.handleRetryFailed())
	mux.Handle("/admin/reconcile", s.handleReconcileRepo())

	// Middleware
	root := logging.HTTPInterceptor(logger, s.projectID)(mux)

	return root
}

// handleVersion is a simple http.HandlerFunc that responds
// with version information for the server.
func (s *Server) handleVersion() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"version":%q}`+"\n", version.HumanVersion)
	})
}
