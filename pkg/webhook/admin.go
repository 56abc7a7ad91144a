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

package webhook

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/abcxyz/pkg/logging"

	"github.com/abcxyz/github-mirror/pkg/model"
	"github.com/abcxyz/github-mirror/pkg/store"
)

// defaultAdminListLimit caps admin listings when no limit is given.
const defaultAdminListLimit = 100

var (
	errMethodNotAllowed = fmt.Errorf("method not allowed")
	errMissingParameter = fmt.Errorf("missing required parameter")
)

// handleListFailedEvents lists raw events stuck in the failed state, oldest
// first.
func (s *Server) handleListFailedEvents() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if r.Method != http.MethodGet {
			s.h.RenderJSON(w, http.StatusMethodNotAllowed, errMethodNotAllowed)
			return
		}

		limit := parseLimit(r.URL.Query().Get("limit"))
		events, err := s.store.ListRawEventsByState(ctx, model.ProcessFailed, limit)
		if err != nil {
			logging.FromContext(ctx).ErrorContext(ctx, "failed to list failed events", "error", err)
			s.h.RenderJSON(w, http.StatusInternalServerError, errWritingToBackend)
			return
		}
		s.h.RenderJSON(w, http.StatusOK, map[string]any{"events": events})
	})
}

// handleListDeadLetters lists dead-letter records, newest first.
func (s *Server) handleListDeadLetters() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if r.Method != http.MethodGet {
			s.h.RenderJSON(w, http.StatusMethodNotAllowed, errMethodNotAllowed)
			return
		}

		limit := parseLimit(r.URL.Query().Get("limit"))
		letters, err := s.store.ListDeadLetters(ctx, limit)
		if err != nil {
			logging.FromContext(ctx).ErrorContext(ctx, "failed to list dead letters", "error", err)
			s.h.RenderJSON(w, http.StatusInternalServerError, errWritingToBackend)
			return
		}
		s.h.RenderJSON(w, http.StatusOK, map[string]any{"deadLetters": letters})
	})
}

// handleReplayEvent forces a single delivery back through dispatch.
func (s *Server) handleReplayEvent() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if r.Method != http.MethodPost {
			s.h.RenderJSON(w, http.StatusMethodNotAllowed, errMethodNotAllowed)
			return
		}

		deliveryID := r.URL.Query().Get("delivery_id")
		if deliveryID == "" {
			s.h.RenderJSON(w, http.StatusBadRequest, errMissingParameter)
			return
		}

		if err := s.processor.Replay(ctx, deliveryID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				s.h.RenderJSON(w, http.StatusNotFound, err)
				return
			}
			logging.FromContext(ctx).ErrorContext(ctx, "failed to replay delivery",
				"delivery_id", deliveryID,
				"error", err)
			s.h.RenderJSON(w, http.StatusInternalServerError, errWritingToBackend)
			return
		}
		s.h.RenderJSON(w, http.StatusOK, statusOK)
	})
}

// handleRetryFailed re-enqueues every failed raw event.
func (s *Server) handleRetryFailed() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if r.Method != http.MethodPost {
			s.h.RenderJSON(w, http.StatusMethodNotAllowed, errMethodNotAllowed)
			return
		}

		n, err := s.processor.RetryAllFailed(ctx)
		if err != nil {
			logging.FromContext(ctx).ErrorContext(ctx, "failed to retry failed events", "error", err)
			s.h.RenderJSON(w, http.StatusInternalServerError, errWritingToBackend)
			return
		}
		s.h.RenderJSON(w, http.StatusOK, map[string]int{"retried": n})
	})
}

// handleReconcileRepo enqueues a reconcile sync for a connected repository.
func (s *Server) handleReconcileRepo() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if r.Method != http.MethodPost {
			s.h.RenderJSON(w, http.StatusMethodNotAllowed, errMethodNotAllowed)
			return
		}

		fullName := r.URL.Query().Get("repo")
		if fullName == "" {
			s.h.RenderJSON(w, http.StatusBadRequest, errMissingParameter)
			return
		}

		job, err := s.reconciler.ReconcileRepository(ctx, fullName)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				s.h.RenderJSON(w, http.StatusNotFound, err)
				return
			}
			logging.FromContext(ctx).ErrorContext(ctx, "failed to enqueue reconcile",
				"repo", fullName,
				"error", err)
			s.h.RenderJSON(w, http.StatusInternalServerError, errWritingToBackend)
			return
		}
		s.h.RenderJSON(w, http.StatusOK, map[string]string{"jobId": job.ID, "state": string(job.State)})
	})
}

func parseLimit(raw string) int {
	if raw == "" {
		return defaultAdminListLimit
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return defaultAdminListLimit
	}
	return n
}
