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
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/abcxyz/pkg/logging"

	"github.com/abcxyz/github-mirror/pkg/model"
)

const (
	// SHA256SignatureHeader is the GitHub header key used to pass the HMAC-SHA256 hexdigest.
	SHA256SignatureHeader = "X-Hub-Signature-256"

	// EventTypeHeader is the GitHub header key used to pass the event type.
	EventTypeHeader = "X-Github-Event"

	// DeliveryIDHeader is the GitHub header key used to pass the unique ID for the webhook event.
	DeliveryIDHeader = "X-Github-Delivery"

	// mb is used for conversion to megabytes.
	mb = 1000000
)

var (
	statusOK = map[string]string{"status": "ok"}

	errReadingPayload   = fmt.Errorf("failed to read webhook payload")
	errNoPayload        = fmt.Errorf("no payload received")
	errMissingHeaders   = fmt.Errorf("missing delivery id or event type header")
	errInvalidSignature = fmt.Errorf("failed to validate webhook signature")
	errMalformedPayload = fmt.Errorf("payload is not valid json")
	errWritingToBackend = fmt.Errorf("failed to write to backend")
)

// envelope is the minimal shape shared by every GitHub webhook payload that
// the gateway needs before dispatch.
type envelope struct {
	Action       string `json:"action"`
	Installation *struct {
		ID int64 `json:"id"`
	} `json:"installation"`
}

// handleWebhook handles the logic for receiving github webhooks and
// recording them in the raw-event log.
func (s *Server) handleWebhook() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		now := time.Now().UTC()
		ctx := r.Context()
		logger := logging.FromContext(ctx)

		deliveryID := r.Header.Get(DeliveryIDHeader)
		eventType := r.Header.Get(EventTypeHeader)
		signature := r.Header.Get(SHA256SignatureHeader)

		payload, err := io.ReadAll(io.LimitReader(r.Body, 25*mb))
		if err != nil {
			logger.ErrorContext(ctx, "failed to read webhook request body",
				"code", http.StatusInternalServerError,
				"body", errReadingPayload,
				"error", err)
			s.h.RenderJSON(w, http.StatusInternalServerError, errReadingPayload)
			return
		}

		if deliveryID == "" || eventType == "" {
			logger.WarnContext(ctx, "missing webhook headers",
				"code", http.StatusBadRequest,
				"body", errMissingHeaders)
			s.h.RenderJSON(w, http.StatusBadRequest, errMissingHeaders)
			return
		}

		if len(payload) == 0 {
			logger.ErrorContext(ctx, "no payload received",
				"code", http.StatusBadRequest,
				"body", errNoPayload)
			s.h.RenderJSON(w, http.StatusBadRequest, errNoPayload)
			return
		}

		if !s.isValidSignature(signature, payload) {
			// The forged delivery is still recorded for auditing, marked
			// terminally failed so the retry sweeps never pick it up.
			audit := &model.RawEvent{
				DeliveryID:     deliveryID,
				EventName:      eventType,
				SignatureValid: false,
				PayloadJSON:    string(payload),
				ReceivedAt:     now.UnixMilli(),
				ProcessState:   model.ProcessFailed,
				ProcessError:   "invalid signature",
			}
			if _, err := s.store.InsertRawEvent(ctx, audit); err != nil {
				logger.ErrorContext(ctx, "failed to record rejected delivery",
					"delivery_id", deliveryID,
					"error", err)
			}
			logger.ErrorContext(ctx, "failed to validate webhook payload",
				"code", http.StatusUnauthorized,
				"delivery_id", deliveryID,
				"body", errInvalidSignature)
			s.h.RenderJSON(w, http.StatusUnauthorized, errInvalidSignature)
			return
		}

		var env envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			logger.WarnContext(ctx, "failed to parse webhook payload",
				"code", http.StatusBadRequest,
				"delivery_id", deliveryID,
				"error", err)
			s.h.RenderJSON(w, http.StatusBadRequest, errMalformedPayload)
			return
		}

		ev := &model.RawEvent{
			DeliveryID:     deliveryID,
			EventName:      eventType,
			Action:         env.Action,
			SignatureValid: true,
			PayloadJSON:    string(payload),
			ReceivedAt:     now.UnixMilli(),
			ProcessState:   model.ProcessPending,
		}
		if env.Installation != nil {
			ev.InstallationID = env.Installation.ID
		}

		created, err := s.store.InsertRawEvent(ctx, ev)
		if err != nil {
			logger.ErrorContext(ctx, "failed to write raw event",
				"code", http.StatusInternalServerError,
				"delivery_id", deliveryID,
				"error", err)
			s.h.RenderJSON(w, http.StatusInternalServerError, errWritingToBackend)
			return
		}
		if !created {
			// GitHub redelivered an already-recorded delivery id.
			logger.InfoContext(ctx, "duplicate delivery ignored",
				"delivery_id", deliveryID,
				"event", eventType)
			s.h.RenderJSON(w, http.StatusOK, statusOK)
			return
		}

		s.scheduler.RunAfter(ctx, 0, "dispatch:"+deliveryID, func(taskCtx context.Context) error {
			return s.processor.ProcessEvent(taskCtx, deliveryID)
		})

		s.h.RenderJSON(w, http.StatusOK, statusOK)
	})
}

// isValidSignature validates the http request signature against the signature of the payload.
func (s *Server) isValidSignature(signature string, payload []byte) bool {
	mac := hmac.New(sha256.New, []byte(s.webhookSecret))
	mac.Write(payload)
	got := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return subtle.ConstantTimeCompare([]byte(signature), []byte(got)) == 1
}
