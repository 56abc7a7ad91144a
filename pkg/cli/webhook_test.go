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
	"testing"
	"time"

	"github.com/abcxyz/pkg/cli"
	"github.com/abcxyz/pkg/logging"
	"github.com/abcxyz/pkg/testutil"
	"github.com/sethvargo/go-envconfig"
)

func TestWebhookServerCommand_RunUnstarted(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		args   []string
		env    map[string]string
		expErr string
	}{
		{
			name:   "too_many_args",
			args:   []string{"foo"},
			expErr: `unexpected arguments: ["foo"]`,
		},
		{
			name: "missing_webhook_secret",
			env: map[string]string{
				"WEBHOOK_URL": "https://mirror.example.com/webhook",
			},
			expErr: `GITHUB_WEBHOOK_SECRET is required`,
		},
		{
			name: "missing_webhook_url",
			env: map[string]string{
				"GITHUB_WEBHOOK_SECRET": "test-secret",
			},
			expErr: `WEBHOOK_URL is required`,
		},
		{
			name: "app_id_without_private_key",
			env: map[string]string{
				"GITHUB_WEBHOOK_SECRET": "test-secret",
				"WEBHOOK_URL":           "https://mirror.example.com/webhook",
				"GITHUB_APP_ID":         "1234",
			},
			expErr: `GITHUB_PRIVATE_KEY is required when GITHUB_APP_ID is set`,
		},
		{
			name: "invalid_retry_backoff",
			env: map[string]string{
				"GITHUB_WEBHOOK_SECRET": "test-secret",
				"WEBHOOK_URL":           "https://mirror.example.com/webhook",
				"RETRY_BACKOFF_BASE":    "1h",
				"RETRY_BACKOFF_MAX":     "1m",
			},
			expErr: `RETRY_BACKOFF_MAX must be at least RETRY_BACKOFF_BASE`,
		},
		{
			name: "happy_path",
			env: map[string]string{
				"GITHUB_WEBHOOK_SECRET": "test-secret",
				"WEBHOOK_URL":           "https://mirror.example.com/webhook",
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ctx := logging.WithLogger(context.Background(), logging.TestLogger(t))

			var cmd WebhookServerCommand
			cmd.testFlagSetOpts = []cli.Option{
				cli.WithLookupEnv(envconfig.MultiLookuper(
					envconfig.MapLookuper(tc.env),
					envconfig.MapLookuper(map[string]string{"PORT": "0"}),
				).Lookup),
			}
			_, _, _ = cmd.Pipe()

			srv, mux, err := cmd.RunUnstarted(ctx, tc.args)
			if diff := testutil.DiffErrString(err, tc.expErr); diff != "" {
				t.Fatal(diff)
			}
			if err != nil {
				return
			}

			serverCtx, serverDone := context.WithCancel(ctx)
			defer serverDone()
			go func() {
				_ = srv.StartHTTPHandler(serverCtx, mux)
			}()

			client := &http.Client{Timeout: 5 * time.Second}
			uri := fmt.Sprintf("http://%s/healthz", srv.Addr())

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
			if err != nil {
				t.Fatal(err)
			}
			resp, err := client.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			if got, want := resp.StatusCode, http.StatusOK; got != want {
				t.Errorf("expected status %d to be %d", got, want)
			}
		})
	}
}
