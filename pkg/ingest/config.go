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

package ingest

import (
	"errors"
	"fmt"
	"time"

	"github.com/abcxyz/pkg/cli"
)

// Config controls raw-event processing and the retry/dead-letter sweeps.
type Config struct {
	// EventMaxAttempts is the number of dispatch attempts before a raw
	// event is marked terminally failed.
	EventMaxAttempts int

	// RetryBackoffBase is the first retry delay; each subsequent attempt
	// doubles it up to RetryBackoffMax.
	RetryBackoffBase time.Duration
	RetryBackoffMax  time.Duration

	// RetrySweepInterval is how often due retry events are re-dispatched.
	RetrySweepInterval time.Duration

	// DeadLetterSweepInterval is how often failed events are promoted to
	// the dead-letter log.
	DeadLetterSweepInterval time.Duration

	// DeadLetterAge is how long a failed event sits before promotion.
	DeadLetterAge time.Duration
}

// Validate validates the processor config after load.
func (cfg *Config) Validate() error {
	var merr error

	if cfg.EventMaxAttempts <= 0 {
		merr = errors.Join(merr, fmt.Errorf("EVENT_MAX_ATTEMPTS is required and must be greater than 0"))
	}
	if cfg.RetryBackoffBase <= 0 {
		merr = errors.Join(merr, fmt.Errorf("RETRY_BACKOFF_BASE is required and must be a positive duration"))
	}
	if cfg.RetryBackoffMax < cfg.RetryBackoffBase {
		merr = errors.Join(merr, fmt.Errorf("RETRY_BACKOFF_MAX must be at least RETRY_BACKOFF_BASE"))
	}

	return merr
}

// ToFlags binds the config to a [cli.FlagSet] and returns it.
func (cfg *Config) ToFlags(set *cli.FlagSet) *cli.FlagSet {
	f := set.NewSection("EVENT PROCESSING OPTIONS")

	f.IntVar(&cli.IntVar{
		Name:    "event-max-attempts",
		Target:  &cfg.EventMaxAttempts,
		EnvVar:  "EVENT_MAX_ATTEMPTS",
		Default: 5,
		Usage:   `The number of dispatch attempts before an event is marked failed.`,
	})

	f.DurationVar(&cli.DurationVar{
		Name:    "retry-backoff-base",
		Target:  &cfg.RetryBackoffBase,
		EnvVar:  "RETRY_BACKOFF_BASE",
		Default: 1 * time.Minute,
		Usage:   `The first retry delay; later attempts double it.`,
	})

	f.DurationVar(&cli.DurationVar{
		Name:    "retry-backoff-max",
		Target:  &cfg.RetryBackoffMax,
		EnvVar:  "RETRY_BACKOFF_MAX",
		Default: 30 * time.Minute,
		Usage:   `The ceiling on the retry delay.`,
	})

	f.DurationVar(&cli.DurationVar{
		Name:    "retry-sweep-interval",
		Target:  &cfg.RetrySweepInterval,
		EnvVar:  "RETRY_SWEEP_INTERVAL",
		Default: 30 * time.Second,
		Usage:   `How often due retry events are re-dispatched.`,
	})

	f.DurationVar(&cli.DurationVar{
		Name:    "dead-letter-sweep-interval",
		Target:  &cfg.DeadLetterSweepInterval,
		EnvVar:  "DEAD_LETTER_SWEEP_INTERVAL",
		Default: 1 * time.Minute,
		Usage:   `How often failed events are promoted to the dead-letter log.`,
	})

	f.DurationVar(&cli.DurationVar{
		Name:    "dead-letter-age",
		Target:  &cfg.DeadLetterAge,
		EnvVar:  "DEAD_LETTER_AGE",
		Default: 24 * time.Hour,
		Usage:   `How long a failed event sits before dead-letter promotion.`,
	})

	return set
}
