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

package store

import "testing"

func TestAggregate_PointCounts(t *testing.T) {
	t.Parallel()

	a := NewAggregate()
	a.Incr("pr/r1/open")
	a.Incr("pr/r1/open")
	a.Incr("pr/r1/closed")

	if got := a.Get("pr/r1/open"); got != 2 {
		t.Errorf("Get(open) = %d, want 2", got)
	}
	if got := a.Get("pr/r1/missing"); got != 0 {
		t.Errorf("Get(missing) = %d, want 0", got)
	}

	a.Decr("pr/r1/open")
	a.Decr("pr/r1/open")
	if got := a.Get("pr/r1/open"); got != 0 {
		t.Errorf("Get(open) after drain = %d, want 0", got)
	}

	// Decrement of an absent bucket must stay a no-op so replayed deletes
	// cannot drive counts negative.
	a.Decr("pr/r1/open")
	if got := a.Get("pr/r1/open"); got != 0 {
		t.Errorf("Get(open) after extra decr = %d, want 0", got)
	}
}

func TestAggregate_CountPrefix(t *testing.T) {
	t.Parallel()

	a := NewAggregate()
	a.Incr("issue/r1/open")
	a.Incr("issue/r1/open")
	a.Incr("issue/r1/closed")
	a.Incr("issue/r2/open")

	cases := []struct {
		name   string
		prefix string
		exp    int
	}{
		{name: "single_repo", prefix: "issue/r1/", exp: 3},
		{name: "all_issues", prefix: "issue/", exp: 4},
		{name: "no_match", prefix: "pr/", exp: 0},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if got := a.CountPrefix(tc.prefix); got != tc.exp {
				t.Errorf("CountPrefix(%q) = %d, want %d", tc.prefix, got, tc.exp)
			}
		})
	}
}

func TestCursorRoundTrip(t *testing.T) {
	t.Parallel()

	key := "r1\x00000000000042"
	got, err := DecodeCursor(EncodeCursor(key))
	if err != nil {
		t.Fatal(err)
	}
	if got != key {
		t.Errorf("round trip returned %q, want %q", got, key)
	}

	empty, err := DecodeCursor("")
	if err != nil {
		t.Fatal(err)
	}
	if empty != "" {
		t.Errorf("empty cursor decoded to %q", empty)
	}

	if _, err := DecodeCursor("%%%not-base64%%%"); err == nil {
		t.Errorf("expected malformed cursor to error")
	}
}
