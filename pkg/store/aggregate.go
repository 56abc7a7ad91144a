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

import (
	"strings"

	"github.com/google/btree"
)

// aggBucket is one exact-key counter inside an Aggregate.
type aggBucket struct {
	key   string
	count int
}

// Aggregate is a keyed counter set that answers point and prefix counts
// without scanning the underlying tables. Buckets live in a btree ordered by
// key, so a point lookup is O(log n) and a prefix count touches only the
// buckets under that prefix.
//
// Aggregate is not safe for concurrent use; the owning store serializes
// access under its own lock.
type Aggregate struct {
	tree *btree.BTreeG[aggBucket]
}

// NewAggregate creates an empty aggregate.
func NewAggregate() *Aggregate {
	return &Aggregate{
		tree: btree.NewG[aggBucket](16, func(a, b aggBucket) bool {
			return a.key < b.key
		}),
	}
}

// Incr adds one to the bucket for key.
func (a *Aggregate) Incr(key string) {
	b, ok := a.tree.Get(aggBucket{key: key})
	if !ok {
		a.tree.ReplaceOrInsert(aggBucket{key: key, count: 1})
		return
	}
	b.count++
	a.tree.ReplaceOrInsert(b)
}

// Decr subtracts one from the bucket for key, deleting it at zero. Decrement
// of an absent bucket is a no-op so replayed deletes stay idempotent.
func (a *Aggregate) Decr(key string) {
	b, ok := a.tree.Get(aggBucket{key: key})
	if !ok {
		return
	}
	b.count--
	if b.count <= 0 {
		a.tree.Delete(b)
		return
	}
	a.tree.ReplaceOrInsert(b)
}

// Get returns the exact count for key.
func (a *Aggregate) Get(key string) int {
	b, ok := a.tree.Get(aggBucket{key: key})
	if !ok {
		return 0
	}
	return b.count
}

// CountPrefix sums every bucket whose key starts with prefix.
func (a *Aggregate) CountPrefix(prefix string) int {
	total := 0
	a.tree.AscendGreaterOrEqual(aggBucket{key: prefix}, func(b aggBucket) bool {
		if !strings.HasPrefix(b.key, prefix) {
			return false
		}
		total += b.count
		return true
	})
	return total
}
