// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package sampler implements the row sampler (C7): the per-row Gibbs
// step that splits a row, scores it against every kind's mixture, draws
// a group per kind, and commits the result to the assignment store.
package sampler

import (
	"fmt"
	"math"

	"github.com/crosscatproj/crosscat/assign"
	"github.com/crosscatproj/crosscat/kindset"
	"github.com/crosscatproj/crosscat/mixture"
	"github.com/crosscatproj/crosscat/schema"
)

// Softmax draws a group index from unnormalized log-scores, using the
// log-sum-exp pattern: subtract the max before exponentiating so the
// result is invariant to additive shifts of scores.
func Softmax(logScores []float64, rng mixture.Rand) int {
	max := math.Inf(-1)
	for _, s := range logScores {
		if s > max {
			max = s
		}
	}
	probs := make([]float64, len(logScores))
	var total float64
	for i, s := range logScores {
		probs[i] = math.Exp(s - max)
		total += probs[i]
	}
	u := rng.Float64() * total
	var cum float64
	for i, p := range probs {
		cum += p
		if u < cum {
			return i
		}
	}
	return len(probs) - 1
}

// Sampler drives the per-row Gibbs step over a fixed kind set and
// assignment store.
type Sampler struct {
	Kinds *kindset.Set
	Store *assign.Store
}

// New returns a sampler bound to kinds and store.
func New(kinds *kindset.Set, store *assign.Store) *Sampler {
	return &Sampler{Kinds: kinds, Store: store}
}

// TryAddRow implements the Gibbs row-add step:
//  1. Split v into partials via C1.
//  2. For each kind, score the partial against the kind's mixture, draw a
//     group, insert the partial, and record the drawn group's global id.
//  3. Push rowid onto the assignment store.
//
// It returns false, with no side effect, if rowid is already assigned.
func (s *Sampler) TryAddRow(rowid uint64, v schema.Value, rngs []mixture.Rand) (bool, error) {
	if s.Store.Contains(rowid) {
		return false, nil
	}
	if len(rngs) != s.Kinds.KindCount() {
		return false, fmt.Errorf("sampler: expected %d rngs, got %d", s.Kinds.KindCount(), len(rngs))
	}

	partials, err := s.Kinds.ValueSplit(v, nil)
	if err != nil {
		return false, fmt.Errorf("sampler: splitting row %d: %w", rowid, err)
	}

	globalIDs := make([]uint64, s.Kinds.KindCount())
	for k, kind := range s.Kinds.Kinds {
		scores := kind.Mixture.ScoreValue(partials[k], rngs[k])
		g := Softmax(scores, rngs[k])
		kind.Mixture.AddValue(g, partials[k], rngs[k])
		globalIDs[k] = kind.Mixture.IDs().PackedToGlobal(g)
	}

	if err := s.Store.AppendRow(rowid, globalIDs); err != nil {
		// Roll back the mixture inserts; AppendRow fails on a duplicate,
		// which TryAddRow already checked (guarded here against a race
		// between the Contains check and AppendRow under concurrent
		// callers), or when the group-id count differs from the store's
		// kind count.
		for k, kind := range s.Kinds.Kinds {
			packed := kind.Mixture.IDs().GlobalToPacked(globalIDs[k])
			kind.Mixture.RemoveValue(packed, partials[k], rngs[k])
		}
		return false, nil
	}
	return true, nil
}

// RemoveRow is the exact inverse of TryAddRow keyed by the LIFO top:
// pop the row id, look up each kind's packed group id from its stored
// global id, and subtract v's sufficient statistics. The
// caller supplies v (typically from C5's "assigned" cursor).
func (s *Sampler) RemoveRow(v schema.Value, rngs []mixture.Rand) (rowid uint64, err error) {
	rowid, globalIDs, err := s.Store.PopRow()
	if err != nil {
		return 0, fmt.Errorf("sampler: %w", err)
	}
	partials, err := s.Kinds.ValueSplit(v, nil)
	if err != nil {
		return 0, fmt.Errorf("sampler: splitting row %d: %w", rowid, err)
	}
	for k, kind := range s.Kinds.Kinds {
		packed := kind.Mixture.IDs().GlobalToPacked(globalIDs[k])
		kind.Mixture.RemoveValue(packed, partials[k], rngs[k])
	}
	return rowid, nil
}
