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

// Package structure implements the kind-structure sampler (C8): an
// auxiliary-variable Gibbs sampler over the feature-to-kind assignment,
// run in prepare/run/cleanup phases against a pool of ephemeral kinds.
package structure

import (
	"fmt"
	"math"

	"github.com/crosscatproj/crosscat/assign"
	"github.com/crosscatproj/crosscat/kindset"
	"github.com/crosscatproj/crosscat/mixture"
	"github.com/crosscatproj/crosscat/sampler"
	"github.com/crosscatproj/crosscat/schema"
	"github.com/crosscatproj/crosscat/workerpool"
)

// ErrUntrackedRows is returned by Prepare when some kind's mixture row
// count disagrees with the assignment store.
var ErrUntrackedRows = fmt.Errorf("structure: mixture row counts disagree with the assignment store")

// RowProvider resolves a row id to its full (unsplit) value, needed to
// replay the full-model mirror against features a row's owning kind
// does not currently host.
type RowProvider interface {
	Row(rowid uint64) (schema.Value, error)
}

// Status reports one Run call's progress.
type Status struct {
	TotalCount  int
	ChangeCount int
}

// Sampler drives one kind-structure phase over a fixed kind set and
// assignment store. A Sampler is meant to be prepared, run for a handful
// of sweeps, and cleaned up again; it does not survive across row-level
// add/remove batches: C8 mutates the kind set and feature index, and
// those mutations happen only while the pool is drained.
type Sampler struct {
	Kinds *kindset.Set
	Store *assign.Store
	Rows  RowProvider
	Rng   mixture.Rand

	// Pool and Process are optional; when both are set, Prepare and
	// Cleanup resize the worker pool to track the kind count.
	Pool    *workerpool.Pool
	Process workerpool.Process

	EphemeralKindCount int
	EmptyGroupCount    int
	MaxRejectIters     int

	mirror       [][]column // mirror[featureID][kindID]
	rejectStreak int
}

// New returns a kind-structure sampler bound to kinds and store.
func New(kinds *kindset.Set, store *assign.Store, rows RowProvider, rng mixture.Rand, ephemeralKindCount, emptyGroupCount, maxRejectIters int) *Sampler {
	return &Sampler{
		Kinds:              kinds,
		Store:              store,
		Rows:               rows,
		Rng:                rng,
		EphemeralKindCount: ephemeralKindCount,
		EmptyGroupCount:    emptyGroupCount,
		MaxRejectIters:     maxRejectIters,
	}
}

// Prepare enters the kind-structure phase: it checks that every kind's
// mixture row count agrees with the assignment store, appends ephemeral
// kinds, resizes the pool, and builds the full-model mirror from scratch
// by replaying every assigned row.
func (s *Sampler) Prepare() error {
	for _, kind := range s.Kinds.Kinds {
		if kind.Mixture.CountRows() != s.Store.RowCount() {
			return ErrUntrackedRows
		}
	}
	for i := 0; i < s.EphemeralKindCount; i++ {
		s.addEphemeralKind()
	}
	if s.Pool != nil && s.Process != nil {
		s.Pool.Resize(s.Kinds.KindCount(), s.Process)
	}
	s.rejectStreak = 0
	return s.rebuildMirror()
}

func (s *Sampler) rebuildMirror() error {
	n := s.Kinds.Schema.TotalSize()
	kindCount := s.Kinds.KindCount()
	mirror := make([][]column, n)
	for f := 0; f < n; f++ {
		cols := make([]column, kindCount)
		for k := 0; k < kindCount; k++ {
			col, err := s.buildColumn(f, k)
			if err != nil {
				return err
			}
			cols[k] = col
		}
		mirror[f] = cols
	}
	s.mirror = mirror
	return nil
}

func (s *Sampler) addEphemeralKind() int {
	kindID := s.Kinds.PackedAddKind(s.Store.RowCount(), s.EmptyGroupCount, true, s.Rng)
	s.Store.PackedAddKind()
	return kindID
}

// removeKind drops kind kindID everywhere it is tracked: the kind set,
// the assignment store, and every feature's mirror row, all via the
// same swap-with-last pattern so the three stay index-congruent.
func (s *Sampler) removeKind(kindID int) error {
	if err := s.Kinds.PackedRemoveKind(kindID); err != nil {
		return fmt.Errorf("structure: %w", err)
	}
	s.Store.PackedRemoveKind(kindID)
	last := len(s.mirror[0]) - 1
	for f := range s.mirror {
		if kindID != last {
			s.mirror[f][kindID] = s.mirror[f][last]
		}
		s.mirror[f] = s.mirror[f][:last]
	}
	return nil
}

func (s *Sampler) addEphemeralKindAndSeedMirror() error {
	s.addEphemeralKind()
	k := len(s.Kinds.Kinds) - 1
	for f := range s.mirror {
		col, err := s.buildColumn(f, k)
		if err != nil {
			return err
		}
		s.mirror[f] = append(s.mirror[f], col)
	}
	return nil
}

// rebuildEphemeralKinds drops every now-empty kind and tops the
// ephemeral pool back up to its target count, re-seeding the mirror for
// each new kind.
func (s *Sampler) rebuildEphemeralKinds() error {
	for i := 0; i < len(s.Kinds.Kinds); {
		if len(s.Kinds.Kinds[i].FeatureIDs) == 0 {
			if err := s.removeKind(i); err != nil {
				return err
			}
			continue
		}
		i++
	}
	for i := 0; i < s.EphemeralKindCount; i++ {
		if err := s.addEphemeralKindAndSeedMirror(); err != nil {
			return err
		}
	}
	return nil
}

// Run performs `iterations` sweeps over every feature, Gibbs-sampling a
// new host kind for each from its full-model mirror conditionals, moving
// sufficient statistics for any feature that changed kind, then
// rebuilding the ephemeral kind pool. The returned Status reflects the
// final sweep: total_count is the feature count considered in that
// sweep, change_count how many of them moved.
func (s *Sampler) Run(iterations int) (Status, error) {
	var status Status
	n := s.Kinds.Schema.TotalSize()
	for iter := 0; iter < iterations; iter++ {
		changed := 0
		for f := 0; f < n; f++ {
			newKind := s.resample(f)
			if newKind != s.Kinds.FeatureToKind[f] {
				if err := s.moveFeature(f, newKind); err != nil {
					return status, err
				}
				changed++
			}
		}
		if err := s.rebuildEphemeralKinds(); err != nil {
			return status, err
		}
		status = Status{TotalCount: n, ChangeCount: changed}
		if changed == 0 {
			s.rejectStreak++
		} else {
			s.rejectStreak = 0
		}
	}
	return status, nil
}

// resample draws feature f's host kind from the CRP-over-feature-
// membership prior combined with the mirror's cached column likelihood.
func (s *Sampler) resample(f int) int {
	kindCount := s.Kinds.KindCount()
	oldKind := s.Kinds.FeatureToKind[f]
	alpha := s.Kinds.FeatureClustering.Alpha
	scores := make([]float64, kindCount)
	for k := 0; k < kindCount; k++ {
		count := len(s.Kinds.Kinds[k].FeatureIDs)
		if k == oldKind {
			count--
		}
		var prior float64
		if count > 0 {
			prior = math.Log(float64(count))
		} else {
			prior = math.Log(alpha)
		}
		scores[k] = prior + s.mirror[f][k].logLik
	}
	return sampler.Softmax(scores, s.Rng)
}

// moveFeature relocates feature f's sufficient statistics from its
// current kind to newKind. The statistics extracted from the old kind
// are discarded rather than reinserted: they are grouped by the old
// kind's row clustering, which has no correspondence to newKind's. The
// mirror's column for (f, newKind), already grouped correctly by replay,
// is installed in its place.
func (s *Sampler) moveFeature(f, newKind int) error {
	sch := s.Kinds.Schema
	oldKind := s.Kinds.FeatureToKind[f]
	old := s.Kinds.Kinds[oldKind]
	nw := s.Kinds.Kinds[newKind]
	ft := sch.FeatureType(f)

	oldPos := typeLocalPos(old.FeatureIDs, sch, ft, f)
	newPos := typeLocalPos(nw.FeatureIDs, sch, ft, f)
	col := s.mirror[f][newKind]

	switch ft {
	case schema.BooleanFeature:
		old.Mixture.ExtractBoolean(oldPos)
		nw.Mixture.InsertBoolean(newPos, col.booleans, defaultBetaBernoulli)
	case schema.CountFeature:
		old.Mixture.ExtractCount(oldPos)
		nw.Mixture.InsertCount(newPos, col.counts, defaultGammaPoisson)
	case schema.RealFeature:
		old.Mixture.ExtractReal(oldPos)
		nw.Mixture.InsertReal(newPos, col.reals, defaultNormalInverseChiSq)
	}
	return s.Kinds.MoveFeature(f, newKind)
}

// IsMixing reports whether the chain is still making progress: false
// once MaxRejectIters consecutive zero-change sweeps have elapsed.
func (s *Sampler) IsMixing() bool {
	return s.rejectStreak < s.MaxRejectIters
}

// Cleanup exits the kind-structure phase: drops the full-model mirror
// and every now-empty kind, leaving exactly the featureful kinds, and
// shrinks the worker pool to match.
func (s *Sampler) Cleanup() error {
	for i := 0; i < len(s.Kinds.Kinds); {
		if len(s.Kinds.Kinds[i].FeatureIDs) == 0 {
			if err := s.removeKind(i); err != nil {
				return err
			}
			continue
		}
		i++
	}
	s.mirror = nil
	if s.Pool != nil && s.Process != nil {
		s.Pool.Resize(s.Kinds.KindCount(), s.Process)
	}
	return nil
}
