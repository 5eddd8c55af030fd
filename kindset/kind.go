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

// Package kindset implements the kind set (C4): the ordered list of
// kinds, the feature-to-kind index kept consistent with each kind's
// feature membership, and the feature-level clustering prior used by
// the kind-structure phase.
package kindset

import (
	"fmt"

	"github.com/crosscatproj/crosscat/mixture"
	"github.com/crosscatproj/crosscat/schema"
	"golang.org/x/exp/slices"
)

// Kind is a disjoint subset of feature ids together with the product
// model and mixture over those features.
type Kind struct {
	FeatureIDs []int
	Mixture    *mixture.ProductMixture
	// Ephemeral marks a zero-feature kind appended during the
	// kind-structure phase.
	Ephemeral bool
}

// Set holds the ordered kinds, the featureid_to_kindid index, the
// feature-level clustering prior, and the hyperparameter grid.
type Set struct {
	Schema schema.Schema
	Kinds  []*Kind
	// FeatureToKind maps absolute feature id to packed kind id.
	FeatureToKind []int
	// FeatureClustering is the CRP prior over feature-to-kind
	// assignment, used by the kind-structure sampler (C8), and as the
	// row-clustering prior of a kind added when the grid is empty and
	// the set has no kinds yet (otherwise kind 0's prior is copied).
	FeatureClustering mixture.CRP
	// ClusteringGrid is the hyperparameter grid ephemeral kinds draw
	// their row-clustering prior from.
	ClusteringGrid []mixture.CRP

	splitter *schema.Splitter
}

// New builds a kind set from an initial feature-to-kind partition. Every
// feature id in [0, s.TotalSize()) must appear exactly once across
// partition.
func New(s schema.Schema, partition []int, models []*mixture.Model, emptyGroupCount int, clustering mixture.CRP, grid []mixture.CRP) (*Set, error) {
	if len(partition) != s.TotalSize() {
		return nil, fmt.Errorf("kindset: partition length %d does not match schema size %d", len(partition), s.TotalSize())
	}
	kindCount := 0
	for _, k := range partition {
		if k < 0 {
			return nil, fmt.Errorf("kindset: negative kind id %d in partition", k)
		}
		if k+1 > kindCount {
			kindCount = k + 1
		}
	}
	if len(models) != kindCount {
		return nil, fmt.Errorf("kindset: expected %d models, got %d", kindCount, len(models))
	}

	kinds := make([]*Kind, kindCount)
	for k := range kinds {
		kinds[k] = &Kind{Mixture: mixture.NewProductMixture(models[k], emptyGroupCount)}
	}
	for f, k := range partition {
		kinds[k].FeatureIDs = append(kinds[k].FeatureIDs, f)
	}

	splitter, err := schema.NewSplitter(s, partition, kindCount)
	if err != nil {
		return nil, fmt.Errorf("kindset: %w", err)
	}

	return &Set{
		Schema:            s,
		Kinds:             kinds,
		FeatureToKind:     append([]int(nil), partition...),
		FeatureClustering: clustering,
		ClusteringGrid:    grid,
		splitter:          splitter,
	}, nil
}

// KindCount returns the number of packed kinds.
func (s *Set) KindCount() int { return len(s.Kinds) }

// ValueSplit projects row onto one sub-value per kind, delegating to C1.
func (s *Set) ValueSplit(row schema.Value, out []schema.Value) ([]schema.Value, error) {
	return s.splitter.Split(row, out)
}

// ValueJoin is the inverse of ValueSplit for DENSE partials.
func (s *Set) ValueJoin(partials []schema.Value) (schema.Value, error) {
	return s.splitter.Join(partials)
}

// SplitObserved projects a full DENSE observed mask (no field data)
// across kinds, sizing a predict target before each kind samples into
// it.
func (s *Set) SplitObserved(o schema.Observed) ([]schema.Value, error) {
	return s.splitter.SplitObserved(o)
}

// rebuildSplitter regenerates the C1 splitter after the kind/feature
// partition changes. Called only at barriers.
func (s *Set) rebuildSplitter() error {
	splitter, err := schema.NewSplitter(s.Schema, s.FeatureToKind, len(s.Kinds))
	if err != nil {
		return fmt.Errorf("kindset: rebuilding splitter: %w", err)
	}
	s.splitter = splitter
	return nil
}

// PackedAddKind appends a new kind. If ephemeral is true the kind starts
// with no features and is seeded with a row-clustering prior drawn from
// the hyperparameter grid (or copied from kind 0 when the grid is
// empty). rowCount is the number of rows already assigned across the
// set: the caller's matching assign.Store.PackedAddKind call puts every
// one of those rows into the new kind's group 0, so the mixture's own
// row counts are initialized to agree via InitUnobserved rather than
// starting all groups empty.
func (s *Set) PackedAddKind(rowCount, emptyGroupCount int, ephemeral bool, rng mixture.Rand) int {
	var clustering mixture.CRP
	if len(s.ClusteringGrid) > 0 {
		clustering = mixture.SampleClusteringPrior(s.ClusteringGrid, rng)
	} else if len(s.Kinds) > 0 {
		clustering = s.Kinds[0].Mixture.Model.Clustering
	} else {
		clustering = s.FeatureClustering
	}
	model := mixture.NewFeaturelessModel(clustering)
	mix := mixture.NewProductMixture(model, emptyGroupCount)
	if rowCount > 0 {
		counts := make([]int, emptyGroupCount+1)
		counts[0] = rowCount
		mix.InitUnobserved(counts, rng)
	}
	k := &Kind{Mixture: mix, Ephemeral: ephemeral}
	s.Kinds = append(s.Kinds, k)
	return len(s.Kinds) - 1
}

// PackedRemoveKind removes kind kindID, swapping the last kind into its
// place and fixing up featureid_to_kindid for whichever kind moved.
func (s *Set) PackedRemoveKind(kindID int) error {
	last := len(s.Kinds) - 1
	if kindID != last {
		moved := s.Kinds[last]
		s.Kinds[kindID] = moved
		for _, f := range moved.FeatureIDs {
			s.FeatureToKind[f] = kindID
		}
	}
	s.Kinds = s.Kinds[:last]
	return s.rebuildSplitter()
}

// MoveFeature repoints feature f from its current kind to kind
// newKindID, updating both kinds' FeatureIDs and featureid_to_kindid.
// FeatureIDs is kept sorted ascending, matching the type-local ordering
// schema.Splitter and mixture.Model both assume. It does not touch
// sufficient statistics; callers (the kind-structure sampler) are
// responsible for moving the mixture columns via mixture.ProductMixture's
// Extract/Insert methods before or after this call.
func (s *Set) MoveFeature(f, newKindID int) error {
	oldKindID := s.FeatureToKind[f]
	if oldKindID == newKindID {
		return nil
	}
	old := s.Kinds[oldKindID]
	if i := slices.Index(old.FeatureIDs, f); i >= 0 {
		old.FeatureIDs = slices.Delete(old.FeatureIDs, i, i+1)
	}
	nw := s.Kinds[newKindID]
	insertAt, _ := slices.BinarySearch(nw.FeatureIDs, f)
	nw.FeatureIDs = slices.Insert(nw.FeatureIDs, insertAt, f)
	s.FeatureToKind[f] = newKindID
	return s.rebuildSplitter()
}

// Validate checks that every feature belongs to exactly one kind,
// consistently indexed both ways.
func (s *Set) Validate() error {
	seen := make([]bool, len(s.FeatureToKind))
	for k, kind := range s.Kinds {
		for _, f := range kind.FeatureIDs {
			if f < 0 || f >= len(s.FeatureToKind) {
				return fmt.Errorf("kindset: kind %d claims out-of-range feature %d", k, f)
			}
			if seen[f] {
				return fmt.Errorf("kindset: feature %d claimed by more than one kind", f)
			}
			seen[f] = true
			if s.FeatureToKind[f] != k {
				return fmt.Errorf("kindset: featureid_to_kindid[%d]=%d disagrees with kind %d's membership", f, s.FeatureToKind[f], k)
			}
		}
	}
	for f, ok := range seen {
		if !ok {
			return fmt.Errorf("kindset: feature %d belongs to no kind", f)
		}
	}
	return nil
}

// InferHypers runs C3's per-kind hyperparameter inference, plus one
// sweep over the feature clustering prior grid.
func (s *Set) InferHypers(rng mixture.Rand) {
	for _, k := range s.Kinds {
		k.Mixture.InferHypers(rng)
	}
	if len(s.ClusteringGrid) > 0 {
		s.FeatureClustering = mixture.SampleClusteringPrior(s.ClusteringGrid, rng)
	}
}

// ScoreData returns the joint log-probability of the current assignment,
// summed across kinds. Used by posterior-enumeration diagnostics.
func (s *Set) ScoreData(rng mixture.Rand) float64 {
	total := 0.0
	for _, k := range s.Kinds {
		total += k.Mixture.ScoreData(rng)
	}
	return total
}
