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

package structure

import (
	"fmt"

	"github.com/crosscatproj/crosscat/mixture"
	"github.com/crosscatproj/crosscat/schema"
)

var (
	defaultBetaBernoulli      = mixture.BetaBernoulli{Alpha: 1, Beta: 1}
	defaultGammaPoisson       = mixture.GammaPoisson{Shape: 1, Rate: 1}
	defaultNormalInverseChiSq = mixture.NormalInverseChiSq{Mu0: 0, Kappa0: 1, Nu0: 1, Sigma0Sq: 1}
)

// column is one feature's sufficient statistics under one candidate
// kind, indexed by that kind's packed group id: a second mixture keyed
// by kind id that holds sufficient statistics as if the feature were in
// that kind. logLik caches the sequential predictive
// log likelihood of the column accumulated while it was built, which is
// exactly the Gibbs conditional's likelihood term and does not change
// until the mirror is rebuilt.
type column struct {
	booleans []mixture.BetaBernoulli
	counts   []mixture.GammaPoisson
	reals    []mixture.NormalInverseChiSq
	logLik   float64
}

func newColumn(ft schema.FeatureType, groupCount int) column {
	var c column
	switch ft {
	case schema.BooleanFeature:
		c.booleans = make([]mixture.BetaBernoulli, groupCount)
		for i := range c.booleans {
			c.booleans[i] = defaultBetaBernoulli
		}
	case schema.CountFeature:
		c.counts = make([]mixture.GammaPoisson, groupCount)
		for i := range c.counts {
			c.counts[i] = defaultGammaPoisson
		}
	case schema.RealFeature:
		c.reals = make([]mixture.NormalInverseChiSq, groupCount)
		for i := range c.reals {
			c.reals[i] = defaultNormalInverseChiSq
		}
	}
	return c
}

// observe folds one more value into group's accumulator, scoring it
// under the column's current state before adding it in (the same
// Score-then-Add composition mixture.ProductMixture uses per row), so
// logLik accumulates the exact marginal log likelihood of the column
// regardless of replay order.
func (c *column) observe(ft schema.FeatureType, group int, b bool, cnt int64, r float64) {
	switch ft {
	case schema.BooleanFeature:
		c.logLik += c.booleans[group].Score(b)
		c.booleans[group].Add(b)
	case schema.CountFeature:
		c.logLik += c.counts[group].Score(cnt)
		c.counts[group].Add(cnt)
	case schema.RealFeature:
		c.logLik += c.reals[group].Score(r)
		c.reals[group].Add(r)
	}
}

// buildColumn replays every assigned row's full value at absolute
// feature position f through candidate kind k's existing row grouping. A
// row unobserved at f is simply skipped rather than folded in as a
// distinguished missing value: the per-cell conjugate families carry no
// such symbol.
func (s *Sampler) buildColumn(f, k int) (column, error) {
	sch := s.Kinds.Schema
	ft := sch.FeatureType(f)
	kind := s.Kinds.Kinds[k]
	col := newColumn(ft, kind.Mixture.GroupCount())

	rowIDs := s.Store.RowIDs()
	groupIDs := s.Store.GroupIDs(k)
	for i, rowid := range rowIDs {
		full, err := s.Rows.Row(rowid)
		if err != nil {
			return column{}, fmt.Errorf("structure: loading row %d: %w", rowid, err)
		}
		observed, b, c, r := full.At(sch, f)
		if !observed {
			continue
		}
		packed := kind.Mixture.IDs().GlobalToPacked(groupIDs[i])
		col.observe(ft, packed, b, c, r)
	}
	return col, nil
}

// typeLocalPos counts how many feature ids of the same type as f, among
// featureIDs, sort strictly before f. featureIDs must be kept sorted
// ascending (kindset.Set.MoveFeature maintains this); the result is
// exactly the kind-local position schema.Splitter and mixture.Model use
// for that type, whether or not f itself is present in featureIDs.
func typeLocalPos(featureIDs []int, sch schema.Schema, ft schema.FeatureType, f int) int {
	pos := 0
	for _, id := range featureIDs {
		if id >= f {
			break
		}
		if sch.FeatureType(id) == ft {
			pos++
		}
	}
	return pos
}
