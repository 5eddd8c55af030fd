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

package mixture

// Model holds one kind's row-clustering prior plus, for every feature
// currently owned by that kind, a hyperparameter template (zero
// sufficient statistics, just the conjugate prior parameters). Feature
// order within each slice follows ascending absolute feature id, which
// is also how schema.Splitter lays out kind-local positions.
type Model struct {
	Clustering CRP
	Booleans   []BetaBernoulli
	Counts     []GammaPoisson
	Reals      []NormalInverseChiSq
}

// FeatureCount returns the number of features this model currently owns.
func (m *Model) FeatureCount() int {
	return len(m.Booleans) + len(m.Counts) + len(m.Reals)
}

// Clone returns a deep copy. Seeding an ephemeral kind from kind 0 (when
// the hyperparameter grid is empty) copies only kind 0's Clustering and
// does not call Clone.
func (m *Model) Clone() *Model {
	return &Model{
		Clustering: m.Clustering,
		Booleans:   append([]BetaBernoulli(nil), m.Booleans...),
		Counts:     append([]GammaPoisson(nil), m.Counts...),
		Reals:      append([]NormalInverseChiSq(nil), m.Reals...),
	}
}

// NewFeaturelessModel returns a model with no features, used for
// ephemeral kinds.
func NewFeaturelessModel(clustering CRP) *Model {
	return &Model{Clustering: clustering}
}
