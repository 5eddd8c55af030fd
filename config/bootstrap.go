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

package config

import (
	"fmt"
	"os"

	"github.com/crosscatproj/crosscat/kindset"
	"github.com/crosscatproj/crosscat/mixture"
	"github.com/crosscatproj/crosscat/schema"
	"sigs.k8s.io/yaml"
)

// Bootstrap describes the fixed, startup-time shape of a fresh run: the
// row schema, the initial feature-to-kind partition, and each kind's
// starting model. It is a separate document from Config because it is
// read once at cold start and never rewritten, unlike Config's tunable
// invocation parameters.
type Bootstrap struct {
	Schema     SchemaSpec  `json:"schema"`
	Partition  []int       `json:"partition"`
	Models     []ModelSpec `json:"models"`
	Clustering CRPSpec     `json:"clustering"`
	Grid       []CRPSpec   `json:"grid,omitempty"`
}

// SchemaSpec mirrors schema.Schema for YAML.
type SchemaSpec struct {
	Booleans int `json:"booleans"`
	Counts   int `json:"counts"`
	Reals    int `json:"reals"`
}

// CRPSpec mirrors mixture.CRP for YAML.
type CRPSpec struct {
	Alpha float64 `json:"alpha"`
}

// BetaBernoulliSpec mirrors mixture.BetaBernoulli's prior parameters.
type BetaBernoulliSpec struct {
	Alpha float64 `json:"alpha"`
	Beta  float64 `json:"beta"`
}

// GammaPoissonSpec mirrors mixture.GammaPoisson's prior parameters.
type GammaPoissonSpec struct {
	Shape float64 `json:"shape"`
	Rate  float64 `json:"rate"`
}

// NormalInverseChiSqSpec mirrors mixture.NormalInverseChiSq's prior
// parameters.
type NormalInverseChiSqSpec struct {
	Mu0      float64 `json:"mu0"`
	Kappa0   float64 `json:"kappa0"`
	Nu0      float64 `json:"nu0"`
	Sigma0Sq float64 `json:"sigma0sq"`
}

// ModelSpec is one kind's starting clustering prior plus one
// hyperparameter template per feature it owns, in the same boolean/
// count/real order as schema.Schema.
type ModelSpec struct {
	Clustering CRPSpec                  `json:"clustering"`
	Booleans   []BetaBernoulliSpec      `json:"booleans,omitempty"`
	Counts     []GammaPoissonSpec       `json:"counts,omitempty"`
	Reals      []NormalInverseChiSqSpec `json:"reals,omitempty"`
}

// LoadBootstrap reads and parses a Bootstrap document from path.
func LoadBootstrap(path string) (*Bootstrap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	var b Bootstrap
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return &b, nil
}

// SchemaValue converts b's schema section to schema.Schema.
func (b *Bootstrap) SchemaValue() schema.Schema {
	return schema.Schema{Booleans: b.Schema.Booleans, Counts: b.Schema.Counts, Reals: b.Schema.Reals}
}

// ClusteringValue converts b's row-clustering prior to mixture.CRP.
func (b *Bootstrap) ClusteringValue() mixture.CRP {
	return mixture.CRP{Alpha: b.Clustering.Alpha}
}

// GridValue converts b's hyperparameter grid to []mixture.CRP.
func (b *Bootstrap) GridValue() []mixture.CRP {
	grid := make([]mixture.CRP, len(b.Grid))
	for i, g := range b.Grid {
		grid[i] = mixture.CRP{Alpha: g.Alpha}
	}
	return grid
}

// ModelsValue converts b's per-kind model specs to []*mixture.Model, in
// partition order. Used for a fresh run; a resumed run instead loads its
// models from the previous run's dump via rowio.LoadModels and passes
// them to BuildWithModels, since hyper-inference may have moved the
// priors away from this static bootstrap document.
func (b *Bootstrap) ModelsValue() []*mixture.Model {
	models := make([]*mixture.Model, len(b.Models))
	for i, ms := range b.Models {
		m := &mixture.Model{Clustering: mixture.CRP{Alpha: ms.Clustering.Alpha}}
		for _, bb := range ms.Booleans {
			m.Booleans = append(m.Booleans, mixture.BetaBernoulli{Alpha: bb.Alpha, Beta: bb.Beta})
		}
		for _, cc := range ms.Counts {
			m.Counts = append(m.Counts, mixture.GammaPoisson{Shape: cc.Shape, Rate: cc.Rate})
		}
		for _, rr := range ms.Reals {
			m.Reals = append(m.Reals, mixture.NormalInverseChiSq{
				Mu0: rr.Mu0, Kappa0: rr.Kappa0, Nu0: rr.Nu0, Sigma0Sq: rr.Sigma0Sq,
			})
		}
		models[i] = m
	}
	return models
}

// Build constructs a fresh kindset.Set from b's own model specs, seeding
// each kind's mixture with emptyGroupCount empty candidate groups.
func (b *Bootstrap) Build(emptyGroupCount int) (*kindset.Set, error) {
	return b.BuildWithModels(b.ModelsValue(), emptyGroupCount)
}

// BuildWithModels constructs a kind set using b's schema, partition, and
// clustering priors but an externally supplied models slice — the
// resume path's way of keeping the structural parameters (partition,
// clustering, grid) fixed while using hyperparameters a previous run
// already updated.
func (b *Bootstrap) BuildWithModels(models []*mixture.Model, emptyGroupCount int) (*kindset.Set, error) {
	kinds, err := kindset.New(b.SchemaValue(), b.Partition, models, emptyGroupCount, b.ClusteringValue(), b.GridValue())
	if err != nil {
		return nil, fmt.Errorf("config: building kind set: %w", err)
	}
	return kinds, nil
}
