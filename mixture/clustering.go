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

// CRP is a Chinese Restaurant Process clustering prior, used both as the
// per-kind row-clustering prior and as the feature-to-kind clustering
// prior.
type CRP struct {
	Alpha float64
}

// SampleAssignments draws a CRP partition of n exchangeable items,
// returning a 0-based group id per item in arrival order. Nothing in the
// module calls it: ephemeral kinds start with every row in group 0
// (kindset.Set.PackedAddKind).
func (c CRP) SampleAssignments(n int, rng Rand) []int {
	assignments := make([]int, n)
	counts := make([]int, 0, 8)
	for i := 0; i < n; i++ {
		total := float64(i) + c.Alpha
		u := rng.Float64() * total
		var cum float64
		chosen := len(counts)
		for g, cnt := range counts {
			cum += float64(cnt)
			if u < cum {
				chosen = g
				break
			}
		}
		if chosen == len(counts) {
			counts = append(counts, 1)
		} else {
			counts[chosen]++
		}
		assignments[i] = chosen
	}
	return assignments
}

// SampleClusteringPrior picks a CRP from a non-empty hyperparameter grid.
// Real hyper-inference would weight grid points by their posterior
// likelihood; this reference implementation picks uniformly, which is
// sufficient to exercise ephemeral kind seeding end to end.
func SampleClusteringPrior(grid []CRP, rng Rand) CRP {
	if len(grid) == 0 {
		panic("mixture: empty clustering grid")
	}
	i := int(rng.Float64() * float64(len(grid)))
	if i >= len(grid) {
		i = len(grid) - 1
	}
	return grid[i]
}
