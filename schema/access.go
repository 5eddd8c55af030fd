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

package schema

import "sort"

// At returns whether absolute feature position pos is observed in v, and
// if so its value as whichever of b/c/r applies. It accepts any sparsity
// tag. This is a cold-path accessor (linear or binary-search cost) meant
// for the kind-structure sampler's full-model replay, not per-row scoring.
func (v Value) At(s Schema, pos int) (observed bool, b bool, c int64, r float64) {
	switch v.Observed.Sparsity {
	case None:
		return false, false, 0, 0
	case Dense:
		if !v.Observed.Dense[pos] {
			return false, false, 0, 0
		}
	case Sparse:
		i := sort.Search(len(v.Observed.Sparse), func(i int) bool { return v.Observed.Sparse[i] >= uint32(pos) })
		if i == len(v.Observed.Sparse) || int(v.Observed.Sparse[i]) != pos {
			return false, false, 0, 0
		}
	case All:
		// always observed
	}

	bs, be := s.boolRange()
	cs, ce := s.countRange()
	rs, re := s.realRange()
	switch {
	case pos >= bs && pos < be:
		return true, v.Booleans[observedCountBefore(v, bs, pos)], 0, 0
	case pos >= cs && pos < ce:
		return true, false, v.Counts[observedCountBefore(v, cs, pos)], 0
	case pos >= rs && pos < re:
		return true, false, 0, v.Reals[observedCountBefore(v, rs, pos)]
	default:
		return false, false, 0, 0
	}
}

// observedCountBefore counts how many positions in [blockStart, pos) are
// observed in v, which equals the field-array index of position pos
// within its type block.
func observedCountBefore(v Value, blockStart, pos int) int {
	switch v.Observed.Sparsity {
	case All:
		return pos - blockStart
	case Dense:
		n := 0
		for i := blockStart; i < pos; i++ {
			if v.Observed.Dense[i] {
				n++
			}
		}
		return n
	case Sparse:
		lo := sort.Search(len(v.Observed.Sparse), func(i int) bool { return v.Observed.Sparse[i] >= uint32(blockStart) })
		hi := sort.Search(len(v.Observed.Sparse), func(i int) bool { return v.Observed.Sparse[i] >= uint32(pos) })
		return hi - lo
	default:
		return 0
	}
}
