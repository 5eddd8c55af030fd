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

import (
	"reflect"
	"testing"
)

func TestSplitDenseRoundTrip(t *testing.T) {
	s := Schema{Booleans: 2, Counts: 1, Reals: 0}
	sp, err := NewSplitter(s, []int{0, 0, 1}, 2)
	if err != nil {
		t.Fatalf("NewSplitter: %v", err)
	}

	full := Value{
		Observed: Observed{Sparsity: Dense, Dense: []bool{true, false, true}},
		Booleans: []bool{true},
		Counts:   []int64{7},
	}

	parts, err := sp.Split(full, nil)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	want0 := Value{Observed: Observed{Sparsity: Dense, Dense: []bool{true, false}}, Booleans: []bool{true}}
	want1 := Value{Observed: Observed{Sparsity: Dense, Dense: []bool{true}}, Counts: []int64{7}}
	if !reflect.DeepEqual(parts[0].Observed.Dense, want0.Observed.Dense) || !reflect.DeepEqual(parts[0].Booleans, want0.Booleans) {
		t.Errorf("kind 0 = %+v, want %+v", parts[0], want0)
	}
	if !reflect.DeepEqual(parts[1].Observed.Dense, want1.Observed.Dense) || !reflect.DeepEqual(parts[1].Counts, want1.Counts) {
		t.Errorf("kind 1 = %+v, want %+v", parts[1], want1)
	}

	joined, err := sp.Join(parts)
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if !reflect.DeepEqual(joined.Observed.Dense, full.Observed.Dense) {
		t.Errorf("joined observed = %v, want %v", joined.Observed.Dense, full.Observed.Dense)
	}
	if !reflect.DeepEqual(joined.Booleans, full.Booleans) || !reflect.DeepEqual(joined.Counts, full.Counts) {
		t.Errorf("joined fields = %+v, want %+v", joined, full)
	}
}

func TestSplitSparse(t *testing.T) {
	s := Schema{Booleans: 2, Counts: 2, Reals: 1}
	sp, err := NewSplitter(s, []int{0, 1, 0, 1, 1}, 2)
	if err != nil {
		t.Fatalf("NewSplitter: %v", err)
	}

	full := Value{
		Observed: Observed{Sparsity: Sparse, Sparse: []uint32{0, 2, 3, 4}},
		Booleans: []bool{true},
		Counts:   []int64{5, 6},
		Reals:    []float64{1.5},
	}

	parts, err := sp.Split(full, nil)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if !reflect.DeepEqual(parts[0].Observed.Sparse, []uint32{0, 1}) {
		t.Errorf("kind 0 sparse positions = %v", parts[0].Observed.Sparse)
	}
	if !reflect.DeepEqual(parts[0].Booleans, []bool{true}) || !reflect.DeepEqual(parts[0].Counts, []int64{5}) {
		t.Errorf("kind 0 fields = %+v", parts[0])
	}
	if !reflect.DeepEqual(parts[1].Observed.Sparse, []uint32{1, 2}) {
		t.Errorf("kind 1 sparse positions = %v", parts[1].Observed.Sparse)
	}
	if !reflect.DeepEqual(parts[1].Counts, []int64{6}) || !reflect.DeepEqual(parts[1].Reals, []float64{1.5}) {
		t.Errorf("kind 1 fields = %+v", parts[1])
	}
}

func TestSplitAllDistributesByTypeOrder(t *testing.T) {
	s := Schema{Booleans: 1, Counts: 1, Reals: 1}
	sp, err := NewSplitter(s, []int{0, 1, 1}, 2)
	if err != nil {
		t.Fatalf("NewSplitter: %v", err)
	}
	full := Value{
		Observed: Observed{Sparsity: All},
		Booleans: []bool{true},
		Counts:   []int64{3},
		Reals:    []float64{2.25},
	}
	parts, err := sp.Split(full, nil)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if !reflect.DeepEqual(parts[0].Booleans, []bool{true}) {
		t.Errorf("kind 0 booleans = %v", parts[0].Booleans)
	}
	if !reflect.DeepEqual(parts[1].Counts, []int64{3}) || !reflect.DeepEqual(parts[1].Reals, []float64{2.25}) {
		t.Errorf("kind 1 fields = %+v", parts[1])
	}
}

func TestSplitNoneIsEmpty(t *testing.T) {
	s := Schema{Booleans: 1, Counts: 1}
	sp, err := NewSplitter(s, []int{0, 1}, 2)
	if err != nil {
		t.Fatalf("NewSplitter: %v", err)
	}
	full := Value{Observed: Observed{Sparsity: None}}
	parts, err := sp.Split(full, nil)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	for i, p := range parts {
		if len(p.Booleans) != 0 || len(p.Counts) != 0 || len(p.Reals) != 0 {
			t.Errorf("part %d not empty: %+v", i, p)
		}
	}
}

func TestValidateRejectsMismatch(t *testing.T) {
	s := Schema{Booleans: 2}
	v := Value{Observed: Observed{Sparsity: Dense, Dense: []bool{true, true}}, Booleans: []bool{true}}
	if err := v.Validate(s); err == nil {
		t.Fatalf("expected validation error for mismatched field count")
	}
}
