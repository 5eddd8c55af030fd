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

// Package schema defines the typed row schema, the ProductValue wire
// shape, and the splitter/joiner that projects a row onto per-kind
// sub-rows (and joins partial samples back into a full row).
package schema

import "fmt"

// Sparsity tags how a ProductValue's observed mask is represented.
type Sparsity int

const (
	// All fields are present, in type order, with no explicit mask.
	All Sparsity = iota
	// Dense carries one observed bit per feature, in schema order.
	Dense
	// Sparse carries ascending feature indices that are observed.
	Sparse
	// None carries no observations at all.
	None
)

func (s Sparsity) String() string {
	switch s {
	case All:
		return "ALL"
	case Dense:
		return "DENSE"
	case Sparse:
		return "SPARSE"
	case None:
		return "NONE"
	default:
		return fmt.Sprintf("Sparsity(%d)", int(s))
	}
}

// Schema is the fixed, startup-time shape of a row: how many boolean,
// count, and real-valued features it carries. Feature positions are
// addressed in type order: booleans first, then counts, then reals.
type Schema struct {
	Booleans int
	Counts   int
	Reals    int
}

// TotalSize returns the number of feature positions in the schema.
func (s Schema) TotalSize() int {
	return s.Booleans + s.Counts + s.Reals
}

// boolRange, countRange, and realRange return the [start, end) feature
// position range occupied by each field type, in schema order.
func (s Schema) boolRange() (int, int)  { return 0, s.Booleans }
func (s Schema) countRange() (int, int) { return s.Booleans, s.Booleans + s.Counts }
func (s Schema) realRange() (int, int) {
	start := s.Booleans + s.Counts
	return start, start + s.Reals
}

// FeatureType classifies an absolute feature position by its field type.
type FeatureType int

const (
	BooleanFeature FeatureType = iota
	CountFeature
	RealFeature
)

// FeatureType returns the field type of absolute feature position pos.
// It panics if pos is out of range, since that is always a programmer
// error.
func (s Schema) FeatureType(pos int) FeatureType {
	bs, be := s.boolRange()
	cs, ce := s.countRange()
	switch {
	case pos >= bs && pos < be:
		return BooleanFeature
	case pos >= cs && pos < ce:
		return CountFeature
	default:
		rs, re := s.realRange()
		if pos >= rs && pos < re {
			return RealFeature
		}
		panic(fmt.Sprintf("schema: feature position %d out of range for schema %+v", pos, s))
	}
}

// Observed is the mask indicating which feature positions of a
// ProductValue carry a value, under one of the four sparsity tags.
type Observed struct {
	Sparsity Sparsity
	// Dense holds one bit per feature position, valid iff Sparsity == Dense.
	Dense []bool
	// Sparse holds ascending feature positions, valid iff Sparsity == Sparse.
	Sparse []uint32
}

// Value is a product value: a typed, possibly-partial row observation.
type Value struct {
	Observed Observed
	Booleans []bool
	Counts   []int64
	Reals    []float64
}

// Clear resets v to an empty value with the given sparsity tag,
// reusing backing arrays where possible.
func (v *Value) Clear(sparsity Sparsity) {
	v.Observed.Sparsity = sparsity
	v.Observed.Dense = v.Observed.Dense[:0]
	v.Observed.Sparse = v.Observed.Sparse[:0]
	v.Booleans = v.Booleans[:0]
	v.Counts = v.Counts[:0]
	v.Reals = v.Reals[:0]
}

// Validate checks that v's field array lengths agree with its observed
// mask under schema s. A mismatch is a programmer error.
func (v Value) Validate(s Schema) error {
	switch v.Observed.Sparsity {
	case All:
		if len(v.Booleans) != s.Booleans || len(v.Counts) != s.Counts || len(v.Reals) != s.Reals {
			return fmt.Errorf("schema: ALL value field counts %d/%d/%d do not match schema %d/%d/%d",
				len(v.Booleans), len(v.Counts), len(v.Reals), s.Booleans, s.Counts, s.Reals)
		}
	case Dense:
		if len(v.Observed.Dense) != s.TotalSize() {
			return fmt.Errorf("schema: DENSE observed mask has %d entries, want %d", len(v.Observed.Dense), s.TotalSize())
		}
		wantBool, wantCount, wantReal := 0, 0, 0
		bs, be := s.boolRange()
		cs, ce := s.countRange()
		rs, re := s.realRange()
		for i, on := range v.Observed.Dense {
			if !on {
				continue
			}
			switch {
			case i >= bs && i < be:
				wantBool++
			case i >= cs && i < ce:
				wantCount++
			case i >= rs && i < re:
				wantReal++
			}
		}
		if len(v.Booleans) != wantBool || len(v.Counts) != wantCount || len(v.Reals) != wantReal {
			return fmt.Errorf("schema: DENSE value field counts do not match observed mask")
		}
	case Sparse:
		last := -1
		wantBool, wantCount, wantReal := 0, 0, 0
		bs, be := s.boolRange()
		cs, ce := s.countRange()
		rs, re := s.realRange()
		for _, pos := range v.Observed.Sparse {
			if int(pos) <= last {
				return fmt.Errorf("schema: SPARSE observed indices must be strictly ascending")
			}
			last = int(pos)
			switch {
			case int(pos) >= bs && int(pos) < be:
				wantBool++
			case int(pos) >= cs && int(pos) < ce:
				wantCount++
			case int(pos) >= rs && int(pos) < re:
				wantReal++
			default:
				return fmt.Errorf("schema: SPARSE observed index %d out of range", pos)
			}
		}
		if len(v.Booleans) != wantBool || len(v.Counts) != wantCount || len(v.Reals) != wantReal {
			return fmt.Errorf("schema: SPARSE value field counts do not match observed indices")
		}
	case None:
		if len(v.Booleans) != 0 || len(v.Counts) != 0 || len(v.Reals) != 0 {
			return fmt.Errorf("schema: NONE value must carry no fields")
		}
	default:
		return fmt.Errorf("schema: unknown sparsity tag %v", v.Observed.Sparsity)
	}
	return nil
}

// IsValidObserved reports whether an observed mask alone (no field data, as used
// for predict's to_predict mask) is well-formed dense observed data.
func (s Schema) IsValidObserved(o Observed) bool {
	return o.Sparsity == Dense && len(o.Dense) == s.TotalSize()
}
