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

import "fmt"

// Splitter projects full rows onto per-kind sub-rows given a feature
// partition, and joins per-kind partial samples back into a full row.
// Join is defined only for DENSE partials.
type Splitter struct {
	schema       Schema
	fullToPartID []int
	fullToPart   []int
	partSchemas  []Schema

	// scratch reused across Join calls.
	absPos    []int
	packedPos []int
}

// NewSplitter builds a Splitter from a feature partition
// full_to_partid : featureid -> kindid.
func NewSplitter(s Schema, fullToPartID []int, partCount int) (*Splitter, error) {
	if len(fullToPartID) != s.TotalSize() {
		return nil, fmt.Errorf("schema: full_to_partid has %d entries, schema has %d features", len(fullToPartID), s.TotalSize())
	}
	for _, id := range fullToPartID {
		if id < 0 || id >= partCount {
			return nil, fmt.Errorf("schema: partition id %d out of range [0,%d)", id, partCount)
		}
	}

	sp := &Splitter{
		schema:       s,
		fullToPartID: append([]int(nil), fullToPartID...),
		fullToPart:   make([]int, s.TotalSize()),
		partSchemas:  make([]Schema, partCount),
	}

	bs, be := s.boolRange()
	for pos := bs; pos < be; pos++ {
		ps := &sp.partSchemas[sp.fullToPartID[pos]]
		sp.fullToPart[pos] = ps.Booleans
		ps.Booleans++
	}
	cs, ce := s.countRange()
	for pos := cs; pos < ce; pos++ {
		ps := &sp.partSchemas[sp.fullToPartID[pos]]
		sp.fullToPart[pos] = ps.Counts
		ps.Counts++
	}
	rs, re := s.realRange()
	for pos := rs; pos < re; pos++ {
		ps := &sp.partSchemas[sp.fullToPartID[pos]]
		sp.fullToPart[pos] = ps.Reals
		ps.Reals++
	}

	return sp, nil
}

// PartSchema returns the schema of the kind-local sub-row for part id k.
func (sp *Splitter) PartSchema(k int) Schema { return sp.partSchemas[k] }

// PartCount returns the number of parts (kinds) this splitter targets.
func (sp *Splitter) PartCount() int { return len(sp.partSchemas) }

// Split partitions full into one Value per kind, preserving the source's
// sparsity tag.
func (sp *Splitter) Split(full Value, out []Value) ([]Value, error) {
	if err := full.Validate(sp.schema); err != nil {
		return nil, err
	}
	out = growValues(out, len(sp.partSchemas))
	for i := range out {
		out[i].Clear(full.Observed.Sparsity)
	}

	switch full.Observed.Sparsity {
	case All:
		sp.splitAll(full, out)
	case Dense:
		sp.splitDense(full, out)
	case Sparse:
		sp.splitSparse(full, out)
	case None:
		// nothing to do; parts stay empty.
	default:
		return nil, fmt.Errorf("schema: unknown sparsity tag %v", full.Observed.Sparsity)
	}

	for i := range out {
		if err := out[i].Validate(sp.partSchemas[i]); err != nil {
			return nil, fmt.Errorf("schema: split produced invalid part %d: %w", i, err)
		}
	}
	return out, nil
}

func growValues(out []Value, n int) []Value {
	if cap(out) >= n {
		return out[:n]
	}
	return make([]Value, n)
}

func (sp *Splitter) splitAll(full Value, out []Value) {
	boolCur, countCur, realCur := 0, 0, 0
	bs, be := sp.schema.boolRange()
	for pos := bs; pos < be; pos++ {
		part := &out[sp.fullToPartID[pos]]
		part.Booleans = append(part.Booleans, full.Booleans[boolCur])
		boolCur++
	}
	cs, ce := sp.schema.countRange()
	for pos := cs; pos < ce; pos++ {
		part := &out[sp.fullToPartID[pos]]
		part.Counts = append(part.Counts, full.Counts[countCur])
		countCur++
	}
	rs, re := sp.schema.realRange()
	for pos := rs; pos < re; pos++ {
		part := &out[sp.fullToPartID[pos]]
		part.Reals = append(part.Reals, full.Reals[realCur])
		realCur++
	}
}

func (sp *Splitter) splitDense(full Value, out []Value) {
	boolCur, countCur, realCur := 0, 0, 0

	bs, be := sp.schema.boolRange()
	for pos := bs; pos < be; pos++ {
		part := &out[sp.fullToPartID[pos]]
		observed := full.Observed.Dense[pos]
		part.Observed.Dense = append(part.Observed.Dense, observed)
		if observed {
			part.Booleans = append(part.Booleans, full.Booleans[boolCur])
			boolCur++
		}
	}
	cs, ce := sp.schema.countRange()
	for pos := cs; pos < ce; pos++ {
		part := &out[sp.fullToPartID[pos]]
		observed := full.Observed.Dense[pos]
		part.Observed.Dense = append(part.Observed.Dense, observed)
		if observed {
			part.Counts = append(part.Counts, full.Counts[countCur])
			countCur++
		}
	}
	rs, re := sp.schema.realRange()
	for pos := rs; pos < re; pos++ {
		part := &out[sp.fullToPartID[pos]]
		observed := full.Observed.Dense[pos]
		part.Observed.Dense = append(part.Observed.Dense, observed)
		if observed {
			part.Reals = append(part.Reals, full.Reals[realCur])
			realCur++
		}
	}
}

func (sp *Splitter) splitSparse(full Value, out []Value) {
	idx := 0
	sparse := full.Observed.Sparse
	// base gives the offset of the block's type within a part's kind-local
	// position space (booleans, then counts, then reals), since fullToPart
	// holds type-local positions.
	consume := func(blockEnd int, base func(ps Schema) int, take func(part *Value, fieldCur int)) int {
		cur := 0
		for idx < len(sparse) && int(sparse[idx]) < blockEnd {
			fullPos := sparse[idx]
			partID := sp.fullToPartID[fullPos]
			partPos := base(sp.partSchemas[partID]) + sp.fullToPart[fullPos]
			part := &out[partID]
			part.Observed.Sparse = append(part.Observed.Sparse, uint32(partPos))
			take(part, cur)
			cur++
			idx++
		}
		return cur
	}

	_, be := sp.schema.boolRange()
	consume(be, func(Schema) int { return 0 }, func(part *Value, cur int) {
		part.Booleans = append(part.Booleans, full.Booleans[cur])
	})
	_, ce := sp.schema.countRange()
	consume(ce, func(ps Schema) int { return ps.Booleans }, func(part *Value, cur int) {
		part.Counts = append(part.Counts, full.Counts[cur])
	})
	_, re := sp.schema.realRange()
	consume(re, func(ps Schema) int { return ps.Booleans + ps.Counts }, func(part *Value, cur int) {
		part.Reals = append(part.Reals, full.Reals[cur])
	})
}

// SplitObserved projects a DENSE observed mask (no field data) across
// kinds, as used to size a predict sample before joining it back.
func (sp *Splitter) SplitObserved(o Observed) ([]Value, error) {
	if o.Sparsity != Dense || len(o.Dense) != sp.schema.TotalSize() {
		return nil, fmt.Errorf("schema: SplitObserved requires a full DENSE mask")
	}
	out := make([]Value, len(sp.partSchemas))
	for i := range out {
		out[i].Observed.Sparsity = Dense
	}
	for pos, on := range o.Dense {
		part := &out[sp.fullToPartID[pos]]
		part.Observed.Dense = append(part.Observed.Dense, on)
	}
	return out, nil
}

// Join reassembles per-kind DENSE partial values into a single full
// value. It is the inverse of Split for DENSE inputs only.
func (sp *Splitter) Join(partials []Value) (Value, error) {
	if len(partials) != len(sp.partSchemas) {
		return Value{}, fmt.Errorf("schema: Join expects %d parts, got %d", len(sp.partSchemas), len(partials))
	}
	for i := range partials {
		if err := partials[i].Validate(sp.partSchemas[i]); err != nil {
			return Value{}, fmt.Errorf("schema: join part %d invalid: %w", i, err)
		}
		if partials[i].Observed.Sparsity != Dense {
			return Value{}, fmt.Errorf("schema: Join is only defined for DENSE partials")
		}
	}

	var full Value
	full.Observed.Sparsity = Dense

	if cap(sp.absPos) < len(partials) {
		sp.absPos = make([]int, len(partials))
	}
	sp.absPos = sp.absPos[:len(partials)]
	for i := range sp.absPos {
		sp.absPos[i] = 0
	}
	if cap(sp.packedPos) < len(partials) {
		sp.packedPos = make([]int, len(partials))
	}
	sp.packedPos = sp.packedPos[:len(partials)]

	joinBlock := func(start, end int, put func(part *Value, packedPos int)) {
		for i := range sp.packedPos {
			sp.packedPos[i] = 0
		}
		for pos := start; pos < end; pos++ {
			partID := sp.fullToPartID[pos]
			part := &partials[partID]
			observed := part.Observed.Dense[sp.absPos[partID]]
			sp.absPos[partID]++
			full.Observed.Dense = append(full.Observed.Dense, observed)
			if observed {
				put(part, sp.packedPos[partID])
				sp.packedPos[partID]++
			}
		}
	}

	bs, be := sp.schema.boolRange()
	joinBlock(bs, be, func(part *Value, p int) {
		full.Booleans = append(full.Booleans, part.Booleans[p])
	})
	cs, ce := sp.schema.countRange()
	joinBlock(cs, ce, func(part *Value, p int) {
		full.Counts = append(full.Counts, part.Counts[p])
	})
	rs, re := sp.schema.realRange()
	joinBlock(rs, re, func(part *Value, p int) {
		full.Reals = append(full.Reals, part.Reals[p])
	})

	if err := full.Validate(sp.schema); err != nil {
		return Value{}, fmt.Errorf("schema: join produced invalid value: %w", err)
	}
	return full, nil
}
