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

package engine

import "fmt"

// ErrZeroDiversity is returned by PosteriorEnumerate when skip == 0 and
// sampleCount > 1: with no sweep between samples, every requested sample
// would be a bit-identical copy of the same assignment, defeating the
// purpose of drawing more than one.
var ErrZeroDiversity = fmt.Errorf("engine: posterior enumeration: sample_skip == 0 requires sample_count <= 1 (zero diversity between samples)")

// Snapshot is one posterior sample: for each kind, the row ids currently
// grouped together, indexed by packed group id.
type Snapshot struct {
	Kinds [][][]uint64
}

// Snapshot captures the engine's current assignment without mutating
// it.
func (e *Engine) Snapshot() Snapshot {
	rowids := e.Store.RowIDs()
	snap := Snapshot{Kinds: make([][][]uint64, e.Kinds.KindCount())}
	for k, kind := range e.Kinds.Kinds {
		groups := make([][]uint64, kind.Mixture.GroupCount())
		groupIDs := e.Store.GroupIDs(k)
		for i, rowid := range rowids {
			packed := kind.Mixture.IDs().GlobalToPacked(groupIDs[i])
			groups[packed] = append(groups[packed], rowid)
		}
		snap.Kinds[k] = groups
	}
	return snap
}

// PosteriorEnumerate draws sampleCount posterior samples over the rows
// already assigned in e.Store: each sample runs skip full sweeps (every
// assigned row removed then re-added, Gibbs-resampling its group in
// every kind) before its assignment is snapshotted. When ks is non-nil,
// each sweep also runs one kind-structure phase.
func (e *Engine) PosteriorEnumerate(sampleCount, skip int, ks *KindStructureParams) ([]Snapshot, error) {
	if skip < 0 {
		return nil, fmt.Errorf("engine: posterior enumeration: sample_skip must be >= 0, got %d", skip)
	}
	if skip == 0 && sampleCount > 1 {
		return nil, ErrZeroDiversity
	}
	samples := make([]Snapshot, sampleCount)
	for s := 0; s < sampleCount; s++ {
		for sweep := 0; sweep < skip; sweep++ {
			if err := e.fullSweep(); err != nil {
				return nil, err
			}
			if ks != nil {
				if err := e.runKindStructure(ks); err != nil {
					return nil, err
				}
			}
		}
		samples[s] = e.Snapshot()
	}
	return samples, nil
}

// fullSweep removes then re-adds every currently assigned row, in an
// order consistent with the assignment store's LIFO pop order, so each
// row is Gibbs-resampled against the rest of the data exactly once.
func (e *Engine) fullSweep() error {
	rowids := append([]uint64(nil), e.Store.RowIDs()...)
	values := make([]Row, len(rowids))
	for i, rowid := range rowids {
		v, ok := e.rows[rowid]
		if !ok {
			return fmt.Errorf("engine: posterior enumeration: no cached value for row %d", rowid)
		}
		values[i] = Row{ID: rowid, Value: v}
	}
	for i := len(values) - 1; i >= 0; i-- {
		if _, err := e.RemoveRow(values[i]); err != nil {
			return fmt.Errorf("engine: posterior enumeration: %w", err)
		}
	}
	for i := range values {
		if _, err := e.AddRow(values[i]); err != nil {
			return fmt.Errorf("engine: posterior enumeration: %w", err)
		}
	}
	return nil
}
