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

import (
	"fmt"

	"github.com/crosscatproj/crosscat/rowio"
	"github.com/crosscatproj/crosscat/schema"
)

// Restore rebuilds every kind's mixture sufficient statistics from the
// assignment store's already-loaded canonical group ids, replaying each
// assigned row's cached value through the matching group. Call this once
// immediately after constructing an Engine over a store produced by
// rowio.LoadAssignments, before running any further inference.
//
// groups is the per-kind canonical group record list from
// rowio.LoadGroups: Restore uses it only to size each kind's
// pre-allocation and to cross-check the replayed row counts against what
// was dumped. rowValues must contain every row id e.Store currently
// holds, typically from rowio.ScanAll over the same row file the run was
// dumped against.
func (e *Engine) Restore(groups [][]rowio.GroupRecord, rowValues map[uint64]schema.Value) error {
	if len(groups) != e.Kinds.KindCount() {
		return fmt.Errorf("engine: restore: %d group streams, want %d kinds", len(groups), e.Kinds.KindCount())
	}
	for k, kind := range e.Kinds.Kinds {
		kind.Mixture.RestoreGroups(len(groups[k]))
	}

	rowids := e.Store.RowIDs()
	for i, rowid := range rowids {
		value, ok := rowValues[rowid]
		if !ok {
			return fmt.Errorf("engine: restore: no cached value for assigned row %d", rowid)
		}
		partials, err := e.Kinds.ValueSplit(value, nil)
		if err != nil {
			return fmt.Errorf("engine: restore: splitting row %d: %w", rowid, err)
		}
		for k, kind := range e.Kinds.Kinds {
			global := e.Store.GroupIDs(k)[i]
			packed := kind.Mixture.IDs().GlobalToPacked(global)
			kind.Mixture.AddValue(packed, partials[k], e.Rng)
		}
		e.rows[rowid] = value
	}

	for k, kind := range e.Kinds.Kinds {
		for _, rec := range groups[k] {
			packed := kind.Mixture.IDs().GlobalToPacked(rec.GlobalID)
			if got := kind.Mixture.GroupRowCount(packed); got != rec.RowCount {
				return fmt.Errorf("engine: restore: kind %d group %d replayed row count %d, dump recorded %d",
					k, rec.GlobalID, got, rec.RowCount)
			}
		}
	}
	return nil
}
