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

package rowio

import "fmt"

// Interval is the streaming row interval (C5): two independent cursors
// over a cyclic row file, one over the rows still to be added
// ("unassigned") and one over the rows already assigned and awaiting
// eventual removal ("assigned").
type Interval struct {
	unassigned      *cursor
	assigned        *cursor
	pendingAssigned *Row
}

// NewInterval opens an interval over file. totalRows bounds how many
// records the construction-time fast-forward will scan before giving up
// on finding a preloaded assignment's row id; it should be at least the
// number of distinct records in the file. assignedRowIDs is the
// currently assigned rows' ids in insertion order (assign.Store.RowIDs),
// or nil/empty for a fresh interval with no preloaded state.
//
// When assignments are preloaded, the unassigned cursor is fast-forwarded
// past the last assigned row id, and the assigned cursor is fast-forwarded
// to (but not past) the first assigned row id — so that together the two
// cursors exactly bracket the in-memory assignment window.
func NewInterval(file *File, totalRows int, assignedRowIDs []uint64) (*Interval, error) {
	unassigned, err := file.newCursor()
	if err != nil {
		return nil, err
	}
	assigned, err := file.newCursor()
	if err != nil {
		unassigned.Close()
		return nil, err
	}
	iv := &Interval{unassigned: unassigned, assigned: assigned}

	if len(assignedRowIDs) == 0 {
		return iv, nil
	}

	last := assignedRowIDs[len(assignedRowIDs)-1]
	if _, found, err := unassigned.skipTo(last, totalRows); err != nil {
		iv.Close()
		return nil, err
	} else if !found {
		iv.Close()
		return nil, fmt.Errorf("rowio: row id %d (last assigned) not found in row file within %d records", last, totalRows)
	}

	first := assignedRowIDs[0]
	row, found, err := assigned.skipTo(first, totalRows)
	if err != nil {
		iv.Close()
		return nil, err
	}
	if !found {
		iv.Close()
		return nil, fmt.Errorf("rowio: row id %d (first assigned) not found in row file within %d records", first, totalRows)
	}
	iv.pendingAssigned = &row
	return iv, nil
}

// NextUnassigned returns the next row to add.
func (iv *Interval) NextUnassigned() (Row, error) {
	return iv.unassigned.next()
}

// NextAssigned returns the next row to remove.
func (iv *Interval) NextAssigned() (Row, error) {
	if iv.pendingAssigned != nil {
		row := *iv.pendingAssigned
		iv.pendingAssigned = nil
		return row, nil
	}
	return iv.assigned.next()
}

// Close releases both cursors' file handles.
func (iv *Interval) Close() error {
	err1 := iv.unassigned.Close()
	err2 := iv.assigned.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
