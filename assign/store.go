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

// Package assign implements the assignment store (C2): a columnar,
// append-only record of row id to per-kind group id, with stable global
// group numbering across packed reorderings.
package assign

import "fmt"

// ErrDuplicateRow is returned by AppendRow when rowid is already present.
var ErrDuplicateRow = fmt.Errorf("assign: duplicate row id")

// ErrEmpty is returned by PopRow when the store holds no rows.
var ErrEmpty = fmt.Errorf("assign: store is empty")

// Store holds, for every currently-assigned row, its row id and its
// global group id in each kind. Row order is maintained both as an
// ordered sequence (LIFO with respect to streaming reads) and as a set
// for O(1) membership tests.
type Store struct {
	rowids  []uint64
	present map[uint64]int // rowid -> index into rowids/groupids
	// groupids[k][i] is the global group id of row rowids[i] in kind k.
	groupids [][]uint64
}

// New returns an empty store sized for kindCount kinds.
func New(kindCount int) *Store {
	s := &Store{
		present:  make(map[uint64]int),
		groupids: make([][]uint64, kindCount),
	}
	return s
}

// RowCount returns the number of assigned rows.
func (s *Store) RowCount() int { return len(s.rowids) }

// KindCount returns the number of kinds tracked.
func (s *Store) KindCount() int { return len(s.groupids) }

// Contains reports whether rowid is currently assigned.
func (s *Store) Contains(rowid uint64) bool {
	_, ok := s.present[rowid]
	return ok
}

// AppendRow records rowid's per-kind global group ids atomically. It
// returns ErrDuplicateRow, with no side effect, if rowid is already
// present.
func (s *Store) AppendRow(rowid uint64, globalGroupIDs []uint64) error {
	if len(globalGroupIDs) != len(s.groupids) {
		return fmt.Errorf("assign: expected %d group ids, got %d", len(s.groupids), len(globalGroupIDs))
	}
	if _, ok := s.present[rowid]; ok {
		return ErrDuplicateRow
	}
	idx := len(s.rowids)
	s.rowids = append(s.rowids, rowid)
	for k := range s.groupids {
		s.groupids[k] = append(s.groupids[k], globalGroupIDs[k])
	}
	s.present[rowid] = idx
	return nil
}

// PopRow removes the most-recently-added row (LIFO order) and returns
// its row id and per-kind global group ids.
func (s *Store) PopRow() (rowid uint64, globalGroupIDs []uint64, err error) {
	n := len(s.rowids)
	if n == 0 {
		return 0, nil, ErrEmpty
	}
	last := n - 1
	rowid = s.rowids[last]
	globalGroupIDs = make([]uint64, len(s.groupids))
	for k := range s.groupids {
		globalGroupIDs[k] = s.groupids[k][last]
		s.groupids[k] = s.groupids[k][:last]
	}
	s.rowids = s.rowids[:last]
	delete(s.present, rowid)
	return rowid, globalGroupIDs, nil
}

// RowIDs returns the ordered sequence of assigned row ids. The returned
// slice aliases the store's internal state and must not be mutated.
func (s *Store) RowIDs() []uint64 { return s.rowids }

// GroupIDs returns the ordered sequence of global group ids assigned by
// kind k. The returned slice aliases the store's internal state and must
// not be mutated.
func (s *Store) GroupIDs(kindID int) []uint64 { return s.groupids[kindID] }

// PackedAddKind appends a new, empty kind column, mirroring C4's
// packed_add_kind.
func (s *Store) PackedAddKind() {
	s.groupids = append(s.groupids, make([]uint64, len(s.rowids)))
}

// PackedRemoveKind removes kind column kindID by swapping the last
// column into its place, mirroring C4's swap-with-last packed_remove_kind.
// The caller is responsible for fixing up any external index (e.g.
// kindset's featureid_to_kindid) that referred to the kind that moved.
func (s *Store) PackedRemoveKind(kindID int) {
	last := len(s.groupids) - 1
	if kindID != last {
		s.groupids[kindID] = s.groupids[last]
	}
	s.groupids = s.groupids[:last]
}
