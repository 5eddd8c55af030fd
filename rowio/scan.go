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

// ScanAll reads exactly totalRows records from file's cyclic stream into
// a by-id map, for callers that need random access to a bounded row set
// rather than Interval's two sequential cursors — currently only the
// resume path, which must look up an arbitrary assigned row's value
// while replaying a persisted assignment store.
func ScanAll(file *File, totalRows int) (map[uint64]Row, error) {
	c, err := file.newCursor()
	if err != nil {
		return nil, err
	}
	defer c.Close()

	rows := make(map[uint64]Row, totalRows)
	for i := 0; i < totalRows; i++ {
		row, err := c.next()
		if err != nil {
			return nil, fmt.Errorf("rowio: scanning record %d: %w", i, err)
		}
		rows[row.ID] = row
	}
	return rows, nil
}
