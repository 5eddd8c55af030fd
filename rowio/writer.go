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

import (
	"bufio"
	"fmt"
	"os"
)

// Writer appends length-delimited rows to a file, used to materialize a
// row stream that an Interval will later read cyclically. It is not part
// of the streaming core itself; row serialization is an external
// collaborator.
type Writer struct {
	f *os.File
	w *bufio.Writer
}

// Create truncates (or creates) the file at path for writing and takes
// an advisory exclusive lock on it for the life of the Writer.
func Create(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("rowio: %w", err)
	}
	if err := lockExclusive(f); err != nil {
		f.Close()
		return nil, err
	}
	return &Writer{f: f, w: bufio.NewWriter(f)}, nil
}

// Write appends one row.
func (w *Writer) Write(row Row) error {
	return WriteRecord(w.w, row)
}

// Close flushes buffered output and closes the underlying file.
func (w *Writer) Close() error {
	defer unlock(w.f)
	if err := w.w.Flush(); err != nil {
		w.f.Close()
		return fmt.Errorf("rowio: flushing: %w", err)
	}
	if err := w.f.Close(); err != nil {
		return fmt.Errorf("rowio: %w", err)
	}
	return nil
}
