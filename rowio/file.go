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
	"errors"
	"fmt"
	"io"
	"os"
)

// File is a length-delimited row stream backed by a regular file, opened
// read-only; both interval cursors read from independent handles so
// seeking one never disturbs the other. Both cursors are pure readers;
// the file is never rewritten.
type File struct {
	path string
}

// Open returns a File over the row stream at path. The file itself is
// not opened until a cursor reads from it.
func Open(path string) (*File, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("rowio: %w", err)
	}
	return &File{path: path}, nil
}

// cursor is a pure-reader position within a File's cyclic record stream.
type cursor struct {
	file *File
	f    *os.File
	r    *bufio.Reader
}

func (f *File) newCursor() (*cursor, error) {
	fh, err := os.Open(f.path)
	if err != nil {
		return nil, fmt.Errorf("rowio: %w", err)
	}
	return &cursor{file: f, f: fh, r: bufio.NewReader(fh)}, nil
}

// Close releases the cursor's file handle.
func (c *cursor) Close() error { return c.f.Close() }

// rewind seeks the cursor back to the start of the file and resets its
// buffered reader, implementing the cyclic "EOF wraps to offset 0"
// semantics.
func (c *cursor) rewind() error {
	if _, err := c.f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rowio: rewinding: %w", err)
	}
	c.r.Reset(c.f)
	return nil
}

// next reads the next record, wrapping to the beginning of the file on
// EOF. It returns an error only for I/O failures or when the file
// contains no records at all (rewinding would loop forever).
func (c *cursor) next() (Row, error) {
	row, err := ReadRecord(c.r)
	if err == nil {
		return row, nil
	}
	if !errors.Is(err, io.EOF) {
		return Row{}, err
	}
	if err := c.rewind(); err != nil {
		return Row{}, err
	}
	row, err = ReadRecord(c.r)
	if err != nil {
		return Row{}, fmt.Errorf("rowio: empty row stream: %w", err)
	}
	return row, nil
}

// skipTo advances the cursor, discarding records, until it has read a
// record whose id equals target, or until it has scanned scanLimit
// records without finding it (used by Interval's construction-time
// fast-forward). It returns the final row read.
func (c *cursor) skipTo(target uint64, scanLimit int) (Row, bool, error) {
	for i := 0; i < scanLimit; i++ {
		row, err := c.next()
		if err != nil {
			return Row{}, false, err
		}
		if row.ID == target {
			return row, true, nil
		}
	}
	return Row{}, false, nil
}
