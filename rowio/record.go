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

// Package rowio provides the on-disk support the core treats as an
// external collaborator: a cyclic, length-delimited row stream (C5) and
// the model/groups/assignment persistence streams it dumps to.
package rowio

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"

	"github.com/crosscatproj/crosscat/schema"
	"github.com/klauspost/compress/s2"
)

// Row pairs a row id with its product value, the unit of the row stream
// format: length-delimited records of {uint64 id, ProductValue data}.
type Row struct {
	ID    uint64
	Value schema.Value
}

// WriteRecord appends one length-delimited record to w. Each record's
// body is s2-compressed independently, so a cursor can decode any single
// record it seeks to without replaying a compression stream from the
// start of the file (unlike the checkpoint dumps in compress.go, which
// are always read start to finish and so use zstd's better ratio).
func WriteRecord(w io.Writer, row Row) error {
	var plain bytes.Buffer
	if err := gob.NewEncoder(&plain).Encode(&row); err != nil {
		return fmt.Errorf("rowio: encoding record: %w", err)
	}
	body := s2.Encode(nil, plain.Bytes())

	var lenbuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenbuf[:], uint64(len(body)))
	if _, err := w.Write(lenbuf[:n]); err != nil {
		return fmt.Errorf("rowio: writing record length: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("rowio: writing record body: %w", err)
	}
	return nil
}

// ReadRecord reads one length-delimited record from r. It returns io.EOF
// (unwrapped, so callers can test with errors.Is) only when r is
// positioned exactly at the end of a complete record stream.
func ReadRecord(r *bufio.Reader) (Row, error) {
	length, err := binary.ReadUvarint(r)
	if err != nil {
		if err == io.EOF {
			return Row{}, io.EOF
		}
		return Row{}, fmt.Errorf("rowio: reading record length: %w", err)
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return Row{}, fmt.Errorf("rowio: reading record body: %w", err)
	}
	plain, err := s2.Decode(nil, body)
	if err != nil {
		return Row{}, fmt.Errorf("rowio: decompressing record: %w", err)
	}
	var row Row
	if err := gob.NewDecoder(bytes.NewReader(plain)).Decode(&row); err != nil {
		return Row{}, fmt.Errorf("rowio: decoding record: %w", err)
	}
	return row, nil
}
