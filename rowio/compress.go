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
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// compressedWriter wraps w with zstd framing, used for the model/groups/
// assignment dump streams; these streams are written once per checkpoint
// and read back in full, so a streaming compressor with no random access
// is a good fit.
func compressedWriter(w io.Writer) (*zstd.Encoder, error) {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("rowio: opening zstd writer: %w", err)
	}
	return enc, nil
}

// compressedReader wraps r with a zstd decoder matching compressedWriter.
func compressedReader(r io.Reader) (*zstd.Decoder, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("rowio: opening zstd reader: %w", err)
	}
	return dec, nil
}
