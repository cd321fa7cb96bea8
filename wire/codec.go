// Copyright 2021 PairMesh, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package wire

import (
	"encoding/binary"

	"github.com/meshvane/meshcore/errs"
)

// ErrShortFrame is returned by Decode when the buffer is shorter than the
// fixed 18-byte header. It is errs.ErrShortFrame under its wire-package
// name, so callers that only know this package still get the canonical
// taxonomy error via errors.Is.
var ErrShortFrame = errs.ErrShortFrame

// ErrBadLength is returned by Decode when the declared data length exceeds
// either the remaining buffer or MaxDataSize, and by Encode when the frame's
// DataLen/len(Data) exceeds MaxDataSize. It is errs.ErrBadLength under its
// wire-package name.
var ErrBadLength = errs.ErrBadLength

// Layout, little-endian, 18 bytes before the payload:
//
//	offset  width  field
//	0       1      type
//	1       6      src
//	7       6      dst
//	13      1      hop_count
//	14      2      sequence
//	16      2      data_len
//	18      N      data

// Encode renders f as bytes of length 18+len(f.Data). It never allocates
// more than the returned slice and never reads global state.
func Encode(f *Frame) ([]byte, error) {
	if len(f.Data) > MaxDataSize {
		return nil, ErrBadLength
	}

	buf := make([]byte, HeaderSize+len(f.Data))
	buf[0] = byte(f.Type)
	copy(buf[1:7], f.Src[:])
	copy(buf[7:13], f.Dst[:])
	buf[13] = f.HopCount
	binary.LittleEndian.PutUint16(buf[14:16], f.Sequence)
	binary.LittleEndian.PutUint16(buf[16:18], uint16(len(f.Data)))
	copy(buf[18:], f.Data)

	return buf, nil
}

// Decode parses buf into a Frame. The codec never validates address fields:
// any 6-byte value, including the broadcast address, is admissible in Src
// or Dst. The returned Frame's Data is a copy of the payload region, never
// an alias into buf.
func Decode(buf []byte) (*Frame, error) {
	if len(buf) < HeaderSize {
		return nil, ErrShortFrame
	}

	dataLen := binary.LittleEndian.Uint16(buf[16:18])
	if int(dataLen) > MaxDataSize || HeaderSize+int(dataLen) > len(buf) {
		return nil, ErrBadLength
	}

	f := &Frame{
		Type:     Type(buf[0]),
		HopCount: buf[13],
		Sequence: binary.LittleEndian.Uint16(buf[14:16]),
	}
	copy(f.Src[:], buf[1:7])
	copy(f.Dst[:], buf[7:13])

	if dataLen > 0 {
		f.Data = make([]byte, dataLen)
		copy(f.Data, buf[18:18+dataLen])
	}

	return f, nil
}
