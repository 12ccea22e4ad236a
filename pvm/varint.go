// Copyright 2024 The PVM Authors
// This file is part of the PVM core.
//
// The PVM core is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The PVM core is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the PVM core. If not, see <http://www.gnu.org/licenses/>.

package pvm

import "fmt"

// readVarint decodes one little-endian varint from buf and reports how many
// bytes it consumed. The prefix byte's leading 1-bits (k of them, 0..8) pick
// a payload width of k additional bytes; the low 7-k bits of the prefix
// supply the high bits of the value. This is the leading-ones convention of
// §4.A, not the leading-zeros alternative seen in some decoder variants.
func readVarint(buf []byte) (value uint64, n int, err error) {
	if len(buf) == 0 {
		return 0, 0, fmt.Errorf("%w: varint prefix truncated", ErrTruncatedBlob)
	}
	prefix := buf[0]
	k := leadingOnes(prefix)
	if k > 8 {
		k = 8
	}
	if len(buf) < 1+k {
		return 0, 0, fmt.Errorf("%w: varint payload truncated", ErrTruncatedBlob)
	}
	var payload uint64
	for i := 0; i < k; i++ {
		payload |= uint64(buf[1+i]) << (8 * i)
	}
	if k < 8 {
		highBits := uint64(prefix & (0xFF >> uint(k+1)))
		payload |= highBits << (8 * k)
	}
	return payload, 1 + k, nil
}

// leadingOnes counts the number of leading 1-bits in b, from bit 7 downward.
func leadingOnes(b byte) int {
	n := 0
	for i := 7; i >= 0; i-- {
		if b&(1<<uint(i)) == 0 {
			break
		}
		n++
	}
	return n
}

// putVarint appends the varint encoding of v to buf and returns the result.
// It always picks the narrowest width that represents v, mirroring the
// decoder's leading-ones convention.
func putVarint(buf []byte, v uint64) []byte {
	for k := 0; k < 8; k++ {
		if v < uint64(1)<<uint(7*(k+1)) {
			var mask byte
			if k > 0 {
				mask = byte(0xFF << uint(8-k))
			}
			prefix := mask | byte(v>>uint(8*k))
			buf = append(buf, prefix)
			for i := 0; i < k; i++ {
				buf = append(buf, byte(v>>uint(8*i)))
			}
			return buf
		}
	}
	buf = append(buf, 0xFF)
	for i := 0; i < 8; i++ {
		buf = append(buf, byte(v>>uint(8*i)))
	}
	return buf
}
