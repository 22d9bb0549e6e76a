// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package dataio

import (
	"io"
)

// ReadFull reads from r until buf is full, or until an error is encountered.
//
// ReadFull distinguishes between a read that hit the end of r before any data
// was read, which returns io.EOF, and a read that was cut short after some
// data was read, which returns io.ErrUnexpectedEOF. The number of bytes read
// into buf is always returned.
func ReadFull(r io.Reader, buf []byte) (int, error) {
	total := 0
	for remaining := buf; len(remaining) > 0; {
		amt, err := r.Read(remaining)
		remaining, total = remaining[amt:], total+amt
		if err != nil {
			switch {
			case err != io.EOF:
				return total, err
			case len(remaining) == 0:
				// Finished read and returned EOF.
				return total, nil
			case total == 0:
				return 0, io.EOF
			default:
				return total, io.ErrUnexpectedEOF
			}
		}
	}
	return total, nil
}
