// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package packet

import (
	"fmt"
	"io"
)

// Segment splits data into chunks of n bytes. Only the last chunk might be shorter. Empty data results in
// no chunks at all. The chunks share data's memory.
func Segment(data []byte, n int) [][]byte {
	if n <= 0 {
		panic(fmt.Sprintf("segment size must be positive, got %d", n))
	}

	segments := make([][]byte, 0, (len(data)+n-1)/n)
	for len(data) > 0 {
		l := n
		if len(data) < l {
			l = len(data)
		}

		segments = append(segments, data[:l:l])
		data = data[l:]
	}
	return segments
}

// Segmenter reads segments of a fixed size from a stream, e.g., a file to be sent.
type Segmenter struct {
	r    io.Reader
	size int
	done bool
}

// NewSegmenter for a Reader, producing segments of at most size bytes.
func NewSegmenter(r io.Reader, size int) *Segmenter {
	if size <= 0 {
		panic(fmt.Sprintf("segment size must be positive, got %d", size))
	}
	return &Segmenter{r: r, size: size}
}

// NextSegment returns the next segment. The last flag is set for the final segment, which might be empty if
// the stream's length is a multiple of the segment size. After the last segment, io.EOF is returned.
func (s *Segmenter) NextSegment() (segment []byte, last bool, err error) {
	if s.done {
		err = io.EOF
		return
	}

	var buf = make([]byte, s.size)
	n, rErr := io.ReadFull(s.r, buf)
	switch rErr {
	case nil:
	case io.EOF, io.ErrUnexpectedEOF:
		s.done = true
		last = true
	default:
		err = rErr
		return
	}

	segment = buf[:n]
	return
}
