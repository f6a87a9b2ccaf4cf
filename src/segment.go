package tnc

/*-------------------------------------------------------------
 *
 * Purpose:	Carry frames of any length in fixed size modem frames.
 *
 * Description:	The raw data modes move a fixed number of bytes per
 *		modem frame.  Each one carries a segment:
 *
 *		  +-------+--------+----------------+---------+
 *		  | flags | length | data, 0 padded | CRC-16  |
 *		  +-------+--------+----------------+---------+
 *		     1        1        P - 4            2
 *
 *		flags	bit 7	first segment of a frame
 *			bit 6	last segment of a frame
 *			bits 0-5 sequence number within the frame
 *
 *		The CRC is CRC-16-CCITT (poly 0x1021, initial 0xffff) over
 *		everything before it, most significant byte first.
 *
 *		A filler frame is all zero.  The CRC of zeros is not zero
 *		so filler never looks like data.
 *
 *--------------------------------------------------------------*/

import (
	"encoding/binary"
	"fmt"
)

// MaxFrameSize bounds what the reassembler will accumulate.
const MaxFrameSize = 4096

const (
	segFirst   = 0x80
	segLast    = 0x40
	segSeqMask = 0x3f

	segOverhead   = 4
	minPayload    = segOverhead + 1
	maxSegmentLen = 255
)

type Segmenter struct {
	payload int
	data    int
}

func NewSegmenter(payload int) (*Segmenter, error) {
	if payload < minPayload {
		return nil, fmt.Errorf("%w: modem frame of %d bytes is too small, need at least %d", ErrModemUnavailable, payload, minPayload)
	}

	return &Segmenter{
		payload: payload,
		data:    min(payload-segOverhead, maxSegmentLen),
	}, nil
}

// DataBytes is how much of a frame fits in one segment.
func (s *Segmenter) DataBytes() int {
	return s.data
}

// Split cuts a frame into modem payloads.  An empty frame gives nothing.
func (s *Segmenter) Split(frame Frame) [][]byte {
	if len(frame) == 0 {
		return nil
	}

	var count = (len(frame) + s.data - 1) / s.data
	var segs = make([][]byte, 0, count)

	for i := range count {
		var chunk = frame[i*s.data : min((i+1)*s.data, len(frame))]

		var flags = byte(i & segSeqMask)
		if i == 0 {
			flags |= segFirst
		}
		if i == count-1 {
			flags |= segLast
		}

		var seg = make([]byte, s.payload)
		seg[0] = flags
		seg[1] = byte(len(chunk))
		copy(seg[2:], chunk)
		binary.BigEndian.PutUint16(seg[s.payload-2:], crc16(seg[:s.payload-2]))

		segs = append(segs, seg)
	}

	return segs
}

// Filler is one modem payload of nothing, used for the preamble.
func (s *Segmenter) Filler() []byte {
	return make([]byte, s.payload)
}

// Reassembler collects segments back into frames.
// Anything out of order, damaged or too long throws away the partial frame.
type Reassembler struct {
	payload int
	data    int

	buf    []byte
	next   int
	active bool
}

func NewReassembler(payload int) *Reassembler {
	return &Reassembler{ //nolint:exhaustruct
		payload: payload,
		data:    min(payload-segOverhead, maxSegmentLen),
	}
}

func (r *Reassembler) Reset() {
	r.buf = nil
	r.next = 0
	r.active = false
}

// Push accepts one modem payload and reports a frame when one is complete.
func (r *Reassembler) Push(seg []byte) (Frame, bool) {
	if len(seg) != r.payload || r.payload < minPayload {
		r.Reset()
		return nil, false
	}

	var want = binary.BigEndian.Uint16(seg[r.payload-2:])
	if crc16(seg[:r.payload-2]) != want {
		r.Reset()
		return nil, false
	}

	var flags = seg[0]
	var seq = int(flags & segSeqMask)
	var n = int(seg[1])
	if n > r.data {
		r.Reset()
		return nil, false
	}

	if flags&segFirst != 0 {
		r.Reset()
		r.active = true
	} else if !r.active || seq != r.next {
		r.Reset()
		return nil, false
	}

	if len(r.buf)+n > MaxFrameSize {
		r.Reset()
		return nil, false
	}

	r.buf = append(r.buf, seg[2:2+n]...)
	r.next = (seq + 1) & segSeqMask

	if flags&segLast == 0 {
		return nil, false
	}

	var frame = Frame(r.buf)
	r.Reset()

	if len(frame) == 0 {
		return nil, false
	}

	return frame, true
}

// crc16 is CRC-16-CCITT, polynomial 0x1021, initial value 0xffff, no final xor.
func crc16(data []byte) uint16 {
	var crc uint16 = 0xffff

	for _, b := range data {
		crc ^= uint16(b) << 8
		for range 8 {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}

	return crc
}
