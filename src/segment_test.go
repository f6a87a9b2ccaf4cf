package tnc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func reassemble(t *testing.T, r *Reassembler, segs [][]byte) []Frame {
	t.Helper()

	var out []Frame
	for _, s := range segs {
		if f, ok := r.Push(s); ok {
			out = append(out, f)
		}
	}
	return out
}

func TestCRC16(t *testing.T) {
	// CRC-16/CCITT-FALSE check value.
	assert.Equal(t, uint16(0x29b1), crc16([]byte("123456789")))
}

func TestNewSegmenter_TooSmall(t *testing.T) {
	var _, err = NewSegmenter(4)

	assert.ErrorIs(t, err, ErrModemUnavailable)
}

func TestSegmenter_DataBytes(t *testing.T) {
	var s, err = NewSegmenter(14)
	require.NoError(t, err)
	assert.Equal(t, 10, s.DataBytes())

	s, err = NewSegmenter(510)
	require.NoError(t, err)
	assert.Equal(t, 255, s.DataBytes(), "length byte limits a segment")
}

func TestSegmenter_EmptyFrame(t *testing.T) {
	var s, _ = NewSegmenter(14)

	assert.Empty(t, s.Split(nil))
}

func TestSegmenter_Layout(t *testing.T) {
	var s, _ = NewSegmenter(8)
	var segs = s.Split(Frame("abcdef"))

	require.Len(t, segs, 2)
	assert.Equal(t, byte(segFirst|0), segs[0][0])
	assert.Equal(t, byte(4), segs[0][1])
	assert.Equal(t, []byte("abcd"), segs[0][2:6])
	assert.Equal(t, byte(segLast|1), segs[1][0])
	assert.Equal(t, byte(2), segs[1][1])
	assert.Equal(t, []byte{'e', 'f', 0, 0}, segs[1][2:6])

	for _, seg := range segs {
		assert.Len(t, seg, 8)
	}
}

func TestSegment_RoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var payload = rapid.IntRange(minPayload, 600).Draw(t, "payload")
		var in = rapid.SliceOfN(rapid.SliceOfN(rapid.Byte(), 1, 1024), 1, 4).Draw(t, "frames")

		var s, err = NewSegmenter(payload)
		require.NoError(t, err)
		var r = NewReassembler(payload)

		var out []Frame
		for _, f := range in {
			for _, seg := range s.Split(Frame(f)) {
				if got, ok := r.Push(seg); ok {
					out = append(out, got)
				}
			}
		}

		require.Len(t, out, len(in))
		for i := range in {
			assert.Equal(t, Frame(in[i]), out[i])
		}
	})
}

func TestReassembler_FillerIgnored(t *testing.T) {
	var s, _ = NewSegmenter(16)
	var r = NewReassembler(16)

	for range 9 {
		var _, ok = r.Push(s.Filler())
		assert.False(t, ok)
	}

	assert.Equal(t, []Frame{Frame("payload")}, reassemble(t, r, s.Split(Frame("payload"))))
}

func TestReassembler_CorruptionDropsFrame(t *testing.T) {
	var s, _ = NewSegmenter(8)
	var r = NewReassembler(8)

	var segs = s.Split(Frame("0123456789ab"))
	require.Len(t, segs, 3)
	segs[1][3] ^= 0x01

	assert.Empty(t, reassemble(t, r, segs))

	// The next frame is not affected.
	assert.Equal(t, []Frame{Frame("next")}, reassemble(t, r, s.Split(Frame("next"))))
}

func TestReassembler_MissingSegmentDropsFrame(t *testing.T) {
	var s, _ = NewSegmenter(8)
	var r = NewReassembler(8)

	var segs = s.Split(Frame("0123456789ab"))
	var got = reassemble(t, r, [][]byte{segs[0], segs[2]})

	assert.Empty(t, got)
}

func TestReassembler_NewFirstRestarts(t *testing.T) {
	var s, _ = NewSegmenter(8)
	var r = NewReassembler(8)

	var lost = s.Split(Frame("0123456789ab"))
	var whole = s.Split(Frame("xyz"))

	var got = reassemble(t, r, append([][]byte{lost[0]}, whole...))

	assert.Equal(t, []Frame{Frame("xyz")}, got)
}

func TestReassembler_WrongSize(t *testing.T) {
	var r = NewReassembler(8)

	var _, ok = r.Push([]byte{1, 2, 3})
	assert.False(t, ok)
}

func TestReassembler_TooLong(t *testing.T) {
	var s, _ = NewSegmenter(260)
	var r = NewReassembler(260)

	var big = make(Frame, MaxFrameSize+1)
	assert.Empty(t, reassemble(t, r, s.Split(big)))

	var largest = make(Frame, MaxFrameSize)
	assert.Len(t, reassemble(t, r, s.Split(largest)), 1)
}
