package tnc

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestKISSEncapsulate(t *testing.T) {
	var got = KISSEncapsulate([]byte{'a', FEND, 'b', FESC, 'c'})

	assert.Equal(t, []byte{FEND, 0x00, 'a', FESC, TFEND, 'b', FESC, TFESC, 'c', FEND}, got)
}

func TestKISSUnwrap_Errors(t *testing.T) {
	var _, ok = KISSUnwrap([]byte{'a', FESC})
	assert.False(t, ok, "trailing escape")

	_, ok = KISSUnwrap([]byte{'a', FESC, 'x'})
	assert.False(t, ok, "bad escape")
}

func TestKISS_RoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var in = rapid.SliceOfN(rapid.Byte(), 1, 600).Draw(t, "frame")

		var msgs [][]byte
		var d KISSDecoder
		d.Feed(KISSEncapsulate(in), func(msg []byte) { msgs = append(msgs, bytes.Clone(msg)) })

		require.Len(t, msgs, 1)
		assert.Equal(t, byte(KISSCmdDataFrame), msgs[0][0])
		assert.Equal(t, in, msgs[0][1:])
	})
}

// Split anywhere, the byte stream decodes the same.
func TestKISSDecoder_Chunked(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var in = rapid.SliceOfN(rapid.SliceOfN(rapid.Byte(), 1, 100), 1, 5).Draw(t, "frames")

		var stream []byte
		for _, f := range in {
			stream = append(stream, KISSEncapsulate(f)...)
		}

		var got [][]byte
		var d KISSDecoder
		for len(stream) > 0 {
			var n = rapid.IntRange(1, len(stream)).Draw(t, "chunk")
			d.Feed(stream[:n], func(msg []byte) { got = append(got, bytes.Clone(msg[1:])) })
			stream = stream[n:]
		}

		require.Len(t, got, len(in))
		for i := range in {
			assert.Equal(t, in[i], got[i])
		}
	})
}

func TestKISSDecoder_BackToBackFENDs(t *testing.T) {
	var got [][]byte
	var d KISSDecoder
	d.Feed([]byte{FEND, FEND, FEND, 0x00, 'x', FEND, FEND, 0x00, 'y', FEND}, func(msg []byte) {
		got = append(got, bytes.Clone(msg))
	})

	assert.Equal(t, [][]byte{{0x00, 'x'}, {0x00, 'y'}}, got)
}

func TestKISSDecoder_Noise(t *testing.T) {
	var noise []string
	var d KISSDecoder
	d.OnNoise = func(line []byte) { noise = append(noise, string(line)) }

	d.Feed([]byte("KISS ON\rRESTART\r"), func([]byte) { t.Fatal("noise decoded as a frame") })

	assert.Equal(t, []string{"KISS ON\r", "RESTART\r"}, noise)
}

func newTestSession(t *testing.T) (*kissSession, *[]Frame, *[][]byte) {
	t.Helper()

	var received []Frame
	var replies [][]byte
	var s = newKISSSession(
		func(f Frame) { received = append(received, f) },
		func(b []byte) { replies = append(replies, bytes.Clone(b)) },
		quietLogger(t),
	)

	return s, &received, &replies
}

func TestKISSSession_DataFrame(t *testing.T) {
	var s, received, replies = newTestSession(t)

	s.Feed(KISSEncapsulate([]byte("payload")))

	assert.Equal(t, frames("payload"), *received)
	assert.Empty(t, *replies)
}

func TestKISSSession_IgnoresTimingAndEmpty(t *testing.T) {
	var s, received, replies = newTestSession(t)

	s.Feed(kissEncapsulateCmd(KISSCmdTxDelay, []byte{30}))
	s.Feed(kissEncapsulateCmd(KISSCmdPersistence, []byte{63}))
	s.Feed([]byte{FEND, 0xff, FEND})
	s.Feed([]byte{FEND, 0x00, FEND})

	assert.Empty(t, *received)
	assert.Empty(t, *replies)
}

func TestKISSSession_SetHardwareTNC(t *testing.T) {
	var s, _, replies = newTestSession(t)

	s.Feed(kissEncapsulateCmd(KISSCmdSetHardware, []byte("TNC:")))

	require.Len(t, *replies, 1)
	var msg, ok = KISSUnwrap(bytes.Trim((*replies)[0], string([]byte{FEND})))
	require.True(t, ok)
	assert.Equal(t, byte(KISSCmdSetHardware), msg[0])
	assert.Equal(t, "TNC:FREEDVTNC "+Version, string(msg[1:]))
}

func TestKISSSession_NoiseReplies(t *testing.T) {
	var s, _, replies = newTestSession(t)

	s.Feed([]byte("reset\r"))
	s.Feed([]byte("hello\r"))

	assert.Equal(t, [][]byte{{FEND, FEND}, []byte("\r\ncmd:")}, *replies)
}
