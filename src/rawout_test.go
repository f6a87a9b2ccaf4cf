package tnc

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRawOutput(t *testing.T) {
	var buf bytes.Buffer
	var r = NewRawOutput(&buf)

	assert.NoError(t, r.SendFrame(Frame{0x01, FEND}))
	assert.NoError(t, r.SendFrame(Frame("ok")))

	// No KISS framing, just the bytes.
	assert.Equal(t, []byte{0x01, FEND, 'o', 'k'}, buf.Bytes())
	assert.Equal(t, "stdout", r.Name())
}

type brokenWriter struct{}

func (brokenWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestRawOutput_WriteError(t *testing.T) {
	var r = NewRawOutput(brokenWriter{})

	assert.Error(t, r.SendFrame(Frame("x")))
}
