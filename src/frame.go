package tnc

import "encoding/hex"

// Frame is one unit of payload carried over the radio link.
// The TNC never looks inside it.
type Frame []byte

// Clone returns a private copy so later changes by the producer can't leak into the queue.
func (f Frame) Clone() Frame {
	var c = make(Frame, len(f))
	copy(c, f)
	return c
}

func (f Frame) String() string {
	return hex.EncodeToString(f)
}
