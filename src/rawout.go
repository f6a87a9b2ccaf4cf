package tnc

import (
	"io"
	"sync"
)

// RawOutput writes received frames, as they are, to a stream such as stdout.
// It is output only.
type RawOutput struct {
	mu sync.Mutex
	w  io.Writer
}

func NewRawOutput(w io.Writer) *RawOutput {
	return &RawOutput{w: w} //nolint:exhaustruct
}

func (r *RawOutput) Name() string { return "stdout" }

func (r *RawOutput) OnFrameReceived(func(Frame)) {}

func (r *RawOutput) SendFrame(frame Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.w.Write(frame); err != nil {
		return err
	}

	if f, ok := r.w.(interface{ Sync() error }); ok {
		_ = f.Sync()
	}

	return nil
}
