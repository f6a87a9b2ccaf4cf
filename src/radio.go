package tnc

/*------------------------------------------------------------------
 *
 * Purpose:   	The half duplex radio channel.
 *
 * Description:	Glue between the modem, the segmenter and the audio
 *		devices.  Demodulate is called over and over by the receive
 *		loop; Transmit once per burst by the transmit scheduler.
 *
 *		The receiver hears our own transmitter, so received audio
 *		is thrown away while a burst is going out.
 *
 *---------------------------------------------------------------*/

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
)

// Burst is everything sent during one keying of the transmitter.
type Burst struct {
	Preamble int // Filler modem frames sent once, ahead of the first frame.
	Frames   []Frame
}

// BurstError reports how far a burst got before the output failed.
type BurstError struct {
	Sent int // Frames completely written before the failure.
	Err  error
}

func (e *BurstError) Error() string {
	return fmt.Sprintf("burst failed after %d frames: %v", e.Sent, e.Err)
}

func (e *BurstError) Unwrap() error {
	return e.Err
}

// RadioChannel is the half duplex link as seen by the scheduler and the receive loop.
type RadioChannel interface {
	// Demodulate performs one receive pass.  ok is true when a complete frame came out.
	Demodulate(ctx context.Context) (frame Frame, ok bool, err error)

	// Transmit modulates and plays one burst.  PTT is handled by the caller.
	Transmit(ctx context.Context, burst Burst) error
}

// InputStream delivers blocks of 16 bit mono samples.
type InputStream interface {
	SampleRate() int
	Read(samples []int16) error // Fills all of samples.
	Close() error
}

// OutputStream plays blocks of 16 bit mono samples.
type OutputStream interface {
	SampleRate() int
	Write(samples []int16) error // Returns when all of samples has been queued to the device.
	Close() error
}

type Radio struct {
	modemMu sync.Mutex // libcodec2 state is shared by both directions.
	modem   Modem

	in  InputStream
	out OutputStream // nil for receive only.

	rxResampler *Resampler
	txResampler *Resampler

	segmenter   *Segmenter
	reassembler *Reassembler

	rxPending []int16 // Modem rate samples not yet consumed.
	rxBlock   []int16 // Device rate read buffer.

	muted atomic.Bool

	logger *log.Logger
}

// NewRadio builds a radio channel.  out may be nil for a receive only station.
func NewRadio(modem Modem, in InputStream, out OutputStream, logger *log.Logger) (*Radio, error) {
	var seg, err = NewSegmenter(modem.PayloadBytes())
	if err != nil {
		return nil, err
	}

	var r = &Radio{ //nolint:exhaustruct
		modem:       modem,
		in:          in,
		out:         out,
		rxResampler: NewResampler(in.SampleRate(), modem.SampleRate()),
		segmenter:   seg,
		reassembler: NewReassembler(modem.PayloadBytes()),
		logger:      logger.WithPrefix("radio"),
	}

	if out != nil {
		r.txResampler = NewResampler(modem.SampleRate(), out.SampleRate())
	}

	return r, nil
}

// Demodulate reads one modem frame worth of audio and runs it through the demodulator.
func (r *Radio) Demodulate(ctx context.Context) (Frame, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	r.modemMu.Lock()
	var nin = r.modem.Nin()
	r.modemMu.Unlock()

	for len(r.rxPending) < nin {
		if r.rxBlock == nil {
			r.rxBlock = make([]int16, r.rxResampler.InputFor(nin))
		}

		if err := r.in.Read(r.rxBlock); err != nil {
			return nil, false, fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
		}

		r.rxPending = r.rxResampler.Append(r.rxPending, r.rxBlock)
	}

	var samples = r.rxPending[:nin]
	r.rxPending = r.rxPending[nin:]
	if len(r.rxPending) == 0 {
		r.rxPending = r.rxPending[:0:0]
	}

	if r.muted.Load() {
		r.reassembler.Reset()
		return nil, false, nil
	}

	r.modemMu.Lock()
	var payload, ok = r.modem.Demodulate(samples)
	r.modemMu.Unlock()

	if !ok {
		return nil, false, nil
	}

	var frame, done = r.reassembler.Push(payload)
	if !done {
		return nil, false, nil
	}

	return frame, true, nil
}

// Transmit sends the modem preamble, the filler frames, every frame of the burst, then the postamble.
// Each frame is written on its own so that a device failure loses only what is left.
func (r *Radio) Transmit(ctx context.Context, burst Burst) error {
	if r.out == nil {
		return ErrTransmitDisabled
	}

	r.muted.Store(true)
	defer r.muted.Store(false)

	var head []int16
	r.modemMu.Lock()
	head = append(head, r.modem.Preamble()...)
	for range burst.Preamble {
		head = append(head, r.modem.Modulate(r.segmenter.Filler())...)
	}
	r.modemMu.Unlock()

	if err := r.play(head); err != nil {
		return &BurstError{Sent: 0, Err: err}
	}

	for i, frame := range burst.Frames {
		if err := ctx.Err(); err != nil {
			return &BurstError{Sent: i, Err: err}
		}

		var audio []int16
		r.modemMu.Lock()
		for _, payload := range r.segmenter.Split(frame) {
			audio = append(audio, r.modem.Modulate(payload)...)
		}
		r.modemMu.Unlock()

		if err := r.play(audio); err != nil {
			return &BurstError{Sent: i, Err: err}
		}

		r.logger.Debug("Sent frame", "bytes", len(frame))
	}

	r.modemMu.Lock()
	var tail = r.modem.Postamble()
	r.modemMu.Unlock()

	if err := r.play(tail); err != nil {
		return &BurstError{Sent: len(burst.Frames), Err: err}
	}

	return nil
}

func (r *Radio) play(samples []int16) error {
	if len(samples) == 0 {
		return nil
	}

	if err := r.out.Write(r.txResampler.Resample(samples)); err != nil {
		return fmt.Errorf("%w: %w", ErrTransmitFailure, err)
	}

	return nil
}
