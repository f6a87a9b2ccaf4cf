package tnc

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// gpiodOutputLine is the part of *gpiocdev.Line used for PTT.
type gpiodOutputLine interface {
	SetValue(v int) error
	Close() error
}

// GPIORig drives PTT with a line of a GPIO character device such as gpiochip0.
type GPIORig struct {
	line gpiodOutputLine
}

func OpenGPIORig(chip string, offset int, activeLow bool) (*GPIORig, error) {
	if chip == "" {
		chip = "gpiochip0"
	}

	var opts = []gpiocdev.LineReqOption{
		gpiocdev.WithConsumer("freedvtnc"),
		gpiocdev.AsOutput(0),
	}
	if activeLow {
		opts = append(opts, gpiocdev.AsActiveLow)
	}

	var line, err = gpiocdev.RequestLine(chip, offset, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: request %s line %d: %w", ErrRigUnreachable, chip, offset, err)
	}

	return &GPIORig{line: line}, nil
}

// SetTransmit sets the logical value.  Active low is taken care of by the kernel.
func (r *GPIORig) SetTransmit(on bool) error {
	var v = 0
	if on {
		v = 1
	}

	if err := r.line.SetValue(v); err != nil {
		return fmt.Errorf("%w: gpio: %w", ErrRigUnreachable, err)
	}

	return nil
}

func (r *GPIORig) Close() error {
	return r.line.Close()
}
