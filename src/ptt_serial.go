package tnc

import (
	"fmt"
	"strings"

	"github.com/pkg/term"
)

// serialControl is the part of *term.Term used for PTT.
type serialControl interface {
	SetRTS(v bool) error
	SetDTR(v bool) error
	Close() error
}

// SerialRig drives PTT with the RTS or DTR line of a serial port.
type SerialRig struct {
	port   serialControl
	line   string // "RTS" or "DTR"
	invert bool
}

func OpenSerialRig(device, line string, invert bool) (*SerialRig, error) {
	if device == "" {
		return nil, fmt.Errorf("%w: serial PTT needs --ptt-device", ErrRigUnreachable)
	}

	var port, err = term.Open(device)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrRigUnreachable, device, err)
	}

	var rig, rigErr = newSerialRig(port, line, invert)
	if rigErr != nil {
		_ = port.Close()
		return nil, rigErr
	}

	// Start out unkeyed.
	if err := rig.SetTransmit(false); err != nil {
		_ = port.Close()
		return nil, err
	}

	return rig, nil
}

func newSerialRig(port serialControl, line string, invert bool) (*SerialRig, error) {
	switch l := strings.ToUpper(line); l {
	case "", "RTS":
		return &SerialRig{port: port, line: "RTS", invert: invert}, nil
	case "DTR":
		return &SerialRig{port: port, line: "DTR", invert: invert}, nil
	default:
		return nil, fmt.Errorf("serial PTT line must be RTS or DTR, not %q", line)
	}
}

func (r *SerialRig) SetTransmit(on bool) error {
	var level = on != r.invert

	var err error
	if r.line == "DTR" {
		err = r.port.SetDTR(level)
	} else {
		err = r.port.SetRTS(level)
	}

	if err != nil {
		return fmt.Errorf("%w: set %s: %w", ErrRigUnreachable, r.line, err)
	}

	return nil
}

func (r *SerialRig) Close() error {
	return r.port.Close()
}
