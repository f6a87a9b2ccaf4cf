package tnc

import (
	"fmt"
	"strings"
)

// Modem is a raw data modem working on 16 bit mono samples at its own rate.
// Implementations need not be safe for concurrent use.
type Modem interface {
	SampleRate() int   // Modem sample rate in Hz.
	PayloadBytes() int // Bytes carried by one modem frame.
	Nin() int          // Samples the demodulator wants next.

	// Demodulate consumes exactly Nin() samples.  ok is true when a modem frame was decoded.
	Demodulate(samples []int16) (payload []byte, ok bool)

	// Modulate turns one PayloadBytes() sized payload into audio.
	Modulate(payload []byte) []int16

	Preamble() []int16  // Burst start marker, empty for modes without one.
	Postamble() []int16 // Burst end marker, empty for modes without one.
	Sync() bool         // Demodulator is locked on to a signal.
	Close() error
}

type ModemMode string

const (
	Mode700D   ModemMode = "700D"
	ModeDATAC0 ModemMode = "DATAC0"
	ModeDATAC1 ModemMode = "DATAC1"
	ModeDATAC3 ModemMode = "DATAC3"
)

const DefaultModemMode = Mode700D

func ModemModes() []ModemMode {
	return []ModemMode{Mode700D, ModeDATAC0, ModeDATAC1, ModeDATAC3}
}

func ParseModemMode(s string) (ModemMode, error) {
	for _, m := range ModemModes() {
		if strings.EqualFold(s, string(m)) {
			return m, nil
		}
	}

	return "", fmt.Errorf("unknown modem %q, choose one of %v", s, ModemModes())
}
