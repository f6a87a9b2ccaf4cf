package tnc

import "errors"

// Startup failures (device, modem, first rig connection) are returned from
// NewTNC and end the process. Everything else is recovered where it happens.
var (
	ErrDeviceUnavailable = errors.New("audio device unavailable")
	ErrModemUnavailable  = errors.New("modem unavailable")
	ErrRigUnreachable    = errors.New("rig control unreachable")
	ErrTransmitFailure   = errors.New("transmit failure")
	ErrTransmitDisabled  = errors.New("transmit disabled")
	ErrSinkDelivery      = errors.New("sink delivery failure")
)
