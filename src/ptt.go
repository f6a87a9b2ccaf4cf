package tnc

/*------------------------------------------------------------------
 *
 * Purpose:   	Activate the push to talk (PTT) signal.
 *
 * Description:	There are several different ways to do this:
 *
 *		rigctld	Hamlib's rig control daemon, over TCP.
 *			The rig does the rest.
 *
 *		vox	Nothing at all.  The radio keys itself when it
 *			hears audio.
 *
 *		serial	RTS or DTR of a serial port, usually through a
 *			transistor on an interface board.
 *
 *		gpio	A general purpose I/O line, through the Linux
 *			GPIO character device.
 *
 *		cm108	A GPIO pin of a CM108/CM119 USB audio adapter
 *			(DMK URI, RB-USB RIM, RA-35, DINAH, AIOC, ...).
 *
 *		The method is picked once, at startup.  Only the transmit
 *		scheduler ever calls SetTransmit.
 *
 *---------------------------------------------------------------*/

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// RigController keys and unkeys the transmitter.
type RigController interface {
	// SetTransmit asserts (true) or releases (false) PTT.  No retries happen inside.
	SetTransmit(on bool) error
	Close() error
}

type PTTMethod string

const (
	PTTRigctld PTTMethod = "rigctld"
	PTTVox     PTTMethod = "vox"
	PTTSerial  PTTMethod = "serial"
	PTTGPIO    PTTMethod = "gpio"
	PTTCM108   PTTMethod = "cm108"
)

func PTTMethods() []PTTMethod {
	return []PTTMethod{PTTRigctld, PTTVox, PTTSerial, PTTGPIO, PTTCM108}
}

func ParsePTTMethod(s string) (PTTMethod, error) {
	for _, m := range PTTMethods() {
		if strings.EqualFold(s, string(m)) {
			return m, nil
		}
	}

	return "", fmt.Errorf("unknown PTT method %q, choose one of %v", s, PTTMethods())
}

const rigctldTimeout = 5 * time.Second

// NewRigController opens the configured PTT method.
// audioDevice helps pick the right CM108 when there are several.
func NewRigController(cfg PTTConfig, audioDevice string, logger *log.Logger) (RigController, error) {
	var method, err = ParsePTTMethod(cfg.Method)
	if err != nil {
		return nil, err
	}

	logger = logger.WithPrefix("ptt")

	switch method {
	case PTTVox:
		logger.Info("Using VOX, no PTT control")
		return VoxRig{}, nil

	case PTTRigctld:
		var addr = net.JoinHostPort(cfg.RigctlHost, strconv.Itoa(cfg.RigctlPort))
		var rig, err = DialRigctld(addr, rigctldTimeout)
		if err != nil {
			return nil, fmt.Errorf("%w (did you mean to use --vox?)", err)
		}
		logger.Info("Connected to rigctld", "address", addr)
		return rig, nil

	case PTTSerial:
		var rig, err = OpenSerialRig(cfg.Device, cfg.Line, cfg.Invert)
		if err != nil {
			return nil, err
		}
		logger.Info("PTT on serial port", "device", cfg.Device, "line", rig.line, "invert", cfg.Invert)
		return rig, nil

	case PTTGPIO:
		var rig, err = OpenGPIORig(cfg.Device, cfg.GPIO, cfg.Invert)
		if err != nil {
			return nil, err
		}
		logger.Info("PTT on GPIO line", "chip", cfg.Device, "line", cfg.GPIO, "invert", cfg.Invert)
		return rig, nil

	case PTTCM108:
		var device = cfg.Device
		if device == "" {
			var found, err = FindCM108(audioDevice)
			if err != nil {
				return nil, err
			}
			device = found
		}
		var pin = cfg.GPIO
		if pin == 0 {
			pin = CM108DefaultGPIO
		}
		var rig, err = OpenCM108Rig(device, pin, cfg.Invert, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("PTT on CM108 GPIO", "device", device, "gpio", pin, "invert", cfg.Invert)
		return rig, nil
	}

	return nil, fmt.Errorf("PTT method %q not handled", method)
}

// VoxRig is for radios that key themselves on audio.
type VoxRig struct{}

func (VoxRig) SetTransmit(bool) error { return nil }
func (VoxRig) Close() error           { return nil }
