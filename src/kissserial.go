package tnc

/*------------------------------------------------------------------
 *
 * Purpose:   	Act as a virtual KISS TNC for use by other applications
 *		via a real serial port, or a Bluetooth serial port.
 *
 *---------------------------------------------------------------*/

import (
	"context"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/pkg/term"
)

// SerialKISS is a KISS TNC on a serial port.
type SerialKISS struct {
	port   *term.Term
	device string

	out *streamWriter

	mu      sync.Mutex
	onFrame func(Frame)

	logger *log.Logger
}

// serialSpeed keeps the speed to one a serial port will take.  0 leaves it alone.
func serialSpeed(baud int) (int, bool) {
	switch baud {
	case 0, 1200, 2400, 4800, 9600, 19200, 38400, 57600, 115200:
		return baud, true
	default:
		return 4800, false
	}
}

func OpenSerialKISS(device string, baud int, logger *log.Logger) (*SerialKISS, error) {
	logger = logger.WithPrefix("kiss-serial")

	var port, err = term.Open(device, term.RawMode)
	if err != nil {
		return nil, fmt.Errorf("could not open serial port %s: %w", device, err)
	}

	var speed, ok = serialSpeed(baud)
	if !ok {
		logger.Error("Unsupported speed, using 4800", "speed", baud)
	}
	if speed != 0 {
		if err := port.SetSpeed(speed); err != nil {
			_ = port.Close()
			return nil, fmt.Errorf("serial port %s speed %d: %w", device, speed, err)
		}
	}

	logger.Info("KISS TNC on serial port", "device", device, "speed", speed)

	return &SerialKISS{ //nolint:exhaustruct
		port:   port,
		device: device,
		out:    newStreamWriter(port),
		logger: logger,
	}, nil
}

func (s *SerialKISS) Name() string { return "serial" }

func (s *SerialKISS) OnFrameReceived(cb func(Frame)) {
	s.mu.Lock()
	s.onFrame = cb
	s.mu.Unlock()
}

func (s *SerialKISS) deliver(frame Frame) {
	s.mu.Lock()
	var cb = s.onFrame
	s.mu.Unlock()

	if cb != nil {
		cb(frame)
	}
}

func (s *SerialKISS) SendFrame(frame Frame) error {
	return s.out.Send(KISSEncapsulate(frame))
}

func (s *SerialKISS) Run(ctx context.Context) error {
	var session = newKISSSession(s.deliver, func(b []byte) { _ = s.out.Send(b) }, s.logger)

	var ctx2, cancel = context.WithCancel(ctx)
	defer cancel()

	go func() {
		if err := s.out.Run(ctx2); err != nil {
			s.logger.Error("Write to serial port failed", "device", s.device, "err", err)
		}
	}()

	var readErr = make(chan error, 1)
	go func() {
		var buf = make([]byte, 1024)
		for {
			var n, err = s.port.Read(buf)
			if n > 0 {
				session.Feed(buf[:n])
			}
			if err != nil {
				readErr <- err
				return
			}
		}
	}()

	var err error
	select {
	case <-ctx.Done():
	case err = <-readErr:
	}

	_ = s.port.Close()

	if err != nil {
		return fmt.Errorf("kiss serial %s: %w", s.device, err)
	}

	return nil
}
