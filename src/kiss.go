package tnc

/*------------------------------------------------------------------
 *
 * Purpose:   	Act as a virtual KISS TNC for use by other applications
 *		via a pseudo terminal.
 *
 * Description:	The pseudo terminal name is not the same every time so a
 *		symlink, /tmp/kisstnc, points at it.  The application
 *		configuration does not need to change.
 *
 *		If no one is reading from the other end of the pseudo
 *		terminal, the buffer space eventually fills up and a
 *		write would block.  Received frames go through a small
 *		queue to a writer goroutine instead, and are dropped with
 *		an error when that queue is full, so the receive loop
 *		never gets stuck.
 *
 *---------------------------------------------------------------*/

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/creack/pty"
	"github.com/pkg/term/termios"
	"golang.org/x/sys/unix"
)

const KISSSymlink = "/tmp/kisstnc"

const kissWriteQueue = 64

var ErrClientNotReading = errors.New("client is not reading")

// streamWriter decouples frame delivery from a write that may block.
type streamWriter struct {
	w  io.Writer
	ch chan []byte
}

func newStreamWriter(w io.Writer) *streamWriter {
	return &streamWriter{w: w, ch: make(chan []byte, kissWriteQueue)}
}

// Send queues p.  It never blocks.
func (s *streamWriter) Send(p []byte) error {
	select {
	case s.ch <- p:
		return nil
	default:
		return ErrClientNotReading
	}
}

func (s *streamWriter) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case p := <-s.ch:
			if _, err := s.w.Write(p); err != nil {
				return err
			}
		}
	}
}

// PtyKISS is a KISS TNC on a pseudo terminal.
type PtyKISS struct {
	master  *os.File
	slave   *os.File
	symlink string

	out *streamWriter

	mu      sync.Mutex
	onFrame func(Frame)

	closeOnce sync.Once

	logger *log.Logger
}

// OpenPtyKISS creates the pseudo terminal and the symlink to it.  An empty
// symlink skips that step.
func OpenPtyKISS(symlink string, logger *log.Logger) (*PtyKISS, error) {
	logger = logger.WithPrefix("kiss-pty")

	var master, slave, err = pty.Open()
	if err != nil {
		return nil, fmt.Errorf("could not create pseudo terminal for KISS TNC: %w", err)
	}

	// Raw, so KISS bytes get through the line discipline untouched.
	var attr unix.Termios
	if err := termios.Tcgetattr(slave.Fd(), &attr); err == nil {
		termios.Cfmakeraw(&attr)
		attr.Cc[unix.VMIN] = 1
		attr.Cc[unix.VTIME] = 0
		if err := termios.Tcsetattr(slave.Fd(), termios.TCSANOW, &attr); err != nil {
			logger.Warn("Could not set pseudo terminal to raw mode", "err", err)
		}
	}

	var p = &PtyKISS{ //nolint:exhaustruct
		master: master,
		slave:  slave,
		out:    newStreamWriter(master),
		logger: logger,
	}

	logger.Info("Virtual KISS TNC is available", "device", slave.Name())

	if symlink != "" {
		_ = os.Remove(symlink)
		if err := os.Symlink(slave.Name(), symlink); err != nil {
			logger.Error("Failed to create symlink", "symlink", symlink, "err", err)
		} else {
			logger.Info("Created symlink", "symlink", symlink, "target", slave.Name())
			p.symlink = symlink
		}
	}

	return p, nil
}

func (p *PtyKISS) Name() string { return "pty" }

// DeviceName is what a client application opens.
func (p *PtyKISS) DeviceName() string { return p.slave.Name() }

func (p *PtyKISS) OnFrameReceived(cb func(Frame)) {
	p.mu.Lock()
	p.onFrame = cb
	p.mu.Unlock()
}

func (p *PtyKISS) deliver(frame Frame) {
	p.mu.Lock()
	var cb = p.onFrame
	p.mu.Unlock()

	if cb != nil {
		cb(frame)
	}
}

func (p *PtyKISS) SendFrame(frame Frame) error {
	return p.out.Send(KISSEncapsulate(frame))
}

// Run reads from the client application until ctx is done, then cleans up.
func (p *PtyKISS) Run(ctx context.Context) error {
	var session = newKISSSession(p.deliver, func(b []byte) { _ = p.out.Send(b) }, p.logger)

	var ctx2, cancel = context.WithCancel(ctx)
	defer cancel()

	go func() {
		if err := p.out.Run(ctx2); err != nil {
			p.logger.Error("Write to pseudo terminal failed", "err", err)
		}
	}()

	var readErr = make(chan error, 1)
	go func() {
		var buf = make([]byte, 1024)
		for {
			var n, err = p.master.Read(buf)
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

	p.Close()

	if err != nil {
		return fmt.Errorf("kiss pty %s: %w", p.slave.Name(), err)
	}

	return nil
}

// Close removes the symlink and closes the pseudo terminal.  Only the first
// call does anything, so a symlink made since by someone else is left alone.
func (p *PtyKISS) Close() {
	p.closeOnce.Do(func() {
		if p.symlink != "" {
			_ = os.Remove(p.symlink)
		}
		_ = p.master.Close()
		_ = p.slave.Close()
	})
}
