package tnc

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RemoteRig keys the transmitter through Hamlib's rigctld.
//
// Only the PTT command is used:  "T 1" / "T 0", answered with "RPRT 0" on
// success or "RPRT -n" when the rig refuses.  A broken connection is dropped
// and redialled on the next call.
type RemoteRig struct {
	address string
	timeout time.Duration

	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
}

// RigctlError is a negative RPRT reply.
type RigctlError struct {
	Command string
	Code    int
}

func (e *RigctlError) Error() string {
	return fmt.Sprintf("rigctld rejected %q with RPRT %d", e.Command, e.Code)
}

// DialRigctld connects right away so a missing daemon shows up at startup.
func DialRigctld(address string, timeout time.Duration) (*RemoteRig, error) {
	var r = &RemoteRig{ //nolint:exhaustruct
		address: address,
		timeout: timeout,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.connectLocked(); err != nil {
		return nil, err
	}

	return r, nil
}

func (r *RemoteRig) Address() string {
	return r.address
}

func (r *RemoteRig) connectLocked() error {
	var conn, err = net.DialTimeout("tcp", r.address, r.timeout)
	if err != nil {
		return fmt.Errorf("%w: connect to rigctld at %s: %w", ErrRigUnreachable, r.address, err)
	}

	r.conn = conn
	r.reader = bufio.NewReader(conn)

	return nil
}

func (r *RemoteRig) dropLocked() {
	if r.conn != nil {
		_ = r.conn.Close()
	}
	r.conn = nil
	r.reader = nil
}

func (r *RemoteRig) SetTransmit(on bool) error {
	var cmd = "T 0"
	if on {
		cmd = "T 1"
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	return r.commandLocked(cmd)
}

func (r *RemoteRig) commandLocked(cmd string) error {
	if r.conn == nil {
		if err := r.connectLocked(); err != nil {
			return err
		}
	}

	if err := r.conn.SetDeadline(time.Now().Add(r.timeout)); err != nil {
		r.dropLocked()
		return fmt.Errorf("%w: %s: %w", ErrRigUnreachable, r.address, err)
	}

	if _, err := r.conn.Write([]byte(cmd + "\n")); err != nil {
		r.dropLocked()
		return fmt.Errorf("%w: send %q to %s: %w", ErrRigUnreachable, cmd, r.address, err)
	}

	var line, err = r.reader.ReadString('\n')
	if err != nil {
		r.dropLocked()
		return fmt.Errorf("%w: read reply to %q from %s: %w", ErrRigUnreachable, cmd, r.address, err)
	}

	var code, ok = parseRPRT(line)
	if !ok {
		r.dropLocked()
		return fmt.Errorf("%w: unexpected reply %q to %q", ErrRigUnreachable, strings.TrimSpace(line), cmd)
	}

	if code != 0 {
		return fmt.Errorf("%w: %w", ErrRigUnreachable, &RigctlError{Command: cmd, Code: code})
	}

	return nil
}

// parseRPRT understands "RPRT n".
func parseRPRT(line string) (int, bool) {
	var rest, found = strings.CutPrefix(strings.TrimSpace(line), "RPRT")
	if !found {
		return 0, false
	}

	var code, err = strconv.Atoi(strings.TrimSpace(rest))
	if err != nil {
		return 0, false
	}

	return code, true
}

func (r *RemoteRig) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.dropLocked()

	return nil
}
