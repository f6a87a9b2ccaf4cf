package tnc

/*------------------------------------------------------------------
 *
 * Purpose:   	Common code used by the pseudo terminal, serial port and
 *		network versions of the KISS protocol.
 *
 * Description: The KISS TNC protocol is described in http://www.ka9q.net/papers/kiss.html
 *
 * 		Briefly, a frame is composed of
 *
 *			* FEND (0xC0)
 *			* Contents - with special escape sequences so a 0xc0
 *				byte in the data is not taken as end of frame.
 *			* FEND
 *
 *		The first byte of the frame contains:
 *
 *			* port number in upper nybble.
 *			* command in lower nybble.
 *
 *		Commands from application to TNC:
 *
 *			_0	Data Frame	Queued for transmission.
 *
 *			_1	TXDELAY		Ignored.  Timing is our own
 *			_2	Persistence	configuration, not the client's.
 *			_3 	SlotTime
 *			_4	TXtail
 *			_5	FullDuplex
 *
 *			_6	SetHardware	"TNC:" answers with our name.
 *
 *			FF	Return		Exit KISS mode.  Ignored.
 *
 *		Messages sent to client application:
 *
 *			_0	Data Frame	Received frame.
 *
 *			_6	SetHardware	Response to a query.
 *
 *---------------------------------------------------------------*/

import (
	"bytes"
	"strings"

	"github.com/charmbracelet/log"
)

const (
	KISSCmdDataFrame   = 0
	KISSCmdTxDelay     = 1
	KISSCmdPersistence = 2
	KISSCmdSlotTime    = 3
	KISSCmdTxTail      = 4
	KISSCmdFullDuplex  = 5
	KISSCmdSetHardware = 6
	KISSCmdEndKISS     = 15
)

const (
	FEND  = 0xC0
	FESC  = 0xDB
	TFEND = 0xDC
	TFESC = 0xDD
)

// Longest KISS message we will collect: every byte of the largest frame
// escaped, plus the type byte.
const maxKISSLen = 2*MaxFrameSize + 2

const maxNoiseLen = 100

// KISSEncapsulate wraps a data frame for port 0.
func KISSEncapsulate(frame []byte) []byte {
	return kissEncapsulateCmd(KISSCmdDataFrame, frame)
}

func kissEncapsulateCmd(cmd byte, data []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(len(data) + len(data)/8 + 3)

	buf.WriteByte(FEND)
	buf.WriteByte(cmd)
	for _, b := range data {
		switch b {
		case FEND:
			buf.WriteByte(FESC)
			buf.WriteByte(TFEND)
		case FESC:
			buf.WriteByte(FESC)
			buf.WriteByte(TFESC)
		default:
			buf.WriteByte(b)
		}
	}
	buf.WriteByte(FEND)

	return buf.Bytes()
}

// KISSUnwrap removes the escapes from the bytes between two FENDs.
// ok is false for a protocol error: a stray FEND or a bad escape.
func KISSUnwrap(in []byte) ([]byte, bool) {
	var out = make([]byte, 0, len(in))
	var escaped = false
	var ok = true

	for _, b := range in {
		switch {
		case b == FEND:
			ok = false
		case escaped:
			switch b {
			case TFESC:
				out = append(out, FESC)
			case TFEND:
				out = append(out, FEND)
			default:
				ok = false
			}
			escaped = false
		case b == FESC:
			escaped = true
		default:
			out = append(out, b)
		}
	}

	if escaped {
		ok = false
	}

	return out, ok
}

type kissState int

const (
	kissSearching  kissState = iota // Looking for FEND to start a KISS frame.
	kissCollecting                  // In process of collecting a KISS frame.
)

// KISSDecoder turns a byte stream from a client into KISS messages.
// Each message still has its type byte.  Not safe for concurrent use; each
// client connection has its own.
type KISSDecoder struct {
	state    kissState
	msg      []byte
	overflow bool
	noise    []byte

	// OnNoise, if set, gets each line of text seen outside of a frame.
	OnNoise func(line []byte)
}

// Feed processes bytes and calls emit for every complete message, in order.
// Empty messages, overlong messages and protocol errors are dropped.
func (d *KISSDecoder) Feed(p []byte, emit func(msg []byte)) {
	for _, ch := range p {
		switch d.state {
		case kissSearching:
			if ch == FEND {
				d.noise = d.noise[:0]
				d.msg = d.msg[:0]
				d.overflow = false
				d.state = kissCollecting
				continue
			}

			// Noise to be rejected.
			if len(d.noise) < maxNoiseLen {
				d.noise = append(d.noise, ch)
			}
			if ch == '\r' {
				if d.OnNoise != nil {
					d.OnNoise(d.noise)
				}
				d.noise = d.noise[:0]
			}

		case kissCollecting:
			if ch != FEND {
				if len(d.msg) < maxKISSLen {
					d.msg = append(d.msg, ch)
				} else {
					d.overflow = true
				}
				continue
			}

			if len(d.msg) == 0 {
				// Back to back FENDs.  Just go on collecting.
				continue
			}

			if !d.overflow {
				if unwrapped, ok := KISSUnwrap(d.msg); ok && len(unwrapped) > 0 {
					emit(unwrapped)
				}
			}

			d.msg = d.msg[:0]
			d.overflow = false
			d.state = kissSearching
		}
	}
}

// kissSession handles the messages of one client connection.
type kissSession struct {
	decoder KISSDecoder
	onFrame func(Frame)
	reply   func([]byte) // Back to this client only.
	logger  *log.Logger
}

func newKISSSession(onFrame func(Frame), reply func([]byte), logger *log.Logger) *kissSession {
	var s = &kissSession{ //nolint:exhaustruct
		onFrame: onFrame,
		reply:   reply,
		logger:  logger,
	}

	// Some applications send text commands trying to get a TNC into KISS
	// mode.  Try to appease them by sending something back.
	s.decoder.OnNoise = func(line []byte) {
		s.logger.Debug("Rejected noise", "text", strings.TrimSpace(string(line)))
		if s.reply == nil {
			return
		}
		var text = strings.ToLower(string(line))
		if text == "restart\r" || text == "reset\r" {
			s.reply([]byte{FEND, FEND})
		} else {
			s.reply([]byte("\r\ncmd:"))
		}
	}

	return s
}

func (s *kissSession) Feed(p []byte) {
	s.decoder.Feed(p, s.process)
}

func (s *kissSession) process(msg []byte) {
	if msg[0] == 0xFF {
		s.logger.Debug("KISS Return command, ignored")
		return
	}

	var port = msg[0] >> 4
	var cmd = msg[0] & 0x0f
	var body = msg[1:]

	switch cmd {
	case KISSCmdDataFrame:
		if len(body) == 0 {
			s.logger.Debug("Empty KISS data frame ignored")
			return
		}
		if port != 0 {
			s.logger.Debug("KISS data frame for another port, sending anyway", "port", port)
		}
		if s.onFrame != nil {
			s.onFrame(Frame(bytes.Clone(body)))
		}

	case KISSCmdTxDelay, KISSCmdPersistence, KISSCmdSlotTime, KISSCmdTxTail, KISSCmdFullDuplex:
		s.logger.Debug("KISS timing command ignored", "cmd", cmd, "value", body)

	case KISSCmdSetHardware:
		s.setHardware(body)

	default:
		s.logger.Debug("Unsupported KISS command ignored", "cmd", cmd)
	}
}

func (s *kissSession) setHardware(command []byte) {
	var cmd, _, found = bytes.Cut(command, []byte{':'})
	if !found {
		s.logger.Warn("KISS Set Hardware expected the form COMMAND:[parameter[,parameter...]]", "command", string(command))
		return
	}

	switch string(cmd) {
	case "TNC":
		if s.reply != nil {
			s.reply(kissEncapsulateCmd(KISSCmdSetHardware, []byte("TNC:FREEDVTNC "+Version)))
		}
	default:
		s.logger.Warn("KISS Set Hardware unrecognized command", "command", string(cmd))
	}
}
