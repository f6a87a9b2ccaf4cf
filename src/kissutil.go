package tnc

/*------------------------------------------------------------------
 *
 * Purpose:   	Utility for talking to a KISS TNC.
 *
 * Description:	Convert between KISS format and usual text representation.
 *		This might also serve as the starting point for an application
 *		that uses a KISS TNC.
 *		The TNC can be attached by TCP or a serial port.
 *
 * Usage:	freedvtnc-kissutil  [ options ]
 *
 *		Default is to connect to localhost:8001.
 *		See the "usage" functions at the bottom for details.
 *
 *---------------------------------------------------------------*/

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/lestrrat-go/strftime"
	"github.com/pkg/term"
	"github.com/spf13/pflag"
)

// KISSUtil is one session with a KISS TNC.
type KISSUtil struct {
	conn io.ReadWriteCloser
	out  io.Writer

	verbose       bool
	receiveOutput string             // Directory for received frames, empty for none.
	timestamp     *strftime.Strftime // nil for none.
	now           func() time.Time

	mu      sync.Mutex // Serializes writes to out.
	decoder KISSDecoder
}

// KissUtilMain returns the process exit status.
func KissUtilMain(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var fs = pflag.NewFlagSet(args[0], pflag.ContinueOnError)
	fs.SetOutput(stderr)

	var hostname = fs.StringP("hostname", "h", "localhost", "Hostname of TCP KISS TNC")
	var port = fs.StringP("port", "p", "8001", "Port. If it does not start with a digit, it is treated as a serial port, e.g. /dev/ttyAMA0")
	var serialSpeed = fs.IntP("serial-speed", "s", 9600, "Serial port speed")
	var verbose = fs.BoolP("verbose", "v", false, "Verbose. Show the KISS frame contents.")
	var transmitFrom = fs.StringP("transmit-from", "f", "", "Transmit files directory.  Process and delete files here.")
	var receiveOutput = fs.StringP("receive-output", "o", "", "Receive output queue directory.  Store received frames here.")
	var timestampFormat = fs.StringP("timestamp-format", "T", "", "Precede received frames with 'strftime' format time stamp.")
	var help = fs.Bool("help", false, "Display help text.")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "%s - Utility for testing a KISS TNC.\n", args[0])
		fmt.Fprintf(stderr, "\n")
		fmt.Fprintf(stderr, "Convert between KISS format and usual text representation.\n")
		fmt.Fprintf(stderr, "The TNC can be attached by TCP or a serial port.\n")
		fmt.Fprintf(stderr, "\n")
		fs.PrintDefaults()
		usage2(stderr)
	}

	if err := fs.Parse(args[1:]); err != nil {
		return 2
	}

	if *help {
		fs.Usage()
		return 0
	}

	// If receive queue directory was specified, make sure that it exists.
	if *receiveOutput != "" {
		var s, err = os.Stat(*receiveOutput)
		if err != nil {
			fmt.Fprintf(stderr, "Error with receive queue location %s: %s\n", *receiveOutput, err)
			return 1
		}
		if !s.IsDir() {
			fmt.Fprintf(stderr, "Receive queue location, %s, is not a directory.\n", *receiveOutput)
			return 1
		}
	}

	var conn io.ReadWriteCloser
	var err error

	// If port begins with digit, consider it to be TCP.
	// Otherwise, treat as serial port name.
	if *port != "" && unicode.IsDigit(rune((*port)[0])) {
		conn, err = net.Dial("tcp", net.JoinHostPort(*hostname, *port))
		if err != nil {
			fmt.Fprintf(stderr, "Unable to connect to %s on port %s: %s\n", *hostname, *port, err)
			return 1
		}
	} else {
		conn, err = openKISSUtilSerial(*port, *serialSpeed)
		if err != nil {
			fmt.Fprintf(stderr, "Unable to connect to KISS TNC serial port %s: %s\n", *port, err)
			return 1
		}
	}

	var k *KISSUtil
	k, err = NewKISSUtil(conn, stdout, *verbose, *receiveOutput, *timestampFormat)
	if err != nil {
		_ = conn.Close()
		fmt.Fprintf(stderr, "%s\n", err)
		return 1
	}
	defer k.Close()

	var ctx, cancel = context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := k.Listen(); err != nil {
			fmt.Fprintf(stderr, "Read error from KISS TNC (%s).  Terminating.\n", err)
			os.Exit(1)
		}
	}()

	if *transmitFrom != "" {
		k.TransmitFrom(ctx, *transmitFrom)
		return 0
	}

	var scanner = bufio.NewScanner(stdin)
	for scanner.Scan() {
		k.ProcessInput(scanner.Text())
	}

	return 0
}

func openKISSUtilSerial(device string, speed int) (io.ReadWriteCloser, error) {
	var port, err = term.Open(device, term.RawMode)
	if err != nil {
		return nil, err
	}

	if s, ok := serialSpeed(speed); ok && s != 0 {
		if err := port.SetSpeed(s); err != nil {
			_ = port.Close()
			return nil, err
		}
	}

	return port, nil
}

func NewKISSUtil(conn io.ReadWriteCloser, out io.Writer, verbose bool, receiveOutput, timestampFormat string) (*KISSUtil, error) {
	var k = &KISSUtil{ //nolint:exhaustruct
		conn:          conn,
		out:           out,
		verbose:       verbose,
		receiveOutput: receiveOutput,
		now:           time.Now,
	}

	if timestampFormat != "" {
		var f, err = strftime.New(timestampFormat)
		if err != nil {
			return nil, fmt.Errorf("timestamp format %q: %w", timestampFormat, err)
		}
		k.timestamp = f
	}

	return k, nil
}

func (k *KISSUtil) Close() error {
	return k.conn.Close()
}

func (k *KISSUtil) printf(format string, a ...any) {
	k.mu.Lock()
	defer k.mu.Unlock()

	fmt.Fprintf(k.out, format, a...)
}

// Listen prints everything the TNC sends until the connection fails.
func (k *KISSUtil) Listen() error {
	var buf = make([]byte, 4096)
	for {
		var n, err = k.conn.Read(buf)
		if n > 0 {
			k.decoder.Feed(buf[:n], k.processMsg)
		}
		if err != nil {
			return err
		}
	}
}

// TransmitFrom processes and deletes all files in dir.  When done, sleep
// for a second and try again.  This doesn't take them in any particular order.
func (k *KISSUtil) TransmitFrom(ctx context.Context, dir string) {
	for ctx.Err() == nil {
		var entries, err = os.ReadDir(dir)
		if err != nil {
			k.printf("Can't read transmit queue directory %s: %s\n", dir, err)
			return
		}

		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}

			var path = filepath.Join(dir, entry.Name())
			k.printf("Processing %s for transmit...\n", path)

			var data, err = os.ReadFile(path)
			if err != nil {
				k.printf("Can't read %s: %s\n", path, err)
				continue
			}

			for line := range strings.Lines(string(data)) {
				if strings.TrimSpace(line) != "" {
					k.ProcessInput(line)
				}
			}

			if err := os.Remove(path); err != nil {
				k.printf("Can't delete %s: %s\n", path, err)
			}
		}

		sleepCtx(ctx, time.Second)
	}
}

func parseKISSNumber(str string, deFault int) (int, error) {
	str = strings.TrimSpace(str)

	if len(str) == 0 {
		return deFault, fmt.Errorf("missing number for KISS command, using default %d", deFault)
	}

	var n, err = strconv.Atoi(str)
	if err != nil || n < 0 || n > 255 { // must fit in a byte.
		return deFault, fmt.Errorf("number for KISS command is out of range 0-255, using default %d", deFault)
	}

	return n, nil
}

// Defaults when a timing command is given without a value, in 10ms units.
const (
	defaultTxDelay  = 30
	defaultPersist  = 63
	defaultSlotTime = 10
	defaultTxTail   = 10
)

var errKISSUtilInput = errors.New("invalid input")

// ParseKISSUtilInput turns one line of user input into a KISS message ready to send.
func ParseKISSUtilInput(stuff string) ([]byte, error) {
	// Remove any end of line character(s).
	stuff = strings.TrimSpace(stuff)
	if stuff == "" {
		return nil, fmt.Errorf("%w: empty line", errKISSUtilInput)
	}

	// Optional prefix, like "[9]" or "[99]" to specify channel.
	var channel int
	if stuff[0] == '[' {
		var before, after, found = strings.Cut(stuff[1:], "]")
		var err error
		channel, err = strconv.Atoi(before)
		if !found || err != nil {
			return nil, fmt.Errorf("%w: channel number and ] was expected after [ at beginning of line", errKISSUtilInput)
		}
		if channel < 0 || channel > 15 {
			return nil, fmt.Errorf("%w: KISS channel number must be in range of 0 thru 15", errKISSUtilInput)
		}

		stuff = strings.TrimSpace(after)
		if stuff == "" {
			return nil, fmt.Errorf("%w: nothing after channel number", errKISSUtilInput)
		}
	}

	var kissCmd = func(cmd int, data []byte) []byte {
		return kissEncapsulateCmd(byte(channel<<4|cmd), data)
	}

	// Upper case or digit is text to send as is.  "=" is followed by hex.
	// Lower case is a command (e.g.  Persistence or set Hardware).
	switch {
	case stuff[0] == '=':
		var data, err = hex.DecodeString(strings.Join(strings.Fields(stuff[1:]), ""))
		if err != nil {
			return nil, fmt.Errorf("%w: bad hex: %w", errKISSUtilInput, err)
		}
		if len(data) == 0 || len(data) > MaxFrameSize {
			return nil, fmt.Errorf("%w: frame must be 1 to %d bytes", errKISSUtilInput, MaxFrameSize)
		}
		return kissCmd(KISSCmdDataFrame, data), nil

	case unicode.IsUpper(rune(stuff[0])) || unicode.IsDigit(rune(stuff[0])):
		if len(stuff) > MaxFrameSize {
			return nil, fmt.Errorf("%w: frame must be 1 to %d bytes", errKISSUtilInput, MaxFrameSize)
		}
		return kissCmd(KISSCmdDataFrame, []byte(stuff)), nil

	case unicode.IsLower(rune(stuff[0])):
		var arg = stuff[1:]
		var number = func(cmd, deFault int) ([]byte, error) {
			var value, err = parseKISSNumber(arg, deFault)
			return kissCmd(cmd, []byte{byte(value)}), err
		}

		switch stuff[0] {
		case 'd': // txDelay, 10ms units
			return number(KISSCmdTxDelay, defaultTxDelay)
		case 'p': // Persistence
			return number(KISSCmdPersistence, defaultPersist)
		case 's': // Slot time, 10ms units
			return number(KISSCmdSlotTime, defaultSlotTime)
		case 't': // txTail, 10ms units
			return number(KISSCmdTxTail, defaultTxTail)
		case 'f': // Full duplex
			return number(KISSCmdFullDuplex, 0)
		case 'h': // set Hardware
			return kissCmd(KISSCmdSetHardware, []byte(strings.TrimSpace(arg))), nil
		default:
			return nil, fmt.Errorf("%w: invalid command, must be one of d p s t f h", errKISSUtilInput)
		}
	}

	return nil, errKISSUtilInput
}

// ProcessInput sends one line from the user, or explains what was wrong with it.
func (k *KISSUtil) ProcessInput(stuff string) {
	var msg, err = ParseKISSUtilInput(stuff)
	if err != nil && msg == nil {
		k.printf("ERROR! %s\n", err)
		k.mu.Lock()
		usage2(k.out)
		k.mu.Unlock()
		return
	}
	if err != nil {
		// Usable, with a default substituted.
		k.printf("%s\n", err)
	}

	if k.verbose {
		k.printf("Sending to KISS TNC:\n")
		k.printf("%s", hexDump(msg))
	}

	if _, err := k.conn.Write(msg); err != nil {
		k.printf("ERROR writing KISS frame to TNC: %s\n", err)
	}
}

// processMsg handles a message from the TNC with FEND and escapes removed.
// The first byte contains channel and command.
func (k *KISSUtil) processMsg(msg []byte) {
	var channel = (msg[0] >> 4) & 0xf
	var cmd = msg[0] & 0xf
	var body = msg[1:]

	if k.verbose {
		k.printf("From KISS TNC:\n%s", hexDump(msg))
	}

	switch cmd {
	case KISSCmdDataFrame:
		// Like [0] or [2 12:34:56]
		var prefix = fmt.Sprintf("[%d]", channel)
		if k.timestamp != nil {
			prefix = fmt.Sprintf("[%d %s]", channel, k.timestamp.FormatString(k.now()))
		}

		var line = prefix + " " + safePrint(body)
		k.printf("%s\n", line)

		// File name is based on current local time.  For UTC set TZ=UTC.
		if k.receiveOutput != "" {
			var fullpath = filepath.Join(k.receiveOutput, timestampFilename(k.now()))
			k.printf("Save received frame to %s\n", fullpath)
			if err := os.WriteFile(fullpath, []byte(line+"\n"), 0o644); err != nil { //nolint:gosec
				k.printf("Unable to open for write: %s\n", fullpath)
			}
		}

	case KISSCmdSetHardware:
		// Display as "h ..." for in/out symmetry.
		k.printf("[%d] h %s\n", channel, safePrint(body))

	default:
		// The rest should only go TO the TNC and not come FROM it.
		k.printf("Unexpected KISS command %d, channel %d\n", cmd, channel)
	}
}

// safePrint replaces unprintable bytes with <0xNN>.
func safePrint(p []byte) string {
	var sb strings.Builder
	for _, b := range p {
		if b >= 0x20 && b <= 0x7e {
			sb.WriteByte(b)
		} else {
			fmt.Fprintf(&sb, "<0x%02x>", b)
		}
	}

	return sb.String()
}

func hexDump(p []byte) string {
	var sb strings.Builder

	for offset := 0; offset < len(p); offset += 16 {
		var row = p[offset:min(offset+16, len(p))]

		fmt.Fprintf(&sb, "  %03x: ", offset)
		for _, b := range row {
			fmt.Fprintf(&sb, " %02x", b)
		}
		sb.WriteString(strings.Repeat("   ", 16-len(row)))
		sb.WriteString("  ")
		for _, b := range row {
			if b >= 0x20 && b <= 0x7e {
				sb.WriteByte(b)
			} else {
				sb.WriteByte('.')
			}
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

// timestampFilename is YYYYMMDD-HHMMSS-mmm.  Two frames can arrive in
// less than a second so we need more than one second resolution.
func timestampFilename(t time.Time) string {
	return t.Format("20060102-150405") + fmt.Sprintf("-%03d", t.UnixMilli()%1000)
}

// Used as both CLI help message and in-usage error reminder
func usage2(w io.Writer) {
	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "Input, starting with upper case letter or digit, is sent\n")
	fmt.Fprintf(w, "as a frame, as is.\n")
	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "Input, starting with \"=\", is a frame in hexadecimal.\n")
	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "Input, starting with a lower case letter is a command.\n")
	fmt.Fprintf(w, "Whitespace, as shown in examples, is optional.\n")
	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "	letter	meaning			example\n")
	fmt.Fprintf(w, "	------	-------			-------\n")
	fmt.Fprintf(w, "	d	txDelay, 10ms units	d 30\n")
	fmt.Fprintf(w, "	p	Persistence		p 63\n")
	fmt.Fprintf(w, "	s	Slot time, 10ms units	s 10\n")
	fmt.Fprintf(w, "	t	txTail, 10ms units	t 5\n")
	fmt.Fprintf(w, "	f	Full duplex		f 0\n")
	fmt.Fprintf(w, "	h	set Hardware 		h TNC:\n")
	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "	Lines may be preceded by the form \"[9]\" to indicate a\n")
	fmt.Fprintf(w, "	channel other than the default 0.\n")
	fmt.Fprintf(w, "\n")
}
