package tnc

/*------------------------------------------------------------------
 *
 * Purpose:	Console logging, and saving heard frames to a log file.
 *
 * Description: The packet log is CSV for easy reading and later
 *		processing.  There are two alternatives here.
 *
 *		--log-dir dir		Daily names will be created here.
 *
 *		--log-file file		Specify full file path.
 *
 *		Use one or the other but not both.
 *
 *------------------------------------------------------------------*/

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/lestrrat-go/strftime"
)

// NewLogger builds the root logger.  Components derive their own with WithPrefix.
func NewLogger(level string, w io.Writer) (*log.Logger, error) {
	var lvl, err = log.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}

	var logger = log.NewWithOptions(w, log.Options{ //nolint:exhaustruct
		Level:           lvl,
		ReportTimestamp: true,
		TimeFormat:      time.TimeOnly,
	})

	return logger, nil
}

// Monitor reports every received frame on the console.
type Monitor struct {
	logger    *log.Logger
	timestamp *strftime.Strftime // nil for none.
	now       func() time.Time
}

// NewMonitor takes a strftime pattern for the optional timestamp in front of each line.
func NewMonitor(logger *log.Logger, timestampFormat string) (*Monitor, error) {
	var m = &Monitor{ //nolint:exhaustruct
		logger: logger.WithPrefix("rx"),
		now:    time.Now,
	}

	if timestampFormat != "" {
		var f, err = strftime.New(timestampFormat)
		if err != nil {
			return nil, fmt.Errorf("timestamp format %q: %w", timestampFormat, err)
		}
		m.timestamp = f
	}

	return m, nil
}

func (m *Monitor) Line(frame Frame) string {
	var line = fmt.Sprintf("%d bytes", len(frame))
	if m.timestamp != nil {
		line = m.timestamp.FormatString(m.now()) + " " + line
	}

	return line
}

func (m *Monitor) SendFrame(frame Frame) error {
	m.logger.Info(m.Line(frame))
	m.logger.Debug("Frame contents", "hex", frame.String())

	return nil
}

// PacketLog appends a CSV line for every frame heard.
type PacketLog struct {
	mu sync.Mutex

	dailyNames bool
	path       string // Directory for daily names, otherwise the file.

	fp        *os.File
	openFname string

	logger *log.Logger
	now    func() time.Time
}

const packetLogHeader = "utime,isotime,bytes,data\n"

// NewPacketLog prepares a log.  With dailyNames path is a directory and a
// file per UTC day is created there, otherwise path is the file itself.
func NewPacketLog(dailyNames bool, path string, logger *log.Logger) *PacketLog {
	var l = &PacketLog{ //nolint:exhaustruct
		dailyNames: dailyNames,
		logger:     logger.WithPrefix("packet-log"),
		now:        func() time.Time { return time.Now().UTC() },
	}

	if !dailyNames {
		l.logger.Info("Log file", "path", path)
		l.path = path
		return l
	}

	var stat, statErr = os.Stat(path)
	switch {
	case statErr == nil && stat.IsDir():
		l.path = path
	case statErr == nil:
		l.logger.Error("Log file location is not a directory, using current working directory instead", "path", path)
		l.path = "."
	default:
		// Doesn't exist.  Try to create it.
		// We don't create multiple levels like "mkdir -p".
		if err := os.Mkdir(path, 0o755); err != nil {
			l.logger.Error("Failed to create log file location, using current working directory instead", "path", path, "err", err)
			l.path = "."
		} else {
			l.logger.Info("Log file location has been created", "path", path)
			l.path = path
		}
	}

	return l
}

func (l *PacketLog) SendFrame(frame Frame) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var now = l.now()

	var fname = l.path
	if l.dailyNames {
		fname = filepath.Join(l.path, now.Format("2006-01-02.log"))
	}

	// Close current file if name has changed.
	if l.fp != nil && fname != l.openFname {
		l.closeLocked()
	}

	if l.fp == nil {
		// Header only if this will be the first line.
		var _, statErr = os.Stat(fname)
		var alreadyThere = statErr == nil

		l.logger.Debug("Opening log file", "path", fname)

		var f, err = os.OpenFile(fname, os.O_RDWR|os.O_APPEND|os.O_CREATE, 0o644)
		if err != nil {
			return fmt.Errorf("open log file %s: %w", fname, err)
		}
		l.fp = f
		l.openFname = fname

		if !alreadyThere {
			if _, err := io.WriteString(l.fp, packetLogHeader); err != nil {
				return fmt.Errorf("write log file %s: %w", fname, err)
			}
		}
	}

	var w = csv.NewWriter(l.fp)
	if err := w.Write([]string{
		strconv.FormatInt(now.Unix(), 10),
		now.Format("2006-01-02T15:04:05Z"),
		strconv.Itoa(len(frame)),
		frame.String(),
	}); err != nil {
		return fmt.Errorf("csv write: %w", err)
	}
	w.Flush()

	return w.Error()
}

func (l *PacketLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.closeLocked()
}

func (l *PacketLog) closeLocked() error {
	if l.fp == nil {
		return nil
	}

	var err = l.fp.Close()
	l.fp = nil
	l.openFname = ""

	return err
}
