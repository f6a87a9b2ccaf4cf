package tnc

/*------------------------------------------------------------------
 *
 * Purpose:   	Put the pieces together: sound cards, modem, PTT,
 *		KISS front ends, and the receive and transmit loops.
 *
 *---------------------------------------------------------------*/

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"runtime"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"
)

// frontEndRunner is a front end with its own blocking Run.
type frontEndRunner interface {
	FrontEnd
	Run(ctx context.Context) error
}

type TNC struct {
	cfg *Config

	modem  Modem
	input  *AudioInput
	output *AudioOutput // nil when transmit is disabled.
	rig    RigController

	Queue     *FrameQueue
	Metrics   *Metrics
	Router    *FrameRouter
	Scheduler *TxScheduler
	Receiver  *RxLoop

	pty       *PtyKISS
	tcp       *TCPKISS
	runners   []frontEndRunner
	packetLog *PacketLog

	metricsListener net.Listener

	audioStarted bool

	logger *log.Logger
}

// NewTNC opens every device named in cfg.  On failure anything already
// opened is closed again.
func NewTNC(cfg *Config, stdout io.Writer, logger *log.Logger) (*TNC, error) {
	var t = &TNC{ //nolint:exhaustruct
		cfg:     cfg,
		Queue:   NewFrameQueue(),
		Metrics: NewMetrics(),
		logger:  logger,
	}

	if err := t.open(stdout); err != nil {
		t.Close()
		return nil, err
	}

	return t, nil
}

func (t *TNC) open(stdout io.Writer) error {
	var cfg = t.cfg

	var mode, err = ParseModemMode(cfg.Modem)
	if err != nil {
		return err
	}

	t.modem, err = OpenModem(mode)
	if err != nil {
		return err
	}
	t.logger.Info("Modem ready", "mode", mode, "payload_bytes", t.modem.PayloadBytes(), "sample_rate", t.modem.SampleRate())

	if err := InitAudio(); err != nil {
		return err
	}
	t.audioStarted = true

	t.input, err = OpenAudioInput(cfg.Audio.RxDevice, cfg.Audio.SampleRate, t.logger)
	if err != nil {
		return err
	}

	if cfg.TX {
		t.output, err = OpenAudioOutput(cfg.Audio.TxDevice, cfg.Audio.SampleRate, t.logger)
		if err != nil {
			return err
		}

		t.rig, err = NewRigController(cfg.PTT, cfg.Audio.TxDevice, t.logger)
		if err != nil {
			return err
		}
	} else {
		t.logger.Info("Transmit disabled, frames from clients will be discarded")
		t.rig = VoxRig{}
	}

	var out OutputStream
	if t.output != nil {
		out = t.output
	}

	var radio *Radio
	radio, err = NewRadio(t.modem, t.input, out, t.logger)
	if err != nil {
		return err
	}

	t.Metrics.WatchQueue(t.Queue)
	t.Router = NewFrameRouter(t.Queue, cfg.TX, t.logger, t.Metrics)

	if err := t.openFrontEnds(stdout); err != nil {
		return err
	}

	t.Receiver = NewRxLoop(radio, t.logger, t.Metrics)
	t.Receiver.AddSink("clients", t.Router)

	var monitor *Monitor
	monitor, err = NewMonitor(t.logger, cfg.Log.TimestampFormat)
	if err != nil {
		return err
	}
	t.Receiver.AddSink("monitor", monitor)

	switch {
	case cfg.Log.PacketDir != "":
		t.packetLog = NewPacketLog(true, cfg.Log.PacketDir, t.logger)
	case cfg.Log.PacketFile != "":
		t.packetLog = NewPacketLog(false, cfg.Log.PacketFile, t.logger)
	}
	if t.packetLog != nil {
		t.Receiver.AddSink("packet-log", t.packetLog)
	}

	if cfg.Metrics.Address != "" {
		t.metricsListener, err = ListenMetrics(cfg.Metrics.Address)
		if err != nil {
			return err
		}
	}

	t.Scheduler, err = NewTxScheduler(cfg.SchedulerConfig(), t.Queue, t.rig, radio, t.logger, t.Metrics)
	if err != nil {
		return err
	}

	return nil
}

func (t *TNC) openFrontEnds(stdout io.Writer) error {
	var cfg = t.cfg

	if cfg.KISS.PTY {
		if runtime.GOOS == "darwin" {
			// Client applications can't reliably open a macOS pty by name.
			t.logger.Info("pty KISS interface is not available on macOS, use --tcp")
		} else {
			var p, err = OpenPtyKISS(cfg.KISS.PTYSymlink, t.logger)
			if err != nil {
				return err
			}
			t.pty = p
			t.Router.Attach(p)
			t.runners = append(t.runners, p)
		}
	}

	if cfg.KISS.SerialDevice != "" {
		var s, err = OpenSerialKISS(cfg.KISS.SerialDevice, cfg.KISS.SerialSpeed, t.logger)
		if err != nil {
			return err
		}
		t.Router.Attach(s)
		t.runners = append(t.runners, s)
	}

	if cfg.KISS.TCP {
		var k, err = ListenTCPKISS(cfg.KISS.TCPAddress, t.logger)
		if err != nil {
			return err
		}
		t.tcp = k
		t.Router.Attach(k)
		t.runners = append(t.runners, k)
	}

	if cfg.Stdout {
		t.Router.Attach(NewRawOutput(stdout))
	}

	return nil
}

// Run blocks until ctx is done or the transmit scheduler or receive loop
// fails.  A front end that stops with an error is detached and the rest
// carry on.  The transmit scheduler finishes any burst in progress first.
func (t *TNC) Run(ctx context.Context) error {
	var g, gctx = errgroup.WithContext(ctx)

	g.Go(func() error { return t.Scheduler.Run(gctx) })
	g.Go(func() error { return t.Receiver.Run(gctx) })

	for _, r := range t.runners {
		g.Go(func() error {
			t.runFrontEnd(gctx, r)
			return nil
		})
	}

	if t.tcp != nil && t.cfg.KISS.DNSSD {
		g.Go(func() error {
			// Discovery is a convenience.  Losing it doesn't stop the TNC.
			if err := AnnounceKISSTCP(gctx, t.cfg.KISS.DNSSDName, t.tcp.Port(), t.logger); err != nil {
				t.logger.Error("DNS-SD announcement failed", "err", err)
			}
			return nil
		})
	}

	if t.metricsListener != nil {
		var ln = t.metricsListener
		t.metricsListener = nil
		g.Go(func() error { return ServeMetrics(gctx, ln, t.Metrics, t.logger) })
	}

	var err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}

	return err
}

func (t *TNC) runFrontEnd(ctx context.Context, fe frontEndRunner) {
	var err = fe.Run(ctx)
	if err == nil || ctx.Err() != nil {
		return
	}

	t.logger.Error("KISS front end stopped, carrying on without it", "front_end", fe.Name(), "err", err)
	t.Metrics.frontEndFailures.WithLabelValues(fe.Name()).Inc()
	t.Router.Detach(fe)
}

// Close releases PTT and the devices.  Safe on a partly opened TNC.
func (t *TNC) Close() {
	if t.rig != nil {
		if err := t.rig.SetTransmit(false); err != nil {
			t.logger.Debug("PTT release on close", "err", err)
		}
		if err := t.rig.Close(); err != nil {
			t.logger.Warn("Closing PTT", "err", err)
		}
	}

	if t.pty != nil {
		t.pty.Close()
	}

	if t.metricsListener != nil {
		_ = t.metricsListener.Close()
	}

	if t.packetLog != nil {
		_ = t.packetLog.Close()
	}

	if t.output != nil {
		_ = t.output.Close()
	}
	if t.input != nil {
		_ = t.input.Close()
	}
	if t.audioStarted {
		TerminateAudio()
		t.audioStarted = false
	}

	if t.modem != nil {
		_ = t.modem.Close()
	}
}

// ListDevices writes the sound cards, then any CM108 style PTT devices.
func ListDevices(w io.Writer) error {
	if err := InitAudio(); err != nil {
		return err
	}
	defer TerminateAudio()

	if err := ListSoundDevices(w); err != nil {
		return err
	}

	var devices, err = InventoryCM108()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Could not look for CM108 devices: %v\n", err)
		return nil
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "CM108 compatible PTT devices:")
	if len(devices) == 0 {
		fmt.Fprintln(w, "  none")
	}
	for _, d := range devices {
		var ok = ""
		if d.Supported() {
			ok = " **"
		}
		fmt.Fprintf(w, "  %04x %04x  %-20s %-10s %s%s\n", d.VID, d.PID, d.Product, d.Card, d.HIDRaw, ok)
	}

	return nil
}
