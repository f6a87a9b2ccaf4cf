package tnc

/*------------------------------------------------------------------
 *
 * Purpose:   	Main program for the FreeDV packet TNC.
 *
 * Description:	Sound card in, sound card out, a FreeDV data modem in
 *		between, and KISS for client applications: a pseudo
 *		terminal, a serial port, or TCP.
 *
 * Usage:	freedvtnc [ options ]
 *
 *---------------------------------------------------------------*/

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
)

// FreeDVTNCMain runs the TNC and returns the process exit status.
func FreeDVTNCMain(args []string, stdout, stderr io.Writer) int {
	var fs = pflag.NewFlagSet(args[0], pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.SortFlags = false

	var configFile = fs.StringP("config", "c", "", "YAML configuration file. Command line options override it")
	var listDevices = fs.Bool("list-sound-devices", false, "List sound devices and CM108 PTT devices, then exit")
	var showVersion = fs.Bool("version", false, "Print version and exit")
	var help = fs.BoolP("help", "h", false, "Display help text")

	BindFlags(fs, DefaultConfig())

	fs.Usage = func() {
		fmt.Fprintf(stderr, "%s - FreeDV packet radio KISS TNC.\n", args[0])
		fmt.Fprintf(stderr, "\n")
		fmt.Fprintf(stderr, "Usage: %s [options]\n", args[0])
		fmt.Fprintf(stderr, "\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}

	if *help {
		fs.Usage()
		return 0
	}

	if *showVersion {
		PrintVersion(stdout, true)
		return 0
	}

	if *listDevices {
		if err := ListDevices(stdout); err != nil {
			fmt.Fprintf(stderr, "%v\n", err)
			return 1
		}
		return 0
	}

	var cfg, err = ResolveConfig(fs, *configFile)
	if err != nil {
		fmt.Fprintf(stderr, "Configuration error: %v\n", err)
		return 1
	}

	logger, err := NewLogger(cfg.Log.Level, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return 1
	}

	logger.Info("freedvtnc", "version", Version)

	var ctx, stop = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	t, err := NewTNC(cfg, stdout, logger)
	if err != nil {
		logger.Error("Could not start", "err", err)
		return 1
	}
	defer t.Close()

	logger.Info("Ready")

	if err := t.Run(ctx); err != nil {
		logger.Error("Stopped", "err", err)
		return 1
	}

	logger.Info("Shutting down")

	return 0
}
