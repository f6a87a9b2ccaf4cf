package tnc

/*------------------------------------------------------------------
 *
 * Purpose:   	Interface to audio device commonly called a "sound card."
 *
 * Description:	PortAudio blocking streams, 16 bit mono.  Devices are
 *		chosen by index or by part of their name, as shown by
 *		--list-sound-devices.  Empty means the system default.
 *
 *---------------------------------------------------------------*/

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/gordonklaus/portaudio"
)

const DefaultSampleRate = 44100

const audioFramesPerBuffer = 1024

var (
	paMu    sync.Mutex
	paUsers int
)

// InitAudio starts PortAudio.  Every call must be matched by TerminateAudio.
func InitAudio() error {
	paMu.Lock()
	defer paMu.Unlock()

	if paUsers == 0 {
		if err := portaudio.Initialize(); err != nil {
			return fmt.Errorf("%w: portaudio: %w", ErrDeviceUnavailable, err)
		}
	}
	paUsers++

	return nil
}

func TerminateAudio() {
	paMu.Lock()
	defer paMu.Unlock()

	if paUsers == 0 {
		return
	}
	paUsers--
	if paUsers == 0 {
		_ = portaudio.Terminate()
	}
}

// findDevice looks a device up by index or by a case insensitive part of its name.
func findDevice(device string, input bool) (*portaudio.DeviceInfo, error) {
	if device == "" {
		var dev *portaudio.DeviceInfo
		var err error
		if input {
			dev, err = portaudio.DefaultInputDevice()
		} else {
			dev, err = portaudio.DefaultOutputDevice()
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
		}
		return dev, nil
	}

	var devices, err = portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get device list: %w", ErrDeviceUnavailable, err)
	}

	var usable = func(d *portaudio.DeviceInfo) bool {
		if input {
			return d.MaxInputChannels > 0
		}
		return d.MaxOutputChannels > 0
	}

	if i, convErr := strconv.Atoi(device); convErr == nil {
		if i < 0 || i >= len(devices) {
			return nil, fmt.Errorf("%w: invalid device index %d (max: %d)", ErrDeviceUnavailable, i, len(devices)-1)
		}
		if !usable(devices[i]) {
			return nil, fmt.Errorf("%w: device %d (%s) has no %s channels", ErrDeviceUnavailable, i, devices[i].Name, direction(input))
		}
		return devices[i], nil
	}

	var want = strings.ToLower(device)
	for _, d := range devices {
		if usable(d) && strings.Contains(strings.ToLower(d.Name), want) {
			return d, nil
		}
	}

	return nil, fmt.Errorf("%w: no %s device matching %q", ErrDeviceUnavailable, direction(input), device)
}

func direction(input bool) string {
	if input {
		return "input"
	}
	return "output"
}

// ListSoundDevices writes the devices PortAudio knows about.
func ListSoundDevices(w io.Writer) error {
	var devices, err = portaudio.Devices()
	if err != nil {
		return fmt.Errorf("%w: failed to get device list: %w", ErrDeviceUnavailable, err)
	}

	var defIn, _ = portaudio.DefaultInputDevice()
	var defOut, _ = portaudio.DefaultOutputDevice()

	fmt.Fprintln(w, "Available sound devices:")
	fmt.Fprintln(w)

	for i, d := range devices {
		var marks []string
		if defIn != nil && d.Index == defIn.Index {
			marks = append(marks, "default input")
		}
		if defOut != nil && d.Index == defOut.Index {
			marks = append(marks, "default output")
		}

		var suffix string
		if len(marks) > 0 {
			suffix = " (" + strings.Join(marks, ", ") + ")"
		}

		fmt.Fprintf(w, "  [%d] %s%s\n", i, d.Name, suffix)
		fmt.Fprintf(w, "      Inputs: %d, Outputs: %d, Sample rate: %.0f Hz\n",
			d.MaxInputChannels, d.MaxOutputChannels, d.DefaultSampleRate)
	}

	return nil
}

// AudioInput is a PortAudio capture stream.
type AudioInput struct {
	stream *portaudio.Stream
	buf    []int16
	rate   int
	name   string
	logger *log.Logger
}

func OpenAudioInput(device string, sampleRate int, logger *log.Logger) (*AudioInput, error) {
	var dev, err = findDevice(device, true)
	if err != nil {
		return nil, err
	}

	var in = &AudioInput{ //nolint:exhaustruct
		buf:    make([]int16, audioFramesPerBuffer),
		rate:   sampleRate,
		name:   dev.Name,
		logger: logger.WithPrefix("audio"),
	}

	var params = portaudio.StreamParameters{ //nolint:exhaustruct
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: 1,
			Latency:  dev.DefaultHighInputLatency,
		},
		SampleRate:      float64(sampleRate),
		FramesPerBuffer: audioFramesPerBuffer,
	}

	in.stream, err = portaudio.OpenStream(params, &in.buf)
	if err != nil {
		return nil, fmt.Errorf("%w: open input %s at %d Hz: %w", ErrDeviceUnavailable, dev.Name, sampleRate, err)
	}

	if err := in.stream.Start(); err != nil {
		_ = in.stream.Close()
		return nil, fmt.Errorf("%w: start input %s: %w", ErrDeviceUnavailable, dev.Name, err)
	}

	in.logger.Info("Audio input", "device", dev.Name, "rate", sampleRate)

	return in, nil
}

func (a *AudioInput) SampleRate() int { return a.rate }
func (a *AudioInput) Name() string    { return a.name }

func (a *AudioInput) Read(samples []int16) error {
	var full = a.buf[:cap(a.buf)]

	for off := 0; off < len(samples); {
		a.buf = full[:min(len(full), len(samples)-off)]

		var err = a.stream.Read()
		if errors.Is(err, portaudio.InputOverflowed) {
			// Lost a few samples.  The modem will cope.
			a.logger.Debug("Input overflowed")
		} else if err != nil {
			a.buf = full
			return err
		}

		off += copy(samples[off:], a.buf)
	}

	a.buf = full

	return nil
}

func (a *AudioInput) Close() error {
	_ = a.stream.Stop()
	return a.stream.Close()
}

// AudioOutput is a PortAudio playback stream.
type AudioOutput struct {
	stream *portaudio.Stream
	buf    []int16
	rate   int
	name   string
	logger *log.Logger
}

func OpenAudioOutput(device string, sampleRate int, logger *log.Logger) (*AudioOutput, error) {
	var dev, err = findDevice(device, false)
	if err != nil {
		return nil, err
	}

	var out = &AudioOutput{ //nolint:exhaustruct
		buf:    make([]int16, audioFramesPerBuffer),
		rate:   sampleRate,
		name:   dev.Name,
		logger: logger.WithPrefix("audio"),
	}

	var params = portaudio.StreamParameters{ //nolint:exhaustruct
		Output: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: 1,
			Latency:  dev.DefaultHighOutputLatency,
		},
		SampleRate:      float64(sampleRate),
		FramesPerBuffer: audioFramesPerBuffer,
	}

	out.stream, err = portaudio.OpenStream(params, &out.buf)
	if err != nil {
		return nil, fmt.Errorf("%w: open output %s at %d Hz: %w", ErrDeviceUnavailable, dev.Name, sampleRate, err)
	}

	if err := out.stream.Start(); err != nil {
		_ = out.stream.Close()
		return nil, fmt.Errorf("%w: start output %s: %w", ErrDeviceUnavailable, dev.Name, err)
	}

	out.logger.Info("Audio output", "device", dev.Name, "rate", sampleRate)

	return out, nil
}

func (a *AudioOutput) SampleRate() int { return a.rate }
func (a *AudioOutput) Name() string    { return a.name }

func (a *AudioOutput) Write(samples []int16) error {
	var full = a.buf[:cap(a.buf)]
	defer func() { a.buf = full }()

	for off := 0; off < len(samples); {
		a.buf = full[:copy(full, samples[off:])]

		var err = a.stream.Write()
		if errors.Is(err, portaudio.OutputUnderflowed) {
			a.logger.Debug("Output underflowed")
		} else if err != nil {
			return err
		}

		off += len(a.buf)
	}

	return nil
}

func (a *AudioOutput) Close() error {
	_ = a.stream.Stop()
	return a.stream.Close()
}
