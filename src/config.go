package tnc

/*------------------------------------------------------------------
 *
 * Purpose:   	Read configuration information, once, at startup.
 *
 * Description:	Three layers, later ones win:
 *
 *		1. Built in defaults.
 *		2. An optional YAML file.
 *		3. Command line options that were actually given.
 *
 *---------------------------------------------------------------*/

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Modem   string        `yaml:"modem"`
	Audio   AudioConfig   `yaml:"audio"`
	PTT     PTTConfig     `yaml:"ptt"`
	KISS    KISSConfig    `yaml:"kiss"`
	TX      bool          `yaml:"tx"`     // False for a receive only station.
	Stdout  bool          `yaml:"stdout"` // Raw received frames to stdout.
	TNC     TNCConfig     `yaml:"tnc"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
}

type AudioConfig struct {
	RxDevice   string `yaml:"rx_device"` // Index or part of the name.  Empty for the default.
	TxDevice   string `yaml:"tx_device"`
	SampleRate int    `yaml:"sample_rate"`
}

type PTTConfig struct {
	Method     string `yaml:"method"`
	RigctlHost string `yaml:"rigctl_host"`
	RigctlPort int    `yaml:"rigctl_port"`
	Device     string `yaml:"device"` // Serial port, GPIO chip or hidraw device.
	Line       string `yaml:"line"`   // RTS or DTR for serial.
	GPIO       int    `yaml:"gpio"`   // GPIO line offset, or CM108 pin number.
	Invert     bool   `yaml:"invert"`
}

type KISSConfig struct {
	PTY          bool   `yaml:"pty"`
	PTYSymlink   string `yaml:"pty_symlink"`
	SerialDevice string `yaml:"serial_device"`
	SerialSpeed  int    `yaml:"serial_speed"`
	TCP          bool   `yaml:"tcp"`
	TCPAddress   string `yaml:"tcp_address"`
	DNSSD        bool   `yaml:"dns_sd"`
	DNSSDName    string `yaml:"dns_sd_name"`
}

type TNCConfig struct {
	PreambleLength int     `yaml:"preamble_length"`
	MinTxWait      float64 `yaml:"min_tx_wait"` // Seconds.
	MaxTxWait      float64 `yaml:"max_tx_wait"` // Seconds.
	MaxPackets     int     `yaml:"max_packets"` // -1 for everything queued.
}

type LogConfig struct {
	Level           string `yaml:"level"`
	TimestampFormat string `yaml:"timestamp_format"` // strftime pattern for received frame lines.
	PacketDir       string `yaml:"packet_dir"`       // CSV log of received frames, a file per day.
	PacketFile      string `yaml:"packet_file"`      // CSV log of received frames, one file.
}

type MetricsConfig struct {
	Address string `yaml:"address"` // Empty for none.
}

func DefaultConfig() *Config {
	return &Config{
		Modem: string(DefaultModemMode),
		Audio: AudioConfig{ //nolint:exhaustruct
			SampleRate: DefaultSampleRate,
		},
		PTT: PTTConfig{ //nolint:exhaustruct
			Method:     string(PTTRigctld),
			RigctlHost: "localhost",
			RigctlPort: 4532,
			Line:       "RTS",
		},
		KISS: KISSConfig{ //nolint:exhaustruct
			PTY:         true,
			PTYSymlink:  KISSSymlink,
			SerialSpeed: 9600,
			TCPAddress:  DefaultKISSTCPAddress,
		},
		TX:     true,
		Stdout: false,
		TNC: TNCConfig{
			PreambleLength: 9,
			MinTxWait:      5,
			MaxTxWait:      7,
			MaxPackets:     1,
		},
		Log: LogConfig{ //nolint:exhaustruct
			Level: "info",
		},
		Metrics: MetricsConfig{}, //nolint:exhaustruct
	}
}

// LoadConfigFile lays a YAML file over cfg.  Unknown keys are an error so typos show up.
func LoadConfigFile(cfg *Config, path string) error {
	var data, err = os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var dec = yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return nil
}

// BindFlags defines the command line options on fs, writing into cfg.
// The current contents of cfg are the defaults shown in the help.
func BindFlags(fs *pflag.FlagSet, cfg *Config) {
	fs.StringVar(&cfg.Modem, "modem", cfg.Modem, fmt.Sprintf("The FreeDV modem to use, one of %v", ModemModes()))

	fs.StringVar(&cfg.Audio.RxDevice, "rx-sound-device", cfg.Audio.RxDevice, "The sound card used to receive, by index or part of the name. Default input device if empty")
	fs.StringVar(&cfg.Audio.TxDevice, "tx-sound-device", cfg.Audio.TxDevice, "The sound card used to transmit, by index or part of the name. Default output device if empty")
	fs.IntVar(&cfg.Audio.SampleRate, "sample-rate", cfg.Audio.SampleRate, "The sample rate of the sound cards")

	fs.StringVar(&cfg.PTT.RigctlHost, "rigctl-hostname", cfg.PTT.RigctlHost, "rigctld hostname")
	fs.IntVar(&cfg.PTT.RigctlPort, "rigctl-port", cfg.PTT.RigctlPort, "rigctld port")
	fs.StringVar(&cfg.PTT.Method, "ptt", cfg.PTT.Method, fmt.Sprintf("PTT method, one of %v", PTTMethods()))
	fs.VarPF(voxFlag{&cfg.PTT.Method}, "vox", "", "Don't use rigctld for PTT, rely on the radio's VOX").NoOptDefVal = "true"
	fs.StringVar(&cfg.PTT.Device, "ptt-device", cfg.PTT.Device, "Serial port, GPIO chip or /dev/hidrawN for PTT. CM108 is found automatically if empty")
	fs.StringVar(&cfg.PTT.Line, "ptt-line", cfg.PTT.Line, "Serial port line for PTT, RTS or DTR")
	fs.IntVar(&cfg.PTT.GPIO, "ptt-gpio", cfg.PTT.GPIO, "GPIO line offset, or CM108 GPIO pin (default 3)")
	fs.BoolVar(&cfg.PTT.Invert, "ptt-invert", cfg.PTT.Invert, "PTT is active low")

	fs.VarPF(notFlag{&cfg.KISS.PTY}, "no-pty", "", "Disable the pty KISS interface").NoOptDefVal = "true"
	fs.StringVar(&cfg.KISS.PTYSymlink, "pty-symlink", cfg.KISS.PTYSymlink, "Symlink to the pty KISS interface, empty for none")
	fs.StringVar(&cfg.KISS.SerialDevice, "serial-device", cfg.KISS.SerialDevice, "Serial port for a KISS interface, empty for none")
	fs.IntVar(&cfg.KISS.SerialSpeed, "serial-speed", cfg.KISS.SerialSpeed, "Speed of the KISS serial port")
	fs.BoolVar(&cfg.KISS.TCP, "tcp", cfg.KISS.TCP, "Enable the KISS TCP interface")
	fs.StringVar(&cfg.KISS.TCPAddress, "tcp-address", cfg.KISS.TCPAddress, "Address for the KISS TCP interface")
	fs.BoolVar(&cfg.KISS.DNSSD, "dns-sd", cfg.KISS.DNSSD, "Announce the KISS TCP interface with DNS-SD")
	fs.StringVar(&cfg.KISS.DNSSDName, "dns-sd-name", cfg.KISS.DNSSDName, "DNS-SD service name. Default is based on the hostname")

	fs.VarPF(notFlag{&cfg.TX}, "no-tx", "", "Disable transmitting").NoOptDefVal = "true"
	fs.BoolVar(&cfg.Stdout, "stdout", cfg.Stdout, "Write received frames to stdout")

	fs.IntVar(&cfg.TNC.PreambleLength, "preamble-length", cfg.TNC.PreambleLength, "Number of filler modem frames sent before the data")
	fs.Float64Var(&cfg.TNC.MinTxWait, "min-tx-wait", cfg.TNC.MinTxWait, "Minimum time in seconds to wait after transmitting")
	fs.Float64Var(&cfg.TNC.MaxTxWait, "max-tx-wait", cfg.TNC.MaxTxWait, "Maximum time in seconds to wait after transmitting")
	fs.IntVar(&cfg.TNC.MaxPackets, "max-packets-tx", cfg.TNC.MaxPackets, "Maximum number of packets per transmission, -1 for everything queued")

	fs.VarPF(verboseFlag{&cfg.Log.Level}, "verbose", "v", "Debug logging").NoOptDefVal = "true"
	fs.StringVar(&cfg.Log.Level, "log-level", cfg.Log.Level, "Log level: debug, info, warn, error")
	fs.StringVarP(&cfg.Log.TimestampFormat, "timestamp-format", "T", cfg.Log.TimestampFormat, "Precede received frames with 'strftime' format time stamp")
	fs.StringVarP(&cfg.Log.PacketDir, "log-dir", "l", cfg.Log.PacketDir, "Directory for daily CSV logs of received frames")
	fs.StringVarP(&cfg.Log.PacketFile, "log-file", "L", cfg.Log.PacketFile, "File for a CSV log of received frames")

	fs.StringVar(&cfg.Metrics.Address, "metrics-address", cfg.Metrics.Address, "Serve Prometheus metrics on this address, e.g. :9100")
}

// ResolveConfig builds the final configuration: defaults, then the file at
// path if any, then every option that was set on the already parsed fs.
func ResolveConfig(fs *pflag.FlagSet, path string) (*Config, error) {
	var cfg = DefaultConfig()

	if path != "" {
		if err := LoadConfigFile(cfg, path); err != nil {
			return nil, err
		}
	}

	var replay = pflag.NewFlagSet("replay", pflag.ContinueOnError)
	BindFlags(replay, cfg)

	var err error
	fs.Visit(func(f *pflag.Flag) {
		if err != nil || replay.Lookup(f.Name) == nil {
			return
		}
		if setErr := replay.Set(f.Name, f.Value.String()); setErr != nil {
			err = fmt.Errorf("option --%s: %w", f.Name, setErr)
		}
	})
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	if _, err := ParseModemMode(c.Modem); err != nil {
		errs = append(errs, err)
	}

	if c.Audio.SampleRate < 8000 || c.Audio.SampleRate > 192000 {
		errs = append(errs, fmt.Errorf("sample rate %d must be in range of 8000 - 192000", c.Audio.SampleRate))
	}

	if c.TNC.MinTxWait < 0 || c.TNC.MaxTxWait < c.TNC.MinTxWait {
		errs = append(errs, fmt.Errorf("need 0 <= min-tx-wait (%g) <= max-tx-wait (%g)", c.TNC.MinTxWait, c.TNC.MaxTxWait))
	}
	if c.TNC.PreambleLength < 0 {
		errs = append(errs, fmt.Errorf("preamble length %d must not be negative", c.TNC.PreambleLength))
	}
	if c.TNC.MaxPackets != MaxPacketsUnbounded && c.TNC.MaxPackets < 1 {
		errs = append(errs, fmt.Errorf("max packets %d must be -1 or at least 1", c.TNC.MaxPackets))
	}

	if method, err := ParsePTTMethod(c.PTT.Method); err != nil {
		errs = append(errs, err)
	} else if c.TX {
		switch method {
		case PTTRigctld:
			if c.PTT.RigctlHost == "" || c.PTT.RigctlPort <= 0 || c.PTT.RigctlPort > 65535 {
				errs = append(errs, fmt.Errorf("rigctld needs a hostname and a port, got %q:%d", c.PTT.RigctlHost, c.PTT.RigctlPort))
			}
		case PTTSerial:
			if c.PTT.Device == "" {
				errs = append(errs, errors.New("serial PTT needs --ptt-device"))
			}
		case PTTCM108:
			if c.PTT.GPIO != 0 && (c.PTT.GPIO < 1 || c.PTT.GPIO > 8) {
				errs = append(errs, fmt.Errorf("CM108 GPIO number %d must be in range of 1 - 8", c.PTT.GPIO))
			}
		case PTTGPIO:
			if c.PTT.GPIO < 0 {
				errs = append(errs, fmt.Errorf("GPIO line %d must not be negative", c.PTT.GPIO))
			}
		case PTTVox:
		}
	}

	if c.KISS.DNSSD && !c.KISS.TCP {
		errs = append(errs, errors.New("DNS-SD announces the KISS TCP interface, enable it with --tcp"))
	}

	if c.Log.PacketDir != "" && c.Log.PacketFile != "" {
		errs = append(errs, errors.New("use --log-dir or --log-file, not both"))
	}

	return errors.Join(errs...)
}

func (c *Config) SchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		PreambleFrames: c.TNC.PreambleLength,
		MinWait:        seconds(c.TNC.MinTxWait),
		MaxWait:        seconds(c.TNC.MaxTxWait),
		MaxPackets:     c.TNC.MaxPackets,
		PollInterval:   DefaultPollInterval,
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// notFlag is a boolean option that clears its target, like --no-tx.
type notFlag struct{ p *bool }

func (f notFlag) String() string {
	if f.p == nil {
		return "false"
	}
	return strconv.FormatBool(!*f.p)
}

func (f notFlag) Set(s string) error {
	var v, err = strconv.ParseBool(s)
	if err != nil {
		return err
	}
	*f.p = !v
	return nil
}

func (f notFlag) Type() string { return "bool" }

// voxFlag selects the vox PTT method.
type voxFlag struct{ p *string }

func (f voxFlag) String() string {
	if f.p == nil {
		return "false"
	}
	return strconv.FormatBool(*f.p == string(PTTVox))
}

func (f voxFlag) Set(s string) error {
	var v, err = strconv.ParseBool(s)
	if err != nil {
		return err
	}
	if v {
		*f.p = string(PTTVox)
	} else if *f.p == string(PTTVox) {
		*f.p = string(PTTRigctld)
	}
	return nil
}

func (f voxFlag) Type() string { return "bool" }

// verboseFlag is shorthand for --log-level debug.
type verboseFlag struct{ p *string }

func (f verboseFlag) String() string {
	if f.p == nil {
		return "false"
	}
	return strconv.FormatBool(*f.p == "debug")
}

func (f verboseFlag) Set(s string) error {
	var v, err = strconv.ParseBool(s)
	if err != nil {
		return err
	}
	if v {
		*f.p = "debug"
	}
	return nil
}

func (f verboseFlag) Type() string { return "bool" }
