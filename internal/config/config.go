// Package config loads the service configuration. Precedence is command
// line flag, then INDICATOR_* environment variable, then the TOML file,
// then the built-in default.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/pflag"

	"indicator-service/internal/device"
	"indicator-service/internal/hardware"
	"indicator-service/internal/logger"
	"indicator-service/internal/types"
)

const (
	DefaultPath = "/etc/indicator-service/config.toml"
	envPrefix   = "INDICATOR_"
)

// Duration is a time.Duration written as a string ("500ms") in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

type Config struct {
	Log    LogConfig    `toml:"log"`
	Timing TimingConfig `toml:"timing"`
	GPIO   GPIOConfig   `toml:"gpio"`
	Serial SerialConfig `toml:"serial"`
	HTTP   HTTPConfig   `toml:"http"`
	Redis  RedisConfig  `toml:"redis"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

type TimingConfig struct {
	StopDuration     Duration `toml:"stop_duration"`
	RotationInterval Duration `toml:"rotation_interval"`
	DebounceWindow   Duration `toml:"debounce_window"`
	PollInterval     Duration `toml:"poll_interval"`
}

type GPIOConfig struct {
	Enabled    bool   `toml:"enabled"`
	Chip       string `toml:"chip"`
	LedLines   []int  `toml:"led_lines"`
	ButtonLine int    `toml:"button_line"`
	ActiveLow  bool   `toml:"active_low"`
	// KernelDebounce enables the line's hardware debounce filter; zero
	// leaves it off.
	KernelDebounce Duration `toml:"kernel_debounce"`
}

// SerialConfig describes the peer link. An empty device disables it.
type SerialConfig struct {
	Device     string   `toml:"device"`
	BaudRate   int      `toml:"baud_rate"`
	RetryDelay Duration `toml:"retry_delay"`
}

// HTTPConfig is the web surface. An empty address disables it.
type HTTPConfig struct {
	Addr string `toml:"addr"`
}

// RedisConfig is the Redis mirror. An empty address disables it.
type RedisConfig struct {
	Addr string `toml:"addr"`
}

func Default() Config {
	return Config{
		Log: LogConfig{Level: "info"},
		Timing: TimingConfig{
			StopDuration:     Duration{device.DefaultStopDuration},
			RotationInterval: Duration{device.DefaultRotationInterval},
			DebounceWindow:   Duration{200 * time.Millisecond},
			PollInterval:     Duration{10 * time.Millisecond},
		},
		GPIO: GPIOConfig{
			Enabled:    true,
			Chip:       hardware.DefaultChip,
			LedLines:   append([]int(nil), hardware.DefaultLedLines...),
			ButtonLine: hardware.DefaultButtonLine,
		},
		Serial: SerialConfig{
			Device:     "/dev/ttyS1",
			BaudRate:   115200,
			RetryDelay: Duration{2 * time.Second},
		},
		HTTP: HTTPConfig{Addr: ":8080"},
	}
}

// Load reads path over the defaults. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse TOML config %s: %w", path, err)
	}
	return cfg, nil
}

// option ties a typed flag to its environment variable and config field.
// bind registers the flag with def as its default, parse applies an
// environment string and load copies a set flag into the config.
type option struct {
	flag  string
	usage string
	bind  func(fs *pflag.FlagSet, name, usage string, def Config)
	parse func(c *Config, v string) error
	load  func(c *Config, fs *pflag.FlagSet, name string) error
}

func (o option) env() string {
	return envPrefix + strings.ToUpper(strings.ReplaceAll(o.flag, "-", "_"))
}

func stringOption(name, usage string, field func(c *Config) *string) option {
	return option{
		flag:  name,
		usage: usage,
		bind: func(fs *pflag.FlagSet, name, usage string, def Config) {
			fs.String(name, *field(&def), usage)
		},
		parse: func(c *Config, v string) error {
			*field(c) = v
			return nil
		},
		load: func(c *Config, fs *pflag.FlagSet, name string) error {
			v, err := fs.GetString(name)
			*field(c) = v
			return err
		},
	}
}

func intOption(name, usage string, field func(c *Config) *int) option {
	return option{
		flag:  name,
		usage: usage,
		bind: func(fs *pflag.FlagSet, name, usage string, def Config) {
			fs.Int(name, *field(&def), usage)
		},
		parse: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return err
			}
			*field(c) = n
			return nil
		},
		load: func(c *Config, fs *pflag.FlagSet, name string) error {
			v, err := fs.GetInt(name)
			*field(c) = v
			return err
		},
	}
}

func boolOption(name, usage string, field func(c *Config) *bool) option {
	return option{
		flag:  name,
		usage: usage,
		bind: func(fs *pflag.FlagSet, name, usage string, def Config) {
			fs.Bool(name, *field(&def), usage)
		},
		parse: func(c *Config, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return err
			}
			*field(c) = b
			return nil
		},
		load: func(c *Config, fs *pflag.FlagSet, name string) error {
			v, err := fs.GetBool(name)
			*field(c) = v
			return err
		},
	}
}

func durationOption(name, usage string, field func(c *Config) *Duration) option {
	return option{
		flag:  name,
		usage: usage,
		bind: func(fs *pflag.FlagSet, name, usage string, def Config) {
			fs.Duration(name, field(&def).Duration, usage)
		},
		parse: func(c *Config, v string) error {
			return field(c).UnmarshalText([]byte(v))
		},
		load: func(c *Config, fs *pflag.FlagSet, name string) error {
			v, err := fs.GetDuration(name)
			field(c).Duration = v
			return err
		},
	}
}

func intListOption(name, usage string, field func(c *Config) *[]int) option {
	return option{
		flag:  name,
		usage: usage,
		bind: func(fs *pflag.FlagSet, name, usage string, def Config) {
			fs.IntSlice(name, *field(&def), usage)
		},
		parse: func(c *Config, v string) error {
			var out []int
			for _, part := range strings.Split(v, ",") {
				n, err := strconv.Atoi(strings.TrimSpace(part))
				if err != nil {
					return err
				}
				out = append(out, n)
			}
			*field(c) = out
			return nil
		},
		load: func(c *Config, fs *pflag.FlagSet, name string) error {
			v, err := fs.GetIntSlice(name)
			*field(c) = v
			return err
		},
	}
}

var options = []option{
	stringOption("log-level", "log level (none, error, warn, info, debug)", func(c *Config) *string { return &c.Log.Level }),
	durationOption("stop-duration", "how long a stop lasts", func(c *Config) *Duration { return &c.Timing.StopDuration }),
	durationOption("rotation-interval", "time between indicator rotations", func(c *Config) *Duration { return &c.Timing.RotationInterval }),
	durationOption("debounce-window", "button refractory window", func(c *Config) *Duration { return &c.Timing.DebounceWindow }),
	durationOption("poll-interval", "poll loop period", func(c *Config) *Duration { return &c.Timing.PollInterval }),
	boolOption("gpio-enabled", "drive real GPIO lines", func(c *Config) *bool { return &c.GPIO.Enabled }),
	stringOption("gpio-chip", "GPIO chip name", func(c *Config) *string { return &c.GPIO.Chip }),
	intListOption("gpio-led-lines", "LED line offsets", func(c *Config) *[]int { return &c.GPIO.LedLines }),
	intOption("gpio-button-line", "button line offset", func(c *Config) *int { return &c.GPIO.ButtonLine }),
	stringOption("serial-device", "peer serial device, empty to disable", func(c *Config) *string { return &c.Serial.Device }),
	intOption("serial-baud", "peer serial baud rate", func(c *Config) *int { return &c.Serial.BaudRate }),
	stringOption("http-addr", "HTTP listen address, empty to disable", func(c *Config) *string { return &c.HTTP.Addr }),
	stringOption("redis-addr", "Redis address, empty to disable", func(c *Config) *string { return &c.Redis.Addr }),
}

// BindFlags registers the config flags on fs with the built-in defaults.
// Only flags the user sets override the file and environment.
func BindFlags(fs *pflag.FlagSet) {
	def := Default()
	fs.StringP("config", "c", DefaultPath, "path to configuration file")
	for _, o := range options {
		o.bind(fs, o.flag, o.usage+" (env "+o.env()+")", def)
	}
}

// ApplyEnv overrides cfg from INDICATOR_* variables found by lookup.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	for _, o := range options {
		v, ok := lookup(o.env())
		if !ok || v == "" {
			continue
		}
		if err := o.parse(cfg, v); err != nil {
			return fmt.Errorf("invalid %s=%q: %w", o.env(), v, err)
		}
	}
	return nil
}

// ApplyFlags overrides cfg from the flags the user set on fs.
func ApplyFlags(cfg *Config, fs *pflag.FlagSet) error {
	for _, o := range options {
		f := fs.Lookup(o.flag)
		if f == nil || !f.Changed {
			continue
		}
		if err := o.load(cfg, fs, o.flag); err != nil {
			return fmt.Errorf("invalid --%s: %w", o.flag, err)
		}
	}
	return nil
}

// Resolve builds the effective configuration for fs.
func Resolve(fs *pflag.FlagSet) (Config, error) {
	path, err := fs.GetString("config")
	if err != nil {
		return Config{}, err
	}

	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	if err := ApplyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, err
	}
	if err := ApplyFlags(&cfg, fs); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	if c.Timing.StopDuration.Duration <= 0 {
		return fmt.Errorf("timing.stop_duration must be positive")
	}
	ri := c.Timing.RotationInterval.Duration
	if ri < device.MinRotationInterval || ri > device.MaxRotationInterval {
		return fmt.Errorf("timing.rotation_interval %v outside [%v, %v]",
			ri, device.MinRotationInterval, device.MaxRotationInterval)
	}
	if c.Timing.DebounceWindow.Duration <= 0 {
		return fmt.Errorf("timing.debounce_window must be positive")
	}
	if p := c.Timing.PollInterval.Duration; p <= 0 || p >= ri {
		return fmt.Errorf("timing.poll_interval %v must be positive and shorter than the rotation interval", p)
	}
	if c.GPIO.Enabled && len(c.GPIO.LedLines) != types.RotationSize {
		return fmt.Errorf("gpio.led_lines needs %d offsets, got %d", types.RotationSize, len(c.GPIO.LedLines))
	}
	if c.Serial.Device != "" && c.Serial.BaudRate <= 0 {
		return fmt.Errorf("serial.baud_rate must be positive")
	}
	return nil
}

// LogLevel returns the parsed log level; Validate has already checked it.
func (c Config) LogLevel() logger.LogLevel {
	l, _ := logger.ParseLevel(c.Log.Level)
	return l
}
