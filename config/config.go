// Package config loads catprint settings from flags, CATPRINT_* environment
// variables and an optional TOML file, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/nixxel-company-limited/catprint/binarize"
	"github.com/nixxel-company-limited/catprint/logging"
	"github.com/nixxel-company-limited/catprint/protocol"
	"github.com/nixxel-company-limited/catprint/transport"
)

// EnvPrefix prefixes every environment variable, e.g. CATPRINT_DEVICE_NAME.
const EnvPrefix = "CATPRINT"

// Transport kinds.
const (
	TransportBLE = "ble"
	TransportUSB = "usb"
)

// Keys shared by flags, environment variables and the config file.
const (
	KeyLogLevel       = "log-level"
	KeyAlgorithm      = "algorithm"
	KeyDeviceName     = "device-name"
	KeyTransport      = "transport"
	KeyPreview        = "preview"
	KeyPrintWidth     = "print-width"
	KeyEnergy         = "energy"
	KeyFeedLines      = "feed-lines"
	KeyScanTimeout    = "scan-timeout"
	KeyConnectTimeout = "connect-timeout"
	KeyFlowTimeout    = "flow-timeout"
	KeyFinishTimeout  = "finish-timeout"
	KeyMaxPacketSize  = "max-packet-size"
	KeyBufferSize     = "buffer-size"
	KeyChunkDelay     = "chunk-delay"
	KeyAddress        = "address"
)

// Config holds CLI configuration for catprint.
type Config struct {
	LogLevel   string `mapstructure:"log-level"`
	Algorithm  string `mapstructure:"algorithm"`
	DeviceName string `mapstructure:"device-name"`
	Transport  string `mapstructure:"transport"`
	Preview    bool   `mapstructure:"preview"`

	PrintWidth int `mapstructure:"print-width"`
	Energy     int `mapstructure:"energy"`
	FeedLines  int `mapstructure:"feed-lines"`

	ScanTimeout    time.Duration `mapstructure:"scan-timeout"`
	ConnectTimeout time.Duration `mapstructure:"connect-timeout"`
	FlowTimeout    time.Duration `mapstructure:"flow-timeout"`
	FinishTimeout  time.Duration `mapstructure:"finish-timeout"`
	MaxPacketSize  int           `mapstructure:"max-packet-size"`
	BufferSize     int           `mapstructure:"buffer-size"`
	ChunkDelay     time.Duration `mapstructure:"chunk-delay"`

	// Address is where `serve` listens.
	Address string `mapstructure:"address"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	pc := protocol.DefaultConfig()
	tc := transport.DefaultConfig()
	return Config{
		LogLevel:       "info",
		Algorithm:      string(binarize.FloydSteinberg),
		DeviceName:     tc.DeviceName,
		Transport:      TransportBLE,
		PrintWidth:     pc.PrintWidth,
		Energy:         int(pc.Energy),
		FeedLines:      int(pc.FeedLines),
		ScanTimeout:    tc.ScanTimeout,
		ConnectTimeout: tc.ConnectTimeout,
		FlowTimeout:    tc.FlowTimeout,
		FinishTimeout:  tc.FinishTimeout,
		MaxPacketSize:  tc.MaxPacketSize,
		BufferSize:     tc.BufferSize,
		ChunkDelay:     tc.ChunkDelay,
		Address:        "localhost:9100",
	}
}

// Validate checks the configuration for errors.
func (c Config) Validate() error {
	if _, err := binarize.ParseAlgorithm(c.Algorithm); err != nil {
		return err
	}
	if c.Transport != TransportBLE && c.Transport != TransportUSB {
		return fmt.Errorf("transport must be %q or %q, got %q", TransportBLE, TransportUSB, c.Transport)
	}
	if c.Energy < 0 || c.Energy > 0xffff {
		return fmt.Errorf("energy must be between 0 and 65535, got %d", c.Energy)
	}
	if c.FeedLines < 0 || c.FeedLines > 0xffff {
		return fmt.Errorf("feed lines must be between 0 and 65535, got %d", c.FeedLines)
	}
	if err := c.ProtocolConfig().Validate(); err != nil {
		return err
	}
	return c.TransportConfig().Validate()
}

// ProtocolConfig returns the encoder settings.
func (c Config) ProtocolConfig() protocol.Config {
	pc := protocol.DefaultConfig()
	pc.PrintWidth = c.PrintWidth
	pc.Energy = uint16(c.Energy)
	pc.FeedLines = uint16(c.FeedLines)
	return pc
}

// TransportConfig returns the delivery settings.
func (c Config) TransportConfig() transport.Config {
	return transport.Config{
		DeviceName:     c.DeviceName,
		ScanTimeout:    c.ScanTimeout,
		ConnectTimeout: c.ConnectTimeout,
		FlowTimeout:    c.FlowTimeout,
		FinishTimeout:  c.FinishTimeout,
		MaxPacketSize:  c.MaxPacketSize,
		BufferSize:     c.BufferSize,
		ChunkDelay:     c.ChunkDelay,
	}
}

// DefaultPath returns $HOME/.catprint/config.toml, or "" without a home directory.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".catprint", "config.toml")
}

// New prepares a viper instance. path names the TOML file; when empty the
// default path is used if it exists. flags may be nil.
func New(path string, flags *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()

	def := DefaultConfig()
	v.SetDefault(KeyLogLevel, def.LogLevel)
	v.SetDefault(KeyAlgorithm, def.Algorithm)
	v.SetDefault(KeyDeviceName, def.DeviceName)
	v.SetDefault(KeyTransport, def.Transport)
	v.SetDefault(KeyPreview, def.Preview)
	v.SetDefault(KeyPrintWidth, def.PrintWidth)
	v.SetDefault(KeyEnergy, def.Energy)
	v.SetDefault(KeyFeedLines, def.FeedLines)
	v.SetDefault(KeyScanTimeout, def.ScanTimeout)
	v.SetDefault(KeyConnectTimeout, def.ConnectTimeout)
	v.SetDefault(KeyFlowTimeout, def.FlowTimeout)
	v.SetDefault(KeyFinishTimeout, def.FinishTimeout)
	v.SetDefault(KeyMaxPacketSize, def.MaxPacketSize)
	v.SetDefault(KeyBufferSize, def.BufferSize)
	v.SetDefault(KeyChunkDelay, def.ChunkDelay)
	v.SetDefault(KeyAddress, def.Address)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("failed to bind flags: %w", err)
		}
	}

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	if path == "" {
		return v, nil
	}
	if _, err := os.Stat(path); err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return v, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return v, nil
}

// Decode extracts and validates a Config from v.
func Decode(v *viper.Viper) (Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return c, nil
}

// Load is New followed by Decode.
func Load(path string, flags *pflag.FlagSet) (Config, *viper.Viper, error) {
	v, err := New(path, flags)
	if err != nil {
		return Config{}, nil, err
	}
	c, err := Decode(v)
	if err != nil {
		return Config{}, nil, err
	}
	return c, v, nil
}

// Watch calls onChange with the new configuration whenever the config file
// is rewritten. Invalid edits are logged and skipped. It reports whether a
// file is being watched.
func Watch(v *viper.Viper, logger logging.Logger, onChange func(Config)) bool {
	logger = logging.OrNoop(logger)
	file := v.ConfigFileUsed()
	if file == "" {
		return false
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		c, err := Decode(v)
		if err != nil {
			logger.Warn("ignoring config change", logging.String("file", e.Name), logging.Err(err))
			return
		}
		logger.Info("config reloaded", logging.String("file", e.Name))
		onChange(c)
	})
	v.WatchConfig()
	logger.Debug("watching config file", logging.String("file", file))
	return true
}
