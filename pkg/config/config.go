// Package config loads the YAML configuration of the AVRCP engine and its host program.
package config

import (
	"fmt"
	"os"

	"github.com/muxable/avrcp/pkg/avrcp"
	"github.com/muxable/avrcp/pkg/l2cap"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration
type Config struct {
	Session   avrcp.Config    `yaml:"session"`
	Transport TransportConfig `yaml:"transport"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

const (
	TransportSocket = "socket"
	TransportBFrame = "bframe"
)

// TransportConfig selects how the L2CAP channel is reached
type TransportConfig struct {
	// Kind is "socket" for the kernel L2CAP stack or "bframe" for B-frames over a TCP link.
	Kind string `yaml:"kind"`
	// Peer is the device to dial. The program listens when it is empty.
	Peer string `yaml:"peer"`
	PSM  uint16 `yaml:"psm"`
	// Address, LocalCID and RemoteCID are used by the bframe transport.
	Address   string `yaml:"address"`
	LocalCID  uint16 `yaml:"local_cid"`
	RemoteCID uint16 `yaml:"remote_cid"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// MetricsConfig contains the prometheus endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// Default returns the configuration used for fields a file leaves out.
func Default() *Config {
	return &Config{
		Session: avrcp.DefaultConfig(),
		Transport: TransportConfig{
			Kind: TransportSocket,
			PSM:  l2cap.PSMAVCTP,
		},
		Logging: LoggingConfig{Level: "info"},
		Metrics: MetricsConfig{Address: ":9090"},
	}
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session config: %w", err)
	}
	if err := c.Transport.Validate(); err != nil {
		return fmt.Errorf("transport config: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("metrics config: %w", err)
	}
	return nil
}

func (t *TransportConfig) Validate() error {
	switch t.Kind {
	case TransportSocket:
		if t.PSM == 0 || t.PSM&0x0001 == 0 {
			return fmt.Errorf("psm %#04x is not a valid psm", t.PSM)
		}
		if t.Peer != "" {
			if _, err := l2cap.ParseAddr(t.Peer); err != nil {
				return fmt.Errorf("peer: %w", err)
			}
		}
	case TransportBFrame:
		if t.Address == "" {
			return fmt.Errorf("address cannot be empty for the bframe transport")
		}
		if l2cap.ChannelID(t.LocalCID) < l2cap.ChannelIDDynamic || l2cap.ChannelID(t.RemoteCID) < l2cap.ChannelIDDynamic {
			return fmt.Errorf("local_cid and remote_cid must be at least %#04x", uint16(l2cap.ChannelIDDynamic))
		}
	default:
		return fmt.Errorf("kind must be %q or %q, got %q", TransportSocket, TransportBFrame, t.Kind)
	}
	return nil
}

func (l *LoggingConfig) Validate() error {
	if _, err := zapcore.ParseLevel(l.Level); err != nil {
		return fmt.Errorf("level: %w", err)
	}
	return nil
}

// Build creates the logger described by the configuration.
func (l *LoggingConfig) Build() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(l.Level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if l.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

func (m *MetricsConfig) Validate() error {
	if m.Enabled && m.Address == "" {
		return fmt.Errorf("address cannot be empty when metrics are enabled")
	}
	return nil
}
