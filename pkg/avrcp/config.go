package avrcp

import (
	"fmt"
	"time"
)

const (
	// DefaultMaxFrameSize is the default L2CAP MTU.
	DefaultMaxFrameSize = 672
	// MinMaxFrameSize is the smallest MTU an L2CAP BR/EDR channel may negotiate.
	MinMaxFrameSize = 48
)

// Config holds the per-session tunables.
type Config struct {
	// MaxFrameSize is the negotiated maximum transport packet size.
	MaxFrameSize int `yaml:"max_frame_size"`
	// WatchdogTimeout bounds the wait for a response to a local request.
	WatchdogTimeout time.Duration `yaml:"watchdog_timeout"`
	// ContinuationTimeout bounds how long an unsent metadata remainder waits for the peer to pull it.
	ContinuationTimeout time.Duration `yaml:"continuation_timeout"`
	// InboundQueueLimit is the number of packets held while the consumer has not
	// released the last delivered message. Further packets are dropped.
	InboundQueueLimit int `yaml:"inbound_queue_limit"`
}

func DefaultConfig() Config {
	return Config{
		MaxFrameSize:        DefaultMaxFrameSize,
		WatchdogTimeout:     2 * time.Second,
		ContinuationTimeout: 10 * time.Second,
		InboundQueueLimit:   64,
	}
}

func (c *Config) Validate() error {
	if c.MaxFrameSize < MinMaxFrameSize || c.MaxFrameSize > 0xFFFF {
		return fmt.Errorf("max_frame_size %d out of range [%d, 65535]", c.MaxFrameSize, MinMaxFrameSize)
	}
	if c.WatchdogTimeout <= 0 {
		return fmt.Errorf("watchdog_timeout must be positive")
	}
	if c.ContinuationTimeout <= 0 {
		return fmt.Errorf("continuation_timeout must be positive")
	}
	if c.InboundQueueLimit < 1 {
		return fmt.Errorf("inbound_queue_limit must be at least 1")
	}
	return nil
}
