package tcp

import "time"

type Config struct {
	// Address is the host:port the staged stream is forwarded to.
	Address string

	// FlushInterval is the period between two drains of the staging buffer.
	FlushInterval time.Duration
	// DialTimeout bounds every connection attempt.
	DialTimeout time.Duration
	// WriteTimeout bounds every drain of the staging buffer.
	WriteTimeout time.Duration

	// RedialInterval is the first wait after the connection is lost,
	// doubled on every failed attempt up to MaxRedialInterval.
	RedialInterval    time.Duration
	MaxRedialInterval time.Duration
	// MaxRedialTime stops the forwarder when no connection could be
	// established for that long. Zero keeps redialing until stopped.
	MaxRedialTime time.Duration
}

func NewDefaultConfig() *Config {
	return &Config{
		Address: "127.0.0.1:20001",

		FlushInterval: 10 * time.Millisecond,
		DialTimeout:   5 * time.Second,
		WriteTimeout:  time.Second,

		RedialInterval:    100 * time.Millisecond,
		MaxRedialInterval: 5 * time.Second,
	}
}
