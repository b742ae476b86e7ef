package questdb

import "time"

type Config struct {
	// Address is the host:port of the QuestDB HTTP endpoint.
	Address string
	// Table receives one row per staging buffer per interval.
	Table string
	// Interval is the sampling period.
	Interval time.Duration
	// RequestTimeout bounds every HTTP flush.
	RequestTimeout time.Duration
}

func NewDefaultConfig() *Config {
	return &Config{
		Address: "localhost:9000",
		Table:   "ring_occupancy",

		Interval:       time.Second,
		RequestTimeout: 5 * time.Second,
	}
}
