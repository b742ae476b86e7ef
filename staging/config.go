package staging

// MaxFrameSize is the largest payload a frame header can describe.
const MaxFrameSize = 1<<32 - 1

type Config struct {
	// Name identifies the buffer in logs, metrics and occupancy reports.
	Name string

	// Capacity is the requested size of the ring in bytes, rounded up to a power of 2.
	Capacity uint64

	// MaxFrameSize is the largest payload accepted by PushFrame.
	// Headers announcing a larger payload are treated as corrupt.
	MaxFrameSize uint32
}

func NewDefaultConfig() *Config {
	return &Config{
		Name: "staging",

		Capacity:     1 << 20,
		MaxFrameSize: 65_535,
	}
}
