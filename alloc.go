package bytering

import (
	"fmt"
	"log/slog"
	"math"
)

// MaxCapacity is the largest storage the default allocator agrees to obtain.
const MaxCapacity = 1 << 40

// Allocator obtains the storage of a [RingBuffer].
// It must return a slice of exactly size bytes or an error.
type Allocator func(size uint64) ([]byte, error)

func defaultAllocator(size uint64) (buf []byte, err error) {
	if size > MaxCapacity || size > math.MaxInt {
		return nil, fmt.Errorf("%w: %d bytes exceeds the maximum capacity", ErrAllocation, size)
	}

	// make panics with a runtime error on impossible lengths
	defer func() {
		if r := recover(); r != nil {
			buf = nil
			err = fmt.Errorf("%w: %v", ErrAllocation, r)
		}
	}()

	return make([]byte, size), nil
}

type options struct {
	allocator Allocator
	logger    *slog.Logger
}

// Option configures the construction of a [RingBuffer].
type Option func(*options)

// WithAllocator sets the function used to obtain the storage.
func WithAllocator(allocator Allocator) Option {
	return func(o *options) {
		if allocator != nil {
			o.allocator = allocator
		}
	}
}

// WithLogger sets the logger that is warned when construction leaves the buffer inert.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}
