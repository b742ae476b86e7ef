package bytering

import "errors"

var (
	// ErrInert is returned when an operation is attempted on a buffer without storage.
	ErrInert = errors.New("ring buffer: buffer has no storage")
	// ErrBufferFull is returned when a write does not fit in the free space.
	ErrBufferFull = errors.New("ring buffer: buffer is full")
	// ErrNotEnoughData is returned when a read asks for more bytes than are stored.
	ErrNotEnoughData = errors.New("ring buffer: not enough data")
	// ErrAllocation is returned by the default allocator when storage cannot be obtained.
	ErrAllocation = errors.New("ring buffer: allocation failed")

	errInvalidRead  = errors.New("ring buffer: reader returned invalid count")
	errInvalidWrite = errors.New("ring buffer: writer returned invalid count")
)
