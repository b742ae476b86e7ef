// Package bytering provides a fixed-capacity circular byte buffer used to stage
// binary data between a producer and a consumer without per-operation allocations.
//
// A [RingBuffer] is not safe for concurrent use. It has exactly one owner at a time:
// ownership can be moved with [RingBuffer.Transfer] or [RingBuffer.Assign],
// which leave the source inert.
package bytering

import "log/slog"

// DefaultCapacity is the capacity used by [NewDefault].
const DefaultCapacity = 1024

// RingBuffer is a circular byte buffer with a power of two capacity.
//
// The read and write indexes are unbounded counters: the number of stored bytes
// is their difference, computed with wraparound subtraction, and the physical
// offset of an index is obtained by masking it with capacity-1.
// A buffer with zero capacity is inert and rejects every data operation.
type RingBuffer struct {
	_ noCopy

	buffer []byte

	capacity uint64
	mask     uint64

	readIdx  uint64
	writeIdx uint64
}

// New returns a [RingBuffer] able to hold at least capacity bytes.
// The capacity is rounded up to the next power of 2, a capacity of 0 rounds to 1.
//
// If the storage cannot be obtained the returned buffer is inert:
// [RingBuffer.Cap] reports 0 and every data operation fails.
func New(capacity uint64, opts ...Option) *RingBuffer {
	o := &options{
		allocator: defaultAllocator,
	}
	for _, opt := range opts {
		opt(o)
	}

	rb := &RingBuffer{}

	parsedCapacity, ok := roundToPowerOf2(capacity)
	if !ok {
		warnInert(o.logger, capacity, ErrAllocation)
		return rb
	}

	buffer, err := o.allocator(parsedCapacity)
	if err != nil {
		warnInert(o.logger, capacity, err)
		return rb
	}

	if uint64(len(buffer)) != parsedCapacity {
		warnInert(o.logger, capacity, ErrAllocation)
		return rb
	}

	rb.buffer = buffer
	rb.capacity = parsedCapacity
	rb.mask = parsedCapacity - 1

	return rb
}

// NewDefault returns a [RingBuffer] of [DefaultCapacity] bytes.
func NewDefault(opts ...Option) *RingBuffer {
	return New(DefaultCapacity, opts...)
}

func warnInert(l *slog.Logger, capacity uint64, err error) {
	if l == nil {
		return
	}
	l.Warn("ring buffer is inert", "requested_capacity", capacity, "err", err)
}

// Transfer moves the storage and the indexes of rb into a new buffer and returns it.
// rb is left inert with both indexes reset.
func (rb *RingBuffer) Transfer() *RingBuffer {
	dst := &RingBuffer{}
	dst.Assign(rb)
	return dst
}

// Assign releases the storage owned by rb and takes over the storage
// and the indexes of src, which is left inert.
// Assigning a buffer to itself does nothing, assigning nil makes rb inert.
func (rb *RingBuffer) Assign(src *RingBuffer) {
	if rb == src {
		return
	}

	if src == nil {
		rb.release()
		return
	}

	rb.buffer = src.buffer
	rb.capacity = src.capacity
	rb.mask = src.mask
	rb.readIdx = src.readIdx
	rb.writeIdx = src.writeIdx

	src.release()
}

func (rb *RingBuffer) release() {
	rb.buffer = nil
	rb.capacity = 0
	rb.mask = 0
	rb.Clear()
}

// IsInert reports whether the buffer has no storage.
func (rb *RingBuffer) IsInert() bool {
	return rb.buffer == nil
}

// Cap returns the number of bytes the buffer can hold.
func (rb *RingBuffer) Cap() uint64 {
	return rb.capacity
}

// Len returns the number of stored bytes.
func (rb *RingBuffer) Len() uint64 {
	return rb.writeIdx - rb.readIdx
}

// Free returns the number of bytes that can be enqueued.
func (rb *RingBuffer) Free() uint64 {
	return rb.capacity - rb.Len()
}

// Enqueue copies all of src into the buffer.
// It returns false, leaving the buffer untouched, if the buffer is inert
// or there is not enough free space for len(src) bytes.
// An empty src always succeeds.
func (rb *RingBuffer) Enqueue(src []byte) bool {
	size := uint64(len(src))
	if size == 0 {
		return true
	}

	if rb.buffer == nil || rb.Free() < size {
		return false
	}

	offset := rb.writeIdx & rb.mask
	firstSize := min(size, rb.capacity-offset)
	secondSize := size - firstSize

	copy(rb.buffer[offset:offset+firstSize], src[:firstSize])
	if secondSize > 0 {
		copy(rb.buffer[:secondSize], src[firstSize:])
	}

	rb.writeIdx += size

	return true
}

// Dequeue fills dst with the oldest stored bytes and consumes them.
// It returns false, leaving the buffer untouched, if the buffer is inert
// or fewer than len(dst) bytes are stored.
// An empty dst always succeeds.
func (rb *RingBuffer) Dequeue(dst []byte) bool {
	if !rb.Peek(dst) {
		return false
	}

	rb.readIdx += uint64(len(dst))

	return true
}

// Peek is like [RingBuffer.Dequeue] but it does not consume the bytes.
func (rb *RingBuffer) Peek(dst []byte) bool {
	size := uint64(len(dst))
	if size == 0 {
		return true
	}

	if rb.buffer == nil || rb.Len() < size {
		return false
	}

	offset := rb.readIdx & rb.mask
	firstSize := min(size, rb.capacity-offset)
	secondSize := size - firstSize

	copy(dst[:firstSize], rb.buffer[offset:offset+firstSize])
	if secondSize > 0 {
		copy(dst[firstSize:], rb.buffer[:secondSize])
	}

	return true
}

// Clear empties the buffer by resetting both indexes.
// The storage is neither released nor zeroed.
func (rb *RingBuffer) Clear() {
	rb.readIdx = 0
	rb.writeIdx = 0
}

// DirectEnqueueSize returns the number of free bytes that can be written
// contiguously at the current write position.
func (rb *RingBuffer) DirectEnqueueSize() uint64 {
	return min(rb.Free(), rb.capacity-(rb.writeIdx&rb.mask))
}

// DirectDequeueSize returns the number of stored bytes that can be read
// contiguously at the current read position.
func (rb *RingBuffer) DirectDequeueSize() uint64 {
	return min(rb.Len(), rb.capacity-(rb.readIdx&rb.mask))
}

// DirectEnqueueBuf returns the storage at the current write position,
// [RingBuffer.DirectEnqueueSize] bytes long. It returns nil if the buffer is inert.
//
// The slice aliases the live storage and is valid until the next call
// that moves an index. Bytes written into it are committed
// with [RingBuffer.AdvanceWriteIndex].
func (rb *RingBuffer) DirectEnqueueBuf() []byte {
	if rb.buffer == nil {
		return nil
	}

	offset := rb.writeIdx & rb.mask
	end := offset + rb.DirectEnqueueSize()

	return rb.buffer[offset:end:end]
}

// DirectDequeueBuf returns the storage at the current read position,
// [RingBuffer.DirectDequeueSize] bytes long. It returns nil if the buffer is inert.
//
// The slice aliases the live storage and must not be modified.
// Bytes read from it are released with [RingBuffer.AdvanceReadIndex].
func (rb *RingBuffer) DirectDequeueBuf() []byte {
	if rb.buffer == nil {
		return nil
	}

	offset := rb.readIdx & rb.mask
	end := offset + rb.DirectDequeueSize()

	return rb.buffer[offset:end:end]
}

// AdvanceWriteIndex commits n bytes written through [RingBuffer.DirectEnqueueBuf].
//
// No bounds checking is performed: n must not exceed the direct enqueue size,
// otherwise unread data is overwritten and the size invariants are broken.
func (rb *RingBuffer) AdvanceWriteIndex(n uint64) {
	rb.writeIdx += n
}

// AdvanceReadIndex releases n bytes read through [RingBuffer.DirectDequeueBuf].
//
// No bounds checking is performed: n must not exceed the direct dequeue size,
// otherwise the buffer reports a meaningless length.
func (rb *RingBuffer) AdvanceReadIndex(n uint64) {
	rb.readIdx += n
}
