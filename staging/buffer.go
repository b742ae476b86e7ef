// Package staging stages length-prefixed frames in a [bytering.RingBuffer]
// shared between one producer and one consumer goroutine.
package staging

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/squadracorsepolito/bytering"
	"github.com/squadracorsepolito/bytering/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sys/cpu"
)

// Snapshot is the occupancy of a [Buffer] at a point in time.
type Snapshot struct {
	Name      string
	Timestamp time.Time

	Capacity uint64
	Used     uint64
	Free     uint64

	PushedFrames  int64
	PoppedFrames  int64
	DroppedFrames int64
	DrainedBytes  int64
}

// Buffer stages frames made of a 4 byte big endian payload length followed by the payload.
//
// The ring is guarded by a mutex, so a producer and a consumer can run in different goroutines.
// Consumers are serialized by a second mutex that producers never take: [Buffer.DrainTo]
// writes straight from the ring storage without blocking [Buffer.PushFrame].
// Frames are consumed either one at a time with [Buffer.PopFrame] or as a raw
// byte stream with [Buffer.DrainTo]; after a partial drain the next staged byte
// is not a frame boundary, so the two must not be mixed.
type Buffer struct {
	tel *telemetry.Telemetry

	name         string
	maxFrameSize uint32

	consumerMux sync.Mutex

	mux  sync.Mutex
	ring *bytering.RingBuffer

	// Telemetry metrics
	_ cpu.CacheLinePad

	pushedFrames  atomic.Int64
	droppedFrames atomic.Int64

	_ cpu.CacheLinePad

	poppedFrames atomic.Int64
	drainedBytes atomic.Int64

	_ cpu.CacheLinePad
}

// NewBuffer returns a [Buffer] whose ring is built with the given options.
// If the ring cannot be allocated the buffer rejects every frame with [bytering.ErrInert].
func NewBuffer(cfg *Config, opts ...bytering.Option) *Buffer {
	return newBuffer(cfg, telemetry.NewTelemetry("staging", cfg.Name), opts...)
}

func newBuffer(cfg *Config, tel *telemetry.Telemetry, opts ...bytering.Option) *Buffer {
	maxFrameSize := cfg.MaxFrameSize
	if maxFrameSize == 0 {
		maxFrameSize = NewDefaultConfig().MaxFrameSize
	}

	opts = append([]bytering.Option{bytering.WithLogger(tel.Logger().Slog())}, opts...)

	b := &Buffer{
		tel: tel,

		name:         cfg.Name,
		maxFrameSize: maxFrameSize,

		ring: bytering.New(cfg.Capacity, opts...),
	}

	b.initMetrics()

	b.tel.LogInfo("initialized", "capacity", b.ring.Cap(), "max_frame_size", maxFrameSize)

	return b
}

func (b *Buffer) initMetrics() {
	b.tel.NewCounter("pushed_frames", func() int64 { return b.pushedFrames.Load() })
	b.tel.NewCounter("popped_frames", func() int64 { return b.poppedFrames.Load() })
	b.tel.NewCounter("dropped_frames", func() int64 { return b.droppedFrames.Load() })
	b.tel.NewCounter("drained_bytes", func() int64 { return b.drainedBytes.Load() })
	b.tel.NewGauge("used_bytes", func() int64 { return int64(b.Snapshot().Used) })
}

// Name returns the configured name of the buffer.
func (b *Buffer) Name() string {
	return b.name
}

// MaxFrameSize returns the largest payload accepted by PushFrame.
func (b *Buffer) MaxFrameSize() uint32 {
	return b.maxFrameSize
}

// PushFrame stages payload as a single frame.
// Header and payload are enqueued together or not at all: when they do not fit
// the frame is dropped and [bytering.ErrBufferFull] is returned.
func (b *Buffer) PushFrame(ctx context.Context, payload []byte) error {
	span := trace.SpanFromContext(ctx)

	payloadSize := len(payload)
	if uint64(payloadSize) > uint64(b.maxFrameSize) {
		b.droppedFrames.Add(1)
		return fmt.Errorf("%w: %d bytes, max %d", ErrFrameTooLarge, payloadSize, b.maxFrameSize)
	}

	header := newFrameHeader(uint32(payloadSize))

	b.mux.Lock()
	defer b.mux.Unlock()

	if b.ring.IsInert() {
		b.droppedFrames.Add(1)
		return bytering.ErrInert
	}

	if b.ring.Free() < uint64(FrameSize(payloadSize)) {
		b.droppedFrames.Add(1)
		span.SetAttributes(attribute.Bool("frame_dropped", true))
		return bytering.ErrBufferFull
	}

	b.ring.Enqueue(header[:])
	b.ring.Enqueue(payload)

	b.pushedFrames.Add(1)
	span.SetAttributes(attribute.Int("frame_size", payloadSize))

	return nil
}

// NextFrameSize returns the payload size of the oldest staged frame without consuming it.
// It returns [bytering.ErrNotEnoughData] when no complete frame is staged.
func (b *Buffer) NextFrameSize() (uint32, error) {
	b.mux.Lock()
	defer b.mux.Unlock()

	return b.nextFrameSize()
}

func (b *Buffer) nextFrameSize() (uint32, error) {
	if b.ring.IsInert() {
		return 0, bytering.ErrInert
	}

	var header frameHeader
	if !b.ring.Peek(header[:]) {
		return 0, bytering.ErrNotEnoughData
	}

	payloadSize := header.payloadSize()
	if payloadSize > b.maxFrameSize {
		return 0, fmt.Errorf("%w: %d bytes, max %d", ErrCorruptFrame, payloadSize, b.maxFrameSize)
	}

	if b.ring.Len() < uint64(FrameSize(int(payloadSize))) {
		return 0, bytering.ErrNotEnoughData
	}

	return payloadSize, nil
}

// PopFrame consumes the oldest staged frame and copies its payload into dst.
// If dst is too small [io.ErrShortBuffer] is returned and nothing is consumed.
func (b *Buffer) PopFrame(dst []byte) (int, error) {
	b.consumerMux.Lock()
	defer b.consumerMux.Unlock()

	b.mux.Lock()
	defer b.mux.Unlock()

	payloadSize, err := b.nextFrameSize()
	if err != nil {
		return 0, err
	}

	if uint64(len(dst)) < uint64(payloadSize) {
		return 0, io.ErrShortBuffer
	}

	b.ring.AdvanceReadIndex(frameHeaderSize)
	b.ring.Dequeue(dst[:payloadSize])

	b.poppedFrames.Add(1)

	return int(payloadSize), nil
}

// DrainTo writes the bytes staged when it is called, headers included, to w.
// Bytes accepted by w are consumed even when an error is returned.
//
// The ring lock is only held to look up and release the drained region, never
// across w.Write, so a slow writer does not stall PushFrame. Frames pushed
// while draining are left for the next call.
func (b *Buffer) DrainTo(w io.Writer) (int64, error) {
	b.consumerMux.Lock()
	defer b.consumerMux.Unlock()

	b.mux.Lock()
	if b.ring.IsInert() {
		b.mux.Unlock()
		return 0, bytering.ErrInert
	}
	remaining := b.ring.Len()
	b.mux.Unlock()

	var total int64
	for remaining > 0 {
		// Producers only write into the free region,
		// so the dequeue region is stable until the read index moves
		b.mux.Lock()
		chunk := b.ring.DirectDequeueBuf()
		b.mux.Unlock()

		if uint64(len(chunk)) > remaining {
			chunk = chunk[:remaining]
		}

		n, err := w.Write(chunk)
		if n < 0 || n > len(chunk) {
			return total, errInvalidWrite
		}

		b.mux.Lock()
		b.ring.AdvanceReadIndex(uint64(n))
		b.mux.Unlock()

		remaining -= uint64(n)
		total += int64(n)
		b.drainedBytes.Add(int64(n))

		if err != nil {
			return total, err
		}

		if n != len(chunk) {
			return total, io.ErrShortWrite
		}
	}

	return total, nil
}

// Reset discards every staged byte and returns how many were discarded.
func (b *Buffer) Reset() uint64 {
	b.consumerMux.Lock()
	defer b.consumerMux.Unlock()

	b.mux.Lock()
	defer b.mux.Unlock()

	discarded := b.ring.Len()
	b.ring.Clear()

	return discarded
}

// Snapshot returns the current occupancy of the buffer.
func (b *Buffer) Snapshot() Snapshot {
	b.mux.Lock()
	capacity := b.ring.Cap()
	used := b.ring.Len()
	free := b.ring.Free()
	b.mux.Unlock()

	return Snapshot{
		Name:      b.name,
		Timestamp: time.Now(),

		Capacity: capacity,
		Used:     used,
		Free:     free,

		PushedFrames:  b.pushedFrames.Load(),
		PoppedFrames:  b.poppedFrames.Load(),
		DroppedFrames: b.droppedFrames.Load(),
		DrainedBytes:  b.drainedBytes.Load(),
	}
}
