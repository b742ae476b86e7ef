package staging

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/squadracorsepolito/bytering"
	"github.com/squadracorsepolito/bytering/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBuffer(capacity uint64, maxFrameSize uint32, opts ...bytering.Option) *Buffer {
	cfg := &Config{
		Name:         "test",
		Capacity:     capacity,
		MaxFrameSize: maxFrameSize,
	}

	l := telemetry.NewLoggerTo(io.Discard, "staging", cfg.Name)
	return newBuffer(cfg, telemetry.NewTelemetryWithLogger("staging", cfg.Name, l), opts...)
}

func payloadOf(seed byte, n int) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = seed + byte(i)
	}
	return p
}

func Test_Buffer_pushPop(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	b := newTestBuffer(64, 32)

	assert.NoError(b.PushFrame(ctx, payloadOf(1, 10)))
	assert.NoError(b.PushFrame(ctx, nil))
	assert.NoError(b.PushFrame(ctx, payloadOf(50, 20)))

	snap := b.Snapshot()
	assert.Equal(uint64(64), snap.Capacity)
	assert.Equal(uint64(10+20+3*frameHeaderSize), snap.Used)
	assert.Equal(snap.Capacity, snap.Used+snap.Free)
	assert.Equal(int64(3), snap.PushedFrames)
	assert.Equal("test", snap.Name)

	size, err := b.NextFrameSize()
	assert.NoError(err)
	assert.Equal(uint32(10), size)

	dst := make([]byte, 32)
	n, err := b.PopFrame(dst)
	assert.NoError(err)
	assert.Equal(payloadOf(1, 10), dst[:n])

	n, err = b.PopFrame(dst)
	assert.NoError(err)
	assert.Equal(0, n)

	n, err = b.PopFrame(dst)
	assert.NoError(err)
	assert.Equal(payloadOf(50, 20), dst[:n])

	_, err = b.PopFrame(dst)
	assert.ErrorIs(err, bytering.ErrNotEnoughData)

	assert.Equal(int64(3), b.Snapshot().PoppedFrames)
	assert.Equal(uint64(0), b.Snapshot().Used)
}

func Test_Buffer_full(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	b := newTestBuffer(32, 64)

	assert.NoError(b.PushFrame(ctx, payloadOf(0, 20)))

	// 8 bytes are free: a 4 byte payload fits with its header, a 9 byte one does not
	assert.ErrorIs(b.PushFrame(ctx, payloadOf(0, 9)), bytering.ErrBufferFull)
	assert.Equal(uint64(24), b.Snapshot().Used)

	assert.NoError(b.PushFrame(ctx, payloadOf(0, 4)))
	assert.Equal(uint64(0), b.Snapshot().Free)

	snap := b.Snapshot()
	assert.Equal(int64(2), snap.PushedFrames)
	assert.Equal(int64(1), snap.DroppedFrames)
}

func Test_Buffer_frameTooLarge(t *testing.T) {
	assert := assert.New(t)

	b := newTestBuffer(256, 16)

	err := b.PushFrame(context.Background(), payloadOf(0, 17))
	assert.ErrorIs(err, ErrFrameTooLarge)
	assert.Equal(uint64(0), b.Snapshot().Used)
	assert.Equal(int64(1), b.Snapshot().DroppedFrames)
}

func Test_Buffer_shortDestination(t *testing.T) {
	assert := assert.New(t)

	b := newTestBuffer(64, 32)
	assert.NoError(b.PushFrame(context.Background(), payloadOf(7, 12)))

	_, err := b.PopFrame(make([]byte, 11))
	assert.ErrorIs(err, io.ErrShortBuffer)
	assert.Equal(uint64(16), b.Snapshot().Used)

	dst := make([]byte, 12)
	n, err := b.PopFrame(dst)
	assert.NoError(err)
	assert.Equal(12, n)
	assert.Equal(payloadOf(7, 12), dst)
}

func Test_Buffer_corruptHeader(t *testing.T) {
	assert := assert.New(t)

	b := newTestBuffer(64, 8)

	// bypass PushFrame to stage a header announcing more than the maximum
	var header [frameHeaderSize]byte
	binary.BigEndian.PutUint32(header[:], 9)
	b.ring.Enqueue(header[:])
	b.ring.Enqueue(payloadOf(0, 9))

	_, err := b.NextFrameSize()
	assert.ErrorIs(err, ErrCorruptFrame)

	_, err = b.PopFrame(make([]byte, 16))
	assert.ErrorIs(err, ErrCorruptFrame)
	assert.Equal(uint64(13), b.Snapshot().Used)

	b.Reset()
	assert.Equal(uint64(0), b.Snapshot().Used)
}

func Test_Buffer_partialFrame(t *testing.T) {
	assert := assert.New(t)

	b := newTestBuffer(64, 32)

	b.ring.Enqueue(AppendFrame(nil, payloadOf(0, 10))[:8])

	_, err := b.NextFrameSize()
	assert.ErrorIs(err, bytering.ErrNotEnoughData)

	b.ring.Enqueue([]byte{1, 2})
	_, err = b.PopFrame(make([]byte, 32))
	assert.ErrorIs(err, bytering.ErrNotEnoughData)
}

func Test_Buffer_drainTo(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	b := newTestBuffer(32, 32)

	var expected []byte
	var out bytes.Buffer

	// push and drain enough frames to wrap the ring several times
	for round := range 10 {
		payload := payloadOf(byte(round), 5+round%7)
		assert.NoError(b.PushFrame(ctx, payload))
		expected = AppendFrame(expected, payload)

		if round%2 == 1 {
			_, err := b.DrainTo(&out)
			assert.NoError(err)
		}
	}

	assert.Equal(expected, out.Bytes())
	assert.Equal(int64(len(expected)), b.Snapshot().DrainedBytes)
}

type gatedWriter struct {
	entered chan struct{}
	release chan struct{}

	out bytes.Buffer
}

func newGatedWriter() *gatedWriter {
	return &gatedWriter{
		entered: make(chan struct{}, 4),
		release: make(chan struct{}),
	}
}

func (w *gatedWriter) Write(p []byte) (int, error) {
	w.entered <- struct{}{}
	<-w.release
	return w.out.Write(p)
}

func Test_Buffer_drainToDoesNotBlockPush(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	b := newTestBuffer(64, 32)
	first := payloadOf(1, 8)
	second := payloadOf(2, 8)
	require.NoError(b.PushFrame(ctx, first))

	w := newGatedWriter()
	drained := make(chan int64, 1)
	go func() {
		n, err := b.DrainTo(w)
		assert.NoError(err)
		drained <- n
	}()

	<-w.entered

	pushed := make(chan error, 1)
	go func() {
		pushed <- b.PushFrame(ctx, second)
	}()

	select {
	case err := <-pushed:
		require.NoError(err)
	case <-time.After(2 * time.Second):
		require.Fail("PushFrame blocked by a pending write")
	}

	close(w.release)

	// only the bytes staged when the drain started are written
	assert.Equal(int64(FrameSize(len(first))), <-drained)
	assert.Equal(AppendFrame(nil, first), w.out.Bytes())
	assert.Equal(uint64(FrameSize(len(second))), b.Snapshot().Used)

	n, err := b.DrainTo(w)
	assert.NoError(err)
	assert.Equal(int64(FrameSize(len(second))), n)
	assert.Equal(AppendFrame(AppendFrame(nil, first), second), w.out.Bytes())
}

type shortWriter struct {
	limit int
	out   bytes.Buffer
}

func (w *shortWriter) Write(p []byte) (int, error) {
	n := min(len(p), w.limit)
	w.out.Write(p[:n])
	w.limit -= n
	return n, nil
}

func Test_Buffer_drainToShortWrite(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	b := newTestBuffer(64, 32)
	payload := payloadOf(3, 10)
	assert.NoError(b.PushFrame(ctx, payload))

	w := &shortWriter{limit: 6}
	n, err := b.DrainTo(w)
	assert.ErrorIs(err, io.ErrShortWrite)
	assert.Equal(int64(6), n)

	// the accepted bytes are consumed, the rest stays staged
	assert.Equal(uint64(FrameSize(len(payload))-6), b.Snapshot().Used)
	assert.Equal(int64(6), b.Snapshot().DrainedBytes)

	assert.Equal(uint64(FrameSize(len(payload))-6), b.Reset())
	assert.Equal(uint64(0), b.Snapshot().Used)
}

func Test_Buffer_inert(t *testing.T) {
	assert := assert.New(t)

	b := newTestBuffer(64, 32, bytering.WithAllocator(func(uint64) ([]byte, error) {
		return nil, bytering.ErrAllocation
	}))

	assert.ErrorIs(b.PushFrame(context.Background(), []byte("x")), bytering.ErrInert)

	_, err := b.PopFrame(make([]byte, 8))
	assert.ErrorIs(err, bytering.ErrInert)

	_, err = b.DrainTo(io.Discard)
	assert.ErrorIs(err, bytering.ErrInert)

	assert.Equal(uint64(0), b.Snapshot().Capacity)
}

func Test_Buffer_producerConsumer(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	const frames = 10_000

	b := newTestBuffer(1024, 64)

	wg := &sync.WaitGroup{}
	wg.Add(1)
	go func() {
		defer wg.Done()

		for idx := range frames {
			payload := binary.BigEndian.AppendUint32(nil, uint32(idx))
			for b.PushFrame(ctx, payload) != nil {
			}
		}
	}()

	dst := make([]byte, 64)
	for idx := 0; idx < frames; {
		n, err := b.PopFrame(dst)
		if err != nil {
			require.ErrorIs(err, bytering.ErrNotEnoughData)
			continue
		}

		require.Equal(4, n)
		require.Equal(uint32(idx), binary.BigEndian.Uint32(dst[:n]))
		idx++
	}

	wg.Wait()

	snap := b.Snapshot()
	require.Equal(int64(frames), snap.PushedFrames)
	require.Equal(int64(frames), snap.PoppedFrames)
}

func Benchmark_Buffer(b *testing.B) {
	b.ReportAllocs()

	ctx := context.Background()
	buf := newTestBuffer(1<<16, 2048)
	payload := payloadOf(0, 1474)
	dst := make([]byte, 2048)

	for b.Loop() {
		_ = buf.PushFrame(ctx, payload)
		_, _ = buf.PopFrame(dst)
	}
}
