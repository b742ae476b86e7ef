package tcp

import (
	"bytes"
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/squadracorsepolito/bytering/internal/telemetry"
	"github.com/squadracorsepolito/bytering/staging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	mux sync.Mutex
	buf bytes.Buffer
}

func (c *collector) bytes() []byte {
	c.mux.Lock()
	defer c.mux.Unlock()
	return bytes.Clone(c.buf.Bytes())
}

func (c *collector) collect(conn net.Conn) {
	defer conn.Close()

	chunk := make([]byte, 512)
	for {
		n, err := conn.Read(chunk)
		c.mux.Lock()
		c.buf.Write(chunk[:n])
		c.mux.Unlock()
		if err != nil {
			return
		}
	}
}

func listen(t *testing.T) (net.Listener, *collector) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	c := &collector{}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		c.collect(conn)
	}()

	return ln, c
}

func newTestForwarder(address string, buf *staging.Buffer) *Forwarder {
	cfg := NewDefaultConfig()
	cfg.Address = address
	cfg.FlushInterval = 5 * time.Millisecond
	cfg.RedialInterval = 5 * time.Millisecond
	cfg.MaxRedialInterval = 20 * time.Millisecond

	tel := telemetry.NewTelemetryWithLogger("egress", "tcp", telemetry.NewLoggerTo(io.Discard, "egress", "tcp"))
	return newForwarder(cfg, buf, tel)
}

func Test_Forwarder(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	ln, c := listen(t)
	defer ln.Close()

	bufCfg := staging.NewDefaultConfig()
	bufCfg.Capacity = 256
	buf := staging.NewBuffer(bufCfg)

	f := newTestForwarder(ln.Addr().String(), buf)
	require.NoError(f.Init(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.Run(ctx)
		close(done)
	}()

	var expected []byte
	for idx := range 50 {
		payload := bytes.Repeat([]byte{byte(idx)}, 1+idx%20)
		expected = staging.AppendFrame(expected, payload)

		// wait for the forwarder to make room
		require.Eventually(func() bool {
			return buf.PushFrame(ctx, payload) == nil
		}, 2*time.Second, time.Millisecond)
	}

	require.Eventually(func() bool {
		return bytes.Equal(expected, c.bytes())
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	<-done

	assert.Equal(int64(len(expected)), f.forwardedBytes.Load())
	assert.Equal(int64(len(expected)), buf.Snapshot().DrainedBytes)
	assert.NoError(f.Close())
}

func Test_Forwarder_finalFlush(t *testing.T) {
	require := require.New(t)

	ln, c := listen(t)
	defer ln.Close()

	buf := staging.NewBuffer(staging.NewDefaultConfig())

	f := newTestForwarder(ln.Addr().String(), buf)
	f.cfg.FlushInterval = time.Hour
	require.NoError(f.Init(context.Background()))

	require.NoError(buf.PushFrame(context.Background(), []byte("last words")))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f.Run(ctx)

	expected := staging.AppendFrame(nil, []byte("last words"))
	require.Eventually(func() bool {
		return bytes.Equal(expected, c.bytes())
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(f.Close())
}

func Test_Forwarder_dialError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	address := ln.Addr().String()
	require.NoError(t, ln.Close())

	f := newTestForwarder(address, staging.NewBuffer(staging.NewDefaultConfig()))
	f.cfg.DialTimeout = 500 * time.Millisecond

	assert.Error(t, f.Init(context.Background()))
	assert.NoError(t, f.Close())
}

func Test_Forwarder_peerClosed(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(err)
	defer ln.Close()

	c := &collector{}
	go func() {
		// the first peer leaves as soon as it is connected
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		conn.Close()

		conn, err = ln.Accept()
		if err != nil {
			return
		}
		c.collect(conn)
	}()

	bufCfg := staging.NewDefaultConfig()
	bufCfg.Capacity = 1 << 16
	buf := staging.NewBuffer(bufCfg)

	f := newTestForwarder(ln.Addr().String(), buf)
	require.NoError(f.Init(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.Run(ctx)
		close(done)
	}()

	payload := bytes.Repeat([]byte{0xab}, 100)
	frameSize := staging.FrameSize(len(payload))

	// keep producing until the second peer receives something
	require.Eventually(func() bool {
		_ = buf.PushFrame(ctx, payload)
		return len(c.bytes()) > 0
	}, 5*time.Second, 2*time.Millisecond)

	require.Eventually(func() bool {
		return buf.Snapshot().Used == 0
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	<-done

	assert.GreaterOrEqual(f.flushErrors.Load(), int64(1))
	assert.GreaterOrEqual(f.redials.Load(), int64(1))

	// the second peer only sees whole frames
	var stream []byte
	require.Eventually(func() bool {
		stream = c.bytes()
		return len(stream)%frameSize == 0
	}, 2*time.Second, 5*time.Millisecond)

	expected := staging.AppendFrame(nil, payload)
	for off := 0; off < len(stream); off += frameSize {
		require.Equal(expected, stream[off:off+frameSize], "frame at offset %d", off)
	}

	assert.NoError(f.Close())
}

func Test_Forwarder_redialGivesUp(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(err)

	go func() {
		conn, err := ln.Accept()
		if err == nil {
			conn.Close()
		}
		ln.Close()
	}()

	buf := staging.NewBuffer(staging.NewDefaultConfig())

	f := newTestForwarder(ln.Addr().String(), buf)
	f.cfg.MaxRedialTime = 50 * time.Millisecond
	require.NoError(f.Init(context.Background()))

	done := make(chan struct{})
	go func() {
		f.Run(context.Background())
		close(done)
	}()

	payload := bytes.Repeat([]byte{0xcd}, 100)
	require.Eventually(func() bool {
		_ = buf.PushFrame(context.Background(), payload)

		select {
		case <-done:
			return true
		default:
			return false
		}
	}, 5*time.Second, 2*time.Millisecond)

	assert.GreaterOrEqual(f.redials.Load(), int64(1))
	assert.NoError(f.Close())
}

func Test_Forwarder_partialFrameDiscarded(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	bufCfg := staging.NewDefaultConfig()
	bufCfg.Capacity = 64
	buf := staging.NewBuffer(bufCfg)

	first := []byte("0123456789")
	require.NoError(buf.PushFrame(ctx, first))

	f := newTestForwarder("127.0.0.1:0", buf)

	// the peer takes 3 bytes of the frame and goes away
	client, server := net.Pipe()
	f.setConn(client)
	go func() {
		_, _ = server.Read(make([]byte, 3))
		server.Close()
	}()

	assert.Error(f.Flush(ctx))
	assert.True(f.midFrame)
	assert.Equal(int64(3), f.forwardedBytes.Load())

	ln, c := listen(t)
	defer ln.Close()
	f.cfg.Address = ln.Addr().String()

	require.NoError(f.redial(ctx))
	assert.False(f.midFrame)
	assert.Equal(int64(staging.FrameSize(len(first))-3), f.discardedBytes.Load())
	assert.Equal(uint64(0), buf.Snapshot().Used)

	// the new connection starts on a frame boundary
	second := []byte("abcdef")
	require.NoError(buf.PushFrame(ctx, second))
	require.NoError(f.Flush(ctx))

	expected := staging.AppendFrame(nil, second)
	require.Eventually(func() bool {
		return bytes.Equal(expected, c.bytes())
	}, 2*time.Second, 5*time.Millisecond)

	assert.NoError(f.Close())
}
