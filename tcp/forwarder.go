// Package tcp forwards the byte stream of a staging buffer over a TCP connection.
package tcp

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/squadracorsepolito/bytering/internal/telemetry"
	"github.com/squadracorsepolito/bytering/staging"
	"go.opentelemetry.io/otel/attribute"
)

type Forwarder struct {
	tel *telemetry.Telemetry

	cfg *Config
	buf *staging.Buffer

	mux  sync.Mutex
	conn net.Conn

	// midFrame is set when a failed drain stopped inside a frame.
	// Only the goroutine calling flush touches it.
	midFrame bool

	// Telemetry metrics
	forwardedBytes atomic.Int64
	flushErrors    atomic.Int64
	redials        atomic.Int64
	discardedBytes atomic.Int64
}

func NewForwarder(cfg *Config, buf *staging.Buffer) *Forwarder {
	return newForwarder(cfg, buf, telemetry.NewTelemetry("egress", "tcp"))
}

func newForwarder(cfg *Config, buf *staging.Buffer, tel *telemetry.Telemetry) *Forwarder {
	return &Forwarder{
		tel: tel,

		cfg: cfg,
		buf: buf,
	}
}

func (f *Forwarder) initMetrics() {
	f.tel.NewCounter("forwarded_bytes", func() int64 { return f.forwardedBytes.Load() })
	f.tel.NewCounter("flush_errors", func() int64 { return f.flushErrors.Load() })
	f.tel.NewCounter("redials", func() int64 { return f.redials.Load() })
	f.tel.NewCounter("discarded_bytes", func() int64 { return f.discardedBytes.Load() })
}

// Init connects to the configured address.
func (f *Forwarder) Init(ctx context.Context) error {
	conn, err := f.dial(ctx)
	if err != nil {
		return err
	}
	f.setConn(conn)

	f.initMetrics()

	f.tel.LogInfo("initialized", "address", f.cfg.Address)

	return nil
}

func (f *Forwarder) dial(ctx context.Context) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: f.cfg.DialTimeout}
	return dialer.DialContext(ctx, "tcp", f.cfg.Address)
}

func (f *Forwarder) getConn() net.Conn {
	f.mux.Lock()
	defer f.mux.Unlock()
	return f.conn
}

func (f *Forwarder) setConn(conn net.Conn) {
	f.mux.Lock()
	defer f.mux.Unlock()
	f.conn = conn
}

// Run drains the staging buffer into the connection every flush interval.
// When ctx is done the buffer is drained one last time.
// A broken connection is replaced by redialing with an exponential backoff;
// Run returns when redialing gives up or the connection is closed with Close.
func (f *Forwarder) Run(ctx context.Context) {
	f.tel.LogInfo("running")
	defer f.tel.LogInfo("stopped")

	interval := f.cfg.FlushInterval
	if interval <= 0 {
		interval = NewDefaultConfig().FlushInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// The parent context is done, the last flush gets its own
			f.flush(context.Background())
			return

		case <-ticker.C:
			err := f.flush(ctx)
			if err == nil || isTimeout(err) {
				continue
			}

			if errors.Is(err, net.ErrClosed) {
				return
			}

			if err := f.redial(ctx); err != nil {
				if ctx.Err() == nil {
					f.tel.LogError("failed to redial, stopping", err, "address", f.cfg.Address)
				}
				return
			}
		}
	}
}

// isTimeout reports whether err is a write deadline expiring on a healthy connection.
func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// redial drops the broken connection and dials a new one.
// If the broken connection got only part of a frame the staged bytes are
// discarded, so the new stream starts on a frame boundary.
func (f *Forwarder) redial(ctx context.Context) error {
	if conn := f.getConn(); conn != nil {
		conn.Close()
	}

	if f.midFrame {
		discarded := f.buf.Reset()
		f.discardedBytes.Add(int64(discarded))
		f.midFrame = false

		f.tel.LogWarn("discarded staged bytes after a partial frame", "discarded_bytes", discarded)
	}

	ctx, span := f.tel.NewTrace(ctx, "redial")
	defer span.End()

	expBackOff := backoff.NewExponentialBackOff()
	if f.cfg.RedialInterval > 0 {
		expBackOff.InitialInterval = f.cfg.RedialInterval
	}
	if f.cfg.MaxRedialInterval > 0 {
		expBackOff.MaxInterval = f.cfg.MaxRedialInterval
	}
	expBackOff.Multiplier = 2

	conn, err := backoff.Retry(ctx,
		func() (net.Conn, error) {
			f.redials.Add(1)
			return f.dial(ctx)
		},
		backoff.WithBackOff(expBackOff),
		backoff.WithMaxElapsedTime(f.cfg.MaxRedialTime),
		backoff.WithNotify(func(err error, next time.Duration) {
			f.tel.LogWarn("failed to redial", "err", err.Error(), "next_attempt", next)
		}),
	)
	if err != nil {
		span.RecordError(err)
		return err
	}

	f.setConn(conn)

	f.tel.LogInfo("reconnected", "address", f.cfg.Address)

	return nil
}

// Flush drains the staging buffer into the connection once.
// It must not be called concurrently with Run.
func (f *Forwarder) Flush(ctx context.Context) error {
	return f.flush(ctx)
}

func (f *Forwarder) flush(ctx context.Context) error {
	if f.buf.Snapshot().Used == 0 {
		return nil
	}

	conn := f.getConn()
	if conn == nil {
		return net.ErrClosed
	}

	_, span := f.tel.NewTrace(ctx, "forward staged bytes")
	defer span.End()

	if f.cfg.WriteTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(f.cfg.WriteTimeout)); err != nil {
			f.tel.LogError("failed to set write deadline", err)
		}
	}

	n, err := f.buf.DrainTo(conn)
	f.forwardedBytes.Add(n)
	span.SetAttributes(attribute.Int64("forwarded_bytes", n))

	if err != nil {
		// A drain that wrote nothing leaves the stream where it was
		if n > 0 {
			f.midFrame = true
		}

		f.flushErrors.Add(1)
		span.RecordError(err)
		f.tel.LogError("failed to forward staged bytes", err, "forwarded_bytes", n)
		return err
	}

	// Every byte staged when the drain started was written, so the stream ends on a frame boundary
	f.midFrame = false

	return nil
}

// Close closes the connection.
func (f *Forwarder) Close() error {
	conn := f.getConn()
	if conn == nil {
		return nil
	}

	if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}

	return nil
}
