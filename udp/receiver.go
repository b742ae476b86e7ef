// Package udp stages the datagrams received on a UDP socket as frames of a staging buffer.
package udp

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"sync/atomic"

	"github.com/squadracorsepolito/bytering/internal/stats"
	"github.com/squadracorsepolito/bytering/internal/telemetry"
	"github.com/squadracorsepolito/bytering/staging"
	"go.opentelemetry.io/otel/attribute"
)

type Receiver struct {
	tel   *telemetry.Telemetry
	stats *stats.Stats

	cfg *Config
	buf *staging.Buffer

	conn *net.UDPConn

	// payload has one byte more than payloadSize to detect oversized datagrams
	payloadSize int
	payload     []byte

	// Telemetry metrics
	receivedDatagrams  atomic.Int64
	receivedBytes      atomic.Int64
	droppedDatagrams   atomic.Int64
	oversizedDatagrams atomic.Int64
}

func NewReceiver(cfg *Config, buf *staging.Buffer) *Receiver {
	return newReceiver(cfg, buf, telemetry.NewTelemetry("ingress", "udp"))
}

func newReceiver(cfg *Config, buf *staging.Buffer, tel *telemetry.Telemetry) *Receiver {
	payloadSize := cfg.PayloadSize
	if payloadSize <= 0 {
		payloadSize = defaultUDPPayloadSize
	}
	payloadSize = min(payloadSize, MaxPayloadSize)

	return &Receiver{
		tel:   tel,
		stats: stats.NewStats(tel.Logger()),

		cfg: cfg,
		buf: buf,

		payloadSize: payloadSize,
		payload:     make([]byte, payloadSize+1),
	}
}

func (r *Receiver) initMetrics() {
	r.tel.NewCounter("received_datagrams", func() int64 { return r.receivedDatagrams.Load() })
	r.tel.NewCounter("received_bytes", func() int64 { return r.receivedBytes.Load() })
	r.tel.NewCounter("dropped_datagrams", func() int64 { return r.droppedDatagrams.Load() })
	r.tel.NewCounter("oversized_datagrams", func() int64 { return r.oversizedDatagrams.Load() })
}

// Init opens the UDP socket.
func (r *Receiver) Init(_ context.Context) error {
	parsedAddr, err := netip.ParseAddr(r.cfg.IPAddr)
	if err != nil {
		return err
	}

	addr := net.UDPAddrFromAddrPort(netip.AddrPortFrom(parsedAddr, r.cfg.Port))
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return err
	}
	r.conn = conn

	r.initMetrics()

	r.tel.LogInfo("initialized", "address", conn.LocalAddr().String())

	return nil
}

// Addr returns the local address of the socket, or nil before Init.
func (r *Receiver) Addr() net.Addr {
	if r.conn == nil {
		return nil
	}
	return r.conn.LocalAddr()
}

// Run stages every received datagram until ctx is done or the socket fails.
// Datagrams longer than the payload size or that do not fit in the staging
// buffer are dropped.
func (r *Receiver) Run(ctx context.Context) {
	r.tel.LogInfo("running")
	defer r.tel.LogInfo("stopped")

	// Closing the socket unblocks the pending read
	go func() {
		<-ctx.Done()
		r.conn.Close()
	}()

	go r.stats.Run(ctx)

	for {
		n, err := r.conn.Read(r.payload)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				select {
				case <-ctx.Done():
				default:
					r.tel.LogError("failed to read connection", err)
				}

				return
			}

			r.tel.LogError("failed to read datagram", err)

			return
		}

		r.handleDatagram(ctx, r.payload[:n])
	}
}

func (r *Receiver) handleDatagram(ctx context.Context, datagram []byte) {
	// Create the trace for the incoming datagram
	ctx, span := r.tel.NewTrace(ctx, "receive UDP datagram")
	defer span.End()

	size := len(datagram)
	span.SetAttributes(attribute.Int("payload_size", size))

	r.receivedDatagrams.Add(1)
	r.receivedBytes.Add(int64(size))

	// The socket truncated the datagram, staging the rest would forge a shorter one
	if size > r.payloadSize {
		r.droppedDatagrams.Add(1)
		r.oversizedDatagrams.Add(1)
		span.SetAttributes(attribute.Bool("oversized", true))
		r.tel.LogWarn("dropped oversized datagram", "max_payload_size", r.payloadSize)
		return
	}

	if err := r.buf.PushFrame(ctx, datagram); err != nil {
		r.droppedDatagrams.Add(1)
		r.tel.LogWarn("dropped datagram", "size", size, "reason", err.Error())
		return
	}

	r.stats.IncrementItemCount()
	r.stats.IncrementByteCountBy(size)
}

// Close closes the socket. It is safe to call after Run returned.
func (r *Receiver) Close() error {
	if r.conn == nil {
		return nil
	}

	if err := r.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}

	return nil
}
