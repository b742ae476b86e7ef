// Command ringrelay stages UDP datagrams in a ring buffer and forwards them
// as a length-prefixed stream over TCP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/squadracorsepolito/bytering/internal/telemetry"
	"github.com/squadracorsepolito/bytering/questdb"
	"github.com/squadracorsepolito/bytering/staging"
	"github.com/squadracorsepolito/bytering/tcp"
	"github.com/squadracorsepolito/bytering/udp"
)

const serviceName = "ringrelay"

type flags struct {
	udpAddr string
	udpPort uint

	tcpAddr       string
	flushInterval time.Duration

	capacity uint64
	maxFrame uint

	questDBAddr     string
	questDBInterval time.Duration

	otel bool
}

func parseFlags() *flags {
	f := &flags{}

	udpCfg := udp.NewDefaultConfig()
	tcpCfg := tcp.NewDefaultConfig()
	stagingCfg := staging.NewDefaultConfig()
	questDBCfg := questdb.NewDefaultConfig()

	flag.StringVar(&f.udpAddr, "udp-addr", udpCfg.IPAddr, "IP address the UDP socket listens on")
	flag.UintVar(&f.udpPort, "udp-port", uint(udpCfg.Port), "port the UDP socket listens on")
	flag.StringVar(&f.tcpAddr, "tcp-addr", tcpCfg.Address, "host:port the staged stream is forwarded to")
	flag.DurationVar(&f.flushInterval, "flush-interval", tcpCfg.FlushInterval, "period between two forwards")
	flag.Uint64Var(&f.capacity, "capacity", stagingCfg.Capacity, "staging buffer capacity in bytes, rounded up to a power of 2")
	flag.UintVar(&f.maxFrame, "max-frame", uint(stagingCfg.MaxFrameSize), "largest staged datagram in bytes")
	flag.StringVar(&f.questDBAddr, "questdb-addr", "", "QuestDB HTTP address for occupancy reports, empty disables them")
	flag.DurationVar(&f.questDBInterval, "questdb-interval", questDBCfg.Interval, "period between two occupancy reports")
	flag.BoolVar(&f.otel, "otel", false, "export traces and metrics over OTLP")

	flag.Parse()

	return f
}

var errInvalidFlag = errors.New("invalid flag")

func (f *flags) validate() error {
	if f.udpPort > math.MaxUint16 {
		return fmt.Errorf("%w: -udp-port %d is above %d", errInvalidFlag, f.udpPort, math.MaxUint16)
	}

	if f.maxFrame == 0 || uint64(f.maxFrame) > staging.MaxFrameSize {
		return fmt.Errorf("%w: -max-frame %d is not in [1, %d]", errInvalidFlag, f.maxFrame, uint64(staging.MaxFrameSize))
	}

	return nil
}

// udpPayloadSize is the largest datagram the receiver stages into buf.
func udpPayloadSize(buf *staging.Buffer) int {
	return int(min(buf.MaxFrameSize(), udp.MaxPayloadSize))
}

func main() {
	if err := run(parseFlags()); err != nil {
		os.Exit(1)
	}
}

func run(f *flags) error {
	l := telemetry.NewLogger("cmd", serviceName)

	if err := f.validate(); err != nil {
		l.Error("failed to parse flags", err)
		return err
	}

	ctx, cancelCtx := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer cancelCtx()

	if f.otel {
		shutdown, err := telemetry.InitProviders(ctx, telemetry.NewDefaultProvidersConfig(serviceName))
		if err != nil {
			l.Error("failed to init telemetry providers", err)
			return err
		}

		defer func() {
			if err := shutdown(context.Background()); err != nil {
				l.Error("failed to shutdown telemetry providers", err)
			}
		}()
	}

	stagingCfg := staging.NewDefaultConfig()
	stagingCfg.Name = "udp_to_tcp"
	stagingCfg.Capacity = f.capacity
	stagingCfg.MaxFrameSize = uint32(f.maxFrame)
	buf := staging.NewBuffer(stagingCfg)

	udpCfg := udp.NewDefaultConfig()
	udpCfg.IPAddr = f.udpAddr
	udpCfg.Port = uint16(f.udpPort)
	udpCfg.PayloadSize = udpPayloadSize(buf)
	receiver := udp.NewReceiver(udpCfg, buf)

	tcpCfg := tcp.NewDefaultConfig()
	tcpCfg.Address = f.tcpAddr
	tcpCfg.FlushInterval = f.flushInterval
	forwarder := tcp.NewForwarder(tcpCfg, buf)

	if err := forwarder.Init(ctx); err != nil {
		l.Error("failed to init tcp forwarder", err)
		return err
	}
	defer forwarder.Close()

	if err := receiver.Init(ctx); err != nil {
		l.Error("failed to init udp receiver", err)
		return err
	}
	defer receiver.Close()

	wg := &sync.WaitGroup{}

	if f.questDBAddr != "" {
		questDBCfg := questdb.NewDefaultConfig()
		questDBCfg.Address = f.questDBAddr
		questDBCfg.Interval = f.questDBInterval
		reporter := questdb.NewReporter(questDBCfg, buf)

		if err := reporter.Init(ctx); err != nil {
			l.Error("failed to init questdb reporter", err)
			return err
		}

		defer func() {
			if err := reporter.Close(context.Background()); err != nil {
				l.Error("failed to close questdb reporter", err)
			}
		}()

		wg.Add(1)
		go func() {
			defer wg.Done()
			reporter.Run(ctx)
		}()
	}

	wg.Add(2)
	go func() {
		defer wg.Done()
		receiver.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		forwarder.Run(ctx)
	}()

	l.Info("relaying", "udp_port", udpCfg.Port, "tcp_addr", tcpCfg.Address)

	<-ctx.Done()
	wg.Wait()

	return nil
}
