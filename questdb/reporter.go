// Package questdb periodically writes the occupancy of staging buffers to QuestDB.
package questdb

import (
	"context"
	"sync/atomic"
	"time"

	qdb "github.com/questdb/go-questdb-client/v3"
	"github.com/squadracorsepolito/bytering/internal/telemetry"
	"github.com/squadracorsepolito/bytering/staging"
	"go.opentelemetry.io/otel/attribute"
)

// Source is a staging buffer whose occupancy is reported.
type Source interface {
	Snapshot() staging.Snapshot
}

var _ Source = (*staging.Buffer)(nil)

type Reporter struct {
	tel *telemetry.Telemetry

	cfg     *Config
	sources []Source

	writer rowWriter

	// Telemetry metrics
	insertedRows atomic.Int64
}

func NewReporter(cfg *Config, sources ...Source) *Reporter {
	return newReporter(cfg, telemetry.NewTelemetry("egress", "questdb"), sources...)
}

func newReporter(cfg *Config, tel *telemetry.Telemetry, sources ...Source) *Reporter {
	return &Reporter{
		tel: tel,

		cfg:     cfg,
		sources: sources,
	}
}

func (r *Reporter) initMetrics() {
	r.tel.NewCounter("inserted_rows", func() int64 { return r.insertedRows.Load() })
}

// Init creates the ILP sender over HTTP.
func (r *Reporter) Init(ctx context.Context) error {
	sender, err := qdb.NewLineSender(ctx,
		qdb.WithHttp(),
		qdb.WithAddress(r.cfg.Address),
		qdb.WithRequestTimeout(r.cfg.RequestTimeout),
	)
	if err != nil {
		return err
	}

	r.init(newLineSenderWriter(sender))

	r.tel.LogInfo("initialized", "address", r.cfg.Address, "table", r.cfg.Table)

	return nil
}

func (r *Reporter) init(writer rowWriter) {
	r.writer = writer
	r.initMetrics()
}

// Run writes a row per source every interval until ctx is done.
func (r *Reporter) Run(ctx context.Context) {
	r.tel.LogInfo("running")
	defer r.tel.LogInfo("stopped")

	interval := r.cfg.Interval
	if interval <= 0 {
		interval = NewDefaultConfig().Interval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			if err := r.Report(ctx); err != nil {
				r.tel.LogError("failed to report occupancy", err)
			}
		}
	}
}

// Report samples every source once and flushes the rows.
func (r *Reporter) Report(ctx context.Context) error {
	ctx, span := r.tel.NewTrace(ctx, "report occupancy")
	defer span.End()

	tmpInsRows := int64(0)
	for _, src := range r.sources {
		if err := r.writer.writeRow(ctx, newOccupancyRow(r.cfg.Table, src.Snapshot())); err != nil {
			return err
		}

		tmpInsRows++
	}

	if err := r.writer.flush(ctx); err != nil {
		return err
	}

	span.SetAttributes(attribute.Int64("inserted_rows", tmpInsRows))

	// Update metrics
	r.insertedRows.Add(tmpInsRows)

	return nil
}

// Close flushes and closes the sender.
func (r *Reporter) Close(ctx context.Context) error {
	if r.writer == nil {
		return nil
	}

	select {
	case <-ctx.Done():
		ctx = context.Background()
	default:
	}

	return r.writer.close(ctx)
}
