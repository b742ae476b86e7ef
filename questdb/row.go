package questdb

import (
	"context"
	"time"

	qdb "github.com/questdb/go-questdb-client/v3"
	"github.com/squadracorsepolito/bytering/staging"
)

type symbol struct {
	name  string
	value string
}

type column struct {
	name  string
	value int64
}

type row struct {
	table     string
	symbols   []symbol
	columns   []column
	timestamp time.Time
}

func newOccupancyRow(table string, snap staging.Snapshot) *row {
	return &row{
		table: table,

		symbols: []symbol{
			{name: "buffer", value: snap.Name},
		},

		columns: []column{
			{name: "capacity", value: int64(snap.Capacity)},
			{name: "used", value: int64(snap.Used)},
			{name: "free", value: int64(snap.Free)},
			{name: "pushed_frames", value: snap.PushedFrames},
			{name: "popped_frames", value: snap.PoppedFrames},
			{name: "dropped_frames", value: snap.DroppedFrames},
			{name: "drained_bytes", value: snap.DrainedBytes},
		},

		timestamp: snap.Timestamp,
	}
}

// rowWriter is the part of an ILP sender used by the [Reporter].
type rowWriter interface {
	writeRow(ctx context.Context, r *row) error
	flush(ctx context.Context) error
	close(ctx context.Context) error
}

type lineSenderWriter struct {
	sender qdb.LineSender
}

func newLineSenderWriter(sender qdb.LineSender) *lineSenderWriter {
	return &lineSenderWriter{sender: sender}
}

func (w *lineSenderWriter) writeRow(ctx context.Context, r *row) error {
	query := w.sender.Table(r.table)

	for _, sym := range r.symbols {
		query.Symbol(sym.name, sym.value)
	}

	for _, col := range r.columns {
		query.Int64Column(col.name, col.value)
	}

	return query.At(ctx, r.timestamp)
}

func (w *lineSenderWriter) flush(ctx context.Context) error {
	return w.sender.Flush(ctx)
}

func (w *lineSenderWriter) close(ctx context.Context) error {
	return w.sender.Close(ctx)
}
