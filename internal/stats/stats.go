// Package stats reports item and byte throughput of a component once per interval.
package stats

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/squadracorsepolito/bytering/internal/telemetry"
	"golang.org/x/sys/cpu"
)

const defaultInterval = time.Second

type Stats struct {
	l *telemetry.Logger

	interval time.Duration

	// producer and consumer sides update different counters
	_ cpu.CacheLinePad

	itemCount atomic.Uint64

	_ cpu.CacheLinePad

	byteCount atomic.Uint64

	_ cpu.CacheLinePad
}

func NewStats(l *telemetry.Logger) *Stats {
	return NewStatsWithInterval(l, defaultInterval)
}

func NewStatsWithInterval(l *telemetry.Logger, interval time.Duration) *Stats {
	if interval <= 0 {
		interval = defaultInterval
	}

	return &Stats{
		l: l,

		interval: interval,
	}
}

// Run logs the rates every interval until ctx is done.
// Intervals without activity are not logged.
func (s *Stats) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			itemCount, byteCount := s.collect()
			if itemCount == 0 && byteCount == 0 {
				continue
			}

			seconds := s.interval.Seconds()
			s.l.Info("stats",
				"items_per_sec", float64(itemCount)/seconds,
				"bytes_per_sec", float64(byteCount)/seconds,
			)
		}
	}
}

func (s *Stats) collect() (uint64, uint64) {
	return s.itemCount.Swap(0), s.byteCount.Swap(0)
}

func (s *Stats) IncrementItemCount() {
	s.itemCount.Add(1)
}

func (s *Stats) IncrementByteCountBy(n int) {
	if n <= 0 {
		return
	}
	s.byteCount.Add(uint64(n))
}
