package telemetry

import (
	"io"
	"log/slog"
	"os"
	"runtime"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// Logger is a [slog.Logger] that tags every record with the kind
// and the name of the component that owns it.
type Logger struct {
	*slog.Logger

	kind string
	name string
}

// NewLogger returns a [Logger] writing colored records to stderr.
// Colors are disabled when stderr is not a terminal.
func NewLogger(kind, name string) *Logger {
	var handler slog.Handler

	if runtime.GOOS == "windows" {
		w := colorable.NewColorableStderr()
		handler = tint.NewHandler(w, nil)
	} else {
		w := os.Stderr
		handler = tint.NewHandler(w, &tint.Options{
			NoColor: !isatty.IsTerminal(w.Fd()),
		})
	}

	return newLogger(slog.New(handler), kind, name)
}

// NewLoggerTo returns a [Logger] writing uncolored records to w.
func NewLoggerTo(w io.Writer, kind, name string) *Logger {
	handler := tint.NewHandler(w, &tint.Options{NoColor: true})
	return newLogger(slog.New(handler), kind, name)
}

func newLogger(l *slog.Logger, kind, name string) *Logger {
	return &Logger{
		Logger: l,

		kind: kind,
		name: name,
	}
}

func (l *Logger) getInfo() slog.Attr {
	return slog.Group("info", slog.String("kind", l.kind), slog.String("name", l.name))
}

func (l *Logger) getArgs(args ...any) []any {
	return append([]any{l.getInfo()}, args...)
}

func (l *Logger) Debug(msg string, args ...any) {
	l.Logger.Debug(msg, l.getArgs(args...)...)
}

func (l *Logger) Info(msg string, args ...any) {
	l.Logger.Info(msg, l.getArgs(args...)...)
}

func (l *Logger) Warn(msg string, args ...any) {
	l.Logger.Warn(msg, l.getArgs(args...)...)
}

func (l *Logger) Error(msg string, err error, args ...any) {
	tmpArgs := append([]any{tint.Err(err)}, args...)
	l.Logger.Error(msg, l.getArgs(tmpArgs...)...)
}

// Slog returns the underlying logger with the component info attached.
func (l *Logger) Slog() *slog.Logger {
	return l.Logger.With(l.getInfo())
}
