package observer

import (
	"fmt"
	"io"

	"go.uber.org/zap"
)

// ConsoleWriter renders events as human-readable progress lines for the
// interactive CLI.
type ConsoleWriter struct {
	out io.Writer
}

// NewConsoleWriter creates a writer targeting the given stream.
func NewConsoleWriter(out io.Writer) *ConsoleWriter {
	return &ConsoleWriter{out: out}
}

// Run consumes events from the subscription until its channel closes.
// Intended to run on its own goroutine.
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (c *ConsoleWriter) Run(sub *Subscription) {
	for ev := range sub.Events() {
		switch ev.Kind {
		case KindRunStarted:
			fmt.Fprintf(c.out, "▶ Run %s started (%s)\n", short(ev), ev.Detail)
		case KindStageStarted:
			fmt.Fprintf(c.out, "  [%s] started\n", ev.Stage)
		case KindStageRetrying:
			fmt.Fprintf(c.out, "  [%s] retrying: %s\n", ev.Stage, ev.Detail)
		case KindStageSucceeded:
			fmt.Fprintf(c.out, "  [%s] ✅ %s\n", ev.Stage, ev.Detail)
		case KindStageFailed:
			fmt.Fprintf(c.out, "  [%s] ❌ %s\n", ev.Stage, ev.Detail)
		case KindStageSkipped:
			fmt.Fprintf(c.out, "  [%s] skipped\n", ev.Stage)
		case KindRunSucceeded:
			fmt.Fprintf(c.out, "✅ Run %s succeeded: %s\n", short(ev), ev.Detail)
		case KindRunFailed:
			fmt.Fprintf(c.out, "❌ Run %s failed: %s\n", short(ev), ev.Detail)
		}
	}
}

func short(ev Event) string {
	s := ev.RunID.String()
	if len(s) > 8 {
		return s[:8]
	}
	return s
}

// LogWriter forwards events to a structured logger, the sink used by
// headless mode.
type LogWriter struct {
	log *zap.Logger
}

// NewLogWriter creates a log-backed consumer.
func NewLogWriter(log *zap.Logger) *LogWriter {
	return &LogWriter{log: log.Named("events")}
}

// Run consumes events from the subscription until its channel closes.
func (l *LogWriter) Run(sub *Subscription) {
	for ev := range sub.Events() {
		fields := []zap.Field{
			zap.String("run_id", ev.RunID.String()),
			zap.String("kind", ev.Kind),
		}
		if ev.Stage != "" {
			fields = append(fields, zap.String("stage", ev.Stage))
		}
		if ev.Detail != "" {
			fields = append(fields, zap.String("detail", ev.Detail))
		}
		switch ev.Kind {
		case KindStageFailed, KindRunFailed:
			l.log.Warn("pipeline event", fields...)
		default:
			l.log.Info("pipeline event", fields...)
		}
	}
}
