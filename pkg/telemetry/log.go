package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// LogEmitter writes events to an io.Writer, either as human-readable
// text or as JSON lines.
type LogEmitter struct {
	w    io.Writer
	json bool
}

// NewLogEmitter returns a LogEmitter writing to w (os.Stdout if nil).
func NewLogEmitter(w io.Writer, jsonMode bool) *LogEmitter {
	if w == nil {
		w = os.Stdout
	}
	return &LogEmitter{w: w, json: jsonMode}
}

func (l *LogEmitter) Emit(e Event) {
	if l.json {
		l.emitJSON(e)
		return
	}
	l.emitText(e)
}

func (l *LogEmitter) emitJSON(e Event) {
	data, err := json.Marshal(e)
	if err != nil {
		fmt.Fprintf(l.w, "{\"error\":\"marshal event: %v\"}\n", err)
		return
	}
	fmt.Fprintf(l.w, "%s\n", data)
}

func (l *LogEmitter) emitText(e Event) {
	fmt.Fprintf(l.w, "[%s] run=%s issue=%s act=%s", e.Msg, e.RunID, e.IssueID, e.Act)
	if len(e.Meta) > 0 {
		if meta, err := json.Marshal(e.Meta); err == nil {
			fmt.Fprintf(l.w, " meta=%s", meta)
		}
	}
	fmt.Fprint(l.w, "\n")
}

func (l *LogEmitter) EmitBatch(_ context.Context, events []Event) error {
	for _, e := range events {
		l.Emit(e)
	}
	return nil
}

// Flush is a no-op: LogEmitter writes synchronously.
func (l *LogEmitter) Flush(context.Context) error { return nil }
