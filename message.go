// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package jsworker

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// MessageKind is the kind tag of a message relayed through postMessage.
type MessageKind int

const (
	MessageUnknown       MessageKind = iota // Unrecognized kind, logged and dropped
	MessageConsole                          // A console record: {level, date, args}
	MessageFetchResponse                    // A fetch settlement: {id, status, headers, body} or {id, error}
)

// parseMessageKind maps a kind tag to its MessageKind.
func parseMessageKind(s string) MessageKind {
	switch s {
	case "console":
		return MessageConsole
	case "fetch-response":
		return MessageFetchResponse
	default:
		return MessageUnknown
	}
}

// String returns the kind tag of k.
func (k MessageKind) String() string {
	switch k {
	case MessageConsole:
		return "console"
	case MessageFetchResponse:
		return "fetch-response"
	default:
		return "unknown"
	}
}

// consoleTimeLayout renders e.g. 1970-01-01T00:00:00.000Z.
const consoleTimeLayout = "2006-01-02T15:04:05.000Z07:00"

// ConsoleRecord is one console call made by script.
type ConsoleRecord struct {
	Level string    // Console method name, e.g. "log" or "warn"
	Time  time.Time // When the call was made, in UTC
	Args  []string  // Arguments converted to strings
}

// Message joins the arguments with single spaces.
func (r ConsoleRecord) Message() string {
	return strings.Join(r.Args, " ")
}

// String formats the record as "[<time>] console.<level>: <args>".
func (r ConsoleRecord) String() string {
	var b strings.Builder
	b.WriteByte('[')
	b.WriteString(r.Time.UTC().Format(consoleTimeLayout))
	b.WriteString("] console.")
	b.WriteString(r.Level)
	b.WriteByte(':')
	if msg := r.Message(); msg != "" {
		b.WriteByte(' ')
		b.WriteString(msg)
	}
	return b.String()
}

// ConsoleSink receives console records produced by script.
type ConsoleSink interface {
	WriteConsole(rec ConsoleRecord)
}

// ConsoleSinkFunc adapts a function to ConsoleSink.
type ConsoleSinkFunc func(rec ConsoleRecord)

// WriteConsole calls f(rec).
func (f ConsoleSinkFunc) WriteConsole(rec ConsoleRecord) { f(rec) }

// logSink writes console records through a zap logger.
type logSink struct {
	logger *zap.Logger
}

// NewLogSink returns a sink that writes formatted console lines through logger,
// mapping the console level onto the zap level.
func NewLogSink(logger *zap.Logger) ConsoleSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &logSink{logger: logger}
}

func (s *logSink) WriteConsole(rec ConsoleRecord) {
	s.logger.Log(consoleLevel(rec.Level), rec.String(),
		zap.String("level", rec.Level),
		zap.Time("date", rec.Time),
	)
}

// consoleLevel maps a console method onto a zap level. Unknown methods log at
// info.
func consoleLevel(level string) zapcore.Level {
	switch level {
	case "debug", "trace":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// writerSink writes formatted console lines to an io.Writer.
type writerSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterSink returns a sink that writes one formatted line per record to w.
func NewWriterSink(w io.Writer) ConsoleSink {
	return &writerSink{w: w}
}

func (s *writerSink) WriteConsole(rec ConsoleRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.w, rec.String())
}

// consoleTime converts a script timestamp in milliseconds. Missing or
// non-finite values fall back to the Unix epoch.
func consoleTime(v any) time.Time {
	ms, ok := toMillis(v)
	if !ok {
		return time.UnixMilli(0).UTC()
	}
	return time.UnixMilli(ms).UTC()
}

// maxTimeMillis is the largest magnitude a script Date can hold.
const maxTimeMillis = 8.64e15

// toMillis converts an exported script number to an integer. Values outside
// the range of a script Date are rejected.
func toMillis(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return toMillis(float64(n))
	case int:
		return toMillis(float64(n))
	case int32:
		return int64(n), true
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) || math.Abs(n) > maxTimeMillis {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return toMillis(f)
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return toMillis(f)
	default:
		return 0, false
	}
}

// parseConsoleRecord reads {level, date, args} from a relayed message.
func parseConsoleRecord(msg Value) (ConsoleRecord, error) {
	rec := ConsoleRecord{Level: "log"}

	level, err := msg.Get("level")
	if err != nil {
		return rec, err
	}
	if !level.IsUndefined() {
		if rec.Level, err = level.ToString(); err != nil {
			return rec, err
		}
	}

	date, err := msg.Get("date")
	if err != nil {
		return rec, err
	}
	var raw any
	if !date.IsUndefined() {
		if raw, err = date.Export(); err != nil {
			return rec, err
		}
	}
	rec.Time = consoleTime(raw)

	args, err := msg.Get("args")
	if err != nil {
		return rec, err
	}
	if args.IsUndefined() {
		return rec, nil
	}
	items, err := elements(args)
	if err != nil {
		return rec, err
	}
	rec.Args = make([]string, 0, len(items))
	for _, item := range items {
		s, err := item.ToString()
		if err != nil {
			// Lossy: an unprintable argument must not drop the whole record.
			s = "[unprintable]"
		}
		rec.Args = append(rec.Args, s)
	}
	return rec, nil
}

// maxElements bounds the items read from a relayed array.
const maxElements = 1024

// elements returns the items of an array value, at most maxElements of them.
func elements(v Value) ([]Value, error) {
	if !v.IsArray() {
		return nil, NewTypeError("expected an array")
	}
	lv, err := v.Get("length")
	if err != nil {
		return nil, err
	}
	raw, err := lv.Export()
	if err != nil {
		return nil, err
	}
	n, ok := toMillis(raw)
	if !ok || n < 0 {
		return nil, NewTypeError("expected an array")
	}
	if n > maxElements {
		return nil, NewTypeError("too many elements: %d exceeds %d", n, maxElements)
	}
	out := make([]Value, 0, n)
	for i := int64(0); i < n; i++ {
		item, err := v.Get(strconv.FormatInt(i, 10))
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}
