// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package jsworker

import (
	"bytes"
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestMessageKind(t *testing.T) {
	for _, kind := range []MessageKind{MessageConsole, MessageFetchResponse} {
		require.Equal(t, kind, parseMessageKind(kind.String()))
	}
	require.Equal(t, MessageUnknown, parseMessageKind("telemetry"))
	require.Equal(t, MessageUnknown, parseMessageKind(""))
	require.Equal(t, "unknown", MessageUnknown.String())
}

func TestConsoleRecord_String(t *testing.T) {
	rec := ConsoleRecord{Level: "info", Time: time.UnixMilli(0), Args: []string{"a", "b"}}
	require.Equal(t, "a b", rec.Message())
	require.Equal(t, "[1970-01-01T00:00:00.000Z] console.info: a b", rec.String())

	at := time.Date(2024, 5, 6, 7, 8, 9, 123e6, time.FixedZone("CET", 3600))
	rec = ConsoleRecord{Level: "warn", Time: at}
	require.Equal(t, "[2024-05-06T06:08:09.123Z] console.warn:", rec.String())
}

func TestToMillis(t *testing.T) {
	tests := []struct {
		in   any
		want int64
		ok   bool
	}{
		{int64(5), 5, true},
		{7, 7, true},
		{int32(9), 9, true},
		{1715000000123.9, 1715000000123, true},
		{json.Number("42"), 42, true},
		{json.Number("4.5"), 4, true},
		{"1000", 1000, true},
		{math.NaN(), 0, false},
		{math.Inf(1), 0, false},
		{1e300, 0, false},
		{-8.64e15 - 1, 0, false},
		{8.64e15, 8640000000000000, true},
		{int64(math.MaxInt64), 0, false},
		{json.Number("1e300"), 0, false},
		{"soon", 0, false},
		{json.Number("x"), 0, false},
		{nil, 0, false},
		{true, 0, false},
	}
	for _, tt := range tests {
		got, ok := toMillis(tt.in)
		require.Equal(t, tt.ok, ok, "%#v", tt.in)
		require.Equal(t, tt.want, got, "%#v", tt.in)
	}
}

func TestConsoleTime(t *testing.T) {
	require.Equal(t, time.UnixMilli(0).UTC(), consoleTime(nil))
	require.Equal(t, time.UnixMilli(0).UTC(), consoleTime(math.NaN()))
	require.Equal(t, time.UnixMilli(1500).UTC(), consoleTime(float64(1500)))
	require.Equal(t, time.UnixMilli(0).UTC(), consoleTime(1e300))
}

func TestConsoleLevel(t *testing.T) {
	require.Equal(t, zapcore.DebugLevel, consoleLevel("debug"))
	require.Equal(t, zapcore.DebugLevel, consoleLevel("trace"))
	require.Equal(t, zapcore.InfoLevel, consoleLevel("log"))
	require.Equal(t, zapcore.InfoLevel, consoleLevel("info"))
	require.Equal(t, zapcore.WarnLevel, consoleLevel("warn"))
	require.Equal(t, zapcore.ErrorLevel, consoleLevel("error"))
	require.Equal(t, zapcore.InfoLevel, consoleLevel("custom"))
}

func TestLogSink(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	sink := NewLogSink(zap.New(core))
	sink.WriteConsole(ConsoleRecord{Level: "error", Time: time.UnixMilli(0), Args: []string{"bad"}})

	entries := logs.All()
	require.Len(t, entries, 1)
	require.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	require.Equal(t, "[1970-01-01T00:00:00.000Z] console.error: bad", entries[0].Message)
	require.Equal(t, "error", entries[0].ContextMap()["level"])

	// A nil logger is replaced, not dereferenced.
	NewLogSink(nil).WriteConsole(ConsoleRecord{Level: "log"})
}

func TestWriterSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewWriterSink(&buf)
	sink.WriteConsole(ConsoleRecord{Level: "log", Time: time.UnixMilli(0), Args: []string{"x"}})
	sink.WriteConsole(ConsoleRecord{Level: "debug", Time: time.UnixMilli(0)})
	require.Equal(t,
		"[1970-01-01T00:00:00.000Z] console.log: x\n[1970-01-01T00:00:00.000Z] console.debug:\n",
		buf.String())
}

func TestParseConsoleRecord(t *testing.T) {
	rec, err := parseConsoleRecord(fv(map[string]any{
		"kind":  "console",
		"level": "info",
		"date":  float64(0),
		"args":  []any{"a", "b"},
	}))
	require.NoError(t, err)
	require.Equal(t, "[1970-01-01T00:00:00.000Z] console.info: a b", rec.String())

	rec, err = parseConsoleRecord(fv(map[string]any{
		"args": []any{float64(1), unprintable{}, true},
	}))
	require.NoError(t, err)
	require.Equal(t, "log", rec.Level)
	require.Equal(t, time.UnixMilli(0).UTC(), rec.Time)
	require.Equal(t, []string{"1", "[unprintable]", "true"}, rec.Args)

	rec, err = parseConsoleRecord(fv(map[string]any{"level": "warn", "date": "garbage"}))
	require.NoError(t, err)
	require.Empty(t, rec.Args)
	require.Equal(t, time.UnixMilli(0).UTC(), rec.Time)

	_, err = parseConsoleRecord(fv(map[string]any{"args": "not-an-array"}))
	require.ErrorContains(t, err, "expected an array")

	_, err = parseConsoleRecord(fv(map[string]any{"args": map[string]any{"length": float64(1 << 40)}}))
	require.ErrorContains(t, err, "expected an array")

	_, err = parseConsoleRecord(fv(map[string]any{"args": make([]any, maxElements+1)}))
	require.ErrorContains(t, err, "too many elements")

	rec, err = parseConsoleRecord(fv(map[string]any{"date": 1e300}))
	require.NoError(t, err)
	require.Equal(t, time.UnixMilli(0).UTC(), rec.Time)
}
