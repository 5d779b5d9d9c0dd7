// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package jsworker

import (
	"math"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMessageEvent(t *testing.T) {
	ev := &MessageEvent{Data: map[string]any{"n": 1}}
	require.NoError(t, ev.Prepare(nil))
	v, err := ev.Value(nil)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"type": "message", "data": map[string]any{"n": 1}}, v)

	ev = &MessageEvent{Type: "ping"}
	require.NoError(t, ev.Prepare(nil))
	require.Equal(t, "ping", ev.Type)
}

func TestFetchEvent_Prepare(t *testing.T) {
	require.ErrorContains(t, (&FetchEvent{ID: "1"}).Prepare(nil), "has no request")
	require.ErrorContains(t, (&FetchEvent{ID: "1", Request: &FetchRequest{}}).Prepare(nil), "request url is empty")

	req := &FetchRequest{URL: "https://example.com"}
	require.NoError(t, (&FetchEvent{ID: "1", Request: req}).Prepare(nil))
	require.Equal(t, "GET", req.Method)

	req = &FetchRequest{Method: "patch", URL: "https://example.com"}
	require.NoError(t, (&FetchEvent{ID: "1", Request: req}).Prepare(nil))
	require.Equal(t, "PATCH", req.Method)
}

func TestFetchEvent_Value(t *testing.T) {
	ev := &FetchEvent{ID: "7", Request: &FetchRequest{
		Method:  "POST",
		URL:     "https://example.com/x",
		Headers: map[string]string{"accept": "text/plain"},
		Body:    "hi",
	}}
	v, err := ev.Value(nil)
	require.NoError(t, err)
	require.Equal(t, map[string]any{
		"type": "fetch",
		"id":   "7",
		"request": map[string]any{
			"method":  "POST",
			"url":     "https://example.com/x",
			"headers": map[string]any{"accept": "text/plain"},
			"body":    "hi",
		},
	}, v)
}

func TestParseFetchResponse(t *testing.T) {
	id, res, err := parseFetchResponse(fv(map[string]any{"id": "3", "body": "ok"}))
	require.NoError(t, err)
	require.Equal(t, "3", id)
	require.Equal(t, &FetchResponse{Status: 200, StatusText: "OK", Body: "ok"}, res.response)

	id, res, err = parseFetchResponse(fv(map[string]any{"id": "4", "status": int64(418), "statusText": "Teapot"}))
	require.NoError(t, err)
	require.Equal(t, "4", id)
	require.Equal(t, 418, res.response.Status)
	require.Equal(t, "Teapot", res.response.StatusText)

	for _, status := range []any{float64(1e300), math.Inf(-1), int64(-200), float64(42), "abc"} {
		_, res, err = parseFetchResponse(fv(map[string]any{"id": "6", "status": status}))
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, res.response.Status, "%#v", status)
	}

	_, res, err = parseFetchResponse(fv(map[string]any{"id": "5", "error": "TypeError: boom"}))
	require.NoError(t, err)
	require.Nil(t, res.response)
	require.EqualError(t, res.err, "fetch handler failed: TypeError: boom")

	_, _, err = parseFetchResponse(fv(map[string]any{"status": float64(200)}))
	require.ErrorContains(t, err, "has no id")

	_, _, err = parseFetchResponse(fv("text"))
	require.ErrorContains(t, err, "must be an object")
}
