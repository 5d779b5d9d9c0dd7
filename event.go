// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package jsworker

import (
	"fmt"
	"net/http"
	"strings"
)

// Event is something the host dispatches to the script's message handler.
// Prepare runs first inside the dispatch scope; Value produces the single
// argument passed to the handler.
type Event interface {
	Prepare(s Scope) error
	Value(s Scope) (any, error)
}

// MessageEvent is a generic message. With the default bootstrap it is
// re-dispatched to listeners registered for Type, carrying Data as event.data.
type MessageEvent struct {
	Type string // Event type, "message" when empty
	Data any    // Payload exposed as event.data
}

// Prepare defaults Type to "message".
func (e *MessageEvent) Prepare(Scope) error {
	if e.Type == "" {
		e.Type = "message"
	}
	return nil
}

// Value returns {type, data}.
func (e *MessageEvent) Value(Scope) (any, error) {
	return map[string]any{
		"type": e.Type,
		"data": e.Data,
	}, nil
}

// FetchRequest is an HTTP-style request delivered to a fetch listener.
type FetchRequest struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
}

// FetchResponse is what the worker passed to event.respondWith.
type FetchResponse struct {
	Status     int               `json:"status"`
	StatusText string            `json:"statusText,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       string            `json:"body,omitempty"`
}

// FetchEvent carries a request to the fetch listeners. ID correlates the
// response relayed back with postMessage({kind: "fetch-response", id}).
type FetchEvent struct {
	ID      string        // Correlation id, unique per pending fetch
	Request *FetchRequest // Request to deliver; required
}

// Prepare validates the request and normalizes its method to upper case,
// defaulting to GET.
func (e *FetchEvent) Prepare(Scope) error {
	if e.Request == nil {
		return fmt.Errorf("fetch event %q has no request", e.ID)
	}
	if e.Request.URL == "" {
		return fmt.Errorf("fetch event %q: request url is empty", e.ID)
	}
	if e.Request.Method == "" {
		e.Request.Method = http.MethodGet
	}
	e.Request.Method = strings.ToUpper(e.Request.Method)
	return nil
}

// Value returns {type: "fetch", id, request}.
func (e *FetchEvent) Value(Scope) (any, error) {
	headers := make(map[string]any, len(e.Request.Headers))
	for k, v := range e.Request.Headers {
		headers[k] = v
	}
	return map[string]any{
		"type": "fetch",
		"id":   e.ID,
		"request": map[string]any{
			"method":  e.Request.Method,
			"url":     e.Request.URL,
			"headers": headers,
			"body":    e.Request.Body,
		},
	}, nil
}

// fetchResult is a relayed fetch response, or the error the worker failed with.
type fetchResult struct {
	response *FetchResponse
	err      error
}

// parseFetchResponse reads {id, status, statusText, headers, body, error}.
func parseFetchResponse(msg Value) (string, fetchResult, error) {
	raw, err := msg.Export()
	if err != nil {
		return "", fetchResult{}, err
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return "", fetchResult{}, NewTypeError("fetch-response message must be an object")
	}
	id, _ := m["id"].(string)
	if id == "" {
		return "", fetchResult{}, NewTypeError("fetch-response message has no id")
	}
	if reason, ok := m["error"]; ok && reason != nil {
		return id, fetchResult{err: fmt.Errorf("fetch handler failed: %v", reason)}, nil
	}

	resp := &FetchResponse{Status: http.StatusOK}
	if status, ok := toMillis(m["status"]); ok && status >= 100 && status <= 999 {
		resp.Status = int(status)
	}
	resp.StatusText, _ = m["statusText"].(string)
	if resp.StatusText == "" {
		resp.StatusText = http.StatusText(resp.Status)
	}
	resp.Body, _ = m["body"].(string)
	if headers, ok := m["headers"].(map[string]any); ok {
		resp.Headers = make(map[string]string, len(headers))
		for k, v := range headers {
			resp.Headers[k] = fmt.Sprint(v)
		}
	}
	return id, fetchResult{response: resp}, nil
}
