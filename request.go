// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package jsworker

// Request is an HTTP-style request executed by the worker pool.
type Request struct {
	Id      string                 `json:"id"`                // Unique identifier; generated when empty
	Method  string                 `json:"method"`            // HTTP method, GET when empty
	URL     string                 `json:"url"`               // Request URL
	Headers map[string]string      `json:"headers,omitempty"` // Request headers
	Body    string                 `json:"body,omitempty"`    // Request body
	Context map[string]interface{} `json:"context,omitempty"` // Routing hints such as ThreadIdKey
}

// Response is the worker's answer to a Request.
type Response struct {
	Id         string            `json:"id"` // Request ID this response corresponds to
	Status     int               `json:"status"`
	StatusText string            `json:"statusText,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       string            `json:"body,omitempty"`
}

func (r *Request) fetchRequest() *FetchRequest {
	return &FetchRequest{
		Method:  r.Method,
		URL:     r.URL,
		Headers: r.Headers,
		Body:    r.Body,
	}
}

func newResponse(id string, resp *FetchResponse) *Response {
	return &Response{
		Id:         id,
		Status:     resp.Status,
		StatusText: resp.StatusText,
		Headers:    resp.Headers,
		Body:       resp.Body,
	}
}
