// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package jsworker

import "time"

type taskStatus int

const (
	taskStatusPending taskStatus = iota
	taskStatusRunning
	taskStatusCompleted
)

type taskResult struct {
	response *Response
	err      error
}

// task is one request travelling through a thread's queue.
type task struct {
	request    *Request
	resultChan chan *taskResult // buffered, so the thread never blocks on an abandoned task
	status     taskStatus
	enqueued   time.Time
}

func newTask(request *Request) *task {
	return &task{
		request:    request,
		resultChan: make(chan *taskResult, 1),
		status:     taskStatusPending,
		enqueued:   time.Now(),
	}
}
