// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package jsworker

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// threadAction is a control action performed on a thread between tasks.
type threadAction int

const (
	actionStop   threadAction = iota // Close the runtime and exit
	actionReload                     // Replace the runtime with a fresh one
	actionRetire                     // Stop and leave the pool
)

// String returns the string representation of a threadAction.
func (a threadAction) String() string {
	switch a {
	case actionStop:
		return "stop"
	case actionReload:
		return "reload"
	case actionRetire:
		return "retire"
	default:
		return "unknown"
	}
}

// threadActionRequest asks a thread to perform an action.
type threadActionRequest struct {
	action threadAction // The action to perform
	done   chan error   // Receives the action's result
}

// thread is one OS-thread-locked goroutine owning one runtime. Tasks and
// control actions arrive over channels; actions run only once the task queue
// is drained.
type thread struct {
	executor *Executor  // Parent executor
	name     string     // Human-readable name, used in logs
	threadId uint32     // Unique identifier within the executor
	logger   *zap.Logger

	taskQueue   chan *task                // Incoming tasks
	actionQueue chan *threadActionRequest // Incoming control actions
	initCh      chan error                // Signals the first runtime is ready

	lastUsedNano atomic.Int64  // Last task execution, in nanoseconds
	taskCount    atomic.Uint32 // Tasks run by the current runtime
	broken       atomic.Bool   // Set when a reload failed

	worker worker // Runtime owned by this thread
}

// newThread creates a thread; run starts it.
func newThread(executor *Executor, name string, threadId uint32) *thread {
	t := &thread{
		executor:    executor,
		name:        name,
		threadId:    threadId,
		logger:      executor.logger.With(zap.String("thread", name)),
		taskQueue:   make(chan *task, executor.options.queueSize),
		actionQueue: make(chan *threadActionRequest, 1),
		initCh:      make(chan error, 1),
	}
	t.lastUsedNano.Store(time.Now().UnixNano())
	return t
}

// getTaskCount returns the number of tasks run by the current runtime.
func (t *thread) getTaskCount() uint32 {
	return t.taskCount.Load()
}

// getLastUsed returns when the thread last finished a task.
func (t *thread) getLastUsed() time.Time {
	return time.Unix(0, t.lastUsedNano.Load())
}

// initWorker builds a runtime loaded with the executor's worker scripts.
func (t *thread) initWorker() error {
	w, err := t.executor.newWorker(t.executor.workerScripts())
	if err != nil {
		return fmt.Errorf("failed to create runtime: %w", err)
	}
	t.worker = w
	return nil
}

// closeWorker closes the current runtime, if any.
func (t *thread) closeWorker() error {
	if t.worker == nil {
		return nil
	}
	err := t.worker.Close()
	if err != nil {
		t.logger.Error("Failed to close runtime", zap.Error(err))
	}
	t.worker = nil
	return err
}

// run is the thread's main loop. It exits when the task queue is closed.
func (t *thread) run() {
	// Engines without their own loop goroutine expect a stable OS thread.
	runtime.LockOSThread()
	defer func() { _ = t.closeWorker() }()

	var pendingActions []*threadActionRequest

	if err := t.initWorker(); err != nil {
		t.logger.Error("Failed to initialize runtime", zap.Error(err))
		t.initCh <- err
		close(t.initCh)
		return
	}
	t.initCh <- nil
	close(t.initCh)

	for {
		for len(pendingActions) > 0 && len(t.taskQueue) == 0 {
			action := pendingActions[0]
			pendingActions = pendingActions[1:]
			t.executeAction(action)
		}

		select {
		case task := <-t.taskQueue:
			if task == nil {
				return // queue closed
			}
			t.executeTask(task)
			if t.checkAndRetireIfNeeded(&pendingActions) {
				t.logger.Debug("Thread reached max executions, recycling runtime",
					zap.Uint32("maxExecutions", t.executor.options.maxExecutions))
			}
		case actionReq := <-t.actionQueue:
			pendingActions = append(pendingActions, actionReq)
		}
	}
}

// executeAction performs a control action and reports its result.
func (t *thread) executeAction(req *threadActionRequest) {
	if req == nil {
		t.logger.Error("executeAction called with nil request")
		return
	}
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("Panic recovered in executeAction",
				zap.String("action", req.action.String()),
				zap.Any("panic", r))
			req.done <- fmt.Errorf("panic in executeAction: %v", r)
		}
	}()

	switch req.action {
	case actionReload:
		// A runtime cannot unload scripts, so reload replaces it.
		_ = t.closeWorker()
		err := t.initWorker()
		t.broken.Store(err != nil)
		if err != nil {
			t.logger.Error("Thread reload failed", zap.Error(err))
		}
		req.done <- err
	case actionStop, actionRetire:
		req.done <- t.closeWorker()
	default:
		req.done <- nil
	}
}

// executeTask dispatches one request and sends the result to the task.
func (t *thread) executeTask(task *task) {
	defer func() {
		if r := recover(); r != nil {
			task.resultChan <- &taskResult{err: fmt.Errorf("panic in thread %s: %v", t.name, r)}
			t.logger.Error("Task execution panic",
				zap.String("requestId", task.request.Id),
				zap.Any("panic", r))
		}
		t.lastUsedNano.Store(time.Now().UnixNano())
		t.taskCount.Add(1)
	}()

	task.status = taskStatusRunning
	if t.worker == nil {
		task.resultChan <- &taskResult{err: fmt.Errorf("thread %s has no runtime", t.name)}
		task.status = taskStatusCompleted
		return
	}

	ctx := context.Background()
	if timeout := t.executor.options.executeTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, task.enqueued.Add(timeout))
		defer cancel()
	}

	resp, err := t.worker.DispatchFetch(ctx, task.request.fetchRequest())
	result := &taskResult{err: err}
	if err == nil {
		result.response = newResponse(task.request.Id, resp)
	} else {
		t.logger.Debug("Request failed", zap.String("requestId", task.request.Id), zap.Error(err))
	}
	task.resultChan <- result
	task.status = taskStatusCompleted
}

// sendAction queues an action and waits for its result.
func (t *thread) sendAction(action threadAction) error {
	req := &threadActionRequest{
		action: action,
		done:   make(chan error, 1),
	}
	t.actionQueue <- req
	return <-req.done
}

// reload replaces the thread's runtime.
func (t *thread) reload() error {
	return t.sendAction(actionReload)
}

// stop closes the runtime and the thread's channels, ending run.
func (t *thread) stop() {
	_ = t.sendAction(actionStop)
	close(t.taskQueue)
	close(t.actionQueue)
}

// retire closes the runtime before the pool drops the thread.
func (t *thread) retire() {
	_ = t.sendAction(actionRetire)
	close(t.taskQueue)
	close(t.actionQueue)
}

// checkAndRetireIfNeeded queues a runtime recycle once the thread reached
// maxExecutions. It reports whether the limit was hit.
func (t *thread) checkAndRetireIfNeeded(pendingActions *[]*threadActionRequest) bool {
	limit := t.executor.options.maxExecutions
	if limit == 0 || t.getTaskCount() < limit {
		return false
	}
	t.taskCount.Store(0)
	*pendingActions = append(*pendingActions, &threadActionRequest{
		action: actionReload,
		done:   make(chan error, 1),
	})
	return true
}

// isBroken reports a thread whose runtime could not be rebuilt.
func (t *thread) isBroken() bool {
	return t.broken.Load()
}
