// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package jsworker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestThreadAction_String(t *testing.T) {
	tests := []struct {
		action   threadAction
		expected string
	}{
		{actionStop, "stop"},
		{actionReload, "reload"},
		{actionRetire, "retire"},
		{threadAction(999), "unknown"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.expected, tt.action.String())
	}
}

// startThread runs a thread and waits for its runtime.
func startThread(t *testing.T, executor *Executor) *thread {
	t.Helper()
	th := newThread(executor, "t1", 1)
	go th.run()
	require.NoError(t, <-th.initCh)
	return th
}

func runTask(th *thread, req *Request) *taskResult {
	task := newTask(req)
	th.taskQueue <- task
	return <-task.resultChan
}

func TestThread_InitWorker(t *testing.T) {
	workers := &mockWorkers{}
	script := &JsScript{FileName: "w.js"}
	executor := newTestExecutor(t, workers, WithWorkerScripts(script))
	th := newThread(executor, "t1", 1)
	require.NoError(t, th.initWorker())
	require.Same(t, workers.last(), th.worker)
	require.Equal(t, []*JsScript{script}, workers.last().scripts)
}

func TestThread_InitWorker_Error(t *testing.T) {
	workers := &mockWorkers{}
	workers.fail.Store(true)
	executor := newTestExecutor(t, workers)
	th := newThread(executor, "t1", 1)
	require.EqualError(t, th.initWorker(), "failed to create runtime: worker creation failed")

	go th.run()
	require.Error(t, <-th.initCh)
}

func TestThread_ExecuteTask(t *testing.T) {
	executor := newTestExecutor(t, &mockWorkers{})
	th := startThread(t, executor)
	defer th.stop()

	before := th.getLastUsed()
	time.Sleep(time.Millisecond)
	res := runTask(th, &Request{Id: "r1", Method: "GET", URL: "https://example.com"})
	require.NoError(t, res.err)
	require.Equal(t, "r1", res.response.Id)
	require.Equal(t, "GET https://example.com", res.response.Body)
	require.Eventually(t, func() bool {
		return th.getTaskCount() == 1 && th.getLastUsed().After(before)
	}, time.Second, time.Millisecond)
}

func TestThread_ExecuteTask_Deadline(t *testing.T) {
	var deadline time.Time
	workers := &mockWorkers{setup: func(w *mockWorker) {
		w.fetchFunc = func(ctx context.Context, _ *FetchRequest) (*FetchResponse, error) {
			deadline, _ = ctx.Deadline()
			return &FetchResponse{Status: 204}, nil
		}
	}}
	executor := newTestExecutor(t, workers, WithExecuteTimeout(time.Minute))
	th := startThread(t, executor)
	defer th.stop()

	task := newTask(&Request{})
	th.taskQueue <- task
	require.NoError(t, (<-task.resultChan).err)
	require.Equal(t, task.enqueued.Add(time.Minute), deadline)
}

func TestThread_ExecuteTask_Panic(t *testing.T) {
	workers := &mockWorkers{setup: func(w *mockWorker) {
		w.fetchFunc = func(context.Context, *FetchRequest) (*FetchResponse, error) {
			panic("worker exploded")
		}
	}}
	executor := newTestExecutor(t, workers)
	th := startThread(t, executor)
	defer th.stop()

	res := runTask(th, &Request{Id: "p"})
	require.ErrorContains(t, res.err, "worker exploded")

	// The thread keeps serving after a panic.
	res = runTask(th, &Request{Id: "p2"})
	require.ErrorContains(t, res.err, "worker exploded")
	require.Eventually(t, func() bool { return th.getTaskCount() == 2 }, time.Second, time.Millisecond)
}

func TestThread_ExecuteTask_NoWorker(t *testing.T) {
	executor := newTestExecutor(t, &mockWorkers{})
	th := newThread(executor, "t1", 1)
	task := newTask(&Request{})
	th.executeTask(task)
	require.ErrorContains(t, (<-task.resultChan).err, "has no runtime")
	require.Equal(t, taskStatusCompleted, task.status)
}

func TestThread_Reload(t *testing.T) {
	workers := &mockWorkers{}
	executor := newTestExecutor(t, workers)
	th := startThread(t, executor)
	defer th.stop()

	old := workers.last()
	require.NoError(t, th.reload())
	require.True(t, old.isClosed())
	require.Equal(t, 2, workers.count())
	require.False(t, th.isBroken())
}

func TestThread_Reload_Error(t *testing.T) {
	workers := &mockWorkers{}
	executor := newTestExecutor(t, workers)
	th := startThread(t, executor)
	defer th.stop()

	workers.fail.Store(true)
	require.Error(t, th.reload())
	require.True(t, th.isBroken())

	res := runTask(th, &Request{})
	require.ErrorContains(t, res.err, "has no runtime")

	workers.fail.Store(false)
	require.NoError(t, th.reload())
	require.False(t, th.isBroken())
}

func TestThread_Stop(t *testing.T) {
	workers := &mockWorkers{}
	executor := newTestExecutor(t, workers)
	th := startThread(t, executor)

	th.stop()
	require.True(t, workers.last().isClosed())
	require.Nil(t, th.worker)
}

func TestThread_Retire_CloseError(t *testing.T) {
	workers := &mockWorkers{setup: func(w *mockWorker) {
		w.closeErr = errors.New("close failed")
	}}
	executor := newTestExecutor(t, workers)
	th := startThread(t, executor)

	require.EqualError(t, th.sendAction(actionRetire), "close failed")
	close(th.taskQueue)
	close(th.actionQueue)
}

func TestThread_MaxExecutionsRecyclesWorker(t *testing.T) {
	workers := &mockWorkers{}
	executor := newTestExecutor(t, workers, WithMaxExecutions(2))
	th := startThread(t, executor)
	defer th.stop()

	for i := 0; i < 5; i++ {
		require.NoError(t, runTask(th, &Request{}).err)
	}
	// Recycled after the 2nd and 4th request.
	require.Eventually(t, func() bool {
		return workers.count() == 3 && th.getTaskCount() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestThread_CheckAndRetireIfNeeded(t *testing.T) {
	executor := newTestExecutor(t, &mockWorkers{})
	th := newThread(executor, "t1", 1)
	var pending []*threadActionRequest

	th.taskCount.Store(100)
	require.False(t, th.checkAndRetireIfNeeded(&pending), "no limit configured")

	executor.options.maxExecutions = 3
	th.taskCount.Store(2)
	require.False(t, th.checkAndRetireIfNeeded(&pending))
	th.taskCount.Store(3)
	require.True(t, th.checkAndRetireIfNeeded(&pending))
	require.Len(t, pending, 1)
	require.Equal(t, actionReload, pending[0].action)
	require.Equal(t, uint32(0), th.getTaskCount())
}

func TestThread_ExecuteAction(t *testing.T) {
	executor := newTestExecutor(t, &mockWorkers{})
	th := newThread(executor, "t1", 1)

	th.executeAction(nil)

	req := &threadActionRequest{action: threadAction(42), done: make(chan error, 1)}
	th.executeAction(req)
	require.NoError(t, <-req.done)

	req = &threadActionRequest{action: actionStop, done: make(chan error, 1)}
	th.executeAction(req)
	require.NoError(t, <-req.done)
}
