// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package jsworker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPool_StartStop(t *testing.T) {
	executor := newTestExecutor(t, &mockWorkers{}, WithMinPoolSize(2), WithMaxPoolSize(3))
	p := executor.pool
	require.NoError(t, p.start())
	require.Equal(t, uint32(2), p.threadCount.Load())
	require.Len(t, *p.threadIds.Load().(*[]uint32), 2)

	require.NoError(t, p.stop())
	require.Equal(t, uint32(0), p.threadCount.Load())
	require.Empty(t, *p.threadIds.Load().(*[]uint32))
}

func TestPool_StartFailure(t *testing.T) {
	workers := &mockWorkers{}
	workers.fail.Store(true)
	executor := newTestExecutor(t, workers)
	err := executor.pool.start()
	require.ErrorContains(t, err, "thread initialization failed")
	require.Equal(t, uint32(0), executor.pool.threadCount.Load())
	require.NoError(t, executor.pool.stop())
}

func TestPool_CreateThread_MaxPoolSize(t *testing.T) {
	executor := newTestExecutor(t, &mockWorkers{}, WithMinPoolSize(1), WithMaxPoolSize(1))
	p := executor.pool
	require.NoError(t, p.start())
	defer p.stop()

	_, err := p.createThread()
	require.ErrorContains(t, err, "max pool size reached")
	require.Equal(t, uint32(1), p.threadCount.Load())
}

func TestPool_SelectThread_Pinned(t *testing.T) {
	executor := newTestExecutor(t, &mockWorkers{}, WithMinPoolSize(3), WithMaxPoolSize(3))
	p := executor.pool
	require.NoError(t, p.start())
	defer p.stop()

	for _, id := range []any{uint32(2), 2, float64(2), "2"} {
		th := p.selectThread(&Request{Context: map[string]interface{}{ThreadIdKey: id}})
		require.NotNil(t, th)
		require.Equal(t, uint32(2), th.threadId, "id %#v", id)
	}

	// Unknown or malformed pins fall back to round robin.
	for _, id := range []any{uint32(99), "abc", []int{1}} {
		require.Nil(t, p.pinnedThread(&Request{Context: map[string]interface{}{ThreadIdKey: id}}))
		require.NotNil(t, p.selectThread(&Request{Context: map[string]interface{}{ThreadIdKey: id}}))
	}
}

func TestPool_SelectThread_RoundRobin(t *testing.T) {
	executor := newTestExecutor(t, &mockWorkers{}, WithMinPoolSize(2), WithMaxPoolSize(2))
	p := executor.pool
	require.NoError(t, p.start())
	defer p.stop()

	seen := map[uint32]bool{}
	for i := 0; i < 4; i++ {
		seen[p.selectThread(&Request{}).threadId] = true
	}
	require.Len(t, seen, 2)
}

func TestPool_SelectThread_Empty(t *testing.T) {
	executor := newTestExecutor(t, &mockWorkers{})
	require.Nil(t, executor.pool.selectThread(&Request{}))
}

func TestPool_GetOrCreateThread(t *testing.T) {
	executor := newTestExecutor(t, &mockWorkers{}, WithMinPoolSize(1), WithMaxPoolSize(2), WithQueueSize(2))
	p := executor.pool
	require.NoError(t, p.start())
	defer p.stop()

	first, err := p.getOrCreateThread(&Request{})
	require.NoError(t, err)
	require.Equal(t, uint32(1), p.threadCount.Load())

	// Fill the only thread's queue past the create threshold without letting
	// it drain: the thread is blocked on a pending action.
	block := make(chan struct{})
	defer close(block)
	first.worker.(*mockWorker).fetchFunc = func(context.Context, *FetchRequest) (*FetchResponse, error) {
		<-block
		return &FetchResponse{Status: 200}, nil
	}
	first.taskQueue <- newTask(&Request{})
	first.taskQueue <- newTask(&Request{})

	_, err = p.getOrCreateThread(&Request{})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return p.threadCount.Load() == 2 }, time.Second, 10*time.Millisecond)
}

func TestPool_EnqueueTimeout(t *testing.T) {
	executor := newTestExecutor(t, &mockWorkers{}, WithQueueSize(1), WithEnqueueTimeout(20*time.Millisecond))
	th := newThread(executor, "idle", 42) // never started, so the queue never drains
	require.NoError(t, executor.pool.enqueue(th, newTask(&Request{})))
	err := executor.pool.enqueue(th, newTask(&Request{}))
	require.ErrorContains(t, err, "timeout enqueuing task on idle")
}

func TestPool_ExecuteTimeout(t *testing.T) {
	workers := &mockWorkers{setup: func(w *mockWorker) {
		w.fetchFunc = func(context.Context, *FetchRequest) (*FetchResponse, error) {
			time.Sleep(300 * time.Millisecond)
			return &FetchResponse{Status: 200}, nil
		}
	}}
	executor := newTestExecutor(t, workers, WithExecuteTimeout(50*time.Millisecond))
	require.NoError(t, executor.Start())
	defer executor.Stop()

	_, err := executor.pool.execute(newTask(&Request{URL: "https://example.com"}))
	require.ErrorIs(t, err, errExecuteTimeout)
}

func TestPool_ShouldRemoveThread(t *testing.T) {
	executor := newTestExecutor(t, &mockWorkers{}, WithMinPoolSize(1), WithThreadTTL(time.Millisecond))
	p := executor.pool
	th := newThread(executor, "t1", 1)
	now := time.Now()

	th.lastUsedNano.Store(now.Add(-time.Second).UnixNano())
	require.True(t, p.shouldRemoveThread(th, now, 2), "idle above the minimum")
	require.False(t, p.shouldRemoveThread(th, now, 1), "idle at the minimum")

	th.lastUsedNano.Store(now.UnixNano())
	require.False(t, p.shouldRemoveThread(th, now, 2), "recently used")

	th.broken.Store(true)
	require.True(t, p.shouldRemoveThread(th, now, 1), "broken")
}

func TestPool_PerformCleanup(t *testing.T) {
	executor := newTestExecutor(t, &mockWorkers{}, WithMinPoolSize(1), WithMaxPoolSize(3), WithThreadTTL(time.Millisecond))
	p := executor.pool
	defer p.stop()
	for i := 0; i < 3; i++ {
		_, err := p.createThread()
		require.NoError(t, err)
	}

	old := time.Now().Add(-time.Second).UnixNano()
	p.threads.Range(func(_, v any) bool {
		v.(*thread).lastUsedNano.Store(old)
		return true
	})
	p.performCleanup()

	// Idle threads go, but never below the minimum.
	require.Equal(t, uint32(1), p.threadCount.Load())
	require.Len(t, *p.threadIds.Load().(*[]uint32), 1)
}

func TestPool_Replenish(t *testing.T) {
	executor := newTestExecutor(t, &mockWorkers{}, WithMinPoolSize(2), WithMaxPoolSize(2))
	p := executor.pool
	p.replenish()
	require.Equal(t, uint32(2), p.threadCount.Load())
	require.NoError(t, p.stop())
}

func TestPool_Concurrency(t *testing.T) {
	executor := newTestExecutor(t, &mockWorkers{}, WithMinPoolSize(2), WithMaxPoolSize(4), WithQueueSize(2))
	p := executor.pool
	require.NoError(t, p.start())
	defer p.stop()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := p.execute(newTask(&Request{Id: "c", URL: "https://example.com"}))
			if err != nil {
				t.Errorf("concurrent execute failed: %v", err)
				return
			}
			if resp.Id != "c" {
				t.Errorf("unexpected response id %q", resp.Id)
			}
		}()
	}
	wg.Wait()
}
