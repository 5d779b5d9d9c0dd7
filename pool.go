// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package jsworker

import (
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ThreadIdKey is the Request.Context key that pins a request to a thread.
const ThreadIdKey = "__threadId"

// pool keeps the executor's threads. Lookups are lock-free: threads live in a
// sync.Map and the round-robin order is a copy-on-write id slice.
type pool struct {
	executor        *Executor
	threads         sync.Map     // uint32 -> *thread
	threadIds       atomic.Value // *[]uint32
	threadCount     atomic.Uint32
	roundRobinIndex atomic.Uint32
	threadIdCounter atomic.Uint32
	stopCleanup     chan struct{}
	stopOnce        sync.Once
}

func newPool(e *Executor) *pool {
	p := &pool{
		executor:    e,
		stopCleanup: make(chan struct{}),
	}
	emptyIds := make([]uint32, 0)
	p.threadIds.Store(&emptyIds)
	return p
}

func (p *pool) options() *ExecutorOption { return p.executor.options }

func (p *pool) logger() *zap.Logger { return p.executor.logger }

func (p *pool) start() error {
	for i := uint32(0); i < p.options().minPoolSize; i++ {
		if _, err := p.createThread(); err != nil {
			return fmt.Errorf("failed to create thread %d: %w", i, err)
		}
	}

	go p.retireThreads()

	opts := p.options()
	p.logger().Debug("Thread pool started",
		zap.Uint32("minPoolSize", opts.minPoolSize),
		zap.Uint32("maxPoolSize", opts.maxPoolSize),
		zap.Uint32("queueSize", opts.queueSize),
		zap.Duration("threadTTL", opts.threadTTL),
		zap.Uint32("maxExecutions", opts.maxExecutions),
		zap.Duration("executeTimeout", opts.executeTimeout),
		zap.Float64("createThreshold", opts.createThreshold),
		zap.Float64("selectThreshold", opts.selectThreshold),
		zap.Uint32("initialThreads", p.threadCount.Load()),
	)
	return nil
}

func (p *pool) stop() error {
	p.stopOnce.Do(func() { close(p.stopCleanup) })

	p.threads.Range(func(key, value interface{}) bool {
		value.(*thread).stop()
		p.threads.Delete(key)
		return true
	})

	emptyIds := make([]uint32, 0)
	p.threadIds.Store(&emptyIds)
	p.threadCount.Store(0)
	p.executor.metrics.threads.Set(0)

	p.logger().Debug("Thread pool stopped")
	return nil
}

func (p *pool) addThreadToList(threadId uint32) {
	for {
		oldIdsPtr := p.threadIds.Load().(*[]uint32)
		oldIds := *oldIdsPtr
		newIds := make([]uint32, len(oldIds)+1)
		copy(newIds, oldIds)
		newIds[len(oldIds)] = threadId
		if p.threadIds.CompareAndSwap(oldIdsPtr, &newIds) {
			return
		}
	}
}

func (p *pool) removeThreadFromList(threadId uint32) {
	for {
		oldIdsPtr := p.threadIds.Load().(*[]uint32)
		oldIds := *oldIdsPtr
		newIds := make([]uint32, 0, len(oldIds))
		for _, id := range oldIds {
			if id != threadId {
				newIds = append(newIds, id)
			}
		}
		if p.threadIds.CompareAndSwap(oldIdsPtr, &newIds) {
			return
		}
	}
}

// createThread starts a thread and waits until its runtime is built.
func (p *pool) createThread() (*thread, error) {
	newCount := p.threadCount.Add(1)
	if newCount > p.options().maxPoolSize {
		p.threadCount.Add(^uint32(0))
		return nil, fmt.Errorf("max pool size reached")
	}

	threadId := p.threadIdCounter.Add(1)
	t := newThread(p.executor, "thread-"+strconv.FormatUint(uint64(threadId), 10), threadId)
	go t.run()

	if err := <-t.initCh; err != nil {
		p.threadCount.Add(^uint32(0))
		return nil, fmt.Errorf("thread initialization failed: %w", err)
	}

	p.threads.Store(threadId, t)
	p.addThreadToList(threadId)
	p.executor.metrics.threads.Inc()
	return t, nil
}

// selectThread honours an explicit ThreadIdKey pin, then picks the next thread
// in round-robin order whose queue is below the select threshold.
func (p *pool) selectThread(req *Request) *thread {
	if t := p.pinnedThread(req); t != nil {
		return t
	}

	threadIds := *p.threadIds.Load().(*[]uint32)
	listLen := uint32(len(threadIds))
	if listLen == 0 {
		return nil
	}

	queueThreshold := int(float64(p.options().queueSize) * p.options().selectThreshold)
	startIndex := p.roundRobinIndex.Add(1) % listLen
	for i := uint32(0); i < listLen; i++ {
		threadId := threadIds[(startIndex+i)%listLen]
		if v, ok := p.threads.Load(threadId); ok {
			t := v.(*thread)
			if len(t.taskQueue) < queueThreshold {
				return t
			}
		}
	}

	// All busy: take the round-robin pick anyway.
	if v, ok := p.threads.Load(threadIds[startIndex]); ok {
		return v.(*thread)
	}
	return nil
}

func (p *pool) pinnedThread(req *Request) *thread {
	if req.Context == nil {
		return nil
	}
	raw, ok := req.Context[ThreadIdKey]
	if !ok {
		return nil
	}
	var threadId uint32
	switch id := raw.(type) {
	case uint32:
		threadId = id
	case int:
		threadId = uint32(id)
	case float64:
		threadId = uint32(id)
	case string:
		n, err := strconv.ParseUint(id, 10, 32)
		if err != nil {
			return nil
		}
		threadId = uint32(n)
	default:
		return nil
	}
	if v, ok := p.threads.Load(threadId); ok {
		return v.(*thread)
	}
	return nil
}

func (p *pool) getOrCreateThread(req *Request) (*thread, error) {
	if t := p.selectThread(req); t != nil {
		queueThreshold := int(float64(p.options().queueSize) * p.options().createThreshold)
		if len(t.taskQueue) < queueThreshold {
			return t, nil
		}
	}

	if current := p.threadCount.Load(); current < p.options().maxPoolSize {
		p.logger().Debug("Creating new thread due to high load",
			zap.Uint32("currentThreads", current),
			zap.Uint32("maxPoolSize", p.options().maxPoolSize))
		if t, err := p.createThread(); err == nil {
			return t, nil
		}
	}

	if t := p.selectThread(req); t != nil {
		return t, nil
	}
	return nil, fmt.Errorf("no available thread in pool")
}

func (p *pool) enqueue(t *thread, task *task) error {
	timeout := p.options().enqueueTimeout
	if timeout <= 0 {
		t.taskQueue <- task
		return nil
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case t.taskQueue <- task:
		return nil
	case <-timer.C:
		return fmt.Errorf("timeout enqueuing task on %s", t.name)
	}
}

func (p *pool) execute(task *task) (*Response, error) {
	t, err := p.getOrCreateThread(task.request)
	if err != nil {
		return nil, fmt.Errorf("failed to get thread: %w", err)
	}
	if err := p.enqueue(t, task); err != nil {
		return nil, err
	}

	var result *taskResult
	if timeout := p.options().executeTimeout; timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case result = <-task.resultChan:
		case <-timer.C:
			return nil, errExecuteTimeout
		}
	} else {
		result = <-task.resultChan
	}
	if result.err != nil {
		return nil, result.err
	}
	return result.response, nil
}

func (p *pool) reload() error {
	var reloadError error
	p.threads.Range(func(key, value interface{}) bool {
		t := value.(*thread)
		if err := t.reload(); err != nil {
			reloadError = fmt.Errorf("failed to reload thread %s: %w", t.name, err)
			return false
		}
		return true
	})
	if reloadError == nil {
		p.logger().Debug("All threads reloaded successfully",
			zap.Uint32("threadCount", p.threadCount.Load()))
	}
	return reloadError
}

// retireThreads periodically removes idle and broken threads and tops the
// pool back up to its minimum size.
func (p *pool) retireThreads() {
	interval := time.Minute
	if ttl := p.options().threadTTL; ttl > 0 {
		interval = ttl / 2
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.performCleanup()
			p.replenish()
		case <-p.stopCleanup:
			return
		}
	}
}

func (p *pool) shouldRemoveThread(t *thread, now time.Time, count uint32) bool {
	if t.isBroken() {
		return true
	}
	ttl := p.options().threadTTL
	return ttl > 0 && count > p.options().minPoolSize && now.Sub(t.getLastUsed()) > ttl
}

func (p *pool) performCleanup() {
	now := time.Now()

	type victim struct {
		id     uint32
		thread *thread
	}
	var victims []victim
	count := p.threadCount.Load()
	p.threads.Range(func(key, value interface{}) bool {
		t := value.(*thread)
		if p.shouldRemoveThread(t, now, count-uint32(len(victims))) {
			victims = append(victims, victim{id: key.(uint32), thread: t})
		}
		return true
	})

	for _, v := range victims {
		if _, loaded := p.threads.LoadAndDelete(v.id); !loaded {
			continue
		}
		p.removeThreadFromList(v.id)
		p.threadCount.Add(^uint32(0))
		p.executor.metrics.threads.Dec()

		reason := "idle timeout"
		if v.thread.isBroken() {
			reason = "broken runtime"
		}
		idle := now.Sub(v.thread.getLastUsed())
		go func(th *thread) {
			th.retire()
			p.logger().Debug("Thread removed",
				zap.String("thread", th.name),
				zap.String("reason", reason),
				zap.Duration("idleTime", idle),
				zap.Uint32("remainingThreads", p.threadCount.Load()))
		}(v.thread)
	}
}

// replenish creates threads until the pool is back at its minimum size.
func (p *pool) replenish() {
	for p.threadCount.Load() < p.options().minPoolSize {
		if _, err := p.createThread(); err != nil {
			p.logger().Error("Failed to create replenishment thread", zap.Error(err))
			return
		}
	}
}
