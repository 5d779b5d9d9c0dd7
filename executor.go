// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package jsworker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

var errExecuteTimeout = errors.New("timeout waiting for task result")

// ExecutorOption contains configuration options for the executor.
type ExecutorOption struct {
	minPoolSize     uint32        // Minimum number of threads in the pool
	maxPoolSize     uint32        // Maximum number of threads in the pool
	queueSize       uint32        // Size of the task queue per thread
	threadTTL       time.Duration // Idle time after which a thread is retired
	maxExecutions   uint32        // Executions after which a thread recycles its runtime
	enqueueTimeout  time.Duration // Timeout for enqueuing tasks
	executeTimeout  time.Duration // Timeout for task execution
	createThreshold float64       // Queue load (0.0-1.0) above which a new thread is created
	selectThreshold float64       // Queue load (0.0-1.0) above which a thread is skipped
}

// worker is what a pool thread executes requests on. *Runtime is the
// production implementation.
type worker interface {
	DispatchFetch(ctx context.Context, req *FetchRequest) (*FetchResponse, error)
	Close() error
}

type workerFactory func(scripts []*JsScript) (worker, error)

// Executor runs worker scripts on a pool of threads, each owning its own
// Runtime, and routes fetch requests to them.
type Executor struct {
	options       *ExecutorOption
	pool          *pool
	engineFactory EngineFactory
	newWorker     workerFactory
	scripts       atomic.Pointer[[]*JsScript]
	consoleSink   ConsoleSink
	registerer    prometheus.Registerer
	metrics       *metrics
	logger        *zap.Logger
}

func (e *Executor) workerScripts() []*JsScript {
	if p := e.scripts.Load(); p != nil {
		return *p
	}
	return nil
}

func (e *Executor) setWorkerScripts(scripts []*JsScript) {
	if len(scripts) == 0 {
		e.scripts.Store(nil)
		return
	}
	cp := make([]*JsScript, len(scripts))
	copy(cp, scripts)
	e.scripts.Store(&cp)
}

// newRuntime builds a default runtime and loads the worker scripts into it.
func (e *Executor) newRuntime(scripts []*JsScript) (worker, error) {
	opts := []RuntimeOption{WithLogger(e.logger)}
	if e.consoleSink != nil {
		opts = append(opts, WithConsoleSink(e.consoleSink))
	}
	rt, err := NewWithDefaults(e.engineFactory, opts...)
	if err != nil {
		return nil, err
	}
	if err := rt.Load(context.Background(), scripts...); err != nil {
		if cerr := rt.Close(); cerr != nil {
			e.logger.Warn("failed to close runtime", zap.Error(cerr))
		}
		return nil, err
	}
	return rt, nil
}

// Start creates the minimum number of threads.
func (e *Executor) Start() error {
	if e.pool == nil {
		return fmt.Errorf("thread pool is not initialized")
	}
	return e.pool.start()
}

// Execute runs request as a fetch event on one of the pool's threads.
func (e *Executor) Execute(request *Request) (*Response, error) {
	if e.pool == nil {
		return nil, fmt.Errorf("thread pool is not initialized")
	}
	if request == nil {
		return nil, fmt.Errorf("request must not be nil")
	}
	if request.Id == "" {
		request.Id = uuid.NewString()
	}
	start := time.Now()
	resp, err := e.pool.execute(newTask(request))
	e.metrics.observe(start, err)
	return resp, err
}

// Stop shuts down every thread and closes their runtimes.
func (e *Executor) Stop() error {
	if e.pool == nil {
		return fmt.Errorf("thread pool is not initialized")
	}
	return e.pool.stop()
}

// Reload rebuilds every thread's runtime, optionally with new worker scripts.
func (e *Executor) Reload(scripts ...*JsScript) error {
	if e.pool == nil {
		return fmt.Errorf("thread pool is not initialized")
	}
	if len(scripts) > 0 {
		e.setWorkerScripts(scripts)
	}
	return e.pool.reload()
}

// NewExecutor creates an executor. WithEngine is required.
func NewExecutor(opts ...func(*Executor)) (*Executor, error) {
	cpuCount := runtime.GOMAXPROCS(0)

	executor := &Executor{
		logger: zap.NewNop(),
		options: &ExecutorOption{
			minPoolSize:     uint32(cpuCount),
			maxPoolSize:     uint32(cpuCount * 2),
			queueSize:       256,
			enqueueTimeout:  30 * time.Second,
			executeTimeout:  60 * time.Second,
			createThreshold: 0.5,
			selectThreshold: 0.75,
		},
	}
	for _, opt := range opts {
		opt(executor)
	}

	if executor.newWorker == nil {
		if executor.engineFactory == nil {
			return nil, fmt.Errorf("JavaScript engine factory must be provided")
		}
		executor.newWorker = executor.newRuntime
	}
	if executor.options.maxPoolSize < executor.options.minPoolSize {
		executor.options.maxPoolSize = executor.options.minPoolSize
	}
	executor.metrics = newMetrics(executor.registerer)
	executor.pool = newPool(executor)
	return executor, nil
}

// WithEngine sets the engine factory each thread's runtime is built on.
func WithEngine(engineFactory EngineFactory) func(*Executor) {
	return func(executor *Executor) {
		executor.engineFactory = engineFactory
	}
}

// WithExecutorLogger sets the logger for the executor and its runtimes.
func WithExecutorLogger(logger *zap.Logger) func(*Executor) {
	return func(executor *Executor) {
		if logger != nil {
			executor.logger = logger
		}
	}
}

// WithExecutorConsoleSink routes console output of every runtime to sink.
func WithExecutorConsoleSink(sink ConsoleSink) func(*Executor) {
	return func(executor *Executor) {
		executor.consoleSink = sink
	}
}

// WithMetricsRegisterer registers the pool metrics on reg.
func WithMetricsRegisterer(reg prometheus.Registerer) func(*Executor) {
	return func(executor *Executor) {
		executor.registerer = reg
	}
}

// WithWorkerScripts sets the scripts loaded into every runtime after bootstrap.
func WithWorkerScripts(scripts ...*JsScript) func(*Executor) {
	return func(executor *Executor) {
		if len(scripts) > 0 {
			executor.setWorkerScripts(scripts)
		}
	}
}

// WithMinPoolSize sets how many threads are kept alive when idle.
func WithMinPoolSize(size uint32) func(*Executor) {
	return func(executor *Executor) {
		if size > 0 {
			executor.options.minPoolSize = size
		}
	}
}

// WithMaxPoolSize caps the number of threads.
func WithMaxPoolSize(size uint32) func(*Executor) {
	return func(executor *Executor) {
		if size > 0 {
			executor.options.maxPoolSize = size
		}
	}
}

func WithQueueSize(size uint32) func(*Executor) {
	return func(executor *Executor) {
		if size > 0 {
			executor.options.queueSize = size
		}
	}
}

// WithThreadTTL retires threads above the minimum after ttl without work.
func WithThreadTTL(ttl time.Duration) func(*Executor) {
	return func(executor *Executor) {
		if ttl > 0 {
			executor.options.threadTTL = ttl
		}
	}
}

// WithMaxExecutions recycles a thread's runtime after limit requests.
func WithMaxExecutions(limit uint32) func(*Executor) {
	return func(executor *Executor) {
		if limit > 0 {
			executor.options.maxExecutions = limit
		}
	}
}

// WithEnqueueTimeout bounds how long Execute waits for queue space.
func WithEnqueueTimeout(timeout time.Duration) func(*Executor) {
	return func(executor *Executor) {
		if timeout > 0 {
			executor.options.enqueueTimeout = timeout
		}
	}
}

// WithExecuteTimeout bounds a request's time in the pool. The thread also
// interrupts the script when it runs past the deadline.
func WithExecuteTimeout(timeout time.Duration) func(*Executor) {
	return func(executor *Executor) {
		if timeout > 0 {
			executor.options.executeTimeout = timeout
		}
	}
}

// WithCreateThreshold sets the queue load, between 0 and 1, above which a new
// thread is started.
func WithCreateThreshold(threshold float64) func(*Executor) {
	return func(executor *Executor) {
		if threshold > 0 && threshold <= 1.0 {
			executor.options.createThreshold = threshold
		}
	}
}

// WithSelectThreshold sets the queue load, between 0 and 1, above which a
// thread is skipped during selection.
func WithSelectThreshold(threshold float64) func(*Executor) {
	return func(executor *Executor) {
		if threshold > 0 && threshold <= 1.0 {
			executor.options.selectThreshold = threshold
		}
	}
}
