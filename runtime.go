// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package jsworker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

const evalFileName = "eval.js"

// timerGlobals are removed from every context: timers are not driven by the
// host event loop, so the pending counter would not account for them.
var timerGlobals = []string{
	"setTimeout", "clearTimeout",
	"setInterval", "clearInterval",
	"setImmediate", "clearImmediate",
}

// Runtime is one isolate with one execution context, its bridge functions and
// the state attached to it. Its methods are safe for concurrent use; engine
// access is serialized.
type Runtime struct {
	mu         sync.Mutex
	engine     Engine
	state      *RuntimeState
	closed     bool
	logger     *zap.Logger
	sink       ConsoleSink
	extensions []Extension
	bootstrap  []*JsScript
}

// RuntimeOption configures a Runtime.
type RuntimeOption func(*Runtime)

// WithLogger sets the host logger. The default discards everything.
func WithLogger(logger *zap.Logger) RuntimeOption {
	return func(r *Runtime) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithConsoleSink sets where console records go. The default writes them
// through the host logger.
func WithConsoleSink(sink ConsoleSink) RuntimeOption {
	return func(r *Runtime) {
		r.sink = sink
	}
}

// WithExtensions appends extensions, installed in the given order.
func WithExtensions(exts ...Extension) RuntimeOption {
	return func(r *Runtime) {
		r.extensions = append(r.extensions, exts...)
	}
}

// WithBootstrap replaces the bootstrap scripts.
func WithBootstrap(scripts ...*JsScript) RuntimeOption {
	return func(r *Runtime) {
		r.bootstrap = scripts
	}
}

// New creates a runtime on a fresh engine. The context starts without a
// console; only postMessage and onMessage plus whatever extensions and
// bootstrap scripts the options add are installed.
func New(factory EngineFactory, opts ...RuntimeOption) (*Runtime, error) {
	if factory == nil {
		return nil, fmt.Errorf("engine factory must be provided")
	}
	r := &Runtime{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	if r.sink == nil {
		r.sink = NewLogSink(r.logger)
	}
	r.state = newRuntimeState(r.sink, r.logger)

	engine, err := factory()
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}
	r.engine = engine

	if err := r.setup(); err != nil {
		if cerr := engine.Close(); cerr != nil {
			r.logger.Warn("failed to close engine after setup error", zap.Error(cerr))
		}
		return nil, err
	}
	return r, nil
}

// NewWithDefaults creates a runtime with the default extensions and bootstrap
// scripts. Options are applied after the defaults.
func NewWithDefaults(factory EngineFactory, opts ...RuntimeOption) (*Runtime, error) {
	defaults := []RuntimeOption{
		WithExtensions(DefaultExtensions()...),
		WithBootstrap(DefaultBootstrap()...),
	}
	return New(factory, append(defaults, opts...)...)
}

func (r *Runtime) setup() error {
	return r.engine.Run(context.Background(), func(s Scope) error {
		if err := s.DeleteGlobal("console"); err != nil {
			return fmt.Errorf("failed to remove default console: %w", err)
		}
		for _, name := range timerGlobals {
			if err := s.DeleteGlobal(name); err != nil {
				return fmt.Errorf("failed to remove %s: %w", name, err)
			}
		}
		if err := installBridges(s, r.state); err != nil {
			return fmt.Errorf("failed to install bridge functions: %w", err)
		}
		for _, ext := range r.extensions {
			if err := ext.Install(s, r.state); err != nil {
				return fmt.Errorf("failed to install extension %s: %w", ext.Name(), err)
			}
		}
		return loadBootstrap(s, r.bootstrap)
	})
}

// Eval runs source as a classic script and returns its completion value as a
// string.
func (r *Runtime) Eval(ctx context.Context, source string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return "", ErrClosed
	}
	if err := checkDynamicImport(evalFileName, source); err != nil {
		return "", err
	}

	var out string
	err := r.engine.Run(ctx, func(s Scope) error {
		v, err := s.Eval(evalFileName, source)
		if err != nil {
			return err
		}
		out, err = v.ToString()
		return err
	})
	if err != nil {
		return "", err
	}
	return out, nil
}

// Load evaluates named scripts in order, discarding their completion values.
// The first failure stops loading.
func (r *Runtime) Load(ctx context.Context, scripts ...*JsScript) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	for _, script := range scripts {
		if script == nil {
			continue
		}
		if err := checkDynamicImport(script.FileName, script.Content); err != nil {
			return fmt.Errorf("failed to load %s: %w", script.FileName, err)
		}
		err := r.engine.Run(ctx, func(s Scope) error {
			_, err := s.Eval(script.FileName, script.Content)
			return err
		})
		if err != nil {
			return fmt.Errorf("failed to load %s: %w", script.FileName, err)
		}
	}
	return nil
}

// Dispatch calls the registered message handler with ev and returns the
// handler's result as Go data. Without a handler it returns ErrNoHandler.
func (r *Runtime) Dispatch(ctx context.Context, ev Event) (any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	return r.dispatch(ctx, ev)
}

func (r *Runtime) dispatch(ctx context.Context, ev Event) (any, error) {
	var result any
	err := r.engine.Run(ctx, func(s Scope) error {
		h := r.state.Handler()
		if h == nil {
			r.logger.Debug("dispatch without message handler")
			return ErrNoHandler
		}
		if err := ev.Prepare(s); err != nil {
			return fmt.Errorf("failed to prepare event: %w", err)
		}
		arg, err := ev.Value(s)
		if err != nil {
			return fmt.Errorf("failed to build event value: %w", err)
		}
		v, err := s.Call(h, arg)
		if err != nil {
			return err
		}
		result, err = v.Export()
		return err
	})
	return result, err
}

// DispatchFetch delivers req as a fetch event and drives the event loop until
// the worker's response has been relayed back.
func (r *Runtime) DispatchFetch(ctx context.Context, req *FetchRequest) (*FetchResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("fetch request must not be nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}

	id := r.state.beginFetch()
	defer r.state.abandonFetch(id)

	if _, err := r.dispatch(ctx, &FetchEvent{ID: id, Request: req}); err != nil {
		return nil, err
	}
	for {
		if res, ok := r.state.takeFetch(id); ok {
			if res.err != nil {
				return nil, res.err
			}
			return res.response, nil
		}
		relayed := r.state.relayed
		if _, err := r.runEventLoop(ctx); err != nil {
			return nil, err
		}
		if _, ok := r.state.settled[id]; !ok && r.state.relayed == relayed {
			return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL, ErrNoResponse)
		}
	}
}

// RunEventLoop performs one microtask pass and reports how many fetch events
// are still waiting for a response. With nothing queued it is a no-op.
func (r *Runtime) RunEventLoop(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, ErrClosed
	}
	return r.runEventLoop(ctx)
}

func (r *Runtime) runEventLoop(ctx context.Context) (int, error) {
	err := r.engine.Run(ctx, func(s Scope) error {
		return s.RunMicrotasks()
	})
	return r.state.Pending(), err
}

// Pending reports how many fetch events still wait for a response.
func (r *Runtime) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Pending()
}

// Close releases the handler and tears down the engine. Closing twice is a no-op.
func (r *Runtime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	err := r.engine.Run(context.Background(), func(Scope) error {
		r.state.release()
		return nil
	})
	if err != nil && !errors.Is(err, ErrClosed) {
		r.logger.Warn("failed to release runtime state", zap.Error(err))
	}
	return r.engine.Close()
}
