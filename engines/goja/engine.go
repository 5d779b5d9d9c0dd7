// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package gojaengine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	jsworker "github.com/buke/js-worker"
	"github.com/buke/js-worker/internal/enginekit"
	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/eventloop"
	"go.uber.org/zap"
)

// Option configures a goja engine.
type Option = jsworker.EngineOption

// Engine implements jsworker.Engine on goja. The runtime is owned by an event
// loop goroutine; every scope runs as a job on that loop.
type Engine struct {
	Loop   *eventloop.EventLoop // Owns and serializes access to the runtime.
	Option *EngineOption        // Engine configuration options.

	closed     atomic.Bool
	rejections map[*goja.Promise]struct{} // loop goroutine only
}

// NewFactory returns a jsworker.EngineFactory for goja engines.
func NewFactory(opts ...Option) jsworker.EngineFactory {
	return func() (jsworker.Engine, error) {
		return newEngine(opts...)
	}
}

func newEngine(opts ...Option) (*Engine, error) {
	// The loop preinstalls require and a console that logs outside zap. The
	// runtime brings its own console, and require stays opt-in.
	loop := eventloop.NewEventLoop(eventloop.EnableConsole(false))
	e := &Engine{
		Loop:       loop,
		Option:     &EngineOption{Logger: zap.NewNop()},
		rejections: make(map[*goja.Promise]struct{}),
	}
	loop.Start()

	// Overridable by a user supplied mapper.
	defaults := []Option{WithFieldNameMapper(goja.TagFieldNameMapper("json", true))}
	for _, opt := range append(defaults, opts...) {
		if err := opt(e); err != nil {
			loop.Stop()
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	e.onLoop(func(vm *goja.Runtime) {
		if !e.Option.EnableRequire {
			vm.GlobalObject().Delete("require")
		}
		vm.SetPromiseRejectionTracker(e.trackRejection)
	})
	return e, nil
}

// onLoop runs fn on the loop goroutine and waits for it to finish.
func (e *Engine) onLoop(fn func(vm *goja.Runtime)) {
	done := make(chan struct{})
	e.Loop.RunOnLoop(func(vm *goja.Runtime) {
		defer close(done)
		fn(vm)
	})
	<-done
}

// Run opens a scope on the loop goroutine. A done ctx interrupts running script.
func (e *Engine) Run(ctx context.Context, fn func(jsworker.Scope) error) error {
	if e.closed.Load() {
		return jsworker.ErrClosed
	}
	if err := enginekit.ContextError(ctx); err != nil {
		return err
	}

	var err error
	e.onLoop(func(vm *goja.Runtime) {
		s := &scope{engine: e, vm: vm}
		defer s.close()
		release := interruptOnDone(ctx, vm)
		defer release()

		err = enginekit.Guard(func() error { return fn(s) })
		e.reportRejections()
	})
	return err
}

// interruptOnDone interrupts vm once ctx is done. The returned func detaches
// the watcher and clears any interrupt left over for the next scope.
func interruptOnDone(ctx context.Context, vm *goja.Runtime) func() {
	var (
		mu       sync.Mutex
		finished bool
	)
	stop := context.AfterFunc(ctx, func() {
		mu.Lock()
		defer mu.Unlock()
		if !finished {
			vm.Interrupt(ctx.Err())
		}
	})
	return func() {
		stop()
		mu.Lock()
		finished = true
		mu.Unlock()
		vm.ClearInterrupt()
	}
}

func (e *Engine) trackRejection(p *goja.Promise, op goja.PromiseRejectionOperation) {
	switch op {
	case goja.PromiseRejectionReject:
		e.rejections[p] = struct{}{}
	case goja.PromiseRejectionHandle:
		delete(e.rejections, p)
	}
}

// reportRejections logs rejections still unhandled at the end of a scope.
func (e *Engine) reportRejections() {
	for p := range e.rejections {
		e.Option.Logger.Warn("unhandled promise rejection", zap.String("reason", describe(p.Result())))
		delete(e.rejections, p)
	}
}

// Close stops the event loop and releases the runtime.
func (e *Engine) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	if e.Loop != nil {
		e.Loop.Stop()
	}
	return nil
}
