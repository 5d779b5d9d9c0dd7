//go:build !windows

// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package v8engine

import (
	"context"
	"fmt"
	"sync"

	jsworker "github.com/buke/js-worker"
	"github.com/buke/js-worker/internal/enginekit"
	"github.com/tommie/v8go"
	"go.uber.org/zap"
)

var (
	// Make these functions variables so they can be mocked in tests.
	v8NewIsolate = v8go.NewIsolate
	v8NewContext = v8go.NewContext
)

// Engine implements jsworker.Engine on V8. Script runs on the calling
// goroutine; callers serialize access.
type Engine struct {
	// Iso is the V8 Isolate, a single-threaded VM instance.
	Iso *v8go.Isolate

	// Ctx is the V8 Context, the execution environment.
	Ctx *v8go.Context

	// Option holds the engine-specific configurations.
	Option *EngineOption

	helpers *v8go.Object
	runCtx  context.Context // context of the scope currently open
}

// NewFactory creates a jsworker.EngineFactory for the V8 engine.
func NewFactory(opts ...Option) jsworker.EngineFactory {
	return func() (jsworker.Engine, error) {
		return newEngine(opts...)
	}
}

func newEngine(opts ...Option) (*Engine, error) {
	e := &Engine{
		Option: &EngineOption{Logger: zap.NewNop()},
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	iso := v8NewIsolate()
	if iso == nil {
		return nil, fmt.Errorf("failed to create v8 isolate")
	}
	e.Iso = iso

	ctx := v8NewContext(iso)
	if ctx == nil {
		iso.Dispose()
		e.Iso = nil
		return nil, fmt.Errorf("failed to create v8 context")
	}
	e.Ctx = ctx

	helpers, err := ctx.RunScript(enginekit.HelpersScript, "jsworker_helpers.js")
	if err == nil {
		e.helpers, err = helpers.AsObject()
	}
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("failed to install engine helpers: %w", err)
	}
	return e, nil
}

// Run opens a scope on the context. A done ctx terminates running script.
func (e *Engine) Run(ctx context.Context, fn func(jsworker.Scope) error) error {
	if e.Ctx == nil {
		return jsworker.ErrClosed
	}
	if e.Option.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Option.RunTimeout)
		defer cancel()
	}
	if err := enginekit.ContextError(ctx); err != nil {
		return err
	}

	var (
		mu         sync.Mutex
		finished   bool
		terminated bool
	)
	stop := context.AfterFunc(ctx, func() {
		mu.Lock()
		defer mu.Unlock()
		if !finished {
			e.Iso.TerminateExecution()
			terminated = true
		}
	})
	defer func() {
		stop()
		mu.Lock()
		finished = true
		pending := terminated
		mu.Unlock()
		if pending {
			e.drainTermination()
		}
	}()

	prev := e.runCtx
	e.runCtx = ctx
	defer func() { e.runCtx = prev }()

	s := &scope{engine: e, ctx: ctx}
	defer s.close()
	return enginekit.Guard(func() error { return fn(s) })
}

// drainTermination runs an empty script so a termination requested after the
// last script returned is consumed here instead of by the next Run.
func (e *Engine) drainTermination() {
	if v, err := e.Ctx.RunScript("undefined", "jsworker_drain.js"); err == nil {
		v.Release()
	}
}

// Close releases the context, then the isolate.
func (e *Engine) Close() error {
	if e.Ctx != nil {
		e.Ctx.Close()
		e.Ctx = nil
	}
	if e.Iso != nil {
		e.Iso.Dispose()
		e.Iso = nil
	}
	return nil
}
