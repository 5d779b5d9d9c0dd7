// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package quickjsengine

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	jsworker "github.com/buke/js-worker"
	"github.com/buke/js-worker/internal/enginekit"
	"github.com/buke/quickjs-go"
	"go.uber.org/zap"
)

// Engine implements jsworker.Engine on QuickJS. The runtime is not safe for
// concurrent use; callers serialize access and stay on one OS thread.
type Engine struct {
	Runtime *quickjs.Runtime // QuickJS runtime instance
	Ctx     *quickjs.Context // QuickJS context instance
	Option  *EngineOption    // Engine configuration options

	helpers    *quickjs.Value
	runCtx     atomic.Pointer[context.Context]
	nextHandle uint64
}

// NewFactory returns a jsworker.EngineFactory that creates QuickJS engines
// with the given options.
func NewFactory(opts ...Option) jsworker.EngineFactory {
	return func() (jsworker.Engine, error) {
		return newEngine(opts...)
	}
}

func newEngine(opts ...Option) (*Engine, error) {
	rt := quickjs.NewRuntime()
	e := &Engine{
		Runtime: rt,
		Ctx:     rt.NewContext(),
		Option: &EngineOption{
			GCThreshold: -1,
			Strip:       1,
			Logger:      zap.NewNop(),
		},
	}

	for _, opt := range opts {
		if err := opt(e); err != nil {
			e.Close()
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	// Polled by QuickJS while script runs; non-zero aborts execution.
	rt.SetInterruptHandler(func() int {
		if p := e.runCtx.Load(); p != nil && (*p).Err() != nil {
			return 1
		}
		return 0
	})

	helpers := e.Ctx.Eval(enginekit.HelpersScript, quickjs.EvalFileName("jsworker_helpers.js"))
	if helpers.IsException() {
		err := e.Ctx.Exception()
		helpers.Free()
		e.Close()
		return nil, fmt.Errorf("failed to install engine helpers: %w", err)
	}
	e.helpers = helpers
	return e, nil
}

// Run opens a scope on the context. A done ctx, or the WithTimeout deadline,
// aborts running script at the next interrupt check.
func (e *Engine) Run(ctx context.Context, fn func(jsworker.Scope) error) error {
	if e.Ctx == nil {
		return jsworker.ErrClosed
	}
	if e.Option.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(e.Option.Timeout)*time.Second)
		defer cancel()
	}
	if err := enginekit.ContextError(ctx); err != nil {
		return err
	}

	prev := e.runCtx.Swap(&ctx)
	defer e.runCtx.Store(prev)

	s := newScope(e, ctx)
	defer s.close()
	return enginekit.Guard(func() error { return fn(s) })
}

// scopeContext is the context of the innermost open scope.
func (e *Engine) scopeContext() context.Context {
	if p := e.runCtx.Load(); p != nil {
		return *p
	}
	return context.Background()
}

// Close releases the helpers, the context and the runtime, in that order.
func (e *Engine) Close() error {
	if e.helpers != nil {
		e.helpers.Free()
		e.helpers = nil
	}
	if e.Ctx != nil {
		e.Ctx.Close()
		e.Ctx = nil
	}
	if e.Runtime != nil {
		e.Runtime.Close()
		e.Runtime = nil
	}
	return nil
}
