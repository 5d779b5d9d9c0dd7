//go:build !windows

// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package v8engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	jsworker "github.com/buke/js-worker"
	"github.com/buke/js-worker/internal/enginekit"
	"github.com/tommie/v8go"
	"go.uber.org/zap"
)

type scope struct {
	engine *Engine
	ctx    context.Context
	closed bool
}

func (s *scope) close() { s.closed = true }

func (s *scope) check() error {
	if s.closed || s.engine.Ctx == nil {
		return jsworker.ErrScopeClosed
	}
	return nil
}

func (s *scope) wrap(v *v8go.Value) *value {
	if v == nil {
		v = v8go.Undefined(s.engine.Iso)
	}
	return &value{scope: s, v: v}
}

// scriptError classifies an error returned by V8, reporting termination
// caused by the scope's context as an interrupt.
func (s *scope) scriptError(kind jsworker.EvalErrorKind, err error) error {
	if ctxErr := s.ctx.Err(); ctxErr != nil {
		return enginekit.Interrupted(ctxErr)
	}
	e := jsworker.NewEvalError(kind, err)
	var jsErr *v8go.JSError
	if errors.As(err, &jsErr) {
		e.Message = jsErr.Message
		e.Stack = jsErr.StackTrace
		if e.Stack == "" {
			e.Stack = jsErr.Location
		}
	}
	return e
}

func (s *scope) Eval(name, src string) (jsworker.Value, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	us, err := s.engine.Iso.CompileUnboundScript(src, name, v8go.CompileOptions{})
	if err != nil {
		return nil, s.scriptError(jsworker.CompileError, err)
	}
	v, err := us.Run(s.engine.Ctx)
	if err != nil {
		return nil, s.scriptError(jsworker.RuntimeError, err)
	}
	return s.wrap(v), nil
}

func (s *scope) Global(name string) (jsworker.Value, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	v, err := s.engine.Ctx.Global().Get(name)
	if err != nil {
		return nil, s.scriptError(jsworker.RuntimeError, err)
	}
	return s.wrap(v), nil
}

func (s *scope) SetGlobal(name string, v any) error {
	if err := s.check(); err != nil {
		return err
	}
	jv, err := s.toValue(v)
	if err != nil {
		return err
	}
	return s.engine.Ctx.Global().Set(name, jv)
}

func (s *scope) SetFunction(name string, fn jsworker.HostFunc) error {
	if err := s.check(); err != nil {
		return err
	}
	e := s.engine
	tmpl := v8go.NewFunctionTemplate(e.Iso, func(info *v8go.FunctionCallbackInfo) *v8go.Value {
		runCtx := e.runCtx
		if runCtx == nil {
			runCtx = context.Background()
		}
		cs := &scope{engine: e, ctx: runCtx}
		defer cs.close()

		res, err := invokeHost(name, fn, &functionCall{scope: cs, args: info.Args()})
		if err != nil {
			return e.Iso.ThrowException(cs.throwable(err))
		}
		if res == nil {
			return v8go.Undefined(e.Iso)
		}
		jv, err := cs.toValue(res)
		if err != nil {
			return e.Iso.ThrowException(cs.throwable(err))
		}
		return jv
	})
	return e.Ctx.Global().Set(name, tmpl.GetFunction(e.Ctx))
}

func (s *scope) DeleteGlobal(name string) error {
	if err := s.check(); err != nil {
		return err
	}
	s.engine.Ctx.Global().Delete(name)
	return nil
}

func (s *scope) NewValue(v any) (jsworker.Value, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	jv, err := s.toValue(v)
	if err != nil {
		return nil, err
	}
	return s.wrap(jv), nil
}

func (s *scope) Call(h jsworker.Handle, args ...any) (jsworker.Value, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	hh, ok := h.(*handle)
	if !ok || hh.engine != s.engine {
		return nil, fmt.Errorf("handle %T does not belong to this engine", h)
	}
	if hh.fn == nil {
		return nil, fmt.Errorf("handle has been released")
	}
	jsArgs := make([]v8go.Valuer, len(args))
	for i, arg := range args {
		jv, err := s.toValue(arg)
		if err != nil {
			return nil, err
		}
		jsArgs[i] = jv
	}
	res, err := hh.fn.Call(v8go.Undefined(s.engine.Iso), jsArgs...)
	if err != nil {
		return nil, s.scriptError(jsworker.RuntimeError, err)
	}
	return s.wrap(res), nil
}

func (s *scope) RunMicrotasks() error {
	if err := s.check(); err != nil {
		return err
	}
	s.engine.Ctx.PerformMicrotaskCheckpoint()
	return nil
}

// toValue converts Go data. Primitives map directly; anything else goes
// through JSON.
func (s *scope) toValue(v any) (*v8go.Value, error) {
	iso := s.engine.Iso
	switch x := v.(type) {
	case nil:
		return v8go.Null(iso), nil
	case *value:
		if x.scope.engine != s.engine {
			return nil, fmt.Errorf("value belongs to another engine")
		}
		return x.v, nil
	case *v8go.Value:
		return x, nil
	case string, bool, int32, uint32, int64, uint64, float64:
		return v8go.NewValue(iso, x)
	case int:
		return v8go.NewValue(iso, int64(x))
	case float32:
		return v8go.NewValue(iso, float64(x))
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %T: %w", v, err)
		}
		return v8go.JSONParse(s.engine.Ctx, string(raw))
	}
}

func (s *scope) helper(name string) (*v8go.Function, error) {
	v, err := s.engine.helpers.Get(name)
	if err != nil {
		return nil, err
	}
	return v.AsFunction()
}

// throwable builds the error object thrown for a host error.
func (s *scope) throwable(err error) *v8go.Value {
	iso := s.engine.Iso
	name, msg := jsworker.ErrorName(err)
	makeError, herr := s.helper("makeError")
	if herr == nil {
		nameVal, _ := v8go.NewValue(iso, name)
		msgVal, _ := v8go.NewValue(iso, msg)
		if obj, cerr := makeError.Call(s.engine.helpers, nameVal, msgVal); cerr == nil {
			return obj
		}
	}
	fallback, _ := v8go.NewValue(iso, name+": "+msg)
	return fallback
}

// invokeHost turns Go panics into errors; a panic must not unwind through cgo.
func invokeHost(name string, fn jsworker.HostFunc, call *functionCall) (res any, err error) {
	defer func() {
		if r := recover(); r != nil {
			call.scope.engine.Option.Logger.Error("host function panicked",
				zap.String("function", name), zap.Any("panic", r))
			err = fmt.Errorf("host function %s panicked: %v", name, r)
		}
	}()
	return fn(call)
}

type functionCall struct {
	scope *scope
	args  []*v8go.Value
}

func (c *functionCall) Len() int { return len(c.args) }

func (c *functionCall) Argument(i int) jsworker.Value {
	if i < 0 || i >= len(c.args) {
		return c.scope.wrap(nil)
	}
	return c.scope.wrap(c.args[i])
}

func (c *functionCall) Scope() jsworker.Scope { return c.scope }

type value struct {
	scope *scope
	v     *v8go.Value
}

func (v *value) IsFunction() bool  { return v.v.IsFunction() }
func (v *value) IsObject() bool    { return v.v.IsObject() }
func (v *value) IsUndefined() bool { return v.v.IsUndefined() }
func (v *value) IsArray() bool     { return v.v.IsArray() }

func (v *value) ToString() (string, error) {
	if err := v.scope.check(); err != nil {
		return "", err
	}
	if v.v.IsSymbol() {
		return "", enginekit.Conversion(errors.New("TypeError: Cannot convert a Symbol value to a string"))
	}
	if !v.v.IsObject() {
		return v.v.String(), nil
	}
	toString, err := v.scope.helper("toString")
	if err != nil {
		return "", err
	}
	res, err := toString.Call(v8go.Undefined(v.scope.engine.Iso), v.v)
	if err != nil {
		return "", enginekit.Conversion(err)
	}
	return res.String(), nil
}

func (v *value) Export() (any, error) {
	if err := v.scope.check(); err != nil {
		return nil, err
	}
	if v.v.IsUndefined() || v.v.IsNull() || v.v.IsFunction() || v.v.IsSymbol() {
		return nil, nil
	}
	raw, err := v8go.JSONStringify(v.scope.engine.Ctx, v.v)
	if err != nil {
		return nil, v.scope.scriptError(jsworker.RuntimeError, err)
	}
	if raw == "" || raw == "undefined" {
		return nil, nil
	}
	var out any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("failed to decode exported value: %w", err)
	}
	return out, nil
}

func (v *value) Get(key string) (jsworker.Value, error) {
	if err := v.scope.check(); err != nil {
		return nil, err
	}
	obj, err := v.v.AsObject()
	if err != nil {
		return nil, jsworker.NewTypeError("cannot read property %q of a non-object", key)
	}
	res, err := obj.Get(key)
	if err != nil {
		return nil, v.scope.scriptError(jsworker.RuntimeError, err)
	}
	return v.scope.wrap(res), nil
}

func (v *value) Persist() (jsworker.Handle, error) {
	if err := v.scope.check(); err != nil {
		return nil, err
	}
	fn, err := v.v.AsFunction()
	if err != nil {
		return nil, jsworker.NewTypeError("value is not a function")
	}
	return &handle{engine: v.scope.engine, fn: fn}, nil
}

// handle holds a function value; V8 keeps it alive until the context closes.
type handle struct {
	engine *Engine
	fn     *v8go.Function
}

func (h *handle) Release() { h.fn = nil }
