// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package quickjsengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"

	jsworker "github.com/buke/js-worker"
	"github.com/buke/js-worker/internal/enginekit"
	"github.com/buke/quickjs-go"
	"go.uber.org/zap"
)

// scope owns every value it creates and frees them when it closes. Arguments
// handed to a host function are borrowed from QuickJS and never freed here.
type scope struct {
	engine *Engine
	ctx    context.Context
	owned  []*quickjs.Value
	closed bool
}

func newScope(e *Engine, ctx context.Context) *scope {
	return &scope{engine: e, ctx: ctx}
}

func (s *scope) close() {
	if s.closed {
		return
	}
	s.closed = true
	for i := len(s.owned) - 1; i >= 0; i-- {
		s.owned[i].Free()
	}
	s.owned = nil
}

func (s *scope) check() error {
	if s.closed || s.engine.Ctx == nil {
		return jsworker.ErrScopeClosed
	}
	return nil
}

func (s *scope) own(v *quickjs.Value) *quickjs.Value {
	s.owned = append(s.owned, v)
	return v
}

func (s *scope) wrap(v *quickjs.Value) *value {
	return &value{scope: s, v: v}
}

// exception takes the pending exception off the context.
func (s *scope) exception(kind jsworker.EvalErrorKind) error {
	err := s.engine.Ctx.Exception()
	if ctxErr := s.ctx.Err(); ctxErr != nil {
		return enginekit.Interrupted(ctxErr)
	}
	if err == nil {
		err = errors.New("unknown exception")
	}
	return jsworker.NewEvalError(kind, err)
}

// callHelper calls one of the engine helpers. The caller owns the result.
func (s *scope) callHelper(name string, args ...*quickjs.Value) (*quickjs.Value, error) {
	fn := s.engine.helpers.Get(name)
	defer fn.Free()
	res := fn.Execute(s.engine.helpers, args...)
	if res.IsException() {
		res.Free()
		return nil, s.exception(jsworker.RuntimeError)
	}
	return res, nil
}

func (s *scope) Eval(name, src string) (jsworker.Value, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	ctx := s.engine.Ctx
	compiled := ctx.Eval(src, quickjs.EvalFileName(name), quickjs.EvalFlagCompileOnly(true))
	if compiled.IsException() {
		compiled.Free()
		return nil, s.exception(jsworker.CompileError)
	}
	compiled.Free()

	v := ctx.Eval(src, quickjs.EvalFileName(name))
	if v.IsException() {
		v.Free()
		return nil, s.exception(jsworker.RuntimeError)
	}
	return s.wrap(s.own(v)), nil
}

func (s *scope) Global(name string) (jsworker.Value, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	v := s.engine.Ctx.Globals().Get(name)
	if v.IsException() {
		v.Free()
		return nil, s.exception(jsworker.RuntimeError)
	}
	return s.wrap(s.own(v)), nil
}

func (s *scope) SetGlobal(name string, v any) error {
	if err := s.check(); err != nil {
		return err
	}
	jv, err := s.toValue(v)
	if err != nil {
		return err
	}
	return s.setGlobal(name, jv)
}

func (s *scope) setGlobal(name string, jv *quickjs.Value) error {
	res, err := s.callHelper("setGlobal", s.own(s.engine.Ctx.NewString(name)), jv)
	if err != nil {
		return err
	}
	res.Free()
	return nil
}

func (s *scope) SetFunction(name string, fn jsworker.HostFunc) error {
	if err := s.check(); err != nil {
		return err
	}
	e := s.engine
	f := e.Ctx.NewFunction(func(ctx *quickjs.Context, this *quickjs.Value, args []*quickjs.Value) *quickjs.Value {
		cs := newScope(e, e.scopeContext())
		defer cs.close()

		res, err := invokeHost(name, fn, &functionCall{scope: cs, args: args})
		if err != nil {
			return ctx.Throw(cs.throwable(err))
		}
		if res == nil {
			return ctx.NewUndefined()
		}
		jv, err := cs.toValue(res)
		if err == nil {
			// The returned reference outlives cs.
			jv, err = cs.callHelper("identity", jv)
		}
		if err != nil {
			return ctx.Throw(cs.throwable(err))
		}
		return jv
	})
	return s.setGlobal(name, s.own(f))
}

func (s *scope) DeleteGlobal(name string) error {
	if err := s.check(); err != nil {
		return err
	}
	res, err := s.callHelper("deleteGlobal", s.own(s.engine.Ctx.NewString(name)))
	if err != nil {
		return err
	}
	res.Free()
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
	if hh.released {
		return nil, fmt.Errorf("handle has been released")
	}
	jsArgs := make([]*quickjs.Value, 0, len(args)+1)
	jsArgs = append(jsArgs, s.own(s.engine.Ctx.NewString(hh.key)))
	for _, arg := range args {
		jv, err := s.toValue(arg)
		if err != nil {
			return nil, err
		}
		jsArgs = append(jsArgs, jv)
	}
	res, err := s.callHelper("call", jsArgs...)
	if err != nil {
		return nil, err
	}
	return s.wrap(s.own(res)), nil
}

func (s *scope) RunMicrotasks() error {
	if err := s.check(); err != nil {
		return err
	}
	s.engine.Ctx.Loop()
	return enginekit.ContextError(s.ctx)
}

// toValue converts Go data into a value owned by the scope. Composite values
// go through the context's marshaller.
func (s *scope) toValue(v any) (*quickjs.Value, error) {
	ctx := s.engine.Ctx
	switch x := v.(type) {
	case nil:
		return s.own(ctx.NewNull()), nil
	case *value:
		if x.scope.engine != s.engine {
			return nil, fmt.Errorf("value belongs to another engine")
		}
		return x.v, nil
	case string:
		return s.own(ctx.NewString(x)), nil
	case bool:
		return s.own(ctx.NewBool(x)), nil
	case int:
		return s.own(ctx.NewInt64(int64(x))), nil
	case int32:
		return s.own(ctx.NewInt64(int64(x))), nil
	case int64:
		return s.own(ctx.NewInt64(x)), nil
	case uint32:
		return s.own(ctx.NewInt64(int64(x))), nil
	case uint64:
		if x > math.MaxInt64 {
			return s.own(ctx.NewFloat64(float64(x))), nil
		}
		return s.own(ctx.NewInt64(int64(x))), nil
	case float32:
		return s.own(ctx.NewFloat64(float64(x))), nil
	case float64:
		return s.own(ctx.NewFloat64(x)), nil
	default:
		jv, err := ctx.Marshal(v)
		if err != nil {
			if jv != nil {
				jv.Free()
			}
			return nil, fmt.Errorf("failed to marshal %T: %w", v, err)
		}
		return s.own(jv), nil
	}
}

// throwable builds the error object thrown for a host error. The result is
// not owned by the scope; Throw takes it over.
func (s *scope) throwable(err error) *quickjs.Value {
	ctx := s.engine.Ctx
	name, msg := jsworker.ErrorName(err)
	obj, herr := s.callHelper("makeError", s.own(ctx.NewString(name)), s.own(ctx.NewString(msg)))
	if herr != nil {
		return ctx.NewError(errors.New(msg))
	}
	return obj
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
	args  []*quickjs.Value
}

func (c *functionCall) Len() int { return len(c.args) }

func (c *functionCall) Argument(i int) jsworker.Value {
	if i < 0 || i >= len(c.args) {
		return c.scope.wrap(c.scope.own(c.scope.engine.Ctx.NewUndefined()))
	}
	return c.scope.wrap(c.args[i])
}

func (c *functionCall) Scope() jsworker.Scope { return c.scope }

type value struct {
	scope *scope
	v     *quickjs.Value
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
	res, err := v.scope.callHelper("toString", v.v)
	if err != nil {
		return "", enginekit.Conversion(err)
	}
	defer res.Free()
	return res.String(), nil
}

func (v *value) Export() (any, error) {
	if err := v.scope.check(); err != nil {
		return nil, err
	}
	if v.v.IsUndefined() || v.v.IsNull() || v.v.IsFunction() || v.v.IsSymbol() {
		return nil, nil
	}
	res, err := v.scope.callHelper("stringify", v.v)
	if err != nil {
		return nil, err
	}
	defer res.Free()
	if res.IsUndefined() {
		return nil, nil
	}
	var out any
	if err := json.Unmarshal([]byte(res.String()), &out); err != nil {
		return nil, fmt.Errorf("failed to decode exported value: %w", err)
	}
	return out, nil
}

func (v *value) Get(key string) (jsworker.Value, error) {
	if err := v.scope.check(); err != nil {
		return nil, err
	}
	if !v.v.IsObject() {
		return nil, jsworker.NewTypeError("cannot read property %q of a non-object", key)
	}
	res := v.v.Get(key)
	if res.IsException() {
		res.Free()
		return nil, v.scope.exception(jsworker.RuntimeError)
	}
	return v.scope.wrap(v.scope.own(res)), nil
}

func (v *value) Persist() (jsworker.Handle, error) {
	if err := v.scope.check(); err != nil {
		return nil, err
	}
	if !v.v.IsFunction() {
		return nil, jsworker.NewTypeError("value is not a function")
	}
	e := v.scope.engine
	e.nextHandle++
	key := "h" + strconv.FormatUint(e.nextHandle, 10)
	res, err := v.scope.callHelper("keep", v.scope.own(e.Ctx.NewString(key)), v.v)
	if err != nil {
		return nil, err
	}
	res.Free()
	return &handle{engine: e, key: key}, nil
}

// handle names a function kept alive in the helpers' registry.
type handle struct {
	engine   *Engine
	key      string
	released bool
}

func (h *handle) Release() {
	if h.released {
		return
	}
	h.released = true
	e := h.engine
	if e.Ctx == nil || e.helpers == nil {
		return
	}
	drop := e.helpers.Get("drop")
	defer drop.Free()
	key := e.Ctx.NewString(h.key)
	defer key.Free()
	drop.Execute(e.helpers, key).Free()
}
