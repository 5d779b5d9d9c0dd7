// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package gojaengine

import (
	"errors"
	"fmt"
	"reflect"

	jsworker "github.com/buke/js-worker"
	"github.com/buke/js-worker/internal/enginekit"
	"github.com/dop251/goja"
)

// microtasks is run to make goja drain its job queue, which it does whenever
// the outermost call returns.
var microtasks = goja.MustCompile("microtasks.js", "", false)

var builtinErrors = map[string]bool{
	"Error":          true,
	"TypeError":      true,
	"RangeError":     true,
	"SyntaxError":    true,
	"ReferenceError": true,
	"EvalError":      true,
	"URIError":       true,
}

type scope struct {
	engine *Engine
	vm     *goja.Runtime
	closed bool
}

func (s *scope) close() { s.closed = true }

func (s *scope) check() error {
	if s.closed {
		return jsworker.ErrScopeClosed
	}
	return nil
}

func (s *scope) wrap(v goja.Value) *value {
	if v == nil {
		v = goja.Undefined()
	}
	return &value{scope: s, v: v}
}

func (s *scope) Eval(name, src string) (jsworker.Value, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	prg, err := goja.Compile(name, src, false)
	if err != nil {
		return nil, jsworker.NewEvalError(jsworker.CompileError, err)
	}
	v, err := s.vm.RunProgram(prg)
	if err != nil {
		return nil, runtimeError(err)
	}
	return s.wrap(v), nil
}

func (s *scope) Global(name string) (jsworker.Value, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return s.wrap(s.vm.Get(name)), nil
}

func (s *scope) SetGlobal(name string, v any) error {
	if err := s.check(); err != nil {
		return err
	}
	jv, err := s.toValue(v)
	if err != nil {
		return err
	}
	return s.vm.Set(name, jv)
}

func (s *scope) SetFunction(name string, fn jsworker.HostFunc) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.vm.Set(name, s.engine.hostFunction(s.vm, name, fn))
}

func (s *scope) DeleteGlobal(name string) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.vm.GlobalObject().Delete(name)
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
	jsArgs := make([]goja.Value, len(args))
	for i, arg := range args {
		jv, err := s.toValue(arg)
		if err != nil {
			return nil, err
		}
		jsArgs[i] = jv
	}
	res, err := hh.fn(goja.Undefined(), jsArgs...)
	if err != nil {
		return nil, runtimeError(err)
	}
	return s.wrap(res), nil
}

func (s *scope) RunMicrotasks() error {
	if err := s.check(); err != nil {
		return err
	}
	if _, err := s.vm.RunProgram(microtasks); err != nil {
		return runtimeError(err)
	}
	return nil
}

func (s *scope) toValue(v any) (goja.Value, error) {
	switch x := v.(type) {
	case nil:
		return goja.Null(), nil
	case *value:
		if x.scope.vm != s.vm {
			return nil, fmt.Errorf("value belongs to another engine")
		}
		return x.v, nil
	case goja.Value:
		return x, nil
	default:
		return s.vm.ToValue(v), nil
	}
}

// throwable converts a host error into the value thrown into script.
func (s *scope) throwable(err error) goja.Value {
	var ex *goja.Exception
	if errors.As(err, &ex) {
		return ex.Value()
	}
	name, msg := jsworker.ErrorName(err)
	return s.newError(name, msg)
}

func (s *scope) newError(name, msg string) goja.Value {
	if name == "TypeError" {
		return s.vm.NewTypeError(msg)
	}
	ctorName := name
	if !builtinErrors[name] {
		ctorName = "Error"
	}
	ctor, ok := goja.AssertConstructor(s.vm.Get(ctorName))
	if !ok {
		return s.vm.NewGoError(errors.New(msg))
	}
	obj, err := ctor(nil, s.vm.ToValue(msg))
	if err != nil {
		return s.vm.NewGoError(errors.New(msg))
	}
	if ctorName != name {
		_ = obj.Set("name", name)
	}
	return obj
}

// hostFunction adapts fn to a goja native function. Each invocation gets its
// own scope that ends with the call.
func (e *Engine) hostFunction(vm *goja.Runtime, name string, fn jsworker.HostFunc) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		s := &scope{engine: e, vm: vm}
		defer s.close()

		res, err := invokeHost(name, fn, &functionCall{scope: s, call: call})
		if err != nil {
			panic(s.throwable(err))
		}
		if res == nil {
			return goja.Undefined()
		}
		jv, err := s.toValue(res)
		if err != nil {
			panic(s.throwable(err))
		}
		return jv
	}
}

// invokeHost turns Go panics into errors. Panics raised by goja itself carry
// script exceptions and interrupts, and keep unwinding.
func invokeHost(name string, fn jsworker.HostFunc, call jsworker.FunctionCall) (res any, err error) {
	defer func() {
		if r := recover(); r != nil {
			if isGojaPanic(r) {
				panic(r)
			}
			err = fmt.Errorf("host function %s panicked: %v", name, r)
		}
	}()
	return fn(call)
}

var gojaPkgPath = reflect.TypeOf(goja.Exception{}).PkgPath()

func isGojaPanic(r any) bool {
	if _, ok := r.(goja.Value); ok {
		return true
	}
	t := reflect.TypeOf(r)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t != nil && t.PkgPath() == gojaPkgPath
}

func runtimeError(err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		cause, ok := interrupted.Value().(error)
		if !ok {
			cause = err
		}
		return enginekit.Interrupted(cause)
	}
	var ex *goja.Exception
	if errors.As(err, &ex) {
		return &jsworker.EvalError{
			Kind:    jsworker.RuntimeError,
			Message: describe(ex.Value()),
			Stack:   ex.String(),
			Cause:   err,
		}
	}
	return jsworker.NewEvalError(jsworker.RuntimeError, err)
}

// describe renders a thrown value without letting a throwing toString escape.
func describe(v goja.Value) (s string) {
	if v == nil {
		return "undefined"
	}
	defer func() {
		if r := recover(); r != nil {
			s = "[unprintable]"
		}
	}()
	return v.String()
}

type functionCall struct {
	scope *scope
	call  goja.FunctionCall
}

func (c *functionCall) Len() int { return len(c.call.Arguments) }

func (c *functionCall) Argument(i int) jsworker.Value {
	return c.scope.wrap(c.call.Argument(i))
}

func (c *functionCall) Scope() jsworker.Scope { return c.scope }

type value struct {
	scope *scope
	v     goja.Value
}

func (v *value) IsFunction() bool {
	_, ok := goja.AssertFunction(v.v)
	return ok
}

func (v *value) IsObject() bool {
	_, ok := v.v.(*goja.Object)
	return ok
}

func (v *value) IsArray() bool {
	obj, ok := v.v.(*goja.Object)
	return ok && obj.ClassName() == "Array"
}

func (v *value) IsUndefined() bool { return goja.IsUndefined(v.v) }

func (v *value) ToString() (string, error) {
	if err := v.scope.check(); err != nil {
		return "", err
	}
	if _, ok := v.v.(*goja.Symbol); ok {
		return "", enginekit.Conversion(errors.New("TypeError: Cannot convert a Symbol value to a string"))
	}
	var out string
	if ex := v.scope.vm.Try(func() { out = v.v.String() }); ex != nil {
		return "", enginekit.Conversion(ex)
	}
	return out, nil
}

func (v *value) Export() (any, error) {
	if err := v.scope.check(); err != nil {
		return nil, err
	}
	var out any
	if ex := v.scope.vm.Try(func() { out = v.v.Export() }); ex != nil {
		return nil, runtimeError(ex)
	}
	return out, nil
}

func (v *value) Get(key string) (jsworker.Value, error) {
	if err := v.scope.check(); err != nil {
		return nil, err
	}
	var res goja.Value
	vm := v.scope.vm
	if ex := vm.Try(func() { res = v.v.ToObject(vm).Get(key) }); ex != nil {
		return nil, runtimeError(ex)
	}
	return v.scope.wrap(res), nil
}

func (v *value) Persist() (jsworker.Handle, error) {
	if err := v.scope.check(); err != nil {
		return nil, err
	}
	fn, ok := goja.AssertFunction(v.v)
	if !ok {
		return nil, jsworker.NewTypeError("value is not a function")
	}
	return &handle{engine: v.scope.engine, fn: fn}, nil
}

// handle keeps a callable reachable; goja's garbage collector owns the rest.
type handle struct {
	engine   *Engine
	fn       goja.Callable
	released bool
}

func (h *handle) Release() { h.released = true }
