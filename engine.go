// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package jsworker

import "context"

// JsScript is a named piece of JavaScript source evaluated into a context.
type JsScript struct {
	Content  string // Script content
	FileName string // Script file name for debugging purposes
}

// EngineFactory creates a new engine, i.e. one isolate plus its execution context.
type EngineFactory func() (Engine, error)

// EngineOption is a function that configures an engine at construction time.
type EngineOption func(Engine) error

// Engine owns one isolate and a persistent reference to its execution context.
//
// The only way to touch engine objects is Run: the callback receives a Scope that,
// together with every Value obtained from it, is valid only until the callback
// returns. Anything that has to outlive the callback must be converted to Go data
// or persisted as a Handle.
type Engine interface {
	// Run opens a scope on the context and calls fn with it. Engine access is
	// serialized; Run blocks until fn returns. When ctx is done while script is
	// running the engine interrupts execution and the script call fails with a
	// RuntimeError.
	Run(ctx context.Context, fn func(Scope) error) error

	// Close tears down the context and then the isolate.
	Close() error
}

// Scope is the per-operation access handle to an execution context.
type Scope interface {
	// Eval compiles and runs src. Failures are *EvalError with kind CompileError
	// or RuntimeError.
	Eval(name, src string) (Value, error)

	// Global returns the named property of the global object.
	Global(name string) (Value, error)

	// SetGlobal sets a property of the global object. v is either a Value from
	// this scope or a Go value converted with NewValue.
	SetGlobal(name string, v any) error

	// SetFunction exposes fn to script as a global function.
	SetFunction(name string, fn HostFunc) error

	// DeleteGlobal removes a property of the global object.
	DeleteGlobal(name string) error

	// NewValue converts a Go value (nil, bool, numbers, string, []any,
	// map[string]any and anything JSON-encodable) into a script value.
	NewValue(v any) (Value, error)

	// Call invokes a persisted callable with an undefined receiver. A script
	// exception is returned as a *EvalError of kind RuntimeError.
	Call(h Handle, args ...any) (Value, error)

	// RunMicrotasks performs one pass over the pending microtask queue.
	RunMicrotasks() error
}

// Value is a scoped reference to a script value.
type Value interface {
	IsFunction() bool
	IsObject() bool
	IsUndefined() bool

	// IsArray reports whether the value is a script Array. Array-like objects
	// do not count.
	IsArray() bool

	// ToString converts the value the way String(v) does in script. Values
	// that cannot be converted yield a *EvalError of kind ConversionError.
	ToString() (string, error)

	// Export converts the value into plain Go data.
	Export() (any, error)

	// Get reads a property of an object value.
	Get(key string) (Value, error)

	// Persist promotes a callable to a Handle that survives the scope.
	Persist() (Handle, error)
}

// Handle is a persistent reference to a script callable. It stays valid across
// Run calls until released or until the engine is closed.
type Handle interface {
	Release()
}

// FunctionCall carries the arguments of a host function invocation. The scope
// and the argument values are valid only during the invocation.
type FunctionCall interface {
	Len() int
	Argument(i int) Value
	Scope() Scope
}

// HostFunc is a Go function callable from script. A non-nil error is raised as
// a script exception: *ScriptError keeps its name (TypeError, ...), any other
// error becomes a plain Error. The result is converted with Scope.NewValue; nil
// means undefined.
type HostFunc func(call FunctionCall) (any, error)
