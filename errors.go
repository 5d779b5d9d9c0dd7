// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package jsworker

import (
	"errors"
	"fmt"
)

var (
	ErrCompile    = errors.New("compile error")
	ErrRuntime    = errors.New("runtime error")
	ErrConversion = errors.New("conversion error")

	// ErrNoHandler means the script never registered a message handler, so a
	// dispatch produced no result.
	ErrNoHandler = errors.New("no message handler registered")

	// ErrNoResponse means a fetch event settled without a response.
	ErrNoResponse = errors.New("worker did not respond to fetch event")

	ErrHandlerRegistered = errors.New("Handler already registered")
	ErrClosed            = errors.New("runtime is closed")
	ErrScopeClosed       = errors.New("scope used outside of its callback")
	ErrBootstrap         = errors.New("bootstrap script failed")
)

// EvalErrorKind classifies an evaluation failure.
type EvalErrorKind int

const (
	CompileError EvalErrorKind = iota + 1
	RuntimeError
	ConversionError
)

// String returns the kind name used in error messages.
func (k EvalErrorKind) String() string {
	switch k {
	case CompileError:
		return "CompileError"
	case RuntimeError:
		return "RuntimeError"
	case ConversionError:
		return "ConversionError"
	default:
		return fmt.Sprintf("EvalErrorKind(%d)", int(k))
	}
}

func (k EvalErrorKind) sentinel() error {
	switch k {
	case CompileError:
		return ErrCompile
	case RuntimeError:
		return ErrRuntime
	case ConversionError:
		return ErrConversion
	default:
		return nil
	}
}

// EvalError is a failure reported by the engine while compiling, running or
// converting script.
type EvalError struct {
	Kind    EvalErrorKind
	Message string
	Stack   string
	Cause   error
}

// NewEvalError wraps cause as an EvalError of the given kind.
func NewEvalError(kind EvalErrorKind, cause error) *EvalError {
	e := &EvalError{Kind: kind, Cause: cause}
	if cause != nil {
		e.Message = cause.Error()
	}
	return e
}

func (e *EvalError) Error() string {
	if e.Message == "" {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Message
}

// Unwrap returns the underlying cause, if any.
func (e *EvalError) Unwrap() error { return e.Cause }

// Is matches the kind sentinels, so errors.Is(err, ErrCompile) works for any
// compile failure.
func (e *EvalError) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

// ScriptError is returned from a HostFunc to throw a named script exception.
type ScriptError struct {
	Name    string
	Message string
	Cause   error
}

// NewTypeError builds a ScriptError thrown as a TypeError.
func NewTypeError(format string, args ...any) *ScriptError {
	return &ScriptError{Name: "TypeError", Message: fmt.Sprintf(format, args...)}
}

// Error returns "<name>: <message>", or the message alone when unnamed.
func (e *ScriptError) Error() string {
	if e.Name == "" {
		return e.Message
	}
	return e.Name + ": " + e.Message
}

func (e *ScriptError) Unwrap() error { return e.Cause }

// ErrorName returns the constructor name a backend should use for err when it
// is thrown into script, and the message to throw with.
func ErrorName(err error) (name, message string) {
	var se *ScriptError
	if errors.As(err, &se) {
		name = se.Name
		if name == "" {
			name = "Error"
		}
		return name, se.Message
	}
	return "Error", err.Error()
}
