// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

// Package enginekit holds plumbing shared by the engine backends.
package enginekit

import (
	"context"
	"fmt"

	jsworker "github.com/buke/js-worker"
)

// Guard calls fn and turns a panic into an error, so no engine failure
// crosses Engine.Run as a panic.
func Guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = fmt.Errorf("panic in engine scope: %w", e)
				return
			}
			err = fmt.Errorf("panic in engine scope: %v", r)
		}
	}()
	return fn()
}

// ContextError reports a done context as a RuntimeError, or nil.
func ContextError(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return Interrupted(err)
	}
	return nil
}

// Interrupted is the RuntimeError returned when execution was cut short.
func Interrupted(cause error) *jsworker.EvalError {
	return &jsworker.EvalError{
		Kind:    jsworker.RuntimeError,
		Message: "execution interrupted: " + cause.Error(),
		Cause:   cause,
	}
}

// Conversion is the ConversionError for a value that has no string form.
func Conversion(cause error) *jsworker.EvalError {
	return jsworker.NewEvalError(jsworker.ConversionError, cause)
}

// HelpersScript evaluates to an object of helper functions for backends that
// cannot build error objects or stringify values natively. The handle
// registry keeps callables alive across scopes.
const HelpersScript = `(function () {
  const builtin = { Error, TypeError, RangeError, SyntaxError, ReferenceError, EvalError, URIError };
  const handles = Object.create(null);
  return {
    makeError(name, message) {
      const Ctor = builtin[name] || Error;
      const err = new Ctor(message);
      if (!builtin[name]) err.name = name;
      return err;
    },
    toString(value) {
      return String(value);
    },
    stringify(value) {
      return JSON.stringify(value);
    },
    isSymbol(value) {
      return typeof value === 'symbol';
    },
    identity(value) {
      return value;
    },
    setGlobal(name, value) {
      globalThis[name] = value;
    },
    deleteGlobal(name) {
      return delete globalThis[name];
    },
    keep(key, fn) {
      handles[key] = fn;
    },
    drop(key) {
      delete handles[key];
    },
    call(key, ...args) {
      return handles[key].apply(undefined, args);
    },
  };
})()`
