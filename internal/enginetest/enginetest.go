// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

// Package enginetest is a behavioural suite every engine backend must pass.
package enginetest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	jsworker "github.com/buke/js-worker"
	"github.com/stretchr/testify/require"
)

// Run executes the whole suite against engines built by factory.
func Run(t *testing.T, factory jsworker.EngineFactory) {
	t.Helper()
	tests := []struct {
		name string
		fn   func(t *testing.T, e jsworker.Engine)
	}{
		{"Eval", testEval},
		{"CompileError", testCompileError},
		{"RuntimeError", testRuntimeError},
		{"Globals", testGlobals},
		{"HostFunction", testHostFunction},
		{"HostFunctionError", testHostFunctionError},
		{"Handles", testHandles},
		{"Microtasks", testMicrotasks},
		{"SymbolToString", testSymbolToString},
		{"ScopeLifetime", testScopeLifetime},
		{"CanceledContext", testCanceledContext},
		{"Interrupt", testInterrupt},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := factory()
			require.NoError(t, err)
			defer e.Close()
			tt.fn(t, e)
		})
	}

	t.Run("Close", func(t *testing.T) {
		e, err := factory()
		require.NoError(t, err)
		require.NoError(t, e.Close())
		require.NoError(t, e.Close())
		err = e.Run(context.Background(), func(jsworker.Scope) error { return nil })
		require.ErrorIs(t, err, jsworker.ErrClosed)
	})
}

// evalString evaluates src in a fresh scope and returns its string form.
func evalString(t *testing.T, e jsworker.Engine, src string) string {
	t.Helper()
	var out string
	err := e.Run(context.Background(), func(s jsworker.Scope) error {
		v, err := s.Eval("test.js", src)
		if err != nil {
			return err
		}
		out, err = v.ToString()
		return err
	})
	require.NoError(t, err)
	return out
}

func testEval(t *testing.T, e jsworker.Engine) {
	require.Equal(t, "3", evalString(t, e, "1 + 2"))
	require.Equal(t, "[object Object]", evalString(t, e, "({})"))

	evalString(t, e, "var counter = 41;")
	require.Equal(t, "42", evalString(t, e, "++counter"))
}

func testCompileError(t *testing.T, e jsworker.Engine) {
	err := e.Run(context.Background(), func(s jsworker.Scope) error {
		_, err := s.Eval("broken.js", "var a =;")
		return err
	})
	require.ErrorIs(t, err, jsworker.ErrCompile)

	var evalErr *jsworker.EvalError
	require.True(t, errors.As(err, &evalErr))
	require.Equal(t, jsworker.CompileError, evalErr.Kind)
}

func testRuntimeError(t *testing.T, e jsworker.Engine) {
	err := e.Run(context.Background(), func(s jsworker.Scope) error {
		_, err := s.Eval("throw.js", "throw new TypeError('bad input')")
		return err
	})
	require.ErrorIs(t, err, jsworker.ErrRuntime)
	require.ErrorContains(t, err, "bad input")

	// The engine stays usable after a script error.
	require.Equal(t, "ok", evalString(t, e, "'ok'"))
}

func testGlobals(t *testing.T, e jsworker.Engine) {
	err := e.Run(context.Background(), func(s jsworker.Scope) error {
		if err := s.SetGlobal("config", map[string]any{"name": "demo", "size": 3}); err != nil {
			return err
		}
		v, err := s.Global("config")
		if err != nil {
			return err
		}
		require.True(t, v.IsObject())

		name, err := v.Get("name")
		if err != nil {
			return err
		}
		str, err := name.ToString()
		require.NoError(t, err)
		require.Equal(t, "demo", str)

		exported, err := v.Export()
		require.NoError(t, err)
		m, ok := exported.(map[string]any)
		require.True(t, ok, "exported %T", exported)
		require.Equal(t, "3", fmt.Sprint(m["size"]))

		missing, err := s.Global("nothingHere")
		require.NoError(t, err)
		require.True(t, missing.IsUndefined())

		return s.DeleteGlobal("config")
	})
	require.NoError(t, err)
	require.Equal(t, "undefined", evalString(t, e, "typeof config"))
}

func testHostFunction(t *testing.T, e jsworker.Engine) {
	var seen []string
	err := e.Run(context.Background(), func(s jsworker.Scope) error {
		return s.SetFunction("greet", func(call jsworker.FunctionCall) (any, error) {
			for i := 0; i < call.Len(); i++ {
				str, err := call.Argument(i).ToString()
				if err != nil {
					return nil, err
				}
				seen = append(seen, str)
			}
			require.True(t, call.Argument(call.Len()).IsUndefined())
			return "hello " + seen[0], nil
		})
	})
	require.NoError(t, err)

	require.Equal(t, "hello world", evalString(t, e, "greet('world', 7)"))
	require.Equal(t, []string{"world", "7"}, seen)
	require.Equal(t, "function", evalString(t, e, "typeof greet"))
}

func testHostFunctionError(t *testing.T, e jsworker.Engine) {
	err := e.Run(context.Background(), func(s jsworker.Scope) error {
		if err := s.SetFunction("failTyped", func(jsworker.FunctionCall) (any, error) {
			return nil, jsworker.NewTypeError("need %d args", 2)
		}); err != nil {
			return err
		}
		return s.SetFunction("failNamed", func(jsworker.FunctionCall) (any, error) {
			return nil, &jsworker.ScriptError{Name: "InvalidCharacterError", Message: "bad char"}
		})
	})
	require.NoError(t, err)

	require.Equal(t, "true TypeError need 2 args", evalString(t, e,
		"try { failTyped(); 'no' } catch (e) { (e instanceof TypeError) + ' ' + e.name + ' ' + e.message }"))
	require.Equal(t, "InvalidCharacterError bad char", evalString(t, e,
		"try { failNamed(); 'no' } catch (e) { e.name + ' ' + e.message }"))
}

func testHandles(t *testing.T, e jsworker.Engine) {
	var h jsworker.Handle
	err := e.Run(context.Background(), func(s jsworker.Scope) error {
		v, err := s.Eval("fn.js", "(function (a, b) { return a + b; })")
		if err != nil {
			return err
		}
		require.True(t, v.IsFunction())
		h, err = v.Persist()
		return err
	})
	require.NoError(t, err)

	err = e.Run(context.Background(), func(s jsworker.Scope) error {
		res, err := s.Call(h, 2, 3)
		if err != nil {
			return err
		}
		str, err := res.ToString()
		require.NoError(t, err)
		require.Equal(t, "5", str)
		return nil
	})
	require.NoError(t, err)

	h.Release()
	err = e.Run(context.Background(), func(s jsworker.Scope) error {
		_, err := s.Call(h, 1, 1)
		return err
	})
	require.Error(t, err)

	err = e.Run(context.Background(), func(s jsworker.Scope) error {
		v, err := s.Eval("num.js", "42")
		if err != nil {
			return err
		}
		_, err = v.Persist()
		return err
	})
	require.ErrorContains(t, err, "not a function")
}

func testMicrotasks(t *testing.T, e jsworker.Engine) {
	err := e.Run(context.Background(), func(s jsworker.Scope) error {
		if _, err := s.Eval("promise.js", "var settled = false; Promise.resolve().then(() => { settled = true; });"); err != nil {
			return err
		}
		return s.RunMicrotasks()
	})
	require.NoError(t, err)
	require.Equal(t, "true", evalString(t, e, "settled"))
}

func testSymbolToString(t *testing.T, e jsworker.Engine) {
	err := e.Run(context.Background(), func(s jsworker.Scope) error {
		v, err := s.Eval("symbol.js", "Symbol('x')")
		if err != nil {
			return err
		}
		_, err = v.ToString()
		return err
	})
	require.ErrorIs(t, err, jsworker.ErrConversion)

	err = e.Run(context.Background(), func(s jsworker.Scope) error {
		v, err := s.Eval("throwing.js", "({ toString() { throw new Error('nope'); } })")
		if err != nil {
			return err
		}
		_, err = v.ToString()
		return err
	})
	require.ErrorIs(t, err, jsworker.ErrConversion)
}

func testScopeLifetime(t *testing.T, e jsworker.Engine) {
	var leaked jsworker.Scope
	err := e.Run(context.Background(), func(s jsworker.Scope) error {
		leaked = s
		return nil
	})
	require.NoError(t, err)

	_, err = leaked.Eval("late.js", "1")
	require.ErrorIs(t, err, jsworker.ErrScopeClosed)

	sentinel := errors.New("callback failed")
	err = e.Run(context.Background(), func(jsworker.Scope) error { return sentinel })
	require.ErrorIs(t, err, sentinel)

	err = e.Run(context.Background(), func(jsworker.Scope) error { panic("kaput") })
	require.ErrorContains(t, err, "kaput")
}

func testCanceledContext(t *testing.T, e jsworker.Engine) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := e.Run(ctx, func(jsworker.Scope) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, jsworker.ErrRuntime)
	require.False(t, called)
}

func testInterrupt(t *testing.T, e jsworker.Engine) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := e.Run(ctx, func(s jsworker.Scope) error {
		_, err := s.Eval("spin.js", "for (;;) {}")
		return err
	})
	require.ErrorIs(t, err, jsworker.ErrRuntime)
	require.Less(t, time.Since(start), 5*time.Second)

	require.Equal(t, "alive", evalString(t, e, "'alive'"))
}
