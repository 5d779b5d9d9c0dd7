// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package quickjsengine

import (
	"context"
	"errors"
	"testing"

	jsworker "github.com/buke/js-worker"
	"github.com/buke/js-worker/internal/enginetest"
	"github.com/stretchr/testify/require"
)

func TestEngineConformance(t *testing.T) {
	enginetest.Run(t, NewFactory())
}

func TestNewEngine(t *testing.T) {
	engine, err := newEngine()
	require.NoError(t, err)
	require.NotNil(t, engine.Runtime)
	require.NotNil(t, engine.Ctx)
	require.NotNil(t, engine.helpers)
	require.Equal(t, int64(-1), engine.Option.GCThreshold)
	require.Equal(t, 1, engine.Option.Strip)
	require.NoError(t, engine.Close())
}

func TestNewEngine_OptionError(t *testing.T) {
	expectedErr := errors.New("option failed")
	engine, err := newEngine(func(*Engine) error { return expectedErr })
	require.ErrorIs(t, err, expectedErr)
	require.Nil(t, engine)
}

func TestEngine_HandlesSurviveScopes(t *testing.T) {
	engine, err := newEngine()
	require.NoError(t, err)
	defer engine.Close()

	var handles []jsworker.Handle
	err = engine.Run(context.Background(), func(s jsworker.Scope) error {
		for _, src := range []string{"(() => 'first')", "(() => 'second')"} {
			v, err := s.Eval("fn.js", src)
			if err != nil {
				return err
			}
			h, err := v.Persist()
			if err != nil {
				return err
			}
			handles = append(handles, h)
		}
		return nil
	})
	require.NoError(t, err)

	// Releasing one handle leaves the other callable.
	handles[0].Release()
	handles[0].Release()
	err = engine.Run(context.Background(), func(s jsworker.Scope) error {
		v, err := s.Call(handles[1])
		if err != nil {
			return err
		}
		out, err := v.ToString()
		require.NoError(t, err)
		require.Equal(t, "second", out)
		return nil
	})
	require.NoError(t, err)
}

func TestEngine_HostReturnsComposite(t *testing.T) {
	engine, err := newEngine()
	require.NoError(t, err)
	defer engine.Close()

	var out string
	err = engine.Run(context.Background(), func(s jsworker.Scope) error {
		if err := s.SetFunction("info", func(jsworker.FunctionCall) (any, error) {
			return map[string]any{"name": "quickjs", "tags": []string{"a", "b"}}, nil
		}); err != nil {
			return err
		}
		v, err := s.Eval("info.js", "const i = info(); i.name + ':' + i.tags.join(',')")
		if err != nil {
			return err
		}
		out, err = v.ToString()
		return err
	})
	require.NoError(t, err)
	require.Equal(t, "quickjs:a,b", out)
}

func TestEngine_HostPanic(t *testing.T) {
	engine, err := newEngine()
	require.NoError(t, err)
	defer engine.Close()

	var out string
	err = engine.Run(context.Background(), func(s jsworker.Scope) error {
		if err := s.SetFunction("explode", func(jsworker.FunctionCall) (any, error) {
			panic("boom")
		}); err != nil {
			return err
		}
		v, err := s.Eval("panic.js", "try { explode(); 'no' } catch (e) { e.message }")
		if err != nil {
			return err
		}
		out, err = v.ToString()
		return err
	})
	require.NoError(t, err)
	require.Contains(t, out, "boom")
}

func TestEngine_Close(t *testing.T) {
	engine, err := newEngine()
	require.NoError(t, err)
	require.NoError(t, engine.Close())
	require.Nil(t, engine.Ctx)
	require.Nil(t, engine.Runtime)
	require.Nil(t, engine.helpers)
	require.NoError(t, engine.Close())
}
