//go:build !windows

// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package v8engine

import (
	"context"
	"testing"
	"time"

	jsworker "github.com/buke/js-worker"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWithRunTimeout(t *testing.T) {
	engine, err := newEngine(WithRunTimeout(50 * time.Millisecond))
	require.NoError(t, err)
	defer engine.Close()
	require.Equal(t, 50*time.Millisecond, engine.Option.RunTimeout)

	err = engine.Run(context.Background(), func(s jsworker.Scope) error {
		_, err := s.Eval("spin.js", "for (;;) {}")
		return err
	})
	require.ErrorIs(t, err, jsworker.ErrRuntime)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWithRunTimeout_Invalid(t *testing.T) {
	_, err := newEngine(WithRunTimeout(0))
	require.ErrorContains(t, err, "run timeout must be positive")
}

func TestWithLogger(t *testing.T) {
	logger := zap.NewExample()
	engine, err := newEngine(WithLogger(logger))
	require.NoError(t, err)
	defer engine.Close()
	require.Same(t, logger, engine.Option.Logger)

	_, err = newEngine(WithLogger(nil))
	require.ErrorContains(t, err, "logger cannot be nil")
}
