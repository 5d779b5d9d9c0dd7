//go:build !windows

// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package v8engine

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Option configures a V8 engine before its isolate is created.
type Option func(*Engine) error

// EngineOption holds specific configurations for the V8 engine.
type EngineOption struct {
	RunTimeout time.Duration
	Logger     *zap.Logger
}

// WithRunTimeout terminates any single scope that runs longer than timeout,
// on top of the caller's context.
func WithRunTimeout(timeout time.Duration) Option {
	return func(e *Engine) error {
		if timeout <= 0 {
			return fmt.Errorf("run timeout must be positive, got %s", timeout)
		}
		e.Option.RunTimeout = timeout
		return nil
	}
}

// WithLogger sets the logger for engine diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		e.Option.Logger = logger
		return nil
	}
}
