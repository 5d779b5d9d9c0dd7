// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package gojaengine

import (
	"fmt"

	jsworker "github.com/buke/js-worker"
	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/require"
	"go.uber.org/zap"
)

// EngineOption holds configuration for a goja engine instance.
type EngineOption struct {
	MaxCallStackSize int
	EnableRequire    bool
	FieldNameMapper  goja.FieldNameMapper
	Logger           *zap.Logger
}

func asEngine(engine jsworker.Engine) (*Engine, error) {
	e, ok := engine.(*Engine)
	if !ok {
		return nil, fmt.Errorf("goja option applied to %T", engine)
	}
	return e, nil
}

// WithMaxCallStackSize sets the maximum call stack size for the runtime.
// A value of 0 or less means no limit.
func WithMaxCallStackSize(size int) Option {
	return func(engine jsworker.Engine) error {
		e, err := asEngine(engine)
		if err != nil {
			return err
		}
		e.Option.MaxCallStackSize = size
		e.onLoop(func(vm *goja.Runtime) {
			vm.SetMaxCallStackSize(size)
		})
		return nil
	}
}

// WithRequire enables require() for loading CommonJS modules.
func WithRequire() Option {
	return func(engine jsworker.Engine) error {
		e, err := asEngine(engine)
		if err != nil {
			return err
		}
		e.Option.EnableRequire = true
		e.onLoop(func(vm *goja.Runtime) {
			new(require.Registry).Enable(vm)
		})
		return nil
	}
}

// WithFieldNameMapper controls how Go struct fields are exposed to script.
func WithFieldNameMapper(mapper goja.FieldNameMapper) Option {
	return func(engine jsworker.Engine) error {
		e, err := asEngine(engine)
		if err != nil {
			return err
		}
		if mapper == nil {
			return nil
		}
		e.Option.FieldNameMapper = mapper
		e.onLoop(func(vm *goja.Runtime) {
			vm.SetFieldNameMapper(mapper)
		})
		return nil
	}
}

// WithLogger sets the logger for engine diagnostics such as unhandled
// promise rejections.
func WithLogger(logger *zap.Logger) Option {
	return func(engine jsworker.Engine) error {
		e, err := asEngine(engine)
		if err != nil {
			return err
		}
		if logger != nil {
			e.Option.Logger = logger
		}
		return nil
	}
}
