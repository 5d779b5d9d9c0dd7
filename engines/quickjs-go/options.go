// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package quickjsengine

import (
	"fmt"

	"go.uber.org/zap"
)

// Option configures a QuickJS engine after its runtime is created.
type Option func(*Engine) error

// EngineOption holds configuration options for a QuickJS engine instance.
type EngineOption struct {
	Timeout      uint64      `json:"timeout"`      // Script execution timeout in seconds (0 = no timeout)
	MemoryLimit  uint64      `json:"memoryLimit"`  // Memory limit in bytes (0 = no limit)
	GCThreshold  int64       `json:"gcThreshold"`  // GC threshold in bytes (-1 = disable, 0 = default)
	MaxStackSize uint64      `json:"maxStackSize"` // Stack size in bytes (0 = default)
	CanBlock     bool        `json:"canBlock"`     // Whether Atomics.wait may block
	Strip        int         `json:"strip"`        // Debug info stripped from compiled code
	Logger       *zap.Logger `json:"-"`
}

// WithGCThreshold sets the garbage collection threshold for the engine.
// Use -1 to disable automatic GC, 0 for default, or a positive value for a custom threshold.
func WithGCThreshold(threshold int64) Option {
	return func(e *Engine) error {
		if threshold < -1 {
			return fmt.Errorf("invalid GC threshold: %d", threshold)
		}
		e.Option.GCThreshold = threshold
		e.Runtime.SetGCThreshold(threshold)
		return nil
	}
}

// WithMemoryLimit sets the memory limit for the JavaScript runtime in bytes.
// If limit is 0, there is no memory limit.
func WithMemoryLimit(limit uint64) Option {
	return func(e *Engine) error {
		e.Option.MemoryLimit = limit
		e.Runtime.SetMemoryLimit(limit)
		return nil
	}
}

// WithTimeout bounds every Run to timeout seconds, on top of the caller's
// context. If timeout is 0, there is no timeout. The deadline is enforced by
// the engine's interrupt handler; the runtime's own execute timeout would
// replace that handler.
func WithTimeout(timeout uint64) Option {
	return func(e *Engine) error {
		e.Option.Timeout = timeout
		return nil
	}
}

// WithMaxStackSize sets the stack size for the JavaScript runtime in bytes.
// If size is 0, the default stack size is used.
func WithMaxStackSize(size uint64) Option {
	return func(e *Engine) error {
		e.Option.MaxStackSize = size
		e.Runtime.SetMaxStackSize(size)
		return nil
	}
}

// WithCanBlock sets whether Atomics.wait may block the runtime.
func WithCanBlock(canBlock bool) Option {
	return func(e *Engine) error {
		e.Option.CanBlock = canBlock
		e.Runtime.SetCanBlock(canBlock)
		return nil
	}
}

// WithStrip sets the strip level for bytecode compilation.
// 0 = no stripping, higher values strip more debug information.
func WithStrip(strip int) Option {
	return func(e *Engine) error {
		if strip < 0 || strip > 2 {
			return fmt.Errorf("invalid strip level: %d", strip)
		}
		e.Option.Strip = strip
		e.Runtime.SetStripInfo(strip)
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
