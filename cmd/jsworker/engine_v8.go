//go:build !windows

// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package main

import (
	jsworker "github.com/buke/js-worker"
	v8engine "github.com/buke/js-worker/engines/v8go"
)

func init() {
	engines["v8go"] = func() jsworker.EngineFactory { return v8engine.NewFactory() }
}
