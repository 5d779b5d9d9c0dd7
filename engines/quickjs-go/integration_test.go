// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package quickjsengine

import (
	"testing"

	"github.com/buke/js-worker/internal/enginetest"
)

func TestIntegration_QuickjsWorker(t *testing.T) {
	enginetest.RunWorker(t, NewFactory())
}

func TestIntegration_QuickjsWorkerWithLimits(t *testing.T) {
	enginetest.RunWorker(t, NewFactory(
		WithMemoryLimit(64*1024*1024),
		WithMaxStackSize(1024*1024),
		WithGCThreshold(8*1024*1024),
	))
}
