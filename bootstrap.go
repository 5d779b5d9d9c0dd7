// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package jsworker

import (
	"embed"
	"fmt"
)

//go:embed bootstrap
var bootstrapFS embed.FS

// Order matters: fetch-event.js extends events.js and needs the fetch classes,
// message.js registers the runtime's message handler and must run last.
var bootstrapOrder = []string{
	"init.js",
	"navigator.js",
	"events.js",
	"fetch/headers.js",
	"fetch/response.js",
	"fetch/request.js",
	"fetch/fetch-event.js",
	"message.js",
}

// DefaultBootstrap returns the embedded worker bootstrap scripts in load order.
func DefaultBootstrap() []*JsScript {
	scripts := make([]*JsScript, 0, len(bootstrapOrder))
	for _, name := range bootstrapOrder {
		content, err := bootstrapFS.ReadFile("bootstrap/" + name)
		if err != nil {
			// embedded at build time
			panic(fmt.Sprintf("missing bootstrap script %s: %v", name, err))
		}
		scripts = append(scripts, &JsScript{Content: string(content), FileName: name})
	}
	return scripts
}

func loadBootstrap(s Scope, scripts []*JsScript) error {
	for _, script := range scripts {
		if _, err := s.Eval(script.FileName, script.Content); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrBootstrap, script.FileName, err)
		}
	}
	return nil
}
