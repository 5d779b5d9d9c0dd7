// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	jsworker "github.com/buke/js-worker"
	gojaengine "github.com/buke/js-worker/engines/goja"
	quickjsengine "github.com/buke/js-worker/engines/quickjs-go"
	"github.com/buke/js-worker/internal/logging"
	"github.com/kelseyhightower/envconfig"
)

const envPrefix = "JSWORKER"

// Config is read from JSWORKER_* environment variables.
type Config struct {
	Engine         string        `envconfig:"ENGINE" default:"goja"`
	LogLevel       string        `envconfig:"LOG_LEVEL" default:"info"`
	LogDev         bool          `envconfig:"LOG_DEV" default:"false"`
	PoolMin        uint32        `envconfig:"POOL_MIN" default:"1"`
	PoolMax        uint32        `envconfig:"POOL_MAX" default:"1"`
	ExecuteTimeout time.Duration `envconfig:"EXECUTE_TIMEOUT" default:"30s"`
}

// LoadConfig reads the environment and validates the engine name.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.Engine = strings.ToLower(cfg.Engine)
	if _, ok := engines[cfg.Engine]; !ok {
		return nil, fmt.Errorf("unknown engine %q (available: %s)", cfg.Engine, strings.Join(engineNames(), ", "))
	}
	return &cfg, nil
}

// Logging returns the logger configuration.
func (c *Config) Logging() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = c.LogLevel
	cfg.Development = c.LogDev
	return cfg
}

// EngineFactory returns the factory for the configured engine.
func (c *Config) EngineFactory() jsworker.EngineFactory {
	return engines[c.Engine]()
}

// engines maps engine names to factory constructors. Backends that need cgo
// support on the target register themselves from build-tagged files.
var engines = map[string]func() jsworker.EngineFactory{
	"goja":    func() jsworker.EngineFactory { return gojaengine.NewFactory() },
	"quickjs": func() jsworker.EngineFactory { return quickjsengine.NewFactory() },
}

func engineNames() []string {
	names := make([]string, 0, len(engines))
	for name := range engines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
