// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

// Command jsworker evaluates scripts and dispatches fetch events to worker
// scripts from the command line.
//
// Usage:
//
//	jsworker eval <file>
//	jsworker fetch [-body text] [-H name:value]... <worker.js> <url> [method]
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	jsworker "github.com/buke/js-worker"
	"github.com/buke/js-worker/internal/logging"
	"go.uber.org/zap"
)

const usage = `usage:
  jsworker eval <file>
  jsworker fetch [-body text] [-H name:value]... <worker.js> <url> [method]
`

var errUsage = errors.New("invalid arguments")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout)
	stop()
	if err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "jsworker: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Logging())
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	switch args[0] {
	case "eval":
		return runEval(ctx, cfg, logger, args[1:], out)
	case "fetch":
		return runFetch(cfg, logger, args[1:], out)
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, args[0])
	}
}

func readScript(path string) (*jsworker.JsScript, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}
	return &jsworker.JsScript{FileName: path, Content: string(content)}, nil
}

func runEval(ctx context.Context, cfg *Config, logger *zap.Logger, args []string, out io.Writer) error {
	if len(args) != 1 {
		return errUsage
	}
	script, err := readScript(args[0])
	if err != nil {
		return err
	}

	rt, err := jsworker.NewWithDefaults(cfg.EngineFactory(), jsworker.WithLogger(logger))
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, cancel := context.WithTimeout(ctx, cfg.ExecuteTimeout)
	defer cancel()
	result, err := rt.Eval(ctx, script.Content)
	if err != nil {
		return err
	}
	if _, err := rt.RunEventLoop(ctx); err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, result)
	return err
}

type headerFlags map[string]string

func (h headerFlags) String() string { return fmt.Sprint(map[string]string(h)) }

func (h headerFlags) Set(v string) error {
	name, value, ok := strings.Cut(v, ":")
	if !ok || strings.TrimSpace(name) == "" {
		return fmt.Errorf("header %q is not name:value", v)
	}
	h[strings.TrimSpace(name)] = strings.TrimSpace(value)
	return nil
}

func runFetch(cfg *Config, logger *zap.Logger, args []string, out io.Writer) error {
	headers := headerFlags{}
	fs := flag.NewFlagSet("fetch", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	body := fs.String("body", "", "request body")
	fs.Var(headers, "H", "request header as name:value, repeatable")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if fs.NArg() < 2 || fs.NArg() > 3 {
		return errUsage
	}
	script, err := readScript(fs.Arg(0))
	if err != nil {
		return err
	}

	executor, err := jsworker.NewExecutor(
		jsworker.WithEngine(cfg.EngineFactory()),
		jsworker.WithWorkerScripts(script),
		jsworker.WithExecutorLogger(logger),
		jsworker.WithMinPoolSize(cfg.PoolMin),
		jsworker.WithMaxPoolSize(cfg.PoolMax),
		jsworker.WithExecuteTimeout(cfg.ExecuteTimeout),
	)
	if err != nil {
		return err
	}
	if err := executor.Start(); err != nil {
		return err
	}
	defer func() {
		if err := executor.Stop(); err != nil {
			logger.Warn("failed to stop executor", zap.Error(err))
		}
	}()

	req := &jsworker.Request{URL: fs.Arg(1), Body: *body, Headers: headers}
	if fs.NArg() == 3 {
		req.Method = fs.Arg(2)
	}
	resp, err := executor.Execute(req)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}
