// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package jsworker

// consoleWriteName is the private global the console shim captures and deletes.
const consoleWriteName = "__jsworker_console_write"

const consoleShim = `(function () {
  const write = globalThis.__jsworker_console_write;
  delete globalThis.__jsworker_console_write;

  function format(value) {
    if (typeof value === 'string') return value;
    if (value instanceof Error) return value.stack || String(value);
    if (value !== null && typeof value === 'object') {
      try {
        const json = JSON.stringify(value);
        if (json !== undefined) return json;
      } catch (_) {}
    }
    try {
      return String(value);
    } catch (_) {
      return '[unprintable]';
    }
  }

  const console = {};
  for (const level of ['log', 'info', 'warn', 'error', 'debug', 'trace']) {
    console[level] = function (...args) {
      write({ level, date: Date.now(), args: args.map(format) });
    };
  }
  globalThis.console = console;
})();
`

// ConsoleExt installs a console object whose methods write records straight to
// the host console sink.
type ConsoleExt struct{}

func (ConsoleExt) Name() string { return "console" }

// Install registers the private writer and evaluates the console shim.
func (ConsoleExt) Install(s Scope, state *RuntimeState) error {
	err := s.SetFunction(consoleWriteName, func(call FunctionCall) (any, error) {
		msg := call.Argument(0)
		if !msg.IsObject() {
			return nil, NewTypeError("console record must be an object")
		}
		rec, err := parseConsoleRecord(msg)
		if err != nil {
			return nil, err
		}
		state.Console().WriteConsole(rec)
		return nil, nil
	})
	if err != nil {
		return err
	}
	return installScript(s, "console.js", consoleShim)
}
