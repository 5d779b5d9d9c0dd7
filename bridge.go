// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package jsworker

import (
	"errors"

	"go.uber.org/zap"
)

const (
	postMessageName = "postMessage"
	onMessageName   = "onMessage"
)

func installBridges(s Scope, state *RuntimeState) error {
	if err := s.SetFunction(postMessageName, postMessage(state)); err != nil {
		return err
	}
	return s.SetFunction(onMessageName, onMessage(state))
}

// postMessage relays a structured message from script to the host.
func postMessage(state *RuntimeState) HostFunc {
	return func(call FunctionCall) (any, error) {
		if call.Len() != 1 {
			return nil, NewTypeError("postMessage expects 1 argument, got %d", call.Len())
		}
		msg := call.Argument(0)
		if !msg.IsObject() {
			return nil, NewTypeError("postMessage expects an object")
		}
		kv, err := msg.Get("kind")
		if err != nil {
			return nil, err
		}
		var kind string
		if !kv.IsUndefined() {
			if kind, err = kv.ToString(); err != nil {
				return nil, err
			}
		}
		state.relayed++

		switch parseMessageKind(kind) {
		case MessageConsole:
			rec, err := parseConsoleRecord(msg)
			if err != nil {
				return nil, err
			}
			state.console.WriteConsole(rec)
		case MessageFetchResponse:
			id, res, err := parseFetchResponse(msg)
			if err != nil {
				return nil, err
			}
			if !state.settleFetch(id, res) {
				state.logger.Warn("fetch response for unknown request", zap.String("id", id))
			}
		default:
			state.logger.Warn("unrecognized message kind", zap.String("kind", kind))
		}
		return nil, nil
	}
}

// onMessage registers the single handler that receives dispatched events.
func onMessage(state *RuntimeState) HostFunc {
	return func(call FunctionCall) (any, error) {
		cb := call.Argument(0)
		if call.Len() < 1 || !cb.IsFunction() {
			return nil, NewTypeError("Arg 0 is not a function")
		}
		h, err := cb.Persist()
		if err != nil {
			return nil, err
		}
		if err := state.SetHandler(h); err != nil {
			h.Release()
			state.logger.Debug("message handler already registered")
			if errors.Is(err, ErrHandlerRegistered) {
				return nil, &ScriptError{Name: "Error", Message: err.Error(), Cause: err}
			}
			return nil, err
		}
		return nil, nil
	}
}
