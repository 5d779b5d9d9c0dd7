// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package jsworker

import (
	"strconv"

	"go.uber.org/zap"
)

// RuntimeState is the host data attached to one execution context.
//
// It is only touched from inside Engine.Run, either directly by the runtime or
// by a bridge function re-entered on the same call stack, so it needs no lock.
type RuntimeState struct {
	handler Handle
	console ConsoleSink
	logger  *zap.Logger

	nextFetch uint64
	waiting   map[string]struct{}
	settled   map[string]fetchResult
	relayed   uint64
}

func newRuntimeState(console ConsoleSink, logger *zap.Logger) *RuntimeState {
	return &RuntimeState{
		console: console,
		logger:  logger,
		waiting: make(map[string]struct{}),
		settled: make(map[string]fetchResult),
	}
}

// Handler returns the registered message handler, or nil.
func (s *RuntimeState) Handler() Handle { return s.handler }

// SetHandler stores the message handler. The first registration wins; later
// ones fail with ErrHandlerRegistered and leave the stored handler untouched.
func (s *RuntimeState) SetHandler(h Handle) error {
	if s.handler != nil {
		return ErrHandlerRegistered
	}
	s.handler = h
	return nil
}

// Console returns the sink for console records.
func (s *RuntimeState) Console() ConsoleSink { return s.console }

// Logger returns the host logger.
func (s *RuntimeState) Logger() *zap.Logger { return s.logger }

// Pending reports how many fetch events still wait for a response.
func (s *RuntimeState) Pending() int { return len(s.waiting) }

func (s *RuntimeState) beginFetch() string {
	s.nextFetch++
	id := strconv.FormatUint(s.nextFetch, 10)
	s.waiting[id] = struct{}{}
	return id
}

// settleFetch records a relayed response. Unknown or already settled ids are
// reported as false.
func (s *RuntimeState) settleFetch(id string, res fetchResult) bool {
	if _, ok := s.waiting[id]; !ok {
		return false
	}
	delete(s.waiting, id)
	s.settled[id] = res
	return true
}

func (s *RuntimeState) takeFetch(id string) (fetchResult, bool) {
	res, ok := s.settled[id]
	if ok {
		delete(s.settled, id)
	}
	return res, ok
}

// abandonFetch forgets a fetch whether or not it was answered.
func (s *RuntimeState) abandonFetch(id string) {
	delete(s.waiting, id)
	delete(s.settled, id)
}

func (s *RuntimeState) release() {
	if s.handler != nil {
		s.handler.Release()
		s.handler = nil
	}
}
