// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package jsworker

// Extension installs native functionality into a fresh execution context. It is
// installed exactly once per context, during New, before any bootstrap script
// runs; a failing Install aborts construction.
type Extension interface {
	Name() string
	Install(s Scope, state *RuntimeState) error
}

// DefaultExtensions returns the extensions NewWithDefaults installs, in order.
func DefaultExtensions() []Extension {
	return []Extension{
		ConsoleExt{},
		Base64Ext{},
		EventListenerExt{},
	}
}

// installScript evaluates an embedded setup script.
func installScript(s Scope, name, src string) error {
	_, err := s.Eval(name, src)
	return err
}
