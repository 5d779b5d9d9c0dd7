// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package jsworker

import (
	"encoding/base64"
	"strings"
)

// Base64Ext installs atob and btoa. Strings cross the boundary as Latin-1, the
// way browsers treat them.
type Base64Ext struct{}

// Name returns "base64".
func (Base64Ext) Name() string { return "base64" }

func (Base64Ext) Install(s Scope, _ *RuntimeState) error {
	if err := s.SetFunction("btoa", btoa); err != nil {
		return err
	}
	return s.SetFunction("atob", atob)
}

func invalidCharacter(msg string) *ScriptError {
	return &ScriptError{Name: "InvalidCharacterError", Message: msg}
}

func btoa(call FunctionCall) (any, error) {
	if call.Len() < 1 {
		return nil, NewTypeError("btoa requires 1 argument")
	}
	in, err := call.Argument(0).ToString()
	if err != nil {
		return nil, err
	}
	return encodeLatin1(in)
}

func atob(call FunctionCall) (any, error) {
	if call.Len() < 1 {
		return nil, NewTypeError("atob requires 1 argument")
	}
	in, err := call.Argument(0).ToString()
	if err != nil {
		return nil, err
	}
	return decodeLatin1(in)
}

func encodeLatin1(in string) (string, error) {
	buf := make([]byte, 0, len(in))
	for _, r := range in {
		if r > 0xFF {
			return "", invalidCharacter("The string to be encoded contains characters outside of the Latin1 range.")
		}
		buf = append(buf, byte(r))
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}

func decodeLatin1(in string) (string, error) {
	in = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\f', '\r':
			return -1
		}
		return r
	}, in)
	if len(in)%4 == 0 {
		in = strings.TrimSuffix(strings.TrimSuffix(in, "="), "=")
	}
	if len(in)%4 == 1 || strings.ContainsRune(in, '=') {
		return "", invalidCharacter("The string to be decoded is not correctly encoded.")
	}
	raw, err := base64.RawStdEncoding.DecodeString(in)
	if err != nil {
		return "", invalidCharacter("The string to be decoded is not correctly encoded.")
	}
	var b strings.Builder
	b.Grow(len(raw))
	for _, c := range raw {
		b.WriteRune(rune(c))
	}
	return b.String(), nil
}
