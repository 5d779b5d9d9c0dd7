// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package jsworker

import (
	"errors"
	"fmt"
	"strconv"
)

// undefined marks a fakeValue holding the script undefined value.
type undefined struct{}

// unprintable is a value whose ToString fails, like a Symbol.
type unprintable struct{}

type fakeFunc func(args ...any) any

// fakeValue is a Value backed by plain Go data: maps and slices act as
// objects and arrays.
type fakeValue struct {
	data any
}

func fv(data any) *fakeValue { return &fakeValue{data: data} }

func (v *fakeValue) IsFunction() bool {
	_, ok := v.data.(fakeFunc)
	return ok
}

func (v *fakeValue) IsObject() bool {
	switch v.data.(type) {
	case map[string]any, []any, fakeFunc:
		return true
	}
	return false
}

func (v *fakeValue) IsArray() bool {
	_, ok := v.data.([]any)
	return ok
}

func (v *fakeValue) IsUndefined() bool {
	_, ok := v.data.(undefined)
	return ok
}

func (v *fakeValue) ToString() (string, error) {
	switch d := v.data.(type) {
	case unprintable:
		return "", NewEvalError(ConversionError, errors.New("cannot convert"))
	case undefined:
		return "undefined", nil
	case nil:
		return "null", nil
	default:
		return fmt.Sprint(d), nil
	}
}

func (v *fakeValue) Export() (any, error) {
	if _, ok := v.data.(undefined); ok {
		return nil, nil
	}
	return v.data, nil
}

func (v *fakeValue) Get(key string) (Value, error) {
	switch d := v.data.(type) {
	case map[string]any:
		if item, ok := d[key]; ok {
			return fv(item), nil
		}
	case []any:
		if key == "length" {
			return fv(float64(len(d))), nil
		}
		if i, err := strconv.Atoi(key); err == nil && i >= 0 && i < len(d) {
			return fv(d[i]), nil
		}
	default:
		return nil, NewTypeError("cannot read property %q of a non-object", key)
	}
	return fv(undefined{}), nil
}

func (v *fakeValue) Persist() (Handle, error) {
	fn, ok := v.data.(fakeFunc)
	if !ok {
		return nil, NewTypeError("value is not a function")
	}
	return &fakeHandle{fn: fn}, nil
}

type fakeHandle struct {
	fn       fakeFunc
	released bool
}

func (h *fakeHandle) Release() { h.released = true }

type fakeCall struct {
	args []Value
}

func newFakeCall(args ...any) *fakeCall {
	c := &fakeCall{}
	for _, a := range args {
		c.args = append(c.args, fv(a))
	}
	return c
}

func (c *fakeCall) Len() int { return len(c.args) }

func (c *fakeCall) Argument(i int) Value {
	if i < 0 || i >= len(c.args) {
		return fv(undefined{})
	}
	return c.args[i]
}

func (c *fakeCall) Scope() Scope { return nil }
