// Copyright (c) 2024, The Photark Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vkray

import (
	"errors"
	"fmt"

	vk "github.com/goki/vulkan"
)

// Sentinel errors for the recoverable per-frame failure modes.
// ErrOutOfDate triggers a renderer rebuild; ErrDeviceLost requires
// re-creating the Context.
var (
	ErrOutOfDate         = errors.New("vkray: swapchain out of date")
	ErrDeviceLost        = errors.New("vkray: device lost")
	ErrResourceExhausted = errors.New("vkray: device resources exhausted")
)

// CompileError is a shader front-end compilation failure.
// It carries the source path and the compiler diagnostic verbatim.
type CompileError struct {
	Path string
	Diag string
}

func (e *CompileError) Error() string {
	return "failed to compile " + e.Path + ": " + e.Diag
}

// LinkError is a shader program link failure.
type LinkError struct {
	Path string
	Diag string
}

func (e *LinkError) Error() string {
	return "failed to link " + e.Path + ": " + e.Diag
}

// ReflectError is a failure to reflect descriptor bindings or push
// constants out of compiled shader bytecode.
type ReflectError struct {
	Path string
	Diag string
}

func (e *ReflectError) Error() string {
	return "failed to reflect " + e.Path + ": " + e.Diag
}

// BindingNameMismatch reports two shader stages declaring the same
// binding slot under different names.  This is a programmer error and
// is fatal at pipeline construction.
type BindingNameMismatch struct {
	Name      string
	OtherName string
	Slot      uint32
}

func (e *BindingNameMismatch) Error() string {
	return fmt.Sprintf("same binding slot %d has two different names: %s != %s",
		e.Slot, e.Name, e.OtherName)
}

// MissingCapability reports a stage requesting a device feature that is
// not available, e.g. a TLAS binding without ray tracing support.
// Fatal at stage construction.
type MissingCapability struct {
	What string
}

func (e *MissingCapability) Error() string {
	return "missing device capability: " + e.What
}

// AssetMissing wraps the I/O error from opening a shader or texture file.
type AssetMissing struct {
	Path string
	Err  error
}

func (e *AssetMissing) Error() string {
	return "missing asset " + e.Path + ": " + e.Err.Error()
}

func (e *AssetMissing) Unwrap() error { return e.Err }

// NewError returns an error for given Vulkan result code, nil on Success.
// The recoverable codes map onto the sentinel errors above so callers can
// test with errors.Is.
func NewError(ret vk.Result) error {
	switch ret {
	case vk.Success, vk.Suboptimal:
		return nil
	case vk.ErrorOutOfDate:
		return ErrOutOfDate
	case vk.ErrorDeviceLost:
		return ErrDeviceLost
	case vk.ErrorOutOfHostMemory, vk.ErrorOutOfDeviceMemory:
		return fmt.Errorf("%w: vulkan error: %d", ErrResourceExhausted, ret)
	default:
		return fmt.Errorf("vkray: vulkan error: %d", ret)
	}
}

// IfPanic panics on non-nil error, running any clean-up functions first.
// Used for vulkan calls that only fail if the program is already broken.
func IfPanic(err error, finalizers ...func()) {
	if err == nil {
		return
	}
	for _, fn := range finalizers {
		fn()
	}
	panic(err)
}

// CheckErr recovers a panic into *err, for converting the IfPanic paths
// back into error returns at frame boundaries.
func CheckErr(err *error) {
	if r := recover(); r != nil {
		if e, ok := r.(error); ok {
			*err = e
		} else {
			*err = fmt.Errorf("vkray: %v", r)
		}
	}
}
