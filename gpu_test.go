// Copyright (c) 2024, The Photark Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vkray

import (
	"errors"
	"testing"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/stretchr/testify/assert"
)

func TestMemSizeAlign(t *testing.T) {
	assert.Equal(t, 16, MemSizeAlign(12, 16))
	assert.Equal(t, 16, MemSizeAlign(16, 16))
	assert.Equal(t, 32, MemSizeAlign(17, 16))
	assert.Equal(t, 0, MemSizeAlign(0, 64))
	assert.Equal(t, 64, MemSizeAlign(1, 64))
}

func TestIsNil(t *testing.T) {
	assert.True(t, IsNil(nil))
	assert.True(t, IsNil(uint64(0)))
	assert.False(t, IsNil(uint64(10)))

	var fence vk.Fence
	assert.True(t, IsNil(fence))
}

func TestNewErrorMapping(t *testing.T) {
	assert.NoError(t, NewError(vk.Success))
	assert.NoError(t, NewError(vk.Suboptimal))
	assert.True(t, errors.Is(NewError(vk.ErrorOutOfDate), ErrOutOfDate))
	assert.True(t, errors.Is(NewError(vk.ErrorDeviceLost), ErrDeviceLost))
	assert.True(t, errors.Is(NewError(vk.ErrorOutOfDeviceMemory), ErrResourceExhausted))
	assert.Error(t, NewError(vk.ErrorInitializationFailed))
}

func TestErrorKinds(t *testing.T) {
	ce := &CompileError{Path: "a.comp", Diag: "syntax"}
	assert.Contains(t, ce.Error(), "a.comp")
	le := &LinkError{Path: "a.rgen", Diag: "bad"}
	assert.Contains(t, le.Error(), "a.rgen")
	bm := &BindingNameMismatch{Name: "x", OtherName: "y", Slot: 3}
	assert.Contains(t, bm.Error(), "x")
	assert.Contains(t, bm.Error(), "y")
	assert.Contains(t, bm.Error(), "3")
	mc := &MissingCapability{What: "tlas"}
	assert.Contains(t, mc.Error(), "tlas")

	inner := errors.New("no such file")
	am := &AssetMissing{Path: "t.png", Err: inner}
	assert.True(t, errors.Is(am, inner))
}

func TestCheckErrRecoversPanic(t *testing.T) {
	fn := func() (err error) {
		defer CheckErr(&err)
		IfPanic(ErrDeviceLost)
		return nil
	}
	assert.True(t, errors.Is(fn(), ErrDeviceLost))
}

func TestPushConstantSize(t *testing.T) {
	type pc struct {
		A [32]float32
	}
	size, ptr := PushConstantSize(&pc{})
	assert.Equal(t, 128, size)
	assert.NotNil(t, ptr)
	assert.LessOrEqual(t, size, MaxPushConstantBytes)

	size, ptr = PushConstantSize(nil)
	assert.Equal(t, 0, size)
	assert.Equal(t, unsafe.Pointer(nil), ptr)
}
