// Copyright (c) 2024, The Photark Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vkray

import (
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/stretchr/testify/assert"
)

func TestTypesFormats(t *testing.T) {
	assert.Equal(t, vk.FormatR16g16b16a16Sfloat, Float16Vec4.VkFormat())
	assert.Equal(t, vk.FormatR32Sfloat, Float32Chan.VkFormat())
	assert.Equal(t, vk.FormatR32g32b32a32Sfloat, Float32Vec4Tex.VkFormat())
	assert.Equal(t, vk.FormatUndefined, UndefType.VkFormat())
}

func TestTypesBytes(t *testing.T) {
	assert.Equal(t, 8, Float16Vec4.Bytes())
	assert.Equal(t, 4, Float16Vec2.Bytes())
	assert.Equal(t, 16, Float32Vec4.Bytes())
	assert.Equal(t, 64, Float32Mat4.Bytes())
	assert.Equal(t, 0, Struct.Bytes())
}
