// Copyright (c) 2024, The Photark Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vkray

import (
	"goki.dev/ki/v2/kit"

	vk "github.com/goki/vulkan"
)

// Types is a list of supported GPU data and texel types.  Scalar and
// vector types are used for buffer contents; the remaining entries are
// the render target formats used by the G-buffer channels.
type Types int32

const (
	UndefType Types = iota
	Bool32

	Int32
	Int32Vec2
	Int32Vec4

	Uint32
	Uint32Vec2
	Uint32Vec4

	Float32
	Float32Vec2
	Float32Vec4

	Float32Mat4

	// 16 bit float RGBA -- the standard HDR color target format
	Float16Vec4

	// 16 bit float RG -- moments, motion vectors
	Float16Vec2

	// single channel 32 bit float -- linear depth
	Float32Chan

	// full precision RGBA -- world position targets
	Float32Vec4Tex

	// 8 bit sRGB RGBA -- tonemapped display format
	ImageRGBA32

	// standard float32 depth buffer
	Depth32

	Struct
	TypesN
)

//go:generate stringer -type=Types

var KiT_Types = kit.Enums.AddEnum(TypesN, kit.NotBitFlag, nil)

// VkFormat returns the Vulkan format for given type.
func (tp Types) VkFormat() vk.Format {
	return VulkanTypes[tp]
}

// Bytes returns number of bytes per element for this type.
func (tp Types) Bytes() int {
	if tp == Float32Mat4 {
		return 64
	}
	if vf, has := VulkanTypes[tp]; has {
		return FormatSizes[vf]
	}
	return 0
}

// FormatSizes gives size of known vulkan formats in bytes
var FormatSizes = map[vk.Format]int{
	vk.FormatUndefined:          0,
	vk.FormatR32Sint:            4,
	vk.FormatR32g32Sint:         8,
	vk.FormatR32g32b32a32Sint:   16,
	vk.FormatR32Uint:            4,
	vk.FormatR32g32Uint:         8,
	vk.FormatR32g32b32a32Uint:   16,
	vk.FormatR32Sfloat:          4,
	vk.FormatR32g32Sfloat:       8,
	vk.FormatR32g32b32a32Sfloat: 16,
	vk.FormatR16g16Sfloat:       4,
	vk.FormatR16g16b16a16Sfloat: 8,
	vk.FormatR8g8b8a8Srgb:       4,
	vk.FormatR8g8b8a8Unorm:      4,
	vk.FormatD32Sfloat:          4,
}

// VulkanTypes maps vkray.Types to vulkan types
var VulkanTypes = map[Types]vk.Format{
	UndefType:      vk.FormatUndefined,
	Bool32:         vk.FormatR32Uint,
	Int32:          vk.FormatR32Sint,
	Int32Vec2:      vk.FormatR32g32Sint,
	Int32Vec4:      vk.FormatR32g32b32a32Sint,
	Uint32:         vk.FormatR32Uint,
	Uint32Vec2:     vk.FormatR32g32Uint,
	Uint32Vec4:     vk.FormatR32g32b32a32Uint,
	Float32:        vk.FormatR32Sfloat,
	Float32Vec2:    vk.FormatR32g32Sfloat,
	Float32Vec4:    vk.FormatR32g32b32a32Sfloat,
	Float16Vec2:    vk.FormatR16g16Sfloat,
	Float16Vec4:    vk.FormatR16g16b16a16Sfloat,
	Float32Chan:    vk.FormatR32Sfloat,
	Float32Vec4Tex: vk.FormatR32g32b32a32Sfloat,
	ImageRGBA32:    vk.FormatR8g8b8a8Srgb,
	Depth32:        vk.FormatD32Sfloat,
}
