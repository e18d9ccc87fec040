// Copyright (c) 2024, The Photark Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vkray

import (
	"image"

	vk "github.com/goki/vulkan"
)

// Placeholders are the default resources substituted for optional scene
// bindings that have no real value: 1x1 textures, a 1x1x1 3D texture, a
// depth sample for shadow map tests, and a minimal buffer.  One set per
// device.
type Placeholders struct {
	Dev *Device

	// default linear sampler
	DefaultSampler vk.Sampler

	// shadow-test comparison sampler
	ShadowSampler vk.Sampler

	// 1x1 black RGBA texture
	Sample2D *Texture

	// 1x1x1 black 3D texture
	Sample3D *Texture

	// 1x1 depth texture for shadow map test bindings
	DepthTestSample *Texture

	// minimal storage buffer for empty buffer bindings
	EmptyBuffer *GPUBuffer
}

// NewPlaceholders allocates the placeholder set on device.
func NewPlaceholders(dv *Device, pool *CmdPool) *Placeholders {
	ph := &Placeholders{Dev: dv}
	ph.DefaultSampler = NewSampler(dv, vk.SamplerAddressModeRepeat, false)
	ph.ShadowSampler = NewSampler(dv, vk.SamplerAddressModeClampToEdge, true)
	ph.Sample2D = NewTexture(dv, image.Point{X: 1, Y: 1}, 1, vk.FormatR8g8b8a8Unorm,
		vk.ImageUsageSampledBit|vk.ImageUsageStorageBit, vk.ImageLayoutGeneral, pool)
	ph.Sample3D = NewTexture3D(dv, 1, 1, 1, vk.FormatR16g16b16a16Sfloat,
		vk.ImageUsageSampledBit|vk.ImageUsageStorageBit)
	ph.DepthTestSample = NewTexture(dv, image.Point{X: 1, Y: 1}, 1, vk.FormatD32Sfloat,
		vk.ImageUsageSampledBit|vk.ImageUsageDepthStencilAttachmentBit,
		vk.ImageLayoutShaderReadOnlyOptimal, pool)
	ph.EmptyBuffer = NewGPUBuffer(dv, 16, vk.BufferUsageStorageBufferBit)
	return ph
}

// BufferInfos returns count copies of the empty buffer binding.
func (ph *Placeholders) BufferInfos(count uint32) []vk.DescriptorBufferInfo {
	infos := make([]vk.DescriptorBufferInfo, count)
	for i := range infos {
		infos[i] = vk.DescriptorBufferInfo{
			Buffer: ph.EmptyBuffer.Buff,
			Offset: 0,
			Range:  vk.DeviceSize(vk.WholeSize),
		}
	}
	return infos
}

// ImageInfos returns count placeholder image bindings of the right
// flavor for the descriptor type.
func (ph *Placeholders) ImageInfos(dtype vk.DescriptorType, count uint32) []vk.DescriptorImageInfo {
	info := vk.DescriptorImageInfo{
		Sampler:     ph.DefaultSampler,
		ImageView:   ph.Sample2D.View,
		ImageLayout: vk.ImageLayoutGeneral,
	}
	if dtype == vk.DescriptorTypeSampler {
		info.ImageView = vk.NullImageView
	}
	infos := make([]vk.DescriptorImageInfo, count)
	for i := range infos {
		infos[i] = info
	}
	return infos
}

// Destroy frees all placeholder resources.
func (ph *Placeholders) Destroy() {
	dev := ph.Dev.Device
	if ph.DefaultSampler != vk.NullSampler {
		vk.DestroySampler(dev, ph.DefaultSampler, nil)
		ph.DefaultSampler = vk.NullSampler
	}
	if ph.ShadowSampler != vk.NullSampler {
		vk.DestroySampler(dev, ph.ShadowSampler, nil)
		ph.ShadowSampler = vk.NullSampler
	}
	ph.Sample2D.Destroy()
	ph.Sample3D.Destroy()
	ph.DepthTestSample.Destroy()
	ph.EmptyBuffer.Destroy()
	ph.Dev = nil
}

// NewSampler makes a linear sampler with given address mode; compare
// makes it a depth-comparison sampler for shadow map tests.
func NewSampler(dv *Device, mode vk.SamplerAddressMode, compare bool) vk.Sampler {
	info := &vk.SamplerCreateInfo{
		SType:                   vk.StructureTypeSamplerCreateInfo,
		MagFilter:               vk.FilterLinear,
		MinFilter:               vk.FilterLinear,
		AddressModeU:            mode,
		AddressModeV:            mode,
		AddressModeW:            mode,
		AnisotropyEnable:        vk.False,
		MaxAnisotropy:           1,
		BorderColor:             vk.BorderColorFloatOpaqueWhite,
		UnnormalizedCoordinates: vk.False,
		MipmapMode:              vk.SamplerMipmapModeNearest,
	}
	if compare {
		info.CompareEnable = vk.True
		info.CompareOp = vk.CompareOpLessOrEqual
	}
	var samp vk.Sampler
	ret := vk.CreateSampler(dv.Device, info, nil, &samp)
	IfPanic(NewError(ret))
	return samp
}
