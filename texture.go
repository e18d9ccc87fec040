// Copyright (c) 2024, The Photark Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vkray

import (
	"image"

	vk "github.com/goki/vulkan"
)

// Texture is an owned device image, allocated with its own memory, and
// with a whole-array view plus optional per-frame render target views.
// Textures back the G-buffer channels, denoiser scratch targets, and the
// 3D SH grids.
type Texture struct {
	Image

	// usage the image was allocated with
	Usage vk.ImageUsageFlags

	// layout the image starts in after Alloc
	InitialLayout vk.ImageLayout
}

// NewTexture allocates an image of given size, layer count and format
// with given usage, and transitions it to initialLayout using the
// device's default command buffer.
func NewTexture(dv *Device, size image.Point, layers int, format vk.Format, usage vk.ImageUsageFlagBits, initialLayout vk.ImageLayout, pool *CmdPool) *Texture {
	tx := &Texture{}
	tx.Format.Set(size.X, size.Y, format)
	tx.Format.Layers = layers
	tx.Usage = vk.ImageUsageFlags(usage)
	tx.InitialLayout = initialLayout
	tx.Alloc(dv)
	if initialLayout != vk.ImageLayoutUndefined && pool != nil {
		cmd := pool.Buff
		CmdBeginOneTime(cmd)
		TransitionImage(cmd, tx.Image.Image, tx.Format.Format,
			vk.ImageLayoutUndefined, initialLayout,
			0, tx.Format.LayerCount())
		CmdEnd(cmd)
		CmdSubmitWait(cmd, dv)
	}
	return tx
}

// NewTexture3D allocates a 3D image (e.g. an SH coefficient grid).
func NewTexture3D(dv *Device, w, h, d int, format vk.Format, usage vk.ImageUsageFlagBits) *Texture {
	tx := &Texture{}
	tx.Format.Set(w, h, format)
	tx.Format.Depth = d
	tx.Usage = vk.ImageUsageFlags(usage)
	tx.Alloc(dv)
	return tx
}

// Alloc creates the image, allocates and binds device-local memory,
// and makes the standard view.
func (tx *Texture) Alloc(dv *Device) {
	imgType := vk.ImageType2d
	depth := 1
	if tx.Format.Is3D() {
		imgType = vk.ImageType3d
		depth = tx.Format.Depth
	}
	w, h := tx.Format.Size32()
	var img vk.Image
	ret := vk.CreateImage(dv.Device, &vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: imgType,
		Format:    tx.Format.Format,
		Extent: vk.Extent3D{
			Width:  w,
			Height: h,
			Depth:  uint32(depth),
		},
		MipLevels:     1,
		ArrayLayers:   uint32(tx.Format.LayerCount()),
		Samples:       vk.SampleCount1Bit,
		Tiling:        vk.ImageTilingOptimal,
		Usage:         tx.Usage,
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}, nil, &img)
	IfPanic(NewError(ret))

	var memReqs vk.MemoryRequirements
	vk.GetImageMemoryRequirements(dv.Device, img, &memReqs)
	memReqs.Deref()
	var mem vk.DeviceMemory
	ret = vk.AllocateMemory(dv.Device, &vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  memReqs.Size,
		MemoryTypeIndex: dv.FindMemoryType(memReqs.MemoryTypeBits, vk.MemoryPropertyDeviceLocalBit),
	}, nil, &mem)
	IfPanic(NewError(ret), func() {
		vk.DestroyImage(dv.Device, img, nil)
	})
	ret = vk.BindImageMemory(dv.Device, img, mem, 0)
	IfPanic(NewError(ret))

	tx.Image.Image = img
	tx.Image.Dev = dv.Device
	tx.Image.Mem = mem
	tx.Image.OwnsImage = true
	tx.MakeStdView()
}

// RenderTarget returns a render target over the whole layer array of
// this texture, one shared view across all in-flight frames, starting
// in the given layout.
func (tx *Texture) RenderTarget(layout vk.ImageLayout) *RenderTarget {
	rt := &RenderTarget{
		Image:  tx.Image.Image,
		Dev:    tx.Image.Dev,
		Format: tx.Format,
	}
	for i := 0; i < MaxFramesInFlight; i++ {
		rt.Views[i] = tx.View
		rt.Layouts[i] = layout
	}
	return rt
}

// TransitionImage records an image layout transition barrier.
func TransitionImage(cmd vk.CommandBuffer, img vk.Image, format vk.Format, oldLayout, newLayout vk.ImageLayout, baseLayer, layerCount int) {
	vk.CmdPipelineBarrier(cmd,
		vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit),
		vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit),
		0, 0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{{
			SType:               vk.StructureTypeImageMemoryBarrier,
			SrcAccessMask:       vk.AccessFlags(vk.AccessMemoryWriteBit),
			DstAccessMask:       vk.AccessFlags(vk.AccessMemoryReadBit | vk.AccessMemoryWriteBit),
			OldLayout:           oldLayout,
			NewLayout:           newLayout,
			SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
			DstQueueFamilyIndex: vk.QueueFamilyIgnored,
			Image:               img,
			SubresourceRange: vk.ImageSubresourceRange{
				AspectMask:     vk.ImageAspectFlags(ImageAspect(format)),
				LevelCount:     1,
				BaseArrayLayer: uint32(baseLayer),
				LayerCount:     uint32(layerCount),
			},
		}})
}
