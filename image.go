// Copyright (c) 2024, The Photark Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vkray

import (
	"image"

	vk "github.com/goki/vulkan"
)

// ImageFormat describes the size, format and layer count of an Image.
type ImageFormat struct {

	// Size of image
	Size image.Point

	// Image format -- FormatR16g16b16a16Sfloat is the standard HDR target
	Format vk.Format

	// number of array layers -- > 1 for multi-viewport targets
	Layers int

	// depth for 3D images (SH grids); 0 or 1 for 2D images
	Depth int
}

func (im *ImageFormat) Defaults() {
	im.Format = vk.FormatR16g16b16a16Sfloat
	im.Layers = 1
}

func (im *ImageFormat) SetSize(w, h int) {
	im.Size = image.Point{X: w, Y: h}
}

func (im *ImageFormat) Set(w, h int, ft vk.Format) {
	im.SetSize(w, h)
	im.Format = ft
	if im.Layers == 0 {
		im.Layers = 1
	}
}

// Size32 returns size as uint32 values
func (im *ImageFormat) Size32() (width, height uint32) {
	width = uint32(im.Size.X)
	height = uint32(im.Size.Y)
	return
}

// LayerCount returns the number of array layers, minimum 1.
func (im *ImageFormat) LayerCount() int {
	if im.Layers <= 0 {
		return 1
	}
	return im.Layers
}

// Is3D returns true for volume images.
func (im *ImageFormat) Is3D() bool {
	return im.Depth > 1
}

// BytesPerPixel returns the byte size of one texel.
func (im *ImageFormat) BytesPerPixel() int {
	return FormatSizes[im.Format]
}

// Image represents a vulkan image with an associated default view.
// It owns the View but the Image handle itself may be externally owned
// (e.g. swapchain images), in which case OwnsImage is false.
type Image struct {

	// format & size of image
	Format ImageFormat

	// vulkan image handle
	Image vk.Image

	// vulkan image view covering all layers
	View vk.ImageView

	// keep track of device for destroying view
	Dev vk.Device

	// true if we allocated the image and its memory
	OwnsImage bool

	// device memory, when OwnsImage
	Mem vk.DeviceMemory
}

// HasView returns true if the image is set and has a view
func (im *Image) HasView() bool {
	return im.View != vk.NullImageView
}

// SetVkImage sets an externally-owned image handle (e.g. a swapchain
// image) and generates a default view based on existing format info.
// Any existing view is destroyed first.
func (im *Image) SetVkImage(dev vk.Device, img vk.Image) {
	im.DestroyView()
	im.Image = img
	im.Dev = dev
	im.OwnsImage = false
	im.MakeStdView()
}

// MakeStdView makes the standard image view for the current image,
// covering all array layers (2D-array view when Layers > 1, 3D when
// the format has depth).
func (im *Image) MakeStdView() {
	viewType := vk.ImageViewType2d
	if im.Format.Is3D() {
		viewType = vk.ImageViewType3d
	} else if im.Format.LayerCount() > 1 {
		viewType = vk.ImageViewType2dArray
	}
	im.View = MakeImageView(im.Dev, im.Image, im.Format.Format, viewType,
		0, im.Format.LayerCount(), ImageAspect(im.Format.Format))
}

// MakeImageView makes an image view with given parameters.
func MakeImageView(dev vk.Device, img vk.Image, format vk.Format, viewType vk.ImageViewType, baseLayer, layerCount int, aspect vk.ImageAspectFlagBits) vk.ImageView {
	var view vk.ImageView
	ret := vk.CreateImageView(dev, &vk.ImageViewCreateInfo{
		SType:  vk.StructureTypeImageViewCreateInfo,
		Format: format,
		Components: vk.ComponentMapping{
			R: vk.ComponentSwizzleIdentity,
			G: vk.ComponentSwizzleIdentity,
			B: vk.ComponentSwizzleIdentity,
			A: vk.ComponentSwizzleIdentity,
		},
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask:     vk.ImageAspectFlags(aspect),
			LevelCount:     1,
			BaseArrayLayer: uint32(baseLayer),
			LayerCount:     uint32(layerCount),
		},
		ViewType: viewType,
		Image:    img,
	}, nil, &view)
	IfPanic(NewError(ret))
	return view
}

// ImageAspect returns the aspect flag for given format.
func ImageAspect(format vk.Format) vk.ImageAspectFlagBits {
	if format == vk.FormatD32Sfloat {
		return vk.ImageAspectDepthBit
	}
	return vk.ImageAspectColorBit
}

// DestroyView destroys any existing view
func (im *Image) DestroyView() {
	if im.View == vk.NullImageView {
		return
	}
	vk.DestroyImageView(im.Dev, im.View, nil)
	im.View = vk.NullImageView
}

// Destroy destroys the view, and the image + memory if owned.
func (im *Image) Destroy() {
	im.DestroyView()
	if im.OwnsImage && im.Image != vk.NullImage {
		vk.DestroyImage(im.Dev, im.Image, nil)
		vk.FreeMemory(im.Dev, im.Mem, nil)
	}
	im.Image = vk.NullImage
	im.Dev = nil
}
