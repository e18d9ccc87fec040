// Copyright (c) 2024, The Photark Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vkray

import (
	"image"

	vk "github.com/goki/vulkan"
)

// RenderTarget is a per-in-flight-frame (image view, current layout)
// pair over one image (or one image per frame for swapchain-backed
// targets).  The tracked layout is mutated by Transition while recording
// on the owning device's recording goroutine, and by SetLayout for
// layouts established outside recording; TransitionTemporary leaves it
// unchanged.
type RenderTarget struct {

	// image handle; per-frame images override via Images
	Image vk.Image

	// per-frame image handles, for swapchain-backed targets;
	// when unset, Image is used for every frame
	Images [MaxFramesInFlight]vk.Image

	// per-frame views
	Views [MaxFramesInFlight]vk.ImageView

	// per-frame tracked layouts
	Layouts [MaxFramesInFlight]vk.ImageLayout

	// format & size
	Format ImageFormat

	// device, for checks and view management
	Dev vk.Device
}

// Size returns the pixel size of the target.
func (rt *RenderTarget) Size() image.Point {
	return rt.Format.Size
}

// LayerCount returns the number of array layers.
func (rt *RenderTarget) LayerCount() int {
	return rt.Format.LayerCount()
}

// ImageFor returns the image handle for given frame slot.
func (rt *RenderTarget) ImageFor(frameIndex int) vk.Image {
	if rt.Images[frameIndex] != vk.NullImage {
		return rt.Images[frameIndex]
	}
	return rt.Image
}

// View returns the image view for given frame slot.
func (rt *RenderTarget) View(frameIndex int) vk.ImageView {
	return rt.Views[frameIndex]
}

// Layout returns the tracked layout for given frame slot.
func (rt *RenderTarget) Layout(frameIndex int) vk.ImageLayout {
	return rt.Layouts[frameIndex]
}

// SetLayout overrides the tracked layout for all frames without
// recording a transition -- for layouts established externally
// (initialization-time transitions, backend handoff).
func (rt *RenderTarget) SetLayout(layout vk.ImageLayout) {
	for i := range rt.Layouts {
		rt.Layouts[i] = layout
	}
}

// Transition records a layout transition into cmd for given frame slot
// and updates the tracked layout.  No-op when already in the layout.
func (rt *RenderTarget) Transition(cmd vk.CommandBuffer, frameIndex int, layout vk.ImageLayout) {
	if rt.Layouts[frameIndex] == layout {
		return
	}
	TransitionImage(cmd, rt.ImageFor(frameIndex), rt.Format.Format,
		rt.Layouts[frameIndex], layout, 0, rt.LayerCount())
	rt.Layouts[frameIndex] = layout
}

// TransitionTemporary records a transition without updating the tracked
// layout; when discard is set the old contents are dropped
// (old layout undefined).  Used when a stage needs a different layout
// mid-buffer but restores it before the buffer ends.
func (rt *RenderTarget) TransitionTemporary(cmd vk.CommandBuffer, frameIndex int, layout vk.ImageLayout, discard bool) {
	old := rt.Layouts[frameIndex]
	if discard {
		old = vk.ImageLayoutUndefined
	}
	TransitionImage(cmd, rt.ImageFor(frameIndex), rt.Format.Format,
		old, layout, 0, rt.LayerCount())
}
