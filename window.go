// Copyright (c) 2024, The Photark Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build (darwin && !ios) || windows || (linux && !android) || dragonfly || openbsd

package vkray

import (
	"errors"
	"fmt"

	"github.com/go-gl/glfw/v3.3/glfw"
	vk "github.com/goki/vulkan"
)

// WindowOptions configure the windowed display backend.
type WindowOptions struct {

	// window title
	Title string

	// requested size in pixels
	Width, Height int

	// fullscreen on the primary monitor
	Fullscreen bool

	// fifo (vsync) vs immediate present mode
	Vsync bool
}

func (wo *WindowOptions) Defaults() {
	wo.Title = "vkray"
	wo.Width = 1280
	wo.Height = 720
	wo.Vsync = true
}

// Window is the interactive display backend: a glfw window with a
// vulkan surface and swapchain.
type Window struct {
	Opts WindowOptions

	// the glfw window handle
	Glfw *glfw.Window

	// vulkan surface for the window
	Surface vk.Surface

	// vulkan swapchain
	Swapchain vk.Swapchain

	ctx *Context
}

// NewWindow creates the glfw window (no GL context).  Must be called on
// the main thread after Init.
func NewWindow(opts *WindowOptions) (*Window, error) {
	w := &Window{}
	if opts != nil {
		w.Opts = *opts
	} else {
		w.Opts.Defaults()
	}
	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI)
	var monitor *glfw.Monitor
	if w.Opts.Fullscreen {
		monitor = glfw.GetPrimaryMonitor()
	}
	win, err := glfw.CreateWindow(w.Opts.Width, w.Opts.Height, w.Opts.Title, monitor, nil)
	if err != nil {
		return nil, err
	}
	w.Glfw = win
	return w, nil
}

func (w *Window) InstanceExts() []string {
	return w.Glfw.GetRequiredInstanceExtensions()
}

func (w *Window) Init(ctx *Context) error {
	w.ctx = ctx
	surfPtr, err := w.Glfw.CreateWindowSurface(ctx.GPU.Instance, nil)
	if err != nil {
		return err
	}
	w.Surface = vk.SurfaceFromPointer(surfPtr)
	return nil
}

func (w *Window) QueueCanPresent(pd vk.PhysicalDevice, queueIndex uint32, props vk.QueueFamilyProperties) bool {
	var supports vk.Bool32
	vk.GetPhysicalDeviceSurfaceSupport(pd, queueIndex, w.Surface, &supports)
	return supports.B()
}

func (w *Window) InitImages(ctx *Context) error {
	return w.initSwapchain(ctx)
}

// initSwapchain creates the swapchain and fills the context image list.
func (w *Window) initSwapchain(ctx *Context) error {
	dv := ctx.DisplayDevice()
	pd := ctx.GPU.GPUs[dv.Index]

	var caps vk.SurfaceCapabilities
	ret := vk.GetPhysicalDeviceSurfaceCapabilities(pd, w.Surface, &caps)
	if err := NewError(ret); err != nil {
		return err
	}
	caps.Deref()

	var formatCount uint32
	vk.GetPhysicalDeviceSurfaceFormats(pd, w.Surface, &formatCount, nil)
	if formatCount == 0 {
		return errors.New("vkray: window surface has no pixel formats")
	}
	formats := make([]vk.SurfaceFormat, formatCount)
	vk.GetPhysicalDeviceSurfaceFormats(pd, w.Surface, &formatCount, formats)
	formats[0].Deref()
	format := formats[0]
	for i := range formats {
		formats[i].Deref()
		if formats[i].Format == vk.FormatB8g8r8a8Unorm {
			format = formats[i]
			break
		}
	}

	var size vk.Extent2D
	caps.CurrentExtent.Deref()
	if caps.CurrentExtent.Width == vk.MaxUint32 {
		size.Width = uint32(w.Opts.Width)
		size.Height = uint32(w.Opts.Height)
	} else {
		size = caps.CurrentExtent
	}

	presentMode := vk.PresentModeFifo
	if !w.Opts.Vsync {
		presentMode = vk.PresentModeImmediate
	}

	// one more image than in-flight frames, so image views never clash
	desiredImages := uint32(MaxFramesInFlight + 1)
	if desiredImages < caps.MinImageCount {
		desiredImages = caps.MinImageCount
	}
	if caps.MaxImageCount > 0 && desiredImages > caps.MaxImageCount {
		desiredImages = caps.MaxImageCount
	}

	preTransform := caps.CurrentTransform
	if vk.SurfaceTransformFlagBits(caps.SupportedTransforms)&vk.SurfaceTransformIdentityBit != 0 {
		preTransform = vk.SurfaceTransformIdentityBit
	}

	compositeAlpha := vk.CompositeAlphaOpaqueBit
	for _, try := range []vk.CompositeAlphaFlagBits{
		vk.CompositeAlphaOpaqueBit,
		vk.CompositeAlphaPreMultipliedBit,
		vk.CompositeAlphaPostMultipliedBit,
		vk.CompositeAlphaInheritBit,
	} {
		if caps.SupportedCompositeAlpha&vk.CompositeAlphaFlags(try) != 0 {
			compositeAlpha = try
			break
		}
	}

	oldSwapchain := w.Swapchain
	var swapchain vk.Swapchain
	ret = vk.CreateSwapchain(dv.Device, &vk.SwapchainCreateInfo{
		SType:           vk.StructureTypeSwapchainCreateInfo,
		Surface:         w.Surface,
		MinImageCount:   desiredImages,
		ImageFormat:     format.Format,
		ImageColorSpace: format.ColorSpace,
		ImageExtent: vk.Extent2D{
			Width:  size.Width,
			Height: size.Height,
		},
		ImageUsage: vk.ImageUsageFlags(vk.ImageUsageStorageBit |
			vk.ImageUsageTransferDstBit | vk.ImageUsageColorAttachmentBit),
		PreTransform:     preTransform,
		CompositeAlpha:   compositeAlpha,
		ImageArrayLayers: 1,
		ImageSharingMode: vk.SharingModeExclusive,
		PresentMode:      presentMode,
		OldSwapchain:     oldSwapchain,
		Clipped:          vk.True,
	}, nil, &swapchain)
	if err := NewError(ret); err != nil {
		return err
	}
	if oldSwapchain != vk.NullSwapchain {
		vk.DestroySwapchain(dv.Device, oldSwapchain, nil)
	}
	w.Swapchain = swapchain

	var imageCount uint32
	vk.GetSwapchainImages(dv.Device, w.Swapchain, &imageCount, nil)
	swapImages := make([]vk.Image, imageCount)
	vk.GetSwapchainImages(dv.Device, w.Swapchain, &imageCount, swapImages)
	if Debug {
		fmt.Printf("vkray.Window: swapchain %dx%d, %d images\n",
			size.Width, size.Height, imageCount)
	}

	ctx.Size.X = int(size.Width)
	ctx.Size.Y = int(size.Height)
	ctx.Format = format.Format
	ctx.ImageArrayLayers = 1
	ctx.ExpectedLayout = vk.ImageLayoutPresentSrc
	ctx.Images = make([]Image, imageCount)
	for i, img := range swapImages {
		im := &ctx.Images[i]
		im.Format.Set(int(size.Width), int(size.Height), format.Format)
		im.SetVkImage(dv.Device, img)
	}
	return nil
}

func (w *Window) PrepareNextImage(frameIndex int) (int, error) {
	glfw.PollEvents()
	var idx uint32
	ret := vk.AcquireNextImage(w.ctx.DisplayDevice().Device, w.Swapchain, vk.MaxUint64,
		w.ctx.FrameAvailable[frameIndex], vk.NullFence, &idx)
	switch ret {
	case vk.Success, vk.Suboptimal:
		return int(idx), nil
	case vk.ErrorOutOfDate:
		return 0, ErrOutOfDate
	default:
		return 0, NewError(ret)
	}
}

// FillEndFrameDeps adds the frame-finished signal the present will
// wait on.  A binary semaphore must not be signalled without a matching
// wait, so nothing is added when the frame is not displayed.
func (w *Window) FillEndFrameDeps(frameIndex int, deps Deps) Deps {
	if !w.ctx.Displaying {
		return deps
	}
	return deps.Add(w.ctx.FrameFinished[frameIndex], w.ctx.NextDepValue(),
		vk.PipelineStageAllCommandsBit)
}

func (w *Window) FinishImage(frameIndex, swapchainIndex int, display bool) error {
	if !display {
		return nil
	}
	ret := vk.QueuePresent(w.ctx.DisplayDevice().Queue, &vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: 1,
		PWaitSemaphores:    []vk.Semaphore{w.ctx.FrameFinished[frameIndex]},
		SwapchainCount:     1,
		PSwapchains:        []vk.Swapchain{w.Swapchain},
		PImageIndices:      []uint32{uint32(swapchainIndex)},
	})
	switch ret {
	case vk.Success, vk.Suboptimal:
		return nil
	case vk.ErrorOutOfDate:
		return ErrOutOfDate
	default:
		return NewError(ret)
	}
}

// ShouldClose reports the window close request, for the main loop.
func (w *Window) ShouldClose() bool {
	return w.Glfw.ShouldClose()
}

// RebuildSwapchain recreates the swapchain after an out-of-date error
// or a resize.  Implements SwapchainRebuilder.
func (w *Window) RebuildSwapchain(ctx *Context) error {
	ctx.ResetImageViews()
	return w.initSwapchain(ctx)
}

func (w *Window) Destroy() {
	if w.ctx == nil {
		return
	}
	dv := w.ctx.DisplayDevice()
	for i := range w.ctx.Images {
		w.ctx.Images[i].DestroyView()
	}
	w.ctx.Images = nil
	if w.Swapchain != vk.NullSwapchain {
		vk.DestroySwapchain(dv.Device, w.Swapchain, nil)
		w.Swapchain = vk.NullSwapchain
	}
	if w.Surface != vk.NullSurface {
		vk.DestroySurface(w.ctx.GPU.Instance, w.Surface, nil)
		w.Surface = vk.NullSurface
	}
	if w.Glfw != nil {
		w.Glfw.Destroy()
		w.Glfw = nil
	}
	w.ctx = nil
}
