// Copyright (c) 2024, The Photark Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vkray

import (
	"fmt"
	"image"

	vk "github.com/goki/vulkan"
	"github.com/loov/hrtime"
)

// Backend is the display backend protocol: a window, a headless file
// writer, or a network frame server.  The Context coordinates fences,
// frame slots and callbacks; the backend only supplies the image
// lifecycle.
type Backend interface {

	// InstanceExts returns the instance extensions the backend needs.
	InstanceExts() []string

	// QueueCanPresent reports whether the queue family can present to
	// this backend's display.
	QueueCanPresent(pd vk.PhysicalDevice, queueIndex uint32, props vk.QueueFamilyProperties) bool

	// Init creates the backend's surface (when it has one); called once
	// the instance exists, before device selection, so QueueCanPresent
	// can consult the surface.
	Init(ctx *Context) error

	// InitImages creates the backend's images and fills the context's
	// image list, size, format, layer count and expected layout.
	// Called once the display device exists.
	InitImages(ctx *Context) error

	// PrepareNextImage acquires the next image, signalling the frame's
	// FrameAvailable semaphore when the image is reusable.  May block.
	PrepareNextImage(frameIndex int) (int, error)

	// FillEndFrameDeps adds the backend's present-specific signal
	// dependencies to the end-of-frame submission.
	FillEndFrameDeps(frameIndex int, deps Deps) Deps

	// FinishImage presents or writes out the finished image.  When
	// display is false the image must not be output in any way.
	FinishImage(frameIndex, swapchainIndex int, display bool) error

	// Destroy frees backend resources; the context is still alive.
	Destroy()
}

// SwapchainRebuilder is implemented by backends that can recover from
// an out-of-date swapchain.
type SwapchainRebuilder interface {
	RebuildSwapchain(ctx *Context) error
}

// ContextOptions are construction options for the Context.
type ContextOptions struct {
	GPUOptions
}

// Context owns the devices, the swapchain images, the per-in-flight
// frame fences and semaphores, and the frame lifecycle:
// acquire -> submit -> present -> reclaim.  Each in-flight slot cycles
// Idle -> Acquired -> Submitted -> Presented -> Idle.
type Context struct {

	// instance + physical devices
	GPU *GPU

	// display backend
	Backend Backend

	// logical devices, one per physical device
	Devices []*Device

	// index into Devices of the display device
	DisplayDeviceIndex int

	// per-device placeholder resources
	Placeholders []*Placeholders

	// per-device transfer pools for initialization uploads
	Pools []*CmdPool

	// display image size
	Size image.Point

	// display image format
	Format vk.Format

	// array layers per display image (> 1 for multi-viewport targets)
	ImageArrayLayers int

	// layout the display expects finished images in
	ExpectedLayout vk.ImageLayout

	// the swapchain images, filled by the backend
	Images []Image

	// per-in-flight-frame binary semaphores: image reusable
	FrameAvailable [MaxFramesInFlight]vk.Semaphore

	// per-in-flight-frame binary semaphores: frame work done, present gate
	FrameFinished [MaxFramesInFlight]vk.Semaphore

	// per-in-flight-frame completion fences
	FrameFences [MaxFramesInFlight]vk.Fence

	// swapchain image -> fence of the frame that currently owns it;
	// enforces at most one in-flight frame per image
	ImageFences []vk.Fence

	// callbacks per in-flight slot, run after the slot's fence signals
	frameEndActions [MaxFramesInFlight][]func()

	// the frame counter rendering relies on
	FrameCounter uint64

	// counts only displayed frames
	DisplayedFrameCounter uint32

	// current slot and acquired image, valid between Begin/EndFrame
	FrameIndex     int
	SwapchainIndex int

	// false suppresses display output (warmup frames)
	Displaying bool

	// host-side dependency sequence source
	depValue uint64

	// stage timing record
	Timing *TimingRecord

	// cpu frame time measurement
	lastFrameTime float64
}

// NewContext creates the instance, devices and backend images, and all
// frame lifecycle objects.
func NewContext(backend Backend, opts *ContextOptions) (*Context, error) {
	ctx := &Context{Backend: backend, Displaying: true, ImageArrayLayers: 1}
	var gopts *GPUOptions
	if opts != nil {
		gopts = &opts.GPUOptions
	}
	gp, err := NewGPU(gopts, backend.InstanceExts())
	if err != nil {
		return nil, err
	}
	ctx.GPU = gp
	ctx.Timing = NewTimingRecord(gp.MaxTimestamps)

	if err := backend.Init(ctx); err != nil {
		ctx.Destroy()
		return nil, err
	}

	ctx.DisplayDeviceIndex = -1
	for i := range gp.GPUs {
		dv := &Device{}
		var filter QueueFilter
		if ctx.DisplayDeviceIndex < 0 {
			filter = func(pd vk.PhysicalDevice, qi uint32, props vk.QueueFamilyProperties) bool {
				return backend.QueueCanPresent(pd, qi, props)
			}
		}
		flags := vk.QueueGraphicsBit | vk.QueueComputeBit
		if err := dv.Init(gp, i, flags, filter); err != nil {
			// not presentable; keep as compute-only secondary device
			if err := dv.Init(gp, i, vk.QueueComputeBit, nil); err != nil {
				ctx.Destroy()
				return nil, err
			}
		} else if ctx.DisplayDeviceIndex < 0 {
			ctx.DisplayDeviceIndex = len(ctx.Devices)
		}
		ctx.Devices = append(ctx.Devices, dv)
		pool := &CmdPool{}
		pool.ConfigTransient(dv)
		pool.NewBuffer(dv)
		ctx.Pools = append(ctx.Pools, pool)
		ctx.Placeholders = append(ctx.Placeholders, NewPlaceholders(dv, pool))
	}
	if ctx.DisplayDeviceIndex < 0 {
		ctx.Destroy()
		return nil, fmt.Errorf("vkray: no device can present to the display backend")
	}

	if err := backend.InitImages(ctx); err != nil {
		ctx.Destroy()
		return nil, err
	}
	if len(ctx.Images) <= MaxFramesInFlight {
		ctx.Destroy()
		return nil, fmt.Errorf("vkray: backend supplies %d images; need more than %d in-flight frames",
			len(ctx.Images), MaxFramesInFlight)
	}

	dev := ctx.DisplayDevice().Device
	for i := 0; i < MaxFramesInFlight; i++ {
		ctx.FrameAvailable[i] = NewSemaphore(dev)
		ctx.FrameFinished[i] = NewSemaphore(dev)
		ctx.FrameFences[i] = NewFence(dev, true)
	}
	ctx.ImageFences = make([]vk.Fence, len(ctx.Images))
	ctx.lastFrameTime = hrtime.Now().Seconds()
	return ctx, nil
}

// DisplayDevice returns the device driving the display backend.
func (ctx *Context) DisplayDevice() *Device {
	return ctx.Devices[ctx.DisplayDeviceIndex]
}

// DisplayPlaceholders returns the display device's placeholder set.
func (ctx *Context) DisplayPlaceholders() *Placeholders {
	return ctx.Placeholders[ctx.DisplayDeviceIndex]
}

// NextDepValue returns the next host-side dependency sequence value.
func (ctx *Context) NextDepValue() uint64 {
	ctx.depValue++
	return ctx.depValue
}

// SetDisplaying controls whether finished frames are output; warmup
// frames render with displaying off.
func (ctx *Context) SetDisplaying(displaying bool) {
	ctx.Displaying = displaying
}

// Indices returns the current swapchain index and frame slot.
func (ctx *Context) Indices() (swapchainIndex, frameIndex int) {
	return ctx.SwapchainIndex, ctx.FrameIndex
}

// ArrayRenderTargets returns one render target per swapchain image,
// covering all array layers, in the display's expected layout.
func (ctx *Context) ArrayRenderTargets() []*RenderTarget {
	rts := make([]*RenderTarget, len(ctx.Images))
	for i := range ctx.Images {
		im := &ctx.Images[i]
		rt := &RenderTarget{
			Image:  im.Image,
			Dev:    im.Dev,
			Format: im.Format,
		}
		for f := 0; f < MaxFramesInFlight; f++ {
			rt.Views[f] = im.View
			rt.Layouts[f] = vk.ImageLayoutUndefined
		}
		rts[i] = rt
	}
	return rts
}

// BeginFrame starts the next frame: waits for the slot's fence, runs
// the slot's end-of-frame callbacks, acquires a swapchain image from
// the backend, and claims the image for this frame.  The returned
// dependency gates rendering into the acquired image only -- internal
// buffers can be rendered to immediately.
func (ctx *Context) BeginFrame() (Dep, error) {
	slot := int(ctx.FrameCounter % MaxFramesInFlight)
	dev := ctx.DisplayDevice().Device

	fences := []vk.Fence{ctx.FrameFences[slot]}
	vk.WaitForFences(dev, 1, fences, vk.True, vk.MaxUint64)
	ctx.drainFrameEndActions(slot)

	swapIdx, err := ctx.Backend.PrepareNextImage(slot)
	if err != nil {
		return Dep{}, err
	}

	if ctx.ImageFences[swapIdx] != vk.NullFence && ctx.ImageFences[swapIdx] != ctx.FrameFences[slot] {
		imf := []vk.Fence{ctx.ImageFences[swapIdx]}
		vk.WaitForFences(dev, 1, imf, vk.True, vk.MaxUint64)
	}
	ctx.ImageFences[swapIdx] = ctx.FrameFences[slot]
	vk.ResetFences(dev, 1, fences)

	ctx.FrameIndex = slot
	ctx.SwapchainIndex = swapIdx

	now := hrtime.Now().Seconds()
	ctx.Timing.add("frame (cpu)", (now-ctx.lastFrameTime)*1e3)
	ctx.lastFrameTime = now

	return Dep{
		Semaphore: ctx.FrameAvailable[slot],
		Value:     ctx.NextDepValue(),
		Stages:    vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit),
	}, nil
}

// EndFrame finishes the frame: submits an empty command buffer that
// waits on deps, signals the backend's end-of-frame dependencies
// (typically the frame-finished semaphore the present waits on) and
// the slot's fence, then hands the image to the backend for present or
// write-out, and advances the frame counters.
func (ctx *Context) EndFrame(deps Deps) error {
	slot := ctx.FrameIndex
	signal := ctx.Backend.FillEndFrameDeps(slot, nil)

	err := CmdSubmitDeps(nil, ctx.DisplayDevice(), deps, signal, ctx.FrameFences[slot])
	if err != nil {
		return err
	}
	if err := ctx.Backend.FinishImage(slot, ctx.SwapchainIndex, ctx.Displaying); err != nil {
		return err
	}
	ctx.FrameCounter++
	if ctx.Displaying {
		ctx.DisplayedFrameCounter++
	}
	return nil
}

// QueueFrameFinishCallback enqueues fn on the current slot's callback
// queue.  fn runs exactly once, after the GPU has finished this frame
// and before the slot is re-entered.
func (ctx *Context) QueueFrameFinishCallback(fn func()) {
	ctx.frameEndActions[ctx.FrameIndex] = append(ctx.frameEndActions[ctx.FrameIndex], fn)
}

// drainFrameEndActions runs and clears the slot's callback queue.
func (ctx *Context) drainFrameEndActions(slot int) {
	actions := ctx.frameEndActions[slot]
	ctx.frameEndActions[slot] = nil
	for _, fn := range actions {
		fn()
	}
}

// Sync blocks until all devices are idle and drains all pending
// callbacks on every slot.  Must run before Destroy.
func (ctx *Context) Sync() {
	for _, dv := range ctx.Devices {
		dv.WaitIdle()
	}
	for slot := 0; slot < MaxFramesInFlight; slot++ {
		ctx.drainFrameEndActions(slot)
	}
}

// ResetImageViews drops and re-creates the display image views, for
// swapchain rebuilds after an out-of-date error.
func (ctx *Context) ResetImageViews() {
	for i := range ctx.Images {
		ctx.Images[i].DestroyView()
	}
	ctx.Images = nil
	for i := range ctx.ImageFences {
		ctx.ImageFences[i] = vk.NullFence
	}
}

// RebuildSwapchain recovers from ErrOutOfDate: the caller must have
// dropped its stages/pipelines first; the backend recreates the
// swapchain and the context resets per-image state.  The frame counter
// does not advance across the failed frame.
func (ctx *Context) RebuildSwapchain() error {
	rb, ok := ctx.Backend.(SwapchainRebuilder)
	if !ok {
		return fmt.Errorf("vkray: backend cannot rebuild its swapchain")
	}
	ctx.DisplayDevice().WaitIdle()
	if err := rb.RebuildSwapchain(ctx); err != nil {
		return err
	}
	ctx.ImageFences = make([]vk.Fence, len(ctx.Images))
	return nil
}

// Destroy frees everything; Sync must have been called when any frame
// was rendered.
func (ctx *Context) Destroy() {
	if ctx.GPU == nil {
		return
	}
	if ctx.DisplayDeviceIndex >= 0 {
		dev := ctx.DisplayDevice().Device
		for i := 0; i < MaxFramesInFlight; i++ {
			if ctx.FrameAvailable[i] != vk.NullSemaphore {
				vk.DestroySemaphore(dev, ctx.FrameAvailable[i], nil)
				vk.DestroySemaphore(dev, ctx.FrameFinished[i], nil)
				vk.DestroyFence(dev, ctx.FrameFences[i], nil)
				ctx.FrameAvailable[i] = vk.NullSemaphore
				ctx.FrameFinished[i] = vk.NullSemaphore
				ctx.FrameFences[i] = vk.NullFence
			}
		}
	}
	if ctx.Backend != nil {
		ctx.Backend.Destroy()
		ctx.Backend = nil
	}
	for i, ph := range ctx.Placeholders {
		ph.Destroy()
		ctx.Pools[i].Destroy(ctx.Devices[i].Device)
	}
	ctx.Placeholders = nil
	ctx.Pools = nil
	for _, dv := range ctx.Devices {
		dv.Destroy()
	}
	ctx.Devices = nil
	ctx.GPU.Destroy()
	ctx.GPU = nil
}
