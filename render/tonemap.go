// Copyright (c) 2024, The Photark Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package render

import (
	"strconv"
	"unsafe"

	vk "github.com/goki/vulkan"

	vkray "github.com/photark/vkray"
	"github.com/photark/vkray/scene"
)

// tonemapPC is the push constant record.
type tonemapPC struct {
	Size     [2]int32
	Exposure float32
	Gamma    float32

	// 1 composites the alpha checkerboard
	AlphaGrid uint32

	// parity for the checkerboard animation
	FrameCounter uint32
}

// TonemapStage maps the HDR color target to the display format and
// writes it into the acquired swapchain image.  Because the target
// image depends on which swapchain slot was acquired, its command
// buffers are recorded per swapchain image, not per frame slot.
type TonemapStage struct {
	vkray.Stage

	Opts TonemapOptions

	// HDR input bundle (color channel used)
	Input *vkray.GBuffer

	// per-swapchain-image output targets
	Outputs []*vkray.RenderTarget

	comp *vkray.ComputePipeline

	// viewport reorder table
	reorder *vkray.GPUBuffer

	Scene *scene.Scene

	Timer *vkray.Timer
}

// NewTonemapStage builds the tonemap over the context's display
// images.
func NewTonemapStage(ctx *vkray.Context, dv *vkray.Device, input *vkray.GBuffer, opt *TonemapOptions) (*TonemapStage, error) {
	tm := &TonemapStage{Opts: *opt, Input: input}
	tm.InitStage(ctx, dv, "tonemap", true)
	tm.Timer = tm.NewTimer("tonemap")
	tm.Outputs = ctx.ArrayRenderTargets()

	defines := map[string]string{}
	switch opt.Operator {
	case TonemapFilmic:
		defines["TONEMAP_FILMIC"] = "1"
	case TonemapGammaCorrection:
		defines["TONEMAP_GAMMA_CORRECTION"] = "1"
	case TonemapReinhard:
		defines["TONEMAP_REINHARD"] = "1"
	case TonemapReinhardLuminance:
		defines["TONEMAP_REINHARD_LUMINANCE"] = "1"
	case TonemapLinear:
		defines["TONEMAP_LINEAR"] = "1"
	}
	if opt.PostResolve {
		defines["POST_RESOLVE"] = "1"
	}
	defines["MAX_VIEWPORTS"] = strconv.Itoa(input.LayerCount())

	src, err := vkray.NewShaderSource("shader/tonemap.comp", defines)
	if err != nil {
		tm.DestroyStage()
		return nil, err
	}
	tm.comp, err = vkray.NewComputePipeline("tonemap", dv,
		ctx.Placeholders[dv.Index], &vkray.ComputePipelineParams{Source: src})
	if err != nil {
		tm.DestroyStage()
		return nil, err
	}

	// reorder table: identity when the option is empty
	layers := input.LayerCount()
	table := make([]uint32, layers)
	for i := range table {
		table[i] = uint32(i)
	}
	for i, r := range opt.Reorder {
		if i < layers {
			table[i] = r
		}
	}
	tm.reorder = vkray.NewGPUBuffer(dv, len(table)*4, vk.BufferUsageStorageBufferBit)
	tm.reorder.Update(0, unsafe.Slice((*byte)(unsafe.Pointer(&table[0])), len(table)*4))

	return tm, nil
}

// SetScene records the per-swapchain-image tonemap dispatches.  Every
// recorded buffer leaves the output image in the display's expected
// layout.
func (tm *TonemapStage) SetScene(s *scene.Scene) {
	tm.Scene = s
	tm.ClearCommands()
	if s == nil {
		return
	}

	ctx := tm.Ctx
	size := tm.Input.Size()
	wgx := uint32((size.X + 15) / 16)
	wgy := uint32((size.Y + 15) / 16)
	layers := uint32(ctx.ImageArrayLayers)

	whole := vk.DeviceSize(vk.WholeSize)
	for img := range tm.Outputs {
		out := tm.Outputs[img]
		// the stored descriptor state is per frame slot; the output
		// view is the same for all slots of this buffer
		for f := 0; f < vkray.MaxFramesInFlight; f++ {
			tm.comp.UpdateDescriptorSet([]vkray.DescriptorState{
				vkray.StorageImageDescriptor("in_color", tm.Input.Color.View(f)),
				vkray.StorageImageDescriptor("out_display", out.View(f)),
				vkray.BufferDescriptor("viewport_reorder", tm.reorder.Buff, 0, whole),
			}, f)
		}

		cmd := tm.BeginCompute(img)
		tm.Timer.Begin(cmd, img%vkray.MaxFramesInFlight)

		out.TransitionTemporary(cmd, 0, vk.ImageLayoutGeneral, true)
		tm.reorder.Upload(cmd, 0)

		tm.comp.Bind(cmd, img%vkray.MaxFramesInFlight)
		control := tonemapPC{
			Size:     [2]int32{int32(size.X), int32(size.Y)},
			Exposure: tm.Opts.Exposure,
			Gamma:    tm.Opts.Gamma,
		}
		if tm.Opts.AlphaGridBackground {
			control.AlphaGrid = 1
		}
		tm.comp.PushConstants(cmd, &control)
		tm.comp.Dispatch(cmd, wgx, wgy, layers)

		// leave the image in the layout the display expects
		vkray.TransitionImage(cmd, out.Image, out.Format.Format,
			vk.ImageLayoutGeneral, ctx.ExpectedLayout, 0, out.LayerCount())
		out.SetLayout(ctx.ExpectedLayout)

		tm.Timer.End(cmd, img%vkray.MaxFramesInFlight)
		tm.EndCompute(cmd, img)
	}
}

// Update has no per-frame CPU state.
func (tm *TonemapStage) Update(frameIndex int) {}

// Destroy frees the pipeline and reorder table.
func (tm *TonemapStage) Destroy() {
	if tm.comp != nil {
		tm.comp.Destroy()
	}
	if tm.reorder != nil {
		tm.reorder.Destroy()
	}
	tm.DestroyStage()
}
