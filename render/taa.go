// Copyright (c) 2024, The Photark Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package render

import (
	vk "github.com/goki/vulkan"

	vkray "github.com/photark/vkray"
	"github.com/photark/vkray/scene"
)

// taaPC is the push constant record.
type taaPC struct {
	Size          [2]int32
	BlendingRatio float32
	pad0          float32
}

// TAAStage blends the current color against a reprojected history
// buffer using the camera jitter sequence, clamping history to the
// neighborhood color bounds.
type TAAStage struct {
	vkray.Stage

	Opts TAAOptions

	// input bundle; color and screen motion channels used
	Input *vkray.GBuffer

	comp *vkray.ComputePipeline

	// color history texture
	history *vkray.Texture

	Scene *scene.Scene

	Timer *vkray.Timer
}

// NewTAAStage builds the stage over the input bundle.
func NewTAAStage(ctx *vkray.Context, dv *vkray.Device, input *vkray.GBuffer, opt *TAAOptions) (*TAAStage, error) {
	ta := &TAAStage{Opts: *opt, Input: input}
	ta.InitStage(ctx, dv, "taa", false)
	ta.Timer = ta.NewTimer("taa")

	src, err := vkray.NewShaderSource("shader/taa.comp", nil)
	if err != nil {
		ta.DestroyStage()
		return nil, err
	}
	ta.comp, err = vkray.NewComputePipeline("taa", dv,
		ctx.Placeholders[dv.Index], &vkray.ComputePipelineParams{Source: src})
	if err != nil {
		ta.DestroyStage()
		return nil, err
	}

	size := input.Size()
	ta.history = vkray.NewTexture(dv, size, input.LayerCount(),
		vk.FormatR16g16b16a16Sfloat, vk.ImageUsageStorageBit,
		vk.ImageLayoutGeneral, ctx.Pools[dv.Index])

	for i := 0; i < vkray.MaxFramesInFlight; i++ {
		ta.comp.UpdateDescriptorSet([]vkray.DescriptorState{
			vkray.StorageImageDescriptor("inout_color", input.Color.View(i)),
			vkray.StorageImageDescriptor("in_screen_motion", input.ScreenMotion.View(i)),
			vkray.StorageImageDescriptor("color_history", ta.history.View),
		}, i)
	}
	return ta, nil
}

// SetScene records the blend dispatch.
func (ta *TAAStage) SetScene(s *scene.Scene) {
	ta.Scene = s
	ta.ClearCommands()
	if s == nil {
		return
	}
	size := ta.Input.Size()
	wgx := uint32((size.X + 15) / 16)
	wgy := uint32((size.Y + 15) / 16)
	layers := uint32(ta.Input.LayerCount())

	for i := 0; i < vkray.MaxFramesInFlight; i++ {
		cmd := ta.BeginCompute(i)
		ta.Timer.Begin(cmd, i)

		ta.comp.Bind(cmd, i)
		control := taaPC{
			Size:          [2]int32{int32(size.X), int32(size.Y)},
			BlendingRatio: ta.Opts.BlendingRatio,
		}
		ta.comp.PushConstants(cmd, &control)
		ta.comp.Dispatch(cmd, wgx, wgy, layers)

		ta.Timer.End(cmd, i)
		ta.EndCompute(cmd, i)
	}
}

// Update has no per-frame CPU state.
func (ta *TAAStage) Update(frameIndex int) {}

// Destroy frees the pipeline and history texture.
func (ta *TAAStage) Destroy() {
	if ta.comp != nil {
		ta.comp.Destroy()
	}
	if ta.history != nil {
		ta.history.Destroy()
	}
	ta.DestroyStage()
}
