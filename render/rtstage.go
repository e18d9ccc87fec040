// Copyright (c) 2024, The Photark Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package render provides the concrete per-frame stage graphs: the
// path tracer, Whitted, SH probe and feature ray tracing stages, the
// SVGF and BMFR denoisers, spatial reprojection, temporal antialiasing
// and tonemapping, plus the renderers that assemble them.
package render

import (
	"fmt"
	"strconv"

	vk "github.com/goki/vulkan"
	vkray "github.com/photark/vkray"
	"github.com/photark/vkray/scene"
)

// commonDefines injects the defines shared by all camera ray tracing
// stages into the map.
func commonDefines(defines map[string]string, opt *RTCameraStageOptions) {
	defines["CAMERA_PROJECTION"] = strconv.Itoa(int(opt.Projection))
	defines["RNG_SEED"] = strconv.FormatUint(uint64(opt.RNGSeed), 10)
	defines["MAX_VIEWPORTS"] = strconv.Itoa(maxInt(opt.ActiveViewportCount, 1))
	if opt.TransparentBackground {
		defines["USE_TRANSPARENT_BACKGROUND"] = "1"
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// RTStage is the base of the camera ray tracing stages: it owns the
// ray tracing pipeline, the output G-buffer, and the pre-recorded
// per-frame command buffers issuing one trace per accumulated sample
// pass.  Concrete stages supply the shader set and the per-pass push
// constants.
type RTStage struct {
	vkray.Stage

	// output channel bundle
	GBuf *vkray.GBuffer

	// rays per viewport
	RayWidth, RayHeight int

	// the ray tracing pipeline
	Pipeline *vkray.RayTracingPipeline

	// camera stage options
	CamOpts *RTCameraStageOptions

	// number of accumulation passes recorded per frame
	Passes int

	// scene currently recorded against
	Scene *scene.Scene

	// scene change counter at last record
	sceneCounter uint64

	// per-pass push constant recorder, set by the concrete stage
	PushConstFn func(cmd vk.CommandBuffer, frameIndex, passIndex int)

	// optional extra per-frame recording (stage-owned uniform uploads),
	// runs after the scene upload
	PreRecordFn func(cmd vk.CommandBuffer, frameIndex int)

	// stage timer
	Timer *vkray.Timer
}

// InitRT builds the pipeline from the shader set and allocates the
// stage command buffers.  Fails with MissingCapability when the device
// cannot ray trace.
func (rt *RTStage) InitRT(ctx *vkray.Context, dv *vkray.Device, name string, sources *vkray.ShaderSet, opts *RTCameraStageOptions, gbuf *vkray.GBuffer, passes int) error {
	rt.InitStage(ctx, dv, name, false)
	rt.GBuf = gbuf
	rt.CamOpts = opts
	rt.Passes = maxInt(passes, 1)
	size := gbuf.Size()
	rt.RayWidth, rt.RayHeight = size.X, size.Y
	rt.Timer = rt.NewTimer(fmt.Sprintf("%s (%d viewports)", name, gbuf.LayerCount()))

	pl, err := vkray.NewRayTracingPipeline(name, dv, ctx.Placeholders[dv.Index],
		ctx.Pools[dv.Index], &vkray.RayTracingPipelineParams{
			Sources: sources,
			CountOverrides: map[string]uint32{
				"textures":   uint32(opts.MaxSamplers),
				"vertices":   uint32(opts.MaxMeshes),
				"indices":    uint32(opts.MaxMeshes),
				"textures3d": 16,
			},
			MaxRecursionDepth: opts.MaxRayDepth,
		})
	if err != nil {
		return err
	}
	rt.Pipeline = pl
	return nil
}

// BindGBuffer stores the output channel storage image bindings for
// every frame slot, named out_<name> to match the shader interface.
func (rt *RTStage) BindGBuffer() {
	for i := 0; i < vkray.MaxFramesInFlight; i++ {
		var binds []vkray.DescriptorState
		frame := i
		rt.GBuf.Each(func(name string, t *vkray.RenderTarget) {
			binds = append(binds, vkray.StorageImageDescriptor(
				"out_"+lowerSnake(name), t.View(frame)))
		})
		rt.Pipeline.UpdateDescriptorSet(binds, i)
	}
}

func lowerSnake(name string) string {
	out := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}

// SetScene re-records the stage command buffers against the scene.
// Per-frame submission never re-records; only this does.
func (rt *RTStage) SetScene(s *scene.Scene) {
	rt.Scene = s
	rt.ClearCommands()
	if s == nil {
		return
	}
	if !s.HasTLAS() {
		vkray.IfPanic(&vkray.MissingCapability{What: "ray tracing stage requires a TLAS"})
	}
	rt.sceneCounter = s.ChangeCounter()
	rt.Scene.BindPlaceholders(&rt.Pipeline.Pipeline,
		uint32(rt.CamOpts.MaxSamplers), 16)
	rt.BindGBuffer()

	for i := 0; i < vkray.MaxFramesInFlight; i++ {
		s.Bind(&rt.Pipeline.Pipeline, i, 0)
		cmd := rt.BeginCompute(i)
		rt.Timer.Begin(cmd, i)

		s.Upload(cmd, rt.Dev.Index, i)
		if rt.PreRecordFn != nil {
			rt.PreRecordFn(cmd, i)
		}
		rt.GBuf.Transition(cmd, i, vk.ImageLayoutGeneral)

		rt.Pipeline.Bind(cmd, i)
		for pass := 0; pass < rt.Passes; pass++ {
			if pass != 0 {
				vkray.RayTraceToComputeBarrier(cmd)
			}
			if rt.PushConstFn != nil {
				rt.PushConstFn(cmd, i, pass)
			}
			rt.Pipeline.TraceRays(cmd, uint32(rt.RayWidth), uint32(rt.RayHeight),
				uint32(rt.GBuf.LayerCount()))
		}

		rt.Timer.End(cmd, i)
		rt.EndCompute(cmd, i)
	}
}

// NeedsRecord reports whether the scene topology moved since the last
// record.
func (rt *RTStage) NeedsRecord() bool {
	return rt.Scene != nil && rt.Scene.ChangeCounter() != rt.sceneCounter
}

// Update refreshes per-frame CPU state; the base stage has none.
func (rt *RTStage) Update(frameIndex int) {}

// Destroy frees the pipeline and base stage resources.
func (rt *RTStage) Destroy() {
	if rt.Pipeline != nil {
		rt.Pipeline.Destroy()
		rt.Pipeline = nil
	}
	rt.DestroyStage()
}
