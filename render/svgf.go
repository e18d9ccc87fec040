// Copyright (c) 2024, The Photark Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package render

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"
	"goki.dev/mat32/v2"

	vkray "github.com/photark/vkray"
	"github.com/photark/vkray/scene"
)

// SVGFOptions configure the spatiotemporal variance guided filter.
type SVGFOptions struct {

	// number of viewports filtered
	ActiveViewportCount int `toml:"active_viewport_count"`

	// a-trous wavelet iterations; AtrousDiffuseIters sets the iteration
	// count of the single recorded a-trous loop, which filters the
	// diffuse and specular chains together.  AtrousSpecIters is not read
	// by the stage.
	AtrousDiffuseIters int `toml:"atrous_diffuse_iters"`
	AtrousSpecIters    int `toml:"atrous_spec_iters"`

	// a-trous kernel radius in texels
	AtrousKernelRadius int `toml:"atrous_kernel_radius"`

	// edge stopping weights: luminance, linear depth, normal
	SigmaL float32 `toml:"sigma_l"`
	SigmaZ float32 `toml:"sigma_z"`
	SigmaN float32 `toml:"sigma_n"`

	// temporal accumulation blend factors
	TemporalAlphaColor   float32 `toml:"temporal_alpha_color"`
	TemporalAlphaMoments float32 `toml:"temporal_alpha_moments"`
}

func (so *SVGFOptions) Defaults() {
	so.ActiveViewportCount = 1
	so.AtrousDiffuseIters = 4
	so.AtrousSpecIters = 4
	so.AtrousKernelRadius = 2
	so.SigmaL = 10
	so.SigmaZ = 1
	so.SigmaN = 128
	so.TemporalAlphaColor = 0.05
	so.TemporalAlphaMoments = 0.2
}

// svgfTemporalPC drives the temporal reprojection and the spatial
// variance estimate dispatches.
type svgfTemporalPC struct {
	Size           [2]int32
	SigmaZ         float32
	SigmaN         float32
	AlphaColor     float32
	AlphaMoments   float32
}

// svgfAtrousPC drives one a-trous wavelet iteration.
type svgfAtrousPC struct {
	Size           [2]int32
	Iteration      int32
	Stride         int32
	IterationCount int32
	KernelRadius   int32
	SigmaL         float32
	SigmaZ         float32
	SigmaN         float32
}

// AtrousSchedule returns the dilation strides of an n-iteration
// a-trous chain: iteration j uses stride 2^j.
func AtrousSchedule(n int) []int {
	strides := make([]int, n)
	for j := 0; j < n; j++ {
		strides[j] = 1 << j
	}
	return strides
}

// SVGFStage denoises the path tracer's color output in place using
// temporal accumulation, variance estimation and an edge-stopping
// a-trous wavelet filter.  Inputs: the current frame's color, diffuse,
// normal, albedo, linear depth and screen motion channels, plus the
// previous frame's normal and linear depth.
type SVGFStage struct {
	vkray.Stage

	Opts SVGFOptions

	// current and previous frame feature bundles
	Input *vkray.GBuffer
	Prev  *vkray.GBuffer

	temporal *vkray.ComputePipeline
	variance *vkray.ComputePipeline
	atrous   *vkray.ComputePipeline

	// scratch targets: ping-pong pairs, moments history, color and
	// specular history
	scratch [8]*vkray.Texture

	atrousDiffusePP [2]*vkray.RenderTarget
	atrousSpecPP    [2]*vkray.RenderTarget
	momentsHist     [2]*vkray.RenderTarget
	colorHist       *vkray.RenderTarget
	specHist        *vkray.RenderTarget

	// per-viewport (current, previous) jitter
	jitterHistory []mat32.Vec4
	jitterBuffer  *vkray.GPUBuffer

	Scene *scene.Scene

	Timer *vkray.Timer
}

// NewSVGFStage builds the filter over the given feature bundles.
func NewSVGFStage(ctx *vkray.Context, dv *vkray.Device, input, prev *vkray.GBuffer, opt *SVGFOptions) (*SVGFStage, error) {
	sv := &SVGFStage{Opts: *opt, Input: input, Prev: prev}
	if sv.Opts.ActiveViewportCount < 1 {
		sv.Opts.ActiveViewportCount = 1
	}
	sv.InitStage(ctx, dv, "svgf", false)
	sv.Timer = sv.NewTimer(fmt.Sprintf("svgf (%d viewports)", input.LayerCount()))
	sv.jitterBuffer = vkray.NewGPUBuffer(dv,
		int(unsafe.Sizeof(mat32.Vec4{}))*sv.Opts.ActiveViewportCount,
		vk.BufferUsageStorageBufferBit)

	ph := ctx.Placeholders[dv.Index]
	var err error
	mk := func(path, name string) *vkray.ComputePipeline {
		if err != nil {
			return nil
		}
		src, serr := vkray.NewShaderSource(path, nil)
		if serr != nil {
			err = serr
			return nil
		}
		pl, perr := vkray.NewComputePipeline(name, dv, ph,
			&vkray.ComputePipelineParams{Source: src})
		if perr != nil {
			err = perr
			return nil
		}
		return pl
	}
	sv.temporal = mk("shader/svgf_temporal.comp", "svgf temporal")
	sv.variance = mk("shader/svgf_estimate_variance.comp", "svgf estimate variance")
	sv.atrous = mk("shader/svgf_atrous.comp", "svgf atrous")
	if err != nil {
		sv.Destroy()
		return nil, err
	}

	sv.initResources(ctx)
	sv.recordCommandBuffers()
	return sv, nil
}

// initResources allocates the scratch render targets and fills the
// per-frame descriptor states.
func (sv *SVGFStage) initResources(ctx *vkray.Context) {
	size := sv.Input.Size()
	layers := sv.Input.LayerCount()
	pool := ctx.Pools[sv.Dev.Index]
	for i := range sv.scratch {
		sv.scratch[i] = vkray.NewTexture(sv.Dev, size, layers,
			vk.FormatR16g16b16a16Sfloat, vk.ImageUsageStorageBit,
			vk.ImageLayoutGeneral, pool)
	}
	rt := 0
	next := func() *vkray.RenderTarget {
		t := sv.scratch[rt].RenderTarget(vk.ImageLayoutGeneral)
		rt++
		return t
	}
	sv.atrousSpecPP[0] = next()
	sv.atrousSpecPP[1] = next()
	sv.momentsHist[0] = next()
	sv.momentsHist[1] = next()
	sv.colorHist = next()
	sv.specHist = next()
	sv.atrousDiffusePP[0] = next()
	sv.atrousDiffusePP[1] = next()

	whole := vk.DeviceSize(vk.WholeSize)
	for i := 0; i < vkray.MaxFramesInFlight; i++ {
		sv.atrous.UpdateDescriptorSet([]vkray.DescriptorState{
			vkray.StorageImageDescriptor("color_ping", sv.atrousDiffusePP[1].View(i)),
			vkray.StorageImageDescriptor("color_pong", sv.atrousDiffusePP[0].View(i)),
			vkray.StorageImageDescriptor("specular_ping", sv.atrousSpecPP[1].View(i)),
			vkray.StorageImageDescriptor("specular_pong", sv.atrousSpecPP[0].View(i)),
			vkray.StorageImageDescriptor("final_output", sv.Input.Color.View(i)),
			vkray.StorageImageDescriptor("color_hist", sv.colorHist.View(i)),
			vkray.StorageImageDescriptor("spec_hist", sv.specHist.View(i)),
			vkray.StorageImageDescriptor("in_linear_depth", sv.Input.LinearDepth.View(i)),
			vkray.StorageImageDescriptor("in_normal", sv.Input.Normal.View(i)),
			vkray.StorageImageDescriptor("in_albedo", sv.Input.Albedo.View(i)),
		}, i)
		sv.temporal.UpdateDescriptorSet([]vkray.DescriptorState{
			vkray.StorageImageDescriptor("in_color", sv.Input.Color.View(i)),
			vkray.StorageImageDescriptor("in_diffuse", sv.Input.Diffuse.View(i)),
			vkray.StorageImageDescriptor("previous_color", sv.colorHist.View(i)),
			vkray.StorageImageDescriptor("in_normal", sv.Input.Normal.View(i)),
			vkray.StorageImageDescriptor("in_screen_motion", sv.Input.ScreenMotion.View(i)),
			vkray.StorageImageDescriptor("previous_normal", sv.Prev.Normal.View(i)),
			vkray.StorageImageDescriptor("in_albedo", sv.Input.Albedo.View(i)),
			vkray.StorageImageDescriptor("previous_moments", sv.momentsHist[0].View(i)),
			vkray.StorageImageDescriptor("out_moments", sv.momentsHist[1].View(i)),
			vkray.StorageImageDescriptor("out_color", sv.atrousDiffusePP[0].View(i)),
			vkray.StorageImageDescriptor("out_specular", sv.atrousSpecPP[0].View(i)),
			vkray.StorageImageDescriptor("in_linear_depth", sv.Input.LinearDepth.View(i)),
			vkray.StorageImageDescriptor("previous_linear_depth", sv.Prev.LinearDepth.View(i)),
			vkray.BufferDescriptor("jitter_info", sv.jitterBuffer.Buff, 0, whole),
			vkray.StorageImageDescriptor("previous_specular", sv.specHist.View(i)),
		}, i)
		sv.variance.UpdateDescriptorSet([]vkray.DescriptorState{
			vkray.StorageImageDescriptor("in_color", sv.atrousDiffusePP[0].View(i)),
			vkray.StorageImageDescriptor("out_color", sv.atrousDiffusePP[1].View(i)),
			vkray.StorageImageDescriptor("in_specular", sv.atrousSpecPP[0].View(i)),
			vkray.StorageImageDescriptor("out_specular", sv.atrousSpecPP[1].View(i)),
			vkray.StorageImageDescriptor("in_linear_depth", sv.Input.LinearDepth.View(i)),
			vkray.StorageImageDescriptor("color_hist", sv.colorHist.View(i)),
			vkray.StorageImageDescriptor("current_moments", sv.momentsHist[1].View(i)),
			vkray.StorageImageDescriptor("moments_hist", sv.momentsHist[0].View(i)),
			vkray.StorageImageDescriptor("in_albedo", sv.Input.Albedo.View(i)),
			vkray.StorageImageDescriptor("in_normal", sv.Input.Normal.View(i)),
		}, i)
	}
}

// SetScene only retains the scene for jitter lookup; the command
// buffers do not depend on scene topology.
func (sv *SVGFStage) SetScene(s *scene.Scene) {
	sv.Scene = s
}

// Update refreshes the per-viewport jitter history buffer, honoring
// the configured viewport count.
func (sv *SVGFStage) Update(frameIndex int) {
	existing := len(sv.jitterHistory) != 0
	viewportCount := sv.Opts.ActiveViewportCount
	if len(sv.jitterHistory) != viewportCount {
		sv.jitterHistory = make([]mat32.Vec4, viewportCount)
	}
	for i := 0; i < viewportCount; i++ {
		v := &sv.jitterHistory[i]
		var cur mat32.Vec2
		if cam := sv.Scene.Camera(i); cam != nil {
			cur = cam.Jitter()
		}
		prev := mat32.V2(v.X, v.Y)
		if !existing {
			prev = cur
		}
		*v = mat32.V4(cur.X, cur.Y, prev.X, prev.Y)
	}
	sv.jitterBuffer.Update(frameIndex, jitterBytes(sv.jitterHistory))
}

func jitterBytes(hist []mat32.Vec4) []byte {
	if len(hist) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&hist[0])),
		len(hist)*int(unsafe.Sizeof(mat32.Vec4{})))
}

// recordCommandBuffers records the full filter chain: temporal,
// variance estimation, then the a-trous iterations with stride 2^j,
// each pass separated by a compute-to-compute barrier.  The first
// a-trous iteration writes the color history.
func (sv *SVGFStage) recordCommandBuffers() {
	size := sv.Input.Size()
	layers := uint32(sv.Input.LayerCount())
	wgx := uint32((size.X + 15) / 16)
	wgy := uint32((size.Y + 15) / 16)

	for i := 0; i < vkray.MaxFramesInFlight; i++ {
		cmd := sv.BeginCompute(i)
		sv.Timer.Begin(cmd, i)

		sv.jitterBuffer.Upload(cmd, i)

		controlTemporal := svgfTemporalPC{
			Size:         [2]int32{int32(size.X), int32(size.Y)},
			SigmaZ:       sv.Opts.SigmaZ,
			SigmaN:       sv.Opts.SigmaN,
			AlphaColor:   sv.Opts.TemporalAlphaColor,
			AlphaMoments: sv.Opts.TemporalAlphaMoments,
		}
		sv.temporal.Bind(cmd, i)
		sv.temporal.PushConstants(cmd, &controlTemporal)
		sv.temporal.Dispatch(cmd, wgx, wgy, layers)

		vkray.ComputeBarrier(cmd)

		sv.variance.Bind(cmd, i)
		sv.variance.PushConstants(cmd, &controlTemporal)
		sv.variance.Dispatch(cmd, wgx, wgy, layers)

		vkray.ComputeBarrier(cmd)

		sv.atrous.Bind(cmd, i)
		iters := sv.Opts.AtrousDiffuseIters
		strides := AtrousSchedule(iters)
		for j := 0; j < iters; j++ {
			if j != 0 {
				vkray.ComputeBarrier(cmd)
			}
			controlAtrous := svgfAtrousPC{
				Size:           [2]int32{int32(size.X), int32(size.Y)},
				Iteration:      int32(j),
				Stride:         int32(strides[j]),
				IterationCount: int32(iters),
				KernelRadius:   int32(sv.Opts.AtrousKernelRadius),
				SigmaL:         sv.Opts.SigmaL,
				SigmaZ:         sv.Opts.SigmaZ,
				SigmaN:         sv.Opts.SigmaN,
			}
			sv.atrous.PushConstants(cmd, &controlAtrous)
			sv.atrous.Dispatch(cmd, wgx, wgy, layers)
		}

		sv.Timer.End(cmd, i)
		sv.EndCompute(cmd, i)
	}
}

// Destroy frees the pipelines and scratch targets.
func (sv *SVGFStage) Destroy() {
	for _, pl := range []*vkray.ComputePipeline{sv.temporal, sv.variance, sv.atrous} {
		if pl != nil {
			pl.Destroy()
		}
	}
	for _, tx := range sv.scratch {
		if tx != nil {
			tx.Destroy()
		}
	}
	if sv.jitterBuffer != nil {
		sv.jitterBuffer.Destroy()
	}
	sv.DestroyStage()
}
