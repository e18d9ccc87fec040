// Copyright (c) 2024, The Photark Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package render

import (
	"unsafe"

	vk "github.com/goki/vulkan"
	"goki.dev/mat32/v2"

	vkray "github.com/photark/vkray"
	"github.com/photark/vkray/scene"
)

// BMFRSettings select the filtered radiance decomposition.
type BMFRSettings int32

const (
	BMFRDiffuseOnly BMFRSettings = iota
	BMFRDiffuseSpecular
)

// BMFROptions configure the blockwise multi-order feature regression
// denoiser.
type BMFROptions struct {
	Settings BMFRSettings `toml:"settings"`

	// number of viewports filtered
	ActiveViewportCount int `toml:"active_viewport_count"`
}

// bmfrBlockEdge is the fit block size in pixels.
const bmfrBlockEdge = 32

// bmfrPC is the push constant record shared by the four passes.
type bmfrPC struct {
	Size [2]int32

	// frame parity rotates the block offsets so block seams move
	FrameCounter uint32

	// 1 when the specular chain runs
	Specular uint32
}

// BMFRStage denoises by fitting noisy color against a feature basis
// (world position, normal, their squares) per 32x32 block with a
// QR-style least squares solve, evaluating the fit, and accumulating
// the result temporally.  Albedo is divided out first and multiplied
// back after regression.
type BMFRStage struct {
	vkray.Stage

	Opts BMFROptions

	// current and previous frame feature bundles
	Input *vkray.GBuffer
	Prev  *vkray.GBuffer

	preprocess  *vkray.ComputePipeline
	fit         *vkray.ComputePipeline
	weightedSum *vkray.ComputePipeline
	accumulate  *vkray.ComputePipeline

	// scratch targets: noisy ping-pong, filtered ping-pong, diffuse
	// and specular history, filtered history, weighted sums
	scratch [10]*vkray.Texture

	tmpNoisy     [2]*vkray.RenderTarget
	tmpFiltered  [2]*vkray.RenderTarget
	diffuseHist  *vkray.RenderTarget
	specularHist *vkray.RenderTarget
	filteredHist [2]*vkray.RenderTarget
	weightedSums [2]*vkray.RenderTarget

	// per-frame fit scratch buffers
	minMax  [vkray.MaxFramesInFlight]*vkray.GPUBuffer
	tmpData [vkray.MaxFramesInFlight]*vkray.GPUBuffer
	weights [vkray.MaxFramesInFlight]*vkray.GPUBuffer
	accepts [vkray.MaxFramesInFlight]*vkray.GPUBuffer

	jitterHistory []mat32.Vec4
	jitterBuffer  *vkray.GPUBuffer

	Scene *scene.Scene

	frameCounter uint32

	Timer *vkray.Timer
}

// NewBMFRStage builds the denoiser over the given feature bundles.
func NewBMFRStage(ctx *vkray.Context, dv *vkray.Device, input, prev *vkray.GBuffer, opt *BMFROptions) (*BMFRStage, error) {
	bm := &BMFRStage{Opts: *opt, Input: input, Prev: prev}
	if bm.Opts.ActiveViewportCount < 1 {
		bm.Opts.ActiveViewportCount = 1
	}
	bm.InitStage(ctx, dv, "bmfr", false)
	bm.Timer = bm.NewTimer("bmfr")
	bm.jitterBuffer = vkray.NewGPUBuffer(dv,
		int(unsafe.Sizeof(mat32.Vec4{}))*bm.Opts.ActiveViewportCount,
		vk.BufferUsageStorageBufferBit)

	defines := map[string]string{}
	if opt.Settings == BMFRDiffuseSpecular {
		defines["USE_SPECULAR"] = "1"
	}

	ph := ctx.Placeholders[dv.Index]
	var err error
	mk := func(path, name string) *vkray.ComputePipeline {
		if err != nil {
			return nil
		}
		src, serr := vkray.NewShaderSource(path, defines)
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
	bm.preprocess = mk("shader/bmfr_preprocess.comp", "bmfr preprocess")
	bm.fit = mk("shader/bmfr_fit.comp", "bmfr fit")
	bm.weightedSum = mk("shader/bmfr_weighted_sum.comp", "bmfr weighted sum")
	bm.accumulate = mk("shader/bmfr_accumulate_output.comp", "bmfr accumulate output")
	if err != nil {
		bm.Destroy()
		return nil, err
	}

	bm.initResources(ctx)
	bm.recordCommandBuffers()
	return bm, nil
}

// blockCount returns the number of fit blocks along one axis,
// including the one-block border for the rotating offsets.
func blockCount(pixels int) int {
	return pixels/bmfrBlockEdge + 1
}

func (bm *BMFRStage) initResources(ctx *vkray.Context) {
	size := bm.Input.Size()
	layers := bm.Input.LayerCount()
	pool := ctx.Pools[bm.Dev.Index]
	for i := range bm.scratch {
		bm.scratch[i] = vkray.NewTexture(bm.Dev, size, layers,
			vk.FormatR16g16b16a16Sfloat, vk.ImageUsageStorageBit,
			vk.ImageLayoutGeneral, pool)
	}
	rt := 0
	next := func() *vkray.RenderTarget {
		t := bm.scratch[rt].RenderTarget(vk.ImageLayoutGeneral)
		rt++
		return t
	}
	bm.tmpNoisy[0] = next()
	bm.tmpNoisy[1] = next()
	bm.tmpFiltered[0] = next()
	bm.tmpFiltered[1] = next()
	bm.diffuseHist = next()
	bm.specularHist = next()
	bm.filteredHist[0] = next()
	bm.filteredHist[1] = next()
	bm.weightedSums[0] = next()
	bm.weightedSums[1] = next()

	// fit scratch sized by block grid: 13 feature buffers + 3 color
	// channels per block, plus min/max and weights
	bx := blockCount(size.X)
	by := blockCount(size.Y)
	blocks := bx * by * layers
	const features = 13
	for i := 0; i < vkray.MaxFramesInFlight; i++ {
		bm.minMax[i] = vkray.NewGPUBuffer(bm.Dev, blocks*features*2*4,
			vk.BufferUsageStorageBufferBit)
		bm.tmpData[i] = vkray.NewGPUBuffer(bm.Dev,
			blocks*features*bmfrBlockEdge*bmfrBlockEdge*4,
			vk.BufferUsageStorageBufferBit)
		bm.weights[i] = vkray.NewGPUBuffer(bm.Dev, blocks*(features-3)*3*4,
			vk.BufferUsageStorageBufferBit)
		bm.accepts[i] = vkray.NewGPUBuffer(bm.Dev, size.X*size.Y*layers*4,
			vk.BufferUsageStorageBufferBit)
	}

	whole := vk.DeviceSize(vk.WholeSize)
	for i := 0; i < vkray.MaxFramesInFlight; i++ {
		common := []vkray.DescriptorState{
			vkray.StorageImageDescriptor("in_color", bm.Input.Color.View(i)),
			vkray.StorageImageDescriptor("in_diffuse", bm.Input.Diffuse.View(i)),
			vkray.StorageImageDescriptor("in_albedo", bm.Input.Albedo.View(i)),
			vkray.StorageImageDescriptor("in_normal", bm.Input.Normal.View(i)),
			vkray.StorageImageDescriptor("in_pos", bm.Input.Pos.View(i)),
			vkray.StorageImageDescriptor("in_screen_motion", bm.Input.ScreenMotion.View(i)),
			vkray.StorageImageDescriptor("previous_normal", bm.Prev.Normal.View(i)),
			vkray.StorageImageDescriptor("previous_pos", bm.Prev.Pos.View(i)),
			vkray.StorageImageDescriptor("tmp_noisy_ping", bm.tmpNoisy[0].View(i)),
			vkray.StorageImageDescriptor("tmp_noisy_pong", bm.tmpNoisy[1].View(i)),
			vkray.StorageImageDescriptor("tmp_filtered_ping", bm.tmpFiltered[0].View(i)),
			vkray.StorageImageDescriptor("tmp_filtered_pong", bm.tmpFiltered[1].View(i)),
			vkray.StorageImageDescriptor("diffuse_hist", bm.diffuseHist.View(i)),
			vkray.StorageImageDescriptor("specular_hist", bm.specularHist.View(i)),
			vkray.StorageImageDescriptor("filtered_hist_ping", bm.filteredHist[0].View(i)),
			vkray.StorageImageDescriptor("filtered_hist_pong", bm.filteredHist[1].View(i)),
			vkray.StorageImageDescriptor("weighted_ping", bm.weightedSums[0].View(i)),
			vkray.StorageImageDescriptor("weighted_pong", bm.weightedSums[1].View(i)),
			vkray.BufferDescriptor("mins_maxs", bm.minMax[i].Buff, 0, whole),
			vkray.BufferDescriptor("tmp_data", bm.tmpData[i].Buff, 0, whole),
			vkray.BufferDescriptor("weights", bm.weights[i].Buff, 0, whole),
			vkray.BufferDescriptor("accepts", bm.accepts[i].Buff, 0, whole),
			vkray.BufferDescriptor("jitter_info", bm.jitterBuffer.Buff, 0, whole),
		}
		bm.preprocess.UpdateDescriptorSet(common, i)
		bm.fit.UpdateDescriptorSet(common, i)
		bm.weightedSum.UpdateDescriptorSet(common, i)
		bm.accumulate.UpdateDescriptorSet(common, i)
	}
}

// SetScene retains the scene for jitter lookup; command buffers do not
// depend on topology.
func (bm *BMFRStage) SetScene(s *scene.Scene) {
	bm.Scene = s
}

// Update refreshes jitter history and the rotating frame counter.
func (bm *BMFRStage) Update(frameIndex int) {
	existing := len(bm.jitterHistory) != 0
	n := bm.Opts.ActiveViewportCount
	if len(bm.jitterHistory) != n {
		bm.jitterHistory = make([]mat32.Vec4, n)
	}
	for i := 0; i < n; i++ {
		v := &bm.jitterHistory[i]
		var cur mat32.Vec2
		if cam := bm.Scene.Camera(i); cam != nil {
			cur = cam.Jitter()
		}
		prev := mat32.V2(v.X, v.Y)
		if !existing {
			prev = cur
		}
		*v = mat32.V4(cur.X, cur.Y, prev.X, prev.Y)
	}
	bm.jitterBuffer.Update(frameIndex, jitterBytes(bm.jitterHistory))
	bm.frameCounter++
}

// recordCommandBuffers records the active pipeline: preprocess
// (albedo demodulation, per-block min/max) -> fit (least squares per
// block) -> weighted sum (fit evaluation) -> accumulate (temporal
// EMA), with compute barriers between every pass.  The specular chain
// repeats the last three passes when enabled.
func (bm *BMFRStage) recordCommandBuffers() {
	size := bm.Input.Size()
	layers := uint32(bm.Input.LayerCount())
	wgx := uint32((size.X + 15) / 16)
	wgy := uint32((size.Y + 15) / 16)
	fitx := uint32(blockCount(size.X))
	fity := uint32(blockCount(size.Y))

	for i := 0; i < vkray.MaxFramesInFlight; i++ {
		cmd := bm.BeginCompute(i)
		bm.Timer.Begin(cmd, i)

		bm.jitterBuffer.Upload(cmd, i)

		chains := 1
		if bm.Opts.Settings == BMFRDiffuseSpecular {
			chains = 2
		}
		control := bmfrPC{
			Size:         [2]int32{int32(size.X), int32(size.Y)},
			FrameCounter: uint32(i),
		}

		bm.preprocess.Bind(cmd, i)
		bm.preprocess.PushConstants(cmd, &control)
		bm.preprocess.Dispatch(cmd, wgx, wgy, layers)

		for chain := 0; chain < chains; chain++ {
			control.Specular = uint32(chain)

			vkray.ComputeBarrier(cmd)
			bm.fit.Bind(cmd, i)
			bm.fit.PushConstants(cmd, &control)
			bm.fit.Dispatch(cmd, fitx, fity, layers)

			vkray.ComputeBarrier(cmd)
			bm.weightedSum.Bind(cmd, i)
			bm.weightedSum.PushConstants(cmd, &control)
			bm.weightedSum.Dispatch(cmd, wgx, wgy, layers)

			vkray.ComputeBarrier(cmd)
			bm.accumulate.Bind(cmd, i)
			bm.accumulate.PushConstants(cmd, &control)
			bm.accumulate.Dispatch(cmd, wgx, wgy, layers)
		}

		bm.Timer.End(cmd, i)
		bm.EndCompute(cmd, i)
	}
}

// Destroy frees pipelines, scratch textures and fit buffers.
func (bm *BMFRStage) Destroy() {
	for _, pl := range []*vkray.ComputePipeline{bm.preprocess, bm.fit, bm.weightedSum, bm.accumulate} {
		if pl != nil {
			pl.Destroy()
		}
	}
	for _, tx := range bm.scratch {
		if tx != nil {
			tx.Destroy()
		}
	}
	for i := 0; i < vkray.MaxFramesInFlight; i++ {
		for _, gb := range []*vkray.GPUBuffer{bm.minMax[i], bm.tmpData[i], bm.weights[i], bm.accepts[i]} {
			if gb != nil {
				gb.Destroy()
			}
		}
	}
	if bm.jitterBuffer != nil {
		bm.jitterBuffer.Destroy()
	}
	bm.DestroyStage()
}
