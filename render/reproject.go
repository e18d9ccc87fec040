// Copyright (c) 2024, The Photark Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package render

import (
	"fmt"
	"unsafe"

	"github.com/chewxy/math32"
	vk "github.com/goki/vulkan"
	"goki.dev/mat32/v2"

	vkray "github.com/photark/vkray"
	"github.com/photark/vkray/scene"
)

// SpatialReprojectionOptions configure the spatial reprojection stage.
type SpatialReprojectionOptions struct {

	// number of source viewports actually rendered
	ActiveViewportCount int `toml:"active_viewport_count"`
}

// reprojectCameraData is the per-source-viewport GPU record.
type reprojectCameraData struct {
	ViewProj mat32.Mat4
}

// spatialReprojectionPC is the push constant record.
type spatialReprojectionPC struct {
	DefaultValue mat32.Vec4
	Size         [2]int32
	SourceCount  uint32
}

// ReprojectionDispatch returns the workgroup counts of the
// reprojection dispatch for given output size, target layer count and
// source viewport count: the z dimension covers only the viewports
// that were not rendered.
func ReprojectionDispatch(w, h, targetLayers, sourceCount int) (uint32, uint32, uint32) {
	return uint32((w + 15) / 16), uint32((h + 15) / 16), uint32(targetLayers - sourceCount)
}

// SpatialReprojectionStage fills the viewports that were not rendered
// (lightfield / camera grid outputs) by projecting each target pixel
// into the rendered source viewports through their position textures,
// scoring candidates by normal and depth consistency, and writing the
// best valid sample, or NaN where nothing projects.
type SpatialReprojectionStage struct {
	vkray.Stage

	Opts SpatialReprojectionOptions

	// target bundle holding color, normal and position arrays covering
	// all viewports
	Target *vkray.GBuffer

	comp *vkray.ComputePipeline

	// per-source-viewport view-projection matrices
	cameraData *vkray.GPUBuffer

	Scene *scene.Scene

	Timer *vkray.Timer
}

// NewSpatialReprojectionStage builds the stage over the target bundle.
func NewSpatialReprojectionStage(ctx *vkray.Context, dv *vkray.Device, target *vkray.GBuffer, opt *SpatialReprojectionOptions) (*SpatialReprojectionStage, error) {
	sr := &SpatialReprojectionStage{Opts: *opt, Target: target}
	if sr.Opts.ActiveViewportCount < 1 {
		sr.Opts.ActiveViewportCount = 1
	}
	sr.InitStage(ctx, dv, "spatial reprojection", false)
	sr.Timer = sr.NewTimer(fmt.Sprintf("spatial reprojection (from %d to %d viewports)",
		sr.Opts.ActiveViewportCount,
		target.LayerCount()-sr.Opts.ActiveViewportCount))

	src, err := vkray.NewShaderSource("shader/spatial_reprojection.comp", nil)
	if err != nil {
		sr.DestroyStage()
		return nil, err
	}
	sr.comp, err = vkray.NewComputePipeline("spatial reprojection", dv,
		ctx.Placeholders[dv.Index], &vkray.ComputePipelineParams{Source: src})
	if err != nil {
		sr.DestroyStage()
		return nil, err
	}

	sr.cameraData = vkray.NewGPUBuffer(dv,
		int(unsafe.Sizeof(reprojectCameraData{}))*sr.Opts.ActiveViewportCount,
		vk.BufferUsageStorageBufferBit)

	target.SetLayout(vk.ImageLayoutGeneral)
	target.Color.SetLayout(vk.ImageLayoutUndefined)

	whole := vk.DeviceSize(vk.WholeSize)
	for i := 0; i < vkray.MaxFramesInFlight; i++ {
		sr.comp.UpdateDescriptorSet([]vkray.DescriptorState{
			vkray.BufferDescriptor("camera_data", sr.cameraData.Buff, 0, whole),
			vkray.StorageImageDescriptor("color_tex", target.Color.View(i)),
			vkray.StorageImageDescriptor("normal_tex", target.Normal.View(i)),
			vkray.StorageImageDescriptor("position_tex", target.Pos.View(i)),
		}, i)
	}
	return sr, nil
}

// SetScene re-records the reprojection dispatch.
func (sr *SpatialReprojectionStage) SetScene(s *scene.Scene) {
	sr.Scene = s
	sr.ClearCommands()
	if s == nil {
		return
	}

	size := sr.Target.Size()
	nan := math32.NaN()
	for i := 0; i < vkray.MaxFramesInFlight; i++ {
		cmd := sr.BeginCompute(i)
		sr.Timer.Begin(cmd, i)

		sr.Target.Color.TransitionTemporary(cmd, i, vk.ImageLayoutGeneral, true)
		sr.cameraData.Upload(cmd, i)

		sr.comp.Bind(cmd, i)

		control := spatialReprojectionPC{
			DefaultValue: mat32.V4(nan, nan, nan, nan),
			Size:         [2]int32{int32(size.X), int32(size.Y)},
			SourceCount:  uint32(sr.Opts.ActiveViewportCount),
		}
		wgx, wgy, wgz := ReprojectionDispatch(size.X, size.Y,
			sr.Target.LayerCount(), sr.Opts.ActiveViewportCount)

		sr.comp.PushConstants(cmd, &control)
		sr.comp.Dispatch(cmd, wgx, wgy, wgz)

		sr.Timer.End(cmd, i)
		sr.EndCompute(cmd, i)
	}
}

// Update writes the source viewports' view-projection matrices.
func (sr *SpatialReprojectionStage) Update(frameIndex int) {
	if sr.Scene == nil {
		return
	}
	data := make([]reprojectCameraData, sr.Opts.ActiveViewportCount)
	for i := range data {
		if cam := sr.Scene.Camera(i); cam != nil {
			data[i].ViewProj = cam.ViewProjection()
		}
	}
	sr.cameraData.Update(frameIndex,
		unsafe.Slice((*byte)(unsafe.Pointer(&data[0])),
			len(data)*int(unsafe.Sizeof(reprojectCameraData{}))))
}

// Destroy frees the pipeline and camera buffer.
func (sr *SpatialReprojectionStage) Destroy() {
	if sr.comp != nil {
		sr.comp.Destroy()
	}
	if sr.cameraData != nil {
		sr.cameraData.Destroy()
	}
	sr.DestroyStage()
}
