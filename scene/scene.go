// Copyright (c) 2024, The Photark Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package scene provides the read-only scene view consumed by the
// rendering stages: cameras, lights, mesh buffer tables, the material
// texture table, environment map, SH grids, the top level acceleration
// structure, and the named descriptor bindings derived from them.
package scene

import (
	"unsafe"

	"goki.dev/mat32/v2"

	vk "github.com/goki/vulkan"
	vkray "github.com/photark/vkray"
)

// Mesh is one renderable mesh instance's GPU buffers, supplied by the
// asset layer.  Vertex and index buffers are bound as storage buffer
// arrays indexed by instance id in the hit shaders.
type Mesh struct {

	// per-device vertex buffers
	VtxBuffers []vk.Buffer

	// per-device index buffers
	IdxBuffers []vk.Buffer

	// counts, for scene metadata
	VtxCount, IdxCount int

	// index into the material texture table
	MaterialIndex int
}

// ShadowMaps is the optional shadow map atlas binding set, produced by
// an external shadow map renderer.
type ShadowMaps struct {

	// atlas image view
	AtlasView vk.ImageView

	// shadow map metadata buffer and the split point between the
	// per-map records and the cascade records
	DataBuffer  vk.Buffer
	DataRange   vk.DeviceSize
	CascadeRange vk.DeviceSize
}

// CameraData is the GPU-layout per-camera uniform record.
type CameraData struct {
	ViewProj     mat32.Mat4
	ViewInv      mat32.Mat4
	ProjInv      mat32.Mat4
	PrevViewProj mat32.Mat4
	Origin       mat32.Vec4
	// current xy and previous zw jitter in sub-pixel units
	Jitter mat32.Vec4
}

// Metadata is the GPU-layout scene_metadata uniform record.
type Metadata struct {
	InstanceCount  uint32
	PointLightCount uint32
	DirLightCount  uint32
	TriLightCount  uint32
	SHGridCount    uint32
	CameraCount    uint32
	pad0, pad1     uint32
}

// Scene is the shared scene view.  Stages borrow it immutably during a
// frame; all mutations are gated to between frames and bump the change
// counter so stages know to re-record.
type Scene struct {

	// context, for devices and placeholders
	Ctx *vkray.Context

	// active cameras; index 0 renders first
	Cameras []*Camera

	DirectionalLights []*DirLight
	PointLights       []*PointLight
	SpotLights        []*SpotLight
	TriLights         []*TriLight

	// mesh instances in TLAS instance order
	Meshes []*Mesh

	// bounded material texture table
	Textures []vk.DescriptorImageInfo

	// environment, nil for black background
	EnvMap *EnvironmentMap

	// SH probe grids
	SHGrids []*SHGrid

	// per-device TLAS handles; empty when ray tracing is off
	TLAS []vk.AccelerationStructureNV

	// optional shadow map atlas
	Shadow *ShadowMaps

	// ambient radiance for the non-path-traced pipelines
	Ambient mat32.Vec3

	// per-device buffer sets
	buffers []*sceneBuffers

	// bumped on any topology change; stages re-record when it moves
	changeCounter uint64
}

// sceneBuffers hold one device's uploaded scene data.
type sceneBuffers struct {
	dev          *vkray.Device
	metadata     *vkray.GPUBuffer
	dirLights    *vkray.GPUBuffer
	pointLights  *vkray.GPUBuffer
	triLights    *vkray.GPUBuffer
	shGrids      *vkray.GPUBuffer
	cameras      *vkray.GPUBuffer
	envSampler   vk.Sampler
	gridSampler  vk.Sampler
	maxLights    int
	maxCameras   int
}

// SceneCaps bound the capacity of the per-device light and camera
// buffers.
type SceneCaps struct {
	MaxLights  int
	MaxCameras int
}

// NewScene allocates the per-device scene buffers.
func NewScene(ctx *vkray.Context, caps SceneCaps) *Scene {
	if caps.MaxLights <= 0 {
		caps.MaxLights = 128
	}
	if caps.MaxCameras <= 0 {
		caps.MaxCameras = 64
	}
	sc := &Scene{Ctx: ctx}
	for _, dv := range ctx.Devices {
		sb := &sceneBuffers{
			dev:        dv,
			maxLights:  caps.MaxLights,
			maxCameras: caps.MaxCameras,
		}
		sb.metadata = vkray.NewGPUBuffer(dv, int(unsafe.Sizeof(Metadata{})), vk.BufferUsageUniformBufferBit)
		sb.dirLights = vkray.NewGPUBuffer(dv, caps.MaxLights*int(unsafe.Sizeof(DirLight{})), vk.BufferUsageStorageBufferBit)
		sb.pointLights = vkray.NewGPUBuffer(dv, caps.MaxLights*int(unsafe.Sizeof(PointLight{})), vk.BufferUsageStorageBufferBit)
		sb.triLights = vkray.NewGPUBuffer(dv, caps.MaxLights*int(unsafe.Sizeof(TriLight{})), vk.BufferUsageStorageBufferBit)
		sb.shGrids = vkray.NewGPUBuffer(dv, 16*int(unsafe.Sizeof(SHGridData{})), vk.BufferUsageStorageBufferBit)
		sb.cameras = vkray.NewGPUBuffer(dv, caps.MaxCameras*int(unsafe.Sizeof(CameraData{})), vk.BufferUsageStorageBufferBit)
		sb.envSampler = vkray.NewSampler(dv, vk.SamplerAddressModeRepeat, false)
		sb.gridSampler = vkray.NewSampler(dv, vk.SamplerAddressModeClampToEdge, false)
		sc.buffers = append(sc.buffers, sb)
	}
	return sc
}

// ChangeCounter returns the topology revision; stages compare it with
// the value they recorded against.
func (sc *Scene) ChangeCounter() uint64 {
	return sc.changeCounter
}

// Changed marks a topology change (added/removed meshes or lights,
// streaming reload), forcing stages to re-record.
func (sc *Scene) Changed() {
	sc.changeCounter++
}

// SetCamera makes cam the only camera.
func (sc *Scene) SetCamera(cam *Camera) {
	sc.Cameras = []*Camera{cam}
	sc.Changed()
}

// AddCamera appends a camera (multi-viewport rendering).
func (sc *Scene) AddCamera(cam *Camera) {
	sc.Cameras = append(sc.Cameras, cam)
	sc.Changed()
}

// Camera returns the camera at index, nil when out of range.
func (sc *Scene) Camera(index int) *Camera {
	if index < 0 || index >= len(sc.Cameras) {
		return nil
	}
	return sc.Cameras[index]
}

// ReorderCamerasByActive moves the cameras at the given indices to the
// front, preserving relative order -- active viewports render, the
// rest are spatially reprojected.
func (sc *Scene) ReorderCamerasByActive(active map[int]bool) {
	var head, tail []*Camera
	for i, cam := range sc.Cameras {
		if active[i] {
			head = append(head, cam)
		} else {
			tail = append(tail, cam)
		}
	}
	sc.Cameras = append(head, tail...)
	sc.Changed()
}

// SetCameraJitter installs the jitter sequence on every camera.
func (sc *Scene) SetCameraJitter(seq []mat32.Vec2) {
	for _, cam := range sc.Cameras {
		cam.SetJitterSequence(seq)
	}
}

// HasTLAS returns true when the top level acceleration structure is
// available.
func (sc *Scene) HasTLAS() bool {
	return len(sc.TLAS) > 0
}

// AccelerationStructure returns the TLAS handle for a device.  Fatal
// when ray tracing is unavailable -- stage construction must check.
func (sc *Scene) AccelerationStructure(devIndex int) vk.AccelerationStructureNV {
	return sc.TLAS[devIndex]
}

// Update writes the per-frame CPU state (camera uniforms with stepped
// jitter, light arrays, grid data) into the staging buffers for the
// given in-flight slot.  Upload records the copies.
func (sc *Scene) Update(frameIndex int) {
	for _, sb := range sc.buffers {
		md := Metadata{
			InstanceCount:   uint32(len(sc.Meshes)),
			PointLightCount: uint32(len(sc.PointLights) + len(sc.SpotLights)),
			DirLightCount:   uint32(len(sc.DirectionalLights)),
			TriLightCount:   uint32(len(sc.TriLights)),
			SHGridCount:     uint32(len(sc.SHGrids)),
			CameraCount:     uint32(len(sc.Cameras)),
		}
		sb.metadata.UpdatePtr(frameIndex, unsafe.Pointer(&md), int(unsafe.Sizeof(md)))

		sb.dirLights.Update(frameIndex, recordBytes(sc.DirectionalLights))
		pts := make([]PointLight, 0, len(sc.PointLights)+len(sc.SpotLights))
		for _, pl := range sc.PointLights {
			pts = append(pts, *pl)
		}
		for _, sl := range sc.SpotLights {
			pts = append(pts, PointLight{
				Color:  sl.Color,
				Pos:    sl.Pos,
				Radius: sl.Radius,
			})
		}
		if len(pts) > 0 {
			sb.pointLights.Update(frameIndex, sliceBytes(pts))
		}
		sb.triLights.Update(frameIndex, recordBytes(sc.TriLights))

		grids := make([]SHGridData, len(sc.SHGrids))
		for i, sg := range sc.SHGrids {
			grids[i] = sg.Data()
		}
		if len(grids) > 0 {
			sb.shGrids.Update(frameIndex, sliceBytes(grids))
		}

		cams := make([]CameraData, len(sc.Cameras))
		for i, cam := range sc.Cameras {
			vp := cam.ViewProjection()
			cur := cam.Jitter()
			cams[i] = CameraData{
				ViewProj: vp,
				Origin:   mat32.V4(cam.Pos.X, cam.Pos.Y, cam.Pos.Z, 1),
				Jitter:   mat32.V4(cur.X, cur.Y, cam.prevJitter.X, cam.prevJitter.Y),
			}
			cams[i].PrevViewProj = cam.prevViewProj
			cam.prevViewProj = vp
			cam.prevJitter = cur
		}
		if len(cams) > 0 {
			sb.cameras.Update(frameIndex, sliceBytes(cams))
		}
	}
}

// Upload records the staging copies for all scene buffers on one
// device into the given command buffer.
func (sc *Scene) Upload(cmd vk.CommandBuffer, devIndex, frameIndex int) {
	sb := sc.buffers[devIndex]
	sb.metadata.Upload(cmd, frameIndex)
	sb.dirLights.Upload(cmd, frameIndex)
	sb.pointLights.Upload(cmd, frameIndex)
	sb.triLights.Upload(cmd, frameIndex)
	sb.shGrids.Upload(cmd, frameIndex)
	sb.cameras.Upload(cmd, frameIndex)
}

// StepJitter advances every camera's jitter sequence; called once per
// frame before Update.
func (sc *Scene) StepJitter() {
	for _, cam := range sc.Cameras {
		cam.StepJitter()
	}
}

// DescriptorInfo gathers the named descriptor bindings for a device.
// cameraIndex >= 0 additionally binds the camera uniform slice at that
// index; missing optional bindings are left to placeholder fill.
func (sc *Scene) DescriptorInfo(devIndex, cameraIndex int) []vkray.DescriptorState {
	sb := sc.buffers[devIndex]
	whole := vk.DeviceSize(vk.WholeSize)

	var dbiVertex, dbiIndex []vk.DescriptorBufferInfo
	for _, m := range sc.Meshes {
		dbiVertex = append(dbiVertex, vk.DescriptorBufferInfo{
			Buffer: m.VtxBuffers[devIndex], Offset: 0, Range: whole,
		})
		dbiIndex = append(dbiIndex, vk.DescriptorBufferInfo{
			Buffer: m.IdxBuffers[devIndex], Offset: 0, Range: whole,
		})
	}

	var dii3D []vk.DescriptorImageInfo
	for _, sg := range sc.SHGrids {
		if sg.Tex != nil {
			dii3D = append(dii3D, vk.DescriptorImageInfo{
				Sampler:     sb.gridSampler,
				ImageView:   sg.Tex.View,
				ImageLayout: vk.ImageLayoutShaderReadOnlyOptimal,
			})
		}
	}

	descriptors := []vkray.DescriptorState{
		vkray.BufferDescriptor("scene", sb.metadata.Buff, 0, whole),
		vkray.BufferDescriptor("scene_metadata", sb.metadata.Buff, 0, whole),
		vkray.BufferArrayDescriptor("vertices", dbiVertex),
		vkray.BufferArrayDescriptor("indices", dbiIndex),
		vkray.ImageArrayDescriptor("textures", sc.Textures),
		vkray.BufferDescriptor("directional_lights", sb.dirLights.Buff, 0, whole),
		vkray.BufferDescriptor("point_lights", sb.pointLights.Buff, 0, whole),
		vkray.BufferDescriptor("tri_lights", sb.triLights.Buff, 0, whole),
		vkray.BufferDescriptor("sh_grids", sb.shGrids.Buff, 0, whole),
		vkray.ImageArrayDescriptor("textures3d", dii3D),
	}

	if sc.EnvMap != nil {
		descriptors = append(descriptors,
			vkray.ImageDescriptor("environment_map_tex", sb.envSampler,
				sc.EnvMap.View, vk.ImageLayoutShaderReadOnlyOptimal),
			vkray.BufferDescriptor("environment_map_alias_table",
				sc.EnvMap.AliasBuffer, 0, whole),
		)
	} else {
		descriptors = append(descriptors,
			vkray.PlaceholderDescriptor("environment_map_tex", 1),
			vkray.PlaceholderDescriptor("environment_map_alias_table", 1),
		)
	}

	if cameraIndex >= 0 {
		offset := vk.DeviceSize(cameraIndex) * vk.DeviceSize(unsafe.Sizeof(CameraData{}))
		descriptors = append(descriptors,
			vkray.BufferDescriptor("camera", sb.cameras.Buff, offset, whole))
	}

	if sc.HasTLAS() {
		descriptors = append(descriptors,
			vkray.ASDescriptor("tlas", sc.TLAS[devIndex]))
	}

	if sc.Shadow != nil {
		ph := sc.Ctx.Placeholders[devIndex]
		descriptors = append(descriptors,
			vkray.BufferDescriptor("shadow_maps", sc.Shadow.DataBuffer, 0, sc.Shadow.DataRange),
			vkray.BufferDescriptor("shadow_map_cascades", sc.Shadow.DataBuffer,
				sc.Shadow.DataRange, sc.Shadow.CascadeRange),
			vkray.ImageDescriptor("shadow_map_atlas", ph.DefaultSampler,
				sc.Shadow.AtlasView, vk.ImageLayoutShaderReadOnlyOptimal),
			vkray.ImageDescriptor("shadow_map_atlas_test", ph.ShadowSampler,
				sc.Shadow.AtlasView, vk.ImageLayoutShaderReadOnlyOptimal),
		)
	}
	return descriptors
}

// Bind stores the scene bindings in the pipeline's per-frame
// descriptor state.
func (sc *Scene) Bind(pl *vkray.Pipeline, frameIndex, cameraIndex int) {
	pl.UpdateDescriptorSet(sc.DescriptorInfo(pl.Dev.Index, cameraIndex), frameIndex)
}

// Push writes the scene bindings inline into a command buffer.
func (sc *Scene) Push(pl *vkray.Pipeline, cmd vk.CommandBuffer, cameraIndex int) {
	pl.PushDescriptors(cmd, sc.DescriptorInfo(pl.Dev.Index, cameraIndex))
}

// BindPlaceholders fills the optional bindings with placeholder
// resources on every frame slot, sizing the unbounded tables.
func (sc *Scene) BindPlaceholders(pl *vkray.Pipeline, maxSamplers, max3DSamplers uint32) {
	pl.UpdateDescriptorSets([]vkray.DescriptorState{
		vkray.PlaceholderDescriptor("textures", maxSamplers),
		vkray.PlaceholderDescriptor("shadow_maps", 1),
		vkray.PlaceholderDescriptor("shadow_map_cascades", 1),
		vkray.PlaceholderDescriptor("shadow_map_atlas", 1),
		vkray.PlaceholderDescriptor("shadow_map_atlas_test", 1),
		vkray.PlaceholderDescriptor("textures3d", max3DSamplers),
	})
}

// Destroy frees the per-device buffers.
func (sc *Scene) Destroy() {
	for _, sb := range sc.buffers {
		sb.metadata.Destroy()
		sb.dirLights.Destroy()
		sb.pointLights.Destroy()
		sb.triLights.Destroy()
		sb.shGrids.Destroy()
		sb.cameras.Destroy()
		vk.DestroySampler(sb.dev.Device, sb.envSampler, nil)
		vk.DestroySampler(sb.dev.Device, sb.gridSampler, nil)
	}
	sc.buffers = nil
}

// sliceBytes views a slice of GPU-layout records as raw bytes.
func sliceBytes[T any](recs []T) []byte {
	if len(recs) == 0 {
		return nil
	}
	var t T
	return unsafe.Slice((*byte)(unsafe.Pointer(&recs[0])), len(recs)*int(unsafe.Sizeof(t)))
}

// recordBytes views a slice of record pointers as packed raw bytes.
func recordBytes[T any](recs []*T) []byte {
	if len(recs) == 0 {
		return nil
	}
	packed := make([]T, len(recs))
	for i, r := range recs {
		packed[i] = *r
	}
	return sliceBytes(packed)
}
