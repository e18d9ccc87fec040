// Copyright (c) 2024, The Photark Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vkray

import (
	"log"
	"reflect"
	"unsafe"

	vk "github.com/goki/vulkan"
)

// MaxPushConstantBytes is the minimum guaranteed push constant size in
// Vulkan; every push constant record must fit it.
const MaxPushConstantBytes = 128

// Pipeline is the shared state of compute and ray tracing pipelines: a
// set of compiled shader stages, the descriptor set layout derived from
// reflection, the push constant range, and one push-descriptor state
// per in-flight frame.  Descriptors are written inline with the push
// descriptor extension -- no pools, no set allocation.
type Pipeline struct {

	// unique name of this pipeline, for timing and diagnostics
	Name string

	// device this pipeline lives on
	Dev *Device

	// compiled shader stages
	Sources *ShaderSet

	// merged descriptor bindings, slot order
	Bindings []BindingDesc

	// binding name -> slot
	BindingNames map[string]uint32

	// merged push constant ranges
	PushRanges []PushRange

	// descriptor set layout from the merged bindings
	DescLayout vk.DescriptorSetLayout

	// pipeline layout
	Layout vk.PipelineLayout

	// the created pipeline
	VkPipeline vk.Pipeline

	// compute or ray tracing bind point
	BindPoint vk.PipelineBindPoint

	// per-in-flight-frame stored descriptor states, written by
	// UpdateDescriptorSet and pushed by Bind
	DescStates [MaxFramesInFlight][]DescriptorState

	// placeholders used to fill missing optional bindings
	Placeholders *Placeholders

	// shader modules owned by this pipeline
	modules []vk.ShaderModule
}

// initLayout builds the descriptor set layout and pipeline layout from
// the shader set's merged reflection data.
func (pl *Pipeline) initLayout(countOverrides map[string]uint32) error {
	bindings, err := pl.Sources.Bindings(countOverrides)
	if err != nil {
		return err
	}
	names, err := pl.Sources.BindingNames()
	if err != nil {
		return err
	}
	pl.Bindings = bindings
	pl.BindingNames = names
	pl.PushRanges = pl.Sources.PushConstantRanges()

	vkb := VkDescriptorBindings(bindings)
	var dlay vk.DescriptorSetLayout
	ret := vk.CreateDescriptorSetLayout(pl.Dev.Device, &vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		Flags:        vk.DescriptorSetLayoutCreateFlags(vk.DescriptorSetLayoutCreatePushDescriptorBit),
		BindingCount: uint32(len(vkb)),
		PBindings:    vkb,
	}, nil, &dlay)
	if err := NewError(ret); err != nil {
		return err
	}
	pl.DescLayout = dlay

	var pcr []vk.PushConstantRange
	for _, pr := range pl.PushRanges {
		pcr = append(pcr, vk.PushConstantRange{
			StageFlags: pr.StageFlags,
			Offset:     pr.Offset,
			Size:       pr.Size,
		})
	}
	var play vk.PipelineLayout
	ret = vk.CreatePipelineLayout(pl.Dev.Device, &vk.PipelineLayoutCreateInfo{
		SType:                  vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount:         1,
		PSetLayouts:            []vk.DescriptorSetLayout{dlay},
		PushConstantRangeCount: uint32(len(pcr)),
		PPushConstantRanges:    pcr,
	}, nil, &play)
	if err := NewError(ret); err != nil {
		return err
	}
	pl.Layout = play
	return nil
}

func (pl *Pipeline) newModule(src *ShaderSource) vk.ShaderModule {
	var mod vk.ShaderModule
	ret := vk.CreateShaderModule(pl.Dev.Device, &vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint(len(src.Data)) * 4,
		PCode:    src.Data,
	}, nil, &mod)
	IfPanic(NewError(ret))
	pl.modules = append(pl.modules, mod)
	return mod
}

// UpdateDescriptorSet stores bindings in the per-frame state for use by
// a later Bind.  Existing entries with the same name are replaced.
func (pl *Pipeline) UpdateDescriptorSet(bindings []DescriptorState, frameIndex int) {
	state := pl.DescStates[frameIndex]
	for _, b := range bindings {
		found := false
		for i := range state {
			if state[i].Name == b.Name {
				state[i] = b
				found = true
				break
			}
		}
		if !found {
			state = append(state, b)
		}
	}
	pl.DescStates[frameIndex] = state
}

// UpdateDescriptorSets stores bindings in the state of every in-flight
// frame, for frame-invariant resources.
func (pl *Pipeline) UpdateDescriptorSets(bindings []DescriptorState) {
	for i := 0; i < MaxFramesInFlight; i++ {
		pl.UpdateDescriptorSet(bindings, i)
	}
}

// Bind binds the pipeline and pushes the stored per-frame descriptor
// state into the command buffer.
func (pl *Pipeline) Bind(cmd vk.CommandBuffer, frameIndex int) {
	vk.CmdBindPipeline(cmd, pl.BindPoint, pl.VkPipeline)
	pl.PushDescriptors(cmd, pl.DescStates[frameIndex])
}

// PushDescriptors writes descriptors inline into the command buffer.
// Binding names not present in the pipeline layout are skipped;
// bindings with no stored value get placeholders.
func (pl *Pipeline) PushDescriptors(cmd vk.CommandBuffer, bindings []DescriptorState) {
	var writes []vk.WriteDescriptorSet
	for i := range bindings {
		b := &bindings[i]
		slot, has := pl.BindingNames[b.Name]
		if !has {
			continue
		}
		dtype, ok := pl.descriptorType(slot)
		if !ok {
			continue
		}
		if w, ok := b.writeFor(slot, dtype, pl.Placeholders); ok {
			writes = append(writes, w)
		}
	}
	if len(writes) == 0 {
		return
	}
	vk.CmdPushDescriptorSet(cmd, pl.BindPoint, pl.Layout, 0, uint32(len(writes)), writes)
}

func (pl *Pipeline) descriptorType(slot uint32) (vk.DescriptorType, bool) {
	for _, b := range pl.Bindings {
		if b.Binding == slot {
			return b.DescriptorType, true
		}
	}
	return 0, false
}

// PushConstants records a push of the given fixed-layout record, which
// must be a pointer to a struct of size <= MaxPushConstantBytes.
func (pl *Pipeline) PushConstants(cmd vk.CommandBuffer, rec any) {
	size, ptr := PushConstantSize(rec)
	if size > MaxPushConstantBytes {
		log.Printf("vkray.Pipeline %s: push constant record is %d bytes, max is %d\n",
			pl.Name, size, MaxPushConstantBytes)
		size = MaxPushConstantBytes
	}
	var stages vk.ShaderStageFlags
	for _, pr := range pl.PushRanges {
		stages |= pr.StageFlags
	}
	if stages == 0 {
		return
	}
	vk.CmdPushConstants(cmd, pl.Layout, stages, 0, uint32(size), ptr)
}

// PushConstantSize returns the byte size and data pointer of a push
// constant record (a pointer to a fixed-layout struct).
func PushConstantSize(rec any) (int, unsafe.Pointer) {
	rv := reflect.ValueOf(rec)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return 0, nil
	}
	size := int(rv.Elem().Type().Size())
	return size, unsafe.Pointer(rv.Pointer())
}

// Destroy destroys pipeline objects and shader modules.
func (pl *Pipeline) Destroy() {
	if pl.Dev == nil {
		return
	}
	dev := pl.Dev.Device
	for _, mod := range pl.modules {
		vk.DestroyShaderModule(dev, mod, nil)
	}
	pl.modules = nil
	if pl.VkPipeline != vk.NullPipeline {
		vk.DestroyPipeline(dev, pl.VkPipeline, nil)
		pl.VkPipeline = vk.NullPipeline
	}
	if pl.Layout != vk.NullPipelineLayout {
		vk.DestroyPipelineLayout(dev, pl.Layout, nil)
		pl.Layout = vk.NullPipelineLayout
	}
	if pl.DescLayout != vk.NullDescriptorSetLayout {
		vk.DestroyDescriptorSetLayout(dev, pl.DescLayout, nil)
		pl.DescLayout = vk.NullDescriptorSetLayout
	}
	pl.Dev = nil
}

//////////////////////////////////////////////////////////////
// ComputePipeline

// ComputePipeline packages a single compute shader.
type ComputePipeline struct {
	Pipeline
}

// ComputePipelineParams configure a compute pipeline.
type ComputePipelineParams struct {
	Source         *ShaderSource
	CountOverrides map[string]uint32
}

// NewComputePipeline builds a compute pipeline from a compiled source.
func NewComputePipeline(name string, dv *Device, ph *Placeholders, params *ComputePipelineParams) (*ComputePipeline, error) {
	pl := &ComputePipeline{}
	pl.Name = name
	pl.Dev = dv
	pl.Placeholders = ph
	pl.BindPoint = vk.PipelineBindPointCompute
	pl.Sources = &ShaderSet{Comp: params.Source}
	if err := pl.initLayout(params.CountOverrides); err != nil {
		return nil, err
	}

	mod := pl.newModule(params.Source)
	pipelines := make([]vk.Pipeline, 1)
	ret := vk.CreateComputePipelines(dv.Device, vk.NullPipelineCache, 1,
		[]vk.ComputePipelineCreateInfo{{
			SType: vk.StructureTypeComputePipelineCreateInfo,
			Stage: vk.PipelineShaderStageCreateInfo{
				SType:  vk.StructureTypePipelineShaderStageCreateInfo,
				Stage:  vk.ShaderStageComputeBit,
				Module: mod,
				PName:  "main\x00",
			},
			Layout: pl.Layout,
		}}, nil, pipelines)
	if err := NewError(ret); err != nil {
		return nil, &LinkError{Path: params.Source.Path, Diag: err.Error()}
	}
	pl.VkPipeline = pipelines[0]
	return pl, nil
}

// Dispatch records a dispatch of the given workgroup counts.
func (pl *ComputePipeline) Dispatch(cmd vk.CommandBuffer, nx, ny, nz uint32) {
	vk.CmdDispatch(cmd, nx, ny, nz)
}

//////////////////////////////////////////////////////////////
// RayTracingPipeline

// RayTracingPipelineParams configure a ray tracing pipeline.
type RayTracingPipelineParams struct {
	Sources           *ShaderSet
	CountOverrides    map[string]uint32
	MaxRecursionDepth int
}

// RayTracingPipeline packages a raygen + hit group + miss shader set
// with its shader binding table.  The SBT layout is fixed: raygen,
// then the miss programs in declaration order, then the hit groups in
// declaration order.
type RayTracingPipeline struct {
	Pipeline

	// shader binding table device buffer
	SBT *GPUBuffer

	// aligned stride between SBT records
	SBTStride int

	// number of miss programs (for the hit group offset)
	MissCount int

	// total shader group count
	GroupCount int
}

// NewRayTracingPipeline builds a ray tracing pipeline and its SBT.
func NewRayTracingPipeline(name string, dv *Device, ph *Placeholders, pool *CmdPool, params *RayTracingPipelineParams) (*RayTracingPipeline, error) {
	if !dv.GPU.IsRayTracingSupported() {
		return nil, &MissingCapability{What: "ray tracing pipeline requested without VK_NV_ray_tracing"}
	}
	pl := &RayTracingPipeline{}
	pl.Name = name
	pl.Dev = dv
	pl.Placeholders = ph
	pl.BindPoint = vk.PipelineBindPointRayTracingNV
	pl.Sources = params.Sources
	if err := pl.initLayout(params.CountOverrides); err != nil {
		return nil, err
	}

	var stages []vk.PipelineShaderStageCreateInfo
	stageIndex := map[*ShaderSource]uint32{}
	addStage := func(src *ShaderSource, flag vk.ShaderStageFlagBits) uint32 {
		if !src.IsValid() {
			return vk.ShaderUnusedNV
		}
		if idx, has := stageIndex[src]; has {
			return idx
		}
		idx := uint32(len(stages))
		stages = append(stages, vk.PipelineShaderStageCreateInfo{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  flag,
			Module: pl.newModule(src),
			PName:  "main\x00",
		})
		stageIndex[src] = idx
		return idx
	}

	var groups []vk.RayTracingShaderGroupCreateInfoNV
	general := func(src *ShaderSource, flag vk.ShaderStageFlagBits) {
		groups = append(groups, vk.RayTracingShaderGroupCreateInfoNV{
			SType:              vk.StructureTypeRayTracingShaderGroupCreateInfoNV,
			Type:               vk.RayTracingShaderGroupTypeGeneralNV,
			GeneralShader:      addStage(src, flag),
			ClosestHitShader:   vk.ShaderUnusedNV,
			AnyHitShader:       vk.ShaderUnusedNV,
			IntersectionShader: vk.ShaderUnusedNV,
		})
	}
	general(params.Sources.RGen, vk.ShaderStageRaygenBitNV)
	for _, miss := range params.Sources.RMiss {
		general(miss, vk.ShaderStageMissBitNV)
	}
	pl.MissCount = len(params.Sources.RMiss)

	for _, hg := range params.Sources.RHit {
		gtype := vk.RayTracingShaderGroupTypeTrianglesHitGroupNV
		if hg.Kind == ProceduralHitGroup {
			gtype = vk.RayTracingShaderGroupTypeProceduralHitGroupNV
		}
		groups = append(groups, vk.RayTracingShaderGroupCreateInfoNV{
			SType:              vk.StructureTypeRayTracingShaderGroupCreateInfoNV,
			Type:               gtype,
			GeneralShader:      vk.ShaderUnusedNV,
			ClosestHitShader:   addStage(hg.RChit, vk.ShaderStageClosestHitBitNV),
			AnyHitShader:       addStage(hg.RAhit, vk.ShaderStageAnyHitBitNV),
			IntersectionShader: addStage(hg.RInt, vk.ShaderStageIntersectionBitNV),
		})
	}
	pl.GroupCount = len(groups)

	maxDepth := params.MaxRecursionDepth
	if maxDepth < 1 {
		maxDepth = 1
	}
	pipelines := make([]vk.Pipeline, 1)
	ret := vk.CreateRayTracingPipelinesNV(dv.Device, vk.NullPipelineCache, 1,
		[]vk.RayTracingPipelineCreateInfoNV{{
			SType:             vk.StructureTypeRayTracingPipelineCreateInfoNV,
			StageCount:        uint32(len(stages)),
			PStages:           stages,
			GroupCount:        uint32(len(groups)),
			PGroups:           groups,
			MaxRecursionDepth: uint32(maxDepth),
			Layout:            pl.Layout,
		}}, nil, pipelines)
	if err := NewError(ret); err != nil {
		path := ""
		if params.Sources.RGen != nil {
			path = params.Sources.RGen.Path
		}
		return nil, &LinkError{Path: path, Diag: err.Error()}
	}
	pl.VkPipeline = pipelines[0]

	if err := pl.buildSBT(pool); err != nil {
		return nil, err
	}
	return pl, nil
}

// buildSBT reads back the shader group handles and uploads them into
// the binding table buffer at the device's required alignment.
func (pl *RayTracingPipeline) buildSBT(pool *CmdPool) error {
	props := &pl.Dev.RayTracingProps
	handleSize := int(props.ShaderGroupHandleSize)
	pl.SBTStride = MemSizeAlign(handleSize, int(props.ShaderGroupBaseAlignment))

	packed := make([]byte, handleSize*pl.GroupCount)
	ret := vk.GetRayTracingShaderGroupHandlesNV(pl.Dev.Device, pl.VkPipeline,
		0, uint32(pl.GroupCount), uint(len(packed)), unsafe.Pointer(&packed[0]))
	if err := NewError(ret); err != nil {
		return err
	}

	table := make([]byte, pl.SBTStride*pl.GroupCount)
	for g := 0; g < pl.GroupCount; g++ {
		copy(table[g*pl.SBTStride:], packed[g*handleSize:(g+1)*handleSize])
	}

	pl.SBT = NewGPUBuffer(pl.Dev, len(table), vk.BufferUsageRayTracingBitNV)
	pl.SBT.Update(0, table)
	cmd := pool.Buff
	CmdBeginOneTime(cmd)
	pl.SBT.Upload(cmd, 0)
	CmdEnd(cmd)
	CmdSubmitWait(cmd, pl.Dev)
	return nil
}

// TraceRays records a trace over width x height x depth rays with the
// fixed SBT layout: raygen record 0, miss records after it, hit groups
// after the miss records.
func (pl *RayTracingPipeline) TraceRays(cmd vk.CommandBuffer, width, height, depth uint32) {
	stride := vk.DeviceSize(pl.SBTStride)
	missOffset := stride
	hitOffset := stride * vk.DeviceSize(1+pl.MissCount)
	vk.CmdTraceRaysNV(cmd,
		pl.SBT.Buff, 0,
		pl.SBT.Buff, missOffset, stride,
		pl.SBT.Buff, hitOffset, stride,
		vk.NullBuffer, 0, 0,
		width, height, depth)
}

// Destroy also frees the SBT.
func (pl *RayTracingPipeline) Destroy() {
	if pl.SBT != nil {
		pl.SBT.Destroy()
		pl.SBT = nil
	}
	pl.Pipeline.Destroy()
}
