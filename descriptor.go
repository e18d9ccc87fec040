// Copyright (c) 2024, The Photark Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vkray

import (
	"unsafe"

	vk "github.com/goki/vulkan"
)

// DescriptorState is one named binding value: a buffer range, an image
// (array), or an acceleration structure.  Stages describe their
// bindings by name; the pipeline resolves names to slots through the
// reflected binding map.  A state with no value set requests a
// placeholder fill of Count elements.
type DescriptorState struct {

	// binding name as declared in the shader
	Name string

	// buffer bindings (one or more for buffer arrays)
	Buffers []vk.DescriptorBufferInfo

	// image bindings (one or more for texture tables)
	Images []vk.DescriptorImageInfo

	// acceleration structure binding
	TLAS []vk.AccelerationStructureNV

	// placeholder element count when no value is set; 0 means 1
	Count uint32
}

// BufferDescriptor binds one buffer range; pass 0, vk.WholeSize for the
// whole buffer.
func BufferDescriptor(name string, buff vk.Buffer, offset, rng vk.DeviceSize) DescriptorState {
	return DescriptorState{Name: name, Buffers: []vk.DescriptorBufferInfo{{
		Buffer: buff, Offset: offset, Range: rng,
	}}}
}

// BufferArrayDescriptor binds an array of buffer ranges.
func BufferArrayDescriptor(name string, infos []vk.DescriptorBufferInfo) DescriptorState {
	return DescriptorState{Name: name, Buffers: infos}
}

// ImageDescriptor binds one sampled or storage image.
func ImageDescriptor(name string, sampler vk.Sampler, view vk.ImageView, layout vk.ImageLayout) DescriptorState {
	return DescriptorState{Name: name, Images: []vk.DescriptorImageInfo{{
		Sampler: sampler, ImageView: view, ImageLayout: layout,
	}}}
}

// StorageImageDescriptor binds one storage image in general layout.
func StorageImageDescriptor(name string, view vk.ImageView) DescriptorState {
	return ImageDescriptor(name, vk.NullSampler, view, vk.ImageLayoutGeneral)
}

// ImageArrayDescriptor binds a texture table.
func ImageArrayDescriptor(name string, infos []vk.DescriptorImageInfo) DescriptorState {
	return DescriptorState{Name: name, Images: infos}
}

// ASDescriptor binds a top level acceleration structure.
func ASDescriptor(name string, tlas vk.AccelerationStructureNV) DescriptorState {
	return DescriptorState{Name: name, TLAS: []vk.AccelerationStructureNV{tlas}}
}

// PlaceholderDescriptor requests placeholder resources for a binding
// that the scene has no real value for (1x1 textures, empty buffers).
func PlaceholderDescriptor(name string, count uint32) DescriptorState {
	return DescriptorState{Name: name, Count: count}
}

// writeFor converts the state into a vulkan descriptor write for given
// slot and descriptor type, substituting placeholders where needed.
func (ds *DescriptorState) writeFor(slot uint32, dtype vk.DescriptorType, pl *Placeholders) (vk.WriteDescriptorSet, bool) {
	w := vk.WriteDescriptorSet{
		SType:          vk.StructureTypeWriteDescriptorSet,
		DstBinding:     slot,
		DescriptorType: dtype,
	}
	count := ds.Count
	if count == 0 {
		count = 1
	}
	switch dtype {
	case vk.DescriptorTypeUniformBuffer, vk.DescriptorTypeStorageBuffer:
		infos := ds.Buffers
		if len(infos) == 0 && pl != nil {
			infos = pl.BufferInfos(count)
		}
		if len(infos) == 0 {
			return w, false
		}
		w.DescriptorCount = uint32(len(infos))
		w.PBufferInfo = infos
	case vk.DescriptorTypeCombinedImageSampler, vk.DescriptorTypeSampledImage,
		vk.DescriptorTypeStorageImage, vk.DescriptorTypeSampler:
		infos := ds.Images
		if len(infos) == 0 && pl != nil {
			infos = pl.ImageInfos(dtype, count)
		}
		if len(infos) == 0 {
			return w, false
		}
		w.DescriptorCount = uint32(len(infos))
		w.PImageInfo = infos
	case vk.DescriptorTypeAccelerationStructureNV:
		if len(ds.TLAS) == 0 {
			return w, false
		}
		w.DescriptorCount = uint32(len(ds.TLAS))
		w.PNext = unsafe.Pointer(&vk.WriteDescriptorSetAccelerationStructureNV{
			SType:                      vk.StructureTypeWriteDescriptorSetAccelerationStructureNV,
			AccelerationStructureCount: uint32(len(ds.TLAS)),
			PAccelerationStructures:    ds.TLAS,
		})
	default:
		return w, false
	}
	return w, true
}
