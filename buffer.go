// Copyright (c) 2024, The Photark Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vkray

import (
	"unsafe"

	vk "github.com/goki/vulkan"
)

// GPUBuffer is an owned device buffer with one host-visible staging
// region per in-flight frame.  The CPU writes into the staging region
// for the current frame slot with Update / Foreach; the recorded
// command buffer copies it into the device buffer with Upload.
// This keeps per-frame uniform updates free of any re-recording.
type GPUBuffer struct {

	// device this buffer lives on
	Dev *Device

	// size of the device buffer in bytes
	Size int

	// device-local buffer bound in shaders
	Buff vk.Buffer

	// device-local memory
	BuffMem vk.DeviceMemory

	// host staging buffer, MaxFramesInFlight slices of Size each
	Host vk.Buffer

	// host staging memory, persistently mapped
	HostMem vk.DeviceMemory

	// mapped pointer to the start of the staging memory
	HostPtr unsafe.Pointer
}

// NewGPUBuffer allocates a buffer of given size and usage (transfer-dst
// is added automatically).  Size 0 is allowed and allocates nothing.
func NewGPUBuffer(dv *Device, size int, usage vk.BufferUsageFlagBits) *GPUBuffer {
	gb := &GPUBuffer{Dev: dv, Size: size}
	if size == 0 {
		return gb
	}
	gb.Buff = NewBuffer(dv, size, vk.BufferUsageFlags(usage)|
		vk.BufferUsageFlags(vk.BufferUsageTransferDstBit))
	gb.BuffMem = AllocBuffMem(dv, gb.Buff, vk.MemoryPropertyDeviceLocalBit)

	hostSize := size * MaxFramesInFlight
	gb.Host = NewBuffer(dv, hostSize, vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit))
	gb.HostMem = AllocBuffMem(dv, gb.Host, vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit)
	var ptr unsafe.Pointer
	ret := vk.MapMemory(dv.Device, gb.HostMem, 0, vk.DeviceSize(hostSize), 0, &ptr)
	IfPanic(NewError(ret))
	gb.HostPtr = ptr
	return gb
}

// Update copies data into the staging region for given frame slot.
func (gb *GPUBuffer) Update(frameIndex int, data []byte) {
	if gb.Size == 0 || len(data) == 0 {
		return
	}
	n := len(data)
	if n > gb.Size {
		n = gb.Size
	}
	dst := unsafe.Slice((*byte)(unsafe.Add(gb.HostPtr, frameIndex*gb.Size)), gb.Size)
	copy(dst, data[:n])
}

// UpdatePtr copies size bytes from ptr into the staging region for
// given frame slot, for fixed-layout records.
func (gb *GPUBuffer) UpdatePtr(frameIndex int, ptr unsafe.Pointer, size int) {
	gb.Update(frameIndex, unsafe.Slice((*byte)(ptr), size))
}

// Upload records the staging-to-device copy for given frame slot,
// followed by a transfer-to-shader-read barrier.
func (gb *GPUBuffer) Upload(cmd vk.CommandBuffer, frameIndex int) {
	if gb.Size == 0 {
		return
	}
	vk.CmdCopyBuffer(cmd, gb.Host, gb.Buff, 1, []vk.BufferCopy{{
		SrcOffset: vk.DeviceSize(frameIndex * gb.Size),
		DstOffset: 0,
		Size:      vk.DeviceSize(gb.Size),
	}})
	vk.CmdPipelineBarrier(cmd,
		vk.PipelineStageFlags(vk.PipelineStageTransferBit),
		vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit|vk.PipelineStageRayTracingShaderBitNV),
		0, 1, []vk.MemoryBarrier{{
			SType:         vk.StructureTypeMemoryBarrier,
			SrcAccessMask: vk.AccessFlags(vk.AccessTransferWriteBit),
			DstAccessMask: vk.AccessFlags(vk.AccessShaderReadBit),
		}}, 0, nil, 0, nil)
}

// Destroy frees all buffers and memory.
func (gb *GPUBuffer) Destroy() {
	if gb.Size == 0 || gb.Dev == nil {
		return
	}
	dev := gb.Dev.Device
	if gb.HostPtr != nil {
		vk.UnmapMemory(dev, gb.HostMem)
		gb.HostPtr = nil
	}
	if gb.Host != vk.NullBuffer {
		vk.DestroyBuffer(dev, gb.Host, nil)
		vk.FreeMemory(dev, gb.HostMem, nil)
		gb.Host = vk.NullBuffer
	}
	if gb.Buff != vk.NullBuffer {
		vk.DestroyBuffer(dev, gb.Buff, nil)
		vk.FreeMemory(dev, gb.BuffMem, nil)
		gb.Buff = vk.NullBuffer
	}
	gb.Dev = nil
}

// NewBuffer makes a buffer of given size and usage.
func NewBuffer(dv *Device, size int, usage vk.BufferUsageFlags) vk.Buffer {
	var buff vk.Buffer
	ret := vk.CreateBuffer(dv.Device, &vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(size),
		Usage:       usage,
		SharingMode: vk.SharingModeExclusive,
	}, nil, &buff)
	IfPanic(NewError(ret))
	return buff
}

// AllocBuffMem allocates and binds memory for given buffer.
func AllocBuffMem(dv *Device, buff vk.Buffer, props vk.MemoryPropertyFlagBits) vk.DeviceMemory {
	var memReqs vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(dv.Device, buff, &memReqs)
	memReqs.Deref()

	var mem vk.DeviceMemory
	ret := vk.AllocateMemory(dv.Device, &vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  memReqs.Size,
		MemoryTypeIndex: dv.FindMemoryType(memReqs.MemoryTypeBits, props),
	}, nil, &mem)
	IfPanic(NewError(ret), func() {
		vk.DestroyBuffer(dv.Device, buff, nil)
	})
	ret = vk.BindBufferMemory(dv.Device, buff, mem, 0)
	IfPanic(NewError(ret))
	return mem
}
