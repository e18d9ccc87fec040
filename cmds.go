// Copyright (c) 2024, The Photark Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vkray

import vk "github.com/goki/vulkan"

// CmdPool is a command pool with a default buffer.
type CmdPool struct {
	Pool vk.CommandPool
	Buff vk.CommandBuffer
}

// ConfigResettable configures the pool for buffers that are re-recorded
// (set_scene re-records pre-built stage command buffers).
func (cp *CmdPool) ConfigResettable(dv *Device) {
	cp.Init(dv, vk.CommandPoolCreateResetCommandBufferBit)
}

// ConfigTransient configures the pool for one-time transfer buffers.
func (cp *CmdPool) ConfigTransient(dv *Device) {
	cp.Init(dv, vk.CommandPoolCreateTransientBit)
}

// Init initializes the pool with given flags.
func (cp *CmdPool) Init(dv *Device, flags vk.CommandPoolCreateFlagBits) {
	var cmdPool vk.CommandPool
	ret := vk.CreateCommandPool(dv.Device, &vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: dv.QueueIndex,
		Flags:            vk.CommandPoolCreateFlags(flags),
	}, nil, &cmdPool)
	IfPanic(NewError(ret))
	cp.Pool = cmdPool
}

// NewBuffer allocates a new primary command buffer in the pool,
// and sets it as the default Buff.
func (cp *CmdPool) NewBuffer(dv *Device) vk.CommandBuffer {
	cmdBuff := make([]vk.CommandBuffer, 1)
	ret := vk.AllocateCommandBuffers(dv.Device, &vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        cp.Pool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}, cmdBuff)
	IfPanic(NewError(ret))
	cp.Buff = cmdBuff[0]
	return cp.Buff
}

// Destroy frees the pool and all its buffers.
func (cp *CmdPool) Destroy(dev vk.Device) {
	if cp.Pool == nil {
		return
	}
	vk.DestroyCommandPool(dev, cp.Pool, nil)
	cp.Pool = nil
	cp.Buff = nil
}

// CmdBegin starts recording into a command buffer for later submission.
func CmdBegin(cmd vk.CommandBuffer) {
	ret := vk.BeginCommandBuffer(cmd, &vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
	})
	IfPanic(NewError(ret))
}

// CmdBeginOneTime starts recording a one-shot command buffer.
func CmdBeginOneTime(cmd vk.CommandBuffer) {
	ret := vk.BeginCommandBuffer(cmd, &vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	})
	IfPanic(NewError(ret))
}

// CmdResetBegin resets and starts recording a re-recordable buffer.
func CmdResetBegin(cmd vk.CommandBuffer) {
	vk.ResetCommandBuffer(cmd, 0)
	CmdBegin(cmd)
}

// CmdEnd ends recording.
func CmdEnd(cmd vk.CommandBuffer) {
	ret := vk.EndCommandBuffer(cmd)
	IfPanic(NewError(ret))
}

// CmdSubmitDeps submits a recorded command buffer waiting on wait and
// signalling signal, with an optional fence (pass vk.NullFence for none).
// Does not block the CPU.
func CmdSubmitDeps(cmd vk.CommandBuffer, dv *Device, wait, signal Deps, fence vk.Fence) error {
	var cmds []vk.CommandBuffer
	if cmd != nil {
		cmds = []vk.CommandBuffer{cmd}
	}
	ret := vk.QueueSubmit(dv.Queue, 1, []vk.SubmitInfo{{
		SType:                vk.StructureTypeSubmitInfo,
		CommandBufferCount:   uint32(len(cmds)),
		PCommandBuffers:      cmds,
		WaitSemaphoreCount:   uint32(len(wait)),
		PWaitSemaphores:      wait.Semaphores(),
		PWaitDstStageMask:    wait.StageMasks(),
		SignalSemaphoreCount: uint32(len(signal)),
		PSignalSemaphores:    signal.Semaphores(),
	}}, fence)
	return NewError(ret)
}

// CmdSubmit submits a recorded command buffer with no dependencies.
func CmdSubmit(cmd vk.CommandBuffer, dv *Device) {
	IfPanic(CmdSubmitDeps(cmd, dv, nil, nil, vk.NullFence))
}

// CmdSubmitWait submits and then blocks until the queue is idle.
// For initialization-time transfers only.
func CmdSubmitWait(cmd vk.CommandBuffer, dv *Device) {
	CmdSubmit(cmd, dv)
	ret := vk.QueueWaitIdle(dv.Queue)
	IfPanic(NewError(ret))
}

// NewSemaphore makes a new binary semaphore on device.
func NewSemaphore(dev vk.Device) vk.Semaphore {
	var sem vk.Semaphore
	ret := vk.CreateSemaphore(dev, &vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}, nil, &sem)
	IfPanic(NewError(ret))
	return sem
}

// NewFence makes a new fence on device; signaled makes it start signalled
// so the first frame's wait passes immediately.
func NewFence(dev vk.Device, signaled bool) vk.Fence {
	var flags vk.FenceCreateFlags
	if signaled {
		flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}
	var fence vk.Fence
	ret := vk.CreateFence(dev, &vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
		Flags: flags,
	}, nil, &fence)
	IfPanic(NewError(ret))
	return fence
}
