// Copyright (c) 2024, The Photark Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vkray

import (
	vk "github.com/goki/vulkan"
)

// Stage is a per-device unit of rendering work owning pre-recorded
// command buffers: one per in-flight frame, or one per swapchain image
// for stages that write the display target directly.  Pre-recording is
// the core performance invariant -- per-frame submission never
// re-records; only SetScene on the concrete stage does.
//
// Concrete stages embed Stage and record their buffers against the
// current scene; the renderer submits them in dependency order.
type Stage struct {

	// stage name, used as the timer label prefix
	Name string

	// device the stage runs on
	Dev *Device

	// context, for timing and frame info
	Ctx *Context

	// command pool with resettable buffers
	CmdPool CmdPool

	// pre-recorded command buffers; indexed by frame slot, or by
	// swapchain index when PerSwapImage is set
	Cmds []vk.CommandBuffer

	// true once a buffer has been recorded
	HasCmds []bool

	// index by swapchain image instead of frame slot
	PerSwapImage bool

	// semaphore signalled by this stage's submissions
	SignalSem vk.Semaphore

	// monotonically increasing submission sequence value
	SignalValue uint64

	// timers owned by the stage, ticked once per frame
	Timers []*Timer
}

// InitStage sets up the command pool, buffers and signal semaphore.
// perSwapImage selects swapchain-image indexing for the buffers.
func (st *Stage) InitStage(ctx *Context, dv *Device, name string, perSwapImage bool) {
	st.Name = name
	st.Ctx = ctx
	st.Dev = dv
	st.PerSwapImage = perSwapImage
	st.CmdPool.ConfigResettable(dv)
	n := MaxFramesInFlight
	if perSwapImage {
		n = len(ctx.Images)
	}
	st.Cmds = make([]vk.CommandBuffer, n)
	st.HasCmds = make([]bool, n)
	for i := range st.Cmds {
		st.Cmds[i] = st.CmdPool.NewBuffer(dv)
	}
	st.SignalSem = NewSemaphore(dv.Device)
}

// NewTimer makes a stage-owned timer registered in the context timing
// record.
func (st *Stage) NewTimer(label string) *Timer {
	tm := NewTimer(st.Dev, st.Ctx.Timing, label)
	st.Timers = append(st.Timers, tm)
	return tm
}

// BeginCompute resets and begins recording the buffer at index,
// returning the command buffer to record into.
func (st *Stage) BeginCompute(index int) vk.CommandBuffer {
	cmd := st.Cmds[index]
	CmdResetBegin(cmd)
	return cmd
}

// EndCompute finishes recording the buffer at index.
func (st *Stage) EndCompute(cmd vk.CommandBuffer, index int) {
	CmdEnd(cmd)
	st.HasCmds[index] = true
}

// ClearCommands invalidates all recorded buffers (scene detach).
func (st *Stage) ClearCommands() {
	for i := range st.HasCmds {
		st.HasCmds[i] = false
	}
}

// cmdIndex maps the current frame to the buffer index.
func (st *Stage) cmdIndex(frameIndex, swapchainIndex int) int {
	if st.PerSwapImage {
		return swapchainIndex
	}
	return frameIndex
}

// Submit enqueues the pre-recorded buffer for the frame, waiting on
// wait and signalling the stage semaphore; the returned dependency is
// what downstream stages wait on.  Submitting an unrecorded buffer is
// a no-op returning wait unchanged.
func (st *Stage) Submit(frameIndex, swapchainIndex int, wait Deps) (Deps, error) {
	idx := st.cmdIndex(frameIndex, swapchainIndex)
	if !st.HasCmds[idx] {
		return wait, nil
	}
	st.SignalValue = wait.MaxValue() + 1
	signal := Deps{}.Add(st.SignalSem, st.SignalValue, vk.PipelineStageAllCommandsBit)
	if err := CmdSubmitDeps(st.Cmds[idx], st.Dev, wait, signal, vk.NullFence); err != nil {
		return nil, err
	}
	for _, tm := range st.Timers {
		tm.Tick()
	}
	return signal, nil
}

// DestroyStage frees the stage's command pool, semaphore and timers.
func (st *Stage) DestroyStage() {
	for _, tm := range st.Timers {
		tm.Destroy()
	}
	st.Timers = nil
	if st.SignalSem != vk.NullSemaphore {
		vk.DestroySemaphore(st.Dev.Device, st.SignalSem, nil)
		st.SignalSem = vk.NullSemaphore
	}
	st.CmdPool.Destroy(st.Dev.Device)
}

// ComputeBarrier records a compute-to-compute memory barrier, the
// ordering primitive between the dispatches of a multi-pass stage.
func ComputeBarrier(cmd vk.CommandBuffer) {
	vk.CmdPipelineBarrier(cmd,
		vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit),
		vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit),
		0, 1, []vk.MemoryBarrier{{
			SType:         vk.StructureTypeMemoryBarrier,
			SrcAccessMask: vk.AccessFlags(vk.AccessShaderWriteBit),
			DstAccessMask: vk.AccessFlags(vk.AccessShaderReadBit),
		}}, 0, nil, 0, nil)
}

// RayTraceToComputeBarrier orders ray tracing writes before compute
// reads within a frame's recorded work.
func RayTraceToComputeBarrier(cmd vk.CommandBuffer) {
	vk.CmdPipelineBarrier(cmd,
		vk.PipelineStageFlags(vk.PipelineStageRayTracingShaderBitNV),
		vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit),
		0, 1, []vk.MemoryBarrier{{
			SType:         vk.StructureTypeMemoryBarrier,
			SrcAccessMask: vk.AccessFlags(vk.AccessShaderWriteBit),
			DstAccessMask: vk.AccessFlags(vk.AccessShaderReadBit),
		}}, 0, nil, 0, nil)
}
