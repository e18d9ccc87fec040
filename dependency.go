// Copyright (c) 2024, The Photark Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vkray

import vk "github.com/goki/vulkan"

// Dep is one synchronization dependency edge between submissions: wait
// for (or signal) Semaphore at the given pipeline stages.  Value is a
// host-side monotonically increasing sequence number used for ordering
// and debugging across devices; the semaphore itself is binary.
type Dep struct {

	// semaphore to wait on / signal
	Semaphore vk.Semaphore

	// monotonically increasing host-side sequence value
	Value uint64

	// pipeline stages that the dependency gates
	Stages vk.PipelineStageFlags
}

// Deps is a set of dependency edges for one submission.
type Deps []Dep

// Add appends a dependency edge and returns the extended set.
func (ds Deps) Add(sem vk.Semaphore, value uint64, stages vk.PipelineStageFlagBits) Deps {
	return append(ds, Dep{Semaphore: sem, Value: value, Stages: vk.PipelineStageFlags(stages)})
}

// Semaphores returns the semaphore list for a submit info.
func (ds Deps) Semaphores() []vk.Semaphore {
	if len(ds) == 0 {
		return nil
	}
	sems := make([]vk.Semaphore, len(ds))
	for i, d := range ds {
		sems[i] = d.Semaphore
	}
	return sems
}

// StageMasks returns the wait-stage mask list for a submit info.
func (ds Deps) StageMasks() []vk.PipelineStageFlags {
	if len(ds) == 0 {
		return nil
	}
	masks := make([]vk.PipelineStageFlags, len(ds))
	for i, d := range ds {
		masks[i] = d.Stages
	}
	return masks
}

// MaxValue returns the largest sequence value in the set, for chaining.
func (ds Deps) MaxValue() uint64 {
	var mx uint64
	for _, d := range ds {
		if d.Value > mx {
			mx = d.Value
		}
	}
	return mx
}
