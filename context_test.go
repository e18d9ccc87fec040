// Copyright (c) 2024, The Photark Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vkray

import (
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/stretchr/testify/assert"
)

func TestFrameSlotSequence(t *testing.T) {
	// after N frames, exactly min(N, MaxFramesInFlight) slots are used
	for n := 1; n <= 5; n++ {
		used := map[int]bool{}
		for counter := 0; counter < n; counter++ {
			used[counter%MaxFramesInFlight] = true
		}
		want := n
		if want > MaxFramesInFlight {
			want = MaxFramesInFlight
		}
		assert.Equal(t, want, len(used), "n=%d", n)
	}
}

func TestFrameEndActionsRunOncePerSlot(t *testing.T) {
	ctx := &Context{}

	runs := 0
	// a callback queued while slot 1 is current (frame 3 with F=2)
	ctx.FrameIndex = 1
	ctx.QueueFrameFinishCallback(func() { runs++ })

	// the other slot's drain must not touch it
	ctx.drainFrameEndActions(0)
	assert.Equal(t, 0, runs)

	// begin of the next frame on slot 1 (frame 5) drains it exactly once
	ctx.drainFrameEndActions(1)
	assert.Equal(t, 1, runs)
	ctx.drainFrameEndActions(1)
	assert.Equal(t, 1, runs)
}

func TestFrameEndActionsPerSlotIsolation(t *testing.T) {
	ctx := &Context{}
	var order []string

	ctx.FrameIndex = 0
	ctx.QueueFrameFinishCallback(func() { order = append(order, "slot0-a") })
	ctx.QueueFrameFinishCallback(func() { order = append(order, "slot0-b") })
	ctx.FrameIndex = 1
	ctx.QueueFrameFinishCallback(func() { order = append(order, "slot1-a") })

	ctx.drainFrameEndActions(0)
	ctx.drainFrameEndActions(1)
	// queue order is preserved within a slot
	assert.Equal(t, []string{"slot0-a", "slot0-b", "slot1-a"}, order)
}

func TestFrameEndActionsRequeueDuringDrain(t *testing.T) {
	ctx := &Context{}
	runs := 0
	ctx.FrameIndex = 0
	ctx.QueueFrameFinishCallback(func() {
		runs++
		// a callback enqueueing another callback lands on the fresh
		// queue, not the one being drained
		ctx.QueueFrameFinishCallback(func() { runs += 10 })
	})
	ctx.drainFrameEndActions(0)
	assert.Equal(t, 1, runs)
	ctx.drainFrameEndActions(0)
	assert.Equal(t, 11, runs)
}

func TestNextDepValueMonotonic(t *testing.T) {
	ctx := &Context{}
	prev := uint64(0)
	for i := 0; i < 100; i++ {
		v := ctx.NextDepValue()
		assert.Greater(t, v, prev)
		prev = v
	}
}

func TestDepsChaining(t *testing.T) {
	var ds Deps
	ds = ds.Add(vk.NullSemaphore, 3, 0)
	ds = ds.Add(vk.NullSemaphore, 7, 0)
	assert.Equal(t, uint64(7), ds.MaxValue())
	assert.Len(t, ds.Semaphores(), 2)
	assert.Len(t, ds.StageMasks(), 2)
	assert.Nil(t, Deps{}.Semaphores())
}
