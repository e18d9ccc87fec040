// Copyright (c) 2024, The Photark Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vkray

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"
	"goki.dev/ordmap"
)

// TimingWindow is the number of samples kept per timer label for the
// min / avg / max statistics.
const TimingWindow = 64

// Timer is a pair of device timestamps written at the begin and end of
// a labeled region of a stage's command buffer.  Readback is deferred
// MaxFramesInFlight+1 frames so it never stalls the queue.
type Timer struct {

	// label reported into the timing record
	Label string

	// device the query pool lives on
	Dev *Device

	// timing record the results land in
	Record *TimingRecord

	// one query pool per in-flight frame, 2 timestamps each
	Pools [MaxFramesInFlight]vk.QueryPool

	// frames since the slot was last submitted, -1 = never
	FramesSince [MaxFramesInFlight]int
}

// NewTimer makes a timer for given label, registered in the context's
// timing record.  When the context's timestamp budget is exhausted the
// timer is inert and records nothing.
func NewTimer(dv *Device, rec *TimingRecord, label string) *Timer {
	tm := &Timer{Label: label, Dev: dv, Record: rec}
	for i := range tm.FramesSince {
		tm.FramesSince[i] = -1
	}
	if rec == nil || !rec.reserve(2*MaxFramesInFlight) {
		return tm
	}
	for i := 0; i < MaxFramesInFlight; i++ {
		var pool vk.QueryPool
		ret := vk.CreateQueryPool(dv.Device, &vk.QueryPoolCreateInfo{
			SType:      vk.StructureTypeQueryPoolCreateInfo,
			QueryType:  vk.QueryTypeTimestamp,
			QueryCount: 2,
		}, nil, &pool)
		IfPanic(NewError(ret))
		tm.Pools[i] = pool
	}
	return tm
}

// Active returns false for an inert timer (timestamp budget exhausted
// or timers disabled).
func (tm *Timer) Active() bool {
	return tm.Pools[0] != vk.NullQueryPool
}

// Begin records the start timestamp for given frame slot, collecting
// the slot's previous result first if one is pending.
func (tm *Timer) Begin(cmd vk.CommandBuffer, frameIndex int) {
	if !tm.Active() {
		return
	}
	tm.collect(frameIndex)
	vk.CmdResetQueryPool(cmd, tm.Pools[frameIndex], 0, 2)
	vk.CmdWriteTimestamp(cmd, vk.PipelineStageTopOfPipeBit, tm.Pools[frameIndex], 0)
}

// End records the end timestamp for given frame slot.
func (tm *Timer) End(cmd vk.CommandBuffer, frameIndex int) {
	if !tm.Active() {
		return
	}
	vk.CmdWriteTimestamp(cmd, vk.PipelineStageBottomOfPipeBit, tm.Pools[frameIndex], 1)
	tm.FramesSince[frameIndex] = 0
}

// Tick advances the per-slot frame counters; called once per rendered
// frame by the owning stage.
func (tm *Timer) Tick() {
	for i := range tm.FramesSince {
		if tm.FramesSince[i] >= 0 {
			tm.FramesSince[i]++
		}
	}
}

// collect reads back a slot's timestamps once they are old enough
// (MaxFramesInFlight+1 frames after submission).
func (tm *Timer) collect(frameIndex int) {
	if tm.FramesSince[frameIndex] <= MaxFramesInFlight {
		return
	}
	var stamps [2]uint64
	ret := vk.GetQueryPoolResults(tm.Dev.Device, tm.Pools[frameIndex], 0, 2,
		uint(unsafe.Sizeof(stamps)), unsafe.Pointer(&stamps[0]), 8,
		vk.QueryResultFlags(vk.QueryResult64Bit))
	tm.FramesSince[frameIndex] = -1
	if ret != vk.Success {
		return
	}
	nanos := float64(stamps[1]-stamps[0]) * float64(tm.Dev.TimestampPeriod)
	tm.Record.add(tm.Label, nanos*1e-6)
}

// Destroy frees the query pools.
func (tm *Timer) Destroy() {
	if !tm.Active() {
		return
	}
	for i, pool := range tm.Pools {
		vk.DestroyQueryPool(tm.Dev.Device, pool, nil)
		tm.Pools[i] = vk.NullQueryPool
	}
}

//////////////////////////////////////////////////////////////
// TimingRecord

// TimerStats is the rolling statistics window of one timer label, in
// milliseconds.
type TimerStats struct {
	Label   string
	Samples []float64
}

// Min returns the window minimum.
func (ts *TimerStats) Min() float64 {
	if len(ts.Samples) == 0 {
		return 0
	}
	mn := ts.Samples[0]
	for _, s := range ts.Samples[1:] {
		if s < mn {
			mn = s
		}
	}
	return mn
}

// Max returns the window maximum.
func (ts *TimerStats) Max() float64 {
	if len(ts.Samples) == 0 {
		return 0
	}
	mx := ts.Samples[0]
	for _, s := range ts.Samples[1:] {
		if s > mx {
			mx = s
		}
	}
	return mx
}

// Avg returns the window average.
func (ts *TimerStats) Avg() float64 {
	if len(ts.Samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range ts.Samples {
		sum += s
	}
	return sum / float64(len(ts.Samples))
}

// TimingRecord collects the labeled timestamp pairs reported by every
// stage, in registration order, and enforces the timestamp budget: each
// timer reserves its timestamps once, when it is made, and the budget
// is not replenished.  Labels are publicly iterable via Each.
type TimingRecord struct {

	// label -> rolling stats, in registration order
	Stats ordmap.Map[string, *TimerStats]

	// remaining timestamp budget; set from GPUOptions.MaxTimestamps
	Budget int
}

// NewTimingRecord makes a record with given timestamp budget.
func NewTimingRecord(maxTimestamps int) *TimingRecord {
	return &TimingRecord{Budget: maxTimestamps}
}

func (tr *TimingRecord) reserve(n int) bool {
	if tr.Budget < n {
		return false
	}
	tr.Budget -= n
	return true
}

func (tr *TimingRecord) add(label string, millis float64) {
	ts, has := tr.Stats.ValByKeyTry(label)
	if !has {
		ts = &TimerStats{Label: label}
		tr.Stats.Add(label, ts)
	}
	ts.Samples = append(ts.Samples, millis)
	if len(ts.Samples) > TimingWindow {
		ts.Samples = ts.Samples[len(ts.Samples)-TimingWindow:]
	}
}

// Each iterates the labels in registration order.
func (tr *TimingRecord) Each(fn func(label string, stats *TimerStats)) {
	for _, kv := range tr.Stats.Order {
		fn(kv.Key, kv.Val)
	}
}

// String prints a table of label: min / avg / max in milliseconds.
func (tr *TimingRecord) String() string {
	out := ""
	tr.Each(func(label string, ts *TimerStats) {
		out += fmt.Sprintf("%-40s min %7.3f  avg %7.3f  max %7.3f ms\n",
			label, ts.Min(), ts.Avg(), ts.Max())
	})
	return out
}
