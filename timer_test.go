// Copyright (c) 2024, The Photark Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vkray

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTimerStats(t *testing.T) {
	ts := &TimerStats{Label: "x"}
	assert.Equal(t, 0.0, ts.Min())
	assert.Equal(t, 0.0, ts.Max())
	assert.Equal(t, 0.0, ts.Avg())

	ts.Samples = []float64{3, 1, 2}
	assert.Equal(t, 1.0, ts.Min())
	assert.Equal(t, 3.0, ts.Max())
	assert.Equal(t, 2.0, ts.Avg())
}

func TestTimingRecordWindow(t *testing.T) {
	tr := NewTimingRecord(0)
	for i := 0; i < TimingWindow+10; i++ {
		tr.add("stage", float64(i))
	}
	ts, has := tr.Stats.ValByKeyTry("stage")
	assert.True(t, has)
	// rolling window keeps only the most recent samples
	assert.Len(t, ts.Samples, TimingWindow)
	assert.Equal(t, float64(10), ts.Min())
}

func TestTimingRecordOrder(t *testing.T) {
	tr := NewTimingRecord(0)
	tr.add("b", 1)
	tr.add("a", 1)
	tr.add("b", 2)

	var labels []string
	tr.Each(func(label string, ts *TimerStats) {
		labels = append(labels, label)
	})
	// registration order, not sorted
	assert.Equal(t, []string{"b", "a"}, labels)
}

func TestTimingRecordBudget(t *testing.T) {
	tr := NewTimingRecord(5)
	assert.True(t, tr.reserve(4))
	assert.False(t, tr.reserve(2))
	assert.True(t, tr.reserve(1))
	assert.False(t, tr.reserve(1))
}

func TestTimingRecordString(t *testing.T) {
	tr := NewTimingRecord(0)
	tr.add("path tracing", 4.25)
	out := tr.String()
	assert.Contains(t, out, "path tracing")
	assert.Contains(t, out, "4.250")
}
