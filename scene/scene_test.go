// Copyright (c) 2024, The Photark Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scene

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"goki.dev/mat32/v2"
)

func TestLightLayouts(t *testing.T) {
	// GPU-layout records must stay on std430 vec4 boundaries
	assert.Zero(t, unsafe.Sizeof(DirLight{})%16)
	assert.Zero(t, unsafe.Sizeof(PointLight{})%16)
	assert.Zero(t, unsafe.Sizeof(SpotLight{})%16)
	assert.Zero(t, unsafe.Sizeof(TriLight{})%16)
	assert.Zero(t, unsafe.Sizeof(CameraData{})%16)
	assert.Zero(t, unsafe.Sizeof(Metadata{})%16)
	assert.Zero(t, unsafe.Sizeof(SHGridData{})%16)
	assert.Equal(t, uintptr(16), unsafe.Sizeof(AliasEntry{}))
}

func TestBuildAliasTableUniform(t *testing.T) {
	table := BuildAliasTable([]float32{1, 1, 1, 1})
	require.Len(t, table, 4)
	for _, e := range table {
		assert.InDelta(t, 1.0, float64(e.Prob), 1e-6)
		assert.InDelta(t, 0.25, float64(e.Pdf), 1e-6)
	}
}

func TestBuildAliasTableDistribution(t *testing.T) {
	weights := []float32{1, 2, 3, 4, 0, 6}
	table := BuildAliasTable(weights)
	require.Len(t, table, len(weights))

	var sum float64
	for _, w := range weights {
		sum += float64(w)
	}

	// reconstructed sampling mass per pixel must match the weights:
	// each row contributes Prob to itself and 1-Prob to its alias
	mass := make([]float64, len(weights))
	for i, e := range table {
		assert.GreaterOrEqual(t, float64(e.Prob), 0.0)
		assert.LessOrEqual(t, float64(e.Prob), 1.0+1e-6)
		mass[i] += float64(e.Prob)
		mass[e.Alias] += 1 - float64(e.Prob)
	}
	for i, w := range weights {
		want := float64(w) / sum * float64(len(weights))
		assert.InDelta(t, want, mass[i], 1e-4, "pixel %d", i)
	}

	// pdfs sum to one
	var pdfSum float64
	for _, e := range table {
		pdfSum += float64(e.Pdf)
	}
	assert.InDelta(t, 1.0, pdfSum, 1e-5)
}

func TestBuildAliasTableEmpty(t *testing.T) {
	assert.Nil(t, BuildAliasTable(nil))
}

func TestCameraJitterStepping(t *testing.T) {
	cm := NewCamera()
	assert.Equal(t, mat32.Vec2{}, cm.Jitter())

	seq := []mat32.Vec2{mat32.V2(0.1, 0), mat32.V2(0, 0.1), mat32.V2(-0.1, 0)}
	cm.SetJitterSequence(seq)
	assert.Equal(t, seq[0], cm.Jitter())
	cm.StepJitter()
	assert.Equal(t, seq[1], cm.Jitter())
	cm.StepJitter()
	cm.StepJitter()
	// wraps around
	assert.Equal(t, seq[0], cm.Jitter())
}

func TestCameraProjections(t *testing.T) {
	cm := NewCamera()
	assert.Equal(t, Perspective, cm.Projection)
	cm.SetOrthographic(2, 1, 0.1, 100)
	assert.Equal(t, Orthographic, cm.Projection)
	cm.SetEquirectangular()
	assert.Equal(t, Equirectangular, cm.Projection)
}

func TestSHGridCoefCount(t *testing.T) {
	sg := &SHGrid{Order: 0}
	assert.Equal(t, 1, sg.CoefCount())
	sg.Order = 2
	assert.Equal(t, 9, sg.CoefCount())
	sg.Order = 4
	assert.Equal(t, 25, sg.CoefCount())
}

func TestSHGridData(t *testing.T) {
	sg := &SHGrid{
		Center: mat32.V3(0, 0, 0),
		Radius: mat32.V3(1, 1, 1),
		Res:    [3]int{8, 4, 2},
		Order:  2,
	}
	d := sg.Data()
	assert.Equal(t, mat32.V3(8, 4, 2), d.GridResolution)
	assert.InDelta(t, 0.5/8, float64(d.GridClamp.X), 1e-6)
	assert.InDelta(t, 0.5/2, float64(d.GridClamp.Z), 1e-6)
}

func TestSceneChangeCounter(t *testing.T) {
	sc := &Scene{}
	before := sc.ChangeCounter()
	cam := NewCamera()
	sc.SetCamera(cam)
	assert.Greater(t, sc.ChangeCounter(), before)

	sc.AddCamera(NewCamera())
	assert.Len(t, sc.Cameras, 2)
	assert.Equal(t, cam, sc.Camera(0))
	assert.Nil(t, sc.Camera(5))
}

func TestSceneReorderCamerasByActive(t *testing.T) {
	sc := &Scene{}
	a, b, c := NewCamera(), NewCamera(), NewCamera()
	sc.Cameras = []*Camera{a, b, c}
	sc.ReorderCamerasByActive(map[int]bool{2: true})
	assert.Equal(t, []*Camera{c, a, b}, sc.Cameras)
}
