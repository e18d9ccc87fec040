// Copyright (c) 2024, The Photark Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vkray

import (
	"image"
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/stretchr/testify/assert"
)

func testRT(w, h, layers int) *RenderTarget {
	rt := &RenderTarget{}
	rt.Format.Set(w, h, vk.FormatR16g16b16a16Sfloat)
	rt.Format.Layers = layers
	return rt
}

func TestGBufferDefines(t *testing.T) {
	g := &GBuffer{
		Color:        testRT(64, 64, 1),
		Diffuse:      testRT(64, 64, 1),
		ScreenMotion: testRT(64, 64, 1),
		LinearDepth:  testRT(64, 64, 1),
	}
	defines := map[string]string{}
	g.Defines(defines)
	assert.Contains(t, defines, "USE_COLOR_TARGET")
	assert.Contains(t, defines, "USE_DIFFUSE_TARGET")
	assert.Contains(t, defines, "USE_SCREEN_MOTION_TARGET")
	assert.Contains(t, defines, "USE_LINEAR_DEPTH_TARGET")
	assert.NotContains(t, defines, "USE_NORMAL_TARGET")
	assert.NotContains(t, defines, "USE_ALBEDO_TARGET")
	assert.Len(t, defines, 4)
}

func TestGBufferDefinesDistinguishVariants(t *testing.T) {
	// two different channel subsets must produce different define sets,
	// so the shader cache compiles each variant separately
	a := map[string]string{}
	(&GBuffer{Color: testRT(8, 8, 1)}).Defines(a)
	b := map[string]string{}
	(&GBuffer{Color: testRT(8, 8, 1), Normal: testRT(8, 8, 1)}).Defines(b)
	assert.NotEqual(t, a, b)
}

func TestGBufferSizeAndLayers(t *testing.T) {
	g := &GBuffer{
		Color:  testRT(320, 200, 45),
		Normal: testRT(320, 200, 45),
	}
	assert.Equal(t, image.Point{X: 320, Y: 200}, g.Size())
	assert.Equal(t, 45, g.LayerCount())

	empty := &GBuffer{}
	assert.Equal(t, image.Point{}, empty.Size())
	assert.Equal(t, 1, empty.LayerCount())
}

func TestGBufferEachOrder(t *testing.T) {
	g := &GBuffer{
		Emission: testRT(8, 8, 1),
		Color:    testRT(8, 8, 1),
		Normal:   testRT(8, 8, 1),
	}
	var names []string
	g.Each(func(name string, rt *RenderTarget) {
		names = append(names, name)
	})
	// fixed binding order regardless of construction order
	assert.Equal(t, []string{"COLOR", "NORMAL", "EMISSION"}, names)
}

func TestRenderTargetLayoutTracking(t *testing.T) {
	rt := testRT(16, 16, 2)
	rt.SetLayout(vk.ImageLayoutGeneral)
	for i := 0; i < MaxFramesInFlight; i++ {
		assert.Equal(t, vk.ImageLayoutGeneral, rt.Layout(i))
	}
	assert.Equal(t, 2, rt.LayerCount())
	assert.Equal(t, image.Point{X: 16, Y: 16}, rt.Size())
}
