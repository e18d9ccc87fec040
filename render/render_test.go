// Copyright (c) 2024, The Photark Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package render

import (
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vkray "github.com/photark/vkray"
)

func TestAtrousSchedule(t *testing.T) {
	// iteration j dilates by 2^j
	assert.Equal(t, []int{1, 2, 4, 8}, AtrousSchedule(4))
	assert.Equal(t, []int{1}, AtrousSchedule(1))
	assert.Empty(t, AtrousSchedule(0))
}

func TestReprojectionDispatch(t *testing.T) {
	// lightfield case: 2 rendered viewports, 45 displayed layers
	x, y, z := ReprojectionDispatch(1920, 1080, 45, 2)
	assert.Equal(t, uint32(120), x)
	assert.Equal(t, uint32(68), y)
	assert.Equal(t, uint32(43), z)

	// exact multiples don't round up
	x, y, _ = ReprojectionDispatch(256, 256, 4, 1)
	assert.Equal(t, uint32(16), x)
	assert.Equal(t, uint32(16), y)
}

func TestPushConstantRecordsFit(t *testing.T) {
	// every push constant record must fit the 128 byte minimum
	check := func(name string, rec any) {
		size, _ := vkray.PushConstantSize(rec)
		assert.LessOrEqual(t, size, vkray.MaxPushConstantBytes, name)
		assert.Greater(t, size, 0, name)
	}
	check("path tracer", &pathTracerPC{})
	check("whitted", &whittedPC{})
	check("feature", &featurePC{})
	check("sh path tracer", &shPathTracerPC{})
	check("svgf temporal", &svgfTemporalPC{})
	check("svgf atrous", &svgfAtrousPC{})
	check("bmfr", &bmfrPC{})
	check("spatial reprojection", &spatialReprojectionPC{})
	check("tonemap", &tonemapPC{})
	check("taa", &taaPC{})
}

func TestHalton(t *testing.T) {
	assert.InDelta(t, 0.5, Halton(1, 2), 1e-6)
	assert.InDelta(t, 0.25, Halton(2, 2), 1e-6)
	assert.InDelta(t, 0.75, Halton(3, 2), 1e-6)
	assert.InDelta(t, 1.0/3.0, Halton(1, 3), 1e-6)
}

func TestCameraJitterSequence(t *testing.T) {
	size := image.Point{X: 1920, Y: 1080}
	seq := CameraJitterSequence(16, size)
	require.Len(t, seq, 16)
	for _, j := range seq {
		// sub-pixel offsets stay within one pixel in NDC units
		assert.LessOrEqual(t, j.X, 1.0/float32(size.X))
		assert.GreaterOrEqual(t, j.X, -1.0/float32(size.X))
		assert.LessOrEqual(t, j.Y, 1.0/float32(size.Y))
		assert.GreaterOrEqual(t, j.Y, -1.0/float32(size.Y))
	}
	// deterministic
	assert.Equal(t, seq, CameraJitterSequence(16, size))
	assert.Nil(t, CameraJitterSequence(0, size))
}

func TestBMFRBlockCount(t *testing.T) {
	// one extra block row/column for the rotating offsets
	assert.Equal(t, 61, blockCount(1920))
	assert.Equal(t, 34, blockCount(1080))
	assert.Equal(t, 2, blockCount(32))
}

func TestLoadOptions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "opts.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
max_ray_depth = 4
samples_per_pixel = 16
russian_roulette = 0.2
film_radius = 0.5
`), 0o644))

	opt := &PathTracerOptions{}
	opt.Defaults()
	require.NoError(t, LoadOptions(path, opt))
	assert.Equal(t, 4, opt.MaxRayDepth)
	assert.Equal(t, 16, opt.SamplesPerPixel)
	assert.InDelta(t, 0.2, opt.RussianRouletteDelta, 1e-6)
	assert.InDelta(t, 0.5, opt.FilmRadius, 1e-6)

	assert.Error(t, LoadOptions(filepath.Join(t.TempDir(), "missing.toml"), opt))
}

func TestSVGFOptionsDefaults(t *testing.T) {
	so := &SVGFOptions{}
	so.Defaults()
	// strides come from the iteration count
	assert.Equal(t, 4, so.AtrousDiffuseIters)
	assert.Equal(t, 1, so.ActiveViewportCount)
	assert.Greater(t, so.SigmaN, float32(0))
}

func TestLowerSnake(t *testing.T) {
	assert.Equal(t, "color", lowerSnake("COLOR"))
	assert.Equal(t, "screen_motion", lowerSnake("SCREEN_MOTION"))
}
