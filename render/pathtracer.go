// Copyright (c) 2024, The Photark Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package render

import (
	"strconv"
	"unsafe"

	vk "github.com/goki/vulkan"
	"goki.dev/mat32/v2"

	vkray "github.com/photark/vkray"
)

// PathTracerOptions configure the path tracing stage.
type PathTracerOptions struct {
	RTCameraStageOptions

	// pixel reconstruction filter
	Film FilmFilters `toml:"film"`

	// film filter radius in pixels; 0.5 is exact for the box filter
	FilmRadius float32 `toml:"film_radius"`

	// russian roulette termination delta; 0 disables
	RussianRouletteDelta float32 `toml:"russian_roulette"`

	// clamp for indirect radiance; 0 disables
	IndirectClamping float32 `toml:"indirect_clamping"`

	// path space regularization gamma; 0 disables
	RegularizationGamma float32 `toml:"regularization_gamma"`

	// offset shadow rays to hide the shadow terminator artifact
	UseShadowTerminatorFix bool `toml:"shadow_terminator_fix"`

	// render the first bounce with white albedo (for denoiser inputs)
	UseWhiteAlbedoOnFirstBounce bool `toml:"white_albedo_on_first_bounce"`

	// make lights invisible to primary rays
	HideLights bool `toml:"hide_lights"`

	// sample the environment map through its alias table
	ImportanceSampleEnvmap bool `toml:"importance_sample_envmap"`
}

func (po *PathTracerOptions) Defaults() {
	po.RTCameraStageOptions.Defaults()
	po.Film = BlackmanHarrisFilter
	po.FilmRadius = 1
	po.IndirectClamping = 0
}

// pathTracerPC is the per-pass push constant record.  The minimum
// guaranteed push constant size is 128 bytes; this must fit it.
type pathTracerPC struct {
	Samples              uint32
	PreviousSamples      uint32
	MinRayDist           float32
	IndirectClamping     float32
	FilmRadius           float32
	RussianRouletteDelta float32
	Antialiasing         int32
	// -1 for no environment map
	EnvironmentProj   int32
	EnvironmentFactor mat32.Vec4
	RegularizationGamma float32
}

// pathTracerSources loads the stage's shader set.  The feature flags
// and the allocated G-buffer channels become compile-time defines, so
// every distinct (options, gbuffer) pair gets its own cached binary.
func pathTracerSources(opt *PathTracerOptions, gbuf *vkray.GBuffer) (*vkray.ShaderSet, error) {
	defines := map[string]string{}
	defines["MAX_BOUNCES"] = strconv.Itoa(maxInt(opt.MaxRayDepth, 1))

	if opt.RussianRouletteDelta > 0 {
		defines["USE_RUSSIAN_ROULETTE"] = "1"
	}
	if opt.UseShadowTerminatorFix {
		defines["USE_SHADOW_TERMINATOR_FIX"] = "1"
	}
	if opt.UseWhiteAlbedoOnFirstBounce {
		defines["USE_WHITE_ALBEDO_ON_FIRST_BOUNCE"] = "1"
	}
	if opt.HideLights {
		defines["HIDE_LIGHTS"] = "1"
	}
	if opt.ImportanceSampleEnvmap {
		defines["IMPORTANCE_SAMPLE_ENVMAP"] = "1"
	}
	if opt.RegularizationGamma != 0 {
		defines["PATH_SPACE_REGULARIZATION"] = "1"
	}
	switch opt.Film {
	case PointFilter:
		defines["USE_POINT_FILTER"] = "1"
	case BoxFilter:
		defines["USE_BOX_FILTER"] = "1"
	case BlackmanHarrisFilter:
		defines["USE_BLACKMAN_HARRIS_FILTER"] = "1"
	}
	gbuf.Defines(defines)
	commonDefines(defines, &opt.RTCameraStageOptions)

	load := func(path string) (*vkray.ShaderSource, error) {
		return vkray.NewShaderSource(path, defines)
	}
	rgen, err := load("shader/path_tracer.rgen")
	if err != nil {
		return nil, err
	}
	chit, err := load("shader/path_tracer.rchit")
	if err != nil {
		return nil, err
	}
	ahit, err := load("shader/path_tracer.rahit")
	if err != nil {
		return nil, err
	}
	shadowChit, err := vkray.NewShaderSource("shader/path_tracer_shadow.rchit", nil)
	if err != nil {
		return nil, err
	}
	shadowAhit, err := load("shader/path_tracer_shadow.rahit")
	if err != nil {
		return nil, err
	}
	plChit, err := load("shader/path_tracer_point_light.rchit")
	if err != nil {
		return nil, err
	}
	plRint, err := vkray.NewShaderSource("shader/path_tracer_point_light.rint", nil)
	if err != nil {
		return nil, err
	}
	miss, err := load("shader/path_tracer.rmiss")
	if err != nil {
		return nil, err
	}
	shadowMiss, err := load("shader/path_tracer_shadow.rmiss")
	if err != nil {
		return nil, err
	}

	// fixed SBT layout: miss 0 primary, miss 1 shadow; hit group 0
	// triangles primary, 1 triangles shadow, 2 procedural point light
	// primary, 3 procedural point light shadow
	return &vkray.ShaderSet{
		RGen: rgen,
		RHit: []vkray.HitGroup{
			{Kind: vkray.TrianglesHitGroup, RChit: chit, RAhit: ahit},
			{Kind: vkray.TrianglesHitGroup, RChit: shadowChit, RAhit: shadowAhit},
			{Kind: vkray.ProceduralHitGroup, RChit: plChit, RInt: plRint},
			{Kind: vkray.ProceduralHitGroup, RChit: shadowChit, RInt: plRint},
		},
		RMiss: []*vkray.ShaderSource{miss, shadowMiss},
	}, nil
}

// accumParams is the cross-frame accumulation uniform: push constants
// cover the passes within one frame; this extends them across frames
// while the scene and camera hold still.
type accumParams struct {
	AccumulatedSamples uint32
	pad0, pad1, pad2   uint32
}

// PathTracerStage renders per-sample-per-pixel path traced radiance
// and feature channels into the output G-buffer.
type PathTracerStage struct {
	RTStage

	Opts PathTracerOptions

	// samples accumulated in previous frames (Accumulate mode)
	AccumulatedSamples uint32

	accum *vkray.GPUBuffer
}

// NewPathTracerStage builds the stage for given output target.
func NewPathTracerStage(ctx *vkray.Context, dv *vkray.Device, gbuf *vkray.GBuffer, opt *PathTracerOptions) (*PathTracerStage, error) {
	sources, err := pathTracerSources(opt, gbuf)
	if err != nil {
		return nil, err
	}
	pt := &PathTracerStage{Opts: *opt}
	pt.PushConstFn = pt.recordPushConstants
	pt.accum = vkray.NewGPUBuffer(dv, 16, vk.BufferUsageUniformBufferBit)
	pt.PreRecordFn = func(cmd vk.CommandBuffer, frameIndex int) {
		pt.accum.Upload(cmd, frameIndex)
	}
	err = pt.InitRT(ctx, dv, "path tracing", sources,
		&pt.Opts.RTCameraStageOptions, gbuf, opt.SamplesPerPixel)
	if err != nil {
		return nil, err
	}
	pt.Pipeline.UpdateDescriptorSets([]vkray.DescriptorState{
		vkray.BufferDescriptor("accum_params", pt.accum.Buff, 0,
			vk.DeviceSize(vk.WholeSize)),
	})
	return pt, nil
}

// Update writes the cross-frame accumulation counter and advances it.
func (pt *PathTracerStage) Update(frameIndex int) {
	params := accumParams{AccumulatedSamples: pt.AccumulatedSamples}
	pt.accum.UpdatePtr(frameIndex, unsafe.Pointer(&params), int(unsafe.Sizeof(params)))
	if pt.Opts.Accumulate {
		pt.AccumulatedSamples += uint32(maxInt(pt.Opts.SamplesPerPixel, 1))
	}
}

// ResetAccumulation restarts cross-frame accumulation.
func (pt *PathTracerStage) ResetAccumulation() {
	pt.AccumulatedSamples = 0
}

// Destroy also frees the accumulation buffer.
func (pt *PathTracerStage) Destroy() {
	pt.accum.Destroy()
	pt.RTStage.Destroy()
}

// recordPushConstants writes the per-pass controls: accumulation
// counters and the film / environment parameters.
func (pt *PathTracerStage) recordPushConstants(cmd vk.CommandBuffer, frameIndex, passIndex int) {
	var control pathTracerPC

	if env := pt.Scene.EnvMap; env != nil {
		f := env.Factor
		control.EnvironmentFactor = mat32.V4(f.X, f.Y, f.Z, 1)
		control.EnvironmentProj = int32(env.Projection)
	} else {
		control.EnvironmentProj = -1
	}

	control.FilmRadius = pt.Opts.FilmRadius
	control.RussianRouletteDelta = pt.Opts.RussianRouletteDelta
	control.MinRayDist = pt.Opts.MinRayDist
	control.IndirectClamping = pt.Opts.IndirectClamping
	control.RegularizationGamma = pt.Opts.RegularizationGamma

	control.PreviousSamples = uint32(passIndex)
	remaining := pt.Opts.SamplesPerPixel - passIndex
	if remaining > 1 {
		remaining = 1
	}
	control.Samples = uint32(remaining)
	if pt.Opts.Film != PointFilter {
		control.Antialiasing = 1
	}

	pt.Pipeline.PushConstants(cmd, &control)
}
