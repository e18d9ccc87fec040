// Copyright (c) 2024, The Photark Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package render

import (
	"fmt"
	"strconv"
	"unsafe"

	vk "github.com/goki/vulkan"
	"goki.dev/mat32/v2"

	vkray "github.com/photark/vkray"
	"github.com/photark/vkray/scene"
)

// SHPathTracerOptions configure the spherical harmonics probe path
// tracer.
type SHPathTracerOptions struct {
	RTStageOptions

	// rays per probe per frame
	SamplesPerProbe int `toml:"samples_per_probe"`

	// rays traced per invocation of the ray generator
	SamplesPerInvocation int `toml:"samples_per_invocation"`

	// film filter for the probe's spherical samples
	Film FilmFilters `toml:"film"`

	// film filter radius; 0.5 is exact for the box filter
	FilmRadius float32 `toml:"film_radius"`

	// russian roulette termination delta; 0 disables
	RussianRouletteDelta float32 `toml:"russian_roulette"`

	// exponential moving average blend ratio into the persistent grid
	TemporalRatio float32 `toml:"temporal_ratio"`

	// clamp for indirect radiance
	IndirectClamping float32 `toml:"indirect_clamping"`

	// sample the environment map through its alias table
	ImportanceSampleEnvmap bool `toml:"importance_sample_envmap"`

	// which grid of the scene is traced
	SHGridIndex int `toml:"sh_grid_index"`

	// spherical harmonics order, 0..4
	SHOrder int `toml:"sh_order"`
}

func (so *SHPathTracerOptions) Defaults() {
	so.RTStageOptions.Defaults()
	so.SamplesPerProbe = 1
	so.SamplesPerInvocation = 1
	so.Film = BlackmanHarrisFilter
	so.FilmRadius = 1
	so.TemporalRatio = 0.02
	so.IndirectClamping = 100
	so.ImportanceSampleEnvmap = true
	so.SHOrder = 2
}

// shGridDataGPU is the uniform record for the traced grid.
type shGridDataGPU struct {
	Grid          scene.SHGridData
	TemporalRatio float32
	SamplesPerProbe float32
	pad0, pad1    float32
}

// shPathTracerPC is the per-pass push constant record.
type shPathTracerPC struct {
	Samples         uint32
	PreviousSamples uint32
	MinRayDist      float32
	IndirectClamping float32
	FilmRadius      float32
	RussianRouletteDelta float32
	GridIndex       int32
	// -1 for no environment map
	EnvironmentProj   int32
	EnvironmentFactor mat32.Vec4
}

// SHPathTracerStage samples radiance at every probe of a 3D grid,
// projects it onto spherical harmonics of the configured order, and
// blends the result into the persistent coefficient grid texture with
// an exponential moving average.  A deferred shading stage downstream
// consumes the grid.
type SHPathTracerStage struct {
	vkray.Stage

	Opts SHPathTracerOptions

	// the grid being traced
	Grid *scene.SHGrid

	// layout the grid texture is left in for downstream consumers
	OutputLayout vk.ImageLayout

	Pipeline *vkray.RayTracingPipeline

	// per-frame grid parameters
	gridData *vkray.GPUBuffer

	Scene *scene.Scene

	Timer *vkray.Timer
}

// NewSHPathTracerStage builds the probe tracer for one grid.  The grid
// texture must already be allocated with storage usage; outputLayout
// is the layout downstream stages expect it in.
func NewSHPathTracerStage(ctx *vkray.Context, dv *vkray.Device, grid *scene.SHGrid, outputLayout vk.ImageLayout, opt *SHPathTracerOptions) (*SHPathTracerStage, error) {
	if opt.SHOrder < 0 || opt.SHOrder > scene.MaxSHOrder {
		return nil, fmt.Errorf("render: unsupported spherical harmonics order %d", opt.SHOrder)
	}
	defines := map[string]string{
		"SH_ORDER":               strconv.Itoa(opt.SHOrder),
		"SAMPLES_PER_PROBE":      strconv.Itoa(maxInt(opt.SamplesPerProbe, 1)),
		"SAMPLES_PER_INVOCATION": strconv.Itoa(maxInt(opt.SamplesPerInvocation, 1)),
		"MAX_BOUNCES":            strconv.Itoa(maxInt(opt.MaxRayDepth, 1)),
	}
	if opt.RussianRouletteDelta > 0 {
		defines["USE_RUSSIAN_ROULETTE"] = "1"
	}
	if opt.ImportanceSampleEnvmap {
		defines["IMPORTANCE_SAMPLE_ENVMAP"] = "1"
	}
	switch opt.Film {
	case PointFilter:
		defines["USE_POINT_FILTER"] = "1"
	case BoxFilter:
		defines["USE_BOX_FILTER"] = "1"
	case BlackmanHarrisFilter:
		defines["USE_BLACKMAN_HARRIS_FILTER"] = "1"
	}

	load := func(path string, defs map[string]string) (*vkray.ShaderSource, error) {
		return vkray.NewShaderSource(path, defs)
	}
	rgen, err := load("shader/sh_path_tracer.rgen", defines)
	if err != nil {
		return nil, err
	}
	chit, err := load("shader/path_tracer.rchit", defines)
	if err != nil {
		return nil, err
	}
	ahit, err := load("shader/path_tracer.rahit", defines)
	if err != nil {
		return nil, err
	}
	shadowChit, err := load("shader/path_tracer_shadow.rchit", nil)
	if err != nil {
		return nil, err
	}
	shadowAhit, err := load("shader/path_tracer_shadow.rahit", defines)
	if err != nil {
		return nil, err
	}
	miss, err := load("shader/path_tracer.rmiss", defines)
	if err != nil {
		return nil, err
	}
	shadowMiss, err := load("shader/path_tracer_shadow.rmiss", defines)
	if err != nil {
		return nil, err
	}

	st := &SHPathTracerStage{Opts: *opt, Grid: grid, OutputLayout: outputLayout}
	st.InitStage(ctx, dv, "sh path tracing", false)
	st.Timer = st.NewTimer(fmt.Sprintf("sh path tracing (order %d)", opt.SHOrder))
	st.gridData = vkray.NewGPUBuffer(dv, int(unsafe.Sizeof(shGridDataGPU{})),
		vk.BufferUsageUniformBufferBit)

	pl, err := vkray.NewRayTracingPipeline("sh path tracing", dv,
		ctx.Placeholders[dv.Index], ctx.Pools[dv.Index],
		&vkray.RayTracingPipelineParams{
			Sources: &vkray.ShaderSet{
				RGen: rgen,
				RHit: []vkray.HitGroup{
					{Kind: vkray.TrianglesHitGroup, RChit: chit, RAhit: ahit},
					{Kind: vkray.TrianglesHitGroup, RChit: shadowChit, RAhit: shadowAhit},
				},
				RMiss: []*vkray.ShaderSource{miss, shadowMiss},
			},
			CountOverrides: map[string]uint32{
				"textures": uint32(opt.MaxSamplers),
				"vertices": uint32(opt.MaxMeshes),
				"indices":  uint32(opt.MaxMeshes),
			},
			MaxRecursionDepth: opt.MaxRayDepth,
		})
	if err != nil {
		st.gridData.Destroy()
		st.DestroyStage()
		return nil, err
	}
	st.Pipeline = pl
	return st, nil
}

// SetScene re-records the probe trace against the scene.
func (st *SHPathTracerStage) SetScene(s *scene.Scene) {
	st.Scene = s
	st.ClearCommands()
	if s == nil {
		return
	}
	st.Scene.BindPlaceholders(&st.Pipeline.Pipeline, uint32(st.Opts.MaxSamplers), 16)

	grid := st.Grid
	passes := (maxInt(st.Opts.SamplesPerProbe, 1) + st.Opts.SamplesPerInvocation - 1) /
		maxInt(st.Opts.SamplesPerInvocation, 1)

	for i := 0; i < vkray.MaxFramesInFlight; i++ {
		s.Bind(&st.Pipeline.Pipeline, i, -1)
		st.Pipeline.UpdateDescriptorSet([]vkray.DescriptorState{
			vkray.StorageImageDescriptor("inout_sh_grid", grid.Tex.View),
			vkray.BufferDescriptor("grid_params", st.gridData.Buff, 0,
				vk.DeviceSize(vk.WholeSize)),
		}, i)

		cmd := st.BeginCompute(i)
		st.Timer.Begin(cmd, i)

		s.Upload(cmd, st.Dev.Index, i)
		st.gridData.Upload(cmd, i)
		vkray.TransitionImage(cmd, grid.Tex.Image.Image, grid.Tex.Format.Format,
			vk.ImageLayoutUndefined, vk.ImageLayoutGeneral, 0, 1)

		st.Pipeline.Bind(cmd, i)
		var control shPathTracerPC
		for pass := 0; pass < passes; pass++ {
			if pass != 0 {
				vkray.RayTraceToComputeBarrier(cmd)
			}
			st.fillPushConstants(&control, pass)
			st.Pipeline.PushConstants(cmd, &control)
			st.Pipeline.TraceRays(cmd,
				uint32(grid.Res[0]*grid.Res[1]), uint32(grid.Res[2]), 1)
		}

		vkray.TransitionImage(cmd, grid.Tex.Image.Image, grid.Tex.Format.Format,
			vk.ImageLayoutGeneral, st.OutputLayout, 0, 1)
		st.Timer.End(cmd, i)
		st.EndCompute(cmd, i)
	}
}

func (st *SHPathTracerStage) fillPushConstants(control *shPathTracerPC, passIndex int) {
	control.Samples = uint32(maxInt(st.Opts.SamplesPerInvocation, 1))
	control.PreviousSamples = uint32(passIndex * maxInt(st.Opts.SamplesPerInvocation, 1))
	control.MinRayDist = st.Opts.MinRayDist
	control.IndirectClamping = st.Opts.IndirectClamping
	control.FilmRadius = st.Opts.FilmRadius
	control.RussianRouletteDelta = st.Opts.RussianRouletteDelta
	control.GridIndex = int32(st.Opts.SHGridIndex)
	if env := st.Scene.EnvMap; env != nil {
		f := env.Factor
		control.EnvironmentFactor = mat32.V4(f.X, f.Y, f.Z, 1)
		control.EnvironmentProj = int32(env.Projection)
	} else {
		control.EnvironmentProj = -1
	}
}

// Update writes the per-frame grid parameters.
func (st *SHPathTracerStage) Update(frameIndex int) {
	if st.Scene == nil {
		return
	}
	data := shGridDataGPU{
		Grid:            st.Grid.Data(),
		TemporalRatio:   st.Opts.TemporalRatio,
		SamplesPerProbe: float32(maxInt(st.Opts.SamplesPerProbe, 1)),
	}
	st.gridData.UpdatePtr(frameIndex, unsafe.Pointer(&data), int(unsafe.Sizeof(data)))
}

// Destroy frees the stage resources.
func (st *SHPathTracerStage) Destroy() {
	if st.Pipeline != nil {
		st.Pipeline.Destroy()
		st.Pipeline = nil
	}
	st.gridData.Destroy()
	st.DestroyStage()
}
