// Copyright (c) 2024, The Photark Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package render

import (
	"os"

	"github.com/pelletier/go-toml/v2"
	"goki.dev/ki/v2/kit"

	"github.com/photark/vkray/scene"
)

// FilmFilters are the pixel reconstruction filters.
type FilmFilters int32

const (
	PointFilter FilmFilters = iota
	BoxFilter
	BlackmanHarrisFilter
	FilmFiltersN
)

//go:generate stringer -type=FilmFilters

var KiT_FilmFilters = kit.Enums.AddEnum(FilmFiltersN, kit.NotBitFlag, nil)

// TonemapOperators are the supported tonemapping operators.
type TonemapOperators int32

const (
	TonemapFilmic TonemapOperators = iota
	TonemapGammaCorrection
	TonemapReinhard
	TonemapReinhardLuminance
	TonemapLinear
	TonemapOperatorsN
)

//go:generate stringer -type=TonemapOperators

var KiT_TonemapOperators = kit.Enums.AddEnum(TonemapOperatorsN, kit.NotBitFlag, nil)

// DenoiserKinds select the spatiotemporal denoiser.
type DenoiserKinds int32

const (
	DenoiserNone DenoiserKinds = iota
	DenoiserSVGF
	DenoiserBMFR
	DenoiserKindsN
)

//go:generate stringer -type=DenoiserKinds

var KiT_DenoiserKinds = kit.Enums.AddEnum(DenoiserKindsN, kit.NotBitFlag, nil)

// RTStageOptions are the options common to every ray tracing stage.
type RTStageOptions struct {

	// maximum ray recursion / bounce depth
	MaxRayDepth int `toml:"max_ray_depth"`

	// minimum distance before a ray can hit anything
	MinRayDist float32 `toml:"min_ray_dist"`

	// samples accumulated per pixel per frame
	SamplesPerPixel int `toml:"samples_per_pixel"`

	// seed for the in-shader samplers
	RNGSeed uint32 `toml:"rng_seed"`

	// capacity hints for the bindless tables
	MaxMeshes   int `toml:"max_meshes"`
	MaxSamplers int `toml:"max_samplers"`
}

func (ro *RTStageOptions) Defaults() {
	ro.MaxRayDepth = 8
	ro.MinRayDist = 0.0001
	ro.SamplesPerPixel = 1
	ro.MaxMeshes = 1024
	ro.MaxSamplers = 128
}

// RTCameraStageOptions extend the common ray tracing options for
// stages that trace from cameras.  Stage-specific option records embed
// this value and add their own fields beside it.
type RTCameraStageOptions struct {
	RTStageOptions

	// camera projection the ray generation is compiled for
	Projection scene.Projections `toml:"projection"`

	// number of viewports actually rendered; the remaining layers are
	// filled by spatial reprojection
	ActiveViewportCount int `toml:"active_viewport_count"`

	// leave the background alpha at zero
	TransparentBackground bool `toml:"transparent_background"`

	// accumulate samples across frames while the scene is static
	Accumulate bool `toml:"accumulate"`
}

func (co *RTCameraStageOptions) Defaults() {
	co.RTStageOptions.Defaults()
	co.ActiveViewportCount = 1
}

// TonemapOptions configure the tonemap stage.
type TonemapOptions struct {
	Operator TonemapOperators `toml:"operator"`
	Exposure float32          `toml:"exposure"`
	Gamma    float32          `toml:"gamma"`

	// composite an alpha checkerboard behind transparent backgrounds
	AlphaGridBackground bool `toml:"alpha_grid_background"`

	// tonemap after the resolve of all viewports instead of per sample
	PostResolve bool `toml:"post_resolve"`

	// viewport output reorder mask; empty = identity
	Reorder []uint32 `toml:"reorder"`
}

func (to *TonemapOptions) Defaults() {
	to.Operator = TonemapFilmic
	to.Exposure = 1
	to.Gamma = 2.2
}

// TAAOptions configure temporal antialiasing.
type TAAOptions struct {

	// history blend weight, pushed to the shader as given; it is not
	// derived from SequenceLength
	BlendingRatio float32 `toml:"blending_ratio"`

	// jitter sequence length; neither the TAA stage nor the renderers
	// read it, and a non-nil TAA record enables the stage even when it
	// is 0
	SequenceLength int `toml:"sequence_length"`
}

// PostProcessOptions gather the post-processing chain configuration;
// nil members are skipped.
type PostProcessOptions struct {
	Tonemap TonemapOptions `toml:"tonemap"`

	TAA *TAAOptions `toml:"taa"`

	SVGF *SVGFOptions `toml:"svgf"`

	BMFR *BMFROptions `toml:"bmfr"`

	SpatialReprojection *SpatialReprojectionOptions `toml:"spatial_reprojection"`
}

// LoadOptions reads a TOML options file into the given options record
// (any of the stage or renderer option structs).
func LoadOptions(path string, into any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return toml.Unmarshal(data, into)
}
