// Copyright (c) 2024, The Photark Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package render

import (
	vk "github.com/goki/vulkan"
	"goki.dev/ki/v2/kit"
	"goki.dev/mat32/v2"

	vkray "github.com/photark/vkray"
)

// Features are the G-buffer attributes the feature stage can extract.
type Features int32

const (
	FeatureAlbedo Features = iota
	FeatureWorldNormal
	FeatureViewNormal
	FeatureWorldPos
	FeatureViewPos
	FeatureDistance
	FeatureWorldMotion
	FeatureViewMotion
	FeatureScreenMotion
	FeatureInstanceID
	FeaturesN
)

//go:generate stringer -type=Features

var KiT_Features = kit.Enums.AddEnum(FeaturesN, kit.NotBitFlag, nil)

var featureDefines = map[Features]string{
	FeatureAlbedo:       "USE_ALBEDO_FEATURE",
	FeatureWorldNormal:  "USE_WORLD_NORMAL_FEATURE",
	FeatureViewNormal:   "USE_VIEW_NORMAL_FEATURE",
	FeatureWorldPos:     "USE_WORLD_POS_FEATURE",
	FeatureViewPos:      "USE_VIEW_POS_FEATURE",
	FeatureDistance:     "USE_DISTANCE_FEATURE",
	FeatureWorldMotion:  "USE_WORLD_MOTION_FEATURE",
	FeatureViewMotion:   "USE_VIEW_MOTION_FEATURE",
	FeatureScreenMotion: "USE_SCREEN_MOTION_FEATURE",
	FeatureInstanceID:   "USE_INSTANCE_ID_FEATURE",
}

// FeatureOptions configure the feature extraction stage.
type FeatureOptions struct {
	RTCameraStageOptions

	// the feature to write
	Feature Features `toml:"feature"`

	// rays that miss all geometry write this value
	DefaultValue mat32.Vec4 `toml:"default_value"`
}

// featurePC is the per-frame push constant record.
type featurePC struct {
	DefaultValue mat32.Vec4
}

// FeatureStage renders one geometric attribute per pixel, for
// denoiser training data and offline feature dumps.
type FeatureStage struct {
	RTStage

	Opts FeatureOptions
}

// NewFeatureStage builds the stage for given output target.
func NewFeatureStage(ctx *vkray.Context, dv *vkray.Device, gbuf *vkray.GBuffer, opt *FeatureOptions) (*FeatureStage, error) {
	defines := map[string]string{featureDefines[opt.Feature]: "1"}
	commonDefines(defines, &opt.RTCameraStageOptions)

	rgen, err := vkray.NewShaderSource("shader/feature.rgen", defines)
	if err != nil {
		return nil, err
	}
	chit, err := vkray.NewShaderSource("shader/feature.rchit", defines)
	if err != nil {
		return nil, err
	}
	ahit, err := vkray.NewShaderSource("shader/feature.rahit", nil)
	if err != nil {
		return nil, err
	}
	miss, err := vkray.NewShaderSource("shader/feature.rmiss", defines)
	if err != nil {
		return nil, err
	}
	sources := &vkray.ShaderSet{
		RGen: rgen,
		RHit: []vkray.HitGroup{
			{Kind: vkray.TrianglesHitGroup, RChit: chit, RAhit: ahit},
		},
		RMiss: []*vkray.ShaderSource{miss},
	}

	fs := &FeatureStage{Opts: *opt}
	fs.PushConstFn = fs.recordPushConstants
	err = fs.InitRT(ctx, dv, "feature", sources, &fs.Opts.RTCameraStageOptions, gbuf, 1)
	if err != nil {
		return nil, err
	}
	return fs, nil
}

func (fs *FeatureStage) recordPushConstants(cmd vk.CommandBuffer, frameIndex, passIndex int) {
	control := featurePC{DefaultValue: fs.Opts.DefaultValue}
	fs.Pipeline.PushConstants(cmd, &control)
}
