// Copyright (c) 2024, The Photark Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package render

import (
	vk "github.com/goki/vulkan"
	"goki.dev/mat32/v2"

	vkray "github.com/photark/vkray"
)

// WhittedOptions configure the Whitted ray tracing stage.
type WhittedOptions struct {
	RTCameraStageOptions
}

// whittedPC is the per-frame push constant record.
type whittedPC struct {
	DirectionalLightCount uint32
	PointLightCount       uint32
	MaxDepth              uint32
	// -1 for no environment map
	EnvironmentProj   int32
	EnvironmentFactor mat32.Vec4
	Ambient           mat32.Vec4
	MinRayDist        float32
}

// whittedSources loads the stage's shader set: one primary hit group,
// one transmission shadow hit group, and the two matching miss
// programs.
func whittedSources(opt *WhittedOptions) (*vkray.ShaderSet, error) {
	defines := map[string]string{}
	commonDefines(defines, &opt.RTCameraStageOptions)

	rgen, err := vkray.NewShaderSource("shader/whitted.rgen", defines)
	if err != nil {
		return nil, err
	}
	chit, err := vkray.NewShaderSource("shader/whitted.rchit", nil)
	if err != nil {
		return nil, err
	}
	ahit, err := vkray.NewShaderSource("shader/whitted.rahit", nil)
	if err != nil {
		return nil, err
	}
	shadowChit, err := vkray.NewShaderSource("shader/transmission_shadow.rchit", nil)
	if err != nil {
		return nil, err
	}
	shadowAhit, err := vkray.NewShaderSource("shader/transmission_shadow.rahit", nil)
	if err != nil {
		return nil, err
	}
	miss, err := vkray.NewShaderSource("shader/whitted.rmiss", nil)
	if err != nil {
		return nil, err
	}
	shadowMiss, err := vkray.NewShaderSource("shader/transmission_shadow.rmiss", nil)
	if err != nil {
		return nil, err
	}
	return &vkray.ShaderSet{
		RGen: rgen,
		RHit: []vkray.HitGroup{
			{Kind: vkray.TrianglesHitGroup, RChit: chit, RAhit: ahit},
			{Kind: vkray.TrianglesHitGroup, RChit: shadowChit, RAhit: shadowAhit},
		},
		RMiss: []*vkray.ShaderSource{miss, shadowMiss},
	}, nil
}

// WhittedStage renders classic Whitted-style ray traced shading with
// in-shader recursion rather than accumulation passes.
type WhittedStage struct {
	RTStage

	Opts WhittedOptions
}

// NewWhittedStage builds the stage for given output target.
func NewWhittedStage(ctx *vkray.Context, dv *vkray.Device, gbuf *vkray.GBuffer, opt *WhittedOptions) (*WhittedStage, error) {
	sources, err := whittedSources(opt)
	if err != nil {
		return nil, err
	}
	ws := &WhittedStage{Opts: *opt}
	ws.PushConstFn = ws.recordPushConstants
	// recursion happens in-shader, so the recursion depth must cover
	// the full ray depth
	ws.Opts.MaxRayDepth = maxInt(opt.MaxRayDepth, 1)
	err = ws.InitRT(ctx, dv, "whitted", sources, &ws.Opts.RTCameraStageOptions, gbuf, 1)
	if err != nil {
		return nil, err
	}
	return ws, nil
}

func (ws *WhittedStage) recordPushConstants(cmd vk.CommandBuffer, frameIndex, passIndex int) {
	s := ws.Scene
	var control whittedPC
	control.DirectionalLightCount = uint32(len(s.DirectionalLights))
	control.PointLightCount = uint32(len(s.PointLights) + len(s.SpotLights))
	control.MaxDepth = uint32(ws.Opts.MaxRayDepth)

	if env := s.EnvMap; env != nil {
		f := env.Factor
		control.EnvironmentFactor = mat32.V4(f.X, f.Y, f.Z, 1)
		control.EnvironmentProj = int32(env.Projection)
	} else {
		control.EnvironmentProj = -1
	}
	control.Ambient = mat32.V4(s.Ambient.X, s.Ambient.Y, s.Ambient.Z, 1)
	control.MinRayDist = ws.Opts.MinRayDist

	ws.Pipeline.PushConstants(cmd, &control)
}
