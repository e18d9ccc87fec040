// Copyright (c) 2024, The Photark Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scene

import (
	"goki.dev/mat32/v2"
)

// GPU-layout light records, bound as storage buffer arrays by the ray
// tracing stages.  Members are padded to std430 vec4 boundaries.

// DirLight is a directional light, shining along Dir with no falloff.
type DirLight struct {

	// color of light at full intensity
	Color mat32.Vec3
	pad0  float32

	// direction of light propagation
	Dir  mat32.Vec3
	pad1 float32

	// angular radius in radians for soft shadows; 0 = hard
	SolidAngle float32
	pad2       float32
	pad3       float32
	pad4       float32
}

// PointLight is an omnidirectional light with quadratic falloff; a
// non-zero Radius makes it a procedural sphere light visible to primary
// rays.
type PointLight struct {

	// color of light at full intensity
	Color mat32.Vec3
	pad0  float32

	// position of light in world coordinates
	Pos mat32.Vec3

	// visible sphere radius; 0 = punctual
	Radius float32

	// falloff cutoff distance; 0 = unbounded
	CutoffRadius float32
	pad1         float32
	pad2         float32
	pad3         float32
}

// SpotLight is a point light restricted to a cone.
type SpotLight struct {

	// color of light at full intensity
	Color mat32.Vec3
	pad0  float32

	// position of light in world coordinates
	Pos mat32.Vec3

	// visible sphere radius; 0 = punctual
	Radius float32

	// direction of the cone axis
	Dir mat32.Vec3

	// cosine of the outer cutoff angle
	CutoffAngleCos float32

	// X = falloff exponent, Y = inner angle cosine
	Falloff mat32.Vec2
	pad1    float32
	pad2    float32
}

// TriLight is one emissive triangle, gathered from emissive meshes for
// direct light sampling.
type TriLight struct {

	// emitted radiance
	Emission mat32.Vec3
	pad0     float32

	// world space corners
	Corner0 mat32.Vec3
	pad1    float32
	Corner1 mat32.Vec3
	pad2    float32
	Corner2 mat32.Vec3

	// index into the material texture table for emission, -1 = none
	EmissionTexIndex int32
}
