// Copyright (c) 2024, The Photark Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scene

import (
	"goki.dev/mat32/v2"

	vkray "github.com/photark/vkray"
)

// MaxSHOrder is the highest supported spherical harmonics order.
const MaxSHOrder = 4

// SHGrid is a 3D grid of probes whose voxels store spherical harmonic
// coefficients of incoming radiance.  The coefficient texture is a 3D
// texture with the coefficients packed along the Y axis.
type SHGrid struct {

	// world-space center of the grid
	Center mat32.Vec3

	// world-space half-extents
	Radius mat32.Vec3

	// probe counts along each axis
	Res [3]int

	// spherical harmonics order, 0..MaxSHOrder
	Order int

	// coefficient grid texture, allocated by the SH path tracer stage
	Tex *vkray.Texture
}

// CoefCount returns the number of SH coefficients for the grid order.
func (sg *SHGrid) CoefCount() int {
	return (sg.Order + 1) * (sg.Order + 1)
}

// SHGridData is the GPU-layout record describing one grid, bound as an
// element of the sh_grids storage buffer.
type SHGridData struct {
	PosFromWorld   mat32.Mat4
	NormalFromWorld mat32.Mat4
	GridClamp      mat32.Vec3
	pad0           float32
	GridResolution mat32.Vec3
	pad1           float32
}

// Data derives the GPU record for the grid.
func (sg *SHGrid) Data() SHGridData {
	var d SHGridData
	sx := float32(sg.Res[0])
	sy := float32(sg.Res[1])
	sz := float32(sg.Res[2])
	d.GridResolution = mat32.V3(sx, sy, sz)
	d.GridClamp = mat32.V3(0.5/sx, 0.5/sy, 0.5/sz)
	d.PosFromWorld.Set(
		0.5/sg.Radius.X, 0, 0, -sg.Center.X*0.5/sg.Radius.X+0.5,
		0, 0.5/sg.Radius.Y, 0, -sg.Center.Y*0.5/sg.Radius.Y+0.5,
		0, 0, 0.5/sg.Radius.Z, -sg.Center.Z*0.5/sg.Radius.Z+0.5,
		0, 0, 0, 1,
	)
	d.NormalFromWorld.SetIdentity()
	return d
}
