// Copyright (c) 2024, The Photark Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scene

import (
	"goki.dev/ki/v2/kit"
	"goki.dev/mat32/v2"
)

// Projections are the supported camera projection types.
type Projections int32

const (
	Perspective Projections = iota
	Orthographic
	Equirectangular
	ProjectionsN
)

//go:generate stringer -type=Projections

var KiT_Projections = kit.Enums.AddEnum(ProjectionsN, kit.NotBitFlag, nil)

// Camera is one viewpoint into the scene: position, orientation,
// projection, and the sub-pixel jitter sequence used for temporal
// antialiasing and denoising.
type Camera struct {

	// world position
	Pos mat32.Vec3

	// orientation
	Quat mat32.Quat

	// projection type
	Projection Projections

	// vertical field of view in degrees (perspective)
	FOV float32

	// aspect ratio (width / height)
	Aspect float32

	// near and far clip distances
	Near, Far float32

	// half-extents for orthographic projection
	OrthoSize mat32.Vec2

	// projection matrix, updated by the projection setters
	Proj mat32.Mat4

	// sub-pixel jitter sequence in NDC units; empty = no jitter
	JitterSeq []mat32.Vec2

	// index of the current jitter entry
	jitterIndex int

	// last frame's view-projection and jitter, for motion vectors and
	// temporal reprojection
	prevViewProj mat32.Mat4
	prevJitter   mat32.Vec2
}

// NewCamera returns a camera with a default perspective projection.
func NewCamera() *Camera {
	cm := &Camera{}
	cm.Quat.SetIdentity()
	cm.SetPerspective(90, 1, 0.1, 300)
	return cm
}

// SetPerspective sets a perspective projection.
func (cm *Camera) SetPerspective(fov, aspect, near, far float32) {
	cm.Projection = Perspective
	cm.FOV = fov
	cm.Aspect = aspect
	cm.Near = near
	cm.Far = far
	cm.Proj.SetPerspective(fov, aspect, near, far)
}

// SetOrthographic sets an orthographic projection with given
// half-extents.
func (cm *Camera) SetOrthographic(halfW, halfH, near, far float32) {
	cm.Projection = Orthographic
	cm.OrthoSize = mat32.V2(halfW, halfH)
	cm.Near = near
	cm.Far = far
	rml := 2 * halfW
	tmb := 2 * halfH
	fmn := far - near
	cm.Proj.Set(
		2/rml, 0, 0, 0,
		0, -2/tmb, 0, 0,
		0, 0, -1/fmn, -near/fmn,
		0, 0, 0, 1,
	)
}

// SetEquirectangular sets a full-sphere projection; the matrix is
// unused by the ray generation for this projection but kept identity
// for reprojection consumers.
func (cm *Camera) SetEquirectangular() {
	cm.Projection = Equirectangular
	cm.Proj.SetIdentity()
}

// SetAspect updates the aspect ratio.  Only a perspective projection is
// re-derived; for the other projections the matrix is left unchanged.
func (cm *Camera) SetAspect(aspect float32) {
	if cm.Projection == Perspective {
		cm.SetPerspective(cm.FOV, aspect, cm.Near, cm.Far)
	} else {
		cm.Aspect = aspect
	}
}

// View returns the world-to-camera matrix.
func (cm *Camera) View() mat32.Mat4 {
	// rotation transpose from the orientation quaternion, then the
	// negated rotated translation
	q := cm.Quat
	x2, y2, z2 := q.X+q.X, q.Y+q.Y, q.Z+q.Z
	xx, xy, xz := q.X*x2, q.X*y2, q.X*z2
	yy, yz, zz := q.Y*y2, q.Y*z2, q.Z*z2
	wx, wy, wz := q.W*x2, q.W*y2, q.W*z2

	r00, r01, r02 := 1-(yy+zz), xy-wz, xz+wy
	r10, r11, r12 := xy+wz, 1-(xx+zz), yz-wx
	r20, r21, r22 := xz-wy, yz+wx, 1-(xx+yy)

	p := cm.Pos
	var vm mat32.Mat4
	vm.Set(
		r00, r10, r20, -(r00*p.X + r10*p.Y + r20*p.Z),
		r01, r11, r21, -(r01*p.X + r11*p.Y + r21*p.Z),
		r02, r12, r22, -(r02*p.X + r12*p.Y + r22*p.Z),
		0, 0, 0, 1,
	)
	return vm
}

// ViewProjection returns projection * view.
func (cm *Camera) ViewProjection() mat32.Mat4 {
	vm := cm.View()
	var out mat32.Mat4
	out.MulMatrices(&cm.Proj, &vm)
	return out
}

// SetJitterSequence installs the jitter sequence; an empty sequence
// disables jitter.
func (cm *Camera) SetJitterSequence(seq []mat32.Vec2) {
	cm.JitterSeq = seq
	cm.jitterIndex = 0
}

// StepJitter advances to the next jitter entry; called once per frame.
func (cm *Camera) StepJitter() {
	if len(cm.JitterSeq) == 0 {
		return
	}
	cm.jitterIndex = (cm.jitterIndex + 1) % len(cm.JitterSeq)
}

// Jitter returns the current sub-pixel offset.
func (cm *Camera) Jitter() mat32.Vec2 {
	if len(cm.JitterSeq) == 0 {
		return mat32.Vec2{}
	}
	return cm.JitterSeq[cm.jitterIndex]
}
