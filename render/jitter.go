// Copyright (c) 2024, The Photark Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package render

import (
	"image"

	"github.com/chewxy/math32"
	"goki.dev/mat32/v2"
)

// Halton returns element i of the Halton sequence with given base.
func Halton(i int, base int) float32 {
	f := float32(1)
	r := float32(0)
	for i > 0 {
		f /= float32(base)
		r += f * float32(i%base)
		i /= base
	}
	return r
}

// CameraJitterSequence produces a length-n sequence of sub-pixel
// offsets in NDC units for the given output size, centered on zero,
// from the (2,3) Halton pair.  n == 0 returns nil, disabling jitter.
func CameraJitterSequence(n int, size image.Point) []mat32.Vec2 {
	if n <= 0 {
		return nil
	}
	seq := make([]mat32.Vec2, n)
	for i := 0; i < n; i++ {
		x := Halton(i+1, 2) - 0.5
		y := Halton(i+1, 3) - 0.5
		seq[i] = mat32.V2(
			2*x/float32(size.X),
			2*y/float32(size.Y),
		)
	}
	return seq
}

// BlackmanHarris evaluates the 4-term Blackman-Harris window at
// x in [0,1], used to weight film samples.
func BlackmanHarris(x float32) float32 {
	const a0, a1, a2, a3 = 0.35875, 0.48829, 0.14128, 0.01168
	t := 2 * math32.Pi * x
	return a0 - a1*math32.Cos(t) + a2*math32.Cos(2*t) - a3*math32.Cos(3*t)
}
