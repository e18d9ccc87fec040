// Copyright (c) 2024, The Photark Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scene

import (
	"goki.dev/ki/v2/kit"
	"goki.dev/mat32/v2"

	vk "github.com/goki/vulkan"
)

// EnvProjections are the supported environment map projections.
type EnvProjections int32

const (
	EnvEquirect EnvProjections = iota
	EnvCube
	EnvProjectionsN
)

//go:generate stringer -type=EnvProjections

var KiT_EnvProjections = kit.Enums.AddEnum(EnvProjectionsN, kit.NotBitFlag, nil)

// AliasEntry is one row of the alias table: sample the row's own pixel
// with probability Prob, otherwise the Alias pixel.  Layout matches the
// shader-side struct.
type AliasEntry struct {
	Prob  float32
	Alias uint32
	Pdf   float32
	Apdf  float32
}

// EnvironmentMap is a lat-long or cube environment texture with a
// precomputed alias table for O(1) importance sampling of its
// luminance distribution.
type EnvironmentMap struct {

	// projection of the texture
	Projection EnvProjections

	// RGB gain applied to samples
	Factor mat32.Vec3

	// image view of the uploaded texture, supplied by the asset layer
	View vk.ImageView

	// alias table buffer, built by BuildAliasTable and uploaded by the
	// asset layer
	AliasBuffer vk.Buffer

	// alias table entries, kept for (re)upload
	AliasTable []AliasEntry
}

// BuildAliasTable precomputes the alias table from per-pixel luminance
// weights using Vose's method.  The result allows sampling pixel i with
// probability weight[i]/sum in constant time.
func BuildAliasTable(weights []float32) []AliasEntry {
	n := len(weights)
	if n == 0 {
		return nil
	}
	var sum float64
	for _, w := range weights {
		sum += float64(w)
	}
	if sum <= 0 {
		sum = 1
	}

	table := make([]AliasEntry, n)
	scaled := make([]float64, n)
	var small, large []uint32
	for i, w := range weights {
		scaled[i] = float64(w) / sum * float64(n)
		table[i].Pdf = float32(float64(w) / sum)
		if scaled[i] < 1 {
			small = append(small, uint32(i))
		} else {
			large = append(large, uint32(i))
		}
	}
	for len(small) > 0 && len(large) > 0 {
		s := small[len(small)-1]
		small = small[:len(small)-1]
		l := large[len(large)-1]
		large = large[:len(large)-1]

		table[s].Prob = float32(scaled[s])
		table[s].Alias = l
		table[s].Apdf = table[l].Pdf
		scaled[l] = (scaled[l] + scaled[s]) - 1
		if scaled[l] < 1 {
			small = append(small, l)
		} else {
			large = append(large, l)
		}
	}
	for _, i := range large {
		table[i].Prob = 1
		table[i].Alias = i
		table[i].Apdf = table[i].Pdf
	}
	for _, i := range small {
		table[i].Prob = 1
		table[i].Alias = i
		table[i].Apdf = table[i].Pdf
	}
	return table
}
