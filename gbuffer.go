// Copyright (c) 2024, The Photark Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vkray

import (
	"image"

	vk "github.com/goki/vulkan"
)

// GBuffer is a named bundle of per-pixel attribute render targets
// written by a ray tracing pass and consumed by shading and denoising.
// Any subset of channels may be present; nil channels are simply not
// rendered.  All present channels share extent and layer count.
type GBuffer struct {
	Color        *RenderTarget
	Diffuse      *RenderTarget
	Specular     *RenderTarget
	Albedo       *RenderTarget
	Material     *RenderTarget
	Normal       *RenderTarget
	ViewNormal   *RenderTarget
	Pos          *RenderTarget
	ViewPos      *RenderTarget
	ScreenMotion *RenderTarget
	WorldMotion  *RenderTarget
	ViewMotion   *RenderTarget
	LinearDepth  *RenderTarget
	Depth        *RenderTarget
	InstanceID   *RenderTarget
	Emission     *RenderTarget
}

// gbufferEntry pairs the channel define name with its target accessor.
type gbufferEntry struct {
	Name string
	Get  func(g *GBuffer) *RenderTarget
}

// gbufferEntries lists every channel in binding order; the Name is
// used to generate the USE_<NAME>_TARGET compile-time defines.
var gbufferEntries = []gbufferEntry{
	{"COLOR", func(g *GBuffer) *RenderTarget { return g.Color }},
	{"DIFFUSE", func(g *GBuffer) *RenderTarget { return g.Diffuse }},
	{"SPECULAR", func(g *GBuffer) *RenderTarget { return g.Specular }},
	{"ALBEDO", func(g *GBuffer) *RenderTarget { return g.Albedo }},
	{"MATERIAL", func(g *GBuffer) *RenderTarget { return g.Material }},
	{"NORMAL", func(g *GBuffer) *RenderTarget { return g.Normal }},
	{"VIEW_NORMAL", func(g *GBuffer) *RenderTarget { return g.ViewNormal }},
	{"POS", func(g *GBuffer) *RenderTarget { return g.Pos }},
	{"VIEW_POS", func(g *GBuffer) *RenderTarget { return g.ViewPos }},
	{"SCREEN_MOTION", func(g *GBuffer) *RenderTarget { return g.ScreenMotion }},
	{"WORLD_MOTION", func(g *GBuffer) *RenderTarget { return g.WorldMotion }},
	{"VIEW_MOTION", func(g *GBuffer) *RenderTarget { return g.ViewMotion }},
	{"LINEAR_DEPTH", func(g *GBuffer) *RenderTarget { return g.LinearDepth }},
	{"DEPTH", func(g *GBuffer) *RenderTarget { return g.Depth }},
	{"INSTANCE_ID", func(g *GBuffer) *RenderTarget { return g.InstanceID }},
	{"EMISSION", func(g *GBuffer) *RenderTarget { return g.Emission }},
}

// Each calls fn for every present channel, in binding order.
func (g *GBuffer) Each(fn func(name string, rt *RenderTarget)) {
	for _, e := range gbufferEntries {
		if rt := e.Get(g); rt != nil {
			fn(e.Name, rt)
		}
	}
}

// Defines adds a USE_<NAME>_TARGET define for every present channel.
// Two different channel subsets therefore produce distinct spliced
// shader sources, so the binary cache compiles each variant once.
func (g *GBuffer) Defines(defines map[string]string) {
	g.Each(func(name string, rt *RenderTarget) {
		defines["USE_"+name+"_TARGET"] = "1"
	})
}

// Size returns the extent of the bundle (from the first present
// channel; all channels agree).
func (g *GBuffer) Size() image.Point {
	var sz image.Point
	g.Each(func(name string, rt *RenderTarget) {
		if sz == (image.Point{}) {
			sz = rt.Size()
		}
	})
	return sz
}

// LayerCount returns the number of array layers (viewports).
func (g *GBuffer) LayerCount() int {
	n := 1
	g.Each(func(name string, rt *RenderTarget) {
		if rt.LayerCount() > n {
			n = rt.LayerCount()
		}
	})
	return n
}

// SetLayout overrides the tracked layout of every present channel.
func (g *GBuffer) SetLayout(layout vk.ImageLayout) {
	g.Each(func(name string, rt *RenderTarget) {
		rt.SetLayout(layout)
	})
}

// Transition records a layout transition for every present channel.
func (g *GBuffer) Transition(cmd vk.CommandBuffer, frameIndex int, layout vk.ImageLayout) {
	g.Each(func(name string, rt *RenderTarget) {
		rt.Transition(cmd, frameIndex, layout)
	})
}
