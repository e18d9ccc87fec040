// Copyright (c) 2024, The Photark Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vkray

import (
	"sort"

	vk "github.com/goki/vulkan"
)

// HitGroupKind distinguishes triangle hit groups from procedural ones
// (which carry an intersection shader).
type HitGroupKind int32

const (
	TrianglesHitGroup HitGroupKind = iota
	ProceduralHitGroup
)

// HitGroup is one ray tracing hit group: closest hit plus optional
// any-hit and intersection stages.
type HitGroup struct {
	Kind  HitGroupKind
	RChit *ShaderSource
	RAhit *ShaderSource
	RInt  *ShaderSource
}

// ShaderSet unites the shader stages of one pipeline: the graphics
// pair, a compute stage, or the ray tracing complement of raygen, hit
// groups and miss programs.  Unused slots stay nil.
type ShaderSet struct {
	Vert  *ShaderSource
	Frag  *ShaderSource
	Comp  *ShaderSource
	RGen  *ShaderSource
	RHit  []HitGroup
	RMiss []*ShaderSource
}

// each calls fn for every loaded stage in a fixed order, so merge
// results are deterministic.
func (st *ShaderSet) each(fn func(src *ShaderSource)) {
	add := func(src *ShaderSource) {
		if src.IsValid() {
			fn(src)
		}
	}
	add(st.Vert)
	add(st.Frag)
	add(st.RGen)
	for _, hg := range st.RHit {
		add(hg.RChit)
		add(hg.RAhit)
		add(hg.RInt)
	}
	for _, src := range st.RMiss {
		add(src)
	}
	add(st.Comp)
}

// BindingNames merges the binding name maps of all stages.  A name that
// maps to two different slots across stages fails construction.
func (st *ShaderSet) BindingNames() (map[string]uint32, error) {
	names := map[string]uint32{}
	var err error
	st.each(func(src *ShaderSource) {
		if err != nil {
			return
		}
		for name, slot := range src.BindingNames {
			if prev, has := names[name]; has {
				if prev != slot {
					err = &BindingNameMismatch{Name: name, OtherName: name, Slot: slot}
				}
				continue
			}
			names[name] = slot
		}
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

// Bindings merges the descriptor bindings of all stages: bindings with
// identical slot index get their stage flags OR'd and descriptor count
// maxed.  A slot carrying two different names across stages fails with
// BindingNameMismatch.  countOverrides sizes unsized descriptor arrays
// (bindless texture tables) by binding name.
func (st *ShaderSet) Bindings(countOverrides map[string]uint32) ([]BindingDesc, error) {
	var bindings []BindingDesc
	slotNames := map[uint32]string{}
	var err error

	st.each(func(src *ShaderSource) {
		if err != nil {
			return
		}
		for name, slot := range src.BindingNames {
			if prev, has := slotNames[slot]; has {
				if prev != name {
					err = &BindingNameMismatch{Name: prev, OtherName: name, Slot: slot}
					return
				}
			} else {
				slotNames[slot] = name
			}
		}
		for _, b := range src.Bindings {
			found := false
			for oi := range bindings {
				o := &bindings[oi]
				if o.Binding == b.Binding {
					o.StageFlags |= b.StageFlags
					if b.Count > o.Count {
						o.Count = b.Count
					}
					found = true
					break
				}
			}
			if !found {
				bindings = append(bindings, b)
			}
		}
	})
	if err != nil {
		return nil, err
	}

	names, nerr := st.BindingNames()
	if nerr != nil {
		return nil, nerr
	}
	for name, count := range countOverrides {
		slot, has := names[name]
		if !has {
			continue
		}
		for i := range bindings {
			if bindings[i].Binding == slot {
				bindings[i].Count = count
				break
			}
		}
	}

	sort.Slice(bindings, func(i, j int) bool {
		return bindings[i].Binding < bindings[j].Binding
	})
	return bindings, nil
}

// PushConstantRanges unions the push constant ranges of all stages by
// slot position, OR-ing the stage flags.
func (st *ShaderSet) PushConstantRanges() []PushRange {
	var ranges []PushRange
	st.each(func(src *ShaderSource) {
		i := 0
		for ; i < len(src.PushRanges) && i < len(ranges); i++ {
			ranges[i].StageFlags |= src.PushRanges[i].StageFlags
			if src.PushRanges[i].Size > ranges[i].Size {
				ranges[i].Size = src.PushRanges[i].Size
			}
		}
		for ; i < len(src.PushRanges); i++ {
			ranges = append(ranges, src.PushRanges[i])
		}
	})
	return ranges
}

// Stages returns the list of loaded stages with their vulkan stage
// flags, in SBT-compatible order: raygen, then miss programs, then hit
// group stages.
func (st *ShaderSet) Stages() []*ShaderSource {
	var out []*ShaderSource
	add := func(src *ShaderSource) {
		if src.IsValid() {
			out = append(out, src)
		}
	}
	add(st.Vert)
	add(st.Frag)
	add(st.RGen)
	for _, src := range st.RMiss {
		add(src)
	}
	for _, hg := range st.RHit {
		add(hg.RChit)
		add(hg.RAhit)
		add(hg.RInt)
	}
	add(st.Comp)
	return out
}

// VkDescriptorBindings converts merged bindings to vulkan layout
// bindings.  Unsized bindings that received no override get count 1.
func VkDescriptorBindings(bindings []BindingDesc) []vk.DescriptorSetLayoutBinding {
	out := make([]vk.DescriptorSetLayoutBinding, len(bindings))
	for i, b := range bindings {
		count := b.Count
		if count == 0 {
			count = 1
		}
		out[i] = vk.DescriptorSetLayoutBinding{
			Binding:         b.Binding,
			DescriptorType:  b.DescriptorType,
			DescriptorCount: count,
			StageFlags:      b.StageFlags,
		}
	}
	return out
}
