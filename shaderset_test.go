// Copyright (c) 2024, The Photark Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vkray

import (
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSource(stage vk.ShaderStageFlagBits, names map[string]uint32, bindings ...BindingDesc) *ShaderSource {
	for i := range bindings {
		bindings[i].StageFlags = vk.ShaderStageFlags(stage)
	}
	return &ShaderSource{
		Path:         "test",
		Stage:        vk.ShaderStageFlags(stage),
		Data:         []uint32{spirvMagic},
		Bindings:     bindings,
		BindingNames: names,
	}
}

func TestBindingMergeNameMismatch(t *testing.T) {
	// two stages declaring binding 0 under different names must fail
	a := testSource(vk.ShaderStageComputeBit,
		map[string]uint32{"x": 0},
		BindingDesc{Binding: 0, DescriptorType: vk.DescriptorTypeStorageBuffer, Count: 1})
	b := testSource(vk.ShaderStageRaygenBitNV,
		map[string]uint32{"y": 0},
		BindingDesc{Binding: 0, DescriptorType: vk.DescriptorTypeStorageBuffer, Count: 1})

	set := &ShaderSet{Comp: a, RGen: b}
	_, err := set.Bindings(nil)
	require.Error(t, err)
	var mismatch *BindingNameMismatch
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, uint32(0), mismatch.Slot)
	names := []string{mismatch.Name, mismatch.OtherName}
	assert.Contains(t, names, "x")
	assert.Contains(t, names, "y")
}

func TestBindingMergeCommutative(t *testing.T) {
	mkSet := func(flip bool) *ShaderSet {
		a := testSource(vk.ShaderStageRaygenBitNV,
			map[string]uint32{"shared": 0, "only_a": 1},
			BindingDesc{Binding: 0, DescriptorType: vk.DescriptorTypeStorageBuffer, Count: 2},
			BindingDesc{Binding: 1, DescriptorType: vk.DescriptorTypeStorageImage, Count: 1})
		b := testSource(vk.ShaderStageClosestHitBitNV,
			map[string]uint32{"shared": 0, "only_b": 2},
			BindingDesc{Binding: 0, DescriptorType: vk.DescriptorTypeStorageBuffer, Count: 5},
			BindingDesc{Binding: 2, DescriptorType: vk.DescriptorTypeUniformBuffer, Count: 1})
		if flip {
			return &ShaderSet{
				RGen: b,
				RHit: []HitGroup{{Kind: TrianglesHitGroup, RChit: a}},
			}
		}
		return &ShaderSet{
			RGen: a,
			RHit: []HitGroup{{Kind: TrianglesHitGroup, RChit: b}},
		}
	}

	ab, err := mkSet(false).Bindings(nil)
	require.NoError(t, err)
	ba, err := mkSet(true).Bindings(nil)
	require.NoError(t, err)

	// identical as descriptor set layouts: stage flags OR'd, counts maxed
	assert.Equal(t, ab, ba)
	require.Len(t, ab, 3)
	assert.Equal(t, uint32(5), ab[0].Count)
	assert.Equal(t,
		vk.ShaderStageFlags(vk.ShaderStageRaygenBitNV)|vk.ShaderStageFlags(vk.ShaderStageClosestHitBitNV),
		ab[0].StageFlags)
}

func TestBindingCountOverrides(t *testing.T) {
	a := testSource(vk.ShaderStageComputeBit,
		map[string]uint32{"textures": 0},
		BindingDesc{Binding: 0, DescriptorType: vk.DescriptorTypeCombinedImageSampler, Count: 0})
	set := &ShaderSet{Comp: a}

	bindings, err := set.Bindings(map[string]uint32{"textures": 128, "unknown": 4})
	require.NoError(t, err)
	require.Len(t, bindings, 1)
	assert.Equal(t, uint32(128), bindings[0].Count)
}

func TestBindingNamesConflict(t *testing.T) {
	// same name on two different slots across stages is an error
	a := testSource(vk.ShaderStageComputeBit, map[string]uint32{"buf": 0})
	b := testSource(vk.ShaderStageRaygenBitNV, map[string]uint32{"buf": 1})
	set := &ShaderSet{Comp: a, RGen: b}
	_, err := set.BindingNames()
	assert.Error(t, err)
}

func TestPushConstantRangeUnion(t *testing.T) {
	a := testSource(vk.ShaderStageRaygenBitNV, nil)
	a.PushRanges = []PushRange{{StageFlags: a.Stage, Offset: 0, Size: 64}}
	b := testSource(vk.ShaderStageMissBitNV, nil)
	b.PushRanges = []PushRange{{StageFlags: b.Stage, Offset: 0, Size: 48}}

	set := &ShaderSet{RGen: a, RMiss: []*ShaderSource{b}}
	ranges := set.PushConstantRanges()
	require.Len(t, ranges, 1)
	assert.Equal(t, a.Stage|b.Stage, ranges[0].StageFlags)
	assert.Equal(t, uint32(64), ranges[0].Size)
}

func TestVkDescriptorBindingsUnsizedFallback(t *testing.T) {
	out := VkDescriptorBindings([]BindingDesc{
		{Binding: 0, DescriptorType: vk.DescriptorTypeStorageBuffer, Count: 0},
		{Binding: 1, DescriptorType: vk.DescriptorTypeStorageImage, Count: 3},
	})
	assert.Equal(t, uint32(1), out[0].DescriptorCount)
	assert.Equal(t, uint32(3), out[1].DescriptorCount)
}
