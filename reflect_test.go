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

// spvInstr assembles one instruction word stream.
func spvInstr(op uint32, args ...uint32) []uint32 {
	words := []uint32{uint32(len(args)+1)<<16 | op}
	return append(words, args...)
}

// spvString encodes a null-terminated literal string operand.
func spvString(s string) []uint32 {
	b := append([]byte(s), 0)
	for len(b)%4 != 0 {
		b = append(b, 0)
	}
	words := make([]uint32, len(b)/4)
	for i := range words {
		words[i] = uint32(b[i*4]) | uint32(b[i*4+1])<<8 |
			uint32(b[i*4+2])<<16 | uint32(b[i*4+3])<<24
	}
	return words
}

func spvModule(instrs ...[]uint32) []uint32 {
	words := []uint32{spirvMagic, 0x00010500, 0, 100, 0}
	for _, in := range instrs {
		words = append(words, in...)
	}
	return words
}

func TestReflectStorageImageBinding(t *testing.T) {
	const (
		fID   = 2
		imgID = 3
		ptrID = 4
		varID = 5
	)
	words := spvModule(
		spvInstr(opName, append([]uint32{varID}, spvString("out_color")...)...),
		spvInstr(opDecorate, varID, decDescriptorSet, 0),
		spvInstr(opDecorate, varID, decBinding, 7),
		spvInstr(opTypeFloat, fID, 32),
		// dim 2D, depth 0, arrayed 0, ms 0, sampled 2 (storage), format 0
		spvInstr(opTypeImage, imgID, fID, 1, 0, 0, 0, 2, 0),
		spvInstr(opTypePointer, ptrID, scUniformConstant, imgID),
		spvInstr(opVariable, ptrID, varID, scUniformConstant),
	)

	info, err := ReflectModule(words, vk.ShaderStageFlags(vk.ShaderStageComputeBit))
	require.NoError(t, err)
	require.Len(t, info.Bindings, 1)
	b := info.Bindings[0]
	assert.Equal(t, uint32(7), b.Binding)
	assert.Equal(t, vk.DescriptorTypeStorageImage, b.DescriptorType)
	assert.Equal(t, uint32(1), b.Count)
	assert.Equal(t, vk.ShaderStageFlags(vk.ShaderStageComputeBit), b.StageFlags)
	assert.Equal(t, uint32(7), info.BindingNames["out_color"])
}

func TestReflectBufferBlockWithArray(t *testing.T) {
	const (
		fID     = 2
		structID = 3
		ptrID   = 4
		varID   = 5
		intID   = 6
		constID = 7
		arrID   = 8
		arrPtr  = 9
		arrVar  = 10
		imgID   = 11
		sampID  = 12
	)
	words := spvModule(
		spvInstr(opName, append([]uint32{varID}, spvString("lights")...)...),
		spvInstr(opName, append([]uint32{arrVar}, spvString("textures")...)...),
		spvInstr(opDecorate, structID, decBlock),
		spvInstr(opDecorate, varID, decDescriptorSet, 0),
		spvInstr(opDecorate, varID, decBinding, 1),
		spvInstr(opDecorate, arrVar, decDescriptorSet, 0),
		spvInstr(opDecorate, arrVar, decBinding, 2),
		spvInstr(opTypeFloat, fID, 32),
		spvInstr(opTypeStruct, structID, fID, fID),
		spvInstr(opTypePointer, ptrID, scStorageBuffer, structID),
		spvInstr(opVariable, ptrID, varID, scStorageBuffer),
		spvInstr(opTypeInt, intID, 32, 0),
		spvInstr(opConstant, intID, constID, 8),
		// array of 8 combined image samplers
		spvInstr(opTypeImage, imgID, fID, 1, 0, 0, 0, 1, 0),
		spvInstr(opTypeSampledImage, sampID, imgID),
		spvInstr(opTypeArray, arrID, sampID, constID),
		spvInstr(opTypePointer, arrPtr, scUniformConstant, arrID),
		spvInstr(opVariable, arrPtr, arrVar, scUniformConstant),
	)

	info, err := ReflectModule(words, vk.ShaderStageFlags(vk.ShaderStageRaygenBitNV))
	require.NoError(t, err)
	require.Len(t, info.Bindings, 2)

	assert.Equal(t, uint32(1), info.Bindings[0].Binding)
	assert.Equal(t, vk.DescriptorTypeStorageBuffer, info.Bindings[0].DescriptorType)
	assert.Equal(t, uint32(1), info.Bindings[0].Count)

	assert.Equal(t, uint32(2), info.Bindings[1].Binding)
	assert.Equal(t, vk.DescriptorTypeCombinedImageSampler, info.Bindings[1].DescriptorType)
	assert.Equal(t, uint32(8), info.Bindings[1].Count)

	assert.Equal(t, uint32(1), info.BindingNames["lights"])
	assert.Equal(t, uint32(2), info.BindingNames["textures"])
}

func TestReflectRuntimeArrayCountZero(t *testing.T) {
	const (
		fID    = 2
		imgID  = 3
		sampID = 4
		rtaID  = 5
		ptrID  = 6
		varID  = 7
	)
	words := spvModule(
		spvInstr(opName, append([]uint32{varID}, spvString("textures")...)...),
		spvInstr(opDecorate, varID, decDescriptorSet, 0),
		spvInstr(opDecorate, varID, decBinding, 3),
		spvInstr(opTypeFloat, fID, 32),
		spvInstr(opTypeImage, imgID, fID, 1, 0, 0, 0, 1, 0),
		spvInstr(opTypeSampledImage, sampID, imgID),
		spvInstr(opTypeRuntimeArray, rtaID, sampID),
		spvInstr(opTypePointer, ptrID, scUniformConstant, rtaID),
		spvInstr(opVariable, ptrID, varID, scUniformConstant),
	)

	info, err := ReflectModule(words, vk.ShaderStageFlags(vk.ShaderStageClosestHitBitNV))
	require.NoError(t, err)
	require.Len(t, info.Bindings, 1)
	// unsized arrays reflect count 0; count overrides size them later
	assert.Equal(t, uint32(0), info.Bindings[0].Count)
}

func TestReflectPushConstantBlock(t *testing.T) {
	const (
		fID      = 2
		vecID    = 3
		structID = 4
		ptrID    = 5
		varID    = 6
	)
	words := spvModule(
		spvInstr(opMemberDecorate, structID, 0, decOffset, 0),
		spvInstr(opMemberDecorate, structID, 1, decOffset, 16),
		spvInstr(opTypeFloat, fID, 32),
		spvInstr(opTypeVector, vecID, fID, 4),
		spvInstr(opTypeStruct, structID, fID, vecID),
		spvInstr(opTypePointer, ptrID, scPushConstant, structID),
		spvInstr(opVariable, ptrID, varID, scPushConstant),
	)

	info, err := ReflectModule(words, vk.ShaderStageFlags(vk.ShaderStageRaygenBitNV))
	require.NoError(t, err)
	require.Len(t, info.PushRanges, 1)
	pr := info.PushRanges[0]
	assert.Equal(t, uint32(0), pr.Offset)
	// member 1 at offset 16 is a vec4: extent 32
	assert.Equal(t, uint32(32), pr.Size)
	assert.Equal(t, vk.ShaderStageFlags(vk.ShaderStageRaygenBitNV), pr.StageFlags)
	assert.Empty(t, info.Bindings)
}

func TestReflectAccelerationStructure(t *testing.T) {
	const (
		asID  = 2
		ptrID = 3
		varID = 4
	)
	words := spvModule(
		spvInstr(opName, append([]uint32{varID}, spvString("tlas")...)...),
		spvInstr(opDecorate, varID, decDescriptorSet, 0),
		spvInstr(opDecorate, varID, decBinding, 0),
		spvInstr(opTypeAccelStructNV, asID),
		spvInstr(opTypePointer, ptrID, scUniformConstant, asID),
		spvInstr(opVariable, ptrID, varID, scUniformConstant),
	)

	info, err := ReflectModule(words, vk.ShaderStageFlags(vk.ShaderStageRaygenBitNV))
	require.NoError(t, err)
	require.Len(t, info.Bindings, 1)
	assert.Equal(t, vk.DescriptorTypeAccelerationStructureNV, info.Bindings[0].DescriptorType)
	assert.Equal(t, uint32(0), info.BindingNames["tlas"])
}

func TestReflectRejectsGarbage(t *testing.T) {
	_, err := ReflectModule([]uint32{1, 2, 3, 4, 5}, 0)
	assert.Error(t, err)
	_, err = ReflectModule(nil, 0)
	assert.Error(t, err)
}

func TestReflectDeterministic(t *testing.T) {
	const (
		fID   = 2
		imgID = 3
		ptrID = 4
		varID = 5
	)
	words := spvModule(
		spvInstr(opName, append([]uint32{varID}, spvString("t")...)...),
		spvInstr(opDecorate, varID, decBinding, 0),
		spvInstr(opDecorate, varID, decDescriptorSet, 0),
		spvInstr(opTypeFloat, fID, 32),
		spvInstr(opTypeImage, imgID, fID, 1, 0, 0, 0, 2, 0),
		spvInstr(opTypePointer, ptrID, scUniformConstant, imgID),
		spvInstr(opVariable, ptrID, varID, scUniformConstant),
	)
	first, err := ReflectModule(words, vk.ShaderStageFlags(vk.ShaderStageComputeBit))
	require.NoError(t, err)
	for i := 0; i < 8; i++ {
		again, err := ReflectModule(words, vk.ShaderStageFlags(vk.ShaderStageComputeBit))
		require.NoError(t, err)
		assert.Equal(t, first.Bindings, again.Bindings)
		assert.Equal(t, first.BindingNames, again.BindingNames)
	}
}
