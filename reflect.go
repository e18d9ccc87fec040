// Copyright (c) 2024, The Photark Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vkray

import (
	"errors"
	"fmt"
	"sort"

	vk "github.com/goki/vulkan"
)

// Reflection over the compiled SPIR-V binary is authoritative for
// descriptor bindings and push constant blocks -- the compiler's own
// reflection metadata is known to miss blocks containing unsized
// arrays, so the module words are walked directly.

const spirvMagic = 0x07230203

// SPIR-V opcodes and enums used by the walker.
const (
	opName              = 5
	opEntryPoint        = 15
	opTypeBool          = 20
	opTypeInt           = 21
	opTypeFloat         = 22
	opTypeVector        = 23
	opTypeMatrix        = 24
	opTypeImage         = 25
	opTypeSampler       = 26
	opTypeSampledImage  = 27
	opTypeArray         = 28
	opTypeRuntimeArray  = 29
	opTypeStruct        = 30
	opTypePointer       = 32
	opConstant          = 43
	opVariable          = 59
	opDecorate          = 71
	opMemberDecorate    = 72
	opTypeAccelStructNV = 5341

	decBlock         = 2
	decBufferBlock   = 3
	decOffset        = 35
	decBinding       = 33
	decDescriptorSet = 34

	scUniformConstant = 0
	scUniform         = 2
	scPushConstant    = 9
	scStorageBuffer   = 12
)

// ReflectInfo is the result of reflecting one shader module.
type ReflectInfo struct {
	Bindings     []BindingDesc
	BindingNames map[string]uint32
	PushRanges   []PushRange
}

type spvType struct {
	op       uint32
	width    uint32 // int/float bit width
	count    uint32 // vector/matrix component count, array length id
	elem     uint32 // element / column / image sampled type id
	members  []uint32
	sampled  uint32 // OpTypeImage sampled operand
	dim      uint32 // OpTypeImage dim
	storage  uint32 // OpTypePointer storage class
	constVal uint32 // OpConstant first value word
}

// ReflectModule extracts descriptor bindings, binding names and push
// constant ranges from the SPIR-V words of one shader stage.
func ReflectModule(words []uint32, stage vk.ShaderStageFlags) (*ReflectInfo, error) {
	if len(words) < 5 || words[0] != spirvMagic {
		return nil, errors.New("not a SPIR-V module")
	}

	types := map[uint32]*spvType{}
	names := map[uint32]string{}
	bindingDec := map[uint32]uint32{}
	bindingSet := map[uint32]bool{}
	memberOffsets := map[uint32]map[uint32]uint32{}
	type variable struct {
		id      uint32
		ptrType uint32
		storage uint32
	}
	var vars []variable

	for i := 5; i < len(words); {
		word := words[i]
		op := word & 0xffff
		count := int(word >> 16)
		if count == 0 || i+count > len(words) {
			return nil, fmt.Errorf("malformed instruction at word %d", i)
		}
		args := words[i+1 : i+count]

		switch op {
		case opName:
			if len(args) >= 2 {
				names[args[0]] = decodeSpvString(args[1:])
			}
		case opDecorate:
			if len(args) >= 2 {
				switch args[1] {
				case decBinding:
					if len(args) >= 3 {
						bindingDec[args[0]] = args[2]
					}
				case decDescriptorSet:
					bindingSet[args[0]] = true
				}
			}
		case opMemberDecorate:
			if len(args) >= 4 && args[2] == decOffset {
				mo := memberOffsets[args[0]]
				if mo == nil {
					mo = map[uint32]uint32{}
					memberOffsets[args[0]] = mo
				}
				mo[args[1]] = args[3]
			}
		case opTypeBool:
			types[args[0]] = &spvType{op: op, width: 32}
		case opTypeInt, opTypeFloat:
			types[args[0]] = &spvType{op: op, width: args[1]}
		case opTypeVector, opTypeMatrix:
			types[args[0]] = &spvType{op: op, elem: args[1], count: args[2]}
		case opTypeImage:
			t := &spvType{op: op, elem: args[1], dim: args[2]}
			if len(args) >= 7 {
				t.sampled = args[6]
			}
			types[args[0]] = t
		case opTypeSampler:
			types[args[0]] = &spvType{op: op}
		case opTypeSampledImage:
			types[args[0]] = &spvType{op: op, elem: args[1]}
		case opTypeArray:
			types[args[0]] = &spvType{op: op, elem: args[1], count: args[2]}
		case opTypeRuntimeArray:
			types[args[0]] = &spvType{op: op, elem: args[1]}
		case opTypeStruct:
			types[args[0]] = &spvType{op: op, members: append([]uint32{}, args[1:]...)}
		case opTypePointer:
			types[args[0]] = &spvType{op: op, storage: args[1], elem: args[2]}
		case opTypeAccelStructNV:
			types[args[0]] = &spvType{op: op}
		case opConstant:
			t := &spvType{op: op}
			if len(args) >= 3 {
				t.constVal = args[2]
			}
			types[args[1]] = t
		case opVariable:
			if len(args) >= 3 {
				vars = append(vars, variable{id: args[1], ptrType: args[0], storage: args[2]})
			}
		}
		i += count
	}

	info := &ReflectInfo{BindingNames: map[string]uint32{}}
	for _, v := range vars {
		ptr := types[v.ptrType]
		if ptr == nil || ptr.op != opTypePointer {
			continue
		}
		pointee, arrayCount := unwrapArray(types, ptr.elem)
		if pointee == nil {
			continue
		}

		if v.storage == scPushConstant {
			size := structSize(types, memberOffsets, ptr.elem)
			info.PushRanges = append(info.PushRanges, PushRange{
				StageFlags: stage,
				Offset:     0,
				Size:       size,
			})
			continue
		}

		slot, hasBinding := bindingDec[v.id]
		if !hasBinding {
			continue
		}
		dt, ok := descriptorTypeFor(pointee, v.storage)
		if !ok {
			continue
		}
		name := names[v.id]
		if name == "" {
			// block variables are often anonymous; fall back to the
			// block type name, like the reference reflector does
			name = names[baseTypeID(types, ptr.elem)]
		}
		info.Bindings = append(info.Bindings, BindingDesc{
			Binding:        slot,
			DescriptorType: dt,
			Count:          arrayCount,
			StageFlags:     stage,
		})
		if name != "" {
			info.BindingNames[name] = slot
		}
	}

	sort.Slice(info.Bindings, func(i, j int) bool {
		return info.Bindings[i].Binding < info.Bindings[j].Binding
	})
	return info, nil
}

// unwrapArray returns the element type behind any (possibly runtime)
// array wrapper, plus the descriptor count: fixed array length, 0 for
// runtime arrays (sized later by count overrides), 1 otherwise.
func unwrapArray(types map[uint32]*spvType, id uint32) (*spvType, uint32) {
	t := types[id]
	if t == nil {
		return nil, 1
	}
	switch t.op {
	case opTypeArray:
		n := uint32(1)
		if c := types[t.count]; c != nil && c.op == opConstant {
			n = c.constVal
		}
		return types[t.elem], n
	case opTypeRuntimeArray:
		return types[t.elem], 0
	}
	return t, 1
}

func baseTypeID(types map[uint32]*spvType, id uint32) uint32 {
	t := types[id]
	for t != nil && (t.op == opTypeArray || t.op == opTypeRuntimeArray) {
		id = t.elem
		t = types[id]
	}
	return id
}

func descriptorTypeFor(t *spvType, storage uint32) (vk.DescriptorType, bool) {
	switch t.op {
	case opTypeSampledImage:
		return vk.DescriptorTypeCombinedImageSampler, true
	case opTypeSampler:
		return vk.DescriptorTypeSampler, true
	case opTypeImage:
		if t.sampled == 2 {
			return vk.DescriptorTypeStorageImage, true
		}
		return vk.DescriptorTypeSampledImage, true
	case opTypeAccelStructNV:
		return vk.DescriptorTypeAccelerationStructureNV, true
	case opTypeStruct:
		switch storage {
		case scStorageBuffer:
			return vk.DescriptorTypeStorageBuffer, true
		case scUniform, scUniformConstant:
			return vk.DescriptorTypeUniformBuffer, true
		}
	}
	return 0, false
}

// structSize computes the byte extent of a block type: the maximum of
// member offset + member size.  Runtime arrays contribute zero length
// beyond their offset, matching the reference reflector.
func structSize(types map[uint32]*spvType, memberOffsets map[uint32]map[uint32]uint32, id uint32) uint32 {
	t := types[id]
	if t == nil {
		return 0
	}
	switch t.op {
	case opTypeBool, opTypeInt, opTypeFloat:
		return t.width / 8
	case opTypeVector:
		return t.count * structSize(types, memberOffsets, t.elem)
	case opTypeMatrix:
		return t.count * structSize(types, memberOffsets, t.elem)
	case opTypeArray:
		n := uint32(1)
		if c := types[t.count]; c != nil && c.op == opConstant {
			n = c.constVal
		}
		return n * structSize(types, memberOffsets, t.elem)
	case opTypeRuntimeArray:
		return 0
	case opTypeStruct:
		var size uint32
		offs := memberOffsets[id]
		var running uint32
		for mi, mt := range t.members {
			msz := structSize(types, memberOffsets, mt)
			moff := running
			if offs != nil {
				if o, has := offs[uint32(mi)]; has {
					moff = o
				}
			}
			if moff+msz > size {
				size = moff + msz
			}
			running = moff + msz
		}
		return size
	}
	return 0
}

func decodeSpvString(words []uint32) string {
	buf := make([]byte, 0, len(words)*4)
	for _, w := range words {
		buf = append(buf, byte(w), byte(w>>8), byte(w>>16), byte(w>>24))
	}
	for i, b := range buf {
		if b == 0 {
			return string(buf[:i])
		}
	}
	return string(buf)
}
