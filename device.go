// Copyright (c) 2024, The Photark Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vkray

import (
	"errors"
	"unsafe"

	vk "github.com/goki/vulkan"
)

// Device is one logical rendering device with its own queue and
// semaphore space.  Each Device maps to one physical device; the
// display device additionally has a present-capable queue.
type Device struct {

	// device index within the context's device list
	Index int

	// gpu this device belongs to
	GPU *GPU

	// logical device
	Device vk.Device

	// queue family index for device
	QueueIndex uint32

	// queue for device
	Queue vk.Queue

	// ray tracing pipeline properties, valid when ray tracing is supported
	RayTracingProps vk.PhysicalDeviceRayTracingPropertiesNV

	// memory properties, for allocation
	MemProps vk.PhysicalDeviceMemoryProperties

	// period in nanoseconds of one timestamp tick
	TimestampPeriod float32
}

// QueueFilter selects an acceptable queue family.  Backends supply one
// that additionally requires present support on their surface.
type QueueFilter func(pd vk.PhysicalDevice, queueIndex uint32, props vk.QueueFamilyProperties) bool

// Init initializes the logical device for the physical device at given
// index, selecting the first queue family matching flags and filter
// (filter may be nil).
func (dv *Device) Init(gp *GPU, index int, flags vk.QueueFlagBits, filter QueueFilter) error {
	dv.GPU = gp
	dv.Index = index
	if err := dv.FindQueue(flags, filter); err != nil {
		return err
	}
	dv.MakeDevice()
	return nil
}

// FindQueue finds a queue family for given flag bits, sets QueueIndex.
// Returns an error if not found.
func (dv *Device) FindQueue(flags vk.QueueFlagBits, filter QueueFilter) error {
	pd := dv.GPU.GPUs[dv.Index]
	var queueCount uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(pd, &queueCount, nil)
	queueProperties := make([]vk.QueueFamilyProperties, queueCount)
	vk.GetPhysicalDeviceQueueFamilyProperties(pd, &queueCount, queueProperties)
	if queueCount == 0 {
		return errors.New("vkray: no queue families found on device")
	}

	required := vk.QueueFlags(flags)
	for i := uint32(0); i < queueCount; i++ {
		queueProperties[i].Deref()
		if queueProperties[i].QueueFlags&required != required {
			continue
		}
		if filter != nil && !filter(pd, i, queueProperties[i]) {
			continue
		}
		dv.QueueIndex = i
		return nil
	}
	return errors.New("vkray: could not find a compatible queue family")
}

// MakeDevice creates the logical device and queue based on QueueIndex,
// and reads back the device properties needed later (memory types,
// ray tracing limits, timestamp period).
func (dv *Device) MakeDevice() {
	gp := dv.GPU
	pd := gp.GPUs[dv.Index]
	queueInfos := []vk.DeviceQueueCreateInfo{{
		SType:            vk.StructureTypeDeviceQueueCreateInfo,
		QueueFamilyIndex: dv.QueueIndex,
		QueueCount:       1,
		PQueuePriorities: []float32{1.0},
	}}

	var device vk.Device
	ret := vk.CreateDevice(pd, &vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueInfos)),
		PQueueCreateInfos:       queueInfos,
		EnabledExtensionCount:   uint32(len(gp.DeviceExts)),
		PpEnabledExtensionNames: gp.DeviceExts,
		EnabledLayerCount:       uint32(len(gp.ValidationLayers)),
		PpEnabledLayerNames:     gp.ValidationLayers,
		PEnabledFeatures: []vk.PhysicalDeviceFeatures{{
			SamplerAnisotropy:                      vk.True,
			ShaderSampledImageArrayDynamicIndexing: vk.True,
			ShaderInt64:                            vk.True,
		}},
		PNext: unsafe.Pointer(&vk.PhysicalDeviceVulkan12Features{
			SType:                                        vk.StructureTypePhysicalDeviceVulkan12Features,
			DescriptorIndexing:                           vk.True,
			DescriptorBindingVariableDescriptorCount:     vk.True,
			DescriptorBindingSampledImageUpdateAfterBind: vk.True,
			DescriptorBindingUpdateUnusedWhilePending:    vk.True,
			DescriptorBindingPartiallyBound:              vk.True,
			RuntimeDescriptorArray:                       vk.True,
		}),
	}, nil, &device)
	IfPanic(NewError(ret))
	dv.Device = device

	var queue vk.Queue
	vk.GetDeviceQueue(dv.Device, dv.QueueIndex, 0, &queue)
	dv.Queue = queue

	vk.GetPhysicalDeviceMemoryProperties(pd, &dv.MemProps)
	dv.MemProps.Deref()
	dv.TimestampPeriod = gp.GPUProps[dv.Index].Limits.TimestampPeriod

	if gp.RayTracing {
		dv.RayTracingProps = vk.PhysicalDeviceRayTracingPropertiesNV{
			SType: vk.StructureTypePhysicalDeviceRayTracingPropertiesNV,
		}
		props2 := vk.PhysicalDeviceProperties2{
			SType: vk.StructureTypePhysicalDeviceProperties2,
			PNext: unsafe.Pointer(&dv.RayTracingProps),
		}
		vk.GetPhysicalDeviceProperties2(pd, &props2)
		dv.RayTracingProps.Deref()
	}
}

// FindMemoryType returns the index of a memory type matching the
// requirement bits and property flags.
func (dv *Device) FindMemoryType(typeBits uint32, props vk.MemoryPropertyFlagBits) uint32 {
	required := vk.MemoryPropertyFlags(props)
	for i := uint32(0); i < dv.MemProps.MemoryTypeCount; i++ {
		if typeBits&(1<<i) == 0 {
			continue
		}
		dv.MemProps.MemoryTypes[i].Deref()
		if dv.MemProps.MemoryTypes[i].PropertyFlags&required == required {
			return i
		}
	}
	IfPanic(errors.New("vkray: no suitable memory type found"))
	return 0
}

// WaitIdle blocks until the device has finished all submitted work.
func (dv *Device) WaitIdle() {
	if dv.Device != nil {
		vk.DeviceWaitIdle(dv.Device)
	}
}

func (dv *Device) Destroy() {
	if dv.Device == nil {
		return
	}
	vk.DeviceWaitIdle(dv.Device)
	vk.DestroyDevice(dv.Device, nil)
	dv.Device = nil
}
