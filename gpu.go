// Copyright (c) 2024, The Photark Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vkray

import (
	"errors"
	"log"
	"reflect"

	vk "github.com/goki/vulkan"
)

// Debug turns on extra debug printouts and the Vulkan validation layers.
var Debug = false

// MaxFramesInFlight is the number of frames that can be submitted before
// the CPU waits for the GPU.  This should typically be lower than the
// number of images in the display target -- there cannot be more frames
// in flight than swapchain images, since their image views would clash.
const MaxFramesInFlight = 2

// GPU owns the Vulkan instance and the set of physical devices used for
// rendering.  One of the devices is the display device, which must be
// able to present to the active display backend.
type GPU struct {

	// vulkan instance handle
	Instance vk.Instance

	// physical devices used for rendering, in device index order
	GPUs []vk.PhysicalDevice

	// properties per physical device
	GPUProps []vk.PhysicalDeviceProperties

	// index into GPUs of the device driving the display backend
	DisplayGPU int

	// instance extensions, platform ones added by PlatformDefaults
	InstanceExts []string

	// device extensions requested for all logical devices
	DeviceExts []string

	// validation layers, non-empty only when Debug is set
	ValidationLayers []string

	// true once ray tracing extensions were found on every device
	RayTracing bool

	// maximum number of timestamps per frame; 0 disables timers
	MaxTimestamps int
}

// GPUOptions are construction options for the GPU.
type GPUOptions struct {

	// disables the ray tracing extensions even when available
	DisableRayTracing bool

	// nil: use all compatible devices. non-nil: only these indices.
	PhysicalDeviceIndices []int

	// number of timestamps measurable during one frame; 0 = timers off
	MaxTimestamps int
}

// NewGPU creates the instance and enumerates physical devices.
// instanceExts are the backend's required instance extensions (e.g. the
// glfw surface extensions); platform extensions are added automatically.
func NewGPU(opts *GPUOptions, instanceExts []string) (*GPU, error) {
	gp := &GPU{}
	if opts != nil {
		gp.MaxTimestamps = opts.MaxTimestamps
	}
	if Debug {
		gp.ValidationLayers = []string{"VK_LAYER_KHRONOS_validation\x00"}
	}
	gp.InstanceExts = append(gp.InstanceExts, instanceExts...)
	PlatformDefaults(gp)

	var inst vk.Instance
	ret := vk.CreateInstance(&vk.InstanceCreateInfo{
		SType: vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: &vk.ApplicationInfo{
			SType:            vk.StructureTypeApplicationInfo,
			PApplicationName: "vkray\x00",
			ApiVersion:       vk.MakeVersion(1, 2, 0),
		},
		EnabledExtensionCount:   uint32(len(gp.InstanceExts)),
		PpEnabledExtensionNames: gp.InstanceExts,
		EnabledLayerCount:       uint32(len(gp.ValidationLayers)),
		PpEnabledLayerNames:     gp.ValidationLayers,
	}, nil, &inst)
	if err := NewError(ret); err != nil {
		return nil, err
	}
	gp.Instance = inst
	vk.InitInstance(inst)

	if err := gp.selectDevices(opts); err != nil {
		vk.DestroyInstance(inst, nil)
		return nil, err
	}
	return gp, nil
}

func (gp *GPU) selectDevices(opts *GPUOptions) error {
	var count uint32
	vk.EnumeratePhysicalDevices(gp.Instance, &count, nil)
	if count == 0 {
		return errors.New("vkray: no vulkan devices found")
	}
	all := make([]vk.PhysicalDevice, count)
	vk.EnumeratePhysicalDevices(gp.Instance, &count, all)

	allow := func(i int) bool {
		if opts == nil || len(opts.PhysicalDeviceIndices) == 0 {
			return true
		}
		for _, pi := range opts.PhysicalDeviceIndices {
			if pi == i {
				return true
			}
		}
		return false
	}

	gp.RayTracing = opts == nil || !opts.DisableRayTracing
	for i, pd := range all {
		if !allow(i) {
			continue
		}
		var props vk.PhysicalDeviceProperties
		vk.GetPhysicalDeviceProperties(pd, &props)
		props.Deref()
		gp.GPUs = append(gp.GPUs, pd)
		gp.GPUProps = append(gp.GPUProps, props)
		if gp.RayTracing && !hasDeviceExt(pd, "VK_NV_ray_tracing") {
			gp.RayTracing = false
		}
	}
	if len(gp.GPUs) == 0 {
		return errors.New("vkray: no physical device matched the requested indices")
	}

	gp.DeviceExts = append(gp.DeviceExts,
		"VK_KHR_swapchain\x00",
		"VK_KHR_push_descriptor\x00",
	)
	if gp.RayTracing {
		gp.DeviceExts = append(gp.DeviceExts,
			"VK_NV_ray_tracing\x00",
			"VK_KHR_get_memory_requirements2\x00",
		)
	} else if opts == nil || !opts.DisableRayTracing {
		log.Println("vkray: ray tracing extension not available, falling back to compute only")
	}
	return nil
}

func hasDeviceExt(pd vk.PhysicalDevice, name string) bool {
	var count uint32
	vk.EnumerateDeviceExtensionProperties(pd, "", &count, nil)
	exts := make([]vk.ExtensionProperties, count)
	vk.EnumerateDeviceExtensionProperties(pd, "", &count, exts)
	for i := range exts {
		exts[i].Deref()
		if vk.ToString(exts[i].ExtensionName[:]) == name {
			return true
		}
	}
	return false
}

// IsRayTracingSupported returns true if all selected devices carry the
// ray tracing extensions and it was not disabled in the options.
func (gp *GPU) IsRayTracingSupported() bool {
	return gp.RayTracing
}

// Destroy destroys the instance.  All devices must be destroyed first.
func (gp *GPU) Destroy() {
	if gp.Instance != nil {
		vk.DestroyInstance(gp.Instance, nil)
		gp.Instance = nil
	}
}

// MemSizeAlign returns the size aligned according to align byte increments
// e.g., if align = 16 and size = 12, it returns 16
func MemSizeAlign(size, align int) int {
	if size%align == 0 {
		return size
	}
	nb := size / align
	return (nb + 1) * align
}

// IsNil returns true if given vulkan handle is nil -- handles can be
// either pointers or uint64 depending on the platform.
func IsNil(handle any) bool {
	if handle == nil {
		return true
	}
	return reflect.ValueOf(handle).IsZero()
}
