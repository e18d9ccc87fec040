// Copyright (c) 2024, The Photark Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build (darwin && !ios) || windows || (linux && !android) || dragonfly || openbsd

package vkray

import (
	"github.com/go-gl/glfw/v3.3/glfw"
	vk "github.com/goki/vulkan"
)

// note: this file contains the glfw dependencies, for desktop platform
// builds.  Headless and frame server backends also rely on glfw only
// for the vulkan loader entry point.

// Init initializes the vulkan system using glfw.  Must be called before
// any other use of the package, on the main initial thread.
func Init() error {
	if err := glfw.Init(); err != nil {
		return err
	}
	vk.SetGetInstanceProcAddr(glfw.GetVulkanGetInstanceProcAddress())
	return vk.Init()
}

// Terminate shuts down the vulkan system -- call as last thing before
// quitting, on the main initial thread.
func Terminate() {
	glfw.Terminate()
}
