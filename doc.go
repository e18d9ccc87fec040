// Copyright (c) 2024, The Photark Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package vkray is the device core of a real-time path traced
// renderer: it drives ray-tracing-capable Vulkan devices through a
// per-frame graph of compute and ray tracing stages and hands the
// finished images to a pluggable display backend (window, headless
// file writer, or network frame server).
//
// The package provides the frame Context (double-buffered in-flight
// frame management: acquire, submit, present, reclaim), the Stage base
// with pre-recorded per-frame command buffers, compute and ray tracing
// Pipelines with push descriptors, the runtime GLSL compilation
// pipeline with its process-wide binary cache and SPIR-V reflection,
// and the owned buffer / image / render target / timer primitives the
// stages build on.
//
// The concrete stage graphs (path tracer, Whitted, SH probes, SVGF,
// BMFR, spatial reprojection, tonemap) live in the render package; the
// shared scene view lives in the scene package.
package vkray
