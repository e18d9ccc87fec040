// Copyright (c) 2024, The Photark Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !darwin

package vkray

func PlatformDefaults(gp *GPU) {
}
