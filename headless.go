// Copyright (c) 2024, The Photark Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vkray

import (
	"fmt"
	"image"
	"image/png"
	"log"
	"math"
	"os"
	"unsafe"

	"github.com/mrjoshuak/go-openexr/half"
	vk "github.com/goki/vulkan"
)

// HeadlessOptions configure the headless file-writer backend.
type HeadlessOptions struct {

	// output size in pixels
	Width, Height int

	// number of separate views packed as array layers (camera grids)
	DisplayCount int

	// path prefix of written frames; empty writes nothing
	OutputPrefix string

	// number added to the first written frame's file name
	FirstFrameIndex int
}

func (ho *HeadlessOptions) Defaults() {
	ho.Width = 1280
	ho.Height = 720
	ho.DisplayCount = 1
}

// Headless is the display backend for offline runs: it renders into
// owned HDR images and encodes each displayed frame to a PNG file.
type Headless struct {
	Opts HeadlessOptions

	ctx *Context

	// round-robin acquire cursor
	nextImage int

	// per-image readback state
	readbacks []*Readback

	// index of the frame being written next
	fileIndex int

	// set in FillEndFrameDeps: this frame's image will be written out
	pendingWrite bool
}

// NewHeadless makes a headless backend with given options.
func NewHeadless(opts *HeadlessOptions) *Headless {
	hl := &Headless{}
	if opts != nil {
		hl.Opts = *opts
	} else {
		hl.Opts.Defaults()
	}
	if hl.Opts.DisplayCount < 1 {
		hl.Opts.DisplayCount = 1
	}
	hl.fileIndex = hl.Opts.FirstFrameIndex
	return hl
}

func (hl *Headless) InstanceExts() []string { return nil }

func (hl *Headless) Init(ctx *Context) error {
	hl.ctx = ctx
	return nil
}

func (hl *Headless) QueueCanPresent(pd vk.PhysicalDevice, queueIndex uint32, props vk.QueueFamilyProperties) bool {
	// no real display; any graphics+compute queue works
	return true
}

func (hl *Headless) InitImages(ctx *Context) error {
	dv := ctx.DisplayDevice()
	pool := ctx.Pools[ctx.DisplayDeviceIndex]

	ctx.Size = image.Point{X: hl.Opts.Width, Y: hl.Opts.Height}
	ctx.Format = vk.FormatR16g16b16a16Sfloat
	ctx.ImageArrayLayers = hl.Opts.DisplayCount
	ctx.ExpectedLayout = vk.ImageLayoutTransferSrcOptimal

	n := MaxFramesInFlight + 1
	ctx.Images = make([]Image, n)
	hl.readbacks = make([]*Readback, n)
	for i := 0; i < n; i++ {
		tx := NewTexture(dv, ctx.Size, hl.Opts.DisplayCount, ctx.Format,
			vk.ImageUsageStorageBit|vk.ImageUsageTransferSrcBit,
			vk.ImageLayoutGeneral, pool)
		ctx.Images[i] = tx.Image
		hl.readbacks[i] = NewReadback(dv, ctx.Size, hl.Opts.DisplayCount, ctx.Format)
	}
	return nil
}

func (hl *Headless) PrepareNextImage(frameIndex int) (int, error) {
	idx := hl.nextImage
	hl.nextImage = (hl.nextImage + 1) % len(hl.ctx.Images)
	// nothing acquires the image on the GPU side; signal availability
	// with an empty submission
	signal := Deps{}.Add(hl.ctx.FrameAvailable[frameIndex], hl.ctx.NextDepValue(),
		vk.PipelineStageAllCommandsBit)
	err := CmdSubmitDeps(nil, hl.ctx.DisplayDevice(), nil, signal, vk.NullFence)
	return idx, err
}

// FillEndFrameDeps adds the frame-finished signal the readback copy
// waits on, only when a file will actually be written.
func (hl *Headless) FillEndFrameDeps(frameIndex int, deps Deps) Deps {
	hl.pendingWrite = hl.ctx.Displaying && hl.Opts.OutputPrefix != ""
	if !hl.pendingWrite {
		return deps
	}
	return deps.Add(hl.ctx.FrameFinished[frameIndex], hl.ctx.NextDepValue(),
		vk.PipelineStageAllCommandsBit)
}

func (hl *Headless) FinishImage(frameIndex, swapchainIndex int, display bool) error {
	if !display || !hl.pendingWrite {
		return nil
	}
	rb := hl.readbacks[swapchainIndex]
	wait := Deps{}.Add(hl.ctx.FrameFinished[frameIndex], hl.ctx.NextDepValue(),
		vk.PipelineStageTransferBit)
	if err := rb.Copy(hl.ctx.Images[swapchainIndex].Image, wait); err != nil {
		return err
	}
	path := fmt.Sprintf("%s%d.png", hl.Opts.OutputPrefix, hl.fileIndex)
	hl.fileIndex++
	hl.ctx.QueueFrameFinishCallback(func() {
		if err := rb.WritePNG(path); err != nil {
			log.Printf("vkray.Headless: writing %s: %v\n", path, err)
		}
	})
	return nil
}

func (hl *Headless) Destroy() {
	for i := range hl.ctx.Images {
		hl.ctx.Images[i].Destroy()
	}
	hl.ctx.Images = nil
	for _, rb := range hl.readbacks {
		rb.Destroy()
	}
	hl.readbacks = nil
	hl.ctx = nil
}

//////////////////////////////////////////////////////////////
// Readback

// Readback copies a device image into a persistently mapped host
// buffer and decodes it on the CPU.  One per display image.
type Readback struct {
	Dev    *Device
	Size   image.Point
	Layers int
	Format vk.Format

	buff    vk.Buffer
	mem     vk.DeviceMemory
	ptr     unsafe.Pointer
	byteLen int

	pool  CmdPool
	fence vk.Fence
}

// NewReadback allocates the host buffer and transfer command state.
func NewReadback(dv *Device, size image.Point, layers int, format vk.Format) *Readback {
	rb := &Readback{Dev: dv, Size: size, Layers: layers, Format: format}
	rb.byteLen = size.X * size.Y * layers * FormatSizes[format]
	rb.buff = NewBuffer(dv, rb.byteLen, vk.BufferUsageFlags(vk.BufferUsageTransferDstBit))
	rb.mem = AllocBuffMem(dv, rb.buff, vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit)
	ret := vk.MapMemory(dv.Device, rb.mem, 0, vk.DeviceSize(rb.byteLen), 0, &rb.ptr)
	IfPanic(NewError(ret))
	rb.pool.ConfigResettable(dv)
	rb.pool.NewBuffer(dv)
	rb.fence = NewFence(dv.Device, false)
	return rb
}

// Copy records and submits the image-to-buffer copy, waiting on wait.
// The image must be in transfer-src layout.  Completion is tracked by
// the readback fence, waited by the decode methods.
func (rb *Readback) Copy(img vk.Image, wait Deps) error {
	fences := []vk.Fence{rb.fence}
	vk.ResetFences(rb.Dev.Device, 1, fences)
	cmd := rb.pool.Buff
	CmdResetBegin(cmd)
	vk.CmdCopyImageToBuffer(cmd, img, vk.ImageLayoutTransferSrcOptimal, rb.buff,
		1, []vk.BufferImageCopy{{
			ImageSubresource: vk.ImageSubresourceLayers{
				AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
				LayerCount: uint32(rb.Layers),
			},
			ImageExtent: vk.Extent3D{
				Width:  uint32(rb.Size.X),
				Height: uint32(rb.Size.Y),
				Depth:  1,
			},
		}})
	CmdEnd(cmd)
	return CmdSubmitDeps(cmd, rb.Dev, wait, nil, rb.fence)
}

// wait blocks until the last Copy finished; instant when called from a
// frame-end callback, since those run after the frame retired.
func (rb *Readback) wait() {
	fences := []vk.Fence{rb.fence}
	vk.WaitForFences(rb.Dev.Device, 1, fences, vk.True, vk.MaxUint64)
}

// Pixels decodes the buffer into float32 RGBA values.
func (rb *Readback) Pixels() []float32 {
	rb.wait()
	count := rb.Size.X * rb.Size.Y * rb.Layers * 4
	out := make([]float32, count)
	switch rb.Format {
	case vk.FormatR16g16b16a16Sfloat:
		src := unsafe.Slice((*uint16)(rb.ptr), count)
		for i, bits := range src {
			out[i] = half.Half(bits).Float32()
		}
	case vk.FormatR32g32b32a32Sfloat:
		src := unsafe.Slice((*float32)(rb.ptr), count)
		copy(out, src)
	default:
		log.Printf("vkray.Readback: unsupported format %d\n", rb.Format)
	}
	return out
}

// WritePNG tonemap-clamps the HDR pixels to 8-bit sRGB and writes all
// layers stacked vertically into one PNG file.
func (rb *Readback) WritePNG(path string) error {
	pix := rb.Pixels()
	img := image.NewNRGBA(image.Rect(0, 0, rb.Size.X, rb.Size.Y*rb.Layers))
	for i := 0; i < len(pix)/4; i++ {
		img.Pix[i*4+0] = encodeSRGB(pix[i*4+0])
		img.Pix[i*4+1] = encodeSRGB(pix[i*4+1])
		img.Pix[i*4+2] = encodeSRGB(pix[i*4+2])
		img.Pix[i*4+3] = encodeUnorm(pix[i*4+3])
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, img)
}

func encodeSRGB(v float32) uint8 {
	x := float64(v)
	if math.IsNaN(x) || x < 0 {
		x = 0
	} else if x > 1 {
		x = 1
	}
	if x <= 0.0031308 {
		x = x * 12.92
	} else {
		x = 1.055*math.Pow(x, 1/2.4) - 0.055
	}
	return uint8(x*255 + 0.5)
}

func encodeUnorm(v float32) uint8 {
	x := float64(v)
	if math.IsNaN(x) || x < 0 {
		x = 0
	} else if x > 1 {
		x = 1
	}
	return uint8(x*255 + 0.5)
}

// Destroy frees the readback resources.
func (rb *Readback) Destroy() {
	dev := rb.Dev.Device
	if rb.ptr != nil {
		vk.UnmapMemory(dev, rb.mem)
		rb.ptr = nil
	}
	vk.DestroyBuffer(dev, rb.buff, nil)
	vk.FreeMemory(dev, rb.mem, nil)
	vk.DestroyFence(dev, rb.fence, nil)
	rb.pool.Destroy(dev)
}
