// Copyright (c) 2024, The Photark Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vkray

import (
	"encoding/binary"
	"fmt"
	"image"
	"log"
	"math"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	vk "github.com/goki/vulkan"
)

// FrameServerOptions configure the network frame-server backend.
type FrameServerOptions struct {

	// output size in pixels
	Width, Height int

	// TCP port the websocket server listens on
	Port int
}

func (fo *FrameServerOptions) Defaults() {
	fo.Width = 1280
	fo.Height = 720
	fo.Port = 3333
}

// frameHeader precedes every frame payload on the wire.
type frameHeader struct {
	Frame  uint32
	Width  uint32
	Height uint32
}

// FrameServer is the display backend that streams rendered frames to
// connected websocket clients instead of presenting them locally.
// Rendering continues regardless of whether any client is connected.
type FrameServer struct {
	Opts FrameServerOptions

	ctx *Context

	nextImage int
	readbacks []*Readback

	server   *http.Server
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]bool

	frameNumber uint32

	// set in FillEndFrameDeps: this frame streams to clients
	pendingSend bool
}

// NewFrameServer makes a frame server backend; the listener starts in
// InitImages once the image geometry is known.
func NewFrameServer(opts *FrameServerOptions) *FrameServer {
	fs := &FrameServer{clients: map[*websocket.Conn]bool{}}
	if opts != nil {
		fs.Opts = *opts
	} else {
		fs.Opts.Defaults()
	}
	return fs
}

func (fs *FrameServer) InstanceExts() []string { return nil }

func (fs *FrameServer) Init(ctx *Context) error {
	fs.ctx = ctx
	return nil
}

func (fs *FrameServer) QueueCanPresent(pd vk.PhysicalDevice, queueIndex uint32, props vk.QueueFamilyProperties) bool {
	return true
}

func (fs *FrameServer) InitImages(ctx *Context) error {
	dv := ctx.DisplayDevice()
	pool := ctx.Pools[ctx.DisplayDeviceIndex]

	ctx.Size = image.Point{X: fs.Opts.Width, Y: fs.Opts.Height}
	ctx.Format = vk.FormatR16g16b16a16Sfloat
	ctx.ImageArrayLayers = 1
	ctx.ExpectedLayout = vk.ImageLayoutTransferSrcOptimal

	n := MaxFramesInFlight + 1
	ctx.Images = make([]Image, n)
	fs.readbacks = make([]*Readback, n)
	for i := 0; i < n; i++ {
		tx := NewTexture(dv, ctx.Size, 1, ctx.Format,
			vk.ImageUsageStorageBit|vk.ImageUsageTransferSrcBit,
			vk.ImageLayoutGeneral, pool)
		ctx.Images[i] = tx.Image
		fs.readbacks[i] = NewReadback(dv, ctx.Size, 1, ctx.Format)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", fs.handleClient)
	fs.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", fs.Opts.Port),
		Handler: mux,
	}
	go func() {
		if err := fs.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("vkray.FrameServer: %v\n", err)
		}
	}()
	return nil
}

func (fs *FrameServer) handleClient(w http.ResponseWriter, r *http.Request) {
	conn, err := fs.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("vkray.FrameServer: upgrade: %v\n", err)
		return
	}
	fs.mu.Lock()
	fs.clients[conn] = true
	fs.mu.Unlock()
}

func (fs *FrameServer) PrepareNextImage(frameIndex int) (int, error) {
	idx := fs.nextImage
	fs.nextImage = (fs.nextImage + 1) % len(fs.ctx.Images)
	signal := Deps{}.Add(fs.ctx.FrameAvailable[frameIndex], fs.ctx.NextDepValue(),
		vk.PipelineStageAllCommandsBit)
	err := CmdSubmitDeps(nil, fs.ctx.DisplayDevice(), nil, signal, vk.NullFence)
	return idx, err
}

// FillEndFrameDeps adds the frame-finished signal the readback copy
// waits on, only when a client will actually receive the frame.
func (fs *FrameServer) FillEndFrameDeps(frameIndex int, deps Deps) Deps {
	fs.mu.Lock()
	haveClients := len(fs.clients) > 0
	fs.mu.Unlock()
	fs.pendingSend = fs.ctx.Displaying && haveClients
	if !fs.pendingSend {
		return deps
	}
	return deps.Add(fs.ctx.FrameFinished[frameIndex], fs.ctx.NextDepValue(),
		vk.PipelineStageAllCommandsBit)
}

func (fs *FrameServer) FinishImage(frameIndex, swapchainIndex int, display bool) error {
	if !display || !fs.pendingSend {
		return nil
	}
	rb := fs.readbacks[swapchainIndex]
	wait := Deps{}.Add(fs.ctx.FrameFinished[frameIndex], fs.ctx.NextDepValue(),
		vk.PipelineStageTransferBit)
	if err := rb.Copy(fs.ctx.Images[swapchainIndex].Image, wait); err != nil {
		return err
	}
	frame := fs.frameNumber
	fs.frameNumber++
	fs.ctx.QueueFrameFinishCallback(func() {
		fs.broadcast(frame, rb)
	})
	return nil
}

// broadcast encodes the frame payload and sends it to every client,
// dropping clients whose send fails.
func (fs *FrameServer) broadcast(frame uint32, rb *Readback) {
	pix := rb.Pixels()
	payload := make([]byte, 12+len(pix)*4)
	binary.LittleEndian.PutUint32(payload[0:], frame)
	binary.LittleEndian.PutUint32(payload[4:], uint32(rb.Size.X))
	binary.LittleEndian.PutUint32(payload[8:], uint32(rb.Size.Y))
	for i, v := range pix {
		binary.LittleEndian.PutUint32(payload[12+i*4:], math.Float32bits(v))
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	for conn := range fs.clients {
		if err := conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
			conn.Close()
			delete(fs.clients, conn)
		}
	}
}

func (fs *FrameServer) Destroy() {
	if fs.server != nil {
		fs.server.Close()
		fs.server = nil
	}
	fs.mu.Lock()
	for conn := range fs.clients {
		conn.Close()
	}
	fs.clients = map[*websocket.Conn]bool{}
	fs.mu.Unlock()
	for i := range fs.ctx.Images {
		fs.ctx.Images[i].Destroy()
	}
	fs.ctx.Images = nil
	for _, rb := range fs.readbacks {
		rb.Destroy()
	}
	fs.readbacks = nil
	fs.ctx = nil
}
