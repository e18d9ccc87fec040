// Copyright (c) 2024, The Photark Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package render

import (
	"errors"
	"log"

	vk "github.com/goki/vulkan"

	vkray "github.com/photark/vkray"
	"github.com/photark/vkray/scene"
)

// Renderer drives one frame of a concrete stage graph.
type Renderer interface {

	// SetScene attaches the scene and (re-)records all stages.
	SetScene(s *scene.Scene)

	// Render renders and presents one frame.  Out-of-date swapchains
	// are recovered internally; other errors surface to the caller.
	Render() error

	// ResetAccumulation restarts any cross-frame sample accumulation.
	ResetAccumulation(resetSampleCounter bool)

	// SetDeviceWorkloads adjusts the per-device workload split; the
	// single-device renderers ignore it.
	SetDeviceWorkloads(workloads []float64)

	// Destroy frees all stages.  The context must be synced first.
	Destroy()
}

// renderStage is the common surface of every concrete stage.
type renderStage interface {
	SetScene(s *scene.Scene)
	Update(frameIndex int)
	Submit(frameIndex, swapchainIndex int, wait vkray.Deps) (vkray.Deps, error)
	Destroy()
}

// gbufferChannel describes one allocated G-buffer channel.
type gbufferChannel struct {
	format vkray.Types
	set    func(g *vkray.GBuffer, rt *vkray.RenderTarget)
}

var gbufferChannels = map[string]gbufferChannel{
	"color":         {vkray.Float16Vec4, func(g *vkray.GBuffer, rt *vkray.RenderTarget) { g.Color = rt }},
	"diffuse":       {vkray.Float16Vec4, func(g *vkray.GBuffer, rt *vkray.RenderTarget) { g.Diffuse = rt }},
	"albedo":        {vkray.Float16Vec4, func(g *vkray.GBuffer, rt *vkray.RenderTarget) { g.Albedo = rt }},
	"normal":        {vkray.Float16Vec4, func(g *vkray.GBuffer, rt *vkray.RenderTarget) { g.Normal = rt }},
	"pos":           {vkray.Float32Vec4Tex, func(g *vkray.GBuffer, rt *vkray.RenderTarget) { g.Pos = rt }},
	"screen_motion": {vkray.Float16Vec2, func(g *vkray.GBuffer, rt *vkray.RenderTarget) { g.ScreenMotion = rt }},
	"linear_depth":  {vkray.Float32Chan, func(g *vkray.GBuffer, rt *vkray.RenderTarget) { g.LinearDepth = rt }},
}

// newGBufferPair allocates the named channels double-buffered across
// the in-flight frames and returns the (current, previous) bundles:
// the previous bundle's view for slot f is the current bundle's view
// for the other slot.
func newGBufferPair(ctx *vkray.Context, dv *vkray.Device, channels []string) (cur, prev *vkray.GBuffer, texes []*vkray.Texture) {
	cur = &vkray.GBuffer{}
	prev = &vkray.GBuffer{}
	size := ctx.Size
	layers := ctx.ImageArrayLayers
	pool := ctx.Pools[dv.Index]
	for _, name := range channels {
		ch, has := gbufferChannels[name]
		if !has {
			log.Printf("render: unknown gbuffer channel %s\n", name)
			continue
		}
		var slot [vkray.MaxFramesInFlight]*vkray.Texture
		for f := 0; f < vkray.MaxFramesInFlight; f++ {
			slot[f] = vkray.NewTexture(dv, size, layers, ch.format.VkFormat(),
				vk.ImageUsageStorageBit|vk.ImageUsageTransferSrcBit,
				vk.ImageLayoutGeneral, pool)
			texes = append(texes, slot[f])
		}
		curRT := &vkray.RenderTarget{Dev: dv.Device}
		prevRT := &vkray.RenderTarget{Dev: dv.Device}
		curRT.Format = slot[0].Format
		prevRT.Format = slot[0].Format
		for f := 0; f < vkray.MaxFramesInFlight; f++ {
			curRT.Images[f] = slot[f].Image.Image
			curRT.Views[f] = slot[f].View
			curRT.Layouts[f] = vk.ImageLayoutGeneral
			pf := (f + 1) % vkray.MaxFramesInFlight
			prevRT.Images[f] = slot[pf].Image.Image
			prevRT.Views[f] = slot[pf].View
			prevRT.Layouts[f] = vk.ImageLayoutGeneral
		}
		ch.set(cur, curRT)
		ch.set(prev, prevRT)
	}
	return cur, prev, texes
}

//////////////////////////////////////////////////////////////
// PathTracerRenderer

// PathTracerRendererOptions configure the full path tracing graph.
type PathTracerRendererOptions struct {
	PathTracer PathTracerOptions `toml:"path_tracer"`

	// which denoiser runs between the path tracer and tonemap
	Denoiser DenoiserKinds `toml:"denoiser"`

	PostProcess PostProcessOptions `toml:"post_process"`
}

// PathTracerRenderer assembles the path traced frame graph:
// path tracer -> (SVGF | BMFR) -> spatial reprojection -> TAA ->
// tonemap, submitting the stages in dependency order each frame.
type PathTracerRenderer struct {
	Ctx  *vkray.Context
	Opts PathTracerRendererOptions

	Scene *scene.Scene

	gbufCur  *vkray.GBuffer
	gbufPrev *vkray.GBuffer
	texes    []*vkray.Texture

	pt        *PathTracerStage
	svgf      *SVGFStage
	bmfr      *BMFRStage
	reproject *SpatialReprojectionStage
	taa       *TAAStage
	tonemap   *TonemapStage

	// submit order
	stages []renderStage
}

// NewPathTracerRenderer builds all stages on the display device.
func NewPathTracerRenderer(ctx *vkray.Context, opts *PathTracerRendererOptions) (*PathTracerRenderer, error) {
	r := &PathTracerRenderer{Ctx: ctx, Opts: *opts}
	if err := r.build(); err != nil {
		r.Destroy()
		return nil, err
	}
	return r, nil
}

func (r *PathTracerRenderer) build() error {
	ctx := r.Ctx
	dv := ctx.DisplayDevice()
	opts := &r.Opts

	channels := []string{"color"}
	denoising := opts.Denoiser != DenoiserNone
	if denoising {
		channels = append(channels, "diffuse", "albedo", "normal", "screen_motion", "linear_depth")
	}
	if opts.Denoiser == DenoiserBMFR || opts.PostProcess.SpatialReprojection != nil {
		channels = append(channels, "pos")
		if !denoising {
			channels = append(channels, "normal")
		}
	}
	if opts.PostProcess.TAA != nil && !denoising {
		channels = append(channels, "screen_motion")
	}
	r.gbufCur, r.gbufPrev, r.texes = newGBufferPair(ctx, dv, channels)

	ptOpts := opts.PathTracer
	if denoising {
		// the denoisers reconstruct from demodulated diffuse input
		ptOpts.UseWhiteAlbedoOnFirstBounce = true
	}
	pt, err := NewPathTracerStage(ctx, dv, r.gbufCur, &ptOpts)
	if err != nil {
		return err
	}
	r.pt = pt
	r.stages = append(r.stages, pt)

	switch opts.Denoiser {
	case DenoiserSVGF:
		so := opts.PostProcess.SVGF
		if so == nil {
			so = &SVGFOptions{}
			so.Defaults()
			so.ActiveViewportCount = ptOpts.ActiveViewportCount
		}
		sv, err := NewSVGFStage(ctx, dv, r.gbufCur, r.gbufPrev, so)
		if err != nil {
			return err
		}
		r.svgf = sv
		r.stages = append(r.stages, sv)
	case DenoiserBMFR:
		bo := opts.PostProcess.BMFR
		if bo == nil {
			bo = &BMFROptions{ActiveViewportCount: ptOpts.ActiveViewportCount}
		}
		bm, err := NewBMFRStage(ctx, dv, r.gbufCur, r.gbufPrev, bo)
		if err != nil {
			return err
		}
		r.bmfr = bm
		r.stages = append(r.stages, bm)
	}

	if so := opts.PostProcess.SpatialReprojection; so != nil {
		sr, err := NewSpatialReprojectionStage(ctx, dv, r.gbufCur, so)
		if err != nil {
			return err
		}
		r.reproject = sr
		r.stages = append(r.stages, sr)
	}

	if to := opts.PostProcess.TAA; to != nil {
		ta, err := NewTAAStage(ctx, dv, r.gbufCur, to)
		if err != nil {
			return err
		}
		r.taa = ta
		r.stages = append(r.stages, ta)
	}

	tm, err := NewTonemapStage(ctx, dv, r.gbufCur, &opts.PostProcess.Tonemap)
	if err != nil {
		return err
	}
	r.tonemap = tm
	r.stages = append(r.stages, tm)
	return nil
}

// SetScene attaches the scene and records every stage.
func (r *PathTracerRenderer) SetScene(s *scene.Scene) {
	r.Scene = s
	for _, st := range r.stages {
		st.SetScene(s)
	}
}

// Render renders one frame, recovering from out-of-date swapchains by
// rebuilding the whole stage graph.  The frame counter does not
// advance across a failed frame.
func (r *PathTracerRenderer) Render() error {
	ctx := r.Ctx
	dep, err := ctx.BeginFrame()
	if errors.Is(err, vkray.ErrOutOfDate) {
		return r.reset()
	}
	if err != nil {
		return err
	}
	swapIdx, frame := ctx.Indices()

	if r.pt.NeedsRecord() {
		r.SetScene(r.Scene)
	}

	r.Scene.StepJitter()
	r.Scene.Update(frame)
	for _, st := range r.stages {
		st.Update(frame)
	}

	deps := vkray.Deps{dep}
	for _, st := range r.stages {
		deps, err = st.Submit(frame, swapIdx, deps)
		if err != nil {
			return err
		}
	}

	err = ctx.EndFrame(deps)
	if errors.Is(err, vkray.ErrOutOfDate) {
		return r.reset()
	}
	return err
}

// reset drops and rebuilds the stage graph around a swapchain rebuild.
func (r *PathTracerRenderer) reset() error {
	r.Ctx.Sync()
	r.destroyStages()
	if err := r.Ctx.RebuildSwapchain(); err != nil {
		return err
	}
	if err := r.build(); err != nil {
		return err
	}
	if r.Scene != nil {
		r.SetScene(r.Scene)
	}
	return nil
}

// Reload rebuilds the stage graph after a shader edit (the shader
// watcher's callback).  Unlike construction, a failed recompile is not
// fatal here: the error is logged and the previous pipelines stay
// active.  The fresh graph is built before the old one is torn down.
func (r *PathTracerRenderer) Reload() {
	s := r.Scene
	fresh, err := NewPathTracerRenderer(r.Ctx, &r.Opts)
	if err != nil {
		log.Printf("render: shader reload failed, keeping previous pipelines: %v\n", err)
		return
	}
	r.Ctx.Sync()
	r.destroyStages()
	*r = *fresh
	r.SetScene(s)
}

// ResetAccumulation restarts cross-frame accumulation.
func (r *PathTracerRenderer) ResetAccumulation(resetSampleCounter bool) {
	if resetSampleCounter && r.pt != nil {
		r.pt.ResetAccumulation()
	}
}

// SetDeviceWorkloads is a no-op for the single-device graph.
func (r *PathTracerRenderer) SetDeviceWorkloads(workloads []float64) {}

func (r *PathTracerRenderer) destroyStages() {
	for _, st := range r.stages {
		st.Destroy()
	}
	r.stages = nil
	r.pt = nil
	r.svgf = nil
	r.bmfr = nil
	r.reproject = nil
	r.taa = nil
	r.tonemap = nil
	for _, tx := range r.texes {
		tx.Destroy()
	}
	r.texes = nil
}

// Destroy frees all stages; the context must be synced first.
func (r *PathTracerRenderer) Destroy() {
	r.destroyStages()
}

//////////////////////////////////////////////////////////////
// WhittedRenderer

// WhittedRendererOptions configure the Whitted graph.
type WhittedRendererOptions struct {
	Whitted     WhittedOptions     `toml:"whitted"`
	PostProcess PostProcessOptions `toml:"post_process"`
}

// WhittedRenderer is the Whitted stage followed by optional TAA and
// tonemap.
type WhittedRenderer struct {
	Ctx  *vkray.Context
	Opts WhittedRendererOptions

	Scene *scene.Scene

	gbuf   *vkray.GBuffer
	texes  []*vkray.Texture
	ws     *WhittedStage
	stages []renderStage
}

// NewWhittedRenderer builds the graph on the display device.
func NewWhittedRenderer(ctx *vkray.Context, opts *WhittedRendererOptions) (*WhittedRenderer, error) {
	r := &WhittedRenderer{Ctx: ctx, Opts: *opts}
	dv := ctx.DisplayDevice()

	channels := []string{"color"}
	if opts.PostProcess.TAA != nil {
		channels = append(channels, "screen_motion")
	}
	r.gbuf, _, r.texes = newGBufferPair(ctx, dv, channels)

	ws, err := NewWhittedStage(ctx, dv, r.gbuf, &r.Opts.Whitted)
	if err != nil {
		r.Destroy()
		return nil, err
	}
	r.ws = ws
	r.stages = append(r.stages, ws)

	if to := opts.PostProcess.TAA; to != nil {
		ta, err := NewTAAStage(ctx, dv, r.gbuf, to)
		if err != nil {
			r.Destroy()
			return nil, err
		}
		r.stages = append(r.stages, ta)
	}
	tm, err := NewTonemapStage(ctx, dv, r.gbuf, &r.Opts.PostProcess.Tonemap)
	if err != nil {
		r.Destroy()
		return nil, err
	}
	r.stages = append(r.stages, tm)
	return r, nil
}

func (r *WhittedRenderer) SetScene(s *scene.Scene) {
	r.Scene = s
	for _, st := range r.stages {
		st.SetScene(s)
	}
}

func (r *WhittedRenderer) Render() error {
	return renderSimple(r.Ctx, r.Scene, r.ws.NeedsRecord, r.SetScene, r.stages)
}

func (r *WhittedRenderer) ResetAccumulation(resetSampleCounter bool) {}

func (r *WhittedRenderer) SetDeviceWorkloads(workloads []float64) {}

func (r *WhittedRenderer) Destroy() {
	for _, st := range r.stages {
		st.Destroy()
	}
	r.stages = nil
	for _, tx := range r.texes {
		tx.Destroy()
	}
	r.texes = nil
}

//////////////////////////////////////////////////////////////
// FeatureRenderer

// FeatureRendererOptions configure the feature dump graph.
type FeatureRendererOptions struct {
	Feature     FeatureOptions     `toml:"feature"`
	PostProcess PostProcessOptions `toml:"post_process"`
}

// FeatureRenderer renders one G-buffer attribute and tonemaps it for
// inspection or dataset dumps.
type FeatureRenderer struct {
	Ctx  *vkray.Context
	Opts FeatureRendererOptions

	Scene *scene.Scene

	gbuf   *vkray.GBuffer
	texes  []*vkray.Texture
	fs     *FeatureStage
	stages []renderStage
}

// NewFeatureRenderer builds the graph on the display device.
func NewFeatureRenderer(ctx *vkray.Context, opts *FeatureRendererOptions) (*FeatureRenderer, error) {
	r := &FeatureRenderer{Ctx: ctx, Opts: *opts}
	dv := ctx.DisplayDevice()
	r.gbuf, _, r.texes = newGBufferPair(ctx, dv, []string{"color"})

	fs, err := NewFeatureStage(ctx, dv, r.gbuf, &r.Opts.Feature)
	if err != nil {
		r.Destroy()
		return nil, err
	}
	r.fs = fs
	r.stages = append(r.stages, fs)

	tm, err := NewTonemapStage(ctx, dv, r.gbuf, &r.Opts.PostProcess.Tonemap)
	if err != nil {
		r.Destroy()
		return nil, err
	}
	r.stages = append(r.stages, tm)
	return r, nil
}

func (r *FeatureRenderer) SetScene(s *scene.Scene) {
	r.Scene = s
	for _, st := range r.stages {
		st.SetScene(s)
	}
}

func (r *FeatureRenderer) Render() error {
	return renderSimple(r.Ctx, r.Scene, r.fs.NeedsRecord, r.SetScene, r.stages)
}

func (r *FeatureRenderer) ResetAccumulation(resetSampleCounter bool) {}

func (r *FeatureRenderer) SetDeviceWorkloads(workloads []float64) {}

func (r *FeatureRenderer) Destroy() {
	for _, st := range r.stages {
		st.Destroy()
	}
	r.stages = nil
	for _, tx := range r.texes {
		tx.Destroy()
	}
	r.texes = nil
}

// renderSimple is the shared frame loop of the non-resetting graphs.
// Out-of-date errors surface to the caller, which owns the rebuild.
func renderSimple(ctx *vkray.Context, s *scene.Scene, needsRecord func() bool, setScene func(*scene.Scene), stages []renderStage) error {
	dep, err := ctx.BeginFrame()
	if err != nil {
		return err
	}
	swapIdx, frame := ctx.Indices()

	if needsRecord() {
		setScene(s)
	}
	s.StepJitter()
	s.Update(frame)
	for _, st := range stages {
		st.Update(frame)
	}

	deps := vkray.Deps{dep}
	for _, st := range stages {
		deps, err = st.Submit(frame, swapIdx, deps)
		if err != nil {
			return err
		}
	}
	return ctx.EndFrame(deps)
}
