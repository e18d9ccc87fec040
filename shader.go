// Copyright (c) 2024, The Photark Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vkray

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	shaderc "github.com/NOT-REAL-GAMES/vulkango/shaderc"
	vk "github.com/goki/vulkan"
	"goki.dev/ki/v2/kit"
)

// ShaderKinds are the shader stage kinds, detected from the source file
// extension.
type ShaderKinds int32

const (
	VertexShader ShaderKinds = iota
	TessCtrlShader
	TessEvalShader
	GeometryShader
	FragmentShader
	ComputeShader
	RayGenShader
	IntersectShader
	AnyHitShader
	ClosestHitShader
	MissShader
	ShaderKindsN
)

//go:generate stringer -type=ShaderKinds

var KiT_ShaderKinds = kit.Enums.AddEnum(ShaderKindsN, kit.NotBitFlag, nil)

// shaderExts maps source file extensions to stage kinds.
var shaderExts = map[string]ShaderKinds{
	".vert":  VertexShader,
	".tesc":  TessCtrlShader,
	".tese":  TessEvalShader,
	".geom":  GeometryShader,
	".frag":  FragmentShader,
	".comp":  ComputeShader,
	".rgen":  RayGenShader,
	".rint":  IntersectShader,
	".rahit": AnyHitShader,
	".rchit": ClosestHitShader,
	".rmiss": MissShader,
}

// StageFlag returns the Vulkan stage flag for the kind.
func (sk ShaderKinds) StageFlag() vk.ShaderStageFlagBits {
	switch sk {
	case VertexShader:
		return vk.ShaderStageVertexBit
	case TessCtrlShader:
		return vk.ShaderStageTessellationControlBit
	case TessEvalShader:
		return vk.ShaderStageTessellationEvaluationBit
	case GeometryShader:
		return vk.ShaderStageGeometryBit
	case FragmentShader:
		return vk.ShaderStageFragmentBit
	case ComputeShader:
		return vk.ShaderStageComputeBit
	case RayGenShader:
		return vk.ShaderStageRaygenBitNV
	case IntersectShader:
		return vk.ShaderStageIntersectionBitNV
	case AnyHitShader:
		return vk.ShaderStageAnyHitBitNV
	case ClosestHitShader:
		return vk.ShaderStageClosestHitBitNV
	case MissShader:
		return vk.ShaderStageMissBitNV
	}
	return 0
}

func (sk ShaderKinds) shadercKind() shaderc.ShaderKind {
	switch sk {
	case VertexShader:
		return shaderc.VertexShader
	case TessCtrlShader:
		return shaderc.TessControlShader
	case TessEvalShader:
		return shaderc.TessEvaluationShader
	case GeometryShader:
		return shaderc.GeometryShader
	case FragmentShader:
		return shaderc.FragmentShader
	case ComputeShader:
		return shaderc.ComputeShader
	case RayGenShader:
		return shaderc.RaygenShader
	case IntersectShader:
		return shaderc.IntersectionShader
	case AnyHitShader:
		return shaderc.AnyhitShader
	case ClosestHitShader:
		return shaderc.ClosesthitShader
	case MissShader:
		return shaderc.MissShader
	}
	return shaderc.ComputeShader
}

// ShaderSource is one compiled shader stage: the SPIR-V binary plus the
// descriptor bindings, binding names and push constant ranges extracted
// from it by reflection.
type ShaderSource struct {

	// source file path, as given
	Path string

	// stage flag detected from the extension
	Stage vk.ShaderStageFlags

	// compiled SPIR-V words
	Data []uint32

	// descriptor bindings reflected from the binary
	Bindings []BindingDesc

	// binding name -> slot index
	BindingNames map[string]uint32

	// push constant ranges reflected from the binary
	PushRanges []PushRange
}

// BindingDesc is one descriptor set layout binding.
type BindingDesc struct {
	Binding        uint32
	DescriptorType vk.DescriptorType
	Count          uint32
	StageFlags     vk.ShaderStageFlags
}

// PushRange is one push constant range.
type PushRange struct {
	StageFlags vk.ShaderStageFlags
	Offset     uint32
	Size       uint32
}

// IsValid returns true for a loaded (non-zero) source.
func (ss *ShaderSource) IsValid() bool {
	return ss != nil && len(ss.Data) > 0
}

// Process-wide binary cache, keyed by the full spliced source text.
// SPIR-V is platform independent, so the same binaries are fine on all
// GPUs.  Concurrent lookups are serialised by the mutex; the cache is
// append-only until ClearShaderCache.
var (
	shaderCacheMu sync.Mutex
	shaderCache   = map[string]*ShaderSource{}
)

// ClearShaderCache drops all cached binaries, forcing recompilation on
// the next load.  Called by the hot-reload path.
func ClearShaderCache() {
	shaderCacheMu.Lock()
	shaderCache = map[string]*ShaderSource{}
	shaderCacheMu.Unlock()
}

// resource root for shader lookup, settable by the host program
var resourceRoot = ""

// SetResourceRoot sets the process-wide root directory that shader
// paths are resolved against when not found relative to the working
// directory.
func SetResourceRoot(root string) {
	resourceRoot = root
}

// ResourcePath resolves a shader or texture path: as given if it
// exists, else relative to the resource root.
func ResourcePath(path string) string {
	if _, err := os.Stat(path); err == nil || resourceRoot == "" {
		return path
	}
	return filepath.Join(resourceRoot, path)
}

// NewShaderSource loads, preprocesses, compiles and reflects one shader
// stage.  defines are spliced into the source right after the #version
// directive; includes are resolved relative to the source's directory.
// Results are cached process-wide by the final spliced source text, so
// two identical (path, defines) pairs compile exactly once and return
// byte-identical binaries.
func NewShaderSource(path string, defines map[string]string) (*ShaderSource, error) {
	resPath := ResourcePath(path)
	ext := filepath.Ext(resPath)
	kind, ok := shaderExts[ext]
	if !ok {
		return nil, &CompileError{Path: path, Diag: "unknown shader extension " + ext}
	}

	raw, err := os.ReadFile(resPath)
	if err != nil {
		return nil, &AssetMissing{Path: path, Err: err}
	}
	src, err := resolveIncludes(string(raw), filepath.Dir(resPath), 0)
	if err != nil {
		return nil, err
	}
	spliced := SpliceDefines(src, defines)

	// the lock is held across the compile so a given spliced text is
	// compiled by one caller only
	shaderCacheMu.Lock()
	defer shaderCacheMu.Unlock()
	if cached, has := shaderCache[spliced]; has {
		return cached, nil
	}

	data, err := compileGLSL(spliced, path, kind)
	if err != nil {
		return nil, err
	}
	refl, err := ReflectModule(data, vk.ShaderStageFlags(kind.StageFlag()))
	if err != nil {
		return nil, &ReflectError{Path: path, Diag: err.Error()}
	}
	ss := &ShaderSource{
		Path:         path,
		Stage:        vk.ShaderStageFlags(kind.StageFlag()),
		Data:         data,
		Bindings:     refl.Bindings,
		BindingNames: refl.BindingNames,
		PushRanges:   refl.PushRanges,
	}

	shaderCache[spliced] = ss
	return ss, nil
}

// DefinitionSrc produces one "#define K V" line per entry, in sorted
// key order for determinism.  Newlines in values are stripped so a
// value cannot smuggle additional preprocessor directives in.
func DefinitionSrc(defines map[string]string) string {
	if len(defines) == 0 {
		return ""
	}
	keys := make([]string, 0, len(defines))
	for k := range defines {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString("#define ")
		sb.WriteString(k)
		sb.WriteString(" ")
		sb.WriteString(strings.ReplaceAll(defines[k], "\n", ""))
		sb.WriteString("\n")
	}
	return sb.String()
}

// SpliceDefines splices the define block immediately after the line
// containing the first #version directive, or prepends it when there is
// no #version.  The #version line itself keeps its line number.
func SpliceDefines(src string, defines map[string]string) string {
	defSrc := DefinitionSrc(defines)
	if defSrc == "" {
		return src
	}
	offset := strings.Index(src, "#version")
	if offset < 0 {
		return defSrc + src
	}
	nl := strings.IndexByte(src[offset:], '\n')
	if nl < 0 {
		return src + "\n" + defSrc
	}
	cut := offset + nl + 1
	return src[:cut] + defSrc + src[cut:]
}

var includeRe = regexp.MustCompile(`(?m)^[ \t]*#include[ \t]+"([^"]+)"[ \t]*$`)

const maxIncludeDepth = 32

// resolveIncludes recursively splices #include "file" directives,
// relative to the including file's directory with the resource root as
// fallback.  Doing this before compilation makes the binary cache key
// cover the full effective source text.
func resolveIncludes(src, dir string, depth int) (string, error) {
	if depth > maxIncludeDepth {
		return "", &CompileError{Path: dir, Diag: "include depth limit exceeded (cycle?)"}
	}
	var err error
	out := includeRe.ReplaceAllStringFunc(src, func(m string) string {
		if err != nil {
			return ""
		}
		name := includeRe.FindStringSubmatch(m)[1]
		incPath := filepath.Join(dir, name)
		if _, serr := os.Stat(incPath); serr != nil {
			incPath = ResourcePath(name)
		}
		raw, rerr := os.ReadFile(incPath)
		if rerr != nil {
			err = &AssetMissing{Path: name, Err: rerr}
			return ""
		}
		sub, serr := resolveIncludes(string(raw), filepath.Dir(incPath), depth+1)
		if serr != nil {
			err = serr
			return ""
		}
		return sub
	})
	if err != nil {
		return "", err
	}
	return out, nil
}

// compileGLSL runs the GLSL front-end targeting Vulkan 1.2 SPIR-V with
// debug info, returning the binary words.
func compileGLSL(src, path string, kind ShaderKinds) ([]uint32, error) {
	compiler := shaderc.NewCompiler()
	defer compiler.Release()

	options := shaderc.NewCompileOptions()
	defer options.Release()
	options.SetTargetEnv(shaderc.TargetEnvVulkan, shaderc.EnvVersionVulkan_1_2)
	options.SetGenerateDebugInfo()

	result, err := compiler.CompileIntoSPV(src, path, kind.shadercKind(), options)
	if err != nil {
		return nil, &CompileError{Path: path, Diag: err.Error()}
	}
	defer result.Release()

	raw := result.GetBytes()
	if len(raw)%4 != 0 {
		return nil, &CompileError{Path: path, Diag: "compiler returned truncated binary"}
	}
	data := make([]uint32, len(raw)/4)
	for i := range data {
		data[i] = binary.LittleEndian.Uint32(raw[i*4:])
	}
	return data, nil
}
