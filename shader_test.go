// Copyright (c) 2024, The Photark Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vkray

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefinitionSrc(t *testing.T) {
	assert.Equal(t, "", DefinitionSrc(nil))

	src := DefinitionSrc(map[string]string{
		"B": "2",
		"A": "1",
	})
	// sorted key order, one line each
	assert.Equal(t, "#define A 1\n#define B 2\n", src)
}

func TestDefinitionSrcStripsNewlines(t *testing.T) {
	// a value must not be able to smuggle extra directives in
	src := DefinitionSrc(map[string]string{
		"K": "1\n#define EVIL 2",
	})
	assert.Equal(t, "#define K 1#define EVIL 2\n", src)
	assert.Equal(t, 1, strings.Count(src, "\n"))
}

func TestSpliceDefinesAfterVersion(t *testing.T) {
	src := "// header\n#version 460\nvoid main() {}\n"
	out := SpliceDefines(src, map[string]string{"X": "3"})

	lines := strings.Split(out, "\n")
	// #version keeps its line number
	assert.Equal(t, "#version 460", lines[1])
	// injected defines come immediately after, before any other code
	assert.Equal(t, "#define X 3", lines[2])
	assert.Equal(t, "void main() {}", lines[3])
}

func TestSpliceDefinesNoVersion(t *testing.T) {
	src := "void main() {}\n"
	out := SpliceDefines(src, map[string]string{"X": "3"})
	assert.True(t, strings.HasPrefix(out, "#define X 3\n"))
	assert.True(t, strings.HasSuffix(out, src))
}

func TestSpliceDefinesEmpty(t *testing.T) {
	src := "#version 460\nvoid main() {}\n"
	assert.Equal(t, src, SpliceDefines(src, nil))
}

func TestSpliceDefinesDeterministic(t *testing.T) {
	src := "#version 450\nlayout(binding=0) uniform U { int x; };\n"
	defs := map[string]string{"C": "3", "A": "1", "B": "2"}
	first := SpliceDefines(src, defs)
	for i := 0; i < 16; i++ {
		assert.Equal(t, first, SpliceDefines(src, defs))
	}
}

func TestResolveIncludes(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "common.glsl"),
		[]byte("float common_fn() { return 1.0; }\n"), 0o644))
	src := "#version 460\n#include \"common.glsl\"\nvoid main() {}\n"

	out, err := resolveIncludes(src, dir, 0)
	require.NoError(t, err)
	assert.Contains(t, out, "common_fn")
	assert.NotContains(t, out, "#include")
}

func TestResolveIncludesMissing(t *testing.T) {
	src := "#include \"nope.glsl\"\n"
	_, err := resolveIncludes(src, t.TempDir(), 0)
	require.Error(t, err)
	var am *AssetMissing
	assert.ErrorAs(t, err, &am)
	assert.Equal(t, "nope.glsl", am.Path)
}

func TestResolveIncludesNested(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.glsl"),
		[]byte("#include \"b.glsl\"\nfloat a_fn() { return b_fn(); }\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.glsl"),
		[]byte("float b_fn() { return 2.0; }\n"), 0o644))

	out, err := resolveIncludes("#include \"a.glsl\"\n", dir, 0)
	require.NoError(t, err)
	assert.Contains(t, out, "a_fn")
	assert.Contains(t, out, "b_fn")
}

func TestShaderCacheClear(t *testing.T) {
	ClearShaderCache()
	shaderCacheMu.Lock()
	shaderCache["key"] = &ShaderSource{Path: "x", Data: []uint32{spirvMagic}}
	shaderCacheMu.Unlock()

	ClearShaderCache()
	shaderCacheMu.Lock()
	defer shaderCacheMu.Unlock()
	assert.Empty(t, shaderCache)
}

func TestShaderKindFromExt(t *testing.T) {
	assert.Equal(t, RayGenShader, shaderExts[".rgen"])
	assert.Equal(t, ClosestHitShader, shaderExts[".rchit"])
	assert.Equal(t, AnyHitShader, shaderExts[".rahit"])
	assert.Equal(t, IntersectShader, shaderExts[".rint"])
	assert.Equal(t, MissShader, shaderExts[".rmiss"])
	assert.Equal(t, ComputeShader, shaderExts[".comp"])
	_, has := shaderExts[".hlsl"]
	assert.False(t, has)
}
