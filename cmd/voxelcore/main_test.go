package main

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	require.NoError(t, cmd.Execute(), out.String())
	return out.String()
}

func writeSlices(t *testing.T, dir string, n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		img := image.NewGray16(image.Rect(0, 0, 6, 5))
		for y := 0; y < 5; y++ {
			for x := 0; x < 6; x++ {
				img.SetGray16(x, y, color.Gray16{Y: uint16(i * (x + y))})
			}
		}
		f, err := os.Create(filepath.Join(dir, fmt.Sprintf("slice%02d.png", i)))
		require.NoError(t, err)
		require.NoError(t, png.Encode(f, img))
		require.NoError(t, f.Close())
	}
}

func TestAssembleAndInspect(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "input")
	require.NoError(t, os.Mkdir(input, 0755))
	writeSlices(t, input, 4)

	cfgPath := filepath.Join(dir, "voxelcore.yaml")
	out := run(t, "config", "init", cfgPath)
	require.Contains(t, out, cfgPath)

	dump := filepath.Join(dir, "image.cbor")
	out = run(t, "--config", cfgPath, "assemble", "--input", input, "--thickness", "2", "--gap", "0.5", "--dump", dump)
	require.Contains(t, out, "6x5x4x1")
	require.Contains(t, out, "Orientation: axial")
	require.Contains(t, out, "240 B")
	require.Contains(t, out, "sliceVec")

	out = run(t, "--config", cfgPath, "inspect", dump)
	require.Contains(t, out, "voxelGap")
	require.NotContains(t, out, "Missing")

	out = run(t, "inspect", "--diag", dump)
	require.Contains(t, out, `"indexOrigin"`)
}

func TestSlicesCommand(t *testing.T) {
	dir := t.TempDir()
	writeSlices(t, dir, 3)
	outDir := filepath.Join(dir, "out")

	run(t, "slices", "--input", dir, "--axis", "y", "--out", outDir, "--policy", "noscale")

	files, err := filepath.Glob(filepath.Join(outDir, "y", "*.jpg"))
	require.NoError(t, err)
	require.Len(t, files, 5)
}

func TestAssembleZeroGap(t *testing.T) {
	dir := t.TempDir()
	writeSlices(t, dir, 4)
	cfgPath := filepath.Join(dir, "absent.yaml")

	out := run(t, "--config", cfgPath, "assemble", "--input", dir, "--thickness", "2", "--spacing", "1", "--gap", "0")
	require.Contains(t, out, "<6|5|8|0> mm")

	out = run(t, "--config", cfgPath, "assemble", "--input", dir, "--thickness", "2", "--spacing", "1")
	require.Contains(t, out, "<6|5|12.5|0> mm")
}
