package main

import (
	"bytes"
	"context"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/imagery-api/internal/tiling"
)

func TestParseIndices(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    []int
		wantErr bool
	}{
		{name: "empty selects all", in: "", want: nil},
		{name: "blank selects all", in: "   ", want: nil},
		{name: "single", in: "4", want: []int{4}},
		{name: "spaces trimmed", in: "0, 4 ,8", want: []int{0, 4, 8}},
		{name: "order kept", in: "3,1", want: []int{3, 1}},
		{name: "not a number", in: "0,x", wantErr: true},
		{name: "empty element", in: "0,,2", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseIndices(tc.in)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestTileCommand(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "source.png")
	require.NoError(t, imaging.Save(imaging.New(200, 100, color.NRGBA{R: 200, A: 255}), src))
	out := filepath.Join(dir, "tiles")

	var buf bytes.Buffer
	root := newRootCommand()
	root.Writer = &buf

	err := root.Run(context.Background(), []string{
		"imagery", "tile",
		"--in", src,
		"--rows", "2", "--cols", "2",
		"--mode", "exact",
		"--out", out,
		"--indices", "0,3",
	})
	require.NoError(t, err)

	first := filepath.Join(out, tiling.FileName(0))
	last := filepath.Join(out, tiling.FileName(3))
	assert.Contains(t, buf.String(), "0\t100x50+0+0\t"+first)
	assert.Contains(t, buf.String(), "3\t100x50+100+50\t"+last)

	img, err := imaging.Open(last)
	require.NoError(t, err)
	assert.Equal(t, 100, img.Bounds().Dx())
	assert.Equal(t, 50, img.Bounds().Dy())

	assert.NoFileExists(t, filepath.Join(out, tiling.FileName(1)))
}

func TestTileCommandInset(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "source.png")
	require.NoError(t, imaging.Save(imaging.New(300, 300, color.NRGBA{G: 200, A: 255}), src))

	tests := []struct {
		name  string
		flags []string
		want  string
	}{
		{name: "default inset", want: "4\t96x96+102+102\t"},
		{name: "zero inset", flags: []string{"--inset", "0"}, want: "4\t100x100+100+100\t"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			root := newRootCommand()
			root.Writer = &buf

			args := []string{"imagery", "tile", "--in", src, "--rows", "3", "--cols", "3", "--indices", "4", "--out", t.TempDir()}
			require.NoError(t, root.Run(context.Background(), append(args, tc.flags...)))
			assert.Contains(t, buf.String(), tc.want)
		})
	}
}

func TestTileCommandRejectsBadInput(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "source.png")
	require.NoError(t, imaging.Save(imaging.New(90, 90, color.NRGBA{B: 200, A: 255}), src))

	tests := []struct {
		name string
		args []string
	}{
		{name: "index out of range", args: []string{"--indices", "9"}},
		{name: "unknown mode", args: []string{"--mode", "diagonal"}},
		{name: "missing source", args: []string{"--in", filepath.Join(dir, "missing.png")}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			args := []string{"imagery", "tile", "--in", src, "--rows", "3", "--cols", "3", "--out", filepath.Join(dir, "out")}
			args = append(args, tc.args...)

			root := newRootCommand()
			root.Writer = &bytes.Buffer{}
			root.ErrWriter = &bytes.Buffer{}
			assert.Error(t, root.Run(context.Background(), args))
		})
	}
}
