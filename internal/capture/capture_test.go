package capture

import (
	"context"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solid(w, h int, c color.Color) image.Image {
	return imaging.New(w, h, c)
}

func TestSequence_Loops(t *testing.T) {
	t.Parallel()
	a := solid(4, 4, color.White)
	b := solid(4, 4, color.Black)
	seq, err := NewSequence(a, b)
	require.NoError(t, err)

	ctx := context.Background()
	for i, want := range []image.Image{a, b, a} {
		got, err := seq.Read(ctx)
		require.NoError(t, err)
		assert.Same(t, want, got, "read %d", i)
	}
	assert.Equal(t, image.Pt(4, 4), seq.Size())
	assert.Equal(t, 2, seq.Len())
}

func TestSequence_Errors(t *testing.T) {
	t.Parallel()

	_, err := NewSequence()
	assert.Error(t, err)

	_, err = NewSequence(solid(4, 4, color.White), solid(5, 4, color.White))
	assert.ErrorContains(t, err, "frame 1")

	seq := Still(solid(2, 2, color.White))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = seq.Read(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	require.NoError(t, seq.Close())
	_, err = seq.Read(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestOpenStill_FileAndDir(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	require.NoError(t, imaging.Save(solid(8, 6, color.White), filepath.Join(dir, "b.png")))
	require.NoError(t, imaging.Save(solid(8, 6, color.Black), filepath.Join(dir, "a.png")))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip"), 0o644))

	one, err := OpenStill(filepath.Join(dir, "b.png"))
	require.NoError(t, err)
	assert.Equal(t, image.Pt(8, 6), one.Size())
	assert.Equal(t, 1, one.Len())

	seq, err := OpenStill(dir)
	require.NoError(t, err)
	assert.Equal(t, 2, seq.Len())

	first, err := seq.Read(context.Background())
	require.NoError(t, err)
	r, _, _, _ := first.At(0, 0).RGBA()
	assert.Zero(t, r, "a.png sorts first")

	_, err = OpenStill(filepath.Join(dir, "missing.png"))
	assert.Error(t, err)
}
