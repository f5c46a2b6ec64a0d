package encoder_test

import (
	"bytes"
	"errors"
	"image/color"
	stdpng "image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yqhp/rowfarm/internal/encoder"
	_ "yqhp/rowfarm/internal/encoder/all"
	"yqhp/rowfarm/internal/encoder/png"
	"yqhp/rowfarm/pkg/types"
)

func sample() *types.ResultMatrix {
	return &types.ResultMatrix{
		Height: 2,
		Width:  3,
		Rows:   [][]float64{{0, 0.5, 1}, {0.25, 0.75, 0.125}},
	}
}

func TestRegistry(t *testing.T) {
	assert.Equal(t, []string{"csv", "json", "png"}, encoder.List())

	_, err := encoder.New("bmp")
	var unknown *encoder.UnknownFormatError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "bmp", unknown.Format)

	format, ok := encoder.FormatForPath("out/Mandelbrot.PNG")
	assert.True(t, ok)
	assert.Equal(t, "png", format)

	_, ok = encoder.FormatForPath("noext")
	assert.False(t, ok)
}

func TestCSV(t *testing.T) {
	enc, err := encoder.New("csv")
	require.NoError(t, err)
	assert.Equal(t, "csv", enc.Extension())

	var buf bytes.Buffer
	require.NoError(t, enc.Encode(&buf, sample()))
	assert.Equal(t, "0,0.5,1\n0.25,0.75,0.125\n", buf.String())
}

func TestJSON(t *testing.T) {
	enc, err := encoder.New("json")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, enc.Encode(&buf, sample()))

	var decoded types.ResultMatrix
	require.NoError(t, sonic.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, *sample(), decoded)

	buf.Reset()
	require.NoError(t, enc.Encode(&buf, &types.ResultMatrix{}))
	assert.JSONEq(t, `{"height":0,"width":0,"rows":[]}`, buf.String())
}

func TestPNG(t *testing.T) {
	enc, err := encoder.New("png")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, enc.Encode(&buf, sample()))

	img, err := stdpng.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, 3, img.Bounds().Dx())
	assert.Equal(t, 2, img.Bounds().Dy())

	// (row 0, col 0) is 0 and renders black
	r, g, b, _ := img.At(0, 0).RGBA()
	assert.Zero(t, r+g+b)

	assert.Error(t, enc.Encode(&buf, &types.ResultMatrix{}))
}

func TestPNGRescalesOutOfRangeValues(t *testing.T) {
	enc, err := encoder.New("png")
	require.NoError(t, err)

	m := &types.ResultMatrix{Height: 1, Width: 3, Rows: [][]float64{{0, 5, 10}}}
	var buf bytes.Buffer
	require.NoError(t, enc.Encode(&buf, m))

	img, err := stdpng.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, color.RGBAModel.Convert(png.Palette(0.5)), color.RGBAModel.Convert(img.At(1, 0)))
}

func TestPalette(t *testing.T) {
	assert.Equal(t, color.RGBA{A: 255}, png.Palette(0))
	assert.Equal(t, color.RGBA{A: 255}, png.Palette(1))
	assert.Equal(t, color.RGBA{A: 255}, png.Palette(-3))

	mid := png.Palette(0.5)
	assert.NotZero(t, int(mid.R)+int(mid.G)+int(mid.B))
}

func TestWriteFile(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "grid.csv")
	require.NoError(t, encoder.WriteFile(path, "", sample()))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "0.25,0.75,0.125")

	path = filepath.Join(dir, "grid.out")
	require.NoError(t, encoder.WriteFile(path, "json", sample()))

	assert.Error(t, encoder.WriteFile(filepath.Join(dir, "grid.out"), "", sample()))
	assert.Error(t, encoder.WriteFile(filepath.Join(dir, "grid.png"), "", nil))
}

func TestRange(t *testing.T) {
	lo, hi := encoder.Range(&types.ResultMatrix{Rows: [][]float64{{3, -1}, {7}}})
	assert.Equal(t, -1.0, lo)
	assert.Equal(t, 7.0, hi)

	lo, hi = encoder.Range(&types.ResultMatrix{})
	assert.Zero(t, lo)
	assert.Zero(t, hi)
}
