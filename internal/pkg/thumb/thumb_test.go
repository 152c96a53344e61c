package thumb

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 64, A: 255})
		}
	}
	return img
}

func TestGenerate(t *testing.T) {
	tests := []struct {
		name       string
		srcW, srcH int
		dstW, dstH int
	}{
		{"横图缩放裁剪", 1600, 900, 90, 39},
		{"竖图缩放裁剪", 900, 1600, 90, 39},
		{"源图小于目标", 40, 20, 90, 39},
		{"等比例", 180, 78, 90, 39},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Generate(testImage(tt.srcW, tt.srcH), tt.dstW, tt.dstH)
			// 铺满裁剪后始终得到精确的目标尺寸，无黑边
			assert.Equal(t, tt.dstW, out.Bounds().Dx())
			assert.Equal(t, tt.dstH, out.Bounds().Dy())
		})
	}
}

func TestGenerateToFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.png")
	dst := filepath.Join(dir, "nested", "out.png")

	f, err := os.Create(src)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, testImage(320, 240)))
	require.NoError(t, f.Close())

	require.NoError(t, GenerateToFile(src, dst, 90, 39))

	out, err := os.Open(dst)
	require.NoError(t, err)
	defer out.Close()
	cfg, _, err := image.DecodeConfig(out)
	require.NoError(t, err)
	assert.Equal(t, 90, cfg.Width)
	assert.Equal(t, 39, cfg.Height)
}

func TestGenerateToFile_MissingSource(t *testing.T) {
	dir := t.TempDir()
	err := GenerateToFile(filepath.Join(dir, "missing.png"), filepath.Join(dir, "out.png"), 90, 39)
	assert.Error(t, err)
}

func TestSidecarPath(t *testing.T) {
	assert.Equal(t, "/data/uploads/1/abc.jpg_thumb.png", SidecarPath("/data/uploads/1/abc.jpg", "_thumb"))
}

func TestProbeDimensions(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, testImage(1600, 900)))

	w, h := ProbeDimensions(&buf)
	assert.Equal(t, 1600, w)
	assert.Equal(t, 900, h)

	w, h = ProbeDimensions(bytes.NewReader([]byte("not an image")))
	assert.Equal(t, 0, w)
	assert.Equal(t, 0, h)
}

func TestIsImage(t *testing.T) {
	assert.True(t, IsImage("jpg"))
	assert.True(t, IsImage("jpeg"))
	assert.True(t, IsImage("png"))
	assert.True(t, IsImage("gif"))
	assert.False(t, IsImage("pdf"))
	assert.False(t, IsImage(""))
}
