package imaging

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	bandOne = color.NRGBA{R: 255, A: 255}
	bandTwo = color.NRGBA{B: 255, A: 255}
)

// twoBandSource is a 2x2 image whose top row is band one and bottom row band two.
func twoBandSource(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	for x := 0; x < 2; x++ {
		img.SetNRGBA(x, 0, bandOne)
		img.SetNRGBA(x, 1, bandTwo)
	}
	return encodePNG(t, img)
}

func rowPixels(c color.NRGBA, n int) []byte {
	return bytes.Repeat([]byte{c.R, c.G, c.B, c.A}, n)
}

func TestCanvasSwapsBands(t *testing.T) {
	src := NewImage(twoBandSource(t))
	require.Equal(t, 2, src.Width)
	require.Equal(t, 2, src.Height)

	c := NewCanvas(Encoder{}, nil)
	c.SetSize(2, 2)
	c.DrawImage(src, 0, 1, 2, 1, 0, 0) // band two -> row 0
	c.DrawImage(src, 0, 0, 2, 1, 0, 1) // band one -> row 1

	out := c.Encode()
	require.NotNil(t, out)
	assert.Equal(t, FormatPNG, DetectFormat(out))

	got, _, err := Decode(out)
	require.NoError(t, err)
	assert.Equal(t, rowPixels(bandTwo, 2), got.Pix[0:8])
	assert.Equal(t, rowPixels(bandOne, 2), got.Pix[8:16])
}

func TestCanvasEmptyQueue(t *testing.T) {
	c := NewCanvas(Encoder{}, nil)
	c.SetSize(10, 10)
	assert.Nil(t, c.Encode())
}

func TestCanvasDefaultsToSourceSize(t *testing.T) {
	src := NewImage(twoBandSource(t))
	c := NewCanvas(Encoder{}, nil)
	c.DrawImage(src, 0, 0, 2, 2, 0, 0)

	got, _, err := Decode(c.Encode())
	require.NoError(t, err)
	assert.Equal(t, 2, got.Width)
	assert.Equal(t, 2, got.Height)
}

func TestCanvasDecodeFailureReturnsOriginal(t *testing.T) {
	original := []byte("not an image at all")
	img := NewImage(original)
	assert.Zero(t, img.Width)

	c := NewCanvas(Encoder{}, nil)
	c.SetSize(4, 4)
	c.DrawImage(img, 0, 0, 4, 4, 0, 0)

	assert.Equal(t, original, c.Encode())
}

func TestCanvasOtherSourceStillReadsFirst(t *testing.T) {
	first := NewImage(twoBandSource(t))
	other := NewImage(encodePNG(t, solidImage(2, 2, color.NRGBA{G: 255, A: 255})))

	c := NewCanvas(Encoder{}, nil)
	c.SetSize(2, 1)
	c.DrawImage(first, 0, 1, 2, 1, 0, 0)
	c.DrawImage(other, 0, 0, 1, 1, 0, 0)

	got, _, err := Decode(c.Encode())
	require.NoError(t, err)
	// The second entry copied pixel (0,0) of the first source, band one.
	assert.Equal(t, rowPixels(bandOne, 1), got.Pix[0:4])
	assert.Equal(t, rowPixels(bandTwo, 1), got.Pix[4:8])
}

func TestBlitBoundsSafety(t *testing.T) {
	src := &SampleBuffer{Width: 4, Height: 4, Pix: bytes.Repeat([]byte{9, 9, 9, 9}, 16)}

	tests := []struct {
		name    string
		dstW    int
		dstH    int
		op      DrawOp
		written int // pixels expected to be written
	}{
		{"exceeds source", 4, 4, DrawOp{SrcX: 2, SrcY: 2, Width: 100, Height: 100}, 4},
		{"exceeds destination", 3, 3, DrawOp{Width: 4, Height: 4, DstX: 1, DstY: 1}, 4},
		{"fully outside source", 4, 4, DrawOp{SrcX: 10, SrcY: 10, Width: 2, Height: 2}, 0},
		{"fully outside destination", 2, 2, DrawOp{Width: 2, Height: 2, DstX: 5, DstY: 0}, 0},
		{"zero size", 4, 4, DrawOp{Width: 0, Height: 3}, 0},
		{"negative size", 4, 4, DrawOp{Width: -2, Height: -2}, 0},
		{"negative source offset", 4, 4, DrawOp{SrcX: -1, SrcY: -1, Width: 2, Height: 2}, 1},
		{"negative destination offset", 4, 4, DrawOp{Width: 3, Height: 3, DstX: -2, DstY: 0}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dst := NewSampleBuffer(tt.dstW, tt.dstH)
			assert.NotPanics(t, func() { Blit(dst, src, tt.op) })
			assert.Len(t, dst.Pix, tt.dstW*tt.dstH*4)

			written := 0
			for i := 0; i < len(dst.Pix); i += 4 {
				if dst.Pix[i] == 9 {
					written++
				}
			}
			assert.Equal(t, tt.written, written)
		})
	}
}

func TestCanvasSizeLimits(t *testing.T) {
	original := twoBandSource(t)

	tests := []struct {
		name     string
		encoder  Encoder
		w, h     int
		wantOrig bool
	}{
		{"huge declared size", Encoder{}, 200000, 200000, true},
		{"overflowing size", Encoder{}, 1 << 40, 1 << 40, true},
		{"over configured cap", Encoder{MaxPixels: 4}, 3, 2, true},
		{"at configured cap", Encoder{MaxPixels: 4}, 2, 2, false},
		{"non-positive falls back to source size", Encoder{MaxPixels: 4}, -1, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCanvas(tt.encoder, nil)
			c.SetSize(tt.w, tt.h)
			c.DrawImage(NewImage(original), 0, 0, 2, 2, 0, 0)

			out := c.Encode()
			if tt.wantOrig {
				assert.Equal(t, original, out)
				return
			}
			got, _, err := Decode(out)
			require.NoError(t, err)
			assert.Equal(t, 2, got.Width)
			assert.Equal(t, 2, got.Height)
		})
	}
}

func TestCanvasOversizedSourceReturnsOriginal(t *testing.T) {
	original := oversizedPNG(150000, 150000)

	c := NewCanvas(Encoder{}, nil)
	c.SetSize(2, 2)
	c.DrawImage(NewImage(original), 0, 0, 2, 2, 0, 0)
	assert.Equal(t, original, c.Encode())
}

func TestBlitRowArithmetic(t *testing.T) {
	// 3x3 source where each pixel's first sample is its linear index.
	src := NewSampleBuffer(3, 3)
	for i := 0; i < 9; i++ {
		src.Pix[i*4] = byte(i)
		src.Pix[i*4+3] = 255
	}
	dst := NewSampleBuffer(4, 2)

	Blit(dst, src, DrawOp{SrcX: 1, SrcY: 1, Width: 2, Height: 2, DstX: 2, DstY: 0})

	// Row 0 of dst, columns 2..3 = source (1,1),(2,1) = indices 4,5.
	assert.Equal(t, byte(4), dst.Pix[(0*4+2)*4])
	assert.Equal(t, byte(5), dst.Pix[(0*4+3)*4])
	// Row 1 of dst, columns 2..3 = source (1,2),(2,2) = indices 7,8.
	assert.Equal(t, byte(7), dst.Pix[(1*4+2)*4])
	assert.Equal(t, byte(8), dst.Pix[(1*4+3)*4])
	// Untouched pixels stay transparent.
	assert.Equal(t, byte(0), dst.Pix[3])
}

func TestCanvasJPEGSourceKeepsFormat(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, solidImage(8, 8, bandOne), nil))
	src := NewImage(buf.Bytes())

	c := NewCanvas(Encoder{JPEGQuality: 70}, nil)
	c.DrawImage(src, 0, 0, 8, 4, 0, 4)
	assert.Equal(t, FormatJPEG, DetectFormat(c.Encode()))
}
