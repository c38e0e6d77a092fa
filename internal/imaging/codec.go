// Package imaging decodes and re-encodes page images and replays the
// block-copy draw queues extensions record to unscramble them.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/gif"
	"image/jpeg"
	"image/png"

	_ "golang.org/x/image/webp" // registers the WebP decoder

	"sourcekit/internal/domain"
)

// Format is a compressed image encoding.
type Format string

const (
	FormatUnknown Format = ""
	FormatPNG     Format = "png"
	FormatJPEG    Format = "jpeg"
	FormatGIF     Format = "gif"
	FormatWebP    Format = "webp"
)

// DefaultJPEGQuality is used when an Encoder has no quality set.
const DefaultJPEGQuality = 90

// DefaultMaxPixels bounds the decoded size of any image or canvas
// (width*height). 64 Mpx is 256 MiB of samples.
const DefaultMaxPixels = 64 << 20

var (
	magicPNG  = []byte("\x89PNG\r\n\x1a\n")
	magicJPEG = []byte{0xFF, 0xD8, 0xFF}
	magicGIF7 = []byte("GIF87a")
	magicGIF9 = []byte("GIF89a")
)

// DetectFormat identifies the encoding from magic bytes.
func DetectFormat(data []byte) Format {
	switch {
	case bytes.HasPrefix(data, magicPNG):
		return FormatPNG
	case bytes.HasPrefix(data, magicJPEG):
		return FormatJPEG
	case bytes.HasPrefix(data, magicGIF7), bytes.HasPrefix(data, magicGIF9):
		return FormatGIF
	case len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WEBP":
		return FormatWebP
	}
	return FormatUnknown
}

// ProbeDimensions reads only the encoded header. Unknown or malformed input
// yields (0, 0).
func ProbeDimensions(data []byte) (width, height int) {
	if DetectFormat(data) == FormatUnknown {
		return 0, 0
	}
	defer func() {
		if r := recover(); r != nil {
			width, height = 0, 0
		}
	}()
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil || cfg.Width < 0 || cfg.Height < 0 {
		return 0, 0
	}
	return cfg.Width, cfg.Height
}

// SampleBuffer is a decoded image as interleaved, non-premultiplied RGBA
// samples in row-major order. len(Pix) == Width*Height*4.
type SampleBuffer struct {
	Width  int
	Height int
	Pix    []byte
}

// NewSampleBuffer allocates a zeroed (transparent) buffer.
func NewSampleBuffer(width, height int) *SampleBuffer {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	return &SampleBuffer{Width: width, Height: height, Pix: make([]byte, width*height*4)}
}

func (b *SampleBuffer) image() *image.NRGBA {
	return &image.NRGBA{Pix: b.Pix, Stride: b.Width * 4, Rect: image.Rect(0, 0, b.Width, b.Height)}
}

// CheckSize reports whether a width x height RGBA buffer is non-empty and
// within maxPixels. maxPixels <= 0 means DefaultMaxPixels.
func CheckSize(width, height, maxPixels int) error {
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	switch {
	case width <= 0 || height <= 0:
		return fmt.Errorf("invalid size %dx%d", width, height)
	case width > maxPixels/height:
		return fmt.Errorf("size %dx%d exceeds %d pixels", width, height, maxPixels)
	}
	return nil
}

// Decode fully decodes data with the default pixel limit. Any failure wraps
// domain.ErrDecode.
func Decode(data []byte) (*SampleBuffer, Format, error) {
	return DecodeLimit(data, DefaultMaxPixels)
}

// DecodeLimit is Decode with an explicit pixel limit. The header is checked
// against maxPixels before any pixel memory is allocated.
func DecodeLimit(data []byte, maxPixels int) (buf *SampleBuffer, format Format, err error) {
	format = DetectFormat(data)
	if format == FormatUnknown {
		return nil, FormatUnknown, domain.NewDomainError("imaging.Decode", domain.ErrDecode, "unrecognized image header")
	}
	defer func() {
		if r := recover(); r != nil {
			buf, err = nil, domain.NewDomainError("imaging.Decode", domain.ErrDecode, fmt.Sprintf("panic: %v", r))
		}
	}()

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, format, domain.NewDomainError("imaging.Decode", domain.ErrDecode, err.Error())
	}
	if err := CheckSize(cfg.Width, cfg.Height, maxPixels); err != nil {
		return nil, format, domain.NewDomainError("imaging.Decode", domain.ErrDecode, err.Error())
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, format, domain.NewDomainError("imaging.Decode", domain.ErrDecode, err.Error())
	}
	return toSamples(img), format, nil
}

func toSamples(img image.Image) *SampleBuffer {
	b := img.Bounds()
	if n, ok := img.(*image.NRGBA); ok && b.Min == (image.Point{}) && n.Stride == b.Dx()*4 {
		return &SampleBuffer{Width: b.Dx(), Height: b.Dy(), Pix: n.Pix[:b.Dx()*b.Dy()*4]}
	}
	buf := NewSampleBuffer(b.Dx(), b.Dy())
	dst := buf.image()
	draw.Draw(dst, dst.Rect, img, b.Min, draw.Src)
	return buf
}

// Encoder re-encodes sample buffers.
type Encoder struct {
	JPEGQuality int
	// MaxPixels caps decoded sources and canvases. Zero means DefaultMaxPixels.
	MaxPixels   int
}

// Encode encodes buf with default settings.
func Encode(buf *SampleBuffer, format Format) ([]byte, error) {
	return Encoder{}.Encode(buf, format)
}

// Encode compresses buf into format. WebP has no encoder in the stack, so
// WebP sources come back as PNG.
func (e Encoder) Encode(buf *SampleBuffer, format Format) ([]byte, error) {
	if buf == nil || len(buf.Pix) != buf.Width*buf.Height*4 {
		return nil, domain.NewDomainError("imaging.Encode", domain.ErrEncode, "sample buffer size mismatch")
	}
	var out bytes.Buffer
	var err error
	img := buf.image()
	switch format {
	case FormatJPEG:
		q := e.JPEGQuality
		if q <= 0 || q > 100 {
			q = DefaultJPEGQuality
		}
		err = jpeg.Encode(&out, img, &jpeg.Options{Quality: q})
	case FormatGIF:
		err = gif.Encode(&out, img, &gif.Options{NumColors: 256})
	case FormatPNG, FormatWebP:
		err = png.Encode(&out, img)
	default:
		return nil, domain.NewDomainError("imaging.Encode", domain.ErrEncode, fmt.Sprintf("unsupported format %q", format))
	}
	if err != nil {
		return nil, domain.NewDomainError("imaging.Encode", domain.ErrEncode, err.Error())
	}
	return out.Bytes(), nil
}
