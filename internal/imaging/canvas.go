package imaging

import (
	"bytes"
	"fmt"
	"log/slog"
	"sync"
)

// Image is an encoded image handed to extension code. Width and Height come
// from a header probe; pixels are decoded only when a canvas is encoded.
type Image struct {
	Data   []byte
	Width  int
	Height int
}

// NewImage wraps data and probes its dimensions.
func NewImage(data []byte) *Image {
	w, h := ProbeDimensions(data)
	return &Image{Data: data, Width: w, Height: h}
}

// DrawOp is one recorded block copy.
type DrawOp struct {
	Source *Image
	SrcX   int
	SrcY   int
	Width  int
	Height int
	DstX   int
	DstY   int
}

// Canvas records draw operations against a destination of a declared size
// and replays them on Encode.
//
// All entries of one canvas are read from the first entry's source. A
// different source is logged and ignored.
type Canvas struct {
	mu      sync.Mutex
	width   int
	height  int
	queue   []DrawOp
	encoder Encoder
	logger  *slog.Logger
}

// NewCanvas creates an empty canvas. A nil logger discards warnings.
func NewCanvas(encoder Encoder, logger *slog.Logger) *Canvas {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Canvas{encoder: encoder, logger: logger}
}

// SetSize declares the destination dimensions.
func (c *Canvas) SetSize(width, height int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.width, c.height = width, height
}

// Size returns the declared destination dimensions.
func (c *Canvas) Size() (width, height int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.width, c.height
}

// DrawImage enqueues a copy of the srcW x srcH block at (srcX, srcY) of img to
// (dstX, dstY). Nothing is copied until Encode.
func (c *Canvas) DrawImage(img *Image, srcX, srcY, srcW, srcH, dstX, dstY int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queue = append(c.queue, DrawOp{
		Source: img,
		SrcX:   srcX,
		SrcY:   srcY,
		Width:  srcW,
		Height: srcH,
		DstX:   dstX,
		DstY:   dstY,
	})
}

// Pending returns the number of queued operations.
func (c *Canvas) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Encode replays the queue and re-encodes the result in the source's format.
// It returns nil when nothing was drawn. Any failure returns the first
// source's original bytes unchanged.
func (c *Canvas) Encode() (out []byte) {
	c.mu.Lock()
	width, height := c.width, c.height
	queue := append([]DrawOp(nil), c.queue...)
	c.mu.Unlock()

	if len(queue) == 0 || queue[0].Source == nil {
		return nil
	}
	original := queue[0].Source.Data

	defer func() {
		if r := recover(); r != nil {
			c.logger.Warn("canvas encode panicked, returning original image", "panic", fmt.Sprint(r))
			out = original
		}
	}()

	src, format, err := DecodeLimit(original, c.encoder.MaxPixels)
	if err != nil {
		c.logger.Warn("canvas source decode failed, returning original image", "error", err)
		return original
	}

	if width <= 0 || height <= 0 {
		width, height = src.Width, src.Height
	}
	if err := CheckSize(width, height, c.encoder.MaxPixels); err != nil {
		c.logger.Warn("canvas size rejected, returning original image", "error", err)
		return original
	}
	dst := NewSampleBuffer(width, height)

	warned := false
	for _, op := range queue {
		if !warned && !sameSource(op.Source, queue[0].Source) {
			c.logger.Warn("canvas draws from more than one source image; using the first",
				"entries", len(queue))
			warned = true
		}
		Blit(dst, src, op)
	}

	encoded, err := c.encoder.Encode(dst, format)
	if err != nil {
		c.logger.Warn("canvas encode failed, returning original image", "error", err, "format", format)
		return original
	}
	return encoded
}

func sameSource(a, b *Image) bool {
	if a == b {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return bytes.Equal(a.Data, b.Data)
}

// Blit copies op's rectangle from src into dst row by row. The rectangle is
// clamped to both buffers; anything outside is dropped. Blit never reads or
// writes outside either buffer.
func Blit(dst, src *SampleBuffer, op DrawOp) {
	srcX, srcY, dstX, dstY := op.SrcX, op.SrcY, op.DstX, op.DstY
	w, h := op.Width, op.Height

	// Negative offsets shift the rectangle rather than wrapping into
	// the previous row.
	if srcX < 0 {
		w += srcX
		dstX -= srcX
		srcX = 0
	}
	if srcY < 0 {
		h += srcY
		dstY -= srcY
		srcY = 0
	}
	if dstX < 0 {
		w += dstX
		srcX -= dstX
		dstX = 0
	}
	if dstY < 0 {
		h += dstY
		srcY -= dstY
		dstY = 0
	}

	copyW := min(w, src.Width-srcX, dst.Width-dstX)
	copyH := min(h, src.Height-srcY, dst.Height-dstY)
	if copyW <= 0 || copyH <= 0 {
		return
	}

	rowBytes := copyW * 4
	for row := 0; row < copyH; row++ {
		so := ((srcY+row)*src.Width + srcX) * 4
		do := ((dstY+row)*dst.Width + dstX) * 4
		n := min(rowBytes, len(src.Pix)-so, len(dst.Pix)-do)
		if so < 0 || do < 0 || n <= 0 {
			continue
		}
		copy(dst.Pix[do:do+n], src.Pix[so:so+n])
	}
}
