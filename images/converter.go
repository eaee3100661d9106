package images

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color/palette"
	"image/draw"
	"image/jpeg"
	"image/png"
	"log/slog"
	"math"

	xdraw "golang.org/x/image/draw"
	"pault.ag/go/cbeff/jpeg2000"
)

var (
	ErrEmptyFrame        = errors.New("frame has no data")
	ErrUnsupportedFormat = errors.New("unsupported or invalid image format")
)

// EncodeOptions controls how an uploaded camera frame is normalised.
//
// MaxDimension: if >0, the frame is downscaled so neither side exceeds it
// Colors:       if >0, the frame is palettized (≤256 colors is typical for PNG)
// Compression:  png.DefaultCompression, png.BestCompression, png.BestSpeed, etc.
type EncodeOptions struct {
	MaxDimension int
	Colors       int
	Compression  png.CompressionLevel
}

// Frame is a normalised camera frame ready for storage.
type Frame struct {
	PNG          []byte
	Width        int
	Height       int
	SourceFormat string
}

func (f *Frame) Base64() string {
	return base64.StdEncoding.EncodeToString(f.PNG)
}

// NormalizeFrame decodes a JPEG, JPEG 2000 or PNG frame, bounds its size and
// re-encodes it as PNG.
func NormalizeFrame(data []byte, opts EncodeOptions) (*Frame, error) {
	if len(data) == 0 {
		return nil, ErrEmptyFrame
	}

	img, format, err := decodeImage(data)
	if err != nil {
		return nil, err
	}
	bounds := img.Bounds()
	slog.Debug("Frame decoded", "format", format, "width", bounds.Dx(), "height", bounds.Dy())

	if opts.MaxDimension > 0 {
		img = resizeToFit(img, opts.MaxDimension, opts.MaxDimension)
	}
	encoded, err := encodePNG(img, opts.Colors, opts.Compression)
	if err != nil {
		return nil, fmt.Errorf("failed to encode frame as PNG: %w", err)
	}

	return &Frame{
		PNG:          encoded,
		Width:        img.Bounds().Dx(),
		Height:       img.Bounds().Dy(),
		SourceFormat: format,
	}, nil
}

// decodeImage attempts to decode an image from bytes, trying multiple formats
func decodeImage(data []byte) (image.Image, string, error) {
	if img, err := jpeg.Decode(bytes.NewReader(data)); err == nil {
		return img, "jpeg", nil
	}

	if img, err := jpeg2000.Parse(data); err == nil {
		return img, "jpeg2000", nil
	}

	if img, format, err := image.Decode(bytes.NewReader(data)); err == nil {
		return img, format, nil
	}

	return nil, "", ErrUnsupportedFormat
}

func encodePNG(img image.Image, colors int, level png.CompressionLevel) ([]byte, error) {
	var out = img
	if colors > 0 {
		pal := palette.Plan9
		if colors <= 216 {
			pal = palette.WebSafe
		}
		dst := image.NewPaletted(img.Bounds(), pal)
		draw.FloydSteinberg.Draw(dst, dst.Bounds(), img, img.Bounds().Min)
		out = dst
	}

	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: level}
	if err := enc.Encode(&buf, out); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// resizeToFit scales src to fit within maxW×maxH keeping the aspect ratio.
// Frames that already fit are returned unchanged.
func resizeToFit(src image.Image, maxW, maxH int) image.Image {
	bw := src.Bounds().Dx()
	bh := src.Bounds().Dy()
	if bw == 0 || bh == 0 {
		return src
	}

	scale := math.Min(float64(maxW)/float64(bw), float64(maxH)/float64(bh))
	if scale >= 1.0 {
		return src
	}
	w := int(math.Max(1, math.Round(float64(bw)*scale)))
	h := int(math.Max(1, math.Round(float64(bh)*scale)))

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	// CatmullRom = high quality, good for faces
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Over, nil)
	return dst
}
