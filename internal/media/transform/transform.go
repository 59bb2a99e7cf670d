package transform

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"image/png"
	"math"

	"github.com/disintegration/gift"
	_ "golang.org/x/image/webp"

	"musicaltracker/api/internal/media"
)

// Options override the class profile field by field. Zero values keep the
// profile's setting.
type Options struct {
	MaxWidth     int
	MaxHeight    int
	Quality      int
	Format       media.Format
	CropToSquare *bool
}

type Processed struct {
	Data      []byte
	Width     int
	Height    int
	Format    media.Format
	MIME      string
	SizeBytes int64
}

type Transformer struct {
	maxPixels int64
}

func New(maxPixels int64) *Transformer {
	if maxPixels <= 0 {
		maxPixels = media.DefaultMaxPixels
	}
	return &Transformer{maxPixels: maxPixels}
}

// MaxPixels reports the decode budget the transformer enforces.
func (t *Transformer) MaxPixels() int64 {
	return t.maxPixels
}

// Process runs with the default pixel ceiling.
func Process(data []byte, class media.Class, opts *Options) (Processed, error) {
	return New(0).Process(data, class, opts)
}

// Process decodes data, crops or resizes it for class and re-encodes it. The
// returned dimensions are read back from the encoded output.
func (t *Transformer) Process(data []byte, class media.Class, opts *Options) (Processed, error) {
	profile, ok := media.ProfileFor(class)
	if !ok {
		return Processed{}, &media.Error{Kind: media.KindInvalidRequest, Detail: "unknown image type " + string(class)}
	}
	settings := Resolve(profile, opts)
	if !Encodable(settings.Format) {
		return Processed{}, &media.Error{
			Kind:   media.KindInvalidRequest,
			Class:  class,
			Detail: fmt.Sprintf("output format %q is not supported", settings.Format),
		}
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Processed{}, processingError(class, media.ReasonCorruptSource, err)
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); pixels > t.maxPixels {
		e := processingError(class, media.ReasonBufferTooLarge, nil)
		e.Limit, e.Actual = t.maxPixels, pixels
		return Processed{}, e
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Processed{}, processingError(class, media.ReasonCorruptSource, err)
	}

	out := src
	if filters := plan(src.Bounds(), settings); len(filters) > 0 {
		g := gift.New(filters...)
		dst := image.NewNRGBA(g.Bounds(src.Bounds()))
		g.Draw(dst, src)
		out = dst
	}

	var buf bytes.Buffer
	if err := encode(&buf, out, settings); err != nil {
		return Processed{}, processingError(class, media.ReasonUnsupportedOutput, err)
	}

	encoded, _, err := image.DecodeConfig(bytes.NewReader(buf.Bytes()))
	if err != nil {
		return Processed{}, processingError(class, media.ReasonUnsupportedOutput, fmt.Errorf("read back encoded image: %w", err))
	}

	return Processed{
		Data:      buf.Bytes(),
		Width:     encoded.Width,
		Height:    encoded.Height,
		Format:    settings.Format,
		MIME:      settings.Format.MIME(),
		SizeBytes: int64(buf.Len()),
	}, nil
}

// Resolve merges opts over the profile defaults.
func Resolve(profile media.Profile, opts *Options) media.Profile {
	if opts == nil {
		return profile
	}
	if opts.MaxWidth > 0 {
		profile.MaxWidth = opts.MaxWidth
	}
	if opts.MaxHeight > 0 {
		profile.MaxHeight = opts.MaxHeight
	}
	if opts.Quality > 0 && opts.Quality <= 100 {
		profile.Quality = opts.Quality
	}
	if opts.Format != "" {
		profile.Format = opts.Format
	}
	if opts.CropToSquare != nil {
		profile.CropToSquare = *opts.CropToSquare
	}
	return profile
}

func plan(bounds image.Rectangle, settings media.Profile) []gift.Filter {
	w, h := bounds.Dx(), bounds.Dy()
	var filters []gift.Filter

	if settings.CropToSquare {
		side := min(w, h)
		if w != h {
			filters = append(filters, gift.CropToSize(side, side, gift.CenterAnchor))
		}
		if limit := min(settings.MaxWidth, settings.MaxHeight); side > limit {
			filters = append(filters, gift.Resize(limit, limit, gift.LanczosResampling))
		}
		return filters
	}

	tw, th := FitInside(w, h, settings.MaxWidth, settings.MaxHeight)
	if tw != w || th != h {
		filters = append(filters, gift.Resize(tw, th, gift.LanczosResampling))
	}
	return filters
}

// FitInside scales (w, h) down to fit within (maxW, maxH) keeping the aspect
// ratio. It never scales up.
func FitInside(w, h, maxW, maxH int) (int, int) {
	if w <= maxW && h <= maxH {
		return w, h
	}
	scale := math.Min(float64(maxW)/float64(w), float64(maxH)/float64(h))
	tw := int(math.Round(float64(w) * scale))
	th := int(math.Round(float64(h) * scale))
	return clamp(tw, 1, maxW), clamp(th, 1, maxH)
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

// Encodable reports whether Process can write images in format f.
func Encodable(f media.Format) bool {
	return f == media.FormatJPEG || f == media.FormatPNG
}

func encode(buf *bytes.Buffer, img image.Image, settings media.Profile) error {
	switch settings.Format {
	case media.FormatJPEG:
		return jpeg.Encode(buf, flatten(img), &jpeg.Options{Quality: settings.Quality})
	case media.FormatPNG:
		return (&png.Encoder{CompressionLevel: png.BestCompression}).Encode(buf, img)
	default:
		return fmt.Errorf("no encoder for %q", settings.Format)
	}
}

// flatten composes img over white; JPEG has no alpha channel.
func flatten(img image.Image) image.Image {
	b := img.Bounds()
	canvas := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(canvas, canvas.Bounds(), image.White, image.Point{}, draw.Src)
	draw.Draw(canvas, canvas.Bounds(), img, b.Min, draw.Over)
	return canvas
}

func processingError(class media.Class, reason string, err error) *media.Error {
	return &media.Error{Kind: media.KindProcessing, Reason: reason, Class: class, Err: err}
}
