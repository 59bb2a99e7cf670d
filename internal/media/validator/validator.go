// Package validator proves that an upload is a genuine, bounded raster image
// of a format the pipeline accepts. It performs no I/O.
package validator

import (
	"bytes"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-multierror"
	_ "golang.org/x/image/webp"

	"musicaltracker/api/internal/media"
	"musicaltracker/api/internal/media/sniffer"
)

// Result is produced once per upload and not modified afterwards.
type Result struct {
	OK     bool
	MIME   string
	Format media.Format
	Width  int
	Height int
	// ExtensionMismatch is set when the declared filename suggests a different
	// format than the content. It never affects the outcome.
	ExtensionMismatch bool
	Problems          []*media.Error
}

// Err folds the problems into a single error: nil, the lone problem, or a
// multi-error listing all of them.
func (r Result) Err() error {
	switch len(r.Problems) {
	case 0:
		return nil
	case 1:
		return r.Problems[0]
	}
	errs := make([]error, 0, len(r.Problems))
	for _, p := range r.Problems {
		errs = append(errs, p)
	}
	return multierror.Append(nil, errs...)
}

// Validator carries the decode budget applied before any pixel data is read.
type Validator struct {
	maxPixels int64
}

func New(maxPixels int64) *Validator {
	if maxPixels <= 0 {
		maxPixels = media.DefaultMaxPixels
	}
	return &Validator{maxPixels: maxPixels}
}

// Validate runs with the default pixel budget.
func Validate(data []byte, filename string, class media.Class) Result {
	return New(0).Validate(data, filename, class)
}

func (v *Validator) Validate(data []byte, filename string, class media.Class) Result {
	profile, ok := media.ProfileFor(class)
	if !ok {
		return reject(&media.Error{Kind: media.KindInvalidRequest, Detail: "unknown image type " + string(class)})
	}

	if len(data) < media.MinUploadBytes {
		return reject(&media.Error{
			Kind:   media.KindMalformedInput,
			Class:  class,
			Limit:  media.MinUploadBytes,
			Actual: int64(len(data)),
		})
	}

	var res Result
	if size := int64(len(data)); size > profile.MaxBytes {
		res.Problems = append(res.Problems, &media.Error{
			Kind:   media.KindSizeExceeded,
			Class:  class,
			Limit:  profile.MaxBytes,
			Actual: size,
		})
	}

	sniffed, err := sniffer.DetectHead(data)
	if err != nil {
		res.Problems = append(res.Problems, &media.Error{
			Kind:   media.KindUnsupportedFormat,
			Class:  class,
			Detail: sniffer.Describe(data),
		})
		return res
	}
	res.MIME = sniffed.MIME
	res.Format = sniffed.Format
	res.ExtensionMismatch = extensionMismatch(filename, sniffed.Format)

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		res.Problems = append(res.Problems, &media.Error{Kind: media.KindCorruptImage, Class: class, Err: err})
		return res
	}
	res.Width, res.Height = cfg.Width, cfg.Height

	if edge := min(cfg.Width, cfg.Height); edge < media.MinEdge {
		res.Problems = append(res.Problems, &media.Error{
			Kind:   media.KindDimensionOutOfRange,
			Reason: media.ReasonTooSmall,
			Class:  class,
			Limit:  media.MinEdge,
			Actual: int64(edge),
		})
	}
	if edge := max(cfg.Width, cfg.Height); edge > media.MaxEdge {
		res.Problems = append(res.Problems, &media.Error{
			Kind:   media.KindDimensionOutOfRange,
			Reason: media.ReasonTooLarge,
			Class:  class,
			Limit:  media.MaxEdge,
			Actual: int64(edge),
		})
	}
	if len(res.Problems) > 0 {
		return res
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); pixels > v.maxPixels {
		res.Problems = append(res.Problems, &media.Error{
			Kind:   media.KindDimensionOutOfRange,
			Reason: media.ReasonTooManyPixels,
			Class:  class,
			Limit:  v.maxPixels,
			Actual: pixels,
		})
		return res
	}

	// The header can be intact while the pixel data is truncated.
	if _, _, err := image.Decode(bytes.NewReader(data)); err != nil {
		res.Problems = append(res.Problems, &media.Error{Kind: media.KindCorruptImage, Class: class, Err: err})
		return res
	}

	res.OK = true
	return res
}

func reject(problem *media.Error) Result {
	return Result{Problems: []*media.Error{problem}}
}

func extensionMismatch(filename string, format media.Format) bool {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
	switch ext {
	case "":
		return false
	case "jpg", "jpeg", "jpe":
		return format != media.FormatJPEG
	case "png":
		return format != media.FormatPNG
	case "webp":
		return format != media.FormatWEBP
	}
	return true
}
