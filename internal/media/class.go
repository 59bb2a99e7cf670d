package media

import (
	"fmt"
	"strings"
)

// Class is the usage category of an uploaded image. Every pipeline stage
// dispatches on it; none of them infer it from content.
type Class string

const (
	ClassPoster    Class = "poster"
	ClassProfile   Class = "profile"
	ClassThumbnail Class = "thumbnail"
)

type Format string

const (
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
	FormatWEBP Format = "webp"
)

// MIME returns the canonical content type for the format.
func (f Format) MIME() string {
	switch f {
	case FormatJPEG:
		return "image/jpeg"
	case FormatPNG:
		return "image/png"
	case FormatWEBP:
		return "image/webp"
	}
	return "application/octet-stream"
}

// Ext returns the file extension used in storage keys.
func (f Format) Ext() string {
	switch f {
	case FormatJPEG:
		return "jpg"
	case FormatPNG:
		return "png"
	case FormatWEBP:
		return "webp"
	}
	return "bin"
}

const (
	MiB = 1 << 20

	// MinUploadBytes is the floor below which a buffer cannot hold a real image.
	MinUploadBytes = 100

	MinEdge = 10
	MaxEdge = 10000

	// DefaultMaxPixels bounds the decoded RGBA buffer (about 200MB).
	DefaultMaxPixels = 50_000_000
)

// Profile holds everything a stage needs to know about a class.
type Profile struct {
	MaxBytes     int64
	MaxWidth     int
	MaxHeight    int
	Quality      int
	Format       Format
	CropToSquare bool
}

var profiles = map[Class]Profile{
	ClassPoster: {
		MaxBytes:  5 * MiB,
		MaxWidth:  1200,
		MaxHeight: 1800,
		Quality:   85,
		Format:    FormatJPEG,
	},
	ClassProfile: {
		MaxBytes:     2 * MiB,
		MaxWidth:     400,
		MaxHeight:    400,
		Quality:      90,
		Format:       FormatJPEG,
		CropToSquare: true,
	},
	ClassThumbnail: {
		MaxBytes:     1 * MiB,
		MaxWidth:     150,
		MaxHeight:    150,
		Quality:      80,
		Format:       FormatJPEG,
		CropToSquare: true,
	},
}

// Classes lists the known classes in a stable order.
func Classes() []Class {
	return []Class{ClassPoster, ClassProfile, ClassThumbnail}
}

func (c Class) Valid() bool {
	_, ok := profiles[c]
	return ok
}

// ProfileFor returns the processing profile for c. Unknown classes report false.
func ProfileFor(c Class) (Profile, bool) {
	p, ok := profiles[c]
	return p, ok
}

// LargestCeiling is the biggest per-class byte ceiling; request bodies are
// never read past it.
func LargestCeiling() int64 {
	var max int64
	for _, p := range profiles {
		if p.MaxBytes > max {
			max = p.MaxBytes
		}
	}
	return max
}

func ParseClass(s string) (Class, error) {
	c := Class(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("unknown image type %q", s)
	}
	return c, nil
}
