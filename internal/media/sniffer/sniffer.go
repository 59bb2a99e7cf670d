package sniffer

import (
	"bytes"
	"errors"

	"github.com/gabriel-vasile/mimetype"

	"musicaltracker/api/internal/media"
)

var ErrUnknownType = errors.New("unknown media type")

type Result struct {
	Format media.Format
	MIME   string
}

// DetectHead classifies data by its leading bytes. Only formats on the
// allow-list are recognised; client-declared names and headers play no part.
func DetectHead(head []byte) (Result, error) {
	if len(head) == 0 {
		return Result{}, ErrUnknownType
	}

	if isJPEG(head) {
		return Result{Format: media.FormatJPEG, MIME: "image/jpeg"}, nil
	}
	if isPNG(head) {
		return Result{Format: media.FormatPNG, MIME: "image/png"}, nil
	}
	if isWEBP(head) {
		return Result{Format: media.FormatWEBP, MIME: "image/webp"}, nil
	}

	return Result{}, ErrUnknownType
}

// Describe names whatever the content looks like, for diagnostics on rejected
// uploads.
func Describe(data []byte) string {
	return mimetype.Detect(data).String()
}

func isJPEG(head []byte) bool {
	return len(head) > 3 &&
		head[0] == 0xff &&
		head[1] == 0xd8 &&
		head[2] == 0xff
}

func isPNG(head []byte) bool {
	pngMagic := []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}
	return len(head) >= len(pngMagic) && bytes.Equal(head[:len(pngMagic)], pngMagic)
}

func isWEBP(head []byte) bool {
	return len(head) >= 12 &&
		bytes.Equal(head[:4], []byte("RIFF")) &&
		bytes.Equal(head[8:12], []byte("WEBP"))
}
