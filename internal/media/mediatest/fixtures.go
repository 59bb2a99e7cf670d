// Package mediatest builds in-memory image fixtures for tests.
package mediatest

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/jpeg"
	"image/png"
)

// Gradient returns a w×h image with enough variation that encoders cannot
// collapse it to a few bytes.
func Gradient(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			px := row[x*4 : x*4+4]
			px[0], px[1], px[2], px[3] = uint8(x*7), uint8(y*5), uint8((x+y)*3), 255
		}
	}
	return img
}

func PNG(w, h int) []byte {
	var buf bytes.Buffer
	if err := png.Encode(&buf, Gradient(w, h)); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func JPEG(w, h, quality int) []byte {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, Gradient(w, h), &jpeg.Options{Quality: quality}); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// Pad appends zero bytes until data is exactly size bytes long. The PNG and
// JPEG decoders stop at their end markers, so the result still decodes.
func Pad(data []byte, size int) []byte {
	if len(data) >= size {
		return data
	}
	out := make([]byte, size)
	copy(out, data)
	return out
}

// Declared returns a compact PNG whose header claims w×h pixels. DecodeConfig
// reports the claimed size; a full decode fails because the pixel data is short.
func Declared(w, h int) []byte {
	data := PNG(64, 64)
	// 8-byte signature, then the IHDR chunk: length, type, 13 data bytes, CRC.
	ihdr := data[8+4 : 8+4+4+13]
	binary.BigEndian.PutUint32(ihdr[4:8], uint32(w))
	binary.BigEndian.PutUint32(ihdr[8:12], uint32(h))
	binary.BigEndian.PutUint32(data[8+4+4+13:], crc32.ChecksumIEEE(ihdr))
	return data
}
