// Package qr renders session payloads as QR PNG images for projector display.
package qr

import (
	"bytes"
	"image/png"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/qr"
)

// DefaultSize is the rendered edge length in pixels.
const DefaultSize = 256

// EncodePNG renders the payload JSON as a square QR PNG. Medium error
// correction keeps the code scannable from the back of a room while leaving
// capacity for the JSON payload.
func EncodePNG(payload []byte, size int) ([]byte, error) {
	if size <= 0 {
		size = DefaultSize
	}
	code, err := qr.Encode(string(payload), qr.M, qr.Auto)
	if err != nil {
		return nil, err
	}
	scaled, err := barcode.Scale(code, size, size)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, scaled); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
