package qr

import (
	"bytes"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodePNG(t *testing.T) {
	payload := []byte(`{"lectureId":"lec-1","token":"abc123","expiresAt":1700000000000,"generatedAt":1699999940000}`)

	img, err := EncodePNG(payload, 256)
	require.NoError(t, err)

	decoded, err := png.Decode(bytes.NewReader(img))
	require.NoError(t, err)
	require.Equal(t, 256, decoded.Bounds().Dx())
	require.Equal(t, 256, decoded.Bounds().Dy())
}

func TestEncodePNG_DefaultSize(t *testing.T) {
	img, err := EncodePNG([]byte("hello"), 0)
	require.NoError(t, err)

	decoded, err := png.Decode(bytes.NewReader(img))
	require.NoError(t, err)
	require.Equal(t, DefaultSize, decoded.Bounds().Dx())
}
