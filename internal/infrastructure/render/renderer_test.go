package render

import (
	"bytes"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const discoveryURL = "https://gym.example.com/qr/static/gym-1/ENTRY"

func TestQRRenderer_PNG(t *testing.T) {
	r := NewQRRenderer(256)
	out, err := r.PNG(discoveryURL)
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 256, img.Bounds().Dx())
}

func TestQRRenderer_SVG(t *testing.T) {
	out, err := NewQRRenderer(0).SVG(discoveryURL)
	require.NoError(t, err)

	s := string(out)
	assert.True(t, bytes.HasPrefix(out, []byte("<svg ")))
	assert.Contains(t, s, "viewBox=")
	assert.Contains(t, s, "h1v1h-1z")
	assert.True(t, bytes.HasSuffix(out, []byte("</svg>")))
}

func TestQRRenderer_PrintPDF(t *testing.T) {
	out, err := NewQRRenderer(256).PrintPDF("Iron Temple", "ENTRY", discoveryURL)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF-")))
}
