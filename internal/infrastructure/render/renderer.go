// Package render draws the printable static QR assets.
package render

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/jung-kurt/gofpdf"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/turtacn/qrgate/internal/domain/service"
)

// QRRenderer implements service.AssetRenderer.
type QRRenderer struct {
	pngSize int
	level   qrcode.RecoveryLevel
}

var _ service.AssetRenderer = (*QRRenderer)(nil)

// NewQRRenderer returns a renderer producing pngSize x pngSize PNGs.
// Printed codes use the high recovery level to survive wear.
func NewQRRenderer(pngSize int) *QRRenderer {
	if pngSize <= 0 {
		pngSize = 512
	}
	return &QRRenderer{pngSize: pngSize, level: qrcode.High}
}

func (r *QRRenderer) PNG(content string) ([]byte, error) {
	png, err := qrcode.Encode(content, r.level, r.pngSize)
	if err != nil {
		return nil, fmt.Errorf("encode qr png: %w", err)
	}
	return png, nil
}

// SVG renders one rect per dark module. The bitmap already includes the quiet zone.
func (r *QRRenderer) SVG(content string) ([]byte, error) {
	q, err := qrcode.New(content, r.level)
	if err != nil {
		return nil, fmt.Errorf("encode qr svg: %w", err)
	}
	bitmap := q.Bitmap()
	n := len(bitmap)

	var b strings.Builder
	fmt.Fprintf(&b, `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 %d %d" shape-rendering="crispEdges">`, n, n)
	fmt.Fprintf(&b, `<rect width="%d" height="%d" fill="#fff"/>`, n, n)
	b.WriteString(`<path fill="#000" d="`)
	for y, row := range bitmap {
		for x, dark := range row {
			if dark {
				fmt.Fprintf(&b, "M%d %dh1v1h-1z", x, y)
			}
		}
	}
	b.WriteString(`"/></svg>`)
	return []byte(b.String()), nil
}

// PrintPDF lays out an A4 poster: title, subtitle, the code, and the URL in
// small print underneath.
func (r *QRRenderer) PrintPDF(title, subtitle, content string) ([]byte, error) {
	png, err := r.PNG(content)
	if err != nil {
		return nil, err
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(title, true)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetFont("Helvetica", "B", 28)
	pdf.CellFormat(0, 16, tr(title), "", 1, "C", false, 0, "")
	pdf.SetFont("Helvetica", "", 18)
	pdf.CellFormat(0, 12, tr(subtitle), "", 1, "C", false, 0, "")

	opts := gofpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader("qr", opts, bytes.NewReader(png))
	const side = 140.0
	pageW, _ := pdf.GetPageSize()
	pdf.ImageOptions("qr", (pageW-side)/2, 60, side, side, false, opts, 0, "")

	pdf.SetY(60 + side + 8)
	pdf.SetFont("Courier", "", 9)
	pdf.MultiCell(0, 5, content, "", "C", false)

	var out bytes.Buffer
	if err := pdf.Output(&out); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return out.Bytes(), nil
}
