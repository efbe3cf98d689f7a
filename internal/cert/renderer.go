// Package cert renders issued certificates as PNG images.
package cert

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	canvasWidth  = 1200
	canvasHeight = 850
)

// Renderer draws certificate PNGs with a TTF font loaded at startup.
type Renderer struct {
	font   *truetype.Font
	issuer string
	titler cases.Caser
}

// NewRenderer loads the font at fontPath. The issuer string appears in the
// certificate header.
func NewRenderer(fontPath, issuer string) (*Renderer, error) {
	fontBytes, err := os.ReadFile(fontPath)
	if err != nil {
		return nil, fmt.Errorf("reading font file: %w", err)
	}
	parsed, err := truetype.Parse(fontBytes)
	if err != nil {
		return nil, fmt.Errorf("parsing TTF: %w", err)
	}
	return &Renderer{
		font:   parsed,
		issuer: issuer,
		titler: cases.Title(language.English),
	}, nil
}

func (r *Renderer) face(size float64) font.Face {
	return truetype.NewFace(r.font, &truetype.Options{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingNone,
	})
}

// Render draws the certificate for name, identified by certID, issued at
// issuedAt, and returns the encoded PNG.
func (r *Renderer) Render(name, certID string, issuedAt time.Time) ([]byte, error) {
	if name == "" {
		name = "Learner"
	}
	name = r.titler.String(name)

	dc := gg.NewContext(canvasWidth, canvasHeight)

	dc.SetRGB(1, 1, 1)
	dc.Clear()

	// Double border.
	dc.SetRGB(0.13, 0.22, 0.36)
	dc.SetLineWidth(6)
	dc.DrawRectangle(30, 30, canvasWidth-60, canvasHeight-60)
	dc.Stroke()
	dc.SetLineWidth(2)
	dc.DrawRectangle(44, 44, canvasWidth-88, canvasHeight-88)
	dc.Stroke()

	cx := float64(canvasWidth) / 2

	dc.SetFontFace(r.face(28))
	dc.SetRGB(0.35, 0.35, 0.35)
	dc.DrawStringAnchored(r.issuer, cx, 140, 0.5, 0.5)

	dc.SetFontFace(r.face(56))
	dc.SetRGB(0.13, 0.22, 0.36)
	dc.DrawStringAnchored("Certificate of Completion", cx, 240, 0.5, 0.5)

	dc.SetFontFace(r.face(24))
	dc.SetRGB(0.35, 0.35, 0.35)
	dc.DrawStringAnchored("This certifies that", cx, 340, 0.5, 0.5)

	dc.SetFontFace(r.face(64))
	dc.SetRGB(0.1, 0.1, 0.1)
	dc.DrawStringAnchored(name, cx, 430, 0.5, 0.5)

	dc.SetFontFace(r.face(24))
	dc.SetRGB(0.35, 0.35, 0.35)
	dc.DrawStringAnchored("has completed the full curriculum", cx, 520, 0.5, 0.5)

	dc.SetFontFace(r.face(20))
	dc.SetRGB(0.45, 0.45, 0.45)
	dc.DrawStringAnchored(issuedAt.UTC().Format("January 2, 2006"), cx, 660, 0.5, 0.5)
	dc.DrawStringAnchored("Certificate ID: "+certID, cx, 700, 0.5, 0.5)

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}
