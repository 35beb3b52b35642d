// Package avatar turns profile pictures into a small block of coloured
// terminal glyphs. An image is resized to Columns cells of
// CellWidth x CellHeight pixels and each cell is matched against a
// palette of quadrant block characters by comparing low-frequency DCT
// coefficients; the glyph's foreground and background take the mean
// colour of the pixels on either side of its mask.
package avatar

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/disintegration/imaging"
)

type rgb struct {
	r, g, b float64
}

func (c rgb) luma() float64 {
	return 0.299*c.r + 0.587*c.g + 0.114*c.b
}

func (c rgb) hex() string {
	clamp := func(v float64) int {
		return int(math.Max(0, math.Min(255, math.Round(v))))
	}
	return fmt.Sprintf("#%02x%02x%02x", clamp(c.r), clamp(c.g), clamp(c.b))
}

type Renderer struct {
	cal *Calibration
}

func NewRenderer(cal *Calibration) *Renderer {
	if cal == nil {
		cal = NewCalibration()
	}
	return &Renderer{cal: cal}
}

// Blank is the art used when a picture is missing or undecodable. It
// has the same display width as a rendered avatar.
func Blank() string {
	return strings.Repeat(" ", Columns)
}

// Render decodes a base64 encoded PNG, JPEG or GIF and renders it.
func (r *Renderer) Render(pfp string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(pfp))
	if err != nil {
		return Blank(), fmt.Errorf("avatar base64: %w", err)
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return Blank(), fmt.Errorf("avatar image: %w", err)
	}
	return r.RenderImage(img), nil
}

func (r *Renderer) RenderImage(img image.Image) string {
	pixels := resize(img, Columns*CellWidth, CellHeight)
	var out strings.Builder
	for col := 0; col < Columns; col++ {
		var luma [CellHeight][CellWidth]float64
		for y := 0; y < CellHeight; y++ {
			for x := 0; x < CellWidth; x++ {
				luma[y][x] = pixels[y][col*CellWidth+x].luma()
			}
		}
		g := r.cal.match(&luma)

		var fg, bg rgb
		var nfg, nbg float64
		for y := 0; y < CellHeight; y++ {
			for x := 0; x < CellWidth; x++ {
				p := pixels[y][col*CellWidth+x]
				if g == nil || g.mask[y][x] {
					fg.r, fg.g, fg.b = fg.r+p.r, fg.g+p.g, fg.b+p.b
					nfg++
				} else {
					bg.r, bg.g, bg.b = bg.r+p.r, bg.g+p.g, bg.b+p.b
					nbg++
				}
			}
		}
		fg = rgb{fg.r / nfg, fg.g / nfg, fg.b / nfg}
		ch := r.cal.solid
		if g != nil {
			ch = g.r
			bg = rgb{bg.r / nbg, bg.g / nbg, bg.b / nbg}
		} else {
			bg = fg
		}
		style := lipgloss.NewStyle().
			Foreground(lipgloss.Color(fg.hex())).
			Background(lipgloss.Color(bg.hex()))
		out.WriteString(style.Render(string(ch)))
	}
	return out.String()
}

// resize scales img to w x h with a linear filter. Colours are
// premultiplied so transparent areas render dark.
func resize(img image.Image, w, h int) [][]rgb {
	out := make([][]rgb, h)
	for y := range out {
		out[y] = make([]rgb, w)
	}
	if img.Bounds().Empty() {
		return out
	}
	small := imaging.Resize(img, w, h, imaging.Linear)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := small.NRGBAAt(x, y)
			a := float64(c.A) / 255
			out[y][x] = rgb{float64(c.R) * a, float64(c.G) * a, float64(c.B) * a}
		}
	}
	return out
}
