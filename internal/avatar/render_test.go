package avatar

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/charmbracelet/x/ansi"
)

func encodePNG(t *testing.T, img image.Image) string {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png encode failed: %v", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func paint(w, h int, fn func(x, y int) color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, fn(x, y))
		}
	}
	return img
}

var (
	white = color.RGBA{255, 255, 255, 255}
	black = color.RGBA{0, 0, 0, 255}
)

func TestRenderFlatImageUsesSolidBlocks(t *testing.T) {
	r := NewRenderer(nil)
	img := paint(64, 64, func(int, int) color.Color { return color.RGBA{120, 30, 200, 255} })
	out, err := r.Render(encodePNG(t, img))
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}
	if got := ansi.Strip(out); got != "██" {
		t.Fatalf("expected two solid blocks, got %q", got)
	}
	if ansi.StringWidth(out) != Columns {
		t.Fatalf("unexpected width %d", ansi.StringWidth(out))
	}
}

func TestRenderPicksUpperHalfBlock(t *testing.T) {
	r := NewRenderer(nil)
	img := paint(Columns*CellWidth, CellHeight, func(_, y int) color.Color {
		if y < CellHeight/2 {
			return white
		}
		return black
	})
	out, err := r.Render(encodePNG(t, img))
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}
	if got := ansi.Strip(out); got != "▀▀" {
		t.Fatalf("expected upper half blocks, got %q", got)
	}
}

func TestRenderPicksLeftHalfBlockPerCell(t *testing.T) {
	r := NewRenderer(nil)
	img := paint(Columns*CellWidth, CellHeight, func(x, _ int) color.Color {
		if x%CellWidth < 3 {
			return white
		}
		return black
	})
	out, err := r.Render(encodePNG(t, img))
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}
	if got := ansi.Strip(out); got != "▌▌" {
		t.Fatalf("expected left half blocks, got %q", got)
	}
}

func TestRenderRejectsGarbage(t *testing.T) {
	r := NewRenderer(nil)
	out, err := r.Render("!!not base64!!")
	if err == nil {
		t.Fatalf("expected base64 error")
	}
	if out != Blank() {
		t.Fatalf("expected blank art on error, got %q", out)
	}
	if _, err := r.Render(base64.StdEncoding.EncodeToString([]byte("not an image"))); err == nil {
		t.Fatalf("expected image decode error")
	}
}

func TestCalibrationIsSharedAcrossRenderers(t *testing.T) {
	cal := NewCalibration()
	a := NewRenderer(cal)
	b := NewRenderer(cal)
	img := paint(20, 20, func(x, y int) color.Color {
		if (x+y)%2 == 0 {
			return white
		}
		return black
	})
	if a.RenderImage(img) != b.RenderImage(img) {
		t.Fatalf("renderers sharing a calibration disagree")
	}
}

func TestResizeAveragesDownscaledRegions(t *testing.T) {
	img := paint(512, 64, func(x, _ int) color.Color {
		if x < 256 {
			return white
		}
		return color.RGBA{0, 0, 0, 0}
	})
	px := resize(img, Columns*CellWidth, CellHeight)
	if len(px) != CellHeight || len(px[0]) != Columns*CellWidth {
		t.Fatalf("unexpected size %dx%d", len(px[0]), len(px))
	}
	left, right := px[CellHeight/2][0], px[CellHeight/2][Columns*CellWidth-1]
	if left.luma() < 250 || right.luma() > 5 {
		t.Fatalf("unexpected edge colours: left %+v, right %+v", left, right)
	}
}

func TestResizeEmptyImage(t *testing.T) {
	px := resize(image.NewRGBA(image.Rect(0, 0, 0, 0)), 4, 2)
	if len(px) != 2 || len(px[1]) != 4 || px[1][3] != (rgb{}) {
		t.Fatalf("unexpected pixels %+v", px)
	}
}
