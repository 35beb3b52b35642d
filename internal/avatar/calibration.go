package avatar

import "math"

const (
	CellWidth  = 7
	CellHeight = 16
	Columns    = 2

	// Only the lowest horizontal/vertical frequencies take part in
	// matching; block glyphs carry no energy above them.
	freqX = 3
	freqY = 4
)

// glyph is one palette entry: a rune, the pixels it paints with the
// foreground colour, and the DCT of that mask used for matching.
type glyph struct {
	r      rune
	mask   [CellHeight][CellWidth]bool
	coeffs []float64
	norm   float64
}

// Calibration holds the DCT basis and the per-glyph coefficient tables.
// It is computed once by NewCalibration and never mutated afterwards,
// so a single value can be shared by every renderer.
type Calibration struct {
	basis  [][CellHeight][CellWidth]float64
	glyphs []glyph
	solid  rune
}

// Quadrant bits: top-left, top-right, bottom-left, bottom-right.
var quadrantGlyphs = []struct {
	r    rune
	bits [4]bool
}{
	{'▀', [4]bool{true, true, false, false}},
	{'▄', [4]bool{false, false, true, true}},
	{'▌', [4]bool{true, false, true, false}},
	{'▐', [4]bool{false, true, false, true}},
	{'▘', [4]bool{true, false, false, false}},
	{'▝', [4]bool{false, true, false, false}},
	{'▖', [4]bool{false, false, true, false}},
	{'▗', [4]bool{false, false, false, true}},
	{'▚', [4]bool{true, false, false, true}},
	{'▞', [4]bool{false, true, true, false}},
	{'▛', [4]bool{true, true, true, false}},
	{'▜', [4]bool{true, true, false, true}},
	{'▙', [4]bool{true, false, true, true}},
	{'▟', [4]bool{false, true, true, true}},
}

func NewCalibration() *Calibration {
	c := &Calibration{solid: '█'}
	for v := 0; v < freqY; v++ {
		for u := 0; u < freqX; u++ {
			if u == 0 && v == 0 {
				continue
			}
			var b [CellHeight][CellWidth]float64
			for y := 0; y < CellHeight; y++ {
				for x := 0; x < CellWidth; x++ {
					b[y][x] = math.Cos(math.Pi*float64(2*x+1)*float64(u)/(2*CellWidth)) *
						math.Cos(math.Pi*float64(2*y+1)*float64(v)/(2*CellHeight))
				}
			}
			c.basis = append(c.basis, b)
		}
	}

	for _, q := range quadrantGlyphs {
		g := glyph{r: q.r}
		var signal [CellHeight][CellWidth]float64
		for y := 0; y < CellHeight; y++ {
			for x := 0; x < CellWidth; x++ {
				quad := 0
				if 2*x+1 > CellWidth {
					quad++
				}
				if y >= CellHeight/2 {
					quad += 2
				}
				g.mask[y][x] = q.bits[quad]
				if g.mask[y][x] {
					signal[y][x] = 1
				} else {
					signal[y][x] = -1
				}
			}
		}
		g.coeffs = c.transform(&signal)
		for _, k := range g.coeffs {
			g.norm += k * k
		}
		g.norm = math.Sqrt(g.norm)
		c.glyphs = append(c.glyphs, g)
	}
	return c
}

// transform projects a cell onto the low-frequency basis, skipping DC.
func (c *Calibration) transform(cell *[CellHeight][CellWidth]float64) []float64 {
	out := make([]float64, len(c.basis))
	for i := range c.basis {
		var sum float64
		for y := 0; y < CellHeight; y++ {
			for x := 0; x < CellWidth; x++ {
				sum += cell[y][x] * c.basis[i][y][x]
			}
		}
		out[i] = sum
	}
	return out
}

// match returns the glyph whose pattern correlates best with the luma of
// a cell, or nil when the cell is too flat for any pattern to matter.
func (c *Calibration) match(luma *[CellHeight][CellWidth]float64) *glyph {
	var mean float64
	for y := 0; y < CellHeight; y++ {
		for x := 0; x < CellWidth; x++ {
			mean += luma[y][x]
		}
	}
	mean /= CellWidth * CellHeight

	var centred [CellHeight][CellWidth]float64
	for y := 0; y < CellHeight; y++ {
		for x := 0; x < CellWidth; x++ {
			centred[y][x] = luma[y][x] - mean
		}
	}
	coeffs := c.transform(&centred)

	var best *glyph
	bestScore := flatThreshold
	for i := range c.glyphs {
		g := &c.glyphs[i]
		var dot float64
		for k, v := range coeffs {
			dot += v * g.coeffs[k]
		}
		score := dot / g.norm
		if score > bestScore {
			bestScore = score
			best = g
		}
	}
	return best
}

// flatThreshold is the minimum projected contrast, in luma units summed
// over the cell, for a split glyph to be chosen over a solid block.
const flatThreshold = 8.0 * CellWidth * CellHeight / 4
