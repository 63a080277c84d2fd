package models

import (
	"fmt"
	"math"
)

// GeoTransform describes the placement of a north-up raster grid.
// PixelHeight is negative for rasters whose first row is the northern edge.
type GeoTransform struct {
	// OriginX, OriginY are the map coordinates of the upper-left corner
	OriginX float64 `yaml:"originX"`
	OriginY float64 `yaml:"originY"`

	// PixelWidth, PixelHeight are the pixel sizes in map units
	PixelWidth  float64 `yaml:"pixelWidth"`
	PixelHeight float64 `yaml:"pixelHeight"`
}

// Extent returns the bounding box (minX, minY, maxX, maxY) covered by a grid
// of the given size placed by this transform.
func (gt GeoTransform) Extent(width, height int) (minX, minY, maxX, maxY float64) {
	x0 := gt.OriginX
	x1 := gt.OriginX + gt.PixelWidth*float64(width)
	y0 := gt.OriginY
	y1 := gt.OriginY + gt.PixelHeight*float64(height)
	return math.Min(x0, x1), math.Min(y0, y1), math.Max(x0, x1), math.Max(y0, y1)
}

// Grid is a single raster band held in memory together with its validity mask.
// Cells whose Mask entry is true are invalid (no-data or masked out); their Data
// values carry no meaning and must be excluded from any statistic.
type Grid struct {
	// Width and Height are the dimensions of the band in pixels
	Width  int
	Height int

	// Data holds the cell values in row-major order
	Data []float64

	// Mask flags invalid cells, same length as Data
	Mask []bool

	// Geo places the grid in map coordinates
	Geo GeoTransform

	// CRS is an opaque coordinate reference system identifier (WKT, EPSG code, ...)
	CRS string
}

// NewGrid allocates a fully valid grid of the given size.
func NewGrid(width, height int) *Grid {
	return &Grid{
		Width:  width,
		Height: height,
		Data:   make([]float64, width*height),
		Mask:   make([]bool, width*height),
	}
}

// NewGridFromData wraps existing row-major data. A nil mask means every cell is valid.
func NewGridFromData(width, height int, data []float64, mask []bool) (*Grid, error) {
	if len(data) != width*height {
		return nil, fmt.Errorf("grid data length %d does not match %dx%d", len(data), width, height)
	}
	if mask == nil {
		mask = make([]bool, len(data))
	}
	if len(mask) != len(data) {
		return nil, fmt.Errorf("grid mask length %d does not match data length %d", len(mask), len(data))
	}
	return &Grid{Width: width, Height: height, Data: data, Mask: mask}, nil
}

// Len returns the number of cells.
func (g *Grid) Len() int { return len(g.Data) }

// At returns the value at column x, row y.
func (g *Grid) At(x, y int) float64 { return g.Data[y*g.Width+x] }

// Valid reports whether the cell at column x, row y is valid.
func (g *Grid) Valid(x, y int) bool { return !g.Mask[y*g.Width+x] }

// SameShape reports whether two grids have identical dimensions.
func (g *Grid) SameShape(other *Grid) bool {
	return g.Width == other.Width && g.Height == other.Height
}

// Clone returns a deep copy of the grid.
func (g *Grid) Clone() *Grid {
	c := *g
	c.Data = append([]float64(nil), g.Data...)
	c.Mask = append([]bool(nil), g.Mask...)
	return &c
}

// CountValid returns the number of unmasked cells.
func (g *Grid) CountValid() int {
	n := 0
	for _, m := range g.Mask {
		if !m {
			n++
		}
	}
	return n
}

// ValidValues returns the values of all unmasked cells in row-major order.
func (g *Grid) ValidValues() []float64 {
	values := make([]float64, 0, g.CountValid())
	for i, m := range g.Mask {
		if !m {
			values = append(values, g.Data[i])
		}
	}
	return values
}

// Min returns the smallest valid value, and false when no cell is valid.
func (g *Grid) Min() (float64, bool) {
	min := math.Inf(1)
	found := false
	for i, m := range g.Mask {
		if m {
			continue
		}
		found = true
		if g.Data[i] < min {
			min = g.Data[i]
		}
	}
	return min, found
}

// BandPair associates a band of the reference product with the band of the
// candidate (high-resolution TOA) product covering the same wavelength range.
// Indices are 1-based.
type BandPair struct {
	ReferenceIndex int
	CandidateIndex int
	ReferenceName  string
	CandidateName  string
}

func (p BandPair) String() string {
	return fmt.Sprintf("[%s, %s]", p.ReferenceName, p.CandidateName)
}

// FittedModel is the per band pair linear mapping candidate -> reference.
type FittedModel struct {
	Intercept   float64
	Slope       float64
	SampleCount int

	// Score is the coefficient of determination (r squared for RMA)
	Score float64

	Method RegressionModel
}

// Predict evaluates the model at x. Values outside the training range are not clamped.
func (m FittedModel) Predict(x float64) float64 {
	return m.Intercept + m.Slope*x
}

// PredictionBand is a full-resolution predicted band with the candidate's
// own no-data mask re-applied.
type PredictionBand struct {
	Grid  *Grid
	Pair  BandPair
	Model FittedModel
}

// OutputStack is the ordered multi-band result of a run, ready for persistence.
// Every no-data cell already holds the NoData value.
type OutputStack struct {
	Width  int
	Height int

	// Bands holds one row-major value slice per output band
	Bands [][]float64

	// Descriptions holds the human-readable name of each band
	Descriptions []string

	NoData float64
	Geo    GeoTransform
	CRS    string
}

// BandCount returns the number of bands in the stack.
func (s *OutputStack) BandCount() int { return len(s.Bands) }
