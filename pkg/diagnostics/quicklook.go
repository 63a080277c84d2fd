package diagnostics

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"srlite/internal/models"
)

// Quicklook layout
const (
	// MinQuicklookWidth and MaxQuicklookWidth bound the rendered image width
	MinQuicklookWidth = 256
	MaxQuicklookWidth = 1024

	// PlotSize is the side of scatter plots and histograms
	PlotSize = 256

	headerHeight = 18
	jpegQuality  = 90
)

var (
	backgroundColor = color.RGBA{255, 255, 255, 255}
	textColor       = color.RGBA{0, 0, 0, 255}
	pointColor      = color.RGBA{40, 90, 200, 255}
	lineColor       = color.RGBA{220, 30, 30, 255}
)

// QuicklookSink renders grids, histograms and fits as JPEG images in a
// directory unique to the run. Traces are ignored.
type QuicklookSink struct {
	dir string
	log logrus.FieldLogger

	mu    sync.Mutex
	count int
}

// NewQuicklookSink creates baseDir/<run id> and renders into it
func NewQuicklookSink(baseDir string, log logrus.FieldLogger) (*QuicklookSink, error) {
	dir := filepath.Join(baseDir, uuid.NewString())
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create quicklook directory: %w", err)
	}
	return &QuicklookSink{dir: dir, log: log}, nil
}

// Dir returns the directory receiving the quicklooks
func (s *QuicklookSink) Dir() string { return s.dir }

func (s *QuicklookSink) Trace(string, map[string]interface{}) {}

func (s *QuicklookSink) Grid(label string, g *models.Grid) {
	if g.Len() == 0 {
		return
	}
	s.save(label, labelled(scaleToWidth(gridToGray(g)), label))
}

func (s *QuicklookSink) Histogram(label string, values []float64) {
	_, counts := HistogramCounts(values, DefaultBins)
	if counts == nil {
		return
	}
	img := newCanvas(PlotSize, PlotSize)
	peak := 0.0
	for _, c := range counts {
		peak = math.Max(peak, c)
	}
	barWidth := PlotSize / len(counts)
	for i, c := range counts {
		h := int(c / peak * float64(PlotSize-4))
		bar := image.Rect(i*barWidth+1, PlotSize-h, (i+1)*barWidth-1, PlotSize)
		draw.Draw(img, bar, image.NewUniform(pointColor), image.Point{}, draw.Src)
	}
	s.save(label, labelled(img, label))
}

// Fit plots reference against candidate samples with the fitted line
func (s *QuicklookSink) Fit(label string, x, y []float64, model models.FittedModel) {
	if len(x) == 0 || len(x) != len(y) {
		return
	}
	xmin, xmax := bounds(x)
	ymin, ymax := bounds(y)
	img := newCanvas(PlotSize, PlotSize)

	toPixel := func(vx, vy float64) (int, int) {
		px := int((vx - xmin) / (xmax - xmin) * float64(PlotSize-1))
		py := PlotSize - 1 - int((vy-ymin)/(ymax-ymin)*float64(PlotSize-1))
		return px, py
	}
	for i := range x {
		px, py := toPixel(x[i], y[i])
		img.SetRGBA(px, py, pointColor)
	}
	for px := 0; px < PlotSize; px++ {
		vx := xmin + float64(px)/float64(PlotSize-1)*(xmax-xmin)
		_, py := toPixel(vx, model.Predict(vx))
		if py >= 0 && py < PlotSize {
			img.SetRGBA(px, py, lineColor)
		}
	}

	title := fmt.Sprintf("%s y=%.3g+%.3gx r2=%.3f", label, model.Intercept, model.Slope, model.Score)
	s.save(label, labelled(img, title))
}

// save writes img as the next numbered quicklook. Failures are logged only.
func (s *QuicklookSink) save(label string, img image.Image) {
	s.mu.Lock()
	s.count++
	name := fmt.Sprintf("%03d_%s.jpg", s.count, sanitize(label))
	s.mu.Unlock()

	path := filepath.Join(s.dir, name)
	if err := writeJPEG(path, img); err != nil {
		s.log.WithError(err).WithField("file", path).Warn("Failed to save quicklook")
	}
}

func writeJPEG(path string, img image.Image) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := jpeg.Encode(file, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// gridToGray stretches the valid range of g over the gray scale. Masked cells are black.
func gridToGray(g *models.Grid) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, g.Width, g.Height))
	lo, hi := bounds(g.ValidValues())
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			if !g.Valid(x, y) {
				continue
			}
			v := (g.At(x, y) - lo) / (hi - lo)
			img.SetGray(x, y, color.Gray{Y: uint8(math.Max(0, math.Min(255, 1+v*254)))})
		}
	}
	return img
}

// scaleToWidth resizes img so its width falls within the quicklook bounds
func scaleToWidth(img image.Image) image.Image {
	b := img.Bounds()
	width := b.Dx()
	switch {
	case width < MinQuicklookWidth:
		width = MinQuicklookWidth
	case width > MaxQuicklookWidth:
		width = MaxQuicklookWidth
	default:
		return img
	}
	height := int(math.Max(1, math.Round(float64(b.Dy())*float64(width)/float64(b.Dx()))))
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.ApproxBiLinear.Scale(dst, dst.Rect, img, b, draw.Src, nil)
	return dst
}

// labelled adds a white header carrying text above img
func labelled(img image.Image, text string) *image.RGBA {
	b := img.Bounds()
	out := newCanvas(b.Dx(), b.Dy()+headerHeight)
	draw.Draw(out, image.Rect(0, headerHeight, b.Dx(), b.Dy()+headerHeight), img, b.Min, draw.Src)

	d := &font.Drawer{
		Dst:  out,
		Src:  image.NewUniform(textColor),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(3, headerHeight-5),
	}
	d.DrawString(text)
	return out
}

func newCanvas(width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), image.NewUniform(backgroundColor), image.Point{}, draw.Src)
	return img
}

// bounds returns the range of values, widened to a unit span when degenerate
func bounds(values []float64) (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if lo > hi {
		return 0, 1
	}
	if hi == lo {
		hi = lo + 1
	}
	return lo, hi
}

func sanitize(label string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			return r
		default:
			return '_'
		}
	}, label)
}
