// Package alignment brings several rasters onto one common grid.
//
// GridAligner takes the coordinate system and resolution of the first raster
// and the intersection of all extents, then resamples every band of every
// raster onto that grid.
package alignment

import (
	"context"
	"fmt"
	"math"

	"srlite/internal/models"
	"srlite/pkg/rasterstore"
)

// Resampling selects how source cells are combined into a target cell
type Resampling string

const (
	// Average takes the mean of the valid source cells whose centre falls in
	// the target cell. Source rasters coarser than the target fall back to Nearest.
	Average Resampling = "average"

	// Nearest takes the source cell containing the target cell centre
	Nearest Resampling = "nearest"
)

// Aligner returns one raster per input path, all sharing CRS, resolution and extent,
// in input order.
type Aligner interface {
	Align(ctx context.Context, paths []string, method Resampling) ([]rasterstore.Raster, error)
}

// GridAligner aligns rasters opened from a store
type GridAligner struct {
	store rasterstore.Store
}

// NewGridAligner creates an aligner reading from store
func NewGridAligner(store rasterstore.Store) *GridAligner {
	return &GridAligner{store: store}
}

// source is an opened raster with its decoded bands
type source struct {
	raster rasterstore.Raster
	bands  []*models.Grid
}

// Align opens every path, computes the common grid and resamples each band onto it.
func (a *GridAligner) Align(ctx context.Context, paths []string, method Resampling) ([]rasterstore.Raster, error) {
	if len(paths) == 0 {
		return nil, &models.AlignmentError{Reason: "no rasters to align"}
	}
	if method != Average && method != Nearest {
		return nil, fmt.Errorf("unknown resampling method %q", method)
	}

	sources := make([]source, len(paths))
	for i, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r, err := a.store.Open(p)
		if err != nil {
			return nil, &models.AlignmentError{Reason: fmt.Sprintf("failed to open %s", p), Err: err}
		}
		src := source{raster: r, bands: make([]*models.Grid, r.BandCount())}
		for b := 1; b <= r.BandCount(); b++ {
			g, err := r.ReadBand(b)
			if err != nil {
				return nil, &models.AlignmentError{Reason: fmt.Sprintf("failed to read band %d of %s", b, p), Err: err}
			}
			src.bands[b-1] = g
		}
		if len(src.bands) == 0 {
			return nil, &models.AlignmentError{Reason: fmt.Sprintf("%s has no bands", p)}
		}
		sources[i] = src
	}

	target, err := commonGrid(sources)
	if err != nil {
		return nil, err
	}

	aligned := make([]rasterstore.Raster, len(sources))
	for i, src := range sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		bands := make([]*models.Grid, len(src.bands))
		descriptions := make([]string, len(src.bands))
		for b, g := range src.bands {
			bands[b] = Resample(g, target, method)
			descriptions[b] = src.raster.BandDescription(b + 1)
		}
		r, err := rasterstore.NewMemRaster(src.raster.Path(), bands, descriptions)
		if err != nil {
			return nil, err
		}
		aligned[i] = r
	}
	return aligned, nil
}

// commonGrid returns an empty grid with the first source's CRS and resolution
// covering the intersection of all source extents.
func commonGrid(sources []source) (*models.Grid, error) {
	first := sources[0].bands[0]
	pw := math.Abs(first.Geo.PixelWidth)
	ph := math.Abs(first.Geo.PixelHeight)
	if pw == 0 || ph == 0 {
		return nil, &models.AlignmentError{Reason: fmt.Sprintf("%s has a zero pixel size", sources[0].raster.Path())}
	}

	minX, minY, maxX, maxY := first.Geo.Extent(first.Width, first.Height)
	for _, src := range sources[1:] {
		g := src.bands[0]
		if g.CRS != "" && first.CRS != "" && g.CRS != first.CRS {
			return nil, &models.AlignmentError{
				Reason: fmt.Sprintf("%s is in %s, expected %s", src.raster.Path(), g.CRS, first.CRS),
			}
		}
		if g.Geo.PixelWidth == 0 || g.Geo.PixelHeight == 0 {
			return nil, &models.AlignmentError{Reason: fmt.Sprintf("%s has a zero pixel size", src.raster.Path())}
		}
		x0, y0, x1, y1 := g.Geo.Extent(g.Width, g.Height)
		minX = math.Max(minX, x0)
		minY = math.Max(minY, y0)
		maxX = math.Min(maxX, x1)
		maxY = math.Min(maxY, y1)
	}

	width := int(math.Floor((maxX-minX)/pw + 1e-9))
	height := int(math.Floor((maxY-minY)/ph + 1e-9))
	if maxX <= minX || maxY <= minY || width < 1 || height < 1 {
		return nil, &models.AlignmentError{Reason: "rasters do not overlap"}
	}

	target := models.NewGrid(width, height)
	target.Geo = models.GeoTransform{OriginX: minX, OriginY: maxY, PixelWidth: pw, PixelHeight: -ph}
	target.CRS = first.CRS
	return target, nil
}

// Resample maps src onto the placement and size of target. Target cells that
// receive no valid source value are masked.
func Resample(src, target *models.Grid, method Resampling) *models.Grid {
	out := models.NewGrid(target.Width, target.Height)
	out.Geo = target.Geo
	out.CRS = target.CRS

	coarser := math.Abs(src.Geo.PixelWidth) >= math.Abs(target.Geo.PixelWidth) &&
		math.Abs(src.Geo.PixelHeight) >= math.Abs(target.Geo.PixelHeight)
	if method == Nearest || coarser {
		resampleNearest(src, out)
	} else {
		resampleAverage(src, out)
	}
	return out
}

func resampleNearest(src, out *models.Grid) {
	for y := 0; y < out.Height; y++ {
		my := out.Geo.OriginY + (float64(y)+0.5)*out.Geo.PixelHeight
		sy := int(math.Floor((my - src.Geo.OriginY) / src.Geo.PixelHeight))
		for x := 0; x < out.Width; x++ {
			idx := y*out.Width + x
			mx := out.Geo.OriginX + (float64(x)+0.5)*out.Geo.PixelWidth
			sx := int(math.Floor((mx - src.Geo.OriginX) / src.Geo.PixelWidth))
			if sx < 0 || sy < 0 || sx >= src.Width || sy >= src.Height || !src.Valid(sx, sy) {
				out.Mask[idx] = true
				continue
			}
			out.Data[idx] = src.At(sx, sy)
		}
	}
}

func resampleAverage(src, out *models.Grid) {
	sum := make([]float64, out.Len())
	count := make([]int, out.Len())

	for sy := 0; sy < src.Height; sy++ {
		my := src.Geo.OriginY + (float64(sy)+0.5)*src.Geo.PixelHeight
		ty := int(math.Floor((my - out.Geo.OriginY) / out.Geo.PixelHeight))
		if ty < 0 || ty >= out.Height {
			continue
		}
		for sx := 0; sx < src.Width; sx++ {
			if !src.Valid(sx, sy) {
				continue
			}
			mx := src.Geo.OriginX + (float64(sx)+0.5)*src.Geo.PixelWidth
			tx := int(math.Floor((mx - out.Geo.OriginX) / out.Geo.PixelWidth))
			if tx < 0 || tx >= out.Width {
				continue
			}
			idx := ty*out.Width + tx
			sum[idx] += src.At(sx, sy)
			count[idx]++
		}
	}

	for i := range out.Data {
		if count[i] == 0 {
			out.Mask[i] = true
			continue
		}
		out.Data[i] = sum[i] / float64(count[i])
	}
}
