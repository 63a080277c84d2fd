// Package masking builds the validity masks that decide which pixel pairs
// take part in a band pair's regression.
//
// Every mask builder is a pure function from Grid to Grid: the returned grid's
// Mask marks the cells to exclude. Builders compose left to right, and the
// combiner ORs their masks together with the no-data masks of the band pair.
package masking

import (
	"fmt"

	"srlite/internal/models"
	"srlite/pkg/rasterstore"
)

// CloudCode is the cloud-mask value flagging a cloudy pixel
const CloudCode = 1.0

// GoodQuality is the value every non-bad quality code is recoded to
const GoodQuality = 0.0

// CloudMask masks every cell whose value equals CloudCode. Cells already
// masked stay masked.
func CloudMask(g *models.Grid) *models.Grid {
	out := g.Clone()
	for i, v := range out.Data {
		if v == CloudCode {
			out.Mask[i] = true
		}
	}
	return out
}

// RecodeQuality turns a quality-flag band into a good/bad mask in two steps:
// bad codes are first replaced by sentinel, then every value not equal to
// sentinel becomes good. Cells still holding sentinel are masked. The input
// mask is ignored, only the data values decide.
//
// sentinel must lie outside the range of valid quality codes, since a
// coincidental sentinel value would be masked.
func RecodeQuality(g *models.Grid, badCodes []int, sentinel, good float64) *models.Grid {
	out := g.Clone()

	bad := make(map[float64]struct{}, len(badCodes))
	for _, c := range badCodes {
		bad[float64(c)] = struct{}{}
	}

	for i, v := range out.Data {
		if _, ok := bad[v]; ok {
			out.Data[i] = sentinel
		}
	}
	for i, v := range out.Data {
		if v != sentinel {
			out.Data[i] = good
		}
	}
	for i, v := range out.Data {
		out.Mask[i] = v == sentinel
	}
	return out
}

// ThresholdMask masks cells with value > max or value < min. The bounds
// themselves are valid. Cells already masked stay masked.
func ThresholdMask(g *models.Grid, min, max float64) *models.Grid {
	out := g.Clone()
	for i, v := range out.Data {
		if v > max || v < min {
			out.Mask[i] = true
		}
	}
	return out
}

// BuildCloudMask reads band of the aligned cloud-mask raster and masks cloudy cells.
func BuildCloudMask(r rasterstore.Raster, band int) (*models.Grid, error) {
	g, err := readAuxBand("cloud", r, band)
	if err != nil {
		return nil, err
	}
	return CloudMask(g), nil
}

// BuildQualityMask reads the quality-flag band of the aligned reference raster
// and masks every cell carrying one of badCodes.
func BuildQualityMask(r rasterstore.Raster, band int, badCodes []int, sentinel float64) (*models.Grid, error) {
	g, err := readAuxBand("quality-flag", r, band)
	if err != nil {
		return nil, err
	}
	return RecodeQuality(g, badCodes, sentinel, GoodQuality), nil
}

// BuildThresholdMask reads band of r and masks values outside [min, max].
func BuildThresholdMask(r rasterstore.Raster, band int, min, max float64) (*models.Grid, error) {
	g, err := readAuxBand("threshold", r, band)
	if err != nil {
		return nil, err
	}
	return ThresholdMask(g, min, max), nil
}

func readAuxBand(kind string, r rasterstore.Raster, band int) (*models.Grid, error) {
	if r == nil {
		return nil, &models.MissingBandError{Mask: kind, Band: band}
	}
	if band < 1 || band > r.BandCount() {
		return nil, &models.MissingBandError{Mask: kind, Path: r.Path(), Band: band}
	}
	g, err := r.ReadBand(band)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s band %d of %s: %w", kind, band, r.Path(), err)
	}
	return g, nil
}

// Auxiliary holds the masks shared by every band pair of a run. A nil field
// means that mask is disabled. The grids are read-only once built.
type Auxiliary struct {
	Cloud     *models.Grid
	Quality   *models.Grid
	Threshold *models.Grid
}

// Grids returns the enabled masks
func (a *Auxiliary) Grids() []*models.Grid {
	var grids []*models.Grid
	for _, g := range []*models.Grid{a.Cloud, a.Quality, a.Threshold} {
		if g != nil {
			grids = append(grids, g)
		}
	}
	return grids
}

// Enabled returns the names of the enabled masks
func (a *Auxiliary) Enabled() []string {
	var names []string
	if a.Cloud != nil {
		names = append(names, "cloud")
	}
	if a.Quality != nil {
		names = append(names, "quality")
	}
	if a.Threshold != nil {
		names = append(names, "threshold")
	}
	return names
}
