//go:build gdal

package alignment

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"github.com/airbusgeo/godal"
	"github.com/pkg/errors"

	"srlite/internal/models"
	"srlite/pkg/rasterstore"
)

// GDALAligner warps every input into memory on the grid of the first raster,
// clipped to the intersection of all extents. Inputs in another coordinate
// system are reprojected.
type GDALAligner struct{}

// NewGDALAligner registers the GDAL drivers and returns an aligner
func NewGDALAligner() *GDALAligner {
	godal.RegisterAll()
	return &GDALAligner{}
}

func (a *GDALAligner) Align(ctx context.Context, paths []string, method Resampling) ([]rasterstore.Raster, error) {
	if len(paths) == 0 {
		return nil, &models.AlignmentError{Reason: "no rasters to align"}
	}
	kernel, err := warpKernel(method)
	if err != nil {
		return nil, err
	}

	datasets := make([]*godal.Dataset, 0, len(paths))
	defer func() {
		for _, ds := range datasets {
			ds.Close()
		}
	}()
	for _, p := range paths {
		ds, err := godal.Open(p)
		if err != nil {
			return nil, &models.AlignmentError{Reason: fmt.Sprintf("failed to open %s", p), Err: err}
		}
		datasets = append(datasets, ds)
	}

	switches, err := warpSwitches(paths, datasets, kernel)
	if err != nil {
		return nil, err
	}

	aligned := make([]rasterstore.Raster, len(datasets))
	for i, ds := range datasets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		warped, err := godal.Warp("", []*godal.Dataset{ds}, switches)
		if err != nil {
			return nil, &models.AlignmentError{Reason: fmt.Sprintf("failed to warp %s", paths[i]), Err: err}
		}
		r, err := rasterstore.FromDataset(paths[i], warped)
		warped.Close()
		if err != nil {
			return nil, errors.Wrapf(err, "failed to decode warped %s", paths[i])
		}
		aligned[i] = r
	}
	return aligned, nil
}

func warpKernel(method Resampling) (string, error) {
	switch method {
	case Average:
		return "average", nil
	case Nearest:
		return "near", nil
	default:
		return "", fmt.Errorf("unknown resampling method %q", method)
	}
}

// warpSwitches builds the gdalwarp arguments shared by every input: the
// first raster's coordinate system and resolution over the common extent.
func warpSwitches(paths []string, datasets []*godal.Dataset, kernel string) ([]string, error) {
	first := datasets[0]
	gt, err := first.GeoTransform()
	if err != nil {
		return nil, &models.AlignmentError{Reason: fmt.Sprintf("%s has no geotransform", paths[0]), Err: err}
	}
	pw, ph := math.Abs(gt[1]), math.Abs(gt[5])
	if pw == 0 || ph == 0 {
		return nil, &models.AlignmentError{Reason: fmt.Sprintf("%s has a zero pixel size", paths[0])}
	}

	sr := first.SpatialRef()
	defer sr.Close()

	minX, minY := math.Inf(-1), math.Inf(-1)
	maxX, maxY := math.Inf(1), math.Inf(1)
	for i, ds := range datasets {
		b, err := ds.Bounds(sr)
		if err != nil {
			return nil, &models.AlignmentError{Reason: fmt.Sprintf("failed to compute the extent of %s", paths[i]), Err: err}
		}
		minX = math.Max(minX, b[0])
		minY = math.Max(minY, b[1])
		maxX = math.Min(maxX, b[2])
		maxY = math.Min(maxY, b[3])
	}

	width := math.Floor((maxX-minX)/pw + 1e-9)
	height := math.Floor((maxY-minY)/ph + 1e-9)
	if maxX <= minX || maxY <= minY || width < 1 || height < 1 {
		return nil, &models.AlignmentError{Reason: "rasters do not overlap"}
	}
	// whole cells only, anchored at the upper left corner
	maxX = minX + width*pw
	minY = maxY - height*ph

	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	return []string{
		"-of", "MEM",
		"-ot", "Float64",
		"-t_srs", first.Projection(),
		"-te", f(minX), f(minY), f(maxX), f(maxY),
		"-tr", f(pw), f(ph),
		"-r", kernel,
		"-dstnodata", "nan",
	}, nil
}
