//go:build gdal

package rasterstore

import (
	"math"
	"os"

	"github.com/airbusgeo/godal"
	"github.com/pkg/errors"

	"srlite/internal/models"
)

// GDALStore reads any raster format GDAL supports and writes GeoTIFF stacks.
// Bands are decoded eagerly on Open and the dataset is closed immediately.
type GDALStore struct{}

// NewGDALStore registers the GDAL drivers and returns a store
func NewGDALStore() *GDALStore {
	godal.RegisterAll()
	return &GDALStore{}
}

func (s *GDALStore) Open(path string) (Raster, error) {
	ds, err := godal.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", path)
	}
	defer ds.Close()
	return FromDataset(path, ds)
}

// FromDataset decodes every band of an open dataset into a raster named path.
// Cells equal to a band's no-data value, and NaN cells, are masked.
func FromDataset(path string, ds *godal.Dataset) (*MemRaster, error) {
	st := ds.Structure()
	gt, err := ds.GeoTransform()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read geotransform of %s", path)
	}
	geo := models.GeoTransform{OriginX: gt[0], PixelWidth: gt[1], OriginY: gt[3], PixelHeight: gt[5]}
	crs := ds.Projection()

	bands := ds.Bands()
	grids := make([]*models.Grid, len(bands))
	descriptions := make([]string, len(bands))
	for i, band := range bands {
		data := make([]float64, st.SizeX*st.SizeY)
		if err := band.Read(0, 0, data, st.SizeX, st.SizeY); err != nil {
			return nil, errors.Wrapf(err, "failed to read band %d of %s", i+1, path)
		}
		g, err := models.NewGridFromData(st.SizeX, st.SizeY, data, nil)
		if err != nil {
			return nil, errors.Wrapf(err, "band %d of %s", i+1, path)
		}
		nd, hasNoData := band.NoData()
		for j, v := range g.Data {
			g.Mask[j] = math.IsNaN(v) || (hasNoData && v == nd)
		}
		g.Geo = geo
		g.CRS = crs
		grids[i] = g
		descriptions[i] = band.Description()
	}
	return NewMemRaster(path, grids, descriptions)
}

// Write creates a float64 GeoTIFF with one band per stack band.
func (s *GDALStore) Write(path string, stack *models.OutputStack) error {
	if len(stack.Bands) != len(stack.Descriptions) {
		return &models.BandCountMismatchError{Bands: len(stack.Bands), Descriptions: len(stack.Descriptions)}
	}
	ds, err := godal.Create(godal.GTiff, path, len(stack.Bands), godal.Float64, stack.Width, stack.Height)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", path)
	}

	gt := [6]float64{stack.Geo.OriginX, stack.Geo.PixelWidth, 0, stack.Geo.OriginY, 0, stack.Geo.PixelHeight}
	if err := ds.SetGeoTransform(gt); err != nil {
		ds.Close()
		return errors.Wrapf(err, "failed to set geotransform of %s", path)
	}
	if stack.CRS != "" {
		if err := ds.SetProjection(stack.CRS); err != nil {
			ds.Close()
			return errors.Wrapf(err, "failed to set projection of %s", path)
		}
	}

	for i, band := range ds.Bands() {
		if err := band.SetNoData(stack.NoData); err != nil {
			ds.Close()
			return errors.Wrapf(err, "failed to set no-data of band %d", i+1)
		}
		if err := band.SetDescription(stack.Descriptions[i]); err != nil {
			ds.Close()
			return errors.Wrapf(err, "failed to set description of band %d", i+1)
		}
		if err := band.Write(0, 0, stack.Bands[i], stack.Width, stack.Height); err != nil {
			ds.Close()
			return errors.Wrapf(err, "failed to write band %d of %s", i+1, path)
		}
	}
	return errors.Wrapf(ds.Close(), "failed to close %s", path)
}

func (s *GDALStore) Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "failed to remove %s", path)
	}
	return nil
}
