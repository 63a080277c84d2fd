//go:build !gdal

package main

import (
	"srlite/pkg/alignment"
	"srlite/pkg/rasterstore"
)

// newStore returns the manifest raster store. Build with -tags gdal for GeoTIFF and other GDAL formats.
func newStore() rasterstore.Store {
	return rasterstore.NewFileStore()
}

func newAligner(store rasterstore.Store) alignment.Aligner {
	return alignment.NewGridAligner(store)
}
