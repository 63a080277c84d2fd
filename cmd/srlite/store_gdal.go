//go:build gdal

package main

import (
	"srlite/pkg/alignment"
	"srlite/pkg/rasterstore"
)

func newStore() rasterstore.Store {
	return rasterstore.NewGDALStore()
}

// newAligner warps through GDAL, reprojecting inputs in another coordinate system
func newAligner(rasterstore.Store) alignment.Aligner {
	return alignment.NewGDALAligner()
}
