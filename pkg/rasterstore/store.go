// Package rasterstore reads and writes multi-band rasters.
//
// A Raster exposes band metadata and decodes single bands into models.Grid
// values. Three backends are provided: MemStore for in-process rasters,
// FileStore for YAML-manifest rasters with raw float64 or TIFF band payloads,
// and GDALStore (built with the gdal tag) for any format GDAL can open.
package rasterstore

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"

	"srlite/internal/models"
)

// Raster is an opened multi-band raster. Band indices are 1-based.
type Raster interface {
	Path() string
	Width() int
	Height() int
	BandCount() int

	// BandDescription returns the band's description, or "" when it has none
	BandDescription(band int) string

	// ReadBand decodes one band with its no-data cells masked
	ReadBand(band int) (*models.Grid, error)
}

// Store opens rasters by path and persists output stacks.
type Store interface {
	Open(path string) (Raster, error)
	Write(path string, stack *models.OutputStack) error
	Remove(path string) error
}

// MemRaster is a raster held entirely in memory.
type MemRaster struct {
	path         string
	bands        []*models.Grid
	descriptions []string
}

// NewMemRaster builds a raster from same-shape bands. Descriptions may be nil.
func NewMemRaster(path string, bands []*models.Grid, descriptions []string) (*MemRaster, error) {
	if len(bands) == 0 {
		return nil, fmt.Errorf("raster %s has no bands", path)
	}
	for i, b := range bands {
		if !b.SameShape(bands[0]) {
			return nil, &models.AlignmentError{
				Reason: fmt.Sprintf("band %d of %s is %dx%d, band 1 is %dx%d",
					i+1, path, b.Width, b.Height, bands[0].Width, bands[0].Height),
			}
		}
	}
	if descriptions == nil {
		descriptions = make([]string, len(bands))
	}
	if len(descriptions) != len(bands) {
		return nil, &models.BandCountMismatchError{Bands: len(bands), Descriptions: len(descriptions)}
	}
	return &MemRaster{path: path, bands: bands, descriptions: descriptions}, nil
}

func (r *MemRaster) Path() string   { return r.path }
func (r *MemRaster) Width() int     { return r.bands[0].Width }
func (r *MemRaster) Height() int    { return r.bands[0].Height }
func (r *MemRaster) BandCount() int { return len(r.bands) }

func (r *MemRaster) BandDescription(band int) string {
	if band < 1 || band > len(r.descriptions) {
		return ""
	}
	return r.descriptions[band-1]
}

// ReadBand returns a copy of the band so callers may not alter the raster.
func (r *MemRaster) ReadBand(band int) (*models.Grid, error) {
	if band < 1 || band > len(r.bands) {
		return nil, fmt.Errorf("band %d out of range for %s (%d bands)", band, r.path, len(r.bands))
	}
	return r.bands[band-1].Clone(), nil
}

// MemStore keeps rasters in a map keyed by path.
type MemStore struct {
	mu      sync.RWMutex
	rasters map[string]Raster
	stacks  map[string]*models.OutputStack
}

// NewMemStore creates an empty in-memory store
func NewMemStore() *MemStore {
	return &MemStore{
		rasters: make(map[string]Raster),
		stacks:  make(map[string]*models.OutputStack),
	}
}

// Put registers a raster under its path.
func (s *MemStore) Put(r Raster) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rasters[r.Path()] = r
}

func (s *MemStore) Open(path string) (Raster, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rasters[path]
	if !ok {
		return nil, errors.Errorf("raster not found: %s", path)
	}
	return r, nil
}

// Write stores the stack and makes it readable through Open.
func (s *MemStore) Write(path string, stack *models.OutputStack) error {
	r, err := StackRaster(path, stack)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stacks[path] = stack
	s.rasters[path] = r
	return nil
}

func (s *MemStore) Remove(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rasters, path)
	delete(s.stacks, path)
	return nil
}

// Stack returns a previously written output stack.
func (s *MemStore) Stack(path string) (*models.OutputStack, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.stacks[path]
	return st, ok
}

// StackRaster exposes an output stack as a raster, masking NoData cells.
func StackRaster(path string, stack *models.OutputStack) (*MemRaster, error) {
	bands := make([]*models.Grid, len(stack.Bands))
	for i, values := range stack.Bands {
		g, err := models.NewGridFromData(stack.Width, stack.Height, append([]float64(nil), values...), nil)
		if err != nil {
			return nil, errors.Wrapf(err, "band %d of %s", i+1, path)
		}
		for j, v := range g.Data {
			g.Mask[j] = v == stack.NoData
		}
		g.Geo = stack.Geo
		g.CRS = stack.CRS
		bands[i] = g
	}
	return NewMemRaster(path, bands, append([]string(nil), stack.Descriptions...))
}

// Snapshot summarises a raster's attributes for tracing.
func Snapshot(r Raster) map[string]interface{} {
	info := map[string]interface{}{
		"path":  r.Path(),
		"size":  fmt.Sprintf("%d x %d x %d", r.Width(), r.Height(), r.BandCount()),
		"bands": r.BandCount(),
	}
	if r.BandCount() > 0 {
		if g, err := r.ReadBand(1); err == nil {
			info["crs"] = g.CRS
			info["origin"] = fmt.Sprintf("(%g, %g)", g.Geo.OriginX, g.Geo.OriginY)
			info["pixelSize"] = fmt.Sprintf("(%g, %g)", g.Geo.PixelWidth, g.Geo.PixelHeight)
		}
	}
	return info
}
