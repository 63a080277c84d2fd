package rasterstore

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/image/tiff"
	"gopkg.in/yaml.v3"

	"srlite/internal/models"
)

// Manifest is the YAML header of a file raster. Band payloads live next to it,
// either as raw little-endian float64 (.bin) or as single-channel TIFF (.tif, .tiff).
type Manifest struct {
	Width  int                 `yaml:"width"`
	Height int                 `yaml:"height"`
	CRS    string              `yaml:"crs,omitempty"`
	Geo    models.GeoTransform `yaml:"geoTransform"`

	// NoData applies to every band without its own value
	NoData *float64 `yaml:"noData,omitempty"`

	Bands []ManifestBand `yaml:"bands"`
}

// ManifestBand describes one band payload file
type ManifestBand struct {
	Description string   `yaml:"description,omitempty"`
	File        string   `yaml:"file"`
	NoData      *float64 `yaml:"noData,omitempty"`
}

// FileStore reads and writes manifest rasters on the local file system.
type FileStore struct{}

// NewFileStore creates a file-system backed store
func NewFileStore() *FileStore {
	return &FileStore{}
}

// FileRaster is a manifest raster whose bands are decoded lazily.
type FileRaster struct {
	path     string
	manifest Manifest
}

func (s *FileStore) Open(path string) (Raster, error) {
	m, err := readManifest(path)
	if err != nil {
		return nil, err
	}
	if m.Width <= 0 || m.Height <= 0 {
		return nil, errors.Errorf("raster %s has invalid size %dx%d", path, m.Width, m.Height)
	}
	if len(m.Bands) == 0 {
		return nil, errors.Errorf("raster %s has no bands", path)
	}
	return &FileRaster{path: path, manifest: *m}, nil
}

func readManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read raster manifest %s", path)
	}
	m := &Manifest{}
	if err := yaml.Unmarshal(data, m); err != nil {
		return nil, errors.Wrapf(err, "failed to parse raster manifest %s", path)
	}
	return m, nil
}

func (r *FileRaster) Path() string   { return r.path }
func (r *FileRaster) Width() int     { return r.manifest.Width }
func (r *FileRaster) Height() int    { return r.manifest.Height }
func (r *FileRaster) BandCount() int { return len(r.manifest.Bands) }

func (r *FileRaster) BandDescription(band int) string {
	if band < 1 || band > len(r.manifest.Bands) {
		return ""
	}
	return r.manifest.Bands[band-1].Description
}

// ReadBand decodes the band payload and masks cells equal to the no-data value.
func (r *FileRaster) ReadBand(band int) (*models.Grid, error) {
	if band < 1 || band > len(r.manifest.Bands) {
		return nil, errors.Errorf("band %d out of range for %s (%d bands)", band, r.path, len(r.manifest.Bands))
	}
	mb := r.manifest.Bands[band-1]
	file := mb.File
	if !filepath.IsAbs(file) {
		file = filepath.Join(filepath.Dir(r.path), file)
	}

	var data []float64
	var err error
	switch strings.ToLower(filepath.Ext(file)) {
	case ".tif", ".tiff":
		data, err = readTIFFBand(file, r.manifest.Width, r.manifest.Height)
	default:
		data, err = readBinaryBand(file, r.manifest.Width*r.manifest.Height)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "band %d of %s", band, r.path)
	}

	g, err := models.NewGridFromData(r.manifest.Width, r.manifest.Height, data, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "band %d of %s", band, r.path)
	}
	g.Geo = r.manifest.Geo
	g.CRS = r.manifest.CRS

	noData := r.manifest.NoData
	if mb.NoData != nil {
		noData = mb.NoData
	}
	if noData != nil {
		for i, v := range g.Data {
			g.Mask[i] = v == *noData
		}
	}
	return g, nil
}

func readBinaryBand(path string, n int) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data := make([]float64, n)
	if err := binary.Read(bufio.NewReader(f), binary.LittleEndian, data); err != nil {
		return nil, errors.Wrapf(err, "failed to decode %d float64 values from %s", n, path)
	}
	return data, nil
}

// readTIFFBand decodes a single-channel TIFF. Gray values keep their integer
// range; colour images are reduced to 16-bit luminance.
func readTIFFBand(path string, width, height int) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, err := tiff.Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode TIFF %s", path)
	}
	b := img.Bounds()
	if b.Dx() != width || b.Dy() != height {
		return nil, errors.Errorf("TIFF %s is %dx%d, manifest declares %dx%d", path, b.Dx(), b.Dy(), width, height)
	}

	data := make([]float64, width*height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			data[y*width+x] = pixelValue(img, b.Min.X+x, b.Min.Y+y)
		}
	}
	return data, nil
}

func pixelValue(img image.Image, x, y int) float64 {
	switch im := img.(type) {
	case *image.Gray:
		return float64(im.GrayAt(x, y).Y)
	case *image.Gray16:
		return float64(im.Gray16At(x, y).Y)
	case *image.Paletted:
		return float64(im.ColorIndexAt(x, y))
	default:
		return float64(color.Gray16Model.Convert(img.At(x, y)).(color.Gray16).Y)
	}
}

// Write persists the stack as a manifest plus one .bin payload per band.
func (s *FileStore) Write(path string, stack *models.OutputStack) error {
	if len(stack.Bands) != len(stack.Descriptions) {
		return &models.BandCountMismatchError{Bands: len(stack.Bands), Descriptions: len(stack.Descriptions)}
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrapf(err, "failed to create output directory %s", dir)
	}

	noData := stack.NoData
	m := Manifest{
		Width:  stack.Width,
		Height: stack.Height,
		CRS:    stack.CRS,
		Geo:    stack.Geo,
		NoData: &noData,
	}

	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	for i, values := range stack.Bands {
		name := fmt.Sprintf("%s_b%02d.bin", base, i+1)
		if err := writeBinaryBand(filepath.Join(dir, name), values); err != nil {
			return errors.Wrapf(err, "band %d of %s", i+1, path)
		}
		m.Bands = append(m.Bands, ManifestBand{Description: stack.Descriptions[i], File: name})
	}

	data, err := yaml.Marshal(&m)
	if err != nil {
		return errors.Wrap(err, "failed to marshal raster manifest")
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.Wrapf(err, "failed to write raster manifest %s", path)
	}
	return nil
}

func writeBinaryBand(path string, values []float64) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	if err := binary.Write(w, binary.LittleEndian, values); err != nil {
		f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Remove deletes a manifest raster and the payload files it references.
// A missing raster is not an error.
func (s *FileStore) Remove(path string) error {
	m, err := readManifest(path)
	if err != nil {
		if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
			return nil
		}
		return err
	}
	for _, b := range m.Bands {
		file := b.File
		if !filepath.IsAbs(file) {
			file = filepath.Join(filepath.Dir(path), file)
		}
		if err := os.Remove(file); err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "failed to remove %s", file)
		}
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "failed to remove %s", path)
	}
	return nil
}

// WriteGrids is a convenience for persisting input rasters: the grids become
// the bands of a new manifest raster, with masked cells written as noData.
func (s *FileStore) WriteGrids(path string, bands []*models.Grid, descriptions []string, noData float64) error {
	if len(bands) == 0 {
		return errors.Errorf("no bands to write to %s", path)
	}
	if descriptions == nil {
		descriptions = make([]string, len(bands))
	}
	stack := &models.OutputStack{
		Width:        bands[0].Width,
		Height:       bands[0].Height,
		Descriptions: descriptions,
		NoData:       noData,
		Geo:          bands[0].Geo,
		CRS:          bands[0].CRS,
	}
	for i, g := range bands {
		if !g.SameShape(bands[0]) {
			return &models.AlignmentError{Reason: fmt.Sprintf("band %d of %s differs in shape from band 1", i+1, path)}
		}
		values := make([]float64, g.Len())
		for j, v := range g.Data {
			if g.Mask[j] {
				v = noData
			}
			values[j] = v
		}
		stack.Bands = append(stack.Bands, values)
	}
	return s.Write(path, stack)
}
