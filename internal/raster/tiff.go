package raster

import (
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/image/tiff"

	"github.com/lox/ccdc/internal/segment"
)

// Manifest lists the single-band layers of a stack in date order.
type Manifest struct {
	Dates      []string   `json:"dates"` // 2006-01-02
	Files      []string   `json:"files"` // relative to the manifest
	CRS        string     `json:"crs,omitempty"`
	Extent     [4]float64 `json:"extent"`
	Resolution [2]float64 `json:"resolution"`
	NoData     *float64   `json:"nodata,omitempty"`

	dir string
}

// LoadManifest reads a JSON manifest from path.
func LoadManifest(path string) (*Manifest, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	m.dir = filepath.Dir(path)
	return &m, nil
}

// Dir is the directory layer paths are resolved against.
func (m *Manifest) Dir() string { return m.dir }

// SetDir changes the directory layer paths are resolved against.
func (m *Manifest) SetDir(dir string) { m.dir = dir }

// ParseDates converts the manifest dates.
func (m *Manifest) ParseDates() ([]time.Time, error) {
	dates := make([]time.Time, len(m.Dates))
	for i, s := range m.Dates {
		d, err := time.Parse(time.DateOnly, s)
		if err != nil {
			return nil, fmt.Errorf("%w: manifest date %d: %v", segment.ErrInvalidConfiguration, i, err)
		}
		dates[i] = d
	}
	return dates, nil
}

// LoadStack decodes every layer listed in m. Layers must be 8 or 16 bit grey TIFFs of
// identical size; pixels equal to the nodata value become NaN.
func LoadStack(m *Manifest) (*Stack, error) {
	if len(m.Files) != len(m.Dates) {
		return nil, fmt.Errorf("%w: manifest has %d files for %d dates", segment.ErrInvalidConfiguration, len(m.Files), len(m.Dates))
	}
	dates, err := m.ParseDates()
	if err != nil {
		return nil, err
	}

	var stack *Stack
	for t, name := range m.Files {
		layer, bounds, err := decodeLayer(filepath.Join(m.dir, name))
		if err != nil {
			return nil, err
		}
		if stack == nil {
			rows, cols := bounds.Dy(), bounds.Dx()
			stack = &Stack{
				Rows:       rows,
				Cols:       cols,
				Dates:      dates,
				Data:       make([]float64, rows*cols*len(dates)),
				CRS:        m.CRS,
				Extent:     m.Extent,
				Resolution: m.Resolution,
			}
		}
		if bounds.Dy() != stack.Rows || bounds.Dx() != stack.Cols {
			return nil, fmt.Errorf("%w: layer %s is %dx%d, want %dx%d", segment.ErrInvalidConfiguration,
				name, bounds.Dy(), bounds.Dx(), stack.Rows, stack.Cols)
		}
		for p, v := range layer {
			if m.NoData != nil && v == *m.NoData {
				v = math.NaN()
			}
			stack.Set(p, t, v)
		}
	}
	if stack == nil {
		return nil, fmt.Errorf("%w: manifest lists no layers", segment.ErrInvalidConfiguration)
	}
	return stack, stack.Validate()
}

// decodeLayer returns the pixel values of a TIFF in row-major order.
func decodeLayer(path string) ([]float64, image.Rectangle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, image.Rectangle{}, fmt.Errorf("open layer: %w", err)
	}
	defer f.Close()

	img, err := tiff.Decode(f)
	if err != nil {
		return nil, image.Rectangle{}, fmt.Errorf("decode %s: %w", path, err)
	}

	b := img.Bounds()
	out := make([]float64, 0, b.Dx()*b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			switch im := img.(type) {
			case *image.Gray16:
				out = append(out, float64(im.Gray16At(x, y).Y))
			case *image.Gray:
				out = append(out, float64(im.GrayAt(x, y).Y))
			default:
				out = append(out, float64(color.Gray16Model.Convert(img.At(x, y)).(color.Gray16).Y))
			}
		}
	}
	return out, b, nil
}
