package raster

import (
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/image/tiff"

	"github.com/lox/ccdc/internal/models"
	"github.com/lox/ccdc/internal/segment"
)

func writeLayer(t *testing.T, path string, w, h int, values []uint16) {
	t.Helper()
	img := image.NewGray16(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray16(x, y, color.Gray16{Y: values[y*w+x]})
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := tiff.Encode(f, img, nil); err != nil {
		t.Fatalf("encode %s: %v", path, err)
	}
}

func writeManifest(t *testing.T, dir string, m Manifest) string {
	t.Helper()
	b, err := json.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "manifest.json")
	if err := os.WriteFile(path, b, 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadStack(t *testing.T) {
	dir := t.TempDir()
	writeLayer(t, filepath.Join(dir, "a.tif"), 3, 2, []uint16{1, 2, 3, 4, 5, 0})
	writeLayer(t, filepath.Join(dir, "b.tif"), 3, 2, []uint16{0, 20, 30, 40, 50, 60})

	nodata := 0.0
	path := writeManifest(t, dir, Manifest{
		Dates:      []string{"2020-01-01", "2020-01-17"},
		Files:      []string{"a.tif", "b.tif"},
		Resolution: [2]float64{30, 30},
		NoData:     &nodata,
	})

	m, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	s, err := LoadStack(m)
	if err != nil {
		t.Fatalf("LoadStack: %v", err)
	}
	if s.Rows != 2 || s.Cols != 3 || len(s.Dates) != 2 {
		t.Fatalf("stack = %dx%dx%d, want 2x3x2", s.Rows, s.Cols, len(s.Dates))
	}
	if got := s.At(s.Pixel(1, 1), 0); got != 5 {
		t.Errorf("At(1,1 @0) = %v, want 5", got)
	}
	if got := s.At(s.Pixel(1, 2), 0); !math.IsNaN(got) {
		t.Errorf("nodata pixel = %v, want NaN", got)
	}
	if got := s.At(0, 1); !math.IsNaN(got) {
		t.Errorf("nodata pixel = %v, want NaN", got)
	}
	if got := s.At(s.Pixel(1, 2), 1); got != 60 {
		t.Errorf("At(1,2 @1) = %v, want 60", got)
	}
	if md := s.Metadata(); md.CRS != models.UnknownCRS || md.Resolution != [2]float64{30, 30} {
		t.Errorf("metadata = %+v", md)
	}
}

func TestLoadStack_Errors(t *testing.T) {
	dir := t.TempDir()
	writeLayer(t, filepath.Join(dir, "a.tif"), 2, 2, []uint16{1, 2, 3, 4})
	writeLayer(t, filepath.Join(dir, "wide.tif"), 3, 2, []uint16{1, 2, 3, 4, 5, 6})

	tests := []struct {
		name    string
		m       Manifest
		invalid bool
	}{
		{"count mismatch", Manifest{Dates: []string{"2020-01-01"}, Files: []string{"a.tif", "a.tif"}}, true},
		{"bad date", Manifest{Dates: []string{"01/02/2020"}, Files: []string{"a.tif"}}, true},
		{"size mismatch", Manifest{Dates: []string{"2020-01-01", "2020-02-01"}, Files: []string{"a.tif", "wide.tif"}}, true},
		{"empty", Manifest{}, true},
		{"missing file", Manifest{Dates: []string{"2020-01-01"}, Files: []string{"nope.tif"}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := tt.m
			m.SetDir(dir)
			_, err := LoadStack(&m)
			if err == nil {
				t.Fatal("LoadStack succeeded, want error")
			}
			if got := errors.Is(err, segment.ErrInvalidConfiguration); got != tt.invalid {
				t.Errorf("errors.Is(err, ErrInvalidConfiguration) = %v, want %v (err: %v)", got, tt.invalid, err)
			}
		})
	}
}
