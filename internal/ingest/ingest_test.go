package ingest

import (
	"context"
	"errors"
	"io"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/lox/ccdc/internal/raster"
)

type fakeConn struct {
	files    map[string]string
	failures map[string]int // transient failures left per path
	retrs    map[string]int
	quits    int
}

func (f *fakeConn) Retr(p string) (io.ReadCloser, error) {
	f.retrs[p]++
	if f.failures[p] > 0 {
		f.failures[p]--
		return nil, errors.New("connection reset by peer")
	}
	body, ok := f.files[p]
	if !ok {
		return nil, &textproto.Error{Code: 550, Msg: "No such file"}
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

func (f *fakeConn) Quit() error {
	f.quits++
	return nil
}

const testManifest = `{"dates":["2020-01-01","2020-01-09"],"files":["a.tif","b.tif"]}`

func newFakeSource(t *testing.T, fc *fakeConn) (*FTPSource, *int) {
	t.Helper()
	if fc.retrs == nil {
		fc.retrs = map[string]int{}
	}
	dials := 0
	src := NewFTPSource(FTPConfig{Addr: "example.invalid:21", MaxElapsed: 10 * time.Second})
	src.dial = func(ctx context.Context) (conn, error) {
		dials++
		return fc, nil
	}
	return src, &dials
}

func TestCachePath(t *testing.T) {
	c, err := NewCache(t.TempDir(), 0)
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		remote string
		want   string
	}{
		{"/stacks/site/manifest.json", "stacks/site/manifest.json"},
		{"stacks/a.tif", "stacks/a.tif"},
		{"../../etc/passwd", "etc/passwd"},
		{"/a/./b/../c.tif", "a/c.tif"},
	}
	for _, tt := range tests {
		t.Run(tt.remote, func(t *testing.T) {
			want := filepath.Join(c.Dir(), filepath.FromSlash(tt.want))
			if got := c.Path(tt.remote); got != want {
				t.Errorf("Path(%q) = %q, want %q", tt.remote, got, want)
			}
		})
	}
}

func TestCacheFreshAndList(t *testing.T) {
	c, err := NewCache(t.TempDir(), time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if c.Fresh("x/a.tif") {
		t.Fatal("empty cache reports fresh entry")
	}
	if _, err := c.Put("x/a.tif", strings.NewReader("layer")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := c.Put("b.tif", strings.NewReader("layer")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !c.Fresh("x/a.tif") {
		t.Error("new entry is not fresh")
	}

	old := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(c.Path("x/a.tif"), old, old); err != nil {
		t.Fatal(err)
	}
	if c.Fresh("x/a.tif") {
		t.Error("entry older than max age reported fresh")
	}

	if diff := cmp.Diff([]string{"b.tif", "x/a.tif"}, c.List()); diff != "" {
		t.Errorf("List (-want +got):\n%s", diff)
	}
}

func TestFTPSourceFetch(t *testing.T) {
	fc := &fakeConn{files: map[string]string{
		"/site/manifest.json": testManifest,
		"/site/a.tif":         "A",
		"/site/b.tif":         "B",
	}}
	src, dials := newFakeSource(t, fc)
	defer src.Close()

	cache, err := NewCache(t.TempDir(), 0)
	if err != nil {
		t.Fatal(err)
	}
	local, err := src.Fetch(context.Background(), "/site/manifest.json", cache)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if local != cache.Path("/site/manifest.json") {
		t.Errorf("local manifest = %q", local)
	}
	b, err := os.ReadFile(cache.Path("/site/b.tif"))
	if err != nil || string(b) != "B" {
		t.Errorf("b.tif = %q, %v", b, err)
	}
	if *dials != 1 {
		t.Errorf("dials = %d, want one session reused", *dials)
	}

	// Layers are cached, only the manifest is fetched again.
	if _, err := src.Fetch(context.Background(), "/site/manifest.json", cache); err != nil {
		t.Fatalf("second Fetch: %v", err)
	}
	want := map[string]int{"/site/manifest.json": 2, "/site/a.tif": 1, "/site/b.tif": 1}
	if diff := cmp.Diff(want, fc.retrs); diff != "" {
		t.Errorf("retrievals (-want +got):\n%s", diff)
	}
}

func TestFTPSourceRetriesTransientErrors(t *testing.T) {
	fc := &fakeConn{
		files:    map[string]string{"/a.tif": "A"},
		failures: map[string]int{"/a.tif": 1},
	}
	src, dials := newFakeSource(t, fc)
	cache, err := NewCache(t.TempDir(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := src.download(context.Background(), "/a.tif", cache); err != nil {
		t.Fatalf("download: %v", err)
	}
	if fc.retrs["/a.tif"] != 2 {
		t.Errorf("retrievals = %d, want 2", fc.retrs["/a.tif"])
	}
	if *dials != 2 || fc.quits != 1 {
		t.Errorf("dials = %d quits = %d, want the broken session replaced", *dials, fc.quits)
	}
}

func TestFTPSourceMissingFileIsPermanent(t *testing.T) {
	fc := &fakeConn{files: map[string]string{}}
	src, _ := newFakeSource(t, fc)
	cache, err := NewCache(t.TempDir(), 0)
	if err != nil {
		t.Fatal(err)
	}
	err = src.download(context.Background(), "/missing.tif", cache)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if fc.retrs["/missing.tif"] != 1 {
		t.Errorf("retrievals = %d, want no retries", fc.retrs["/missing.tif"])
	}
	if cache.Fresh("/missing.tif") {
		t.Error("missing file left a cache entry")
	}
}

func TestFTPSourceCancelled(t *testing.T) {
	fc := &fakeConn{files: map[string]string{}, failures: map[string]int{"/a.tif": 100}}
	src, _ := newFakeSource(t, fc)
	cache, err := NewCache(t.TempDir(), 0)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := src.download(ctx, "/a.tif", cache); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestValidateManifest(t *testing.T) {
	tests := []struct {
		name      string
		m         raster.Manifest
		wantFlags []string
	}{
		{
			name: "valid manifest - no flags",
			m: raster.Manifest{
				Dates:      []string{"2020-01-01", "2020-01-09"},
				Files:      []string{"a.tif", "layers/b.tif"},
				Extent:     [4]float64{0, 300, 0, 300},
				Resolution: [2]float64{30, 30},
			},
			wantFlags: nil,
		},
		{
			name:      "count mismatch",
			m:         raster.Manifest{Dates: []string{"2020-01-01"}, Files: []string{"a.tif", "b.tif"}},
			wantFlags: []string{FlagCountMismatch},
		},
		{
			name:      "bad and unordered dates",
			m:         raster.Manifest{Dates: []string{"2020-02-01", "01/01/2020", "2020-01-01"}, Files: []string{"a", "b", "c"}},
			wantFlags: []string{FlagDateInvalid, FlagDatesUnordered},
		},
		{
			name:      "duplicate date",
			m:         raster.Manifest{Dates: []string{"2020-01-01", "2020-01-01"}, Files: []string{"a", "b"}},
			wantFlags: []string{FlagDateDuplicate},
		},
		{
			name:      "escaping paths flagged once",
			m:         raster.Manifest{Dates: []string{"2020-01-01", "2020-01-02"}, Files: []string{"../a.tif", "/etc/b.tif"}},
			wantFlags: []string{FlagPathEscapes},
		},
		{
			name: "geometry",
			m: raster.Manifest{
				Extent:     [4]float64{10, 0, 0, 10},
				Resolution: [2]float64{30, -30},
			},
			wantFlags: []string{FlagExtentInverted, FlagResolutionInvalid},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ValidateManifest(&tt.m)
			if diff := cmp.Diff(tt.wantFlags, got); diff != "" {
				t.Errorf("ValidateManifest (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFTPSourceRejectsEscapingManifest(t *testing.T) {
	fc := &fakeConn{files: map[string]string{
		"/site/manifest.json": `{"dates":["2020-01-01"],"files":["../../secret.tif"]}`,
	}}
	src, _ := newFakeSource(t, fc)
	cache, err := NewCache(t.TempDir(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := src.Fetch(context.Background(), "/site/manifest.json", cache); !errors.Is(err, ErrInvalidManifest) {
		t.Fatalf("err = %v, want ErrInvalidManifest", err)
	}
	if len(fc.retrs) != 1 {
		t.Errorf("retrievals = %v, want only the manifest", fc.retrs)
	}
}
