package ingest

import (
	"path"
	"strings"
	"time"

	"github.com/lox/ccdc/internal/raster"
)

const (
	FlagCountMismatch     = "file_count_mismatch"
	FlagDateInvalid       = "date_invalid"
	FlagDatesUnordered    = "dates_unordered"
	FlagDateDuplicate     = "date_duplicate"
	FlagPathEscapes       = "path_escapes"
	FlagExtentInverted    = "extent_inverted"
	FlagResolutionInvalid = "resolution_invalid"
)

// fatalFlags stop a fetch; the rest are logged.
var fatalFlags = map[string]bool{
	FlagCountMismatch: true,
	FlagDateInvalid:   true,
	FlagPathEscapes:   true,
}

// ValidateManifest returns quality flags for m, each at most once.
func ValidateManifest(m *raster.Manifest) []string {
	var flags []string
	add := func(f string) {
		for _, have := range flags {
			if have == f {
				return
			}
		}
		flags = append(flags, f)
	}

	if len(m.Files) != len(m.Dates) {
		add(FlagCountMismatch)
	}

	var prev time.Time
	for i, s := range m.Dates {
		d, err := time.Parse(time.DateOnly, s)
		if err != nil {
			add(FlagDateInvalid)
			continue
		}
		if i > 0 && !prev.IsZero() {
			if d.Before(prev) {
				add(FlagDatesUnordered)
			} else if d.Equal(prev) {
				add(FlagDateDuplicate)
			}
		}
		prev = d
	}

	for _, f := range m.Files {
		clean := path.Clean(f)
		if path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
			add(FlagPathEscapes)
		}
	}

	if m.Extent != [4]float64{} && (m.Extent[0] > m.Extent[1] || m.Extent[2] > m.Extent[3]) {
		add(FlagExtentInverted)
	}
	if m.Resolution != [2]float64{} && (m.Resolution[0] <= 0 || m.Resolution[1] <= 0) {
		add(FlagResolutionInvalid)
	}

	return flags
}

func hasFatalFlag(flags []string) bool {
	for _, f := range flags {
		if fatalFlags[f] {
			return true
		}
	}
	return false
}
