package raster

import (
	"context"
	"fmt"
	"log"
	"runtime"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lox/ccdc/internal/metrics"
	"github.com/lox/ccdc/internal/models"
	"github.com/lox/ccdc/internal/segment"
)

// DriverParams configures a raster run.
type DriverParams struct {
	MinObsFit int // pixels with fewer valid observations in the first fit window are skipped
	Workers   int // concurrent pixels; zero means GOMAXPROCS
	Engine    segment.Params

	// Progress, when set, is called after each qualifying pixel finishes. It may be
	// called from several goroutines at once.
	Progress func(done, total int)
}

// DefaultDriverParams returns the parameters used by the CLI when nothing is overridden.
func DefaultDriverParams() DriverParams {
	return DriverParams{MinObsFit: 10, Engine: segment.DefaultParams()}
}

func (p DriverParams) validate() error {
	if p.MinObsFit < 0 {
		return fmt.Errorf("%w: min observations must not be negative, got %d", segment.ErrInvalidConfiguration, p.MinObsFit)
	}
	if p.Workers < 0 {
		return fmt.Errorf("%w: workers must not be negative, got %d", segment.ErrInvalidConfiguration, p.Workers)
	}
	return p.Engine.Validate()
}

type pixelResult struct {
	done   bool
	record models.PixelChangeRecord
}

// DetectRasterChanges segments every pixel of stack that has at least MinObsFit valid
// observations in its first fit window. Only pixels with one or more changes are kept.
//
// Configuration errors are returned before any pixel is processed. If ctx is cancelled
// the pixels finished so far are returned together with the context error.
func DetectRasterChanges(ctx context.Context, stack *Stack, params DriverParams) (*models.RasterChangeCollection, error) {
	if err := stack.Validate(); err != nil {
		metrics.RasterRuns.WithLabelValues("invalid").Inc()
		return nil, err
	}
	if err := params.validate(); err != nil {
		metrics.RasterRuns.WithLabelValues("invalid").Inc()
		return nil, err
	}
	eng, err := segment.NewEngine(params.Engine)
	if err != nil {
		metrics.RasterRuns.WithLabelValues("invalid").Inc()
		return nil, err
	}

	coll := &models.RasterChangeCollection{
		Metadata: stack.Metadata(),
		Pixels:   make(map[int]models.PixelChangeRecord),
	}

	fitDays := eng.Params().FitDays
	var qualifying []int
	for p := 0; p < stack.NumPixels(); p++ {
		if stack.CountValid(p, fitDays) < params.MinObsFit {
			metrics.PixelsTotal.WithLabelValues("skipped").Inc()
			continue
		}
		qualifying = append(qualifying, p)
	}
	log.Printf("raster: %d of %d pixels have at least %d observations in the first %d days",
		len(qualifying), stack.NumPixels(), params.MinObsFit, fitDays)

	workers := params.Workers
	if workers == 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	// Each goroutine writes only its own slot; the map is built after Wait.
	results := make([]pixelResult, len(qualifying))
	var finished atomic.Int64
	var g errgroup.Group
	g.SetLimit(workers)

	started := time.Now()
	for i, p := range qualifying {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			results[i] = detectPixel(eng, stack, p)
			n := finished.Add(1)
			if params.Progress != nil {
				params.Progress(int(n), len(qualifying))
			}
			return nil
		})
	}
	g.Wait()

	changes := 0
	for _, r := range results {
		if r.done && len(r.record.Changes()) > 0 {
			coll.Pixels[r.record.Pixel] = r.record
			changes += len(r.record.Changes())
		}
	}

	if err := ctx.Err(); err != nil {
		metrics.RasterRuns.WithLabelValues("cancelled").Inc()
		log.Printf("raster: cancelled after %d of %d pixels: %v", finished.Load(), len(qualifying), err)
		return coll, err
	}

	metrics.RasterRuns.WithLabelValues("ok").Inc()
	log.Printf("raster: %d pixels changed (%d changes) in %s",
		len(coll.Pixels), changes, time.Since(started).Round(time.Millisecond))
	return coll, nil
}

func detectPixel(eng *segment.Engine, stack *Stack, p int) pixelResult {
	start := time.Now()
	rec, out, err := eng.Detect(stack.Series(p))
	metrics.PixelLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		log.Printf("raster: pixel %d: %v", p, err)
		metrics.PixelsTotal.WithLabelValues("failed").Inc()
		return pixelResult{}
	}
	if out.Halted {
		metrics.FitHalts.Inc()
	}
	rec.Pixel = p

	n := len(rec.Changes())
	if n == 0 {
		metrics.PixelsTotal.WithLabelValues("unchanged").Inc()
	} else {
		metrics.PixelsTotal.WithLabelValues("changed").Inc()
		metrics.ChangesDetected.Add(float64(n))
	}
	return pixelResult{done: true, record: rec}
}
