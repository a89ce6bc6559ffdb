package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"sync/atomic"
	"text/tabwriter"
	"time"

	"github.com/alecthomas/kong"

	"github.com/lox/ccdc/internal/api"
	"github.com/lox/ccdc/internal/ingest"
	"github.com/lox/ccdc/internal/magnitude"
	"github.com/lox/ccdc/internal/raster"
	"github.com/lox/ccdc/internal/segment"
	"github.com/lox/ccdc/internal/store"
)

type FetchCmd struct {
	Remote   string        `arg:"" help:"Remote path of the stack manifest."`
	Addr     string        `default:"localhost:21" env:"CCDC_FTP_ADDR" help:"FTP server host:port."`
	User     string        `env:"CCDC_FTP_USER" help:"FTP user, anonymous when empty."`
	Password string        `env:"CCDC_FTP_PASSWORD" help:"FTP password."`
	CacheDir string        `default:"data/stacks" env:"CCDC_CACHE_DIR" help:"Local directory for downloaded files."`
	MaxAge   time.Duration `default:"0s" help:"Re-download cached layers older than this; zero keeps them."`
}

func (c *FetchCmd) Run(ctx context.Context) error {
	cache, err := ingest.NewCache(c.CacheDir, c.MaxAge)
	if err != nil {
		return err
	}
	src := ingest.NewFTPSource(ingest.FTPConfig{Addr: c.Addr, User: c.User, Password: c.Password})
	defer src.Close()

	local, err := src.Fetch(ctx, c.Remote, cache)
	if err != nil {
		return err
	}
	fmt.Println(local)
	return nil
}

type DetectCmd struct {
	Manifest     string  `arg:"" type:"existingfile" help:"Local stack manifest."`
	Label        string  `help:"Label stored with the run."`
	FitDays      int     `default:"${fit_days}" help:"Fit window length in days."`
	FlagDays     int     `default:"${flag_days}" help:"Flag window length in days."`
	FlagFraction float64 `default:"${flag_fraction}" help:"Share of a flag window that must be flagged."`
	FirstHalf    float64 `default:"${first_half}" help:"Share of the flag fraction required in the first half of the window."`
	FlagStat     string  `default:"${flag_stat}" enum:"rmse,iqr,z" help:"Residual statistic: rmse, iqr or z."`
	Threshold    float64 `default:"${threshold}" help:"Flagging constant; zero picks the statistic's default."`
	MinObsFit    int     `default:"${min_obs_fit}" help:"Skip pixels with fewer valid observations in the first fit window."`
	Workers      int     `default:"${workers}" env:"CCDC_WORKERS" help:"Concurrent pixels; zero uses GOMAXPROCS."`
}

// defaultVars exposes the package defaults to the detect flags.
func defaultVars() kong.Vars {
	d := raster.DefaultDriverParams()
	float := func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
	return kong.Vars{
		"fit_days":      strconv.Itoa(d.Engine.FitDays),
		"flag_days":     strconv.Itoa(d.Engine.FlagDays),
		"flag_fraction": float(d.Engine.FlagFraction),
		"first_half":    float(d.Engine.FirstHalf),
		"flag_stat":     string(d.Engine.FlagStat),
		"threshold":     float(d.Engine.Threshold),
		"min_obs_fit":   strconv.Itoa(d.MinObsFit),
		"workers":       strconv.Itoa(d.Workers),
	}
}

func (c *DetectCmd) params() (raster.DriverParams, error) {
	fs, err := segment.ParseFlagStat(c.FlagStat)
	if err != nil {
		return raster.DriverParams{}, err
	}
	return raster.DriverParams{
		MinObsFit: c.MinObsFit,
		Workers:   c.Workers,
		Engine: segment.Params{
			FitDays:      c.FitDays,
			FlagDays:     c.FlagDays,
			FlagFraction: c.FlagFraction,
			FirstHalf:    c.FirstHalf,
			FlagStat:     fs,
			Threshold:    c.Threshold,
		},
	}, nil
}

func (c *DetectCmd) Run(ctx context.Context, cli *CLI) error {
	params, err := c.params()
	if err != nil {
		return err
	}
	m, err := raster.LoadManifest(c.Manifest)
	if err != nil {
		return err
	}
	stack, err := raster.LoadStack(m)
	if err != nil {
		return err
	}
	log.Printf("detect: loaded %dx%d stack with %d dates", stack.Rows, stack.Cols, len(stack.Dates))

	var lastDecile atomic.Int64
	params.Progress = func(done, total int) {
		decile := int64(done * 10 / total)
		if prev := lastDecile.Load(); decile > prev && lastDecile.CompareAndSwap(prev, decile) {
			log.Printf("detect: %d/%d pixels", done, total)
		}
	}

	coll, err := raster.DetectRasterChanges(ctx, stack, params)
	if err != nil {
		if errors.Is(err, context.Canceled) && coll != nil {
			log.Printf("detect: cancelled with %d pixels finished, run not stored", len(coll.Pixels))
		}
		return err
	}

	st, closeDB, err := openStore(ctx, cli.DB)
	if err != nil {
		return err
	}
	defer closeDB()

	run, err := st.SaveRun(ctx, store.Run{
		Label:     c.Label,
		Params:    params.Engine.Resolved(),
		MinObsFit: params.MinObsFit,
		Dates:     stack.Dates,
	}, coll)
	if err != nil {
		return err
	}

	report, err := magnitude.MeasureChanges(coll, stack.Dates, nil)
	if err != nil {
		return err
	}
	s := magnitude.Summarize(report)
	fmt.Printf("run %s: %d pixels changed, %d changes\n", run.ID, s.Pixels, s.Changes)
	fmt.Printf("mean coefficient change: %v\n", s.MeanRaw)
	return nil
}

type MeasureCmd struct {
	RunID string `arg:"" name:"run" help:"Run ID."`
	Start int    `default:"-1" help:"First date index of the report, inclusive."`
	End   int    `default:"-1" help:"Last date index of the report, inclusive."`
}

func (c *MeasureCmd) Run(ctx context.Context, cli *CLI) error {
	st, closeDB, err := openStore(ctx, cli.DB)
	if err != nil {
		return err
	}
	defer closeDB()

	run, err := st.GetRun(ctx, c.RunID)
	if err != nil {
		return err
	}
	if run == nil {
		return fmt.Errorf("run %s not found", c.RunID)
	}
	coll, err := st.LoadCollection(ctx, c.RunID)
	if err != nil {
		return err
	}

	var subrange *magnitude.IndexRange
	if c.Start >= 0 || c.End >= 0 {
		subrange = &magnitude.IndexRange{Start: max(c.Start, 0), End: c.End}
		if c.End < 0 {
			subrange.End = len(run.Dates) - 1
		}
	}
	report, err := magnitude.MeasureChanges(coll, run.Dates, subrange)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

type RunsCmd struct{}

func (c *RunsCmd) Run(ctx context.Context, cli *CLI) error {
	st, closeDB, err := openStore(ctx, cli.DB)
	if err != nil {
		return err
	}
	defer closeDB()

	runs, err := st.ListRuns(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCREATED\tLABEL\tGRID\tSTAT\tPIXELS\tCHANGES")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%dx%d\t%s\t%d\t%d\n",
			r.ID, r.CreatedAt.Format(time.RFC3339), r.Label, r.Metadata.Rows, r.Metadata.Cols,
			r.Params.FlagStat, r.Pixels, r.Changes)
	}
	return w.Flush()
}

type ServeCmd struct {
	Port string `default:"8080" env:"PORT" help:"HTTP server port."`
}

func (c *ServeCmd) Run(ctx context.Context, cli *CLI) error {
	st, closeDB, err := openStore(ctx, cli.DB)
	if err != nil {
		return err
	}
	defer closeDB()
	return api.NewServer(st, c.Port).Run(ctx)
}
