package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/lox/ccdc/internal/models"
	"github.com/lox/ccdc/internal/segment"
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Run is one stored raster detection run.
type Run struct {
	ID        string
	CreatedAt time.Time
	Label     string
	Params    segment.Params
	MinObsFit int
	Metadata  models.Metadata
	Dates     []time.Time
	Pixels    int
	Changes   int
}

func nullFloat(v float64) sql.NullFloat64 {
	if math.IsNaN(v) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

func floatOrNaN(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}

func formatDate(t time.Time) string { return t.UTC().Format(time.DateOnly) }

func parseDate(s string) (time.Time, error) { return time.Parse(time.DateOnly, s) }

// SaveRun stores run and every pixel record of coll in one transaction. A missing run ID
// is generated. The stored run is returned.
func (s *Store) SaveRun(ctx context.Context, run Run, coll *models.RasterChangeCollection) (*Run, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	run.Metadata = coll.Metadata
	run.Pixels = len(coll.Pixels)
	run.Changes = 0
	for _, rec := range coll.Pixels {
		run.Changes += len(rec.Changes())
	}

	params, err := json.Marshal(run.Params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	md := run.Metadata
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO runs (id, created_at, label, params_json, min_obs_fit, grid_rows, grid_cols, crs, xmin, xmax, ymin, ymax, res_x, res_y, pixels, changes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.CreatedAt, run.Label, string(params), run.MinObsFit, md.Rows, md.Cols, md.CRS,
		md.Extent[0], md.Extent[1], md.Extent[2], md.Extent[3], md.Resolution[0], md.Resolution[1],
		run.Pixels, run.Changes); err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}

	dateStmt, err := tx.PrepareContext(ctx, `INSERT INTO run_dates (run_id, idx, date) VALUES (?, ?, ?)`)
	if err != nil {
		return nil, fmt.Errorf("prepare run dates: %w", err)
	}
	defer dateStmt.Close()
	for i, d := range run.Dates {
		if _, err := dateStmt.ExecContext(ctx, run.ID, i, formatDate(d)); err != nil {
			return nil, fmt.Errorf("insert run date %d: %w", i, err)
		}
	}

	evStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO pixel_events (run_id, pixel, seq, obs_index, obs_date, intercept, sin, cos, trend, fit_start, fit_end, num_obs, rmse)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return nil, fmt.Errorf("prepare pixel events: %w", err)
	}
	defer evStmt.Close()
	for _, id := range coll.PixelIDs() {
		for seq, ev := range coll.Pixels[id].Events {
			var obsIndex sql.NullInt64
			var obsDate sql.NullString
			if !ev.IsInitial() {
				obsIndex = sql.NullInt64{Int64: int64(ev.Index), Valid: true}
				obsDate = sql.NullString{String: formatDate(ev.Date), Valid: true}
			}
			c := ev.Model.Coefficients
			if _, err := evStmt.ExecContext(ctx, run.ID, id, seq, obsIndex, obsDate,
				nullFloat(c[models.Intercept]), nullFloat(c[models.Sin]), nullFloat(c[models.Cos]), nullFloat(c[models.Trend]),
				formatDate(ev.Model.FitStart), formatDate(ev.Model.FitEnd), ev.Model.NumObs, nullFloat(ev.Model.RMSE),
			); err != nil {
				return nil, fmt.Errorf("insert pixel %d event %d: %w", id, seq, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit run: %w", err)
	}
	return &run, nil
}

const runColumns = `id, created_at, label, params_json, min_obs_fit, grid_rows, grid_cols, crs, xmin, xmax, ymin, ymax, res_x, res_y, pixels, changes`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var run Run
	var label sql.NullString
	var params string
	md := &run.Metadata
	if err := row.Scan(&run.ID, &run.CreatedAt, &label, &params, &run.MinObsFit, &md.Rows, &md.Cols, &md.CRS,
		&md.Extent[0], &md.Extent[1], &md.Extent[2], &md.Extent[3], &md.Resolution[0], &md.Resolution[1],
		&run.Pixels, &run.Changes); err != nil {
		return nil, err
	}
	run.Label = label.String
	if err := json.Unmarshal([]byte(params), &run.Params); err != nil {
		return nil, fmt.Errorf("run %s params: %w", run.ID, err)
	}
	return &run, nil
}

// GetRun returns the run with its dates, or nil if it does not exist.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT date FROM run_dates WHERE run_id = ? ORDER BY idx`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var ds string
		if err := rows.Scan(&ds); err != nil {
			return nil, err
		}
		d, err := parseDate(ds)
		if err != nil {
			return nil, fmt.Errorf("run %s date %q: %w", id, ds, err)
		}
		run.Dates = append(run.Dates, d)
	}
	return run, rows.Err()
}

// ListRuns returns stored runs, newest first, without their dates.
func (s *Store) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// LoadCollection rebuilds the change collection of a run, or returns nil if it does not exist.
func (s *Store) LoadCollection(ctx context.Context, id string) (*models.RasterChangeCollection, error) {
	run, err := s.GetRun(ctx, id)
	if err != nil || run == nil {
		return nil, err
	}
	recs, err := s.queryEvents(ctx, `WHERE run_id = ?`, id)
	if err != nil {
		return nil, err
	}
	return &models.RasterChangeCollection{Metadata: run.Metadata, Pixels: recs}, nil
}

// GetPixel returns one pixel's change record, or nil if the run holds no such pixel.
func (s *Store) GetPixel(ctx context.Context, runID string, pixel int) (*models.PixelChangeRecord, error) {
	recs, err := s.queryEvents(ctx, `WHERE run_id = ? AND pixel = ?`, runID, pixel)
	if err != nil {
		return nil, err
	}
	rec, ok := recs[pixel]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *Store) queryEvents(ctx context.Context, where string, args ...any) (map[int]models.PixelChangeRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT pixel, obs_index, obs_date, intercept, sin, cos, trend, fit_start, fit_end, num_obs, rmse
		FROM pixel_events `+where+`
		ORDER BY pixel, seq
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	recs := make(map[int]models.PixelChangeRecord)
	for rows.Next() {
		var (
			pixel            int
			obsIndex         sql.NullInt64
			obsDate          sql.NullString
			c0, c1, c2, c3   sql.NullFloat64
			fitStart, fitEnd string
			numObs           int
			rmse             sql.NullFloat64
		)
		if err := rows.Scan(&pixel, &obsIndex, &obsDate, &c0, &c1, &c2, &c3, &fitStart, &fitEnd, &numObs, &rmse); err != nil {
			return nil, err
		}

		ev := models.ChangeEvent{Index: models.NoIndex}
		if obsIndex.Valid {
			ev.Index = int(obsIndex.Int64)
		}
		if obsDate.Valid {
			if ev.Date, err = parseDate(obsDate.String); err != nil {
				return nil, fmt.Errorf("pixel %d event date: %w", pixel, err)
			}
		}
		ev.Model.Coefficients = models.Coefficients{floatOrNaN(c0), floatOrNaN(c1), floatOrNaN(c2), floatOrNaN(c3)}
		if ev.Model.FitStart, err = parseDate(fitStart); err != nil {
			return nil, fmt.Errorf("pixel %d fit start: %w", pixel, err)
		}
		if ev.Model.FitEnd, err = parseDate(fitEnd); err != nil {
			return nil, fmt.Errorf("pixel %d fit end: %w", pixel, err)
		}
		ev.Model.NumObs = numObs
		ev.Model.RMSE = floatOrNaN(rmse)

		rec := recs[pixel]
		rec.Pixel = pixel
		rec.Events = append(rec.Events, ev)
		recs[pixel] = rec
	}
	return recs, rows.Err()
}

// DeleteRun removes a run and its events.
func (s *Store) DeleteRun(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, q := range []string{
		`DELETE FROM pixel_events WHERE run_id = ?`,
		`DELETE FROM run_dates WHERE run_id = ?`,
		`DELETE FROM runs WHERE id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return fmt.Errorf("delete run %s: %w", id, err)
		}
	}
	return tx.Commit()
}
