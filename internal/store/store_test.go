package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	_ "modernc.org/sqlite"

	"github.com/lox/ccdc/internal/models"
	"github.com/lox/ccdc/internal/segment"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	store := New(db)
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func day(n int) time.Time {
	return time.Date(2018, time.January, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, n)
}

func testCollection() *models.RasterChangeCollection {
	model := func(start, end int, c models.Coefficients) models.Model {
		return models.Model{Coefficients: c, FitStart: day(start), FitEnd: day(end), NumObs: 40, RMSE: 0.25}
	}
	return &models.RasterChangeCollection{
		Metadata: models.Metadata{
			Rows:       3,
			Cols:       4,
			CRS:        "EPSG:32755",
			Extent:     [4]float64{0, 120, 0, 90},
			Resolution: [2]float64{30, 30},
		},
		Pixels: map[int]models.PixelChangeRecord{
			2: {Pixel: 2, Events: []models.ChangeEvent{
				{Index: models.NoIndex, Model: model(0, 364, models.Coefficients{10, 1, -1, 0.001})},
				{Index: 90, Date: day(450), Model: model(450, 814, models.Coefficients{14, 1.2, -0.8, 0})},
			}},
			7: {Pixel: 7, Events: []models.ChangeEvent{
				{Index: models.NoIndex, Model: model(0, 364, models.Coefficients{5, 0, 0, 0})},
				{Index: 80, Date: day(400), Model: model(400, 764, models.Coefficients{-5, 0.5, 0.5, 0.01})},
				{Index: 150, Date: day(750), Model: model(750, 1114, models.Coefficients{3, 0.1, 0.2, -0.02})},
			}},
		},
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	v, err := store.MigrationVersion(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if v != len(migrations) {
		t.Errorf("MigrationVersion = %d, want %d", v, len(migrations))
	}
}

func TestSaveRunAndLoadCollection(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	coll := testCollection()
	dates := []time.Time{day(0), day(5), day(10)}

	saved, err := store.SaveRun(ctx, Run{
		Label:     "test",
		Params:    segment.DefaultParams(),
		MinObsFit: 12,
		Dates:     dates,
	}, coll)
	if err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	if saved.ID == "" {
		t.Fatal("SaveRun did not assign an ID")
	}
	if saved.Pixels != 2 || saved.Changes != 3 {
		t.Errorf("saved counts = %d pixels %d changes, want 2 and 3", saved.Pixels, saved.Changes)
	}

	got, err := store.LoadCollection(ctx, saved.ID)
	if err != nil {
		t.Fatalf("LoadCollection: %v", err)
	}
	if diff := cmp.Diff(coll, got); diff != "" {
		t.Errorf("round trip (-saved +loaded):\n%s", diff)
	}
	if !got.Pixels[7].Events[0].IsInitial() {
		t.Error("sentinel initial event not preserved")
	}

	run, err := store.GetRun(ctx, saved.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.Label != "test" || run.MinObsFit != 12 {
		t.Errorf("run = %+v", run)
	}
	if run.Params != segment.DefaultParams() {
		t.Errorf("params = %+v, want %+v", run.Params, segment.DefaultParams())
	}
	if diff := cmp.Diff(dates, run.Dates); diff != "" {
		t.Errorf("dates (-want +got):\n%s", diff)
	}
}

func TestGetPixel(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	saved, err := store.SaveRun(ctx, Run{Params: segment.DefaultParams()}, testCollection())
	if err != nil {
		t.Fatal(err)
	}

	rec, err := store.GetPixel(ctx, saved.ID, 7)
	if err != nil {
		t.Fatalf("GetPixel: %v", err)
	}
	if rec == nil || len(rec.Events) != 3 || rec.Events[2].Index != 150 {
		t.Fatalf("pixel 7 = %+v, want 3 events ending at index 150", rec)
	}

	missing, err := store.GetPixel(ctx, saved.ID, 3)
	if err != nil {
		t.Fatal(err)
	}
	if missing != nil {
		t.Errorf("pixel 3 = %+v, want nil", missing)
	}
}

func TestGetRun_NotFound(t *testing.T) {
	store := setupTestStore(t)
	run, err := store.GetRun(context.Background(), "does-not-exist")
	if err != nil {
		t.Fatal(err)
	}
	if run != nil {
		t.Errorf("GetRun = %+v, want nil", run)
	}
	coll, err := store.LoadCollection(context.Background(), "does-not-exist")
	if err != nil || coll != nil {
		t.Errorf("LoadCollection = %v, %v, want nil, nil", coll, err)
	}
}

func TestListAndDeleteRuns(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	older, err := store.SaveRun(ctx, Run{Label: "older", CreatedAt: time.Now().Add(-time.Hour).UTC(), Params: segment.DefaultParams()}, testCollection())
	if err != nil {
		t.Fatal(err)
	}
	newer, err := store.SaveRun(ctx, Run{Label: "newer", Params: segment.DefaultParams()}, testCollection())
	if err != nil {
		t.Fatal(err)
	}

	runs, err := store.ListRuns(ctx)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != newer.ID || runs[1].ID != older.ID {
		t.Fatalf("ListRuns order = %+v, want newer then older", runs)
	}

	if err := store.DeleteRun(ctx, older.ID); err != nil {
		t.Fatalf("DeleteRun: %v", err)
	}
	runs, err = store.ListRuns(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].ID != newer.ID {
		t.Errorf("after delete runs = %+v", runs)
	}
	if rec, _ := store.GetPixel(ctx, older.ID, 2); rec != nil {
		t.Error("events of deleted run still present")
	}
}
