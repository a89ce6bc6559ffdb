package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/lox/ccdc/internal/magnitude"
	"github.com/lox/ccdc/internal/segment"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	version, err := s.store.MigrationVersion(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, HealthStatus{Status: "error", Error: err.Error()})
		return
	}
	runs, err := s.store.ListRuns(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, HealthStatus{Status: "error", Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, HealthStatus{Status: "ok", SchemaVersion: version, Runs: len(runs)})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.ListRuns(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	views := make([]RunView, 0, len(runs))
	for _, run := range runs {
		views = append(views, newRunView(run))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	run, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if run == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("run %s not found", id))
		return
	}
	writeJSON(w, http.StatusOK, newRunView(*run))
}

func (s *Server) handleGetPixel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	pixel, err := strconv.Atoi(r.PathValue("pixel"))
	if err != nil || pixel < 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid pixel %q", r.PathValue("pixel")))
		return
	}
	rec, err := s.store.GetPixel(r.Context(), id, pixel)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("run %s has no changes for pixel %d", id, pixel))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleChanges reports change magnitudes, optionally restricted to ?start= and ?end= date
// indices. A missing bound defaults to the first or last date.
func (s *Server) handleChanges(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	run, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if run == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("run %s not found", id))
		return
	}

	rng := magnitude.IndexRange{Start: 0, End: len(run.Dates) - 1}
	var subrange *magnitude.IndexRange
	q := r.URL.Query()
	for _, bound := range []struct {
		name string
		dst  *int
	}{{"start", &rng.Start}, {"end", &rng.End}} {
		v := q.Get(bound.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid %s %q", bound.name, v))
			return
		}
		*bound.dst = n
		subrange = &rng
	}

	coll, err := s.store.LoadCollection(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	report, err := magnitude.MeasureChanges(coll, run.Dates, subrange)
	if errors.Is(err, segment.ErrInvalidConfiguration) {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, ChangesView{
		RunID:   id,
		Range:   rng,
		Summary: magnitude.Summarize(report),
		Report:  report,
	})
}
