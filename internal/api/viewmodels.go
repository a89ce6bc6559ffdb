package api

import (
	"time"

	"github.com/lox/ccdc/internal/magnitude"
	"github.com/lox/ccdc/internal/models"
	"github.com/lox/ccdc/internal/segment"
	"github.com/lox/ccdc/internal/store"
)

type HealthStatus struct {
	Status        string `json:"status"`
	SchemaVersion int    `json:"schema_version"`
	Runs          int    `json:"runs"`
	Error         string `json:"error,omitempty"`
}

// RunView is the JSON form of a stored run.
type RunView struct {
	ID        string          `json:"id"`
	CreatedAt time.Time       `json:"created_at"`
	Label     string          `json:"label,omitempty"`
	Params    segment.Params  `json:"params"`
	MinObsFit int             `json:"min_obs_fit"`
	Metadata  models.Metadata `json:"metadata"`
	Pixels    int             `json:"pixels"`
	Changes   int             `json:"changes"`
	Dates     []string        `json:"dates,omitempty"`
}

func newRunView(run store.Run) RunView {
	v := RunView{
		ID:        run.ID,
		CreatedAt: run.CreatedAt,
		Label:     run.Label,
		Params:    run.Params,
		MinObsFit: run.MinObsFit,
		Metadata:  run.Metadata,
		Pixels:    run.Pixels,
		Changes:   run.Changes,
	}
	for _, d := range run.Dates {
		v.Dates = append(v.Dates, d.Format(time.DateOnly))
	}
	return v
}

// ChangesView is a magnitude report with its summary.
type ChangesView struct {
	RunID   string               `json:"run_id"`
	Range   magnitude.IndexRange `json:"range"`
	Summary magnitude.Summary    `json:"summary"`
	Report  models.ChangeReport  `json:"report"`
}
