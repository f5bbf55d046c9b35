package api

import (
	"time"

	"github.com/PopusBenedictus/tera-launcher-for-linux-sub000/internal/core"
	"github.com/PopusBenedictus/tera-launcher-for-linux-sub000/internal/service"
)

type StartRunRequest struct {
	Kind string `json:"kind" binding:"required,oneof=update repair bootstrap"`
}

type RunResponse struct {
	ID      string `json:"id"`
	Kind    string `json:"kind"`
	Status  string `json:"status"`
	Outcome string `json:"outcome,omitempty"`
	Message string `json:"message,omitempty"`

	Files     int `json:"files"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`

	CreatedAt  *time.Time `json:"created_at,omitempty"`
	UpdatedAt  *time.Time `json:"updated_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

type RunsListResponse struct {
	Runs []*RunResponse `json:"runs"`
}

type StatusResponse struct {
	Busy  bool   `json:"busy"`
	RunID string `json:"run_id,omitempty"`
	Kind  string `json:"kind,omitempty"`
	State string `json:"state"`

	Overall         float64 `json:"overall"`
	OverallMessage  string  `json:"overall_message,omitempty"`
	Transfer        float64 `json:"transfer"`
	TransferMessage string  `json:"transfer_message,omitempty"`
}

func NewRunsListResponse(runs []*core.Run) *RunsListResponse {
	resp := &RunsListResponse{
		Runs: make([]*RunResponse, 0, len(runs)),
	}
	for _, r := range runs {
		if r == nil {
			continue
		}
		resp.Runs = append(resp.Runs, NewRunResponse(r))
	}
	return resp
}

func NewRunResponse(run *core.Run) *RunResponse {
	if run == nil {
		return nil
	}

	status := "unknown"
	switch run.Status {
	case core.RunStatusQueued:
		status = "queued"
	case core.RunStatusRunning:
		status = "running"
	case core.RunStatusDone:
		status = "done"
	}

	return &RunResponse{
		ID:        run.ID,
		Kind:      string(run.Kind),
		Status:    status,
		Outcome:   string(run.Outcome),
		Message:   run.Message,
		Files:     run.Files,
		Succeeded: run.Succeeded,
		Failed:    run.Failed,

		CreatedAt:  copyTime(run.CreatedAt),
		UpdatedAt:  copyTime(run.UpdatedAt),
		FinishedAt: copyTime(run.FinishedAt),
	}
}

func NewStatusResponse(l service.Live) *StatusResponse {
	state := string(l.State)
	if state == "" {
		state = string(core.StateIdle)
	}
	return &StatusResponse{
		Busy:            l.Busy,
		RunID:           l.RunID,
		Kind:            string(l.Kind),
		State:           state,
		Overall:         l.Overall,
		OverallMessage:  l.OverallMessage,
		Transfer:        l.Transfer,
		TransferMessage: l.TransferMessage,
	}
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	nt := *t
	return &nt
}
