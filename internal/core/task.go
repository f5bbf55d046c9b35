package core

import (
	"sort"
	"time"
)

// FileResult is the outcome of one file of a batch.
type FileResult struct {
	ID       int64      `json:"id"`
	Path     string     `json:"path"`
	Status   FileStatus `json:"status"`
	Attempts int        `json:"attempts,omitempty"`
	Error    string     `json:"error,omitempty"`
	// Code classifies the failure when Status is FileStatusError.
	Code ErrorCode `json:"code,omitempty"`

	Elapsed time.Duration `json:"elapsed,omitempty"`
}

func (f *FileResult) IsFinished() bool {
	switch f.Status {
	case FileStatusCompleted, FileStatusError:
		return true
	default:
		return false
	}
}

// BatchResult is what the download-verify-extract pipeline hands back.
type BatchResult struct {
	Outcome Outcome       `json:"outcome"`
	Files   []*FileResult `json:"files"`

	Succeeded int  `json:"succeeded"`
	Failed    int  `json:"failed"`
	Cancelled bool `json:"cancelled,omitempty"`
}

// Success is true only if every file of the task was placed.
func (b *BatchResult) Success() bool {
	return b != nil && b.Outcome == OutcomeSuccess
}

// Finalize counts results and derives the outcome.
func (b *BatchResult) Finalize() {
	b.Succeeded, b.Failed = 0, 0
	for _, f := range b.Files {
		if f == nil {
			continue
		}
		switch f.Status {
		case FileStatusCompleted:
			b.Succeeded++
		case FileStatusError:
			b.Failed++
		}
	}
	b.Outcome = obtainOutcome(b.Files)
}

// Remaining lists the ids that still need work.
func (b *BatchResult) Remaining() []int64 {
	var res []int64
	for _, f := range b.Files {
		if f != nil && f.Status != FileStatusCompleted {
			res = append(res, f.ID)
		}
	}
	return res
}

// Report is the produced collaborator interface: task list, overall flag and
// terminal status string.
type Report struct {
	Outcome Outcome      `json:"outcome"`
	Message string       `json:"message"`
	Task    *UpdateTask  `json:"task,omitempty"`
	Batch   *BatchResult `json:"batch,omitempty"`

	Bootstrapped bool `json:"bootstrapped,omitempty"`
}

type RunKind string

const (
	RunKindUpdate    RunKind = "update"
	RunKindRepair    RunKind = "repair"
	RunKindBootstrap RunKind = "bootstrap"
)

type RunStatus string

const (
	RunStatusQueued  RunStatus = "RUN_QUEUED"
	RunStatusRunning RunStatus = "RUN_RUNNING"
	RunStatusDone    RunStatus = "RUN_DONE"
)

// Run is a recorded invocation of an engine operation.
type Run struct {
	ID      string    `json:"id"`
	Kind    RunKind   `json:"kind"`
	Status  RunStatus `json:"status"`
	Outcome Outcome   `json:"outcome,omitempty"`
	Message string    `json:"message,omitempty"`

	Files     int `json:"files"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`

	CreatedAt  *time.Time `json:"created_at"`
	UpdatedAt  *time.Time `json:"updated_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

func NewRun(id string, kind RunKind, now *time.Time) *Run {
	return &Run{
		ID:        id,
		Kind:      kind,
		Status:    RunStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Finish records a terminal report onto the run.
func (r *Run) Finish(rep *Report, now *time.Time) {
	r.Status = RunStatusDone
	r.UpdatedAt = now
	r.FinishedAt = now
	if rep == nil {
		r.Outcome = OutcomeFailed
		return
	}
	r.Outcome = rep.Outcome
	r.Message = rep.Message
	if rep.Task != nil {
		r.Files = rep.Task.Len()
	}
	if rep.Batch != nil {
		r.Succeeded = rep.Batch.Succeeded
		r.Failed = rep.Batch.Failed
	}
}

func (r *Run) CloneRun() *Run {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

// SortRuns sorts runs in-place by CreatedAt
func SortRuns(runs []*Run) {
	sort.Slice(runs, func(i, j int) bool {
		time1 := runs[i].CreatedAt
		time2 := runs[j].CreatedAt

		switch {
		case time1 == nil && time2 == nil:
			return runs[i].ID < runs[j].ID
		case time1 == nil:
			return false
		case time2 == nil:
			return true
		default:
			return time1.Before(*time2)
		}
	})
}
