package core

// State is a step of the engine state machine.
type State string

const (
	StateIdle                   State = "IDLE"
	StateCheckingManifest       State = "CHECKING_MANIFEST"
	StateUpToDate               State = "UP_TO_DATE"
	StateHasTasks               State = "HAS_TASKS"
	StateReconcilingDirectories State = "RECONCILING_DIRECTORIES"
	StateFetchingFiles          State = "FETCHING_FILES"
	StateBootstrapping          State = "BOOTSTRAPPING"
	StateExtractingArchive      State = "EXTRACTING_ARCHIVE"
	StateDone                   State = "DONE"
)

// Outcome is the terminal result of an operation.
type Outcome string

type FileStatus string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeDegraded Outcome = "degraded"
	OutcomeFailed   Outcome = "failed"

	FileStatusPending   FileStatus = "FILE_PENDING"
	FileStatusCompleted FileStatus = "FILE_COMPLETED"
	FileStatusError     FileStatus = "FILE_ERROR"
	// FileStatusSkipped is used for files left untouched after a stop signal.
	FileStatusSkipped FileStatus = "FILE_SKIPPED"
)

// obtainOutcome folds per-file statuses into a batch outcome:
//   - No files: success
//   - All done: success
//   - Anything failed or skipped: degraded
//
// Fatal errors are reported as OutcomeFailed by the caller, never here: a
// batch with per-file failures still returns normally.
func obtainOutcome(files []*FileResult) Outcome {
	for _, f := range files {
		if f == nil {
			continue
		}
		if f.Status != FileStatusCompleted {
			return OutcomeDegraded
		}
	}
	return OutcomeSuccess
}
