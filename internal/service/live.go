package service

import (
	"sync"

	"github.com/PopusBenedictus/tera-launcher-for-linux-sub000/internal/core"
)

// Live is a snapshot of the run in flight.
type Live struct {
	RunID string       `json:"run_id,omitempty"`
	Kind  core.RunKind `json:"kind,omitempty"`
	State core.State   `json:"state"`
	Busy  bool         `json:"busy"`

	Overall         float64 `json:"overall"`
	OverallMessage  string  `json:"overall_message,omitempty"`
	Transfer        float64 `json:"transfer"`
	TransferMessage string  `json:"transfer_message,omitempty"`
}

type liveTracker struct {
	mu   sync.RWMutex
	snap Live
}

func (l *liveTracker) begin(runID string, kind core.RunKind) {
	l.mu.Lock()
	l.snap = Live{RunID: runID, Kind: kind, State: core.StateIdle, Busy: true}
	l.mu.Unlock()
}

func (l *liveTracker) end() {
	l.mu.Lock()
	l.snap.Busy = false
	l.snap.State = core.StateDone
	l.mu.Unlock()
}

func (l *liveTracker) get() Live {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snap
}

// observer feeds engine callbacks into the snapshot.
func (l *liveTracker) observer() core.Observer {
	return core.Observer{
		Overall: core.SinkFunc(func(fraction float64, message string) {
			l.mu.Lock()
			l.snap.Overall, l.snap.OverallMessage = fraction, message
			l.mu.Unlock()
		}),
		Transfer: core.SinkFunc(func(fraction float64, message string) {
			l.mu.Lock()
			l.snap.Transfer, l.snap.TransferMessage = fraction, message
			l.mu.Unlock()
		}),
		OnState: func(s core.State) {
			l.mu.Lock()
			l.snap.State = s
			l.mu.Unlock()
		},
	}
}
