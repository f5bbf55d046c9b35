package core

// ProgressSink receives progress from the engine. Implementations must be
// cheap and must not call back into the engine.
type ProgressSink interface {
	Report(fraction float64, message string)
}

// SinkFunc adapts a function to ProgressSink.
type SinkFunc func(fraction float64, message string)

func (f SinkFunc) Report(fraction float64, message string) {
	f(fraction, message)
}

type nopSink struct{}

func (nopSink) Report(float64, string) {}

// SinkOrNop returns s, or a sink that drops everything when s is nil.
func SinkOrNop(s ProgressSink) ProgressSink {
	if s == nil {
		return nopSink{}
	}
	return s
}

// Observer bundles the sinks of one engine operation. The zero value
// discards everything.
type Observer struct {
	// Overall tracks the whole operation.
	Overall ProgressSink
	// Transfer tracks the current transfer or extraction stage.
	Transfer ProgressSink
	OnState  func(State)
}

func (o Observer) SetState(s State) {
	if o.OnState != nil {
		o.OnState(s)
	}
}

func (o Observer) OverallSink() ProgressSink {
	return SinkOrNop(o.Overall)
}

func (o Observer) TransferSink() ProgressSink {
	return SinkOrNop(o.Transfer)
}
