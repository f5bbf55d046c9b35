package main

import (
	"bytes"
	"testing"

	"github.com/PopusBenedictus/tera-launcher-for-linux-sub000/internal/core"
	"github.com/stretchr/testify/require"
)

func TestPrinterDropsRepeatedMessages(t *testing.T) {
	buf := &bytes.Buffer{}
	p := newPrinter(buf, false)
	obs := p.observer()

	obs.OverallSink().Report(0.5, "Downloading file 1 of 2: a.bin")
	obs.OverallSink().Report(0.5, "Downloading file 1 of 2: a.bin")
	obs.OverallSink().Report(1, "All downloads processed.")

	require.Equal(t, "[ 50%] Downloading file 1 of 2: a.bin\n[100%] All downloads processed.\n", buf.String())
}

func TestPrinterFinishMapsOutcome(t *testing.T) {
	buf := &bytes.Buffer{}
	p := newPrinter(buf, true)

	require.NoError(t, p.finish(&core.Report{Outcome: core.OutcomeSuccess, Message: "Game is up to date."}, nil))

	err := p.finish(&core.Report{
		Outcome: core.OutcomeDegraded,
		Message: "Some files could not be updated. Run repair to try again.",
		Batch: &core.BatchResult{Failed: 1, Files: []*core.FileResult{
			{ID: 3, Path: "S1Game/c.upk", Status: core.FileStatusError, Error: "hash mismatch"},
		}},
	}, nil)
	require.ErrorIs(t, err, errDegraded)
	require.Contains(t, buf.String(), "failed: S1Game/c.upk: hash mismatch")

	busy := core.NewBusyError("test")
	require.ErrorIs(t, p.finish(nil, busy), core.ErrBusy)
}
