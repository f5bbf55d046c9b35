package api

import (
	"testing"
	"time"

	"github.com/PopusBenedictus/tera-launcher-for-linux-sub000/internal/core"
	"github.com/PopusBenedictus/tera-launcher-for-linux-sub000/internal/service"
	"github.com/stretchr/testify/require"
)

func TestNewRunResponseStatus(t *testing.T) {
	now := time.Now()
	run := core.NewRun("r1", core.RunKindRepair, &now)
	run.Status = core.RunStatusRunning

	resp := NewRunResponse(run)
	require.NotNil(t, resp)
	require.Equal(t, "running", resp.Status)
	require.Equal(t, "repair", resp.Kind)

	now2 := now.Add(time.Hour)
	resp.CreatedAt = &now2
	require.Equal(t, now, *run.CreatedAt, "times are copied")
}

func TestNewStatusResponseIdle(t *testing.T) {
	resp := NewStatusResponse(service.Live{})
	require.False(t, resp.Busy)
	require.Equal(t, string(core.StateIdle), resp.State)
}
