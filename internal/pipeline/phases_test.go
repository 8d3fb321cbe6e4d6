package pipeline

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"amscli/internal/config"
)

func TestDefaultPhases(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.DownloadsDir = t.TempDir()

	phases := DefaultPhases(cfg, time.Now())
	require.Len(t, phases, 5)

	names := make([]string, len(phases))
	for i, p := range phases {
		names[i] = p.Name
		assert.NotNil(t, p.Open, "phase %s has no session factory", p.Name)
		assert.NotEmpty(t, p.Files, "phase %s expects no files", p.Name)
	}
	assert.Equal(t, []string{
		"web_mat_shortage", "web_daily_reports",
		"sap_mo_backorders", "sap_mb51", "sap_daily_mo",
	}, names)

	daily := phases[4]
	assert.Equal(t, []string{"DAILY MO MB25.xlsx"}, daily.Files)
	assert.Equal(t, daily.Files, daily.BackupFiles, "daily MO export is backed up on arrival")

	webDaily := phases[1]
	assert.Len(t, webDaily.Files, 3)
}

func TestSelectPhases(t *testing.T) {
	phases := []PhaseSpec{{Name: "a"}, {Name: "b"}, {Name: "c"}}

	all, err := SelectPhases(phases, nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	subset, err := SelectPhases(phases, []string{"c", "a"})
	require.NoError(t, err)
	require.Len(t, subset, 2)
	assert.Equal(t, "c", subset[0].Name)
	assert.Equal(t, "a", subset[1].Name)

	_, err = SelectPhases(phases, []string{"nope"})
	assert.ErrorContains(t, err, `unknown phase "nope"`)
}

func TestRunResult_Summary(t *testing.T) {
	ok := NewPhaseState("ok")
	require.NoError(t, ok.Start())
	require.NoError(t, ok.Complete(nil))

	bad := NewPhaseState("bad")
	require.NoError(t, bad.Start())
	require.NoError(t, bad.Fail(errors.New("boom")))

	result := &RunResult{Phases: []*PhaseState{ok, bad}}
	summary := result.Summary()
	assert.Equal(t, []string{"ok"}, summary.Succeeded)
	assert.Equal(t, []string{"bad"}, summary.Failed)
	assert.False(t, summary.ReportGenerated)
}
