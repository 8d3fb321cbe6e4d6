package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"amscli/internal/config"
	"amscli/internal/gateway"
	"amscli/internal/lifecycle"
	"amscli/internal/session"
)

// fakeSession delivers files by writing them into the downloads directory.
type fakeSession struct {
	files   []string
	dir     string
	err     error
	delay   time.Duration
	closed  *int
	closeMu *sync.Mutex
}

func (f *fakeSession) Extract(ctx context.Context) ([]string, error) {
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.delay):
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	for _, name := range f.files {
		if err := os.WriteFile(filepath.Join(f.dir, name), []byte("data"), 0o644); err != nil {
			return nil, err
		}
	}
	return f.files, nil
}

func (f *fakeSession) Close() error {
	f.closeMu.Lock()
	defer f.closeMu.Unlock()
	*f.closed++
	return nil
}

// recordingSink captures events in publish order.
type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingSink) Publish(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingSink) forPhase(name string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Phase == name {
			out = append(out, e)
		}
	}
	return out
}

type harness struct {
	orch    *Orchestrator
	sink    *recordingSink
	files   *lifecycle.Manager
	dir     string
	closed  int
	closeMu sync.Mutex
}

func newHarness(t *testing.T, cfg config.PipelineConfig) *harness {
	t.Helper()
	paths := config.PathsConfig{
		BaseDir:      t.TempDir(),
		DownloadsDir: "downloads",
		ReportsDir:   "reports",
		BackupDir:    "backups",
		TrashDir:     ".trash",
		LogsDir:      "logs",
	}
	resolved, err := paths.Resolve()
	require.NoError(t, err)
	require.NoError(t, resolved.EnsureDirectories())

	h := &harness{
		sink: &recordingSink{},
		dir:  resolved.DownloadsDir,
	}
	h.files = lifecycle.NewManager(*resolved, 10*time.Millisecond, slog.Default())
	h.orch = NewOrchestrator(cfg, h.files, h.sink, slog.Default())
	h.orch.limiter = rate.NewLimiter(rate.Inf, 1)
	return h
}

// factory returns a session factory; failures lists the error each attempt
// hits before sessions start succeeding.
func (h *harness) factory(files []string, failures ...error) session.Factory {
	var mu sync.Mutex
	attempt := 0
	return func(ctx context.Context) (session.Session, error) {
		mu.Lock()
		var err error
		if attempt < len(failures) {
			err = failures[attempt]
		}
		attempt++
		mu.Unlock()
		return &fakeSession{
			files:   files,
			dir:     h.dir,
			err:     err,
			closed:  &h.closed,
			closeMu: &h.closeMu,
		}, nil
	}
}

func fastConfig() config.PipelineConfig {
	return config.PipelineConfig{
		MaxRetries:    3,
		InitialDelay:  5 * time.Millisecond,
		MaxDelay:      20 * time.Millisecond,
		Multiplier:    2.0,
		PhaseTimeout:  2 * time.Second,
		GlobalTimeout: 10 * time.Second,
		PollInterval:  10 * time.Millisecond,
	}
}

func TestRun_AllPhasesSucceed(t *testing.T) {
	h := newHarness(t, fastConfig())
	phases := []PhaseSpec{
		{Name: "web_mat_shortage", Files: []string{"MatShortageRpt.xlsx"},
			Open: h.factory([]string{"MatShortageRpt.xlsx"})},
		{Name: "sap_mb51", Files: []string{"MB51.xlsx"},
			Open: h.factory([]string{"MB51.xlsx"})},
		{Name: "sap_mo_backorders", Files: []string{"MB25 Backorders.xlsx"},
			Open: h.factory([]string{"MB25 Backorders.xlsx"})},
	}

	result, err := h.orch.Run(context.Background(), phases, nil)
	require.NoError(t, err)
	assert.True(t, result.Succeeded())
	assert.NotEmpty(t, result.TraceID)

	for _, spec := range phases {
		state := result.Phase(spec.Name)
		require.NotNil(t, state)
		assert.Equal(t, StatusSucceeded, state.Status())
		assert.Equal(t, 1, state.Attempt())
		assert.Equal(t, spec.Files, state.Files())
	}
}

func TestRun_RetryThenSucceed(t *testing.T) {
	h := newHarness(t, fastConfig())
	flaky := errors.New("export timed out")
	phases := []PhaseSpec{
		{Name: "sap_mb51", Files: []string{"MB51.xlsx"},
			Open: h.factory([]string{"MB51.xlsx"}, flaky, flaky)},
	}

	result, err := h.orch.Run(context.Background(), phases, nil)
	require.NoError(t, err)

	state := result.Phase("sap_mb51")
	assert.Equal(t, StatusSucceeded, state.Status())
	assert.Equal(t, 3, state.Attempt())

	statuses := statusSequence(h.sink.forPhase("sap_mb51"))
	assert.Equal(t, []Status{
		StatusRunning, StatusRetrying, StatusRunning,
		StatusRetrying, StatusRunning, StatusSucceeded,
	}, statuses)
}

func TestRun_RetryBudgetExhausted(t *testing.T) {
	h := newHarness(t, fastConfig())
	flaky := errors.New("export timed out")
	phases := []PhaseSpec{
		{Name: "sap_daily_mo", Files: []string{"DAILY MO MB25.xlsx"},
			Open: h.factory([]string{"DAILY MO MB25.xlsx"}, flaky, flaky, flaky, flaky)},
	}

	result, err := h.orch.Run(context.Background(), phases, nil)
	require.Error(t, err)

	var perr *PhaseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "sap_daily_mo", perr.Phase)
	assert.Equal(t, 3, perr.Attempt)

	state := result.Phase("sap_daily_mo")
	assert.Equal(t, StatusFailed, state.Status())
	assert.ErrorIs(t, state.Err(), flaky)
}

func TestRun_NonRetryableFailsImmediately(t *testing.T) {
	h := newHarness(t, fastConfig())
	phases := []PhaseSpec{
		{Name: "web_daily_reports", Files: []string{"Billing Only.xlsx"},
			Open: h.factory([]string{"Billing Only.xlsx"},
				session.ErrLoginFailed, nil)},
	}

	result, err := h.orch.Run(context.Background(), phases, nil)
	require.Error(t, err)

	state := result.Phase("web_daily_reports")
	assert.Equal(t, StatusFailed, state.Status())
	assert.Equal(t, 1, state.Attempt(), "credential rejection must not retry")
	assert.ErrorIs(t, state.Err(), session.ErrLoginFailed)
}

func TestRun_PhaseFailureDoesNotCancelOthers(t *testing.T) {
	h := newHarness(t, fastConfig())
	phases := []PhaseSpec{
		{Name: "doomed", Files: []string{"never.xlsx"},
			Open: h.factory(nil, session.ErrLoginFailed)},
		{Name: "healthy", Files: []string{"MB51.xlsx"},
			Open: h.factory([]string{"MB51.xlsx"})},
	}

	result, err := h.orch.Run(context.Background(), phases, nil)
	require.Error(t, err)
	assert.Equal(t, StatusFailed, result.Phase("doomed").Status())
	assert.Equal(t, StatusSucceeded, result.Phase("healthy").Status())
}

func TestRun_PhaseTimeout(t *testing.T) {
	cfg := fastConfig()
	cfg.PhaseTimeout = 50 * time.Millisecond
	cfg.MaxRetries = 1
	h := newHarness(t, cfg)

	hang := session.Factory(func(ctx context.Context) (session.Session, error) {
		return &fakeSession{
			delay:   time.Minute,
			closed:  &h.closed,
			closeMu: &h.closeMu,
		}, nil
	})
	phases := []PhaseSpec{{Name: "stuck", Files: []string{"x.xlsx"}, Open: hang}}

	start := time.Now()
	result, err := h.orch.Run(context.Background(), phases, nil)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, StatusFailed, result.Phase("stuck").Status())
}

func TestRun_SessionsAlwaysClosed(t *testing.T) {
	h := newHarness(t, fastConfig())
	flaky := errors.New("boom")
	phases := []PhaseSpec{
		{Name: "p", Files: []string{"MB51.xlsx"},
			Open: h.factory([]string{"MB51.xlsx"}, flaky)},
	}

	_, err := h.orch.Run(context.Background(), phases, nil)
	require.NoError(t, err)

	h.closeMu.Lock()
	defer h.closeMu.Unlock()
	assert.Equal(t, 2, h.closed, "one close per attempt")
}

func TestRun_ClearsStaleBeforePhases(t *testing.T) {
	h := newHarness(t, fastConfig())
	stale := filepath.Join(h.dir, "MatShortageRpt.xlsx")
	require.NoError(t, os.WriteFile(stale, []byte("yesterday"), 0o644))

	// The only session never writes; if the stale file survived the clear,
	// AwaitDownload would see it and succeed with yesterday's data.
	hangs := session.Factory(func(ctx context.Context) (session.Session, error) {
		return &fakeSession{closed: &h.closed, closeMu: &h.closeMu}, nil
	})
	h.orch.cfg.MaxRetries = 1
	h.orch.cfg.PhaseTimeout = 200 * time.Millisecond
	phases := []PhaseSpec{
		{Name: "web_mat_shortage", Files: []string{"MatShortageRpt.xlsx"}, Open: hangs},
	}

	_, err := h.orch.Run(context.Background(), phases, []string{"MatShortageRpt"})
	require.Error(t, err, "stale file must not satisfy the download wait")
	assert.NoFileExists(t, stale)
}

func TestRun_BackupAfterDelivery(t *testing.T) {
	h := newHarness(t, fastConfig())
	phases := []PhaseSpec{
		{Name: "sap_daily_mo",
			Files:       []string{"DAILY MO MB25.xlsx"},
			BackupFiles: []string{"DAILY MO MB25.xlsx"},
			Open:        h.factory([]string{"DAILY MO MB25.xlsx"})},
	}

	result, err := h.orch.Run(context.Background(), phases, nil)
	require.NoError(t, err)
	require.True(t, result.Succeeded())

	backups, err := filepath.Glob(filepath.Join(filepath.Dir(h.dir), "backups", "DAILY MO MB25 *.xlsx"))
	require.NoError(t, err)
	assert.Len(t, backups, 1)
}

// fakeBuilder stands in for the report build and records invocations.
type fakeBuilder struct {
	mu    sync.Mutex
	calls int
}

func (b *fakeBuilder) Run(ctx context.Context, now time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	return nil
}

func TestRunFull_FailedPhaseNeverBuildsReport(t *testing.T) {
	h := newHarness(t, fastConfig())
	builder := &fakeBuilder{}
	phases := []PhaseSpec{
		{Name: "web_daily_reports", Files: []string{"Billing Only.xlsx"},
			Open: h.factory(nil, session.ErrLoginFailed)},
		{Name: "sap_mb51", Files: []string{"MB51.xlsx"},
			Open: h.factory([]string{"MB51.xlsx"})},
	}

	result, summary, err := h.orch.RunFull(context.Background(), phases, nil, builder, time.Now())
	require.Error(t, err)

	// The workbook side is never touched when any phase failed; the builder
	// owns the only path to a gateway Open.
	assert.Equal(t, 0, builder.calls)
	assert.False(t, summary.ReportGenerated)
	assert.Equal(t, []string{"web_daily_reports"}, summary.Failed)
	assert.Equal(t, []string{"sap_mb51"}, summary.Succeeded)
	assert.False(t, result.Succeeded())
}

func TestRunFull_SuccessBuildsReport(t *testing.T) {
	h := newHarness(t, fastConfig())
	builder := &fakeBuilder{}
	phases := []PhaseSpec{
		{Name: "sap_mb51", Files: []string{"MB51.xlsx"},
			Open: h.factory([]string{"MB51.xlsx"})},
	}

	_, summary, err := h.orch.RunFull(context.Background(), phases, nil, builder, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, builder.calls)
	assert.True(t, summary.ReportGenerated)
}

func TestRunFull_NilBuilderSkipsReport(t *testing.T) {
	h := newHarness(t, fastConfig())
	phases := []PhaseSpec{
		{Name: "sap_mb51", Files: []string{"MB51.xlsx"},
			Open: h.factory([]string{"MB51.xlsx"})},
	}

	_, summary, err := h.orch.RunFull(context.Background(), phases, nil, nil, time.Now())
	require.NoError(t, err)
	assert.False(t, summary.ReportGenerated)
}

func TestRetryable(t *testing.T) {
	assert.False(t, Retryable(nil))
	assert.False(t, Retryable(context.Canceled))
	assert.False(t, Retryable(session.ErrLoginFailed))
	assert.False(t, Retryable(gateway.ErrWorkbookLocked))
	assert.False(t, Retryable(gateway.ErrUnknownTarget))
	assert.True(t, Retryable(context.DeadlineExceeded))
	assert.True(t, Retryable(errors.New("transient")))
	assert.True(t, Retryable(lifecycle.NewValidationError(lifecycle.ReasonTimeout, nil, "")))
}

func statusSequence(events []Event) []Status {
	out := make([]Status, len(events))
	for i, e := range events {
		out[i] = e.Status
	}
	return out
}
