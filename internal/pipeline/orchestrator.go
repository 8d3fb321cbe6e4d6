package pipeline

import (
	"context"
	"log/slog"
	"math"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"amscli/internal/config"
	"amscli/internal/infrastructure"
	"amscli/internal/lifecycle"
)

// Orchestrator runs download phases concurrently, each with its own retry
// budget and timeout, and reports per-phase results.
type Orchestrator struct {
	cfg     config.PipelineConfig
	files   *lifecycle.Manager
	sink    EventSink
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewOrchestrator creates an orchestrator. The rate limiter spaces out
// session opens so concurrent phases do not hammer the portal and the
// scripting engine at the same instant.
func NewOrchestrator(cfg config.PipelineConfig, files *lifecycle.Manager, sink EventSink, logger *slog.Logger) *Orchestrator {
	if sink == nil {
		sink = NoopSink{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		cfg:     cfg,
		files:   files,
		sink:    sink,
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
		logger:  logger,
	}
}

// RunResult is the outcome of one pipeline run.
type RunResult struct {
	TraceID string
	Phases  []*PhaseState
}

// Succeeded reports whether every phase completed.
func (r *RunResult) Succeeded() bool {
	for _, p := range r.Phases {
		if p.Status() != StatusSucceeded {
			return false
		}
	}
	return true
}

// RunSummary is the final accounting of a run, handed to the UI layer and
// the exit path.
type RunSummary struct {
	Succeeded       []string `json:"succeeded"`
	Failed          []string `json:"failed"`
	ReportGenerated bool     `json:"report_generated"`
}

// Summary buckets the phases by outcome. ReportGenerated is filled in by
// the caller once the report build has run.
func (r *RunResult) Summary() RunSummary {
	var s RunSummary
	for _, p := range r.Phases {
		if p.Status() == StatusSucceeded {
			s.Succeeded = append(s.Succeeded, p.Name())
		} else {
			s.Failed = append(s.Failed, p.Name())
		}
	}
	return s
}

// Phase returns the state for the named phase, or nil.
func (r *RunResult) Phase(name string) *PhaseState {
	for _, p := range r.Phases {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// ReportBuilder builds the summary report from validated downloads. The
// report package supplies the implementation.
type ReportBuilder interface {
	Run(ctx context.Context, now time.Time) error
}

// RunFull executes the download phases and, only when every phase reached
// Succeeded, invokes the report builder. A failed or partial run never
// touches the builder, so the engine workbook is never opened over
// incomplete data. A nil builder skips the report (download-only mode).
func (o *Orchestrator) RunFull(ctx context.Context, phases []PhaseSpec, stalePrefixes []string, builder ReportBuilder, now time.Time) (*RunResult, RunSummary, error) {
	result, err := o.Run(ctx, phases, stalePrefixes)
	summary := result.Summary()
	if err != nil {
		return result, summary, err
	}
	if builder == nil {
		return result, summary, nil
	}
	if err := builder.Run(ctx, now); err != nil {
		return result, summary, err
	}
	summary.ReportGenerated = true
	return result, summary, nil
}

// Run clears stale downloads, then executes every phase concurrently. The
// returned result always has a state per phase; the error is the first
// phase failure, nil when all succeeded. Phases do not cancel each other;
// only the global timeout or the caller's context stops the whole run.
func (o *Orchestrator) Run(ctx context.Context, phases []PhaseSpec, stalePrefixes []string) (*RunResult, error) {
	traceID := uuid.NewString()
	ctx = infrastructure.WithTraceID(ctx, traceID)
	ctx, cancel := context.WithTimeout(ctx, o.cfg.GlobalTimeout)
	defer cancel()

	o.logger.InfoContext(ctx, "pipeline run starting",
		slog.Int("phases", len(phases)))

	if _, err := o.files.ClearStale(ctx, stalePrefixes); err != nil {
		return &RunResult{TraceID: traceID}, err
	}

	result := &RunResult{TraceID: traceID}
	var g errgroup.Group
	for _, spec := range phases {
		spec := spec
		state := NewPhaseState(spec.Name)
		result.Phases = append(result.Phases, state)
		g.Go(func() error {
			return o.runPhase(ctx, spec, state)
		})
	}
	err := g.Wait()

	o.logger.InfoContext(ctx, "pipeline run finished",
		slog.Bool("succeeded", result.Succeeded()))
	return result, err
}

// runPhase drives one phase through its attempts until success, a
// non-retryable failure, or an exhausted retry budget.
func (o *Orchestrator) runPhase(ctx context.Context, spec PhaseSpec, state *PhaseState) error {
	if err := state.Start(); err != nil {
		return err
	}
	o.publish(ctx, spec.Name, StatusRunning, 1, nil)

	for {
		err := o.attempt(ctx, spec)
		if err == nil {
			state.Complete(spec.Files)
			o.publish(ctx, spec.Name, StatusSucceeded, state.Attempt(), nil)
			return nil
		}

		attempt := state.Attempt()
		if !Retryable(err) || attempt >= o.cfg.MaxRetries || ctx.Err() != nil {
			ferr := &PhaseError{Phase: spec.Name, Attempt: attempt, Err: err}
			state.Fail(ferr)
			o.publish(ctx, spec.Name, StatusFailed, attempt, ferr)
			return ferr
		}

		state.Retry()
		o.publish(ctx, spec.Name, StatusRetrying, state.Attempt(), err)

		select {
		case <-ctx.Done():
			ferr := &PhaseError{Phase: spec.Name, Attempt: state.Attempt(), Err: ctx.Err()}
			state.Fail(ferr)
			o.publish(ctx, spec.Name, StatusFailed, state.Attempt(), ferr)
			return ferr
		case <-time.After(o.backoff(attempt)):
		}

		state.Resume()
		o.publish(ctx, spec.Name, StatusRunning, state.Attempt(), nil)
	}
}

// attempt performs one open-extract-await-close cycle under the phase
// timeout.
func (o *Orchestrator) attempt(ctx context.Context, spec PhaseSpec) error {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.PhaseTimeout)
	defer cancel()

	if err := o.limiter.Wait(ctx); err != nil {
		return err
	}

	sess, err := spec.Open(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	if _, err := sess.Extract(ctx); err != nil {
		return err
	}

	if err := o.files.AwaitDownload(ctx, spec.Files); err != nil {
		return err
	}

	for _, name := range spec.BackupFiles {
		src := filepath.Join(o.files.DownloadsDir(), name)
		if _, err := o.files.Backup(ctx, src, time.Now()); err != nil {
			return err
		}
	}
	return nil
}

// backoff returns the delay before the given attempt's retry, growing
// geometrically and capped at the configured maximum.
func (o *Orchestrator) backoff(attempt int) time.Duration {
	delay := time.Duration(float64(o.cfg.InitialDelay) * math.Pow(o.cfg.Multiplier, float64(attempt-1)))
	if delay > o.cfg.MaxDelay {
		delay = o.cfg.MaxDelay
	}
	return delay
}

func (o *Orchestrator) publish(ctx context.Context, phase string, status Status, attempt int, err error) {
	event := Event{
		Phase:     phase,
		Status:    status,
		Attempt:   attempt,
		Timestamp: time.Now(),
	}
	attrs := []any{
		slog.String("phase", phase),
		slog.String("status", string(status)),
		slog.Int("attempt", attempt),
	}
	if err != nil {
		event.Error = err.Error()
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	o.sink.Publish(event)

	switch status {
	case StatusFailed:
		o.logger.ErrorContext(ctx, "phase failed", attrs...)
	case StatusRetrying:
		o.logger.WarnContext(ctx, "phase retrying", attrs...)
	default:
		o.logger.InfoContext(ctx, "phase "+string(status), attrs...)
	}
}
