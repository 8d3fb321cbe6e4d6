package report

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"amscli/internal/config"
	"amscli/internal/gateway"
	"amscli/internal/lifecycle"
	"amscli/internal/schedule"
)

// refreshPasses is how many times pivots are rebuilt before appending.
// Chained pivots source each other, so one pass is not enough for every
// cache to settle.
const refreshPasses = 3

// Runner executes the report build against the engine workbook.
type Runner struct {
	gw     *gateway.Gateway
	files  *lifecycle.Manager
	cfg    config.ReportConfig
	paths  config.PathsConfig
	logger *slog.Logger
}

// NewRunner creates a report runner.
func NewRunner(gw *gateway.Gateway, files *lifecycle.Manager, cfg config.ReportConfig, paths config.PathsConfig, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{gw: gw, files: files, cfg: cfg, paths: paths, logger: logger}
}

// Run performs the full build: locate the newest engine workbook, back it
// up, refresh pivots, append the day's rows, save. The workbook is closed
// on every path so a failed build never leaves it held open.
func (r *Runner) Run(ctx context.Context, now time.Time) error {
	engine, err := lifecycle.FindNewest(r.paths.ReportsDir, r.cfg.EnginePattern)
	if err != nil {
		return fmt.Errorf("engine workbook not found: %w", err)
	}
	r.logger.InfoContext(ctx, "engine workbook located", slog.String("path", engine))

	if _, err := r.files.Backup(ctx, engine, now); err != nil {
		return err
	}

	if err := r.gw.Open(ctx, engine); err != nil {
		return err
	}
	defer r.gw.Close(context.WithoutCancel(ctx))

	if err := r.build(ctx, now); err != nil {
		return err
	}
	return r.gw.Close(ctx)
}

func (r *Runner) build(ctx context.Context, now time.Time) error {
	// The utility sheet feeds the workbook's date-driven formulas; it gets
	// the run date and the previous business day before anything refreshes.
	if r.cfg.UtilitySheet != "" {
		dates := []any{
			now.Format("2006-01-02"),
			schedule.PreviousBusinessDay(now).Format("2006-01-02"),
		}
		if err := r.gw.AppendRow(ctx, r.cfg.UtilitySheet, dates); err != nil {
			return err
		}
	}

	for pass := 1; pass <= refreshPasses; pass++ {
		if err := r.gw.RefreshPivots(ctx); err != nil {
			return fmt.Errorf("refresh pass %d: %w", pass, err)
		}
	}

	appends, err := BuildAppends(r.paths.DownloadsDir, now)
	if err != nil {
		return err
	}
	for _, a := range appends {
		if err := r.gw.AppendRow(ctx, a.Sheet, a.Values); err != nil {
			return err
		}
		r.logger.InfoContext(ctx, "row appended", slog.String("sheet", a.Sheet))
	}

	return r.gw.Save(ctx)
}
