// Command amscli runs the daily order-status pipeline: portal and SAP
// exports are downloaded concurrently, validated, and folded into the
// engine workbook's summary sheets.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"amscli/internal/config"
	"amscli/internal/gateway"
	"amscli/internal/infrastructure"
	"amscli/internal/lifecycle"
	"amscli/internal/pipeline"
	"amscli/internal/report"
)

func main() {
	if err := run(); err != nil {
		slog.Error("run failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	checkConfig := flag.Bool("check-config", false, "validate configuration and exit")
	skipReport := flag.Bool("skip-report", false, "download and validate only, leave the engine workbook alone")
	reportOnly := flag.Bool("report-only", false, "build the report from files already downloaded")
	phaseList := flag.String("phases", "", "comma-separated subset of phases to run (default all)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if *checkConfig {
		fmt.Println("configuration ok")
		return nil
	}

	closer, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	now := time.Now()
	files := lifecycle.NewManager(cfg.Paths, cfg.Pipeline.PollInterval, slog.Default())

	if *reportOnly {
		return buildReport(ctx, cfg, files, now)
	}

	phases, err := pipeline.SelectPhases(pipeline.DefaultPhases(cfg, now), splitPhases(*phaseList))
	if err != nil {
		return err
	}

	var builder pipeline.ReportBuilder
	if !*skipReport {
		gw := gateway.New(slog.Default())
		defer gw.Shutdown()
		builder = report.NewRunner(gw, files, cfg.Report, cfg.Paths, slog.Default())
	}

	orch := pipeline.NewOrchestrator(cfg.Pipeline, files, nil, slog.Default())
	result, summary, runErr := orch.RunFull(ctx, phases, report.StalePrefixes(), builder, now)
	for _, phase := range result.Phases {
		slog.Info("phase result",
			slog.String("phase", phase.Name()),
			slog.String("status", string(phase.Status())),
			slog.Int("attempts", phase.Attempt()),
			slog.Duration("duration", phase.Duration()))
	}

	logSummary := slog.Info
	if runErr != nil {
		logSummary = slog.Error
	}
	logSummary("run summary",
		slog.String("trace_id", result.TraceID),
		slog.Any("succeeded", summary.Succeeded),
		slog.Any("failed", summary.Failed),
		slog.Bool("report_generated", summary.ReportGenerated))
	return runErr
}

func buildReport(ctx context.Context, cfg *config.Config, files *lifecycle.Manager, now time.Time) error {
	gw := gateway.New(slog.Default())
	defer gw.Shutdown()
	runner := report.NewRunner(gw, files, cfg.Report, cfg.Paths, slog.Default())
	return runner.Run(ctx, now)
}

func splitPhases(list string) []string {
	if strings.TrimSpace(list) == "" {
		return nil
	}
	var names []string
	for _, name := range strings.Split(list, ",") {
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}
	return names
}
