package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"amscli/internal/config"
	"amscli/internal/report"
	"amscli/internal/schedule"
	"amscli/internal/session"
)

// DefaultPhases returns the fixed phase set: two portal sessions and three
// SAP transactions, all independent. The daily-report exports cover the
// window from the previous business day through today; the DAILY MO export
// is backed up as soon as it lands.
func DefaultPhases(cfg *config.Config, now time.Time) []PhaseSpec {
	downloads := cfg.Paths.DownloadsDir
	previous := schedule.PreviousBusinessDay(now)

	webFactory := func(reports []session.WebReport) session.Factory {
		return func(ctx context.Context) (session.Session, error) {
			return session.OpenWeb(ctx, cfg.Web, downloads, reports, slog.Default())
		}
	}
	sapFactory := func(tx session.Transaction) session.Factory {
		return func(ctx context.Context) (session.Session, error) {
			runner := session.NewGUIRunner(cfg.SAP, slog.Default())
			return session.OpenSAP(ctx, runner, tx, downloads, slog.Default())
		}
	}

	dailyDates := []session.DateField{
		{Selector: "#txtFromDate", Value: previous},
		{Selector: "#txtToDate", Value: now},
	}

	return []PhaseSpec{
		{
			Name:  "web_mat_shortage",
			Files: []string{report.FileMatShortage},
			Open: webFactory([]session.WebReport{{
				Name:     "mat_shortage",
				URL:      cfg.Web.PortalURL + "/Reports/MatShortage.aspx",
				ExportBy: "#btnExport",
				Filename: report.FileMatShortage,
			}}),
		},
		{
			Name: "web_daily_reports",
			Files: []string{
				report.FileDailyCompleted,
				report.FileDailyIncomplete,
				report.FileBillingOnly,
			},
			Open: webFactory([]session.WebReport{
				{
					Name:     "daily_completed",
					URL:      cfg.Web.PortalURL + "/Reports/DailyReport.aspx?status=completed",
					Dates:    dailyDates,
					ExportBy: "#btnExport",
					Filename: report.FileDailyCompleted,
				},
				{
					Name:     "daily_incompletes",
					URL:      cfg.Web.PortalURL + "/Reports/DailyReport.aspx?status=incomplete",
					Dates:    dailyDates,
					ExportBy: "#btnExport",
					Filename: report.FileDailyIncomplete,
				},
				{
					Name:     "billing_only",
					URL:      cfg.Web.PortalURL + "/Reports/DailyReport.aspx?status=billing",
					Dates:    dailyDates,
					ExportBy: "#btnExport",
					Filename: report.FileBillingOnly,
				},
			}),
		},
		{
			Name:  "sap_mo_backorders",
			Files: []string{report.FileMOBackorders},
			Open: sapFactory(session.Transaction{
				Code: "MB25", Variant: "MO CHECKER", Target: report.FileMOBackorders,
			}),
		},
		{
			Name:  "sap_mb51",
			Files: []string{report.FileMB51},
			Open: sapFactory(session.Transaction{
				Code: "MB51", Variant: "MB51 CHECKER", Target: report.FileMB51,
			}),
		},
		{
			Name:        "sap_daily_mo",
			Files:       []string{report.FileDailyMO},
			BackupFiles: []string{report.FileDailyMO},
			Open: sapFactory(session.Transaction{
				Code: "MB25", Variant: "DAILY MO MB25", Target: report.FileDailyMO,
			}),
		},
	}
}

// SelectPhases filters phases down to the named subset, in the order given.
// An empty selection means all phases. Unknown names are an error.
func SelectPhases(phases []PhaseSpec, names []string) ([]PhaseSpec, error) {
	if len(names) == 0 {
		return phases, nil
	}
	byName := make(map[string]PhaseSpec, len(phases))
	for _, p := range phases {
		byName[p.Name] = p
	}
	var selected []PhaseSpec
	for _, name := range names {
		p, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("unknown phase %q", name)
		}
		selected = append(selected, p)
	}
	return selected, nil
}
