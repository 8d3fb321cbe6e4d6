package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/chromedp"

	"amscli/internal/config"
)

// Portal selectors. The reporting portal is a classic server-rendered app;
// these have been stable for years.
const (
	selLoginUser   = `#txtUsername`
	selLoginPass   = `#txtPassword`
	selLoginSubmit = `#btnLogin`
	selNavHome     = `#navReports`
	selLoginError  = `#lblLoginError`
)

const loginWait = 30 * time.Second

// DateField is a date input to fill before exporting, in MM/DD/YYYY form.
type DateField struct {
	Selector string
	Value    time.Time
}

// WebReport describes one portal export: the report page, the date inputs
// to fill, the export control to click, and the file the portal serves.
type WebReport struct {
	Name     string
	URL      string
	Dates    []DateField
	ExportBy string
	Filename string
}

// WebSession drives the reporting portal through a headless browser. One
// session logs in once and can run several report exports.
type WebSession struct {
	browserCtx   context.Context
	cancelCtx    context.CancelFunc
	cancelAlloc  context.CancelFunc
	reports      []WebReport
	settleDelay  time.Duration
	downloadsDir string
	logger       *slog.Logger
}

// OpenWeb launches a browser, points its downloads at downloadDir, and logs
// into the portal. The caller owns the returned session and must Close it.
func OpenWeb(ctx context.Context, cfg config.WebConfig, downloadDir string, reports []WebReport, logger *slog.Logger) (*WebSession, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-first-run", true),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, cancelCtx := chromedp.NewContext(allocCtx)

	s := &WebSession{
		browserCtx:   browserCtx,
		cancelCtx:    cancelCtx,
		cancelAlloc:  cancelAlloc,
		reports:      reports,
		settleDelay:  2 * time.Second,
		downloadsDir: downloadDir,
		logger:       logger,
	}

	if err := s.login(cfg); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// login navigates to the portal and authenticates. A visible login error
// label means bad credentials, which is not worth retrying.
func (s *WebSession) login(cfg config.WebConfig) error {
	err := chromedp.Run(s.browserCtx,
		browser.SetDownloadBehavior(browser.SetDownloadBehaviorBehaviorAllow).
			WithDownloadPath(s.downloadsDir),
		chromedp.Navigate(cfg.PortalURL),
		chromedp.WaitVisible(selLoginUser, chromedp.ByID),
		chromedp.SendKeys(selLoginUser, cfg.Username, chromedp.ByID),
		chromedp.SendKeys(selLoginPass, cfg.Password, chromedp.ByID),
		chromedp.Click(selLoginSubmit, chromedp.ByID),
	)
	if err != nil {
		return fmt.Errorf("portal login navigation failed: %w", err)
	}

	waitCtx, cancel := context.WithTimeout(s.browserCtx, loginWait)
	defer cancel()
	if err := chromedp.Run(waitCtx, chromedp.WaitVisible(selNavHome, chromedp.ByID)); err != nil {
		var rejected bool
		checkErr := chromedp.Run(s.browserCtx, chromedp.Evaluate(
			fmt.Sprintf(`document.querySelector(%q) !== null`, selLoginError), &rejected))
		if checkErr == nil && rejected {
			return ErrLoginFailed
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: portal did not accept login within %s", ErrLoginFailed, loginWait)
		}
		return fmt.Errorf("portal login failed: %w", err)
	}
	return nil
}

// Extract runs every configured report export and returns the file names
// that should land in the download directory.
func (s *WebSession) Extract(ctx context.Context) ([]string, error) {
	var files []string
	for _, report := range s.reports {
		if err := s.export(ctx, report); err != nil {
			return files, fmt.Errorf("export %s failed: %w", report.Name, err)
		}
		files = append(files, report.Filename)
	}
	return files, nil
}

// export drives a single report page. Date inputs are cleared then typed in
// the portal's MM/DD/YYYY format before the export control is clicked.
func (s *WebSession) export(ctx context.Context, report WebReport) error {
	runCtx, cancel := mergeCancel(s.browserCtx, ctx)
	defer cancel()

	actions := []chromedp.Action{
		chromedp.Navigate(report.URL),
		chromedp.WaitVisible(report.ExportBy, chromedp.ByQuery),
	}
	for _, field := range report.Dates {
		value := portalDate(field.Value)
		actions = append(actions,
			chromedp.SetValue(field.Selector, "", chromedp.ByQuery),
			chromedp.SendKeys(field.Selector, value, chromedp.ByQuery),
		)
	}
	actions = append(actions,
		chromedp.Click(report.ExportBy, chromedp.ByQuery),
		chromedp.Sleep(s.settleDelay),
	)

	if err := chromedp.Run(runCtx, actions...); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "export requested",
		slog.String("report", report.Name),
		slog.String("file", report.Filename))
	return nil
}

// Close tears down the browser. Always safe to call.
func (s *WebSession) Close() error {
	s.cancelCtx()
	s.cancelAlloc()
	return nil
}

// portalDate renders a date the way the portal's inputs expect it.
func portalDate(d time.Time) string {
	return d.Format("01/02/2006")
}

// mergeCancel derives a context from the browser context that is also
// cancelled when the caller's context is.
func mergeCancel(browserCtx, callerCtx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(browserCtx)
	stop := context.AfterFunc(callerCtx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
