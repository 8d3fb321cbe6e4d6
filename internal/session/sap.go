package session

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"amscli/internal/config"
)

// Transaction describes one SAP export: the transaction code, the saved
// variant to load, and the file name the export is saved under.
type Transaction struct {
	Code    string
	Variant string
	Target  string
}

// ScriptRunner abstracts the SAP GUI scripting host so sessions can be
// exercised without a SAP installation.
type ScriptRunner interface {
	// Connect attaches to the scripting engine, launching the GUI when
	// needed.
	Connect(ctx context.Context) error
	// Run executes one transaction and saves its export to exportPath.
	Run(ctx context.Context, tx Transaction, exportPath string) error
	// Disconnect releases the scripting connection.
	Disconnect() error
}

// Connection settings for the GUI scripting engine. The engine is slow to
// come up after launch, so attaching retries on a fixed cadence.
const (
	connectAttempts = 10
	connectDelay    = 2 * time.Second
)

// SAPSession runs one transaction export through a ScriptRunner.
type SAPSession struct {
	runner       ScriptRunner
	tx           Transaction
	downloadsDir string
	logger       *slog.Logger
}

// OpenSAP connects the runner and returns a session for the given
// transaction. Connecting retries while the GUI starts up.
func OpenSAP(ctx context.Context, runner ScriptRunner, tx Transaction, downloadsDir string, logger *slog.Logger) (*SAPSession, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var err error
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		if err = runner.Connect(ctx); err == nil {
			return &SAPSession{
				runner:       runner,
				tx:           tx,
				downloadsDir: downloadsDir,
				logger:       logger,
			}, nil
		}
		logger.WarnContext(ctx, "scripting engine not ready",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(connectDelay):
		}
	}
	return nil, fmt.Errorf("scripting engine unavailable after %d attempts: %w", connectAttempts, err)
}

// Extract runs the transaction and returns the export file name to await.
func (s *SAPSession) Extract(ctx context.Context) ([]string, error) {
	exportPath := filepath.Join(s.downloadsDir, s.tx.Target)
	if err := s.runner.Run(ctx, s.tx, exportPath); err != nil {
		return nil, fmt.Errorf("transaction %s (%s) failed: %w", s.tx.Code, s.tx.Variant, err)
	}
	s.logger.InfoContext(ctx, "transaction export requested",
		slog.String("transaction", s.tx.Code),
		slog.String("variant", s.tx.Variant),
		slog.String("file", s.tx.Target))
	return []string{s.tx.Target}, nil
}

// Close disconnects the runner.
func (s *SAPSession) Close() error {
	return s.runner.Disconnect()
}

// GUIRunner drives SAP through generated GUI scripting files executed by
// the Windows script host. It is the production ScriptRunner.
type GUIRunner struct {
	cfg    config.SAPConfig
	logger *slog.Logger
}

// NewGUIRunner creates a runner for the configured SAP system.
func NewGUIRunner(cfg config.SAPConfig, logger *slog.Logger) *GUIRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &GUIRunner{cfg: cfg, logger: logger}
}

// Connect launches the SAP logon pad when it is not already running and
// opens a connection to the configured system.
func (r *GUIRunner) Connect(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, r.cfg.ShortcutPath,
		"-system="+r.cfg.System,
		"-client="+r.cfg.Client,
		"-user="+r.cfg.Username,
		"-pw="+r.cfg.Password,
		"-language="+r.cfg.Language,
		"-maxgui",
	)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to open connection to %s: %w", r.cfg.System, err)
	}
	return nil
}

// Run writes the transaction script to a temp file and executes it.
func (r *GUIRunner) Run(ctx context.Context, tx Transaction, exportPath string) error {
	script, err := os.CreateTemp("", "amscli-*.vbs")
	if err != nil {
		return fmt.Errorf("failed to create script file: %w", err)
	}
	defer os.Remove(script.Name())

	if _, err := script.WriteString(transactionScript(tx, exportPath, r.cfg.VariantUsername)); err != nil {
		script.Close()
		return fmt.Errorf("failed to write script: %w", err)
	}
	if err := script.Close(); err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, "cscript", "//nologo", "//b", script.Name())
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("script host failed: %w: %s", err, out)
	}
	return nil
}

// Disconnect is a no-op; the scripting connection dies with the script host.
func (r *GUIRunner) Disconnect() error {
	return nil
}

// transactionScript renders the GUI scripting program that loads the saved
// variant, executes the transaction, and exports the list as a spreadsheet.
func transactionScript(tx Transaction, exportPath, variantUser string) string {
	dir := filepath.Dir(exportPath)
	file := filepath.Base(exportPath)
	return fmt.Sprintf(`Set SapGuiAuto = GetObject("SAPGUI")
Set application = SapGuiAuto.GetScriptingEngine
Set connection = application.Children(0)
Set session = connection.Children(0)

session.findById("wnd[0]/tbar[0]/okcd").text = "/n%s"
session.findById("wnd[0]").sendVKey 0

session.findById("wnd[0]").sendVKey 17
session.findById("wnd[1]/usr/txtV-LOW").text = "%s"
session.findById("wnd[1]/usr/txtENAME-LOW").text = "%s"
session.findById("wnd[1]/tbar[0]/btn[8]").press

session.findById("wnd[0]/tbar[1]/btn[8]").press

session.findById("wnd[0]/mbar/menu[0]/menu[1]/menu[1]").select
session.findById("wnd[1]/tbar[0]/btn[0]").press
session.findById("wnd[1]/usr/ctxtDY_PATH").text = "%s"
session.findById("wnd[1]/usr/ctxtDY_FILENAME").text = "%s"
session.findById("wnd[1]/tbar[0]/btn[11]").press
`, tx.Code, tx.Variant, variantUser, dir, file)
}
