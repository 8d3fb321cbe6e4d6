package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// PathsConfig is the on-disk layout the pipeline works in. Every directory is
// resolved to an absolute path during Load so the rest of the code never
// depends on the working directory.
type PathsConfig struct {
	BaseDir      string `yaml:"base_dir" envconfig:"BASE_DIR"`
	DownloadsDir string `yaml:"downloads_dir" envconfig:"DOWNLOADS_DIR"`
	ReportsDir   string `yaml:"reports_dir" envconfig:"REPORTS_DIR"`
	BackupDir    string `yaml:"backup_dir" envconfig:"BACKUP_DIR"`
	TrashDir     string `yaml:"trash_dir" envconfig:"TRASH_DIR"`
	LogsDir      string `yaml:"logs_dir" envconfig:"LOGS_DIR"`
}

// DefaultPaths returns the layout rooted at the current working directory.
func DefaultPaths() PathsConfig {
	return PathsConfig{
		BaseDir:      ".",
		DownloadsDir: "downloads",
		ReportsDir:   "reports",
		BackupDir:    "backups",
		TrashDir:     ".trash",
		LogsDir:      "logs",
	}
}

// Resolve returns a copy with every directory made absolute. Relative
// directories are joined onto BaseDir.
func (p PathsConfig) Resolve() (*PathsConfig, error) {
	base, err := filepath.Abs(p.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base dir: %w", err)
	}
	resolved := PathsConfig{BaseDir: base}
	for _, dir := range []struct {
		src string
		dst *string
	}{
		{p.DownloadsDir, &resolved.DownloadsDir},
		{p.ReportsDir, &resolved.ReportsDir},
		{p.BackupDir, &resolved.BackupDir},
		{p.TrashDir, &resolved.TrashDir},
		{p.LogsDir, &resolved.LogsDir},
	} {
		if filepath.IsAbs(dir.src) {
			*dir.dst = filepath.Clean(dir.src)
		} else {
			*dir.dst = filepath.Join(base, dir.src)
		}
	}
	return &resolved, nil
}

// EnsureDirectories creates every configured directory.
func (p PathsConfig) EnsureDirectories() error {
	dirs := []string{
		p.DownloadsDir,
		p.ReportsDir,
		p.BackupDir,
		p.TrashDir,
		p.LogsDir,
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
