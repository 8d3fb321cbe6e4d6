// Package lifecycle manages files moving through the download directory:
// waiting for browser and SAP exports to land, validating them, clearing
// stale copies from previous runs, and stamping backups.
package lifecycle

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"amscli/internal/config"
	"amscli/internal/schedule"
)

// partialSuffixes are in-progress download artifacts browsers leave next to
// the real file. A file set is not complete while any of these remain.
var partialSuffixes = []string{".crdownload", ".part", ".tmp"}

// Manager performs file lifecycle operations rooted at the configured
// directory layout. Methods are safe for concurrent use; each operates on
// the filesystem without shared state.
type Manager struct {
	paths        config.PathsConfig
	pollInterval time.Duration
	logger       *slog.Logger
}

// NewManager creates a file lifecycle manager.
func NewManager(paths config.PathsConfig, pollInterval time.Duration, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Manager{paths: paths, pollInterval: pollInterval, logger: logger}
}

// DownloadsDir returns the directory watched for arriving exports.
func (m *Manager) DownloadsDir() string {
	return m.paths.DownloadsDir
}

// AwaitDownload polls the downloads directory until every expected file
// exists with non-zero size and no partial-download artifact remains. It
// returns a ValidationError describing the closest-to-complete failure when
// the context expires first.
func (m *Manager) AwaitDownload(ctx context.Context, expected []string) error {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	var last *ValidationError
	for {
		err := m.Validate(expected)
		if err == nil {
			m.logger.InfoContext(ctx, "downloads complete",
				slog.Int("files", len(expected)))
			return nil
		}
		if verr, ok := err.(*ValidationError); ok {
			last = verr
		} else {
			return err
		}

		select {
		case <-ctx.Done():
			if last != nil {
				last.Reason = ReasonTimeout
				return last
			}
			return NewValidationError(ReasonTimeout, expected, "")
		case <-ticker.C:
		}
	}
}

// Validate checks that every expected file is present, complete and
// non-empty in the downloads directory.
func (m *Manager) Validate(expected []string) error {
	if err := m.checkPartials(expected); err != nil {
		return err
	}

	var missing []string
	for _, name := range expected {
		path := filepath.Join(m.paths.DownloadsDir, name)
		info, err := os.Stat(path)
		if err != nil {
			missing = append(missing, name)
			continue
		}
		if info.Size() == 0 {
			return NewValidationError(ReasonZeroLength, nil, path)
		}
	}
	if len(missing) > 0 {
		return NewValidationError(ReasonIncompleteCount, missing, "")
	}
	return nil
}

// checkPartials looks for in-progress artifacts belonging to the expected
// files. The downloads directory is shared by all phases, so a sibling
// phase's partial must never block this one; only our own names count.
func (m *Manager) checkPartials(expected []string) error {
	for _, name := range expected {
		markers := make([]string, 0, len(partialSuffixes)+1)
		for _, suffix := range partialSuffixes {
			markers = append(markers, name+suffix)
		}
		markers = append(markers, "~$"+name)
		for _, marker := range markers {
			path := filepath.Join(m.paths.DownloadsDir, marker)
			if _, err := os.Stat(path); err == nil {
				return NewValidationError(ReasonPartial, nil, path)
			}
		}
	}
	return nil
}

// ClearStale moves every file in the downloads directory whose name starts
// with one of the given prefixes into the trash directory. The move is
// reversible with Restore. It returns the names of the files it moved.
func (m *Manager) ClearStale(ctx context.Context, prefixes []string) ([]string, error) {
	entries, err := os.ReadDir(m.paths.DownloadsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read downloads directory: %w", err)
	}

	var moved []string
	for _, entry := range entries {
		if entry.IsDir() || !matchesPrefix(entry.Name(), prefixes) {
			continue
		}
		src := filepath.Join(m.paths.DownloadsDir, entry.Name())
		dst := filepath.Join(m.paths.TrashDir, trashName(entry.Name(), time.Now()))
		if err := os.Rename(src, dst); err != nil {
			return moved, fmt.Errorf("failed to trash %s: %w", entry.Name(), err)
		}
		m.logger.InfoContext(ctx, "moved stale file to trash",
			slog.String("file", entry.Name()),
			slog.String("trash", dst))
		moved = append(moved, entry.Name())
	}
	return moved, nil
}

// Restore moves a trashed file back into the downloads directory under its
// original name.
func (m *Manager) Restore(trashed string) error {
	src := filepath.Join(m.paths.TrashDir, trashed)
	original := originalName(trashed)
	dst := filepath.Join(m.paths.DownloadsDir, original)
	if _, err := os.Stat(dst); err == nil {
		return fmt.Errorf("cannot restore %s: %s already exists", trashed, original)
	}
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("failed to restore %s: %w", trashed, err)
	}
	return nil
}

// Backup copies src into the backup directory with the previous business
// day's date appended to the base name, e.g. "report.xlsx" becomes
// "report 03062026.xlsx". It returns the backup path.
func (m *Manager) Backup(ctx context.Context, src string, now time.Time) (string, error) {
	stamp := schedule.PreviousBusinessDay(now).Format("01022006")
	base := filepath.Base(src)
	ext := filepath.Ext(base)
	stem := fmt.Sprintf("%s %s", strings.TrimSuffix(base, ext), stamp)
	dst := dedupePath(m.paths.BackupDir, stem, ext)

	if err := copyFile(src, dst); err != nil {
		return "", fmt.Errorf("failed to back up %s: %w", base, err)
	}
	m.logger.InfoContext(ctx, "created backup",
		slog.String("source", src),
		slog.String("backup", dst))
	return dst, nil
}

// FindNewest returns the newest file under dir matching the glob pattern,
// by modification time.
func FindNewest(dir, pattern string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return "", fmt.Errorf("bad pattern %q: %w", pattern, err)
	}
	var newest string
	var newestMod time.Time
	for _, match := range matches {
		info, err := os.Stat(match)
		if err != nil || info.IsDir() {
			continue
		}
		if newest == "" || info.ModTime().After(newestMod) {
			newest = match
			newestMod = info.ModTime()
		}
	}
	if newest == "" {
		return "", fmt.Errorf("no file matching %q in %s", pattern, dir)
	}
	return newest, nil
}

// dedupePath returns the first free path for stem+ext in dir, appending
// " (n)" when earlier backups of the same day already exist.
func dedupePath(dir, stem, ext string) string {
	dst := filepath.Join(dir, stem+ext)
	for n := 1; ; n++ {
		if _, err := os.Stat(dst); err != nil {
			return dst
		}
		dst = filepath.Join(dir, fmt.Sprintf("%s (%d)%s", stem, n, ext))
	}
}

func matchesPrefix(name string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// trashName prefixes the original name with a timestamp so repeated clears
// of the same file never collide.
func trashName(name string, now time.Time) string {
	return now.Format("20060102T150405") + "_" + name
}

// originalName strips the trash timestamp prefix.
func originalName(trashed string) string {
	if i := strings.Index(trashed, "_"); i >= 0 {
		return trashed[i+1:]
	}
	return trashed
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
