// Package gateway serializes all spreadsheet work through a single goroutine.
// The underlying workbook engine is not safe for concurrent use, so every
// operation is submitted to one worker and executed in strict FIFO order.
// Callers block until their operation has run.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/xuri/excelize/v2"
)

// operation is a unit of work executed on the worker goroutine.
type operation struct {
	name string
	run  func(*session) error
	done chan error
}

// session is the worker-owned workbook state. Only the worker goroutine
// touches it.
type session struct {
	file     *excelize.File
	path     string
	crashed  bool
	firstErr error
}

// Gateway owns a workbook and executes operations against it one at a time.
type Gateway struct {
	ops    chan operation
	logger *slog.Logger

	quit     chan struct{}
	done     chan struct{}
	quitOnce sync.Once
}

// New starts a gateway worker. The returned gateway must be shut down with
// Shutdown when no longer needed.
func New(logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gateway{
		ops:    make(chan operation),
		logger: logger,
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go g.worker()
	return g
}

// worker drains the operation queue in submission order. A panic inside an
// operation marks the session crashed instead of taking the process down.
func (g *Gateway) worker() {
	defer close(g.done)
	s := &session{}
	for {
		select {
		case op := <-g.ops:
			op.done <- g.execute(s, op)
		case <-g.quit:
			if s.file != nil {
				s.file.Close()
			}
			return
		}
	}
}

func (g *Gateway) execute(s *session, op operation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.crashed = true
			err = fmt.Errorf("%w: panic in %s: %v", ErrApplicationCrashed, op.name, r)
			g.logger.Error("workbook operation panicked",
				slog.String("operation", op.name),
				slog.Any("panic", r))
		}
	}()

	// A crashed session refuses work until a reopen, but close must still
	// run so cleanup paths can release the handle.
	if s.crashed && op.name != "open" && op.name != "close" {
		return ErrApplicationCrashed
	}
	// Fail-fast: once an operation fails, queued work is rejected until a
	// reopen. Close still runs so the handle can be released.
	if s.firstErr != nil && op.name != "open" && op.name != "close" {
		return fmt.Errorf("%s rejected: %w: %v", op.name, ErrPriorOpFailed, s.firstErr)
	}
	err = op.run(s)
	if err != nil && s.firstErr == nil && !errors.Is(err, ErrNoWorkbook) {
		s.firstErr = err
	}
	return err
}

// submit enqueues an operation and waits for it to run. Submission order is
// execution order. Cancelling the context abandons the wait but does not
// cancel an operation that has already started.
func (g *Gateway) submit(ctx context.Context, name string, run func(*session) error) error {
	op := operation{name: name, run: run, done: make(chan error, 1)}
	select {
	case g.ops <- op:
	case <-g.quit:
		return ErrGatewayClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-op.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops the worker once its current operation finishes. An open
// workbook is closed without saving. Safe to call more than once.
func (g *Gateway) Shutdown() {
	g.quitOnce.Do(func() { close(g.quit) })
	<-g.done
}

// Open loads the workbook at path. Opening clears a previous crashed state.
// It fails with ErrWorkbookLocked when another process holds the file open.
func (g *Gateway) Open(ctx context.Context, path string) error {
	return g.submit(ctx, "open", func(s *session) error {
		if locked(path) {
			return fmt.Errorf("%w: %s", ErrWorkbookLocked, path)
		}
		f, err := excelize.OpenFile(path)
		if err != nil {
			return fmt.Errorf("failed to open workbook %s: %w", path, err)
		}
		if s.file != nil {
			s.file.Close()
		}
		s.file = f
		s.path = path
		s.crashed = false
		s.firstErr = nil
		g.logger.InfoContext(ctx, "workbook opened", slog.String("path", path))
		return nil
	})
}

// RefreshPivots rebuilds every pivot table in the workbook so their caches
// pick up newly appended source rows.
func (g *Gateway) RefreshPivots(ctx context.Context) error {
	return g.submit(ctx, "refresh_pivots", func(s *session) error {
		if s.file == nil {
			return ErrNoWorkbook
		}
		rebuilt, err := rebuildPivotTables(s.file)
		if err != nil {
			return fmt.Errorf("failed to refresh pivot tables: %w", err)
		}
		g.logger.InfoContext(ctx, "pivot tables refreshed", slog.Int("count", rebuilt))
		return nil
	})
}

// AppendRow appends values after the last used row of the named sheet. An
// unknown sheet fails with ErrUnknownTarget.
func (g *Gateway) AppendRow(ctx context.Context, sheet string, values []any) error {
	return g.submit(ctx, "append_row", func(s *session) error {
		if s.file == nil {
			return ErrNoWorkbook
		}
		if idx, err := s.file.GetSheetIndex(sheet); err != nil || idx < 0 {
			return fmt.Errorf("%w: %q", ErrUnknownTarget, sheet)
		}
		rows, err := s.file.GetRows(sheet)
		if err != nil {
			return fmt.Errorf("failed to read sheet %q: %w", sheet, err)
		}
		cell, err := excelize.CoordinatesToCellName(1, len(rows)+1)
		if err != nil {
			return err
		}
		if err := s.file.SetSheetRow(sheet, cell, &values); err != nil {
			return fmt.Errorf("failed to append to %q: %w", sheet, err)
		}
		return nil
	})
}

// Save writes the workbook back to disk.
func (g *Gateway) Save(ctx context.Context) error {
	return g.submit(ctx, "save", func(s *session) error {
		if s.file == nil {
			return ErrNoWorkbook
		}
		if err := s.file.Save(); err != nil {
			return fmt.Errorf("failed to save workbook: %w", err)
		}
		g.logger.InfoContext(ctx, "workbook saved", slog.String("path", s.path))
		return nil
	})
}

// Close releases the open workbook without saving. Closing when nothing is
// open is not an error.
func (g *Gateway) Close(ctx context.Context) error {
	return g.submit(ctx, "close", func(s *session) error {
		if s.file == nil {
			return nil
		}
		err := s.file.Close()
		s.file = nil
		s.path = ""
		if err != nil {
			return fmt.Errorf("failed to close workbook: %w", err)
		}
		return nil
	})
}

// locked reports whether the spreadsheet application holds the workbook
// open, detected through the owner lock file it drops next to the workbook.
func locked(path string) bool {
	lockFile := filepath.Join(filepath.Dir(path), "~$"+filepath.Base(path))
	_, err := os.Stat(lockFile)
	return err == nil
}
