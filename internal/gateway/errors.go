package gateway

import "errors"

var (
	// ErrWorkbookLocked means another process holds the workbook open. The
	// caller should surface this to the operator rather than retry.
	ErrWorkbookLocked = errors.New("workbook is locked by another process")

	// ErrUnknownTarget means an append named a sheet the workbook does not
	// contain.
	ErrUnknownTarget = errors.New("unknown target sheet")

	// ErrApplicationCrashed means the workbook engine failed mid-operation.
	// The gateway refuses further work until the workbook is reopened.
	ErrApplicationCrashed = errors.New("workbook engine crashed")

	// ErrNoWorkbook means an operation ran before Open or after Close.
	ErrNoWorkbook = errors.New("no workbook open")

	// ErrGatewayClosed means the gateway has shut down and accepts no
	// further operations.
	ErrGatewayClosed = errors.New("gateway is closed")

	// ErrPriorOpFailed means an earlier operation in this run failed, so
	// queued work is rejected until the workbook is reopened. Close is
	// still allowed so cleanup can release the handle.
	ErrPriorOpFailed = errors.New("earlier operation failed")
)
