// Package session provides automation sessions that drive external systems
// to produce file exports. A session is opened, asked to extract its files,
// and closed; the pipeline treats both variants through the same contract.
package session

import (
	"context"
	"errors"
)

// ErrLoginFailed means the remote system rejected the configured credentials.
// Retrying without operator intervention is pointless.
var ErrLoginFailed = errors.New("login rejected")

// Session is an open automation context. Extract drives the remote system
// until its exports have been requested and returns the file names the
// caller should await in the download directory. Close releases the
// underlying resources and is safe to call after a failed Extract.
type Session interface {
	Extract(ctx context.Context) ([]string, error)
	Close() error
}

// Factory opens a session. Phases hold factories rather than sessions so a
// retry gets a fresh session instead of reusing a wedged one.
type Factory func(ctx context.Context) (Session, error)
