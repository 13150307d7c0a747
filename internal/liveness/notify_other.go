//go:build !linux

package liveness

import (
	"syscall"
	"time"

	"go.uber.org/zap"
)

// DefaultNotifySignal is unused where notifications are unsupported.
const DefaultNotifySignal = syscall.Signal(0)

// NewNotifyWatcher always fails with ErrNotifyUnsupported: only Linux offers
// PR_SET_PDEATHSIG.
func NewNotifyWatcher(syscall.Signal, time.Duration, *zap.Logger) (Watcher, error) {
	return nil, ErrNotifyUnsupported
}
