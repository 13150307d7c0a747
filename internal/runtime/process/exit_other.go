//go:build !linux

package process

import "errors"

var errNoWaitid = errors.New("waitid(WNOWAIT) unavailable")

// waitExited always fails on platforms without waitid so the caller reaps
// the child directly.
func waitExited(int) error {
	return errNoWaitid
}
