//go:build linux || darwin

package socket

import (
	"syscall"
)

// listenControl sets SO_REUSEADDR so scripts can rebind addresses that are
// still in TIME_WAIT from a previous run.
func listenControl(_, _ string, raw syscall.RawConn) error {
	var sockErr error
	err := raw.Control(func(fd uintptr) {
		sockErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
