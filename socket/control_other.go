//go:build !linux && !darwin

package socket

import "syscall"

// listenControl is a no-op where SO_REUSEADDR needs platform-specific
// handling we do not carry.
func listenControl(_, _ string, _ syscall.RawConn) error {
	return nil
}
