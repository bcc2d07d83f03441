//go:build !windows

package term

import "golang.org/x/sys/unix"

// sigZero probes whether a process exists without signalling it.
func sigZero(pid int) error {
	return unix.Kill(pid, 0)
}
