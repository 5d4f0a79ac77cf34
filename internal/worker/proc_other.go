//go:build unix && !linux

package worker

import (
	"errors"
	"syscall"
)

func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

// waitExited needs waitid with WNOWAIT; without it ForceKill may race the
// reap of an exiting worker
func waitExited(int) error {
	return errors.ErrUnsupported
}
