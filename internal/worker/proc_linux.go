package worker

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// Own process group so a kill reaches anything the pipeline spawned, and a
// SIGTERM if the service dies without cleaning up.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGTERM,
	}
}

// waitExited blocks until pid has exited but leaves it unreaped, so the pid
// and its process group cannot be reused until Wait collects it
func waitExited(pid int) error {
	var info unix.Siginfo
	for {
		err := unix.Waitid(unix.P_PID, pid, &info, unix.WEXITED|unix.WNOWAIT, nil)
		if err != unix.EINTR {
			return err
		}
	}
}
