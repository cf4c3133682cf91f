//go:build unix

package agent

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

// startOwnGroup places the runtime in a new process group so the tool
// servers it launches can be signalled with it.
func startOwnGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killGroup sends SIGKILL to the runtime's whole process group.
func killGroup(p *os.Process) error {
	err := syscall.Kill(-p.Pid, syscall.SIGKILL)
	if errors.Is(err, syscall.ESRCH) {
		return os.ErrProcessDone
	}
	return err
}
