//go:build linux || darwin

package camera

import (
	"os/exec"
	"syscall"
)

// setupProcessGroup starts the child in its own process group so the whole
// tree can be signalled.
func setupProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}

// killProcessGroup kills a process and its children.
func killProcessGroup(cmd *exec.Cmd) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	// the process may have already exited
	if err == syscall.ESRCH {
		return nil
	}
	return err
}
