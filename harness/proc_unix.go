//go:build unix

package harness

import (
	"os/exec"
	"syscall"
)

// isolate starts the command in its own process group and makes
// cancellation kill the whole group, so daemons and workers spawned by the
// build tool go down with it.
func isolate(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = waitDelay
}
