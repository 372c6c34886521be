//go:build !unix

package harness

import "os/exec"

func isolate(cmd *exec.Cmd) {
	cmd.WaitDelay = waitDelay
}
