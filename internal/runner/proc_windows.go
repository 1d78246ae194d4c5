//go:build windows

package runner

import (
	"os/exec"
)

func configureProcAttr(cmd *exec.Cmd) {}

// killProcessTree only reaches the direct child on Windows.
func killProcessTree(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
