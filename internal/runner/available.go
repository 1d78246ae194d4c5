package runner

import "os/exec"

// Available reports whether program resolves on PATH.
func Available(program string) bool {
	_, err := exec.LookPath(program)
	return err == nil
}
