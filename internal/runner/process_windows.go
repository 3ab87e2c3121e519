//go:build windows

package runner

import "os/exec"

// configureProcAttr is a no-op on Windows; there is no process-group
// equivalent wired up here.
func configureProcAttr(cmd *exec.Cmd) {}

// killProcessGroup falls back to killing just the process itself.
func killProcessGroup(cmd *exec.Cmd) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	_ = cmd.Process.Kill()
}
