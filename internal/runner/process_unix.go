//go:build !windows

package runner

import (
	"os/exec"
	"syscall"
)

// configureProcAttr sets up process group isolation so a participant
// subprocess and any children it spawns can be signaled together.
func configureProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killProcessGroup sends SIGKILL to the process group rooted at cmd. Used
// only when a context deadline fires and the subprocess must be reclaimed;
// normal completion never calls this.
func killProcessGroup(cmd *exec.Cmd) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	pgid, err := syscall.Getpgid(cmd.Process.Pid)
	if err != nil {
		return
	}
	_ = syscall.Kill(-pgid, syscall.SIGKILL)
}
