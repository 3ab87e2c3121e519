// Package automation implements the Automation Driver: a
// single-instance overnight/benchmark runner that re-issues start requests,
// switches between primary and fallback participant pools on classified
// failures, and can run a benchmark corpus across two policy variants.
package automation

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/awe-dev/agentcheck/internal/config"
	"github.com/awe-dev/agentcheck/internal/core"
)

// AcquireSingleInstance acquires the driver's lock file at path, reclaiming
// a stale lock whose owning PID is no longer alive, and refusing to acquire
// a live one. The returned release func removes the lock file only if it
// still owns it — avoiding deleting a lock a second process just wrote
// after a race. The lock file carries the PID on line 1 and an ISO
// datetime on line 2.
func AcquireSingleInstance(path string) (release func(), err error) {
	if owner, alive, err := readLock(path); err != nil && !os.IsNotExist(err) {
		return nil, err
	} else if err == nil && alive {
		return nil, core.ErrValidation("LOCK_HELD", fmt.Sprintf("automation lock %q is held by live pid %d", path, owner))
	}

	pid := os.Getpid()
	content := fmt.Sprintf("%d\n%s\n", pid, time.Now().UTC().Format(time.RFC3339))
	if err := config.AtomicWrite(path, []byte(content)); err != nil {
		return nil, core.ErrStorage("LOCK_WRITE", err.Error(), false).WithCause(err)
	}

	release = func() {
		owner, _, err := readLock(path)
		if err != nil {
			return
		}
		if owner == pid {
			_ = os.Remove(path)
		}
	}
	return release, nil
}

// readLock parses an existing lock file's owning PID and reports whether
// that PID is currently alive.
func readLock(path string) (pid int, alive bool, err error) {
	f, err := os.Open(path) // #nosec G304 -- operator-configured lock path
	if err != nil {
		return 0, false, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		return 0, false, nil
	}
	pid, convErr := strconv.Atoi(strings.TrimSpace(scanner.Text()))
	if convErr != nil {
		return 0, false, nil
	}
	alive, _ = process.PidExists(int32(pid))
	return pid, alive, nil
}
