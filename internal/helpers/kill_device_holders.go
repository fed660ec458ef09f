// Package helpers holds process-level utilities for camera acquisition.
package helpers

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

// =============================================================================
// kill_device_holders: clear processes holding a camera device file
// =============================================================================
// Used when acquiring a camera fails with "device busy", typically because a
// stale ffmpeg from a previous run still has /dev/videoN open.
//
// Strategy:
//   1. lsof -t lists the PIDs holding the device, fuser -v is the fallback
//   2. our own PID is excluded
//   3. SIGTERM, wait the grace period, then SIGKILL survivors
// =============================================================================

// DefaultGrace is the wait between SIGTERM and SIGKILL.
const DefaultGrace = 400 * time.Millisecond

// Runner executes a command and returns its stdout.
type Runner func(ctx context.Context, name string, args ...string) string

// Killer sends a signal to a process.
type Killer func(pid int, sig syscall.Signal) error

// Holders terminates processes that keep a device open.
type Holders struct {
	Run   Runner
	Kill  Killer
	Grace time.Duration
	Log   *logrus.Entry
}

// KillDeviceHolders terminates holders of devicePath with the system tools.
// It reports whether any process was signalled.
func KillDeviceHolders(ctx context.Context, devicePath string, log *logrus.Entry) bool {
	h := Holders{Run: runCmd, Kill: syscall.Kill, Grace: DefaultGrace, Log: log}
	return h.Terminate(ctx, devicePath)
}

// Terminate signals every holder of devicePath except this process.
func (h Holders) Terminate(ctx context.Context, devicePath string) bool {
	pids := parsePIDLines(h.Run(ctx, "lsof", "-t", devicePath))
	if len(pids) == 0 {
		pids = parseFuserPIDs(h.Run(ctx, "fuser", "-v", devicePath))
	}
	delete(pids, os.Getpid())
	if len(pids) == 0 {
		return false
	}

	sorted := sortedKeys(pids)
	log := h.Log.WithField("device", devicePath)
	log.WithField("pids", sorted).Warn("killing device holders")

	// Phase 1: SIGTERM
	for _, pid := range sorted {
		if err := h.Kill(pid, syscall.SIGTERM); err != nil {
			if isPermissionError(err) {
				h.Run(ctx, "sudo", "-n", "fuser", "-k", devicePath)
				break
			}
			log.WithError(err).WithField("pid", pid).Debug("SIGTERM failed")
		}
	}

	select {
	case <-ctx.Done():
		return true
	case <-time.After(h.Grace):
	}

	// Phase 2: SIGKILL survivors
	for _, pid := range sorted {
		if h.Kill(pid, 0) != nil {
			continue
		}
		if err := h.Kill(pid, syscall.SIGKILL); err != nil {
			if isPermissionError(err) {
				h.Run(ctx, "sudo", "-n", "fuser", "-k", devicePath)
			} else {
				log.WithError(err).WithField("pid", pid).Debug("SIGKILL failed")
			}
		}
	}
	return true
}

func parsePIDLines(out string) map[int]struct{} {
	pids := make(map[int]struct{})
	for _, line := range strings.Split(out, "\n") {
		if pid, err := strconv.Atoi(strings.TrimSpace(line)); err == nil && pid > 0 {
			pids[pid] = struct{}{}
		}
	}
	return pids
}

var digitRegexp = regexp.MustCompile(`\b(\d+)\b`)

func parseFuserPIDs(out string) map[int]struct{} {
	pids := make(map[int]struct{})
	for _, match := range digitRegexp.FindAllString(out, -1) {
		if pid, err := strconv.Atoi(match); err == nil && pid > 0 {
			pids[pid] = struct{}{}
		}
	}
	return pids
}

// runCmd executes a command with a 2-second timeout and returns stdout.
// Errors, including the timeout, yield an empty string.
func runCmd(ctx context.Context, name string, args ...string) string {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

func isPermissionError(err error) bool {
	return errors.Is(err, syscall.EPERM) || errors.Is(err, syscall.EACCES)
}

func sortedKeys(m map[int]struct{}) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
