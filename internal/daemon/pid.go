package daemon

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// PIDFile enforces the single-supervisor-per-data-dir rule. Acquire fails
// when another live process holds the file; a stale file left by a crashed
// supervisor is removed and taken over.
type PIDFile struct {
	path string
}

// NewPIDFile creates a PIDFile manager for the given path.
func NewPIDFile(path string) *PIDFile {
	return &PIDFile{path: path}
}

// Acquire writes the current process pid to the file. Fails when another
// supervisor is already running against this data dir.
func (p *PIDFile) Acquire() error {
	if _, err := os.Stat(p.path); err == nil {
		existing, err := ReadPID(p.path)
		if err != nil {
			return fmt.Errorf("failed to read existing pid file: %w", err)
		}
		if existing > 0 && processAlive(existing) {
			return fmt.Errorf("supervisor already running with pid %d", existing)
		}
		if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove stale pid file: %w", err)
		}
	}

	pid := strconv.Itoa(os.Getpid())
	if err := os.WriteFile(p.path, []byte(pid), 0o644); err != nil {
		return fmt.Errorf("failed to write pid file: %w", err)
	}
	return nil
}

// Release removes the pid file. Safe to call more than once.
func (p *PIDFile) Release() error {
	err := os.Remove(p.path)
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

// processAlive probes a pid with signal 0, which checks existence without
// delivering anything.
func processAlive(pid int) bool {
	return syscall.Kill(pid, syscall.Signal(0)) == nil
}

// ReadPID parses the pid stored in a file.
func ReadPID(path string) (int, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	raw := strings.TrimSpace(string(content))
	if raw == "" {
		return 0, fmt.Errorf("pid file %s is empty", path)
	}
	pid, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid pid in %s: %w", path, err)
	}
	return pid, nil
}
