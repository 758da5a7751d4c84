package task

import (
	"path/filepath"
	"strings"
	"time"
)

const (
	MinTimeout = time.Second
	MaxTimeout = 24 * time.Hour

	MinOutputBuffer = 1 << 10 // 1 KiB
	MaxOutputBuffer = 1 << 30 // 1 GiB
)

// ValidateWorkingDirectory rejects relative paths and any path containing a
// ".." component. An empty path is allowed; it means "inherit".
func ValidateWorkingDirectory(path string) error {
	if path == "" {
		return nil
	}
	if !filepath.IsAbs(path) {
		return NewError(KindInvalidDirectory, "working directory must be absolute: %q", path)
	}
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return NewError(KindInvalidDirectory, "working directory must not contain '..': %q", path)
		}
	}
	return nil
}

// ValidateTimeout checks the per-task timeout in milliseconds. Zero and
// negative values are allowed and mean "no timeout".
func ValidateTimeout(ms int64) error {
	if ms <= 0 {
		return nil
	}
	d := time.Duration(ms) * time.Millisecond
	if d < MinTimeout || d > MaxTimeout {
		return NewError(KindInvalidInput, "timeout must be between %s and %s, got %s", MinTimeout, MaxTimeout, d)
	}
	return nil
}

// ValidateOutputBuffer checks the per-task output cap in bytes. Zero means
// "use the configured default".
func ValidateOutputBuffer(bytes int64) error {
	if bytes == 0 {
		return nil
	}
	if bytes < MinOutputBuffer || bytes > MaxOutputBuffer {
		return NewError(KindInvalidInput, "max output buffer must be between %d and %d bytes, got %d", MinOutputBuffer, MaxOutputBuffer, bytes)
	}
	return nil
}

// ParsePriority converts a client-supplied band name.
func ParsePriority(s string) (Priority, error) {
	p := Priority(strings.ToUpper(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", NewError(KindInvalidInput, "priority must be P0, P1, or P2, got %q", s)
	}
	return p, nil
}

// ParseScheduleKind converts a client-supplied schedule type.
func ParseScheduleKind(s string) (ScheduleKind, error) {
	switch ScheduleKind(strings.ToLower(strings.TrimSpace(s))) {
	case ScheduleCron:
		return ScheduleCron, nil
	case ScheduleOneTime:
		return ScheduleOneTime, nil
	default:
		return "", NewError(KindInvalidInput, "schedule type must be cron or one_time, got %q", s)
	}
}

// ParseMissedRunPolicy converts a client-supplied missed-run policy. Empty
// input selects skip.
func ParseMissedRunPolicy(s string) (MissedRunPolicy, error) {
	switch MissedRunPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return MissedRunSkip, nil
	case MissedRunSkip:
		return MissedRunSkip, nil
	case MissedRunCatchup:
		return MissedRunCatchup, nil
	case MissedRunFail:
		return MissedRunFail, nil
	default:
		return "", NewError(KindInvalidInput, "missed-run policy must be skip, catchup, or fail, got %q", s)
	}
}

// ParseCleanupPolicy converts a client-supplied worktree cleanup policy.
// Empty input selects auto.
func ParseCleanupPolicy(s string) (CleanupPolicy, error) {
	switch CleanupPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return CleanupAuto, nil
	case CleanupAuto:
		return CleanupAuto, nil
	case CleanupKeep:
		return CleanupKeep, nil
	case CleanupDelete:
		return CleanupDelete, nil
	default:
		return "", NewError(KindInvalidInput, "worktree cleanup must be auto, keep, or delete, got %q", s)
	}
}

// ParseMergeStrategy converts a client-supplied merge strategy. Empty input
// means no merge step runs.
func ParseMergeStrategy(s string) (MergeStrategy, error) {
	switch MergeStrategy(strings.ToLower(strings.TrimSpace(s))) {
	case MergeNone:
		return MergeNone, nil
	case MergePR:
		return MergePR, nil
	case MergeAuto:
		return MergeAuto, nil
	case MergeManual:
		return MergeManual, nil
	case MergePatch:
		return MergePatch, nil
	default:
		return "", NewError(KindInvalidInput, "merge strategy must be pr, auto, manual, or patch, got %q", s)
	}
}
