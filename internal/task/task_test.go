package task

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriorityRank(t *testing.T) {
	assert.Equal(t, 0, PriorityCritical.Rank())
	assert.Equal(t, 1, PriorityHigh.Rank())
	assert.Equal(t, 2, PriorityNormal.Rank())
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, StatusQueued.IsTerminal())
	assert.False(t, StatusRunning.IsTerminal())
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.True(t, StatusCancelled.IsTerminal())
}

func TestStatusNeverMovesBackwardFromTerminal(t *testing.T) {
	terminals := []Status{StatusCompleted, StatusFailed, StatusCancelled}
	all := []Status{StatusQueued, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled}

	for _, from := range terminals {
		for _, to := range all {
			assert.False(t, CanTransition(from, to), "terminal %s must not transition to %s", from, to)
		}
	}
}

func TestStatusTransitions(t *testing.T) {
	assert.True(t, CanTransition(StatusQueued, StatusRunning))
	assert.True(t, CanTransition(StatusQueued, StatusCancelled))
	assert.True(t, CanTransition(StatusRunning, StatusCompleted))
	assert.True(t, CanTransition(StatusRunning, StatusFailed))
	assert.True(t, CanTransition(StatusRunning, StatusCancelled))
	assert.False(t, CanTransition(StatusRunning, StatusQueued))
	assert.False(t, CanTransition(StatusCompleted, StatusRunning))
}

func TestStatusCanCancel(t *testing.T) {
	assert.True(t, StatusQueued.CanCancel())
	assert.True(t, StatusRunning.CanCancel())
	assert.False(t, StatusCompleted.CanCancel())
	assert.False(t, StatusFailed.CanCancel())
	assert.False(t, StatusCancelled.CanCancel())
}

func TestNewTaskID(t *testing.T) {
	id := NewTaskID()
	require.True(t, strings.HasPrefix(id, "task-"))
	assert.Len(t, id, len("task-")+36)
	assert.NotEqual(t, id, NewTaskID())
}

func TestNewScheduleID(t *testing.T) {
	id := NewScheduleID()
	require.True(t, strings.HasPrefix(id, "schedule-"))
	assert.NotEqual(t, id, NewScheduleID())
}

func TestWorkerIDFor(t *testing.T) {
	assert.Equal(t, "worker-1234", WorkerIDFor(1234))
}

func TestErrorKindRoundTrip(t *testing.T) {
	err := NewError(KindTaskNotFound, "task %s not found", "task-x")
	assert.Equal(t, "TASK_NOT_FOUND: task task-x not found", err.Error())
	assert.Equal(t, KindTaskNotFound, KindOf(err))
	assert.True(t, IsKind(err, KindTaskNotFound))
	assert.False(t, IsKind(err, KindInvalidInput))
}

func TestErrorWrapping(t *testing.T) {
	cause := errors.New("disk full")
	err := WrapError(KindSystemError, cause, "saving task")
	assert.ErrorIs(t, err, cause)

	// Tagged errors survive another layer of %w wrapping.
	outer := fmt.Errorf("delegate: %w", err)
	assert.Equal(t, KindSystemError, KindOf(outer))
	assert.True(t, IsKind(outer, KindSystemError))
}

func TestKindOfUntagged(t *testing.T) {
	assert.Equal(t, KindSystemError, KindOf(errors.New("boom")))
	assert.Equal(t, ErrorKind(""), KindOf(nil))
}

func TestValidateWorkingDirectory(t *testing.T) {
	assert.NoError(t, ValidateWorkingDirectory(""))
	assert.NoError(t, ValidateWorkingDirectory("/tmp/work"))

	err := ValidateWorkingDirectory("relative/path")
	require.Error(t, err)
	assert.True(t, IsKind(err, KindInvalidDirectory))

	err = ValidateWorkingDirectory("/tmp/../etc")
	require.Error(t, err)
	assert.True(t, IsKind(err, KindInvalidDirectory))
}

func TestValidateTimeout(t *testing.T) {
	assert.NoError(t, ValidateTimeout(0))
	assert.NoError(t, ValidateTimeout(-5))
	assert.NoError(t, ValidateTimeout(1000))
	assert.NoError(t, ValidateTimeout(86_400_000))

	assert.Error(t, ValidateTimeout(999))
	assert.Error(t, ValidateTimeout(86_400_001))
}

func TestValidateOutputBuffer(t *testing.T) {
	assert.NoError(t, ValidateOutputBuffer(0))
	assert.NoError(t, ValidateOutputBuffer(1024))
	assert.NoError(t, ValidateOutputBuffer(1<<30))

	assert.Error(t, ValidateOutputBuffer(1023))
	assert.Error(t, ValidateOutputBuffer(1<<30+1))
}

func TestParsePriority(t *testing.T) {
	p, err := ParsePriority("p0")
	require.NoError(t, err)
	assert.Equal(t, PriorityCritical, p)

	p, err = ParsePriority(" P2 ")
	require.NoError(t, err)
	assert.Equal(t, PriorityNormal, p)

	_, err = ParsePriority("P3")
	require.Error(t, err)
	assert.True(t, IsKind(err, KindInvalidInput))
}

func TestParseScheduleKind(t *testing.T) {
	k, err := ParseScheduleKind("cron")
	require.NoError(t, err)
	assert.Equal(t, ScheduleCron, k)

	k, err = ParseScheduleKind("ONE_TIME")
	require.NoError(t, err)
	assert.Equal(t, ScheduleOneTime, k)

	_, err = ParseScheduleKind("weekly")
	assert.Error(t, err)
}

func TestParseMissedRunPolicyDefault(t *testing.T) {
	p, err := ParseMissedRunPolicy("")
	require.NoError(t, err)
	assert.Equal(t, MissedRunSkip, p)
}

func TestResolutionForStatus(t *testing.T) {
	assert.Equal(t, ResolutionSatisfied, ResolutionForStatus(StatusCompleted))
	assert.Equal(t, ResolutionFailed, ResolutionForStatus(StatusFailed))
	assert.Equal(t, ResolutionCancelled, ResolutionForStatus(StatusCancelled))
}
