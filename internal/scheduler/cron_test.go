package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RevCBH/taskd/internal/task"
)

func TestValidateCron(t *testing.T) {
	assert.NoError(t, ValidateCron("0 * * * *", "UTC"))
	assert.NoError(t, ValidateCron("*/5 9-17 * * 1-5", "America/New_York"))
	assert.NoError(t, ValidateCron("0 0 * * *", "")) // empty timezone defaults to UTC

	err := ValidateCron("not a cron", "UTC")
	require.Error(t, err)
	assert.Equal(t, task.KindInvalidInput, task.KindOf(err))

	err = ValidateCron("0 * * * *", "Mars/Olympus")
	require.Error(t, err)
	assert.Equal(t, task.KindInvalidInput, task.KindOf(err))
}

func TestNextCron(t *testing.T) {
	after := ts("2026-01-02T10:30:00Z")
	next, err := NextCron("0 * * * *", "UTC", after)
	require.NoError(t, err)
	assert.Equal(t, ts("2026-01-02T11:00:00Z"), next.UTC())

	// Strictly after: sitting exactly on a slot yields the next one.
	onSlot := ts("2026-01-02T10:00:00Z")
	next, err = NextCron("0 * * * *", "UTC", onSlot)
	require.NoError(t, err)
	assert.Equal(t, ts("2026-01-02T11:00:00Z"), next.UTC())
}

func TestNextCronHonorsTimezone(t *testing.T) {
	// Daily at 09:00 New York time.
	after := ts("2026-01-02T00:00:00Z")
	next, err := NextCron("0 9 * * *", "America/New_York", after)
	require.NoError(t, err)
	// EST is UTC-5 in January.
	assert.Equal(t, ts("2026-01-02T14:00:00Z"), next.UTC())
}

func TestCronDayOfMonthOrDayOfWeek(t *testing.T) {
	// Both fields restricted: fires when EITHER matches. 2026-01-02 is a
	// Friday; "0 0 1 * 5" must fire on it even though it is not the 1st.
	after := ts("2026-01-01T12:00:00Z")
	next, err := NextCron("0 0 1 * 5", "UTC", after)
	require.NoError(t, err)
	assert.Equal(t, ts("2026-01-02T00:00:00Z"), next.UTC())
}

func TestDueSlotsBounded(t *testing.T) {
	s := New(nil, nil, Config{MaxCatchupRuns: 3})
	spec, loc, err := parseCron("0 * * * *", "UTC")
	require.NoError(t, err)

	from := ts("2026-01-01T00:00:00Z")
	now := ts("2026-01-02T00:00:00Z") // 25 elapsed slots
	slots := s.dueSlots(spec, loc, from, now)

	require.Len(t, slots, 4) // cap+1, newest kept
	assert.Equal(t, ts("2026-01-02T00:00:00Z"), slots[3].UTC())
	assert.True(t, slots[0].After(from))
}

func TestDueSlotsSingle(t *testing.T) {
	s := New(nil, nil, Config{})
	spec, loc, err := parseCron("0 * * * *", "UTC")
	require.NoError(t, err)

	from := ts("2026-01-02T10:00:00Z")
	slots := s.dueSlots(spec, loc, from, ts("2026-01-02T10:30:00Z"))
	require.Len(t, slots, 1)
	assert.Equal(t, from, slots[0].UTC())
}
