package daemon

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPIDFileAcquireRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taskd.pid")
	p := NewPIDFile(path)

	require.NoError(t, p.Acquire())

	pid, err := ReadPID(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	require.NoError(t, p.Release())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	// Double release is fine.
	require.NoError(t, p.Release())
}

func TestPIDFileRejectsLiveHolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taskd.pid")

	// Our own pid stands in for "another live supervisor".
	require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644))

	err := NewPIDFile(path).Acquire()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")
}

func TestPIDFileTakesOverStale(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taskd.pid")

	// A pid that cannot exist: max pid is well below this on Linux.
	require.NoError(t, os.WriteFile(path, []byte("999999999"), 0o644))

	p := NewPIDFile(path)
	require.NoError(t, p.Acquire())

	pid, err := ReadPID(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestReadPIDErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := ReadPID(filepath.Join(dir, "absent.pid"))
	assert.True(t, os.IsNotExist(err))

	empty := filepath.Join(dir, "empty.pid")
	require.NoError(t, os.WriteFile(empty, []byte("  \n"), 0o644))
	_, err = ReadPID(empty)
	assert.Error(t, err)

	junk := filepath.Join(dir, "junk.pid")
	require.NoError(t, os.WriteFile(junk, []byte("not-a-pid"), 0o644))
	_, err = ReadPID(junk)
	assert.Error(t, err)
}
