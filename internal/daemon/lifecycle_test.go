package daemon

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLifecycleManager(t *testing.T) {
	daemon, dataDir := createTestDaemon(t)

	lm := NewLifecycleManager(daemon)
	assert.NotNil(t, lm)
	assert.Equal(t, daemon, lm.daemon)
	assert.Equal(t, filepath.Join(dataDir, "korli.pid"), lm.pidFile)
}

func TestLifecycleManagerStartStop(t *testing.T) {
	daemon, _ := createTestDaemon(t)
	lm := NewLifecycleManager(daemon)

	require.NoError(t, lm.Start())

	pid, err := lm.GetPID()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
	assert.True(t, IsRunning(lm.pidFile))

	require.NoError(t, lm.Stop())

	_, err = os.Stat(lm.pidFile)
	assert.True(t, os.IsNotExist(err))
	assert.False(t, IsRunning(lm.pidFile))
}

func TestLifecycleManagerRefusesLivePID(t *testing.T) {
	daemon, _ := createTestDaemon(t)
	lm := NewLifecycleManager(daemon)

	// This test process is alive, so a PID file naming it blocks Start.
	require.NoError(t, os.MkdirAll(filepath.Dir(lm.pidFile), 0755))
	require.NoError(t, os.WriteFile(lm.pidFile, []byte(strconv.Itoa(os.Getpid())), 0644))

	err := lm.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "another korli process")
}

func TestReadPID(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file", func(t *testing.T) {
		_, err := ReadPID(filepath.Join(dir, "missing.pid"))
		assert.Error(t, err)
	})

	t.Run("garbage", func(t *testing.T) {
		path := filepath.Join(dir, "bad.pid")
		require.NoError(t, os.WriteFile(path, []byte("not-a-pid"), 0644))
		_, err := ReadPID(path)
		assert.Error(t, err)
		assert.False(t, IsRunning(path))
	})

	t.Run("trailing newline", func(t *testing.T) {
		path := filepath.Join(dir, "ok.pid")
		require.NoError(t, os.WriteFile(path, []byte("4242\n"), 0644))
		pid, err := ReadPID(path)
		require.NoError(t, err)
		assert.Equal(t, 4242, pid)
	})
}
