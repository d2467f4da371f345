package utils

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPIDManager(t *testing.T) {
	tmpDir := t.TempDir()
	pidFile := filepath.Join(tmpDir, "chatline.pid")

	t.Run("WritePID", func(t *testing.T) {
		manager := NewPIDManager(pidFile)
		assert.Equal(t, pidFile, manager.GetPIDFile())
		require.NoError(t, manager.WritePID())

		content, err := os.ReadFile(pidFile)
		require.NoError(t, err)
		pid, err := strconv.Atoi(strings.TrimSpace(string(content)))
		require.NoError(t, err)
		assert.Equal(t, os.Getpid(), pid)

		// rewriting our own pid is fine
		require.NoError(t, manager.WritePID())
	})

	t.Run("RemovePID", func(t *testing.T) {
		manager := NewPIDManager(pidFile)
		require.NoError(t, manager.WritePID())
		require.NoError(t, manager.RemovePID())

		_, err := os.Stat(pidFile)
		assert.True(t, os.IsNotExist(err))

		// already gone
		require.NoError(t, manager.RemovePID())
	})

	t.Run("creates missing directory", func(t *testing.T) {
		manager := NewPIDManager(filepath.Join(tmpDir, "subdir", "chatline.pid"))
		require.NoError(t, manager.WritePID())

		_, err := os.Stat(manager.GetPIDFile())
		require.NoError(t, err)
	})

	t.Run("live foreign pid", func(t *testing.T) {
		other := filepath.Join(tmpDir, "other.pid")
		require.NoError(t, os.WriteFile(other, []byte(strconv.Itoa(os.Getppid())), 0644))

		err := NewPIDManager(other).WritePID()
		assert.True(t, errors.Is(err, ErrAlreadyRunning))

		// the file is left alone on remove
		require.NoError(t, NewPIDManager(other).RemovePID())
		_, err = os.Stat(other)
		assert.NoError(t, err)
	})

	t.Run("stale pid is replaced", func(t *testing.T) {
		stale := filepath.Join(tmpDir, "stale.pid")
		require.NoError(t, os.WriteFile(stale, []byte("999999999"), 0644))
		require.NoError(t, NewPIDManager(stale).WritePID())
	})
}
