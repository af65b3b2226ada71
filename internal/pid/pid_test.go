package pid_test

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"codeberg.org/gec/sensord/internal/errors"
	"codeberg.org/gec/sensord/internal/pid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAndRemove(t *testing.T) {
	f := pid.New(filepath.Join(t.TempDir(), "sensord.pid"))

	require.NoError(t, f.Write())

	data, err := os.ReadFile(f.Path())
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), string(data))

	require.NoError(t, f.Remove())
	_, err = os.Stat(f.Path())
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, f.Remove(), "removing a missing file is not an error")
}

func TestWrite_AlreadyRunning(t *testing.T) {
	f := pid.New(filepath.Join(t.TempDir(), "sensord.pid"))
	require.NoError(t, f.Write())

	err := f.Write()
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrAlreadyRunning))
}

func TestWrite_ReplacesStaleFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sensord.pid")

	for _, content := range []string{"not-a-pid", "0", ""} {
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

		f := pid.New(path)
		require.NoError(t, f.Write(), content)
		require.NoError(t, f.Remove())
	}
}
