package device

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProvider(t *testing.T) {
	t.Run("should mint and persist an id on first use", func(t *testing.T) {
		dir := t.TempDir()
		p := NewProvider(dir)

		id, err := p.DeviceID()
		require.NoError(t, err)
		_, err = uuid.Parse(id)
		assert.NoError(t, err)

		data, err := os.ReadFile(filepath.Join(dir, "device_id"))
		require.NoError(t, err)
		assert.Contains(t, string(data), id)
	})

	t.Run("should return the same id on every call", func(t *testing.T) {
		p := NewProvider(t.TempDir())

		first, err := p.DeviceID()
		require.NoError(t, err)
		second, err := p.DeviceID()
		require.NoError(t, err)

		assert.Equal(t, first, second)
	})

	t.Run("should reuse a persisted id across providers", func(t *testing.T) {
		dir := t.TempDir()

		first, err := NewProvider(dir).DeviceID()
		require.NoError(t, err)
		second, err := NewProvider(dir).DeviceID()
		require.NoError(t, err)

		assert.Equal(t, first, second)
	})

	t.Run("should ignore an empty id file", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "device_id"), []byte("  \n"), 0o600))

		id, err := NewProvider(dir).DeviceID()
		require.NoError(t, err)
		assert.NotEmpty(t, id)
	})

	t.Run("should create the settings directory when missing", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "settings")

		id, err := NewProvider(dir).DeviceID()
		require.NoError(t, err)
		assert.NotEmpty(t, id)
	})
}
