package unitcfg

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestString(t *testing.T) {
	cfg := map[string]any{"name": "sshd", "n": 3}

	got, err := String(cfg, "name", "x")
	require.NoError(t, err)
	assert.Equal(t, "sshd", got)

	got, err = String(cfg, "missing", "x")
	require.NoError(t, err)
	assert.Equal(t, "x", got)

	_, err = String(cfg, "n", "")
	assert.Error(t, err)
}

func TestInt(t *testing.T) {
	cfg := map[string]any{"a": 3, "b": float64(7), "c": 1.5, "d": "7"}

	got, err := Int(cfg, "a", 0)
	require.NoError(t, err)
	assert.Equal(t, 3, got)

	got, err = Int(cfg, "b", 0)
	require.NoError(t, err)
	assert.Equal(t, 7, got)

	got, err = Int(cfg, "missing", 9)
	require.NoError(t, err)
	assert.Equal(t, 9, got)

	_, err = Int(cfg, "c", 0)
	assert.Error(t, err)
	_, err = Int(cfg, "d", 0)
	assert.Error(t, err)
}

func TestDuration(t *testing.T) {
	cfg := map[string]any{"s": "250ms", "n": 2, "bad": "soon"}

	got, err := Duration(cfg, "s", 0)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, got)

	got, err = Duration(cfg, "n", 0)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, got)

	got, err = Duration(cfg, "missing", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, got)

	_, err = Duration(cfg, "bad", 0)
	assert.Error(t, err)
}
