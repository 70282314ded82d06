package statefile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type demoState struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")
	in := demoState{Name: "bnb", Value: 42.5}
	require.NoError(t, Save(path, in))

	var out demoState
	found, err := Load(path, &out)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, in, out)
}

func TestLoadMissingFile(t *testing.T) {
	var out demoState
	found, err := Load(filepath.Join(t.TempDir(), "absent.json"), &out)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestLoadCorruptedFileBacksUpAndResets(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0o644))

	var out demoState
	found, err := Load(path, &out)
	require.NoError(t, err)
	assert.False(t, found)

	// 原文件应被移走备份，避免下次启动再次踩雷
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Name(), "state.json.corrupt-")
}

func TestSaveOverwritesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, Save(path, demoState{Name: "a", Value: 1}))
	require.NoError(t, Save(path, demoState{Name: "b", Value: 2}))

	var out demoState
	found, err := Load(path, &out)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "b", out.Name)
}
