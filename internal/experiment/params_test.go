package experiment

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeParams(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sed_params.yaml"), []byte(content), 0644))
}

func TestLoadParamsValid(t *testing.T) {
	dir := t.TempDir()
	writeParams(t, dir, `
name: sed_001
exposure_sec: 0.1
unblank: true
grid:
  nx: 10
  ny: 8
  step: 2.5
`)

	p, err := LoadParams(dir, "sed_params.yaml")
	require.NoError(t, err)
	assert.Equal(t, "sed_001", p.Name)
	assert.Equal(t, 0.1, p.ExposureSec)
	assert.True(t, p.Unblank)
	assert.Equal(t, 80, p.Grid.Positions())
}

func TestLoadParamsMissingFile(t *testing.T) {
	_, err := LoadParams(t.TempDir(), "sed_params.yaml")
	require.Error(t, err)
	assert.True(t, IsConfigError(err), "missing file should be a ConfigError")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadParamsInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	writeParams(t, dir, "name: [broken")

	_, err := LoadParams(dir, "sed_params.yaml")
	require.Error(t, err)
	assert.True(t, IsConfigError(err))
}

func TestLoadParamsValidation(t *testing.T) {
	cases := map[string]string{
		"missing name":  "exposure_sec: 0.1\ngrid: {nx: 2, ny: 2, step: 1}",
		"zero exposure": "name: x\nexposure_sec: 0\ngrid: {nx: 2, ny: 2, step: 1}",
		"zero grid":     "name: x\nexposure_sec: 0.1\ngrid: {nx: 0, ny: 2, step: 1}",
		"zero step":     "name: x\nexposure_sec: 0.1\ngrid: {nx: 2, ny: 2, step: 0}",
	}
	for label, content := range cases {
		dir := t.TempDir()
		writeParams(t, dir, content)
		_, err := LoadParams(dir, "sed_params.yaml")
		assert.Error(t, err, label)
		assert.True(t, IsConfigError(err), label)
	}
}
