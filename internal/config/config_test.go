package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 2, cfg.Mesh.Rank)
	assert.Equal(t, 30*time.Second, cfg.Quiescence.Timeout())
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "amr.yaml")
	data := `
mesh:
  rank: 3
  initial_max_level: 3
  boundary: periodic
delivery:
  mode: random
  seed: 7
criteria:
  - type: point
    level: 4
    point: [0.1, 0.2, 0.3]
  - type: constant
    action: coarsen
storage:
  backend: badger
  path: /tmp/amr
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Mesh.Rank)
	assert.Equal(t, "periodic", cfg.Mesh.Boundary)
	assert.Equal(t, [3]int{16, 16, 1}, cfg.Mesh.BlockSize, "не заданное поле берётся из Default")
	assert.Equal(t, int64(7), cfg.Delivery.Seed)
	require.Len(t, cfg.Criteria, 2)
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, cfg.Criteria[0].Point)
	assert.Equal(t, "badger", cfg.Storage.Backend)
}

func TestLoadFromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "amr.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mesh:\n  rank: 1\n"), 0644))
	t.Setenv("AMR_CONFIG", path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.Mesh.Rank)
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mesh:\n  rank: 4\n"), 0644))
	_, err := Load(path)
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestPortFallback(t *testing.T) {
	s := ServerConfig{}
	t.Setenv("AMR_REST_PORT", "9000")
	assert.Equal(t, 9000, s.GetRESTPort())
	assert.Equal(t, 2112, s.GetMetricsPort())

	s.RESTPort = 8100
	assert.Equal(t, 8100, s.GetRESTPort())
}

func TestExampleConfigLoads(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "amrd.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Mesh.MaxLevel)
	assert.Equal(t, "badger", cfg.Storage.Backend)
	assert.Len(t, cfg.Criteria, 2)
	assert.Equal(t, 2112, cfg.Server.GetMetricsPort())
}

func TestNoiseThresholds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "amr.yaml")
	data := `
criteria:
  - type: noise
    noise:
      seed: 0
      coarsen_below: 0
      refine_above: 0.7
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))
	cfg, err := Load(path)
	require.NoError(t, err)
	n := cfg.Criteria[0].Noise
	require.NotNil(t, n.Seed)
	require.NotNil(t, n.CoarsenBelow)
	assert.Equal(t, int64(0), *n.Seed)
	assert.Equal(t, 0.0, *n.CoarsenBelow)
	assert.Nil(t, n.Alpha)

	for name, body := range map[string]string{
		"вне диапазона":   "criteria:\n  - type: noise\n    noise:\n      coarsen_below: -0.2\n",
		"пороги наоборот": "criteria:\n  - type: noise\n    noise:\n      coarsen_below: 0.8\n      refine_above: 0.3\n",
	} {
		require.NoError(t, os.WriteFile(path, []byte(body), 0644), name)
		_, err := Load(path)
		assert.Error(t, err, name)
	}
}
