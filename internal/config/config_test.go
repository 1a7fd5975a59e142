package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/mote-simulator/internal/driver"
	"github.com/signalsfoundry/mote-simulator/model"
	"github.com/signalsfoundry/mote-simulator/timectrl"
)

func TestLoadDefaultsReproduceReferenceRun(t *testing.T) {
	s, err := Load(New(), "")
	require.NoError(t, err)

	assert.Equal(t, 6, s.Nodes)
	assert.Equal(t, "topology.txt", s.Topology)
	assert.Equal(t, "meyer-heavy.txt", s.Noise)
	assert.Equal(t, driver.DefaultChannels, s.Channels)
	assert.Equal(t, 300.0, s.HorizonSeconds)
	assert.Equal(t, 10000, s.MaxNoiseReadings)
	assert.Equal(t, uint64(1), s.Seed)
	assert.Equal(t, timectrl.TicksPerSecond, s.IdleStep())
	assert.True(t, s.App.Enabled)
	assert.Equal(t, []float64{1, 2, 3, 4, 5}, s.App.Lambdas)

	dc := s.DriverConfig()
	assert.Equal(t, 6, dc.Nodes)
	require.NotNil(t, dc.MAC)
	assert.Equal(t, -95.0, dc.MAC.CCAThresholdDBm)
}

func TestLoadScenarioFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
nodes: 3
topology: lab/topology.txt
horizon: 42.5
channels: [Boot, role]
app:
  rts_cts: true
  lambdas: [6, 12]
mac:
  cca_threshold_dbm: -80
`), 0o644))

	s, err := Load(New(), path)
	require.NoError(t, err)

	assert.Equal(t, 3, s.Nodes)
	assert.Equal(t, "lab/topology.txt", s.Topology)
	assert.Equal(t, "meyer-heavy.txt", s.Noise)
	assert.Equal(t, 42.5, s.HorizonSeconds)
	assert.Equal(t, []string{"Boot", "role"}, s.Channels)
	assert.Equal(t, -80.0, s.MACParams().CCAThresholdDBm)

	app := s.AppConfig()
	assert.True(t, app.UseRTSCTS)
	assert.Equal(t, 6.0, app.Lambda(2))
	assert.Equal(t, 12.0, app.Lambda(3))
	assert.Equal(t, model.BaseStationID, app.BaseStation)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte("horizon: 10\n"), 0o644))
	t.Setenv("MOTESIM_HORIZON", "20")
	t.Setenv("MOTESIM_APP_MAX_RETRIES", "7")

	s, err := Load(New(), path)
	require.NoError(t, err)
	assert.Equal(t, 20.0, s.HorizonSeconds)
	assert.Equal(t, 7, s.App.MaxRetries)
}

func TestFlagsOverrideEnvironment(t *testing.T) {
	t.Setenv("MOTESIM_NODES", "4")
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--nodes", "9", "--metrics-addr", ":9100", "--rts-cts"}))

	v := New()
	require.NoError(t, BindFlags(v, fs))
	s, err := Load(v, "")
	require.NoError(t, err)

	assert.Equal(t, 9, s.Nodes)
	assert.Equal(t, ":9100", s.MetricsAddr)
	assert.True(t, s.App.RTSCTS)
}

func TestUnsetFlagsKeepLowerPrecedenceValues(t *testing.T) {
	t.Setenv("MOTESIM_NODES", "4")
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse(nil))

	v := New()
	require.NoError(t, BindFlags(v, fs))
	s, err := Load(v, "")
	require.NoError(t, err)
	assert.Equal(t, 4, s.Nodes)
}

func TestLoadRejectsInvalidScenarios(t *testing.T) {
	cases := map[string]string{
		"zero nodes":       "nodes: 0\n",
		"negative horizon": "horizon: -1\n",
		"empty noise":      "noise: \"\"\n",
		"bad lambda":       "app:\n  lambdas: [1, 0]\n",
		"negative retries": "app:\n  max_retries: -1\n",
		"retries overflow": "app:\n  max_retries: 256\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "scenario.yaml")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
			_, err := Load(New(), path)
			require.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestLoadAcceptsLargestRetryLimit(t *testing.T) {
	t.Setenv("MOTESIM_APP_MAX_RETRIES", "255")
	s, err := Load(New(), "")
	require.NoError(t, err)
	assert.Equal(t, 255, s.App.MaxRetries)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(New(), filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
