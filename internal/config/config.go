// Package config resolves the run configuration from defaults, an optional
// YAML scenario file, MOTESIM_* environment variables and command-line
// flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/signalsfoundry/mote-simulator/core"
	"github.com/signalsfoundry/mote-simulator/internal/app/hiddenterminal"
	"github.com/signalsfoundry/mote-simulator/internal/driver"
	"github.com/signalsfoundry/mote-simulator/model"
	"github.com/signalsfoundry/mote-simulator/timectrl"
)

// EnvPrefix prefixes every environment override, e.g. MOTESIM_HORIZON.
const EnvPrefix = "MOTESIM"

var ErrInvalidConfig = errors.New("invalid configuration")

// Scenario is the resolved configuration of one run.
type Scenario struct {
	Nodes            int      `mapstructure:"nodes" yaml:"nodes"`
	Topology         string   `mapstructure:"topology" yaml:"topology"`
	Noise            string   `mapstructure:"noise" yaml:"noise"`
	Channels         []string `mapstructure:"channels" yaml:"channels"`
	HorizonSeconds   float64  `mapstructure:"horizon" yaml:"horizon"`
	MaxNoiseReadings int      `mapstructure:"max_noise_readings" yaml:"max_noise_readings"`
	StallLimit       int      `mapstructure:"stall_limit" yaml:"stall_limit"`
	Seed             uint64   `mapstructure:"seed" yaml:"seed"`
	IdleStepSeconds  float64  `mapstructure:"idle_step" yaml:"idle_step"`
	Realtime         bool     `mapstructure:"realtime" yaml:"realtime"`
	Report           string   `mapstructure:"report" yaml:"report,omitempty"`
	MetricsAddr      string   `mapstructure:"metrics_addr" yaml:"metrics_addr,omitempty"`

	App AppConfig `mapstructure:"app" yaml:"app"`
	MAC MACConfig `mapstructure:"mac" yaml:"mac"`
}

// AppConfig configures the hidden-terminal application.
type AppConfig struct {
	Enabled            bool    `mapstructure:"enabled" yaml:"enabled"`
	RTSCTS             bool    `mapstructure:"rts_cts" yaml:"rts_cts"`
	MaxRetries         int     `mapstructure:"max_retries" yaml:"max_retries"`
	LogIntervalSeconds float64 `mapstructure:"log_interval" yaml:"log_interval"`
	// Lambdas are the message rates, in messages per minute, of the motes
	// following the base station, in id order.
	Lambdas []float64 `mapstructure:"lambdas" yaml:"lambdas"`
}

// MACConfig overrides selected MAC parameters.
type MACConfig struct {
	CCAThresholdDBm float64 `mapstructure:"cca_threshold_dbm" yaml:"cca_threshold_dbm"`
	TxPowerDBm      float64 `mapstructure:"tx_power_dbm" yaml:"tx_power_dbm"`
	MaxIterations   int     `mapstructure:"max_iterations" yaml:"max_iterations"`
}

// New returns a viper instance carrying the defaults and the environment
// binding.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// SetDefaults registers the defaults of the reference experiment.
func SetDefaults(v *viper.Viper) {
	mac := core.NewMACParams()
	v.SetDefault("nodes", driver.DefaultNodes)
	v.SetDefault("topology", driver.DefaultTopologyPath)
	v.SetDefault("noise", driver.DefaultNoisePath)
	v.SetDefault("channels", driver.DefaultChannels)
	v.SetDefault("horizon", driver.DefaultHorizonSeconds)
	v.SetDefault("max_noise_readings", driver.DefaultMaxNoiseReadings)
	v.SetDefault("stall_limit", driver.DefaultStallLimit)
	v.SetDefault("seed", 1)
	v.SetDefault("idle_step", 1.0)
	v.SetDefault("realtime", false)
	v.SetDefault("report", "")
	v.SetDefault("metrics_addr", "")
	v.SetDefault("app.enabled", true)
	v.SetDefault("app.rts_cts", false)
	v.SetDefault("app.max_retries", hiddenterminal.DefaultMaxRetries)
	v.SetDefault("app.log_interval", hiddenterminal.DefaultLogIntervalSeconds)
	v.SetDefault("app.lambdas", []float64{1, 2, 3, 4, 5})
	v.SetDefault("mac.cca_threshold_dbm", mac.CCAThresholdDBm)
	v.SetDefault("mac.tx_power_dbm", mac.TxPowerDBm)
	v.SetDefault("mac.max_iterations", mac.MaxIterations)
}

// flagKeys maps command-line flags to configuration keys.
var flagKeys = map[string]string{
	"topology":     "topology",
	"noise":        "noise",
	"nodes":        "nodes",
	"horizon":      "horizon",
	"seed":         "seed",
	"report":       "report",
	"metrics-addr": "metrics_addr",
	"realtime":     "realtime",
	"rts-cts":      "app.rts_cts",
}

// RegisterFlags defines the run flags on fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("topology", driver.DefaultTopologyPath, "topology file with one \"src dst gain\" line per radio edge")
	fs.String("noise", driver.DefaultNoisePath, "noise trace with one integer dBm reading per line")
	fs.Int("nodes", driver.DefaultNodes, "number of nodes to create")
	fs.Float64("horizon", driver.DefaultHorizonSeconds, "simulated seconds to run")
	fs.Uint64("seed", 1, "random seed")
	fs.String("report", "", "write a YAML run summary to this path")
	fs.String("metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	fs.Bool("realtime", false, "pace simulated time against the wall clock")
	fs.Bool("rts-cts", false, "enable the RTS/CTS handshake in the application")
}

// BindFlags makes flags set on the command line override every other
// source.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

// Load reads the optional scenario file at path and resolves the final
// configuration.
func Load(v *viper.Viper, path string) (Scenario, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Scenario{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var s Scenario
	if err := v.Unmarshal(&s); err != nil {
		return Scenario{}, fmt.Errorf("decode config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Scenario{}, err
	}
	return s, nil
}

// Validate rejects configurations the simulator cannot run.
func (s Scenario) Validate() error {
	switch {
	case s.Nodes <= 0:
		return fmt.Errorf("%w: nodes must be positive, got %d", ErrInvalidConfig, s.Nodes)
	case s.HorizonSeconds <= 0:
		return fmt.Errorf("%w: horizon must be positive, got %g", ErrInvalidConfig, s.HorizonSeconds)
	case s.Topology == "":
		return fmt.Errorf("%w: topology file is required", ErrInvalidConfig)
	case s.Noise == "":
		return fmt.Errorf("%w: noise file is required", ErrInvalidConfig)
	case s.IdleStepSeconds <= 0:
		return fmt.Errorf("%w: idle_step must be positive, got %g", ErrInvalidConfig, s.IdleStepSeconds)
	case s.App.MaxRetries < 0 || s.App.MaxRetries > math.MaxUint8:
		return fmt.Errorf("%w: app.max_retries must be within [0, %d], got %d", ErrInvalidConfig, math.MaxUint8, s.App.MaxRetries)
	}
	for i, l := range s.App.Lambdas {
		if l <= 0 {
			return fmt.Errorf("%w: app.lambdas[%d] must be positive, got %g", ErrInvalidConfig, i, l)
		}
	}
	return nil
}

// DriverConfig converts the scenario into the driver's configuration.
func (s Scenario) DriverConfig() driver.Config {
	return driver.Config{
		Nodes:            s.Nodes,
		TopologyPath:     s.Topology,
		NoisePath:        s.Noise,
		Channels:         s.Channels,
		HorizonSeconds:   s.HorizonSeconds,
		MaxNoiseReadings: s.MaxNoiseReadings,
		StallLimit:       s.StallLimit,
		MAC:              s.MACParams(),
	}
}

// MACParams returns the default MAC parameters with the overrides applied.
func (s Scenario) MACParams() *core.MACParams {
	mac := core.NewMACParams()
	mac.CCAThresholdDBm = s.MAC.CCAThresholdDBm
	mac.TxPowerDBm = s.MAC.TxPowerDBm
	mac.MaxIterations = s.MAC.MaxIterations
	return mac
}

// IdleStep returns the idle clock step in ticks.
func (s Scenario) IdleStep() timectrl.Ticks { return timectrl.FromSeconds(s.IdleStepSeconds) }

// AppConfig converts the scenario into the application's configuration.
func (s Scenario) AppConfig() hiddenterminal.Config {
	cfg := hiddenterminal.DefaultConfig()
	cfg.UseRTSCTS = s.App.RTSCTS
	cfg.MaxRetries = s.App.MaxRetries
	if s.App.LogIntervalSeconds > 0 {
		cfg.LogInterval = timectrl.FromSeconds(s.App.LogIntervalSeconds)
	}
	if len(s.App.Lambdas) > 0 {
		cfg.Lambdas = make(map[model.NodeID]float64, len(s.App.Lambdas))
		for i, l := range s.App.Lambdas {
			cfg.Lambdas[cfg.BaseStation+model.NodeID(i)+1] = l
		}
	}
	return cfg
}
