package config

import (
	"encoding/json"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pingcap/errors"
)

// Config holds everything a tabrev component needs to reach the coordination
// store and run the recovery sweep. It is passed explicitly into constructors;
// there is no process-wide shared instance.
type Config struct {
	// Endpoints of the coordination store (etcd) cluster.
	CoordinationEndpoints []string `toml:"coordination-endpoints"`
	// RootPath is the node prefix under which all ledger state lives.
	RootPath string `toml:"root-path"`

	LogLevel    string `toml:"log-level"`
	MetricsAddr string `toml:"metrics-addr"` // Address for the /metrics endpoint, empty to disable.

	DialTimeout    Duration `toml:"dial-timeout"`
	RequestTimeout Duration `toml:"request-timeout"` // Per round trip to the coordination store.

	// Transient connectivity failures are retried up to RetryBudget times
	// with exponential backoff starting at RetryBackoff.
	RetryBudget  int      `toml:"retry-budget"`
	RetryBackoff Duration `toml:"retry-backoff"`

	SweepInterval Duration `toml:"sweep-interval"` // How often the stale-transaction sweep runs.
	StaleTimeout  Duration `toml:"stale-timeout"`  // Open transactions older than this are swept.
	KeepCommitted int      `toml:"keep-committed"` // Committed records retained per family, 0 to keep all.
}

// NewDefaultConfig returns the default configuration.
func NewDefaultConfig() *Config {
	return &Config{
		CoordinationEndpoints: []string{"127.0.0.1:2379"},
		RootPath:              "/tabrev",
		LogLevel:              "info",
		MetricsAddr:           "127.0.0.1:9391",
		DialTimeout:           Duration{3 * time.Second},
		RequestTimeout:        Duration{time.Second},
		RetryBudget:           5,
		RetryBackoff:          Duration{100 * time.Millisecond},
		SweepInterval:         Duration{time.Minute},
		StaleTimeout:          Duration{30 * time.Minute},
		KeepCommitted:         64,
	}
}

// FromFile overrides the configuration with values from a TOML file.
func (c *Config) FromFile(path string) error {
	_, err := toml.DecodeFile(path, c)
	return errors.WithStack(err)
}

func (c *Config) String() string {
	data, err := json.Marshal(c)
	if err != nil {
		return "<nil>"
	}
	return string(data)
}

// Duration is a time.Duration decodable from TOML strings like "30s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return errors.WithStack(err)
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// MarshalJSON keeps String() output readable.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Duration.String())
}
