// Copyright 2018 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"fmt"
	"time"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

type Version struct {
	Version string `yaml:"version"`
	GitHash string `yaml:"git_hash"`
}

// Power holds the timing of the staged rail sequencer. CheckPowerDelay is
// the wait between asserting a stage's enables and sampling its power-good
// pins.
type Power struct {
	PowerGoodRetries   int           `yaml:"power_good_retries"`
	PowerGoodInterval  time.Duration `yaml:"power_good_interval"`
	CheckPowerDelay    time.Duration `yaml:"check_power_delay"`
	ClockStableDelay   time.Duration `yaml:"clock_stable_delay"`
	ResetReleaseDelay  time.Duration `yaml:"reset_release_delay"`
	P1V8DischargeDelay time.Duration `yaml:"p1v8_discharge_delay"`
	MarkPoweredDelay   time.Duration `yaml:"mark_powered_delay"`
}

// Fault configures the CPLD poller. DCSettleDelay is how long polling stays
// suppressed after the UBC enable line moves.
type Fault struct {
	PollInterval   time.Duration `yaml:"poll_interval"`
	PollStartDelay time.Duration `yaml:"poll_start_delay"`
	DCSettleDelay  time.Duration `yaml:"dc_settle_delay"`
	CacheSize      int           `yaml:"cache_size"`
}

type ErrorLog struct {
	EEPROMPath    string        `yaml:"eeprom_path"`
	Capacity      int           `yaml:"capacity"`
	IndexModulus  uint16        `yaml:"index_modulus"`
	SettleDelay   time.Duration `yaml:"settle_delay"`
	VRLockTimeout time.Duration `yaml:"vr_lock_timeout"`
}

type Readiness struct {
	SettleDelay       time.Duration `yaml:"settle_delay"`
	Retries           int           `yaml:"retries"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	VRAccessDelay     time.Duration `yaml:"vr_access_delay"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	MuxTimeout        time.Duration `yaml:"mux_timeout"`
}

type Register struct {
	Retries       int           `yaml:"retries"`
	RetryInterval time.Duration `yaml:"retry_interval"`
}

type BMCLink struct {
	Address    string        `yaml:"address"`
	QueueDepth int           `yaml:"queue_depth"`
	Attempts   int           `yaml:"attempts"`
	MinBackoff time.Duration `yaml:"min_backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

type Config struct {
	MetricsAddr string    `yaml:"metrics_addr"`
	GRPCAddr    string    `yaml:"grpc_addr"`
	GpioChip    string    `yaml:"gpio_chip"`
	Power       Power     `yaml:"power"`
	Fault       Fault     `yaml:"fault"`
	ErrorLog    ErrorLog  `yaml:"error_log"`
	Readiness   Readiness `yaml:"readiness"`
	Register    Register  `yaml:"register"`
	BMCLink     BMCLink   `yaml:"bmc_link"`
	Version     Version   `yaml:"-"`
}

var DefaultConfig = &Config{
	MetricsAddr: "[::]:9370",
	GRPCAddr:    "[::]:9371",
	GpioChip:    "/dev/gpiochip0",

	// Rail timings follow the carrier board's power-up characterization.
	// Power-good is sampled five times 1ms apart, never with a growing delay.
	Power: Power{
		PowerGoodRetries:   5,
		PowerGoodInterval:  1 * time.Millisecond,
		CheckPowerDelay:    10 * time.Millisecond,
		ClockStableDelay:   1 * time.Millisecond,
		ResetReleaseDelay:  100 * time.Millisecond,
		P1V8DischargeDelay: 30 * time.Millisecond,
		MarkPoweredDelay:   5 * time.Second,
	},

	Fault: Fault{
		PollInterval:   1 * time.Second,
		PollStartDelay: 3 * time.Second,
		DCSettleDelay:  3 * time.Second,
		CacheSize:      200,
	},

	// The EEPROM needs 5ms after every page write before it accepts the next one.
	ErrorLog: ErrorLog{
		EEPROMPath:    "/sys/bus/i2c/devices/24-0050/eeprom",
		Capacity:      100,
		IndexModulus:  0x0FFF,
		SettleDelay:   5 * time.Millisecond,
		VRLockTimeout: 1 * time.Second,
	},

	Readiness: Readiness{
		SettleDelay:       1 * time.Second,
		Retries:           30,
		RetryInterval:     1 * time.Second,
		VRAccessDelay:     2 * time.Second,
		HeartbeatInterval: 2 * time.Second,
		MuxTimeout:        1 * time.Second,
	},

	Register: Register{
		Retries:       5,
		RetryInterval: 10 * time.Millisecond,
	},

	BMCLink: BMCLink{
		Address:    "",
		QueueDepth: 64,
		Attempts:   3,
		MinBackoff: 100 * time.Millisecond,
		MaxBackoff: 2 * time.Second,
	},

	Version: Version{
		Version: gitVersion,
		GitHash: gitHash,
	},
}

var (
	gitVersion = "dev"
	gitHash    = "unknown"
)

// Load returns a copy of DefaultConfig with the YAML file at path applied on
// top of it. A missing file is not an error.
func Load(fs afero.Fs, path string) (*Config, error) {
	c := *DefaultConfig
	if path == "" {
		return &c, nil
	}
	ok, err := afero.Exists(fs, path)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &c, nil
	}
	b, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &c, nil
}

func (c *Config) Validate() error {
	switch {
	case c.Power.PowerGoodRetries < 1:
		return fmt.Errorf("power.power_good_retries must be at least 1")
	case c.Fault.CacheSize < 1:
		return fmt.Errorf("fault.cache_size must be at least 1")
	case c.ErrorLog.Capacity < 1:
		return fmt.Errorf("error_log.capacity must be at least 1")
	case c.ErrorLog.IndexModulus == 0 || c.ErrorLog.IndexModulus == 0xFFFF:
		return fmt.Errorf("error_log.index_modulus %#x is reserved", c.ErrorLog.IndexModulus)
	case c.Register.Retries < 1:
		return fmt.Errorf("register.retries must be at least 1")
	}
	return nil
}
