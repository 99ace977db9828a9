// Package config loads and validates the typed configuration surface
// of a DP master: debug verbosity, PHY transport selection, master
// station identity, and the per-slave parameter table. It does not
// parse GSD files or vendor INI dialects; callers supply already-
// resolved ident numbers, cfg bytes, and UserPrmData.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mbuesch/godp/dp"
)

// Error wraps a configuration fault (bad YAML, out-of-range value,
// inconsistent slave entry) for a specific configuration key,
// mirroring the fdl/dp error wrap-and-classify pattern.
type Error struct {
	Key string
	Err error
}

func (e *Error) Error() string { return "config: " + e.Key + ": " + e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

// Config is the top-level configuration document: the
// `profibus`/`phy`/`dp` key groups plus a slave table.
type Config struct {
	Profibus ProfibusConfig `yaml:"profibus"`
	PHY      PHYConfig      `yaml:"phy"`
	DP       DPConfig       `yaml:"dp"`
	Slaves   []SlaveConfig  `yaml:"slaves"`
}

// ProfibusConfig holds the cross-cutting `PROFIBUS.*` keys.
type ProfibusConfig struct {
	// Debug is the verbosity level (0/1/2), mapped to
	// logrus.Warn/Info/Debug by cmd/godpd unless --loglevel is given.
	Debug int `yaml:"debug"`
}

// PHYConfig selects and configures the transport.
type PHYConfig struct {
	// Type is one of "serial", "dummy", "dummy_slave", "fpga". "dummy"
	// and "dummy_slave" exist for testing and demonstration without
	// real hardware; "fpga" is a recognized but unimplemented driver
	// seam.
	Type string `yaml:"type"`
	Dev  string `yaml:"dev"`
	Baud int    `yaml:"baud"`
}

// DPConfig holds the master station's own identity.
type DPConfig struct {
	MasterClass int  `yaml:"master_class"` // 1 or 2
	MasterAddr  byte `yaml:"master_addr"`
}

// SlaveConfig is one entry of the per-slave table.
type SlaveConfig struct {
	Addr        byte     `yaml:"addr"`
	GSD         string   `yaml:"gsd"` // opaque to this module; resolved by the caller
	IdentNumber uint16   `yaml:"ident_number"`
	SyncMode    bool     `yaml:"sync_mode"`
	FreezeMode  bool     `yaml:"freeze_mode"`
	GroupMask   byte     `yaml:"group_mask"`
	WatchdogMs  int      `yaml:"watchdog_ms"`
	Modules     []string `yaml:"modules"` // vendor module names, carried through verbatim

	InputSize  int `yaml:"input_size"`
	OutputSize int `yaml:"output_size"`
	DiagPeriod int `yaml:"diag_period"`

	// CfgData and UserPrmData are raw bytes the caller has already
	// resolved (from a GSD module list and vendor defaults,
	// respectively); this module does not parse either format itself.
	CfgData     []byte `yaml:"cfg_data"`
	UserPrmData []byte `yaml:"user_prm_data"`
}

// Load reads and parses a YAML configuration document from path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Key: path, Err: err}
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, &Error{Key: path, Err: fmt.Errorf("parsing YAML: %w", err)}
	}
	return &cfg, nil
}

// Validate checks Config for internally inconsistent values that
// would otherwise surface later as a confusing PHY or FDL failure.
// Per-slave descriptor consistency (signal bounds, sync/freeze
// capability) is checked separately by SlaveDesc.Validate once
// Build has produced one.
func (c *Config) Validate() error {
	if c.Profibus.Debug < 0 || c.Profibus.Debug > 2 {
		return &Error{Key: "profibus.debug", Err: errors.New("must be 0, 1, or 2")}
	}
	switch c.PHY.Type {
	case "serial", "dummy", "dummy_slave", "fpga":
	default:
		return &Error{Key: "phy.type", Err: errors.New(`must be "serial", "dummy", "dummy_slave", or "fpga"`)}
	}
	if c.PHY.Type == "serial" && c.PHY.Dev == "" {
		return &Error{Key: "phy.dev", Err: errors.New("required when phy.type is \"serial\"")}
	}
	if c.PHY.Baud <= 0 {
		return &Error{Key: "phy.baud", Err: errors.New("must be positive")}
	}
	if c.DP.MasterClass != 1 && c.DP.MasterClass != 2 {
		return &Error{Key: "dp.master_class", Err: errors.New("must be 1 or 2")}
	}
	if c.DP.MasterAddr > 125 {
		return &Error{Key: "dp.master_addr", Err: errors.New("must be in range 0..125")}
	}

	seen := make(map[byte]bool, len(c.Slaves))
	for _, s := range c.Slaves {
		if s.Addr > 125 {
			return &Error{Key: fmt.Sprintf("slaves[addr=%d]", s.Addr), Err: errors.New("address out of range 0..125")}
		}
		if s.Addr == c.DP.MasterAddr {
			return &Error{Key: fmt.Sprintf("slaves[addr=%d]", s.Addr), Err: errors.New("collides with dp.master_addr")}
		}
		if seen[s.Addr] {
			return &Error{Key: fmt.Sprintf("slaves[addr=%d]", s.Addr), Err: errors.New("duplicate slave address")}
		}
		seen[s.Addr] = true
		if s.InputSize < 0 || s.OutputSize < 0 {
			return &Error{Key: fmt.Sprintf("slaves[addr=%d]", s.Addr), Err: errors.New("input_size/output_size must be non-negative")}
		}
	}
	return nil
}

// Build converts every SlaveConfig entry into a *dp.SlaveDesc, ready
// for dp.Master.Register. It does not call SlaveDesc.Validate itself;
// callers should let Master.Register surface descriptor-level faults
// uniformly.
func (c *Config) Build() []*dp.SlaveDesc {
	out := make([]*dp.SlaveDesc, 0, len(c.Slaves))
	for _, s := range c.Slaves {
		out = append(out, &dp.SlaveDesc{
			Addr:        s.Addr,
			IdentNumber: s.IdentNumber,
			UserPrmData: s.UserPrmData,
			CfgData:     s.CfgData,
			InputSize:   s.InputSize,
			OutputSize:  s.OutputSize,
			WatchdogMs:  s.WatchdogMs,
			GroupMask:   s.GroupMask,
			SyncMode:    s.SyncMode,
			FreezeMode:  s.FreezeMode,
			// SyncCapable/FreezeCapable are properties of the real
			// device, normally sourced from its GSD; the dummy path
			// exercised by this module's tests treats "mode requested"
			// as "capability granted" since no GSD loader is wired in.
			SyncCapable:   s.SyncMode,
			FreezeCapable: s.FreezeMode,
			DiagPeriod:    s.DiagPeriod,
			Name:          s.GSD,
		})
	}
	return out
}
