package config

import "testing"

func validConfig() *Config {
	return &Config{
		Profibus: ProfibusConfig{Debug: 1},
		PHY:      PHYConfig{Type: "dummy_slave", Baud: 500000},
		DP:       DPConfig{MasterClass: 1, MasterAddr: 2},
		Slaves: []SlaveConfig{
			{Addr: 8, InputSize: 2, OutputSize: 2},
		},
	}
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateRejectsBadDebugLevel(t *testing.T) {
	c := validConfig()
	c.Profibus.Debug = 9
	if err := c.Validate(); err == nil {
		t.Fatal("expected an error for an out-of-range debug level")
	}
}

func TestValidateRejectsUnknownPHYType(t *testing.T) {
	c := validConfig()
	c.PHY.Type = "carrier_pigeon"
	if err := c.Validate(); err == nil {
		t.Fatal("expected an error for an unknown phy.type")
	}
}

func TestValidateRequiresDevForSerial(t *testing.T) {
	c := validConfig()
	c.PHY.Type = "serial"
	c.PHY.Dev = ""
	if err := c.Validate(); err == nil {
		t.Fatal("expected an error for phy.type=serial with no dev")
	}
}

func TestValidateRejectsDuplicateSlaveAddr(t *testing.T) {
	c := validConfig()
	c.Slaves = append(c.Slaves, SlaveConfig{Addr: 8, InputSize: 1, OutputSize: 1})
	if err := c.Validate(); err == nil {
		t.Fatal("expected an error for a duplicate slave address")
	}
}

func TestValidateRejectsSlaveAtMasterAddr(t *testing.T) {
	c := validConfig()
	c.Slaves[0].Addr = c.DP.MasterAddr
	if err := c.Validate(); err == nil {
		t.Fatal("expected an error for a slave colliding with the master address")
	}
}

func TestBuildProducesOneSlaveDescPerEntry(t *testing.T) {
	c := validConfig()
	descs := c.Build()
	if len(descs) != 1 {
		t.Fatalf("expected 1 descriptor, got %d", len(descs))
	}
	if descs[0].Addr != 8 || descs[0].InputSize != 2 || descs[0].OutputSize != 2 {
		t.Fatalf("unexpected descriptor: %+v", descs[0])
	}
}
