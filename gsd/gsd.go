// Package gsd defines the output contract a GSD (device description)
// consumer must satisfy to feed dp.Master a slave's identification,
// timing, and module data. It does not parse GSD files or any vendor
// INI dialect; DeviceDescription is populated by a caller-supplied
// loader or directly by tests. The config package does not build one.
package gsd

import "errors"

// Module describes one entry of a modular slave's configuration: the
// cfg-byte signature a real device expects for that module slot, and
// the input/output byte counts it contributes to the slave's
// Data_Exchange payload.
type Module struct {
	Name       string
	CfgByte    byte
	InputSize  int
	OutputSize int
}

// StationAttributes carries the slave-wide capability flags a GSD
// normally states under [SlaveSpecifications]/[General].
type StationAttributes struct {
	SyncCapable      bool
	FreezeCapable    bool
	WatchdogRequired bool
}

// DeviceDescription is the fully resolved set of facts a DP master
// needs about one slave type: identification, timing, and the module
// list a modular device contributes to Data_Exchange.
type DeviceDescription struct {
	IdentNumber uint16

	// SupportedBaudRates lists every baud rate (bits/second) the
	// device supports.
	SupportedBaudRates []int

	// MaxTsdrByBaud maps a supported baud rate to that device's
	// max_tsdr value in bit times, per the GSD key of the same name.
	MaxTsdrByBaud map[int]int

	MaxUserPrmDataLen int
	DefaultUserPrmData []byte

	Modules []Module

	Station StationAttributes
}

var (
	ErrNoIdentNumber   = errors.New("gsd: missing Ident_Number")
	ErrNoBaudRates     = errors.New("gsd: no supported baud rates listed")
	ErrMissingTsdr     = errors.New("gsd: a supported baud rate has no matching Max_Tsdr entry")
	ErrPrmDataTooLong  = errors.New("gsd: default UserPrmData exceeds Max_User_Prm_Data_Len")
	ErrModuleNoSize    = errors.New("gsd: a module contributes neither input nor output bytes")
)

// Validate rejects a DeviceDescription missing any field a real DP
// bring-up needs: it never guesses at a vendor's intent for a
// malformed or incomplete description.
func (d *DeviceDescription) Validate() error {
	if d.IdentNumber == 0 {
		return ErrNoIdentNumber
	}
	if len(d.SupportedBaudRates) == 0 {
		return ErrNoBaudRates
	}
	for _, baud := range d.SupportedBaudRates {
		if _, ok := d.MaxTsdrByBaud[baud]; !ok {
			return ErrMissingTsdr
		}
	}
	if len(d.DefaultUserPrmData) > d.MaxUserPrmDataLen {
		return ErrPrmDataTooLong
	}
	for _, m := range d.Modules {
		if m.InputSize == 0 && m.OutputSize == 0 {
			return ErrModuleNoSize
		}
	}
	return nil
}

// TotalIOSize sums every module's contribution to the slave's
// Data_Exchange payload, for callers assembling a dp.SlaveDesc's
// InputSize/OutputSize from a modular device's module list.
func (d *DeviceDescription) TotalIOSize() (inputSize, outputSize int) {
	for _, m := range d.Modules {
		inputSize += m.InputSize
		outputSize += m.OutputSize
	}
	return inputSize, outputSize
}

// CfgData concatenates every module's cfg byte in list order, the
// shape ChkCfg_Req expects for a modular slave.
func (d *DeviceDescription) CfgData() []byte {
	out := make([]byte, len(d.Modules))
	for i, m := range d.Modules {
		out[i] = m.CfgByte
	}
	return out
}
