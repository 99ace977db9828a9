package dp

// Diag is the parsed standard diagnosis block returned by
// Slave_Diagnosis (DSAP 60), used to drive the WAIT_DIAG/WAIT_DIAG2
// transition guards. Only the standard six bytes are modeled; any
// further bytes
// (extended diagnosis / vendor-specific) are kept verbatim in Extra
// for the application to interpret, since their structure is
// vendor-defined and out of this module's scope.
type Diag struct {
	StationNonExistent bool
	StationNotReady    bool
	CfgFault           bool
	ExtDiag            bool
	NotSupported       bool
	InvalidSlaveResp   bool
	PrmFault           bool
	MasterLock         bool

	PrmReq       bool
	StatDiag     bool
	WDOn         bool
	FreezeMode   bool
	SyncMode     bool
	Deactivated  bool

	ExtDiagOverflow bool
	MasterAddr      byte
	IdentNumber     uint16

	Extra []byte
}

// ParseDiag decodes the 6-byte standard diagnosis header from du,
// per EN 50170's Slave_Diagnosis response layout.
func ParseDiag(du []byte) (Diag, error) {
	if len(du) < 6 {
		return Diag{}, ErrBadDiagLen
	}
	b0, b1, b2 := du[0], du[1], du[2]
	d := Diag{
		StationNonExistent: b0&0x01 != 0,
		StationNotReady:    b0&0x02 != 0,
		CfgFault:           b0&0x04 != 0,
		ExtDiag:            b0&0x08 != 0,
		NotSupported:       b0&0x10 != 0,
		InvalidSlaveResp:   b0&0x20 != 0,
		PrmFault:           b0&0x40 != 0,
		MasterLock:         b0&0x80 != 0,

		PrmReq:      b1&0x01 != 0,
		StatDiag:    b1&0x02 != 0,
		WDOn:        b1&0x08 != 0,
		FreezeMode:  b1&0x10 != 0,
		SyncMode:    b1&0x20 != 0,
		Deactivated: b1&0x80 != 0,

		ExtDiagOverflow: b2&0x80 != 0,
		MasterAddr:      du[3],
		IdentNumber:     uint16(du[4])<<8 | uint16(du[5]),
	}
	if len(du) > 6 {
		d.Extra = append([]byte(nil), du[6:]...)
	}
	return d, nil
}

// Ready reports whether diagnosis indicates the slave is fully
// parameterized, configured, and fault-free — the WAIT_DIAG2 -> DATA_EX
// guard.
func (d Diag) Ready() bool {
	return !d.StationNonExistent && !d.PrmReq && !d.CfgFault && !d.PrmFault
}

// NeedsReparam reports the WAIT_DIAG -> WAIT_PRM guard: the slave
// exists and either explicitly requests parameterization or shows a
// transient fault that warrants re-parameterizing it.
func (d Diag) NeedsReparam() bool {
	if d.StationNonExistent {
		return false
	}
	return d.PrmReq || d.PrmFault || d.CfgFault
}
