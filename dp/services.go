package dp

import "github.com/mbuesch/godp/fdl"

// Request builders for the DP services a master issues during
// bring-up and cyclic exchange. Each packs its service's fixed fields
// into an FDL telegram's DU, since every DP service rides inside an
// SRD (or SDN, for Global_Control) FDL request.

func fdlStatusReq(master, addr byte) *fdl.Telegram {
	return &fdl.Telegram{
		SD: fdl.SD1, DA: addr, SA: master, FC: fdl.FcFdlStat,
		DSAP: -1, SSAP: -1,
	}
}

func slaveDiagReq(master, addr byte) *fdl.Telegram {
	return &fdl.Telegram{
		SD: fdl.SD2, DA: addr, SA: master, FC: fdl.FcSRD_LOW,
		Ext: true, DSAP: fdl.SapSlaveDiag, SSAP: fdl.SapDefault,
	}
}

// setPrmReq builds the SetPrm request DU: station status byte
// (WD_On, FreezeReq, SyncReq), watchdog factors,
// min_tsdr, ident number, group mask, then raw UserPrmData.
func setPrmReq(master byte, d *SlaveDesc) *fdl.Telegram {
	var statByte byte
	if d.WatchdogMs > 0 {
		statByte |= 0x08
	}
	if d.FreezeMode {
		statByte |= 0x10
	}
	if d.SyncMode {
		statByte |= 0x20
	}
	f1, f2 := watchdogFactors(d.WatchdogMs)

	du := make([]byte, 0, 7+len(d.UserPrmData))
	du = append(du, statByte, f1, f2, 0x00 /* min_tsdr */, byte(d.IdentNumber>>8), byte(d.IdentNumber), d.GroupMask)
	du = append(du, d.UserPrmData...)

	return &fdl.Telegram{
		SD: fdl.SD2, DA: d.Addr, SA: master, FC: fdl.FcSRD_LOW,
		Ext: true, DSAP: fdl.SapSetPrm, SSAP: fdl.SapDefault,
		DU: du,
	}
}

// watchdogFactors splits a watchdog period in milliseconds into the
// two PROFIBUS watchdog base-10ms factors (fact1 * fact2 * 10ms),
// clamped to the representable range.
func watchdogFactors(ms int) (fact1, fact2 byte) {
	if ms <= 0 {
		return 1, 1
	}
	ticks := ms / 10
	if ticks < 1 {
		ticks = 1
	}
	f2 := 1
	for f2 < 255 && ticks/f2 > 255 {
		f2++
	}
	f1 := ticks / f2
	if f1 < 1 {
		f1 = 1
	}
	if f1 > 255 {
		f1 = 255
	}
	return byte(f1), byte(f2)
}

func chkCfgReq(master byte, d *SlaveDesc) *fdl.Telegram {
	return &fdl.Telegram{
		SD: fdl.SD2, DA: d.Addr, SA: master, FC: fdl.FcSRD_LOW,
		Ext: true, DSAP: fdl.SapChkCfg, SSAP: fdl.SapDefault,
		DU: append([]byte(nil), d.CfgData...),
	}
}

func dataExchangeReq(master byte, addr byte, output []byte) *fdl.Telegram {
	return &fdl.Telegram{
		SD: fdl.SD2, DA: addr, SA: master, FC: fdl.FcSRD_LOW,
		DSAP: -1, SSAP: -1,
		DU: append([]byte(nil), output...),
	}
}

// GlobalControl command-byte bits (SAP 57). Bit 0 is reserved and
// unused.
const (
	GcClearData byte = 0x02
	GcUnfreeze  byte = 0x04
	GcFreeze    byte = 0x08
	GcUnsync    byte = 0x10
	GcSync      byte = 0x20
)

func globalControlReq(master byte, groupMask byte, control byte) *fdl.Telegram {
	return &fdl.Telegram{
		SD: fdl.SD2, DA: 127, SA: master, FC: fdl.FcSDN_LOW, // 127: broadcast
		Ext: true, DSAP: fdl.SapGlobalCtrl, SSAP: fdl.SapDefault,
		DU: []byte{control, groupMask},
	}
}
