// Package fdl implements the PROFIBUS Fieldbus Data Link layer:
// SD1/SD2/SD3/SD4/SC telegram framing, FCS checksumming, and the
// master-side request/response station that drives one outstanding
// request at a time with Tslot timing and frame-count-bit retries.
package fdl

import "fmt"

// SD identifies a telegram's start delimiter, which in turn fixes its
// wire shape.
type SD byte

const (
	SD1 SD = 0x10 // fixed 6 bytes, no data unit
	SD2 SD = 0x68 // variable length, carries a data unit
	SD3 SD = 0xA2 // fixed 14 bytes, 8-byte data unit
	SD4 SD = 0xDC // token, 3 bytes
	SC  SD = 0xE5 // short acknowledgment, 1 byte
)

// ED is the mandatory end delimiter of every multi-byte telegram.
const ED byte = 0x16

// extBit marks DA/SA as carrying an extended DSAP/SSAP pair in DU.
const extBit byte = 0x80

// FC is the PROFIBUS function-code byte: direction, frame-count
// tracking, and station-type/service subcode, all packed into one
// byte.
type FC byte

// Request function codes (master -> slave).
const (
	FcSDN_LOW  FC = 0x40 // send data, no ack expected, FCB=0
	FcSDN_HIGH FC = 0x50 // send data, no ack expected, FCB=1
	FcSRD_LOW  FC = 0x4D // send and request data, FCB=0
	FcSRD_HIGH FC = 0x5D // send and request data, FCB=1
	FcFdlStat  FC = 0x49 // FDL status request
)

// Response function codes (slave -> master).
const (
	FcAckOK       FC = 0x00
	FcAckNeg      FC = 0x01
	FcDataLow     FC = 0x08
	FcDataHigh    FC = 0x0A
	FcNoResource  FC = 0x02
	FcNoService   FC = 0x03
	FcDataLowHi   FC = 0x09 // DATA_LOW with diagnosis-pending bit set
	FcDataHighHi  FC = 0x0B // DATA_HIGH with diagnosis-pending bit set
	FcFdlStatusOK FC = 0x38
)

// IsResponse reports whether fc is shaped like a response (bit 6
// clear distinguishes the response classes used above from the
// request classes, per PROFIBUS FC encoding).
func (fc FC) IsResponse() bool {
	switch fc &^ 0x01 { // mask off bit 0: each odd code also matches its even neighbour
	case FcAckOK, FcAckNeg, FcDataLow, FcDataHigh, FcNoResource, FcNoService,
		FcDataLowHi, FcDataHighHi, FcFdlStatusOK:
		return true
	}
	return false
}

// HighPriority reports whether a DATA_LOW/DATA_HIGH response carries
// the slave's request-for-diagnosis ("high priority ack") bit.
func (fc FC) HighPriority() bool {
	return fc == FcDataLowHi || fc == FcDataHighHi
}

// DP Service Access Points.
const (
	SapMasterDiag  = 54
	SapGlobalCtrl  = 57
	SapSetSlvAddr  = 58
	SapRdInp       = 59
	SapSlaveDiag   = 60
	SapSetPrm      = 61
	SapChkCfg      = 62
	SapDefault     = -1 // Data_Exchange: no DSAP/SSAP extension
)

// Telegram is a decoded (or yet-to-be-encoded) FDL PDU. DSAP/SSAP are
// only meaningful when Ext is true.
type Telegram struct {
	SD   SD
	DA   byte // station address, 7 bits; EXT flagged separately in Ext
	SA   byte
	FC   FC
	Ext  bool // DA/SA carry the extended-SAP indicator
	DSAP int  // -1 if absent
	SSAP int  // -1 if absent
	DU   []byte
}

func (t *Telegram) String() string {
	return fmt.Sprintf("SD%#02x DA=%d SA=%d FC=%#02x DSAP=%d SSAP=%d DU=%x",
		byte(t.SD), t.DA&0x7f, t.SA&0x7f, byte(t.FC), t.DSAP, t.SSAP, t.DU)
}

// fcs computes the PROFIBUS frame-check sequence: the sum, mod 256,
// of DA, SA, FC, and every DU byte. A telegram with no DU (SD1/SD4)
// sums only DA+SA+FC.
func fcs(da, sa byte, fc FC, du []byte) byte {
	sum := int(da) + int(sa) + int(fc)
	for _, b := range du {
		sum += int(b)
	}
	return byte(sum & 0xff)
}

// daWithExt returns da with the extended-SAP indicator bit set if ext
// is requested.
func daWithExt(da byte, ext bool) byte {
	if ext {
		return da | extBit
	}
	return da & ^extBit
}
