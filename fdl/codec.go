package fdl

import (
	"errors"
	"time"
)

// Error taxonomy for the FDL layer, one sentinel per distinct framing
// fault so callers can classify a Fault event without parsing its
// message text.
var (
	ErrFCS       = errors.New("fdl: bad FCS")
	ErrED        = errors.New("fdl: bad end delimiter")
	ErrLen       = errors.New("fdl: bad SD2 length (LE/LEr mismatch or out of range)")
	ErrSD2Magic  = errors.New("fdl: bad SD2 repeated start delimiter")
	ErrUnknownSD = errors.New("fdl: unknown start delimiter")
	ErrShortDU   = errors.New("fdl: DU shorter than DSAP/SSAP extension requires")
)

// Encode builds the wire bytes for t. It fills in LE/LEr and FCS and
// appends ED; the caller need not set them. Encode rejects DU that
// does not fit the addressed frame shape.
func Encode(t *Telegram) ([]byte, error) {
	switch t.SD {
	case SD4:
		return []byte{byte(SD4), daWithExt(t.DA, t.Ext), t.SA}, nil
	case SC:
		return []byte{byte(SC)}, nil
	case SD1:
		da := daWithExt(t.DA, t.Ext)
		du := extendedDU(t)
		if len(du) != 0 {
			return nil, ErrShortDU // SD1 carries no DU
		}
		f := fcs(da, t.SA, t.FC, du)
		return []byte{byte(SD1), da, t.SA, byte(t.FC), f, ED}, nil
	case SD3:
		da := daWithExt(t.DA, t.Ext)
		du := extendedDU(t)
		if len(du) > 8 {
			return nil, ErrShortDU
		}
		padded := make([]byte, 8)
		copy(padded, du)
		f := fcs(da, t.SA, t.FC, padded)
		b := []byte{byte(SD3), da, t.SA, byte(t.FC)}
		b = append(b, padded...)
		b = append(b, f, ED)
		return b, nil
	case SD2:
		da := daWithExt(t.DA, t.Ext)
		du := extendedDU(t)
		le := len(du) + 3 // DA + SA + FC + DU
		if le < 4 || le > 249 {
			return nil, ErrLen
		}
		f := fcs(da, t.SA, t.FC, du)
		b := make([]byte, 0, le+6)
		b = append(b, byte(SD2), byte(le), byte(le), byte(SD2), da, t.SA, byte(t.FC))
		b = append(b, du...)
		b = append(b, f, ED)
		return b, nil
	default:
		return nil, ErrUnknownSD
	}
}

// extendedDU prepends DSAP/SSAP to DU when the telegram carries an
// extended SAP pair.
func extendedDU(t *Telegram) []byte {
	if !t.Ext {
		return t.DU
	}
	du := make([]byte, 0, len(t.DU)+2)
	du = append(du, byte(t.DSAP), byte(t.SSAP))
	du = append(du, t.DU...)
	return du
}

// splitExtendedDU reverses extendedDU: if ext, the first two DU bytes
// are DSAP/SSAP.
func splitExtendedDU(du []byte, ext bool) (dsap, ssap int, rest []byte, err error) {
	if !ext {
		return -1, -1, du, nil
	}
	if len(du) < 2 {
		return -1, -1, nil, ErrShortDU
	}
	return int(du[0]), int(du[1]), du[2:], nil
}

// EventKind classifies what the Decoder produced from a Feed call.
type EventKind int

const (
	NeedMore EventKind = iota
	Got
	Fault
)

// Event is the result of feeding one byte to the Decoder.
type Event struct {
	Kind EventKind
	T    *Telegram
	Err  error
}

// decodeState tags the reassembler's progress through one telegram. A
// tagged state value, rather than a callback per field, is driven one
// byte at a time since SD1/SD3/SD4/SC carry no up-front length field
// to size a read against.
type decodeState int

const (
	stIdle decodeState = iota
	stSD2LE
	stSD2LEr
	stSD2Magic
	stFixed // collecting the fixed remainder of SD1/SD2/SD3
)

// Decoder is a streaming FDL telegram reassembler. It is fed one byte
// at a time and never blocks; callers drive it from PHY.Poll output.
type Decoder struct {
	state   decodeState
	sd      SD
	buf     []byte
	need    int // bytes still required to complete the current step
	le, ler int

	lastByte time.Time
	frameTmo time.Duration // Tqui + Tsl: mid-frame abandon timeout

	faults uint64
}

// NewDecoder returns a Decoder that abandons a partially received
// telegram if frameTimeout elapses between bytes.
func NewDecoder(frameTimeout time.Duration) *Decoder {
	return &Decoder{frameTmo: frameTimeout}
}

// Faults returns the number of framing faults observed so far.
func (d *Decoder) Faults() uint64 { return d.faults }

// Feed presents one received byte, timestamped at, to the
// reassembler. It returns NeedMore while the telegram is incomplete,
// Got with T populated once a full, FCS-and-ED-verified telegram has
// been assembled, or Fault if this byte broke framing; a Fault always
// resets to Idle and increments the fault counter, but never itself
// terminates the caller's feed loop. A stall longer than the frame
// timeout since the previous byte drops the partial telegram and
// increments the fault counter without a Fault event; this byte is
// then evaluated from Idle.
func (d *Decoder) Feed(b byte, at time.Time) Event {
	if d.state != stIdle && !d.lastByte.IsZero() && d.frameTmo > 0 &&
		at.Sub(d.lastByte) > d.frameTmo {
		d.reset()
		d.faults++
		// Fall through: this byte may still legally start a new
		// telegram, so don't discard it, just re-evaluate from Idle.
	}
	d.lastByte = at

	switch d.state {
	case stIdle:
		return d.feedIdle(b)
	case stSD2LE:
		d.le = int(b)
		d.state = stSD2LEr
		return Event{Kind: NeedMore}
	case stSD2LEr:
		d.ler = int(b)
		if d.le < 4 || d.le > 249 || d.le != d.ler {
			d.reset()
			d.faults++
			return Event{Kind: Fault, Err: ErrLen}
		}
		d.state = stSD2Magic
		return Event{Kind: NeedMore}
	case stSD2Magic:
		if b != byte(SD2) {
			d.reset()
			d.faults++
			return Event{Kind: Fault, Err: ErrSD2Magic}
		}
		d.state = stFixed
		d.buf = d.buf[:0]
		d.need = d.le + 2 // DA,SA,FC,DU...,FCS,ED
		return Event{Kind: NeedMore}
	case stFixed:
		d.buf = append(d.buf, b)
		d.need--
		if d.need > 0 {
			return Event{Kind: NeedMore}
		}
		return d.finishFixed()
	default:
		d.reset()
		return Event{Kind: Fault, Err: ErrUnknownSD}
	}
}

func (d *Decoder) feedIdle(b byte) Event {
	switch SD(b) {
	case SD1:
		d.sd = SD1
		d.state = stFixed
		d.buf = d.buf[:0]
		d.need = 5 // DA,SA,FC,FCS,ED
		return Event{Kind: NeedMore}
	case SD3:
		d.sd = SD3
		d.state = stFixed
		d.buf = d.buf[:0]
		d.need = 13 // DA,SA,FC,DU[8],FCS,ED
		return Event{Kind: NeedMore}
	case SD4:
		d.sd = SD4
		d.state = stFixed
		d.buf = d.buf[:0]
		d.need = 2 // DA,SA
		return Event{Kind: NeedMore}
	case SC:
		return Event{Kind: Got, T: &Telegram{SD: SC}}
	case SD2:
		d.sd = SD2
		d.state = stSD2LE
		return Event{Kind: NeedMore}
	default:
		d.faults++
		return Event{Kind: Fault, Err: ErrUnknownSD}
	}
}

func (d *Decoder) finishFixed() Event {
	defer d.reset()
	switch d.sd {
	case SD4:
		da, sa := d.buf[0], d.buf[1]
		ext := da&extBit != 0
		return Event{Kind: Got, T: &Telegram{
			SD: SD4, DA: da &^ extBit, SA: sa, Ext: ext, DSAP: -1, SSAP: -1,
		}}
	case SD1:
		da, sa, fc, f, ed := d.buf[0], d.buf[1], FC(d.buf[2]), d.buf[3], d.buf[4]
		if ed != ED {
			d.faults++
			return Event{Kind: Fault, Err: ErrED}
		}
		if fcs(da, sa, fc, nil) != f {
			d.faults++
			return Event{Kind: Fault, Err: ErrFCS}
		}
		ext := da&extBit != 0
		return Event{Kind: Got, T: &Telegram{
			SD: SD1, DA: da &^ extBit, SA: sa, FC: fc, Ext: ext, DSAP: -1, SSAP: -1,
		}}
	case SD3:
		da, sa, fc := d.buf[0], d.buf[1], FC(d.buf[2])
		du := d.buf[3:11]
		f, ed := d.buf[11], d.buf[12]
		if ed != ED {
			d.faults++
			return Event{Kind: Fault, Err: ErrED}
		}
		if fcs(da, sa, fc, du) != f {
			d.faults++
			return Event{Kind: Fault, Err: ErrFCS}
		}
		ext := da&extBit != 0
		dsap, ssap, rest, err := splitExtendedDU(append([]byte(nil), du...), ext)
		if err != nil {
			d.faults++
			return Event{Kind: Fault, Err: err}
		}
		return Event{Kind: Got, T: &Telegram{
			SD: SD3, DA: da &^ extBit, SA: sa, FC: fc, Ext: ext,
			DSAP: dsap, SSAP: ssap, DU: rest,
		}}
	case SD2:
		da, sa, fc := d.buf[0], d.buf[1], FC(d.buf[2])
		n := d.le - 3
		du := d.buf[3 : 3+n]
		f, ed := d.buf[3+n], d.buf[4+n]
		if ed != ED {
			d.faults++
			return Event{Kind: Fault, Err: ErrED}
		}
		if fcs(da, sa, fc, du) != f {
			d.faults++
			return Event{Kind: Fault, Err: ErrFCS}
		}
		ext := da&extBit != 0
		dsap, ssap, rest, err := splitExtendedDU(append([]byte(nil), du...), ext)
		if err != nil {
			d.faults++
			return Event{Kind: Fault, Err: err}
		}
		return Event{Kind: Got, T: &Telegram{
			SD: SD2, DA: da &^ extBit, SA: sa, FC: fc, Ext: ext,
			DSAP: dsap, SSAP: ssap, DU: rest,
		}}
	default:
		d.faults++
		return Event{Kind: Fault, Err: ErrUnknownSD}
	}
}

func (d *Decoder) reset() {
	d.state = stIdle
	d.buf = d.buf[:0]
	d.need = 0
	d.le, d.ler = 0, 0
}
