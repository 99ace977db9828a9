package fdl

import (
	"errors"
	"sync"
	"time"

	"github.com/mbuesch/godp/phy"
	"github.com/sirupsen/logrus"
)

// Error wraps a station-level fault (encode failure, PHY send failure,
// negative or NO_RESOURCE response, slot timeout after retries are
// exhausted) for propagation to the DP layer, classified under the
// PROFIBUS vocabulary rather than exposed as a raw transport error.
// Framing faults and telegrams from other stations seen while awaiting
// a response are skipped and end as a slot timeout.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return "fdl: " + e.Op + ": " + e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Timeout() bool {
	return errors.Is(e.Err, ErrTimeout)
}

// Sentinel station errors.
var (
	ErrTimeout       = errors.New("fdl: slot time exceeded, retries exhausted")
	ErrNoResource    = errors.New("fdl: slave returned NO_RESOURCE")
	ErrNegative      = errors.New("fdl: slave returned a negative acknowledgment")
	ErrUnexpectedFC  = errors.New("fdl: unexpected response function code")
	ErrStationClosed = errors.New("fdl: station closed")
)

// Profile holds the PROFIBUS timing parameters derived once per baud
// change: Tslot, Tsyn, Tqui and the min/max station delay window all
// scale with bit time, so they are computed once and held fixed for
// the life of a Station rather than recomputed per request.
type Profile struct {
	Baud     int
	BitTime  time.Duration
	Tsyn     time.Duration
	Tslot    time.Duration // slot time: max wait for a response
	TsdrMin  time.Duration
	TsdrMax  time.Duration
	Tqui     time.Duration
	FrameTmo time.Duration // Tqui + Tsl, used by Decoder
}

// NewProfile derives a timing Profile for the given baud rate. Tslot
// defaults to 100 bit times at or below 187.5 kBd and scales up at
// higher rates.
func NewProfile(baud int) Profile {
	bt := phy.BitTime(baud)
	tslotBits := 100
	if baud > 187500 {
		tslotBits = 300
	}
	tslot := time.Duration(tslotBits) * bt
	tqui := 2 * bt
	return Profile{
		Baud:     baud,
		BitTime:  bt,
		Tsyn:     phy.Tsyn(bt),
		Tslot:    tslot,
		TsdrMin:  11 * bt,
		TsdrMax:  tslot,
		Tqui:     tqui,
		FrameTmo: tqui + tslot,
	}
}

// peerKey identifies one (SA, DA) ordered pair for frame-count-bit
// bookkeeping: the bit toggles independently per peer a station talks
// to, not globally.
type peerKey struct{ sa, da byte }

// Result is the outcome of one SubmitRequest call: exactly one of
// Response or Err is set. Returning a value instead of raising lets
// callers branch on the specific failure (NO_RESOURCE vs timeout)
// without a type switch over a panic recovery.
type Result struct {
	Response *Telegram
	Err      error
}

// Station owns the per-master FDL send/receive loop: it sends one
// request, polls for the matching response within Tslot, and drives
// retries. At most one request is outstanding at a time. The retry
// loop is a try-countdown with the frame-count bit held unchanged
// across retries and a short back-off on NO_RESOURCE, rather than a
// flat timeout/retrans count.
type Station struct {
	Own     byte
	PHY     phy.Driver
	Profile Profile
	Log     *logrus.Logger

	mu      sync.Mutex
	dec     *Decoder
	fcBits  map[peerKey]bool
	closed  bool
}

// NewStation returns a Station that owns phyDrv, addressed as own,
// operating at the given Profile.
func NewStation(own byte, phyDrv phy.Driver, profile Profile, log *logrus.Logger) *Station {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Station{
		Own:     own,
		PHY:     phyDrv,
		Profile: profile,
		Log:     log,
		dec:     NewDecoder(profile.FrameTmo),
		fcBits:  make(map[peerKey]bool),
	}
}

// frameCountBit returns the current FCB for requests this station
// sends to peer da, toggling it on success via advanceFCB.
func (s *Station) frameCountBit(da byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fcBits[peerKey{sa: s.Own, da: da}]
}

func (s *Station) advanceFCB(da byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := peerKey{sa: s.Own, da: da}
	s.fcBits[k] = !s.fcBits[k]
}

// Close marks the station closed; any in-flight SubmitRequest call
// completes (honoring Tslot) before subsequent calls fail fast.
func (s *Station) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *Station) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// SubmitRequest sends t to t.DA and, if expectResponse, waits up to
// Tslot for a matching response, retrying up to retries times with
// the frame-count bit held unchanged (the PROFIBUS request-repeat
// rule). It returns a Result, never panicking or blocking
// indefinitely: every wait is timer-bounded.
func (s *Station) SubmitRequest(t *Telegram, expectResponse bool, retries int) Result {
	if s.isClosed() {
		return Result{Err: ErrStationClosed}
	}

	fcb := s.frameCountBit(t.DA)
	encoded := s.applyFCB(t, fcb)

	wire, err := Encode(encoded)
	if err != nil {
		return Result{Err: &Error{Op: "encode", Err: err}}
	}

	lastErr := error(ErrTimeout)
	for attempt := 0; attempt <= retries; attempt++ {
		if err := s.PHY.Send(wire); err != nil {
			return Result{Err: &Error{Op: "send", Err: err}}
		}
		if !expectResponse {
			return Result{}
		}

		resp, err := s.awaitResponse(encoded)
		switch {
		case err == nil:
			s.advanceFCB(t.DA)
			return Result{Response: resp}
		case errors.Is(err, ErrNegative):
			// NO_SERVICE or other negative: surface without retry.
			return Result{Err: &Error{Op: "response", Err: err}}
		case errors.Is(err, ErrNoResource):
			// Short back-off then retry. Remember the cause so a
			// NO_RESOURCE that never clears survives
			// retry exhaustion instead of reading as a plain timeout.
			lastErr = ErrNoResource
			time.Sleep(s.Profile.BitTime * 20)
			continue
		default:
			// Timeout or framing noise: retry with FCB unchanged.
			lastErr = err
			s.Log.WithFields(logrus.Fields{
				"da": t.DA, "attempt": attempt, "err": err,
			}).Debug("fdl: retrying request")
			continue
		}
	}
	return Result{Err: &Error{Op: "response", Err: lastErr}}
}

// applyFCB returns a copy of t with FC's frame-count bit set to fcb,
// for the request classes that carry one (SRD/SDN).
func (s *Station) applyFCB(t *Telegram, fcb bool) *Telegram {
	out := *t
	switch out.FC {
	case FcSDN_LOW, FcSDN_HIGH:
		if fcb {
			out.FC = FcSDN_HIGH
		} else {
			out.FC = FcSDN_LOW
		}
	case FcSRD_LOW, FcSRD_HIGH:
		if fcb {
			out.FC = FcSRD_HIGH
		} else {
			out.FC = FcSRD_LOW
		}
	}
	return &out
}

// awaitResponse polls the PHY and feeds the decoder until a telegram
// matching req's peer arrives, Tslot expires, or a negative
// acknowledgment is observed.
func (s *Station) awaitResponse(req *Telegram) (*Telegram, error) {
	deadline := time.Now().Add(s.Profile.Tslot)
	for {
		if time.Now().After(deadline) {
			return nil, ErrTimeout
		}
		for _, rx := range s.PHY.Poll() {
			ev := s.dec.Feed(rx.Byte, rx.At)
			if ev.Kind != Got {
				continue
			}
			t := ev.T
			if t.SD == SC {
				// Short ack: treated as a positive response with
				// no further fields.
				return t, nil
			}
			if t.DA != s.Own || t.SA != req.DA {
				// Not ours: keep waiting until Tslot expires.
				continue
			}
			if t.FC == FcNoResource {
				return nil, ErrNoResource
			}
			if t.FC == FcNoService || t.FC == FcAckNeg {
				return nil, ErrNegative
			}
			return t, nil
		}
		time.Sleep(s.Profile.BitTime)
	}
}
