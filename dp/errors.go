package dp

import (
	"errors"
	"strconv"
)

// Error wraps a DP-level fault (slave rejected SetPrm/ChkCfg,
// diagnosis indicates Cfg_Fault/Prm_Fault, watchdog expired,
// unexpected FC response) for a specific slave, classifying it under
// the PROFIBUS vocabulary rather than exposing the raw transport
// error.
type Error struct {
	Addr byte
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return "dp: slave " + strconv.Itoa(int(e.Addr)) + ": " + e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Timeout reports whether the underlying cause was itself a timeout
// (typically an fdl.Error wrapped here from a request that exhausted
// its retries), delegating to the wrapped error's own classification.
func (e *Error) Timeout() bool {
	var t interface{ Timeout() bool }
	if errors.As(e.Err, &t) {
		return t.Timeout()
	}
	return errors.Is(e.Err, ErrWatchdog)
}

// Sentinel DP faults.
var (
	ErrPrmRejected  = errors.New("dp: SetPrm rejected")
	ErrCfgRejected  = errors.New("dp: ChkCfg rejected")
	ErrCfgFault     = errors.New("dp: diagnosis reports Cfg_Fault")
	ErrPrmFault     = errors.New("dp: diagnosis reports Prm_Fault")
	ErrStationGone  = errors.New("dp: Station_Non_Existent in diagnosis")
	ErrWatchdog     = errors.New("dp: watchdog expired, slave left Data_Exchange")
	ErrUnexpectedFC = errors.New("dp: unexpected response function code")
	ErrBadDiagLen   = errors.New("dp: diagnosis response too short")
	ErrNotReachable = errors.New("dp: sync/freeze mode requested but slave outside any Global_Control group")
)
