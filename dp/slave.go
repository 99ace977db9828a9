package dp

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// SlaveDesc is the immutable per-slave configuration owned by the DP
// master for the slave's lifetime. It is built by the caller or by
// config.Config.Build from the per-slave keys in config.SlaveConfig
// and never mutated after registration; all mutable
// per-slave state lives in SlaveRuntime instead, keeping construction
// parameters and running state in separate types.
type SlaveDesc struct {
	Addr        byte
	IdentNumber uint16
	UserPrmData []byte // <= 237 bytes
	CfgData     []byte // <= 244 bytes

	InputSize  int
	OutputSize int

	WatchdogMs int // 0 disables
	GroupMask  byte

	SyncCapable   bool
	FreezeCapable bool
	SyncMode      bool
	FreezeMode    bool

	DiagPeriod int // insert a DIAG_EX cycle every N DATA_EX rounds; 0 = only on high-priority flag

	Name string

	InputSignals  []Signal
	OutputSignals []Signal
}

// Validate checks internal consistency of the descriptor and returns
// a configuration fault as a *Error. dp does not import config to
// avoid a cycle; Master.Register calls Validate and returns this error
// unchanged.
func (d *SlaveDesc) Validate() error {
	if len(d.UserPrmData) > 237 {
		return &Error{Addr: d.Addr, Op: "validate", Err: errTooLong("UserPrmData", 237)}
	}
	if len(d.CfgData) > 244 {
		return &Error{Addr: d.Addr, Op: "validate", Err: errTooLong("CfgData", 244)}
	}
	if d.Addr > 125 {
		return &Error{Addr: d.Addr, Op: "validate", Err: errBadAddr}
	}
	if (d.SyncMode && !d.SyncCapable) || (d.FreezeMode && !d.FreezeCapable) {
		return &Error{Addr: d.Addr, Op: "validate", Err: errUnsupportedMode}
	}
	if (d.SyncMode || d.FreezeMode) && d.GroupMask == 0 {
		return &Error{Addr: d.Addr, Op: "validate", Err: ErrNotReachable}
	}
	for _, s := range d.InputSignals {
		if s.Offset+s.Size() > d.InputSize {
			return &Error{Addr: d.Addr, Op: "validate", Err: errSignalOOB}
		}
	}
	for _, s := range d.OutputSignals {
		if s.Offset+s.Size() > d.OutputSize {
			return &Error{Addr: d.Addr, Op: "validate", Err: errSignalOOB}
		}
	}
	return nil
}

// Counter enumerates the per-slave fault/diagnosis counters a caller
// can inspect without racing the scheduler goroutine.
type Counter int

const (
	CntFrames Counter = iota
	CntRetries
	CntTimeouts
	CntFaults
	CntDiagCycles
	CntDataExRounds

	cntNum = iota
)

// SlaveRuntime is the mutable per-slave state created when a slave is
// registered and destroyed on master teardown. Output bytes are
// written by the application and snapshotted by the scheduler at TX
// time; input bytes are latched atomically on RX so readers never
// observe a torn frame mid-update.
type SlaveRuntime struct {
	mu sync.Mutex

	state     State
	lastDiag  Diag
	haveDiag  bool
	fcb       bool
	faultsRow int
	diagCount int
	dataExRnd int

	output []byte
	input  []byte

	stateChangedAt time.Time
	faultUntil     time.Time

	counts [cntNum]uint64
}

func newSlaveRuntime(inSize, outSize int) *SlaveRuntime {
	return &SlaveRuntime{
		state:  Offline,
		output: make([]byte, outSize),
		input:  make([]byte, inSize),
	}
}

// State returns the slave's current DP state.
func (r *SlaveRuntime) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// SetOutput copies b into the slave's pending output buffer. Safe to
// call from the application while the scheduler is running: the next
// Data_Exchange transmission snapshots whatever is present at TX
// time.
func (r *SlaveRuntime) SetOutput(b []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	copy(r.output, b)
}

// Input returns a copy of the most recently latched input bytes.
func (r *SlaveRuntime) Input() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]byte, len(r.input))
	copy(out, r.input)
	return out
}

// Diag returns the most recently received diagnosis block and
// whether one has ever been received.
func (r *SlaveRuntime) Diag() (Diag, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastDiag, r.haveDiag
}

// Counter returns one fault/diagnosis counter's current value.
func (r *SlaveRuntime) Counter(c Counter) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[c]
}

// Counters returns a snapshot of all fault/diagnosis counters.
func (r *SlaveRuntime) Counters() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]uint64, len(r.counts))
	copy(out, r.counts[:])
	return out
}

// incCounter bumps one fault/diagnosis counter.
func (r *SlaveRuntime) incCounter(c Counter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts[c]++
}

func (r *SlaveRuntime) snapshotOutput() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]byte, len(r.output))
	copy(out, r.output)
	return out
}

func (r *SlaveRuntime) latchInput(b []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	copy(r.input, b)
}

// setState records a state transition. It does not touch faultsRow:
// that counter tracks consecutive bring-up attempts ending in FAULT
// and is only cleared on a completed Data_Exchange round (see
// Machine.stepDataEx), not by the FAULT->INIT retry edge itself.
func (r *SlaveRuntime) setState(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = s
	r.stateChangedAt = time.Now()
}

func (r *SlaveRuntime) setDiag(d Diag) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastDiag = d
	r.haveDiag = true
}

func errTooLong(field string, max int) error {
	return fmt.Errorf("%s exceeds maximum length %d", field, max)
}

var (
	errBadAddr         = errors.New("station address out of range 0..125")
	errUnsupportedMode = errors.New("sync_mode or freeze_mode requested without slave support")
	errSignalOOB       = errors.New("signal offset exceeds configured buffer size")
)
