package dp

import (
	"errors"
	"time"

	"github.com/mbuesch/godp/fdl"
	"github.com/sirupsen/logrus"
)

// DefaultRetries is the number of FDL request retransmissions before
// a slave's current operation is considered failed.
const DefaultRetries = 1

// DefaultFaultCooldown is how long a slave waits in FAULT before
// re-entering INIT.
const DefaultFaultCooldown = 1 * time.Second

// maxFaultsInARow is the consecutive-fault count at which a slave's
// faults may be promoted to fatal if the application opts in.
const maxFaultsInARow = 3

// Machine drives one slave through its bring-up and data-exchange
// state table. Each call to Step issues at most one FDL request and
// blocks until it completes or times out: request, await, transition.
type Machine struct {
	Desc   *SlaveDesc
	Rt     *SlaveRuntime
	Master byte

	station       *fdl.Station
	retries       int
	faultCooldown time.Duration
	log           *logrus.Logger

	fatal bool // set once faultsRow reaches maxFaultsInARow, if caller opted in
	optInFatal bool
}

// NewMachine returns a Machine for desc, backed by station, issuing
// requests as master.
func NewMachine(master byte, desc *SlaveDesc, station *fdl.Station, log *logrus.Logger) *Machine {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Machine{
		Desc:          desc,
		Rt:            newSlaveRuntime(desc.InputSize, desc.OutputSize),
		Master:        master,
		station:       station,
		retries:       DefaultRetries,
		faultCooldown: DefaultFaultCooldown,
		log:           log,
	}
}

// OptInFatal enables promotion of three consecutive hard faults to a
// fatal condition.
func (m *Machine) OptInFatal() { m.optInFatal = true }

// SetRetries overrides the number of FDL retransmissions attempted
// before a request is considered failed.
func (m *Machine) SetRetries(n int) { m.retries = n }

// SetFaultCooldown overrides how long the slave waits in FAULT before
// re-entering INIT.
func (m *Machine) SetFaultCooldown(d time.Duration) { m.faultCooldown = d }

// Fatal reports whether this slave has been promoted to a fatal
// condition.
func (m *Machine) Fatal() bool { return m.fatal }

// Step advances the slave's state machine by issuing at most one FDL
// request appropriate to its current state (none in OFFLINE or FAULT)
// and blocking until that request completes. It returns advanced == true when the state
// changed.
func (m *Machine) Step() (advanced bool, err error) {
	before := m.Rt.State()
	switch before {
	case Offline:
		m.Rt.setState(Init)
		return true, nil
	case Init:
		return m.stepInit()
	case WaitDiag:
		return m.stepWaitDiag()
	case WaitPrm:
		return m.stepWaitPrm()
	case WaitCfg:
		return m.stepWaitCfg()
	case WaitDiag2:
		return m.stepWaitDiag2()
	case DataEx:
		return m.stepDataEx()
	case DiagEx:
		return m.stepDiagEx(DataEx)
	case Fault:
		return m.stepFault()
	default:
		return false, &Error{Addr: m.Desc.Addr, Op: "step", Err: errors.New("dp: unknown state")}
	}
}

func (m *Machine) stepInit() (bool, error) {
	res := m.station.SubmitRequest(fdlStatusReq(m.Master, m.Desc.Addr), true, m.retries)
	if res.Err != nil {
		return m.fault("init", res.Err)
	}
	m.Rt.incCounter(CntFrames)
	m.Rt.setState(WaitDiag)
	return true, nil
}

func (m *Machine) stepWaitDiag() (bool, error) {
	diag, err := m.requestDiag()
	if err != nil {
		return m.fault("wait_diag", err)
	}
	if diag.StationNonExistent {
		return m.fault("wait_diag", ErrStationGone)
	}
	if diag.NeedsReparam() {
		m.Rt.setState(WaitPrm)
		return true, nil
	}
	// Diagnosis already clean: skip straight to confirming config.
	m.Rt.setState(WaitDiag2)
	return true, nil
}

func (m *Machine) stepWaitPrm() (bool, error) {
	res := m.station.SubmitRequest(setPrmReq(m.Master, m.Desc), true, m.retries)
	if res.Err != nil {
		return m.fault("wait_prm", res.Err)
	}
	if !isAckOK(res.Response) {
		return m.fault("wait_prm", ErrPrmRejected)
	}
	m.Rt.incCounter(CntFrames)
	m.Rt.setState(WaitCfg)
	return true, nil
}

func (m *Machine) stepWaitCfg() (bool, error) {
	res := m.station.SubmitRequest(chkCfgReq(m.Master, m.Desc), true, m.retries)
	if res.Err != nil {
		return m.fault("wait_cfg", res.Err)
	}
	if !isAckOK(res.Response) {
		return m.fault("wait_cfg", ErrCfgRejected)
	}
	m.Rt.incCounter(CntFrames)
	m.Rt.setState(WaitDiag2)
	return true, nil
}

func (m *Machine) stepWaitDiag2() (bool, error) {
	diag, err := m.requestDiag()
	if err != nil {
		return m.fault("wait_diag2", err)
	}
	if diag.CfgFault {
		return m.fault("wait_diag2", ErrCfgFault)
	}
	if diag.PrmFault {
		return m.fault("wait_diag2", ErrPrmFault)
	}
	if !diag.Ready() {
		// Not yet ready; stay in WAIT_DIAG2, caller will Step again.
		return false, nil
	}
	m.Rt.setState(DataEx)
	return true, nil
}

func (m *Machine) stepDataEx() (bool, error) {
	out := m.Rt.snapshotOutput()
	res := m.station.SubmitRequest(dataExchangeReq(m.Master, m.Desc.Addr, out), true, m.retries)
	if res.Err != nil {
		if errors.Is(res.Err, fdl.ErrNoResource) {
			return m.watchdogTrip(res.Err)
		}
		return m.fault("data_ex", res.Err)
	}
	t := res.Response
	if t == nil || (t.FC != fdl.FcDataLow && t.FC != fdl.FcDataHigh &&
		t.FC != fdl.FcDataLowHi && t.FC != fdl.FcDataHighHi) {
		return m.fault("data_ex", ErrUnexpectedFC)
	}
	m.Rt.latchInput(t.DU)
	m.Rt.incCounter(CntDataExRounds)
	m.Rt.faultsRow = 0
	m.Rt.dataExRnd++

	if t.FC.HighPriority() {
		m.Rt.setState(DiagEx)
		return true, nil
	}
	if m.Desc.DiagPeriod > 0 && m.Rt.dataExRnd%m.Desc.DiagPeriod == 0 {
		m.Rt.setState(DiagEx)
		return true, nil
	}
	return false, nil
}

// stepDiagEx issues a diagnosis read and returns to resumeTo once
// done.
func (m *Machine) stepDiagEx(resumeTo State) (bool, error) {
	diag, err := m.requestDiag()
	if err != nil {
		return m.fault("diag_ex", err)
	}
	if diag.CfgFault {
		return m.fault("diag_ex", ErrCfgFault)
	}
	m.Rt.incCounter(CntDiagCycles)
	m.Rt.setState(resumeTo)
	return true, nil
}

func (m *Machine) stepFault() (bool, error) {
	m.Rt.mu.Lock()
	until := m.Rt.faultUntil
	m.Rt.mu.Unlock()
	if time.Now().Before(until) {
		return false, nil
	}
	m.Rt.setState(Init)
	return true, nil
}

func (m *Machine) requestDiag() (Diag, error) {
	res := m.station.SubmitRequest(slaveDiagReq(m.Master, m.Desc.Addr), true, m.retries)
	if res.Err != nil {
		return Diag{}, res.Err
	}
	m.Rt.incCounter(CntFrames)
	diag, err := ParseDiag(res.Response.DU)
	if err != nil {
		return Diag{}, err
	}
	m.Rt.setDiag(diag)
	return diag, nil
}

func isAckOK(t *fdl.Telegram) bool {
	return t != nil && (t.SD == fdl.SC || t.FC == fdl.FcAckOK)
}

// watchdogTrip handles a NO_RESOURCE response to a Data_Exchange
// request: the slave's own watchdog has expired and it has dropped
// its parameters, so the master must reparameterize it from
// WAIT_DIAG rather than treating this as a generic fault. Unlike
// fault, this does not touch faultsRow/faultUntil: the slave is still
// reachable, just unparameterized.
func (m *Machine) watchdogTrip(cause error) (bool, error) {
	m.Rt.setState(WaitDiag)
	m.log.WithFields(logrus.Fields{
		"addr": m.Desc.Addr, "err": cause,
	}).Warn("dp: slave watchdog tripped, reparameterizing")
	return true, &Error{Addr: m.Desc.Addr, Op: "data_ex", Err: ErrWatchdog}
}

// fault transitions the slave to FAULT, bumping the debounce counter
// and, if the application opted in and three consecutive hard faults
// have occurred, setting Fatal.
func (m *Machine) fault(op string, cause error) (bool, error) {
	m.Rt.mu.Lock()
	m.Rt.faultsRow++
	row := m.Rt.faultsRow
	m.Rt.faultUntil = time.Now().Add(m.faultCooldown)
	m.Rt.mu.Unlock()

	m.Rt.setState(Fault)
	m.Rt.incCounter(CntFaults)
	if errors.Is(cause, fdl.ErrTimeout) {
		m.Rt.incCounter(CntTimeouts)
	}

	if m.optInFatal && row >= maxFaultsInARow {
		m.fatal = true
	}

	m.log.WithFields(logrus.Fields{
		"addr": m.Desc.Addr, "op": op, "err": cause, "faultsRow": row,
	}).Warn("dp: slave fault")

	return true, &Error{Addr: m.Desc.Addr, Op: op, Err: cause}
}
