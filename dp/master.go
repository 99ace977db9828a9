package dp

import (
	"errors"
	"sync"
	"time"

	"github.com/mbuesch/godp/fdl"
	"github.com/mbuesch/godp/phy"
	"github.com/sirupsen/logrus"
)

// ErrUnknownSlave is returned by Master lookups for an address that
// was never registered.
var ErrUnknownSlave = errors.New("dp: no slave registered at that address")

// ErrAlreadyRegistered is returned by Register for an address that is
// already present.
var ErrAlreadyRegistered = errors.New("dp: a slave is already registered at that address")

// ErrMasterClosed is returned by GlobalControl and RunUntilConnected
// after Shutdown. Tick and TryTick are no-ops returning nil then.
var ErrMasterClosed = errors.New("dp: master shut down")

// SlaveHandle is an opaque arena index for a registered slave: an
// integer id, never a pointer back to the master. It stays valid for
// the lifetime of the Master that issued it.
type SlaveHandle int

// Master is a class-1 DP master: it owns one FDL station and round-
// robins Step calls across every registered slave.
//
// Slaves are kept in an arena: a slice in registration order, indexed
// by position rather than address, with no back-pointers from
// SlaveRuntime into Master. Lookup by address goes through an index
// map maintained alongside the slice.
type Master struct {
	Own     byte
	Station *fdl.Station
	Log     *logrus.Logger

	mu       sync.Mutex
	machines []*Machine
	byAddr   map[byte]int
	cursor   int
	closed   bool
}

// NewMaster returns a Master addressed as own, communicating over
// phyDrv at the given Profile.
func NewMaster(own byte, phyDrv phy.Driver, profile fdl.Profile, log *logrus.Logger) *Master {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Master{
		Own:     own,
		Station: fdl.NewStation(own, phyDrv, profile, log),
		Log:     log,
		byAddr:  make(map[byte]int),
	}
}

// Register validates desc and adds it to the arena in OFFLINE state,
// returning the SlaveHandle later calls use to address it. It does
// not communicate; the slave starts its bring-up sequence on the next
// Tick.
func (m *Master) Register(desc *SlaveDesc) (SlaveHandle, error) {
	if err := desc.Validate(); err != nil {
		return -1, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byAddr[desc.Addr]; exists {
		return -1, &Error{Addr: desc.Addr, Op: "register", Err: ErrAlreadyRegistered}
	}
	mach := NewMachine(m.Own, desc, m.Station, m.Log)
	h := SlaveHandle(len(m.machines))
	m.byAddr[desc.Addr] = int(h)
	m.machines = append(m.machines, mach)
	return h, nil
}

// Slave returns the Machine registered at addr.
func (m *Master) Slave(addr byte) (*Machine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.byAddr[addr]
	if !ok {
		return nil, ErrUnknownSlave
	}
	return m.machines[i], nil
}

// SlaveByHandle returns the Machine at h, the arena index Register
// returned for it.
func (m *Master) SlaveByHandle(h SlaveHandle) (*Machine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h < 0 || int(h) >= len(m.machines) {
		return nil, ErrUnknownSlave
	}
	return m.machines[h], nil
}

// Slaves returns every registered Machine in registration order. The
// returned slice is a fresh copy; callers must not mutate it to
// reorder the arena.
func (m *Master) Slaves() []*Machine {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Machine, len(m.machines))
	copy(out, m.machines)
	return out
}

// IsConnecting reports whether any registered slave is between INIT
// and WAIT_DIAG2 inclusive.
func (m *Master) IsConnecting() bool {
	for _, mach := range m.Slaves() {
		if mach.Rt.State().IsConnecting() {
			return true
		}
	}
	return false
}

// IsConnected reports whether every registered slave has reached
// DATA_EX or DIAG_EX.
func (m *Master) IsConnected() bool {
	slaves := m.Slaves()
	if len(slaves) == 0 {
		return false
	}
	for _, mach := range slaves {
		if !mach.Rt.State().IsConnected() {
			return false
		}
	}
	return true
}

// TryTick advances exactly one slave's state machine by one Step and
// returns immediately with ok == false if no slave is registered or
// the master is closed. It never blocks beyond the single Step's own
// Tslot-bounded wait.
func (m *Master) TryTick() (ok bool, err error) {
	mach, ok := m.nextMachine()
	if !ok {
		return false, nil
	}
	_, err = mach.Step()
	return true, err
}

// Tick is TryTick without the ok return: it is a no-op returning nil
// when no slave is registered.
func (m *Master) Tick() error {
	_, err := m.TryTick()
	return err
}

// RunUntilConnected calls Tick in a loop, sleeping interval between
// calls, until every registered slave reaches DATA_EX/DIAG_EX,
// deadline passes, or the master is shut down (ErrMasterClosed).
// This is the blocking convenience variant of the per-slave Tick
// loop; callers needing finer control should drive Tick/TryTick
// themselves.
func (m *Master) RunUntilConnected(deadline time.Time, interval time.Duration) error {
	for {
		m.mu.Lock()
		closed := m.closed
		m.mu.Unlock()
		if closed {
			return ErrMasterClosed
		}
		if m.IsConnected() {
			return nil
		}
		if time.Now().After(deadline) {
			return &Error{Op: "run_until_connected", Err: errors.New("dp: deadline exceeded before all slaves reached Data_Exchange")}
		}
		if err := m.Tick(); err != nil && errors.Is(err, ErrMasterClosed) {
			return err
		}
		time.Sleep(interval)
	}
}

// nextMachine returns the next machine in round-robin order and
// advances the cursor.
func (m *Master) nextMachine() (*Machine, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || len(m.machines) == 0 {
		return nil, false
	}
	mach := m.machines[m.cursor%len(m.machines)]
	m.cursor++
	return mach, true
}

// GlobalControl broadcasts a Global_Control telegram to every slave
// in groupMask using control's Gc* bits. The request carries no
// acknowledgment; success only means the frame was transmitted.
func (m *Master) GlobalControl(groupMask byte, control byte) error {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return ErrMasterClosed
	}
	res := m.Station.SubmitRequest(globalControlReq(m.Own, groupMask, control), false, 0)
	return res.Err
}

// Shutdown gracefully tears the master down: it lets any in-flight
// Tslot wait finish (Tick/TryTick simply return after their current
// Step), marks the master closed so further ticks are no-ops, drives
// every registered slave to OFFLINE, and closes the underlying FDL
// station and PHY driver last.
func (m *Master) Shutdown() error {
	m.mu.Lock()
	m.closed = true
	for _, mach := range m.machines {
		mach.Rt.setState(Offline)
	}
	m.mu.Unlock()

	m.Station.Close()
	return m.Station.PHY.Close()
}
