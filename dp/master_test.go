package dp

import (
	"sync"
	"testing"
	"time"

	"github.com/mbuesch/godp/fdl"
	"github.com/mbuesch/godp/phy"
)

// testProfile returns a Profile with a generous Tslot so test timing
// does not depend on real bus baud rates.
func testProfile() fdl.Profile {
	return fdl.Profile{
		Baud:     500000,
		BitTime:  2 * time.Microsecond,
		Tsyn:     66 * time.Microsecond,
		Tslot:    50 * time.Millisecond,
		TsdrMin:  22 * time.Microsecond,
		TsdrMax:  50 * time.Millisecond,
		Tqui:     4 * time.Microsecond,
		FrameTmo: 50*time.Millisecond + 4*time.Microsecond,
	}
}

// decodeOne decodes exactly one complete telegram out of a fully
// assembled wire frame, for use by test responders that need to
// inspect what the master sent.
func decodeOne(b []byte) (*fdl.Telegram, bool) {
	dec := fdl.NewDecoder(time.Second)
	now := time.Now()
	var got *fdl.Telegram
	for _, c := range b {
		ev := dec.Feed(c, now)
		if ev.Kind == fdl.Fault {
			return nil, false
		}
		if ev.Kind == fdl.Got {
			got = ev.T
		}
	}
	if got == nil {
		return nil, false
	}
	return got, true
}

func encodeOrNil(t *fdl.Telegram) []byte {
	w, err := fdl.Encode(t)
	if err != nil {
		return nil
	}
	return w
}

// scriptedSlave is a bring-up-aware responder shared by the master
// tests: it answers FDL_Status, Slave_Diagnosis, SetPrm, ChkCfg and
// Data_Exchange the way a real slave would, with knobs test cases use
// to force specific transitions (needing reparam, high-priority
// diagnosis pending).
type scriptedSlave struct {
	mu sync.Mutex

	prmSet, cfgSet   bool
	highPriorityOnce bool
	lastOutput       []byte
	dataExRounds     int
	noResourceLeft   int // when > 0, answer Data_Exchange with NO_RESOURCE and decrement
}

func (s *scriptedSlave) diagDU() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	var b1 byte
	if !s.prmSet {
		b1 |= 0x01 // Prm_Req
	}
	return []byte{0x00, b1, 0x00, 0x01, 0x00, 0x00}
}

func (s *scriptedSlave) respond(req []byte) ([]byte, bool) {
	t, ok := decodeOne(req)
	if !ok {
		return nil, false
	}
	switch {
	case t.SD == fdl.SD1 && t.FC == fdl.FcFdlStat:
		return encodeOrNil(&fdl.Telegram{SD: fdl.SC}), true
	case t.Ext && t.DSAP == fdl.SapSlaveDiag:
		du := s.diagDU()
		return encodeOrNil(&fdl.Telegram{SD: fdl.SD2, DA: t.SA, SA: t.DA, FC: fdl.FcDataLow, DU: du}), true
	case t.Ext && t.DSAP == fdl.SapSetPrm:
		s.mu.Lock()
		s.prmSet = true
		s.mu.Unlock()
		return encodeOrNil(&fdl.Telegram{SD: fdl.SC}), true
	case t.Ext && t.DSAP == fdl.SapChkCfg:
		s.mu.Lock()
		s.cfgSet = true
		s.mu.Unlock()
		return encodeOrNil(&fdl.Telegram{SD: fdl.SC}), true
	case !t.Ext && t.DSAP == -1 && t.SD == fdl.SD2:
		s.mu.Lock()
		if s.noResourceLeft > 0 {
			s.noResourceLeft--
			s.mu.Unlock()
			return encodeOrNil(&fdl.Telegram{SD: fdl.SD1, DA: t.SA, SA: t.DA, FC: fdl.FcNoResource, DSAP: -1, SSAP: -1}), true
		}
		s.lastOutput = append([]byte(nil), t.DU...)
		s.dataExRounds++
		fc := fdl.FcDataLow
		if s.highPriorityOnce {
			fc = fdl.FcDataLowHi
			s.highPriorityOnce = false
		}
		s.mu.Unlock()
		return encodeOrNil(&fdl.Telegram{SD: fdl.SD2, DA: t.SA, SA: t.DA, FC: fc, DU: []byte{0xAA}}), true
	default:
		return nil, false
	}
}

func newTestSlaveDesc(addr byte) *SlaveDesc {
	return &SlaveDesc{
		Addr:        addr,
		IdentNumber: 0x1234,
		CfgData:     []byte{0x40, 0x40}, // two bytes of generic I/O, arbitrary for this test
		InputSize:   1,
		OutputSize:  1,
		WatchdogMs:  0,
	}
}

func tickUntil(t *testing.T, m *Master, cond func() bool, maxTicks int) {
	t.Helper()
	for i := 0; i < maxTicks; i++ {
		if cond() {
			return
		}
		if err := m.Tick(); err != nil {
			t.Logf("tick %d: %v", i, err)
		}
		time.Sleep(1 * time.Millisecond)
	}
	if !cond() {
		t.Fatalf("condition not met within %d ticks", maxTicks)
	}
}

// TestMasterBringsSlaveUpToDataExchange exercises a freshly
// registered slave through the full bring-up sequence, reaching
// DATA_EX within 20 ticks.
func TestMasterBringsSlaveUpToDataExchange(t *testing.T) {
	script := &scriptedSlave{}
	ds := phy.NewDummySlave(1*time.Millisecond, script.respond)
	if err := ds.Open(phy.Config{Baud: 500000, Data: 8, Stop: 1}); err != nil {
		t.Fatalf("open: %v", err)
	}

	m := NewMaster(2, ds, testProfile(), nil)
	if _, err := m.Register(newTestSlaveDesc(8)); err != nil {
		t.Fatalf("register: %v", err)
	}

	tickUntil(t, m, func() bool {
		mach, _ := m.Slave(8)
		return mach.Rt.State() == DataEx
	}, 20)

	mach, _ := m.Slave(8)
	if !script.prmSet || !script.cfgSet {
		t.Fatalf("expected SetPrm and ChkCfg to have been issued, got prmSet=%v cfgSet=%v", script.prmSet, script.cfgSet)
	}
	if mach.Rt.State() != DataEx {
		t.Fatalf("expected DATA_EX, got %s", mach.Rt.State())
	}
}

// TestMasterRecoversAfterWatchdogTimeout exercises a slave whose
// watchdog has tripped: it answers the next
// Data_Exchange with NO_RESOURCE. The master must detect that and
// return the slave directly to WAIT_DIAG to reparameterize it,
// distinct from the generic silent-timeout path to FAULT, then
// recover it to DATA_EX again.
func TestMasterRecoversAfterWatchdogTimeout(t *testing.T) {
	script := &scriptedSlave{}
	ds := phy.NewDummySlave(1*time.Millisecond, script.respond)
	if err := ds.Open(phy.Config{Baud: 500000, Data: 8, Stop: 1}); err != nil {
		t.Fatalf("open: %v", err)
	}

	m := NewMaster(2, ds, testProfile(), nil)
	if _, err := m.Register(newTestSlaveDesc(8)); err != nil {
		t.Fatalf("register: %v", err)
	}
	mach, err := m.Slave(8)
	if err != nil {
		t.Fatalf("slave lookup: %v", err)
	}
	mach.SetFaultCooldown(5 * time.Millisecond)

	tickUntil(t, m, func() bool { return mach.Rt.State() == DataEx }, 20)

	script.mu.Lock()
	script.noResourceLeft = mach.retries + 1
	script.mu.Unlock()

	tickUntil(t, m, func() bool { return mach.Rt.State() == WaitDiag }, 10)
	if mach.Rt.State() == Fault {
		t.Fatalf("watchdog trip must route through WaitDiag, not Fault")
	}

	tickUntil(t, m, func() bool { return mach.Rt.State() == DataEx }, 50)
}

// TestMasterShutdownSetsAllSlavesOffline checks Shutdown's teardown
// ordering: every registered slave must read OFFLINE before the
// underlying PHY is closed.
func TestMasterShutdownSetsAllSlavesOffline(t *testing.T) {
	script := &scriptedSlave{}
	ds := phy.NewDummySlave(1*time.Millisecond, script.respond)
	if err := ds.Open(phy.Config{Baud: 500000, Data: 8, Stop: 1}); err != nil {
		t.Fatalf("open: %v", err)
	}

	m := NewMaster(2, ds, testProfile(), nil)
	if _, err := m.Register(newTestSlaveDesc(8)); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := m.Register(newTestSlaveDesc(9)); err != nil {
		t.Fatalf("register: %v", err)
	}

	tickUntil(t, m, func() bool {
		a, _ := m.Slave(8)
		b, _ := m.Slave(9)
		return a.Rt.State() == DataEx && b.Rt.State() == DataEx
	}, 40)

	if err := m.Shutdown(); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	for _, addr := range []byte{8, 9} {
		mach, err := m.Slave(addr)
		if err != nil {
			t.Fatalf("slave lookup: %v", err)
		}
		if mach.Rt.State() != Offline {
			t.Errorf("slave %d: got state %s, want Offline", addr, mach.Rt.State())
		}
	}
}

// TestMasterInsertsDiagOnHighPriorityAck checks that when a
// Data_Exchange response carries the high-priority ack bit, the
// master issues Slave_Diagnosis before the next Data_Exchange round.
func TestMasterInsertsDiagOnHighPriorityAck(t *testing.T) {
	script := &scriptedSlave{}
	ds := phy.NewDummySlave(1*time.Millisecond, script.respond)
	if err := ds.Open(phy.Config{Baud: 500000, Data: 8, Stop: 1}); err != nil {
		t.Fatalf("open: %v", err)
	}

	m := NewMaster(2, ds, testProfile(), nil)
	if _, err := m.Register(newTestSlaveDesc(8)); err != nil {
		t.Fatalf("register: %v", err)
	}
	mach, err := m.Slave(8)
	if err != nil {
		t.Fatalf("slave lookup: %v", err)
	}

	tickUntil(t, m, func() bool { return mach.Rt.State() == DataEx }, 20)

	script.mu.Lock()
	script.highPriorityOnce = true
	script.mu.Unlock()

	tickUntil(t, m, func() bool { return mach.Rt.State() == DiagEx }, 5)
	tickUntil(t, m, func() bool { return mach.Rt.State() == DataEx }, 5)

	if mach.Rt.Counter(CntDiagCycles) == 0 {
		t.Fatalf("expected at least one diagnosis cycle to have been counted")
	}
}
