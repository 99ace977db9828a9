package phy

import (
	"sync"
	"time"
)

// Responder computes the response telegram bytes for one received
// request telegram. It returns ok == false to simulate a silent
// (non-responding) slave for that request.
//
// DummySlave relies on the FDL station always calling Send exactly
// once per complete, already-encoded telegram (true of fdl.Station),
// so a Responder never needs to do its own byte-level reassembly.
type Responder func(req []byte) (res []byte, ok bool)

// DummySlave is a loopback PHY that plays a scripted slave: it hands
// every transmitted telegram to a Responder and, if the Responder
// produces a reply, delivers it back as RX after delay. It is the
// PHY.type=dummy_slave driver used to bring a dp.Master up to
// DATA_EX in tests without real hardware. It shares Loopback's
// timestamped half-duplex timing model but calls out to a pluggable
// response function instead of echoing the sent bytes back.
type DummySlave struct {
	cfg   Config
	delay time.Duration
	idle  idleTracker

	mu        sync.Mutex
	rxQueue   []Rx
	closed    bool
	respond   Responder
	suspended bool // simulates the slave going silent (see Suspend)
}

// NewDummySlave returns a DummySlave PHY that answers requests with r
// after the given response delay.
func NewDummySlave(delay time.Duration, r Responder) *DummySlave {
	return &DummySlave{delay: delay, respond: r}
}

// SetResponder replaces the scripted responder at runtime.
func (d *DummySlave) SetResponder(r Responder) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.respond = r
}

// Suspend stops the slave from answering any request, without
// changing the script, so tests can simulate a dropped device
// (watchdog expiry, line fault) and later Resume it.
func (d *DummySlave) Suspend() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.suspended = true
}

func (d *DummySlave) Resume() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.suspended = false
}

func (d *DummySlave) Open(cfg Config) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cfg = cfg
	d.closed = false
	d.idle.markEdge(time.Now())
	return nil
}

func (d *DummySlave) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *DummySlave) BitTime() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return BitTime(d.cfg.Baud)
}

func (d *DummySlave) IdleSince() time.Duration { return d.idle.since() }

func (d *DummySlave) FlushRx() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rxQueue = nil
}

func (d *DummySlave) SetTxEnable(bool) error { return nil }

func (d *DummySlave) Poll() []Rx {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.rxQueue
	d.rxQueue = nil
	return out
}

func (d *DummySlave) Send(b []byte) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	bitTime := BitTime(d.cfg.Baud)
	respond := d.respond
	suspended := d.suspended
	d.mu.Unlock()

	d.idle.waitIdle(Tsyn(bitTime))

	txTime := bitTime * 10 * time.Duration(len(b))
	time.Sleep(txTime)
	now := time.Now()
	d.idle.markEdge(now)

	if suspended || respond == nil {
		return nil
	}
	req := append([]byte(nil), b...)
	go d.reply(req)
	return nil
}

func (d *DummySlave) reply(req []byte) {
	d.mu.Lock()
	respond := d.respond
	d.mu.Unlock()
	if respond == nil {
		return
	}
	res, ok := respond(req)
	if !ok || len(res) == 0 {
		return
	}
	time.Sleep(d.delay)
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || d.suspended {
		return
	}
	now := time.Now()
	for _, c := range res {
		d.rxQueue = append(d.rxQueue, Rx{Byte: c, At: now})
	}
	d.idle.markEdge(now)
}
