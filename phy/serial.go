package phy

import (
	"bufio"
	"io"
	"sync"
	"time"

	serialport "github.com/tarm/serial"
)

// Serial is the production PHY driver: a real RS-485/RS-232 UART
// opened through github.com/tarm/serial. It layers Tsyn idle
// tracking and bit-time-resolution RX timestamping on top of the
// plain byte stream the underlying library provides.
type Serial struct {
	dev string
	cfg Config

	mu     sync.Mutex
	port   io.ReadWriteCloser
	idle   idleTracker
	closed bool

	rxMu    sync.Mutex
	rxQueue []Rx
	stopRx  chan struct{}

	txEnable func(bool) error
}

// NewSerial returns a Serial PHY for the device at path dev (e.g.
// "/dev/ttyS0"). SetTXEnableFunc may be called afterwards to wire an
// RS-485 direction-control hook.
func NewSerial(dev string) *Serial {
	return &Serial{dev: dev}
}

// SetTXEnableFunc installs the hook used by SetTxEnable to drive an
// RS-485 transceiver's direction-control line (e.g. through a GPIO
// library). If unset, SetTxEnable is a no-op.
func (s *Serial) SetTXEnableFunc(f func(bool) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txEnable = f
}

func (s *Serial) Open(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	parity := serialport.ParityEven
	switch cfg.Parity {
	case ParityOdd:
		parity = serialport.ParityOdd
	case ParityNone:
		parity = serialport.ParityNone
	}
	stop := serialport.Stop1
	if cfg.Stop == 2 {
		stop = serialport.Stop2
	}
	sc := &serialport.Config{
		Name:        s.dev,
		Baud:        cfg.Baud,
		Size:        byte(cfg.Data),
		Parity:      parity,
		StopBits:    stop,
		ReadTimeout: 5 * time.Millisecond,
	}
	p, err := serialport.OpenPort(sc)
	if err != nil {
		return &Error{Op: "open", Err: err}
	}
	s.port = p
	s.cfg = cfg
	s.closed = false
	s.idle.markEdge(time.Now())

	s.stopRx = make(chan struct{})
	go s.rxLoop(s.stopRx)
	return nil
}

func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.stopRx != nil {
		close(s.stopRx)
	}
	if s.port != nil {
		return s.port.Close()
	}
	return nil
}

func (s *Serial) BitTime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return BitTime(s.cfg.Baud)
}

func (s *Serial) IdleSince() time.Duration { return s.idle.since() }

func (s *Serial) FlushRx() {
	s.rxMu.Lock()
	defer s.rxMu.Unlock()
	s.rxQueue = nil
}

func (s *Serial) SetTxEnable(on bool) error {
	s.mu.Lock()
	f := s.txEnable
	s.mu.Unlock()
	if f == nil {
		return nil
	}
	return f(on)
}

func (s *Serial) Poll() []Rx {
	s.rxMu.Lock()
	defer s.rxMu.Unlock()
	out := s.rxQueue
	s.rxQueue = nil
	return out
}

func (s *Serial) Send(b []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	port := s.port
	bitTime := BitTime(s.cfg.Baud)
	s.mu.Unlock()

	s.idle.waitIdle(Tsyn(bitTime))

	if err := s.SetTxEnable(true); err != nil {
		return &Error{Op: "tx-enable", Err: err}
	}
	_, err := port.Write(b)
	s.idle.markEdge(time.Now())
	if errOff := s.SetTxEnable(false); errOff != nil && err == nil {
		err = errOff
	}
	if err != nil {
		return &Error{Op: "send", Err: err}
	}
	return nil
}

// rxLoop polls the underlying blocking port in a tight loop and
// timestamps every byte as it is observed. tarm/serial's ReadTimeout
// bounds each Read so the loop remains responsive to Close.
func (s *Serial) rxLoop(stop chan struct{}) {
	s.mu.Lock()
	port := s.port
	s.mu.Unlock()
	br := bufio.NewReaderSize(port, 1)
	buf := make([]byte, 1)
	for {
		select {
		case <-stop:
			return
		default:
		}
		n, err := br.Read(buf)
		if n > 0 {
			now := time.Now()
			s.idle.markEdge(now)
			s.rxMu.Lock()
			s.rxQueue = append(s.rxQueue, Rx{Byte: buf[0], At: now})
			s.rxMu.Unlock()
		}
		if err != nil {
			// Parity/framing errors surface as read errors from
			// the underlying driver and are dropped: the byte (if
			// any) was already queued above, the error itself only
			// ends this read attempt.
			continue
		}
	}
}
