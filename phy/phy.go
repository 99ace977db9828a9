// Package phy implements the PROFIBUS physical transceiver: framing
// bytes to and from an asynchronous serial line at 8 data bits, even
// parity, one stop bit, and enforcing the Tsyn idle-before-transmit
// rule that the FDL layer relies on for bus arbitration.
package phy

import (
	"errors"
	"time"
)

// Parity selects the UART parity mode. PROFIBUS always uses Even.
type Parity int

const (
	ParityEven Parity = iota
	ParityOdd
	ParityNone
)

// Config holds the UART parameters a Driver is opened with.
type Config struct {
	Baud   int
	Parity Parity
	Data   int // bits per character, always 8 for PROFIBUS
	Stop   int // stop bits, always 1 for PROFIBUS
}

// Rx is one received byte together with the monotonic instant its
// first bit edge was observed, at bit-time resolution.
type Rx struct {
	Byte byte
	At   time.Time
}

// Error wraps a PHY-level fault: I/O, parity, or framing. It
// implements Timeout()/Temporary() by delegating to the wrapped error
// when possible, mirroring the wrap-and-classify pattern used
// throughout this module's error taxonomy.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return "phy: " + e.Op + ": " + e.Err.Error() }

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Timeout() bool {
	var t interface{ Timeout() bool }
	if errors.As(e.Err, &t) {
		return t.Timeout()
	}
	return false
}

func (e *Error) Temporary() bool {
	var t interface{ Temporary() bool }
	if errors.As(e.Err, &t) {
		return t.Temporary()
	}
	return false
}

// ErrBusy is returned by Send when Tsyn idle has not yet elapsed and
// the driver is configured for the non-blocking variant.
var ErrBusy = errors.New("phy: line not idle for Tsyn")

// ErrClosed is returned by any operation on a closed Driver.
var ErrClosed = errors.New("phy: driver closed")

// Driver is the PHY transceiver contract. Implementations are
// half-duplex and non-reentrant: the caller (the FDL station) is the
// sole owner and must not call Send concurrently with itself.
type Driver interface {
	// Open configures and activates the line.
	Open(cfg Config) error
	// Close deactivates the line. Idempotent.
	Close() error

	// Send transmits b, blocking (or fail-delaying with ErrBusy, for
	// non-blocking drivers) until the line has been idle for at
	// least Tsyn. Returns once all bytes have been written to the
	// wire and records the transmit timestamp used by FDL to measure
	// Tqui and Tsdr.
	Send(b []byte) error

	// Poll returns all bytes received since the last Poll call,
	// each timestamped at bit-time resolution.
	Poll() []Rx

	// FlushRx discards any buffered but unread received bytes and
	// resets the in-progress FDL reassembly hint (IdleSince continues
	// to track line state regardless).
	FlushRx()

	// SetTxEnable drives the RS-485 direction-control line, if the
	// underlying transport has one. A no-op for transports without
	// explicit direction control (e.g. loopback).
	SetTxEnable(on bool) error

	// IdleSince returns how long the line has been idle (no RX
	// activity, no in-flight TX) as of now.
	IdleSince() time.Duration

	// BitTime returns the duration of one UART bit at the
	// configured baud rate.
	BitTime() time.Duration
}

// TsynBits is the mandatory idle time before a new transmission, as a
// count of bit times.
const TsynBits = 33

// Tsyn returns the absolute Tsyn duration for the given bit time.
func Tsyn(bitTime time.Duration) time.Duration {
	return time.Duration(TsynBits) * bitTime
}

// BitTime returns the duration of one UART bit at baud bits/second.
func BitTime(baud int) time.Duration {
	if baud <= 0 {
		return 0
	}
	return time.Second / time.Duration(baud)
}
