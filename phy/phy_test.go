package phy

import (
	"testing"
	"time"
)

func TestTsynBits(t *testing.T) {
	bt := BitTime(9600)
	got := Tsyn(bt)
	want := 33 * bt
	if got != want {
		t.Fatalf("Tsyn = %v, want %v", got, want)
	}
}

func TestLoopbackEchoesTX(t *testing.T) {
	lb := NewLoopback(5 * time.Millisecond)
	if err := lb.Open(Config{Baud: 1000000, Parity: ParityEven, Data: 8, Stop: 1}); err != nil {
		t.Fatalf("open: %s", err)
	}
	defer lb.Close()

	want := []byte{0x10, 0x00, 0x02, 0x49, 0x4b, 0x16}
	if err := lb.Send(want); err != nil {
		t.Fatalf("send: %s", err)
	}

	deadline := time.Now().Add(200 * time.Millisecond)
	var got []byte
	for time.Now().Before(deadline) && len(got) < len(want) {
		for _, rx := range lb.Poll() {
			got = append(got, rx.Byte)
		}
		time.Sleep(time.Millisecond)
	}
	if len(got) != len(want) {
		t.Fatalf("got %d bytes, want %d: %x", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("byte %d: got %#02x want %#02x", i, got[i], want[i])
		}
	}
}

func TestLoopbackEnforcesTsyn(t *testing.T) {
	lb := NewLoopback(time.Millisecond)
	if err := lb.Open(Config{Baud: 1000000, Parity: ParityEven, Data: 8, Stop: 1}); err != nil {
		t.Fatalf("open: %s", err)
	}
	defer lb.Close()

	start := time.Now()
	_ = lb.Send([]byte{0xE5})
	_ = lb.Send([]byte{0xE5})
	elapsed := time.Since(start)

	minGap := Tsyn(BitTime(1000000))
	if elapsed < minGap {
		t.Fatalf("two sends completed in %v, less than one Tsyn (%v)", elapsed, minGap)
	}
}

func TestDummySlaveRespondsAndCanBeSuspended(t *testing.T) {
	calls := 0
	ds := NewDummySlave(time.Millisecond, func(req []byte) ([]byte, bool) {
		calls++
		return []byte{0xE5}, true
	})
	if err := ds.Open(Config{Baud: 500000, Parity: ParityEven, Data: 8, Stop: 1}); err != nil {
		t.Fatalf("open: %s", err)
	}
	defer ds.Close()

	_ = ds.Send([]byte{0x10, 0x08, 0x02, 0x49, 0x53, 0x16})
	deadline := time.Now().Add(100 * time.Millisecond)
	for time.Now().Before(deadline) {
		if len(ds.Poll()) > 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if calls != 1 {
		t.Fatalf("responder called %d times, want 1", calls)
	}

	ds.Suspend()
	_ = ds.Send([]byte{0x10, 0x08, 0x02, 0x49, 0x53, 0x16})
	time.Sleep(20 * time.Millisecond)
	if got := ds.Poll(); len(got) != 0 {
		t.Fatalf("suspended slave replied: %v", got)
	}
}
