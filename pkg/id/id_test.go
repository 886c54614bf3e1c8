package id

import (
	"bytes"
	"encoding/binary"
	"sync/atomic"
	"testing"
	"time"
)

func seqOf(i ID) uint64 { return binary.BigEndian.Uint64(i[8:16]) }

func TestOrderingMonotonic(t *testing.T) {
	g := NewGeneratorWithClock(func() int64 { return 1000 })
	a := g.Next()
	b := g.Next()
	if bytes.Compare(a[:], b[:]) >= 0 {
		t.Fatalf("expected a<b")
	}
	if a.Time().UnixMilli() != 1000 || seqOf(b) != seqOf(a)+1 {
		t.Fatalf("unexpected layout: %s %s", a, b)
	}
}

func TestClockRegressionGuard(t *testing.T) {
	now := int64(1000)
	g := NewGeneratorWithClock(func() int64 { return now })

	a := g.Next()
	now = 900
	b := g.Next()
	if bytes.Compare(a[:], b[:]) >= 0 {
		t.Fatalf("expected b>a despite clock regression")
	}
}

func TestSequenceOverflowWaitsNextMs(t *testing.T) {
	var now atomic.Int64
	now.Store(2000)
	g := NewGeneratorWithClock(now.Load)
	g.lastMs = 2000
	g.sequence = ^uint64(0) - 1

	_ = g.Next()

	done := make(chan ID, 1)
	go func() { done <- g.Next() }()
	time.AfterFunc(10*time.Millisecond, func() { now.Store(2001) })

	select {
	case got := <-done:
		if got.Time().UnixMilli() != 2001 || seqOf(got) != 0 {
			t.Fatalf("unexpected id after overflow: %s", got)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timeout waiting for overflow handling")
	}
}

func TestAtOrdersByDueTime(t *testing.T) {
	g := NewGeneratorWithClock(nil)
	late := g.At(5000)
	early := g.At(4000)
	again := g.At(5000)
	if bytes.Compare(early[:], late[:]) >= 0 {
		t.Fatalf("expected earlier due time to sort first")
	}
	if late == again {
		t.Fatalf("expected unique ids for the same due time")
	}
}

func TestParseRoundTrip(t *testing.T) {
	a := NewGeneratorWithClock(nil).Next()
	b, err := Parse(a.String())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if a != b {
		t.Fatalf("got %s want %s", b, a)
	}
	if _, err := FromBytes([]byte{1, 2}); err == nil {
		t.Fatalf("expected length error")
	}
}
