package id

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"sync"
	"time"
)

// ID is a 128-bit sortable identifier: [8 bytes unix ms][8 bytes sequence],
// both big-endian.
type ID [16]byte

func (i ID) String() string { return hex.EncodeToString(i[:]) }

// Time returns the millisecond timestamp embedded in the ID.
func (i ID) Time() time.Time {
	return time.UnixMilli(int64(binary.BigEndian.Uint64(i[0:8])))
}

// FromBytes parses a 16-byte raw ID.
func FromBytes(b []byte) (ID, error) {
	var out ID
	if len(b) != len(out) {
		return out, fmt.Errorf("id: want 16 bytes, got %d", len(b))
	}
	copy(out[:], b)
	return out, nil
}

// Parse parses the hex form produced by String.
func Parse(s string) (ID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return ID{}, fmt.Errorf("id: %w", err)
	}
	return FromBytes(b)
}

// Generator produces strictly increasing IDs within a process.
type Generator struct {
	mu       sync.Mutex
	now      func() int64
	lastMs   int64
	sequence uint64
	atSeq    uint64
}

// NewGeneratorWithClock creates a Generator reading milliseconds from now.
// A nil clock uses time.Now.
func NewGeneratorWithClock(now func() int64) *Generator {
	if now == nil {
		now = func() int64 { return time.Now().UnixMilli() }
	}
	return &Generator{now: now}
}

// Next returns a new ID. A regressing clock is pinned to the last seen
// millisecond; an exhausted sequence waits for the next millisecond.
func (g *Generator) Next() ID {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.nextLocked(g.now())
}

// At returns an ID carrying ms as its time component, for keys ordered by a
// due time that may lie in the future. IDs from At are unique among
// themselves but share no sequence with Next.
func (g *Generator) At(ms int64) ID {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.atSeq++
	return makeID(ms, g.atSeq)
}

func (g *Generator) nextLocked(ms int64) ID {
	if ms < g.lastMs {
		ms = g.lastMs
	}
	if ms == g.lastMs {
		if g.sequence == math.MaxUint64 {
			for {
				ms = g.now()
				if ms > g.lastMs {
					break
				}
				time.Sleep(time.Millisecond / 8)
			}
			g.sequence = 0
		} else {
			g.sequence++
		}
	} else {
		g.sequence = 0
	}
	g.lastMs = ms
	return makeID(ms, g.sequence)
}

func makeID(ms int64, seq uint64) ID {
	var id ID
	binary.BigEndian.PutUint64(id[0:8], uint64(ms))
	binary.BigEndian.PutUint64(id[8:16], seq)
	return id
}
