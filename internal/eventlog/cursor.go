package eventlog

import (
	"encoding/binary"
	"errors"

	pebblestore "github.com/rzbill/eventpipe/internal/storage/pebble"
)

// CommitCursor stores offset as the group's committed position. Commits at or
// below the stored offset are ignored so a cursor never regresses; the return
// value reports whether the cursor moved.
func (l *Log) CommitCursor(group string, offset uint64) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if offset > l.lastOffset {
		return false, ErrOffsetOutOfRange
	}
	prev, ok, err := l.cursorLocked(group)
	if err != nil {
		return false, err
	}
	if ok && offset <= prev {
		return false, nil
	}
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], offset)
	if err := l.db.Set(KeyCursor(l.topic, group, l.part), b[:]); err != nil {
		return false, err
	}
	return true, nil
}

// Cursor loads the committed offset for a group.
func (l *Log) Cursor(group string) (uint64, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cursorLocked(group)
}

func (l *Log) cursorLocked(group string) (uint64, bool, error) {
	cur, err := l.db.Get(KeyCursor(l.topic, group, l.part))
	if errors.Is(err, pebblestore.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if len(cur) < 8 {
		return 0, false, ErrCorruptEntry
	}
	return binary.BigEndian.Uint64(cur[:8]), true, nil
}

// ErrOffsetOutOfRange is returned when committing past the end of the log.
var ErrOffsetOutOfRange = errors.New("eventlog: offset beyond last appended record")

// MinCommitted returns the lowest committed offset of any group on this
// partition. ok is false when no group has committed yet.
func (l *Log) MinCommitted() (min uint64, ok bool, err error) {
	prefix := make([]byte, 0, len(cursorSeg)+len(l.topic)+1)
	prefix = append(prefix, cursorSeg...)
	prefix = append(prefix, l.topic...)
	prefix = append(prefix, sep)
	scanErr := l.db.ScanPrefix(prefix, func(key, value []byte) bool {
		if len(key) < 4 || binary.BigEndian.Uint32(key[len(key)-4:]) != l.part {
			return true
		}
		if len(value) < 8 {
			err = ErrCorruptEntry
			return false
		}
		off := binary.BigEndian.Uint64(value[:8])
		if !ok || off < min {
			min, ok = off, true
		}
		return true
	})
	if scanErr != nil {
		return 0, false, scanErr
	}
	return min, ok, err
}
