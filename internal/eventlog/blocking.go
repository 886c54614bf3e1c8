package eventlog

import (
	"context"
	"time"
)

// WaitForAppend blocks until the log holds an offset greater than after, the
// timeout elapses, or ctx is cancelled. It reports whether new data exists.
func (l *Log) WaitForAppend(ctx context.Context, after uint64, timeout time.Duration) bool {
	l.mu.Lock()
	if l.lastOffset > after {
		l.mu.Unlock()
		return true
	}
	ch := l.notifyCh
	l.mu.Unlock()

	var expire <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expire = t.C
	}
	select {
	case <-ch:
		return true
	case <-expire:
		return false
	case <-ctx.Done():
		return false
	}
}
