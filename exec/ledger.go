package exec

import "sync"

// Ledger remembers which order keys reached a terminal filled state so a
// rerun after a partial failure never re-submits completed work.
type Ledger struct {
	mu     sync.Mutex
	filled map[string]bool
}

func NewLedger() *Ledger {
	return &Ledger{filled: make(map[string]bool)}
}

func (l *Ledger) Filled(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.filled[key]
}

func (l *Ledger) MarkFilled(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.filled[key] = true
}

// Keys returns the filled keys, for reporting.
func (l *Ledger) Keys() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.filled))
	for k := range l.filled {
		out = append(out, k)
	}
	return out
}
