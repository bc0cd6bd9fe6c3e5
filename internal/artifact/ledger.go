package artifact

import (
	"sort"
	"sync"
	"time"
)

// ledger tracks artifact metadata and expiry with thread-safe access.
type ledger struct {
	mu   sync.RWMutex
	refs map[string]Ref
}

func newLedger() *ledger {
	return &ledger{refs: make(map[string]Ref)}
}

// record stores ref, returning the entry it replaced, if any.
func (l *ledger) record(ref Ref) (Ref, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	prev, replaced := l.refs[ref.Name]
	l.refs[ref.Name] = ref
	return prev, replaced
}

// lookup returns the live entry for name. Expired entries are reported missing.
func (l *ledger) lookup(name string, now time.Time) (Ref, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ref, ok := l.refs[name]
	if !ok || ref.Expired(now) {
		return Ref{}, false
	}
	return ref, true
}

// remove deletes name only if it still points at the given entry, so a sweep
// never deletes a replacement written after the expiry was observed.
func (l *ledger) remove(ref Ref) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	cur, ok := l.refs[ref.Name]
	if !ok || cur.CreatedAt != ref.CreatedAt || cur.Digest != ref.Digest {
		return false
	}
	delete(l.refs, ref.Name)
	return true
}

// expired returns entries whose retention has elapsed.
func (l *ledger) expired(now time.Time) []Ref {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []Ref
	for _, ref := range l.refs {
		if ref.Expired(now) {
			out = append(out, ref)
		}
	}
	return out
}

// list returns the live entries sorted by name.
func (l *ledger) list(now time.Time) []Ref {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Ref, 0, len(l.refs))
	for _, ref := range l.refs {
		if !ref.Expired(now) {
			out = append(out, ref)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// drain empties the ledger and returns everything it held.
func (l *ledger) drain() []Ref {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Ref, 0, len(l.refs))
	for _, ref := range l.refs {
		out = append(out, ref)
	}
	l.refs = make(map[string]Ref)
	return out
}
