package session

import "sync"

// LaneLock serializes whole turns per session while letting different
// sessions proceed in parallel. The global mutex guards only the lane map;
// each lane carries its own mutex.
type LaneLock struct {
	mu    sync.Mutex
	lanes map[string]*lane
}

// refs counts holders and waiters; stale lanes are dropped once refs is 0.
type lane struct {
	mu    sync.Mutex
	refs  int
	stale bool
}

// NewLaneLock creates a ready-to-use LaneLock.
func NewLaneLock() *LaneLock {
	return &LaneLock{lanes: make(map[string]*lane)}
}

// Acquire blocks until the lane for id is free and takes it. The returned
// func releases it and must be called exactly once.
func (l *LaneLock) Acquire(id string) (release func()) {
	l.mu.Lock()
	ln, ok := l.lanes[id]
	if !ok {
		ln = &lane{}
		l.lanes[id] = ln
	}
	ln.refs++
	ln.stale = false
	l.mu.Unlock()

	ln.mu.Lock()

	var once sync.Once
	return func() { once.Do(func() { l.release(id, ln) }) }
}

func (l *LaneLock) release(id string, ln *lane) {
	l.mu.Lock()
	ln.refs--
	if ln.refs == 0 && ln.stale && l.lanes[id] == ln {
		delete(l.lanes, id)
	}
	l.mu.Unlock()

	ln.mu.Unlock()
}

// Cleanup marks lanes of sessions missing from live as stale and drops
// those nobody holds.
func (l *LaneLock) Cleanup(live map[string]struct{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for id, ln := range l.lanes {
		if _, ok := live[id]; ok {
			ln.stale = false
			continue
		}
		ln.stale = true
		if ln.refs == 0 {
			delete(l.lanes, id)
		}
	}
}

// Len returns the number of tracked lanes.
func (l *LaneLock) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.lanes)
}
