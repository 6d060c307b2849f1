package service

import "sync"

// teamLocks serializes score writes per team inside one process. Entries
// are dropped once nobody holds or waits for them.
type teamLocks struct {
	mu    sync.Mutex
	locks map[int64]*teamLock
}

type teamLock struct {
	sync.Mutex
	refs int
}

func newTeamLocks() *teamLocks {
	return &teamLocks{locks: make(map[int64]*teamLock)}
}

// Lock blocks until teamID is held and returns its release function.
func (l *teamLocks) Lock(teamID int64) func() {
	l.mu.Lock()
	tl, ok := l.locks[teamID]
	if !ok {
		tl = &teamLock{}
		l.locks[teamID] = tl
	}
	tl.refs++
	l.mu.Unlock()

	tl.Lock()
	return func() {
		tl.Unlock()
		l.mu.Lock()
		tl.refs--
		if tl.refs == 0 {
			delete(l.locks, teamID)
		}
		l.mu.Unlock()
	}
}

func (l *teamLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
