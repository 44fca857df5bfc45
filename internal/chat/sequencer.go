package chat

import "sync"

// roomSequencer hands out one mutex per room id. Entries are dropped once no
// goroutine holds or waits on them.
type roomSequencer struct {
	mu    sync.Mutex
	locks map[int64]*roomLock
}

type roomLock struct {
	sync.Mutex
	refs int
}

func newRoomSequencer() *roomSequencer {
	return &roomSequencer{locks: make(map[int64]*roomLock)}
}

func (s *roomSequencer) lock(roomId int64) (unlock func()) {
	s.mu.Lock()
	l, ok := s.locks[roomId]
	if !ok {
		l = &roomLock{}
		s.locks[roomId] = l
	}
	l.refs++
	s.mu.Unlock()

	l.Lock()

	return func() {
		l.Unlock()

		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, roomId)
		}
		s.mu.Unlock()
	}
}

func (s *roomSequencer) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locks)
}
