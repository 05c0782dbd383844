package deploy

import "sync"

// =============================================================================
// Per-Deployment Lanes
// =============================================================================

// lane is one deployment's mutex plus a count of holders and waiters, so the
// set can drop entries nobody references.
type lane struct {
	mu   sync.Mutex
	refs int
}

// laneSet hands out one mutex per deployment ID. Every mutating operation on
// a deployment runs under its lane, which makes the controller single-writer
// per record; operations on different IDs never contend.
type laneSet struct {
	mu    sync.Mutex
	lanes map[string]*lane
}

func newLaneSet() *laneSet {
	return &laneSet{lanes: make(map[string]*lane)}
}

// lock acquires the lane for id, creating it on first use.
func (s *laneSet) lock(id string) {
	s.mu.Lock()
	l, ok := s.lanes[id]
	if !ok {
		l = &lane{}
		s.lanes[id] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
}

// unlock releases the lane for id. The reference count is settled only after
// the mutex is released, so a waiter always resolves to the same lane entry
// it queued on.
func (s *laneSet) unlock(id string) {
	s.mu.Lock()
	l := s.lanes[id]
	s.mu.Unlock()

	l.mu.Unlock()

	s.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(s.lanes, id)
	}
	s.mu.Unlock()
}

// size reports how many lanes are currently held or awaited.
func (s *laneSet) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lanes)
}
