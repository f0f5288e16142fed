package syncer

import "sync"

// ActiveSet tracks entities currently open for editing. A pass never
// overwrites a member's local copy.
type ActiveSet struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func NewActiveSet() *ActiveSet {
	return &ActiveSet{ids: make(map[string]struct{})}
}

func (s *ActiveSet) Open(id string) {
	s.mu.Lock()
	s.ids[id] = struct{}{}
	s.mu.Unlock()
}

func (s *ActiveSet) Close(id string) {
	s.mu.Lock()
	delete(s.ids, id)
	s.mu.Unlock()
}

func (s *ActiveSet) Contains(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[id]
	return ok
}

// Snapshot returns a copy safe to hand to the resolver.
func (s *ActiveSet) Snapshot() map[string]struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]struct{}, len(s.ids))
	for id := range s.ids {
		out[id] = struct{}{}
	}
	return out
}
