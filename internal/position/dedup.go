package position

// recentSet is a bounded FIFO set of recently applied trade ids. Once the
// capacity is reached the oldest id is forgotten; anything older is expected
// to be ledger-confirmed and filtered upstream.
type recentSet struct {
	ids  map[string]struct{}
	ring []string
	next int
}

func newRecentSet(capacity int) *recentSet {
	if capacity <= 0 {
		capacity = 1
	}
	return &recentSet{
		ids:  make(map[string]struct{}, capacity),
		ring: make([]string, capacity),
	}
}

// Seen reports whether the id is still tracked.
func (s *recentSet) Seen(id string) bool {
	_, ok := s.ids[id]
	return ok
}

// State returns the tracked ids, oldest first.
func (s *recentSet) State() []string {
	out := make([]string, 0, len(s.ids))
	for i := 0; i < len(s.ring); i++ {
		if id := s.ring[(s.next+i)%len(s.ring)]; id != "" {
			out = append(out, id)
		}
	}
	return out
}

// Restore reseeds the set from ids ordered oldest first, evicting as Add
// would once capacity is hit.
func (s *recentSet) Restore(ids []string) {
	for _, id := range ids {
		s.Add(id)
	}
}

// Add records the id, evicting the oldest entry when full.
func (s *recentSet) Add(id string) {
	if _, ok := s.ids[id]; ok {
		return
	}
	if old := s.ring[s.next]; old != "" {
		delete(s.ids, old)
	}
	s.ring[s.next] = id
	s.ids[id] = struct{}{}
	s.next = (s.next + 1) % len(s.ring)
}
