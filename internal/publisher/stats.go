package publisher

import "sync"

// Counts holds the outcome counters of one message type.
type Counts struct {
	Published uint64
	Failed    uint64
}

// Stats is a snapshot of publish counters keyed by message type.
type Stats map[MessageType]Counts

type stats struct {
	mu     sync.Mutex
	counts map[MessageType]Counts
}

func newStats() *stats {
	return &stats{counts: make(map[MessageType]Counts)}
}

func (s *stats) publish(t MessageType) {
	s.mu.Lock()
	c := s.counts[t]
	c.Published++
	s.counts[t] = c
	s.mu.Unlock()
}

func (s *stats) fail(t MessageType) {
	s.mu.Lock()
	c := s.counts[t]
	c.Failed++
	s.counts[t] = c
	s.mu.Unlock()
}

func (s *stats) snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(Stats, len(s.counts))
	for t, c := range s.counts {
		out[t] = c
	}
	return out
}
