package session

import (
	"sync"

	"github.com/google/uuid"
)

// IDGenerator hands out correlation ids for new sessions.
type IDGenerator interface {
	Generate() uuid.UUID
}

// UUIDv7Generator generates time-sortable UUIDv7 correlation ids.
// It is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate panics only if the system random source fails.
func (UUIDv7Generator) Generate() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// FixedGenerator returns predetermined ids in order, for tests.
type FixedGenerator struct {
	mu  sync.Mutex
	ids []uuid.UUID
	idx int
}

func NewFixedGenerator(ids ...uuid.UUID) *FixedGenerator {
	return &FixedGenerator{ids: ids}
}

// Generate panics once all ids have been handed out.
func (g *FixedGenerator) Generate() uuid.UUID {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.ids) {
		panic("FixedGenerator: all ids exhausted")
	}
	id := g.ids[g.idx]
	g.idx++
	return id
}
