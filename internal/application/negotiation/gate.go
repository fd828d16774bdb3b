package negotiation

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// keyedGate admits at most one holder per negotiation id. Waiters are
// served in arrival order and may give up through their context. Idle
// entries are dropped so the map only holds ids with holders or waiters.
type keyedGate struct {
	mu    sync.Mutex
	slots map[uuid.UUID]*gateSlot
}

type gateSlot struct {
	sem  *semaphore.Weighted
	refs int
}

func newKeyedGate() *keyedGate {
	return &keyedGate{slots: make(map[uuid.UUID]*gateSlot)}
}

// acquire blocks until the caller holds id or ctx is done. The returned
// release func must be called exactly once.
func (g *keyedGate) acquire(ctx context.Context, id uuid.UUID) (func(), error) {
	g.mu.Lock()
	slot, ok := g.slots[id]
	if !ok {
		slot = &gateSlot{sem: semaphore.NewWeighted(1)}
		g.slots[id] = slot
	}
	slot.refs++
	g.mu.Unlock()

	if err := slot.sem.Acquire(ctx, 1); err != nil {
		g.unref(id, slot)
		return nil, err
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			slot.sem.Release(1)
			g.unref(id, slot)
		})
	}, nil
}

func (g *keyedGate) unref(id uuid.UUID, slot *gateSlot) {
	g.mu.Lock()
	defer g.mu.Unlock()
	slot.refs--
	if slot.refs == 0 {
		delete(g.slots, id)
	}
}

func (g *keyedGate) size() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.slots)
}
