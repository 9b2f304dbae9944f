package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/vitwit/remarkpay/types"
)

// MemoryStore keeps everything in process memory. Values are copied in and
// out so callers never share state with the store.
type MemoryStore struct {
	mu          sync.RWMutex
	orders      map[string]*types.Order
	seq         map[string]int
	next        int
	checkpoints map[string]types.Checkpoint
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:      make(map[string]*types.Order),
		seq:         make(map[string]int),
		checkpoints: make(map[string]types.Checkpoint),
	}
}

func (s *MemoryStore) Get(_ context.Context, id string) (*types.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}
	return o.Clone(), nil
}

func (s *MemoryStore) Create(_ context.Context, order *types.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[order.ID]; ok {
		return fmt.Errorf("%w: %s", ErrOrderExists, order.ID)
	}
	s.orders[order.ID] = order.Clone()
	s.seq[order.ID] = s.next
	s.next++
	return nil
}

func (s *MemoryStore) Save(_ context.Context, order *types.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[order.ID]; !ok {
		return fmt.Errorf("%w: %s", ErrOrderNotFound, order.ID)
	}
	s.orders[order.ID] = order.Clone()
	return nil
}

func (s *MemoryStore) ListRefundable(_ context.Context) ([]*types.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.Order
	for _, o := range s.orders {
		if o.Refundable() {
			out = append(out, o.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return s.seq[out[i].ID] < s.seq[out[j].ID]
	})
	return out, nil
}

// Len returns the number of stored orders.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.orders)
}

func (s *MemoryStore) LoadCheckpoint(_ context.Context, chain string) (*types.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.checkpoints[chain]
	if !ok {
		return nil, ErrCheckpointNotFound
	}
	return &cp, nil
}

func (s *MemoryStore) SaveCheckpoint(_ context.Context, cp types.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints[cp.Chain] = cp
	return nil
}

func (s *MemoryStore) Close() {}
