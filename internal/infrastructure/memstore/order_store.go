package memstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/zono819/winbot/internal/domain/entity"
	"github.com/zono819/winbot/internal/domain/repository"
)

// Ensure OrderStore implements OrderRepository
var _ repository.OrderRepository = (*OrderStore)(nil)

// OrderStore keeps orders in process memory. Stored values are copies.
type OrderStore struct {
	mu       sync.RWMutex
	orders   map[string]*entity.Order
	byClient map[string]string
	sequence []string
}

// NewOrderStore creates an empty store
func NewOrderStore() *OrderStore {
	return &OrderStore{
		orders:   make(map[string]*entity.Order),
		byClient: make(map[string]string),
		sequence: make([]string, 0),
	}
}

// Create stores a new order
func (s *OrderStore) Create(ctx context.Context, order *entity.Order) error {
	if order == nil || order.ID == "" {
		return fmt.Errorf("order id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.orders[order.ID]; exists {
		return fmt.Errorf("order %s already exists", order.ID)
	}
	s.orders[order.ID] = order.Clone()
	if order.ClientOrderID != "" {
		s.byClient[order.ClientOrderID] = order.ID
	}
	s.sequence = append(s.sequence, order.ID)
	return nil
}

// GetByID retrieves order by ID
func (s *OrderStore) GetByID(ctx context.Context, id string) (*entity.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	return o.Clone(), nil
}

// GetByClientOrderID retrieves order by client order ID
func (s *OrderStore) GetByClientOrderID(ctx context.Context, clientOrderID string) (*entity.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byClient[clientOrderID]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	return s.orders[id].Clone(), nil
}

// List returns orders newest first
func (s *OrderStore) List(ctx context.Context, filter repository.OrderFilter) ([]*entity.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*entity.Order, 0)
	for i := len(s.sequence) - 1; i >= 0; i-- {
		o, ok := s.orders[s.sequence[i]]
		if !ok {
			continue
		}
		if filter.Symbol != "" && o.Symbol != filter.Symbol {
			continue
		}
		if filter.Status != "" && o.Status != filter.Status {
			continue
		}
		if filter.Side != "" && o.Side != filter.Side {
			continue
		}
		out = append(out, o.Clone())
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// Update replaces a stored order
func (s *OrderStore) Update(ctx context.Context, order *entity.Order) error {
	if order == nil {
		return fmt.Errorf("order is nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.orders[order.ID]
	if !ok {
		return repository.ErrOrderNotFound
	}
	if prev.ClientOrderID != order.ClientOrderID {
		delete(s.byClient, prev.ClientOrderID)
	}
	if order.ClientOrderID != "" {
		s.byClient[order.ClientOrderID] = order.ID
	}
	s.orders[order.ID] = order.Clone()
	return nil
}

// Delete deletes order
func (s *OrderStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return repository.ErrOrderNotFound
	}
	delete(s.orders, id)
	delete(s.byClient, o.ClientOrderID)
	for i, v := range s.sequence {
		if v == id {
			s.sequence = append(s.sequence[:i], s.sequence[i+1:]...)
			break
		}
	}
	return nil
}

// Len returns the number of stored orders
func (s *OrderStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.orders)
}
