package memstore

import (
	"context"
	"errors"
	"testing"

	"github.com/zono819/winbot/internal/domain/entity"
	"github.com/zono819/winbot/internal/domain/repository"
)

func TestOrderStore_CreateAndLookup(t *testing.T) {
	s := NewOrderStore()
	ctx := context.Background()

	o := &entity.Order{ID: "a", ClientOrderID: "CL1", Side: entity.SideBuy, Quantity: 1}
	if err := s.Create(ctx, o); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := s.Create(ctx, o); err == nil {
		t.Errorf("Create() duplicate should fail")
	}

	// mutate caller copy; store must not change
	o.Quantity = 99

	got, err := s.GetByID(ctx, "a")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Quantity != 1 {
		t.Errorf("stored quantity = %d, expected 1", got.Quantity)
	}

	byClient, err := s.GetByClientOrderID(ctx, "CL1")
	if err != nil || byClient.ID != "a" {
		t.Errorf("GetByClientOrderID() = %v, %v", byClient, err)
	}

	if _, err := s.GetByID(ctx, "missing"); !errors.Is(err, repository.ErrOrderNotFound) {
		t.Errorf("GetByID(missing) error = %v, expected ErrOrderNotFound", err)
	}
}

func TestOrderStore_ListNewestFirst(t *testing.T) {
	s := NewOrderStore()
	ctx := context.Background()

	for _, id := range []string{"1", "2", "3"} {
		side := entity.SideBuy
		if id == "2" {
			side = entity.SideSell
		}
		s.Create(ctx, &entity.Order{ID: id, Side: side})
	}

	all, _ := s.List(ctx, repository.OrderFilter{})
	if len(all) != 3 || all[0].ID != "3" || all[2].ID != "1" {
		t.Errorf("List() order = %v", ids(all))
	}

	limited, _ := s.List(ctx, repository.OrderFilter{Limit: 2})
	if len(limited) != 2 || limited[0].ID != "3" {
		t.Errorf("List(limit 2) = %v", ids(limited))
	}

	sells, _ := s.List(ctx, repository.OrderFilter{Side: entity.SideSell})
	if len(sells) != 1 || sells[0].ID != "2" {
		t.Errorf("List(side SELL) = %v", ids(sells))
	}
}

func TestOrderStore_UpdateReindexesClientID(t *testing.T) {
	s := NewOrderStore()
	ctx := context.Background()

	s.Create(ctx, &entity.Order{ID: "a"})
	if err := s.Update(ctx, &entity.Order{ID: "a", ClientOrderID: "SIM-1"}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	got, err := s.GetByClientOrderID(ctx, "SIM-1")
	if err != nil || got.ID != "a" {
		t.Errorf("GetByClientOrderID after update = %v, %v", got, err)
	}

	if err := s.Update(ctx, &entity.Order{ID: "nope"}); !errors.Is(err, repository.ErrOrderNotFound) {
		t.Errorf("Update(unknown) error = %v", err)
	}

	if err := s.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if s.Len() != 0 {
		t.Errorf("Len() = %d after delete", s.Len())
	}
}

func ids(orders []*entity.Order) []string {
	out := make([]string, len(orders))
	for i, o := range orders {
		out[i] = o.ID
	}
	return out
}
