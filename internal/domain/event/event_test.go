package event

import (
	"testing"
)

func TestEmitter_DeliversInOrder(t *testing.T) {
	e := NewEmitter()

	var got []Name
	e.Subscribe(func(ev Event) { got = append(got, ev.Name) })
	e.Subscribe(nil)

	e.Emit(OrderQueued, nil)
	e.Emit(OrderSent, map[string]string{"id": "1"})

	if len(got) != 2 {
		t.Fatalf("received %d events, expected 2", len(got))
	}
	if got[0] != OrderQueued || got[1] != OrderSent {
		t.Errorf("events = %v", got)
	}
}

func TestEmitter_SubscribeDuringEmit(t *testing.T) {
	e := NewEmitter()
	calls := 0
	e.Subscribe(func(ev Event) {
		calls++
		e.Subscribe(func(Event) { calls += 10 })
	})

	e.Emit(RiskMetrics, nil)
	if calls != 1 {
		t.Errorf("calls = %d, expected 1 (new handler only sees later events)", calls)
	}
}
