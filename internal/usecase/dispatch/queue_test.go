package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zono819/winbot/internal/domain/entity"
	"github.com/zono819/winbot/internal/domain/event"
	"github.com/zono819/winbot/internal/infrastructure/logger"
	"github.com/zono819/winbot/internal/infrastructure/memstore"
)

func waitIdle(t *testing.T, q *Queue) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if q.Idle() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("queue did not drain")
}

type recorder struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *recorder) handle(ev event.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) names() []event.Name {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]event.Name, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Name
	}
	return out
}

func TestQueue_DispatchesInSubmissionOrder(t *testing.T) {
	var mu sync.Mutex
	var sent []string
	inFlight := 0
	maxInFlight := 0

	q := New(Options{
		Logger: logger.Discard(),
		Dispatch: func(ctx context.Context, o *entity.Order) (string, error) {
			mu.Lock()
			inFlight++
			if inFlight > maxInFlight {
				maxInFlight = inFlight
			}
			sent = append(sent, o.Metadata["n"])
			mu.Unlock()

			time.Sleep(2 * time.Millisecond)

			mu.Lock()
			inFlight--
			mu.Unlock()
			return o.ClientOrderID, nil
		},
	})

	for _, n := range []string{"1", "2", "3", "4"} {
		o, err := q.Submit(entity.OrderRequest{Side: "buy", Quantity: 1, Metadata: map[string]string{"n": n}})
		if err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
		if o.Status != entity.OrderStatusQueued {
			t.Errorf("Submit() status = %s, expected queued", o.Status)
		}
	}
	waitIdle(t, q)

	mu.Lock()
	defer mu.Unlock()
	if strings.Join(sent, ",") != "1,2,3,4" {
		t.Errorf("dispatch order = %v", sent)
	}
	if maxInFlight != 1 {
		t.Errorf("max concurrent dispatches = %d, expected 1", maxInFlight)
	}

	for _, o := range q.List(10) {
		if o.Status != entity.OrderStatusSent || o.SentAt == nil {
			t.Errorf("order %s status = %s sentAt=%v", o.ID, o.Status, o.SentAt)
		}
	}
}

func TestQueue_SubmitDefaults(t *testing.T) {
	block := make(chan struct{})
	q := New(Options{
		Logger:        logger.Discard(),
		DefaultSymbol: "WIN",
		Dispatch: func(ctx context.Context, o *entity.Order) (string, error) {
			<-block
			return "", nil
		},
	})
	defer close(block)

	o, _ := q.Submit(entity.OrderRequest{Quantity: 2})
	if o.Side != entity.SideBuy || o.Type != entity.OrderTypeMarket || o.TimeInForce != entity.TimeInForceDay {
		t.Errorf("defaults = %s/%s/%s", o.Side, o.Type, o.TimeInForce)
	}
	if o.Symbol != "WIN" {
		t.Errorf("Symbol = %q, expected WIN", o.Symbol)
	}
	if !strings.HasPrefix(o.ClientOrderID, "CL") {
		t.Errorf("ClientOrderID = %q, expected CL prefix", o.ClientOrderID)
	}
	if o.ID == "" {
		t.Errorf("ID should be assigned")
	}

	custom, _ := q.Submit(entity.OrderRequest{Side: "sell", Type: "limit", TimeInForce: "ioc", Quantity: 1, Price: entity.Float(10), ClientOrderID: "MINE"})
	if custom.Side != entity.SideSell || custom.Type != entity.OrderTypeLimit || custom.TimeInForce != entity.TimeInForceIOC {
		t.Errorf("normalized = %s/%s/%s", custom.Side, custom.Type, custom.TimeInForce)
	}
	if custom.ClientOrderID != "MINE" || custom.Price == nil || *custom.Price != 10 {
		t.Errorf("custom order = %+v", custom)
	}
}

func TestQueue_DispatchErrorDoesNotRetry(t *testing.T) {
	calls := 0
	simulated := 0
	rec := &recorder{}

	q := New(Options{
		Logger: logger.Discard(),
		Dispatch: func(ctx context.Context, o *entity.Order) (string, error) {
			calls++
			return "", errors.New("session unavailable")
		},
		Simulate:    func(o *entity.Order) { simulated++ },
		IsSimulated: func() bool { return true },
	})
	q.Subscribe(rec.handle)

	o, _ := q.Submit(entity.OrderRequest{Side: "BUY", Quantity: 1})
	waitIdle(t, q)

	got, ok := q.Get(o.ID)
	if !ok {
		t.Fatalf("Get(%s) not found", o.ID)
	}
	if got.Status != entity.OrderStatusError || got.Error != "session unavailable" || got.ErrorAt == nil {
		t.Errorf("order after failure = %+v", got)
	}
	if calls != 1 {
		t.Errorf("dispatch calls = %d, expected 1", calls)
	}
	if simulated != 0 {
		t.Errorf("simulate hook called %d times after failure", simulated)
	}

	names := rec.names()
	expected := []event.Name{event.OrderQueued, event.OrderSending, event.OrderError}
	if len(names) != len(expected) {
		t.Fatalf("events = %v, expected %v", names, expected)
	}
	for i := range expected {
		if names[i] != expected[i] {
			t.Errorf("event[%d] = %s, expected %s", i, names[i], expected[i])
		}
	}
}

func TestQueue_SimulateHookOnlyWhenSimulated(t *testing.T) {
	tests := []struct {
		name      string
		simulated bool
		expected  int
	}{
		{"simulated session", true, 1},
		{"live session", false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var mu sync.Mutex
			calls := 0
			q := New(Options{
				Logger: logger.Discard(),
				Dispatch: func(ctx context.Context, o *entity.Order) (string, error) {
					return "SIM-1", nil
				},
				Simulate: func(o *entity.Order) {
					mu.Lock()
					calls++
					mu.Unlock()
					if o.ClientOrderID != "SIM-1" {
						t.Errorf("simulate saw ClientOrderID %s, expected SIM-1", o.ClientOrderID)
					}
				},
				IsSimulated: func() bool { return tt.simulated },
			})

			q.Submit(entity.OrderRequest{Side: "BUY", Quantity: 1})
			waitIdle(t, q)

			mu.Lock()
			defer mu.Unlock()
			if calls != tt.expected {
				t.Errorf("simulate calls = %d, expected %d", calls, tt.expected)
			}
		})
	}
}

func TestQueue_UpdateExecution(t *testing.T) {
	q := New(Options{
		Logger: logger.Discard(),
		Dispatch: func(ctx context.Context, o *entity.Order) (string, error) {
			return o.ClientOrderID, nil
		},
	})
	rec := &recorder{}
	q.Subscribe(rec.handle)

	o, _ := q.Submit(entity.OrderRequest{Side: "SELL", Quantity: 2, ClientOrderID: "CL-A"})
	waitIdle(t, q)

	if q.UpdateExecution(entity.ExecutionReport{ClientOrderID: "unknown", Quantity: 1}) {
		t.Errorf("unknown report should be dropped")
	}

	ok := q.UpdateExecution(entity.ExecutionReport{
		ClientOrderID:  "CL-A",
		Status:         entity.OrderStatusPartial,
		Quantity:       1,
		LeavesQuantity: 1,
		Price:          entity.Float(120000),
	})
	if !ok {
		t.Fatalf("UpdateExecution by client id failed")
	}

	ok = q.UpdateExecution(entity.ExecutionReport{OrderID: o.ID, Quantity: 1, Price: entity.Float(120005)})
	if !ok {
		t.Fatalf("UpdateExecution by id failed")
	}

	got, _ := q.Get(o.ID)
	if got.Status != entity.OrderStatusPartial {
		t.Errorf("status = %s; report without status must not change it", got.Status)
	}
	if len(got.Executions) != 2 {
		t.Fatalf("executions = %d, expected 2", len(got.Executions))
	}
	second := got.Executions[1]
	if second.Status != entity.OrderStatusFilled || second.Side != entity.SideSell || second.ID == "" || second.Timestamp.IsZero() {
		t.Errorf("defaulted execution = %+v", second)
	}
	if got.FilledQty() != 2 {
		t.Errorf("FilledQty() = %d, expected 2", got.FilledQty())
	}

	var execEvents int
	for _, n := range rec.names() {
		if n == event.OrderExecution {
			execEvents++
		}
	}
	if execEvents != 2 {
		t.Errorf("order:execution events = %d, expected 2", execEvents)
	}
}

func TestQueue_ListNewestFirst(t *testing.T) {
	q := New(Options{Logger: logger.Discard()})

	base := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	var step int64
	q.now = func() time.Time {
		n := atomic.AddInt64(&step, 1)
		return base.Add(time.Duration(n) * time.Second)
	}

	var ids []string
	for i := 0; i < 5; i++ {
		o, _ := q.Submit(entity.OrderRequest{Side: "BUY", Quantity: 1})
		ids = append(ids, o.ID)
	}
	waitIdle(t, q)

	list := q.List(3)
	if len(list) != 3 {
		t.Fatalf("List(3) returned %d", len(list))
	}
	if list[0].ID != ids[4] || list[2].ID != ids[2] {
		t.Errorf("List order = %s,%s,%s", list[0].ID, list[1].ID, list[2].ID)
	}
	if all := q.List(0); len(all) != 5 {
		t.Errorf("List(0) = %d orders, expected default limit to include all 5", len(all))
	}
	if q.Size() != 0 {
		t.Errorf("Size() = %d after drain", q.Size())
	}
}

func TestQueue_QueuedPrecedesSendingWhileDraining(t *testing.T) {
	release := make(chan struct{})
	q := New(Options{
		Logger: logger.Discard(),
		Dispatch: func(ctx context.Context, o *entity.Order) (string, error) {
			if o.Metadata["n"] == "1" {
				<-release
			}
			return o.ClientOrderID, nil
		},
	})

	// slow queued subscriber: the drain loop must not reach order 2 meanwhile
	q.Subscribe(func(ev event.Event) {
		if o, ok := ev.Payload.(*entity.Order); ok && ev.Name == event.OrderQueued && o.Metadata["n"] == "2" {
			close(release)
			time.Sleep(50 * time.Millisecond)
		}
	})
	var mu sync.Mutex
	var seen []string
	q.Subscribe(func(ev event.Event) {
		if o, ok := ev.Payload.(*entity.Order); ok && o.Metadata["n"] == "2" {
			mu.Lock()
			seen = append(seen, string(ev.Name))
			mu.Unlock()
		}
	})

	if _, err := q.Submit(entity.OrderRequest{Quantity: 1, Metadata: map[string]string{"n": "1"}}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if _, err := q.Submit(entity.OrderRequest{Quantity: 1, Metadata: map[string]string{"n": "2"}}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	waitIdle(t, q)

	mu.Lock()
	defer mu.Unlock()
	expected := strings.Join([]string{string(event.OrderQueued), string(event.OrderSending), string(event.OrderSent)}, ",")
	if got := strings.Join(seen, ","); got != expected {
		t.Errorf("order 2 events = %s, expected %s", got, expected)
	}
}

type failingUpdateStore struct {
	*memstore.OrderStore
}

func (s failingUpdateStore) Update(ctx context.Context, order *entity.Order) error {
	return errors.New("disk full")
}

type syncBuffer struct {
	mu sync.Mutex
	sb strings.Builder
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sb.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sb.String()
}

func TestQueue_LogsRepositoryUpdateFailure(t *testing.T) {
	var buf syncBuffer
	q := New(Options{
		Repository: failingUpdateStore{memstore.NewOrderStore()},
		Logger:     logger.New(logger.LevelWarn, &buf),
		Dispatch: func(ctx context.Context, o *entity.Order) (string, error) {
			return o.ClientOrderID, nil
		},
	})

	o, err := q.Submit(entity.OrderRequest{ClientOrderID: "CL-FAIL", Quantity: 1})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	waitIdle(t, q)
	q.UpdateExecution(entity.ExecutionReport{OrderID: o.ID, Status: entity.OrderStatusFilled, Quantity: 1})

	out := buf.String()
	if got := strings.Count(out, "Update order CL-FAIL"); got != 3 {
		t.Errorf("update failure warnings = %d, expected 3 in %q", got, out)
	}
	if !strings.Contains(out, "disk full") {
		t.Errorf("log = %q, expected repository error", out)
	}
}

