package dispatch

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zono819/winbot/internal/domain/entity"
	"github.com/zono819/winbot/internal/domain/event"
	"github.com/zono819/winbot/internal/domain/repository"
	"github.com/zono819/winbot/internal/infrastructure/logger"
	"github.com/zono819/winbot/internal/infrastructure/memstore"
)

const defaultListLimit = 50

// DispatchFunc transmits an order and returns the client order id used on the wire
type DispatchFunc func(ctx context.Context, order *entity.Order) (string, error)

// SimulateFunc produces a synthetic execution for a sent order
type SimulateFunc func(order *entity.Order)

// ErrorEvent is the order:error payload
type ErrorEvent struct {
	Order *entity.Order `json:"order"`
	Error string        `json:"error"`
}

// ExecutionEvent is the order:execution payload
type ExecutionEvent struct {
	Order     *entity.Order          `json:"order"`
	Execution entity.Execution       `json:"execution"`
	Report    entity.ExecutionReport `json:"report"`
}

// Options configures a Queue
type Options struct {
	Repository    repository.OrderRepository
	Dispatch      DispatchFunc
	Simulate      SimulateFunc
	IsSimulated   func() bool
	DefaultSymbol string
	Logger        *logger.Logger
}

// Queue is a single-consumer FIFO that hands orders to a dispatcher one at a time
type Queue struct {
	repo          repository.OrderRepository
	dispatch      DispatchFunc
	simulate      SimulateFunc
	isSimulated   func() bool
	defaultSymbol string
	log           *logger.Logger
	events        *event.Emitter
	now           func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	pending  []string
	draining bool
}

// New creates a queue. A nil repository falls back to an in-memory store.
func New(opts Options) *Queue {
	if opts.Repository == nil {
		opts.Repository = memstore.NewOrderStore()
	}
	if opts.Logger == nil {
		opts.Logger = logger.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		repo:          opts.Repository,
		dispatch:      opts.Dispatch,
		simulate:      opts.Simulate,
		isSimulated:   opts.IsSimulated,
		defaultSymbol: opts.DefaultSymbol,
		log:           opts.Logger.WithField("component", "dispatch"),
		events:        event.NewEmitter(),
		now:           time.Now,
		ctx:           ctx,
		cancel:        cancel,
		pending:       make([]string, 0),
	}
}

// Subscribe registers a handler for order:* events
func (q *Queue) Subscribe(h event.Handler) {
	q.events.Subscribe(h)
}

// Close cancels the context handed to in-flight dispatches
func (q *Queue) Close() {
	q.cancel()
}

// Submit records a new order, enqueues it and starts draining.
// It returns immediately with a copy of the queued order.
func (q *Queue) Submit(req entity.OrderRequest) (*entity.Order, error) {
	order := q.buildOrder(req)
	if err := q.repo.Create(q.ctx, order); err != nil {
		return nil, fmt.Errorf("store order: %w", err)
	}

	// queued goes out before the drain loop can see the id
	snapshot := order.Clone()
	q.log.Debug("Order queued: %s %s %d %s", snapshot.ClientOrderID, snapshot.Side, snapshot.Quantity, snapshot.Type)
	q.events.Emit(event.OrderQueued, snapshot)

	q.mu.Lock()
	q.pending = append(q.pending, order.ID)
	start := !q.draining
	if start {
		q.draining = true
	}
	q.mu.Unlock()

	if start {
		go q.drain()
	}
	return snapshot.Clone(), nil
}

func (q *Queue) buildOrder(req entity.OrderRequest) *entity.Order {
	side, ok := entity.ParseSide(req.Side)
	if !ok {
		side = entity.SideBuy
	}
	orderType := entity.OrderType(strings.ToUpper(strings.TrimSpace(req.Type)))
	if orderType == "" {
		orderType = entity.OrderTypeMarket
	}
	tif := entity.TimeInForce(strings.ToUpper(strings.TrimSpace(req.TimeInForce)))
	if tif == "" {
		tif = entity.TimeInForceDay
	}
	symbol := strings.TrimSpace(req.Symbol)
	if symbol == "" {
		symbol = q.defaultSymbol
	}
	clientID := strings.TrimSpace(req.ClientOrderID)
	if clientID == "" {
		clientID = newClientOrderID(q.now())
	}

	metadata := make(map[string]string, len(req.Metadata))
	for k, v := range req.Metadata {
		metadata[k] = v
	}

	o := &entity.Order{
		ID:            uuid.NewString(),
		ClientOrderID: clientID,
		Symbol:        symbol,
		Side:          side,
		Type:          orderType,
		Quantity:      int(req.Quantity),
		TimeInForce:   tif,
		Status:        entity.OrderStatusQueued,
		CreatedAt:     q.now(),
		Executions:    make([]entity.Execution, 0),
		Metadata:      metadata,
	}
	if req.Price != nil {
		o.Price = entity.Float(*req.Price)
	}
	if req.StopPrice != nil {
		o.StopPrice = entity.Float(*req.StopPrice)
	}
	return o
}

// drain processes pending orders in FIFO order until the queue is empty
func (q *Queue) drain() {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.draining = false
			q.mu.Unlock()
			return
		}
		id := q.pending[0]
		q.pending = q.pending[1:]

		order, err := q.repo.GetByID(q.ctx, id)
		if err != nil {
			q.mu.Unlock()
			q.log.Error("Queued order %s vanished: %v", id, err)
			continue
		}
		order.Status = entity.OrderStatusSending
		q.store(order)
		q.mu.Unlock()

		q.events.Emit(event.OrderSending, order.Clone())
		q.process(order)
	}
}

func (q *Queue) process(order *entity.Order) {
	var clientID string
	var err error
	if q.dispatch != nil {
		clientID, err = q.dispatch(q.ctx, order.Clone())
	}

	q.mu.Lock()
	current, getErr := q.repo.GetByID(q.ctx, order.ID)
	if getErr != nil {
		current = order
	}
	now := q.now()
	if err != nil {
		current.Status = entity.OrderStatusError
		current.Error = err.Error()
		current.ErrorAt = &now
	} else {
		// a report may already have moved the order past sending
		if current.Status == entity.OrderStatusSending {
			current.Status = entity.OrderStatusSent
		}
		current.SentAt = &now
		if clientID != "" {
			current.ClientOrderID = clientID
		}
	}
	q.store(current)
	snapshot := current.Clone()
	q.mu.Unlock()

	if err != nil {
		q.log.Warn("Order %s dispatch failed: %v", snapshot.ClientOrderID, err)
		q.events.Emit(event.OrderError, ErrorEvent{Order: snapshot, Error: err.Error()})
		return
	}

	q.log.Info("Order sent: %s %s %d %s", snapshot.ClientOrderID, snapshot.Side, snapshot.Quantity, snapshot.Symbol)
	q.events.Emit(event.OrderSent, snapshot)

	if q.simulate != nil && q.isSimulated != nil && q.isSimulated() {
		q.simulate(snapshot.Clone())
	}
}

// UpdateExecution attaches a report to its order. Unknown orders are
// ignored and false is returned.
func (q *Queue) UpdateExecution(report entity.ExecutionReport) bool {
	q.mu.Lock()
	order := q.findLocked(report.OrderID, report.ClientOrderID)
	if order == nil {
		q.mu.Unlock()
		q.log.Debug("Execution report for unknown order dropped: id=%s clOrdID=%s", report.OrderID, report.ClientOrderID)
		return false
	}

	if report.Status != "" {
		order.Status = report.Status
	}
	exec := entity.Execution{
		ID:             report.ExecutionID,
		Timestamp:      report.Timestamp,
		Status:         report.Status,
		Quantity:       report.Quantity,
		LeavesQuantity: report.LeavesQuantity,
		Side:           report.Side,
		Text:           report.Text,
		Simulated:      report.Simulated,
	}
	if exec.ID == "" {
		exec.ID = uuid.NewString()
	}
	if exec.Timestamp.IsZero() {
		exec.Timestamp = q.now()
	}
	if exec.Status == "" {
		exec.Status = entity.OrderStatusFilled
	}
	if exec.Side == "" {
		exec.Side = order.Side
	}
	if report.Price != nil {
		exec.Price = entity.Float(*report.Price)
	}
	order.Executions = append(order.Executions, exec)
	q.store(order)
	snapshot := order.Clone()
	q.mu.Unlock()

	q.events.Emit(event.OrderExecution, ExecutionEvent{Order: snapshot, Execution: exec, Report: report})
	return true
}

// store persists an order change; callers hold q.mu
func (q *Queue) store(order *entity.Order) {
	if err := q.repo.Update(q.ctx, order); err != nil {
		q.log.Warn("Update order %s (%s) failed: %v", order.ClientOrderID, order.Status, err)
	}
}

func (q *Queue) findLocked(id, clientOrderID string) *entity.Order {
	if id != "" {
		if o, err := q.repo.GetByID(q.ctx, id); err == nil {
			return o
		}
	}
	if clientOrderID != "" {
		if o, err := q.repo.GetByClientOrderID(q.ctx, clientOrderID); err == nil {
			return o
		}
	}
	return nil
}

// Get returns a copy of an order by internal id
func (q *Queue) Get(id string) (*entity.Order, bool) {
	o, err := q.repo.GetByID(q.ctx, id)
	if err != nil {
		return nil, false
	}
	return o, true
}

// List returns up to limit orders, newest first
func (q *Queue) List(limit int) []*entity.Order {
	if limit <= 0 {
		limit = defaultListLimit
	}
	orders, err := q.repo.List(q.ctx, repository.OrderFilter{Limit: limit})
	if err != nil {
		q.log.Error("List orders failed: %v", err)
		return []*entity.Order{}
	}
	return orders
}

// Size returns the number of orders waiting to be dispatched
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Idle reports whether nothing is pending and no drain is running
func (q *Queue) Idle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return !q.draining && len(q.pending) == 0
}

func newClientOrderID(now time.Time) string {
	return fmt.Sprintf("CL%d%03d", now.UnixMilli(), rand.Intn(1000))
}
