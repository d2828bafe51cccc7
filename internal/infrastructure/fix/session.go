package fix

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/zono819/winbot/internal/adapter/gateway"
	"github.com/zono819/winbot/internal/domain/entity"
	"github.com/zono819/winbot/internal/domain/event"
	"github.com/zono819/winbot/internal/infrastructure/logger"
)

// Ensure Session implements OrderGateway
var _ gateway.OrderGateway = (*Session)(nil)

var (
	// ErrSessionUnavailable is returned when a live order is sent without a logged-on session
	ErrSessionUnavailable = errors.New("session unavailable")
	// ErrNotConfigured is returned when a live connect is attempted without host, port and comp ids
	ErrNotConfigured = errors.New("fix session not configured")

	errEndedBeforeLogon = errors.New("session ended before logon")
	errLogonTimeout     = errors.New("logon timed out")
	errDisconnected     = errors.New("disconnect requested")
)

// Config contains the session settings
type Config struct {
	BeginString        string
	Host               string
	Port               int
	SenderCompID       string
	TargetCompID       string
	HeartBtInt         int
	ResetSeqNumFlag    bool
	Username           string
	Password           string
	Account            string
	Symbol             string
	ReconnectInterval  time.Duration
	Simulate           bool
	SimulatedFillDelay time.Duration
	LogonTimeout       time.Duration
}

// DefaultConfig returns a config with protocol defaults applied
func DefaultConfig() Config {
	return Config{
		BeginString:        "FIX.4.4",
		HeartBtInt:         30,
		ResetSeqNumFlag:    true,
		ReconnectInterval:  5 * time.Second,
		SimulatedFillDelay: 150 * time.Millisecond,
		LogonTimeout:       10 * time.Second,
	}
}

// DialFunc opens the transport
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Status is the session snapshot
type Status = gateway.SessionStatus

// LogonEvent is the fix:logon payload
type LogonEvent struct {
	Simulated bool `json:"simulated"`
}

// DisconnectEvent is the fix:disconnect payload
type DisconnectEvent struct {
	Reason    string `json:"reason"`
	Simulated bool   `json:"simulated"`
}

// OrderSentEvent is the fix:order-sent payload
type OrderSentEvent struct {
	ClientOrderID string        `json:"clOrdId"`
	Order         *entity.Order `json:"order"`
}

type connectAttempt struct {
	done chan struct{}
	once sync.Once
	err  error
}

func (a *connectAttempt) finish(err error) {
	a.once.Do(func() {
		a.err = err
		close(a.done)
	})
}

// Session is a single FIX initiator session with an optional simulate mode
type Session struct {
	cfg      Config
	simulate bool
	log      *logger.Logger
	events   *event.Emitter
	dial     DialFunc
	now      func() time.Time

	writeMu sync.Mutex

	mu             sync.Mutex
	conn           net.Conn
	connected      bool
	attempt        *connectAttempt
	outSeq         int
	inSeq          int
	lastHeartbeat  time.Time
	lastError      string
	reconnectTimer *time.Timer
	stopHeartbeat  chan struct{}
	closing        bool
	clSeq          int
}

// NewSession creates a session. Simulate mode is forced when the
// connection settings are incomplete.
func NewSession(cfg Config, log *logger.Logger) *Session {
	def := DefaultConfig()
	if cfg.BeginString == "" {
		cfg.BeginString = def.BeginString
	}
	if cfg.HeartBtInt <= 0 {
		cfg.HeartBtInt = def.HeartBtInt
	}
	if cfg.SimulatedFillDelay <= 0 {
		cfg.SimulatedFillDelay = def.SimulatedFillDelay
	}
	if cfg.LogonTimeout <= 0 {
		cfg.LogonTimeout = def.LogonTimeout
	}
	if log == nil {
		log = logger.Default()
	}

	s := &Session{
		cfg:    cfg,
		log:    log.WithField("component", "fix"),
		events: event.NewEmitter(),
		now:    time.Now,
	}
	s.simulate = cfg.Simulate || !s.IsConfigured()
	s.dial = (&net.Dialer{Timeout: cfg.LogonTimeout}).DialContext
	return s
}

// SetDialer replaces the transport dialer
func (s *Session) SetDialer(dial DialFunc) {
	s.dial = dial
}

// Subscribe registers a handler for fix:* events
func (s *Session) Subscribe(h event.Handler) {
	s.events.Subscribe(h)
}

// IsConfigured reports whether host, port and both comp ids are set
func (s *Session) IsConfigured() bool {
	return s.cfg.Host != "" && s.cfg.Port > 0 && s.cfg.SenderCompID != "" && s.cfg.TargetCompID != ""
}

// Simulated reports whether the session is in simulate mode
func (s *Session) Simulated() bool {
	return s.simulate
}

// Connected reports whether the session is logged on
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Connect logs on. Concurrent callers share the same attempt; a failure
// before logon is returned to all of them and is not retried.
func (s *Session) Connect(ctx context.Context) error {
	return s.connect(ctx, false)
}

// connect is shared by Connect and the reconnect timer. A reconnect never
// clears closing, so one that lost the race with Disconnect is a no-op.
func (s *Session) connect(ctx context.Context, reconnect bool) error {
	s.mu.Lock()
	if reconnect && s.closing {
		s.mu.Unlock()
		return nil
	}
	if s.simulate {
		already := s.connected
		s.connected = true
		s.closing = false
		s.lastHeartbeat = s.now()
		s.mu.Unlock()
		if !already {
			s.log.Info("FIX session in simulate mode")
			go s.events.Emit(event.FixLogon, LogonEvent{Simulated: true})
		}
		return nil
	}
	if s.connected {
		s.mu.Unlock()
		return nil
	}
	if !s.IsConfigured() {
		s.mu.Unlock()
		return ErrNotConfigured
	}

	a := s.attempt
	if a == nil {
		a = &connectAttempt{done: make(chan struct{})}
		s.attempt = a
		s.closing = false
		s.mu.Unlock()
		go s.runConnect(a)
	} else {
		s.mu.Unlock()
	}

	select {
	case <-a.done:
		return a.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) runConnect(a *connectAttempt) {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	s.log.Info("Connecting FIX session to %s (%s -> %s)", addr, s.cfg.SenderCompID, s.cfg.TargetCompID)

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.LogonTimeout)
	defer cancel()

	conn, err := s.dial(ctx, "tcp", addr)
	if err != nil {
		s.failAttempt(a, nil, fmt.Errorf("dial %s: %w", addr, err))
		return
	}

	s.mu.Lock()
	if s.attempt != a {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.conn = conn
	if s.cfg.ResetSeqNumFlag || s.outSeq == 0 {
		s.outSeq = 0
		s.inSeq = 0
	}
	s.mu.Unlock()

	go s.readLoop(conn, a)

	logon := NewMessage(MsgTypeLogon)
	logon.SetInt(TagEncryptMethod, 0)
	logon.SetInt(TagHeartBtInt, s.cfg.HeartBtInt)
	if s.cfg.ResetSeqNumFlag {
		logon.Set(TagResetSeqNumFlag, "Y")
	}
	if s.cfg.Username != "" {
		logon.Set(TagUsername, s.cfg.Username)
	}
	if s.cfg.Password != "" {
		logon.Set(TagPassword, s.cfg.Password)
	}
	if err := s.send(logon); err != nil {
		s.failAttempt(a, conn, fmt.Errorf("send logon: %w", err))
		return
	}

	timer := time.NewTimer(s.cfg.LogonTimeout)
	defer timer.Stop()
	select {
	case <-a.done:
	case <-timer.C:
		s.failAttempt(a, conn, errLogonTimeout)
	}
}

// failAttempt rejects every waiter of a pending attempt
func (s *Session) failAttempt(a *connectAttempt, conn net.Conn, err error) {
	s.mu.Lock()
	if s.attempt != a {
		s.mu.Unlock()
		return
	}
	s.attempt = nil
	s.connected = false
	s.lastError = err.Error()
	if conn != nil && s.conn == conn {
		s.conn = nil
	}
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	a.finish(err)
	s.log.Error("FIX connect failed: %v", err)
	s.events.Emit(event.FixError, err)
}

func (s *Session) completeLogon(a *connectAttempt) {
	s.mu.Lock()
	if s.attempt != a {
		s.mu.Unlock()
		return
	}
	s.attempt = nil
	s.connected = true
	s.lastHeartbeat = s.now()
	s.lastError = ""
	stop := make(chan struct{})
	s.stopHeartbeat = stop
	s.mu.Unlock()

	go s.heartbeatLoop(stop)
	a.finish(nil)
	s.log.Info("FIX logon complete")
	s.events.Emit(event.FixLogon, LogonEvent{Simulated: false})
}

func (s *Session) readLoop(conn net.Conn, a *connectAttempt) {
	r := bufio.NewReader(conn)
	for {
		raw, err := ReadMessage(r)
		if err != nil {
			s.handleSessionEnd(conn, a, err)
			return
		}
		msg, err := Parse(raw)
		if err != nil {
			s.log.Warn("Dropping inbound message: %v", err)
			s.mu.Lock()
			s.lastError = err.Error()
			s.mu.Unlock()
			continue
		}
		s.handleMessage(conn, a, msg)
	}
}

func (s *Session) handleMessage(conn net.Conn, a *connectAttempt, msg *Message) {
	s.mu.Lock()
	if seq := msg.SeqNum(); seq > 0 {
		s.inSeq = seq
	}
	s.lastHeartbeat = s.now()
	closing := s.closing
	s.mu.Unlock()

	switch msg.MsgType() {
	case MsgTypeLogon:
		s.completeLogon(a)
	case MsgTypeHeartbeat:
	case MsgTypeTestRequest:
		hb := NewMessage(MsgTypeHeartbeat)
		if id, ok := msg.Get(TagTestReqID); ok {
			hb.Set(TagTestReqID, id)
		}
		if err := s.send(hb); err != nil {
			s.log.Warn("Heartbeat reply failed: %v", err)
		}
	case MsgTypeLogout:
		text, _ := msg.Get(TagText)
		s.log.Warn("Counterparty logout: %s", text)
		if !closing {
			s.send(NewMessage(MsgTypeLogout))
		}
		conn.Close()
	case MsgTypeReject:
		text, _ := msg.Get(TagText)
		err := fmt.Errorf("session reject: %s", text)
		s.mu.Lock()
		s.lastError = err.Error()
		s.mu.Unlock()
		s.log.Warn("FIX reject: %s", text)
		s.events.Emit(event.FixError, err)
	case MsgTypeExecutionReport:
		report := ToExecutionReport(msg)
		s.log.Debug("Execution report: clOrdID=%s status=%s qty=%d", report.ClientOrderID, report.Status, report.Quantity)
		s.events.Emit(event.FixExecReport, report)
	default:
		s.log.Debug("Unhandled message type %s", msg.MsgType())
	}
}

func (s *Session) handleSessionEnd(conn net.Conn, a *connectAttempt, err error) {
	s.mu.Lock()
	pending := s.attempt == a
	active := s.conn == conn
	wasConnected := active && s.connected
	closing := s.closing
	if active {
		s.conn = nil
		s.connected = false
		if s.stopHeartbeat != nil {
			close(s.stopHeartbeat)
			s.stopHeartbeat = nil
		}
		if err != nil && !errors.Is(err, io.EOF) && !closing {
			s.lastError = err.Error()
		}
	}
	s.mu.Unlock()

	conn.Close()

	if pending {
		s.failAttempt(a, conn, errEndedBeforeLogon)
		return
	}
	if !wasConnected {
		return
	}

	reason := "session ended"
	if err != nil && !errors.Is(err, io.EOF) {
		reason = err.Error()
	}
	s.log.Warn("FIX session ended: %s", reason)
	s.events.Emit(event.FixDisconnect, DisconnectEvent{Reason: reason})
	if !closing {
		s.scheduleReconnect()
	}
}

func (s *Session) scheduleReconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.simulate || s.cfg.ReconnectInterval <= 0 || s.reconnectTimer != nil || s.closing {
		return
	}
	s.log.Info("Reconnecting in %s", s.cfg.ReconnectInterval)
	s.reconnectTimer = time.AfterFunc(s.cfg.ReconnectInterval, func() {
		s.mu.Lock()
		s.reconnectTimer = nil
		s.mu.Unlock()
		if err := s.connect(context.Background(), true); err != nil {
			s.log.Warn("Reconnect failed: %v", err)
			s.scheduleReconnect()
		}
	})
}

func (s *Session) heartbeatLoop(stop chan struct{}) {
	ticker := time.NewTicker(time.Duration(s.cfg.HeartBtInt) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := s.send(NewMessage(MsgTypeHeartbeat)); err != nil {
				s.log.Warn("Heartbeat failed: %v", err)
			}
		}
	}
}

func (s *Session) send(msg *Message) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	conn := s.conn
	if conn == nil {
		s.mu.Unlock()
		return ErrSessionUnavailable
	}
	s.outSeq++
	raw := msg.Encode(Header{
		BeginString:  s.cfg.BeginString,
		SenderCompID: s.cfg.SenderCompID,
		TargetCompID: s.cfg.TargetCompID,
		SeqNum:       s.outSeq,
		SendingTime:  s.now(),
	})
	s.mu.Unlock()

	if _, err := conn.Write(raw); err != nil {
		s.mu.Lock()
		s.lastError = err.Error()
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *Session) nextClientOrderID() string {
	s.mu.Lock()
	s.clSeq++
	n := s.clSeq
	s.mu.Unlock()
	return fmt.Sprintf("CL%d%d", s.now().UnixMilli(), n)
}

// SendOrder transmits a NewOrderSingle and returns the ClOrdID. In
// simulate mode no bytes are written; a filled report is emitted after
// the configured delay. A live session that is not logged on returns
// ErrSessionUnavailable and never fakes a fill.
func (s *Session) SendOrder(ctx context.Context, order *entity.Order) (string, error) {
	if order == nil {
		return "", errors.New("order is nil")
	}
	clOrdID := order.ClientOrderID
	if clOrdID == "" {
		clOrdID = s.nextClientOrderID()
	}

	if s.simulate {
		s.scheduleSimulatedFill(order.Clone(), clOrdID)
		return clOrdID, nil
	}

	if !s.Connected() {
		return "", ErrSessionUnavailable
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	msg := NewOrderSingle(order, clOrdID, s.cfg.Account, s.cfg.Symbol, s.now())
	if err := s.send(msg); err != nil {
		return "", fmt.Errorf("send order %s: %w", clOrdID, err)
	}

	s.log.Info("NewOrderSingle sent: %s %s %d %s", clOrdID, order.Side, order.Quantity, order.Type)
	s.events.Emit(event.FixOrderSent, OrderSentEvent{ClientOrderID: clOrdID, Order: order.Clone()})
	return clOrdID, nil
}

func (s *Session) scheduleSimulatedFill(order *entity.Order, clOrdID string) {
	time.AfterFunc(s.cfg.SimulatedFillDelay, func() {
		report := entity.ExecutionReport{
			OrderID:       order.ID,
			ClientOrderID: clOrdID,
			Status:        entity.OrderStatusFilled,
			Quantity:      order.Quantity,
			Side:          order.Side,
			Timestamp:     s.now(),
			Simulated:     true,
		}
		if order.Price != nil {
			report.Price = entity.Float(*order.Price)
		}
		s.events.Emit(event.FixExecReport, report)
	})
}

// Disconnect cancels any pending reconnect and logs out. The session is
// marked disconnected even when the logout cannot be sent.
func (s *Session) Disconnect(ctx context.Context, reason string) error {
	if reason == "" {
		reason = "manual"
	}

	s.mu.Lock()
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
	s.closing = true

	if s.simulate {
		s.connected = false
		s.mu.Unlock()
		s.events.Emit(event.FixDisconnect, DisconnectEvent{Reason: reason, Simulated: true})
		return nil
	}

	conn := s.conn
	wasConnected := s.connected
	pending := s.attempt
	s.mu.Unlock()

	if pending != nil {
		s.failAttempt(pending, conn, errDisconnected)
	}

	var logoutErr error
	if conn != nil && wasConnected {
		logout := NewMessage(MsgTypeLogout)
		logout.Set(TagText, reason)
		logoutErr = s.send(logout)
	}

	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	s.connected = false
	if s.stopHeartbeat != nil {
		close(s.stopHeartbeat)
		s.stopHeartbeat = nil
	}
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if wasConnected {
		s.log.Info("FIX session disconnected: %s", reason)
		s.events.Emit(event.FixDisconnect, DisconnectEvent{Reason: reason})
	}
	if logoutErr != nil {
		return fmt.Errorf("logout: %w", logoutErr)
	}
	return nil
}

// Status returns a snapshot of the session
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		Connected:    s.connected,
		Simulate:     s.simulate,
		LastError:    s.lastError,
		Host:         s.cfg.Host,
		Port:         s.cfg.Port,
		SenderCompID: s.cfg.SenderCompID,
		TargetCompID: s.cfg.TargetCompID,
	}
	if !s.lastHeartbeat.IsZero() {
		hb := s.lastHeartbeat
		st.LastHeartbeat = &hb
	}
	return st
}
