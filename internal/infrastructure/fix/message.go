package fix

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zono819/winbot/internal/domain/entity"
)

// SOH is the field delimiter
const SOH = '\x01'

// Tags used by the session
const (
	TagAccount         = 1
	TagAvgPx           = 6
	TagBeginString     = 8
	TagBodyLength      = 9
	TagCheckSum        = 10
	TagClOrdID         = 11
	TagExecID          = 17
	TagLastPx          = 31
	TagLastQty         = 32
	TagMsgSeqNum       = 34
	TagMsgType         = 35
	TagOrderID         = 37
	TagOrderQty        = 38
	TagOrdStatus       = 39
	TagOrdType         = 40
	TagPrice           = 44
	TagSenderCompID    = 49
	TagSendingTime     = 52
	TagSide            = 54
	TagSymbol          = 55
	TagTargetCompID    = 56
	TagText            = 58
	TagTimeInForce     = 59
	TagTransactTime    = 60
	TagEncryptMethod   = 98
	TagStopPx          = 99
	TagHeartBtInt      = 108
	TagTestReqID       = 112
	TagResetSeqNumFlag = 141
	TagExecType        = 150
	TagLeavesQty       = 151
	TagUsername        = 553
	TagPassword        = 554
)

// Message types
const (
	MsgTypeHeartbeat       = "0"
	MsgTypeTestRequest     = "1"
	MsgTypeReject          = "3"
	MsgTypeLogout          = "5"
	MsgTypeExecutionReport = "8"
	MsgTypeLogon           = "A"
	MsgTypeNewOrderSingle  = "D"
)

const timestampLayout = "20060102-15:04:05.000"

var (
	// ErrBadChecksum is returned when the trailer does not match the content
	ErrBadChecksum = errors.New("fix: checksum mismatch")
	// ErrMalformed is returned for frames that do not follow tag=value framing
	ErrMalformed = errors.New("fix: malformed message")
)

var headerTags = map[int]bool{
	TagBeginString:  true,
	TagBodyLength:   true,
	TagCheckSum:     true,
	TagMsgType:      true,
	TagSenderCompID: true,
	TagTargetCompID: true,
	TagMsgSeqNum:    true,
	TagSendingTime:  true,
}

// Field is a single tag=value pair
type Field struct {
	Tag   int
	Value string
}

// Message is an ordered list of fields
type Message struct {
	fields []Field
}

// NewMessage creates a message of the given type
func NewMessage(msgType string) *Message {
	m := &Message{}
	m.Set(TagMsgType, msgType)
	return m
}

// Set adds or replaces a field
func (m *Message) Set(tag int, value string) *Message {
	for i := range m.fields {
		if m.fields[i].Tag == tag {
			m.fields[i].Value = value
			return m
		}
	}
	m.fields = append(m.fields, Field{Tag: tag, Value: value})
	return m
}

// SetInt sets an integer field
func (m *Message) SetInt(tag, value int) *Message {
	return m.Set(tag, strconv.Itoa(value))
}

// SetDecimal sets a numeric field without float formatting noise
func (m *Message) SetDecimal(tag int, value float64) *Message {
	return m.Set(tag, decimal.NewFromFloat(value).String())
}

// Get returns a field value
func (m *Message) Get(tag int) (string, bool) {
	for _, f := range m.fields {
		if f.Tag == tag {
			return f.Value, true
		}
	}
	return "", false
}

// GetInt returns an integer field, accepting decimal notation
func (m *Message) GetInt(tag int) (int, bool) {
	v, ok := m.Get(tag)
	if !ok {
		return 0, false
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return 0, false
	}
	return int(d.IntPart()), true
}

// GetFloat returns a numeric field
func (m *Message) GetFloat(tag int) (float64, bool) {
	v, ok := m.Get(tag)
	if !ok {
		return 0, false
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return 0, false
	}
	f, _ := d.Float64()
	return f, true
}

// MsgType returns tag 35
func (m *Message) MsgType() string {
	v, _ := m.Get(TagMsgType)
	return v
}

// SeqNum returns tag 34
func (m *Message) SeqNum() int {
	n, _ := m.GetInt(TagMsgSeqNum)
	return n
}

// Fields returns a copy of the fields in order
func (m *Message) Fields() []Field {
	return append([]Field(nil), m.fields...)
}

// Header carries the per-session values stamped on every outbound message
type Header struct {
	BeginString  string
	SenderCompID string
	TargetCompID string
	SeqNum       int
	SendingTime  time.Time
}

// Encode renders the message with standard header and checksum trailer
func (m *Message) Encode(h Header) []byte {
	var body bytes.Buffer
	writeField(&body, TagMsgType, m.MsgType())
	writeField(&body, TagSenderCompID, h.SenderCompID)
	writeField(&body, TagTargetCompID, h.TargetCompID)
	writeField(&body, TagMsgSeqNum, strconv.Itoa(h.SeqNum))
	writeField(&body, TagSendingTime, h.SendingTime.UTC().Format(timestampLayout))
	for _, f := range m.fields {
		if headerTags[f.Tag] {
			continue
		}
		writeField(&body, f.Tag, f.Value)
	}

	var out bytes.Buffer
	writeField(&out, TagBeginString, h.BeginString)
	writeField(&out, TagBodyLength, strconv.Itoa(body.Len()))
	out.Write(body.Bytes())
	writeField(&out, TagCheckSum, fmt.Sprintf("%03d", checksum(out.Bytes())))
	return out.Bytes()
}

func writeField(b *bytes.Buffer, tag int, value string) {
	b.WriteString(strconv.Itoa(tag))
	b.WriteByte('=')
	b.WriteString(value)
	b.WriteByte(SOH)
}

func checksum(b []byte) int {
	sum := 0
	for _, c := range b {
		sum += int(c)
	}
	return sum % 256
}

// Parse decodes a complete frame and verifies body length and checksum
func Parse(raw []byte) (*Message, error) {
	if len(raw) == 0 || raw[len(raw)-1] != SOH {
		return nil, ErrMalformed
	}

	trailerAt := bytes.LastIndex(raw[:len(raw)-1], []byte{SOH})
	if trailerAt < 0 || !bytes.HasPrefix(raw[trailerAt+1:], []byte("10=")) {
		return nil, fmt.Errorf("%w: missing checksum", ErrMalformed)
	}
	want, err := strconv.Atoi(string(raw[trailerAt+4 : len(raw)-1]))
	if err != nil {
		return nil, fmt.Errorf("%w: checksum value", ErrMalformed)
	}
	if checksum(raw[:trailerAt+1]) != want {
		return nil, ErrBadChecksum
	}

	m := &Message{}
	parts := strings.Split(string(raw[:trailerAt]), string(SOH))
	for i, p := range parts {
		eq := strings.IndexByte(p, '=')
		if eq <= 0 {
			return nil, fmt.Errorf("%w: field %q", ErrMalformed, p)
		}
		tag, err := strconv.Atoi(p[:eq])
		if err != nil {
			return nil, fmt.Errorf("%w: tag %q", ErrMalformed, p[:eq])
		}
		if i == 0 && tag != TagBeginString {
			return nil, fmt.Errorf("%w: must start with BeginString", ErrMalformed)
		}
		if i == 1 && tag != TagBodyLength {
			return nil, fmt.Errorf("%w: BodyLength must be second", ErrMalformed)
		}
		m.fields = append(m.fields, Field{Tag: tag, Value: p[eq+1:]})
	}

	if m.MsgType() == "" {
		return nil, fmt.Errorf("%w: missing MsgType", ErrMalformed)
	}
	return m, nil
}

// ReadMessage reads one complete frame from r
func ReadMessage(r *bufio.Reader) ([]byte, error) {
	begin, err := r.ReadString(SOH)
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(begin, "8=") {
		return nil, fmt.Errorf("%w: expected BeginString, got %q", ErrMalformed, begin)
	}
	lengthField, err := r.ReadString(SOH)
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(lengthField, "9=") {
		return nil, fmt.Errorf("%w: expected BodyLength", ErrMalformed)
	}
	n, err := strconv.Atoi(strings.TrimSuffix(lengthField[2:], string(SOH)))
	if err != nil || n < 0 {
		return nil, fmt.Errorf("%w: BodyLength %q", ErrMalformed, lengthField)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	trailer, err := r.ReadString(SOH)
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(trailer, "10=") {
		return nil, fmt.Errorf("%w: BodyLength does not match body", ErrMalformed)
	}

	frame := make([]byte, 0, len(begin)+len(lengthField)+n+len(trailer))
	frame = append(frame, begin...)
	frame = append(frame, lengthField...)
	frame = append(frame, body...)
	frame = append(frame, trailer...)
	return frame, nil
}

var (
	sideCodes = map[entity.Side]string{entity.SideBuy: "1", entity.SideSell: "2"}
	typeCodes = map[entity.OrderType]string{entity.OrderTypeMarket: "1", entity.OrderTypeLimit: "2"}
	tifCodes  = map[entity.TimeInForce]string{
		entity.TimeInForceDay: "0",
		entity.TimeInForceGTC: "1",
		entity.TimeInForceIOC: "3",
		entity.TimeInForceFOK: "4",
	}
	ordStatuses = map[string]entity.OrderStatus{
		"0": entity.OrderStatusNew,
		"1": entity.OrderStatusPartial,
		"2": entity.OrderStatusFilled,
		"4": entity.OrderStatusCanceled,
		"8": entity.OrderStatusRejected,
	}
)

func codeOr(m map[string]string, key, def string) string {
	if v, ok := m[key]; ok {
		return v
	}
	return def
}

// NewOrderSingle builds a 35=D message for the order
func NewOrderSingle(order *entity.Order, clOrdID, account, defaultSymbol string, now time.Time) *Message {
	symbol := order.Symbol
	if symbol == "" {
		symbol = defaultSymbol
	}
	if symbol == "" {
		symbol = "WIN"
	}

	side, ok := sideCodes[order.Side]
	if !ok {
		side = "1"
	}
	ordType, ok := typeCodes[order.Type]
	if !ok {
		ordType = "1"
	}
	tif, ok := tifCodes[order.TimeInForce]
	if !ok {
		tif = "0"
	}

	m := NewMessage(MsgTypeNewOrderSingle)
	m.Set(TagClOrdID, clOrdID)
	if account != "" {
		m.Set(TagAccount, account)
	}
	m.Set(TagSymbol, symbol)
	m.Set(TagSide, side)
	m.Set(TagTransactTime, now.UTC().Format(timestampLayout))
	m.SetInt(TagOrderQty, order.Quantity)
	m.Set(TagOrdType, ordType)
	m.Set(TagTimeInForce, tif)
	if ordType == "2" && order.Price != nil {
		m.SetDecimal(TagPrice, *order.Price)
	}
	if order.StopPrice != nil && *order.StopPrice != 0 {
		m.SetDecimal(TagStopPx, *order.StopPrice)
	}
	return m
}

// ToExecutionReport maps a 35=8 message onto the domain report
func ToExecutionReport(m *Message) entity.ExecutionReport {
	r := entity.ExecutionReport{Timestamp: time.Now()}

	r.ClientOrderID, _ = m.Get(TagClOrdID)
	r.BrokerOrderID, _ = m.Get(TagOrderID)
	r.ExecutionID, _ = m.Get(TagExecID)
	r.Text, _ = m.Get(TagText)

	if v, ok := m.Get(TagOrdStatus); ok {
		r.Status = ordStatuses[v]
	}
	if v, ok := m.Get(TagSide); ok {
		switch v {
		case "1":
			r.Side = entity.SideBuy
		case "2":
			r.Side = entity.SideSell
		}
	}
	if px, ok := m.GetFloat(TagLastPx); ok && px > 0 {
		r.Price = entity.Float(px)
	} else if avg, ok := m.GetFloat(TagAvgPx); ok && avg > 0 {
		r.Price = entity.Float(avg)
	}
	if q, ok := m.GetInt(TagLastQty); ok {
		r.Quantity = q
	}
	if q, ok := m.GetInt(TagLeavesQty); ok {
		r.LeavesQuantity = q
	}
	if v, ok := m.Get(TagTransactTime); ok {
		if ts, err := time.Parse(timestampLayout, v); err == nil {
			r.Timestamp = ts
		}
	}
	return r
}
