package http

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/zono819/winbot/internal/domain/entity"
)

const maxStringLength = 255

var (
	allowedSides       = map[string]bool{"BUY": true, "SELL": true}
	allowedTypes       = map[string]bool{"MARKET": true, "LIMIT": true}
	allowedTimeInForce = map[string]bool{"DAY": true, "GTC": true, "IOC": true, "FOK": true}
	allowedActions     = map[string]bool{"start": true, "pause": true, "stop": true}
)

var controlCharReplacer = strings.NewReplacer("\r", " ", "\n", " ", "\t", " ")

// SanitizeString replaces CR/LF/TAB with spaces, trims and caps the length
// at maxStringLength bytes without splitting a rune.
// Non-string values become "".
func SanitizeString(v interface{}) string {
	s, ok := v.(string)
	if !ok {
		return ""
	}
	s = strings.TrimSpace(controlCharReplacer.Replace(s))
	if len(s) > maxStringLength {
		// cap in bytes, backing off to a rune boundary
		cut := maxStringLength
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut]
	}
	return s
}

// parseNumber accepts JSON numbers and numeric strings
func parseNumber(v interface{}) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// OrderPayload is the loosely typed order body
type OrderPayload struct {
	Symbol      interface{} `json:"symbol"`
	Side        interface{} `json:"side"`
	Type        interface{} `json:"type"`
	TimeInForce interface{} `json:"timeInForce"`
	Quantity    interface{} `json:"quantity"`
	Price       interface{} `json:"price"`
	StopPrice   interface{} `json:"stopPrice"`
	Metadata    interface{} `json:"metadata"`
}

// ValidateOrder normalizes an order payload. The returned field list is
// empty when the payload is valid.
func ValidateOrder(p OrderPayload) (entity.OrderRequest, []string) {
	var fields []string

	side := "BUY"
	if p.Side != nil {
		side = strings.ToUpper(SanitizeString(p.Side))
	}
	orderType := "MARKET"
	if p.Type != nil {
		orderType = strings.ToUpper(SanitizeString(p.Type))
	}
	tif := "DAY"
	if p.TimeInForce != nil {
		tif = strings.ToUpper(SanitizeString(p.TimeInForce))
	}

	if !allowedSides[side] {
		fields = append(fields, "side")
	}
	if !allowedTypes[orderType] {
		fields = append(fields, "type")
	}
	if !allowedTimeInForce[tif] {
		fields = append(fields, "timeInForce")
	}

	qty, ok := parseNumber(p.Quantity)
	if !ok || qty <= 0 || qty != math.Trunc(qty) {
		fields = append(fields, "quantity")
	}

	var price *float64
	if p.Price != nil {
		if v, ok := parseNumber(p.Price); ok {
			price = &v
		} else {
			fields = append(fields, "price")
		}
	}
	if orderType == "LIMIT" && (price == nil || *price <= 0) && !contains(fields, "price") {
		fields = append(fields, "price")
	}

	var stop *float64
	if p.StopPrice != nil {
		if v, ok := parseNumber(p.StopPrice); ok && v > 0 {
			stop = &v
		} else {
			fields = append(fields, "stopPrice")
		}
	}

	req := entity.OrderRequest{
		Symbol:      SanitizeString(p.Symbol),
		Side:        side,
		Type:        orderType,
		TimeInForce: tif,
		Quantity:    qty,
		Price:       price,
		StopPrice:   stop,
		Metadata:    sanitizeMetadata(p.Metadata),
	}
	return req, fields
}

func sanitizeMetadata(v interface{}) map[string]string {
	m, ok := v.(map[string]interface{})
	if !ok || len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]string, len(m))
	for _, k := range keys {
		key := SanitizeString(k)
		if key == "" {
			continue
		}
		switch v := m[k].(type) {
		case string:
			out[key] = SanitizeString(v)
		case nil:
		default:
			out[key] = SanitizeString(fmt.Sprint(v))
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// ControlPayload is the body of the control endpoint
type ControlPayload struct {
	Action     interface{} `json:"action"`
	Parameters interface{} `json:"parameters"`
}

// ValidateControl returns the lowercase action and its parameters
func ValidateControl(p ControlPayload) (string, map[string]interface{}, bool) {
	action := strings.ToLower(SanitizeString(p.Action))
	if !allowedActions[action] {
		return "", nil, false
	}
	params, ok := p.Parameters.(map[string]interface{})
	if !ok || params == nil {
		params = map[string]interface{}{}
	}
	return action, params, true
}
