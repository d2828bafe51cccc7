// Package eventbus forwards coordinator events to dashboards and brokers.
package eventbus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/zono819/winbot/internal/domain/event"
)

// Envelope is the wire form of an event
type Envelope struct {
	Event     string      `json:"event"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// Encode marshals an event into its envelope
func Encode(ev event.Event) ([]byte, error) {
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	payload := ev.Payload
	if err, ok := payload.(error); ok {
		payload = map[string]string{"error": err.Error()}
	}
	data, err := json.Marshal(Envelope{Event: string(ev.Name), Payload: payload, Timestamp: at})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", ev.Name, err)
	}
	return data, nil
}
