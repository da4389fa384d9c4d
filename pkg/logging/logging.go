package logging

import (
	"encoding/json"
	"log"
	"time"
)

// Fields is one structured line of the checkout / stock trail.
type Fields struct {
	Service    string `json:"service"`
	BuyerID    string `json:"buyer_id,omitempty"`
	OrderID    string `json:"order_id,omitempty"`
	EventID    string `json:"event_id,omitempty"`
	Step       string `json:"step,omitempty"`
	Status     string `json:"status,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`
	Message    string `json:"message,omitempty"`
}

// Log writes fields as a single JSON line through the standard logger.
func Log(fields Fields) {
	log.Print(Format(fields, time.Now().UTC()))
}

// Format renders fields with the given timestamp.
func Format(fields Fields, at time.Time) string {
	payload := struct {
		Fields
		Timestamp string `json:"timestamp"`
	}{Fields: fields, Timestamp: at.Format(time.RFC3339Nano)}

	data, err := json.Marshal(payload)
	if err != nil {
		return fallbackLine(fields.Service)
	}
	return string(data)
}

// fallbackLine is emitted when the full line cannot be encoded. It stays valid
// JSON whatever the service name contains.
func fallbackLine(service string) string {
	name, _ := json.Marshal(service)
	return `{"service":` + string(name) + `,"status":"log_error"}`
}
