package observability

import "time"

// EventEnvelope wraps websocket lifecycle events published to the
// CRM's event bus for session analytics.
type EventEnvelope struct {
	EventType  string      `json:"event_type"`
	EventName  string      `json:"event_name"`
	Service    string      `json:"service"`
	OccurredAt string      `json:"occurred_at"`
	Payload    interface{} `json:"payload"`
}

func (e *EventEnvelope) stamp() {
	if e.Service == "" {
		e.Service = "crm-messaging"
	}
	if e.OccurredAt == "" {
		e.OccurredAt = time.Now().UTC().Format(time.RFC3339Nano)
	}
}

func BuildHeaders(requestID, traceID string) map[string]string {
	headers := map[string]string{}
	if requestID != "" {
		headers["x-request-id"] = requestID
	}
	if traceID != "" {
		headers["trace_id"] = traceID
	}
	return headers
}
