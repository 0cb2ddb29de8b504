package notifier

import "time"

// EventType enumerates the structured events the core emits.
type EventType string

const (
	EventBotStarted   EventType = "bot_started"
	EventBotStopped   EventType = "bot_stopped"
	EventTradeOpened  EventType = "trade_opened"
	EventTradeClosed  EventType = "trade_closed"
	EventRiskRejected EventType = "risk_rejected"
)

// Event is a structured notification. Fields carry event-specific payload
// (symbol, side, profit, reason, ...).
type Event struct {
	Type   EventType
	Fields map[string]any
	At     time.Time
}

func NewEvent(typ EventType, fields map[string]any) Event {
	if fields == nil {
		fields = map[string]any{}
	}
	return Event{Type: typ, Fields: fields, At: time.Now()}
}

// Sink delivers events to the outside world. Implementations must be safe
// for concurrent use; delivery failures are the sink's problem to retry,
// callers only log them.
type Sink interface {
	Send(evt Event) error
}

// Null discards everything. Useful in tests and when notifications are
// disabled.
type Null struct{}

func (Null) Send(Event) error { return nil }
