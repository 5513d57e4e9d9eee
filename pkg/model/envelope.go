package model

import (
	"encoding/json"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

// Envelope is the canonical wrapper for events published off the service.
type Envelope struct {
	ID            uuid.UUID       `json:"id"`
	CorrelationID uuid.UUID       `json:"correlation_id"`
	Contract      Address         `json:"contract"`
	Caller        Address         `json:"caller"`
	Topic         string          `json:"topic"`
	EventType     string          `json:"event_type"`
	Version       string          `json:"version"`
	Timestamp     time.Time       `json:"timestamp"`
	Payload       json.RawMessage `json:"payload"`
}

// Receipt describes one committed call on the host ledger.
type Receipt struct {
	ID          uuid.UUID `json:"id"`
	Caller      Address   `json:"caller"`
	Method      string    `json:"method"`
	BlockTime   time.Time `json:"blockTime"`
	Sequence    uint64    `json:"sequence"`
	Events      []Event   `json:"events"`
	CommittedAt time.Time `json:"committedAt"`
}

// EventsNamed returns the receipt's events with the given name.
func (r *Receipt) EventsNamed(name string) []Event {
	var out []Event
	for _, e := range r.Events {
		if e.EventName() == name {
			out = append(out, e)
		}
	}
	return out
}

// EventType converts an event name such as "OfferAccepted" into its
// dotted wire form, "offer.accepted".
func EventType(name string) string {
	var b strings.Builder
	for i, r := range name {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('.')
			}
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}

// NewEnvelope wraps one event of a committed call. The receipt id is the
// correlation id shared by every event of the call.
func NewEnvelope(contract Address, r *Receipt, ev Event, topic string) (*Envelope, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		ID:            uuid.New(),
		CorrelationID: r.ID,
		Contract:      contract,
		Caller:        r.Caller,
		Topic:         topic,
		EventType:     EventType(ev.EventName()),
		Version:       "1.0.0",
		Timestamp:     r.BlockTime,
		Payload:       payload,
	}, nil
}
