package notify

import (
	"encoding/json"
	"errors"
	"fmt"

	"restaurant-sync/internal/domain"
)

// ErrProtocolViolation marks an envelope carrying both or neither of the
// orderId/requestId discriminants. It indicates a publisher bug and is logged
// at a higher severity than ordinary decode noise.
var ErrProtocolViolation = errors.New("envelope discriminant violation")

// Envelope is the wire shape of a push notification. Exactly one of OrderID
// and RequestID must be present; everything else is advisory. The envelope is
// a hint to re-fetch authoritative state, not the state itself.
type Envelope struct {
	OrderID     *int64   `json:"orderId,omitempty"`
	OrderNumber string   `json:"orderNumber,omitempty"`
	Status      string   `json:"status,omitempty"`
	TotalAmount *float64 `json:"totalAmount,omitempty"`

	RequestID   *int64 `json:"requestId,omitempty"`
	RequestType string `json:"requestType,omitempty"`

	TableID     *int64 `json:"tableId,omitempty"`
	TableNumber string `json:"tableNumber,omitempty"`

	Message             string `json:"message,omitempty"`
	NotificationMessage string `json:"notificationMessage,omitempty"`
	CreatedAt           string `json:"createdAt,omitempty"`
}

// DecodeError wraps a structurally invalid payload. Callers log and drop it;
// it must never tear down the subscription.
type DecodeError struct{ err error }

func (e *DecodeError) Error() string { return fmt.Sprintf("decode envelope: %v", e.err) }
func (e *DecodeError) Unwrap() error { return e.err }

// Decode parses a raw wire payload into an Envelope.
func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, &DecodeError{err: err}
	}
	return env, nil
}

// Event is the classified form of an envelope: OrderEvent, RequestEvent or
// UnknownEvent. The union is sealed at the decode boundary so handlers never
// do ad hoc presence checks.
type Event interface{ event() }

// OrderEvent signals that an order's status changed. Status is canonicalized;
// when the wire value is unrecognized, StatusKnown is false and RawStatus
// preserves it verbatim for display.
type OrderEvent struct {
	OrderID     int64
	Status      domain.OrderStatus
	StatusKnown bool
	RawStatus   string
	Message     string
}

// RequestEvent signals a new table request. Advisory only: it is never merged
// into order state.
type RequestEvent struct {
	RequestID   int64
	TableID     int64
	TableNumber string
	RequestType string
	Message     string
}

// UnknownEvent is anything that cannot be classified. Violation distinguishes
// a broken discriminant from a forward-compatible unknown kind.
type UnknownEvent struct {
	Violation bool
}

func (OrderEvent) event()   {}
func (RequestEvent) event() {}
func (UnknownEvent) event() {}

// Classify applies the discriminator rule: presence of orderId vs requestId.
// Both or neither present is a protocol violation.
func Classify(env Envelope) Event {
	switch {
	case env.OrderID != nil && env.RequestID != nil:
		return UnknownEvent{Violation: true}
	case env.OrderID != nil:
		status, known := domain.CanonicalStatus(env.Status)
		return OrderEvent{
			OrderID:     *env.OrderID,
			Status:      status,
			StatusKnown: known,
			RawStatus:   env.Status,
			Message:     env.Message,
		}
	case env.RequestID != nil:
		msg := env.NotificationMessage
		if msg == "" {
			msg = env.Message
		}
		var tableID int64
		if env.TableID != nil {
			tableID = *env.TableID
		}
		return RequestEvent{
			RequestID:   *env.RequestID,
			TableID:     tableID,
			TableNumber: env.TableNumber,
			RequestType: env.RequestType,
			Message:     msg,
		}
	default:
		return UnknownEvent{Violation: true}
	}
}
