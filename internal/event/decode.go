package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrUnknownType = errors.New("unknown event type")
	ErrValidation  = errors.New("invalid event payload")
)

// ValidationError describes a payload that does not fit its event type.
type ValidationError struct {
	Type   Type
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("%s: %s", ErrValidation, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %s", ErrValidation, e.Type, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

var catalogue = map[Type]func() Event{
	TypeJoinTable:          func() Event { return new(JoinTable) },
	TypeLeaveTable:         func() Event { return new(LeaveTable) },
	TypeOrderUpdate:        func() Event { return new(OrderUpdate) },
	TypeMenuUpdate:         func() Event { return new(MenuUpdate) },
	TypeNewTicket:          func() Event { return new(NewTicket) },
	TypeOrderReady:         func() Event { return new(OrderReady) },
	TypeTableStatusChanged: func() Event { return new(TableStatusChanged) },
	TypeReservationUpdate:  func() Event { return new(ReservationUpdate) },
	TypeMarketingBroadcast: func() Event { return new(MarketingBroadcast) },
}

// Known reports whether t is an inbound event type.
func Known(t Type) bool {
	_, ok := catalogue[t]
	return ok
}

// Decode builds the typed payload for t from raw.
func Decode(t Type, raw json.RawMessage) (Event, error) {
	newEvent, ok := catalogue[t]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, &ValidationError{Type: t, Reason: "payload is required"}
	}
	if raw[0] != '{' {
		return nil, &ValidationError{Type: t, Reason: "payload must be an object"}
	}
	ev := newEvent()
	if err := json.Unmarshal(raw, ev); err != nil {
		return nil, &ValidationError{Type: t, Reason: err.Error()}
	}
	if err := ev.validate(); err != nil {
		return nil, &ValidationError{Type: t, Reason: err.Error()}
	}
	return ev, nil
}

// DecodeFrame parses a wire frame and its payload.
func DecodeFrame(data []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &ValidationError{Reason: "malformed frame: " + err.Error()}
	}
	if env.Type == "" {
		return nil, &ValidationError{Reason: "frame type is required"}
	}
	return Decode(env.Type, env.Payload)
}

// StampObject adds a server timestamp to an opaque JSON object unless it
// already carries one. A nil or empty object yields {"timestamp": ...}.
func StampObject(data json.RawMessage, at time.Time) (json.RawMessage, error) {
	fields := map[string]json.RawMessage{}
	data = bytes.TrimSpace(data)
	if len(data) > 0 && !bytes.Equal(data, []byte("null")) {
		if err := json.Unmarshal(data, &fields); err != nil {
			return nil, fmt.Errorf("data must be a JSON object: %w", err)
		}
		if fields == nil {
			fields = map[string]json.RawMessage{}
		}
	}
	if _, ok := fields["timestamp"]; !ok {
		ts, _ := json.Marshal(Timestamp(at))
		fields["timestamp"] = ts
	}
	return json.Marshal(fields)
}
