// Package ingress lets trusted internal services inject events without
// holding a connection: over HTTP, a Redis channel, or a NATS subject.
// Requests name their target room directly and skip role authorization.
package ingress

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/christopherjohns/tablecast/internal/event"
	"github.com/christopherjohns/tablecast/internal/room"
)

// Sink receives validated ingress events. The event router satisfies it.
type Sink interface {
	Emit(ctx context.Context, target room.Name, t event.Type, data json.RawMessage) (int, error)
}

// Request is the body every ingress transport accepts.
//
// The target is given either structurally, as tenant plus one of scope or
// table, or as a ready-made room name in room. Room names are
//
//	global
//	user:<userId>
//	tenant:<tenantId>:<scope>          scope: all admin waiters kitchen bar host
//	tenant:<tenantId>:table:<tableId>
//
// with "%" and ":" inside ids escaped as "%25" and "%3A". The structural
// form does that escaping itself and is preferred.
type Request struct {
	Room   string          `json:"room,omitempty"`
	Tenant event.ID        `json:"tenant,omitempty"`
	Scope  string          `json:"scope,omitempty"`
	Table  event.ID        `json:"table,omitempty"`
	Event  string          `json:"event"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Response is returned to callers that can receive one.
type Response struct {
	Success   bool   `json:"success"`
	Room      string `json:"room,omitempty"`
	Event     string `json:"event,omitempty"`
	Delivered int    `json:"delivered"`
	Error     string `json:"error,omitempty"`
}

// Target returns the room the request addresses.
func (r Request) Target() (room.Name, error) {
	invalid := func(reason string) error {
		return &event.ValidationError{Type: event.Type(r.Event), Reason: reason}
	}
	structural := r.Tenant != "" || r.Scope != "" || r.Table != ""
	switch {
	case r.Room != "" && structural:
		return "", invalid("give either room or tenant with scope/table, not both")
	case r.Room != "":
		return room.Name(r.Room), nil
	case !structural:
		return "", invalid("room is required")
	case r.Tenant == "":
		return "", invalid("tenant is required with scope or table")
	case r.Scope == "" && r.Table == "":
		return "", invalid("scope or table is required with tenant")
	case r.Scope != "" && r.Table != "":
		return "", invalid("give either scope or table, not both")
	case r.Table != "":
		return room.Table(r.Tenant.String(), r.Table.String()), nil
	case !room.Scope(r.Scope).Valid():
		return "", invalid(fmt.Sprintf("unknown scope %q", r.Scope))
	default:
		return room.Tenant(r.Tenant.String(), room.Scope(r.Scope)), nil
	}
}

// Validate checks the request shape. Errors match event.ErrValidation.
func (r Request) Validate() error {
	if r.Event == "" {
		return &event.ValidationError{Reason: "event is required"}
	}
	if _, err := r.Target(); err != nil {
		return err
	}
	data := bytes.TrimSpace(r.Data)
	if len(data) > 0 && !bytes.Equal(data, []byte("null")) && data[0] != '{' {
		return &event.ValidationError{Type: event.Type(r.Event), Reason: "data must be a JSON object"}
	}
	return nil
}

// Dispatch decodes raw as a Request and forwards it to sink.
func Dispatch(ctx context.Context, sink Sink, raw []byte) (Response, error) {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return Response{}, &event.ValidationError{Reason: fmt.Sprintf("malformed request: %v", err)}
	}
	if err := req.Validate(); err != nil {
		return Response{Room: req.Room, Event: req.Event}, err
	}
	target, _ := req.Target()
	n, err := sink.Emit(ctx, target, event.Type(req.Event), req.Data)
	if err != nil {
		return Response{Room: target.String(), Event: req.Event}, err
	}
	return Response{Success: true, Room: target.String(), Event: req.Event, Delivered: n}, nil
}
