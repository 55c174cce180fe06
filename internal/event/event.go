// Package event defines the wire catalogue of the distribution node: the
// frame envelope, one typed payload per event name, and decoding with
// validation.
package event

import (
	"encoding/json"
	"time"
)

// Type is the event name carried in a frame's "type" field.
type Type string

// Inbound events, sent by connected clients or injected through ingress.
const (
	TypeJoinTable          Type = "join_table"
	TypeLeaveTable         Type = "leave_table"
	TypeOrderUpdate        Type = "order_update"
	TypeMenuUpdate         Type = "menu_update"
	TypeNewTicket          Type = "new_ticket"
	TypeOrderReady         Type = "order_ready"
	TypeTableStatusChanged Type = "table_status_changed"
	TypeReservationUpdate  Type = "reservation_update"
	TypeMarketingBroadcast Type = "marketing_broadcast"
)

// Outbound-only events, produced by the node itself.
const (
	TypeConnected   Type = "connected"
	TypeJoinedTable Type = "joined_table"
	TypeLeftTable   Type = "left_table"
)

// TimeFormat is the ISO-8601 layout used for server timestamps.
const TimeFormat = "2006-01-02T15:04:05.000Z"

// Envelope is the frame shape in both directions.
type Envelope struct {
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Frame encodes payload under t as a wire frame.
func Frame(t Type, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: t, Payload: raw})
}

// Timestamp formats at the way every outbound payload carries it.
func Timestamp(at time.Time) string {
	return at.UTC().Format(TimeFormat)
}

// Connected is the first frame a connection receives.
type Connected struct {
	UserID       string   `json:"userId"`
	Email        string   `json:"email,omitempty"`
	Role         string   `json:"role"`
	RestaurantID string   `json:"restaurantId,omitempty"`
	Rooms        []string `json:"rooms"`
}

// TableAck answers join_table and leave_table.
type TableAck struct {
	TableID ID     `json:"tableId"`
	Room    string `json:"room"`
}
