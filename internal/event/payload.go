package event

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Event is one decoded inbound payload. The set of implementations is
// closed: only the payload types in this file satisfy it.
type Event interface {
	Type() Type
	// SetStamp records when and by whom the server relayed the event,
	// overwriting anything the sender supplied.
	SetStamp(at time.Time, by string)
	validate() error
}

// Stamp is embedded in every payload.
type Stamp struct {
	Timestamp string `json:"timestamp,omitempty"`
	UpdatedBy string `json:"updatedBy,omitempty"`
}

func (s *Stamp) SetStamp(at time.Time, by string) {
	s.Timestamp = Timestamp(at)
	s.UpdatedBy = by
}

// ID is an identifier that clients send either as a JSON string or a JSON
// number. It is re-encoded as a string.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*id = ""
		return nil
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	default:
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("id must be a string or number: %w", err)
		}
		*id = ID(n.String())
		return nil
	}
}

func (id ID) String() string { return string(id) }

// Station is the preparation area a ticket item belongs to.
type Station string

const (
	StationKitchen Station = "kitchen"
	StationBar     Station = "bar"
)

type JoinTable struct {
	TableID ID `json:"tableId"`
	Stamp
}

type LeaveTable struct {
	TableID ID `json:"tableId"`
	Stamp
}

type OrderUpdate struct {
	OrderID ID     `json:"orderId"`
	Status  string `json:"status"`
	TableID ID     `json:"tableId,omitempty"`
	Stamp
}

type MenuUpdate struct {
	ItemID      ID     `json:"itemId"`
	IsAvailable bool   `json:"isAvailable"`
	Name        string `json:"name,omitempty"`
	Stamp
}

// TicketItem is one line of a kitchen or bar ticket. An item without a
// station follows the ticket's station, or the kitchen when the ticket has
// none.
type TicketItem struct {
	ID       ID      `json:"id,omitempty"`
	Name     string  `json:"name"`
	Quantity int     `json:"quantity"`
	Station  Station `json:"station,omitempty"`
	Notes    string  `json:"notes,omitempty"`
}

type NewTicket struct {
	OrderID ID           `json:"orderId"`
	TableID ID           `json:"tableId,omitempty"`
	Items   []TicketItem `json:"items"`
	Station Station      `json:"station,omitempty"`
	Stamp
}

// Split groups the ticket's items by station. The returned tickets carry
// only the items for their station and share everything else.
func (t *NewTicket) Split() map[Station]*NewTicket {
	out := make(map[Station]*NewTicket, 2)
	for _, it := range t.Items {
		st := it.Station
		if st == "" {
			st = t.Station
		}
		if st == "" {
			st = StationKitchen
		}
		if t.Station != "" && st != t.Station {
			continue
		}
		part, ok := out[st]
		if !ok {
			cp := *t
			cp.Station = st
			cp.Items = nil
			part = &cp
			out[st] = part
		}
		part.Items = append(part.Items, it)
	}
	return out
}

type OrderReady struct {
	OrderID     ID     `json:"orderId"`
	TableNumber ID     `json:"tableNumber,omitempty"`
	ItemName    string `json:"itemName,omitempty"`
	Quantity    int    `json:"quantity,omitempty"`
	WaiterID    ID     `json:"waiterId,omitempty"`
	Stamp
}

type TableStatusChanged struct {
	TableID   ID     `json:"tableId"`
	NewStatus string `json:"newStatus"`
	OldStatus string `json:"oldStatus,omitempty"`
	Stamp
}

type ReservationUpdate struct {
	ReservationID ID     `json:"reservationId"`
	Status        string `json:"status"`
	PartySize     int    `json:"partySize,omitempty"`
	TableID       ID     `json:"tableId,omitempty"`
	Stamp
}

type MarketingBroadcast struct {
	CampaignID    ID     `json:"campaignId"`
	Title         string `json:"title,omitempty"`
	Body          string `json:"body,omitempty"`
	TargetSegment string `json:"targetSegment,omitempty"`
	RestaurantID  ID     `json:"restaurantId,omitempty"`
	Stamp
}

func (*JoinTable) Type() Type          { return TypeJoinTable }
func (*LeaveTable) Type() Type         { return TypeLeaveTable }
func (*OrderUpdate) Type() Type        { return TypeOrderUpdate }
func (*MenuUpdate) Type() Type         { return TypeMenuUpdate }
func (*NewTicket) Type() Type          { return TypeNewTicket }
func (*OrderReady) Type() Type         { return TypeOrderReady }
func (*TableStatusChanged) Type() Type { return TypeTableStatusChanged }
func (*ReservationUpdate) Type() Type  { return TypeReservationUpdate }
func (*MarketingBroadcast) Type() Type { return TypeMarketingBroadcast }

func (e *JoinTable) validate() error  { return required("tableId", e.TableID) }
func (e *LeaveTable) validate() error { return required("tableId", e.TableID) }

func (e *OrderUpdate) validate() error {
	if err := required("orderId", e.OrderID); err != nil {
		return err
	}
	return required("status", ID(e.Status))
}

func (e *MenuUpdate) validate() error { return required("itemId", e.ItemID) }

func (e *NewTicket) validate() error {
	if err := required("orderId", e.OrderID); err != nil {
		return err
	}
	if len(e.Items) == 0 {
		return fmt.Errorf("items must not be empty")
	}
	if !validStation(e.Station) {
		return fmt.Errorf("unknown station %q", e.Station)
	}
	for i, it := range e.Items {
		if !validStation(it.Station) {
			return fmt.Errorf("items[%d]: unknown station %q", i, it.Station)
		}
	}
	return nil
}

func (e *OrderReady) validate() error { return required("orderId", e.OrderID) }

func (e *TableStatusChanged) validate() error {
	if err := required("tableId", e.TableID); err != nil {
		return err
	}
	return required("newStatus", ID(e.NewStatus))
}

func (e *ReservationUpdate) validate() error {
	if err := required("reservationId", e.ReservationID); err != nil {
		return err
	}
	return required("status", ID(e.Status))
}

func (e *MarketingBroadcast) validate() error { return required("campaignId", e.CampaignID) }

func required(field string, v ID) error {
	if v == "" {
		return fmt.Errorf("%s is required", field)
	}
	return nil
}

func validStation(s Station) bool {
	return s == "" || s == StationKitchen || s == StationBar
}
