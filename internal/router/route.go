package router

import (
	"context"
	"errors"

	"github.com/christopherjohns/tablecast/internal/event"
	"github.com/christopherjohns/tablecast/internal/identity"
	"github.com/christopherjohns/tablecast/internal/room"
)

// handle decodes one socket frame and routes it. Everything here runs on
// the dispatch goroutine; failures are counted and logged, never returned.
func (r *Router) handle(s *session, data []byte) {
	id := s.conn.ID()
	ev, err := event.DecodeFrame(data)
	if err != nil {
		reason := DropMalformed
		if errors.Is(err, event.ErrUnknownType) {
			reason = DropUnknownType
		}
		r.drop(reason, "conn", id, "error", err)
		return
	}

	r.received.Add(1)
	r.metrics.EventReceived(context.Background(), "socket", string(ev.Type()))
	ev.SetStamp(r.now(), s.claims.Display())

	if mb, ok := ev.(*event.MarketingBroadcast); ok {
		r.marketing(s, mb)
		return
	}
	if !s.claims.Tenanted() {
		r.drop(DropUntenanted, "conn", id, "event", ev.Type())
		return
	}

	tenant := s.claims.TenantID
	switch e := ev.(type) {
	case *event.JoinTable:
		name := room.Table(tenant, e.TableID.String())
		r.rooms.Join(name, id)
		r.ack(id, event.TypeJoinedTable, e.TableID, name)

	case *event.LeaveTable:
		name := room.Table(tenant, e.TableID.String())
		r.rooms.Leave(name, id)
		r.ack(id, event.TypeLeftTable, e.TableID, name)

	case *event.OrderUpdate:
		targets := []room.Name{room.Tenant(tenant, room.ScopeKitchen)}
		if e.TableID != "" {
			targets = append(targets, room.Table(tenant, e.TableID.String()))
		}
		r.publishEvent(e, targets...)

	case *event.MenuUpdate:
		r.publishEvent(e, room.Tenant(tenant, room.ScopeWaiters))

	case *event.NewTicket:
		parts := e.Split()
		if len(parts) == 0 {
			r.drop(DropNoRecipients, "conn", id, "event", e.Type(), "station", e.Station)
			return
		}
		for station, part := range parts {
			r.publishEvent(part, room.Tenant(tenant, stationScope(station)))
		}

	case *event.OrderReady:
		if e.WaiterID != "" {
			r.direct(tenant, e.WaiterID.String(), e)
		}
		r.publishEvent(e, room.Tenant(tenant, room.ScopeWaiters))

	case *event.TableStatusChanged:
		r.publishEvent(e, room.Tenant(tenant, room.ScopeAll))

	case *event.ReservationUpdate:
		r.publishEvent(e, room.Tenant(tenant, room.ScopeHost), room.Tenant(tenant, room.ScopeWaiters))
	}
}

// marketing applies the broadcast rule: admins may target any restaurant,
// or everyone when the broadcast names none; managers only their own
// restaurant; everyone else nothing.
func (r *Router) marketing(s *session, e *event.MarketingBroadcast) {
	var target room.Name
	switch s.claims.Role {
	case identity.RoleAdmin:
		if e.RestaurantID != "" {
			target = room.Tenant(e.RestaurantID.String(), room.ScopeAll)
		} else {
			target = room.Global
		}
	case identity.RoleManager:
		if e.RestaurantID != "" && e.RestaurantID.String() != s.claims.TenantID {
			r.drop(DropUnauthorized, "conn", s.conn.ID(), "event", e.Type(),
				"role", s.claims.Role, "tenant", s.claims.TenantID, "target", e.RestaurantID)
			return
		}
		target = room.Tenant(s.claims.TenantID, room.ScopeAll)
	default:
		r.drop(DropUnauthorized, "conn", s.conn.ID(), "event", e.Type(), "role", s.claims.Role)
		return
	}
	r.publishEvent(e, target)
}

func (r *Router) publishEvent(e event.Event, targets ...room.Name) int {
	frame, err := event.Frame(e.Type(), e)
	if err != nil {
		r.log.Error("encode frame", "event", e.Type(), "error", err)
		return 0
	}
	return r.publish(e.Type(), frame, targets...)
}

// publish sends frame to every member of targets, at most once per
// connection even when it holds several of the rooms.
func (r *Router) publish(t event.Type, frame []byte, targets ...room.Name) int {
	seen := make(map[string]struct{})
	n := 0
	for _, name := range targets {
		for _, id := range r.rooms.Members(name) {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			n += r.deliver(id, frame)
		}
	}
	r.account(t, n, targets)
	return n
}

// direct delivers e to the connection currently registered for userID,
// provided it belongs to tenant.
func (r *Router) direct(tenant, userID string, e event.Event) int {
	connID, ok := r.dir.Resolve(userID)
	if !ok {
		r.drop(DropNoRecipients, "event", e.Type(), "user", userID)
		return 0
	}
	s := r.sessions[connID]
	if s == nil || s.claims.TenantID != tenant {
		r.drop(DropCrossTenant, "event", e.Type(), "user", userID, "tenant", tenant)
		return 0
	}
	frame, err := event.Frame(e.Type(), e)
	if err != nil {
		r.log.Error("encode frame", "event", e.Type(), "error", err)
		return 0
	}
	n := r.deliver(connID, frame)
	r.account(e.Type(), n, nil)
	return n
}

func (r *Router) account(t event.Type, n int, targets []room.Name) {
	if n == 0 {
		if targets != nil {
			r.drop(DropNoRecipients, "event", t, "rooms", targets)
		}
		return
	}
	r.delivered.Add(uint64(n))
	r.metrics.FramesDelivered(context.Background(), string(t), n)
}

func (r *Router) ack(connID string, t event.Type, tableID event.ID, name room.Name) {
	frame, err := event.Frame(t, event.TableAck{TableID: tableID, Room: name.String()})
	if err != nil {
		r.log.Error("encode frame", "event", t, "error", err)
		return
	}
	r.deliver(connID, frame)
}

// deliver hands frame to one connection. Unknown ids are a silent no-op.
func (r *Router) deliver(connID string, frame []byte) int {
	s, ok := r.sessions[connID]
	if !ok {
		return 0
	}
	if !s.conn.Send(frame) {
		r.drop(DropBufferFull, "conn", connID)
		return 0
	}
	return 1
}

func stationScope(s event.Station) room.Scope {
	if s == event.StationBar {
		return room.ScopeBar
	}
	return room.ScopeKitchen
}
