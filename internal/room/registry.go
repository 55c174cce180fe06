package room

import "sort"

// Registry is the membership relation between rooms and connection ids,
// indexed both ways so that fan-out (room -> members) and disconnect
// cleanup (member -> rooms) are both direct lookups.
//
// A Registry is not safe for concurrent use; its owner serializes access.
type Registry struct {
	byRoom   map[Name]map[string]struct{}
	byMember map[string]map[Name]struct{}
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byRoom:   make(map[Name]map[string]struct{}),
		byMember: make(map[string]map[Name]struct{}),
	}
}

// Join adds member to room. It reports false if member already held it.
func (r *Registry) Join(name Name, member string) bool {
	members := r.byRoom[name]
	if members == nil {
		members = make(map[string]struct{})
		r.byRoom[name] = members
	}
	if _, ok := members[member]; ok {
		return false
	}
	members[member] = struct{}{}

	rooms := r.byMember[member]
	if rooms == nil {
		rooms = make(map[Name]struct{})
		r.byMember[member] = rooms
	}
	rooms[name] = struct{}{}
	return true
}

// Leave removes member from room. It reports false if member was not in it.
func (r *Registry) Leave(name Name, member string) bool {
	members, ok := r.byRoom[name]
	if !ok {
		return false
	}
	if _, ok := members[member]; !ok {
		return false
	}
	delete(members, member)
	if len(members) == 0 {
		delete(r.byRoom, name)
	}

	rooms := r.byMember[member]
	delete(rooms, name)
	if len(rooms) == 0 {
		delete(r.byMember, member)
	}
	return true
}

// LeaveAll removes member from every room it holds and returns them.
func (r *Registry) LeaveAll(member string) []Name {
	rooms := r.byMember[member]
	left := make([]Name, 0, len(rooms))
	for name := range rooms {
		left = append(left, name)
		members := r.byRoom[name]
		delete(members, member)
		if len(members) == 0 {
			delete(r.byRoom, name)
		}
	}
	delete(r.byMember, member)
	sort.Slice(left, func(i, j int) bool { return left[i] < left[j] })
	return left
}

// Members returns the ids currently in room, in no particular order.
func (r *Registry) Members(name Name) []string {
	members := r.byRoom[name]
	out := make([]string, 0, len(members))
	for m := range members {
		out = append(out, m)
	}
	return out
}

// Rooms returns the rooms member holds, sorted.
func (r *Registry) Rooms(member string) []Name {
	rooms := r.byMember[member]
	out := make([]Name, 0, len(rooms))
	for name := range rooms {
		out = append(out, name)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Has reports whether member is in room.
func (r *Registry) Has(name Name, member string) bool {
	_, ok := r.byRoom[name][member]
	return ok
}

// Count returns the number of members in room.
func (r *Registry) Count(name Name) int {
	return len(r.byRoom[name])
}

// Len returns the number of non-empty rooms.
func (r *Registry) Len() int {
	return len(r.byRoom)
}
