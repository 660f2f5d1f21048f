package core

import "github.com/vovakirdan/wiremesh/internal/policy"

// DefaultRoomCapacity bounds a room's roster unless configured otherwise.
const DefaultRoomCapacity = 10

// Participant is a roster entry bound to exactly one connection.
type Participant struct {
	ID     string
	Name   string
	client *Client
}

// Room owns a roster, the owner id and the admin set. Roles are derived, never
// stored per participant.
type Room struct {
	ID       string
	OwnerID  string
	capacity int
	members  map[string]*Participant
	order    []string
	admins   map[string]struct{}
}

// NewRoom constructs an empty room owned by ownerID.
func NewRoom(id, ownerID string, capacity int) *Room {
	if capacity <= 0 {
		capacity = DefaultRoomCapacity
	}
	return &Room{
		ID:       id,
		OwnerID:  ownerID,
		capacity: capacity,
		members:  make(map[string]*Participant),
		admins:   make(map[string]struct{}),
	}
}

// Add inserts a participant. The roster never grows beyond capacity.
func (r *Room) Add(p *Participant) error {
	if _, exists := r.members[p.ID]; exists {
		return ErrAlreadyJoined
	}
	if len(r.members) >= r.capacity {
		return ErrRoomFull
	}
	r.members[p.ID] = p
	r.order = append(r.order, p.ID)
	return nil
}

// Remove deletes a participant and its admin flag. Returns true if removed.
func (r *Room) Remove(id string) bool {
	if _, exists := r.members[id]; !exists {
		return false
	}
	delete(r.members, id)
	delete(r.admins, id)
	for i, pid := range r.order {
		if pid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Lookup returns the participant with the given id.
func (r *Room) Lookup(id string) (*Participant, bool) {
	p, ok := r.members[id]
	return p, ok
}

// RoleOf resolves the role of id.
func (r *Room) RoleOf(id string) policy.Role {
	return policy.Resolve(id, r.OwnerID, r.admins)
}

// SetAdmin grants or revokes admin on target. Only the owner may do it and the
// owner itself can never be targeted. Returns whether anything changed.
func (r *Room) SetAdmin(actorID, targetID string, grant bool) (bool, error) {
	if !policy.CanManageAdmins(r.RoleOf(actorID)) {
		return false, ErrUnauthorized
	}
	if targetID == r.OwnerID {
		return false, ErrUnauthorized
	}
	if _, present := r.members[targetID]; !present {
		return false, nil
	}

	_, isAdmin := r.admins[targetID]
	switch {
	case grant && !isAdmin:
		r.admins[targetID] = struct{}{}
		return true, nil
	case !grant && isAdmin:
		delete(r.admins, targetID)
		return true, nil
	default:
		return false, nil
	}
}

// Roster returns the members in join order with resolved roles.
func (r *Room) Roster() []Member {
	out := make([]Member, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.member(id))
	}
	return out
}

func (r *Room) member(id string) Member {
	p := r.members[id]
	return Member{ID: p.ID, Name: p.Name, Role: r.RoleOf(id)}
}

// Size returns the number of participants.
func (r *Room) Size() int {
	return len(r.members)
}

// Capacity returns the roster bound.
func (r *Room) Capacity() int {
	return r.capacity
}

// Empty returns true if no participants are in the room.
func (r *Room) Empty() bool {
	return len(r.members) == 0
}

// clients snapshots the bound connections, optionally skipping one.
func (r *Room) clients(except *Client) []*Client {
	out := make([]*Client, 0, len(r.members))
	for _, id := range r.order {
		c := r.members[id].client
		if c == except {
			continue
		}
		out = append(out, c)
	}
	return out
}
