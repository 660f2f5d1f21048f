package core

import (
	"sort"

	"github.com/vovakirdan/wiremesh/internal/policy"
)

// Binding ties a connection to the participant and room it joined as.
type Binding struct {
	ParticipantID string
	RoomID        string
}

// RoomInfo is a read-only summary of a live room.
type RoomInfo struct {
	ID       string
	OwnerID  string
	Size     int
	Capacity int
	Members  []Member
}

// Registry maps connections to participants and owns every live room. It is
// not safe for concurrent use; the Hub goroutine is its only user.
type Registry struct {
	capacity int
	rooms    map[string]*Room
	bindings map[*Client]Binding
}

// NewRegistry builds an empty registry whose rooms hold at most capacity
// participants.
func NewRegistry(capacity int) *Registry {
	if capacity <= 0 {
		capacity = DefaultRoomCapacity
	}
	return &Registry{
		capacity: capacity,
		rooms:    make(map[string]*Room),
		bindings: make(map[*Client]Binding),
	}
}

// Join binds c to roomID as participantID. A missing room is created with the
// joiner as owner.
func (g *Registry) Join(c *Client, roomID, participantID, name string) (*Room, error) {
	if _, bound := g.bindings[c]; bound {
		return nil, ErrAlreadyJoined
	}

	room, exists := g.rooms[roomID]
	if !exists {
		room = NewRoom(roomID, participantID, g.capacity)
	}
	if err := room.Add(&Participant{ID: participantID, Name: name, client: c}); err != nil {
		return nil, err
	}
	if !exists {
		g.rooms[roomID] = room
	}
	g.bindings[c] = Binding{ParticipantID: participantID, RoomID: roomID}
	return room, nil
}

// Leave unbinds c and removes its participant. The binding is dropped first.
// The returned room is nil when it was deleted because it became empty.
func (g *Registry) Leave(c *Client) (Binding, *Room, bool) {
	b, bound := g.bindings[c]
	if !bound {
		return Binding{}, nil, false
	}
	delete(g.bindings, c)

	room, exists := g.rooms[b.RoomID]
	if !exists {
		return b, nil, true
	}
	room.Remove(b.ParticipantID)
	if room.Empty() {
		delete(g.rooms, b.RoomID)
		return b, nil, true
	}
	return b, room, true
}

// Binding returns the binding of c.
func (g *Registry) Binding(c *Client) (Binding, bool) {
	b, ok := g.bindings[c]
	return b, ok
}

// Room returns the live room with the given id.
func (g *Registry) Room(id string) (*Room, bool) {
	r, ok := g.rooms[id]
	return r, ok
}

// Lookup resolves the connection currently bound to participantID in roomID.
func (g *Registry) Lookup(roomID, participantID string) (*Client, bool) {
	room, ok := g.rooms[roomID]
	if !ok {
		return nil, false
	}
	p, ok := room.Lookup(participantID)
	if !ok {
		return nil, false
	}
	return p.client, true
}

// RoleOf resolves the role of participantID in roomID.
func (g *Registry) RoleOf(roomID, participantID string) (policy.Role, bool) {
	room, ok := g.rooms[roomID]
	if !ok {
		return "", false
	}
	if _, present := room.Lookup(participantID); !present {
		return "", false
	}
	return room.RoleOf(participantID), true
}

// Rooms summarizes all live rooms ordered by id.
func (g *Registry) Rooms() []RoomInfo {
	out := make([]RoomInfo, 0, len(g.rooms))
	for _, r := range g.rooms {
		out = append(out, info(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func info(r *Room) RoomInfo {
	return RoomInfo{
		ID:       r.ID,
		OwnerID:  r.OwnerID,
		Size:     r.Size(),
		Capacity: r.Capacity(),
		Members:  r.Roster(),
	}
}
