package app

import (
	"github.com/dkeye/Pulse/internal/core"
	"github.com/dkeye/Pulse/internal/domain"
	"github.com/rs/zerolog/log"
)

type connEntry struct {
	Conn  core.SignalConnection
	Rooms map[domain.RoomID]struct{}
}

// Registry is the room-membership table: connection -> joined rooms and
// room -> member connections. It is not synchronized; exactly one hub
// event loop owns it.
type Registry struct {
	conns map[domain.ConnID]*connEntry
	rooms map[domain.RoomID]map[domain.ConnID]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[domain.ConnID]*connEntry),
		rooms: make(map[domain.RoomID]map[domain.ConnID]struct{}),
	}
}

func (r *Registry) Bind(id domain.ConnID, conn core.SignalConnection) {
	r.conns[id] = &connEntry{Conn: conn, Rooms: make(map[domain.RoomID]struct{})}
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Msg("bound connection")
}

// Unbind drops the connection from every room it joined and returns the
// rooms that are empty as a result.
func (r *Registry) Unbind(id domain.ConnID) []domain.RoomID {
	e, ok := r.conns[id]
	if !ok {
		return nil
	}
	delete(r.conns, id)

	var emptied []domain.RoomID
	for room := range e.Rooms {
		members := r.rooms[room]
		delete(members, id)
		if len(members) == 0 {
			delete(r.rooms, room)
			emptied = append(emptied, room)
		}
	}
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Int("emptied", len(emptied)).Msg("unbound connection")
	return emptied
}

func (r *Registry) Conn(id domain.ConnID) (core.SignalConnection, bool) {
	e, ok := r.conns[id]
	if !ok {
		return nil, false
	}
	return e.Conn, true
}

// Join adds id to room. first reports whether the room was empty before;
// joined is false for unknown connections and repeated joins.
func (r *Registry) Join(id domain.ConnID, room domain.RoomID) (first, joined bool) {
	e, ok := r.conns[id]
	if !ok {
		return false, false
	}
	if _, already := e.Rooms[room]; already {
		return false, false
	}
	members, ok := r.rooms[room]
	if !ok {
		members = make(map[domain.ConnID]struct{})
		r.rooms[room] = members
	}
	first = len(members) == 0
	members[id] = struct{}{}
	e.Rooms[room] = struct{}{}
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Str("room", string(room)).Bool("first", first).Msg("joined room")
	return first, true
}

func (r *Registry) RoomsOf(id domain.ConnID) []domain.RoomID {
	e, ok := r.conns[id]
	if !ok {
		return nil
	}
	out := make([]domain.RoomID, 0, len(e.Rooms))
	for room := range e.Rooms {
		out = append(out, room)
	}
	return out
}

func (r *Registry) MembersOfRoom(room domain.RoomID) []domain.ConnID {
	members := r.rooms[room]
	out := make([]domain.ConnID, 0, len(members))
	for id := range members {
		out = append(out, id)
	}
	return out
}

func (r *Registry) RoomSize(room domain.RoomID) int { return len(r.rooms[room]) }

func (r *Registry) Count() int { return len(r.conns) }
