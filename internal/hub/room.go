package hub

import (
	"context"
	"log"
	"sort"
	"sync"
)

// RoomInfo is a read-only snapshot of one non-empty room.
type RoomInfo struct {
	ID          string `json:"terminal_id"`
	Connections int    `json:"connection_count"`
}

// Room maps session ids to their attached connections. Membership
// mutation and broadcast snapshots are mutually exclusive; the actual
// per-connection sends happen outside the lock.
type Room struct {
	mu    sync.Mutex
	rooms map[string]map[Conn]struct{}
}

func NewRoom() *Room {
	return &Room{rooms: make(map[string]map[Conn]struct{})}
}

// Connect adds conn to the room for id, creating the room if absent.
func (r *Room) Connect(id string, conn Conn) {
	r.mu.Lock()
	set, ok := r.rooms[id]
	if !ok {
		set = make(map[Conn]struct{})
		r.rooms[id] = set
	}
	set[conn] = struct{}{}
	total := len(set)
	r.mu.Unlock()

	log.Printf("client %s joined terminal %q (total: %d)", conn.ID(), id, total)
}

// Disconnect removes conn from the room for id. An empty room is deleted
// entirely so listings never show stale ids.
func (r *Room) Disconnect(id string, conn Conn) {
	r.mu.Lock()
	set, ok := r.rooms[id]
	if ok {
		delete(set, conn)
		if len(set) == 0 {
			delete(r.rooms, id)
		}
	}
	remaining := len(set)
	r.mu.Unlock()

	if ok {
		log.Printf("client %s left terminal %q (remaining: %d)", conn.ID(), id, remaining)
	}
}

// Broadcast delivers payload to every connection registered for id at
// the moment of the call. Sends happen on a snapshot outside the lock;
// connections whose send fails are treated as dead and removed, without
// failing the broadcast for the rest. A connection joining concurrently
// may miss this one payload, which is acceptable.
func (r *Room) Broadcast(ctx context.Context, id, payload string) {
	r.mu.Lock()
	set, ok := r.rooms[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	snapshot := make([]Conn, 0, len(set))
	for conn := range set {
		snapshot = append(snapshot, conn)
	}
	r.mu.Unlock()

	var dead []Conn
	for _, conn := range snapshot {
		if err := conn.Send(ctx, payload); err != nil {
			log.Printf("client %s send failed in terminal %q: %v", conn.ID(), id, err)
			dead = append(dead, conn)
		}
	}

	for _, conn := range dead {
		r.Disconnect(id, conn)
		conn.Close("send failed")
	}
}

// Size returns the number of connections attached to id.
func (r *Room) Size(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms[id])
}

// Has reports whether id has at least one attached connection.
func (r *Room) Has(id string) bool {
	return r.Size(id) > 0
}

// List returns every non-empty room with its connection count, sorted by
// id for stable output.
func (r *Room) List() []RoomInfo {
	r.mu.Lock()
	infos := make([]RoomInfo, 0, len(r.rooms))
	for id, set := range r.rooms {
		infos = append(infos, RoomInfo{ID: id, Connections: len(set)})
	}
	r.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}
