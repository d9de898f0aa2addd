// Package presence tracks which live connections are joined to which chat rooms.
//
// The registry is process local and purely in-memory. Room state is sharded by
// room key so mutations on different rooms never contend on the same lock, and
// no method performs I/O while holding a lock.
package presence

import (
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"sync"

	"github.com/noah-isme/teamhub-realtime/internal/dto"
	"github.com/noah-isme/teamhub-realtime/internal/models"
)

const defaultShardCount = 32

var (
	// ErrUnknownConnection is returned when a connection was never registered or was dropped.
	ErrUnknownConnection = errors.New("connection not registered")
	// ErrIdentityRequired is returned when a connection joins a room without any user binding.
	ErrIdentityRequired = errors.New("user id required")
	// ErrInvalidRoom is returned for room keys with an unknown type or an empty id.
	ErrInvalidRoom = errors.New("invalid room")
)

// RoomKey is the composite identity of a chat room.
type RoomKey struct {
	Type models.RoomType
	ID   string
}

// NewRoomKey validates and normalises a room reference.
func NewRoomKey(roomType, roomID string) (RoomKey, error) {
	key := RoomKey{
		Type: models.RoomType(strings.ToUpper(strings.TrimSpace(roomType))),
		ID:   strings.TrimSpace(roomID),
	}
	if !key.Type.Valid() {
		return RoomKey{}, fmt.Errorf("%w: unsupported room type %q", ErrInvalidRoom, roomType)
	}
	if key.ID == "" {
		return RoomKey{}, fmt.Errorf("%w: room id required", ErrInvalidRoom)
	}
	return key, nil
}

func (k RoomKey) String() string {
	return string(k.Type) + ":" + k.ID
}

// Identity is the user bound to a connection.
type Identity struct {
	UserID   string
	UserName string
}

// Conn is a live client connection able to receive outbound events.
type Conn interface {
	ID() string
	Deliver(event dto.SocketEvent) bool
}

// Registry is a concurrency-safe bidirectional index of room membership.
type Registry struct {
	shards []*shard

	// mu guards conns and users. It is never held while acquiring a connEntry lock.
	mu    sync.RWMutex
	conns map[string]*connEntry
	users map[string]map[string]Conn
}

type shard struct {
	mu    sync.RWMutex
	rooms map[RoomKey]*room
}

type room struct {
	members map[string]*member
}

type member struct {
	identity Identity
	conns    map[string]Conn
}

// connEntry serialises all membership changes issued for a single connection.
type connEntry struct {
	mu       sync.Mutex
	conn     Conn
	identity Identity
	rooms    map[RoomKey]struct{}
	dropped  bool
}

// NewRegistry creates an empty registry with the default shard count.
func NewRegistry() *Registry {
	return NewShardedRegistry(defaultShardCount)
}

// NewShardedRegistry creates an empty registry spreading rooms over n shards.
func NewShardedRegistry(n int) *Registry {
	if n <= 0 {
		n = 1
	}
	shards := make([]*shard, n)
	for i := range shards {
		shards[i] = &shard{rooms: make(map[RoomKey]*room)}
	}
	return &Registry{
		shards: shards,
		conns:  make(map[string]*connEntry),
		users:  make(map[string]map[string]Conn),
	}
}

// Register makes a connection known to the registry. A non-empty identity binds
// the connection to that user immediately; otherwise the first Join binds it.
// Registering the same connection twice is a no-op.
func (r *Registry) Register(conn Conn, identity Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conns[conn.ID()]; exists {
		return
	}
	entry := &connEntry{conn: conn, rooms: make(map[RoomKey]struct{})}
	r.conns[conn.ID()] = entry
	if identity.UserID != "" {
		entry.identity = identity
		r.indexUserLocked(identity.UserID, conn)
	}
}

// Join adds the connection to a room and returns the room's resulting user list
// together with the identity the connection is bound to. Joining a room twice is
// idempotent.
func (r *Registry) Join(conn Conn, identity Identity, key RoomKey) ([]Identity, Identity, error) {
	entry := r.entry(conn.ID())
	if entry == nil {
		return nil, Identity{}, ErrUnknownConnection
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.dropped {
		return nil, Identity{}, ErrUnknownConnection
	}
	if entry.identity.UserID == "" {
		if identity.UserID == "" {
			return nil, Identity{}, ErrIdentityRequired
		}
		entry.identity = identity
		r.mu.Lock()
		r.indexUserLocked(identity.UserID, conn)
		r.mu.Unlock()
	} else if entry.identity.UserName == "" && identity.UserName != "" {
		entry.identity.UserName = identity.UserName
	}

	sh := r.shardFor(key)
	sh.mu.Lock()
	rm, ok := sh.rooms[key]
	if !ok {
		rm = &room{members: make(map[string]*member)}
		sh.rooms[key] = rm
	}
	m, ok := rm.members[entry.identity.UserID]
	if !ok {
		m = &member{identity: entry.identity, conns: make(map[string]Conn)}
		rm.members[entry.identity.UserID] = m
	}
	m.conns[conn.ID()] = conn
	users := rm.snapshot()
	sh.mu.Unlock()

	entry.rooms[key] = struct{}{}
	return users, entry.identity, nil
}

// Leave removes the connection from a room. It returns the room's remaining users,
// the identity bound to the connection, and whether the connection was a member.
// Leaving a room that was never joined is a successful no-op.
func (r *Registry) Leave(conn Conn, key RoomKey) ([]Identity, Identity, bool) {
	entry := r.entry(conn.ID())
	if entry == nil {
		return r.Users(key), Identity{}, false
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if _, joined := entry.rooms[key]; !joined || entry.dropped {
		return r.Users(key), entry.identity, false
	}

	users := r.removeFromRoom(key, entry.identity.UserID, conn.ID())
	delete(entry.rooms, key)
	return users, entry.identity, true
}

// Drop leaves every room the connection had joined in a single sweep and removes
// the user to connection mapping. It returns the bound identity and the rooms that
// were left, in key order.
func (r *Registry) Drop(conn Conn) (Identity, []RoomKey) {
	entry := r.entry(conn.ID())
	if entry == nil {
		return Identity{}, nil
	}

	entry.mu.Lock()
	if entry.dropped {
		entry.mu.Unlock()
		return entry.identity, nil
	}
	entry.dropped = true
	left := sortedKeys(entry.rooms)
	for _, key := range left {
		r.removeFromRoom(key, entry.identity.UserID, conn.ID())
	}
	entry.rooms = make(map[RoomKey]struct{})
	identity := entry.identity
	entry.mu.Unlock()

	r.mu.Lock()
	delete(r.conns, conn.ID())
	if identity.UserID != "" {
		if conns, ok := r.users[identity.UserID]; ok {
			delete(conns, conn.ID())
			if len(conns) == 0 {
				delete(r.users, identity.UserID)
			}
		}
	}
	r.mu.Unlock()

	return identity, left
}

// Users returns a snapshot of the users present in a room, ordered by user id.
func (r *Registry) Users(key RoomKey) []Identity {
	sh := r.shardFor(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	rm, ok := sh.rooms[key]
	if !ok {
		return []Identity{}
	}
	return rm.snapshot()
}

// Conns returns every connection currently joined to a room.
func (r *Registry) Conns(key RoomKey) []Conn {
	sh := r.shardFor(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	rm, ok := sh.rooms[key]
	if !ok {
		return nil
	}
	out := make([]Conn, 0, len(rm.members))
	for _, m := range rm.members {
		for _, c := range m.conns {
			out = append(out, c)
		}
	}
	return out
}

// Rooms returns the rooms a connection has joined, in key order.
func (r *Registry) Rooms(conn Conn) []RoomKey {
	entry := r.entry(conn.ID())
	if entry == nil {
		return nil
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return sortedKeys(entry.rooms)
}

// IdentityOf returns the identity bound to a connection, if any.
func (r *Registry) IdentityOf(conn Conn) (Identity, bool) {
	entry := r.entry(conn.ID())
	if entry == nil {
		return Identity{}, false
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.identity, entry.identity.UserID != ""
}

// UserConns returns the live connections bound to a user.
func (r *Registry) UserConns(userID string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := r.users[userID]
	out := make([]Conn, 0, len(conns))
	for _, c := range conns {
		out = append(out, c)
	}
	return out
}

// Connections returns every registered connection regardless of room membership.
func (r *Registry) Connections() []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Conn, 0, len(r.conns))
	for _, entry := range r.conns {
		out = append(out, entry.conn)
	}
	return out
}

// RoomCount reports how many rooms currently have at least one member.
func (r *Registry) RoomCount() int {
	total := 0
	for _, sh := range r.shards {
		sh.mu.RLock()
		total += len(sh.rooms)
		sh.mu.RUnlock()
	}
	return total
}

func (r *Registry) entry(connID string) *connEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conns[connID]
}

func (r *Registry) indexUserLocked(userID string, conn Conn) {
	conns, ok := r.users[userID]
	if !ok {
		conns = make(map[string]Conn)
		r.users[userID] = conns
	}
	conns[conn.ID()] = conn
}

// removeFromRoom drops one connection from a room and evicts the room once empty.
func (r *Registry) removeFromRoom(key RoomKey, userID, connID string) []Identity {
	sh := r.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	rm, ok := sh.rooms[key]
	if !ok {
		return []Identity{}
	}
	if m, ok := rm.members[userID]; ok {
		delete(m.conns, connID)
		if len(m.conns) == 0 {
			delete(rm.members, userID)
		}
	}
	if len(rm.members) == 0 {
		delete(sh.rooms, key)
		return []Identity{}
	}
	return rm.snapshot()
}

func (r *Registry) shardFor(key RoomKey) *shard {
	if len(r.shards) == 1 {
		return r.shards[0]
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key.String()))
	return r.shards[h.Sum32()%uint32(len(r.shards))]
}

func (rm *room) snapshot() []Identity {
	out := make([]Identity, 0, len(rm.members))
	for _, m := range rm.members {
		out = append(out, m.identity)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

func sortedKeys(rooms map[RoomKey]struct{}) []RoomKey {
	out := make([]RoomKey, 0, len(rooms))
	for key := range rooms {
		out = append(out, key)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
