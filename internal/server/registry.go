package server

import (
	"log"
	"sync"

	"github.com/dkarlsen/go-chatrelay/internal/stats"
)

// RoomRegistry maps conversation ids to the set of live connections
// subscribed to them. It performs no authorization: callers verify the
// acting identity may join a conversation before calling Join. Membership
// sets are the only shared mutable state in the process, so every mutation
// and read goes through the mutex.
type RoomRegistry struct {
	mu    sync.RWMutex
	rooms map[string]map[*Client]struct{}
	log   *log.Logger
	stats stats.StatsProvider
}

func NewRoomRegistry(logger *log.Logger, statsProvider stats.StatsProvider) *RoomRegistry {
	return &RoomRegistry{
		rooms: make(map[string]map[*Client]struct{}),
		log:   logger,
		stats: statsProvider,
	}
}

// Join subscribes a connection to a conversation's broadcasts. Joining a
// room the connection is already in is a no-op.
func (r *RoomRegistry) Join(c *Client, conversationId string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[conversationId]
	if !ok {
		members = make(map[*Client]struct{})
		r.rooms[conversationId] = members
		r.stats.Incr(stats.ActiveRooms)
	}

	members[c] = struct{}{}
}

// Leave removes a connection from a conversation. Leaving a room the
// connection is not in is a no-op.
func (r *RoomRegistry) Leave(c *Client, conversationId string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.removeLocked(c, conversationId)
}

func (r *RoomRegistry) removeLocked(c *Client, conversationId string) {
	members, ok := r.rooms[conversationId]
	if !ok {
		return
	}

	if _, ok := members[c]; !ok {
		return
	}

	delete(members, c)
	if len(members) == 0 {
		delete(r.rooms, conversationId)
		r.stats.Decr(stats.ActiveRooms)
	}
}

// IsMember reports whether a connection is currently joined to a
// conversation.
func (r *RoomRegistry) IsMember(c *Client, conversationId string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.rooms[conversationId][c]
	return ok
}

// Broadcast delivers a message to the snapshot of members at call time,
// including the sender if joined. A connection joining mid-broadcast is not
// guaranteed to receive this particular message.
func (r *RoomRegistry) Broadcast(conversationId string, msg *ServerMessage) {
	for _, c := range r.members(conversationId) {
		c.queueMessage(msg)
	}
}

// BroadcastExcept is Broadcast minus one connection, used for typing
// indicators that must not echo to the sender.
func (r *RoomRegistry) BroadcastExcept(skip *Client, conversationId string, msg *ServerMessage) {
	for _, c := range r.members(conversationId) {
		if c == skip {
			continue
		}
		c.queueMessage(msg)
	}
}

// DropConnection removes a connection from every room it is part of. The
// transport calls this on disconnect so no membership entry outlives its
// connection.
func (r *RoomRegistry) DropConnection(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for conversationId := range r.rooms {
		r.removeLocked(c, conversationId)
	}
}

// DropRoom clears all membership entries for a conversation. Connections
// stay alive; they simply stop receiving broadcasts for it.
func (r *RoomRegistry) DropRoom(conversationId string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rooms[conversationId]; !ok {
		return
	}

	delete(r.rooms, conversationId)
	r.stats.Decr(stats.ActiveRooms)
}

func (r *RoomRegistry) members(conversationId string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := make([]*Client, 0, len(r.rooms[conversationId]))
	for c := range r.rooms[conversationId] {
		members = append(members, c)
	}
	return members
}
