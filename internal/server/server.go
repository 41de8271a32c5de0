package server

import (
	"log"
	"sync"

	"github.com/dkarlsen/go-chatrelay/internal/stats"
)

// ChatServer tracks live connections and wires them to the relay engine and
// the room registry. There is no central event loop: each connection's read
// pump dispatches events as independent tasks.
type ChatServer struct {
	log         *log.Logger
	registry    *RoomRegistry
	engine      *RelayEngine
	stats       stats.StatsProvider
	clients     map[*Client]struct{}
	clientsLock sync.Mutex
}

func NewChatServer(logger *log.Logger, registry *RoomRegistry, engine *RelayEngine, statsProvider stats.StatsProvider) *ChatServer {
	return &ChatServer{
		log:      logger,
		registry: registry,
		engine:   engine,
		stats:    statsProvider,
		clients:  make(map[*Client]struct{}),
	}
}

func (cs *ChatServer) Registry() *RoomRegistry {
	return cs.registry
}

func (cs *ChatServer) RegisterClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()

	cs.log.Printf("adding connection from %q", c.user.Username)
	cs.clients[c] = struct{}{}
	cs.stats.Incr(stats.ActiveConnections)
}

// DeregisterClient removes the connection and clears all of its room
// memberships. Called exactly once by the read pump on disconnect.
func (cs *ChatServer) DeregisterClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()

	if _, ok := cs.clients[c]; !ok {
		return
	}

	cs.log.Printf("removing connection from %q", c.user.Username)
	delete(cs.clients, c)
	cs.registry.DropConnection(c)
	cs.stats.Decr(stats.ActiveConnections)
}

func (cs *ChatServer) Shutdown() {
	cs.log.Println("shutting down chat server")

	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()

	for c := range cs.clients {
		c.stopClient()
	}
	cs.clients = make(map[*Client]struct{})
}
