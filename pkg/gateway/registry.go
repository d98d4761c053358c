package gateway

import (
	"sort"
	"sync"
)

// streamClient is an open streaming connection.
type streamClient struct {
	info StreamInfo
	conn *wsConn
}

// StreamRegistry tracks open streaming connections so they can be listed
// and closed on shutdown.
type StreamRegistry struct {
	mu      sync.RWMutex
	clients map[string]*streamClient
}

func NewStreamRegistry() *StreamRegistry {
	return &StreamRegistry{clients: make(map[string]*streamClient)}
}

func (r *StreamRegistry) add(client *streamClient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[client.info.ID] = client
}

func (r *StreamRegistry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, id)
}

// Count returns the number of open streams.
func (r *StreamRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// List returns the open streams, oldest first.
func (r *StreamRegistry) List() []StreamInfo {
	r.mu.RLock()
	infos := make([]StreamInfo, 0, len(r.clients))
	for _, client := range r.clients {
		infos = append(infos, client.info)
	}
	r.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].ConnectedAt.Before(infos[j].ConnectedAt)
	})
	return infos
}

// closeAll closes every open stream connection.
func (r *StreamRegistry) closeAll() int {
	r.mu.RLock()
	clients := make([]*streamClient, 0, len(r.clients))
	for _, client := range r.clients {
		clients = append(clients, client)
	}
	r.mu.RUnlock()

	for _, client := range clients {
		_ = client.conn.Close()
	}
	return len(clients)
}
