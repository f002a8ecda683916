package socketio

import (
	"net"
	"sync"
)

// ConnectionLimiter caps concurrent status clients coming from other hosts.
// Loopback clients are never limited. When the cap is exceeded the oldest
// remote client is evicted.
type ConnectionLimiter struct {
	mu        sync.Mutex
	maxRemote int
	remote    []string          // remote client ids, oldest first
	addrs     map[string]string // client id -> address
}

// NewConnectionLimiter allows up to maxRemote remote clients. Zero or less disables the cap.
func NewConnectionLimiter(maxRemote int) *ConnectionLimiter {
	return &ConnectionLimiter{
		maxRemote: maxRemote,
		addrs:     make(map[string]string),
	}
}

// Add registers a client and returns the id of the client to evict, if any.
func (cl *ConnectionLimiter) Add(id, addr string) (evicted string) {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	if _, ok := cl.addrs[id]; ok {
		return ""
	}
	cl.addrs[id] = addr
	if isLoopback(addr) {
		return ""
	}

	cl.remote = append(cl.remote, id)
	if cl.maxRemote <= 0 || len(cl.remote) <= cl.maxRemote {
		return ""
	}
	evicted = cl.remote[0]
	cl.remote = cl.remote[1:]
	delete(cl.addrs, evicted)
	return evicted
}

// Remove forgets a disconnected client.
func (cl *ConnectionLimiter) Remove(id string) {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	if _, ok := cl.addrs[id]; !ok {
		return
	}
	delete(cl.addrs, id)
	for i, r := range cl.remote {
		if r == id {
			cl.remote = append(cl.remote[:i], cl.remote[i+1:]...)
			return
		}
	}
}

// Len returns the number of tracked clients.
func (cl *ConnectionLimiter) Len() int {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return len(cl.addrs)
}

func isLoopback(addr string) bool {
	host := addr
	if h, _, err := net.SplitHostPort(addr); err == nil {
		host = h
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
