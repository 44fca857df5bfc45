package server

import "sync"

// group is the set of sessions subscribed to one room.
type group struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	// dead is set once the group was emptied and removed from the index.
	dead bool
}

// Router maps room ids to their subscribed sessions. Each room has its own
// lock, so traffic in one room never waits on another.
type Router struct {
	groups sync.Map // int64 -> *group
}

func (r *Router) subscribe(roomId int64, c *Client) {
	for {
		v, _ := r.groups.LoadOrStore(roomId, &group{clients: make(map[*Client]struct{})})
		g := v.(*group)

		g.mu.Lock()
		if g.dead {
			g.mu.Unlock()
			continue
		}
		g.clients[c] = struct{}{}
		g.mu.Unlock()
		return
	}
}

// unsubscribe reports whether c was subscribed.
func (r *Router) unsubscribe(roomId int64, c *Client) bool {
	v, ok := r.groups.Load(roomId)
	if !ok {
		return false
	}
	g := v.(*group)

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.clients[c]; !ok {
		return false
	}
	delete(g.clients, c)

	if len(g.clients) == 0 {
		g.dead = true
		r.groups.CompareAndDelete(roomId, g)
	}

	return true
}

// publish queues msg on every session subscribed to roomId and returns how
// many sessions accepted it.
func (r *Router) publish(roomId int64, msg *ServerMessage) int {
	v, ok := r.groups.Load(roomId)
	if !ok {
		return 0
	}
	g := v.(*group)

	g.mu.RLock()
	defer g.mu.RUnlock()

	delivered := 0
	for c := range g.clients {
		if c.queueMessage(msg) {
			delivered++
		}
	}

	return delivered
}

func (r *Router) isSubscribed(roomId int64, c *Client) bool {
	v, ok := r.groups.Load(roomId)
	if !ok {
		return false
	}
	g := v.(*group)

	g.mu.RLock()
	defer g.mu.RUnlock()

	_, ok = g.clients[c]
	return ok
}

func (r *Router) subscribers(roomId int64) int {
	v, ok := r.groups.Load(roomId)
	if !ok {
		return 0
	}
	g := v.(*group)

	g.mu.RLock()
	defer g.mu.RUnlock()

	return len(g.clients)
}
