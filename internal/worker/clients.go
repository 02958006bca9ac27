package worker

import (
	"sync"
	"time"
)

type clientEntry struct {
	controller *Worker
	seenAt     time.Time
}

// Clients 记录打开的客户端（浏览器标签页）及其控制者。客户端 ID 由代理层通过 cookie 或请求头下发。
type Clients struct {
	mu      sync.Mutex
	clients map[string]*clientEntry
	now     func() time.Time
}

// NewClients returns an empty registry.
func NewClients() *Clients {
	return &Clients{clients: make(map[string]*clientEntry), now: time.Now}
}

// Navigate 记录一次顶层页面加载：新文档总是由当前 active worker 控制（可能为 nil）。
func (c *Clients) Navigate(id string, active *Worker) *Worker {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clients[id] = &clientEntry{controller: active, seenAt: c.now()}
	return active
}

// Controller 返回客户端当前的控制者。从未见过的客户端（例如进程重启后）视为由 active 控制；
// 在没有 active worker 时加载、尚未被 claim 的客户端返回 nil。
func (c *Clients) Controller(id string, active *Worker) *Worker {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.clients[id]
	if !ok {
		entry = &clientEntry{controller: active}
		c.clients[id] = entry
	}
	entry.seenAt = c.now()
	return entry.controller
}

// Claim 让 w 成为全部已知客户端的控制者，返回被接管的数量。
func (c *Clients) Claim(w *Worker) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, entry := range c.clients {
		entry.controller = w
	}
	return len(c.clients)
}

// Len returns the number of known clients.
func (c *Clients) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.clients)
}

// Controlled 统计由 w 控制的客户端数量。
func (c *Clients) Controlled(w *Worker) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, entry := range c.clients {
		if entry.controller == w {
			n++
		}
	}
	return n
}

// Prune 删除超过 idle 未出现的客户端，返回删除数量。
func (c *Clients) Prune(idle time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	cutoff := c.now().Add(-idle)
	removed := 0
	for id, entry := range c.clients {
		if entry.seenAt.Before(cutoff) {
			delete(c.clients, id)
			removed++
		}
	}
	return removed
}
