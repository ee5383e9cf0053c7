package ws

import (
	"context"
	"sync"
	"time"
)

// Hub 本实例的房间投递表：房间 -> 本地连接
// 成员关系以 room.Registry 为准，Hub 只负责把消息送到本地连接
type Hub struct {
	mu      sync.RWMutex
	rooms   map[string]map[string]*Client // roomID -> connID -> client
	workers int
	timeout time.Duration
}

// NewHub 创建投递表
func NewHub() *Hub {
	return &Hub{
		rooms:   make(map[string]map[string]*Client),
		workers: 100,
		timeout: 5 * time.Second,
	}
}

// Add 登记连接
func (h *Hub) Add(roomID string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[roomID]
	if !ok {
		members = make(map[string]*Client)
		h.rooms[roomID] = members
	}
	members[c.ID] = c
	c.rooms.Store(roomID, struct{}{})
}

// Remove 注销连接，返回连接此前是否在房间内
func (h *Hub) Remove(roomID string, c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	c.rooms.Delete(roomID)
	members, ok := h.rooms[roomID]
	if !ok {
		return false
	}
	if _, in := members[c.ID]; !in {
		return false
	}
	delete(members, c.ID)
	if len(members) == 0 {
		delete(h.rooms, roomID)
	}
	return true
}

// Drop 清空房间，返回被移除的连接
func (h *Hub) Drop(roomID string) []*Client {
	h.mu.Lock()
	members := h.rooms[roomID]
	delete(h.rooms, roomID)
	h.mu.Unlock()

	out := make([]*Client, 0, len(members))
	for _, c := range members {
		c.rooms.Delete(roomID)
		out = append(out, c)
	}
	return out
}

// Clients 房间内的本地连接快照
func (h *Hub) Clients(roomID string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	members := h.rooms[roomID]
	out := make([]*Client, 0, len(members))
	for _, c := range members {
		out = append(out, c)
	}
	return out
}

// Count 有本地连接的房间数
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

// Broadcast 向房间内的本地连接投递，返回投递失败的数量
func (h *Hub) Broadcast(roomID string, msg []byte, exclude *Client) (int, error) {
	clients := h.Clients(roomID)
	if exclude != nil {
		for i, c := range clients {
			if c == exclude {
				clients = append(clients[:i], clients[i+1:]...)
				break
			}
		}
	}
	return h.deliver(clients, msg)
}

// deliver 使用固定数量的 worker 投递，避免为每个连接创建 goroutine
func (h *Hub) deliver(clients []*Client, msg []byte) (int, error) {
	if len(clients) == 0 {
		return 0, nil
	}
	// 少量连接直接投递
	if len(clients) <= 8 {
		failed := 0
		for _, c := range clients {
			if c.SendBytes(msg) != nil {
				failed++
			}
		}
		return failed, nil
	}

	workerCount := min(h.workers, len(clients))
	jobs := make(chan *Client, len(clients))
	for _, c := range clients {
		jobs <- c
	}
	close(jobs)

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed int
	)
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case c, ok := <-jobs:
					if !ok {
						return
					}
					if c.SendBytes(msg) != nil {
						mu.Lock()
						failed++
						mu.Unlock()
					}
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return failed, nil
	case <-ctx.Done():
		mu.Lock()
		defer mu.Unlock()
		return failed, ErrBroadcastTimeout
	}
}
