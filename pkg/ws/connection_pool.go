package ws

import (
	"sync"
	"sync/atomic"
)

// ConnectionPool 本实例的已认证连接
type ConnectionPool struct {
	clients  sync.Map     // connID -> *Client
	count    atomic.Int64 // 连接数
	maxConns int          // 最大连接数
}

// NewConnectionPool 创建连接池
func NewConnectionPool(maxConns int) *ConnectionPool {
	return &ConnectionPool{
		maxConns: maxConns,
	}
}

// Add 添加客户端
func (p *ConnectionPool) Add(client *Client) error {
	// 先占 ID，避免计数不一致
	if _, loaded := p.clients.LoadOrStore(client.ID, client); loaded {
		return ErrClientIDExists
	}

	if n := p.count.Add(1); int(n) > p.maxConns {
		p.count.Add(-1)
		p.clients.Delete(client.ID)
		return ErrTooManyConnections
	}
	return nil
}

// Remove 移除客户端
func (p *ConnectionPool) Remove(connID string) bool {
	if _, loaded := p.clients.LoadAndDelete(connID); loaded {
		p.count.Add(-1)
		return true
	}
	return false
}

// Get 获取客户端
func (p *ConnectionPool) Get(connID string) (*Client, bool) {
	value, ok := p.clients.Load(connID)
	if !ok {
		return nil, false
	}
	client, ok := value.(*Client)
	return client, ok
}

// Full 是否已满
func (p *ConnectionPool) Full() bool {
	return int(p.count.Load()) >= p.maxConns
}

// Count 获取连接数
func (p *ConnectionPool) Count() int {
	return int(p.count.Load())
}

// Range 遍历所有客户端
func (p *ConnectionPool) Range(f func(*Client) bool) {
	p.clients.Range(func(_, value any) bool {
		client, ok := value.(*Client)
		if !ok {
			return true
		}
		return f(client)
	})
}

// ByUser 用户在本实例的全部连接
func (p *ConnectionPool) ByUser(userID string) []*Client {
	var out []*Client
	p.Range(func(c *Client) bool {
		if c.UserID == userID {
			out = append(out, c)
		}
		return true
	})
	return out
}
