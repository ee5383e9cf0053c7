package ws

import (
	"sync/atomic"
	"time"
)

// Metrics 监控接口
type Metrics interface {
	// 连接指标
	IncrementConnections()
	DecrementConnections()
	IncrementRejections(reason string)

	// 消息指标
	IncrementMessageCount(event EventKind)
	IncrementMessageErrors(event EventKind, reason string)
	RecordDispatchLatency(event EventKind, d time.Duration)

	// 发送指标
	IncrementDroppedMessages()
	IncrementInvalidMessages()
}

// NoopMetrics 空实现
type NoopMetrics struct{}

func (NoopMetrics) IncrementConnections()                           {}
func (NoopMetrics) DecrementConnections()                           {}
func (NoopMetrics) IncrementRejections(string)                      {}
func (NoopMetrics) IncrementMessageCount(EventKind)                 {}
func (NoopMetrics) IncrementMessageErrors(EventKind, string)        {}
func (NoopMetrics) RecordDispatchLatency(EventKind, time.Duration) {}
func (NoopMetrics) IncrementDroppedMessages()                       {}
func (NoopMetrics) IncrementInvalidMessages()                       {}

// Counters 进程内计数实现，/stats 使用
type Counters struct {
	connections atomic.Int64
	rejected    atomic.Int64
	messages    atomic.Int64
	errors      atomic.Int64
	dropped     atomic.Int64
	invalid     atomic.Int64
}

func (c *Counters) IncrementConnections()                           { c.connections.Add(1) }
func (c *Counters) DecrementConnections()                           { c.connections.Add(-1) }
func (c *Counters) IncrementRejections(string)                      { c.rejected.Add(1) }
func (c *Counters) IncrementMessageCount(EventKind)                 { c.messages.Add(1) }
func (c *Counters) IncrementMessageErrors(EventKind, string)        { c.errors.Add(1) }
func (c *Counters) RecordDispatchLatency(EventKind, time.Duration) {}
func (c *Counters) IncrementDroppedMessages()                       { c.dropped.Add(1) }
func (c *Counters) IncrementInvalidMessages()                       { c.invalid.Add(1) }

// Snapshot 计数快照
type Snapshot struct {
	Connections int64 `json:"connections"`
	Rejected    int64 `json:"rejected"`
	Messages    int64 `json:"messages"`
	Errors      int64 `json:"errors"`
	Dropped     int64 `json:"dropped"`
	Invalid     int64 `json:"invalid"`
}

// Snapshot 读取当前计数
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		Connections: c.connections.Load(),
		Rejected:    c.rejected.Load(),
		Messages:    c.messages.Load(),
		Errors:      c.errors.Load(),
		Dropped:     c.dropped.Load(),
		Invalid:     c.invalid.Load(),
	}
}
