package ws

import (
	"sync"
	"sync/atomic"
	"time"
)

// SignalType 生命周期信号类型
type SignalType string

const (
	// SignalConnected 认证成功
	SignalConnected SignalType = "client.connected"
	// SignalRejected 握手被拒绝
	SignalRejected SignalType = "client.rejected"
	// SignalDisconnected 断开且清理完成
	SignalDisconnected SignalType = "client.disconnected"
	// SignalJoined 加入房间
	SignalJoined SignalType = "room.joined"
	// SignalLeft 离开房间
	SignalLeft SignalType = "room.left"
	// SignalRoomDeleted 房主删除房间
	SignalRoomDeleted SignalType = "room.deleted"
	// SignalDispatched 入站事件处理完成
	SignalDispatched SignalType = "event.dispatched"
)

// Signal 生命周期信号
type Signal struct {
	Type   SignalType
	ConnID string
	UserID string
	RoomID string
	Event  EventKind
	Reason string // 拒绝或失败的原因码
	Time   time.Time
}

// SignalHandler 信号处理器
type SignalHandler func(Signal)

// Bus 生命周期信号总线，处理器在固定数量的 worker 中异步执行
type Bus struct {
	handlers map[SignalType][]SignalHandler
	mu       sync.RWMutex
	workerCh chan func()
	stopCh   chan struct{}
	wg       sync.WaitGroup
	closed   atomic.Bool
	dropped  atomic.Int64
}

// NewBus 创建信号总线
func NewBus(workers int) *Bus {
	b := &Bus{
		handlers: make(map[SignalType][]SignalHandler),
		workerCh: make(chan func(), 1024),
		stopCh:   make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		b.wg.Add(1)
		go b.worker()
	}
	return b
}

func (b *Bus) worker() {
	defer b.wg.Done()
	for {
		select {
		case task := <-b.workerCh:
			task()
		case <-b.stopCh:
			return
		}
	}
}

// Subscribe 订阅信号
func (b *Bus) Subscribe(t SignalType, handler SignalHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = append(b.handlers[t], handler)
}

// Publish 异步发布信号
func (b *Bus) Publish(s Signal) {
	if b.closed.Load() {
		return
	}
	if s.Time.IsZero() {
		s.Time = time.Now()
	}

	b.mu.RLock()
	handlers := b.handlers[s.Type]
	b.mu.RUnlock()

	for _, h := range handlers {
		task := func() { h(s) }

		// 连接和断开信号短暂阻塞，其余队列满即丢弃
		if s.Type == SignalConnected || s.Type == SignalDisconnected {
			select {
			case b.workerCh <- task:
			case <-time.After(100 * time.Millisecond):
				b.dropped.Add(1)
			}
			continue
		}
		select {
		case b.workerCh <- task:
		default:
			b.dropped.Add(1)
		}
	}
}

// Close 停止 worker，未处理的信号被丢弃
func (b *Bus) Close() {
	if b.closed.Swap(true) {
		return
	}
	close(b.stopCh)
	b.wg.Wait()
}

// Dropped 丢弃的信号数量
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}
