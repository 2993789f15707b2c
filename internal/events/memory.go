package events

import (
	"context"
	"errors"
	"sync"
)

// MemoryPublisher 使用 channel 暂存事件，主要用于测试与进程内消费。
type MemoryPublisher struct {
	ch     chan Event
	mu     sync.Mutex
	closed bool
}

// NewMemoryPublisher 创建一个内存发布器。
func NewMemoryPublisher(size int) *MemoryPublisher {
	if size <= 0 {
		size = 64
	}
	return &MemoryPublisher{ch: make(chan Event, size)}
}

// Publish 将事件写入缓冲区。
func (p *MemoryPublisher) Publish(ctx context.Context, event Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errors.New("事件通道已关闭")
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case p.ch <- event:
		return nil
	}
}

// Events 返回只读的事件通道。
func (p *MemoryPublisher) Events() <-chan Event {
	return p.ch
}

// Close 关闭事件通道。
func (p *MemoryPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.ch)
	return nil
}
