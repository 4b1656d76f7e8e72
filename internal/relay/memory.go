package relay

import (
	"context"
	"sync"
)

// MemoryQueue 使用 channel 模拟消息通道，用于单进程部署和测试。
type MemoryQueue struct {
	ch      chan []byte
	mu      sync.Mutex
	closed  bool
	lossy   bool
	dropped int
}

// NewMemoryQueue 创建一个内存队列。
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 64
	}
	return &MemoryQueue{ch: make(chan []byte, size)}
}

// NewLossyMemoryQueue 创建一个队列满时丢弃最旧消息的内存队列，Publish 永不阻塞。
func NewLossyMemoryQueue(size int) *MemoryQueue {
	q := NewMemoryQueue(size)
	q.lossy = true
	return q
}

// Publish 将消息放入队列，队列满时阻塞到 ctx 结束。
func (q *MemoryQueue) Publish(ctx context.Context, body []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return errClosed
	}
	if q.lossy {
		msg := append([]byte(nil), body...)
		for {
			select {
			case q.ch <- msg:
				return nil
			default:
			}
			select {
			case <-q.ch:
				q.dropped++
			default:
			}
		}
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case q.ch <- append([]byte(nil), body...):
		return nil
	}
}

// Consume 启动 workerCount 个协程处理消息，直到 ctx 结束或队列关闭。
func (q *MemoryQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case body, ok := <-q.ch:
					if !ok {
						return
					}
					_ = handler(ctx, body)
				}
			}
		}()
	}
	wg.Wait()
	return ctx.Err()
}

// Len 返回队列中尚未消费的消息数。
func (q *MemoryQueue) Len() int {
	return len(q.ch)
}

// Dropped 返回因队列已满而被丢弃的消息数。
func (q *MemoryQueue) Dropped() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Close 关闭队列，消费者在取完剩余消息后退出。
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		close(q.ch)
		q.closed = true
	}
	return nil
}
