package hostlink

import "sync"

// serialQueue 在一个后台协程中按入队顺序执行任务。
//
// 说明：
//   - push 从不阻塞，读协程因此可以继续读取应答帧；
//   - close 之后不再接受任务，已入队的任务仍会执行完；
//   - 每条连接一个队列，事件之间保持到达顺序。
type serialQueue struct {
	mu     sync.Mutex
	tasks  []func()
	closed bool

	wake chan struct{}
	done chan struct{}
}

func newSerialQueue() *serialQueue {
	q := &serialQueue{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go q.run()
	return q
}

// push 追加任务，队列已关闭时返回 false。
func (q *serialQueue) push(task func()) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.tasks = append(q.tasks, task)
	q.mu.Unlock()
	q.signal()
	return true
}

func (q *serialQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

func (q *serialQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *serialQueue) run() {
	defer close(q.done)
	for {
		q.mu.Lock()
		tasks, closed := q.tasks, q.closed
		q.tasks = nil
		q.mu.Unlock()

		for _, task := range tasks {
			task()
		}
		if len(tasks) == 0 {
			if closed {
				return
			}
			<-q.wake
		}
	}
}
