package sessionmanager

import "sync"

// Notifier 是一个本地通知点，订阅者按订阅顺序被同步调用。
//
// 零值可用；没有订阅者时触发是合法的空操作。
type Notifier[T any] struct {
	mu     sync.RWMutex
	nextID uint64
	subs   []subscriber[T]
}

type subscriber[T any] struct {
	id uint64
	fn func(*Manager, T)
}

// Subscribe 注册订阅者，返回取消订阅函数，重复调用取消函数是安全的。
func (n *Notifier[T]) Subscribe(fn func(m *Manager, args T)) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}

	n.mu.Lock()
	n.nextID++
	id := n.nextID
	n.subs = append(n.subs, subscriber[T]{id: id, fn: fn})
	n.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { n.remove(id) })
	}
}

// Len 返回当前订阅者数量。
func (n *Notifier[T]) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.subs)
}

func (n *Notifier[T]) remove(id uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, s := range n.subs {
		if s.id == id {
			n.subs = append(n.subs[:i:i], n.subs[i+1:]...)
			return
		}
	}
}

func (n *Notifier[T]) raise(m *Manager, args T) {
	n.mu.RLock()
	snapshot := n.subs
	n.mu.RUnlock()

	for _, s := range snapshot {
		s.fn(m, args)
	}
}
