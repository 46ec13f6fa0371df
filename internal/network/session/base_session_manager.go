package session

import (
	"sync"

	"github.com/samber/lo"

	"github.com/lk2023060901/sessionmanager-go/pkg/util/merr"
)

var _ SessionManager = (*BaseSessionManager)(nil)

// BaseSessionManager 用读写锁保护的 map 登记会话。回调总是在锁外执行。
type BaseSessionManager struct {
	mu       sync.RWMutex
	sessions map[uint64]Session
}

func NewBaseSessionManager() *BaseSessionManager {
	return &BaseSessionManager{sessions: map[uint64]Session{}}
}

func (m *BaseSessionManager) Register(sess Session) error {
	if sess == nil {
		return merr.WrapErrParameterMissing("session", "register")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.sessions[sess.ID()]; dup {
		return merr.WrapErrParameterInvalidMsg("link session %d already registered", sess.ID())
	}
	m.sessions[sess.ID()] = sess
	return nil
}

func (m *BaseSessionManager) Get(id uint64) (Session, bool) {
	m.mu.RLock()
	sess, ok := m.sessions[id]
	m.mu.RUnlock()
	return sess, ok
}

func (m *BaseSessionManager) Unregister(id uint64) error {
	m.mu.Lock()
	_, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return merr.WrapErrParameterInvalidMsg("link session %d not registered", id)
	}
	return nil
}

func (m *BaseSessionManager) Snapshot() []Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return lo.Values(m.sessions)
}

func (m *BaseSessionManager) Range(fn func(sess Session) bool) {
	if fn == nil {
		return
	}
	for _, sess := range m.Snapshot() {
		if !fn(sess) {
			return
		}
	}
}

func (m *BaseSessionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
