package session

// SessionManager 是在线链路会话的索引，只登记不负责关闭。
type SessionManager interface {
	// Register 登记 sess，ID 已存在时返回 ErrParameterInvalid。
	Register(sess Session) error
	Get(id uint64) (sess Session, ok bool)
	// Unregister 移除 id 对应的会话，未登记时返回 ErrParameterInvalid。
	Unregister(id uint64) error
	// Range 在快照上遍历，fn 返回 false 时停止。
	Range(fn func(sess Session) bool)
	// Snapshot 返回当前会话的副本，顺序不确定。
	Snapshot() []Session
	Count() int
}
