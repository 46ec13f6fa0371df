package sessionmanager

// Deferrals 是宿主为一次连接尝试提供的控制句柄，订阅者可以借此推迟、更新或结束这次连接。
//
// 说明：
//   - Defer  ：进入等待状态，宿主在 Done 或 Drop 之前不会放行该连接；
//   - Done   ：结束等待，reason 为空表示接受，非空表示以 reason 拒绝；
//   - Update ：更新玩家在等待期间看到的提示；
//   - Drop   ：直接断开这次连接尝试。
//
// Deferrals 只承载回调，不做任何状态校验；Done 或 Drop 之后的调用是否有效由宿主决定。
type Deferrals struct {
	Defer  func()
	Done   func(reason string)
	Update func(message string)
	Drop   func(reason string)
}

// NewDeferrals 以具名参数构造 Deferrals，各回调原样赋值。
func NewDeferrals(deferFn func(), done func(reason string), update func(message string), drop func(reason string)) *Deferrals {
	return &Deferrals{
		Defer:  deferFn,
		Done:   done,
		Update: update,
		Drop:   drop,
	}
}
