package router

import (
	"fmt"

	"github.com/lk2023060901/sessionmanager-go/internal/network/session"
	"github.com/lk2023060901/sessionmanager-go/internal/network/wire"
	"github.com/lk2023060901/sessionmanager-go/pkg/util/merr"
)

// Handler 是按帧类别注册的处理函数。
//
// 说明：
//   - sess：帧所属的会话，可用于回写应答；
//   - f   ：已经通过 Validate 的帧。
type Handler func(sess session.Session, f *wire.Frame) error

// Router 维护帧类别到处理函数的映射。
//
// 典型调用链：
//  1. 会话读协程解码出一帧；
//  2. 上层调用 Router.Handle(sess, f)；
//  3. Router 校验帧并按 f.Kind 调用对应 Handler。
type Router interface {
	// Register 为帧类别 kind 注册处理函数，同一类别不允许重复注册。
	Register(kind wire.Kind, h Handler) error

	// Handle 分发一帧；没有对应处理函数时返回 ErrLinkProtocol。
	Handle(sess session.Session, f *wire.Frame) error
}

type defaultRouter struct {
	routes map[wire.Kind]Handler
}

var _ Router = (*defaultRouter)(nil)

// New 创建一个空的 Router。
func New() Router {
	return &defaultRouter{
		routes: make(map[wire.Kind]Handler),
	}
}

func (r *defaultRouter) Register(kind wire.Kind, h Handler) error {
	if h == nil {
		return merr.WrapErrParameterMissing("handler", fmt.Sprintf("route %s", kind))
	}
	if _, exists := r.routes[kind]; exists {
		return merr.WrapErrParameterInvalidMsg("route %s already registered", kind)
	}
	r.routes[kind] = h
	return nil
}

func (r *defaultRouter) Handle(sess session.Session, f *wire.Frame) error {
	if sess == nil {
		return merr.WrapErrParameterMissing("session", "route")
	}
	if f == nil {
		return merr.WrapErrParameterMissing("frame", "route")
	}
	if err := f.Validate(); err != nil {
		return err
	}
	h, ok := r.routes[f.Kind]
	if !ok {
		return merr.WrapErrLinkProtocol(fmt.Sprintf("no route for %s frame", f.Kind))
	}
	return h(sess, f)
}

// MustRegister 与 Register 相同，失败时 panic，用于初始化阶段的静态路由表。
func MustRegister(r Router, kind wire.Kind, h Handler) {
	if err := r.Register(kind, h); err != nil {
		panic(err)
	}
}
