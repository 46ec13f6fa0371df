package eventbus

import (
	"context"
	"reflect"

	"github.com/lk2023060901/sessionmanager-go/internal/events"
	"github.com/lk2023060901/sessionmanager-go/pkg/util/merr"
)

// Arg 取出 args 中第 i 个参数并转换为 T。
//
// 转换规则：
//   - 值本身可断言为 T 时直接返回；
//   - 值为 nil 时返回 T 的零值；
//   - 值实现了 Decoder 时解码到 T；
//   - 其余情况返回 ErrEventPayloadMismatch。
func Arg[T any](name events.Name, args []any, i int) (T, error) {
	var zero T
	if i < 0 || i >= len(args) {
		return zero, merr.WrapErrEventArity(name, i+1, len(args))
	}
	return as[T](name, i, args[i])
}

func as[T any](name events.Name, i int, v any) (T, error) {
	var out T
	if v == nil {
		return out, nil
	}
	if t, ok := v.(T); ok {
		return t, nil
	}
	if d, ok := v.(Decoder); ok {
		if err := d.Decode(&out); err != nil {
			return out, merr.WrapErrEventPayloadMismatch(name, i, typeName[T](), v, err.Error())
		}
		return out, nil
	}
	return out, merr.WrapErrEventPayloadMismatch(name, i, typeName[T](), v)
}

func typeName[T any]() string {
	return reflect.TypeFor[T]().String()
}

func checkArity(name events.Name, args []any, n int) error {
	if len(args) != n {
		return merr.WrapErrEventArity(name, n, len(args))
	}
	return nil
}

// On1 注册一个单参数的强类型处理函数。
// 参数个数或类型不符时 fn 不会被调用，Emit 返回 ErrEventPayloadMismatch。
func On1[A any](bus EventManager, name events.Name, fn func(ctx context.Context, a A) error) {
	bus.On(name, func(ctx context.Context, args []any) error {
		if err := checkArity(name, args, 1); err != nil {
			return err
		}
		a, err := as[A](name, 0, args[0])
		if err != nil {
			return err
		}
		return fn(ctx, a)
	})
}

// On2 注册一个双参数的强类型处理函数。
func On2[A, B any](bus EventManager, name events.Name, fn func(ctx context.Context, a A, b B) error) {
	bus.On(name, func(ctx context.Context, args []any) error {
		if err := checkArity(name, args, 2); err != nil {
			return err
		}
		a, err := as[A](name, 0, args[0])
		if err != nil {
			return err
		}
		b, err := as[B](name, 1, args[1])
		if err != nil {
			return err
		}
		return fn(ctx, a, b)
	})
}

// On3 注册一个三参数的强类型处理函数。
func On3[A, B, C any](bus EventManager, name events.Name, fn func(ctx context.Context, a A, b B, c C) error) {
	bus.On(name, func(ctx context.Context, args []any) error {
		if err := checkArity(name, args, 3); err != nil {
			return err
		}
		a, err := as[A](name, 0, args[0])
		if err != nil {
			return err
		}
		b, err := as[B](name, 1, args[1])
		if err != nil {
			return err
		}
		c, err := as[C](name, 2, args[2])
		if err != nil {
			return err
		}
		return fn(ctx, a, b, c)
	})
}

// Request 发起一次查询并把结果转换为 T。
func Request[T any](ctx context.Context, bus EventManager, name events.Name, args ...any) (T, error) {
	res, err := bus.Request(ctx, name, args...)
	if err != nil {
		var zero T
		return zero, err
	}
	return as[T](name, 0, res)
}
