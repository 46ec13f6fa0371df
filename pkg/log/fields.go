package log

import (
	"go.uber.org/zap"
)

const (
	FieldNameModule    = "module"
	FieldNameComponent = "component"
	FieldNameEvent     = "event"
	FieldNameSessionID = "sessionID"
	FieldNameUserID    = "userID"
	FieldNameSteamID   = "steamID"
	FieldNameHandle    = "handle"
	FieldNameRemote    = "remote"
)

// FieldModule 返回一个包含模块名的 zap 字段。
func FieldModule(module string) zap.Field {
	return zap.String(FieldNameModule, module)
}

// FieldComponent 返回一个包含组件名的 zap 字段。
func FieldComponent(component string) zap.Field {
	return zap.String(FieldNameComponent, component)
}

// FieldEvent 返回一个包含事件名的 zap 字段，name 需实现 fmt.Stringer。
func FieldEvent(name interface{ String() string }) zap.Field {
	return zap.Stringer(FieldNameEvent, name)
}

// FieldSessionID 返回一个包含会话 ID 的 zap 字段。
func FieldSessionID(id interface{ String() string }) zap.Field {
	return zap.Stringer(FieldNameSessionID, id)
}

// FieldUserID 返回一个包含用户 ID 的 zap 字段。
func FieldUserID(id interface{ String() string }) zap.Field {
	return zap.Stringer(FieldNameUserID, id)
}

// FieldSteamID 返回一个包含平台账号 ID 的 zap 字段。
func FieldSteamID(steamID int64) zap.Field {
	return zap.Int64(FieldNameSteamID, steamID)
}

// FieldHandle 返回一个包含宿主侧客户端句柄的 zap 字段。
func FieldHandle(handle int32) zap.Field {
	return zap.Int32(FieldNameHandle, handle)
}

// FieldRemote 返回一个包含对端地址的 zap 字段。
func FieldRemote(addr string) zap.Field {
	return zap.String(FieldNameRemote, addr)
}
