package sessionmanager

import "github.com/lk2023060901/sessionmanager-go/internal/model"

// ClientEventArgs 只携带客户端的通知载荷。
type ClientEventArgs struct {
	Client *model.Client
}

// ClientUserEventArgs 携带客户端与用户。
type ClientUserEventArgs struct {
	Client *model.Client
	User   *model.User
}

// ClientSessionEventArgs 携带客户端与会话。
type ClientSessionEventArgs struct {
	Client  *model.Client
	Session *model.Session
}

// ClientDeferralsEventArgs 携带客户端与连接控制句柄。
type ClientDeferralsEventArgs struct {
	Client    *model.Client
	Deferrals *Deferrals
}

// ClientSessionDeferralsEventArgs 携带客户端、会话与连接控制句柄。
type ClientSessionDeferralsEventArgs struct {
	Client    *model.Client
	Session   *model.Session
	Deferrals *Deferrals
}

// ClientReconnectEventArgs 携带客户端以及重连前后的两个会话。
type ClientReconnectEventArgs struct {
	Client     *model.Client
	OldSession *model.Session
	NewSession *model.Session
}
