package hostsim

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/lk2023060901/sessionmanager-go/internal/model"
	"github.com/lk2023060901/sessionmanager-go/pkg/util/merr"
)

// steamIDBase 是 SteamID64 个人账号的起点。
const steamIDBase int64 = 76561197960265728

// Simulate 每隔 interval 推进一步玩家活动，直到 ctx 结束。
//
// 说明：
//   - 在线数低于 players 时优先接入新玩家，玩家从 players 个固定身份中挑选，以便重复连接复用用户；
//   - 否则随机选择一个在线会话执行初始化、重连、断开或超时；
//   - 被订阅者拒绝的连接只记录日志，不会终止模拟。
func (h *Host) Simulate(ctx context.Context, players int, interval time.Duration) error {
	if players <= 0 {
		return merr.WrapErrParameterInvalidMsg("players must be positive, got %d", players)
	}
	if interval <= 0 {
		interval = time.Second
	}
	rng := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), uint64(players)))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if err := h.step(ctx, rng, players); err != nil && ctx.Err() == nil {
			h.Logger().Warn("simulation step failed", zap.Error(err))
		}
	}
}

func (h *Host) step(ctx context.Context, rng *rand.Rand, players int) error {
	online := h.Sessions()
	if len(online) < players && (len(online) == 0 || rng.IntN(3) > 0) {
		_, err := h.Connect(ctx, h.randomClient(rng, players))
		if errors.Is(err, merr.ErrClientRejected) {
			h.Logger().Info("simulated client rejected", zap.Error(err))
			return nil
		}
		return err
	}

	target := online[rng.IntN(len(online))]
	switch rng.IntN(4) {
	case 0:
		return h.Initialize(ctx, target.ID)
	case 1:
		_, err := h.Reconnect(ctx, target.ID)
		return err
	case 2:
		return h.Disconnect(ctx, target.ID)
	default:
		return h.TimeOut(ctx, target.ID)
	}
}

func (h *Host) randomClient(rng *rand.Rand, players int) *model.Client {
	n := rng.IntN(players)
	return &model.Client{
		Handle:   int32(rng.IntN(1 << 15)),
		Name:     fmt.Sprintf("player-%02d", n),
		SteamID:  steamIDBase + int64(n),
		License:  fmt.Sprintf("license:%040x", n),
		EndPoint: fmt.Sprintf("10.0.%d.%d:%d", n/250, n%250+1, 30000+rng.IntN(30000)),
		Ping:     int32(20 + rng.IntN(80)),
	}
}
