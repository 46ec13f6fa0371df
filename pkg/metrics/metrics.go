// Licensed to the LF AI & Data foundation under one
// or more contributor license agreements. See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership. The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metrics

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/lk2023060901/sessionmanager-go/pkg/util/merr"
)

const (
	// sessionmgrNamespace 是当前项目所有 Prometheus 指标使用的命名空间。
	sessionmgrNamespace = "sessionmgr"

	// 以下为当前使用的通用标签名。
	eventLabelName  = "event"
	statusLabelName = "status"
	opLabelName     = "op"
	sideLabelName   = "side"

	// 请求/存储操作结果的标签取值。
	SuccessLabel = "success"
	FailLabel    = "fail"
	TimeoutLabel = "timeout"
)

var (
	// buckets 为请求耗时直方图的桶划分，单位为毫秒。
	// 实际桶分布为：
	// [1 2 4 8 16 32 64 128 256 512 1024 2048 4096 8192 16384 32768 65536 1.31072e+05]
	buckets = prometheus.ExponentialBuckets(1, 2, 18)

	// RelayedEventsTotal 统计转发给本地订阅者的宿主事件次数。
	RelayedEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: sessionmgrNamespace,
			Name:      "relayed_events_total",
			Help:      "宿主事件转发为本地通知的次数",
		}, []string{eventLabelName})

	// HostRequestsTotal 统计经事件总线发往宿主的查询请求，按结果区分。
	HostRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: sessionmgrNamespace,
			Name:      "host_requests_total",
			Help:      "发往宿主的查询请求次数",
		}, []string{eventLabelName, statusLabelName})

	// HostRequestLatency 记录查询请求耗时，单位毫秒。
	HostRequestLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: sessionmgrNamespace,
			Name:      "host_request_latency_ms",
			Help:      "发往宿主的查询请求耗时（毫秒）",
			Buckets:   buckets,
		}, []string{eventLabelName})

	// DisconnectCommandsTotal 统计发出的断开连接命令。
	DisconnectCommandsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: sessionmgrNamespace,
			Name:      "disconnect_commands_total",
			Help:      "发往宿主的断开连接命令次数",
		})

	// StorageOpsTotal 统计持久化操作，按操作名与结果区分。
	StorageOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: sessionmgrNamespace,
			Name:      "storage_ops_total",
			Help:      "会话/用户持久化操作次数",
		}, []string{opLabelName, statusLabelName})

	// LinkConnected 表示宿主链路当前连接数；side 为 plugin 或 host。
	LinkConnected = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: sessionmgrNamespace,
			Name:      "link_connected",
			Help:      "宿主链路当前建立的连接数",
		}, []string{sideLabelName})

	registerOnce     sync.Once
	metricRegisterer prometheus.Registerer
)

// GetRegisterer 返回全局 Prometheus Registerer。
// 如果尚未通过 Register 显式设置，则返回 prometheus.DefaultRegisterer。
func GetRegisterer() prometheus.Registerer {
	if metricRegisterer == nil {
		return prometheus.DefaultRegisterer
	}
	return metricRegisterer
}

// Register 注册当前定义的所有指标，重复调用只生效一次。
// 通常在进程启动时调用。
func Register(r prometheus.Registerer) {
	registerOnce.Do(func() {
		r.MustRegister(RelayedEventsTotal)
		r.MustRegister(HostRequestsTotal)
		r.MustRegister(HostRequestLatency)
		r.MustRegister(DisconnectCommandsTotal)
		r.MustRegister(StorageOpsTotal)
		r.MustRegister(LinkConnected)
		RegisterLoggingMetrics(r)
		metricRegisterer = r
	})
}

// StatusOf 将错误转换为 status 标签取值。
func StatusOf(err error) string {
	switch {
	case err == nil:
		return SuccessLabel
	case errors.IsAny(err, merr.ErrRequestTimeout, context.DeadlineExceeded):
		return TimeoutLabel
	default:
		return FailLabel
	}
}
