// Package service defines the domain services of the Contatto bridge: the token
// lifecycle manager, the state reconciler and the contracts they depend on.
package service

import (
	"time"

	"github.com/turtacn/contatto/internal/domain/models"
)

// Metrics defines the interface for collecting bridge metrics.
// This abstraction allows the domain and application layers to remain independent of the specific monitoring implementation (e.g., Prometheus).
// Metrics 定义了收集桥接指标的接口。
// 这种抽象使领域层和应用层能够独立于具体的监控实现（例如 Prometheus）。
type Metrics interface {
	// RecordTokenRenewal records a login or refresh attempt.
	// RecordTokenRenewal 记录一次登录或刷新尝试。
	RecordTokenRenewal(kind string, success bool, duration time.Duration)

	// RecordConnectionPhase records a transition of the real-time connection.
	// RecordConnectionPhase 记录实时连接的状态转换。
	RecordConnectionPhase(phase models.Phase)

	// RecordReconnectScheduled records a scheduled reconnect and its delay.
	// RecordReconnectScheduled 记录一次计划重连及其延迟。
	RecordReconnectScheduled(attempt int, delay time.Duration)

	// RecordFrame records an inbound frame by kind.
	// RecordFrame 按类型记录入站帧。
	RecordFrame(kind string)

	// RecordMalformedFrame records an inbound frame that could not be decoded.
	// RecordMalformedFrame 记录无法解码的入站帧。
	RecordMalformedFrame()

	// RecordStatus records a status offered to the reconciler.
	// RecordStatus 记录提交给协调器的状态。
	RecordStatus(source models.StatusSource, accepted bool)

	// RecordPollCycle records one polling pass.
	// RecordPollCycle 记录一次轮询。
	RecordPollCycle(success bool, devices int, duration time.Duration)

	// RecordAPICall records a vendor API call.
	// RecordAPICall 记录一次供应商 API 调用。
	RecordAPICall(operation string, status int, duration time.Duration)

	// RecordPublish records a status publication to the event bus.
	// RecordPublish 记录一次向事件总线的状态发布。
	RecordPublish(success bool)
}

// NoopMetrics discards every measurement.
type NoopMetrics struct{}

var _ Metrics = NoopMetrics{}

func (NoopMetrics) RecordTokenRenewal(string, bool, time.Duration) {}
func (NoopMetrics) RecordConnectionPhase(models.Phase)             {}
func (NoopMetrics) RecordReconnectScheduled(int, time.Duration)    {}
func (NoopMetrics) RecordFrame(string)                             {}
func (NoopMetrics) RecordMalformedFrame()                          {}
func (NoopMetrics) RecordStatus(models.StatusSource, bool)         {}
func (NoopMetrics) RecordPollCycle(bool, int, time.Duration)       {}
func (NoopMetrics) RecordAPICall(string, int, time.Duration)       {}
func (NoopMetrics) RecordPublish(bool)                             {}
