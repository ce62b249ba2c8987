// Package repository 定义领域仓储接口
// 仓储接口遵循 DDD 原则，定义领域对象的持久化契约
package repository

import (
	"context"

	"github.com/turtacn/contatto/internal/domain/models"
)

// TokenRepository 定义令牌仓储接口
// 该接口持久化每个账户的访问/刷新令牌对，使进程重启后无需重新登录
// 实现类：
//   - internal/infrastructure/persistence/memory/token_repo.go
//   - internal/infrastructure/persistence/redis/token_repo.go
//   - internal/infrastructure/persistence/postgres/token_repo_impl.go
type TokenRepository interface {
	// Save 保存账户的令牌对，覆盖已有记录
	// 参数：
	//   - ctx: 请求上下文，用于超时控制和链路追踪
	//   - account: 账户标识（登录邮箱）
	//   - token: 令牌领域模型
	// 返回：
	//   - error: 保存失败时返回错误
	Save(ctx context.Context, account string, token *models.Token) error

	// Load 读取账户的令牌对
	// 参数：
	//   - ctx: 请求上下文
	//   - account: 账户标识
	// 返回：
	//   - *models.Token: 令牌对；不存在时返回 nil
	//   - error: 读取失败时返回错误（不存在不视为错误）
	Load(ctx context.Context, account string) (*models.Token, error)

	// Delete 删除账户的令牌对
	// 参数：
	//   - ctx: 请求上下文
	//   - account: 账户标识
	// 返回：
	//   - error: 删除失败时返回错误（不存在不视为错误）
	Delete(ctx context.Context, account string) error
}

// StatusHistoryRepository 定义设备状态历史仓储接口
// 记录协调器接受的每个状态，供 HTTP API 查询
// 实现类：internal/infrastructure/persistence/postgres/status_history_repo.go
type StatusHistoryRepository interface {
	// Append 追加一条已接受的设备状态
	// 参数：
	//   - ctx: 请求上下文
	//   - status: 设备状态快照
	// 返回：
	//   - error: 写入失败时返回错误
	Append(ctx context.Context, status models.DeviceStatus) error

	// ListBySerial 按观测时间倒序查询设备的状态历史
	// 参数：
	//   - ctx: 请求上下文
	//   - serial: 设备序列号
	//   - limit: 最大返回条数
	// 返回：
	//   - []models.DeviceStatus: 状态切片（最新在前）
	//   - error: 查询失败时返回错误
	ListBySerial(ctx context.Context, serial string, limit int) ([]models.DeviceStatus, error)

	// Prune 删除早于保留条数的旧记录
	// 参数：
	//   - ctx: 请求上下文
	//   - serial: 设备序列号
	//   - keep: 每台设备保留的条数
	// 返回：
	//   - int64: 删除的条数
	//   - error: 删除失败时返回错误
	Prune(ctx context.Context, serial string, keep int) (int64, error)
}
