package service

import (
	"context"

	"github.com/turtacn/contatto/internal/domain/models"
)

//go:generate mockery --name Authenticator --output mocks --outpkg mocks
// Authenticator exchanges credentials or a refresh token for a new token pair.
// Authenticator 用凭证或刷新令牌换取新的令牌对。
type Authenticator interface {
	// Login performs a password login.
	// Login 执行密码登录。
	Login(ctx context.Context, creds models.Credentials) (*models.Token, error)

	// Refresh exchanges a refresh token. The returned pair may omit the refresh token,
	// in which case the previous one stays valid.
	// Refresh 交换刷新令牌。返回的令牌对可能不含刷新令牌，此时原刷新令牌继续有效。
	Refresh(ctx context.Context, refreshToken string) (*models.Token, error)
}

//go:generate mockery --name CredentialsProvider --output mocks --outpkg mocks
// CredentialsProvider supplies the account email and password.
// CredentialsProvider 提供账户邮箱和密码。
type CredentialsProvider interface {
	Credentials(ctx context.Context) (models.Credentials, error)
}

//go:generate mockery --name TokenSource --output mocks --outpkg mocks
// TokenSource is what authenticated collaborators need from the token lifecycle.
// TokenSource 是需要认证的协作方对令牌生命周期的依赖。
type TokenSource interface {
	// CurrentToken returns a token believed to be valid, renewing it first if needed.
	// CurrentToken 返回一个被认为有效的令牌，必要时先续期。
	CurrentToken(ctx context.Context) (*models.Token, error)

	// OnAuthRejected renews after the remote side rejected the current token.
	// OnAuthRejected 在远端拒绝当前令牌后续期。
	OnAuthRejected(ctx context.Context) (*models.Token, error)
}

// StatusSink accepts device status observations.
// StatusSink 接收设备状态观测。
type StatusSink interface {
	// Submit offers a status and reports whether it was accepted.
	// Submit 提交状态并返回是否被接受。
	Submit(status models.DeviceStatus) bool
}

// ConnectionObserver receives every phase transition of the real-time connection.
// ConnectionObserver 接收实时连接的每次状态转换。
type ConnectionObserver func(state models.ConnectionState)
