// Package models defines the domain models for the Contatto bridge.
// This file contains the Token domain model with its validity rules.
package models

import (
	"time"
)

// Token is the access/refresh token pair issued by the vendor's auth service.
// Token 是供应商认证服务颁发的访问/刷新令牌对。
type Token struct {
	// AccessToken is sent as the bearer credential on every API call and on the real-time connection.
	// AccessToken 作为每次 API 调用和实时连接的 bearer 凭证发送。
	AccessToken string `json:"access_token"`

	// RefreshToken is exchanged for a new access token. It may be empty.
	// RefreshToken 用于换取新的访问令牌，可以为空。
	RefreshToken string `json:"refresh_token,omitempty"`

	// ExpiresAt is when the access token stops being accepted.
	// ExpiresAt 是访问令牌失效的时间。
	ExpiresAt time.Time `json:"expires_at"`

	// ObtainedAt is when the pair was issued to us.
	// ObtainedAt 是获得令牌对的时间。
	ObtainedAt time.Time `json:"obtained_at"`
}

// IsZero reports whether no access token is held.
// IsZero 判断是否未持有访问令牌。
func (t *Token) IsZero() bool {
	return t == nil || t.AccessToken == ""
}

// Valid reports whether the access token is usable at now, treating it as expired
// skew before its actual expiry.
// Valid 判断访问令牌在 now 时刻是否可用，提前 skew 视为过期。
func (t *Token) Valid(now time.Time, skew time.Duration) bool {
	if t.IsZero() {
		return false
	}
	if t.ExpiresAt.IsZero() {
		return true
	}
	return now.Add(skew).Before(t.ExpiresAt)
}

// HasRefresh reports whether the pair can be renewed without the password.
// HasRefresh 判断是否可以不使用密码续期。
func (t *Token) HasRefresh() bool {
	return t != nil && t.RefreshToken != ""
}

// RemainingLifetime returns the time until the access token expires.
// RemainingLifetime 返回访问令牌的剩余有效期。
func (t *Token) RemainingLifetime(now time.Time) time.Duration {
	if t.IsZero() || t.ExpiresAt.IsZero() {
		return 0
	}
	if d := t.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// Credentials are the account email and password used for a fresh login.
// Credentials 是用于重新登录的账户邮箱和密码。
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// IsZero reports whether credentials are missing.
func (c Credentials) IsZero() bool {
	return c.Email == "" || c.Password == ""
}
