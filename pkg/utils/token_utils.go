package utils

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ExtractTokenExpiry reads the exp claim of a JWT without verifying its signature.
// The vendor signs its tokens with a key we never see; the claim is only used to
// schedule renewal, never to trust the token.
func ExtractTokenExpiry(token string) (time.Time, bool, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false, fmt.Errorf("parse token: %w", err)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read exp claim: %w", err)
	}
	if exp == nil {
		return time.Time{}, false, nil
	}
	return exp.Time, true, nil
}

// TokenExpiryOrDefault returns the token's exp claim, or now+fallback when it has none.
func TokenExpiryOrDefault(token string, now time.Time, fallback time.Duration) time.Time {
	if exp, ok, err := ExtractTokenExpiry(token); err == nil && ok {
		return exp
	}
	return now.Add(fallback)
}
