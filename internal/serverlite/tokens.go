package serverlite

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	tokenAccess  = "access"
	tokenRefresh = "refresh"
)

type claims struct {
	Type  string `json:"typ"`
	Email string `json:"email"`
	jwt.RegisteredClaims
}

func (s *Server) createToken(tokenType, email string, ttl time.Duration) (string, error) {
	now := s.now()
	c := claims{
		Type:  tokenType,
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.signingKey)
}

// verifyToken checks signature, expiry, revocation and type. An empty
// tokenType accepts either kind.
func (s *Server) verifyToken(tokenString, tokenType string) (*claims, error) {
	var c claims
	_, err := jwt.ParseWithClaims(tokenString, &c, func(t *jwt.Token) (interface{}, error) {
		return s.signingKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, err
	}
	if tokenType != "" && c.Type != tokenType {
		return nil, fmt.Errorf("want %s token, got %s", tokenType, c.Type)
	}
	if _, revoked := s.revoked.Load(c.ID); revoked {
		return nil, fmt.Errorf("token %s revoked", c.ID)
	}
	return &c, nil
}

func (s *Server) issuePair(email string) (tokenPair, error) {
	access, err := s.createToken(tokenAccess, email, s.accessTTL)
	if err != nil {
		return tokenPair{}, err
	}
	refresh, err := s.createToken(tokenRefresh, email, s.refreshTTL)
	if err != nil {
		return tokenPair{}, err
	}
	return tokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

type tokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}
