package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/turtacn/contatto/internal/domain/models"
)

type MockAuthenticator struct {
	mock.Mock
}

func (m *MockAuthenticator) Login(ctx context.Context, creds models.Credentials) (*models.Token, error) {
	args := m.Called(ctx, creds)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Token), args.Error(1)
}

func (m *MockAuthenticator) Refresh(ctx context.Context, refreshToken string) (*models.Token, error) {
	args := m.Called(ctx, refreshToken)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Token), args.Error(1)
}

type MockCredentialsProvider struct {
	mock.Mock
}

func (m *MockCredentialsProvider) Credentials(ctx context.Context) (models.Credentials, error) {
	args := m.Called(ctx)
	return args.Get(0).(models.Credentials), args.Error(1)
}
