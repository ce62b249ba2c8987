package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/turtacn/contatto/internal/domain/models"
)

type MockTokenRepository struct {
	mock.Mock
}

func (m *MockTokenRepository) Save(ctx context.Context, account string, token *models.Token) error {
	args := m.Called(ctx, account, token)
	return args.Error(0)
}

func (m *MockTokenRepository) Load(ctx context.Context, account string) (*models.Token, error) {
	args := m.Called(ctx, account)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Token), args.Error(1)
}

func (m *MockTokenRepository) Delete(ctx context.Context, account string) error {
	args := m.Called(ctx, account)
	return args.Error(0)
}
