package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/turtacn/contatto/internal/domain/models"
)

type MockTokenSource struct {
	mock.Mock
}

func (m *MockTokenSource) CurrentToken(ctx context.Context) (*models.Token, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Token), args.Error(1)
}

func (m *MockTokenSource) OnAuthRejected(ctx context.Context) (*models.Token, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Token), args.Error(1)
}
