package kms

import (
	"context"

	"github.com/turtacn/contatto/internal/domain/models"
	"github.com/turtacn/contatto/internal/domain/service"
	"github.com/turtacn/contatto/pkg/errors"
)

// StaticProvider returns credentials fixed at construction.
type StaticProvider struct {
	creds models.Credentials
}

func NewStaticProvider(email, password string) *StaticProvider {
	return &StaticProvider{creds: models.Credentials{Email: email, Password: password}}
}

func (p *StaticProvider) Credentials(context.Context) (models.Credentials, error) {
	if p.creds.IsZero() {
		return models.Credentials{}, errors.ErrInvalidArgument("email and password are required")
	}
	return p.creds, nil
}

var _ service.CredentialsProvider = (*StaticProvider)(nil)
