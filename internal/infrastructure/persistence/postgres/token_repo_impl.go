package postgres

import (
	"context"
	stderrors "errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/turtacn/contatto/internal/domain/models"
	"github.com/turtacn/contatto/internal/domain/repository"
	"github.com/turtacn/contatto/pkg/logger"
)

// tokenRecord is one persisted token pair per account.
type tokenRecord struct {
	Account      string `gorm:"primaryKey;size:320"`
	AccessToken  string `gorm:"type:text;not null"`
	RefreshToken string `gorm:"type:text"`
	ExpiresAt    time.Time
	ObtainedAt   time.Time
	UpdatedAt    time.Time
}

func (tokenRecord) TableName() string { return "contatto_tokens" }

// TokenRepositoryImpl implements repository.TokenRepository with GORM.
type TokenRepositoryImpl struct {
	db     *gorm.DB
	logger logger.Logger
}

// NewTokenRepository creates a GORM token repository.
//
// Parameters:
//   - db: migrated GORM handle
//   - log: Logger instance for repository operations
func NewTokenRepository(db *gorm.DB, log logger.Logger) *TokenRepositoryImpl {
	if log == nil {
		log = logger.NewNoopLogger()
	}
	return &TokenRepositoryImpl{db: db, logger: log.WithComponent("token-repo")}
}

// Save upserts the token pair for account.
func (r *TokenRepositoryImpl) Save(ctx context.Context, account string, token *models.Token) error {
	if token == nil {
		return r.Delete(ctx, account)
	}
	rec := tokenRecord{
		Account:      account,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.ExpiresAt.UTC(),
		ObtainedAt:   token.ObtainedAt.UTC(),
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "account"}},
			DoUpdates: clause.AssignmentColumns([]string{"access_token", "refresh_token", "expires_at", "obtained_at", "updated_at"}),
		}).
		Create(&rec).Error
	if err != nil {
		r.logger.Error(ctx, "Failed to save token", err)
		return mapPgErr(err)
	}
	return nil
}

// Load returns the stored pair, or nil when the account has none.
func (r *TokenRepositoryImpl) Load(ctx context.Context, account string) (*models.Token, error) {
	var rec tokenRecord
	err := r.db.WithContext(ctx).Where("account = ?", account).First(&rec).Error
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		r.logger.Error(ctx, "Failed to load token", err)
		return nil, mapPgErr(err)
	}
	return &models.Token{
		AccessToken:  rec.AccessToken,
		RefreshToken: rec.RefreshToken,
		ExpiresAt:    rec.ExpiresAt.UTC(),
		ObtainedAt:   rec.ObtainedAt.UTC(),
	}, nil
}

// Delete removes the pair for account. Deleting a missing pair is not an error.
func (r *TokenRepositoryImpl) Delete(ctx context.Context, account string) error {
	if err := r.db.WithContext(ctx).Where("account = ?", account).Delete(&tokenRecord{}).Error; err != nil {
		return mapPgErr(err)
	}
	return nil
}

var _ repository.TokenRepository = (*TokenRepositoryImpl)(nil)
