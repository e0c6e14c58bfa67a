package subscriber

import (
	"context"
	"errors"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Manager handles the read-only lookups against the profiles table
type Manager struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewManager returns a new Manager for subscriber lookups
func NewManager(logger *zap.Logger, db *gorm.DB) (*Manager, error) {
	if logger == nil {
		return nil, errors.New("nil Logger is invalid")
	}
	if db == nil {
		return nil, errors.New("nil DB is invalid")
	}
	return &Manager{
		db:     db,
		logger: logger,
	}, nil
}

// GetByEmail will try to return the profile by billing email address.
// Returns (nil, nil) when no profile matches.
func (m *Manager) GetByEmail(ctx context.Context, email string) (*Profile, error) {
	var profile Profile

	result := m.db.WithContext(ctx).First(&profile, "email = ?", email)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}

	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot get profile by email")
	}

	return &profile, nil
}
