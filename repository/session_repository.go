package repository

import (
	"context"

	"countcoach/model"

	"gorm.io/gorm"
)

// SessionRepository is the data access interface for practice sessions.
type SessionRepository interface {
	Create(ctx context.Context, session *model.PracticeSession) error
	GetByID(ctx context.Context, id string) (*model.PracticeSession, error)
	GetByUserID(ctx context.Context, userID int64) ([]*model.PracticeSession, error)
	Update(ctx context.Context, session *model.PracticeSession) error
	Delete(ctx context.Context, id string) error
}

// gormSessionRepository is the GORM implementation.
type gormSessionRepository struct {
	db *gorm.DB
}

// NewGormSessionRepository creates a GORM practice-session repository.
func NewGormSessionRepository(db *gorm.DB) SessionRepository {
	return &gormSessionRepository{db: db}
}

// Create inserts a practice session.
func (r *gormSessionRepository) Create(ctx context.Context, session *model.PracticeSession) error {
	return r.db.WithContext(ctx).Create(session).Error
}

// GetByID fetches a practice session, nil when absent.
func (r *gormSessionRepository) GetByID(ctx context.Context, id string) (*model.PracticeSession, error) {
	var session model.PracticeSession
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&session).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &session, nil
}

// GetByUserID lists a user's practice sessions, newest first.
func (r *gormSessionRepository) GetByUserID(ctx context.Context, userID int64) ([]*model.PracticeSession, error) {
	var sessions []*model.PracticeSession
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		Find(&sessions).Error
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

// Update saves a modified practice session.
func (r *gormSessionRepository) Update(ctx context.Context, session *model.PracticeSession) error {
	return r.db.WithContext(ctx).Save(session).Error
}

// Delete removes a practice session.
func (r *gormSessionRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Delete(&model.PracticeSession{}, "id = ?", id).Error
}
