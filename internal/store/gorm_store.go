package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	dbpkg "crabstack.local/claude-gateway/internal/db"
)

type GormStore struct {
	db *gorm.DB
}

var _ Store = (*GormStore)(nil)

func NewGormStore(driver, dsn string) (*GormStore, error) {
	gormDB, err := dbpkg.OpenGorm(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open gorm store: %w", err)
	}

	store := &GormStore{db: gormDB}
	if err := store.migrate(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *GormStore) migrate() error {
	if err := s.db.AutoMigrate(&projectRow{}, &sessionRow{}, &messageRow{}); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *GormStore) CreateProject(ctx context.Context, project ProjectRecord) (ProjectRecord, error) {
	rec, err := newProject(project, time.Now().UTC())
	if err != nil {
		return ProjectRecord{}, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if rec.Path != "" {
			var count int64
			if err := tx.Model(&projectRow{}).Where("path = ?", rec.Path).Count(&count).Error; err != nil {
				return fmt.Errorf("path lookup: %w", err)
			}
			if count > 0 {
				return fmt.Errorf("%w: project path %q already registered", ErrConflict, rec.Path)
			}
		}
		row := projectRowFromRecord(rec)
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("create project: %w", err)
		}
		return nil
	})
	if err != nil {
		return ProjectRecord{}, err
	}
	return rec, nil
}

func (s *GormStore) GetProject(ctx context.Context, id string) (ProjectRecord, error) {
	if err := validateID("project", id); err != nil {
		return ProjectRecord{}, err
	}

	var row projectRow
	err := s.db.WithContext(ctx).Where("id = ? AND is_active = ?", id, true).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ProjectRecord{}, ErrNotFound
		}
		return ProjectRecord{}, fmt.Errorf("get project: %w", err)
	}
	return row.toRecord(), nil
}

func (s *GormStore) ListProjects(ctx context.Context) ([]ProjectRecord, error) {
	var rows []projectRow
	if err := s.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("created_at DESC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	out := make([]ProjectRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toRecord())
	}
	return out, nil
}

func (s *GormStore) DeleteProject(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Model(&projectRow{}).
		Where("id = ? AND is_active = ?", id, true).
		Updates(map[string]any{
			"is_active":  false,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return fmt.Errorf("delete project: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) CreateSession(ctx context.Context, session SessionRecord) (SessionRecord, error) {
	rec, err := newSession(session, time.Now().UTC())
	if err != nil {
		return SessionRecord{}, err
	}
	row := sessionRowFromRecord(rec)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return SessionRecord{}, fmt.Errorf("create session: %w", err)
	}
	return rec, nil
}

func (s *GormStore) EnsureSession(ctx context.Context, session SessionRecord) (SessionRecord, error) {
	now := time.Now().UTC()
	incoming, err := newSession(session, now)
	if err != nil {
		return SessionRecord{}, err
	}

	var out SessionRecord
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current sessionRow
		err := tx.Where("id = ?", incoming.ID).Take(&current).Error
		if err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("get session: %w", err)
			}
			row := sessionRowFromRecord(incoming)
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("create session: %w", err)
			}
			out = incoming
			return nil
		}

		merged := mergeSession(current.toRecord(), incoming, now)
		row := sessionRowFromRecord(merged)
		if err := tx.Save(&row).Error; err != nil {
			return fmt.Errorf("update session: %w", err)
		}
		out = merged
		return nil
	})
	if err != nil {
		return SessionRecord{}, err
	}
	return out, nil
}

func (s *GormStore) GetSession(ctx context.Context, id string) (SessionRecord, error) {
	if err := validateID("session", id); err != nil {
		return SessionRecord{}, err
	}

	var row sessionRow
	err := s.db.WithContext(ctx).Where("id = ? AND is_active = ?", id, true).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return SessionRecord{}, ErrNotFound
		}
		return SessionRecord{}, fmt.Errorf("get session: %w", err)
	}
	return row.toRecord(), nil
}

func (s *GormStore) ListSessions(ctx context.Context) ([]SessionRecord, error) {
	var rows []sessionRow
	if err := s.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("updated_at DESC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	out := make([]SessionRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toRecord())
	}
	return out, nil
}

func (s *GormStore) DeleteSession(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Model(&sessionRow{}).
		Where("id = ? AND is_active = ?", id, true).
		Updates(map[string]any{
			"is_active":  false,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return fmt.Errorf("delete session: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) UpdateSessionMetrics(ctx context.Context, sessionID string, tokens int64, cost float64) error {
	res := s.db.WithContext(ctx).Model(&sessionRow{}).Where("id = ?", sessionID).Updates(map[string]any{
		"total_tokens":  gorm.Expr("total_tokens + ?", tokens),
		"total_cost":    gorm.Expr("total_cost + ?", cost),
		"message_count": gorm.Expr("message_count + ?", 1),
		"updated_at":    time.Now().UTC(),
	})
	if res.Error != nil {
		return fmt.Errorf("update session metrics: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) AddMessage(ctx context.Context, msg MessageRecord) (MessageRecord, error) {
	if err := validateMessage(msg); err != nil {
		return MessageRecord{}, err
	}
	row := messageRow{
		SessionID:    msg.SessionID,
		Role:         msg.Role,
		Content:      msg.Content,
		InputTokens:  msg.InputTokens,
		OutputTokens: msg.OutputTokens,
		Cost:         msg.Cost,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return MessageRecord{}, fmt.Errorf("add message: %w", err)
	}
	return row.toRecord(), nil
}

func (s *GormStore) ListMessages(ctx context.Context, sessionID string, limit int) ([]MessageRecord, error) {
	if err := validateID("session", sessionID); err != nil {
		return nil, err
	}

	query := s.db.WithContext(ctx).
		Model(&messageRow{}).
		Where("session_id = ?", sessionID).
		Order("id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var rows []messageRow
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	out := make([]MessageRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toRecord())
	}
	return out, nil
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	return sqlDB.Close()
}
