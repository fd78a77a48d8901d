package store

import "time"

type projectRow struct {
	ID          string    `gorm:"primaryKey;size:64"`
	Name        string    `gorm:"size:191;not null"`
	Description string    `gorm:"type:text"`
	Path        *string   `gorm:"size:512;uniqueIndex"`
	IsActive    bool      `gorm:"not null;index"`
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`
}

func (projectRow) TableName() string {
	return "projects"
}

func (r projectRow) toRecord() ProjectRecord {
	rec := ProjectRecord{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		IsActive:    r.IsActive,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if r.Path != nil {
		rec.Path = *r.Path
	}
	return rec
}

func projectRowFromRecord(rec ProjectRecord) projectRow {
	row := projectRow{
		ID:          rec.ID,
		Name:        rec.Name,
		Description: rec.Description,
		IsActive:    rec.IsActive,
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
	}
	if rec.Path != "" {
		path := rec.Path
		row.Path = &path
	}
	return row
}

type sessionRow struct {
	ID           string    `gorm:"primaryKey;size:64"`
	ProjectID    string    `gorm:"size:64;index"`
	Title        string    `gorm:"size:512"`
	Model        string    `gorm:"size:191;not null"`
	SystemPrompt string    `gorm:"type:text"`
	IsActive     bool      `gorm:"not null;index"`
	TotalTokens  int64     `gorm:"not null"`
	TotalCost    float64   `gorm:"not null"`
	MessageCount int64     `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null"`
}

func (sessionRow) TableName() string {
	return "sessions"
}

func (r sessionRow) toRecord() SessionRecord {
	return SessionRecord{
		ID:           r.ID,
		ProjectID:    r.ProjectID,
		Title:        r.Title,
		Model:        r.Model,
		SystemPrompt: r.SystemPrompt,
		IsActive:     r.IsActive,
		TotalTokens:  r.TotalTokens,
		TotalCost:    r.TotalCost,
		MessageCount: r.MessageCount,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

func sessionRowFromRecord(rec SessionRecord) sessionRow {
	return sessionRow{
		ID:           rec.ID,
		ProjectID:    rec.ProjectID,
		Title:        rec.Title,
		Model:        rec.Model,
		SystemPrompt: rec.SystemPrompt,
		IsActive:     rec.IsActive,
		TotalTokens:  rec.TotalTokens,
		TotalCost:    rec.TotalCost,
		MessageCount: rec.MessageCount,
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
	}
}

type messageRow struct {
	ID           int64     `gorm:"primaryKey;autoIncrement"`
	SessionID    string    `gorm:"size:64;not null;index"`
	Role         string    `gorm:"size:32;not null"`
	Content      string    `gorm:"type:text;not null"`
	InputTokens  int64     `gorm:"not null"`
	OutputTokens int64     `gorm:"not null"`
	Cost         float64   `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null;index"`
}

func (messageRow) TableName() string {
	return "messages"
}

func (r messageRow) toRecord() MessageRecord {
	return MessageRecord{
		ID:           r.ID,
		SessionID:    r.SessionID,
		Role:         r.Role,
		Content:      r.Content,
		InputTokens:  r.InputTokens,
		OutputTokens: r.OutputTokens,
		Cost:         r.Cost,
		CreatedAt:    r.CreatedAt,
	}
}
