package records

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Personalization is the persisted history row for one completed run
type Personalization struct {
	ID          uint    `gorm:"primaryKey"`
	UserID      string  `gorm:"index;size:64"`
	Name        string  `gorm:"size:255"`
	Description string  `gorm:"size:512"`
	Note        *string `gorm:"size:1000"`
	Content     string
	AudioFile   *string `gorm:"size:2048"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// GormStore persists records to a relational database
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the database for the given driver and migrates the schema
func NewGormStore(driver, dsn string) (*GormStore, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.AutoMigrate(&Personalization{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return &GormStore{db: db}, nil
}

// Save inserts one history row
func (s *GormStore) Save(ctx context.Context, rec Record) error {
	row := Personalization{
		UserID:      rec.OwnerID,
		Name:        rec.Topic,
		Description: rec.Description,
		Content:     rec.Content,
	}
	if rec.Note != "" {
		row.Note = &rec.Note
	}
	if rec.AudioURL != "" {
		row.AudioFile = &rec.AudioURL
	}

	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to save personalization record: %w", err)
	}
	return nil
}

// ListByOwner returns an owner's history, newest first
func (s *GormStore) ListByOwner(ctx context.Context, ownerID string, limit int) ([]Personalization, error) {
	if limit <= 0 {
		limit = 50
	}

	var rows []Personalization
	err := s.db.WithContext(ctx).
		Where("user_id = ?", ownerID).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list personalization records: %w", err)
	}
	return rows, nil
}
