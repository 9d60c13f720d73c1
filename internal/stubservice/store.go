package stubservice

import (
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"go-symmetry-console/pkg/models"
)

// ErrNotFound is returned when no analysis has the requested id
var ErrNotFound = errors.New("analysis not found")

// AnalysisRecord is one stored analysis with both image variants
type AnalysisRecord struct {
	ID             string `gorm:"primaryKey"`
	FileName       string
	ContentType    string
	Extension      string
	Original       []byte
	Processed      []byte
	Score          float64                 `gorm:"index"`
	Axes           []models.SymmetryAxis   `gorm:"serializer:json"`
	Regions        []models.SymmetryRegion `gorm:"serializer:json"`
	HasVertical    bool
	HasHorizontal  bool
	HasRadial      bool
	ProcessingTime float64
	CreatedAt      time.Time `gorm:"index"`
}

// Store persists analyses in SQLite through gorm
type Store struct {
	db *gorm.DB
}

// OpenStore opens (and migrates) the database at dsn
func OpenStore(dsn string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.AutoMigrate(&AnalysisRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection pool
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Create inserts a new record
func (s *Store) Create(rec *AnalysisRecord) error {
	return s.db.Create(rec).Error
}

// Get loads one record
func (s *Store) Get(id string) (*AnalysisRecord, error) {
	var rec AnalysisRecord
	err := s.db.First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// List returns one page ordered by sortBy, descending, and the total count
func (s *Store) List(limit, offset int, sortBy models.SortKey) ([]AnalysisRecord, int64, error) {
	order := "created_at DESC"
	if sortBy == models.SortByScore {
		order = "score DESC, created_at DESC"
	}

	var total int64
	if err := s.db.Model(&AnalysisRecord{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var records []AnalysisRecord
	err := s.db.Omit("original", "processed").Order(order).Limit(limit).Offset(offset).Find(&records).Error
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

// Delete removes a record
func (s *Store) Delete(id string) error {
	result := s.db.Delete(&AnalysisRecord{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Stats aggregates over every record
type Stats struct {
	Total     int64
	Average   float64
	Highest   float64
	Lowest    float64
	ImageSize int64
}

// Stats computes collection statistics
func (s *Store) Stats() (*Stats, error) {
	var row struct {
		Total     int64
		Average   *float64
		Highest   *float64
		Lowest    *float64
		ImageSize *int64
	}
	err := s.db.Model(&AnalysisRecord{}).
		Select("COUNT(*) AS total, AVG(score) AS average, MAX(score) AS highest, MIN(score) AS lowest, " +
			"SUM(LENGTH(original) + LENGTH(processed)) AS image_size").
		Scan(&row).Error
	if err != nil {
		return nil, err
	}

	stats := &Stats{Total: row.Total}
	if row.Average != nil {
		stats.Average = *row.Average
	}
	if row.Highest != nil {
		stats.Highest = *row.Highest
	}
	if row.Lowest != nil {
		stats.Lowest = *row.Lowest
	}
	if row.ImageSize != nil {
		stats.ImageSize = *row.ImageSize
	}
	return stats, nil
}
