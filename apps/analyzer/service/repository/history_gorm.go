package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pitabwire/frame/datastore/pool"
	"gorm.io/gorm"

	"github.com/antinvestor/requirements/apps/analyzer/service/analysis"
	"github.com/antinvestor/requirements/internal/events"
)

// AnalysisRecord is the stored form of an analysis result.
type AnalysisRecord struct {
	RequestID         string    `gorm:"primaryKey"`
	LineageRootID     string    `gorm:"index"`
	OriginalRequestID string
	Version           int
	ReadinessState    string
	OverallScore      int
	Payload           string `gorm:"type:text"`
	CreatedAt         time.Time
}

// TableName returns the table name for the AnalysisRecord model.
func (AnalysisRecord) TableName() string {
	return "analysis_results"
}

// ForwardRecordModel is the stored form of a forward record.
type ForwardRecordModel struct {
	RequestID        string `gorm:"primaryKey"`
	DownstreamID     string
	TestCasesCreated int
	ForwardedAt      time.Time
}

// TableName returns the table name for the ForwardRecordModel model.
func (ForwardRecordModel) TableName() string {
	return "analysis_forwards"
}

// GormHistoryStore persists history through the Frame datastore pool.
type GormHistoryStore struct {
	pool pool.Pool
}

// NewGormHistoryStore creates a store on the given pool.
func NewGormHistoryStore(p pool.Pool) *GormHistoryStore {
	return &GormHistoryStore{pool: p}
}

// Migrate creates the history tables.
func Migrate(ctx context.Context, p pool.Pool) error {
	if p == nil {
		return ErrDatabaseUnavailable
	}
	return p.DB(ctx, false).AutoMigrate(&AnalysisRecord{}, &ForwardRecordModel{})
}

func (r *GormHistoryStore) db(ctx context.Context, readOnly bool) *gorm.DB {
	if r.pool == nil {
		return nil
	}
	return r.pool.DB(ctx, readOnly)
}

// Append stores a new result.
func (r *GormHistoryStore) Append(ctx context.Context, result *events.AnalysisResult) error {
	db := r.db(ctx, false)
	if db == nil {
		return ErrDatabaseUnavailable
	}
	data, err := encodeResult(result)
	if err != nil {
		return err
	}

	record := &AnalysisRecord{
		RequestID:      result.RequestID.String(),
		LineageRootID:  lineageRoot(result).String(),
		Version:        result.Version,
		ReadinessState: string(result.ReadinessState),
		OverallScore:   result.QualityScore.Overall,
		Payload:        string(data),
		CreatedAt:      result.CreatedAt,
	}
	if !result.OriginalRequestID.IsZero() {
		record.OriginalRequestID = result.OriginalRequestID.String()
	}

	return db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&AnalysisRecord{}).Where("request_id = ?", record.RequestID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("%w: %s", analysis.ErrResultExists, record.RequestID)
		}
		if err := tx.Create(record).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return fmt.Errorf("%w: %s", analysis.ErrResultExists, record.RequestID)
			}
			return err
		}
		return nil
	})
}

// Get returns the result for id.
func (r *GormHistoryStore) Get(ctx context.Context, id events.RequestID) (*events.AnalysisResult, error) {
	db := r.db(ctx, true)
	if db == nil {
		return nil, ErrDatabaseUnavailable
	}

	var record AnalysisRecord
	if err := db.First(&record, "request_id = ?", id.String()).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", analysis.ErrResultNotFound, id)
		}
		return nil, err
	}
	return decodeResult([]byte(record.Payload))
}

// Lineage returns every result sharing rootID, oldest first.
func (r *GormHistoryStore) Lineage(ctx context.Context, rootID events.RequestID) ([]*events.AnalysisResult, error) {
	db := r.db(ctx, true)
	if db == nil {
		return nil, ErrDatabaseUnavailable
	}

	var records []AnalysisRecord
	if err := db.Where("lineage_root_id = ?", rootID.String()).Order("version asc").Find(&records).Error; err != nil {
		return nil, err
	}

	out := make([]*events.AnalysisResult, 0, len(records))
	for _, record := range records {
		result, err := decodeResult([]byte(record.Payload))
		if err != nil {
			return nil, err
		}
		out = append(out, result)
	}
	return out, nil
}

// RecordForward stores the forward record of a result.
func (r *GormHistoryStore) RecordForward(ctx context.Context, record *events.ForwardRecord) error {
	db := r.db(ctx, false)
	if db == nil {
		return ErrDatabaseUnavailable
	}

	key := record.RequestID.String()
	return db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&ForwardRecordModel{}).Where("request_id = ?", key).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("%w: %s", analysis.ErrAlreadyForwarded, key)
		}
		return tx.Create(&ForwardRecordModel{
			RequestID:        key,
			DownstreamID:     record.DownstreamID,
			TestCasesCreated: record.TestCasesCreated,
			ForwardedAt:      record.ForwardedAt,
		}).Error
	})
}

// GetForward returns the forward record for id.
func (r *GormHistoryStore) GetForward(ctx context.Context, id events.RequestID) (*events.ForwardRecord, error) {
	db := r.db(ctx, true)
	if db == nil {
		return nil, ErrDatabaseUnavailable
	}

	var model ForwardRecordModel
	if err := db.First(&model, "request_id = ?", id.String()).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: forward record for %s", analysis.ErrResultNotFound, id)
		}
		return nil, err
	}
	return &events.ForwardRecord{
		RequestID:        id,
		DownstreamID:     model.DownstreamID,
		TestCasesCreated: model.TestCasesCreated,
		ForwardedAt:      model.ForwardedAt,
	}, nil
}
