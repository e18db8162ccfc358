package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"whale_go/internal/domain"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Storage persists order snapshots and outcome history in SQLite.
// It implements domain.SnapshotStore and domain.OutcomeStore.
type Storage struct {
	db  *gorm.DB
	now func() time.Time
}

// NewStorage opens (or creates) the database at path.
func NewStorage(path string) (*Storage, error) {
	// Ensure directory exists
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create DB directory: %w", err)
		}
	}

	// Connect to SQLite (Pure Go)
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Auto Migration
	if err := db.AutoMigrate(&domain.TrackedOrderRecord{}, &domain.OrderOutcome{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Storage{db: db, now: time.Now}, nil
}

// Close releases the underlying connection.
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ======================================================================================
// Snapshot Operations
// ======================================================================================

// SaveSnapshot replaces the stored snapshot with orders in one transaction.
func (s *Storage) SaveSnapshot(orders []domain.Order) error {
	savedAt := s.now().UTC()
	records := make([]domain.TrackedOrderRecord, 0, len(orders))
	for _, o := range orders {
		records = append(records, toRecord(o, savedAt))
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&domain.TrackedOrderRecord{}).Error; err != nil {
			return fmt.Errorf("clear snapshot: %w", err)
		}
		if len(records) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(records, 100).Error; err != nil {
			return fmt.Errorf("write snapshot: %w", err)
		}
		return nil
	})
}

// LoadSnapshot returns the last saved orders. Rows that fail to parse are skipped.
func (s *Storage) LoadSnapshot() ([]domain.Order, error) {
	var records []domain.TrackedOrderRecord
	if err := s.db.Order("first_seen_at").Find(&records).Error; err != nil {
		return nil, err
	}

	orders := make([]domain.Order, 0, len(records))
	var firstErr error
	for _, r := range records {
		o, err := fromRecord(r)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		orders = append(orders, o)
	}
	if len(orders) == 0 && firstErr != nil {
		return nil, firstErr
	}
	return orders, nil
}

// ======================================================================================
// Outcome Operations
// ======================================================================================

// RecordOutcome stores a finished order.
func (s *Storage) RecordOutcome(o domain.Order) error {
	diedAt := o.DiedAt
	if diedAt.IsZero() {
		diedAt = s.now()
	}
	outcome := domain.OrderOutcome{
		Hash:        o.Hash,
		Symbol:      o.Symbol,
		Side:        string(o.Side),
		ReachedHot:  o.ReachedHot,
		DeathReason: string(o.DeathReason),
		LifetimeSec: o.Lifetime(diedAt).Seconds(),
		DiedAt:      diedAt.UTC(),
	}
	return s.db.Save(&outcome).Error
}

// SuccessRate is the fraction of finished orders on symbol that reached Hot.
// ok is false when the symbol has no history.
func (s *Storage) SuccessRate(symbol string) (float64, bool, error) {
	var row struct {
		Total int64
		Hot   int64
	}
	err := s.db.Model(&domain.OrderOutcome{}).
		Select("COUNT(*) AS total, COALESCE(SUM(CASE WHEN reached_hot THEN 1 ELSE 0 END), 0) AS hot").
		Where("symbol = ?", symbol).
		Scan(&row).Error
	if err != nil {
		return 0, false, err
	}
	if row.Total == 0 {
		return 0, false, nil
	}
	return float64(row.Hot) / float64(row.Total), true, nil
}

// PruneOutcomes deletes outcomes that died before the cutoff.
func (s *Storage) PruneOutcomes(before time.Time) (int64, error) {
	res := s.db.Where("died_at < ?", before.UTC()).Delete(&domain.OrderOutcome{})
	return res.RowsAffected, res.Error
}

func toRecord(o domain.Order, savedAt time.Time) domain.TrackedOrderRecord {
	return domain.TrackedOrderRecord{
		Hash:           o.Hash,
		Symbol:         o.Symbol,
		Side:           string(o.Side),
		State:          o.State.String(),
		OrderPrice:     o.OrderPrice.String(),
		CurrentPrice:   o.CurrentPrice.String(),
		OriginalSize:   o.OriginalSize.String(),
		CurrentSize:    o.CurrentSize.String(),
		TopAverage:     o.TopAverage.String(),
		FirstSeenAt:    o.FirstSeenAt.UTC(),
		LastSeenAt:     o.LastSeenAt.UTC(),
		PromotionClock: o.PromotionClock.UTC(),
		ReachedHot:     o.ReachedHot,
		ScanCount:      o.ScanCount,
		Scores:         o.Scores,
		Categories:     o.Categories,
		LastPublished:  o.LastPublished,
		SavedAt:        savedAt,
	}
}

func fromRecord(r domain.TrackedOrderRecord) (domain.Order, error) {
	state, err := domain.ParseOrderState(r.State)
	if err != nil {
		return domain.Order{}, fmt.Errorf("record %s: %w", r.Hash, err)
	}

	var nums [5]decimal.Decimal
	for i, raw := range []string{r.OrderPrice, r.CurrentPrice, r.OriginalSize, r.CurrentSize, r.TopAverage} {
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return domain.Order{}, fmt.Errorf("record %s: %w", r.Hash, err)
		}
		nums[i] = d
	}

	return domain.Order{
		Hash:           r.Hash,
		Symbol:         r.Symbol,
		Side:           domain.Side(r.Side),
		OrderPrice:     nums[0],
		CurrentPrice:   nums[1],
		OriginalSize:   nums[2],
		CurrentSize:    nums[3],
		TopAverage:     nums[4],
		FirstSeenAt:    r.FirstSeenAt,
		LastSeenAt:     r.LastSeenAt,
		PromotionClock: r.PromotionClock,
		State:          state,
		ReachedHot:     r.ReachedHot,
		ScanCount:      r.ScanCount,
		Scores:         r.Scores,
		Categories:     r.Categories,
		LastPublished:  r.LastPublished,
	}, nil
}
