package store

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	queryKindID    = "kind = ? AND id = ?"
	queryKindAfter = "kind = ? AND id > ?"
	orderIDAsc     = "id ASC"
	scanPageSize   = 200
)

// Document is the row shape used by SQLBackend: one row per record.
type Document struct {
	Kind             string `gorm:"column:kind;primaryKey;size:190;not null"`
	ID               string `gorm:"column:id;primaryKey;size:190;not null"`
	Payload          string `gorm:"column:payload;type:text;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (Document) TableName() string {
	return "documents"
}

// SQLBackend stores documents in a single GORM-managed table. Every write is a single-row
// upsert, so readers never observe a partial document.
type SQLBackend struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// SQLBackendConfig describes the dependencies of SQLBackend.
type SQLBackendConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// NewSQLBackend constructs a backend over an already migrated database handle.
func NewSQLBackend(cfg SQLBackendConfig) (*SQLBackend, error) {
	if cfg.Database == nil {
		return nil, errors.New("store: database handle is required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLBackend{db: cfg.Database, clock: clock, logger: logger}, nil
}

func (b *SQLBackend) Get(ctx context.Context, kind Kind, id string) ([]byte, error) {
	if err := validateAddress(kind, id); err != nil {
		return nil, err
	}
	var document Document
	err := b.db.WithContext(ctx).Where(queryKindID, kind.String(), id).Take(&document).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFoundError(kind, id)
	}
	if err != nil {
		return nil, storageError("read", kind, id, err)
	}
	return []byte(document.Payload), nil
}

func (b *SQLBackend) Put(ctx context.Context, kind Kind, id string, payload []byte) error {
	if err := validateAddress(kind, id); err != nil {
		return err
	}
	document := Document{
		Kind:             kind.String(),
		ID:               id,
		Payload:          string(payload),
		UpdatedAtSeconds: b.clock().UTC().Unix(),
	}
	err := b.db.WithContext(context.WithoutCancel(ctx)).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&document).Error
	if err != nil {
		return storageError("write", kind, id, err)
	}
	return nil
}

func (b *SQLBackend) Delete(ctx context.Context, kind Kind, id string) error {
	if err := validateAddress(kind, id); err != nil {
		return err
	}
	result := b.db.WithContext(context.WithoutCancel(ctx)).
		Where(queryKindID, kind.String(), id).
		Delete(&Document{})
	if result.Error != nil {
		return storageError("delete", kind, id, result.Error)
	}
	if result.RowsAffected == 0 {
		return notFoundError(kind, id)
	}
	return nil
}

// Scan pages through the kind in identifier order so no connection is held while the
// visitor runs; visitors may therefore write through the same backend.
func (b *SQLBackend) Scan(ctx context.Context, kind Kind, visit func(id string, payload []byte) error) (ScanStats, error) {
	stats := ScanStats{}
	lastID := ""
	for {
		var page []Document
		err := b.db.WithContext(ctx).
			Where(queryKindAfter, kind.String(), lastID).
			Order(orderIDAsc).
			Limit(scanPageSize).
			Find(&page).Error
		if err != nil {
			return stats, storageError("list", kind, "*", err)
		}
		for _, document := range page {
			lastID = document.ID
			if document.Payload == "" {
				stats.Skipped++
				b.logger.Warn("skipping empty document", zap.String("kind", kind.String()), zap.String("id", document.ID))
				continue
			}
			stats.Visited++
			if err := visit(document.ID, []byte(document.Payload)); err != nil {
				if errors.Is(err, ErrStopScan) {
					return stats, nil
				}
				return stats, err
			}
		}
		if len(page) < scanPageSize {
			return stats, nil
		}
	}
}
