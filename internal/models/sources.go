package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UpsertContentSource stores a configured source, keeping its sync bookkeeping
func (d *Database) UpsertContentSource(ctx context.Context, src *ContentSource) error {
	err := d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"kind", "enabled", "versions", "updated_at"}),
	}).Create(src).Error
	if err != nil {
		return fmt.Errorf("failed to upsert content source: %w", err)
	}
	return nil
}

// ListContentSources returns every stored source
func (d *Database) ListContentSources(ctx context.Context) ([]*ContentSource, error) {
	var out []*ContentSource
	if err := d.db.WithContext(ctx).Order("name ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list content sources: %w", err)
	}
	return out, nil
}

// MarkSourceSynced records the outcome of a source fetch
func (d *Database) MarkSourceSynced(ctx context.Context, name string, syncErr error) error {
	updates := map[string]interface{}{"last_error": ""}
	if syncErr != nil {
		updates["last_error"] = syncErr.Error()
	} else {
		updates["last_synced_at"] = d.now()
	}
	return d.db.WithContext(ctx).Model(&ContentSource{}).Where("name = ?", name).Updates(updates).Error
}

// GetMetadata returns a cached payload if present and unexpired
func (d *Database) GetMetadata(ctx context.Context, key string) ([]byte, bool, error) {
	var entry MetadataEntry
	err := d.db.WithContext(ctx).Where("key = ? AND expires_at > ?", key, d.now()).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return entry.Payload, true, nil
}

// PutMetadata stores a payload for ttl
func (d *Database) PutMetadata(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	entry := MetadataEntry{Key: key, Payload: payload, ExpiresAt: d.now().Add(ttl)}
	return d.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&entry).Error
}

// PurgeExpiredMetadata deletes expired cache rows
func (d *Database) PurgeExpiredMetadata(ctx context.Context) (int64, error) {
	res := d.db.WithContext(ctx).Where("expires_at <= ?", d.now()).Delete(&MetadataEntry{})
	return res.RowsAffected, res.Error
}
