package vector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/labsage/backend/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DatabaseIndex stores points as rows next to the rest of the data and scores
// them in Go. Suitable for the few thousand summaries a homelab produces.
type DatabaseIndex struct {
	db *gorm.DB
}

func NewDatabaseIndex(db *gorm.DB) *DatabaseIndex {
	return &DatabaseIndex{db: db}
}

func (d *DatabaseIndex) Backend() string { return "database" }

func (d *DatabaseIndex) collection(ctx context.Context, name string) (*models.MemoryCollection, error) {
	var c models.MemoryCollection
	if err := d.db.WithContext(ctx).First(&c, "name = ?", name).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCollectionNotFound
		}
		return nil, fmt.Errorf("failed to load collection %q: %w", name, err)
	}
	return &c, nil
}

func (d *DatabaseIndex) CollectionExists(ctx context.Context, name string) (bool, error) {
	_, err := d.collection(ctx, name)
	if errors.Is(err, ErrCollectionNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (d *DatabaseIndex) CollectionInfo(ctx context.Context, name string) (*CollectionInfo, error) {
	c, err := d.collection(ctx, name)
	if err != nil {
		return nil, err
	}
	var count int64
	if err := d.db.WithContext(ctx).Model(&models.MemoryRecord{}).Where("collection = ?", name).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("failed to count points in %q: %w", name, err)
	}
	return &CollectionInfo{Name: c.Name, Dimension: c.Dimension, Metric: Metric(c.Metric), Points: int(count)}, nil
}

func (d *DatabaseIndex) CreateCollection(ctx context.Context, name string, dimension int, metric Metric) error {
	if dimension <= 0 {
		return fmt.Errorf("invalid dimension %d", dimension)
	}
	c := models.MemoryCollection{Name: name, Dimension: dimension, Metric: string(metric)}
	if err := d.db.WithContext(ctx).Create(&c).Error; err != nil {
		return fmt.Errorf("failed to create collection %q: %w", name, err)
	}
	return nil
}

func (d *DatabaseIndex) DeleteCollection(ctx context.Context, name string) error {
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("collection = ?", name).Delete(&models.MemoryRecord{}).Error; err != nil {
			return fmt.Errorf("failed to delete points of %q: %w", name, err)
		}
		if err := tx.Where("name = ?", name).Delete(&models.MemoryCollection{}).Error; err != nil {
			return fmt.Errorf("failed to delete collection %q: %w", name, err)
		}
		return nil
	})
}

func (d *DatabaseIndex) Upsert(ctx context.Context, collection string, points ...Point) error {
	c, err := d.collection(ctx, collection)
	if err != nil {
		return err
	}

	records := make([]models.MemoryRecord, 0, len(points))
	for _, p := range points {
		if err := checkDimension(c.Dimension, p.Vector); err != nil {
			return err
		}
		payload, err := json.Marshal(p.Payload)
		if err != nil {
			return fmt.Errorf("failed to encode payload for point %s: %w", p.ID, err)
		}
		records = append(records, models.MemoryRecord{
			ID:         p.ID,
			Collection: collection,
			Vector:     datatypes.JSONSlice[float32](p.Vector),
			Payload:    datatypes.JSON(payload),
		})
	}
	if len(records) == 0 {
		return nil
	}

	err = d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"collection", "vector", "payload"}),
	}).Create(&records).Error
	if err != nil {
		return fmt.Errorf("failed to upsert %d points into %q: %w", len(records), collection, err)
	}
	return nil
}

func (d *DatabaseIndex) Search(ctx context.Context, collection string, vector []float32, limit int) ([]ScoredPoint, error) {
	c, err := d.collection(ctx, collection)
	if err != nil {
		return nil, err
	}
	if err := checkDimension(c.Dimension, vector); err != nil {
		return nil, err
	}

	var records []models.MemoryRecord
	if err := d.db.WithContext(ctx).Where("collection = ?", collection).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to load points of %q: %w", collection, err)
	}

	results := make([]ScoredPoint, 0, len(records))
	for _, r := range records {
		var payload map[string]interface{}
		if len(r.Payload) > 0 {
			if err := json.Unmarshal(r.Payload, &payload); err != nil {
				continue
			}
		}
		results = append(results, ScoredPoint{ID: r.ID, Score: CosineSimilarity(vector, r.Vector), Payload: payload})
	}
	return topK(results, limit), nil
}
