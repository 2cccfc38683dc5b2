package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/labsage/backend/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultListLimit = 100
	insertBatchSize  = 500
)

// GormStore implements Store on gorm (postgres in production, sqlite for
// single-node installs and tests). Times are written and compared in UTC.
type GormStore struct {
	db *gorm.DB
}

var _ Store = (*GormStore)(nil)

func New(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// DB exposes the handle for components that share the connection (vector index).
func (s *GormStore) DB() *gorm.DB {
	return s.db
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	return limit
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// ─── Facts ────────────────────────────────────────────────────────────────────

func (s *GormStore) AppendFacts(ctx context.Context, facts []models.Fact) error {
	if len(facts) == 0 {
		return nil
	}
	for i := range facts {
		facts[i].ID = 0
		facts[i].Timestamp = facts[i].Timestamp.UTC()
	}
	if err := s.db.WithContext(ctx).CreateInBatches(facts, insertBatchSize).Error; err != nil {
		return fmt.Errorf("failed to append %d facts: %w", len(facts), err)
	}
	return nil
}

func (s *GormStore) ResourcesWithFactsSince(ctx context.Context, factType models.FactType, since time.Time) ([]string, error) {
	var refs []string
	err := s.db.WithContext(ctx).Model(&models.Fact{}).
		Distinct("resource_ref").
		Where("fact_type = ? AND timestamp >= ?", factType, since.UTC()).
		Pluck("resource_ref", &refs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list resources with %s facts: %w", factType, err)
	}
	return refs, nil
}

func (s *GormStore) LatestFact(ctx context.Context, resourceRef string, factType models.FactType) (*models.Fact, error) {
	var fact models.Fact
	err := s.db.WithContext(ctx).
		Where("resource_ref = ? AND fact_type = ?", resourceRef, factType).
		Order("timestamp DESC").Order("id DESC").
		First(&fact).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &fact, nil
}

func (s *GormStore) ListFacts(ctx context.Context, q FactQuery) ([]models.Fact, error) {
	query := s.db.WithContext(ctx).Model(&models.Fact{})
	if q.ResourceRef != "" {
		query = query.Where("resource_ref = ?", q.ResourceRef)
	}
	if q.FactType != "" {
		query = query.Where("fact_type = ?", q.FactType)
	}
	if !q.Since.IsZero() {
		query = query.Where("timestamp >= ?", q.Since.UTC())
	}
	if !q.Until.IsZero() {
		query = query.Where("timestamp <= ?", q.Until.UTC())
	}

	var facts []models.Fact
	if err := query.Order("timestamp DESC").Limit(limitOrDefault(q.Limit)).Find(&facts).Error; err != nil {
		return nil, fmt.Errorf("failed to list facts: %w", err)
	}
	return facts, nil
}

// ─── Incidents ────────────────────────────────────────────────────────────────

func (s *GormStore) ListUnresolvedIncidents(ctx context.Context) ([]models.Incident, error) {
	var incidents []models.Incident
	if err := s.db.WithContext(ctx).Where("status <> ?", models.StatusResolved).Find(&incidents).Error; err != nil {
		return nil, fmt.Errorf("failed to list unresolved incidents: %w", err)
	}
	return incidents, nil
}

func (s *GormStore) CreateIncidentWithNarrative(ctx context.Context, incident *models.Incident, narrative *models.IncidentNarrative) error {
	if narrative == nil {
		return fmt.Errorf("incident %q has no narrative", incident.Title)
	}
	incident.DetectedAt = incident.DetectedAt.UTC()
	if incident.Status == "" {
		incident.Status = models.StatusOpen
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		incident.Narrative = nil
		if err := tx.Omit(clause.Associations).Create(incident).Error; err != nil {
			return fmt.Errorf("failed to create incident: %w", err)
		}
		narrative.IncidentID = incident.ID
		if err := tx.Create(narrative).Error; err != nil {
			return fmt.Errorf("failed to create narrative for incident %d: %w", incident.ID, err)
		}
		incident.Narrative = narrative
		return nil
	})
}

func (s *GormStore) GetIncident(ctx context.Context, id uint) (*models.Incident, error) {
	var incident models.Incident
	if err := s.db.WithContext(ctx).Preload("Narrative").First(&incident, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &incident, nil
}

func (s *GormStore) ListIncidents(ctx context.Context, q IncidentQuery) ([]models.Incident, error) {
	query := s.db.WithContext(ctx).Preload("Narrative").Order("detected_at DESC")
	if q.Status != "" {
		query = query.Where("status = ?", q.Status)
	}
	limit := limitOrDefault(q.Limit)
	if q.ResourceRef == "" {
		query = query.Limit(limit)
	}

	var incidents []models.Incident
	if err := query.Find(&incidents).Error; err != nil {
		return nil, fmt.Errorf("failed to list incidents: %w", err)
	}
	if q.ResourceRef == "" {
		return incidents, nil
	}

	// affected_resources is a JSON column; matching it in Go keeps the query
	// portable between postgres and sqlite. The limit applies after the match.
	filtered := incidents[:0]
	for _, inc := range incidents {
		if !inc.References(q.ResourceRef) {
			continue
		}
		filtered = append(filtered, inc)
		if len(filtered) == limit {
			break
		}
	}
	return filtered, nil
}

func (s *GormStore) UpdateIncidentStatus(ctx context.Context, id uint, status models.IncidentStatus, at time.Time) (*models.Incident, error) {
	if !models.ValidStatus(status) {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, status)
	}

	var incident models.Incident
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&incident, id).Error; err != nil {
			return notFound(err)
		}
		if incident.Status == models.StatusResolved {
			return fmt.Errorf("%w: incident %d is already resolved", ErrInvalidTransition, id)
		}
		updates := map[string]interface{}{"status": status}
		if status == models.StatusResolved {
			resolvedAt := at.UTC()
			updates["resolved_at"] = &resolvedAt
		}
		return tx.Model(&incident).Updates(updates).Error
	})
	if err != nil {
		return nil, err
	}
	return s.GetIncident(ctx, id)
}

// ─── Logs ─────────────────────────────────────────────────────────────────────

func (s *GormStore) LatestLogTimestamp(ctx context.Context, resourceRef string) (time.Time, bool, error) {
	var entry models.LogEntry
	err := s.db.WithContext(ctx).
		Select("timestamp").
		Where("resource_ref = ?", resourceRef).
		Order("timestamp DESC").
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to read latest log timestamp: %w", err)
	}
	return entry.Timestamp, true, nil
}

func (s *GormStore) InsertLogEntries(ctx context.Context, entries []models.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	for i := range entries {
		entries[i].Timestamp = entries[i].Timestamp.UTC()
		entries[i].RetentionDate = entries[i].RetentionDate.UTC()
	}
	if err := s.db.WithContext(ctx).CreateInBatches(entries, insertBatchSize).Error; err != nil {
		return fmt.Errorf("failed to insert %d log entries: %w", len(entries), err)
	}
	return nil
}

func (s *GormStore) ResourcesWithLogs(ctx context.Context) ([]string, error) {
	var refs []string
	if err := s.db.WithContext(ctx).Model(&models.LogEntry{}).Distinct("resource_ref").Pluck("resource_ref", &refs).Error; err != nil {
		return nil, fmt.Errorf("failed to list resources with logs: %w", err)
	}
	return refs, nil
}

func (s *GormStore) ListLogs(ctx context.Context, q LogQuery) ([]models.LogEntry, error) {
	query := s.db.WithContext(ctx).Model(&models.LogEntry{})
	if q.ResourceRef != "" {
		query = query.Where("resource_ref = ?", q.ResourceRef)
	}
	if q.Level != "" {
		query = query.Where("level = ?", q.Level)
	}
	if !q.Since.IsZero() {
		query = query.Where("timestamp >= ?", q.Since.UTC())
	}
	if !q.Until.IsZero() {
		query = query.Where("timestamp <= ?", q.Until.UTC())
	}
	if q.Ascending {
		query = query.Order("timestamp ASC").Order("id ASC")
	} else {
		query = query.Order("timestamp DESC").Order("id DESC")
	}

	var entries []models.LogEntry
	if err := query.Limit(limitOrDefault(q.Limit)).Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to list logs: %w", err)
	}
	return entries, nil
}

func (s *GormStore) PurgeExpiredLogs(ctx context.Context, resourceRef string, now, coveredUntil time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("resource_ref = ? AND retention_date < ? AND timestamp <= ?", resourceRef, now.UTC(), coveredUntil.UTC()).
		Delete(&models.LogEntry{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to purge logs for %s: %w", resourceRef, res.Error)
	}
	return res.RowsAffected, nil
}

// ─── Summaries ────────────────────────────────────────────────────────────────

func (s *GormStore) FindSummary(ctx context.Context, resourceRef string, from, to time.Time) (*models.LogSummaryDocument, error) {
	var doc models.LogSummaryDocument
	err := s.db.WithContext(ctx).
		Where("resource_ref = ? AND created_at >= ? AND created_at < ?", resourceRef, from.UTC(), to.UTC()).
		Order("created_at DESC").
		First(&doc).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &doc, nil
}

func (s *GormStore) LatestSuccessfulSummary(ctx context.Context, resourceRef string) (*models.LogSummaryDocument, error) {
	var doc models.LogSummaryDocument
	err := s.db.WithContext(ctx).
		Where("resource_ref = ? AND summary <> ?", resourceRef, models.SummaryFailedSentinel).
		Order("period_end DESC").
		First(&doc).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &doc, nil
}

func (s *GormStore) CreateSummary(ctx context.Context, doc *models.LogSummaryDocument) error {
	doc.PeriodStart = doc.PeriodStart.UTC()
	doc.PeriodEnd = doc.PeriodEnd.UTC()
	doc.RetentionDate = doc.RetentionDate.UTC()
	if !doc.CreatedAt.IsZero() {
		doc.CreatedAt = doc.CreatedAt.UTC()
	}
	if err := s.db.WithContext(ctx).Create(doc).Error; err != nil {
		return fmt.Errorf("failed to create summary for %s: %w", doc.ResourceRef, err)
	}
	return nil
}

func (s *GormStore) DeleteSummary(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Delete(&models.LogSummaryDocument{}, id)
	if res.Error != nil {
		return fmt.Errorf("failed to delete summary %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) ListSummaries(ctx context.Context, q SummaryQuery) ([]models.LogSummaryDocument, error) {
	query := s.db.WithContext(ctx).Model(&models.LogSummaryDocument{})
	if q.ResourceRef != "" {
		query = query.Where("resource_ref = ?", q.ResourceRef)
	}
	if !q.Since.IsZero() {
		query = query.Where("created_at >= ?", q.Since.UTC())
	}

	var docs []models.LogSummaryDocument
	if err := query.Order("created_at DESC").Limit(limitOrDefault(q.Limit)).Find(&docs).Error; err != nil {
		return nil, fmt.Errorf("failed to list summaries: %w", err)
	}
	return docs, nil
}

func (s *GormStore) PurgeExpiredSummaries(ctx context.Context, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("retention_date < ?", now.UTC()).Delete(&models.LogSummaryDocument{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to purge summaries: %w", res.Error)
	}
	return res.RowsAffected, nil
}
