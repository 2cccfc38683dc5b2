package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/labsage/backend/internal/logger"
	"github.com/labsage/backend/internal/metrics"
	"github.com/labsage/backend/internal/store"
)

type RetentionStore interface {
	store.LogStore
	store.SummaryStore
}

type PurgeReport struct {
	LogsDeleted      int64 `json:"logsDeleted"`
	SummariesDeleted int64 `json:"summariesDeleted"`
}

// RetentionPurger deletes log lines past their retention date, but only those
// a successful summary already covers, and summaries past their own date.
type RetentionPurger struct {
	store RetentionStore
	now   func() time.Time
}

func NewRetentionPurger(st RetentionStore) *RetentionPurger {
	return &RetentionPurger{store: st, now: time.Now}
}

func (p *RetentionPurger) Purge(ctx context.Context) (PurgeReport, error) {
	var report PurgeReport
	now := p.now()

	refs, err := p.store.ResourcesWithLogs(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to list resources for purge: %w", err)
	}
	for _, ref := range refs {
		covered, err := p.store.LatestSuccessfulSummary(ctx, ref)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			logger.WithError(err, "retention").WithField("resource_ref", ref).Warn("Skipping purge for resource")
			continue
		}
		deleted, err := p.store.PurgeExpiredLogs(ctx, ref, now, covered.PeriodEnd)
		if err != nil {
			logger.WithError(err, "retention").WithField("resource_ref", ref).Warn("Log purge failed")
			continue
		}
		report.LogsDeleted += deleted
	}

	deleted, err := p.store.PurgeExpiredSummaries(ctx, now)
	if err != nil {
		return report, err
	}
	report.SummariesDeleted = deleted

	metrics.LogsPurgedTotal.WithLabelValues("log_entries").Add(float64(report.LogsDeleted))
	metrics.LogsPurgedTotal.WithLabelValues("log_summary_documents").Add(float64(report.SummariesDeleted))
	if report.LogsDeleted > 0 || report.SummariesDeleted > 0 {
		logger.Info("Retention purge completed", map[string]interface{}{
			"logs_deleted":      report.LogsDeleted,
			"summaries_deleted": report.SummariesDeleted,
		})
	}
	return report, nil
}
