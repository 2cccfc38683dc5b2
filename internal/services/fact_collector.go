package services

import (
	"context"
	"fmt"

	"github.com/labsage/backend/internal/adapters"
	"github.com/labsage/backend/internal/logger"
	"github.com/labsage/backend/internal/metrics"
	"github.com/labsage/backend/internal/models"
	"github.com/labsage/backend/internal/normalizer"
	"github.com/labsage/backend/internal/store"
)

type CollectionReport struct {
	Adapters  int `json:"adapters"`
	Resources int `json:"resources"`
	Facts     int `json:"facts"`
	Failed    int `json:"failed"`
}

// FactCollector snapshots every available adapter into facts.
type FactCollector struct {
	registry   *adapters.Registry
	store      store.FactStore
	normalizer *normalizer.Normalizer
}

func NewFactCollector(registry *adapters.Registry, st store.FactStore) *FactCollector {
	return &FactCollector{registry: registry, store: st, normalizer: normalizer.New()}
}

func (c *FactCollector) RunCycle(ctx context.Context) (CollectionReport, error) {
	var report CollectionReport
	for _, adapter := range c.registry.Available(ctx) {
		report.Adapters++
		facts, resources, failed := c.collectAdapter(ctx, adapter)
		report.Resources += resources
		report.Failed += failed

		if err := c.store.AppendFacts(ctx, facts); err != nil {
			// Facts describe current state; the next cycle re-observes it.
			logger.WithError(err, "fact_collector").WithField("adapter", adapter.Name()).Error("Failed to persist facts")
			report.Failed += len(facts)
			continue
		}
		report.Facts += len(facts)
		for _, f := range facts {
			metrics.FactsWrittenTotal.WithLabelValues(string(f.FactType)).Inc()
		}
	}
	if ctx.Err() != nil {
		return report, ctx.Err()
	}
	return report, nil
}

func (c *FactCollector) collectAdapter(ctx context.Context, adapter adapters.Adapter) ([]models.Fact, int, int) {
	var facts []models.Fact
	resources, failed := 0, 0
	kind := adapter.Kind()

	add := func(raw interface{}) {
		fact, ok := c.normalizer.Normalize(raw, kind)
		if !ok {
			metrics.RecordsDroppedTotal.WithLabelValues(adapter.Name()).Inc()
			return
		}
		facts = append(facts, fact)
	}

	if source, ok := adapter.(adapters.SnapshotSource); ok {
		records, err := source.Snapshot(ctx)
		if err != nil {
			failed++
			logger.WithError(err, "fact_collector").WithField("adapter", adapter.Name()).Warn("Snapshot failed")
		}
		for _, r := range records {
			add(r)
		}
		resources += len(records)
	}

	summaries, err := adapter.ListResources(ctx)
	if err != nil {
		logger.WithError(err, "fact_collector").WithField("adapter", adapter.Name()).Warn("Failed to list resources")
		return facts, resources, failed + 1
	}

	for _, summary := range summaries {
		if ctx.Err() != nil {
			break
		}
		resources++
		if err := c.collectResource(ctx, adapter, summary, add); err != nil {
			failed++
			logger.WithResource("fact_collector", normalizer.RefFor(kind, summary)).Warnf("Skipping resource: %v", err)
		}
	}
	return facts, resources, failed
}

func (c *FactCollector) collectResource(ctx context.Context, adapter adapters.Adapter, summary adapters.ResourceSummary, add func(interface{})) error {
	info, err := adapter.GetResourceInfo(ctx, summary.ID)
	if err != nil {
		return fmt.Errorf("failed to get info: %w", err)
	}
	add(info)

	if info.State != "running" {
		return nil
	}
	stats, err := adapter.GetResourceStats(ctx, summary.ID)
	if err != nil {
		return fmt.Errorf("failed to get stats: %w", err)
	}
	add(stats)
	return nil
}
