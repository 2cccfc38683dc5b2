package services

import (
	"context"
	"fmt"
	"time"

	"github.com/labsage/backend/internal/adapters"
	"github.com/labsage/backend/internal/logger"
	"github.com/labsage/backend/internal/metrics"
	"github.com/labsage/backend/internal/models"
	"github.com/labsage/backend/internal/normalizer"
	"github.com/labsage/backend/internal/store"
)

const (
	defaultLogRetention = 90 * 24 * time.Hour
	// initialLogLookback bounds the first pull for a resource with no stored logs.
	initialLogLookback = 24 * time.Hour
)

type LogCollectorStore interface {
	store.LogStore
	store.FactStore
}

type LogCollectionReport struct {
	Resources  int `json:"resources"`
	Lines      int `json:"lines"`
	Signatures int `json:"signatures"`
	Failed     int `json:"failed"`
}

// LogCollector pulls new log lines of running resources and derives
// error-signature facts from them.
type LogCollector struct {
	registry  *adapters.Registry
	store     LogCollectorStore
	analyzer  *ErrorAnalyzer
	retention time.Duration
	now       func() time.Time
}

func NewLogCollector(registry *adapters.Registry, st LogCollectorStore, analyzer *ErrorAnalyzer, retention time.Duration) *LogCollector {
	if retention <= 0 {
		retention = defaultLogRetention
	}
	if analyzer == nil {
		analyzer = NewErrorAnalyzer()
	}
	return &LogCollector{registry: registry, store: st, analyzer: analyzer, retention: retention, now: time.Now}
}

func (c *LogCollector) RunCycle(ctx context.Context) (LogCollectionReport, error) {
	var report LogCollectionReport
	for _, adapter := range c.registry.Available(ctx) {
		resources, err := adapter.ListResources(ctx)
		if err != nil {
			logger.WithError(err, "log_collector").WithField("adapter", adapter.Name()).Warn("Failed to list resources")
			continue
		}
		for _, resource := range resources {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			if !resource.Running() {
				continue
			}
			report.Resources++
			lines, signatures, err := c.collectResource(ctx, adapter, resource)
			if err != nil {
				report.Failed++
				logger.WithResource("log_collector", normalizer.RefFor(adapter.Kind(), resource)).Warnf("Log collection failed: %v", err)
				continue
			}
			report.Lines += lines
			report.Signatures += signatures
		}
	}
	return report, nil
}

// collectResource ingests lines strictly newer than the last stored one.
func (c *LogCollector) collectResource(ctx context.Context, adapter adapters.Adapter, resource adapters.ResourceSummary) (int, int, error) {
	ref := normalizer.RefFor(adapter.Kind(), resource)
	now := c.now()

	last, haveLast, err := c.store.LatestLogTimestamp(ctx, ref)
	if err != nil {
		return 0, 0, err
	}
	// Adapters resolve since to whole seconds; +1s keeps boundary lines out.
	since := now.Add(-initialLogLookback)
	if haveLast {
		since = last.Add(time.Second)
	}

	lines, err := adapter.GetLogs(ctx, resource.ID, since)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to fetch logs: %w", err)
	}

	entries := make([]models.LogEntry, 0, len(lines))
	for _, line := range lines {
		ts := line.Timestamp
		if ts.IsZero() {
			ts = now
		}
		if haveLast && !ts.After(last) {
			continue
		}
		source := models.LogSourceStdout
		if line.Stream == "stderr" {
			source = models.LogSourceStderr
		}
		entries = append(entries, models.LogEntry{
			ResourceRef:   ref,
			LogSource:     source,
			Content:       line.Message,
			Timestamp:     ts,
			Level:         c.analyzer.DetectLevel(line.Message),
			RetentionDate: now.Add(c.retention),
		})
	}
	if len(entries) == 0 {
		return 0, 0, nil
	}

	if err := c.store.InsertLogEntries(ctx, entries); err != nil {
		return 0, 0, err
	}
	metrics.LogLinesIngestedTotal.Add(float64(len(entries)))

	signatures := c.analyzer.Analyze(entries)
	facts := make([]models.Fact, 0, len(signatures))
	for _, sig := range signatures {
		fact, err := models.NewFact(ref, "log_collector", sig.OccurredAt, models.ErrorSignature{
			Signature:   sig.Signature,
			Message:     sig.Message,
			Fingerprint: sig.Fingerprint,
			LogSource:   sig.LogSource,
			Level:       sig.Level,
			OccurredAt:  sig.OccurredAt,
		})
		if err != nil {
			logger.WithResource("log_collector", ref).Warnf("Dropping signature: %v", err)
			continue
		}
		facts = append(facts, fact)
		metrics.ErrorSignaturesTotal.WithLabelValues(sig.Signature).Inc()
	}
	if err := c.store.AppendFacts(ctx, facts); err != nil {
		// Lines are stored; only the derived facts are lost for this batch.
		logger.WithError(err, "log_collector").WithField("resource_ref", ref).Error("Failed to persist error signatures")
		return len(entries), 0, nil
	}

	logger.WithResource("log_collector", ref).Debugf("Ingested %d lines, %d signatures", len(entries), len(facts))
	return len(entries), len(facts), nil
}
