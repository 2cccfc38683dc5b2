package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/labsage/backend/internal/adapters"
	"github.com/labsage/backend/internal/logger"
	"github.com/labsage/backend/internal/metrics"
	"github.com/labsage/backend/internal/models"
	"github.com/labsage/backend/internal/normalizer"
	"github.com/labsage/backend/internal/store"
	"gorm.io/datatypes"
)

const (
	defaultSummaryRetention = 365 * 24 * time.Hour
	defaultSummaryMaxLines  = 1000
	summaryWindow           = 24 * time.Hour
	summaryCallType         = "log_summary"
)

var unsafePathChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

type CompressorStore interface {
	store.LogStore
	store.SummaryStore
	store.FactStore
}

type CompressorConfig struct {
	KnowledgeDir     string
	MaxLines         int
	SummaryRetention time.Duration
}

type CompressionReport struct {
	Resources int         `json:"resources"`
	Created   int         `json:"created"`
	Failed    int         `json:"failed"`
	Skipped   int         `json:"skipped"`
	Retried   int         `json:"retried"`
	Purge     PurgeReport `json:"purge"`
}

// LogCompressor writes at most one summary per resource per local calendar
// day. A failed attempt is stored as the sentinel and replaced next cycle.
type LogCompressor struct {
	store    CompressorStore
	llm      Generator
	memory   MemoryWriter
	analyzer *ErrorAnalyzer
	purger   *RetentionPurger
	cfg      CompressorConfig
	now      func() time.Time
}

func NewLogCompressor(st CompressorStore, llm Generator, memory MemoryWriter, analyzer *ErrorAnalyzer, purger *RetentionPurger, cfg CompressorConfig) *LogCompressor {
	if cfg.KnowledgeDir == "" {
		cfg.KnowledgeDir = "knowledge"
	}
	if cfg.MaxLines <= 0 {
		cfg.MaxLines = defaultSummaryMaxLines
	}
	if cfg.SummaryRetention <= 0 {
		cfg.SummaryRetention = defaultSummaryRetention
	}
	if analyzer == nil {
		analyzer = NewErrorAnalyzer()
	}
	return &LogCompressor{
		store:    st,
		llm:      llm,
		memory:   memory,
		analyzer: analyzer,
		purger:   purger,
		cfg:      cfg,
		now:      time.Now,
	}
}

func (c *LogCompressor) RunCycle(ctx context.Context) (CompressionReport, error) {
	var report CompressionReport

	refs, err := c.store.ResourcesWithLogs(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to list resources with logs: %w", err)
	}

	for _, ref := range refs {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		report.Resources++
		outcome, err := c.compressResource(ctx, ref)
		if err != nil {
			logger.WithResource("log_compressor", ref).Errorf("Compression failed: %v", err)
			report.Failed++
			continue
		}
		switch outcome {
		case "created":
			report.Created++
		case "retried":
			report.Created++
			report.Retried++
		case "failed":
			report.Failed++
		default:
			report.Skipped++
		}
	}

	if c.purger != nil {
		purge, err := c.purger.Purge(ctx)
		if err != nil {
			logger.WithError(err, "log_compressor").Warn("Retention purge failed")
		}
		report.Purge = purge
	}
	return report, nil
}

func (c *LogCompressor) dayBounds(now time.Time) (time.Time, time.Time) {
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return start, start.AddDate(0, 0, 1)
}

func (c *LogCompressor) compressResource(ctx context.Context, ref string) (string, error) {
	now := c.now()
	dayStart, dayEnd := c.dayBounds(now)

	retried := false
	existing, err := c.store.FindSummary(ctx, ref, dayStart, dayEnd)
	switch {
	case err == nil && !existing.Failed():
		metrics.SummariesTotal.WithLabelValues("skipped").Inc()
		return "skipped", nil
	case err == nil:
		if err := c.store.DeleteSummary(ctx, existing.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return "", fmt.Errorf("failed to delete sentinel summary %d: %w", existing.ID, err)
		}
		retried = true
		metrics.SummariesTotal.WithLabelValues("retried").Inc()
	case !errors.Is(err, store.ErrNotFound):
		return "", err
	}

	entries, err := c.store.ListLogs(ctx, store.LogQuery{
		ResourceRef: ref,
		Since:       now.Add(-summaryWindow),
		Ascending:   true,
		Limit:       c.cfg.MaxLines,
	})
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "skipped", nil
	}

	kind, name := c.resourceIdentity(ctx, ref)
	periodStart := entries[0].Timestamp
	periodEnd := entries[len(entries)-1].Timestamp

	var blob strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&blob, "[%s] [%s] [%s] %s\n", e.Timestamp.UTC().Format(time.RFC3339), e.LogSource, e.Level, e.Content)
	}
	prompt := fmt.Sprintf(LOG_SUMMARY_PROMPT, name, ref,
		periodStart.UTC().Format(time.RFC3339), periodEnd.UTC().Format(time.RFC3339), len(entries), blob.String())

	doc := &models.LogSummaryDocument{
		ResourceRef:   ref,
		PeriodStart:   periodStart,
		PeriodEnd:     periodEnd,
		LineCount:     len(entries),
		RetentionDate: now.Add(c.cfg.SummaryRetention),
		CreatedAt:     now,
	}

	summary, err := c.llm.Generate(ctx, GenerateRequest{CallType: summaryCallType, ResourceRef: ref, Prompt: prompt})
	summary = strings.TrimSpace(summary)
	if err != nil || summary == "" {
		doc.Summary = models.SummaryFailedSentinel
		if cerr := c.store.CreateSummary(ctx, doc); cerr != nil {
			return "", cerr
		}
		metrics.SummariesTotal.WithLabelValues("failed").Inc()
		logger.WithResource("log_compressor", ref).WithField("error_kind", KindOf(err)).Warn("Summary generation failed; sentinel stored for retry")
		return "failed", nil
	}

	doc.Summary = summary
	doc.ErrorPatterns = datatypes.JSONSlice[string](c.errorPatterns(entries))

	// Artifact, memory and row are independent steps; the artifact is advisory.
	date := dayStart.Format("2006-01-02")
	path, err := c.writeArtifact(kind, name, date, ref, doc)
	if err != nil {
		logger.WithError(err, "log_compressor").WithField("resource_ref", ref).Warn("Failed to write knowledge artifact")
	} else {
		doc.ArtifactPath = path
	}

	if c.memory != nil {
		_ = c.memory.StoreMemory(ctx, summary, map[string]interface{}{
			"type":         MemoryTypeLogSummary,
			"resourceRef":  ref,
			"resourceName": name,
			"date":         date,
			"periodStart":  periodStart.UTC().Format(time.RFC3339),
			"periodEnd":    periodEnd.UTC().Format(time.RFC3339),
		})
	}

	if err := c.store.CreateSummary(ctx, doc); err != nil {
		return "", err
	}
	metrics.SummariesTotal.WithLabelValues("created").Inc()
	logger.WithResource("log_compressor", ref).WithField("lines", len(entries)).Info("Daily summary created")

	if retried {
		return "retried", nil
	}
	return "created", nil
}

// resourceIdentity maps a ref to the kind and human name used in artifact paths.
func (c *LogCompressor) resourceIdentity(ctx context.Context, ref string) (string, string) {
	kind, parts, err := normalizer.ParseRef(ref)
	if err != nil {
		return "unknown", sanitizePathSegment(ref)
	}
	name := strings.Join(parts, "-")

	if kind == adapters.KindDocker {
		if fact, err := c.store.LatestFact(ctx, ref, models.FactDockerContainerStatus); err == nil {
			if payload, err := fact.Payload(); err == nil {
				if status, ok := payload.(models.ContainerStatus); ok && status.Name != "" {
					name = status.Name
				}
			}
		} else {
			name = shortID(name)
		}
	}
	return sanitizePathSegment(string(kind)), sanitizePathSegment(name)
}

func (c *LogCompressor) errorPatterns(entries []models.LogEntry) []string {
	seen := make(map[string]bool)
	patterns := []string{}
	for _, sig := range c.analyzer.Analyze(entries) {
		if seen[sig.Signature] {
			continue
		}
		seen[sig.Signature] = true
		patterns = append(patterns, sig.Signature)
	}
	return patterns
}

func (c *LogCompressor) writeArtifact(kind, name, date, ref string, doc *models.LogSummaryDocument) (string, error) {
	dir := filepath.Join(c.cfg.KnowledgeDir, kind, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, "summary_"+date+".md")

	var b strings.Builder
	fmt.Fprintf(&b, "# %s log summary for %s\n\n", name, date)
	fmt.Fprintf(&b, "- Resource: `%s`\n", ref)
	fmt.Fprintf(&b, "- Period: %s to %s\n", doc.PeriodStart.UTC().Format(time.RFC3339), doc.PeriodEnd.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "- Lines analyzed: %d\n", doc.LineCount)
	if len(doc.ErrorPatterns) > 0 {
		fmt.Fprintf(&b, "- Error patterns: %s\n", strings.Join(doc.ErrorPatterns, ", "))
	}
	b.WriteString("\n")
	b.WriteString(doc.Summary)
	b.WriteString("\n")

	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func sanitizePathSegment(s string) string {
	s = unsafePathChars.ReplaceAllString(s, "_")
	s = strings.Trim(s, "._")
	if s == "" {
		return "unnamed"
	}
	return s
}
