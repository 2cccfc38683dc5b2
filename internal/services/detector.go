package services

import (
	"context"
	"fmt"
	"time"

	"github.com/labsage/backend/internal/logger"
	"github.com/labsage/backend/internal/metrics"
	"github.com/labsage/backend/internal/models"
	"github.com/labsage/backend/internal/store"
	"gorm.io/datatypes"
)

type DetectorStore interface {
	store.FactStore
	store.IncidentStore
}

// DetectionReport counts what one cycle did.
type DetectionReport struct {
	Evaluated    int `json:"evaluated"`
	Created      int `json:"created"`
	Deduplicated int `json:"deduplicated"`
	Failed       int `json:"failed"`
}

// IncidentDetector evaluates the rule set against the latest fact of every
// resource under active observation. Narratives are generated synchronously
// and persisted in the same transaction as their incident.
type IncidentDetector struct {
	store      DetectorStore
	rules      []Rule
	narratives NarrativeGenerator
	memory     MemoryWriter
	window     time.Duration
	now        func() time.Time
}

func NewIncidentDetector(st DetectorStore, rules []Rule, narratives NarrativeGenerator, memory MemoryWriter, window time.Duration) *IncidentDetector {
	if window <= 0 {
		window = 10 * time.Minute
	}
	if rules == nil {
		rules = DefaultRules()
	}
	return &IncidentDetector{
		store:      st,
		rules:      rules,
		narratives: narratives,
		memory:     memory,
		window:     window,
		now:        time.Now,
	}
}

// RunCycle errors only when no rule could even list its resources.
func (d *IncidentDetector) RunCycle(ctx context.Context) (DetectionReport, error) {
	var report DetectionReport
	now := d.now()
	since := now.Add(-d.window)

	listFailures := 0
	for _, rule := range d.rules {
		refs, err := d.store.ResourcesWithFactsSince(ctx, rule.FactType(), since)
		if err != nil {
			listFailures++
			logger.WithError(err, "detector").WithField("rule", rule.Name()).Error("Failed to list observed resources")
			continue
		}

		for _, ref := range refs {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			report.Evaluated++
			outcome, err := d.evaluateResource(ctx, rule, ref, now)
			switch {
			case err != nil:
				report.Failed++
				logger.WithResource("detector", ref).WithField("rule", rule.Name()).Errorf("Detection failed: %v", err)
			case outcome == outcomeCreated:
				report.Created++
			case outcome == outcomeDeduplicated:
				report.Deduplicated++
			}
		}
	}

	if listFailures == len(d.rules) && listFailures > 0 {
		return report, fmt.Errorf("fact store unavailable for all %d rules", listFailures)
	}
	if report.Created > 0 || report.Failed > 0 {
		logger.Info("Detection cycle completed", map[string]interface{}{
			"evaluated":    report.Evaluated,
			"created":      report.Created,
			"deduplicated": report.Deduplicated,
			"failed":       report.Failed,
		})
	}
	return report, nil
}

type evaluationOutcome int

const (
	outcomeNoMatch evaluationOutcome = iota
	outcomeDeduplicated
	outcomeCreated
)

// evaluateResource contains panics from rules so one resource cannot abort the cycle.
func (d *IncidentDetector) evaluateResource(ctx context.Context, rule Rule, ref string, now time.Time) (outcome evaluationOutcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("rule %s panicked: %v", rule.Name(), r)
		}
	}()

	fact, err := d.store.LatestFact(ctx, ref, rule.FactType())
	if err != nil {
		return outcomeNoMatch, fmt.Errorf("failed to load latest fact: %w", err)
	}
	payload, err := fact.Payload()
	if err != nil {
		return outcomeNoMatch, err
	}

	finding, matched := rule.Evaluate(*fact, payload)
	if !matched {
		return outcomeNoMatch, nil
	}

	// Read-before-write dedup; best effort since no row lock is taken.
	unresolved, err := d.store.ListUnresolvedIncidents(ctx)
	if err != nil {
		return outcomeNoMatch, fmt.Errorf("failed to list unresolved incidents: %w", err)
	}
	for i := range unresolved {
		if unresolved[i].References(ref) {
			metrics.IncidentsDeduplicatedTotal.WithLabelValues(rule.Name()).Inc()
			logger.WithResource("detector", ref).WithField("incident_id", unresolved[i].ID).Debug("Unresolved incident already covers resource")
			return outcomeDeduplicated, nil
		}
	}

	generated := d.narratives.Generate(ctx, finding.Summary, finding.Detail, ref)

	incident := &models.Incident{
		Title:             finding.Title,
		Severity:          finding.Severity,
		Status:            models.StatusOpen,
		AffectedResources: datatypes.JSONSlice[string]{ref},
		Symptoms:          datatypes.JSONSlice[string](finding.Symptoms),
		RuleName:          rule.Name(),
		DetectedAt:        now,
	}
	narrative := &models.IncidentNarrative{
		NarrativeText:       generated.Narrative,
		RootCauseHypothesis: generated.RootCause,
		Confidence:          generated.Confidence,
		EvidenceRefs:        datatypes.JSONSlice[string]{fmt.Sprintf("fact:%d", fact.ID), ref},
		ResolutionSteps:     datatypes.JSONSlice[string](generated.ResolutionSteps),
		TimeRange:           models.TimeRange{Start: now.Add(-d.window), End: fact.Timestamp},
		AIGenerated:         generated.AIGenerated,
	}
	if err := d.store.CreateIncidentWithNarrative(ctx, incident, narrative); err != nil {
		return outcomeNoMatch, err
	}

	metrics.IncidentsCreatedTotal.WithLabelValues(rule.Name(), string(finding.Severity)).Inc()
	logger.WithResource("detector", ref).WithFields(map[string]interface{}{
		"incident_id":  incident.ID,
		"rule":         rule.Name(),
		"severity":     finding.Severity,
		"ai_generated": generated.AIGenerated,
	}).Warn("Incident created")

	if d.memory != nil {
		_ = d.memory.StoreMemory(ctx, generated.Narrative, map[string]interface{}{
			"type":        MemoryTypeIncidentNarrative,
			"resourceRef": ref,
			"incidentId":  incident.ID,
			"severity":    string(finding.Severity),
			"rootCause":   generated.RootCause,
		})
	}
	return outcomeCreated, nil
}
