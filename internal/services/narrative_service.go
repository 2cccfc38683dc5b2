package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/labsage/backend/internal/logger"
	"github.com/labsage/backend/internal/metrics"
)

const (
	FallbackRootCause     = "Root cause could not be determined automatically. Review the resource state and its recent logs."
	aiUnavailableNotice   = "*(AI Analysis Unavailable)*"
	defaultContextItems   = 3
	narrativeCallType     = "incident_narrative"
	maxResolutionStepSize = 10
)

// Narrative is the generated explanation of an incident. ErrorKind is set
// when the fallback was used.
type Narrative struct {
	Narrative       string    `json:"narrative"`
	RootCause       string    `json:"rootCause"`
	Confidence      *float64  `json:"confidence,omitempty"`
	ResolutionSteps []string  `json:"resolutionSteps"`
	AIGenerated     bool      `json:"aiGenerated"`
	ErrorKind       ErrorKind `json:"errorKind,omitempty"`
}

type NarrativeGenerator interface {
	Generate(ctx context.Context, summary, detail, resourceRef string) Narrative
}

type NarrativeService struct {
	llm          Generator
	memory       ContextProvider
	contextLimit int
}

func NewNarrativeService(llm Generator, memory ContextProvider, contextLimit int) *NarrativeService {
	if contextLimit <= 0 {
		contextLimit = defaultContextItems
	}
	return &NarrativeService{llm: llm, memory: memory, contextLimit: contextLimit}
}

type narrativeResponse struct {
	Narrative       string   `json:"narrative"`
	RootCause       string   `json:"rootCause"`
	Confidence      *float64 `json:"confidence"`
	ResolutionSteps []string `json:"resolutionSteps"`
}

// Generate never fails: any problem with the model yields FallbackNarrative.
func (ns *NarrativeService) Generate(ctx context.Context, summary, detail, resourceRef string) Narrative {
	history := ""
	if ns.memory != nil {
		items := ns.memory.GetContext(ctx, summary+"\n"+detail, ns.contextLimit)
		history = ns.memory.FormatContext(items)
	}

	prompt := fmt.Sprintf(INCIDENT_NARRATIVE_PROMPT, resourceRef, summary, detail, history)
	response, err := ns.llm.Generate(ctx, GenerateRequest{
		CallType:    narrativeCallType,
		ResourceRef: resourceRef,
		Prompt:      prompt,
		JSON:        true,
	})
	if err != nil {
		return ns.fallback(summary, detail, resourceRef, err)
	}

	parsed, err := parseNarrativeResponse(response)
	if err != nil {
		return ns.fallback(summary, detail, resourceRef, err)
	}

	metrics.NarrativesTotal.WithLabelValues("ai").Inc()
	return Narrative{
		Narrative:       parsed.Narrative,
		RootCause:       parsed.RootCause,
		Confidence:      parsed.Confidence,
		ResolutionSteps: parsed.ResolutionSteps,
		AIGenerated:     true,
	}
}

func (ns *NarrativeService) fallback(summary, detail, resourceRef string, err error) Narrative {
	metrics.NarrativesTotal.WithLabelValues("fallback").Inc()
	logger.WithResource("narrative", resourceRef).
		WithField("error_kind", KindOf(err)).
		Warnf("Narrative generation failed, using fallback: %v", err)

	n := FallbackNarrative(summary, detail)
	n.ErrorKind = KindOf(err)
	if n.ErrorKind == "" {
		n.ErrorKind = ErrorMalformed
	}
	return n
}

// FallbackNarrative is the deterministic narrative used whenever the model
// cannot produce one. It always contains summary and detail verbatim.
func FallbackNarrative(summary, detail string) Narrative {
	if strings.TrimSpace(summary) == "" {
		summary = "Incident detected"
	}
	return Narrative{
		Narrative:       fmt.Sprintf("## %s\n\n%s\n\n%s", summary, detail, aiUnavailableNotice),
		RootCause:       FallbackRootCause,
		ResolutionSteps: []string{},
		AIGenerated:     false,
	}
}

func parseNarrativeResponse(response string) (*narrativeResponse, error) {
	clean := cleanJSONResponse(response)
	if !strings.HasPrefix(clean, "{") {
		return nil, &CallError{Kind: ErrorMalformed, Op: "parse_narrative", Err: fmt.Errorf("LLM did not return a JSON object: %q", truncate(clean, 200))}
	}

	var parsed narrativeResponse
	if err := json.Unmarshal([]byte(clean), &parsed); err != nil {
		return nil, &CallError{Kind: ErrorMalformed, Op: "parse_narrative", Err: fmt.Errorf("failed to parse JSON response: %w", err)}
	}
	if strings.TrimSpace(parsed.Narrative) == "" || strings.TrimSpace(parsed.RootCause) == "" {
		return nil, &CallError{Kind: ErrorMalformed, Op: "parse_narrative", Err: fmt.Errorf("LLM returned incomplete narrative (missing narrative or rootCause)")}
	}

	if parsed.Confidence != nil {
		c := *parsed.Confidence
		if c < 0 {
			c = 0
		}
		if c > 1 {
			c = 1
		}
		parsed.Confidence = &c
	}
	if parsed.ResolutionSteps == nil {
		parsed.ResolutionSteps = []string{}
	}
	if len(parsed.ResolutionSteps) > maxResolutionStepSize {
		parsed.ResolutionSteps = parsed.ResolutionSteps[:maxResolutionStepSize]
	}
	return &parsed, nil
}
