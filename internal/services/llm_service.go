package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/labsage/backend/internal/logger"
	"github.com/labsage/backend/internal/metrics"
)

const (
	maxTrackedCalls      = 100
	maxTrackedPromptSize = 2000
)

// Generator is the text generation capability used by narratives and summaries.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}

// Embedder turns text into a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type GenerateRequest struct {
	CallType    string
	ResourceRef string
	Prompt      string
	// JSON asks Ollama to constrain the output to a JSON document.
	JSON bool
}

type LLMConfig struct {
	BaseURL         string
	Model           string
	EmbedModel      string
	GenerateTimeout time.Duration
	EmbedTimeout    time.Duration
}

type LLMService struct {
	baseURL         string
	llmModel        string
	embedModel      string
	client          *http.Client
	generateTimeout time.Duration
	embedTimeout    time.Duration
	apiCalls        []LLMAPICall
	callMutex       sync.RWMutex
}

type OllamaGenerateRequest struct {
	Model   string                 `json:"model"`
	Prompt  string                 `json:"prompt"`
	Stream  bool                   `json:"stream"`
	Format  string                 `json:"format,omitempty"`
	Options map[string]interface{} `json:"options,omitempty"`
}

type OllamaGenerateResponse struct {
	Model     string `json:"model"`
	Response  string `json:"response"`
	Done      bool   `json:"done"`
	CreatedAt string `json:"created_at"`
}

type OllamaEmbeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type OllamaEmbeddingResponse struct {
	Embedding []float32 `json:"embedding"`
}

// LLMAPICall is one tracked request to Ollama
type LLMAPICall struct {
	ID          string                 `json:"id"`
	Timestamp   time.Time              `json:"timestamp"`
	Endpoint    string                 `json:"endpoint"`
	Model       string                 `json:"model"`
	ResourceRef string                 `json:"resourceRef,omitempty"`
	CallType    string                 `json:"callType"` // "incident_narrative", "log_summary", "embedding"
	Payload     map[string]interface{} `json:"payload"`
	Status      int                    `json:"status"`
	Duration    time.Duration          `json:"duration"`
	Response    string                 `json:"response"`
	Error       string                 `json:"error,omitempty"`
	ErrorKind   ErrorKind              `json:"errorKind,omitempty"`
}

func NewLLMService(cfg LLMConfig) *LLMService {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	if cfg.Model == "" {
		cfg.Model = "llama3.1:8b"
	}
	if cfg.EmbedModel == "" {
		cfg.EmbedModel = "nomic-embed-text"
	}
	if cfg.GenerateTimeout <= 0 {
		cfg.GenerateTimeout = 120 * time.Second
	}
	if cfg.EmbedTimeout <= 0 {
		cfg.EmbedTimeout = 30 * time.Second
	}

	return &LLMService{
		baseURL:         strings.TrimRight(cfg.BaseURL, "/"),
		llmModel:        cfg.Model,
		embedModel:      cfg.EmbedModel,
		client:          &http.Client{},
		generateTimeout: cfg.GenerateTimeout,
		embedTimeout:    cfg.EmbedTimeout,
		apiCalls:        make([]LLMAPICall, 0),
	}
}

func (ls *LLMService) Model() string      { return ls.llmModel }
func (ls *LLMService) EmbedModel() string { return ls.embedModel }

// GetAPICalls returns all tracked LLM API calls
func (ls *LLMService) GetAPICalls() []LLMAPICall {
	ls.callMutex.RLock()
	defer ls.callMutex.RUnlock()

	calls := make([]LLMAPICall, len(ls.apiCalls))
	copy(calls, ls.apiCalls)
	return calls
}

// ClearAPICalls clears the API call history
func (ls *LLMService) ClearAPICalls() {
	ls.callMutex.Lock()
	defer ls.callMutex.Unlock()
	ls.apiCalls = make([]LLMAPICall, 0)
}

func (ls *LLMService) addAPICall(call LLMAPICall) {
	ls.callMutex.Lock()
	defer ls.callMutex.Unlock()

	if len(ls.apiCalls) >= maxTrackedCalls {
		ls.apiCalls = ls.apiCalls[1:]
	}
	ls.apiCalls = append(ls.apiCalls, call)
}

func (ls *LLMService) trackAPICall(endpoint, model, callType, resourceRef string, payload map[string]interface{}, status int, duration time.Duration, response string, err error) {
	call := LLMAPICall{
		ID:          fmt.Sprintf("llm_%d", time.Now().UnixNano()),
		Timestamp:   time.Now(),
		Endpoint:    endpoint,
		Model:       model,
		ResourceRef: resourceRef,
		CallType:    callType,
		Payload:     payload,
		Status:      status,
		Duration:    duration,
		Response:    response,
	}
	outcome := "ok"
	if err != nil {
		call.Error = err.Error()
		call.ErrorKind = KindOf(err)
		outcome = string(call.ErrorKind)
	}
	ls.addAPICall(call)

	metrics.LLMRequestsTotal.WithLabelValues(callType, outcome).Inc()
	metrics.LLMRequestDuration.WithLabelValues(callType).Observe(duration.Seconds())
}

// Generate runs a non-streaming completion bounded by the generate timeout.
func (ls *LLMService) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	callType := req.CallType
	if callType == "" {
		callType = "general"
	}
	ctx, cancel := context.WithTimeout(ctx, ls.generateTimeout)
	defer cancel()

	request := OllamaGenerateRequest{
		Model:  ls.llmModel,
		Prompt: req.Prompt,
		Stream: false,
		Options: map[string]interface{}{
			"temperature": 0.2,
			"top_p":       0.8,
		},
	}
	if req.JSON {
		request.Format = "json"
	}

	payload := map[string]interface{}{
		"prompt":        truncate(req.Prompt, maxTrackedPromptSize),
		"prompt_length": len(req.Prompt),
		"json":          req.JSON,
	}

	logger.WithLLM(callType).Debugf("Making LLM request with prompt length: %d characters", len(req.Prompt))

	var ollamaResp OllamaGenerateResponse
	startTime := time.Now()
	status, err := ls.postJSON(ctx, "/api/generate", "generate", request, &ollamaResp)
	elapsed := time.Since(startTime)

	if err == nil && strings.TrimSpace(ollamaResp.Response) == "" {
		err = &CallError{Kind: ErrorMalformed, Op: "generate", Status: status, Err: fmt.Errorf("empty response")}
	}
	ls.trackAPICall("/api/generate", ls.llmModel, callType, req.ResourceRef, payload, status, elapsed, ollamaResp.Response, err)

	if err != nil {
		logger.WithLLM(callType).WithField("error_kind", KindOf(err)).Warnf("LLM request failed after %v: %v", elapsed, err)
		return "", err
	}
	logger.WithLLM(callType).Debugf("LLM request completed in %v", elapsed)
	return ollamaResp.Response, nil
}

// Embed generates an embedding bounded by the embed timeout.
func (ls *LLMService) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, ls.embedTimeout)
	defer cancel()

	request := OllamaEmbeddingRequest{
		Model:  ls.embedModel,
		Prompt: text,
	}

	var embeddingResp OllamaEmbeddingResponse
	startTime := time.Now()
	status, err := ls.postJSON(ctx, "/api/embeddings", "embed", request, &embeddingResp)
	elapsed := time.Since(startTime)

	if err == nil && len(embeddingResp.Embedding) == 0 {
		err = &CallError{Kind: ErrorMalformed, Op: "embed", Status: status, Err: fmt.Errorf("empty embedding")}
	}
	ls.trackAPICall("/api/embeddings", ls.embedModel, "embedding", "", map[string]interface{}{"text_length": len(text)}, status, elapsed, "", err)

	if err != nil {
		return nil, err
	}
	return embeddingResp.Embedding, nil
}

func (ls *LLMService) postJSON(ctx context.Context, path, op string, body, out interface{}) (int, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return 0, &CallError{Kind: ErrorMalformed, Op: op, Err: fmt.Errorf("failed to marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ls.baseURL+path, bytes.NewReader(jsonData))
	if err != nil {
		return 0, &CallError{Kind: ErrorUnavailable, Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := ls.client.Do(req)
	if err != nil {
		return 0, transportError(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return resp.StatusCode, &CallError{
			Kind:   ErrorBadStatus,
			Op:     op,
			Status: resp.StatusCode,
			Err:    fmt.Errorf("Ollama API returned status %d, body: %s", resp.StatusCode, strings.TrimSpace(string(respBody))),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if ctx.Err() != nil {
			return resp.StatusCode, transportError(op, ctx.Err())
		}
		return resp.StatusCode, &CallError{Kind: ErrorMalformed, Op: op, Status: resp.StatusCode, Err: fmt.Errorf("failed to decode Ollama response: %w", err)}
	}
	return resp.StatusCode, nil
}

// CheckLLMHealth verifies if the local LLM is available
func (ls *LLMService) CheckLLMHealth(ctx context.Context) error {
	_, err := ls.GetAvailableModels(ctx)
	return err
}

type OllamaModelsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// GetAvailableModels returns the list of models pulled into Ollama
func (ls *LLMService) GetAvailableModels(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ls.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, err
	}
	resp, err := ls.client.Do(req)
	if err != nil {
		return nil, transportError("tags", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &CallError{Kind: ErrorBadStatus, Op: "tags", Status: resp.StatusCode, Err: fmt.Errorf("failed to get models")}
	}

	var modelsResp OllamaModelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&modelsResp); err != nil {
		return nil, &CallError{Kind: ErrorMalformed, Op: "tags", Err: err}
	}

	modelNames := make([]string, 0, len(modelsResp.Models))
	for _, model := range modelsResp.Models {
		modelNames = append(modelNames, model.Name)
	}
	return modelNames, nil
}

// cleanJSONResponse strips markdown fences some models wrap around JSON output.
func cleanJSONResponse(response string) string {
	clean := strings.TrimSpace(response)
	clean = strings.TrimPrefix(clean, "```json")
	clean = strings.TrimPrefix(clean, "```")
	clean = strings.TrimSuffix(clean, "```")
	clean = strings.TrimSpace(clean)

	// Some models prepend a sentence before the object.
	if !strings.HasPrefix(clean, "{") {
		if start := strings.Index(clean, "{"); start >= 0 {
			if end := strings.LastIndex(clean, "}"); end > start {
				clean = clean[start : end+1]
			}
		}
	}
	return clean
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "... (truncated)"
}
