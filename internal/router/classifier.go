package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"sync"
	"time"

	"github.com/voxline-ai/voxline/pkg/types"
)

// Classifier defaults.
const (
	defaultHealthTTL      = 30 * time.Second
	defaultHealthTimeout  = 500 * time.Millisecond
	defaultRequestTimeout = 2 * time.Second
	defaultRetryBudget    = 2
)

// functionCallRe extracts structured function-call tokens from the fast
// model's output, e.g. <function=create_booking>{"date":"tomorrow"}</function>.
var functionCallRe = regexp.MustCompile(`<function=([a-zA-Z0-9_]+)>\s*(\{.*?\})\s*</function>`)

// ClassifierConfig configures a Classifier strategy.
type ClassifierConfig struct {
	// Endpoint is the base URL of the local fast-model service. Required.
	Endpoint string

	// HealthTTL is how long one health probe result is trusted before
	// re-probing. Defaults to 30s.
	HealthTTL time.Duration

	// HealthTimeout bounds the health probe, independent of the turn's own
	// deadlines. Defaults to 500ms.
	HealthTimeout time.Duration

	// RequestTimeout bounds one classification request. Defaults to 2s.
	RequestTimeout time.Duration

	// RetryBudget is the number of classification attempts before giving up
	// for this utterance. Defaults to 2.
	RetryBudget int

	// HTTPClient overrides the default client, mainly for tests.
	HTTPClient *http.Client
}

// Classifier routes through a local fast-model endpoint that can emit
// complete tool calls for common, unambiguous utterances, skipping the full
// LLM round-trip. It is strictly best-effort: an unhealthy or failing
// endpoint makes Route pass, never fail.
type Classifier struct {
	cfg    ClassifierConfig
	client *http.Client

	mu         sync.Mutex
	healthy    bool
	lastProbe  time.Time
	probedOnce bool
}

// NewClassifier creates the classifier strategy. Returns an error if the
// endpoint is empty.
func NewClassifier(cfg ClassifierConfig) (*Classifier, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("router: classifier endpoint must not be empty")
	}
	if cfg.HealthTTL <= 0 {
		cfg.HealthTTL = defaultHealthTTL
	}
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = defaultHealthTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.RetryBudget <= 0 {
		cfg.RetryBudget = defaultRetryBudget
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &Classifier{cfg: cfg, client: client}, nil
}

// Name implements Strategy.
func (c *Classifier) Name() string { return "classifier" }

// classifyRequest is the wire format sent to the fast-model service.
type classifyRequest struct {
	Utterance string                 `json:"utterance"`
	Tools     []types.ToolDefinition `json:"tools"`
}

// classifyResponse is the wire format returned by the fast-model service.
type classifyResponse struct {
	Output string `json:"output"`
}

// Route implements Strategy. A full set of required arguments yields a
// direct_tool decision; a recognised tool with partial arguments yields
// llm_required with a hint. Everything else passes.
func (c *Classifier) Route(ctx context.Context, utterance string, tools []types.ToolDefinition) (Decision, bool) {
	if !c.isHealthy(ctx) {
		return Decision{}, false
	}

	output, err := c.classify(ctx, utterance, tools)
	if err != nil {
		slog.Debug("classifier unavailable, falling through", "error", err)
		return Decision{}, false
	}

	name, args, ok := parseFunctionCall(output)
	if !ok {
		return Decision{}, false
	}

	def, known := findTool(tools, name)
	if !known {
		return Decision{}, false
	}

	if missing := missingRequired(def, args); len(missing) > 0 {
		return Decision{
			Kind:   KindLLMRequired,
			Hint:   name,
			Reason: fmt.Sprintf("classifier matched %s but arguments are incomplete", name),
		}, true
	}
	return Decision{Kind: KindDirectTool, Tool: name, Args: args}, true
}

// classify posts the utterance to the endpoint, retrying within the budget.
func (c *Classifier) classify(ctx context.Context, utterance string, tools []types.ToolDefinition) (string, error) {
	body, err := json.Marshal(classifyRequest{Utterance: utterance, Tools: tools})
	if err != nil {
		return "", fmt.Errorf("router: marshal classify request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < c.cfg.RetryBudget; attempt++ {
		out, err := c.doClassify(ctx, body)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	c.markUnhealthy()
	return "", lastErr
}

func (c *Classifier) doClassify(ctx context.Context, body []byte) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost,
		c.cfg.Endpoint+"/classify", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("router: build classify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("router: classify request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("router: classify returned status %d", resp.StatusCode)
	}

	var out classifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("router: decode classify response: %w", err)
	}
	return out.Output, nil
}

// isHealthy probes the endpoint's health route, caching the result for the
// TTL so the probe cost is not paid on every turn.
func (c *Classifier) isHealthy(ctx context.Context) bool {
	c.mu.Lock()
	if c.probedOnce && time.Since(c.lastProbe) < c.cfg.HealthTTL {
		healthy := c.healthy
		c.mu.Unlock()
		return healthy
	}
	c.mu.Unlock()

	probeCtx, cancel := context.WithTimeout(ctx, c.cfg.HealthTimeout)
	defer cancel()

	healthy := false
	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, c.cfg.Endpoint+"/health", nil)
	if err == nil {
		if resp, err := c.client.Do(req); err == nil {
			resp.Body.Close()
			healthy = resp.StatusCode == http.StatusOK
		}
	}

	c.mu.Lock()
	c.healthy = healthy
	c.lastProbe = time.Now()
	c.probedOnce = true
	c.mu.Unlock()
	return healthy
}

// markUnhealthy caches a negative health result after a failed classify so
// the next turns skip straight to the heuristic until the TTL expires.
func (c *Classifier) markUnhealthy() {
	c.mu.Lock()
	c.healthy = false
	c.lastProbe = time.Now()
	c.probedOnce = true
	c.mu.Unlock()
}

// parseFunctionCall extracts the first function-call token from the model
// output.
func parseFunctionCall(output string) (name string, args map[string]any, ok bool) {
	m := functionCallRe.FindStringSubmatch(output)
	if m == nil {
		return "", nil, false
	}
	args = make(map[string]any)
	if err := json.Unmarshal([]byte(m[2]), &args); err != nil {
		return "", nil, false
	}
	return m[1], args, true
}

func findTool(tools []types.ToolDefinition, name string) (types.ToolDefinition, bool) {
	for _, t := range tools {
		if t.Name == name {
			return t, true
		}
	}
	return types.ToolDefinition{}, false
}

// missingRequired lists the tool's required argument names that are absent or
// empty in args.
func missingRequired(def types.ToolDefinition, args map[string]any) []string {
	var missing []string
	for _, req := range def.Required {
		v, present := args[req]
		if !present {
			missing = append(missing, req)
			continue
		}
		if s, isStr := v.(string); isStr && s == "" {
			missing = append(missing, req)
		}
	}
	return missing
}
