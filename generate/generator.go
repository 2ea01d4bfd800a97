package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"text/template"

	"github.com/Paranoid-AF/ghostlet"
	defaults "github.com/Paranoid-AF/ghostlet/default"
	"github.com/Paranoid-AF/ghostlet/errors"
	"go.uber.org/zap"
)

// CursorMarker stands in for the cursor in chat-style prompts.
const CursorMarker = "<CURSOR>"

// Request is one call to the completion provider.
type Request struct {
	Language string
	Prefix   string
	Suffix   string
	// N is the number of suggestions wanted.
	N int
}

// Completer produces raw suggestion texts for a request.
type Completer interface {
	Complete(ctx context.Context, req Request) ([]string, error)
}

// Generator performs text generation via an OpenAI-compatible API.
type Generator struct {
	baseURL      string
	apiKey       string
	model        string
	apiType      string // "completions", "chat_completions" or "responses"
	maxTokens    int
	temperature  float64
	topP         float64
	stop         []string
	telemetry    bool // send OpenRouter attribution headers
	customPrompt string
	client       *http.Client
	logger       *zap.SugaredLogger
}

// NewGenerator creates a generator from config. customPrompt overrides the
// embedded system prompt template when non-empty.
func NewGenerator(cfg *ghostlet.Config, customPrompt string, logger *zap.SugaredLogger) *Generator {
	return &Generator{
		baseURL:      strings.TrimRight(ghostlet.ResolveGenerationBaseURL(cfg), "/"),
		apiKey:       ghostlet.ResolveGenerationAPIKey(cfg),
		model:        ghostlet.ResolveGenerationModel(cfg),
		apiType:      cfg.Generation.APIType,
		maxTokens:    cfg.Generation.MaxTokens,
		temperature:  cfg.Generation.Temperature,
		topP:         cfg.Generation.TopP,
		stop:         cfg.Generation.Stop,
		telemetry:    ghostlet.OpenRouterTelemetryEnabled(cfg),
		customPrompt: customPrompt,
		client:       &http.Client{Timeout: ghostlet.GenerationTimeout(cfg)},
		logger:       logger,
	}
}

// Complete sends a completion request to the API and returns the suggestions.
func (g *Generator) Complete(ctx context.Context, req Request) ([]string, error) {
	if req.N <= 0 {
		req.N = 1
	}
	var (
		out []string
		err error
	)
	switch g.apiType {
	case "chat_completions":
		out, err = g.completeChat(ctx, req)
	case "responses":
		out, err = g.completeResponses(ctx, req)
	default:
		out, err = g.completeFIM(ctx, req)
	}
	if err != nil {
		return nil, err
	}

	suggestions := make([]string, 0, len(out))
	for _, s := range out {
		if s = cleanSuggestion(s); s != "" {
			suggestions = append(suggestions, s)
		}
	}
	return suggestions, nil
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// --- Completions API (fill-in-the-middle) ---

type completionsRequest struct {
	Model       string   `json:"model"`
	Prompt      string   `json:"prompt"`
	Suffix      string   `json:"suffix,omitempty"`
	N           int      `json:"n,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	Temperature float64  `json:"temperature,omitempty"`
	TopP        float64  `json:"top_p,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

type completionsResponse struct {
	Choices []struct {
		Text string `json:"text"`
	} `json:"choices"`
	Error *apiError `json:"error,omitempty"`
}

func (g *Generator) completeFIM(ctx context.Context, req Request) ([]string, error) {
	body := completionsRequest{
		Model:       g.model,
		Prompt:      req.Prefix,
		Suffix:      req.Suffix,
		N:           req.N,
		MaxTokens:   g.maxTokens,
		Temperature: g.temperature,
		TopP:        g.topP,
		Stop:        g.stop,
	}

	var result completionsResponse
	if err := g.post(ctx, "/completions", body, &result); err != nil {
		return nil, err
	}
	if result.Error != nil {
		return nil, errors.Newf("API error: %s", result.Error.Message)
	}

	out := make([]string, 0, len(result.Choices))
	for _, c := range result.Choices {
		out = append(out, c.Text)
	}
	return out, nil
}

// --- Chat Completions API ---

type chatCompletionsRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	N           int           `json:"n,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
	TopP        float64       `json:"top_p,omitempty"`
	Stop        []string      `json:"stop,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionsResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *apiError `json:"error,omitempty"`
}

func (g *Generator) completeChat(ctx context.Context, req Request) ([]string, error) {
	body := chatCompletionsRequest{
		Model: g.model,
		Messages: []chatMessage{
			{Role: "system", Content: g.buildSystemPrompt(req.Language)},
			{Role: "user", Content: buildUserMessage(req)},
		},
		N:           req.N,
		MaxTokens:   g.maxTokens,
		Temperature: g.temperature,
		TopP:        g.topP,
		Stop:        g.stop,
	}

	var result chatCompletionsResponse
	if err := g.post(ctx, "/chat/completions", body, &result); err != nil {
		return nil, err
	}
	if result.Error != nil {
		return nil, errors.Newf("API error: %s", result.Error.Message)
	}
	if len(result.Choices) == 0 {
		return nil, errors.New("no choices in response")
	}

	out := make([]string, 0, len(result.Choices))
	for _, c := range result.Choices {
		out = append(out, c.Message.Content)
	}
	return out, nil
}

// --- Responses API ---

type responsesRequest struct {
	Model       string           `json:"model"`
	Input       []responsesInput `json:"input"`
	MaxTokens   int              `json:"max_output_tokens,omitempty"`
	Temperature float64          `json:"temperature,omitempty"`
	TopP        float64          `json:"top_p,omitempty"`
}

type responsesInput struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responsesResponse struct {
	Output []struct {
		Type    string `json:"type"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content,omitempty"`
	} `json:"output"`
	Error *apiError `json:"error,omitempty"`
}

func (g *Generator) completeResponses(ctx context.Context, req Request) ([]string, error) {
	body := responsesRequest{
		Model: g.model,
		Input: []responsesInput{
			{Role: "system", Content: g.buildSystemPrompt(req.Language)},
			{Role: "user", Content: buildUserMessage(req)},
		},
		MaxTokens:   g.maxTokens,
		Temperature: g.temperature,
		TopP:        g.topP,
	}

	var result responsesResponse
	if err := g.post(ctx, "/responses", body, &result); err != nil {
		return nil, err
	}
	if result.Error != nil {
		return nil, errors.Newf("API error: %s", result.Error.Message)
	}

	// Extract text from output
	for _, out := range result.Output {
		if out.Type == "message" {
			for _, c := range out.Content {
				if c.Type == "output_text" {
					return []string{c.Text}, nil
				}
			}
		}
	}
	return nil, errors.New("no text content in response")
}

// post sends body as JSON to path and decodes a 200 response into result.
func (g *Generator) post(ctx context.Context, path string, body, result any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	g.setHeaders(httpReq)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return errors.Wrap(err, "send request")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "read response")
	}

	if resp.StatusCode != http.StatusOK {
		return errors.Newf("API error (status %d): %s", resp.StatusCode, string(raw))
	}

	if err := json.Unmarshal(raw, result); err != nil {
		return errors.Wrapf(err, "failed to parse response (body: %s)", string(raw))
	}
	return nil
}

// setHeaders sets common headers for API requests.
func (g *Generator) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}
	if g.telemetry {
		req.Header.Set("X-Title", "Ghostlet - ghost text completions for your editor")
		req.Header.Set("HTTP-Referer", "https://github.com/Paranoid-AF/ghostlet")
	}
}

// PromptData holds the data passed to the prompt template.
type PromptData struct {
	Language     string
	CursorMarker string
}

// buildSystemPrompt renders the system prompt from the template.
func (g *Generator) buildSystemPrompt(language string) string {
	tmplSrc := g.customPrompt
	if tmplSrc == "" {
		tmplSrc = defaults.DefaultPrompt
	}

	data := PromptData{
		Language:     language,
		CursorMarker: CursorMarker,
	}

	t, err := template.New("prompt").Parse(tmplSrc)
	if err != nil {
		g.logger.Warnw("failed to parse prompt template, falling back to default", "error", err)
		t, _ = template.New("prompt").Parse(defaults.DefaultPrompt)
	}

	var buf strings.Builder
	if err := t.Execute(&buf, data); err != nil {
		g.logger.Warnw("failed to execute prompt template, falling back to default", "error", err)
		t, _ = template.New("prompt").Parse(defaults.DefaultPrompt)
		buf.Reset()
		t.Execute(&buf, data)
	}

	return strings.TrimRight(buf.String(), " \t\n")
}

// buildUserMessage lays out the document around the cursor.
func buildUserMessage(req Request) string {
	var sb strings.Builder
	sb.WriteString("```")
	sb.WriteString(req.Language)
	sb.WriteString("\n")
	sb.WriteString(req.Prefix)
	sb.WriteString(CursorMarker)
	sb.WriteString(req.Suffix)
	sb.WriteString("\n```")
	return sb.String()
}

// cleanSuggestion strips markdown fences and a stray cursor marker that chat
// models sometimes echo back.
func cleanSuggestion(s string) string {
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "```") {
		if i := strings.IndexByte(trimmed, '\n'); i >= 0 {
			trimmed = trimmed[i+1:]
		} else {
			trimmed = ""
		}
		trimmed = strings.TrimSuffix(strings.TrimRight(trimmed, " \t\n"), "```")
		s = strings.TrimRight(trimmed, "\n")
	}
	s = strings.ReplaceAll(s, CursorMarker, "")
	if strings.TrimSpace(s) == "" {
		return ""
	}
	return s
}
