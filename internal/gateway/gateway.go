// Package gateway is the HTTP client for the chat-completions model tiers.
//
// A single Invoke runs a small degradation ladder instead of failing fast:
// the full request first (reasoning on when the tier supports it), then a
// retry without reasoning, then a retry without tools when the endpoint
// rejected the tool schema, and finally any inline fallback text the
// endpoint embedded in its error body is returned as a degraded success.
package gateway

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/smartcathome/whisker/internal/config"
	"github.com/smartcathome/whisker/pkg/models"
)

// CallError is a failed tier invocation with whatever the endpoint told us
// about why. Some endpoints embed a hint that the tool schema did not match
// ("not match") and some carry a canned reply in a data field.
type CallError struct {
	Status       int
	Message      string
	RetrySimple  bool
	FallbackText string
}

func (e *CallError) Error() string {
	return fmt.Sprintf("model call failed (status %d): %s", e.Status, e.Message)
}

// Gateway invokes configured model tiers over their chat-completions API.
type Gateway struct {
	client *http.Client
}

// New creates a gateway. Per-request deadlines come from the tier config,
// so the shared client carries no timeout of its own.
func New() *Gateway {
	return &Gateway{client: &http.Client{}}
}

// Invoke sends the request to one tier, degrading through up to three
// attempts before giving up. A returned error means every rung of the
// ladder failed and no fallback text was available.
func (g *Gateway) Invoke(ctx context.Context, tier config.TierConfig, req models.ChatRequest) (*models.ModelResult, error) {
	if !tier.Configured() {
		return nil, fmt.Errorf("tier %q: no endpoint configured", req.Tier)
	}

	thinking := tier.EnableThinking || req.EnableThinking

	result, err := g.call(ctx, tier, req, thinking, true)
	if err == nil {
		return result, nil
	}

	// Second attempt: same request without reasoning. Skipped for tiers
	// that only run with reasoning enabled.
	if thinking && !tier.ThinkingOnly {
		log.Warn().Str("tier", string(req.Tier)).Err(err).Msg("model call failed, retrying without reasoning")
		result, err = g.call(ctx, tier, req, false, true)
		if err == nil {
			return result, nil
		}
	}

	// Third attempt: strip tools when the endpoint flagged a schema mismatch.
	var callErr *CallError
	if errors.As(err, &callErr) && callErr.RetrySimple && len(req.Tools) > 0 {
		log.Warn().Str("tier", string(req.Tier)).Msg("tool schema rejected, retrying without tools")
		simple := req
		simple.Tools = nil
		result, err = g.call(ctx, tier, simple, false, false)
		if err == nil {
			return result, nil
		}
	}

	// The endpoint may have handed us a canned reply inside the error body.
	// Returning it beats surfacing a hard failure to the user.
	if errors.As(err, &callErr) && callErr.FallbackText != "" {
		log.Warn().Str("tier", string(req.Tier)).Int("status", callErr.Status).
			Msg("using inline fallback text from error response")
		return &models.ModelResult{
			Content:      callErr.FallbackText,
			FinishReason: models.FinishModelErrorFallback,
			Tier:         req.Tier,
			Model:        tier.Model,
			Degraded:     true,
		}, nil
	}

	return nil, err
}

// ── Wire Types ───────────────────────────────────────────────

type chatCompletionRequest struct {
	Model              string               `json:"model"`
	Messages           []models.ChatMessage `json:"messages"`
	MaxTokens          int                  `json:"max_tokens,omitempty"`
	Temperature        float64              `json:"temperature,omitempty"`
	TopP               float64              `json:"top_p,omitempty"`
	TopK               int                  `json:"top_k,omitempty"`
	MinP               float64              `json:"min_p,omitempty"`
	PresencePenalty    float64              `json:"presence_penalty,omitempty"`
	Tools              []wireTool           `json:"tools,omitempty"`
	Stream             bool                 `json:"stream,omitempty"`
	ChatTemplateKwargs map[string]any       `json:"chat_template_kwargs,omitempty"`
}

type wireTool struct {
	Type     string                `json:"type"`
	Function models.ToolDefinition `json:"function"`
}

type chatCompletionResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Message struct {
			Content          string `json:"content"`
			ReasoningContent string `json:"reasoning_content"`
			Reasoning        string `json:"reasoning"`
			ToolCalls        []struct {
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// errorBody is the lenient shape of a failure response. The error field may
// be a string or an object with a message; data may carry canned reply text.
type errorBody struct {
	Error json.RawMessage `json:"error"`
	Data  string          `json:"data"`
}

func (g *Gateway) call(ctx context.Context, tier config.TierConfig, req models.ChatRequest, thinking, withTools bool) (*models.ModelResult, error) {
	start := time.Now()

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = tier.MaxTokens
	}

	wireReq := chatCompletionRequest{
		Model:           tier.Model,
		Messages:        req.Messages,
		MaxTokens:       maxTokens,
		Temperature:     tier.Temperature,
		TopP:            tier.TopP,
		TopK:            tier.TopK,
		MinP:            tier.MinP,
		PresencePenalty: tier.PresencePenalty,
	}
	if withTools && len(req.Tools) > 0 {
		for _, t := range req.Tools {
			wireReq.Tools = append(wireReq.Tools, wireTool{Type: "function", Function: t})
		}
	}
	if tier.EnableThinking {
		wireReq.ChatTemplateKwargs = map[string]any{"enable_thinking": thinking}
	}

	body, _ := json.Marshal(wireReq)

	callCtx, cancel := context.WithTimeout(ctx, tier.RequestTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(callCtx, "POST", tier.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("gateway: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if tier.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+tier.APIKey)
	}

	httpResp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gateway: request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(httpResp.Body)
		return nil, parseCallError(httpResp.StatusCode, respBody)
	}

	var wireResp chatCompletionResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&wireResp); err != nil {
		return nil, fmt.Errorf("gateway: decode response: %w", err)
	}

	result := &models.ModelResult{
		Tier:      req.Tier,
		Model:     tier.Model,
		LatencyMs: time.Since(start).Milliseconds(),
		Usage: models.TokenUsage{
			PromptTokens:     wireResp.Usage.PromptTokens,
			CompletionTokens: wireResp.Usage.CompletionTokens,
			TotalTokens:      wireResp.Usage.TotalTokens,
		},
	}
	if len(wireResp.Choices) > 0 {
		choice := wireResp.Choices[0]
		result.Content = choice.Message.Content
		result.Reasoning = choice.Message.ReasoningContent
		if result.Reasoning == "" {
			result.Reasoning = choice.Message.Reasoning
		}
		result.FinishReason = choice.FinishReason
		if result.Reasoning == "" && result.Content != "" {
			if thinking, cleaned := extractEmbeddedThinking(result.Content); thinking != "" {
				result.Reasoning = thinking
				result.Content = cleaned
			}
		}
		for _, tc := range choice.Message.ToolCalls {
			args := map[string]any{}
			if tc.Function.Arguments != "" {
				// Malformed argument blobs keep the raw string under "raw"
				// rather than dropping the whole response.
				if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
					args = map[string]any{"raw": tc.Function.Arguments}
				}
			}
			result.ToolCalls = append(result.ToolCalls, models.ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: args,
			})
		}
	}
	return result, nil
}

// ── Streaming ────────────────────────────────────────────────

// chatCompletionChunk is one SSE delta frame. Usage, when present, rides
// on the final frame.
type chatCompletionChunk struct {
	Choices []struct {
		Delta struct {
			Content          string `json:"content"`
			ReasoningContent string `json:"reasoning_content"`
			Reasoning        string `json:"reasoning"`
			Thinking         string `json:"thinking"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// InvokeStream sends a streaming request to one tier and delivers content
// deltas through onToken as they arrive. Single attempt, no degradation
// ladder: streaming callers run their own fallback.
func (g *Gateway) InvokeStream(ctx context.Context, tier config.TierConfig, req models.ChatRequest, onToken func(token string)) (*models.ModelResult, error) {
	if !tier.Configured() {
		return nil, fmt.Errorf("tier %q: no endpoint configured", req.Tier)
	}
	start := time.Now()

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = tier.MaxTokens
	}
	wireReq := chatCompletionRequest{
		Model:           tier.Model,
		Messages:        req.Messages,
		MaxTokens:       maxTokens,
		Temperature:     tier.Temperature,
		TopP:            tier.TopP,
		TopK:            tier.TopK,
		MinP:            tier.MinP,
		PresencePenalty: tier.PresencePenalty,
		Stream:          true,
	}
	if tier.EnableThinking {
		wireReq.ChatTemplateKwargs = map[string]any{"enable_thinking": tier.EnableThinking || req.EnableThinking}
	}
	body, _ := json.Marshal(wireReq)

	callCtx, cancel := context.WithTimeout(ctx, tier.RequestTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(callCtx, "POST", tier.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("gateway: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if tier.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+tier.APIKey)
	}

	httpResp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gateway: request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(httpResp.Body)
		return nil, parseCallError(httpResp.StatusCode, respBody)
	}

	result := &models.ModelResult{Tier: req.Tier, Model: tier.Model}
	var content, reasoning strings.Builder

	scanner := bufio.NewScanner(httpResp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "[DONE]" {
			break
		}

		var chunk chatCompletionChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			log.Warn().Str("chunk", data).Msg("unparseable streaming chunk, skipping")
			continue
		}
		if chunk.Usage != nil {
			result.Usage = models.TokenUsage{
				PromptTokens:     chunk.Usage.PromptTokens,
				CompletionTokens: chunk.Usage.CompletionTokens,
				TotalTokens:      chunk.Usage.TotalTokens,
			}
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		if token := choice.Delta.Content; token != "" {
			content.WriteString(token)
			if onToken != nil {
				onToken(token)
			}
		}
		switch {
		case choice.Delta.ReasoningContent != "":
			reasoning.WriteString(choice.Delta.ReasoningContent)
		case choice.Delta.Reasoning != "":
			reasoning.WriteString(choice.Delta.Reasoning)
		case choice.Delta.Thinking != "":
			reasoning.WriteString(choice.Delta.Thinking)
		}
		if choice.FinishReason != "" {
			result.FinishReason = choice.FinishReason
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("gateway: read stream: %w", err)
	}

	result.Content = content.String()
	result.Reasoning = reasoning.String()
	if result.Reasoning == "" && result.Content != "" {
		if thinking, cleaned := extractEmbeddedThinking(result.Content); thinking != "" {
			result.Reasoning = thinking
			result.Content = cleaned
		}
	}
	result.LatencyMs = time.Since(start).Milliseconds()
	return result, nil
}

// ── Embedded Reasoning ───────────────────────────────────────

var (
	analysisChannelRe = regexp.MustCompile(`(?is)<\|channel\|>analysis<\|message\|>(.*?)(?:<\|end\|>|<\|channel\|>|$)`)
	planChannelRe     = regexp.MustCompile(`(?is)<\|channel\|>(?:plan|thought|thinking)<\|message\|>.*?(?:<\|end\|>|<\|channel\|>|$)`)

	thinkingTagRes = []*regexp.Regexp{
		regexp.MustCompile(`(?is)<think>(.*?)</think>`),
		regexp.MustCompile(`(?is)<thinking>(.*?)</thinking>`),
		regexp.MustCompile(`(?is)<reasoning>(.*?)</reasoning>`),
		regexp.MustCompile(`(?is)<internal>(.*?)</internal>`),
		regexp.MustCompile(`(?is)<scratchpad>(.*?)</scratchpad>`),
	}

	unclosedThinkingRe = regexp.MustCompile(`(?is)(?:<\|channel\|>(?:analysis|plan|thought|thinking)|<think>|<thinking>).*$`)
)

// extractEmbeddedThinking pulls reasoning a model left inside the text body
// (think tags, analysis channels) out of the content. The commentary channel
// carries tool calls and is never touched.
func extractEmbeddedThinking(content string) (thinking, cleaned string) {
	var parts []string
	working := content

	for _, m := range analysisChannelRe.FindAllStringSubmatch(working, -1) {
		if t := strings.TrimSpace(m[1]); t != "" {
			parts = append(parts, t)
		}
	}
	working = analysisChannelRe.ReplaceAllString(working, "")
	working = planChannelRe.ReplaceAllString(working, "")

	for _, re := range thinkingTagRes {
		for _, m := range re.FindAllStringSubmatch(working, -1) {
			if t := strings.TrimSpace(m[1]); t != "" {
				parts = append(parts, t)
			}
		}
		working = re.ReplaceAllString(working, "")
	}
	working = unclosedThinkingRe.ReplaceAllString(working, "")

	working = strings.TrimSpace(working)
	if working == "" {
		working = content
	}
	return strings.Join(parts, "\n---\n"), working
}

// parseCallError decodes a non-2xx body into a CallError, tolerating both
// string and object error fields and plain-text bodies.
func parseCallError(status int, body []byte) *CallError {
	ce := &CallError{Status: status, Message: strings.TrimSpace(string(body))}

	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil {
		if len(eb.Error) > 0 {
			var msg string
			if err := json.Unmarshal(eb.Error, &msg); err != nil {
				var obj struct {
					Message string `json:"message"`
				}
				if json.Unmarshal(eb.Error, &obj) == nil {
					msg = obj.Message
				}
			}
			if msg != "" {
				ce.Message = msg
			}
		}
		ce.FallbackText = strings.TrimSpace(eb.Data)
	}

	ce.RetrySimple = strings.Contains(strings.ToLower(ce.Message), "not match")
	return ce
}
