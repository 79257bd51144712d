package models

import (
	"time"
)

// ── Language ─────────────────────────────────────────────────

// Language selects which localized strings the pipeline uses. The service
// is bilingual; Chinese is the default when detection finds CJK text.
type Language string

const (
	LangZH Language = "zh"
	LangEN Language = "en"
)

// DetectLanguage returns LangZH when the text contains CJK characters.
func DetectLanguage(text string) Language {
	for _, r := range text {
		if r >= 0x4e00 && r <= 0x9fff {
			return LangZH
		}
	}
	return LangEN
}

// ── Chat Messages ────────────────────────────────────────────

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ChatMessage is one turn of a conversation sent to a model tier.
type ChatMessage struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// ── Tool Calls ───────────────────────────────────────────────

// ToolCall is a tool invocation requested by the model, either via the
// structured tool_calls field or recovered from the response text.
type ToolCall struct {
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolResult is the outcome of executing one tool call.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id,omitempty"`
	Name       string `json:"name"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// ToolDefinition describes one tool advertised to the model in the
// chat-completions "tools" array.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ── Model Invocation ─────────────────────────────────────────

// Tier names the two configured model tiers.
type Tier string

const (
	TierStandard Tier = "standard"
	TierPro      Tier = "pro"
)

// Finish reasons beyond the provider-native ones. These tag degraded
// results so callers can surface them without treating them as errors.
const (
	FinishModelFallback      = "model_fallback"
	FinishModelErrorFallback = "model_error_fallback"
)

// ChatRequest is what callers hand to the invocation router.
type ChatRequest struct {
	RequestID      string           `json:"request_id,omitempty"`
	Messages       []ChatMessage    `json:"messages"`
	Tools          []ToolDefinition `json:"tools,omitempty"`
	Tier           Tier             `json:"tier,omitempty"`
	MaxTokens      int              `json:"max_tokens,omitempty"`
	EnableThinking bool             `json:"enable_thinking,omitempty"`
}

// TokenUsage mirrors the usage block of a chat-completions response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ModelResult is the normalized outcome of one model invocation.
type ModelResult struct {
	Content      string     `json:"content"`
	Reasoning    string     `json:"reasoning,omitempty"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	FinishReason string     `json:"finish_reason,omitempty"`
	Tier         Tier       `json:"tier"`
	Model        string     `json:"model,omitempty"`
	Usage        TokenUsage `json:"usage"`
	LatencyMs    int64      `json:"latency_ms"`
	Degraded     bool       `json:"degraded,omitempty"`
}

// ── Review ───────────────────────────────────────────────────

// ReviewResult is the verdict of the standard-tier review phase. Parsing
// is lenient and always produces a result; Approved defaults to true.
type ReviewResult struct {
	Approved  bool     `json:"approved"`
	Feedback  string   `json:"feedback,omitempty"`
	Concerns  []string `json:"concerns,omitempty"`
	Strengths []string `json:"strengths,omitempty"`
	Raw       string   `json:"-"`
}

// ── Ultra Orchestration ──────────────────────────────────────

// Phase names for the multi-phase ultra pipeline.
const (
	PhaseProThinking    = "pro_thinking"
	PhaseProOutput      = "pro_output"
	PhaseStandardReview = "standard_review"
	PhaseProRethink     = "pro_rethink"
	PhaseProFinalOutput = "pro_final_output"
	PhaseExecutingTool  = "executing_tool"
	PhaseStreamingText  = "streaming_text"
)

// UltraPhase records one pipeline stage. DurationMs is filled in when the
// next phase begins, so the last phase closes when the run completes.
type UltraPhase struct {
	Index      int       `json:"index"`
	Name       string    `json:"name"`
	Detail     string    `json:"detail,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	DurationMs int64     `json:"duration_ms"`
}

// UltraResult is the final outcome of an ultra run.
type UltraResult struct {
	Content     string       `json:"content"`
	Phases      []UltraPhase `json:"phases"`
	Review      ReviewResult `json:"review"`
	Rethought   bool         `json:"rethought"`
	ToolsUsed   []string     `json:"tools_used,omitempty"`
	Report      bool         `json:"report"`
	Degraded    bool         `json:"degraded,omitempty"`
	TotalMs     int64        `json:"total_ms"`
	Usage       TokenUsage   `json:"usage"`
	RequestID   string       `json:"request_id,omitempty"`
	CompletedAt time.Time    `json:"completed_at"`
}

// ── Pro-Max Dual Invocation ──────────────────────────────────

// Candidate is one tier's answer in a pro-max comparison run.
type Candidate struct {
	Tier           Tier   `json:"tier"`
	Content        string `json:"content"`
	Score          int    `json:"score"`
	Tokens         int    `json:"tokens"`
	ThinkingTokens int    `json:"thinking_tokens"`
	LatencyMs      int64  `json:"latency_ms"`
	Err            string `json:"error,omitempty"`
}

// ProMaxResult compares both tiers' answers. Confidence is the absolute
// score gap between the two candidates.
type ProMaxResult struct {
	Selected   Tier        `json:"selected"`
	Confidence int         `json:"confidence"`
	Candidates []Candidate `json:"candidates"`
	RequestID  string      `json:"request_id,omitempty"`
	TotalMs    int64       `json:"total_ms"`
}

// ── Streaming ────────────────────────────────────────────────

// StreamEventType enumerates server-sent event kinds.
type StreamEventType string

const (
	EventPhase    StreamEventType = "phase"
	EventToken    StreamEventType = "token"
	EventTool     StreamEventType = "tool"
	EventMetadata StreamEventType = "metadata"
	EventError    StreamEventType = "error"
	EventDone     StreamEventType = "done"
)

// StreamEvent is one SSE payload pushed to a connected client.
type StreamEvent struct {
	Type      StreamEventType `json:"type"`
	Data      any             `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// ── Observability ────────────────────────────────────────────

// InvocationRecord is one snapshot stored in the stats sink after a model
// invocation completes.
type InvocationRecord struct {
	RequestID    string    `json:"request_id,omitempty"`
	Tier         Tier      `json:"tier"`
	Model        string    `json:"model,omitempty"`
	FinishReason string    `json:"finish_reason,omitempty"`
	Degraded     bool      `json:"degraded"`
	LatencyMs    int64     `json:"latency_ms"`
	Usage        TokenUsage `json:"usage"`
	At           time.Time `json:"at"`
}
