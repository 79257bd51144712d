// Package ultra runs the multi-phase answer pipeline: a pro-tier draft,
// a standard-tier review, an optional rethink when the review flags
// problems, and a final gated output. Tool calls found in any pro pass
// run through a bounded loop with one automatic retry per tool.
package ultra

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/smartcathome/whisker/internal/config"
	"github.com/smartcathome/whisker/internal/policy"
	"github.com/smartcathome/whisker/internal/review"
	"github.com/smartcathome/whisker/internal/router"
	"github.com/smartcathome/whisker/internal/sanitize"
	"github.com/smartcathome/whisker/internal/stats"
	"github.com/smartcathome/whisker/internal/stream"
	"github.com/smartcathome/whisker/internal/toolcall"
	"github.com/smartcathome/whisker/internal/tools"
	"github.com/smartcathome/whisker/pkg/models"
)

// Request is one ultra run.
type Request struct {
	RequestID      string
	Prompt         string
	Language       models.Language
	EnableSearch   bool
	ContextSummary string
}

// Orchestrator wires the router, tool executor and stats sink into the
// phase pipeline.
type Orchestrator struct {
	router            *router.Router
	executor          tools.Executor
	sink              *stats.Sink
	maxToolIterations int
	toolRetryLimit    int
	reviewMaxTokens   int
	tokenDelay        time.Duration
}

// New creates an orchestrator. A nil executor disables tool calling.
func New(r *router.Router, executor tools.Executor, sink *stats.Sink, cfg config.OrchestraConfig, tokenDelay time.Duration) *Orchestrator {
	maxIter := cfg.MaxToolIterations
	if maxIter < 1 {
		maxIter = 1
	}
	return &Orchestrator{
		router:            r,
		executor:          executor,
		sink:              sink,
		maxToolIterations: maxIter,
		toolRetryLimit:    cfg.ToolRetryLimit,
		reviewMaxTokens:   cfg.ReviewMaxTokens,
		tokenDelay:        tokenDelay,
	}
}

// Run executes the pipeline without streaming.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*models.UltraResult, error) {
	return o.run(ctx, req, nil)
}

// RunStreaming executes the pipeline, pushing phase, token and tool
// events to the connection as they happen. The final answer is streamed
// token by token before the result returns.
func (o *Orchestrator) RunStreaming(ctx context.Context, req Request, conn *stream.Connection) (*models.UltraResult, error) {
	return o.run(ctx, req, conn)
}

func (o *Orchestrator) run(ctx context.Context, req Request, conn *stream.Connection) (*models.UltraResult, error) {
	ctx, span := otel.Tracer("whisker/ultra").Start(ctx, "ultra.run")
	defer span.End()

	started := time.Now()
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	lang := req.Language
	if lang == "" {
		lang = models.DetectLanguage(req.Prompt)
	}
	report := NeedsComprehensiveReport(req.Prompt)
	span.SetAttributes(
		attribute.String("request_id", req.RequestID),
		attribute.Bool("report", report),
	)

	tracker := &phaseTracker{conn: conn}
	var toolDefs []models.ToolDefinition
	if o.executor != nil {
		toolDefs = tools.Definitions(req.EnableSearch)
	}

	// Phase 1: pro draft
	tracker.add(models.PhaseProThinking, localized(lang, "Collecting insights…", "正在整理感測與記憶..."))
	draftMessages := []models.ChatMessage{
		{Role: models.RoleSystem, Content: buildSystemPrompt(lang)},
		{Role: models.RoleUser, Content: buildFirstUserPrompt(req.Prompt, req.ContextSummary, lang)},
	}
	draft, err := o.runModelPass(ctx, req, draftMessages, toolDefs, lang, conn)
	if err != nil {
		return nil, err
	}
	tracker.add(models.PhaseProOutput, localizedf(lang,
		"First draft ready (%d tokens).", "已產生初稿(%d tokens)", draft.OutputTokens))

	// Phase 2: standard review. A failed review never fails the run.
	var rev models.ReviewResult
	reviewed := false
	tracker.add(models.PhaseStandardReview, localized(lang, "Reviewing draft…", "Standard 審查中..."))
	reviewResult, reviewErr := o.router.Invoke(ctx, models.ChatRequest{
		RequestID: req.RequestID,
		Tier:      models.TierStandard,
		MaxTokens: o.reviewMaxTokens,
		Messages: []models.ChatMessage{
			{Role: models.RoleSystem, Content: buildReviewSystemPrompt(lang)},
			{Role: models.RoleUser, Content: buildReviewPrompt(draft.Text, lang)},
		},
	})
	if reviewErr != nil {
		log.Warn().Str("request_id", req.RequestID).Err(reviewErr).Msg("review phase failed, skipping")
		rev = models.ReviewResult{Approved: true}
	} else {
		rev = review.Parse(reviewResult.Content, lang)
		reviewed = true
		detail := localized(lang, "Review passed with no concerns.", "審查通過,未提出疑慮。")
		if len(rev.Concerns) > 0 {
			detail = localizedf(lang, "Review flagged %d issue(s).", "審查提出 %d 項需改進。", len(rev.Concerns))
		}
		tracker.updateLast(detail)
	}

	// Phase 3: rethink only when the review asks for it
	final := draft
	rethought := false
	if reviewed && (!rev.Approved || len(rev.Concerns) > 0) {
		tracker.add(models.PhaseProRethink, localized(lang, "Refining response with feedback…", "整合審查回饋中..."))
		rethinkMessages := []models.ChatMessage{
			{Role: models.RoleSystem, Content: buildSystemPrompt(lang)},
			{Role: models.RoleUser, Content: buildRethinkPrompt(req.Prompt, draft.Text, rev, lang)},
		}
		if revised, err := o.runModelPass(ctx, req, rethinkMessages, toolDefs, lang, conn); err != nil {
			log.Warn().Str("request_id", req.RequestID).Err(err).Msg("rethink phase failed, keeping first draft")
		} else {
			final = revised
			rethought = true
		}
	}

	// Phase 4: final gated output
	finalDetail := localized(lang, "Final answer ready (review passed).", "審查無需調整,維持初稿。")
	if rethought {
		finalDetail = localized(lang, "Final answer updated with review feedback.", "已依審查建議完成修訂。")
	}
	tracker.add(models.PhaseProFinalOutput, finalDetail)

	content := sanitize.ApplyPersonaSignature(final.Text, lang)
	if decision := policy.CheckAnswer(content, lang); decision != nil {
		content = sanitize.ApplyPersonaSignature(decision.Message, lang)
		tracker.updateLast(localized(lang,
			"Safety filter replaced the reply to keep the chat focused on cats.",
			"安全防護已替換回覆,僅聚焦在貓咪相關內容。"))
	}

	if conn != nil {
		conn.SendPhase(models.PhaseStreamingText, localized(lang, "Streaming final answer…", "串流最終回覆中..."), nil)
		stream.StreamText(ctx, conn, content, o.tokenDelay)
	}

	phases := tracker.finish()
	return &models.UltraResult{
		Content:     content,
		Phases:      phases,
		Review:      rev,
		Rethought:   rethought,
		ToolsUsed:   final.ToolsUsed,
		Report:      report,
		Degraded:    draft.Degraded || final.Degraded,
		TotalMs:     time.Since(started).Milliseconds(),
		Usage:       sumUsage(draft.Usage, final.Usage, rethought),
		RequestID:   req.RequestID,
		CompletedAt: time.Now().UTC(),
	}, nil
}

// ── Model Pass With Tool Loop ────────────────────────────────

type passResult struct {
	Text           string
	Thinking       string
	OutputTokens   int
	ThinkingTokens int
	Usage          models.TokenUsage
	Degraded       bool
	ToolsUsed      []string
}

func (o *Orchestrator) runModelPass(ctx context.Context, req Request, messages []models.ChatMessage, toolDefs []models.ToolDefinition, lang models.Language, conn *stream.Connection) (passResult, error) {
	conversation := append([]models.ChatMessage(nil), messages...)
	toolsEnabled := o.executor != nil && len(toolDefs) > 0

	var pass passResult
	var override string
	var lastContent, lastThinking string
	iterations := 0

	for {
		chatReq := models.ChatRequest{
			RequestID:      req.RequestID,
			Tier:           models.TierPro,
			Messages:       conversation,
			EnableThinking: true,
		}
		if toolsEnabled {
			chatReq.Tools = toolDefs
		}

		result, err := o.router.Invoke(ctx, chatReq)
		if err != nil {
			return passResult{}, err
		}
		pass.Usage = sumUsage(pass.Usage, result.Usage, true)
		pass.Degraded = pass.Degraded || result.Degraded
		lastThinking = result.Reasoning

		call, cleaned := toolcall.Extract(result.Content, result.ToolCalls)
		lastContent = cleaned
		if !toolsEnabled || call == nil {
			break
		}

		call.Arguments = toolcall.Validate(call.Name, call.Arguments)
		if conn != nil {
			conn.SendPhase(models.PhaseExecutingTool,
				localizedf(lang, "Executing tool %s…", "正在執行工具 %s…", call.Name), nil)
		}

		exec := o.executeWithRetry(ctx, *call)
		if o.sink != nil {
			o.sink.RecordToolUse(call.Name, exec.Success)
		}
		if conn != nil {
			conn.SendTool(call.Name, call.Arguments, exec)
		}
		pass.ToolsUsed = append(pass.ToolsUsed, call.Name)

		callJSON, _ := json.Marshal(map[string]any{"tool": call.Name, "args": call.Arguments})
		conversation = append(conversation,
			models.ChatMessage{Role: models.RoleAssistant, Content: string(callJSON)},
			models.ChatMessage{Role: models.RoleSystem, Content: buildToolResultPrompt(exec, lang)},
		)

		if !exec.Success {
			override = buildToolFailureApology(call.Name, exec.Message, lang)
			break
		}
		if exec.DirectResponse != "" {
			override = exec.DirectResponse
			break
		}

		iterations++
		if iterations >= o.maxToolIterations {
			// One last pass without tools forces a textual wrap-up.
			conversation = append(conversation, models.ChatMessage{
				Role: models.RoleSystem, Content: buildToolCeilingNotice(lang),
			})
			toolsEnabled = false
		}
	}

	text := lastContent
	if override != "" {
		text = override
	}
	pass.Text = sanitize.Clean(text, lang)
	pass.Thinking = lastThinking
	pass.OutputTokens = estimateTokens(pass.Text)
	pass.ThinkingTokens = estimateTokens(lastThinking)
	return pass, nil
}

// executeWithRetry runs one tool call with the automatic retry budget.
// Executor errors count as failures rather than aborting the run.
func (o *Orchestrator) executeWithRetry(ctx context.Context, call models.ToolCall) tools.Execution {
	exec := o.executeOnce(ctx, call)
	retries := 0
	for !exec.Success && retries < o.toolRetryLimit {
		retries++
		log.Warn().Str("tool", call.Name).Int("attempt", retries).
			Str("message", exec.Message).Msg("tool failed, retrying")
		exec = o.executeOnce(ctx, call)
	}
	if retries > 0 {
		if exec.Success {
			exec.Message = "[auto retry x" + strconv.Itoa(retries) + " success] " + exec.Message
		} else {
			exec.Message = "[auto retry exhausted x" + strconv.Itoa(retries) + "] " + exec.Message
		}
	}
	return exec
}

func (o *Orchestrator) executeOnce(ctx context.Context, call models.ToolCall) tools.Execution {
	exec, err := o.executor.Execute(ctx, call)
	if err != nil {
		return tools.Execution{Tool: call.Name, Success: false, Message: err.Error()}
	}
	if exec.Tool == "" {
		exec.Tool = call.Name
	}
	return exec
}

// ── Phase Tracking ───────────────────────────────────────────

type phaseTracker struct {
	phases []models.UltraPhase
	conn   *stream.Connection
}

// add closes the previous phase and opens the next one.
func (t *phaseTracker) add(name, detail string) {
	now := time.Now().UTC()
	t.closeLast(now)
	entry := models.UltraPhase{
		Index:     len(t.phases) + 1,
		Name:      name,
		Detail:    detail,
		StartedAt: now,
	}
	t.phases = append(t.phases, entry)
	if t.conn != nil {
		t.conn.SendPhase(name, detail, map[string]any{"index": entry.Index})
	}
}

// updateLast rewrites the detail of the current phase.
func (t *phaseTracker) updateLast(detail string) {
	if len(t.phases) == 0 {
		return
	}
	t.phases[len(t.phases)-1].Detail = detail
	if t.conn != nil {
		t.conn.SendPhase(t.phases[len(t.phases)-1].Name, detail, nil)
	}
}

func (t *phaseTracker) closeLast(now time.Time) {
	if len(t.phases) == 0 {
		return
	}
	last := &t.phases[len(t.phases)-1]
	if last.DurationMs == 0 {
		last.DurationMs = now.Sub(last.StartedAt).Milliseconds()
	}
}

// finish closes the open phase and returns the list.
func (t *phaseTracker) finish() []models.UltraPhase {
	t.closeLast(time.Now().UTC())
	return t.phases
}

// ── Helpers ──────────────────────────────────────────────────

// estimateTokens approximates token counts from whitespace-separated
// words; the local tiers do not report usage for streamed passes.
func estimateTokens(text string) int {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0
	}
	words := len(strings.Fields(trimmed))
	return int(math.Max(1, math.Round(float64(words)*1.1)))
}

func sumUsage(a, b models.TokenUsage, include bool) models.TokenUsage {
	if !include {
		return a
	}
	return models.TokenUsage{
		PromptTokens:     a.PromptTokens + b.PromptTokens,
		CompletionTokens: a.CompletionTokens + b.CompletionTokens,
		TotalTokens:      a.TotalTokens + b.TotalTokens,
	}
}

func localized(lang models.Language, en, zh string) string {
	if lang == models.LangEN {
		return en
	}
	return zh
}

func localizedf(lang models.Language, en, zh string, args ...any) string {
	return fmt.Sprintf(localized(lang, en, zh), args...)
}
