// Package promax invokes both model tiers in parallel on the same prompt,
// scores the two answers with quality heuristics and picks the winner.
// The score gap doubles as the selection confidence.
package promax

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/smartcathome/whisker/internal/config"
	"github.com/smartcathome/whisker/internal/router"
	"github.com/smartcathome/whisker/internal/sanitize"
	"github.com/smartcathome/whisker/internal/stats"
	"github.com/smartcathome/whisker/internal/stream"
	"github.com/smartcathome/whisker/pkg/models"
)

// Request is one dual-invocation comparison.
type Request struct {
	RequestID    string
	Prompt       string
	SystemPrompt string
	Language     models.Language
	MaxTokens    int
}

// Invoker is the gateway surface the runner needs: the blocking call for
// API-only requests and the streaming call for live SSE sessions.
type Invoker interface {
	router.Invoker
	InvokeStream(ctx context.Context, tier config.TierConfig, req models.ChatRequest, onToken func(token string)) (*models.ModelResult, error)
}

// Runner drives the dual invocation. It calls the gateway per tier
// directly instead of going through failover routing, since cross-tier
// fallback makes no sense when both tiers already run.
type Runner struct {
	gateway  Invoker
	standard config.TierConfig
	pro      config.TierConfig
	sink     *stats.Sink
}

func NewRunner(gw Invoker, standard, pro config.TierConfig, sink *stats.Sink) *Runner {
	return &Runner{gateway: gw, standard: standard, pro: pro, sink: sink}
}

// Run invokes both tiers concurrently. One tier failing still yields a
// result from the other; only both failing is an error. When conn is
// non-nil each tier's answer is streamed with tier-labelled tokens.
func (r *Runner) Run(ctx context.Context, req Request, conn *stream.Connection) (*models.ProMaxResult, error) {
	ctx, span := otel.Tracer("whisker/promax").Start(ctx, "promax.run")
	defer span.End()

	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	lang := req.Language
	if lang == "" {
		lang = models.DetectLanguage(req.Prompt)
	}
	if !r.standard.Configured() || !r.pro.Configured() {
		return nil, fmt.Errorf("pro-max requires both tiers configured")
	}
	span.SetAttributes(attribute.String("request_id", req.RequestID))

	if conn != nil {
		conn.SendPhase("generating_response", "", map[string]any{
			"mode":   "pro_max",
			"models": []models.Tier{models.TierStandard, models.TierPro},
		})
	}

	started := time.Now()
	candidates := make([]models.Candidate, 2)

	// The zero-value group never cancels, so a failed tier does not
	// abort its sibling.
	var g errgroup.Group
	for i, tier := range []models.Tier{models.TierStandard, models.TierPro} {
		i, tier := i, tier
		g.Go(func() error {
			candidates[i] = r.invokeTier(ctx, tier, req, lang, conn)
			return nil
		})
	}
	_ = g.Wait()

	var ok []int
	for i, c := range candidates {
		if c.Err == "" {
			ok = append(ok, i)
		}
	}
	if len(ok) == 0 {
		return nil, fmt.Errorf("both tiers failed: standard: %s; pro: %s",
			candidates[0].Err, candidates[1].Err)
	}

	maxTokens := req.MaxTokens
	for i := range candidates {
		if candidates[i].Err != "" {
			continue
		}
		candidates[i].Score = Score(candidates[i].Content, ScoreMeta{
			Tokens:         candidates[i].Tokens,
			ThinkingTokens: candidates[i].ThinkingTokens,
			MaxTokens:      maxTokens,
		})
	}

	selected, confidence := selectWinner(candidates)
	result := &models.ProMaxResult{
		Selected:   selected,
		Confidence: confidence,
		Candidates: candidates,
		RequestID:  req.RequestID,
		TotalMs:    time.Since(started).Milliseconds(),
	}

	if conn != nil {
		conn.SendMetadata(map[string]any{
			"pro_max_complete": true,
			"selected":         selected,
			"confidence":       confidence,
			"scores": map[models.Tier]int{
				models.TierStandard: candidates[0].Score,
				models.TierPro:      candidates[1].Score,
			},
		})
	}
	return result, nil
}

func (r *Runner) invokeTier(ctx context.Context, tier models.Tier, req Request, lang models.Language, conn *stream.Connection) models.Candidate {
	cfg := r.standard
	if tier == models.TierPro {
		cfg = r.pro
	}

	messages := []models.ChatMessage{}
	if req.SystemPrompt != "" {
		messages = append(messages, models.ChatMessage{Role: models.RoleSystem, Content: req.SystemPrompt})
	}
	messages = append(messages, models.ChatMessage{Role: models.RoleUser, Content: req.Prompt})

	chatReq := models.ChatRequest{
		RequestID:      req.RequestID,
		Tier:           tier,
		Messages:       messages,
		MaxTokens:      req.MaxTokens,
		EnableThinking: tier == models.TierPro,
	}

	started := time.Now()
	var result *models.ModelResult
	var err error
	if conn != nil {
		// Live sessions stream deltas as they arrive from the model.
		result, err = r.gateway.InvokeStream(ctx, cfg, chatReq, func(token string) {
			conn.SendToken(token, tier)
		})
	} else {
		result, err = r.gateway.Invoke(ctx, cfg, chatReq)
	}
	latency := time.Since(started).Milliseconds()

	if err != nil {
		log.Warn().Str("tier", string(tier)).Err(err).Msg("pro-max tier invocation failed")
		if conn != nil {
			conn.SendError(err.Error(), string(tier))
		}
		return models.Candidate{Tier: tier, Err: err.Error(), LatencyMs: latency}
	}

	content := sanitize.Clean(result.Content, lang)
	tokens := result.Usage.CompletionTokens
	if tokens == 0 {
		tokens = len(stream.Tokenize(content))
	}
	thinking := countWords(result.Reasoning)

	if r.sink != nil {
		r.sink.RecordInvocation(models.InvocationRecord{
			RequestID:    req.RequestID,
			Tier:         tier,
			Model:        result.Model,
			FinishReason: result.FinishReason,
			Degraded:     result.Degraded,
			LatencyMs:    latency,
			Usage:        result.Usage,
			At:           time.Now().UTC(),
		})
	}

	if conn != nil {
		conn.SendMetadata(map[string]any{
			"model":    tier,
			"complete": true,
			"tokens":   tokens,
			"duration": latency,
		})
	}

	return models.Candidate{
		Tier:           tier,
		Content:        content,
		Tokens:         tokens,
		ThinkingTokens: thinking,
		LatencyMs:      latency,
	}
}

// selectWinner prefers pro only when it strictly outscores standard. A
// failed tier always loses to a live one.
func selectWinner(candidates []models.Candidate) (models.Tier, int) {
	standard, pro := candidates[0], candidates[1]
	switch {
	case standard.Err != "":
		return models.TierPro, pro.Score
	case pro.Err != "":
		return models.TierStandard, standard.Score
	case pro.Score > standard.Score:
		return models.TierPro, pro.Score - standard.Score
	default:
		return models.TierStandard, standard.Score - pro.Score
	}
}

func countWords(text string) int {
	return len(strings.Fields(text))
}
