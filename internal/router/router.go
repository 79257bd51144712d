// Package router picks which model tier serves a request and falls back
// to the other tier when the preferred one fails. A fallback answer is
// still an answer; it just carries a degraded finish reason so callers
// and clients can tell.
package router

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/smartcathome/whisker/internal/config"
	"github.com/smartcathome/whisker/internal/stats"
	"github.com/smartcathome/whisker/pkg/models"
)

// Invoker is the gateway surface the router needs.
type Invoker interface {
	Invoke(ctx context.Context, tier config.TierConfig, req models.ChatRequest) (*models.ModelResult, error)
}

// Router resolves a requested tier to a configured one and handles
// cross-tier failover.
type Router struct {
	gateway  Invoker
	standard config.TierConfig
	pro      config.TierConfig
	sink     *stats.Sink
}

// New creates a router over the two configured tiers.
func New(gw Invoker, standard, pro config.TierConfig, sink *stats.Sink) *Router {
	return &Router{gateway: gw, standard: standard, pro: pro, sink: sink}
}

// TierConfig returns the configuration for a tier name.
func (r *Router) TierConfig(tier models.Tier) config.TierConfig {
	if tier == models.TierPro {
		return r.pro
	}
	return r.standard
}

// Configured reports whether the named tier has an endpoint.
func (r *Router) Configured(tier models.Tier) bool {
	return r.TierConfig(tier).Configured()
}

// Invoke sends the request to the preferred tier, falling back to the
// other configured tier on failure. The only hard error with at least
// one tier configured is both tiers failing.
func (r *Router) Invoke(ctx context.Context, req models.ChatRequest) (*models.ModelResult, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	ctx, span := otel.Tracer("whisker/router").Start(ctx, "model.invoke")
	defer span.End()

	order := r.tierOrder(req.Tier)
	if len(order) == 0 {
		return nil, fmt.Errorf("no chat model configured")
	}
	span.SetAttributes(attribute.String("tier.preferred", string(order[0])))

	var lastErr error
	for i, tier := range order {
		attempt := req
		attempt.Tier = tier

		result, err := r.gateway.Invoke(ctx, r.TierConfig(tier), attempt)
		if err != nil {
			lastErr = err
			log.Warn().Str("tier", string(tier)).Str("request_id", req.RequestID).
				Err(err).Msg("tier invocation failed")
			continue
		}

		if i > 0 {
			result.Degraded = true
			if result.FinishReason != models.FinishModelErrorFallback {
				result.FinishReason = models.FinishModelFallback
			}
			log.Info().Str("tier", string(tier)).Str("request_id", req.RequestID).
				Msg("served by fallback tier")
		}

		span.SetAttributes(
			attribute.String("tier.served", string(tier)),
			attribute.Bool("degraded", result.Degraded),
		)
		r.record(req.RequestID, result)
		return result, nil
	}

	return nil, fmt.Errorf("all model tiers failed: %w", lastErr)
}

// tierOrder lists configured tiers with the preferred one first.
// The preferred tier defaults to standard.
func (r *Router) tierOrder(preferred models.Tier) []models.Tier {
	if preferred == "" {
		preferred = models.TierStandard
	}
	other := models.TierStandard
	if preferred == models.TierStandard {
		other = models.TierPro
	}

	var order []models.Tier
	if r.Configured(preferred) {
		order = append(order, preferred)
	}
	if r.Configured(other) {
		order = append(order, other)
	}
	return order
}

func (r *Router) record(requestID string, result *models.ModelResult) {
	if r.sink == nil {
		return
	}
	r.sink.RecordInvocation(models.InvocationRecord{
		RequestID:    requestID,
		Tier:         result.Tier,
		Model:        result.Model,
		FinishReason: result.FinishReason,
		Degraded:     result.Degraded,
		LatencyMs:    result.LatencyMs,
		Usage:        result.Usage,
		At:           time.Now().UTC(),
	})
}
