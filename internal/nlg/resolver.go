// internal/nlg/resolver.go
package nlg

import (
	"context"
	"fmt"
	"time"

	"nlg-workers/internal/common/logger"
	"nlg-workers/internal/common/metrics"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("nlg-workers/internal/nlg")

const (
	outcomeResolved = "resolved"
	outcomeNoMatch  = "no_match"
	outcomeError    = "error"
)

// Resolver turns a template name into the payload of one of its stored variants.
// It holds no per-request state and is safe for concurrent use.
type Resolver struct {
	store     ResponseStore
	languages LanguageRegistry
	logger    logger.Logger
	intn      func(int) int
}

func NewResolver(store ResponseStore, languages LanguageRegistry, log logger.Logger) *Resolver {
	return &Resolver{
		store:     store,
		languages: languages,
		logger:    log.WithFields(map[string]interface{}{"component": "nlg-resolver"}),
	}
}

func (r *Resolver) Resolve(ctx context.Context, req Request) (*ResolvedPayload, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "nlg.resolve", trace.WithAttributes(
		attribute.String("nlg.template", req.Template),
		attribute.String("nlg.project_id", req.ProjectID),
		attribute.String("nlg.channel", req.Channel),
		attribute.String("nlg.call", req.Call.String()),
	))
	defer span.End()

	payload, outcome, err := r.resolve(ctx, req)

	metrics.NLGResolutionsTotal.WithLabelValues(outcome).Inc()
	metrics.NLGResolveDuration.WithLabelValues(req.Call.String()).Observe(time.Since(start).Seconds())

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("nlg.outcome", outcome))
	return payload, nil
}

// Respond resolves the request and projects the record into its typed payload.
func (r *Resolver) Respond(ctx context.Context, req Request) (TypedPayload, ProjectionReport, error) {
	resolved, err := r.Resolve(ctx, req)
	if err != nil {
		return TypedPayload{}, ProjectionReport{}, err
	}

	payload, report := Project(resolved)
	if report.DroppedButtons > 0 {
		r.logger.Warn("unresolvable buttons omitted from response", map[string]interface{}{
			"template":  req.Template,
			"projectId": req.ProjectID,
			"dropped":   report.DroppedButtons,
		})
	}
	return Typed(payload), report, nil
}

func (r *Resolver) resolve(ctx context.Context, req Request) (*ResolvedPayload, string, error) {
	if req.ProjectID == "" {
		return nil, outcomeError, ErrMissingProject
	}

	language, err := r.effectiveLanguage(ctx, req)
	if err != nil {
		return nil, outcomeError, err
	}

	// Runtime callers always name their channel; only callers without one get the
	// default-language fallback.
	variants, err := r.store.Lookup(ctx, LookupQuery{
		ProjectID:      req.ProjectID,
		Template:       req.Template,
		Language:       language,
		EmptyAsDefault: req.Channel == "",
	})
	if err != nil {
		return nil, outcomeError, err
	}

	source, ok := SelectVariants(variants, req.Channel)
	if !ok {
		r.logger.Debug("no response variant found, echoing template name", map[string]interface{}{
			"template":  req.Template,
			"projectId": req.ProjectID,
			"language":  language,
			"channel":   req.Channel,
		})
		return &ResolvedPayload{Fields: map[string]interface{}{"text": req.Template}}, outcomeNoMatch, nil
	}

	chosen, _ := PickVariant(source, req.Call, r.intn)

	fields, err := DecodePayload(chosen.Payload)
	if err != nil {
		return nil, outcomeError, fmt.Errorf("template %s: %w", req.Template, err)
	}

	switch text := fields["text"].(type) {
	case string:
		if text != "" {
			fields["text"] = Interpolate(text, req.Slots)
		}
	case int, int64, uint64, float64, bool:
		fields["text"] = fmt.Sprint(text)
	}

	r.logger.Debug("response variant resolved", map[string]interface{}{
		"template":   req.Template,
		"projectId":  req.ProjectID,
		"language":   language,
		"channel":    req.Channel,
		"call":       req.Call.String(),
		"candidates": len(source),
	})

	return &ResolvedPayload{Fields: fields, Metadata: chosen.Metadata}, outcomeResolved, nil
}

// effectiveLanguage keeps the requested language only when the project has it configured,
// otherwise falls back to the tracker's fallback_language slot.
func (r *Resolver) effectiveLanguage(ctx context.Context, req Request) (string, error) {
	if req.Language != "" {
		configured, err := r.languages.LanguagesOf(ctx, req.ProjectID)
		if err != nil {
			return "", err
		}
		for _, lang := range configured {
			if lang == req.Language {
				return req.Language, nil
			}
		}
	}

	if fallback, ok := req.Slots[FallbackLanguageSlot].(string); ok && fallback != "" {
		return fallback, nil
	}

	if req.Language != "" {
		return "", fmt.Errorf("%w: %q is not configured for project %s and no %s slot is set",
			ErrMissingLanguage, req.Language, req.ProjectID, FallbackLanguageSlot)
	}
	return "", fmt.Errorf("%w: no language given and no %s slot is set", ErrMissingLanguage, FallbackLanguageSlot)
}
