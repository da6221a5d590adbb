// internal/server/handlers.go
package server

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"nlg-workers/internal/common/errors"
	"nlg-workers/internal/common/logger"
	"nlg-workers/internal/common/metrics"
	"nlg-workers/internal/common/observability"
	"nlg-workers/internal/common/validation"
	"nlg-workers/internal/nlg"

	"go.opentelemetry.io/otel/attribute"
)

const (
	readyCheckTimeout     = 2 * time.Second
	defaultResolveTimeout = 5 * time.Second
	transport             = "http"
)

var querySchema = validation.MustCompile(nlg.QuerySchema)

type handlers struct {
	responder      Responder
	checks         map[string]Check
	logger         logger.Logger
	obs            *observability.Observability
	resolveTimeout time.Duration
}

type errorBody struct {
	Error     errorDetail `json:"error"`
	RequestID string      `json:"requestId,omitempty"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// resolve handles POST /nlg. The body is the NLG webhook query; the answer is the typed payload.
func (h *handlers) resolve(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.obs.StartSpan(r.Context(), "http.nlg")
	defer span.End()

	query, err := decodeQuery(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	span.SetAttributes(
		attribute.String("nlg.template", query.Template),
		attribute.String("nlg.project_id", query.Arguments.ProjectID),
	)

	resolveCtx, cancel := context.WithTimeout(ctx, h.resolveTimeout)
	defer cancel()

	typed, report, err := h.responder.Respond(resolveCtx, query.Request())
	if err != nil {
		span.RecordError(err)
		h.writeError(w, r, nlg.StandardError(err))
		return
	}
	if report.DroppedButtons > 0 {
		metrics.NLGUnresolvableButtons.WithLabelValues(transport).Add(float64(report.DroppedButtons))
	}

	writeJSON(w, http.StatusOK, typed)
}

func decodeQuery(body io.Reader) (*nlg.Query, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, errors.NewInvalidInputError(fmt.Sprintf("read body: %v", err))
	}

	var document interface{}
	if err := json.Unmarshal(raw, &document); err != nil {
		return nil, errors.NewParseError(err)
	}

	result := querySchema.Validate(document)
	if !result.Valid {
		return nil, errors.NewInvalidInputError(fmt.Sprintf("Validation errors: %v", result.GetErrorMessages()))
	}

	var query nlg.Query
	if err := json.Unmarshal(raw, &query); err != nil {
		return nil, errors.NewParseError(err)
	}
	return &query, nil
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// ready pings every dependency; one failure makes the service unready.
func (h *handlers) ready(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := http.StatusOK
	results := make(map[string]string, len(names))
	for _, name := range names {
		ctx, cancel := context.WithTimeout(r.Context(), readyCheckTimeout)
		err := h.checks[name](ctx)
		cancel()

		if err != nil {
			status = http.StatusServiceUnavailable
			results[name] = err.Error()
			h.logger.Warn("readiness check failed", map[string]interface{}{
				"check": name,
				"error": err.Error(),
			})
			continue
		}
		results[name] = "ok"
	}

	state := "ready"
	if status != http.StatusOK {
		state = "unready"
	}
	writeJSON(w, status, map[string]interface{}{
		"status": state,
		"checks": results,
		"time":   time.Now().Format(time.RFC3339),
	})
}

func (h *handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var stdErr *errors.StandardError
	if !stderrors.As(err, &stdErr) {
		stdErr = nlg.StandardError(err)
	}

	status := statusFor(stdErr.Code)
	fields := map[string]interface{}{
		"requestId": RequestIDFromContext(r.Context()),
		"errorCode": string(stdErr.Code),
		"status":    status,
		"details":   stdErr.Details,
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("nlg request failed", fields)
	} else {
		h.logger.Info("nlg request rejected", fields)
	}

	writeJSON(w, status, errorBody{
		Error: errorDetail{
			Code:    string(stdErr.Code),
			Message: stdErr.Message,
			Details: stdErr.Details,
		},
		RequestID: RequestIDFromContext(r.Context()),
	})
}

func statusFor(code errors.ErrorCode) int {
	switch code {
	case errors.ErrCodeInvalidInput,
		errors.ErrCodeParseError,
		errors.ErrCodeProjectIDMissing,
		errors.ErrCodeLanguageMissing:
		return http.StatusBadRequest
	case errors.ErrCodePayloadDecodeFailed:
		return http.StatusUnprocessableEntity
	case errors.ErrCodeQueryTimeout, errors.ErrCodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
