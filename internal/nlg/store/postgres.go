// internal/nlg/store/postgres.go
package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	stderrors "errors"
	"net"

	"nlg-workers/internal/common/errors"
	"nlg-workers/internal/common/logger"
	"nlg-workers/internal/nlg"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("nlg-workers/internal/nlg/store")

// DefaultLanguages resolves the language a project falls back to.
type DefaultLanguages interface {
	DefaultLanguage(ctx context.Context, projectID string) (string, error)
}

// Variants are returned in authoring order.
const responseVariantsQuery = `
	SELECT channel, payload, metadata
	FROM bot_responses
	WHERE project_id = $1 AND key = $2 AND language = $3
	ORDER BY position ASC`

// PostgresStore reads response variants from the bot_responses table.
type PostgresStore struct {
	db       *sql.DB
	defaults DefaultLanguages
	logger   logger.Logger
}

func NewPostgresStore(db *sql.DB, defaults DefaultLanguages, log logger.Logger) *PostgresStore {
	return &PostgresStore{
		db:       db,
		defaults: defaults,
		logger:   log.WithFields(map[string]interface{}{"component": "postgres-response-store"}),
	}
}

func (s *PostgresStore) Lookup(ctx context.Context, q nlg.LookupQuery) ([]nlg.ResponseVariant, error) {
	return lookupWithDefault(ctx, q, s.defaults, s.logger, s.query)
}

func (s *PostgresStore) query(ctx context.Context, projectID, template, language string) ([]nlg.ResponseVariant, error) {
	ctx, span := tracer.Start(ctx, "nlg.store.postgres.lookup", trace.WithAttributes(
		attribute.String("nlg.project_id", projectID),
		attribute.String("nlg.template", template),
		attribute.String("nlg.language", language),
	))
	defer span.End()

	rows, err := s.db.QueryContext(ctx, responseVariantsQuery, projectID, template, language)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, queryError(err)
	}
	defer rows.Close()

	variants := []nlg.ResponseVariant{}
	for rows.Next() {
		var (
			channel  sql.NullString
			payload  string
			metadata []byte
		)
		if err := rows.Scan(&channel, &payload, &metadata); err != nil {
			return nil, errors.NewQueryExecutionFailedError("bot_responses", err)
		}

		variant := nlg.ResponseVariant{Channel: channel.String, Payload: payload}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &variant.Metadata); err != nil {
				s.logger.Warn("ignoring malformed response metadata", map[string]interface{}{
					"projectId": projectID,
					"template":  template,
					"error":     err.Error(),
				})
				variant.Metadata = nil
			}
		}
		variants = append(variants, variant)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, queryError(err)
	}

	span.SetAttributes(attribute.Int("nlg.variants", len(variants)))
	return variants, nil
}

func queryError(err error) error {
	return dbError("bot_responses", err)
}

// dbError classifies a database/sql failure against table.
func dbError(table string, err error) error {
	var netErr net.Error
	switch {
	case stderrors.Is(err, context.DeadlineExceeded):
		return errors.NewQueryTimeoutError(table)
	case stderrors.Is(err, driver.ErrBadConn), stderrors.Is(err, sql.ErrConnDone), stderrors.As(err, &netErr):
		return errors.NewDatabaseConnectionFailedError(err)
	default:
		return errors.NewQueryExecutionFailedError(table, err)
	}
}

type variantQuery func(ctx context.Context, projectID, template, language string) ([]nlg.ResponseVariant, error)

// lookupWithDefault runs the query for the requested language and, when EmptyAsDefault is set
// and nothing matched, once more for the project's default language.
func lookupWithDefault(ctx context.Context, q nlg.LookupQuery, defaults DefaultLanguages, log logger.Logger, run variantQuery) ([]nlg.ResponseVariant, error) {
	variants, err := run(ctx, q.ProjectID, q.Template, q.Language)
	if err != nil {
		return nil, err
	}
	if len(variants) > 0 || !q.EmptyAsDefault || defaults == nil {
		return variants, nil
	}

	fallback, err := defaults.DefaultLanguage(ctx, q.ProjectID)
	if err != nil {
		return nil, err
	}
	if fallback == "" || fallback == q.Language {
		return variants, nil
	}

	log.Debug("no variants for language, retrying with project default", map[string]interface{}{
		"projectId":       q.ProjectID,
		"template":        q.Template,
		"language":        q.Language,
		"defaultLanguage": fallback,
	})
	return run(ctx, q.ProjectID, q.Template, fallback)
}
