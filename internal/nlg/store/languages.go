// internal/nlg/store/languages.go
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"time"

	"nlg-workers/internal/common/logger"

	"github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const languageCachePrefix = "nlg:project-languages:"

const projectLanguagesQuery = `SELECT languages, default_language FROM projects WHERE id = $1`

// projectLanguages is the cached shape of a project's language settings.
type projectLanguages struct {
	Languages       []string `json:"languages"`
	DefaultLanguage string   `json:"defaultLanguage"`
}

// ProjectLanguages reads the configured languages of a project from Postgres, caching them in
// Redis. Unknown projects have no languages and no default language.
type ProjectLanguages struct {
	db     *sql.DB
	redis  *redis.Client
	ttl    time.Duration
	logger logger.Logger
}

// NewProjectLanguages builds the registry. A nil redis client disables caching.
func NewProjectLanguages(db *sql.DB, redisClient *redis.Client, ttl time.Duration, log logger.Logger) *ProjectLanguages {
	return &ProjectLanguages{
		db:     db,
		redis:  redisClient,
		ttl:    ttl,
		logger: log.WithFields(map[string]interface{}{"component": "project-languages"}),
	}
}

func (p *ProjectLanguages) LanguagesOf(ctx context.Context, projectID string) ([]string, error) {
	settings, err := p.load(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return settings.Languages, nil
}

// DefaultLanguage returns "" when the project does not exist or has no default language.
func (p *ProjectLanguages) DefaultLanguage(ctx context.Context, projectID string) (string, error) {
	settings, err := p.load(ctx, projectID)
	if err != nil {
		return "", err
	}
	return settings.DefaultLanguage, nil
}

// Invalidate drops the cached settings of a project.
func (p *ProjectLanguages) Invalidate(ctx context.Context, projectID string) error {
	if p.redis == nil {
		return nil
	}
	return p.redis.Del(ctx, languageCachePrefix+projectID).Err()
}

func (p *ProjectLanguages) load(ctx context.Context, projectID string) (*projectLanguages, error) {
	if cached, ok := p.fromCache(ctx, projectID); ok {
		return cached, nil
	}

	ctx, span := tracer.Start(ctx, "nlg.store.project_languages", trace.WithAttributes(
		attribute.String("nlg.project_id", projectID),
	))
	defer span.End()

	var (
		languages       pq.StringArray
		defaultLanguage sql.NullString
	)
	err := p.db.QueryRowContext(ctx, projectLanguagesQuery, projectID).Scan(&languages, &defaultLanguage)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			p.logger.Debug("project not found, no languages configured", map[string]interface{}{
				"projectId": projectID,
			})
			return &projectLanguages{Languages: []string{}}, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, dbError("project_languages", err)
	}

	settings := &projectLanguages{
		Languages:       []string(languages),
		DefaultLanguage: defaultLanguage.String,
	}
	if settings.Languages == nil {
		settings.Languages = []string{}
	}

	p.toCache(ctx, projectID, settings)
	return settings, nil
}

func (p *ProjectLanguages) fromCache(ctx context.Context, projectID string) (*projectLanguages, bool) {
	if p.redis == nil {
		return nil, false
	}

	val, err := p.redis.Get(ctx, languageCachePrefix+projectID).Result()
	if err != nil {
		if !stderrors.Is(err, redis.Nil) {
			p.logger.Warn("language cache read failed", map[string]interface{}{
				"projectId": projectID,
				"error":     err.Error(),
			})
		}
		return nil, false
	}

	var settings projectLanguages
	if err := json.Unmarshal([]byte(val), &settings); err != nil {
		return nil, false
	}
	return &settings, true
}

func (p *ProjectLanguages) toCache(ctx context.Context, projectID string, settings *projectLanguages) {
	if p.redis == nil {
		return
	}

	data, _ := json.Marshal(settings)
	if err := p.redis.Set(ctx, languageCachePrefix+projectID, data, p.ttl).Err(); err != nil {
		p.logger.Warn("language cache write failed", map[string]interface{}{
			"projectId": projectID,
			"error":     err.Error(),
		})
	}
}
