// internal/nlg/store/elasticsearch.go
package store

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"

	"nlg-workers/internal/common/errors"
	"nlg-workers/internal/common/logger"
	"nlg-workers/internal/nlg"

	"github.com/elastic/go-elasticsearch/v8"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const maxVariantsPerTemplate = 100

// responseDocument is one variant as indexed in the responses index.
type responseDocument struct {
	ProjectID string      `json:"projectId"`
	Key       string      `json:"key"`
	Language  string      `json:"language"`
	Channel   string      `json:"channel"`
	Payload   string      `json:"payload"`
	Metadata  interface{} `json:"metadata"`
	Position  int         `json:"position"`
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			Source responseDocument `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// ElasticsearchStore reads response variants from a search index, one document per variant.
type ElasticsearchStore struct {
	client   *elasticsearch.Client
	index    string
	defaults DefaultLanguages
	logger   logger.Logger
}

func NewElasticsearchStore(client *elasticsearch.Client, index string, defaults DefaultLanguages, log logger.Logger) *ElasticsearchStore {
	return &ElasticsearchStore{
		client:   client,
		index:    index,
		defaults: defaults,
		logger:   log.WithFields(map[string]interface{}{"component": "elasticsearch-response-store", "index": index}),
	}
}

func (s *ElasticsearchStore) Lookup(ctx context.Context, q nlg.LookupQuery) ([]nlg.ResponseVariant, error) {
	return lookupWithDefault(ctx, q, s.defaults, s.logger, s.search)
}

func (s *ElasticsearchStore) search(ctx context.Context, projectID, template, language string) ([]nlg.ResponseVariant, error) {
	ctx, span := tracer.Start(ctx, "nlg.store.elasticsearch.lookup", trace.WithAttributes(
		attribute.String("nlg.project_id", projectID),
		attribute.String("nlg.template", template),
		attribute.String("nlg.language", language),
	))
	defer span.End()

	variants, err := s.doSearch(ctx, projectID, template, language)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("nlg.variants", len(variants)))
	return variants, nil
}

func (s *ElasticsearchStore) doSearch(ctx context.Context, projectID, template, language string) ([]nlg.ResponseVariant, error) {
	query := map[string]interface{}{
		"size": maxVariantsPerTemplate,
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"filter": []interface{}{
					map[string]interface{}{"term": map[string]interface{}{"projectId": projectID}},
					map[string]interface{}{"term": map[string]interface{}{"key": template}},
					map[string]interface{}{"term": map[string]interface{}{"language": language}},
				},
			},
		},
		"sort": []interface{}{
			map[string]interface{}{"position": map[string]interface{}{"order": "asc", "unmapped_type": "integer"}},
		},
	}

	var body bytes.Buffer
	if err := json.NewEncoder(&body).Encode(query); err != nil {
		return nil, errors.NewSearchQueryFailedError("bot_responses", err)
	}

	res, err := s.client.Search(
		s.client.Search.WithContext(ctx),
		s.client.Search.WithIndex(s.index),
		s.client.Search.WithBody(&body),
	)
	if err != nil {
		if stderrors.Is(err, context.DeadlineExceeded) {
			return nil, errors.NewQueryTimeoutError("bot_responses")
		}
		return nil, errors.NewElasticsearchConnectionFailedError(err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return nil, errors.NewIndexNotFoundError(s.index)
	}
	if res.IsError() {
		return nil, errors.NewSearchQueryFailedError("bot_responses", fmt.Errorf("search error: %s", res.Status()))
	}

	var parsed searchResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, errors.NewSearchQueryFailedError("bot_responses", fmt.Errorf("decode search response: %w", err))
	}

	variants := make([]nlg.ResponseVariant, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		variants = append(variants, nlg.ResponseVariant{
			Channel:  hit.Source.Channel,
			Payload:  hit.Source.Payload,
			Metadata: hit.Source.Metadata,
		})
	}
	return variants, nil
}
