// internal/nlg/store/backend.go
package store

import (
	"database/sql"
	"fmt"

	"nlg-workers/internal/common/config"
	"nlg-workers/internal/common/logger"
	"nlg-workers/internal/nlg"

	"github.com/elastic/go-elasticsearch/v8"
)

// New builds the response store named by cfg.StoreBackend.
func New(cfg config.NLGConfig, db *sql.DB, es *elasticsearch.Client, defaults DefaultLanguages, log logger.Logger) (nlg.ResponseStore, error) {
	switch cfg.StoreBackend {
	case "", config.StoreBackendPostgres:
		if db == nil {
			return nil, fmt.Errorf("postgres store requires a database connection")
		}
		return NewPostgresStore(db, defaults, log), nil
	case config.StoreBackendElasticsearch:
		if es == nil {
			return nil, fmt.Errorf("elasticsearch store requires a client")
		}
		return NewElasticsearchStore(es, cfg.ResponseIndex, defaults, log), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}
