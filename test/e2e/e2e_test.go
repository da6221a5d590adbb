// test/e2e/e2e_test.go
package e2e

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nlg-workers/internal/common/camunda"
	"nlg-workers/internal/common/config"
	"nlg-workers/internal/common/database"
	"nlg-workers/internal/common/logger"
	"nlg-workers/internal/nlg"
	"nlg-workers/internal/nlg/store"
	"nlg-workers/internal/server"
	resolvetemplate "nlg-workers/internal/workers/nlg/resolve-template"
)

const (
	e2eProject   = "bf-e2e"
	e2eProcessID = "nlg-resolve-e2e"
)

// The process is a single resolve-template service task between a start and an end event.
const resolveProcessBPMN = `<?xml version="1.0" encoding="UTF-8"?>
<bpmn:definitions xmlns:bpmn="http://www.omg.org/spec/BPMN/20100524/MODEL"
  xmlns:zeebe="http://camunda.org/schema/zeebe/1.0"
  id="Definitions_nlg_e2e" targetNamespace="http://bpmn.io/schema/bpmn">
  <bpmn:process id="nlg-resolve-e2e" isExecutable="true">
    <bpmn:startEvent id="Start" />
    <bpmn:sequenceFlow id="Flow_1" sourceRef="Start" targetRef="Activity_ResolveTemplate" />
    <bpmn:serviceTask id="Activity_ResolveTemplate">
      <bpmn:extensionElements>
        <zeebe:taskDefinition type="nlg.resolve-template" />
      </bpmn:extensionElements>
    </bpmn:serviceTask>
    <bpmn:sequenceFlow id="Flow_2" sourceRef="Activity_ResolveTemplate" targetRef="End" />
    <bpmn:endEvent id="End" />
  </bpmn:process>
</bpmn:definitions>`

type fixture struct {
	cfg       *config.Config
	pg        *database.PostgresClient
	redis     *database.RedisClient
	languages *store.ProjectLanguages
	resolver  *nlg.Resolver
}

// setup needs Postgres and Redis from docker-compose; set NLG_E2E=1 to run.
func setup(t *testing.T) *fixture {
	t.Helper()
	if os.Getenv("NLG_E2E") == "" {
		t.Skip("set NLG_E2E=1 to run against live services")
	}

	cfg, err := config.Load()
	require.NoError(t, err)

	cfg.Database.Postgres.Host = "localhost"
	cfg.Database.Redis.Address = "localhost:6379"
	cfg.NLG.StoreBackend = config.StoreBackendPostgres

	ctx := context.Background()

	pg, err := database.NewPostgres(cfg.Database.Postgres)
	require.NoError(t, err)
	require.NoError(t, pg.Ping(ctx), "PostgreSQL ping failed")
	t.Cleanup(func() { pg.Close() })

	rdb := database.NewRedis(cfg.Database.Redis)
	require.NoError(t, rdb.Ping(ctx), "Redis ping failed")
	t.Cleanup(func() { rdb.Close() })

	seedResponses(t, pg.DB)

	log := logger.NewTestLogger(t)
	languages := store.NewProjectLanguages(pg.DB, rdb.Client, time.Minute, log)
	require.NoError(t, languages.Invalidate(ctx, e2eProject))

	responses, err := store.New(cfg.NLG, pg.DB, nil, languages, log)
	require.NoError(t, err)

	return &fixture{
		cfg:       cfg,
		pg:        pg,
		redis:     rdb,
		languages: languages,
		resolver:  nlg.NewResolver(responses, languages, log),
	}
}

func seedResponses(t *testing.T, db *sql.DB) {
	t.Helper()

	statements := []string{
		`CREATE TABLE IF NOT EXISTS projects (
			id TEXT PRIMARY KEY,
			languages TEXT[] NOT NULL DEFAULT '{}',
			default_language TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS bot_responses (
			id SERIAL PRIMARY KEY,
			project_id TEXT NOT NULL,
			key TEXT NOT NULL,
			language TEXT NOT NULL,
			channel TEXT,
			payload TEXT NOT NULL,
			metadata JSONB,
			position INT NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS bot_responses_lookup ON bot_responses (project_id, key, language)`,
	}
	for _, stmt := range statements {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}

	_, err := db.Exec(`DELETE FROM bot_responses WHERE project_id = $1`, e2eProject)
	require.NoError(t, err)
	_, err = db.Exec(`
		INSERT INTO projects (id, languages, default_language) VALUES ($1, $2, 'en')
		ON CONFLICT (id) DO UPDATE SET languages = EXCLUDED.languages, default_language = EXCLUDED.default_language`,
		e2eProject, pq.Array([]string{"en", "fr"}))
	require.NoError(t, err)

	rows := []struct {
		key, language, channel, payload, metadata string
		position                                  int
	}{
		{"utter_greet", "en", "", "key: utter_greet\ntext: Hello {name}!", `{"linkTarget": "_blank"}`, 0},
		{"utter_greet", "en", "webchat", "text: Hi {name}, welcome to the web", "", 1},
		{"utter_greet", "fr", "", "text: Bonjour {name} !", "", 0},
		{"utter_confirm", "en", "", "text: Sure?\nbuttons:\n  - title: Yes\n    type: postback\n    payload: /affirm\n  - title: Call\n    type: phone_number\n    payload: '+100'", "", 0},
		{"utter_only_en", "en", "", "text: English only", "", 0},
	}
	for _, r := range rows {
		var channel, metadata interface{}
		if r.channel != "" {
			channel = r.channel
		}
		if r.metadata != "" {
			metadata = r.metadata
		}
		_, err := db.Exec(
			`INSERT INTO bot_responses (project_id, key, language, channel, payload, metadata, position)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			e2eProject, r.key, r.language, channel, r.payload, metadata, r.position)
		require.NoError(t, err)
	}
}

func TestResolveAgainstPostgres(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	t.Run("preview interpolates and keeps metadata", func(t *testing.T) {
		resolved, err := f.resolver.Resolve(ctx, nlg.Request{
			Template:  "utter_greet",
			ProjectID: e2eProject,
			Language:  "en",
			Slots:     nlg.SlotMap{"name": "Ana"},
		})
		require.NoError(t, err)

		text, _ := resolved.Text()
		assert.Equal(t, "Hello Ana!", text)
		assert.NotContains(t, resolved.Fields, "key")
		assert.Equal(t, map[string]interface{}{"linkTarget": "_blank"}, resolved.Metadata)
	})

	t.Run("channel specific variant wins", func(t *testing.T) {
		resolved, err := f.resolver.Resolve(ctx, nlg.Request{
			Template:  "utter_greet",
			ProjectID: e2eProject,
			Language:  "en",
			Slots:     nlg.SlotMap{"name": "Ana"},
			Channel:   "webchat",
			Call:      nlg.CallRuntime,
		})
		require.NoError(t, err)

		text, _ := resolved.Text()
		assert.Equal(t, "Hi Ana, welcome to the web", text)
	})

	t.Run("missing french variant falls back to default language", func(t *testing.T) {
		resolved, err := f.resolver.Resolve(ctx, nlg.Request{Template: "utter_only_en", ProjectID: e2eProject, Language: "fr"})
		require.NoError(t, err)

		text, _ := resolved.Text()
		assert.Equal(t, "English only", text)
	})

	t.Run("unconfigured language uses fallback slot", func(t *testing.T) {
		resolved, err := f.resolver.Resolve(ctx, nlg.Request{
			Template:  "utter_greet",
			ProjectID: e2eProject,
			Language:  "de",
			Slots:     nlg.SlotMap{"name": "Ana", nlg.FallbackLanguageSlot: "fr"},
		})
		require.NoError(t, err)

		text, _ := resolved.Text()
		assert.Equal(t, "Bonjour Ana !", text)
	})

	t.Run("unknown template echoes its name", func(t *testing.T) {
		resolved, err := f.resolver.Resolve(ctx, nlg.Request{Template: "utter_nope", ProjectID: e2eProject, Language: "en"})
		require.NoError(t, err)

		text, _ := resolved.Text()
		assert.Equal(t, "utter_nope", text)
	})

	t.Run("languages are cached in redis", func(t *testing.T) {
		_, err := f.languages.LanguagesOf(ctx, e2eProject)
		require.NoError(t, err)

		n, err := f.redis.Client.Exists(ctx, "nlg:project-languages:"+e2eProject).Result()
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})
}

func TestNLGEndpoint(t *testing.T) {
	f := setup(t)

	srv := httptest.NewServer(server.NewRouter(server.Options{
		Responder: f.resolver,
		Checks: map[string]server.Check{
			"postgres": f.pg.Ping,
			"redis":    f.redis.Ping,
		},
		Logger: logger.NewTestLogger(t),
	}))
	defer srv.Close()

	body, _ := json.Marshal(map[string]interface{}{
		"template":  "utter_confirm",
		"arguments": map[string]interface{}{"language": "en", "projectId": e2eProject},
		"tracker":   map[string]interface{}{"slots": map[string]interface{}{}},
		"channel":   map[string]interface{}{"name": "webchat"},
	})
	resp, err := srv.Client().Post(srv.URL+"/nlg", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var typed struct {
		Type    string `json:"type"`
		Payload struct {
			Text    string                   `json:"text"`
			Buttons []map[string]interface{} `json:"buttons"`
		} `json:"payload"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&typed))
	assert.Equal(t, "QuickReplyPayload", typed.Type)
	assert.Equal(t, "Sure?", typed.Payload.Text)
	require.Len(t, typed.Payload.Buttons, 1)
	assert.Equal(t, "/affirm", typed.Payload.Buttons[0]["payload"])

	ready, err := srv.Client().Get(srv.URL + "/ready")
	require.NoError(t, err)
	defer ready.Body.Close()
	assert.Equal(t, http.StatusOK, ready.StatusCode)
}

func TestResolveTemplateWorker(t *testing.T) {
	f := setup(t)
	if os.Getenv("ZEEBE_ADDRESS") == "" {
		t.Skip("set ZEEBE_ADDRESS to run the worker against a broker")
	}
	f.cfg.Camunda.BrokerAddress = os.Getenv("ZEEBE_ADDRESS")

	client, err := camunda.NewClient(f.cfg.Camunda)
	require.NoError(t, err, "Zeebe connection failed")
	defer client.Close()

	handler, err := resolvetemplate.NewHandler(resolvetemplate.HandlerOptions{
		AppConfig: f.cfg,
		Responder: f.resolver,
		Logger:    logger.NewTestLogger(t),
	})
	require.NoError(t, err)

	jobWorker := camunda.NewWorker(client.GetClient(), handler.WorkerOptions(), handler, logger.NewTestLogger(t))
	defer jobWorker.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	deployProcess(ctx, t, client.GetClient())

	cmd, err := client.GetClient().NewCreateInstanceCommand().
		BPMNProcessId(e2eProcessID).
		LatestVersion().
		VariablesFromMap(map[string]interface{}{
			"template":  "utter_greet",
			"arguments": map[string]interface{}{"language": "en", "projectId": e2eProject},
			"tracker":   map[string]interface{}{"slots": map[string]interface{}{"name": "Ana"}},
		})
	require.NoError(t, err)

	result, err := cmd.WithResult().FetchVariables("nlgResponse", "nlgDroppedButtons").Send(ctx)
	require.NoError(t, err)

	var variables struct {
		Response struct {
			Type    string `json:"type"`
			Payload struct {
				Text string `json:"text"`
			} `json:"payload"`
		} `json:"nlgResponse"`
		DroppedButtons int `json:"nlgDroppedButtons"`
	}
	require.NoError(t, json.Unmarshal([]byte(result.GetVariables()), &variables))
	assert.Equal(t, "TextPayload", variables.Response.Type)
	assert.Equal(t, "Hello Ana!", variables.Response.Payload.Text)
	assert.Zero(t, variables.DroppedButtons)
}

func deployProcess(ctx context.Context, t *testing.T, client zbc.Client) {
	t.Helper()
	_, err := client.NewDeployResourceCommand().
		AddResource([]byte(resolveProcessBPMN), "nlg-resolve-e2e.bpmn").
		Send(ctx)
	require.NoError(t, err)
}
