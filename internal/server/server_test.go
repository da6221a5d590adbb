package server

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nlg-workers/internal/common/config"
	"nlg-workers/internal/common/errors"
	"nlg-workers/internal/common/logger"
	"nlg-workers/internal/nlg"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockResponder struct {
	mock.Mock
}

func (m *MockResponder) Respond(ctx context.Context, req nlg.Request) (nlg.TypedPayload, nlg.ProjectionReport, error) {
	args := m.Called(ctx, req)
	if fn, ok := args.Get(0).(func(context.Context, nlg.Request) (nlg.TypedPayload, nlg.ProjectionReport, error)); ok {
		return fn(ctx, req)
	}
	return args.Get(0).(nlg.TypedPayload), args.Get(1).(nlg.ProjectionReport), args.Error(2)
}

func newTestServer(t *testing.T, checks map[string]Check) (*httptest.Server, *MockResponder) {
	responder := new(MockResponder)
	srv := httptest.NewServer(NewRouter(Options{
		Responder: responder,
		Checks:    checks,
		Logger:    logger.NewTestLogger(t),
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("# metrics\n"))
		}),
	}))
	t.Cleanup(srv.Close)
	return srv, responder
}

func postNLG(t *testing.T, srv *httptest.Server, body string, header http.Header) *http.Response {
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/nlg", strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeError(t *testing.T, resp *http.Response) errorBody {
	var body errorBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

const webhookBody = `{
	"template": "utter_greet",
	"arguments": {"language": "en", "projectId": "bf"},
	"tracker": {"sender_id": "u1", "slots": {"name": "Ana"}},
	"channel": {"name": "webchat"}
}`

// ==========================
// POST /nlg
// ==========================

func TestResolve_Success(t *testing.T) {
	srv, responder := newTestServer(t, nil)
	responder.On("Respond", mock.Anything, nlg.Request{
		Template:  "utter_greet",
		ProjectID: "bf",
		Language:  "en",
		Slots:     nlg.SlotMap{"name": "Ana"},
		Channel:   "webchat",
		Call:      nlg.CallRuntime,
	}).Return(nlg.Typed(nlg.QuickReplyPayload{
		Text: "Hi Ana",
		Buttons: []nlg.Button{
			nlg.PostbackButton{Title: "Yes", Type: "postback", Payload: "/yes"},
			nlg.WebURLButton{Title: "Docs", Type: "web_url", URL: "https://example.com"},
		},
	}), nlg.ProjectionReport{DroppedButtons: 1}, nil)

	resp := postNLG(t, srv, webhookBody, nil)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "QuickReplyPayload", body["type"])
	payload := body["payload"].(map[string]interface{})
	assert.Equal(t, "Hi Ana", payload["text"])
	assert.Len(t, payload["buttons"], 2)
	responder.AssertExpectations(t)
}

func TestResolve_BoundsResolutionWithDeadline(t *testing.T) {
	srv, responder := newTestServer(t, nil)

	var (
		hasDeadline bool
		remaining   time.Duration
	)
	responder.On("Respond", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			var deadline time.Time
			deadline, hasDeadline = args.Get(0).(context.Context).Deadline()
			remaining = time.Until(deadline)
		}).
		Return(nlg.Typed(nlg.TextPayload{Text: "hi"}), nlg.ProjectionReport{}, nil)

	resp := postNLG(t, srv, webhookBody, nil)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, hasDeadline)
	assert.LessOrEqual(t, remaining, defaultResolveTimeout)
}

func TestResolve_SlowStoreTimesOut(t *testing.T) {
	responder := new(MockResponder)
	srv := httptest.NewServer(NewRouter(Options{
		Responder:      responder,
		Logger:         logger.NewTestLogger(t),
		ResolveTimeout: 50 * time.Millisecond,
	}))
	t.Cleanup(srv.Close)

	responder.On("Respond", mock.Anything, mock.Anything).
		Return(func(ctx context.Context, req nlg.Request) (nlg.TypedPayload, nlg.ProjectionReport, error) {
			<-ctx.Done()
			return nlg.TypedPayload{}, nlg.ProjectionReport{}, ctx.Err()
		})

	start := time.Now()
	resp := postNLG(t, srv, webhookBody, nil)

	assert.Equal(t, http.StatusGatewayTimeout, resp.StatusCode)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, string(errors.ErrCodeQueryTimeout), decodeError(t, resp).Error.Code)
}

func TestResolve_PreviewBody(t *testing.T) {
	srv, responder := newTestServer(t, nil)
	responder.On("Respond", mock.Anything, mock.MatchedBy(func(req nlg.Request) bool {
		return req.Call == nlg.CallPreview && req.Channel == "" && req.Slots == nil
	})).Return(nlg.Typed(nlg.TextPayload{Text: "Hello"}), nlg.ProjectionReport{}, nil)

	resp := postNLG(t, srv, `{"template": "utter_greet", "arguments": {"projectId": "bf", "language": "en"}}`, nil)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	responder.AssertExpectations(t)
}

func TestResolve_RequestID(t *testing.T) {
	srv, responder := newTestServer(t, nil)
	responder.On("Respond", mock.Anything, mock.Anything).
		Return(nlg.Typed(nlg.TextPayload{Text: "Hello"}), nlg.ProjectionReport{}, nil)

	t.Run("echoes caller id", func(t *testing.T) {
		resp := postNLG(t, srv, webhookBody, http.Header{"X-Request-Id": []string{"req-42"}})
		assert.Equal(t, "req-42", resp.Header.Get("X-Request-ID"))
	})

	t.Run("mints uuid", func(t *testing.T) {
		resp := postNLG(t, srv, webhookBody, nil)
		_, err := uuid.Parse(resp.Header.Get("X-Request-ID"))
		assert.NoError(t, err)
	})
}

func TestResolve_InvalidInput(t *testing.T) {
	tests := []struct {
		name         string
		body         string
		expectedCode errors.ErrorCode
	}{
		{name: "not json", body: `{"template":`, expectedCode: errors.ErrCodeParseError},
		{name: "missing template", body: `{"arguments": {"projectId": "bf"}}`, expectedCode: errors.ErrCodeInvalidInput},
		{name: "template wrong type", body: `{"template": 3, "arguments": {}}`, expectedCode: errors.ErrCodeInvalidInput},
		{name: "array body", body: `[]`, expectedCode: errors.ErrCodeInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, responder := newTestServer(t, nil)

			resp := postNLG(t, srv, tt.body, nil)

			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			body := decodeError(t, resp)
			assert.Equal(t, string(tt.expectedCode), body.Error.Code)
			assert.NotEmpty(t, body.RequestID)
			responder.AssertNotCalled(t, "Respond", mock.Anything, mock.Anything)
		})
	}
}

func TestResolve_ErrorStatus(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		expectedStatus int
		expectedCode   errors.ErrorCode
	}{
		{name: "missing project", err: nlg.ErrMissingProject, expectedStatus: http.StatusBadRequest, expectedCode: errors.ErrCodeProjectIDMissing},
		{name: "missing language", err: nlg.ErrMissingLanguage, expectedStatus: http.StatusBadRequest, expectedCode: errors.ErrCodeLanguageMissing},
		{
			name:           "undecodable payload",
			err:            fmt.Errorf("template utter_greet: %w", nlg.ErrDecode),
			expectedStatus: http.StatusUnprocessableEntity,
			expectedCode:   errors.ErrCodePayloadDecodeFailed,
		},
		{
			name:           "store failure",
			err:            errors.NewQueryExecutionFailedError("bot_responses", stderrors.New("connection refused")),
			expectedStatus: http.StatusBadGateway,
			expectedCode:   errors.ErrCodeQueryExecutionFailed,
		},
		{
			name:           "missing index",
			err:            errors.NewIndexNotFoundError("bot_responses"),
			expectedStatus: http.StatusBadGateway,
			expectedCode:   errors.ErrCodeIndexNotFound,
		},
		{name: "timeout", err: context.DeadlineExceeded, expectedStatus: http.StatusGatewayTimeout, expectedCode: errors.ErrCodeQueryTimeout},
		{name: "unknown failure", err: stderrors.New("boom"), expectedStatus: http.StatusBadGateway, expectedCode: errors.ErrCodeResponseLookupFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, responder := newTestServer(t, nil)
			responder.On("Respond", mock.Anything, mock.Anything).
				Return(nlg.TypedPayload{}, nlg.ProjectionReport{}, tt.err)

			resp := postNLG(t, srv, webhookBody, nil)

			assert.Equal(t, tt.expectedStatus, resp.StatusCode)
			assert.Equal(t, string(tt.expectedCode), decodeError(t, resp).Error.Code)
		})
	}
}

func TestResolve_MethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	resp, err := srv.Client().Get(srv.URL + "/nlg")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

// ==========================
// Health, readiness, metrics
// ==========================

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	resp, err := srv.Client().Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "healthy", body["status"])
}

func TestReady(t *testing.T) {
	ok := func(context.Context) error { return nil }

	t.Run("all dependencies reachable", func(t *testing.T) {
		srv, _ := newTestServer(t, map[string]Check{"postgres": ok, "redis": ok})

		resp, err := srv.Client().Get(srv.URL + "/ready")
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		var body struct {
			Status string            `json:"status"`
			Checks map[string]string `json:"checks"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, "ready", body.Status)
		assert.Equal(t, map[string]string{"postgres": "ok", "redis": "ok"}, body.Checks)
	})

	t.Run("one dependency down", func(t *testing.T) {
		srv, _ := newTestServer(t, map[string]Check{
			"postgres": ok,
			"redis":    func(context.Context) error { return stderrors.New("dial tcp: connection refused") },
		})

		resp, err := srv.Client().Get(srv.URL + "/ready")
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		var body struct {
			Status string            `json:"status"`
			Checks map[string]string `json:"checks"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, "unready", body.Status)
		assert.Equal(t, "ok", body.Checks["postgres"])
		assert.Contains(t, body.Checks["redis"], "connection refused")
	})

	t.Run("checks are bounded", func(t *testing.T) {
		srv, _ := newTestServer(t, map[string]Check{
			"slow": func(ctx context.Context) error {
				deadline, ok := ctx.Deadline()
				if !ok || time.Until(deadline) > readyCheckTimeout {
					return stderrors.New("no deadline")
				}
				return nil
			},
		})

		resp, err := srv.Client().Get(srv.URL + "/ready")
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}

func TestMetricsMounted(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	resp, err := srv.Client().Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestNew_ServerTimeouts(t *testing.T) {
	srv := New(config.ServerConfig{Address: ":9090", ReadTimeout: 1500, WriteTimeout: 3000}, http.NotFoundHandler())

	assert.Equal(t, ":9090", srv.Addr)
	assert.Equal(t, 1500*time.Millisecond, srv.ReadTimeout)
	assert.Equal(t, 3*time.Second, srv.WriteTimeout)
}
