package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/verdantai/croplens/internal/app"
	"github.com/verdantai/croplens/internal/config"
)

// mockProvider emulates the OpenAI-compatible chat completions endpoint so
// admitted requests can run the full debate without a network.
func mockProvider(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-test",
			"object": "chat.completion",
			"created": 1700000000,
			"model": "test-model",
			"choices": [{
				"index": 0,
				"message": {"role": "assistant", "content": "leaves look viable\nconfidence: 0.8"},
				"finish_reason": "stop"
			}]
		}`))
	}))
	t.Cleanup(server.Close)
	return server
}

func newTestServer(t *testing.T) *Server {
	t.Helper()

	redisServer, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(redisServer.Close)

	client := redis.NewClient(&redis.Options{Addr: redisServer.Addr()})
	t.Cleanup(func() { client.Close() })

	provider := mockProvider(t)

	cfg := &config.Config{
		Server: config.ServerConfig{
			ListenAddr:  ":0",
			BodyLimitMB: 12,
			HealthPath:  "/healthz",
		},
		Session: config.SessionConfig{
			Header:     "X-Session-ID",
			CookieName: "croplens_session",
			TTL:        time.Hour,
		},
		RateLimits: config.RateLimitConfig{
			ShortLimit:   5,
			ShortWindow:  10 * time.Minute,
			HourlyLimit:  20,
			HourlyWindow: time.Hour,
			Store:        "redis",
		},
		Analysis: config.AnalysisConfig{
			APIKey:  "test-key",
			BaseURL: provider.URL,
			Model:   "test-model",
			Timeout: 5 * time.Second,
		},
	}

	container, err := app.NewContainer(context.Background(), cfg, client)
	require.NoError(t, err)

	server, err := New(container)
	require.NoError(t, err)
	return server
}

func validBody(t *testing.T) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"cropType": "tomato",
		"notes":    "yellow spots on lower leaves",
	})
	require.NoError(t, err)
	return body
}

func postAnalysis(t *testing.T, server *Server, body []byte, sessionID string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/analysis", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if sessionID != "" {
		req.Header.Set("X-Session-ID", sessionID)
	}
	resp, err := server.App().Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestPipelineRejectsInvalidBodyWithFullErrorSet(t *testing.T) {
	server := newTestServer(t)

	body, err := json.Marshal(map[string]any{
		"cropType": "banana",
		"image":    "data:image/gif;base64,QUJD",
	})
	require.NoError(t, err)

	resp := postAnalysis(t, server, body, "")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	payload := decodeBody(t, resp)
	require.Equal(t, "VALIDATION_ERROR", payload["code"])
	require.Len(t, payload["errors"], 2, "both violations must surface in one response")
}

func TestPipelineRejectsNonJSONBody(t *testing.T) {
	server := newTestServer(t)
	resp := postAnalysis(t, server, []byte("not json"), "")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPipelineAdmitsAndDecrementsQuotaHeaders(t *testing.T) {
	server := newTestServer(t)
	body := validBody(t)

	first := postAnalysis(t, server, body, "")
	require.Equal(t, http.StatusOK, first.StatusCode)
	sessionID := first.Header.Get("X-Session-ID")
	require.NotEmpty(t, sessionID)
	require.Equal(t, "5", first.Header.Get("X-RateLimit-Limit"))
	require.Equal(t, "4", first.Header.Get("X-RateLimit-Remaining"))

	for want := 3; want >= 0; want-- {
		resp := postAnalysis(t, server, body, sessionID)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, strconv.Itoa(want), resp.Header.Get("X-RateLimit-Remaining"))
	}

	sixth := postAnalysis(t, server, body, sessionID)
	require.Equal(t, http.StatusTooManyRequests, sixth.StatusCode)

	payload := decodeBody(t, sixth)
	require.Equal(t, "RATE_LIMIT_EXCEEDED", payload["code"])
	require.EqualValues(t, 0, payload["quotaRemaining"])
	retryAfter := payload["retryAfter"].(float64)
	require.InDelta(t, 600, retryAfter, 10, "cooldown should be close to the full window")
}

func TestPipelineReturnsAssessmentAndQuota(t *testing.T) {
	server := newTestServer(t)

	resp := postAnalysis(t, server, validBody(t), "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	payload := decodeBody(t, resp)
	assessment := payload["assessment"].(map[string]any)
	require.Contains(t, assessment["verdict"], "viable")
	require.InDelta(t, 0.8, assessment["confidence"].(float64), 0.001)
	require.Len(t, assessment["rounds"], 3)

	quota := payload["quota"].(map[string]any)
	short := quota["shortTerm"].(map[string]any)
	require.EqualValues(t, 5, short["limit"])
	require.EqualValues(t, 1, short["used"])
}

func TestHealthPathBypassesGates(t *testing.T) {
	server := newTestServer(t)

	for i := 0; i < 30; i++ {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		resp, err := server.App().Test(req, -1)
		require.NoError(t, err)
		require.NotEqual(t, http.StatusTooManyRequests, resp.StatusCode, "liveness probe %d was rate limited", i)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
}

func TestQuotaEndpointNeverConsumesQuota(t *testing.T) {
	server := newTestServer(t)

	first := postAnalysis(t, server, validBody(t), "")
	require.Equal(t, http.StatusOK, first.StatusCode)
	sessionID := first.Header.Get("X-Session-ID")

	for i := 0; i < 10; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/quota", nil)
		req.Header.Set("X-Session-ID", sessionID)
		resp, err := server.App().Test(req, -1)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		payload := decodeBody(t, resp)
		short := payload["shortTerm"].(map[string]any)
		require.EqualValues(t, 1, short["used"], "quota reads must not append to the ledger")
		hourly := payload["hourly"].(map[string]any)
		require.EqualValues(t, 20, hourly["limit"])
	}
}

func TestShortTermResponseWinsWhenBothTiersExhausted(t *testing.T) {
	server := newTestServer(t)
	body := validBody(t)

	first := postAnalysis(t, server, body, "")
	require.Equal(t, http.StatusOK, first.StatusCode)
	sessionID := first.Header.Get("X-Session-ID")

	for i := 0; i < 4; i++ {
		resp := postAnalysis(t, server, body, sessionID)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	// Short window exhausted; the short-term middleware runs first, so its
	// message is the one the caller sees.
	resp := postAnalysis(t, server, body, sessionID)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	payload := decodeBody(t, resp)
	require.Equal(t, "Too Many Requests", payload["error"])
}

func TestMissingSessionStoreYields500(t *testing.T) {
	server := newTestServer(t)
	server.container.Sessions = nil

	resp := postAnalysis(t, server, validBody(t), "")
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	payload := decodeBody(t, resp)
	require.Equal(t, "SESSION_UNAVAILABLE", payload["code"])
}
