package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"rin/config"
	"rin/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sampleTokens = []TokenRef{{ID: "00000", Text: "print"}, {ID: "00001", Text: "("}}

func TestBuildPromptInitial(t *testing.T) {
	system, user := BuildPrompt(Request{Mode: ModeInitial, Tokens: sampleTokens})

	assert.Contains(t, system, "Shot-0")
	assert.Contains(t, user, "[00000]print\n[00001](")
	assert.Contains(t, user, "INSERT_FENCE_START <token_id> <language_tag>")
	assert.Contains(t, user, "python, json, bash")
	assert.NotContains(t, user, "PREVIOUS COMMANDS")
}

func TestBuildPromptFallback(t *testing.T) {
	system, _ := BuildPrompt(Request{Mode: ModeFallback, Tokens: sampleTokens})

	assert.Contains(t, system, "Big Model")
	assert.Contains(t, system, "more capable fallback")
}

func TestBuildPromptSelfRepair(t *testing.T) {
	system, user := BuildPrompt(Request{
		Mode:          ModeSelfRepair,
		Tokens:        sampleTokens,
		PriorCommands: "INSERT_FENCE_START 00000 python\nINSERT_FENCE_END 00001",
		ErrorContext:  "Block 1: AST=FAIL; Lint=FAIL. boom",
	})

	assert.Contains(t, system, "Shot-1")
	assert.Contains(t, user, "PREVIOUS COMMANDS:\nINSERT_FENCE_START 00000 python\nINSERT_FENCE_END 00001\n\n")
	assert.Contains(t, user, "ERROR CONTEXT:\nBlock 1: AST=FAIL; Lint=FAIL. boom\n\n")
	assert.Contains(t, user, "OUTPUT RULES (same as before)")
}

func TestBuildPromptSelfRepairPlaceholders(t *testing.T) {
	_, user := BuildPrompt(Request{Mode: ModeSelfRepair, Tokens: sampleTokens})

	assert.Contains(t, user, "PREVIOUS COMMANDS:\n[none]")
	assert.Contains(t, user, "ERROR CONTEXT:\nn/a")
}

func TestRenderTokensEmpty(t *testing.T) {
	assert.Equal(t, "", RenderTokens(nil))
}

func TestStaticBackend(t *testing.T) {
	b := Static{Responses: map[Mode]string{ModeFallback: "INSERT_FENCE_END 00001"}}

	out, err := b.Request(context.Background(), Request{Mode: ModeFallback})
	require.NoError(t, err)
	assert.Equal(t, "INSERT_FENCE_END 00001", out)

	out, err = b.Request(context.Background(), Request{Mode: ModeInitial})
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Equal(t, "static", b.Model(ModeInitial))
}

func TestFuncBackend(t *testing.T) {
	boom := errors.New("boom")
	b := Func(func(ctx context.Context, req Request) (string, error) { return "", boom })

	_, err := b.Request(context.Background(), Request{})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "func-self-repair", b.Model(ModeSelfRepair))
}

func chatServer(t *testing.T, content string, calls *int32) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req types.OpenAIRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if assert.Len(t, req.Messages, 2) {
			assert.Equal(t, "system", req.Messages[0].Role)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(types.OpenAIResponse{
			Model:   req.Model,
			Choices: []types.OpenAIChoice{{Message: types.OpenAIMessage{Role: "assistant", Content: content}}},
		})
	}))
}

func testConfig(endpoints ...string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Endpoints = endpoints
	cfg.APIKey = "sk-test"
	return cfg
}

func TestHTTPBackendRequest(t *testing.T) {
	var calls int32
	server := chatServer(t, "INSERT_FENCE_START 00000 python", &calls)
	defer server.Close()

	b := NewHTTPBackend(testConfig(server.URL), nil)
	out, err := b.Request(context.Background(), Request{Mode: ModeInitial, Tokens: sampleTokens})

	require.NoError(t, err)
	assert.Equal(t, "INSERT_FENCE_START 00000 python", out)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, "gpt-4.1", b.Model(ModeFallback))
	assert.Equal(t, "gpt-4.1-nano", b.Model(ModeSelfRepair))
}

func TestHTTPBackendFailsOver(t *testing.T) {
	var badCalls int32
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&badCalls, 1)
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"error":{"message":"upstream down"}}`))
	}))
	defer bad.Close()

	var goodCalls int32
	good := chatServer(t, "INSERT_FENCE_END 00001", &goodCalls)
	defer good.Close()

	b := NewHTTPBackend(testConfig(bad.URL, good.URL), nil)
	out, err := b.Request(context.Background(), Request{Mode: ModeInitial})

	require.NoError(t, err)
	assert.Equal(t, "INSERT_FENCE_END 00001", out)
	assert.Equal(t, int32(1), atomic.LoadInt32(&badCalls))

	health, ok := b.Health().Snapshot(bad.URL)
	require.True(t, ok)
	assert.Equal(t, 1, health.FailureCount)
}

func TestHTTPBackendAllEndpointsFail(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer bad.Close()

	b := NewHTTPBackend(testConfig(bad.URL), nil)
	_, err := b.Request(context.Background(), Request{Mode: ModeInitial})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider returned status 500")
}

func TestHTTPBackendEmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer server.Close()

	b := NewHTTPBackend(testConfig(server.URL), nil)
	_, err := b.Request(context.Background(), Request{Mode: ModeInitial})

	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestHTTPBackendNoEndpoints(t *testing.T) {
	b := NewHTTPBackend(testConfig(), nil)

	_, err := b.Request(context.Background(), Request{})

	assert.ErrorIs(t, err, ErrNoEndpoints)
}

func TestHTTPBackendCancelledContext(t *testing.T) {
	var calls int32
	server := chatServer(t, "", &calls)
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b := NewHTTPBackend(testConfig(server.URL), nil)
	_, err := b.Request(ctx, Request{})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, atomic.LoadInt32(&calls))
}
