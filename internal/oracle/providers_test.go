package oracle

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sprite-ai/revloop/internal/model"
	"github.com/sprite-ai/revloop/internal/retry"
)

const scoreJSON = `{"scores":{"style":8,"correctness":7,"security":9,"performance":8},"should_retry":false,"improvement_instructions":"","comments":"ok","trend":""}`

func fastPolicy(attempts int) retry.Policy {
	return retry.Policy{MaxAttempts: attempts, InitialDelay: time.Millisecond, Multiplier: 2, MaxDelay: 5 * time.Millisecond}
}

func anthropicReply(text string) string {
	body, _ := json.Marshal(map[string]any{
		"id":          "msg_test",
		"type":        "message",
		"role":        "assistant",
		"model":       "claude-sonnet-4-5",
		"stop_reason": "end_turn",
		"content":     []map[string]any{{"type": "text", "text": text}},
		"usage":       map[string]any{"input_tokens": 10, "output_tokens": 20},
	})
	return string(body)
}

func openAIReply(text string) string {
	body, _ := json.Marshal(map[string]any{
		"id":      "chatcmpl-test",
		"object":  "chat.completion",
		"created": 1,
		"model":   "gpt-4o-mini",
		"choices": []map[string]any{{
			"index":         0,
			"finish_reason": "stop",
			"message":       map[string]any{"role": "assistant", "content": text},
		}},
	})
	return string(body)
}

type stubServer struct {
	calls atomic.Int32
	srv   *httptest.Server
}

// newStubServer answers with status and body; statuses beyond the list
// repeat the last one.
func newStubServer(t *testing.T, suffix string, statuses []int, body func(int) string) *stubServer {
	t.Helper()
	s := &stubServer{}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(s.calls.Add(1))
		assert.True(t, strings.HasSuffix(r.URL.Path, suffix), r.URL.Path)
		_, _ = io.Copy(io.Discard, r.Body)
		status := statuses[min(n, len(statuses))-1]
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body(status))
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func TestAnthropicScore(t *testing.T) {
	srv := newStubServer(t, "/v1/messages", []int{http.StatusOK}, func(int) string {
		return anthropicReply(scoreJSON)
	})

	o, err := New(Config{Provider: ProviderAnthropic, APIKey: "test", BaseURL: srv.srv.URL, Retry: fastPolicy(2)})
	require.NoError(t, err)
	assert.Equal(t, ProviderAnthropic, o.Name())

	rec, err := o.Score(t.Context(), ScoreRequest{ReportJSON: "{}", FileIdentity: "app.py-x", Threshold: 7})
	require.NoError(t, err)
	assert.Equal(t, 9, rec.Scores[model.CategorySecurity])
	assert.InDelta(t, 8, rec.OverallScore, 1e-9)
	assert.EqualValues(t, 1, srv.calls.Load())
}

func TestAnthropicTransientThenSuccess(t *testing.T) {
	srv := newStubServer(t, "/v1/messages", []int{http.StatusServiceUnavailable, http.StatusOK}, func(status int) string {
		if status != http.StatusOK {
			return `{"type":"error","error":{"type":"overloaded_error","message":"busy"}}`
		}
		return anthropicReply(`{"updated_code":"x = 1\n","description":"done"}`)
	})

	o, err := New(Config{Provider: ProviderAnthropic, APIKey: "test", BaseURL: srv.srv.URL, Retry: fastPolicy(3)})
	require.NoError(t, err)

	p, err := o.Patch(t.Context(), PatchRequest{FileName: "app.py", OriginalCode: "x=1", Instructions: "format"})
	require.NoError(t, err)
	assert.Equal(t, "x = 1\n", p.UpdatedCode)
	assert.EqualValues(t, 2, srv.calls.Load())
}

func TestAnthropicUnavailable(t *testing.T) {
	srv := newStubServer(t, "/v1/messages", []int{http.StatusServiceUnavailable}, func(int) string {
		return `{"type":"error","error":{"type":"api_error","message":"down"}}`
	})

	o, err := New(Config{Provider: ProviderAnthropic, APIKey: "test", BaseURL: srv.srv.URL, Retry: fastPolicy(3)})
	require.NoError(t, err)

	_, err = o.Score(t.Context(), ScoreRequest{})
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, retry.ErrExhausted)
	assert.EqualValues(t, 3, srv.calls.Load())
}

func TestAnthropicClientErrorNotRetried(t *testing.T) {
	srv := newStubServer(t, "/v1/messages", []int{http.StatusBadRequest}, func(int) string {
		return `{"type":"error","error":{"type":"invalid_request_error","message":"bad"}}`
	})

	o, err := New(Config{Provider: ProviderAnthropic, APIKey: "test", BaseURL: srv.srv.URL, Retry: fastPolicy(3)})
	require.NoError(t, err)

	_, err = o.Score(t.Context(), ScoreRequest{})
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.NotErrorIs(t, err, retry.ErrExhausted)
	assert.EqualValues(t, 1, srv.calls.Load())
}

func TestAnthropicMalformedNotRetried(t *testing.T) {
	srv := newStubServer(t, "/v1/messages", []int{http.StatusOK}, func(int) string {
		return anthropicReply("I think the code is fine.")
	})

	o, err := New(Config{Provider: ProviderAnthropic, APIKey: "test", BaseURL: srv.srv.URL, Retry: fastPolicy(3)})
	require.NoError(t, err)

	_, err = o.Score(t.Context(), ScoreRequest{})
	assert.ErrorIs(t, err, ErrMalformedResponse)
	assert.NotErrorIs(t, err, ErrUnavailable)
	assert.EqualValues(t, 1, srv.calls.Load())
}

func TestOpenAIScore(t *testing.T) {
	srv := newStubServer(t, "/chat/completions", []int{http.StatusOK}, func(int) string {
		return openAIReply(scoreJSON)
	})

	o, err := New(Config{Provider: ProviderOpenAI, APIKey: "test", BaseURL: srv.srv.URL + "/v1", Retry: fastPolicy(2)})
	require.NoError(t, err)
	assert.Equal(t, ProviderOpenAI, o.Name())

	rec, err := o.Score(t.Context(), ScoreRequest{ReportJSON: "{}"})
	require.NoError(t, err)
	assert.Equal(t, 7, rec.Scores[model.CategoryCorrectness])
	assert.False(t, rec.ShouldRetry)
}

func TestOpenAIUnavailable(t *testing.T) {
	srv := newStubServer(t, "/chat/completions", []int{http.StatusTooManyRequests}, func(int) string {
		return `{"error":{"message":"slow down","type":"rate_limit"}}`
	})

	o, err := New(Config{Provider: ProviderOpenAI, APIKey: "test", BaseURL: srv.srv.URL + "/v1", Retry: fastPolicy(2)})
	require.NoError(t, err)

	_, err = o.Patch(t.Context(), PatchRequest{OriginalCode: "x=1"})
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.EqualValues(t, 2, srv.calls.Load())
}

func TestNewValidation(t *testing.T) {
	_, err := New(Config{Provider: "mystery"})
	assert.ErrorContains(t, err, "unknown oracle provider")

	_, err = New(Config{Provider: ProviderAnthropic})
	assert.ErrorContains(t, err, "api key is required")

	_, err = New(Config{Provider: ProviderOpenAI})
	assert.ErrorContains(t, err, "api key is required")

	o, err := New(Config{})
	require.NoError(t, err)
	assert.Equal(t, ProviderHeuristic, o.Name())
}
