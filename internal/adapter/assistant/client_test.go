package assistant_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bigkaiyoh/TGF-Scholar/internal/adapter/assistant"
)

type fakeAPI struct {
	mu         sync.Mutex
	runStatus  []string
	polls      int32
	cancelled  int32
	lastPrompt string
	lastAsst   string
	reply      string
}

func (f *fakeAPI) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /threads", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "assistants=v2", r.Header.Get("OpenAI-Beta"))
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "thread_1"})
	})
	mux.HandleFunc("POST /threads/thread_1/messages", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		f.mu.Lock()
		f.lastPrompt = body["content"]
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "msg_1"})
	})
	mux.HandleFunc("POST /threads/thread_1/runs", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		f.mu.Lock()
		f.lastAsst = body["assistant_id"]
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "run_1", "status": "queued"})
	})
	mux.HandleFunc("GET /threads/thread_1/runs/run_1", func(w http.ResponseWriter, r *http.Request) {
		n := int(atomic.AddInt32(&f.polls, 1))
		status := f.runStatus[len(f.runStatus)-1]
		if n <= len(f.runStatus) {
			status = f.runStatus[n-1]
		}
		resp := map[string]any{"id": "run_1", "status": status}
		if status == "failed" {
			resp["last_error"] = map[string]string{"code": "server_error", "message": "model overloaded"}
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("POST /threads/thread_1/runs/run_1/cancel", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.cancelled, 1)
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "run_1", "status": "cancelling"})
	})
	mux.HandleFunc("GET /threads/thread_1/messages", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "desc", r.URL.Query().Get("order"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"role": "assistant", "content": []map[string]any{{"type": "text", "text": map[string]string{"value": f.reply}}}},
				{"role": "user", "content": []map[string]any{{"type": "text", "text": map[string]string{"value": "prompt"}}}},
			},
		})
	})
	return mux
}

func newClient(srv *httptest.Server, timeout time.Duration) *assistant.Client {
	return assistant.NewClient(srv.Client(), assistant.Options{
		APIKey:       "test-key",
		BaseURL:      srv.URL,
		PollInterval: 5 * time.Millisecond,
		Timeout:      timeout,
	}, zap.NewNop())
}

func TestRequestFeedbackSucceeds(t *testing.T) {
	api := &fakeAPI{runStatus: []string{"in_progress", "completed"}, reply: "Great structure."}
	srv := httptest.NewServer(api.handler(t))
	defer srv.Close()

	res := newClient(srv, time.Second).RequestFeedback(context.Background(), "asst_feedback", "essay text")
	require.Equal(t, assistant.Succeeded, res.Outcome)
	require.NoError(t, res.Err)
	require.Equal(t, "Great structure.", res.Text)
	api.mu.Lock()
	defer api.mu.Unlock()
	require.Equal(t, "essay text", api.lastPrompt)
	require.Equal(t, "asst_feedback", api.lastAsst)
	require.EqualValues(t, 2, atomic.LoadInt32(&api.polls))
}

func TestRequestFeedbackRunFailure(t *testing.T) {
	api := &fakeAPI{runStatus: []string{"failed"}}
	srv := httptest.NewServer(api.handler(t))
	defer srv.Close()

	res := newClient(srv, time.Second).RequestFeedback(context.Background(), "asst", "essay")
	require.Equal(t, assistant.Failed, res.Outcome)
	require.ErrorContains(t, res.Err, "model overloaded")
	require.Empty(t, res.Text)
}

func TestRequestFeedbackTimesOut(t *testing.T) {
	api := &fakeAPI{runStatus: []string{"in_progress"}}
	srv := httptest.NewServer(api.handler(t))
	defer srv.Close()

	res := newClient(srv, 50*time.Millisecond).RequestFeedback(context.Background(), "asst", "essay")
	require.Equal(t, assistant.TimedOut, res.Outcome)
	require.ErrorIs(t, res.Err, context.DeadlineExceeded)
	require.EqualValues(t, 1, atomic.LoadInt32(&api.cancelled))
}

func TestWaitCancelsTask(t *testing.T) {
	api := &fakeAPI{runStatus: []string{"in_progress"}}
	srv := httptest.NewServer(api.handler(t))
	defer srv.Close()

	client := newClient(srv, time.Minute)
	task := client.StartFeedback(context.Background(), "asst", "essay")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for atomic.LoadInt32(&api.polls) == 0 {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()

	res := task.Wait(ctx)
	require.Equal(t, assistant.Failed, res.Outcome)
	require.ErrorIs(t, res.Err, context.Canceled)

	polls := atomic.LoadInt32(&api.polls)
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, polls, atomic.LoadInt32(&api.polls), "polling continued after cancel")
	require.EqualValues(t, 1, atomic.LoadInt32(&api.cancelled))
}

func TestStartFeedbackWithoutKey(t *testing.T) {
	client := assistant.NewClient(nil, assistant.Options{}, zap.NewNop())

	res := client.RequestFeedback(context.Background(), "asst", "essay")
	require.Equal(t, assistant.Failed, res.Outcome)
	require.ErrorIs(t, res.Err, assistant.ErrNotConfigured)
}

func TestTranscribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Empty(t, r.Header.Get("OpenAI-Beta"))

		var body struct {
			Model     string `json:"model"`
			MaxTokens int    `json:"max_tokens"`
			Messages  []struct {
				Content []struct {
					Type     string `json:"type"`
					Text     string `json:"text"`
					ImageURL struct {
						URL string `json:"url"`
					} `json:"image_url"`
				} `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "gpt-4o", body.Model)
		require.Equal(t, 300, body.MaxTokens)
		require.Len(t, body.Messages, 1)
		require.Len(t, body.Messages[0].Content, 2)
		require.Equal(t, "Please transcribe the handwritten text in this image.", body.Messages[0].Content[0].Text)
		require.True(t, strings.HasPrefix(body.Messages[0].Content[1].ImageURL.URL, "data:image/jpeg;base64,"))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"content": "  My essay.  "}}},
		})
	}))
	defer srv.Close()

	text, err := newClient(srv, time.Second).Transcribe(context.Background(), []byte{0xff, 0xd8, 0xff}, "image/jpeg")
	require.NoError(t, err)
	require.Equal(t, "My essay.", text)
}

func TestTranscribeAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited","type":"requests"}}`))
	}))
	defer srv.Close()

	_, err := newClient(srv, time.Second).Transcribe(context.Background(), []byte("img"), "image/png")
	require.ErrorContains(t, err, "rate limited")
	require.ErrorContains(t, err, "status=429")
}
