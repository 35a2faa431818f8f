package kie

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewClient(Config{APIKey: "test-key", BaseURL: server.URL, Timeout: 5 * time.Second}, log)
}

func TestCreateTask(t *testing.T) {
	t.Run("returns the task id", func(t *testing.T) {
		var gotPath, gotAuth string
		var gotPayload map[string]any
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			gotAuth = r.Header.Get("Authorization")
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))
			_, _ = w.Write([]byte(`{"code":200,"msg":"success","data":{"taskId":"task-123"}}`))
		})

		taskID, err := client.CreateTask(context.Background(), CreateTaskRequest{
			Prompt:      "a regal pet portrait",
			ImageURL:    "https://cdn.example.com/orig.png",
			CallbackURL: "https://pets.example.com/callback/generation",
		})
		require.NoError(t, err)
		assert.Equal(t, "task-123", taskID)
		assert.Equal(t, "/api/v1/jobs/createTask", gotPath)
		assert.Equal(t, "Bearer test-key", gotAuth)
		assert.Equal(t, "https://pets.example.com/callback/generation", gotPayload["callBackUrl"])

		input, ok := gotPayload["input"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "a regal pet portrait", input["prompt"])
	})

	t.Run("api-level error code", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"code":402,"msg":"insufficient quota"}`))
		})

		_, err := client.CreateTask(context.Background(), CreateTaskRequest{Prompt: "p", ImageURL: "u"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "insufficient quota")
	})

	t.Run("http error status", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		})

		_, err := client.CreateTask(context.Background(), CreateTaskRequest{Prompt: "p", ImageURL: "u"})
		assert.Error(t, err)
	})

	t.Run("missing task id", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"code":200,"msg":"success","data":{}}`))
		})

		_, err := client.CreateTask(context.Background(), CreateTaskRequest{Prompt: "p", ImageURL: "u"})
		assert.Error(t, err)
	})
}

func TestGetTaskStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/jobs/recordInfo", r.URL.Path)
		assert.Equal(t, "task-123", r.URL.Query().Get("taskId"))
		_, _ = w.Write([]byte(`{"code":200,"msg":"success","data":{"taskId":"task-123","state":"success","resultJson":"{\"resultUrls\":[\"https://tmp.kie.ai/result.png\"]}"}}`))
	})

	status, err := client.GetTaskStatus(context.Background(), "task-123")
	require.NoError(t, err)
	assert.Equal(t, "task-123", status.TaskID)
	assert.True(t, status.Terminal())
	assert.Equal(t, StateSuccess, status.NormalizedState())

	urls, err := status.ResultURLs()
	require.NoError(t, err)
	require.Len(t, urls, 1)
	assert.Equal(t, "https://tmp.kie.ai/result.png", urls[0])
}

func TestTaskStatusNormalization(t *testing.T) {
	cases := []struct {
		state    string
		want     string
		terminal bool
	}{
		{"success", StateSuccess, true},
		{"SUCCESS", StateSuccess, true},
		{"fail", StateFailed, true},
		{"failed", StateFailed, true},
		{"generating", StateProcessing, false},
		{"processing", StateProcessing, false},
		{"waiting", StateWaiting, false},
		{"queued", StateWaiting, false},
		{"", StateWaiting, false},
	}
	for _, tc := range cases {
		s := TaskStatus{State: tc.state}
		assert.Equal(t, tc.want, s.NormalizedState(), "state %q", tc.state)
		assert.Equal(t, tc.terminal, s.Terminal(), "state %q", tc.state)
	}
}

func TestTaskStatusResultURLs(t *testing.T) {
	t.Run("empty payload", func(t *testing.T) {
		_, err := TaskStatus{}.ResultURLs()
		assert.Error(t, err)
	})

	t.Run("malformed payload", func(t *testing.T) {
		_, err := TaskStatus{ResultJSON: "{broken"}.ResultURLs()
		assert.Error(t, err)
	})
}
