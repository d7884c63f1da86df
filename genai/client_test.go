package genai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(baseURL string) *Client {
	return &Client{
		BaseURL:      baseURL,
		APIKey:       "test-key",
		HTTPClient:   &http.Client{Timeout: 5 * time.Second},
		TextModel:    "text-model",
		ImageModel:   "image-model",
		VisionModel:  "vision-model",
		VideoModel:   "video-model",
		AudioModel:   "audio-model",
		pollInterval: 10 * time.Millisecond,
		taskTimeout:  2 * time.Second,
		log:          logrus.WithField("component", "genai"),
	}
}

func chatReply(content string) map[string]interface{} {
	return map[string]interface{}{
		"choices": []map[string]interface{}{
			{"message": map[string]string{"content": content}},
		},
	}
}

func TestGenerateJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "text-model", body["model"])

		json.NewEncoder(w).Encode(chatReply(`{"premise": "What if?"}`))
	}))
	defer srv.Close()

	var out struct {
		Premise string `json:"premise"`
	}
	require.NoError(t, newTestClient(srv.URL).GenerateJSON(context.Background(), "p", &out))
	assert.Equal(t, "What if?", out.Premise)
}

func TestGenerateJSONStripsCodeFence(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(chatReply("```json\n{\"premise\": \"fenced\"}\n```"))
	}))
	defer srv.Close()

	var out struct {
		Premise string `json:"premise"`
	}
	require.NoError(t, newTestClient(srv.URL).GenerateJSON(context.Background(), "p", &out))
	assert.Equal(t, "fenced", out.Premise)
}

func TestGenerateJSONMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(chatReply("sorry, I cannot respond in JSON"))
	}))
	defer srv.Close()

	var out struct{}
	err := newTestClient(srv.URL).GenerateJSON(context.Background(), "p", &out)
	assert.ErrorIs(t, err, ErrMalformedOutput)
}

func TestPostRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(chatReply(`{"ok": true}`))
	}))
	defer srv.Close()

	var out struct {
		OK bool `json:"ok"`
	}
	require.NoError(t, newTestClient(srv.URL).GenerateJSON(context.Background(), "p", &out))
	assert.True(t, out.OK)
	assert.Equal(t, int32(3), calls.Load())
}

func TestPostDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	var out struct{}
	err := newTestClient(srv.URL).GenerateJSON(context.Background(), "p", &out)
	require.Error(t, err)
	assert.True(t, IsProviderError(err))
	assert.Equal(t, int32(1), calls.Load(), "4xx must not be retried")
}

func TestVerifyImageSet(t *testing.T) {
	var gotImages int
	reply := "PASS"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Messages []struct {
				Content []map[string]interface{} `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Messages, 1)
		gotImages = len(body.Messages[0].Content) - 1 // first part is the instruction text
		json.NewEncoder(w).Encode(chatReply(reply))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	urls := []string{"img://1", "img://2", "img://3"}

	passed, _, err := c.VerifyImageSet(context.Background(), urls, "Eiffel Tower")
	require.NoError(t, err)
	assert.True(t, passed)
	assert.Equal(t, 3, gotImages, "all keyframes go to the gate in one batch")

	reply = "FAIL: image 2 shows a different bridge"
	passed, feedback, err := c.VerifyImageSet(context.Background(), urls, "Eiffel Tower")
	require.NoError(t, err)
	assert.False(t, passed)
	assert.Contains(t, feedback, "different bridge")
}

func TestGenerateImagePollsTask(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/jobs/createTask":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"data": map[string]string{"taskId": "task-1"},
			})
		case "/jobs/recordInfo":
			assert.Equal(t, "task-1", r.URL.Query().Get("taskId"))
			state := "generating"
			result := ""
			if polls.Add(1) >= 3 {
				state = "success"
				result = `{"images": [{"url": "https://cdn.example/frame.png"}]}`
			}
			json.NewEncoder(w).Encode(map[string]interface{}{
				"data": map[string]string{"state": state, "resultJson": result},
			})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	url, err := newTestClient(srv.URL).GenerateImage(context.Background(), "a tower")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/frame.png", url)
	assert.GreaterOrEqual(t, polls.Load(), int32(3))
}

func TestGenerateImageTaskFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/jobs/createTask":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"data": map[string]string{"taskId": "task-2"},
			})
		case "/jobs/recordInfo":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"data": map[string]string{"state": "failed", "failMsg": "content policy"},
			})
		}
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).GenerateImage(context.Background(), "a tower")
	require.Error(t, err)
	assert.True(t, IsProviderError(err))
	assert.Contains(t, err.Error(), "content policy")
}

func TestWaitForTaskTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/jobs/createTask":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"data": map[string]string{"taskId": "task-3"},
			})
		case "/jobs/recordInfo":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"data": map[string]string{"state": "queued"},
			})
		}
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	c.taskTimeout = 50 * time.Millisecond

	_, err := c.GenerateImage(context.Background(), "a tower")
	require.Error(t, err)
	assert.True(t, IsProviderError(err))
}

func TestFirstURL(t *testing.T) {
	tests := []struct {
		name   string
		result map[string]interface{}
		want   string
	}{
		{"flat string", map[string]interface{}{"url": "u1"}, "u1"},
		{"nested object", map[string]interface{}{"image_url": map[string]interface{}{"url": "u2"}}, "u2"},
		{"object list", map[string]interface{}{"images": []interface{}{map[string]interface{}{"url": "u3"}}}, "u3"},
		{"string list", map[string]interface{}{"images": []interface{}{"u4"}}, "u4"},
		{"nothing", map[string]interface{}{"other": 1}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, firstURL(tt.result, "images", "image_url", "url"))
		})
	}
}
