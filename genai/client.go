package genai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/pladee42/alt-history-reel/config"
)

const defaultBaseURL = "https://api.kie.ai/api/v1"

// Client talks to the generation provider. Text runs through a synchronous
// chat endpoint; image, video and audio generation are asynchronous tasks
// that get polled until they settle.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client

	TextModel   string
	ImageModel  string
	VisionModel string
	VideoModel  string
	AudioModel  string

	pollInterval time.Duration
	taskTimeout  time.Duration
	log          *logrus.Entry
}

func NewClient(cfg *config.Config) (*Client, error) {
	apiKey := os.Getenv("GENAI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("GENAI_API_KEY not set")
	}

	baseURL := cfg.GenAI.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	return &Client{
		BaseURL:      baseURL,
		APIKey:       apiKey,
		HTTPClient:   &http.Client{Timeout: 60 * time.Second},
		TextModel:    cfg.GenAI.TextModel,
		ImageModel:   cfg.GenAI.ImageModel,
		VisionModel:  cfg.GenAI.VisionModel,
		VideoModel:   cfg.GenAI.VideoModel,
		AudioModel:   cfg.GenAI.AudioModel,
		pollInterval: time.Duration(cfg.GenAI.PollInterval) * time.Second,
		taskTimeout:  time.Duration(cfg.GenAI.TaskTimeout) * time.Minute,
		log:          logrus.WithField("component", "genai"),
	}, nil
}

// GenerateJSON sends a prompt expecting a JSON-only reply and unmarshals it
// into out. A reply that is not valid JSON for the target shape is
// ErrMalformedOutput, not a transient failure.
func (c *Client) GenerateJSON(ctx context.Context, prompt string, out interface{}) error {
	body := map[string]interface{}{
		"model": c.TextModel,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
		"response_format": map[string]string{"type": "json_object"},
	}

	var resp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := c.postJSON(ctx, "/chat/completions", body, &resp); err != nil {
		return err
	}
	if len(resp.Choices) == 0 {
		return fmt.Errorf("%w: empty choices", ErrMalformedOutput)
	}

	content := stripCodeFence(resp.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(content), out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	return nil
}

// GenerateImage creates a text-to-image task and waits for the result URL.
func (c *Client) GenerateImage(ctx context.Context, prompt string) (string, error) {
	taskID, err := c.createTask(ctx, c.ImageModel, map[string]interface{}{
		"prompt":       prompt,
		"aspect_ratio": "9:16",
		"num_images":   1,
	})
	if err != nil {
		return "", err
	}
	result, err := c.waitForTask(ctx, taskID)
	if err != nil {
		return "", err
	}
	url := firstURL(result, "images", "image_url", "url")
	if url == "" {
		return "", fmt.Errorf("%w: image task %s returned no url", ErrMalformedOutput, taskID)
	}
	return url, nil
}

// VerifyImageSet submits the full ordered keyframe set to the vision model
// as one batch and asks for a PASS/FAIL verdict on location and camera
// consistency. The prompt tolerates lighting/weather/time-of-day drift on
// purpose; only structural breaks should fail.
func (c *Client) VerifyImageSet(ctx context.Context, imageURLs []string, locationName string) (bool, string, error) {
	content := []map[string]interface{}{
		{"type": "text", "text": fmt.Sprintf(
			"These %d images are sequential keyframes of the same location, %q, at different points in time. "+
				"Verify they show the same location from the same camera angle with consistent framing. "+
				"Differences in lighting, weather, era or time of day are expected and must NOT fail. "+
				"Reply with PASS, or FAIL followed by the structural inconsistency you found.",
			len(imageURLs), locationName)},
	}
	for _, u := range imageURLs {
		content = append(content, map[string]interface{}{
			"type":      "image_url",
			"image_url": map[string]string{"url": u},
		})
	}

	body := map[string]interface{}{
		"model":    c.VisionModel,
		"messages": []map[string]interface{}{{"role": "user", "content": content}},
	}

	var resp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := c.postJSON(ctx, "/chat/completions", body, &resp); err != nil {
		return false, "", err
	}
	if len(resp.Choices) == 0 {
		return false, "", fmt.Errorf("%w: empty vision reply", ErrMalformedOutput)
	}

	feedback := strings.TrimSpace(resp.Choices[0].Message.Content)
	passed := strings.HasPrefix(strings.ToUpper(feedback), "PASS")
	return passed, feedback, nil
}

// ImageToVideo animates one keyframe with the style's motion prompt.
func (c *Client) ImageToVideo(ctx context.Context, imageURL, motionPrompt string) (string, error) {
	taskID, err := c.createTask(ctx, c.VideoModel, map[string]interface{}{
		"image_url":    imageURL,
		"prompt":       motionPrompt,
		"aspect_ratio": "9:16",
	})
	if err != nil {
		return "", err
	}
	result, err := c.waitForTask(ctx, taskID)
	if err != nil {
		return "", err
	}
	url := firstURL(result, "video", "video_url", "url")
	if url == "" {
		return "", fmt.Errorf("%w: video task %s returned no url", ErrMalformedOutput, taskID)
	}
	return url, nil
}

// GenerateAudio produces an ambient sound-effect track.
func (c *Client) GenerateAudio(ctx context.Context, prompt, mood string) (string, error) {
	taskID, err := c.createTask(ctx, c.AudioModel, map[string]interface{}{
		"prompt":   fmt.Sprintf("%s, %s", prompt, mood),
		"duration": 5.0,
	})
	if err != nil {
		return "", err
	}
	result, err := c.waitForTask(ctx, taskID)
	if err != nil {
		return "", err
	}
	url := firstURL(result, "audio", "audio_url", "url")
	if url == "" {
		return "", fmt.Errorf("%w: audio task %s returned no url", ErrMalformedOutput, taskID)
	}
	return url, nil
}

// Download fetches a generated artifact to a local file.
func (c *Client) Download(ctx context.Context, url, destPath string) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return &ProviderError{Op: "download", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &ProviderError{Op: "download", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	f, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(f, resp.Body)
	return err
}

// createTask starts an asynchronous generation job and returns its task id.
func (c *Client) createTask(ctx context.Context, model string, input map[string]interface{}) (string, error) {
	body := map[string]interface{}{
		"model": model,
		"input": input,
	}
	var resp struct {
		Data struct {
			TaskID string `json:"taskId"`
		} `json:"data"`
		TaskID string `json:"task_id"`
	}
	if err := c.postJSON(ctx, "/jobs/createTask", body, &resp); err != nil {
		return "", err
	}
	if resp.Data.TaskID != "" {
		return resp.Data.TaskID, nil
	}
	if resp.TaskID != "" {
		return resp.TaskID, nil
	}
	return "", fmt.Errorf("%w: create task response missing task id", ErrMalformedOutput)
}

// waitForTask polls the job record until it settles or the timeout hits.
// Transient polling errors just skip a tick; the overall deadline bounds
// the wait.
func (c *Client) waitForTask(ctx context.Context, taskID string) (map[string]interface{}, error) {
	timeout := time.After(c.taskTimeout)
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-timeout:
			return nil, &ProviderError{Op: "poll", Err: fmt.Errorf("task %s timed out after %s", taskID, c.taskTimeout)}
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			var resp struct {
				Data struct {
					State      string `json:"state"`
					ResultJSON string `json:"resultJson"`
					FailMsg    string `json:"failMsg"`
				} `json:"data"`
			}
			if err := c.getJSON(ctx, "/jobs/recordInfo?taskId="+taskID, &resp); err != nil {
				c.log.WithError(err).Debug("poll error, retrying")
				continue
			}

			switch strings.ToLower(resp.Data.State) {
			case "success", "succeeded", "finished", "completed":
				result := map[string]interface{}{}
				if resp.Data.ResultJSON != "" {
					if err := json.Unmarshal([]byte(resp.Data.ResultJSON), &result); err != nil {
						return nil, fmt.Errorf("%w: task %s result: %v", ErrMalformedOutput, taskID, err)
					}
				}
				return result, nil
			case "fail", "failed", "error":
				return nil, &ProviderError{Op: "task", Err: fmt.Errorf("task %s failed: %s", taskID, resp.Data.FailMsg)}
			}
			// still queued or generating
		}
	}
}

// postJSON issues a POST with exponential backoff on transport-level errors
// and 5xx responses. 4xx responses are not retried.
func (c *Client) postJSON(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
		req.Header.Set("Content-Type", "application/json")

		res, err := c.HTTPClient.Do(req)
		if err != nil {
			return err
		}
		defer res.Body.Close()

		data, err := io.ReadAll(res.Body)
		if err != nil {
			return err
		}
		if res.StatusCode >= 500 {
			return fmt.Errorf("http %d: %s", res.StatusCode, truncate(string(data), 200))
		}
		if res.StatusCode >= 300 {
			return backoff.Permanent(fmt.Errorf("http %d: %s", res.StatusCode, truncate(string(data), 200)))
		}
		if out == nil {
			return nil
		}
		return json.Unmarshal(data, out)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return &ProviderError{Op: "POST " + path, Err: err}
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	res, err := c.HTTPClient.Do(req)
	if err != nil {
		return &ProviderError{Op: "GET " + path, Err: err}
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return &ProviderError{Op: "GET " + path, Err: fmt.Errorf("http %d", res.StatusCode)}
	}
	return json.NewDecoder(res.Body).Decode(out)
}

// firstURL digs a URL out of the loosely shaped task result. Providers vary:
// some return {"images":[{"url":...}]}, some a flat key.
func firstURL(result map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		switch v := result[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case map[string]interface{}:
			if s, ok := v["url"].(string); ok && s != "" {
				return s
			}
		case []interface{}:
			for _, item := range v {
				if m, ok := item.(map[string]interface{}); ok {
					if s, ok := m["url"].(string); ok && s != "" {
						return s
					}
				}
				if s, ok := item.(string); ok && s != "" {
					return s
				}
			}
		}
	}
	return ""
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
