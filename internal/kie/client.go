package kie

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Task states reported by the provider. Anything else is treated as still
// in flight.
const (
	StateWaiting    = "waiting"
	StateProcessing = "processing"
	StateSuccess    = "success"
	StateFailed     = "failed"
)

type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	log        *slog.Logger
}

type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// CreateTaskRequest describes one image-to-image generation job.
type CreateTaskRequest struct {
	Prompt      string
	ImageURL    string
	CallbackURL string
}

// TaskStatus is the provider's view of a job, shared by the status endpoint
// and the callback payload.
type TaskStatus struct {
	TaskID     string `json:"taskId"`
	State      string `json:"state"`
	ResultJSON string `json:"resultJson"`
	FailCode   string `json:"failCode"`
	FailMsg    string `json:"failMsg"`
}

// Terminal reports whether the provider will never update this task again.
func (s TaskStatus) Terminal() bool {
	return normalizeState(s.State) == StateSuccess || normalizeState(s.State) == StateFailed
}

// NormalizedState maps the provider's state vocabulary onto the four states
// the job lifecycle understands.
func (s TaskStatus) NormalizedState() string {
	return normalizeState(s.State)
}

// ResultURLs parses the resultJson payload of a successful task.
func (s TaskStatus) ResultURLs() ([]string, error) {
	if s.ResultJSON == "" {
		return nil, fmt.Errorf("empty resultJson")
	}
	var result struct {
		ResultURLs []string `json:"resultUrls"`
	}
	if err := json.Unmarshal([]byte(s.ResultJSON), &result); err != nil {
		return nil, fmt.Errorf("parse resultJson: %w", err)
	}
	return result.ResultURLs, nil
}

func NewClient(cfg Config, log *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &Client{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log: log,
	}
}

// CreateTask registers an asynchronous generation job and returns the
// provider-assigned task id. Terminal updates arrive on the callback URL;
// GetTaskStatus covers the case where they never do.
func (c *Client) CreateTask(ctx context.Context, req CreateTaskRequest) (string, error) {
	fullURL, err := c.endpoint("/api/v1/jobs/createTask", nil)
	if err != nil {
		return "", err
	}

	payload := map[string]any{
		"model": "nano-banana-pro",
		"input": map[string]any{
			"prompt":        req.Prompt,
			"image_input":   []string{req.ImageURL},
			"aspect_ratio":  "1:1",
			"resolution":    "1K",
			"output_format": "png",
		},
	}
	if req.CallbackURL != "" {
		payload["callBackUrl"] = req.CallbackURL
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, fullURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("post kie: %w", err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode >= 300 {
		c.log.Error("KIE create task failed", "status", resp.StatusCode, "body", truncateBody(rawBody))
		return "", fmt.Errorf("kie error: status=%d body=%s", resp.StatusCode, truncateBody(rawBody))
	}

	var createResp struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
		Data struct {
			TaskID string `json:"taskId"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rawBody, &createResp); err != nil {
		return "", fmt.Errorf("decode create task response: %w (body=%s)", err, truncateBody(rawBody))
	}

	if createResp.Code != 200 {
		return "", fmt.Errorf("create task failed: code=%d msg=%s", createResp.Code, createResp.Msg)
	}
	if createResp.Data.TaskID == "" {
		return "", fmt.Errorf("empty taskId in response")
	}

	c.log.Info("KIE task created", "task_id", createResp.Data.TaskID)
	return createResp.Data.TaskID, nil
}

// GetTaskStatus fetches the provider's current view of a task once. Callers
// decide whether and when to ask again.
func (c *Client) GetTaskStatus(ctx context.Context, taskID string) (*TaskStatus, error) {
	params := url.Values{}
	params.Set("taskId", taskID)
	fullURL, err := c.endpoint("/api/v1/jobs/recordInfo", params)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get task status: %w", err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode >= 300 {
		c.log.Error("KIE task status failed", "status", resp.StatusCode, "task_id", taskID, "body", truncateBody(rawBody))
		return nil, fmt.Errorf("kie error: status=%d body=%s", resp.StatusCode, truncateBody(rawBody))
	}

	var statusResp struct {
		Code int        `json:"code"`
		Msg  string     `json:"msg"`
		Data TaskStatus `json:"data"`
	}
	if err := json.Unmarshal(rawBody, &statusResp); err != nil {
		return nil, fmt.Errorf("decode status response: %w (body=%s)", err, truncateBody(rawBody))
	}

	if statusResp.Code != 200 {
		return nil, fmt.Errorf("get task status failed: code=%d msg=%s", statusResp.Code, statusResp.Msg)
	}

	return &statusResp.Data, nil
}

func (c *Client) endpoint(path string, params url.Values) (string, error) {
	baseURL, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base URL: %w", err)
	}
	endpoint, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	if params != nil {
		endpoint.RawQuery = params.Encode()
	}
	return baseURL.ResolveReference(endpoint).String(), nil
}

func normalizeState(state string) string {
	switch strings.ToLower(strings.TrimSpace(state)) {
	case "success":
		return StateSuccess
	case "fail", "failed":
		return StateFailed
	case "processing", "generating":
		return StateProcessing
	default:
		return StateWaiting
	}
}

func truncateBody(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}
