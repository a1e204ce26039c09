package durable

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/warpmetrics/coder/pkg/model"
)

// HTTPClient talks to the remote warpmetrics durable-state service. It
// is selected when config.warpmetricsApiKey is set and durable.backend
// is unset. Network failures and 5xx/429 responses are retried with
// backoff by the underlying retryablehttp transport, which returns an
// error without the body once retries run out; other error responses
// are surfaced with their body.
type HTTPClient struct {
	baseURL string
	apiKey  string
	hc      *retryablehttp.Client
}

// NewHTTPClient returns a Client backed by the remote service at
// baseURL, authenticating with apiKey.
func NewHTTPClient(baseURL, apiKey string) *HTTPClient {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 4
	rc.Logger = nil
	rc.HTTPClient.Timeout = pollTimeout
	return &HTTPClient{baseURL: baseURL, apiKey: apiKey, hc: rc}
}

type reserveActResponse struct {
	ID string `json:"id"`
}

func (c *HTTPClient) ReserveAct(ctx context.Context, name string) (string, error) {
	var resp reserveActResponse
	err := c.post(ctx, "/acts/reserve", map[string]any{"name": name}, &resp)
	return resp.ID, err
}

type startRunResponse struct {
	RunID string `json:"runId"`
}

func (c *HTTPClient) StartRun(ctx context.Context, refActID, label string, opts model.Opts) (string, error) {
	var resp startRunResponse
	err := c.post(ctx, "/runs", map[string]any{
		"refActId": refActID, "label": label, "opts": opts,
	}, &resp)
	return resp.RunID, err
}

type createGroupResponse struct {
	GroupID string `json:"groupId"`
}

func (c *HTTPClient) CreateGroup(ctx context.Context, runID, label string, opts model.Opts) (string, error) {
	var resp createGroupResponse
	err := c.post(ctx, fmt.Sprintf("/runs/%s/groups", runID), map[string]any{
		"label": label, "opts": opts,
	}, &resp)
	return resp.GroupID, err
}

type recordOutcomeResponse struct {
	OutcomeID string `json:"outcomeId"`
}

func (c *HTTPClient) RecordOutcome(ctx context.Context, container, name string, opts model.Opts) (string, error) {
	var resp recordOutcomeResponse
	err := c.post(ctx, fmt.Sprintf("/containers/%s/outcomes", container), map[string]any{
		"name": name, "opts": opts,
	}, &resp)
	return resp.OutcomeID, err
}

type recordActResponse struct {
	ActID string `json:"actId"`
}

func (c *HTTPClient) RecordAct(ctx context.Context, outcomeID, actID, name string, opts model.Opts) (string, error) {
	var resp recordActResponse
	err := c.post(ctx, fmt.Sprintf("/outcomes/%s/acts", outcomeID), map[string]any{
		"actId": actID, "name": name, "opts": opts,
	}, &resp)
	return resp.ActID, err
}

func (c *HTTPClient) RecordFollowup(ctx context.Context, actID, runID string) error {
	return c.post(ctx, fmt.Sprintf("/acts/%s/followups", actID), map[string]any{"runId": runID}, nil)
}

type runsResponse struct {
	Runs []*model.Run `json:"runs"`
}

func (c *HTTPClient) FindOpenIssueRuns(ctx context.Context) ([]*model.Run, error) {
	var resp runsResponse
	err := c.get(ctx, "/runs?label=Issue&open=true", &resp)
	return resp.Runs, err
}

func (c *HTTPClient) FindRuns(ctx context.Context, label string, filter RunFilter) ([]*model.Run, error) {
	var resp runsResponse
	path := fmt.Sprintf("/runs?label=%s&outcome=%s&issueId=%s&since=%d",
		label, filter.OutcomeName, filter.IssueID, filter.Since)
	err := c.get(ctx, path, &resp)
	return resp.Runs, err
}

func (c *HTTPClient) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	var run model.Run
	err := c.get(ctx, fmt.Sprintf("/runs/%s", runID), &run)
	return &run, err
}

func (c *HTTPClient) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("durable http: encode request: %w", err)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("durable http: build request: %w", err)
	}
	return c.do(req, out)
}

func (c *HTTPClient) get(ctx context.Context, path string, out any) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("durable http: build request: %w", err)
	}
	return c.do(req, out)
}

func (c *HTTPClient) do(req *retryablehttp.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("durable http: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("durable http: read response: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("durable http: %s returned %d: %s", req.URL.Path, resp.StatusCode, data)
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("durable http: decode response: %w", err)
	}
	return nil
}

// pollTimeout bounds how long a single HTTP round trip may take before
// the retryable transport gives up on this attempt.
const pollTimeout = 30 * time.Second
