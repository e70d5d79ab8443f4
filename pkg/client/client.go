// Package client is a typed Go client for the complianced HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/arkritico/wallnut-sub005/pkg/models"
	"github.com/arkritico/wallnut-sub005/pkg/registry"
)

type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	// Actor is sent as the X-Actor header on lifecycle operations.
	Actor string
}

func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Evaluate runs the project data against the active rule set. A
// non-empty idempotencyKey makes retries replay the original report.
func (c *Client) Evaluate(ctx context.Context, projectData map[string]any, pluginIDs []string, idempotencyKey string) (models.EvaluationReport, error) {
	raw, err := json.Marshal(projectData)
	if err != nil {
		return models.EvaluationReport{}, fmt.Errorf("marshal project data: %w", err)
	}
	req := models.EvaluateRequest{ProjectData: raw, PluginIDs: pluginIDs}
	var out models.EvaluationReport
	headers := map[string]string{}
	if idempotencyKey != "" {
		headers["Idempotency-Key"] = idempotencyKey
	}
	err = c.do(ctx, http.MethodPost, "/v1/evaluate", req, headers, &out)
	return out, err
}

func (c *Client) AddRegulation(ctx context.Context, doc models.RegulationDocument) error {
	return c.do(ctx, http.MethodPost, "/v1/regulations", doc, nil, nil)
}

func (c *Client) AddRules(ctx context.Context, regulationID string, rules []models.DeclarativeRule) error {
	return c.do(ctx, http.MethodPost, "/v1/regulations/"+url.PathEscape(regulationID)+"/rules", rules, nil, nil)
}

func (c *Client) VerifyRules(ctx context.Context, regulationID string) error {
	return c.do(ctx, http.MethodPost, "/v1/regulations/"+url.PathEscape(regulationID)+"/verify", nil, nil, nil)
}

func (c *Client) AmendRegulation(ctx context.Context, originalID string, amendment models.RegulationDocument) error {
	return c.do(ctx, http.MethodPost, "/v1/regulations/"+url.PathEscape(originalID)+"/amend", amendment, nil, nil)
}

func (c *Client) SupersedeRegulation(ctx context.Context, oldID string, replacement models.RegulationDocument) error {
	return c.do(ctx, http.MethodPost, "/v1/regulations/"+url.PathEscape(oldID)+"/supersede", replacement, nil, nil)
}

func (c *Client) RevokeRegulation(ctx context.Context, id, date string) error {
	return c.do(ctx, http.MethodPost, "/v1/regulations/"+url.PathEscape(id)+"/revoke", map[string]string{"date": date}, nil, nil)
}

func (c *Client) SetRuleEnabled(ctx context.Context, regulationID, ruleID string, enabled bool) error {
	path := "/v1/regulations/" + url.PathEscape(regulationID) + "/rules/" + url.PathEscape(ruleID) + "/toggle"
	return c.do(ctx, http.MethodPost, path, map[string]bool{"enabled": enabled}, nil, nil)
}

func (c *Client) Regulations(ctx context.Context) ([]models.RegulationDocument, error) {
	var out []models.RegulationDocument
	err := c.do(ctx, http.MethodGet, "/v1/regulations", nil, nil, &out)
	return out, err
}

func (c *Client) ApplicableRegulations(ctx context.Context) ([]models.RegulationDocument, error) {
	var out []models.RegulationDocument
	err := c.do(ctx, http.MethodGet, "/v1/regulations/applicable", nil, nil, &out)
	return out, err
}

func (c *Client) LifecycleChain(ctx context.Context, id string) ([]models.RegulationDocument, error) {
	var out []models.RegulationDocument
	err := c.do(ctx, http.MethodGet, "/v1/regulations/"+url.PathEscape(id)+"/chain", nil, nil, &out)
	return out, err
}

func (c *Client) Coverage(ctx context.Context) (models.CoverageReport, error) {
	var out models.CoverageReport
	err := c.do(ctx, http.MethodGet, "/v1/coverage", nil, nil, &out)
	return out, err
}

// Events returns the audit trail, optionally filtered by regulation.
func (c *Client) Events(ctx context.Context, regulationID string) ([]models.RegistryEvent, error) {
	path := "/v1/events"
	if regulationID != "" {
		path += "?regulation_id=" + url.QueryEscape(regulationID)
	}
	var out []models.RegistryEvent
	err := c.do(ctx, http.MethodGet, path, nil, nil, &out)
	return out, err
}

func (c *Client) Export(ctx context.Context) (registry.Snapshot, error) {
	var out registry.Snapshot
	err := c.do(ctx, http.MethodGet, "/v1/registry/export", nil, nil, &out)
	return out, err
}

func (c *Client) Import(ctx context.Context, snap registry.Snapshot) error {
	return c.do(ctx, http.MethodPost, "/v1/registry/import", snap, nil, nil)
}

// APIError is a non-2xx response decoded from the gateway's error body.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error status=%d: %s", e.StatusCode, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, payload any, headers map[string]string, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if actor := strings.TrimSpace(c.Actor); actor != "" {
		req.Header.Set("X-Actor", actor)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(respBody))
		if err := json.Unmarshal(respBody, &apiErr); err == nil && apiErr.Error != "" {
			msg = apiErr.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(respBody, out)
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: 5 * time.Second}
}
