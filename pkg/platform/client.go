// Package platform is a thin client for the Data Productivity Cloud public API.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Options configures a Client.
type Options struct {
	BaseURL    string
	ProjectID  string
	Token      string
	HTTPClient *http.Client
}

// Client issues authenticated requests against a single project.
type Client struct {
	baseURL   string
	projectID string
	token     string
	http      *http.Client
}

// New validates opts and returns a Client.
func New(opts Options) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, errors.New("api base url is required")
	}
	if strings.TrimSpace(opts.Token) == "" {
		return nil, errors.New("bearer token is required")
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{
		baseURL:   base,
		projectID: opts.ProjectID,
		token:     opts.Token,
		http:      opts.HTTPClient,
	}, nil
}

// ListConnectors fetches every connector profile at endpoint (for example
// "/flex-connectors"). The response must be exactly 200 with a JSON array body.
func (c *Client) ListConnectors(ctx context.Context, endpoint string) ([]map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", endpoint, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &RemoteFetchError{Endpoint: endpoint, StatusCode: resp.StatusCode, Body: string(body)}
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var connectors []map[string]any
	if err := dec.Decode(&connectors); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	return connectors, nil
}

// ArtifactMetadata is carried as request headers on artifact creation.
type ArtifactMetadata struct {
	VersionName     string
	EnvironmentName string
	CommitHash      string
	Branch          string
}

// ArtifactRequest is a pre-encoded multipart body plus its metadata.
type ArtifactRequest struct {
	Metadata    ArtifactMetadata
	ContentType string
	Body        io.Reader
}

// ArtifactResponse holds the raw response of a successful artifact creation.
type ArtifactResponse struct {
	StatusCode int
	Body       []byte
}

// CreateArtifact posts the artifact body to /projects/{project}/artifacts.
// Any status outside [200,300) yields a *PublishError.
func (c *Client) CreateArtifact(ctx context.Context, ar ArtifactRequest) (*ArtifactResponse, error) {
	if c.projectID == "" {
		return nil, errors.New("project id is required")
	}
	if ar.Body == nil {
		return nil, errors.New("artifact body is required")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.projectURL("artifacts"), ar.Body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.authorize(req)
	req.Header.Set("Content-Type", ar.ContentType)
	setRawHeader(req.Header, "versionName", ar.Metadata.VersionName)
	setRawHeader(req.Header, "environmentName", url.QueryEscape(ar.Metadata.EnvironmentName))
	if ar.Metadata.CommitHash != "" {
		setRawHeader(req.Header, "commitHash", ar.Metadata.CommitHash)
	}
	if ar.Metadata.Branch != "" {
		setRawHeader(req.Header, "branch", ar.Metadata.Branch)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post artifact: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read artifact response: %w", err)
	}
	if !isSuccess(resp.StatusCode) {
		return nil, &PublishError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return &ArtifactResponse{StatusCode: resp.StatusCode, Body: body}, nil
}

// Execution is the platform's acknowledgement of a pipeline execution request.
type Execution struct {
	PipelineName string
	ID           string
	StatusCode   int
	Body         []byte
	// DecodeErr is set when an accepted request's body carried no readable
	// execution id. The execution itself still started.
	DecodeErr error
}

// ExecutePipeline starts pipelineName in environmentName.
// Any status outside [200,300) yields an *ExecutionError.
func (c *Client) ExecutePipeline(ctx context.Context, pipelineName, environmentName string) (*Execution, error) {
	if c.projectID == "" {
		return nil, errors.New("project id is required")
	}
	payload, err := json.Marshal(map[string]string{
		"pipelineName":    pipelineName,
		"environmentName": environmentName,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal execution request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.projectURL("pipeline-executions"), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.authorize(req)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post pipeline execution: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read pipeline execution response: %w", err)
	}
	if !isSuccess(resp.StatusCode) {
		return nil, &ExecutionError{Pipeline: pipelineName, StatusCode: resp.StatusCode, Body: string(body)}
	}

	exec := &Execution{PipelineName: pipelineName, StatusCode: resp.StatusCode, Body: body}
	var ack struct {
		ID string `json:"pipelineExecutionId"`
	}
	if err := json.Unmarshal(body, &ack); err != nil {
		exec.DecodeErr = fmt.Errorf("decode pipeline execution response: %w", err)
	} else {
		exec.ID = ack.ID
	}
	return exec, nil
}

func (c *Client) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.token)
}

func (c *Client) projectURL(resource string) string {
	return fmt.Sprintf("%s/projects/%s/%s", c.baseURL, url.PathEscape(c.projectID), resource)
}

// setRawHeader keeps the platform's camelCase header names as-is.
func setRawHeader(h http.Header, key, value string) {
	h[key] = []string{value}
}

func isSuccess(code int) bool {
	return code >= 200 && code < 300
}
