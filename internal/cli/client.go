package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/charliek/semrun/internal/api"
	"github.com/charliek/semrun/internal/constants"
	"github.com/charliek/semrun/internal/domain"
)

// Client is an HTTP client for the semrun API
type Client struct {
	baseURL    string
	httpClient *http.Client
	// streamClient has no timeout, for SSE
	streamClient *http.Client
}

// NewClient creates a new API client
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: constants.DefaultRequestTimeout,
		},
		streamClient: &http.Client{},
	}
}

// APIError is an error response from a run
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return e.Message
}

// Unwrap maps the response code back to its domain error
func (e *APIError) Unwrap() error {
	switch e.Code {
	case domain.ErrCodeJobNotFound:
		return domain.ErrJobNotFound
	case domain.ErrCodeJobNotRunning:
		return domain.ErrJobNotRunning
	case domain.ErrCodeInvalidPattern:
		return domain.ErrInvalidPattern
	case domain.ErrCodeShutdownInProgress:
		return domain.ErrShutdownInProgress
	case domain.ErrCodeGateUnsupported:
		return domain.ErrGateUnsupported
	}
	return nil
}

// GetStatus gets run status
func (c *Client) GetStatus() (*api.StatusResponse, error) {
	var resp api.StatusResponse
	if err := c.get("/api/v1/status", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetJobs gets all jobs
func (c *Client) GetJobs() (*api.JobListResponse, error) {
	var resp api.JobListResponse
	if err := c.get("/api/v1/jobs", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetJob gets a single job
func (c *Client) GetJob(name string) (*api.JobDetailResponse, error) {
	var resp api.JobDetailResponse
	if err := c.get("/api/v1/jobs/"+url.PathEscape(name), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetGate gets the gate of the run
func (c *Client) GetGate() (*api.GateResponse, error) {
	var resp api.GateResponse
	if err := c.get("/api/v1/gate", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CancelJob cancels a job
func (c *Client) CancelJob(name string) error {
	var resp api.SuccessResponse
	return c.post("/api/v1/jobs/"+url.PathEscape(name)+"/cancel", &resp)
}

// Shutdown stops the run
func (c *Client) Shutdown() error {
	var resp api.SuccessResponse
	return c.post("/api/v1/shutdown", &resp)
}

// buildLogQueryParams builds query parameters for log requests
func buildLogQueryParams(params domain.LogParams) url.Values {
	query := url.Values{}
	if params.Job != "" {
		query.Set("job", params.Job)
	}
	if params.Lines > 0 {
		query.Set("lines", strconv.Itoa(params.Lines))
	}
	if params.Pattern != "" {
		query.Set("pattern", params.Pattern)
	}
	if params.Regex {
		query.Set("regex", "true")
	}
	return query
}

// GetLogs gets logs with optional filtering
func (c *Client) GetLogs(params domain.LogParams) (*api.LogsResponse, error) {
	path := "/api/v1/logs"
	if query := buildLogQueryParams(params); len(query) > 0 {
		path += "?" + query.Encode()
	}

	var resp api.LogsResponse
	if err := c.get(path, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// StreamLogs calls callback for each streamed entry until the run finishes,
// the connection drops or ctx is done
func (c *Client) StreamLogs(ctx context.Context, params domain.LogParams, callback func(api.LogEntryResponse)) error {
	params.Lines = 0
	path := "/api/v1/logs/stream"
	if query := buildLogQueryParams(params); len(query) > 0 {
		path += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF || ctx.Err() != nil {
				return nil
			}
			return err
		}

		line = strings.TrimSpace(line)
		switch {
		case line == "" || strings.HasPrefix(line, ":"):
			continue
		case line == "event: done":
			return nil
		case strings.HasPrefix(line, "data: "):
			if entry, ok := parseSSELogEntry(strings.TrimPrefix(line, "data: ")); ok {
				callback(entry)
			}
		}
	}
}

// parseSSELogEntry parses the data field of an SSE event
func parseSSELogEntry(data string) (api.LogEntryResponse, bool) {
	var entry api.LogEntryResponse
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		return api.LogEntryResponse{}, false
	}
	return entry, true
}

func (c *Client) get(path string, v any) error {
	return c.do(http.MethodGet, path, v)
}

func (c *Client) post(path string, v any) error {
	return c.do(http.MethodPost, path, v)
}

func (c *Client) do(method, path string, v any) error {
	req, err := http.NewRequest(method, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func decodeError(resp *http.Response) error {
	var errResp api.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil && errResp.Error != "" {
		return &APIError{Status: resp.StatusCode, Code: errResp.Code, Message: errResp.Error}
	}
	return &APIError{Status: resp.StatusCode, Message: fmt.Sprintf("request failed with status %d", resp.StatusCode)}
}

// parseTimestamp parses an API timestamp, falling back to now
func parseTimestamp(s string) time.Time {
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Now()
	}
	return ts
}

// isConnRefused reports whether err means nothing is listening at the address
func isConnRefused(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED)
}
