package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"
)

// Sentinel errors for backend client failures.
var (
	ErrBackendUnreachable = errors.New("backend unreachable")
	ErrBackendTimeout     = errors.New("backend request timeout")
	ErrInvalidResponse    = errors.New("backend returned invalid response")
)

// StatusError is returned for non-2xx responses. Detail carries the backend's
// own explanation when the error body could be parsed.
type StatusError struct {
	StatusCode int
	Detail     string
}

func (e *StatusError) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	return fmt.Sprintf("backend responded with status %d", e.StatusCode)
}

// AuthHeaderProvider supplies the Authorization header value for requests
// made on behalf of a user.
type AuthHeaderProvider interface {
	AuthHeader(ctx context.Context, userID string) (string, error)
}

// Client is the interface for talking to the automation runner.
type Client interface {
	RunAutomation(ctx context.Context, userID string, req RunRequest) (*RunResponse, error)
	GetJob(ctx context.Context, userID, jobID string) (*Job, error)
	Defaults(ctx context.Context, userID string) (*Defaults, error)
}

// RunRequest is the body of POST /api/v1/automations/run.
type RunRequest struct {
	UserID         string  `json:"userId"`
	AutomationID   string  `json:"automationId"`
	Name           string  `json:"name"`
	Trigger        string  `json:"trigger"`
	Action         string  `json:"action"`
	ActionType     string  `json:"actionType"`
	Target         *string `json:"target"`
	Message        *string `json:"message"`
	Schedule       string  `json:"schedule"`
	RetryAttempts  int     `json:"retryAttempts"`
	RetryBaseDelay float64 `json:"retryBaseDelay"`
	RetryJitter    float64 `json:"retryJitter"`
}

// RunResponse is the accepted-run reply. Both fields are optional.
type RunResponse struct {
	JobID  *string `json:"job_id"`
	Status *string `json:"status"`
}

// Job is the subset of a backend job the service interprets.
type Job struct {
	Status string     `json:"status"`
	Result *JobResult `json:"result"`
}

type JobResult struct {
	Success *bool   `json:"success"`
	Status  *string `json:"status"`
	Error   *string `json:"error"`
}

// Defaults are the server-side retry defaults; omitted fields stay nil.
type Defaults struct {
	Attempts  *int     `json:"attempts"`
	BaseDelay *float64 `json:"baseDelay"`
	Jitter    *float64 `json:"jitter"`
}

// HTTPClient implements Client using the runner's HTTP API.
type HTTPClient struct {
	baseURL string
	auth    AuthHeaderProvider
	client  *http.Client
}

// NewHTTPClient creates a new backend HTTP client.
func NewHTTPClient(baseURL string, auth AuthHeaderProvider, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		auth:    auth,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) RunAutomation(ctx context.Context, userID string, req RunRequest) (*RunResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding run request: %w", err)
	}

	var runResp RunResponse
	if err := c.do(ctx, userID, http.MethodPost, "/api/v1/automations/run", body, &runResp); err != nil {
		return nil, err
	}
	return &runResp, nil
}

func (c *HTTPClient) GetJob(ctx context.Context, userID, jobID string) (*Job, error) {
	var jobResp struct {
		Job *Job `json:"job"`
	}
	path := "/api/v1/automations/jobs/" + url.PathEscape(jobID)
	if err := c.do(ctx, userID, http.MethodGet, path, nil, &jobResp); err != nil {
		return nil, err
	}
	if jobResp.Job == nil {
		return &Job{}, nil
	}
	return jobResp.Job, nil
}

func (c *HTTPClient) Defaults(ctx context.Context, userID string) (*Defaults, error) {
	var defaultsResp struct {
		Defaults *Defaults `json:"defaults"`
	}
	if err := c.do(ctx, userID, http.MethodGet, "/api/v1/automations/defaults", nil, &defaultsResp); err != nil {
		return nil, err
	}
	if defaultsResp.Defaults == nil {
		return &Defaults{}, nil
	}
	return defaultsResp.Defaults, nil
}

func (c *HTTPClient) do(ctx context.Context, userID, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if err := c.setHeaders(ctx, httpReq, userID); err != nil {
		return err
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeStatusError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return nil
}

func (c *HTTPClient) setHeaders(ctx context.Context, req *http.Request, userID string) error {
	req.Header.Set("Accept", "application/json")
	if c.auth == nil {
		return nil
	}
	header, err := c.auth.AuthHeader(ctx, userID)
	if err != nil {
		return fmt.Errorf("building auth header: %w", err)
	}
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	return nil
}

// decodeStatusError reads {detail} from a non-2xx body. An unparsable body
// still yields a StatusError, just without Detail.
func decodeStatusError(resp *http.Response) error {
	statusErr := &StatusError{StatusCode: resp.StatusCode}

	var errBody struct {
		Detail any `json:"detail"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&errBody); err != nil {
		return statusErr
	}
	switch d := errBody.Detail.(type) {
	case string:
		statusErr.Detail = d
	case nil:
	default:
		// FastAPI-style validation errors arrive as a list; keep them readable.
		if b, err := json.Marshal(d); err == nil {
			statusErr.Detail = string(b)
		}
	}
	return statusErr
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrBackendTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrBackendTimeout, err)
	}

	return fmt.Errorf("%w: %v", ErrBackendUnreachable, err)
}

// Message renders err as the human-readable text stored on a rule.
func Message(err error) string {
	var statusErr *StatusError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &statusErr):
		return statusErr.Error()
	case errors.Is(err, ErrBackendTimeout):
		return "El backend no respondió a tiempo."
	case errors.Is(err, ErrBackendUnreachable):
		return "No se pudo conectar con el backend."
	default:
		return err.Error()
	}
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)
