package mock

import (
	"context"
	"sync"

	"github.com/modofreelanceos/automations/internal/backend"
)

// MockClient satisfies backend.Client for testing. Each call is recorded.
type MockClient struct {
	RunFunc      func(ctx context.Context, userID string, req backend.RunRequest) (*backend.RunResponse, error)
	GetJobFunc   func(ctx context.Context, userID, jobID string) (*backend.Job, error)
	DefaultsFunc func(ctx context.Context, userID string) (*backend.Defaults, error)

	mu           sync.Mutex
	runs         []backend.RunRequest
	jobPolls     map[string]int
	defaultCalls int
}

func (m *MockClient) RunAutomation(ctx context.Context, userID string, req backend.RunRequest) (*backend.RunResponse, error) {
	m.mu.Lock()
	m.runs = append(m.runs, req)
	m.mu.Unlock()
	if m.RunFunc != nil {
		return m.RunFunc(ctx, userID, req)
	}
	return &backend.RunResponse{}, nil
}

func (m *MockClient) GetJob(ctx context.Context, userID, jobID string) (*backend.Job, error) {
	m.mu.Lock()
	if m.jobPolls == nil {
		m.jobPolls = make(map[string]int)
	}
	m.jobPolls[jobID]++
	m.mu.Unlock()
	if m.GetJobFunc != nil {
		return m.GetJobFunc(ctx, userID, jobID)
	}
	return &backend.Job{Status: "queued"}, nil
}

func (m *MockClient) Defaults(ctx context.Context, userID string) (*backend.Defaults, error) {
	m.mu.Lock()
	m.defaultCalls++
	m.mu.Unlock()
	if m.DefaultsFunc != nil {
		return m.DefaultsFunc(ctx, userID)
	}
	return &backend.Defaults{}, nil
}

// Runs returns a copy of every run request received.
func (m *MockClient) Runs() []backend.RunRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]backend.RunRequest, len(m.runs))
	copy(out, m.runs)
	return out
}

// Polls returns how many times jobID was fetched.
func (m *MockClient) Polls(jobID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.jobPolls[jobID]
}

func (m *MockClient) DefaultsCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.defaultCalls
}

// NewMockClient returns a MockClient that accepts every run as job "job-1"
// and reports it finished on the first poll.
func NewMockClient() *MockClient {
	return &MockClient{
		RunFunc: func(_ context.Context, _ string, _ backend.RunRequest) (*backend.RunResponse, error) {
			jobID, status := "job-1", "queued"
			return &backend.RunResponse{JobID: &jobID, Status: &status}, nil
		},
		GetJobFunc: func(_ context.Context, _, _ string) (*backend.Job, error) {
			return &backend.Job{Status: "finished"}, nil
		},
	}
}

// NewFailingClient returns a MockClient whose every call fails with err.
func NewFailingClient(err error) *MockClient {
	return &MockClient{
		RunFunc: func(_ context.Context, _ string, _ backend.RunRequest) (*backend.RunResponse, error) {
			return nil, err
		},
		GetJobFunc: func(_ context.Context, _, _ string) (*backend.Job, error) {
			return nil, err
		},
		DefaultsFunc: func(_ context.Context, _ string) (*backend.Defaults, error) {
			return nil, err
		},
	}
}

// NewSequenceClient returns a MockClient whose polls walk through statuses in
// order, repeating the last one once exhausted.
func NewSequenceClient(jobID string, statuses ...string) *MockClient {
	var mu sync.Mutex
	next := 0
	return &MockClient{
		RunFunc: func(_ context.Context, _ string, _ backend.RunRequest) (*backend.RunResponse, error) {
			id, status := jobID, "queued"
			return &backend.RunResponse{JobID: &id, Status: &status}, nil
		},
		GetJobFunc: func(_ context.Context, _, _ string) (*backend.Job, error) {
			mu.Lock()
			defer mu.Unlock()
			status := statuses[len(statuses)-1]
			if next < len(statuses) {
				status = statuses[next]
				next++
			}
			return &backend.Job{Status: status}, nil
		},
	}
}

var _ backend.Client = (*MockClient)(nil)
