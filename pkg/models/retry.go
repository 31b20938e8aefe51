package models

import "time"

// RetryPolicy parameterizes how the backend retries a failed action.
// BaseDelay and Jitter are in seconds.
type RetryPolicy struct {
	Attempts  int     `json:"attempts"`
	BaseDelay float64 `json:"baseDelay"`
	Jitter    float64 `json:"jitter"`
}

// DefaultRetryPolicy is used whenever neither the user nor the backend supplies a value.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, BaseDelay: 1, Jitter: 0.5}
}

// RetrySettings is the persisted per-user retry policy.
type RetrySettings struct {
	UserID    string      `db:"user_id"    json:"-"`
	Policy    RetryPolicy `json:"policy"`
	UpdatedAt time.Time   `db:"updated_at" json:"updated_at"`
}
