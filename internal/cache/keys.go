package cache

import "fmt"

func RunStatusKey(jobID string) string {
	return fmt.Sprintf("automation:job:%s", jobID)
}

func RateLimitKey(principal string) string {
	return fmt.Sprintf("ratelimit:%s", principal)
}

// BackendDefaultsKey holds the runner's retry defaults. They are global,
// so one key serves every user.
func BackendDefaultsKey() string {
	return "automation:defaults"
}
