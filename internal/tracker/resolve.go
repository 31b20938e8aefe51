package tracker

import (
	"github.com/modofreelanceos/automations/internal/backend"
	"github.com/modofreelanceos/automations/pkg/models"
)

// terminalStatuses are the raw backend job statuses that end a poll loop.
var terminalStatuses = map[string]bool{
	models.RunStatusFinished: true,
	models.RunStatusFailed:   true,
	models.RunStatusCanceled: true,
	models.RunStatusStopped:  true,
	models.RunStatusDeferred: true,
}

// IsTerminal reports whether a raw backend job status ends polling.
func IsTerminal(status string) bool {
	return terminalStatuses[status]
}

// ResolveStatus maps a backend job onto the status recorded on the rule.
// A finished job resolves to its nested result status, then to error when
// the result reports failure, then to ok. Every other status passes through.
func ResolveStatus(job *backend.Job) string {
	if job.Status != models.RunStatusFinished {
		return job.Status
	}
	if job.Result != nil {
		if job.Result.Status != nil && *job.Result.Status != "" {
			return *job.Result.Status
		}
		if job.Result.Success != nil && !*job.Result.Success {
			return models.RunStatusError
		}
	}
	return models.RunStatusOK
}
