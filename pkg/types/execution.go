package types

import "time"

// Execution is the immutable record of one finished run of a job.
type Execution struct {
	ID        string    `json:"id"`
	JobID     string    `json:"job_id"`
	Success   bool      `json:"success"`
	Output    *string   `json:"output"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
}

// Duration returns how long the run took.
func (e *Execution) Duration() time.Duration {
	return e.EndedAt.Sub(e.StartedAt)
}

// OutputText returns the captured output or an empty string.
func (e *Execution) OutputText() string {
	if e.Output == nil {
		return ""
	}
	return *e.Output
}
