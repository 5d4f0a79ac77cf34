package dto

type HealthResponse struct {
	Status     string           `json:"status"`
	Service    string           `json:"service"`
	Version    string           `json:"version,omitempty"`
	Consumer   ConsumerHealth   `json:"consumer"`
	Dispatcher DispatcherHealth `json:"dispatcher"`
}

type ConsumerHealth struct {
	State      string `json:"state"`
	Connection string `json:"connection"`
	Reconnects int64  `json:"reconnects"`
}

type DispatcherHealth struct {
	State         string `json:"state"`
	ActiveWorkers int    `json:"active_workers"`
}

type ListWorkersResponse struct {
	Workers []WorkerDTO `json:"workers"`
	Count   int         `json:"count"`
}

type WorkerDTO struct {
	WorkerID       string  `json:"worker_id"`
	JobID          string  `json:"job_id"`
	SourceType     string  `json:"source_type"`
	SourceLocation string  `json:"source_location,omitempty"`
	PID            int     `json:"pid"`
	State          string  `json:"state"`
	StartedAt      string  `json:"started_at"`
	UptimeSeconds  float64 `json:"uptime_seconds"`
}

type ListRunsRequest struct {
	JobID    string `form:"job_id"`
	State    string `form:"state"`
	Outcome  string `form:"outcome"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListRunsResponse struct {
	Runs       []RunDTO `json:"runs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type RunDTO struct {
	RunID           string  `json:"run_id"`
	JobID           string  `json:"job_id"`
	SourceType      string  `json:"source_type"`
	SourceLocation  string  `json:"source_location,omitempty"`
	State           string  `json:"state"`
	Outcome         string  `json:"outcome,omitempty"`
	ExitCode        int     `json:"exit_code"`
	Forced          bool    `json:"forced"`
	Error           string  `json:"error,omitempty"`
	StartedAt       string  `json:"started_at"`
	EndedAt         string  `json:"ended_at,omitempty"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
}

type SubmitPipelineResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}
